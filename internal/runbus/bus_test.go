package runbus_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kce.dev/kce/internal/domain"
	"kce.dev/kce/internal/runbus"
)

func TestNew_DisabledReturnsNilBus(t *testing.T) {
	bus, err := runbus.New(runbus.Config{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, bus)
}

func TestNilBus_MethodsAreNoOps(t *testing.T) {
	var bus *runbus.Bus

	assert.NoError(t, bus.PublishStateNode(context.Background(), domain.ExecutionStateNode{URI: "urn:kce:state:1"}))
	assert.NoError(t, bus.Cancel(context.Background(), "run-1"))
	assert.NoError(t, bus.Close())

	ch, cleanup, err := bus.SubscribeCancel(context.Background(), "run-1")
	require.NoError(t, err)
	require.NotNil(t, ch)
	cleanup()
}

func TestNew_InvalidRedisURLErrors(t *testing.T) {
	_, err := runbus.New(runbus.Config{Enabled: true, RedisURL: "://not-a-url"})
	assert.Error(t, err)
}
