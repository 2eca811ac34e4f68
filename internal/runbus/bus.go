// Package runbus is the optional provenance fan-out and cancellation
// broadcast side-channel (§4.E/§5 cross-process cancellation): it mirrors
// every recorded ExecutionStateNode onto a Redis stream so a dashboard can
// tail a run without polling the knowledge graph, and lets one process ask
// another to cancel a run it did not start. The graph stays the single
// source of truth; a Bus failure never fails a run.
package runbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"kce.dev/kce/internal/domain"
)

// Config configures an optional Bus; Enabled false means runbus is a no-op.
type Config struct {
	Enabled             bool
	RedisURL            string
	Stream              string // provenance fan-out stream, default "kce:runs"
	CancelChannelPrefix string // pub/sub channel prefix, default "kce:cancel:"
}

// Bus mirrors provenance state nodes to a Redis stream and broadcasts
// cancellation over pub/sub, keyed per run.
type Bus struct {
	client       *redis.Client
	stream       string
	cancelPrefix string
}

// New builds a Bus from cfg, or returns (nil, nil) if cfg.Enabled is false.
func New(cfg Config) (*Bus, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("runbus: parse redis url: %w", err)
	}

	stream := cfg.Stream
	if stream == "" {
		stream = "kce:runs"
	}
	cancelPrefix := cfg.CancelChannelPrefix
	if cancelPrefix == "" {
		cancelPrefix = "kce:cancel:"
	}

	return &Bus{client: redis.NewClient(opts), stream: stream, cancelPrefix: cancelPrefix}, nil
}

// PublishStateNode mirrors node onto the provenance stream; it satisfies
// provenance.Publisher.
func (b *Bus) PublishStateNode(ctx context.Context, node domain.ExecutionStateNode) error {
	if b == nil {
		return nil
	}

	payload, err := json.Marshal(node)
	if err != nil {
		return fmt.Errorf("runbus: marshal state node: %w", err)
	}

	if err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.stream,
		Values: map[string]any{
			"run_id":     node.RunID,
			"state_uri":  node.URI,
			"event_kind": string(node.EventKind),
			"payload":    payload,
		},
	}).Err(); err != nil {
		return fmt.Errorf("runbus: xadd (stream=%s): %w", b.stream, err)
	}

	slog.DebugContext(ctx, "runbus published state node", "stream", b.stream, "run_id", node.RunID, "state_uri", node.URI)
	return nil
}

// Cancel publishes a cancellation signal for runID. Any process with a
// SubscribeCancel goroutine running for that runID will observe it.
func (b *Bus) Cancel(ctx context.Context, runID string) error {
	if b == nil {
		return nil
	}
	if err := b.client.Publish(ctx, b.cancelPrefix+runID, "cancel").Err(); err != nil {
		return fmt.Errorf("runbus: publish cancel (run=%s): %w", runID, err)
	}
	return nil
}

// SubscribeCancel blocks delivering a cancellation signal for runID onto the
// returned channel. The channel closes when ctx is done or the subscription
// errors; callers should select on it alongside their own work and cancel a
// derived context.Context when it fires. Call the returned cleanup func to
// release the subscription early.
func (b *Bus) SubscribeCancel(ctx context.Context, runID string) (<-chan struct{}, func(), error) {
	if b == nil {
		ch := make(chan struct{})
		return ch, func() {}, nil
	}

	sub := b.client.Subscribe(ctx, b.cancelPrefix+runID)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("runbus: subscribe cancel (run=%s): %w", runID, err)
	}

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		msgCh := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgCh:
				if !ok {
					return
				}
				if msg != nil {
					out <- struct{}{}
					return
				}
			}
		}
	}()

	return out, func() { _ = sub.Close() }, nil
}

// Close releases the underlying Redis client.
func (b *Bus) Close() error {
	if b == nil {
		return nil
	}
	return b.client.Close()
}
