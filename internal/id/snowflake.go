// Package id generates distributed-safe identifiers for runs, state nodes,
// and catalogue entities that lack an authored URI.
package id

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node *snowflake.Node
	once sync.Once
)

// Init initializes the Snowflake node with the given node ID. Safe to call
// more than once; only the first call takes effect.
func Init(nodeID int64) error {
	var err error
	once.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// New generates a new globally unique int64 ID, time-ordered and unique
// across kernel instances. Init must have been called first.
func New() int64 {
	return node.Generate().Int64()
}

// NewString is New formatted in base 10, for use directly as a URI path segment.
func NewString() string {
	return node.Generate().String()
}
