// Package streams defines the stream-client boundary the subscription
// executor consumes from and publishes to. The wire-level client lives in
// the kafka subpackage; tests substitute in-memory implementations.
package streams

import (
	"context"
	"time"
)

// Message is one record read from or written to a stream.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Timestamp time.Time
}

// Consumer pulls messages from an assigned partition set. Poll blocks until
// messages are available or the context is cancelled; Commit marks messages
// consumed.
type Consumer interface {
	Poll(ctx context.Context) ([]Message, error)
	Commit(ctx context.Context, msgs []Message) error
	Close() error
}

// Producer publishes messages. Flush blocks until buffered messages are
// delivered.
type Producer interface {
	Produce(ctx context.Context, topic string, key, value []byte) error
	Flush(ctx context.Context) error
	Close() error
}
