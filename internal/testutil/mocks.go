// Package testutil provides shared mock implementations of the streams
// interfaces for use in tests across the codebase. This follows the Go
// convention of a shared test utility package (like net/http/httptest).
package testutil

import (
	"context"
	"log/slog"
	"sync"

	"github.com/signalhouse/signalhouse/internal/streams"
)

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// === Streams Consumer Mock ===

// FakeConsumer implements streams.Consumer over a fixed list of batches.
// Once the batches are exhausted, Poll blocks until the context is cancelled,
// like a real consumer on an idle topic.
type FakeConsumer struct {
	mu       sync.Mutex
	batches  [][]streams.Message
	Commits  [][]streams.Message // committed batches, for assertions
	Closed   bool
	CommitFn func(msgs []streams.Message) error // optional error injection
}

// NewFakeConsumer creates a consumer that serves the given batches in order.
func NewFakeConsumer(batches ...[]streams.Message) *FakeConsumer {
	return &FakeConsumer{batches: batches}
}

// Poll implements streams.Consumer.
func (f *FakeConsumer) Poll(ctx context.Context) ([]streams.Message, error) {
	f.mu.Lock()
	if len(f.batches) > 0 {
		batch := f.batches[0]
		f.batches = f.batches[1:]
		f.mu.Unlock()
		return batch, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

// Commit implements streams.Consumer.
func (f *FakeConsumer) Commit(_ context.Context, msgs []streams.Message) error {
	if f.CommitFn != nil {
		if err := f.CommitFn(msgs); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Commits = append(f.Commits, msgs)
	return nil
}

// CommittedBatches returns a snapshot of the committed batches.
func (f *FakeConsumer) CommittedBatches() [][]streams.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]streams.Message{}, f.Commits...)
}

// Close implements streams.Consumer.
func (f *FakeConsumer) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// === Streams Producer Mock ===

// FakeProducer implements streams.Producer, collecting produced messages.
type FakeProducer struct {
	mu        sync.Mutex
	Messages  []streams.Message
	Flushed   bool
	ProduceFn func(topic string, key, value []byte) error // optional error injection
}

// Produce implements streams.Producer.
func (f *FakeProducer) Produce(_ context.Context, topic string, key, value []byte) error {
	if f.ProduceFn != nil {
		if err := f.ProduceFn(topic, key, value); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Messages = append(f.Messages, streams.Message{Topic: topic, Key: key, Value: value})
	return nil
}

// Flush implements streams.Producer.
func (f *FakeProducer) Flush(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Flushed = true
	return nil
}

// Close implements streams.Producer.
func (f *FakeProducer) Close() error { return nil }

// Produced returns a snapshot of the produced messages.
func (f *FakeProducer) Produced() []streams.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]streams.Message{}, f.Messages...)
}
