// Package kafka implements the streams boundary over the Kafka protocol.
package kafka

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/signalhouse/signalhouse/internal/streams"
)

// Config holds the connection and consumer-group settings.
type Config struct {
	Brokers     []string
	ClientID    string
	Group       string
	Topics      []string
	OffsetReset string // "error", "earliest" or "latest"
	Cooperative bool   // use the cooperative-sticky assignment strategy
}

// Consumer wraps a consumer-group client.
type Consumer struct {
	client *kgo.Client
	logger *slog.Logger
}

// NewConsumer joins the consumer group with auto-commit disabled; offsets
// are committed explicitly after each notification is handled.
func NewConsumer(cfg Config, logger *slog.Logger) (*Consumer, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.ConsumerGroup(cfg.Group),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.DisableAutoCommit(),
	}
	switch cfg.OffsetReset {
	case "earliest":
		opts = append(opts, kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()))
	case "latest":
		opts = append(opts, kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()))
	case "", "error":
		// No stored offset is an error; surfaced on the first poll.
	default:
		return nil, fmt.Errorf("unknown offset reset policy %q", cfg.OffsetReset)
	}
	if cfg.Cooperative {
		opts = append(opts, kgo.Balancers(kgo.CooperativeStickyBalancer()))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	return &Consumer{client: client, logger: logger}, nil
}

// Poll implements streams.Consumer.
func (c *Consumer) Poll(ctx context.Context) ([]streams.Message, error) {
	fetches := c.client.PollFetches(ctx)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if errs := fetches.Errors(); len(errs) > 0 {
		return nil, fmt.Errorf("poll %s[%d]: %w", errs[0].Topic, errs[0].Partition, errs[0].Err)
	}

	var msgs []streams.Message
	fetches.EachRecord(func(r *kgo.Record) {
		msgs = append(msgs, streams.Message{
			Topic:     r.Topic,
			Partition: r.Partition,
			Offset:    r.Offset,
			Key:       r.Key,
			Value:     r.Value,
			Timestamp: r.Timestamp,
		})
	})
	return msgs, nil
}

// Commit implements streams.Consumer.
func (c *Consumer) Commit(ctx context.Context, msgs []streams.Message) error {
	records := make([]*kgo.Record, len(msgs))
	for i, m := range msgs {
		records[i] = &kgo.Record{Topic: m.Topic, Partition: m.Partition, Offset: m.Offset}
	}
	if err := c.client.CommitRecords(ctx, records...); err != nil {
		return fmt.Errorf("commit offsets: %w", err)
	}
	return nil
}

// Close leaves the group and releases the client.
func (c *Consumer) Close() error {
	c.client.Close()
	return nil
}

// Producer wraps a plain client used for result publication.
type Producer struct {
	client *kgo.Client
}

// NewProducer creates a producer.
func NewProducer(brokers []string, clientID string) (*Producer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return &Producer{client: client}, nil
}

// Produce implements streams.Producer with synchronous delivery, so a
// publish failure is reported for the notification that caused it.
func (p *Producer) Produce(ctx context.Context, topic string, key, value []byte) error {
	record := &kgo.Record{Topic: topic, Key: key, Value: value}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce to %s: %w", topic, err)
	}
	return nil
}

// Flush implements streams.Producer.
func (p *Producer) Flush(ctx context.Context) error {
	return p.client.Flush(ctx)
}

// Close flushes and releases the client.
func (p *Producer) Close() error {
	p.client.Close()
	return nil
}
