package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/signalhouse/signalhouse/internal/dataset"
	"github.com/signalhouse/signalhouse/internal/metrics"
	"github.com/signalhouse/signalhouse/internal/query"
	"github.com/signalhouse/signalhouse/internal/state"
	"github.com/signalhouse/signalhouse/internal/streams"
	"github.com/signalhouse/signalhouse/internal/web"
)

// shutdownGrace bounds how long the executor waits for in-flight queries and
// unflushed results after the run context is cancelled.
const shutdownGrace = 10 * time.Second

// retryBackoff is the pause before re-attempting a failed poll, publish or
// offset commit. Transient broker failures must not exit the process.
const retryBackoff = time.Second

// ExecutorConfig holds the executor's tunables.
type ExecutorConfig struct {
	Dataset    string
	EntityKeys []string

	// TotalConcurrentQueries sizes the process-wide bound on physical
	// queries in flight.
	TotalConcurrentQueries int64

	// StaleThresholdSec is the default age past which a scheduled task is
	// skipped instead of executed. The live key
	// subscriptions_stale_threshold_sec_<dataset> overrides it at runtime.
	StaleThresholdSec int64
}

// Executor consumes scheduled tasks, runs them through the query pipeline
// under a global concurrency bound, and publishes results.
type Executor struct {
	cfg      ExecutorConfig
	registry *dataset.Registry
	pipeline *web.Pipeline
	consumer streams.Consumer
	producer streams.Producer
	settings state.Provider
	metrics  *metrics.ExecutorMetrics
	logger   *slog.Logger

	resultTopic string
	sem         *semaphore.Weighted
	backoff     time.Duration
}

// NewExecutor validates the topology before any message is consumed: every
// target entity must publish to the same result topic, since the executor
// owns a single producer stream.
func NewExecutor(
	cfg ExecutorConfig,
	registry *dataset.Registry,
	pipeline *web.Pipeline,
	consumer streams.Consumer,
	producer streams.Producer,
	settings state.Provider,
	m *metrics.ExecutorMetrics,
	logger *slog.Logger,
) (*Executor, error) {
	if cfg.TotalConcurrentQueries <= 0 {
		return nil, dataset.NewConfigurationError(
			"total concurrent queries must be positive, got %d", cfg.TotalConcurrentQueries)
	}
	if len(cfg.EntityKeys) == 0 {
		return nil, dataset.NewConfigurationError("executor needs at least one entity")
	}

	resultTopic := ""
	for _, key := range cfg.EntityKeys {
		entity, err := registry.Entity(key)
		if err != nil {
			return nil, err
		}
		if entity.ResultTopic == "" {
			return nil, dataset.NewConfigurationError("entity %s has no result topic", key)
		}
		if resultTopic == "" {
			resultTopic = entity.ResultTopic
		} else if entity.ResultTopic != resultTopic {
			return nil, dataset.NewConfigurationError(
				"entities %v disagree on the result topic: %s vs %s",
				cfg.EntityKeys, resultTopic, entity.ResultTopic)
		}
	}

	return &Executor{
		cfg:         cfg,
		registry:    registry,
		pipeline:    pipeline,
		consumer:    consumer,
		producer:    producer,
		settings:    settings,
		metrics:     m,
		logger:      logger,
		resultTopic: resultTopic,
		sem:         semaphore.NewWeighted(cfg.TotalConcurrentQueries),
		backoff:     retryBackoff,
	}, nil
}

// staleThreshold resolves the current stale threshold, preferring the live
// override so operators can shed load without a redeploy.
func (e *Executor) staleThreshold() time.Duration {
	key := fmt.Sprintf("subscriptions_stale_threshold_sec_%s", e.cfg.Dataset)
	sec := e.settings.GetInt(key, e.cfg.StaleThresholdSec)
	return time.Duration(sec) * time.Second
}

// Run polls and handles scheduled tasks until the context is cancelled, then
// drains in-flight work and flushes the producer within the grace period.
func (e *Executor) Run(ctx context.Context) error {
	e.logger.Info("subscriptions executor starting",
		"dataset", e.cfg.Dataset,
		"entities", e.cfg.EntityKeys,
		"result_topic", e.resultTopic,
		"total_concurrent_queries", e.cfg.TotalConcurrentQueries)

	for {
		msgs, err := e.consumer.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return e.shutdown()
			}
			e.logger.Error("poll scheduled tasks failed", "error", err)
			if !e.pause(ctx) {
				return e.shutdown()
			}
			continue
		}
		if len(msgs) == 0 {
			continue
		}

		// At-least-once: the batch is retried until every message is
		// handled and its offsets commit. Result consumers deduplicate on
		// the partition/offset echoed in the payload.
		for {
			err := e.handleBatch(ctx, msgs)
			if err == nil {
				break
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return e.shutdown()
			}
			e.logger.Error("batch failed, retrying",
				"size", len(msgs), "backoff", e.backoff, "error", err)
			if !e.pause(ctx) {
				return e.shutdown()
			}
		}
	}
}

// pause sleeps one backoff interval. It reports false when the run context
// was cancelled while waiting.
func (e *Executor) pause(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(e.backoff):
		return true
	}
}

// handleBatch runs the batch concurrently and commits its offsets. The
// semaphore, not the batch size, bounds physical queries in flight.
func (e *Executor) handleBatch(ctx context.Context, msgs []streams.Message) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, msg := range msgs {
		g.Go(func() error {
			return e.handle(gctx, msg)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	// Results for this batch are already published; the commit must survive
	// run-context cancellation or shutdown would re-deliver finished work.
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer cancel()
	if err := e.consumer.Commit(commitCtx, msgs); err != nil {
		return fmt.Errorf("commit scheduled tasks: %w", err)
	}
	return nil
}

// handle runs one scheduled task end to end. Malformed and failing tasks are
// logged and counted, never returned: one bad subscription must not stall the
// partition.
func (e *Executor) handle(ctx context.Context, msg streams.Message) error {
	task, err := DecodeTask(msg.Value)
	if err != nil {
		e.metrics.Failed.Inc()
		e.logger.Error("dropping undecodable task",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err)
		return nil
	}

	if threshold := e.staleThreshold(); threshold > 0 {
		if age := time.Since(task.Timestamp); age > threshold {
			e.metrics.SkippedStale.Inc()
			e.logger.Warn("skipping stale task",
				"subscription", task.Subscription.ID.String(),
				"age", age, "threshold", threshold)
			return nil
		}
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer e.sem.Release(1)
	e.metrics.InFlight.Inc()
	defer e.metrics.InFlight.Dec()

	// Cancellation only gates admission. Once admitted, the query and its
	// result publish run to completion within the grace period, so shutdown
	// drains in-flight work instead of discarding it.
	execCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer cancel()

	result, err := e.execute(execCtx, task)
	if err != nil {
		e.metrics.Failed.Inc()
		e.logger.Error("subscription query failed",
			"subscription", task.Subscription.ID.String(),
			"entity", task.Subscription.Data.EntityKey,
			"error", err)
		return nil
	}

	result.Partition = msg.Partition
	result.Offset = msg.Offset
	payload, err := EncodeResult(*result)
	if err != nil {
		e.metrics.Failed.Inc()
		e.logger.Error("encode result failed",
			"subscription", task.Subscription.ID.String(), "error", err)
		return nil
	}
	key := []byte(task.Subscription.ID.UUID.String())
	if err := e.producer.Produce(execCtx, e.resultTopic, key, payload); err != nil {
		// Publish failures are retryable; fail the batch so the offsets
		// stay uncommitted and the task is re-delivered.
		return fmt.Errorf("publish result for %s: %w", task.Subscription.ID, err)
	}

	e.metrics.Executed.Inc()
	return nil
}

// execute builds and runs the subscription query in subscription mode, which
// pins replica-consistent execution.
func (e *Executor) execute(ctx context.Context, task ScheduledTask) (*Result, error) {
	entity, err := e.registry.Entity(task.Subscription.Data.EntityKey)
	if err != nil {
		return nil, err
	}

	q, err := BuildQuery(task, entity)
	if err != nil {
		return nil, err
	}

	settings := query.NewSubscriptionSettings("subscriptions_executor")
	res, err := e.pipeline.Execute(ctx, q, settings)
	if err != nil {
		return nil, err
	}

	return &Result{
		SubscriptionID: task.Subscription.ID,
		EntityKey:      task.Subscription.Data.EntityKey,
		Timestamp:      task.Timestamp,
		Columns:        res.Columns,
		Rows:           res.Rows,
	}, nil
}

// shutdown drains the semaphore so in-flight queries finish, then flushes
// pending results.
func (e *Executor) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := e.sem.Acquire(ctx, e.cfg.TotalConcurrentQueries); err != nil {
		e.logger.Warn("shutdown grace elapsed with queries in flight", "error", err)
	} else {
		e.sem.Release(e.cfg.TotalConcurrentQueries)
	}
	// A flush failure here is logged, not returned: past startup the
	// process always exits clean, and the unflushed tasks re-deliver.
	if err := e.producer.Flush(ctx); err != nil {
		e.logger.Error("flush results on shutdown failed", "error", err)
	}
	e.logger.Info("subscriptions executor stopped", "dataset", e.cfg.Dataset)
	return nil
}
