package subscriptions

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalhouse/signalhouse/internal/clickhouse"
	"github.com/signalhouse/signalhouse/internal/dataset"
	"github.com/signalhouse/signalhouse/internal/metrics"
	"github.com/signalhouse/signalhouse/internal/query"
	"github.com/signalhouse/signalhouse/internal/state"
	"github.com/signalhouse/signalhouse/internal/streams"
	"github.com/signalhouse/signalhouse/internal/testutil"
	"github.com/signalhouse/signalhouse/internal/web"
)

// gaugedRunner counts concurrent invocations of the physical runner.
type gaugedRunner struct {
	inFlight atomic.Int64
	peak     atomic.Int64
	calls    atomic.Int64
	delay    time.Duration
}

func (g *gaugedRunner) run(ctx context.Context, _ *query.Query, _ *query.Settings, _ string) (*clickhouse.Result, error) {
	n := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	g.calls.Add(1)
	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &clickhouse.Result{Columns: []string{"count"}, Rows: [][]any{{uint64(1)}}}, nil
}

type executorFixture struct {
	executor *Executor
	consumer *testutil.FakeConsumer
	producer *testutil.FakeProducer
	metrics  *metrics.ExecutorMetrics
	settings *state.Memory
}

func newExecutorFixture(t *testing.T, cfg ExecutorConfig, runner web.Runner, batches ...[]streams.Message) *executorFixture {
	t.Helper()

	registry := dataset.DefaultRegistry()
	pipeline := web.NewPipeline(registry, runner, testutil.DiscardLogger())
	consumer := testutil.NewFakeConsumer(batches...)
	producer := &testutil.FakeProducer{}
	settings := state.NewMemory()
	m := metrics.NewExecutorMetrics(prometheus.NewRegistry(), cfg.Dataset)

	exec, err := NewExecutor(cfg, registry, pipeline, consumer, producer, settings, m, testutil.DiscardLogger())
	require.NoError(t, err)
	return &executorFixture{
		executor: exec,
		consumer: consumer,
		producer: producer,
		metrics:  m,
		settings: settings,
	}
}

func taskMessage(t *testing.T, timestamp time.Time, offset int64) streams.Message {
	t.Helper()
	sub := testSubscription(60, uuid.New())
	payload, err := EncodeTask(ScheduledTask{Timestamp: timestamp, Subscription: sub})
	require.NoError(t, err)
	return streams.Message{
		Topic:     "scheduled-subscriptions",
		Partition: 0,
		Offset:    offset,
		Value:     payload,
	}
}

func defaultConfig() ExecutorConfig {
	return ExecutorConfig{
		Dataset:                "transactions",
		EntityKeys:             []string{"transactions"},
		TotalConcurrentQueries: 4,
		StaleThresholdSec:      300,
	}
}

func runUntilDrained(t *testing.T, fx *executorFixture, wantProduced int) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fx.executor.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for len(fx.producer.Produced()) < wantProduced {
		select {
		case <-deadline:
			cancel()
			t.Fatalf("timed out waiting for %d results, got %d", wantProduced, len(fx.producer.Produced()))
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	require.NoError(t, <-done)
}

func TestExecutorRejectsMismatchedResultTopics(t *testing.T) {
	t.Parallel()

	registry := dataset.DefaultRegistry()
	pipeline := web.NewPipeline(registry, (&gaugedRunner{}).run, testutil.DiscardLogger())
	m := metrics.NewExecutorMetrics(prometheus.NewRegistry(), "all")

	_, err := NewExecutor(
		ExecutorConfig{
			Dataset:                "all",
			EntityKeys:             []string{"transactions", "outcomes"},
			TotalConcurrentQueries: 4,
		},
		registry, pipeline, testutil.NewFakeConsumer(), &testutil.FakeProducer{},
		state.NewMemory(), m, testutil.DiscardLogger(),
	)

	var confErr *dataset.ConfigurationError
	require.ErrorAs(t, err, &confErr)
	assert.Contains(t, confErr.Reason, "result topic")
}

func TestExecutorRejectsNonPositiveConcurrency(t *testing.T) {
	t.Parallel()

	registry := dataset.DefaultRegistry()
	pipeline := web.NewPipeline(registry, (&gaugedRunner{}).run, testutil.DiscardLogger())
	m := metrics.NewExecutorMetrics(prometheus.NewRegistry(), "transactions")

	_, err := NewExecutor(
		ExecutorConfig{Dataset: "transactions", EntityKeys: []string{"transactions"}},
		registry, pipeline, testutil.NewFakeConsumer(), &testutil.FakeProducer{},
		state.NewMemory(), m, testutil.DiscardLogger(),
	)

	var confErr *dataset.ConfigurationError
	require.ErrorAs(t, err, &confErr)
}

func TestExecutorPublishesResults(t *testing.T) {
	t.Parallel()

	runner := &gaugedRunner{}
	batch := []streams.Message{taskMessage(t, time.Now().UTC(), 7)}
	fx := newExecutorFixture(t, defaultConfig(), runner.run, batch)

	runUntilDrained(t, fx, 1)

	produced := fx.producer.Produced()
	require.Len(t, produced, 1)
	assert.Equal(t, "transactions-subscription-results", produced[0].Topic)

	result, err := decodeResult(produced[0].Value)
	require.NoError(t, err)
	assert.Equal(t, int64(7), result.Offset)
	assert.Equal(t, []string{"count"}, result.Columns)

	require.Len(t, fx.consumer.Commits, 1)
	assert.True(t, fx.producer.Flushed, "shutdown must flush pending results")
	assert.Equal(t, float64(1), promtestutil.ToFloat64(fx.metrics.Executed))
	assert.Equal(t, float64(0), promtestutil.ToFloat64(fx.metrics.InFlight))
}

func TestExecutorSkipsStaleTasks(t *testing.T) {
	t.Parallel()

	runner := &gaugedRunner{}
	batch := []streams.Message{
		taskMessage(t, time.Now().UTC().Add(-time.Hour), 1), // stale
		taskMessage(t, time.Now().UTC(), 2),                 // fresh
	}
	fx := newExecutorFixture(t, defaultConfig(), runner.run, batch)

	runUntilDrained(t, fx, 1)

	assert.Equal(t, float64(1), promtestutil.ToFloat64(fx.metrics.SkippedStale))
	assert.Equal(t, float64(1), promtestutil.ToFloat64(fx.metrics.Executed))
	assert.Equal(t, int64(1), runner.calls.Load())
	// The stale offset is still committed; a skip is handled, not retried.
	require.Len(t, fx.consumer.Commits, 1)
	assert.Len(t, fx.consumer.Commits[0], 2)
}

func TestExecutorStaleThresholdLiveOverride(t *testing.T) {
	t.Parallel()

	runner := &gaugedRunner{}
	// Stale under the default threshold, fresh under the override.
	batch := []streams.Message{taskMessage(t, time.Now().UTC().Add(-10*time.Minute), 1)}
	fx := newExecutorFixture(t, defaultConfig(), runner.run, batch)
	fx.settings.Set("subscriptions_stale_threshold_sec_transactions", 3600)

	runUntilDrained(t, fx, 1)

	assert.Equal(t, float64(0), promtestutil.ToFloat64(fx.metrics.SkippedStale))
	assert.Equal(t, float64(1), promtestutil.ToFloat64(fx.metrics.Executed))
}

func TestExecutorBoundsConcurrency(t *testing.T) {
	t.Parallel()

	const tasks = 20
	cfg := defaultConfig()
	cfg.TotalConcurrentQueries = 3

	batch := make([]streams.Message, 0, tasks)
	for i := range tasks {
		batch = append(batch, taskMessage(t, time.Now().UTC(), int64(i)))
	}
	runner := &gaugedRunner{delay: 10 * time.Millisecond}
	fx := newExecutorFixture(t, cfg, runner.run, batch)

	runUntilDrained(t, fx, tasks)

	assert.Equal(t, int64(tasks), runner.calls.Load())
	assert.LessOrEqual(t, runner.peak.Load(), int64(3), "semaphore bound exceeded")
	assert.Equal(t, float64(tasks), promtestutil.ToFloat64(fx.metrics.Executed))
	assert.Equal(t, float64(0), promtestutil.ToFloat64(fx.metrics.InFlight))
}

func TestExecutorDrainsInFlightOnShutdown(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	var sawCancel atomic.Bool
	runner := func(ctx context.Context, _ *query.Query, _ *query.Settings, _ string) (*clickhouse.Result, error) {
		close(started)
		select {
		case <-ctx.Done():
			sawCancel.Store(true)
			return nil, ctx.Err()
		case <-release:
			return &clickhouse.Result{Columns: []string{"count"}, Rows: [][]any{{uint64(1)}}}, nil
		}
	}

	batch := []streams.Message{taskMessage(t, time.Now().UTC(), 3)}
	fx := newExecutorFixture(t, defaultConfig(), runner, batch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fx.executor.Run(ctx) }()

	<-started
	// Cancelling mid-query must not abort it; the grace period lets it
	// finish and publish.
	cancel()
	time.Sleep(20 * time.Millisecond)
	close(release)
	require.NoError(t, <-done)

	assert.False(t, sawCancel.Load(), "in-flight query was aborted by shutdown")
	require.Len(t, fx.producer.Produced(), 1)
	assert.Len(t, fx.consumer.CommittedBatches(), 1)
	assert.True(t, fx.producer.Flushed)
	assert.Equal(t, float64(1), promtestutil.ToFloat64(fx.metrics.Executed))
	assert.Equal(t, float64(0), promtestutil.ToFloat64(fx.metrics.Failed))
}

func TestExecutorRetriesFailedPublish(t *testing.T) {
	t.Parallel()

	runner := &gaugedRunner{}
	batch := []streams.Message{taskMessage(t, time.Now().UTC(), 11)}
	fx := newExecutorFixture(t, defaultConfig(), runner.run, batch)
	fx.executor.backoff = time.Millisecond

	var attempts atomic.Int64
	fx.producer.ProduceFn = func(string, []byte, []byte) error {
		if attempts.Add(1) == 1 {
			return errors.New("broker unavailable")
		}
		return nil
	}

	runUntilDrained(t, fx, 1)

	// A transient publish failure is retried in-process, never surfaced as
	// a process exit.
	assert.Equal(t, int64(2), attempts.Load())
	require.Len(t, fx.consumer.CommittedBatches(), 1)
	result, err := decodeResult(fx.producer.Produced()[0].Value)
	require.NoError(t, err)
	assert.Equal(t, int64(11), result.Offset)
}

func TestExecutorRetriesFailedCommit(t *testing.T) {
	t.Parallel()

	runner := &gaugedRunner{}
	batch := []streams.Message{taskMessage(t, time.Now().UTC(), 5)}
	fx := newExecutorFixture(t, defaultConfig(), runner.run, batch)
	fx.executor.backoff = time.Millisecond

	var attempts atomic.Int64
	fx.consumer.CommitFn = func([]streams.Message) error {
		if attempts.Add(1) == 1 {
			return errors.New("rebalance in progress")
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fx.executor.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for len(fx.consumer.CommittedBatches()) == 0 {
		select {
		case <-deadline:
			cancel()
			t.Fatal("timed out waiting for commit retry")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, int64(2), attempts.Load())
}

func TestExecutorDropsUndecodableTask(t *testing.T) {
	t.Parallel()

	batch := []streams.Message{{Topic: "scheduled-subscriptions", Offset: 1, Value: []byte("garbage")}}
	runner := &gaugedRunner{}
	fx := newExecutorFixture(t, defaultConfig(), runner.run, batch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fx.executor.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for len(fx.consumer.CommittedBatches()) == 0 {
		select {
		case <-deadline:
			cancel()
			t.Fatal("timed out waiting for commit")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, float64(1), promtestutil.ToFloat64(fx.metrics.Failed))
	assert.Empty(t, fx.producer.Produced())
}
