package subscriptions

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/signalhouse/signalhouse/internal/streams"
)

// maxResolutionForJitter bounds the resolutions that get jittered. Coarser
// subscriptions are few enough that aligned execution is harmless, and
// skipping the jitter keeps their schedule obvious.
const maxResolutionForJitter = 60

// Tick is one closed-open wall-clock interval the scheduler covers, together
// with the commit-log offsets that produced it.
type Tick struct {
	Partition   PartitionID
	OffsetLower int64
	OffsetUpper int64
	Lower       time.Time
	Upper       time.Time
}

// taskBuilder decides whether a subscription is due at a given second.
type taskBuilder interface {
	// Task returns the scheduled task for the subscription at ts, or false
	// when the subscription is not due.
	Task(sub Subscription, ts int64) (ScheduledTask, bool)
}

// ImmediateBuilder schedules every subscription exactly on its
// resolution-aligned instants.
type ImmediateBuilder struct{}

func (ImmediateBuilder) Task(sub Subscription, ts int64) (ScheduledTask, bool) {
	resolution := sub.Data.ResolutionSec
	if resolution <= 0 {
		return ScheduledTask{}, false
	}
	if ts%resolution != 0 {
		return ScheduledTask{}, false
	}
	return ScheduledTask{Timestamp: time.Unix(ts, 0).UTC(), Subscription: sub}, true
}

// JitteredBuilder spreads fine-grained subscriptions across their resolution
// period instead of firing them all on the aligned second. The offset is
// derived from the subscription UUID so it is stable across restarts, and the
// emitted task timestamp is still the aligned instant so query windows do not
// shift.
type JitteredBuilder struct{}

func (JitteredBuilder) Task(sub Subscription, ts int64) (ScheduledTask, bool) {
	resolution := sub.Data.ResolutionSec
	if resolution <= 0 {
		return ScheduledTask{}, false
	}
	if resolution > maxResolutionForJitter {
		return ImmediateBuilder{}.Task(sub, ts)
	}
	jitter := int64(binary.BigEndian.Uint64(sub.ID.UUID[8:]) % uint64(resolution))
	if ts%resolution != jitter {
		return ScheduledTask{}, false
	}
	return ScheduledTask{Timestamp: time.Unix(ts-jitter, 0).UTC(), Subscription: sub}, true
}

// Scheduler turns ticks into scheduled tasks for one (entity, partition).
type Scheduler struct {
	entityKey string
	store     Store
	partition PartitionID
	builder   taskBuilder
	logger    *slog.Logger
}

// NewScheduler builds a scheduler using the jittered task builder.
func NewScheduler(entityKey string, store Store, partition PartitionID, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		entityKey: entityKey,
		store:     store,
		partition: partition,
		builder:   JitteredBuilder{},
		logger:    logger,
	}
}

// WithBuilder overrides the task builder. Used by operators that need fully
// aligned execution.
func (s *Scheduler) WithBuilder(b taskBuilder) *Scheduler {
	s.builder = b
	return s
}

// Find returns every task due within the tick interval [Lower, Upper),
// ordered by timestamp and then by store order.
func (s *Scheduler) Find(ctx context.Context, tick Tick) ([]ScheduledTask, error) {
	subs, err := s.store.All(ctx, s.entityKey, s.partition)
	if err != nil {
		return nil, fmt.Errorf("load subscriptions: %w", err)
	}

	// A bad row must not take the tick loop down with it; the store
	// validates on write, but rows written by older versions or by hand
	// still reach this path.
	valid := subs[:0]
	for _, sub := range subs {
		if err := sub.Data.Validate(); err != nil {
			s.logger.Warn("skipping invalid subscription",
				"subscription", sub.ID.String(), "error", err)
			continue
		}
		valid = append(valid, sub)
	}

	var tasks []ScheduledTask
	lower := tick.Lower.UTC().Unix()
	upper := tick.Upper.UTC().Unix()
	for ts := lower; ts < upper; ts++ {
		for _, sub := range valid {
			if task, ok := s.builder.Task(sub, ts); ok {
				tasks = append(tasks, task)
			}
		}
	}
	return tasks, nil
}

// Runner drives a Scheduler off the wall clock and publishes the resulting
// tasks to the scheduled topic. Production deployments derive ticks from the
// commit log of the ingest topic; the wall-clock loop serves single-node
// deployments where ingest and query share a clock.
type Runner struct {
	scheduler *Scheduler
	producer  streams.Producer
	topic     string
	interval  time.Duration
	logger    *slog.Logger

	cron *cron.Cron
	last time.Time
}

// NewRunner wires a scheduler to a producer.
func NewRunner(scheduler *Scheduler, producer streams.Producer, topic string, interval time.Duration, logger *slog.Logger) *Runner {
	return &Runner{
		scheduler: scheduler,
		producer:  producer,
		topic:     topic,
		interval:  interval,
		logger:    logger,
	}
}

// Run ticks until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.last = time.Now().UTC()
	r.cron = cron.New(cron.WithLocation(time.UTC))
	spec := fmt.Sprintf("@every %s", r.interval)
	if _, err := r.cron.AddFunc(spec, func() { r.tick(ctx) }); err != nil {
		return fmt.Errorf("schedule tick: %w", err)
	}
	r.cron.Start()
	<-ctx.Done()

	stopped := r.cron.Stop()
	<-stopped.Done()
	return ctx.Err()
}

func (r *Runner) tick(ctx context.Context) {
	now := time.Now().UTC()
	tick := Tick{
		Partition: r.scheduler.partition,
		Lower:     r.last,
		Upper:     now,
	}
	r.last = now

	tasks, err := r.scheduler.Find(ctx, tick)
	if err != nil {
		r.logger.Error("scheduler tick failed", "error", err)
		return
	}
	for _, task := range tasks {
		payload, err := EncodeTask(task)
		if err != nil {
			r.logger.Error("encode task failed", "subscription", task.Subscription.ID.String(), "error", err)
			continue
		}
		key := []byte(task.Subscription.ID.UUID.String())
		if err := r.producer.Produce(ctx, r.topic, key, payload); err != nil {
			r.logger.Error("publish task failed", "subscription", task.Subscription.ID.String(), "error", err)
		}
	}
	if len(tasks) > 0 {
		r.logger.Info("scheduled tasks",
			"entity", r.scheduler.entityKey,
			"count", len(tasks),
			"lower", tick.Lower,
			"upper", tick.Upper)
	}
}
