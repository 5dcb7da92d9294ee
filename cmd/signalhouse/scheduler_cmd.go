package main

import (
	"database/sql"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"

	"github.com/signalhouse/signalhouse/internal/streams/kafka"
	"github.com/signalhouse/signalhouse/internal/subscriptions"
)

func newSchedulerCmd() *cobra.Command {
	var (
		entityKey      string
		partition      int32
		scheduledTopic string
		tickInterval   time.Duration
		immediate      bool
	)

	cmd := &cobra.Command{
		Use:   "subscriptions-scheduler",
		Short: "Schedule subscription executions",
		Long:  "Reads the subscription store on every tick and publishes due tasks to the scheduled topic.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			db, err := sql.Open("sqlite3", cfg.SubsDBPath)
			if err != nil {
				return fmt.Errorf("open subscription store: %w", err)
			}
			defer db.Close() //nolint:errcheck

			store, err := subscriptions.NewSQLiteStore(db)
			if err != nil {
				return err
			}

			producer, err := kafka.NewProducer(cfg.Kafka.Brokers, "signalhouse-scheduler")
			if err != nil {
				return err
			}
			defer producer.Close() //nolint:errcheck

			scheduler := subscriptions.NewScheduler(
				entityKey, store, subscriptions.PartitionID(partition), logger)
			if immediate {
				scheduler.WithBuilder(subscriptions.ImmediateBuilder{})
			}
			runner := subscriptions.NewRunner(scheduler, producer, scheduledTopic, tickInterval, logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := runner.Run(ctx); err != nil && !errors.Is(err, ctx.Err()) {
				return err
			}
			logger.Info("scheduler stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&entityKey, "entity", "transactions", "entity the scheduled subscriptions target")
	cmd.Flags().Int32Var(&partition, "partition", 0, "scheduling partition this instance owns")
	cmd.Flags().StringVar(&scheduledTopic, "scheduled-topic", "scheduled-subscriptions", "topic scheduled tasks are published to")
	cmd.Flags().DurationVar(&tickInterval, "tick-interval", time.Minute, "wall-clock tick interval")
	cmd.Flags().BoolVar(&immediate, "immediate", false, "disable jitter and fire on resolution-aligned instants")
	return cmd
}
