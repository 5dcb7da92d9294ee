package main

import (
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/signalhouse/signalhouse/internal/clickhouse"
	"github.com/signalhouse/signalhouse/internal/dataset"
	"github.com/signalhouse/signalhouse/internal/metrics"
	"github.com/signalhouse/signalhouse/internal/streams/kafka"
	"github.com/signalhouse/signalhouse/internal/subscriptions"
	"github.com/signalhouse/signalhouse/internal/web"
)

func newExecutorCmd() *cobra.Command {
	var (
		datasetName            string
		entityKeys             []string
		scheduledTopic         string
		consumerGroup          string
		autoOffsetReset        string
		totalConcurrentQueries int64
		staleThresholdSeconds  int64
	)

	cmd := &cobra.Command{
		Use:   "subscriptions-executor",
		Short: "Execute scheduled subscription queries",
		Long:  "Consumes scheduled tasks, runs them against the store under a global concurrency bound and publishes results.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			executor, err := clickhouse.NewExecutor(clickhouse.Options{
				Addr:     []string{cfg.ClickHouse.Addr},
				Database: cfg.ClickHouse.Database,
				Username: cfg.ClickHouse.Username,
				Password: cfg.ClickHouse.Password,
			}, logger)
			if err != nil {
				return err
			}
			defer executor.Close() //nolint:errcheck

			consumer, err := kafka.NewConsumer(kafka.Config{
				Brokers:     cfg.Kafka.Brokers,
				ClientID:    "signalhouse-executor",
				Group:       consumerGroup,
				Topics:      []string{scheduledTopic},
				OffsetReset: autoOffsetReset,
				Cooperative: true,
			}, logger)
			if err != nil {
				return err
			}
			defer consumer.Close() //nolint:errcheck

			producer, err := kafka.NewProducer(cfg.Kafka.Brokers, "signalhouse-executor")
			if err != nil {
				return err
			}
			defer producer.Close() //nolint:errcheck

			registry := dataset.DefaultRegistry()
			pipeline := web.NewPipeline(registry, executor.Run, logger)
			execMetrics := metrics.NewExecutorMetrics(prometheus.DefaultRegisterer, datasetName)

			subExec, err := subscriptions.NewExecutor(
				subscriptions.ExecutorConfig{
					Dataset:                datasetName,
					EntityKeys:             entityKeys,
					TotalConcurrentQueries: totalConcurrentQueries,
					StaleThresholdSec:      staleThresholdSeconds,
				},
				registry, pipeline, consumer, producer,
				runtimeSettings(cfg), execMetrics, logger,
			)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return subExec.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&datasetName, "dataset", "transactions", "dataset name used for metrics and live overrides")
	cmd.Flags().StringSliceVar(&entityKeys, "entity", []string{"transactions"}, "entities this executor serves (repeatable)")
	cmd.Flags().StringVar(&scheduledTopic, "scheduled-topic", "scheduled-subscriptions", "topic scheduled tasks are consumed from")
	cmd.Flags().StringVar(&consumerGroup, "consumer-group", "signalhouse-subscriptions-executor", "consumer group id")
	cmd.Flags().StringVar(&autoOffsetReset, "auto-offset-reset", "error", "offset reset policy: error, earliest or latest")
	cmd.Flags().Int64Var(&totalConcurrentQueries, "total-concurrent-queries", 64, "process-wide bound on physical queries in flight")
	cmd.Flags().Int64Var(&staleThresholdSeconds, "stale-threshold-seconds", 300, "default age in seconds past which a scheduled task is skipped")
	return cmd
}
