// Package metrics registers the prometheus collectors exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ExecutorMetrics counts subscription executor outcomes. A stale skip is a
// deliberate no-op outcome, observable separately from both success and
// failure.
type ExecutorMetrics struct {
	Executed     prometheus.Counter
	Failed       prometheus.Counter
	SkippedStale prometheus.Counter
	InFlight     prometheus.Gauge
}

// NewExecutorMetrics registers the executor collectors, labelled by dataset.
func NewExecutorMetrics(reg prometheus.Registerer, datasetName string) *ExecutorMetrics {
	labels := prometheus.Labels{"dataset": datasetName}
	factory := promauto.With(reg)
	return &ExecutorMetrics{
		Executed: factory.NewCounter(prometheus.CounterOpts{
			Name:        "subscriptions_executor_executed_total",
			Help:        "Subscription queries executed successfully.",
			ConstLabels: labels,
		}),
		Failed: factory.NewCounter(prometheus.CounterOpts{
			Name:        "subscriptions_executor_failed_total",
			Help:        "Subscription queries that failed validation or execution.",
			ConstLabels: labels,
		}),
		SkippedStale: factory.NewCounter(prometheus.CounterOpts{
			Name:        "subscriptions_executor_skipped_stale_total",
			Help:        "Scheduled subscriptions skipped because they were stale.",
			ConstLabels: labels,
		}),
		InFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "subscriptions_executor_in_flight_queries",
			Help:        "Physical queries currently in flight.",
			ConstLabels: labels,
		}),
	}
}
