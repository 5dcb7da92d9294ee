package dataset

import (
	"github.com/signalhouse/signalhouse/internal/query/processors"
	"github.com/signalhouse/signalhouse/internal/query/translate"
)

// DefaultRegistry returns the registry the CLI and tests run against. In a
// deployment the same structures are produced by the declarative
// configuration loader; the shapes here mirror the production transactions
// and outcomes schemas.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(TransactionsEntity(), OutcomesEntity())
	if err != nil {
		panic(err)
	}
	return r
}

// TransactionsEntity is the transaction-events entity: a raw storage plus an
// hourly pre-aggregated one, apdex/failure_rate custom functions, and
// subscriptable tags/contexts access.
func TransactionsEntity() *Entity {
	columns := []Column{
		{Name: "project_id", Type: "UInt64"},
		{Name: "event_id", Type: "UUID"},
		{Name: "transaction_name", Type: "String"},
		{Name: "transaction_status", Type: "UInt8"},
		{Name: "duration", Type: "UInt32"},
		{Name: "start_ts", Type: "DateTime"},
		{Name: "finish_ts", Type: "DateTime"},
	}

	raw := &Storage{
		Key:        "transactions_raw",
		LocalTable: "transactions_local",
		DistTable:  "transactions_dist",
		Columns:    columns,
	}
	hourly := &Storage{
		Key:         "transactions_hourly",
		LocalTable:  "transactions_hourly_local",
		DistTable:   "transactions_hourly_dist",
		Columns:     columns,
		Granularity: 3600,
	}

	e := &Entity{
		Name:               "transactions",
		Columns:            columns,
		RequiredTimeColumn: "finish_ts",
		BucketColumn:       "time",
		Mappers: []translate.Mapper{
			translate.SubscriptableMapper{Name: "tags", KeyColumn: "tags.key", ValueColumn: "tags.value"},
			translate.SubscriptableMapper{Name: "contexts", KeyColumn: "contexts.key", ValueColumn: "contexts.value"},
			translate.ColumnMapper{From: "transaction", To: "transaction_name"},
		},
		ColumnMap:    map[string]string{"transaction": "transaction_name"},
		Storages:     []*Storage{raw, hourly},
		WriteStorage: raw,
		ResultTopic:  "transactions-subscription-results",
	}

	colset := e.ColumnSet()
	e.Processors = []processors.Processor{
		processors.GranularityValidator{},
		&processors.RequiredTimeColumnValidator{Column: "finish_ts"},
		processors.ApdexProcessor(colset),
		processors.FailureRateProcessor(colset),
		processors.NewTimeSeriesProcessor(
			map[string]string{"time": "finish_ts"},
			"start_ts", "finish_ts",
		),
	}
	return e
}

// OutcomesEntity is the ingestion-outcomes entity backed by a raw and an
// hourly materialized storage.
func OutcomesEntity() *Entity {
	columns := []Column{
		{Name: "org_id", Type: "UInt64"},
		{Name: "project_id", Type: "UInt64"},
		{Name: "key_id", Type: "UInt64"},
		{Name: "timestamp", Type: "DateTime"},
		{Name: "outcome", Type: "UInt8"},
		{Name: "reason", Type: "String"},
		{Name: "quantity", Type: "UInt64"},
	}

	raw := &Storage{
		Key:        "outcomes_raw",
		LocalTable: "outcomes_raw_local",
		DistTable:  "outcomes_raw_dist",
		Columns:    columns,
	}
	hourly := &Storage{
		Key:         "outcomes_hourly",
		LocalTable:  "outcomes_hourly_local",
		DistTable:   "outcomes_hourly_dist",
		Columns:     columns,
		Granularity: 3600,
	}

	e := &Entity{
		Name:               "outcomes",
		Columns:            columns,
		RequiredTimeColumn: "timestamp",
		BucketColumn:       "time",
		ColumnMap:          map[string]string{},
		Storages:           []*Storage{raw, hourly},
		WriteStorage:       raw,
		ResultTopic:        "outcomes-subscription-results",
	}
	e.Processors = []processors.Processor{
		processors.GranularityValidator{},
		&processors.RequiredTimeColumnValidator{Column: "timestamp"},
		processors.NewTimeSeriesProcessor(
			map[string]string{"time": "timestamp"},
			"timestamp",
		),
	}
	return e
}
