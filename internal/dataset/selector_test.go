package dataset

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalhouse/signalhouse/internal/query"
	"github.com/signalhouse/signalhouse/internal/query/expr"
)

func windowedQuery(timeColumn string, window time.Duration, groupByBucket bool) *query.Query {
	end := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
	start := end.Add(-window)

	q := query.NewQuery(query.EntitySource{Key: "transactions"})
	if err := q.SetSelected([]query.SelectedExpression{
		{Name: "count", Expression: expr.NewFunctionCall("count", "count")},
	}); err != nil {
		panic(err)
	}
	q.SetCondition(expr.NewFunctionCall("", "and",
		expr.NewFunctionCall("", "greaterOrEquals",
			expr.NewColumn("", "", timeColumn),
			expr.NewLiteral("", start),
		),
		expr.NewFunctionCall("", "less",
			expr.NewColumn("", "", timeColumn),
			expr.NewLiteral("", end),
		),
	))
	if groupByBucket {
		q.SetGroupBy([]expr.Expression{expr.NewColumn("time", "", "time")})
	}
	return q
}

func TestSelectStorage(t *testing.T) {
	t.Parallel()

	entity := TransactionsEntity()

	tests := []struct {
		name          string
		settings      *query.Settings
		window        time.Duration
		groupByBucket bool
		granularity   *int64
		wantKey       string
	}{
		{
			name:          "short-window subscription goes raw",
			settings:      query.NewSubscriptionSettings("sub"),
			window:        45 * time.Minute,
			groupByBucket: true,
			wantKey:       "transactions_raw",
		},
		{
			name:          "one-hour subscription window still counts as short",
			settings:      query.NewSubscriptionSettings("sub"),
			window:        time.Hour,
			groupByBucket: false,
			wantKey:       "transactions_raw",
		},
		{
			name:          "long-window subscription without bucket group-by aggregates",
			settings:      query.NewSubscriptionSettings("sub"),
			window:        90 * time.Minute,
			groupByBucket: false,
			wantKey:       "transactions_hourly",
		},
		{
			name:          "interactive short window without bucket group-by aggregates",
			settings:      query.NewInteractiveSettings("http"),
			window:        45 * time.Minute,
			groupByBucket: false,
			wantKey:       "transactions_hourly",
		},
		{
			name:          "bucket group-by at hourly granularity aggregates",
			settings:      query.NewInteractiveSettings("http"),
			window:        24 * time.Hour,
			groupByBucket: true,
			granularity:   int64ptr(3600),
			wantKey:       "transactions_hourly",
		},
		{
			name:          "bucket group-by finer than the aggregate bucket goes raw",
			settings:      query.NewInteractiveSettings("http"),
			window:        24 * time.Hour,
			groupByBucket: true,
			granularity:   int64ptr(60),
			wantKey:       "transactions_raw",
		},
		{
			name:          "bucket group-by with default granularity aggregates",
			settings:      query.NewInteractiveSettings("http"),
			window:        24 * time.Hour,
			groupByBucket: true,
			wantKey:       "transactions_hourly",
		},
		{
			name:          "bucket group-by coarser than the aggregate bucket aggregates",
			settings:      query.NewInteractiveSettings("http"),
			window:        7 * 24 * time.Hour,
			groupByBucket: true,
			granularity:   int64ptr(86400),
			wantKey:       "transactions_hourly",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			q := windowedQuery(entity.RequiredTimeColumn, tt.window, tt.groupByBucket)
			if tt.granularity != nil {
				q.SetGranularity(*tt.granularity)
			}

			// Selection must be deterministic.
			first := SelectStorage(entity, q, tt.settings)
			second := SelectStorage(entity, q, tt.settings)
			require.Same(t, first, second)
			assert.Equal(t, tt.wantKey, first.Key)
		})
	}
}

func int64ptr(v int64) *int64 { return &v }

func TestSelectStorageWithoutAggregate(t *testing.T) {
	t.Parallel()

	raw := &Storage{Key: "only_raw", LocalTable: "only_raw_local"}
	entity := &Entity{
		Name:               "bare",
		RequiredTimeColumn: "timestamp",
		BucketColumn:       "time",
		Storages:           []*Storage{raw},
	}

	q := windowedQuery("timestamp", 10*time.Minute, false)
	assert.Same(t, raw, SelectStorage(entity, q, query.NewInteractiveSettings("http")))
}

func TestTimeWindow(t *testing.T) {
	t.Parallel()

	q := windowedQuery("finish_ts", 90*time.Minute, false)
	window, ok := TimeWindow(q, "finish_ts")
	require.True(t, ok)
	assert.Equal(t, 90*time.Minute, window)

	// Missing a bound means no window.
	unbounded := query.NewQuery(query.EntitySource{Key: "transactions"})
	unbounded.SetCondition(expr.NewFunctionCall("", "greater",
		expr.NewColumn("", "", "finish_ts"),
		expr.NewLiteral("", time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)),
	))
	_, ok = TimeWindow(unbounded, "finish_ts")
	assert.False(t, ok)

	// Window over a different column does not count.
	_, ok = TimeWindow(q, "start_ts")
	assert.False(t, ok)
}

func TestRegistryValidation(t *testing.T) {
	t.Parallel()

	r := DefaultRegistry()
	assert.Equal(t, []string{"transactions", "outcomes"}, r.Keys())

	e, err := r.Entity("transactions")
	require.NoError(t, err)
	assert.Equal(t, "finish_ts", e.RequiredTimeColumn)
	assert.Equal(t, "transactions_dist", e.RawStorage().Table())
	assert.Equal(t, int64(3600), e.AggregatedStorage().Granularity)

	_, err = r.Entity("spans")
	var confErr *ConfigurationError
	require.ErrorAs(t, err, &confErr)

	_, err = NewRegistry(TransactionsEntity(), TransactionsEntity())
	require.ErrorAs(t, err, &confErr)

	_, err = NewRegistry(&Entity{Name: "noraw", Storages: []*Storage{{Key: "agg", Granularity: 3600}}})
	require.ErrorAs(t, err, &confErr)
}
