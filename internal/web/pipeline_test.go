package web

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalhouse/signalhouse/internal/clickhouse"
	"github.com/signalhouse/signalhouse/internal/dataset"
	"github.com/signalhouse/signalhouse/internal/query"
	"github.com/signalhouse/signalhouse/internal/query/expr"
)

// recordingRunner captures the SQL the pipeline hands to the store and
// returns a canned result.
type recordingRunner struct {
	sql      []string
	settings []*query.Settings
	result   *clickhouse.Result
	err      error
}

func (r *recordingRunner) run(_ context.Context, _ *query.Query, settings *query.Settings, sql string) (*clickhouse.Result, error) {
	r.sql = append(r.sql, sql)
	r.settings = append(r.settings, settings)
	if r.err != nil {
		return nil, r.err
	}
	return r.result, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func subscriptionStyleRequest() *QueryRequest {
	return &QueryRequest{
		Entity:       "transactions",
		Aggregations: []Aggregation{{Function: "count", Alias: "count"}},
		Conditions:   [][3]any{{"project_id", "=", float64(1)}},
		FromDate:     "2023-06-01T00:00:00",
		ToDate:       "2023-06-02T00:00:00",
	}
}

func TestPipelineEndToEnd(t *testing.T) {
	t.Parallel()

	registry := dataset.DefaultRegistry()
	entity, err := registry.Entity("transactions")
	require.NoError(t, err)

	req := &QueryRequest{
		Entity:          "transactions",
		SelectedColumns: []string{"time"},
		Aggregations:    []Aggregation{{Function: "count", Alias: "count"}},
		Conditions: [][3]any{
			{"project_id", "=", float64(1)},
			{"tags[release]", "=", "1.0.0"},
		},
		GroupBy:     []string{"time"},
		Granularity: int64ptr(3600),
		FromDate:    "2023-06-01T00:00:00",
		ToDate:      "2023-06-02T00:00:00",
	}
	q, err := BuildQuery(req, entity)
	require.NoError(t, err)

	runner := &recordingRunner{result: &clickhouse.Result{
		Columns: []string{"time", "count"},
		Rows:    [][]any{{"2023-06-01T00:00:00", uint64(42)}},
	}}
	pipeline := NewPipeline(registry, runner.run, testLogger())

	result, err := pipeline.Execute(context.Background(), q, query.NewInteractiveSettings("test"))
	require.NoError(t, err)

	require.Len(t, runner.sql, 1)
	sql := runner.sql[0]
	assert.Contains(t, sql, "toStartOfHour(finish_ts, 'Universal')")
	assert.Contains(t, sql, "equals(arrayElement(tags.value, indexOf(tags.key, 'release')), '1.0.0')")
	assert.Contains(t, sql, "toDateTime('2023-06-01T00:00:00', 'Universal')")
	assert.Contains(t, sql, "FROM transactions_hourly_dist")
	assert.Equal(t, "transactions_hourly", result.Storage)
	assert.Equal(t, [][]any{{"2023-06-01T00:00:00", uint64(42)}}, result.Rows)
}

func TestPipelineRejectsUnknownEntity(t *testing.T) {
	t.Parallel()

	registry := dataset.DefaultRegistry()
	pipeline := NewPipeline(registry, (&recordingRunner{}).run, testLogger())

	q := query.NewQuery(query.EntitySource{Key: "spans"})
	_, err := pipeline.Execute(context.Background(), q, query.NewInteractiveSettings("test"))

	var confErr *dataset.ConfigurationError
	require.ErrorAs(t, err, &confErr)
}

func TestPipelineRejectsMissingTimeCondition(t *testing.T) {
	t.Parallel()

	registry := dataset.DefaultRegistry()
	runner := &recordingRunner{}
	pipeline := NewPipeline(registry, runner.run, testLogger())

	q := query.NewQuery(query.EntitySource{Key: "transactions"})
	require.NoError(t, q.SetSelected([]query.SelectedExpression{
		{Name: "count", Expression: expr.NewFunctionCall("count", "count")},
	}))

	_, err := pipeline.Execute(context.Background(), q, query.NewInteractiveSettings("test"))
	var invalid *query.InvalidQueryError
	require.ErrorAs(t, err, &invalid)
	assert.Empty(t, runner.sql, "rejected query must never reach the store")
}

func TestPipelineDryRunSkipsExecution(t *testing.T) {
	t.Parallel()

	registry := dataset.DefaultRegistry()
	entity, err := registry.Entity("transactions")
	require.NoError(t, err)

	q, err := BuildQuery(subscriptionStyleRequest(), entity)
	require.NoError(t, err)

	runner := &recordingRunner{}
	pipeline := NewPipeline(registry, runner.run, testLogger())

	settings := query.NewInteractiveSettings("test")
	settings.DryRun = true
	result, err := pipeline.Execute(context.Background(), q, settings)
	require.NoError(t, err)

	assert.Empty(t, runner.sql)
	assert.NotEmpty(t, result.SQL)
	assert.Nil(t, result.Rows)
}

func TestPipelineRejectsOversizedQuery(t *testing.T) {
	t.Parallel()

	registry := dataset.DefaultRegistry()
	entity, err := registry.Entity("transactions")
	require.NoError(t, err)

	req := subscriptionStyleRequest()
	req.Conditions = append(req.Conditions, [3]any{
		"transaction_name", "=", strings.Repeat("x", maxQueryBytes),
	})
	q, err := BuildQuery(req, entity)
	require.NoError(t, err)

	runner := &recordingRunner{}
	pipeline := NewPipeline(registry, runner.run, testLogger())
	_, err = pipeline.Execute(context.Background(), q, query.NewInteractiveSettings("test"))

	var invalid *query.InvalidQueryError
	require.ErrorAs(t, err, &invalid)
	assert.Contains(t, invalid.Reason, "byte limit")
	assert.Empty(t, runner.sql)
}

func TestBuildQueryRejections(t *testing.T) {
	t.Parallel()

	registry := dataset.DefaultRegistry()
	entity, err := registry.Entity("transactions")
	require.NoError(t, err)

	t.Run("duplicate alias", func(t *testing.T) {
		t.Parallel()
		req := subscriptionStyleRequest()
		req.SelectedColumns = []string{"count"}
		_, err := BuildQuery(req, entity)
		var dup *query.DuplicateAliasError
		require.ErrorAs(t, err, &dup)
	})

	t.Run("unknown operator", func(t *testing.T) {
		t.Parallel()
		req := subscriptionStyleRequest()
		req.Conditions = [][3]any{{"project_id", "IN", float64(1)}}
		_, err := BuildQuery(req, entity)
		var invalid *query.InvalidQueryError
		require.ErrorAs(t, err, &invalid)
	})
}

func int64ptr(v int64) *int64 { return &v }

func TestNormalizeLiteral(t *testing.T) {
	t.Parallel()

	assert.Equal(t, int64(3), normalizeLiteral(float64(3)))
	assert.Equal(t, 3.5, normalizeLiteral(3.5))
	assert.Equal(t, "x", normalizeLiteral("x"))
}
