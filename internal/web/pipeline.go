// Package web hosts the query execution pipeline and the HTTP API in front
// of it.
package web

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/signalhouse/signalhouse/internal/clickhouse"
	"github.com/signalhouse/signalhouse/internal/dataset"
	"github.com/signalhouse/signalhouse/internal/query"
	"github.com/signalhouse/signalhouse/internal/query/processors"
	"github.com/signalhouse/signalhouse/internal/query/translate"
)

// maxQueryBytes caps the formatted SQL size the store will accept.
const maxQueryBytes = 256 * 1024

// Runner is the physical executor boundary. The pipeline never talks to the
// store directly; substituting a recording stub makes it unit-testable.
type Runner func(ctx context.Context, q *query.Query, settings *query.Settings, sql string) (*clickhouse.Result, error)

// Result is the outcome of one pipeline execution.
type Result struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
	SQL     string   `json:"sql"`
	Storage string   `json:"storage"`
}

// Pipeline runs a logical query end to end: entity processors, storage
// selection, translation, storage processors, formatting, execution.
type Pipeline struct {
	registry *dataset.Registry
	runner   Runner
	logger   *slog.Logger
}

// NewPipeline creates a pipeline over the given registry and runner.
func NewPipeline(registry *dataset.Registry, runner Runner, logger *slog.Logger) *Pipeline {
	return &Pipeline{registry: registry, runner: runner, logger: logger}
}

// Execute processes and runs one query. Per-query failures are returned to
// the caller and never leak into other in-flight queries.
func (p *Pipeline) Execute(ctx context.Context, q *query.Query, settings *query.Settings) (*Result, error) {
	source, ok := q.From().(query.EntitySource)
	if !ok {
		return nil, query.NewInvalidQueryError("query data source is not an entity")
	}
	entity, err := p.registry.Entity(source.Key)
	if err != nil {
		return nil, err
	}

	if err := processors.Run(entity.Processors, q, settings); err != nil {
		return nil, err
	}

	storage := dataset.SelectStorage(entity, q, settings)

	translator := translate.NewTranslator(entity.ColumnMap, entity.Mappers, false)
	physical, err := translator.Query(q, storage.Table(), storage.Key)
	if err != nil {
		return nil, err
	}

	if err := processors.Run(storage.Processors, physical, settings); err != nil {
		return nil, err
	}

	sql, err := clickhouse.FormatQuery(physical)
	if err != nil {
		return nil, err
	}
	if len(sql) > maxQueryBytes {
		return nil, query.NewInvalidQueryError(
			"query is %d bytes after processing, above the %d byte limit",
			len(sql), maxQueryBytes,
		)
	}

	p.logger.Debug("executing query",
		"entity", entity.Name,
		"storage", storage.Key,
		"referrer", settings.Referrer,
		"mode", string(settings.Mode),
	)

	if settings.DryRun {
		return &Result{SQL: sql, Storage: storage.Key}, nil
	}

	rows, err := p.runner(ctx, physical, settings, sql)
	if err != nil {
		return nil, fmt.Errorf("run query on %s: %w", storage.Key, err)
	}
	return &Result{
		Columns: rows.Columns,
		Rows:    rows.Rows,
		SQL:     sql,
		Storage: storage.Key,
	}, nil
}
