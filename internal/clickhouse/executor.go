package clickhouse

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/signalhouse/signalhouse/internal/query"
)

// PhysicalExecutionError means the backing store call failed. It rejects a
// single query; it is never retried by this process.
type PhysicalExecutionError struct {
	Err error
}

func (e *PhysicalExecutionError) Error() string {
	return fmt.Sprintf("physical execution failed: %v", e.Err)
}

func (e *PhysicalExecutionError) Unwrap() error { return e.Err }

// Result is the typed row set returned by the store.
type Result struct {
	Columns []string
	Rows    [][]any
}

// Options configures the native connection.
type Options struct {
	Addr     []string
	Database string
	Username string
	Password string
}

// Executor runs formatted SQL over the native protocol. It implements the
// execution pipeline's runner boundary.
type Executor struct {
	conn   driver.Conn
	logger *slog.Logger
}

// NewExecutor opens a native connection pool.
func NewExecutor(opts Options, logger *slog.Logger) (*Executor, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: opts.Addr,
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}
	return &Executor{conn: conn, logger: logger}, nil
}

// Run executes the formatted query and scans all rows. Store failures are
// wrapped in PhysicalExecutionError.
func (e *Executor) Run(ctx context.Context, _ *query.Query, settings *query.Settings, sql string) (*Result, error) {
	chSettings := clickhouse.Settings{}
	if settings != nil && settings.Consistent {
		chSettings["load_balancing"] = "in_order"
	}
	ctx = clickhouse.Context(ctx, clickhouse.WithSettings(chSettings))

	rows, err := e.conn.Query(ctx, sql)
	if err != nil {
		return nil, &PhysicalExecutionError{Err: err}
	}
	defer rows.Close()

	result, err := scanRows(rows)
	if err != nil {
		return nil, &PhysicalExecutionError{Err: err}
	}
	e.logger.Debug("query executed",
		"referrer", referrerOf(settings),
		"rows", len(result.Rows),
	)
	return result, nil
}

func referrerOf(settings *query.Settings) string {
	if settings == nil {
		return ""
	}
	return settings.Referrer
}

func scanRows(rows driver.Rows) (*Result, error) {
	columns := rows.Columns()
	types := rows.ColumnTypes()

	var out [][]any
	for rows.Next() {
		dests := make([]any, len(types))
		for i, t := range types {
			dests[i] = reflect.New(t.ScanType()).Interface()
		}
		if err := rows.Scan(dests...); err != nil {
			return nil, err
		}
		row := make([]any, len(dests))
		for i, d := range dests {
			row[i] = reflect.ValueOf(d).Elem().Interface()
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &Result{Columns: columns, Rows: out}, nil
}

// Close releases the connection pool.
func (e *Executor) Close() error {
	return e.conn.Close()
}
