// Package dataset holds the process-wide registry of logical entities and
// their candidate physical storages. Registries are resolved once at startup
// and read-only afterwards, so no locking is needed on the query path.
package dataset

import (
	"fmt"

	"github.com/signalhouse/signalhouse/internal/query/processors"
	"github.com/signalhouse/signalhouse/internal/query/translate"
)

// ConfigurationError is a fatal, startup-only error: unknown entity or
// storage, mismatched result topics, malformed mapper registration. It
// aborts process start and never occurs at query time.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

// NewConfigurationError formats a startup configuration error.
func NewConfigurationError(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// Column is a typed physical column declaration.
type Column struct {
	Name string
	Type string
}

// Storage is a physical table schema, one of possibly several backing the
// same entity.
type Storage struct {
	// Key identifies the storage in configuration and logs.
	Key string

	// LocalTable and DistTable are the local and distributed table names.
	LocalTable string
	DistTable  string

	Columns []Column

	// Processors are storage-level passes applied after translation.
	Processors []processors.Processor

	// Granularity is the pre-aggregation bucket width in seconds;
	// 0 marks the raw, unaggregated storage.
	Granularity int64
}

// Table returns the table name queries run against.
func (s *Storage) Table() string {
	if s.DistTable != "" {
		return s.DistTable
	}
	return s.LocalTable
}

// Entity is a logical, storage-agnostic schema against which queries are
// authored. Entities are immutable configuration objects shared read-only by
// every query that targets them.
type Entity struct {
	Name string

	Columns []Column

	// RequiredTimeColumn is the logical timestamp column every query must
	// constrain.
	RequiredTimeColumn string

	// BucketColumn is the logical alias the time-bucket column is selected
	// as (rewritten by the timeseries processor).
	BucketColumn string

	// Processors is the entity's ordered pass list.
	Processors []processors.Processor

	// Mappers is the entity's ordered translation rule list.
	Mappers []translate.Mapper

	// ColumnMap maps logical column names to physical ones; absent columns
	// pass through by name on read paths.
	ColumnMap map[string]string

	// Storages are the candidate read storages. Exactly one must be raw
	// (Granularity 0).
	Storages []*Storage

	// WriteStorage is the optional storage writes land in.
	WriteStorage *Storage

	// ResultTopic is the stream topic subscription results for this entity
	// are published to.
	ResultTopic string
}

// ColumnSet returns the entity's columns as a name-to-type map for
// custom-function signature checking.
func (e *Entity) ColumnSet() processors.ColumnSet {
	set := make(processors.ColumnSet, len(e.Columns))
	for _, c := range e.Columns {
		set[c.Name] = c.Type
	}
	return set
}

// RawStorage returns the unaggregated storage.
func (e *Entity) RawStorage() *Storage {
	for _, s := range e.Storages {
		if s.Granularity == 0 {
			return s
		}
	}
	return nil
}

// AggregatedStorage returns the pre-aggregated storage with the coarsest
// bucket, or nil when the entity has none.
func (e *Entity) AggregatedStorage() *Storage {
	var best *Storage
	for _, s := range e.Storages {
		if s.Granularity > 0 && (best == nil || s.Granularity > best.Granularity) {
			best = s
		}
	}
	return best
}

// Registry is the immutable entity lookup table keyed by entity name.
type Registry struct {
	entities map[string]*Entity
	order    []string
}

// NewRegistry builds a registry, rejecting duplicate or invalid entities.
func NewRegistry(entities ...*Entity) (*Registry, error) {
	r := &Registry{entities: make(map[string]*Entity, len(entities))}
	for _, e := range entities {
		if e.Name == "" {
			return nil, &ConfigurationError{Reason: "entity with empty name"}
		}
		if _, dup := r.entities[e.Name]; dup {
			return nil, &ConfigurationError{Reason: "duplicate entity " + e.Name}
		}
		if e.RawStorage() == nil {
			return nil, &ConfigurationError{Reason: "entity " + e.Name + " has no raw storage"}
		}
		r.entities[e.Name] = e
		r.order = append(r.order, e.Name)
	}
	return r, nil
}

// Entity resolves an entity by key.
func (r *Registry) Entity(key string) (*Entity, error) {
	e, ok := r.entities[key]
	if !ok {
		return nil, &ConfigurationError{Reason: "unknown entity " + key}
	}
	return e, nil
}

// Keys returns the registered entity names in registration order.
func (r *Registry) Keys() []string {
	return append([]string{}, r.order...)
}
