package processors

import (
	"github.com/signalhouse/signalhouse/internal/query"
	"github.com/signalhouse/signalhouse/internal/query/expr"
)

// RequiredTimeColumnValidator rejects queries whose condition does not
// constrain the entity's required time column. Every storage is partitioned
// by time, so an unconstrained query would scan the full table.
type RequiredTimeColumnValidator struct {
	Column string
}

// Name implements Processor.
func (v *RequiredTimeColumnValidator) Name() string { return "required_time_column" }

// Validate implements Validator.
func (v *RequiredTimeColumnValidator) Validate(q *query.Query, _ *query.Settings) error {
	cond := q.Condition()
	if cond == nil || !expr.ContainsColumn(cond, v.Column) {
		return query.NewInvalidQueryError("missing condition on required time column %s", v.Column)
	}
	return nil
}

// GranularityValidator rejects non-positive granularities.
type GranularityValidator struct{}

// Name implements Processor.
func (GranularityValidator) Name() string { return "granularity" }

// Validate implements Validator.
func (GranularityValidator) Validate(q *query.Query, _ *query.Settings) error {
	if g := q.Granularity(); g != nil && *g <= 0 {
		return query.NewInvalidQueryError("granularity must be positive, got %d", *g)
	}
	return nil
}
