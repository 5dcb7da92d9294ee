// Package query defines the logical query model that processors operate on
// and the request-scoped settings that travel with it.
package query

import (
	"github.com/signalhouse/signalhouse/internal/query/expr"
)

// DataSource is what a query selects from: a logical entity, a physical
// table (after storage binding), or a nested query.
type DataSource interface {
	dataSource()
}

// EntitySource references a logical entity by key.
type EntitySource struct {
	Key string
}

func (EntitySource) dataSource() {}

// TableSource references a physical table after storage binding.
type TableSource struct {
	Table      string
	StorageKey string
}

func (TableSource) dataSource() {}

// QuerySource wraps a nested query used as a data source.
type QuerySource struct {
	Query *Query
}

func (QuerySource) dataSource() {}

// SelectedExpression is one entry of the select list: the user-facing name
// and the expression producing it.
type SelectedExpression struct {
	Name       string
	Expression expr.Expression
}

// OrderDirection is the sort direction of an order-by entry.
type OrderDirection string

// Sort directions.
const (
	OrderAsc  OrderDirection = "ASC"
	OrderDesc OrderDirection = "DESC"
)

// OrderBy is one order-by entry.
type OrderBy struct {
	Expression expr.Expression
	Direction  OrderDirection
}

// Query is a mutable container for a single query's shape. It is constructed
// once from a parsed request, mutated in place by each processor exactly
// once, and finally consumed read-only by the execution pipeline.
type Query struct {
	from        DataSource
	selected    []SelectedExpression
	condition   expr.Expression
	groupBy     []expr.Expression
	having      expr.Expression
	orderBy     []OrderBy
	limit       *int
	offset      *int
	granularity *int64
}

// NewQuery creates an empty query over the given data source.
func NewQuery(from DataSource) *Query {
	return &Query{from: from}
}

// From returns the query's data source.
func (q *Query) From() DataSource { return q.from }

// SetFrom replaces the data source (used when binding a storage).
func (q *Query) SetFrom(from DataSource) { q.from = from }

// Selected returns the ordered select list.
func (q *Query) Selected() []SelectedExpression { return q.selected }

// SetSelected replaces the select list, re-validating alias uniqueness.
func (q *Query) SetSelected(selected []SelectedExpression) error {
	if err := checkAliasUniqueness(selected); err != nil {
		return err
	}
	q.selected = selected
	return nil
}

// AddSelected appends one entry to the select list, re-validating alias
// uniqueness.
func (q *Query) AddSelected(sel SelectedExpression) error {
	next := append(append([]SelectedExpression{}, q.selected...), sel)
	return q.SetSelected(next)
}

func checkAliasUniqueness(selected []SelectedExpression) error {
	seen := make(map[string]bool, len(selected))
	for _, sel := range selected {
		alias := sel.Expression.Alias()
		if alias == "" {
			continue
		}
		if seen[alias] {
			return &DuplicateAliasError{Alias: alias}
		}
		seen[alias] = true
	}
	return nil
}

// Condition returns the filter condition, or nil.
func (q *Query) Condition() expr.Expression { return q.condition }

// SetCondition replaces the filter condition.
func (q *Query) SetCondition(condition expr.Expression) { q.condition = condition }

// GroupBy returns the ordered group-by list.
func (q *Query) GroupBy() []expr.Expression { return q.groupBy }

// SetGroupBy replaces the group-by list.
func (q *Query) SetGroupBy(groupBy []expr.Expression) { q.groupBy = groupBy }

// Having returns the having condition, or nil.
func (q *Query) Having() expr.Expression { return q.having }

// SetHaving replaces the having condition.
func (q *Query) SetHaving(having expr.Expression) { q.having = having }

// OrderBy returns the ordered order-by list.
func (q *Query) OrderBy() []OrderBy { return q.orderBy }

// SetOrderBy replaces the order-by list.
func (q *Query) SetOrderBy(orderBy []OrderBy) { q.orderBy = orderBy }

// Limit returns the row limit, or nil when unset.
func (q *Query) Limit() *int { return q.limit }

// SetLimit sets the row limit.
func (q *Query) SetLimit(limit int) { q.limit = &limit }

// Offset returns the row offset, or nil when unset.
func (q *Query) Offset() *int { return q.offset }

// SetOffset sets the row offset.
func (q *Query) SetOffset(offset int) { q.offset = &offset }

// Granularity returns the time-bucket width in seconds, or nil when unset.
func (q *Query) Granularity() *int64 { return q.granularity }

// SetGranularity sets the time-bucket width in seconds.
func (q *Query) SetGranularity(seconds int64) { q.granularity = &seconds }

// ClearGranularity removes the granularity.
func (q *Query) ClearGranularity() { q.granularity = nil }

// TransformExpressions rewrites every expression owned by the query in place
// using fn: select list, condition, group by, having and order by.
func (q *Query) TransformExpressions(fn expr.TransformFunc) {
	for i, sel := range q.selected {
		q.selected[i] = SelectedExpression{
			Name:       sel.Name,
			Expression: expr.Transform(sel.Expression, fn),
		}
	}
	if q.condition != nil {
		q.condition = expr.Transform(q.condition, fn)
	}
	for i, g := range q.groupBy {
		q.groupBy[i] = expr.Transform(g, fn)
	}
	if q.having != nil {
		q.having = expr.Transform(q.having, fn)
	}
	for i, o := range q.orderBy {
		q.orderBy[i] = OrderBy{
			Expression: expr.Transform(o.Expression, fn),
			Direction:  o.Direction,
		}
	}
}

// Copy returns a shallow copy of the query with its own slices. Expression
// trees are shared, which is safe because they are immutable.
func (q *Query) Copy() *Query {
	out := &Query{
		from:      q.from,
		condition: q.condition,
		having:    q.having,
	}
	out.selected = append([]SelectedExpression{}, q.selected...)
	out.groupBy = append([]expr.Expression{}, q.groupBy...)
	out.orderBy = append([]OrderBy{}, q.orderBy...)
	if q.limit != nil {
		l := *q.limit
		out.limit = &l
	}
	if q.offset != nil {
		o := *q.offset
		out.offset = &o
	}
	if q.granularity != nil {
		g := *q.granularity
		out.granularity = &g
	}
	return out
}
