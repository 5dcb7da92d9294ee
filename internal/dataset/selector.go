package dataset

import (
	"time"

	"github.com/signalhouse/signalhouse/internal/query"
	"github.com/signalhouse/signalhouse/internal/query/expr"
)

// shortWindow is the window below which a subscription prefers the raw
// storage: recency outweighs pre-aggregation savings for short windows.
const shortWindow = time.Hour

// SelectStorage picks exactly one of the entity's candidate storages for the
// query. Selection is deterministic and side-effect-free, derived from the
// query alone:
//
//  1. a subscription with an effective time window of at most one hour uses
//     the raw storage regardless of granularity;
//  2. a query not grouping by the bucket-time column uses the coarsest
//     pre-aggregated storage;
//  3. otherwise the requested granularity decides: finer than the
//     pre-aggregation bucket must use raw, coarser-or-equal may use the
//     pre-aggregated storage.
func SelectStorage(e *Entity, q *query.Query, settings *query.Settings) *Storage {
	raw := e.RawStorage()
	aggregated := e.AggregatedStorage()
	if aggregated == nil {
		return raw
	}

	if settings != nil && settings.Mode == query.ModeSubscription {
		if window, ok := TimeWindow(q, e.RequiredTimeColumn); ok && window <= shortWindow {
			return raw
		}
	}

	if !groupsByBucketColumn(e, q) {
		return aggregated
	}

	granularity := int64(3600)
	if g := q.Granularity(); g != nil {
		granularity = *g
	}
	if granularity < aggregated.Granularity {
		return raw
	}
	return aggregated
}

// groupsByBucketColumn reports whether any group-by expression is (or
// contains) the entity's time-bucket column, either in its logical form or
// already rewritten over the required time column.
func groupsByBucketColumn(e *Entity, q *query.Query) bool {
	for _, g := range q.GroupBy() {
		if col, ok := g.(*expr.Column); ok && col.Name() == e.BucketColumn {
			return true
		}
		if expr.ContainsColumn(g, e.RequiredTimeColumn) {
			return true
		}
	}
	return false
}

// TimeWindow derives the explicit time range constrained on timeColumn from
// the query's condition, returning false when either bound is missing.
func TimeWindow(q *query.Query, timeColumn string) (time.Duration, bool) {
	cond := q.Condition()
	if cond == nil {
		return 0, false
	}

	var lower, upper *time.Time
	expr.Walk(cond, func(e expr.Expression, _ []expr.Expression) {
		call, ok := e.(*expr.FunctionCall)
		if !ok || len(call.Args()) != 2 {
			return
		}
		if !expr.ContainsColumn(call.Args()[0], timeColumn) {
			return
		}
		lit, ok := call.Args()[1].(*expr.Literal)
		if !ok {
			return
		}
		ts, ok := lit.Value().(time.Time)
		if !ok {
			return
		}
		switch call.Name() {
		case "greater", "greaterOrEquals":
			if lower == nil || ts.Before(*lower) {
				lower = &ts
			}
		case "less", "lessOrEquals":
			if upper == nil || ts.After(*upper) {
				upper = &ts
			}
		}
	})

	if lower == nil || upper == nil || upper.Before(*lower) {
		return 0, false
	}
	return upper.Sub(*lower), true
}
