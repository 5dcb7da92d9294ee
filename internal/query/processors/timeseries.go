package processors

import (
	"time"

	"github.com/signalhouse/signalhouse/internal/query"
	"github.com/signalhouse/signalhouse/internal/query/expr"
)

// The truncation ladder. Exact granularity matches use a named store
// function; anything else rounds down to the nearest N seconds.
const (
	granularityMinute = 60
	granularityHour   = 3600
	granularityDay    = 86400

	defaultGranularity = granularityHour

	storeTimezone = "Universal"
)

// Strict formats accepted for date/time string literals compared against a
// time column.
var datetimeFormats = []string{
	"2006-01-02T15:04:05.000000Z",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

var comparisonFunctions = map[string]bool{
	"equals":          true,
	"notEquals":       true,
	"greater":         true,
	"less":            true,
	"greaterOrEquals": true,
	"lessOrEquals":    true,
}

// TimeSeriesProcessor rewrites the query's time-bucket columns into store
// truncation expressions over the underlying timestamp column, at the
// requested granularity, and parses date/time string literals compared
// against time columns.
type TimeSeriesProcessor struct {
	// timeColumns maps logical bucket column names (e.g. "time") to the
	// physical timestamp column truncated in their place.
	timeColumns map[string]string

	// parseColumns are timestamp columns whose string comparisons are parsed
	// into timestamp literals.
	parseColumns map[string]bool
}

// NewTimeSeriesProcessor creates the processor. parseColumns lists the
// timestamp columns of the entity (e.g. start_ts, finish_ts).
func NewTimeSeriesProcessor(timeColumns map[string]string, parseColumns ...string) *TimeSeriesProcessor {
	parse := make(map[string]bool, len(parseColumns))
	for _, c := range parseColumns {
		parse[c] = true
	}
	return &TimeSeriesProcessor{timeColumns: timeColumns, parseColumns: parse}
}

// Name implements Processor.
func (t *TimeSeriesProcessor) Name() string { return "timeseries" }

// Rewrite implements Rewriter.
func (t *TimeSeriesProcessor) Rewrite(q *query.Query, _ *query.Settings) error {
	granularity := int64(defaultGranularity)
	if g := q.Granularity(); g != nil {
		granularity = *g
	}

	// Parse string literals compared against time columns before the bucket
	// columns are renamed, so both the logical and the physical names are
	// still visible.
	if cond := q.Condition(); cond != nil {
		parsed, err := t.parseConditionLiterals(cond)
		if err != nil {
			return err
		}
		q.SetCondition(parsed)
	}

	q.TransformExpressions(func(e expr.Expression) expr.Expression {
		col, ok := e.(*expr.Column)
		if !ok {
			return e
		}
		underlying, found := t.timeColumns[col.Name()]
		if !found {
			return e
		}
		return TimeBucketExpression(col.Alias(), underlying, granularity)
	})
	return nil
}

// parseConditionLiterals converts string literals compared against a time
// column into timestamp literals, failing with InvalidQueryError when a
// literal does not parse with a strict format.
func (t *TimeSeriesProcessor) parseConditionLiterals(cond expr.Expression) (expr.Expression, error) {
	var firstErr error
	out := expr.Transform(cond, func(e expr.Expression) expr.Expression {
		call, ok := e.(*expr.FunctionCall)
		if !ok || !comparisonFunctions[call.Name()] || len(call.Args()) != 2 {
			return e
		}
		lhs, rhs := call.Args()[0], call.Args()[1]

		lit, ok := rhs.(*expr.Literal)
		if !ok || !t.referencesTimeColumn(lhs) {
			return e
		}
		text, ok := lit.Value().(string)
		if !ok {
			return e
		}
		parsed, err := parseDatetime(text)
		if err != nil {
			if firstErr == nil {
				firstErr = query.NewInvalidQueryError("cannot parse datetime %q: %v", text, err)
			}
			return e
		}
		return expr.NewFunctionCall(call.Alias(), call.Name(), lhs, expr.NewLiteral(lit.Alias(), parsed))
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

func (t *TimeSeriesProcessor) referencesTimeColumn(e expr.Expression) bool {
	found := false
	expr.Walk(e, func(n expr.Expression, _ []expr.Expression) {
		col, ok := n.(*expr.Column)
		if !ok {
			return
		}
		if _, isBucket := t.timeColumns[col.Name()]; isBucket || t.parseColumns[col.Name()] {
			found = true
		}
	})
	return found
}

func parseDatetime(text string) (time.Time, error) {
	var lastErr error
	for _, format := range datetimeFormats {
		ts, err := time.Parse(format, text)
		if err == nil {
			return ts.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// TimeBucketExpression builds the truncation expression for the given
// granularity over the underlying timestamp column. Exact ladder matches use
// the named truncation function; any other granularity rounds down to the
// nearest N seconds with integer division.
func TimeBucketExpression(alias, timestampColumn string, granularity int64) expr.Expression {
	ts := expr.NewColumn("", "", timestampColumn)
	tz := expr.NewLiteral("", storeTimezone)

	switch granularity {
	case granularityHour:
		return expr.NewFunctionCall(alias, "toStartOfHour", ts, tz)
	case granularityMinute:
		return expr.NewFunctionCall(alias, "toStartOfMinute", ts, tz)
	case granularityDay:
		return expr.NewFunctionCall(alias, "toDate", ts, tz)
	default:
		return expr.NewFunctionCall(alias, "toDateTime",
			expr.NewFunctionCall("", "multiply",
				expr.NewFunctionCall("", "intDiv",
					expr.NewFunctionCall("", "toUInt32", ts),
					expr.NewLiteral("", granularity),
				),
				expr.NewLiteral("", granularity),
			),
			tz,
		)
	}
}

// ExtractGranularity recovers the requested granularity from a query whose
// time-bucket column has already been rewritten, by pattern-matching the
// generated expression shape. Ladder entries are matched first; the generic
// N-second shape recovers arbitrary N. Returns false when no rewritten
// bucket expression over timestampColumn is present.
func ExtractGranularity(q *query.Query, timestampColumn string) (int64, bool) {
	candidates := make([]expr.Expression, 0, len(q.Selected())+len(q.GroupBy()))
	for _, sel := range q.Selected() {
		candidates = append(candidates, sel.Expression)
	}
	candidates = append(candidates, q.GroupBy()...)

	for _, e := range candidates {
		if g, ok := matchBucketExpression(e, timestampColumn); ok {
			return g, true
		}
	}
	return 0, false
}

func matchBucketExpression(e expr.Expression, timestampColumn string) (int64, bool) {
	call, ok := e.(*expr.FunctionCall)
	if !ok {
		return 0, false
	}

	switch call.Name() {
	case "toStartOfHour":
		if firstArgIsColumn(call, timestampColumn) {
			return granularityHour, true
		}
	case "toStartOfMinute":
		if firstArgIsColumn(call, timestampColumn) {
			return granularityMinute, true
		}
	case "toDate":
		if firstArgIsColumn(call, timestampColumn) {
			return granularityDay, true
		}
	case "toDateTime":
		return matchCustomBucket(call, timestampColumn)
	}
	return 0, false
}

// matchCustomBucket matches
// toDateTime(multiply(intDiv(toUInt32(ts), N), N), tz).
func matchCustomBucket(call *expr.FunctionCall, timestampColumn string) (int64, bool) {
	if len(call.Args()) == 0 {
		return 0, false
	}
	multiply, ok := call.Args()[0].(*expr.FunctionCall)
	if !ok || multiply.Name() != "multiply" || len(multiply.Args()) != 2 {
		return 0, false
	}
	intDiv, ok := multiply.Args()[0].(*expr.FunctionCall)
	if !ok || intDiv.Name() != "intDiv" || len(intDiv.Args()) != 2 {
		return 0, false
	}
	toUInt32, ok := intDiv.Args()[0].(*expr.FunctionCall)
	if !ok || toUInt32.Name() != "toUInt32" || !firstArgIsColumn(toUInt32, timestampColumn) {
		return 0, false
	}
	divisor, ok := literalInt(intDiv.Args()[1])
	if !ok {
		return 0, false
	}
	factor, ok := literalInt(multiply.Args()[1])
	if !ok || factor != divisor {
		return 0, false
	}
	return divisor, true
}

func firstArgIsColumn(call *expr.FunctionCall, name string) bool {
	if len(call.Args()) == 0 {
		return false
	}
	col, ok := call.Args()[0].(*expr.Column)
	return ok && col.Name() == name
}

func literalInt(e expr.Expression) (int64, bool) {
	lit, ok := e.(*expr.Literal)
	if !ok {
		return 0, false
	}
	switch v := lit.Value().(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	}
	return 0, false
}
