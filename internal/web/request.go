package web

import (
	"math"

	"github.com/signalhouse/signalhouse/internal/dataset"
	"github.com/signalhouse/signalhouse/internal/query"
	"github.com/signalhouse/signalhouse/internal/query/expr"
)

// Aggregation is one aggregate expression of a query request.
type Aggregation struct {
	Function string `json:"function"`
	Column   string `json:"column"`
	Alias    string `json:"alias"`
}

// QueryRequest is the structured JSON body of POST /query. Conditions are
// [column, operator, literal] triples, ANDed together.
type QueryRequest struct {
	Entity          string        `json:"entity"`
	SelectedColumns []string      `json:"selected_columns"`
	Aggregations    []Aggregation `json:"aggregations"`
	Conditions      [][3]any      `json:"conditions"`
	GroupBy         []string      `json:"groupby"`
	Granularity     *int64        `json:"granularity"`
	FromDate        string        `json:"from_date"`
	ToDate          string        `json:"to_date"`
	Limit           *int          `json:"limit"`
	Offset          *int          `json:"offset"`
	Referrer        string        `json:"referrer"`
	DryRun          bool          `json:"dry_run"`
}

var operatorFunctions = map[string]string{
	"=":        "equals",
	"!=":       "notEquals",
	">":        "greater",
	"<":        "less",
	">=":       "greaterOrEquals",
	"<=":       "lessOrEquals",
	"LIKE":     "like",
	"NOT LIKE": "notLike",
}

// BuildQuery converts a request into a logical query over the given entity,
// validating alias uniqueness eagerly through a parsing context.
func BuildQuery(req *QueryRequest, entity *dataset.Entity) (*query.Query, error) {
	q := query.NewQuery(query.EntitySource{Key: req.Entity})
	parsing := query.NewParsingContext()

	var selected []query.SelectedExpression
	for _, name := range req.SelectedColumns {
		if err := parsing.AddAlias(name); err != nil {
			return nil, err
		}
		selected = append(selected, query.SelectedExpression{
			Name:       name,
			Expression: expr.NewColumn(name, "", name),
		})
	}
	for _, agg := range req.Aggregations {
		alias := agg.Alias
		if alias == "" {
			alias = agg.Function
		}
		if err := parsing.AddAlias(alias); err != nil {
			return nil, err
		}
		var args []expr.Expression
		if agg.Column != "" {
			args = append(args, expr.NewColumn("", "", agg.Column))
		}
		selected = append(selected, query.SelectedExpression{
			Name:       alias,
			Expression: expr.NewFunctionCall(alias, agg.Function, args...),
		})
	}
	if err := q.SetSelected(selected); err != nil {
		return nil, err
	}

	condition, err := buildConditions(req, entity)
	if err != nil {
		return nil, err
	}
	q.SetCondition(condition)

	var groupBy []expr.Expression
	for _, name := range req.GroupBy {
		groupBy = append(groupBy, expr.NewColumn(name, "", name))
	}
	q.SetGroupBy(groupBy)

	if req.Granularity != nil {
		q.SetGranularity(*req.Granularity)
	}
	if req.Limit != nil {
		q.SetLimit(*req.Limit)
	}
	if req.Offset != nil {
		q.SetOffset(*req.Offset)
	}
	return q, nil
}

func buildConditions(req *QueryRequest, entity *dataset.Entity) (expr.Expression, error) {
	var conditions []expr.Expression

	if req.FromDate != "" {
		conditions = append(conditions, expr.NewFunctionCall("", "greaterOrEquals",
			expr.NewColumn("", "", entity.RequiredTimeColumn),
			expr.NewLiteral("", req.FromDate),
		))
	}
	if req.ToDate != "" {
		conditions = append(conditions, expr.NewFunctionCall("", "less",
			expr.NewColumn("", "", entity.RequiredTimeColumn),
			expr.NewLiteral("", req.ToDate),
		))
	}

	for _, triple := range req.Conditions {
		column, ok := triple[0].(string)
		if !ok {
			return nil, query.NewInvalidQueryError("condition column must be a string")
		}
		operator, ok := triple[1].(string)
		if !ok {
			return nil, query.NewInvalidQueryError("condition operator must be a string")
		}
		fn, known := operatorFunctions[operator]
		if !known {
			return nil, query.NewInvalidQueryError("unsupported operator %q", operator)
		}
		conditions = append(conditions, expr.NewFunctionCall("", fn,
			expr.NewColumn("", "", column),
			expr.NewLiteral("", normalizeLiteral(triple[2])),
		))
	}

	return combineAnd(conditions), nil
}

// normalizeLiteral converts JSON numbers to int64 when they are integral, so
// type checking against Int literal kinds works as expected.
func normalizeLiteral(v any) any {
	f, ok := v.(float64)
	if !ok {
		return v
	}
	if f == math.Trunc(f) {
		return int64(f)
	}
	return f
}

// combineAnd nests conditions into right-leaning and(a, and(b, c)) pairs.
func combineAnd(conditions []expr.Expression) expr.Expression {
	switch len(conditions) {
	case 0:
		return nil
	case 1:
		return conditions[0]
	default:
		return expr.NewFunctionCall("", "and", conditions[0], combineAnd(conditions[1:]))
	}
}
