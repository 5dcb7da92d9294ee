// Package clickhouse renders physical queries to ClickHouse SQL and executes
// them over the native protocol. It is the only package that talks to the
// physical store.
package clickhouse

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/signalhouse/signalhouse/internal/query"
	"github.com/signalhouse/signalhouse/internal/query/expr"
)

// datetimeFormat is the literal format the store accepts inside toDateTime.
const datetimeFormat = "2006-01-02T15:04:05"

// FormatExpr renders an expression tree as ClickHouse SQL. Aliased nodes are
// wrapped as (expr AS alias).
func FormatExpr(e expr.Expression) string {
	var sb strings.Builder
	writeExpr(&sb, e)
	return sb.String()
}

func writeExpr(sb *strings.Builder, e expr.Expression) {
	alias := e.Alias()
	if alias != "" {
		sb.WriteString("(")
	}

	switch v := e.(type) {
	case *expr.Column:
		if v.Table() != "" {
			sb.WriteString(v.Table())
			sb.WriteString(".")
		}
		sb.WriteString(v.Name())
	case *expr.Literal:
		sb.WriteString(formatLiteral(v.Value()))
	case *expr.FunctionCall:
		writeCall(sb, v.Name(), v.Args())
	case *expr.CurriedFunctionCall:
		inner := v.Inner()
		writeCall(sb, inner.Name(), inner.Args())
		writeArgs(sb, v.Args())
	}

	if alias != "" {
		sb.WriteString(" AS ")
		sb.WriteString(alias)
		sb.WriteString(")")
	}
}

func writeCall(sb *strings.Builder, name string, args []expr.Expression) {
	sb.WriteString(name)
	writeArgs(sb, args)
}

func writeArgs(sb *strings.Builder, args []expr.Expression) {
	sb.WriteString("(")
	for i, a := range args {
		if i > 0 {
			sb.WriteString(", ")
		}
		writeExpr(sb, a)
	}
	sb.WriteString(")")
}

func formatLiteral(value any) string {
	switch v := value.(type) {
	case nil:
		return "NULL"
	case bool:
		if v {
			return "true"
		}
		return "false"
	case string:
		return "'" + escapeString(v) + "'"
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case time.Time:
		return fmt.Sprintf("toDateTime('%s', 'Universal')", v.UTC().Format(datetimeFormat))
	default:
		return fmt.Sprintf("%v", v)
	}
}

func escapeString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

// FormatQuery renders a fully physical query (bound to a table source) as a
// single SELECT statement.
func FormatQuery(q *query.Query) (string, error) {
	table, ok := q.From().(query.TableSource)
	if !ok {
		return "", &query.UntranslatableQueryError{
			Reason: "query is not bound to a physical table",
		}
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	for i, sel := range q.Selected() {
		if i > 0 {
			sb.WriteString(", ")
		}
		writeExpr(&sb, sel.Expression)
	}
	sb.WriteString(" FROM ")
	sb.WriteString(table.Table)

	if cond := q.Condition(); cond != nil {
		sb.WriteString(" WHERE ")
		writeExpr(&sb, cond)
	}
	if groupBy := q.GroupBy(); len(groupBy) > 0 {
		sb.WriteString(" GROUP BY ")
		for i, g := range groupBy {
			if i > 0 {
				sb.WriteString(", ")
			}
			writeExpr(&sb, g)
		}
	}
	if having := q.Having(); having != nil {
		sb.WriteString(" HAVING ")
		writeExpr(&sb, having)
	}
	if orderBy := q.OrderBy(); len(orderBy) > 0 {
		sb.WriteString(" ORDER BY ")
		for i, o := range orderBy {
			if i > 0 {
				sb.WriteString(", ")
			}
			writeExpr(&sb, o.Expression)
			sb.WriteString(" ")
			sb.WriteString(string(o.Direction))
		}
	}
	if limit := q.Limit(); limit != nil {
		fmt.Fprintf(&sb, " LIMIT %d", *limit)
	}
	if offset := q.Offset(); offset != nil {
		fmt.Fprintf(&sb, " OFFSET %d", *offset)
	}
	return sb.String(), nil
}
