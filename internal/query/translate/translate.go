// Package translate converts a logical query expressed over entity column
// names into a physical query expressed over storage column names and
// expressions, using ordered mapping rules matched by expression shape.
package translate

import (
	"strings"

	"github.com/signalhouse/signalhouse/internal/query"
	"github.com/signalhouse/signalhouse/internal/query/expr"
)

// Mapper maps one logical expression shape to one physical expression shape.
// Mappers are tried in registration order; the first match wins. The variant
// set is closed: columns, functions, curried functions and subscriptable
// (bracket) access.
type Mapper interface {
	mapper()
}

// ColumnMapper renames a logical column to its physical counterpart.
type ColumnMapper struct {
	From string
	To   string
}

func (ColumnMapper) mapper() {}

// FunctionMapper renames a logical function to its physical counterpart,
// keeping the argument list.
type FunctionMapper struct {
	From string
	To   string
}

func (FunctionMapper) mapper() {}

// CurriedFunctionMapper renames the inner function of a curried call.
type CurriedFunctionMapper struct {
	From string
	To   string
}

func (CurriedFunctionMapper) mapper() {}

// SubscriptableMapper translates bracket access over a logical map column
// (e.g. tags[release]) into the positional lookup over the physical
// arrays-of-keys/values representation:
//
//	arrayElement(tags.value, indexOf(tags.key, 'release'))
type SubscriptableMapper struct {
	// Name is the logical map column, e.g. "tags".
	Name string
	// KeyColumn and ValueColumn are the physical key/value array columns,
	// e.g. "tags.key" and "tags.value".
	KeyColumn   string
	ValueColumn string
}

func (SubscriptableMapper) mapper() {}

// Translator rewrites logical queries into physical ones. Traversal is
// bottom-up, so a mapper for a composite expression can assume its arguments
// are already physical.
type Translator struct {
	columnMap map[string]string
	mappers   []Mapper

	// strict makes an entity column absent from the column map a fatal
	// translation error instead of a name-preserving passthrough. Write
	// paths are strict; read paths rely on the convention that an unmapped
	// physical name equals the logical name.
	strict bool
}

// NewTranslator creates a translator from the entity's column map and
// ordered mapper list.
func NewTranslator(columnMap map[string]string, mappers []Mapper, strict bool) *Translator {
	return &Translator{columnMap: columnMap, mappers: mappers, strict: strict}
}

// Query translates q into a new physical query bound to the given table.
// The input query is not modified.
func (t *Translator) Query(q *query.Query, table, storageKey string) (*query.Query, error) {
	out := q.Copy()
	out.SetFrom(query.TableSource{Table: table, StorageKey: storageKey})

	var firstErr error
	out.TransformExpressions(func(e expr.Expression) expr.Expression {
		translated, err := t.translateNode(e)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return e
		}
		return translated
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

// Expression translates a single expression tree.
func (t *Translator) Expression(e expr.Expression) (expr.Expression, error) {
	var firstErr error
	out := expr.Transform(e, func(n expr.Expression) expr.Expression {
		translated, err := t.translateNode(n)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return n
		}
		return translated
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

func (t *Translator) translateNode(e expr.Expression) (expr.Expression, error) {
	for _, m := range t.mappers {
		if out, matched := applyMapper(m, e); matched {
			return out, nil
		}
	}

	// Default column translation via the entity's column map.
	if col, ok := e.(*expr.Column); ok {
		if physical, found := t.columnMap[col.Name()]; found {
			return expr.NewColumn(col.Alias(), col.Table(), physical), nil
		}
		if t.strict {
			return nil, &query.UntranslatableQueryError{
				Reason: "no physical mapping for column " + col.Name(),
			}
		}
	}
	return e, nil
}

func applyMapper(m Mapper, e expr.Expression) (expr.Expression, bool) {
	switch rule := m.(type) {
	case ColumnMapper:
		col, ok := e.(*expr.Column)
		if ok && col.Name() == rule.From {
			return expr.NewColumn(col.Alias(), col.Table(), rule.To), true
		}
	case FunctionMapper:
		call, ok := e.(*expr.FunctionCall)
		if ok && call.Name() == rule.From {
			return expr.NewFunctionCall(call.Alias(), rule.To, call.Args()...), true
		}
	case CurriedFunctionMapper:
		curried, ok := e.(*expr.CurriedFunctionCall)
		if ok && curried.Inner().Name() == rule.From {
			inner := expr.NewFunctionCall(curried.Inner().Alias(), rule.To, curried.Inner().Args()...)
			return expr.NewCurriedFunctionCall(curried.Alias(), inner, curried.Args()...), true
		}
	case SubscriptableMapper:
		col, ok := e.(*expr.Column)
		if !ok {
			return nil, false
		}
		key, matched := subscriptKey(col.Name(), rule.Name)
		if !matched {
			return nil, false
		}
		return expr.NewFunctionCall(col.Alias(), "arrayElement",
			expr.NewColumn("", "", rule.ValueColumn),
			expr.NewFunctionCall("", "indexOf",
				expr.NewColumn("", "", rule.KeyColumn),
				expr.NewLiteral("", key),
			),
		), true
	}
	return nil, false
}

// subscriptKey extracts the bracket key from a logical column name like
// tags[release]. Returns false when the name is not a bracket access over
// the given map column.
func subscriptKey(name, mapColumn string) (string, bool) {
	if !strings.HasPrefix(name, mapColumn+"[") || !strings.HasSuffix(name, "]") {
		return "", false
	}
	key := name[len(mapColumn)+1 : len(name)-1]
	if key == "" {
		return "", false
	}
	return key, true
}
