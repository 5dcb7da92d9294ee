package processors

import (
	"fmt"

	"github.com/signalhouse/signalhouse/internal/query"
	"github.com/signalhouse/signalhouse/internal/query/expr"
)

// ColumnSet maps entity column names to their declared physical types
// (e.g. "duration" -> "UInt32"). Custom-function signatures are type checked
// against it.
type ColumnSet map[string]string

// LiteralKind classifies the runtime type of a literal argument.
type LiteralKind string

// Literal kinds accepted by signature parameters.
const (
	LiteralInt    LiteralKind = "Int"
	LiteralFloat  LiteralKind = "Float"
	LiteralString LiteralKind = "String"
)

// SignatureParam declares one parameter of a custom function: its name in
// the expansion template and the set of argument shapes it accepts.
type SignatureParam struct {
	Name string

	// ColumnTypes lists acceptable physical types for a column argument.
	// Empty means columns are not accepted for this parameter.
	ColumnTypes []string

	// LiteralKinds lists acceptable kinds for a literal argument. Empty
	// means literals are not accepted for this parameter.
	LiteralKinds []LiteralKind
}

// ColumnParam declares a parameter accepting columns of the given physical
// types.
func ColumnParam(name string, types ...string) SignatureParam {
	return SignatureParam{Name: name, ColumnTypes: types}
}

// LiteralParam declares a parameter accepting literals of the given kinds.
func LiteralParam(name string, kinds ...LiteralKind) SignatureParam {
	return SignatureParam{Name: name, LiteralKinds: kinds}
}

// Constant is a fixed (name, value) pair appended to every expansion of a
// partial function regardless of caller arguments.
type Constant struct {
	Name  string
	Value any
}

// CustomFunction expands calls to a registered function name into a fixed
// physical expression. The expansion template is parsed once at registration;
// expansion substitutes caller arguments positionally by parameter name.
type CustomFunction struct {
	name      string
	signature []SignatureParam
	body      expr.Expression
	constants map[string]expr.Expression
	columns   ColumnSet
}

// SimpleFunction registers a custom function whose template is substituted
// with the call's arguments positionally.
func SimpleFunction(name string, signature []SignatureParam, template string, columns ColumnSet) (*CustomFunction, error) {
	body, err := parseTemplate(template)
	if err != nil {
		return nil, fmt.Errorf("custom function %s: %w", name, err)
	}
	return &CustomFunction{
		name:      name,
		signature: signature,
		body:      body,
		constants: map[string]expr.Expression{},
		columns:   columns,
	}, nil
}

// PartialFunction registers a custom function whose template additionally
// receives a fixed list of constants, substituted on every call.
func PartialFunction(name string, signature []SignatureParam, template string, constants []Constant, columns ColumnSet) (*CustomFunction, error) {
	f, err := SimpleFunction(name, signature, template, columns)
	if err != nil {
		return nil, err
	}
	for _, c := range constants {
		f.constants[c.Name] = literalFor(c.Value)
	}
	return f, nil
}

func literalFor(value any) expr.Expression {
	switch v := value.(type) {
	case int:
		return expr.NewLiteral("", int64(v))
	default:
		return expr.NewLiteral("", value)
	}
}

// MustSimpleFunction is SimpleFunction that panics on a malformed template.
// Registration happens at startup, where a bad template is a configuration
// error.
func MustSimpleFunction(name string, signature []SignatureParam, template string, columns ColumnSet) *CustomFunction {
	f, err := SimpleFunction(name, signature, template, columns)
	if err != nil {
		panic(err)
	}
	return f
}

// MustPartialFunction is PartialFunction that panics on a malformed template.
func MustPartialFunction(name string, signature []SignatureParam, template string, constants []Constant, columns ColumnSet) *CustomFunction {
	f, err := PartialFunction(name, signature, template, constants, columns)
	if err != nil {
		panic(err)
	}
	return f
}

// Name implements Processor.
func (f *CustomFunction) Name() string { return "custom_function:" + f.name }

// Rewrite implements Rewriter: every call to the registered name anywhere in
// the query is validated against the signature and replaced by the expanded
// template, keeping the call's alias.
func (f *CustomFunction) Rewrite(q *query.Query, _ *query.Settings) error {
	var firstErr error
	q.TransformExpressions(func(e expr.Expression) expr.Expression {
		call, ok := e.(*expr.FunctionCall)
		if !ok || call.Name() != f.name {
			return e
		}
		expanded, err := f.expand(call)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return e
		}
		return expanded
	})
	return firstErr
}

func (f *CustomFunction) expand(call *expr.FunctionCall) (expr.Expression, error) {
	args := call.Args()
	if len(args) != len(f.signature) {
		return nil, &query.InvalidFunctionCallError{
			Function: f.name,
			Reason:   fmt.Sprintf("expects %d arguments, got %d", len(f.signature), len(args)),
		}
	}

	replacements := make(map[string]expr.Expression, len(args)+len(f.constants))
	for name, c := range f.constants {
		replacements[name] = c
	}
	for i, arg := range args {
		param := f.signature[i]
		if err := f.checkArg(param, arg); err != nil {
			return nil, err
		}
		replacements[param.Name] = arg
	}

	expanded := expr.Transform(f.body, func(e expr.Expression) expr.Expression {
		col, ok := e.(*expr.Column)
		if !ok {
			return e
		}
		if replacement, found := replacements[col.Name()]; found {
			return replacement
		}
		return e
	})
	return expr.WithAlias(expanded, call.Alias()), nil
}

func (f *CustomFunction) checkArg(param SignatureParam, arg expr.Expression) error {
	switch v := arg.(type) {
	case *expr.Column:
		declared, known := f.columns[v.Name()]
		if !known {
			return &query.InvalidFunctionCallError{
				Function: f.name,
				Reason:   fmt.Sprintf("parameter %s references unknown column %s", param.Name, v.Name()),
			}
		}
		for _, t := range param.ColumnTypes {
			if t == declared {
				return nil
			}
		}
		return &query.InvalidFunctionCallError{
			Function: f.name,
			Reason:   fmt.Sprintf("parameter %s does not accept columns of type %s", param.Name, declared),
		}
	case *expr.Literal:
		kind, ok := literalKindOf(v.Value())
		if ok {
			for _, k := range param.LiteralKinds {
				if k == kind {
					return nil
				}
			}
		}
		return &query.InvalidFunctionCallError{
			Function: f.name,
			Reason:   fmt.Sprintf("parameter %s does not accept literal %v", param.Name, v.Value()),
		}
	default:
		return &query.InvalidFunctionCallError{
			Function: f.name,
			Reason:   fmt.Sprintf("parameter %s must be a column or a literal", param.Name),
		}
	}
}

func literalKindOf(value any) (LiteralKind, bool) {
	switch value.(type) {
	case int, int64:
		return LiteralInt, true
	case float64:
		return LiteralFloat, true
	case string:
		return LiteralString, true
	}
	return "", false
}
