// Package expr defines the expression intermediate representation shared by
// the logical and physical query models. Nodes are immutable: rewriting a
// subtree always allocates a new tree, so expression trees can be shared
// across concurrent query executions without locking.
package expr

import "time"

// Expression is the closed set of IR node variants. An expression optionally
// carries an alias, unique within a query when present.
type Expression interface {
	exprNode()

	// Alias returns the node's alias, or "" when unset.
	Alias() string

	// Equals reports structural equality: variant, children, literal values
	// and alias must all match.
	Equals(other Expression) bool
}

// === Column ===

// Column is a reference to a column, optionally qualified with a table name.
// Before translation the name is a logical (entity) column name; after
// translation it is a physical storage column name.
type Column struct {
	alias string
	table string
	name  string
}

// NewColumn creates a column reference. alias and table may be empty.
func NewColumn(alias, table, name string) *Column {
	return &Column{alias: alias, table: table, name: name}
}

func (*Column) exprNode() {}

func (c *Column) Alias() string { return c.alias }
func (c *Column) Table() string { return c.table }
func (c *Column) Name() string  { return c.name }

func (c *Column) Equals(other Expression) bool {
	o, ok := other.(*Column)
	return ok && c.alias == o.alias && c.table == o.table && c.name == o.name
}

// === Literal ===

// Literal is a scalar constant. Supported value types are string, bool,
// int64, float64, time.Time and nil.
type Literal struct {
	alias string
	value any
}

// NewLiteral creates a literal node.
func NewLiteral(alias string, value any) *Literal {
	return &Literal{alias: alias, value: value}
}

func (*Literal) exprNode() {}

func (l *Literal) Alias() string { return l.alias }
func (l *Literal) Value() any    { return l.value }

func (l *Literal) Equals(other Expression) bool {
	o, ok := other.(*Literal)
	return ok && l.alias == o.alias && literalValueEqual(l.value, o.value)
}

func literalValueEqual(a, b any) bool {
	if at, ok := a.(time.Time); ok {
		bt, ok := b.(time.Time)
		return ok && at.Equal(bt)
	}
	return a == b
}

// === FunctionCall ===

// FunctionCall is the application of a named function to an ordered argument
// list. Function names are case sensitive.
type FunctionCall struct {
	alias string
	name  string
	args  []Expression
}

// NewFunctionCall creates a function call node. The argument slice is copied.
func NewFunctionCall(alias, name string, args ...Expression) *FunctionCall {
	copied := make([]Expression, len(args))
	copy(copied, args)
	return &FunctionCall{alias: alias, name: name, args: copied}
}

func (*FunctionCall) exprNode() {}

func (f *FunctionCall) Alias() string { return f.alias }
func (f *FunctionCall) Name() string  { return f.name }

// Args returns the argument list. Callers must not mutate the returned slice.
func (f *FunctionCall) Args() []Expression { return f.args }

func (f *FunctionCall) Equals(other Expression) bool {
	o, ok := other.(*FunctionCall)
	if !ok || f.alias != o.alias || f.name != o.name || len(f.args) != len(o.args) {
		return false
	}
	for i := range f.args {
		if !f.args[i].Equals(o.args[i]) {
			return false
		}
	}
	return true
}

// === CurriedFunctionCall ===

// CurriedFunctionCall is the application of a parameterized function, e.g.
// quantile(0.9)(duration). The inner call holds the parameters so that
// f(a)(b, c) round-trips exactly.
type CurriedFunctionCall struct {
	alias string
	inner *FunctionCall
	args  []Expression
}

// NewCurriedFunctionCall creates a curried call node.
func NewCurriedFunctionCall(alias string, inner *FunctionCall, args ...Expression) *CurriedFunctionCall {
	copied := make([]Expression, len(args))
	copy(copied, args)
	return &CurriedFunctionCall{alias: alias, inner: inner, args: copied}
}

func (*CurriedFunctionCall) exprNode() {}

func (c *CurriedFunctionCall) Alias() string        { return c.alias }
func (c *CurriedFunctionCall) Inner() *FunctionCall { return c.inner }

// Args returns the outer argument list. Callers must not mutate it.
func (c *CurriedFunctionCall) Args() []Expression { return c.args }

func (c *CurriedFunctionCall) Equals(other Expression) bool {
	o, ok := other.(*CurriedFunctionCall)
	if !ok || c.alias != o.alias || !c.inner.Equals(o.inner) || len(c.args) != len(o.args) {
		return false
	}
	for i := range c.args {
		if !c.args[i].Equals(o.args[i]) {
			return false
		}
	}
	return true
}

// WithAlias returns a copy of e whose root node carries the given alias.
func WithAlias(e Expression, alias string) Expression {
	switch v := e.(type) {
	case *Column:
		return NewColumn(alias, v.table, v.name)
	case *Literal:
		return NewLiteral(alias, v.value)
	case *FunctionCall:
		return NewFunctionCall(alias, v.name, v.args...)
	case *CurriedFunctionCall:
		return NewCurriedFunctionCall(alias, v.inner, v.args...)
	}
	return e
}

// EqualsIgnoringAlias reports whether a and b are structurally equal when the
// aliases of the two root nodes are disregarded. Child aliases still count.
func EqualsIgnoringAlias(a, b Expression) bool {
	switch av := a.(type) {
	case *Column:
		bv, ok := b.(*Column)
		return ok && av.table == bv.table && av.name == bv.name
	case *Literal:
		bv, ok := b.(*Literal)
		return ok && literalValueEqual(av.value, bv.value)
	case *FunctionCall:
		bv, ok := b.(*FunctionCall)
		if !ok || av.name != bv.name || len(av.args) != len(bv.args) {
			return false
		}
		for i := range av.args {
			if !av.args[i].Equals(bv.args[i]) {
				return false
			}
		}
		return true
	case *CurriedFunctionCall:
		bv, ok := b.(*CurriedFunctionCall)
		if !ok || !av.inner.Equals(bv.inner) || len(av.args) != len(bv.args) {
			return false
		}
		for i := range av.args {
			if !av.args[i].Equals(bv.args[i]) {
				return false
			}
		}
		return true
	}
	return false
}
