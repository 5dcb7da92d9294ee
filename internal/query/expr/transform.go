package expr

// TransformFunc rewrites a single node. It receives a node whose children
// have already been transformed and returns its replacement (which may be the
// node itself when no rewrite applies).
type TransformFunc func(Expression) Expression

// Transform applies fn bottom-up over the tree rooted at e and returns the
// resulting tree. The input tree is never mutated; untouched subtrees are
// shared between the input and the output.
func Transform(e Expression, fn TransformFunc) Expression {
	switch v := e.(type) {
	case *Column, *Literal:
		return fn(e)
	case *FunctionCall:
		args, changed := transformArgs(v.args, fn)
		if changed {
			return fn(NewFunctionCall(v.alias, v.name, args...))
		}
		return fn(v)
	case *CurriedFunctionCall:
		inner := Transform(v.inner, fn)
		args, argsChanged := transformArgs(v.args, fn)
		innerCall, ok := inner.(*FunctionCall)
		if !ok {
			// The rewrite replaced the inner call with a non-call node; the
			// curried shape cannot be preserved, so hand the whole node over.
			return fn(e)
		}
		if argsChanged || innerCall != v.inner {
			return fn(NewCurriedFunctionCall(v.alias, innerCall, args...))
		}
		return fn(v)
	}
	return fn(e)
}

func transformArgs(args []Expression, fn TransformFunc) ([]Expression, bool) {
	changed := false
	out := make([]Expression, len(args))
	for i, a := range args {
		out[i] = Transform(a, fn)
		if out[i] != a {
			changed = true
		}
	}
	return out, changed
}

// ExpandFunc rewrites a node into zero or more replacement siblings. It is
// applied only at list positions (selected expressions, group by, function
// arguments), where deleting a node or fanning it out is meaningful.
type ExpandFunc func(Expression) []Expression

// TransformList applies fn over every element of list, bottom-up. Each
// element's argument lists are expanded recursively before fn sees the
// rebuilt element. The input slice is not mutated.
func TransformList(list []Expression, fn ExpandFunc) []Expression {
	out := make([]Expression, 0, len(list))
	for _, e := range list {
		out = append(out, expand(e, fn)...)
	}
	return out
}

func expand(e Expression, fn ExpandFunc) []Expression {
	switch v := e.(type) {
	case *FunctionCall:
		args := TransformList(v.args, fn)
		return fn(NewFunctionCall(v.alias, v.name, args...))
	case *CurriedFunctionCall:
		args := TransformList(v.args, fn)
		inner := expand(v.inner, fn)
		if len(inner) == 1 {
			if innerCall, ok := inner[0].(*FunctionCall); ok {
				return fn(NewCurriedFunctionCall(v.alias, innerCall, args...))
			}
		}
		return fn(e)
	default:
		return fn(e)
	}
}

// VisitFunc observes a node along with its ancestor stack, root first. The
// stack is owned by the walk; callers must copy it to retain it.
type VisitFunc func(e Expression, ancestors []Expression)

// Walk traverses the tree top-down, calling visit for every node. Nodes hold
// no parent references; ancestry is carried explicitly by the walk.
func Walk(e Expression, visit VisitFunc) {
	walk(e, nil, visit)
}

func walk(e Expression, ancestors []Expression, visit VisitFunc) {
	visit(e, ancestors)
	switch v := e.(type) {
	case *FunctionCall:
		ancestors = append(ancestors, v)
		for _, a := range v.args {
			walk(a, ancestors, visit)
		}
	case *CurriedFunctionCall:
		ancestors = append(ancestors, v)
		walk(v.inner, ancestors, visit)
		for _, a := range v.args {
			walk(a, ancestors, visit)
		}
	}
}

// ContainsColumn reports whether any column named name (in any table
// qualifier) appears in the tree rooted at e.
func ContainsColumn(e Expression, name string) bool {
	found := false
	Walk(e, func(n Expression, _ []Expression) {
		if c, ok := n.(*Column); ok && c.Name() == name {
			found = true
		}
	})
	return found
}
