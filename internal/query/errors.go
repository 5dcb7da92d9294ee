package query

import "fmt"

// InvalidQueryError is a validator rejection or a malformed literal. It
// rejects a single query and is never fatal to the process.
type InvalidQueryError struct {
	Reason string
}

func (e *InvalidQueryError) Error() string {
	return fmt.Sprintf("invalid query: %s", e.Reason)
}

// NewInvalidQueryError builds an InvalidQueryError from a format string.
func NewInvalidQueryError(format string, args ...any) *InvalidQueryError {
	return &InvalidQueryError{Reason: fmt.Sprintf(format, args...)}
}

// UntranslatableQueryError means the translation layer could not map a
// logical construct to its physical form.
type UntranslatableQueryError struct {
	Reason string
}

func (e *UntranslatableQueryError) Error() string {
	return fmt.Sprintf("untranslatable query: %s", e.Reason)
}

// InvalidFunctionCallError is an arity or argument-type mismatch during
// custom-function expansion.
type InvalidFunctionCallError struct {
	Function string
	Reason   string
}

func (e *InvalidFunctionCallError) Error() string {
	return fmt.Sprintf("invalid call to %s: %s", e.Function, e.Reason)
}

// DuplicateAliasError is returned by query mutators when two selected
// expressions would share an alias.
type DuplicateAliasError struct {
	Alias string
}

func (e *DuplicateAliasError) Error() string {
	return fmt.Sprintf("alias %q is defined more than once", e.Alias)
}
