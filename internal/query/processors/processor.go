// Package processors implements the ordered pass pipeline applied to a
// logical query before translation: validators inspect and may reject,
// rewriters mutate the query in place.
package processors

import (
	"fmt"

	"github.com/signalhouse/signalhouse/internal/query"
)

// Processor is a single pipeline pass. Concrete processors implement exactly
// one of the two capabilities below.
type Processor interface {
	// Name identifies the pass in logs and errors.
	Name() string
}

// Validator inspects a query and either returns nil or rejects it with an
// InvalidQueryError. Validators never mutate the query.
type Validator interface {
	Processor
	Validate(q *query.Query, settings *query.Settings) error
}

// Rewriter mutates a query in place. A rewriter runs exactly once per query
// and is not required to be re-entrant.
type Rewriter interface {
	Processor
	Rewrite(q *query.Query, settings *query.Settings) error
}

// Run executes the processor list in order. The first failure aborts the
// pipeline; the query must then be considered rejected.
func Run(list []Processor, q *query.Query, settings *query.Settings) error {
	for _, p := range list {
		var err error
		switch pass := p.(type) {
		case Validator:
			err = pass.Validate(q, settings)
		case Rewriter:
			err = pass.Rewrite(q, settings)
		default:
			err = fmt.Errorf("processor %s implements neither capability", p.Name())
		}
		if err != nil {
			return err
		}
	}
	return nil
}
