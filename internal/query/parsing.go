package query

// ParsingContext keeps state needed while a query is being constructed from
// a parsed request, such as the alias cache used to detect collisions
// eagerly. It is not used after construction.
type ParsingContext struct {
	aliases map[string]bool
}

// NewParsingContext creates an empty parsing context.
func NewParsingContext() *ParsingContext {
	return &ParsingContext{aliases: make(map[string]bool)}
}

// AddAlias records an alias, failing with DuplicateAliasError if it was
// already present.
func (p *ParsingContext) AddAlias(alias string) error {
	if p.aliases[alias] {
		return &DuplicateAliasError{Alias: alias}
	}
	p.aliases[alias] = true
	return nil
}

// IsAliasPresent reports whether alias was recorded.
func (p *ParsingContext) IsAliasPresent(alias string) bool {
	return p.aliases[alias]
}
