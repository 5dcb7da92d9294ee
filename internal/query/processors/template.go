package processors

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/signalhouse/signalhouse/internal/query/expr"
)

// parseTemplate parses a custom-function expansion template such as
//
//	divide(countIf(notEquals(status, ok)), count())
//
// into an expression tree. Bare identifiers become column placeholders that
// expansion later substitutes with caller arguments or registered constants;
// identifiers that match neither are emitted as physical column references
// unchanged. Supported literals are integers, floats and single-quoted
// strings.
func parseTemplate(src string) (expr.Expression, error) {
	p := &templateParser{src: src}
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, fmt.Errorf("template: trailing input at offset %d", p.pos)
	}
	return e, nil
}

type templateParser struct {
	src string
	pos int
}

func (p *templateParser) parseExpr() (expr.Expression, error) {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return nil, fmt.Errorf("template: unexpected end of input")
	}

	ch := p.src[p.pos]
	switch {
	case ch == '\'':
		return p.parseString()
	case ch == '-' || unicode.IsDigit(rune(ch)):
		return p.parseNumber()
	case isIdentStart(ch):
		name := p.parseIdent()
		p.skipSpace()
		if p.pos < len(p.src) && p.src[p.pos] == '(' {
			return p.parseCall(name)
		}
		return expr.NewColumn("", "", name), nil
	default:
		return nil, fmt.Errorf("template: unexpected character %q at offset %d", ch, p.pos)
	}
}

func (p *templateParser) parseCall(name string) (expr.Expression, error) {
	p.pos++ // consume '('
	var args []expr.Expression
	p.skipSpace()
	if p.pos < len(p.src) && p.src[p.pos] == ')' {
		p.pos++
		return expr.NewFunctionCall("", name, args...), nil
	}
	for {
		arg, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		p.skipSpace()
		if p.pos >= len(p.src) {
			return nil, fmt.Errorf("template: unterminated call to %s", name)
		}
		switch p.src[p.pos] {
		case ',':
			p.pos++
		case ')':
			p.pos++
			return expr.NewFunctionCall("", name, args...), nil
		default:
			return nil, fmt.Errorf("template: expected ',' or ')' at offset %d", p.pos)
		}
	}
}

func (p *templateParser) parseString() (expr.Expression, error) {
	start := p.pos
	p.pos++ // consume opening quote
	var sb strings.Builder
	for p.pos < len(p.src) {
		if p.src[p.pos] == '\'' {
			p.pos++
			return expr.NewLiteral("", sb.String()), nil
		}
		sb.WriteByte(p.src[p.pos])
		p.pos++
	}
	return nil, fmt.Errorf("template: unterminated string at offset %d", start)
}

func (p *templateParser) parseNumber() (expr.Expression, error) {
	start := p.pos
	if p.src[p.pos] == '-' {
		p.pos++
	}
	isFloat := false
	for p.pos < len(p.src) && (unicode.IsDigit(rune(p.src[p.pos])) || p.src[p.pos] == '.') {
		if p.src[p.pos] == '.' {
			isFloat = true
		}
		p.pos++
	}
	text := p.src[start:p.pos]
	if isFloat {
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("template: bad float %q", text)
		}
		return expr.NewLiteral("", f), nil
	}
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("template: bad integer %q", text)
	}
	return expr.NewLiteral("", n), nil
}

func (p *templateParser) parseIdent() string {
	start := p.pos
	for p.pos < len(p.src) && isIdentPart(p.src[p.pos]) {
		p.pos++
	}
	return p.src[start:p.pos]
}

func (p *templateParser) skipSpace() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t' || p.src[p.pos] == '\n') {
		p.pos++
	}
}

func isIdentStart(ch byte) bool {
	return ch == '_' || unicode.IsLetter(rune(ch))
}

func isIdentPart(ch byte) bool {
	return ch == '_' || ch == '.' || unicode.IsLetter(rune(ch)) || unicode.IsDigit(rune(ch))
}
