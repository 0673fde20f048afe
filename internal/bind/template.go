// Package bind turns a function's static parameter declarations plus
// run-time context into bound invocation arguments, isolating
// per-argument failures.
package bind

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrBadTemplate   = errors.New("malformed route template")
	ErrMissingParam  = errors.New("missing template parameter")
	ErrTemplateEmpty = errors.New("route template is empty")
)

// Template is a route or blob-path template with {name} placeholders,
// e.g. "order/{id}/{action}" or "invoices/{year}/{name}.json".
type Template struct {
	raw    string
	tokens []token
}

type token struct {
	text  string
	param bool
}

// ParseTemplate compiles a template. Placeholders must be separated by
// at least one literal character so matches stay unambiguous.
func ParseTemplate(raw string) (*Template, error) {
	if raw == "" {
		return nil, ErrTemplateEmpty
	}

	var tokens []token
	rest := raw
	for rest != "" {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			if strings.IndexByte(rest, '}') >= 0 {
				return nil, fmt.Errorf("%w: unmatched '}' in %q", ErrBadTemplate, raw)
			}
			tokens = append(tokens, token{text: rest})
			break
		}
		if open > 0 {
			tokens = append(tokens, token{text: rest[:open]})
		}
		rest = rest[open+1:]
		close := strings.IndexByte(rest, '}')
		if close < 0 {
			return nil, fmt.Errorf("%w: unmatched '{' in %q", ErrBadTemplate, raw)
		}
		name := rest[:close]
		if name == "" {
			return nil, fmt.Errorf("%w: empty placeholder in %q", ErrBadTemplate, raw)
		}
		if strings.ContainsAny(name, "{}/") {
			return nil, fmt.Errorf("%w: invalid placeholder %q in %q", ErrBadTemplate, name, raw)
		}
		if len(tokens) > 0 && tokens[len(tokens)-1].param {
			return nil, fmt.Errorf("%w: adjacent placeholders in %q", ErrBadTemplate, raw)
		}
		tokens = append(tokens, token{text: name, param: true})
		rest = rest[close+1:]
	}

	return &Template{raw: raw, tokens: tokens}, nil
}

// String returns the template source text.
func (t *Template) String() string {
	return t.raw
}

// LiteralPrefix returns the literal text before the first placeholder,
// usable as a listing prefix.
func (t *Template) LiteralPrefix() string {
	if len(t.tokens) == 0 || t.tokens[0].param {
		return ""
	}
	return t.tokens[0].text
}

// ParamNames lists the placeholder names in declaration order.
func (t *Template) ParamNames() []string {
	var names []string
	for _, tok := range t.tokens {
		if tok.param {
			names = append(names, tok.text)
		}
	}
	return names
}

// Match extracts placeholder values from s. It reports false when s
// does not fit the template. Placeholders never match across '/' in
// the final position of a segment-separated template unless they are
// the trailing token.
func (t *Template) Match(s string) (map[string]string, bool) {
	values := make(map[string]string)
	rest := s

	for i, tok := range t.tokens {
		if !tok.param {
			if !strings.HasPrefix(rest, tok.text) {
				return nil, false
			}
			rest = rest[len(tok.text):]
			continue
		}

		if i == len(t.tokens)-1 {
			// Trailing placeholder consumes the remainder.
			if rest == "" {
				return nil, false
			}
			values[tok.text] = rest
			rest = ""
			continue
		}

		// Capture up to the next literal.
		next := t.tokens[i+1].text
		idx := strings.Index(rest, next)
		if idx <= 0 {
			return nil, false
		}
		values[tok.text] = rest[:idx]
		rest = rest[idx:]
	}

	if rest != "" {
		return nil, false
	}
	return values, true
}

// Expand substitutes placeholder values into the template.
func (t *Template) Expand(values map[string]*string) (string, error) {
	var sb strings.Builder
	for _, tok := range t.tokens {
		if !tok.param {
			sb.WriteString(tok.text)
			continue
		}
		v, ok := values[tok.text]
		if !ok || v == nil {
			return "", fmt.Errorf("%w: %q in %q", ErrMissingParam, tok.text, t.raw)
		}
		sb.WriteString(*v)
	}
	return sb.String(), nil
}
