package filter

import (
	"fmt"
	"strings"

	"github.com/cuemby/ftb/pkg/types"
)

// Key is a filterable event attribute
type Key string

const (
	KeyEventSpace Key = "event_space"
	KeySeverity   Key = "severity"
	KeyEventName  Key = "event_name"
	KeyClientName Key = "client_name"
	KeyHostname   Key = "hostname"
	KeyJobID      Key = "jobid"
)

// MaxExpressionLen bounds the length of a filter string
const MaxExpressionLen = 1024

var keyLimits = map[Key]int{
	KeyEventSpace: types.MaxEventSpaceLen,
	KeySeverity:   types.MaxSeverityLen,
	KeyEventName:  types.MaxEventNameLen,
	KeyClientName: types.MaxClientNameLen,
	KeyHostname:   types.MaxHostnameLen,
	KeyJobID:      types.MaxJobIDLen,
}

type options struct {
	hierarchical bool
	foldSpace    bool
	wildcards    map[string]bool
}

// Option configures filter compilation
type Option func(*options)

// WithHierarchicalSpaces toggles segment-wise event_space matching. When
// enabled, each dot separated segment of the pattern may be a wildcard and a
// shorter pattern matches every space below it.
func WithHierarchicalSpaces(enabled bool) Option {
	return func(o *options) {
		o.hierarchical = enabled
	}
}

// WithSpaceCaseFolding makes event_space values compare case-insensitively
func WithSpaceCaseFolding(enabled bool) Option {
	return func(o *options) {
		o.foldSpace = enabled
	}
}

// WithWildcards replaces the tokens that mean "any value"
func WithWildcards(tokens ...string) Option {
	return func(o *options) {
		o.wildcards = make(map[string]bool, len(tokens))
		for _, tok := range tokens {
			o.wildcards[tok] = true
		}
	}
}

func defaultOptions() options {
	return options{
		hierarchical: true,
		wildcards:    map[string]bool{"all": true, "*": true},
	}
}

type clause struct {
	key      Key
	value    string
	wildcard bool
	segments []string
}

// Filter is a compiled subscription predicate. The zero-clause filter
// matches every event.
type Filter struct {
	expr    string
	clauses []clause
	opts    options
}

// Compile parses expr, a conjunction of key=value clauses separated by ';'
// or ','. Keys are case-insensitive. An empty expression or a lone wildcard
// matches everything.
func Compile(expr string, opts ...Option) (*Filter, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	if len(expr) > MaxExpressionLen {
		return nil, fmt.Errorf("%w: expression exceeds %d bytes", types.ErrInvalidFilterSyntax, MaxExpressionLen)
	}

	f := &Filter{expr: expr, opts: o}
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" || o.wildcards[trimmed] {
		return f, nil
	}

	parts := strings.FieldsFunc(trimmed, func(r rune) bool { return r == ';' || r == ',' })
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		c, err := parseClause(part, o)
		if err != nil {
			return nil, err
		}
		f.clauses = append(f.clauses, c)
	}
	return f, nil
}

// MustCompile is like Compile but panics on error
func MustCompile(expr string, opts ...Option) *Filter {
	f, err := Compile(expr, opts...)
	if err != nil {
		panic(err)
	}
	return f
}

func parseClause(part string, o options) (clause, error) {
	k, v, ok := strings.Cut(part, "=")
	if !ok {
		return clause{}, fmt.Errorf("%w: clause %q is not key=value", types.ErrInvalidFilterSyntax, part)
	}
	key := Key(strings.ToLower(strings.TrimSpace(k)))
	value := strings.TrimSpace(v)

	limit, known := keyLimits[key]
	if !known {
		return clause{}, fmt.Errorf("%w: unknown key %q", types.ErrInvalidFilterSyntax, k)
	}
	if value == "" {
		return clause{}, fmt.Errorf("%w: empty value for %s", types.ErrInvalidFilterSyntax, key)
	}
	if len(value) > limit {
		return clause{}, fmt.Errorf("%w: value for %s exceeds %d bytes", types.ErrInvalidFilterSyntax, key, limit)
	}

	c := clause{key: key, value: value, wildcard: o.wildcards[value]}
	if key == KeyEventSpace && o.hierarchical && !c.wildcard {
		c.segments = strings.Split(value, ".")
		for _, seg := range c.segments {
			if seg == "" {
				return clause{}, fmt.Errorf("%w: empty segment in event_space %q", types.ErrInvalidFilterSyntax, value)
			}
		}
	}
	return c, nil
}

// Match reports whether ev satisfies every clause of f
func (f *Filter) Match(ev *types.Event) bool {
	if ev == nil {
		return false
	}
	for _, c := range f.clauses {
		if !f.matchClause(c, ev) {
			return false
		}
	}
	return true
}

func (f *Filter) matchClause(c clause, ev *types.Event) bool {
	if c.wildcard {
		return true
	}
	switch c.key {
	case KeyEventSpace:
		return f.matchSpace(c, ev.EventSpace)
	case KeySeverity:
		return c.value == ev.Severity
	case KeyEventName:
		return c.value == ev.Name
	case KeyClientName:
		return c.value == ev.ClientName
	case KeyHostname:
		return c.value == ev.Hostname
	case KeyJobID:
		return c.value == ev.JobID
	}
	return false
}

func (f *Filter) matchSpace(c clause, space string) bool {
	if c.segments == nil {
		return f.equalSpace(c.value, space)
	}
	actual := strings.Split(space, ".")
	if len(c.segments) > len(actual) {
		return false
	}
	for i, seg := range c.segments {
		if f.opts.wildcards[seg] {
			continue
		}
		if !f.equalSpace(seg, actual[i]) {
			return false
		}
	}
	return true
}

func (f *Filter) equalSpace(a, b string) bool {
	if f.opts.foldSpace {
		return strings.EqualFold(a, b)
	}
	return a == b
}

// MatchesAll reports whether f has no constraining clause
func (f *Filter) MatchesAll() bool {
	for _, c := range f.clauses {
		if !c.wildcard {
			return false
		}
	}
	return true
}

// String returns the source expression
func (f *Filter) String() string {
	return f.expr
}
