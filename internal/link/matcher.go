package link

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/draagon/codemesh/internal/mesh"
)

// Confidence bands per strategy. The first strategy that succeeds for a
// pair decides both the method and the confidence; later strategies are
// never consulted. Literal beats config beats pattern.
const (
	ConfLiteral     = 0.95
	ConfLiteralFold = 0.9
	ConfConfig      = 0.8
	ConfPattern     = 0.7
)

var (
	queueARNRe = regexp.MustCompile(`^arn:aws[\w-]*:(?:sqs|sns):[^:]*:[^:]*:(.+)$`)
)

// RefMatch is the outcome of matching two references.
type RefMatch struct {
	Matched    bool
	Confidence float64
	Method     mesh.ResolutionMethod
}

// Matcher pairs references using literal, config-resolved, and
// pattern-normalized equality.
type Matcher struct {
	resolver *ConfigResolver
}

// NewMatcher creates a Matcher. The resolver may be nil, disabling the
// config strategy.
func NewMatcher(resolver *ConfigResolver) *Matcher {
	return &Matcher{resolver: resolver}
}

// Match compares two references of the same type. References of
// different types never match.
func (m *Matcher) Match(a, b mesh.ExternalReference) RefMatch {
	if a.Type != b.Type || a.Identifier == "" || b.Identifier == "" {
		return RefMatch{}
	}

	if a.Identifier == b.Identifier {
		return RefMatch{Matched: true, Confidence: ConfLiteral, Method: mesh.ResolveLiteral}
	}
	if strings.EqualFold(a.Identifier, b.Identifier) {
		return RefMatch{Matched: true, Confidence: ConfLiteralFold, Method: mesh.ResolveLiteral}
	}

	if mr := m.matchResolved(a, b); mr.Matched {
		return mr
	}

	if normalize(a.Type, a.Identifier) == normalize(b.Type, b.Identifier) {
		return RefMatch{Matched: true, Confidence: ConfPattern, Method: mesh.ResolvePattern}
	}
	return RefMatch{}
}

// matchResolved expands config variables on either side before comparing.
// An unresolvable variable makes that side unusable for this strategy.
func (m *Matcher) matchResolved(a, b mesh.ExternalReference) RefMatch {
	if m.resolver == nil {
		return RefMatch{}
	}
	if !HasVariables(a.Identifier) && !HasVariables(b.Identifier) {
		return RefMatch{}
	}

	left, okA := m.resolver.Resolve(a.Identifier)
	right, okB := m.resolver.Resolve(b.Identifier)
	if !okA || !okB {
		return RefMatch{}
	}
	if left == right || normalize(a.Type, left) == normalize(b.Type, right) {
		return RefMatch{Matched: true, Confidence: ConfConfig, Method: mesh.ResolveConfig}
	}
	return RefMatch{}
}

// normalize reduces an identifier to its comparable core, per reference
// type: queue ARNs and URLs reduce to the queue name, API identifiers to
// their URL path, table identifiers lose their schema prefix.
func normalize(t mesh.ReferenceType, identifier string) string {
	s := strings.TrimSpace(identifier)
	switch t {
	case mesh.RefQueue:
		if m := queueARNRe.FindStringSubmatch(s); m != nil {
			s = m[1]
		} else if u, err := url.Parse(s); err == nil && u.Scheme != "" {
			segments := strings.Split(strings.Trim(u.Path, "/"), "/")
			s = segments[len(segments)-1]
		}
	case mesh.RefAPI:
		if u, err := url.Parse(s); err == nil && u.Host != "" {
			s = u.Path
		}
		s = "/" + strings.Trim(s, "/")
	case mesh.RefTable:
		if i := strings.LastIndex(s, "."); i >= 0 {
			s = s[i+1:]
		}
	}
	return strings.ToLower(s)
}
