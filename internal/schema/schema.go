// Package schema defines the declarative extraction rule model: detection
// signals plus regex patterns with node/edge templates, grouped by source
// language. Schemas are immutable once loaded; a new version of the same
// name supersedes the old one in the store.
package schema

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/draagon/codemesh/internal/mesh"
)

// Detection holds the signals used to score a schema against a file.
type Detection struct {
	// Imports are substrings searched for in the file's import lines.
	Imports []string `json:"imports,omitempty" mapstructure:"imports"`
	// Filenames are glob patterns matched against the relative path.
	Filenames []string `json:"filenames,omitempty" mapstructure:"filenames"`
	// Contents are regexes applied to the whole file body.
	Contents []string `json:"contents,omitempty" mapstructure:"contents"`
	// ConfidenceBoost is added to match confidence and weights detection
	// scoring. Typically 0.1-0.3.
	ConfidenceBoost float64 `json:"confidence_boost,omitempty" mapstructure:"confidence_boost"`
}

// Capture configures one named regex capture group.
type Capture struct {
	// Transform is applied to the captured text: "", "lowercase",
	// "uppercase", "trim", "camelcase", or "snakecase".
	Transform string `json:"transform,omitempty" mapstructure:"transform"`
	// Default substitutes when the group did not participate in the match.
	Default string `json:"default,omitempty" mapstructure:"default"`
}

// PropertySource binds a node property either to a capture group or to a
// literal value.
type PropertySource struct {
	FromCapture string `json:"from_capture,omitempty" mapstructure:"from_capture"`
	Literal     any    `json:"literal,omitempty" mapstructure:"literal"`
}

// NodeTemplate instantiates a mesh node for each regex match.
type NodeTemplate struct {
	Type       string                    `json:"type" mapstructure:"type"`
	NameFrom   string                    `json:"name_from" mapstructure:"name_from"`
	Properties map[string]PropertySource `json:"properties,omitempty" mapstructure:"properties"`
}

// Endpoint kinds for edge templates.
const (
	EndpointCurrentNode     = "current_node"
	EndpointCurrentFile     = "current_file"
	EndpointCurrentClass    = "current_class"
	EndpointCurrentFunction = "current_function"
	EndpointCapture         = "capture"
)

// Endpoint is a symbolic edge endpoint resolved against the running file
// context during matching.
type Endpoint struct {
	Kind    string `json:"kind" mapstructure:"kind"`
	Capture string `json:"capture,omitempty" mapstructure:"capture"`
}

// EdgeTemplate instantiates a mesh edge for each regex match.
type EdgeTemplate struct {
	Type string   `json:"type" mapstructure:"type"`
	From Endpoint `json:"from" mapstructure:"from"`
	To   Endpoint `json:"to" mapstructure:"to"`
}

// Pattern is one extraction rule: a regex with named captures and optional
// node/edge templates.
type Pattern struct {
	Name     string             `json:"name" mapstructure:"name"`
	Regex    string             `json:"regex" mapstructure:"regex"`
	Captures map[string]Capture `json:"captures,omitempty" mapstructure:"captures"`
	Node     *NodeTemplate      `json:"node,omitempty" mapstructure:"node"`
	Edge     *EdgeTemplate      `json:"edge,omitempty" mapstructure:"edge"`

	compiled *regexp.Regexp
}

// Compiled returns the compiled regex. Compile must have succeeded first.
func (p *Pattern) Compiled() *regexp.Regexp { return p.compiled }

// Schema is a named, versioned rule set for one language/framework.
type Schema struct {
	Name        string               `json:"name" mapstructure:"name"`
	Language    mesh.Language        `json:"language" mapstructure:"language"`
	Version     string               `json:"version,omitempty" mapstructure:"version"`
	Description string               `json:"description,omitempty" mapstructure:"description"`
	Evolved     bool                 `json:"evolved,omitempty" mapstructure:"evolved"`
	Detection   Detection            `json:"detection" mapstructure:"detection"`
	Extractors  map[string][]Pattern `json:"extractors" mapstructure:"extractors"`
}

// Compile compiles every pattern regex in place. Multiline mode is forced
// so ^/$ anchor per line, matching how extraction rules are authored.
func (s *Schema) Compile() error {
	for extractor, patterns := range s.Extractors {
		for i := range patterns {
			p := &patterns[i]
			re, err := regexp.Compile("(?m)" + p.Regex)
			if err != nil {
				return fmt.Errorf("schema %s extractor %s pattern %s: %w", s.Name, extractor, p.Name, err)
			}
			p.compiled = re
		}
		s.Extractors[extractor] = patterns
	}
	return nil
}

// Patterns returns all patterns across extractors in deterministic
// extractor-name order.
func (s *Schema) Patterns() []*Pattern {
	var names []string
	for name := range s.Extractors {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []*Pattern
	for _, name := range names {
		patterns := s.Extractors[name]
		for i := range patterns {
			out = append(out, &patterns[i])
		}
	}
	return out
}
