package schema

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/draagon/codemesh/internal/mesh"
)

// ValidationError reports every missing or invalid field of a schema at
// once, so authors fix a bad file in one pass.
type ValidationError struct {
	SchemaName string
	Missing    []string
	Invalid    []string
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing fields: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid fields: "+strings.Join(e.Invalid, ", "))
	}
	name := e.SchemaName
	if name == "" {
		name = "(unnamed)"
	}
	return fmt.Sprintf("schema %s: %s", name, strings.Join(parts, "; "))
}

var validTransforms = map[string]bool{
	"": true, "lowercase": true, "uppercase": true, "trim": true,
	"camelcase": true, "snakecase": true,
}

// Validate checks the required fields (name, language, detection block,
// at least one extractor) and the internal consistency of every pattern.
// It does not compile regexes; Compile does that separately so load-time
// regex failures surface per schema.
func Validate(s *Schema) error {
	verr := &ValidationError{SchemaName: s.Name}

	if s.Name == "" {
		verr.Missing = append(verr.Missing, "name")
	}
	if s.Language == "" {
		verr.Missing = append(verr.Missing, "language")
	}
	if len(s.Detection.Imports) == 0 && len(s.Detection.Filenames) == 0 && len(s.Detection.Contents) == 0 {
		verr.Missing = append(verr.Missing, "detection")
	}
	if len(s.Extractors) == 0 {
		verr.Missing = append(verr.Missing, "extractors")
	}

	for extractor, patterns := range s.Extractors {
		if len(patterns) == 0 {
			verr.Invalid = append(verr.Invalid, fmt.Sprintf("extractors.%s (empty)", extractor))
		}
		for _, p := range patterns {
			prefix := fmt.Sprintf("extractors.%s.%s", extractor, p.Name)
			if p.Name == "" {
				verr.Missing = append(verr.Missing, fmt.Sprintf("extractors.%s pattern name", extractor))
			}
			if p.Regex == "" {
				verr.Missing = append(verr.Missing, prefix+".regex")
			} else if _, err := regexp.Compile("(?m)" + p.Regex); err != nil {
				verr.Invalid = append(verr.Invalid, prefix+".regex")
			}
			for group, c := range p.Captures {
				if !validTransforms[c.Transform] {
					verr.Invalid = append(verr.Invalid, fmt.Sprintf("%s.captures.%s.transform", prefix, group))
				}
			}
			if p.Node != nil {
				if p.Node.Type == "" {
					verr.Missing = append(verr.Missing, prefix+".node.type")
				}
				if p.Node.NameFrom == "" {
					verr.Missing = append(verr.Missing, prefix+".node.name_from")
				}
				for prop, src := range p.Node.Properties {
					if src.FromCapture == "" && src.Literal == nil {
						verr.Invalid = append(verr.Invalid, fmt.Sprintf("%s.node.properties.%s", prefix, prop))
					}
					if src.Literal != nil {
						if _, err := mesh.ValueOf(src.Literal); err != nil {
							verr.Invalid = append(verr.Invalid, fmt.Sprintf("%s.node.properties.%s", prefix, prop))
						}
					}
				}
			}
			if p.Edge != nil {
				if p.Edge.Type == "" {
					verr.Missing = append(verr.Missing, prefix+".edge.type")
				}
				if !validEndpoint(p.Edge.From) {
					verr.Invalid = append(verr.Invalid, prefix+".edge.from")
				}
				if !validEndpoint(p.Edge.To) {
					verr.Invalid = append(verr.Invalid, prefix+".edge.to")
				}
			}
		}
	}

	if len(verr.Missing) > 0 || len(verr.Invalid) > 0 {
		return verr
	}
	return nil
}

func validEndpoint(e Endpoint) bool {
	switch e.Kind {
	case EndpointCurrentNode, EndpointCurrentFile, EndpointCurrentClass, EndpointCurrentFunction:
		return true
	case EndpointCapture:
		return e.Capture != ""
	}
	return false
}
