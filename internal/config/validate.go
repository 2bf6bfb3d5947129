package config

import (
	"fmt"
	"strings"
)

// Validate checks configuration consistency. Every problem is reported at
// once so a bad file is fixed in one pass.
func Validate(c *Config) error {
	var problems []string

	if len(c.Paths.Include) == 0 {
		problems = append(problems, "paths.include must not be empty")
	}
	if c.Extraction.Workers < 1 {
		problems = append(problems, "extraction.workers must be at least 1")
	}
	if c.Extraction.MaxFileSizeBytes < 1 {
		problems = append(problems, "extraction.max_file_size_bytes must be positive")
	}
	for name, v := range map[string]float64{
		"extraction.match_score_floor": c.Extraction.MatchScoreFloor,
		"extraction.tier1_acceptance":  c.Extraction.Tier1Acceptance,
		"extraction.trust_floor":       c.Extraction.TrustFloor,
		"link.floor":                   c.Link.Floor,
	} {
		if v <= 0 || v > 1 {
			problems = append(problems, fmt.Sprintf("%s must be in (0, 1], got %g", name, v))
		}
	}
	if c.Extraction.MaxAICallsPerFile < 0 {
		problems = append(problems, "extraction.max_ai_calls_per_file must not be negative")
	}
	if c.AI.Enabled {
		if c.AI.Model == "" {
			problems = append(problems, "ai.model must be set when ai.enabled is true")
		}
		if c.AI.TimeoutSeconds < 1 {
			problems = append(problems, "ai.timeout_seconds must be at least 1")
		}
		if c.AI.MaxRetries < 0 {
			problems = append(problems, "ai.max_retries must not be negative")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}
