package extract

import (
	"fmt"

	"github.com/draagon/codemesh/internal/mesh"
	"github.com/draagon/codemesh/internal/schema"
)

// Default routing thresholds.
const (
	DefaultMatchScoreFloor   = 0.4
	DefaultTier1Acceptance   = 0.5
	DefaultTrustFloor        = 0.7
	DefaultMaxAICallsPerFile = 3
)

// RouterConfig tunes the tier escalation thresholds.
type RouterConfig struct {
	// MatchScoreFloor is the registry score below which a schema match is
	// considered weak.
	MatchScoreFloor float64
	// Tier1Acceptance is the realized Tier 1 confidence below which a weak
	// match escalates to Tier 2.
	Tier1Acceptance float64
	// TrustFloor is the schema trust below which Tier 2 verification is
	// mandatory regardless of confidence.
	TrustFloor float64
	// MaxAICallsPerFile bounds collaborator calls per file across tiers.
	MaxAICallsPerFile int
}

// withDefaults fills zero fields.
func (c RouterConfig) withDefaults() RouterConfig {
	if c.MatchScoreFloor <= 0 {
		c.MatchScoreFloor = DefaultMatchScoreFloor
	}
	if c.Tier1Acceptance <= 0 {
		c.Tier1Acceptance = DefaultTier1Acceptance
	}
	if c.TrustFloor <= 0 {
		c.TrustFloor = DefaultTrustFloor
	}
	if c.MaxAICallsPerFile <= 0 {
		c.MaxAICallsPerFile = DefaultMaxAICallsPerFile
	}
	return c
}

// Decision is the router's initial plan for one file.
type Decision struct {
	Tier              mesh.Tier
	Reason            string
	Best              *schema.Match
	MandatoryVerify   bool
	EscalateOnLowConf bool
	SchemasConsidered []string
}

// route picks the starting tier for a file given its ranked schema
// matches. Escalation monotonicity holds: a file with at least one match
// never starts at Tier 3, and a file with none never runs Tier 2.
func route(matches []schema.Match, aiAvailable bool, cfg RouterConfig) Decision {
	d := Decision{}
	for i := range matches {
		d.SchemasConsidered = append(d.SchemasConsidered, matches[i].Schema.Name)
	}

	if len(matches) == 0 {
		if aiAvailable {
			d.Tier = mesh.Tier3
			d.Reason = "no schema matched, AI discovery available"
		} else {
			d.Tier = mesh.Tier1
			d.Reason = "no schema matched, AI unavailable, base-language fallback"
		}
		return d
	}

	best := &matches[0]
	d.Best = best
	d.Tier = mesh.Tier1

	switch {
	case best.Score >= cfg.MatchScoreFloor && (!best.HasTrust || best.Trust >= cfg.TrustFloor):
		d.Reason = fmt.Sprintf("schema %s matched with score %.2f", best.Schema.Name, best.Score)

	case best.Score >= cfg.MatchScoreFloor:
		d.MandatoryVerify = true
		d.Reason = fmt.Sprintf("schema %s matched with score %.2f but trust %.2f below floor, verification mandatory",
			best.Schema.Name, best.Score, best.Trust)

	default:
		d.EscalateOnLowConf = true
		d.Reason = fmt.Sprintf("schema %s matched weakly with score %.2f, will verify if confidence drops below %.2f",
			best.Schema.Name, best.Score, cfg.Tier1Acceptance)
	}
	return d
}
