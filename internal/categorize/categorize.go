// Package categorize derives normalized exploit type and severity for
// incidents. It is a pure relabeling of stated facts: no inference, no
// scoring, no detection.
package categorize

import (
	"github.com/linnemanlabs/chainwatch/internal/incident"
	"github.com/linnemanlabs/chainwatch/internal/rules"
)

// Categorizer assigns exploit_type and severity from the rule tables. All
// methods are pure and idempotent given an incident snapshot.
type Categorizer struct {
	tables *rules.Tables
}

// New creates a Categorizer over the given rule tables.
func New(tables *rules.Tables) *Categorizer {
	return &Categorizer{tables: tables}
}

// Apply re-derives the categorized fields on the incident in place. It
// returns the raw type hint when it failed to resolve against the synonym
// table, so callers can log it for mapping-table extension.
func (c *Categorizer) Apply(inc *incident.Incident) (unknownHint string) {
	inc.ExploitType, unknownHint = c.NormalizeType(inc.TypeHint)
	inc.Severity = c.Severity(inc.LossUSD, inc.SeverityTags)
	return unknownHint
}

// NormalizeType resolves a free-text exploit type hint into the closed set.
// An empty hint stays empty; an unrecognized hint maps to other and is
// returned for logging.
func (c *Categorizer) NormalizeType(hint string) (exploitType, unknownHint string) {
	if hint == "" {
		return "", ""
	}
	canonical, known := c.tables.CanonicalType(hint)
	if known {
		return canonical, ""
	}
	return rules.TypeOther, hint
}

// Severity derives the severity level. Loss thresholds decide by default; if
// any source explicitly tagged a severity, the tag from the
// highest-confidence source wins over the threshold-derived value. Ties on
// tier resolve toward the more severe tag.
func (c *Categorizer) Severity(lossUSD *float64, tags []incident.SeverityTag) string {
	if best, ok := c.bestTag(tags); ok {
		return best
	}
	if lossUSD == nil {
		return ""
	}
	return c.tables.SeverityFor(*lossUSD)
}

func (c *Categorizer) bestTag(tags []incident.SeverityTag) (string, bool) {
	best := ""
	bestTier := -1
	for _, tag := range tags {
		if !rules.ValidSeverity(tag.Severity) {
			continue
		}
		tier := c.tables.Tier(tag.SourceID)
		if tier > bestTier || (tier == bestTier && rules.SeverityRank(tag.Severity) > rules.SeverityRank(best)) {
			best = tag.Severity
			bestTier = tier
		}
	}
	return best, best != ""
}
