// Package rules holds the operator-supplied classification tables: source
// confidence tiers, severity thresholds, and exploit-type synonyms. The
// tables are data, not code, and load from a YAML file at startup.
package rules

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Severity levels, ordered from most to least severe.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
	SeverityInfo     = "info"
)

// Canonical exploit types. Unmatched hints map to TypeOther.
const (
	TypeReentrancy         = "reentrancy"
	TypeFlashLoan          = "flash-loan"
	TypeOracleManipulation = "oracle-manipulation"
	TypeAccessControl      = "access-control"
	TypeBridgeExploit      = "bridge-exploit"
	TypeRugPull            = "rug-pull"
	TypeGovernanceAttack   = "governance-attack"
	TypeOther              = "other"
)

// Threshold maps a minimum USD loss to a severity level.
type Threshold struct {
	Severity string  `yaml:"severity"`
	MinUSD   float64 `yaml:"min_usd"`
}

// Tables is the full rule set consumed by the deduplicator and categorizer.
type Tables struct {
	// ConfidenceTiers ranks sources; higher ordinal means more trusted.
	// Unlisted sources have tier 0.
	ConfidenceTiers map[string]int `yaml:"confidence_tiers"`

	// SeverityThresholds must be ordered by strictly descending MinUSD.
	// A loss below every threshold is classified as info.
	SeverityThresholds []Threshold `yaml:"severity_thresholds"`

	// TypeSynonyms maps lowercased free-text exploit type strings to the
	// canonical closed set.
	TypeSynonyms map[string]string `yaml:"exploit_type_synonyms"`
}

var validSeverities = map[string]bool{
	SeverityCritical: true,
	SeverityHigh:     true,
	SeverityMedium:   true,
	SeverityLow:      true,
	SeverityInfo:     true,
}

var validTypes = map[string]bool{
	TypeReentrancy:         true,
	TypeFlashLoan:          true,
	TypeOracleManipulation: true,
	TypeAccessControl:      true,
	TypeBridgeExploit:      true,
	TypeRugPull:            true,
	TypeGovernanceAttack:   true,
	TypeOther:              true,
}

// Defaults returns the built-in tables used when no rules file is configured.
func Defaults() *Tables {
	return &Tables{
		ConfidenceTiers: map[string]int{},
		SeverityThresholds: []Threshold{
			{Severity: SeverityCritical, MinUSD: 10_000_000},
			{Severity: SeverityHigh, MinUSD: 1_000_000},
			{Severity: SeverityMedium, MinUSD: 100_000},
			{Severity: SeverityLow, MinUSD: 1_000},
		},
		TypeSynonyms: map[string]string{
			"reentrancy":          TypeReentrancy,
			"re-entrancy":         TypeReentrancy,
			"reentrancy attack":   TypeReentrancy,
			"flash loan":          TypeFlashLoan,
			"flashloan":           TypeFlashLoan,
			"flash-loan":          TypeFlashLoan,
			"flash loan attack":   TypeFlashLoan,
			"oracle":              TypeOracleManipulation,
			"oracle manipulation": TypeOracleManipulation,
			"price manipulation":  TypeOracleManipulation,
			"access control":      TypeAccessControl,
			"private key":         TypeAccessControl,
			"key compromise":      TypeAccessControl,
			"compromised key":     TypeAccessControl,
			"bridge":              TypeBridgeExploit,
			"bridge exploit":      TypeBridgeExploit,
			"bridge hack":         TypeBridgeExploit,
			"rug pull":            TypeRugPull,
			"rugpull":             TypeRugPull,
			"rug-pull":            TypeRugPull,
			"exit scam":           TypeRugPull,
			"governance":          TypeGovernanceAttack,
			"governance attack":   TypeGovernanceAttack,
		},
	}
}

// Load reads tables from the given YAML file. An empty path returns
// Defaults. Tables missing from the file fall back to their defaults.
func Load(path string) (*Tables, error) {
	if path == "" {
		return Defaults(), nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // G304: path is operator config, not user input
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}

	t := &Tables{}
	if err := yaml.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}

	d := Defaults()
	if t.ConfidenceTiers == nil {
		t.ConfidenceTiers = d.ConfidenceTiers
	}
	if len(t.SeverityThresholds) == 0 {
		t.SeverityThresholds = d.SeverityThresholds
	}
	if t.TypeSynonyms == nil {
		t.TypeSynonyms = d.TypeSynonyms
	}

	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rules file %s: %w", path, err)
	}
	return t, nil
}

// Validate checks internal consistency of the tables.
func (t *Tables) Validate() error {
	var errs []error

	for src, tier := range t.ConfidenceTiers {
		if tier < 0 {
			errs = append(errs, fmt.Errorf("confidence tier for %q is negative", src))
		}
	}

	prev := -1.0
	for i, th := range t.SeverityThresholds {
		if !validSeverities[th.Severity] {
			errs = append(errs, fmt.Errorf("threshold %d: unknown severity %q", i, th.Severity))
		}
		if th.MinUSD < 0 {
			errs = append(errs, fmt.Errorf("threshold %d: negative min_usd", i))
		}
		if prev >= 0 && th.MinUSD >= prev {
			errs = append(errs, fmt.Errorf("threshold %d: min_usd must strictly descend", i))
		}
		prev = th.MinUSD
	}

	for syn, canonical := range t.TypeSynonyms {
		if !validTypes[canonical] {
			errs = append(errs, fmt.Errorf("synonym %q maps to unknown exploit type %q", syn, canonical))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Tier returns the confidence tier for a source. Unknown sources rank 0.
func (t *Tables) Tier(sourceID string) int {
	return t.ConfidenceTiers[sourceID]
}

// SeverityFor maps a USD loss onto the threshold table.
func (t *Tables) SeverityFor(lossUSD float64) string {
	for _, th := range t.SeverityThresholds {
		if lossUSD >= th.MinUSD {
			return th.Severity
		}
	}
	return SeverityInfo
}

// CanonicalType resolves a free-text exploit type hint against the synonym
// table. The second return reports whether the hint was recognized.
func (t *Tables) CanonicalType(hint string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(hint))
	if key == "" {
		return "", false
	}
	if validTypes[key] {
		return key, true
	}
	if canonical, ok := t.TypeSynonyms[key]; ok {
		return canonical, true
	}
	return TypeOther, false
}

// SeverityRank orders severities for comparisons; higher is more severe.
// Unknown strings rank below info.
func SeverityRank(severity string) int {
	switch severity {
	case SeverityCritical:
		return 5
	case SeverityHigh:
		return 4
	case SeverityMedium:
		return 3
	case SeverityLow:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// ValidSeverity reports whether s names a known severity level.
func ValidSeverity(s string) bool {
	return validSeverities[s]
}
