package incident

import (
	"slices"
	"time"
)

// Conflict records a field value that disagreed with the established fact on
// an incident. Conflicts are annotations for human review, never errors.
type Conflict struct {
	Field      string    `json:"field"`
	Value      string    `json:"value"`
	SourceID   string    `json:"source_id"`
	ObservedAt time.Time `json:"observed_at"`
}

// SeverityTag is an explicit severity claim made by a source, kept so the
// categorizer can arbitrate by confidence tier.
type SeverityTag struct {
	SourceID string `json:"source_id"`
	Severity string `json:"severity"`
}

// Incident is the deduplicated, canonical record of one real-world exploit
// event. It is created on the first unmatched candidate and mutated on every
// merge; it is never physically deleted, only archived.
type Incident struct {
	ID string `json:"id"`

	// TxHash is the canonical identity key. Nullable, but immutable once set.
	TxHash string `json:"tx_hash,omitempty"`

	Chain    string `json:"chain,omitempty"`
	Protocol string `json:"protocol_name,omitempty"`

	// TypeHint is the raw free-text exploit type as reported by sources.
	// ExploitType is its normalization into the closed set.
	TypeHint    string `json:"type_hint,omitempty"`
	ExploitType string `json:"exploit_type,omitempty"`

	Severity string `json:"severity,omitempty"`

	LossUSD *float64 `json:"loss_amount_usd,omitempty"`
	// LossSource is the source that set the current LossUSD, kept so the
	// confidence-tier override rule has a defined comparison target.
	LossSource string `json:"loss_source,omitempty"`

	Sources      []string      `json:"sources"`
	SeverityTags []SeverityTag `json:"severity_tags,omitempty"`
	Conflicts    []Conflict    `json:"conflicts,omitempty"`

	FirstSeenAt   time.Time  `json:"first_seen_at"`
	LastUpdatedAt time.Time  `json:"last_updated_at"`
	ArchivedAt    *time.Time `json:"archived_at,omitempty"`
}

// Clone returns a deep copy, so stored incidents are never aliased by
// callers or event subscribers.
func (i *Incident) Clone() *Incident {
	cp := *i
	cp.Sources = slices.Clone(i.Sources)
	cp.SeverityTags = slices.Clone(i.SeverityTags)
	cp.Conflicts = slices.Clone(i.Conflicts)
	if i.LossUSD != nil {
		v := *i.LossUSD
		cp.LossUSD = &v
	}
	if i.ArchivedAt != nil {
		t := *i.ArchivedAt
		cp.ArchivedAt = &t
	}
	return &cp
}

// HasSource reports whether sourceID already corroborates this incident.
func (i *Incident) HasSource(sourceID string) bool {
	return slices.Contains(i.Sources, sourceID)
}

// addSource records a corroborating source, keeping the set sorted. Returns
// true if the source was new.
func (i *Incident) addSource(sourceID string) bool {
	idx, found := slices.BinarySearch(i.Sources, sourceID)
	if found {
		return false
	}
	i.Sources = slices.Insert(i.Sources, idx, sourceID)
	return true
}

// addConflict appends a conflict annotation, deduplicated by
// (field, value, source) so resubmission of an identical candidate cannot
// grow the list.
func (i *Incident) addConflict(c Conflict) bool {
	for _, existing := range i.Conflicts {
		if existing.Field == c.Field && existing.Value == c.Value && existing.SourceID == c.SourceID {
			return false
		}
	}
	i.Conflicts = append(i.Conflicts, c)
	return true
}

// addSeverityTag records an explicit severity claim, deduplicated by
// (source, severity).
func (i *Incident) addSeverityTag(tag SeverityTag) bool {
	for _, existing := range i.SeverityTags {
		if existing.SourceID == tag.SourceID && existing.Severity == tag.Severity {
			return false
		}
	}
	i.SeverityTags = append(i.SeverityTags, tag)
	return true
}
