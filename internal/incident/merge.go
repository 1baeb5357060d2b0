package incident

import (
	"strconv"
	"strings"

	"github.com/linnemanlabs/chainwatch/internal/candidate"
	"github.com/linnemanlabs/chainwatch/internal/rules"
)

// mergeOutcome summarizes what a merge changed, for logging and metrics.
type mergeOutcome struct {
	changed        bool
	newSource      bool
	conflictFields []string
	lossOverridden bool
}

// merge folds a matched candidate into an incident in place. Established
// facts are never cleared: null fields adopt the candidate's value,
// disagreeing values are recorded as conflicts, and only the loss amount may
// be overwritten, when the candidate's source holds a strictly higher
// confidence tier than the source that set the current value.
func merge(inc *Incident, c *candidate.Candidate, tables *rules.Tables) mergeOutcome {
	var out mergeOutcome

	if inc.addSource(c.SourceID) {
		out.newSource = true
		out.changed = true
	}

	if c.ObservedAt.After(inc.LastUpdatedAt) {
		inc.LastUpdatedAt = c.ObservedAt
		out.changed = true
	}

	mergeString(inc, c, &out, "tx_hash", &inc.TxHash, c.TxHash, strings.EqualFold)
	mergeString(inc, c, &out, "chain", &inc.Chain, c.Chain, strings.EqualFold)
	mergeString(inc, c, &out, "protocol_name", &inc.Protocol, c.Protocol, func(a, b string) bool {
		return NormalizeName(a) == NormalizeName(b)
	})
	mergeString(inc, c, &out, "exploit_type", &inc.TypeHint, c.ExploitType, strings.EqualFold)

	mergeLoss(inc, c, tables, &out)

	if c.Severity != "" && rules.ValidSeverity(strings.ToLower(c.Severity)) {
		if inc.addSeverityTag(SeverityTag{SourceID: c.SourceID, Severity: strings.ToLower(c.Severity)}) {
			out.changed = true
		}
	}

	return out
}

// mergeString applies the null-fill-or-conflict policy to one string field.
func mergeString(inc *Incident, c *candidate.Candidate, out *mergeOutcome, field string, current *string, incoming string, equal func(a, b string) bool) {
	if incoming == "" {
		return
	}
	if *current == "" {
		*current = incoming
		out.changed = true
		return
	}
	if equal(*current, incoming) {
		return
	}
	if inc.addConflict(Conflict{
		Field:      field,
		Value:      incoming,
		SourceID:   c.SourceID,
		ObservedAt: c.ObservedAt,
	}) {
		out.conflictFields = append(out.conflictFields, field)
		out.changed = true
	}
}

func mergeLoss(inc *Incident, c *candidate.Candidate, tables *rules.Tables, out *mergeOutcome) {
	if c.LossUSD == nil {
		return
	}
	if inc.LossUSD == nil {
		v := *c.LossUSD
		inc.LossUSD = &v
		inc.LossSource = c.SourceID
		out.changed = true
		return
	}
	if *inc.LossUSD == *c.LossUSD {
		return
	}

	// Overwrite only on strictly higher tier; ties keep the established
	// value and annotate the disagreement.
	if tables.Tier(c.SourceID) > tables.Tier(inc.LossSource) {
		v := *c.LossUSD
		inc.LossUSD = &v
		inc.LossSource = c.SourceID
		out.lossOverridden = true
		out.changed = true
		return
	}

	if inc.addConflict(Conflict{
		Field:      "loss_amount_usd",
		Value:      strconv.FormatFloat(*c.LossUSD, 'f', -1, 64),
		SourceID:   c.SourceID,
		ObservedAt: c.ObservedAt,
	}) {
		out.conflictFields = append(out.conflictFields, "loss_amount_usd")
		out.changed = true
	}
}

// newIncident seeds an incident from its first candidate.
func newIncident(id string, c *candidate.Candidate) *Incident {
	inc := &Incident{
		ID:            id,
		TxHash:        c.TxHash,
		Chain:         c.Chain,
		Protocol:      c.Protocol,
		TypeHint:      c.ExploitType,
		Sources:       []string{c.SourceID},
		FirstSeenAt:   c.ObservedAt,
		LastUpdatedAt: c.ObservedAt,
	}
	if c.LossUSD != nil {
		v := *c.LossUSD
		inc.LossUSD = &v
		inc.LossSource = c.SourceID
	}
	if c.Severity != "" && rules.ValidSeverity(strings.ToLower(c.Severity)) {
		inc.SeverityTags = []SeverityTag{{SourceID: c.SourceID, Severity: strings.ToLower(c.Severity)}}
	}
	return inc
}
