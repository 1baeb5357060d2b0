package incidentapi

import (
	"encoding/json"
	"net/http"

	"github.com/linnemanlabs/chainwatch/internal/candidate"
)

type ingestResult struct {
	Kind       string `json:"kind"`
	IncidentID string `json:"incident_id,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// handleIngestCandidates accepts a batch of candidates and runs each one
// through the dedup pipeline. The batch is not transactional: each candidate
// gets its own outcome, and one bad entry never blocks the rest.
func (a *API) handleIngestCandidates(w http.ResponseWriter, r *http.Request) {
	var env candidate.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	if len(env.Candidates) == 0 {
		http.Error(w, `{"error":"empty batch"}`, http.StatusBadRequest)
		return
	}

	results := make([]ingestResult, 0, len(env.Candidates))
	for i := range env.Candidates {
		c := &env.Candidates[i]

		out, err := a.svc.Submit(r.Context(), c)
		if err != nil {
			a.logger.Error(r.Context(), err, "candidate submit failed",
				"source_id", c.SourceID, "external_ref", c.ExternalRef)
			results = append(results, ingestResult{Kind: "error"})
			continue
		}

		res := ingestResult{Kind: string(out.Kind), Reason: out.Reason}
		if out.Incident != nil {
			res.IncidentID = out.Incident.ID
		}
		results = append(results, res)
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"results": results})
}
