// Package candidate defines the raw observation record produced by source
// adapters, before deduplication.
package candidate

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMalformed marks a candidate missing required fields. Malformed
// candidates are rejected immediately and never stored.
var ErrMalformed = errors.New("malformed candidate")

// Candidate is one source's observation of a possible exploit event.
// Field presence is trusted, field correctness is not.
type Candidate struct {
	SourceID    string          `json:"source_id"`
	ExternalRef string          `json:"external_ref"`
	ObservedAt  time.Time       `json:"observed_at"`
	Chain       string          `json:"chain,omitempty"`
	Protocol    string          `json:"protocol_name,omitempty"`
	ExploitType string          `json:"exploit_type,omitempty"`
	Severity    string          `json:"severity,omitempty"`
	LossUSD     *float64        `json:"loss_amount_usd,omitempty"`
	TxHash      string          `json:"tx_hash,omitempty"`
	RawPayload  json.RawMessage `json:"raw_payload,omitempty"`
}

// Envelope is the batch ingest payload accepted by the HTTP API.
type Envelope struct {
	Candidates []Candidate `json:"candidates"`
}

// Validate checks the required fields. It returns an error wrapping
// ErrMalformed describing the first problem found.
func (c *Candidate) Validate() error {
	if c.SourceID == "" {
		return fmt.Errorf("%w: missing source_id", ErrMalformed)
	}
	if c.ExternalRef == "" {
		return fmt.Errorf("%w: missing external_ref", ErrMalformed)
	}
	if c.ObservedAt.IsZero() {
		return fmt.Errorf("%w: missing observed_at", ErrMalformed)
	}
	if c.LossUSD != nil && *c.LossUSD < 0 {
		return fmt.Errorf("%w: negative loss_amount_usd", ErrMalformed)
	}
	return nil
}
