package candidate

import (
	"errors"
	"testing"
	"time"
)

func validCandidate() Candidate {
	return Candidate{
		SourceID:    "rekt",
		ExternalRef: "https://rekt.news/foo",
		ObservedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestValidate_OK(t *testing.T) {
	t.Parallel()

	c := validCandidate()
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidate_Malformed(t *testing.T) {
	t.Parallel()

	neg := -1.0
	cases := []struct {
		name   string
		mutate func(*Candidate)
	}{
		{"missing source_id", func(c *Candidate) { c.SourceID = "" }},
		{"missing external_ref", func(c *Candidate) { c.ExternalRef = "" }},
		{"missing observed_at", func(c *Candidate) { c.ObservedAt = time.Time{} }},
		{"negative loss", func(c *Candidate) { c.LossUSD = &neg }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			c := validCandidate()
			tc.mutate(&c)
			err := c.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("error = %v, want ErrMalformed", err)
			}
		})
	}
}
