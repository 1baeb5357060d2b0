package incident

import (
	"math"
	"strings"
	"unicode"

	"github.com/linnemanlabs/chainwatch/internal/candidate"
)

// NormalizeName lowercases a protocol name and strips punctuation and
// whitespace, so "Bar-Vault", "barvault" and "Bar Vault " compare equal.
func NormalizeName(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// amountsWithin reports whether two USD amounts agree within the given
// relative tolerance. The tolerance is applied against the larger amount so
// the comparison is symmetric.
func amountsWithin(a, b, tolerance float64) bool {
	if a == b {
		return true
	}
	larger := math.Max(math.Abs(a), math.Abs(b))
	if larger == 0 {
		return true
	}
	return math.Abs(a-b)/larger <= tolerance
}

// fuzzyMatch applies the three-signal comparison between a candidate and an
// existing incident. Every signal with data on both sides must agree, and at
// least two signals must be present and agreeing; sparse records never merge
// on a single coincidence.
func fuzzyMatch(inc *Incident, c *candidate.Candidate, tolerance float64) bool {
	agreeing := 0

	if inc.Chain != "" && c.Chain != "" {
		if !strings.EqualFold(inc.Chain, c.Chain) {
			return false
		}
		agreeing++
	}

	if inc.Protocol != "" && c.Protocol != "" {
		if NormalizeName(inc.Protocol) != NormalizeName(c.Protocol) {
			return false
		}
		agreeing++
	}

	if inc.LossUSD != nil && c.LossUSD != nil {
		if !amountsWithin(*inc.LossUSD, *c.LossUSD, tolerance) {
			return false
		}
		agreeing++
	}

	return agreeing >= 2
}

// signalCount counts the dedup signals present on a candidate, used by the
// insufficient-signal rejection rule.
func signalCount(c *candidate.Candidate) int {
	n := 0
	if c.Chain != "" {
		n++
	}
	if c.Protocol != "" {
		n++
	}
	if c.LossUSD != nil {
		n++
	}
	return n
}
