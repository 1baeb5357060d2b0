// Package incident provides the business boundary for chainwatch's exploit
// record pipeline. It defines the Service (dedup, merge, event dispatch),
// the fuzzy matcher, the Store interface (persistence), and domain models.
package incident
