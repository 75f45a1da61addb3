package ledger

import "fmt"

// Policy decides what happens when a claim's occurrence is gone from the
// current revision but its rule still has other hits.
type Policy int

const (
	// PolicyOccurrenceFirst judges occurrence-tagged claims only by their
	// occurrence. Rule-level claims still use the rule.
	PolicyOccurrenceFirst Policy = iota
	// PolicyRuleFallback also rejects an occurrence-tagged claim when its
	// rule has any hit in the current revision.
	PolicyRuleFallback
)

func (p Policy) fallsBack() bool { return p == PolicyRuleFallback }

func (p Policy) String() string {
	switch p {
	case PolicyRuleFallback:
		return "rule-fallback"
	default:
		return "occurrence-first"
	}
}

// ParsePolicy accepts the LEDGER_POLICY values.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "occurrence-first":
		return PolicyOccurrenceFirst, nil
	case "rule-fallback":
		return PolicyRuleFallback, nil
	}
	return PolicyOccurrenceFirst, fmt.Errorf("unknown ledger policy %q", s)
}
