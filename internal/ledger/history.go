package ledger

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dgallion1/drawcheck/internal/occurrence"
)

// ValidateClaims lower-cases and deduplicates occurrence ids a developer
// wants to mark fixed, rejecting any the reference revision does not contain.
func ValidateClaims(ids []string, ref occurrence.Map) ([]string, error) {
	seen := map[string]bool{}
	var out, unknown []string
	for _, id := range ids {
		id = strings.ToLower(strings.TrimSpace(id))
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if _, ok := ref[id]; !ok {
			unknown = append(unknown, id)
			continue
		}
		out = append(out, id)
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOccurrence, strings.Join(unknown, ", "))
	}
	return out, nil
}

// LatestAnalysed returns the newest revision with a register, skipping skip.
func LatestAnalysed(revs []Revision, skip string) (Revision, bool) {
	for i := len(revs) - 1; i >= 0; i-- {
		if revs[i].Analysed && revs[i].ID != skip {
			return revs[i], true
		}
	}
	return Revision{}, false
}

// TrackedError is one entry of a document's frozen error list.
type TrackedError struct {
	OccurrenceID string `json:"occurrence_id"`
	Rule         string `json:"rule"`
	Description  string `json:"description"`
	FirstVersion int    `json:"first_version"`
	// Present is true when the newest analysed revision still contains it.
	Present bool `json:"present"`
}

// ErrorList freezes every occurrence of the first analysed revision and
// appends those first seen in later revisions.
func ErrorList(revs []Revision) []TrackedError {
	latest, _ := LatestAnalysed(revs, "")
	var out []TrackedError
	seen := map[string]bool{}
	for _, rev := range revs {
		if !rev.Analysed {
			continue
		}
		for _, id := range orderedIDs(rev) {
			if seen[id] {
				continue
			}
			seen[id] = true
			e := rev.Occurrences[id]
			_, present := latest.Occurrences[id]
			out = append(out, TrackedError{
				OccurrenceID: id,
				Rule:         e.Rule,
				Description:  e.Description,
				FirstVersion: rev.Version,
				Present:      present,
			})
		}
	}
	return out
}

// RuleCounts sums the current rule counts of the newest analysed revision,
// sorted by rule for display.
func RuleCounts(revs []Revision) []RuleCount {
	latest, ok := LatestAnalysed(revs, "")
	if !ok {
		return nil
	}
	out := make([]RuleCount, 0, len(latest.RuleCounts))
	for r, n := range latest.RuleCounts {
		out = append(out, RuleCount{Rule: r, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rule < out[j].Rule })
	return out
}

type RuleCount struct {
	Rule  string `json:"rule"`
	Count int    `json:"count"`
}
