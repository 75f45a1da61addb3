// Package occurrence gives every reported defect a stable identity so the
// same defect can be recognised across revisions of a drawing.
package occurrence

import (
	"crypto/sha1"
	"encoding/hex"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// IDLength is the number of hex digits kept from the digest.
const IDLength = 12

var reSpace = regexp.MustCompile(`\s+`)

// Normalize puts a description in canonical form: NFC, trimmed, single spaces.
func Normalize(desc string) string {
	return strings.TrimSpace(reSpace.ReplaceAllString(norm.NFC.String(desc), " "))
}

// ID is a pure function of the rule and the normalized description.
// ID(rule, "") is the identity of a rule-level finding with no description.
func ID(rule, desc string) string {
	sum := sha1.Sum([]byte(strings.TrimSpace(rule) + "|" + Normalize(desc)))
	return hex.EncodeToString(sum[:])[:IDLength]
}

var reTag = regexp.MustCompile(`\[occ:([0-9a-fA-F]{6,64})\]`)

// Tag renders the marker embedded in decision comments.
func Tag(id string) string { return "[occ:" + id + "]" }

// Extract returns the first occurrence id tagged in a comment, lower-cased.
func Extract(comment string) (string, bool) {
	m := reTag.FindStringSubmatch(comment)
	if m == nil {
		return "", false
	}
	return strings.ToLower(m[1]), true
}

// Entry is what a register says about one occurrence.
type Entry struct {
	Rule        string `json:"rule"`
	Description string `json:"description"`
}

// Map is occurrence id to entry for one revision.
type Map map[string]Entry

// Add records an occurrence and returns its id.
func (m Map) Add(rule, desc string) string {
	id := ID(rule, desc)
	if _, ok := m[id]; !ok {
		m[id] = Entry{Rule: rule, Description: Normalize(desc)}
	}
	return id
}

// Rule returns the rule of an occurrence.
func (m Map) Rule(id string) (string, bool) {
	e, ok := m[strings.ToLower(id)]
	return e.Rule, ok
}

// RuleCounts counts occurrences per rule.
func (m Map) RuleCounts() map[string]int {
	out := map[string]int{}
	for _, e := range m {
		out[e.Rule]++
	}
	return out
}
