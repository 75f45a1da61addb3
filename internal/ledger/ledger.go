// Package ledger derives automatic decisions and the revision verdict from a
// document's revision history and the developer "fixed" claims made on it.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgallion1/drawcheck/internal/occurrence"
)

var (
	ErrNoRevisions       = errors.New("document has no revisions")
	ErrUnknownOccurrence = errors.New("unknown occurrence id")
	ErrUnknownRevision   = errors.New("unknown revision")
)

type Status string

const (
	StatusFixed    Status = "fixed"
	StatusRejected Status = "rejected"
)

type Role string

const (
	RoleDeveloper Role = "developer"
	RoleReviewer  Role = "reviewer"
	RoleSystem    Role = "system"
)

// SystemAuthor marks every automatic decision.
const SystemAuthor = "system"

// Verdict is the terminal state of a revision.
type Verdict string

const (
	VerdictProcessing Verdict = "processing"
	VerdictApproved   Verdict = "approved"
	VerdictRejected   Verdict = "rejected"
	VerdictRemoved    Verdict = "removed"
)

func (v Verdict) Valid() bool {
	switch v {
	case VerdictProcessing, VerdictApproved, VerdictRejected, VerdictRemoved:
		return true
	}
	return false
}

// Kind tells automatic decisions apart.
type Kind string

const (
	KindRegression     Kind = "regression"
	KindNewlyDetected  Kind = "newly_detected"
	KindDrawingChanged Kind = "drawing_changed"
)

// Decision is one append-only ledger entry.
type Decision struct {
	ID           string    `json:"id"`
	DocumentID   string    `json:"document_id"`
	RevisionID   string    `json:"revision_id"`
	Rule         string    `json:"rule,omitempty"`
	OccurrenceID string    `json:"occurrence_id,omitempty"`
	Status       Status    `json:"status"`
	Author       string    `json:"author"`
	Role         Role      `json:"author_role"`
	Comment      string    `json:"comment,omitempty"`
	Automatic    bool      `json:"automatic"`
	Kind         Kind      `json:"kind,omitempty"`
	Key          string    `json:"key,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Occurrence returns the decision's occurrence id, falling back to an
// [occ:<id>] tag in the comment.
func (d Decision) Occurrence() string {
	if d.OccurrenceID != "" {
		return strings.ToLower(d.OccurrenceID)
	}
	id, _ := occurrence.Extract(d.Comment)
	return id
}

// IsClaim reports whether d is a developer "fixed" claim.
func (d Decision) IsClaim() bool {
	return d.Status == StatusFixed && d.Role == RoleDeveloper && !d.Automatic
}

func occKey(id string) string    { return "occ:" + id }
func ruleKey(rule string) string { return "rule:" + rule }

// AutomaticKey is the idempotency key of an automatic decision: its stored
// key, or one derived from its occurrence or rule.
func AutomaticKey(d Decision) string {
	if d.Key != "" {
		return d.Key
	}
	if id := d.Occurrence(); id != "" {
		return occKey(id)
	}
	if d.Rule != "" {
		return ruleKey(d.Rule)
	}
	return ""
}

// Revision is what the ledger knows about one analysed revision.
type Revision struct {
	ID      string `json:"id"`
	Version int    `json:"version"`
	// Analysed is false while the register is missing; such a revision
	// cannot restore rules for claims made on it.
	Analysed    bool           `json:"analysed"`
	Occurrences occurrence.Map `json:"occurrences,omitempty"`
	// Order lists occurrence ids in register order.
	Order      []string       `json:"order,omitempty"`
	RuleCounts map[string]int `json:"rule_counts,omitempty"`
	Total      int            `json:"total"`
	// Reviewer is the verdict set by a human, if any.
	Reviewer Verdict `json:"reviewer_verdict,omitempty"`
}

// Snapshot is the input of one ledger run. The last revision is the current one.
type Snapshot struct {
	DocumentID string
	Revisions  []Revision
	Decisions  []Decision
}

// Current returns the newest revision.
func (s Snapshot) Current() (Revision, bool) {
	if len(s.Revisions) == 0 {
		return Revision{}, false
	}
	return s.Revisions[len(s.Revisions)-1], true
}

// Through returns the snapshot as it stands for revision revID: revisions
// after it and decisions recorded on them are dropped, so revID becomes the
// current revision.
func (s Snapshot) Through(revID string) (Snapshot, error) {
	for i, r := range s.Revisions {
		if r.ID != revID {
			continue
		}
		out := Snapshot{DocumentID: s.DocumentID, Revisions: s.Revisions[:i+1]}
		later := map[string]bool{}
		for _, r := range s.Revisions[i+1:] {
			later[r.ID] = true
		}
		for _, d := range s.Decisions {
			if !later[d.RevisionID] {
				out.Decisions = append(out.Decisions, d)
			}
		}
		return out, nil
	}
	return Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownRevision, revID)
}

// Outcome is the result of one ledger run.
type Outcome struct {
	RevisionID     string     `json:"revision_id"`
	Decisions      []Decision `json:"decisions"`
	Verdict        Verdict    `json:"verdict"`
	VerdictComment string     `json:"verdict_comment"`
	Regressions    int        `json:"regressions"`
	NewlyDetected  int        `json:"newly_detected"`
}

const (
	commentRegressionOcc  = "Регресс: ранее отмеченная как исправленная ошибка снова обнаружена"
	commentRegressionRule = "Регресс: пункт ранее отмечался как исправленный, но нарушения снова обнаружены"
	commentNewlyDetected  = "Найдено новое нарушение в текущем отчёте"
	commentApproved       = "Все замечания устранены"
	commentRejected       = "Остались нарушения"
)

// Evaluate runs the transition rules against the current revision and returns
// the automatic decisions still missing from the ledger plus the verdict.
// Evaluate is pure: running it again after the returned decisions have been
// appended yields no further decisions and the same verdict.
func Evaluate(s Snapshot, policy Policy) (Outcome, error) {
	cur, ok := s.Current()
	if !ok {
		return Outcome{}, ErrNoRevisions
	}
	out := Outcome{RevisionID: cur.ID}

	keys := map[string]bool{}
	for _, d := range s.Decisions {
		if d.Automatic && d.RevisionID == cur.ID && d.Status == StatusRejected {
			if k := AutomaticKey(d); k != "" {
				keys[k] = true
			}
		}
	}
	emit := func(d Decision) {
		d.DocumentID = s.DocumentID
		d.RevisionID = cur.ID
		d.Status = StatusRejected
		d.Author = SystemAuthor
		d.Role = RoleSystem
		d.Automatic = true
		keys[d.Key] = true
		out.Decisions = append(out.Decisions, d)
	}

	claims := claimsOf(s.Decisions)
	resolver := newResolver(s.Revisions)
	fixedOcc := map[string]bool{}
	fixedRule := map[string]bool{}

	for _, c := range claims {
		occ := c.Occurrence()
		rule := resolver.rule(c)
		if occ != "" {
			fixedOcc[occ] = true
		}
		if rule != "" {
			fixedRule[rule] = true
		}

		if occ != "" {
			if e, present := cur.Occurrences[occ]; present {
				if k := occKey(occ); !keys[k] {
					emit(Decision{
						Rule:         e.Rule,
						OccurrenceID: occ,
						Comment:      occurrence.Tag(occ) + " " + commentRegressionOcc,
						Kind:         KindRegression,
						Key:          k,
					})
					out.Regressions++
				}
				continue
			}
			if !policy.fallsBack() {
				continue
			}
		}

		if rule == "" || cur.RuleCounts[rule] == 0 {
			continue
		}
		if k := ruleKey(rule); !keys[k] {
			now := firstOfRule(cur, rule)
			comment := commentRegressionRule
			if now != "" {
				comment = occurrence.Tag(now) + " " + comment
			}
			emit(Decision{
				Rule:         rule,
				OccurrenceID: now,
				Comment:      comment,
				Kind:         KindRegression,
				Key:          k,
			})
			out.Regressions++
		}
	}

	if len(s.Revisions) > 1 {
		for _, id := range orderedIDs(cur) {
			e := cur.Occurrences[id]
			if keys[occKey(id)] || keys[ruleKey(e.Rule)] {
				continue
			}
			if fixedOcc[id] || fixedRule[e.Rule] {
				continue
			}
			emit(Decision{
				Rule:         e.Rule,
				OccurrenceID: id,
				Comment:      occurrence.Tag(id) + " " + commentNewlyDetected,
				Kind:         KindNewlyDetected,
				Key:          occKey(id),
			})
			out.NewlyDetected++
		}
	}

	switch {
	case cur.Reviewer == VerdictRemoved:
		out.Verdict = VerdictRemoved
	case cur.Total == 0:
		out.Verdict, out.VerdictComment = VerdictApproved, commentApproved
	default:
		out.Verdict, out.VerdictComment = VerdictRejected, commentRejected
	}
	return out, nil
}

// claimsOf returns developer fixed claims, oldest first.
func claimsOf(ds []Decision) []Decision {
	var out []Decision
	for _, d := range ds {
		if d.IsClaim() {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// orderedIDs lists the revision's occurrences in register order, then any
// remaining ids sorted.
func orderedIDs(r Revision) []string {
	seen := make(map[string]bool, len(r.Occurrences))
	out := make([]string, 0, len(r.Occurrences))
	for _, id := range r.Order {
		if _, ok := r.Occurrences[id]; ok && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	var rest []string
	for id := range r.Occurrences {
		if !seen[id] {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

func firstOfRule(r Revision, rule string) string {
	for _, id := range orderedIDs(r) {
		if r.Occurrences[id].Rule == rule {
			return id
		}
	}
	return ""
}

// resolver restores the rule of a claim that only carries an occurrence id.
type resolver struct {
	revisions []Revision
	byID      map[string]int
}

func newResolver(revs []Revision) *resolver {
	r := &resolver{revisions: revs, byID: make(map[string]int, len(revs))}
	for i, rev := range revs {
		r.byID[rev.ID] = i
	}
	return r
}

// rule tries the claim's explicit rule, then the claim's own revision, then
// every other revision. An empty result means the claim is unrestorable.
func (r *resolver) rule(c Decision) string {
	if rule := strings.TrimSpace(c.Rule); rule != "" {
		return rule
	}
	occ := c.Occurrence()
	if occ == "" {
		return ""
	}
	own, hasOwn := r.byID[c.RevisionID]
	if hasOwn {
		if rule, ok := lookup(r.revisions[own], occ); ok {
			return rule
		}
	}
	for i, rev := range r.revisions {
		if hasOwn && i == own {
			continue
		}
		if rule, ok := lookup(rev, occ); ok {
			return rule
		}
	}
	return ""
}

func lookup(rev Revision, occ string) (string, bool) {
	if !rev.Analysed {
		return "", false
	}
	return rev.Occurrences.Rule(occ)
}
