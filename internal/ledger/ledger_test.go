package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/drawcheck/internal/occurrence"
)

type occ struct{ rule, desc string }

var (
	o1 = occ{"1.1.1", "Суффикс 'СБ' ⇒ 'Сборочный чертеж' ≠ типу документа 'Чертеж общего вида'"}
	o2 = occ{"1.1.5", "Наклон размера «25» 45.0° > 30°"}
	o3 = occ{"1.1.3", "Буква «Б» на поле не упоминается в ТТ"}
	o4 = occ{"1.1.3", "Буква «В» на поле не упоминается в ТТ"}
)

func (o occ) id() string { return occurrence.ID(o.rule, o.desc) }

func revision(id string, version int, occs ...occ) Revision {
	r := Revision{ID: id, Version: version, Analysed: true, Occurrences: occurrence.Map{}, RuleCounts: map[string]int{}}
	for _, o := range occs {
		r.Order = append(r.Order, r.Occurrences.Add(o.rule, o.desc))
		r.RuleCounts[o.rule]++
		r.Total++
	}
	return r
}

var t0 = time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)

func claimOcc(rev string, o occ, minute int) Decision {
	return Decision{
		ID:           rev + "-claim-" + o.id(),
		RevisionID:   rev,
		OccurrenceID: o.id(),
		Status:       StatusFixed,
		Author:       "Иванов",
		Role:         RoleDeveloper,
		CreatedAt:    t0.Add(time.Duration(minute) * time.Minute),
	}
}

func claimRule(rev, rule string, minute int) Decision {
	return Decision{
		ID:         rev + "-claim-" + rule,
		RevisionID: rev,
		Rule:       rule,
		Status:     StatusFixed,
		Author:     "Иванов",
		Role:       RoleDeveloper,
		CreatedAt:  t0.Add(time.Duration(minute) * time.Minute),
	}
}

func TestEvaluateNoRevisions(t *testing.T) {
	_, err := Evaluate(Snapshot{}, PolicyOccurrenceFirst)
	assert.True(t, errors.Is(err, ErrNoRevisions))
}

func TestRegression(t *testing.T) {
	s := Snapshot{
		DocumentID: "doc",
		Revisions:  []Revision{revision("r1", 1, o1), revision("r2", 2, o1)},
		Decisions:  []Decision{claimOcc("r2", o1, 1)},
	}
	out, err := Evaluate(s, PolicyOccurrenceFirst)
	require.NoError(t, err)

	require.Len(t, out.Decisions, 1)
	d := out.Decisions[0]
	assert.Equal(t, "r2", d.RevisionID)
	assert.Equal(t, "doc", d.DocumentID)
	assert.Equal(t, o1.id(), d.OccurrenceID)
	assert.Equal(t, "1.1.1", d.Rule)
	assert.Equal(t, StatusRejected, d.Status)
	assert.Equal(t, KindRegression, d.Kind)
	assert.True(t, d.Automatic)
	assert.Equal(t, SystemAuthor, d.Author)
	assert.Equal(t, RoleSystem, d.Role)
	assert.Equal(t, "[occ:"+o1.id()+"] "+commentRegressionOcc, d.Comment)
	assert.Equal(t, VerdictRejected, out.Verdict)
	assert.Equal(t, 1, out.Regressions)
	assert.Zero(t, out.NewlyDetected)
}

func TestResolution(t *testing.T) {
	s := Snapshot{
		Revisions: []Revision{revision("r1", 1, o1), revision("r2", 2)},
		Decisions: []Decision{claimOcc("r2", o1, 1)},
	}
	out, err := Evaluate(s, PolicyOccurrenceFirst)
	require.NoError(t, err)
	assert.Empty(t, out.Decisions)
	assert.Equal(t, VerdictApproved, out.Verdict)
	assert.Equal(t, commentApproved, out.VerdictComment)
}

func TestNewlyDetected(t *testing.T) {
	s := Snapshot{
		Revisions: []Revision{revision("r1", 1, o1), revision("r2", 2, o2)},
		Decisions: []Decision{claimOcc("r2", o1, 1)},
	}
	out, err := Evaluate(s, PolicyOccurrenceFirst)
	require.NoError(t, err)
	require.Len(t, out.Decisions, 1)
	assert.Equal(t, KindNewlyDetected, out.Decisions[0].Kind)
	assert.Equal(t, o2.id(), out.Decisions[0].OccurrenceID)
	assert.Equal(t, "[occ:"+o2.id()+"] "+commentNewlyDetected, out.Decisions[0].Comment)
	assert.Equal(t, VerdictRejected, out.Verdict)
}

func TestFirstRevisionHasNoNewlyDetected(t *testing.T) {
	s := Snapshot{Revisions: []Revision{revision("r1", 1, o1, o2)}}
	out, err := Evaluate(s, PolicyOccurrenceFirst)
	require.NoError(t, err)
	assert.Empty(t, out.Decisions)
	assert.Equal(t, VerdictRejected, out.Verdict)
	assert.Equal(t, commentRejected, out.VerdictComment)
}

func TestIdempotent(t *testing.T) {
	s := Snapshot{
		Revisions: []Revision{revision("r1", 1, o1), revision("r2", 2, o1, o2)},
		Decisions: []Decision{claimOcc("r2", o1, 1)},
	}
	first, err := Evaluate(s, PolicyRuleFallback)
	require.NoError(t, err)
	require.Len(t, first.Decisions, 2)

	s.Decisions = append(s.Decisions, first.Decisions...)
	second, err := Evaluate(s, PolicyRuleFallback)
	require.NoError(t, err)
	assert.Empty(t, second.Decisions)
	assert.Equal(t, first.Verdict, second.Verdict)
}

func TestIdempotentAgainstLegacyTaggedDecision(t *testing.T) {
	legacy := Decision{
		RevisionID: "r2",
		Status:     StatusRejected,
		Automatic:  true,
		Comment:    "[occ:" + o1.id() + "] Регресс",
	}
	s := Snapshot{
		Revisions: []Revision{revision("r1", 1, o1), revision("r2", 2, o1)},
		Decisions: []Decision{claimOcc("r2", o1, 1), legacy},
	}
	out, err := Evaluate(s, PolicyOccurrenceFirst)
	require.NoError(t, err)
	assert.Empty(t, out.Decisions)
}

func TestHistoricalClaimRegresses(t *testing.T) {
	s := Snapshot{
		Revisions: []Revision{revision("r1", 1, o1), revision("r2", 2), revision("r3", 3, o1)},
		Decisions: []Decision{claimOcc("r2", o1, 1)},
	}
	out, err := Evaluate(s, PolicyOccurrenceFirst)
	require.NoError(t, err)
	require.Len(t, out.Decisions, 1)
	assert.Equal(t, "r3", out.Decisions[0].RevisionID)
	assert.Equal(t, KindRegression, out.Decisions[0].Kind)
}

func TestPolicyPrecedence(t *testing.T) {
	// o3 was claimed fixed and is gone, but o4 of the same rule is present.
	s := Snapshot{
		Revisions: []Revision{revision("r1", 1, o3), revision("r2", 2, o4)},
		Decisions: []Decision{claimOcc("r2", o3, 1)},
	}

	out, err := Evaluate(s, PolicyOccurrenceFirst)
	require.NoError(t, err)
	assert.Empty(t, out.Decisions, "resolved occurrence is not a regression and o4 is linked to the claim's rule")
	assert.Equal(t, VerdictRejected, out.Verdict)

	out, err = Evaluate(s, PolicyRuleFallback)
	require.NoError(t, err)
	require.Len(t, out.Decisions, 1)
	d := out.Decisions[0]
	assert.Equal(t, KindRegression, d.Kind)
	assert.Equal(t, "1.1.3", d.Rule)
	assert.Equal(t, "rule:1.1.3", d.Key)
	assert.Equal(t, o4.id(), d.OccurrenceID)
	assert.Equal(t, "[occ:"+o4.id()+"] "+commentRegressionRule, d.Comment)
}

func TestRuleLevelClaim(t *testing.T) {
	s := Snapshot{
		Revisions: []Revision{revision("r1", 1, o3), revision("r2", 2, o3, o4, o2)},
		Decisions: []Decision{claimRule("r2", "1.1.3", 1)},
	}
	for _, p := range []Policy{PolicyOccurrenceFirst, PolicyRuleFallback} {
		out, err := Evaluate(s, p)
		require.NoError(t, err)
		require.Len(t, out.Decisions, 2, p.String())
		assert.Equal(t, "rule:1.1.3", out.Decisions[0].Key)
		assert.Equal(t, o3.id(), out.Decisions[0].OccurrenceID, "tagged with the first current hit")
		assert.Equal(t, KindNewlyDetected, out.Decisions[1].Kind)
		assert.Equal(t, o2.id(), out.Decisions[1].OccurrenceID)
	}
}

func TestRuleRestoredFromOtherRevision(t *testing.T) {
	// the claim is recorded on r2 but its occurrence only exists in r1's register
	s := Snapshot{
		Revisions: []Revision{revision("r1", 1, o3), revision("r2", 2, o4)},
		Decisions: []Decision{claimOcc("r2", o3, 1)},
	}
	r := newResolver(s.Revisions)
	assert.Equal(t, "1.1.3", r.rule(s.Decisions[0]))
}

func TestUnrestorableClaim(t *testing.T) {
	gone := occ{"1.1.3", "исчезнувшее замечание"}
	r1 := revision("r1", 1, gone)
	r1.Analysed = false
	s := Snapshot{
		Revisions: []Revision{r1, revision("r2", 2, o4)},
		Decisions: []Decision{claimOcc("r2", gone, 1)},
	}
	assert.Equal(t, "", newResolver(s.Revisions).rule(s.Decisions[0]))

	out, err := Evaluate(s, PolicyRuleFallback)
	require.NoError(t, err)
	require.Len(t, out.Decisions, 1)
	assert.Equal(t, KindNewlyDetected, out.Decisions[0].Kind, "unrestorable claims do not link o4")
}

func TestClaimFromCommentTag(t *testing.T) {
	c := Decision{RevisionID: "r2", Status: StatusFixed, Role: RoleDeveloper, Comment: "исправил [occ:" + o1.id() + "]"}
	s := Snapshot{
		Revisions: []Revision{revision("r1", 1, o1), revision("r2", 2, o1)},
		Decisions: []Decision{c},
	}
	out, err := Evaluate(s, PolicyOccurrenceFirst)
	require.NoError(t, err)
	require.Len(t, out.Decisions, 1)
	assert.Equal(t, o1.id(), out.Decisions[0].OccurrenceID)
}

func TestReviewerClaimsIgnored(t *testing.T) {
	c := claimOcc("r2", o1, 1)
	c.Role = RoleReviewer
	s := Snapshot{
		Revisions: []Revision{revision("r1", 1, o1), revision("r2", 2, o1)},
		Decisions: []Decision{c},
	}
	out, err := Evaluate(s, PolicyOccurrenceFirst)
	require.NoError(t, err)
	require.Len(t, out.Decisions, 1)
	assert.Equal(t, KindNewlyDetected, out.Decisions[0].Kind)
}

func TestRemovedVerdictWins(t *testing.T) {
	r2 := revision("r2", 2, o1)
	r2.Reviewer = VerdictRemoved
	out, err := Evaluate(Snapshot{Revisions: []Revision{revision("r1", 1), r2}}, PolicyOccurrenceFirst)
	require.NoError(t, err)
	assert.Equal(t, VerdictRemoved, out.Verdict)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyOccurrenceFirst, p)

	p, err = ParsePolicy("rule-fallback")
	require.NoError(t, err)
	assert.Equal(t, PolicyRuleFallback, p)
	assert.Equal(t, "rule-fallback", p.String())

	_, err = ParsePolicy("strict")
	assert.Error(t, err)
}

func TestThroughEvaluatesEarlierRevision(t *testing.T) {
	s := Snapshot{
		DocumentID: "doc",
		Revisions: []Revision{
			revision("r1", 1, o1),
			revision("r2", 2, o1, o2),
			{ID: "r3", Version: 3},
		},
		Decisions: []Decision{claimOcc("r2", o1, 1), claimOcc("r3", o2, 2)},
	}

	at, err := s.Through("r2")
	require.NoError(t, err)
	require.Len(t, at.Revisions, 2)
	require.Len(t, at.Decisions, 1)
	assert.Equal(t, "doc", at.DocumentID)

	out, err := Evaluate(at, PolicyOccurrenceFirst)
	require.NoError(t, err)
	assert.Equal(t, "r2", out.RevisionID)
	assert.Equal(t, VerdictRejected, out.Verdict)
	assert.Equal(t, 1, out.Regressions)
	assert.Equal(t, 1, out.NewlyDetected)

	_, err = s.Through("missing")
	assert.True(t, errors.Is(err, ErrUnknownRevision))
}
