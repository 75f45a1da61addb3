package ledger

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateClaims(t *testing.T) {
	ref := revision("r1", 1, o1, o2).Occurrences

	got, err := ValidateClaims([]string{strings.ToUpper(o1.id()), " " + o2.id(), o1.id(), ""}, ref)
	require.NoError(t, err)
	assert.Equal(t, []string{o1.id(), o2.id()}, got)

	_, err = ValidateClaims([]string{o1.id(), "deadbeef0000"}, ref)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownOccurrence))
	assert.Contains(t, err.Error(), "deadbeef0000")
}

func TestLatestAnalysed(t *testing.T) {
	pending := Revision{ID: "r3", Version: 3}
	revs := []Revision{revision("r1", 1, o1), revision("r2", 2), pending}

	got, ok := LatestAnalysed(revs, "")
	require.True(t, ok)
	assert.Equal(t, "r2", got.ID)

	got, ok = LatestAnalysed(revs, "r2")
	require.True(t, ok)
	assert.Equal(t, "r1", got.ID)

	_, ok = LatestAnalysed([]Revision{pending}, "")
	assert.False(t, ok)
}

func TestErrorList(t *testing.T) {
	revs := []Revision{
		revision("r1", 1, o1, o3),
		revision("r2", 2, o3, o2),
		{ID: "r3", Version: 3},
	}
	list := ErrorList(revs)
	require.Len(t, list, 3)

	assert.Equal(t, o1.id(), list[0].OccurrenceID)
	assert.Equal(t, 1, list[0].FirstVersion)
	assert.False(t, list[0].Present)

	assert.Equal(t, o3.id(), list[1].OccurrenceID)
	assert.True(t, list[1].Present)

	assert.Equal(t, o2.id(), list[2].OccurrenceID)
	assert.Equal(t, 2, list[2].FirstVersion)
	assert.Equal(t, "1.1.5", list[2].Rule)
}

func TestRuleCounts(t *testing.T) {
	revs := []Revision{revision("r1", 1, o3, o4, o2)}
	assert.Equal(t, []RuleCount{{"1.1.3", 2}, {"1.1.5", 1}}, RuleCounts(revs))
	assert.Nil(t, RuleCounts(nil))
}
