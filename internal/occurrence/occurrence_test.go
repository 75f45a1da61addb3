package occurrence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDIsPureAndWhitespaceInsensitive(t *testing.T) {
	a := ID("1.1.3", "Буква «Б» присутствует на поле")
	b := ID("1.1.3", "  Буква  «Б»\tприсутствует на поле ")
	assert.Equal(t, a, b)
	assert.Len(t, a, IDLength)
	assert.NotEqual(t, a, ID("1.1.4", "Буква «Б» присутствует на поле"))
	assert.NotEqual(t, a, ID("1.1.3", "Буква «В» присутствует на поле"))
}

func TestIDNormalizesUnicode(t *testing.T) {
	// "й" as one code point and as и + combining breve
	composed := ID("1.1.1", "тип документа \u0439")
	decomposed := ID("1.1.1", "тип документа \u0438\u0306")
	assert.Equal(t, composed, decomposed)
}

func TestRuleOnlyIdentity(t *testing.T) {
	assert.Equal(t, ID("1.1.9", ""), ID("1.1.9", "   "))
}

func TestTagRoundTrip(t *testing.T) {
	id := ID("1.1.5", "Наклон 45° > порога 30° — «Ø20»")
	got, ok := Extract(Tag(id) + " Регресс: заявлено исправление")
	require.True(t, ok)
	assert.Equal(t, id, got)

	got, ok = Extract("see [occ:ABCDEF012345]")
	require.True(t, ok)
	assert.Equal(t, "abcdef012345", got)

	_, ok = Extract("no tag [occ:xyz]")
	assert.False(t, ok)
}

func TestMap(t *testing.T) {
	m := Map{}
	id1 := m.Add("1.1.3", "a")
	m.Add("1.1.3", "b")
	m.Add("1.1.5", "c")
	assert.Equal(t, id1, m.Add("1.1.3", " a "))
	assert.Len(t, m, 3)
	assert.Equal(t, map[string]int{"1.1.3": 2, "1.1.5": 1}, m.RuleCounts())

	r, ok := m.Rule(id1)
	require.True(t, ok)
	assert.Equal(t, "1.1.3", r)
}
