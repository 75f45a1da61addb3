package report

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/drawcheck/internal/cluster"
	"github.com/dgallion1/drawcheck/internal/geom"
	"github.com/dgallion1/drawcheck/internal/occurrence"
	"github.com/dgallion1/drawcheck/internal/rules"
)

func item(rule, note string) cluster.Item {
	return cluster.Item{Rule: rule, Note: note, OccurrenceID: occurrence.ID(rule, note)}
}

func sampleRegister() *Register {
	return &Register{
		FileName: "АБВГ.123456.001СБ.pdf",
		Findings: []cluster.Finding{
			{
				Number: 1, Page: 1,
				BBox:  geom.Rect(100, 100, 150, 120),
				Rules: []string{"1.1.3", "1.1.5"},
				Items: []cluster.Item{
					item("1.1.3", "Буква «Б» на поле не упоминается в ТТ"),
					item("1.1.5", "Наклон размера «25» 45.0° > 30°"),
				},
			},
			{
				Number: 2, Page: 2,
				BBox:  geom.Rect(10, 10, 40, 30),
				Rules: []string{"1.1.4"},
				Items: []cluster.Item{item("1.1.4", "Знак «15**» не определён в ТТ")},
			},
		},
		Info: []rules.Violation{
			{Page: 1, RuleID: "1.1.3", Note: "в ТТ есть буквы «В», на поле не найдены", Kind: rules.KindInfo},
		},
		Global: []rules.Violation{
			{Page: 1, RuleID: "1.1.9", Note: "знак шероховатости   не по ГОСТ", Kind: rules.KindGlobal},
		},
	}
}

func TestRegisterText(t *testing.T) {
	want := `Файл: АБВГ.123456.001СБ.pdf
Всего нарушений (кластеров): 2

[#001] страница 1
  Пункты: 1.1.3,1.1.5
  Описания:
   - (1.1.3) Буква «Б» на поле не упоминается в ТТ
   - (1.1.5) Наклон размера «25» 45.0° > 30°

[#002] страница 2
  Пункты: 1.1.4
  Описания:
   - (1.1.4) Знак «15**» не определён в ТТ

[инфо] 1.1.3: в ТТ есть буквы «В», на поле не найдены
[GLOBAL] 1.1.9: знак шероховатости не по ГОСТ
`
	assert.Equal(t, want, sampleRegister().Text())
}

func TestRegisterTextEmpty(t *testing.T) {
	r := &Register{FileName: "x.pdf"}
	assert.Equal(t, "Файл: x.pdf\nВсего нарушений (кластеров): 0\n", r.Text())
	assert.Equal(t, 0, ParseText(r.Text()).Total)
}

func TestParseTextRoundTrip(t *testing.T) {
	reg := sampleRegister()
	p := ParseText(reg.Text())

	assert.Equal(t, 4, p.Total)
	assert.Equal(t, map[string]int{"1.1.3": 1, "1.1.4": 1, "1.1.5": 1, "1.1.9": 1}, p.RuleCounts)
	for _, f := range reg.Findings {
		for _, it := range f.Items {
			e, ok := p.Occurrences[it.OccurrenceID]
			require.True(t, ok, "missing %s", it.Note)
			assert.Equal(t, it.Rule, e.Rule)
			assert.Equal(t, []int{f.Number}, p.Numbers[it.OccurrenceID])
		}
	}

	global := occurrence.ID("1.1.9", "")
	rule, ok := p.Occurrences.Rule(global)
	require.True(t, ok)
	assert.Equal(t, "1.1.9", rule)
}

func TestParseTextIgnoresInfo(t *testing.T) {
	p := ParseText("Файл: a\n\n[инфо] 1.1.4: в ТТ есть ['**']\n")
	assert.Equal(t, 0, p.Total)
	assert.Empty(t, p.Occurrences)
}

func TestParseTextLegacyItems(t *testing.T) {
	text := strings.Join([]string{
		"[#001] страница 1",
		"  Пункты: 1.1.3,1.1.8",
		"  Описания:",
		"   - общий текст",
	}, "\n")
	p := ParseText(text)
	assert.Equal(t, 2, p.Total)
	assert.Contains(t, p.Occurrences, occurrence.ID("1.1.3", "общий текст"))
	assert.Contains(t, p.Occurrences, occurrence.ID("1.1.8", "общий текст"))
}

func TestParseTextStableAcrossReflow(t *testing.T) {
	a := ParseText("[#001] страница 1\n   - (1.1.1) Суффикс  'СБ'\n")
	b := ParseText("[#007] страница 3\n - (1.1.1) Суффикс 'СБ'\n")
	assert.Equal(t, keys(a.Occurrences), keys(b.Occurrences))
}

func keys(m occurrence.Map) []string {
	var out []string
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestFilterByRuleKeepsNumbers(t *testing.T) {
	reg := sampleRegister()
	got := FilterByRule(reg.Findings, "1.1.5")
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Number)
	assert.Equal(t, []string{"1.1.5"}, got[0].Rules)
	require.Len(t, got[0].Items, 1)
	assert.Equal(t, "1.1.5", got[0].Items[0].Rule)

	// the source slice is untouched
	assert.Len(t, reg.Findings[0].Items, 2)

	got = FilterByRule(reg.Findings, "1.1.4")
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].Number)

	assert.Empty(t, FilterByRule(reg.Findings, "1.1.2"))
}

func TestRulesOf(t *testing.T) {
	assert.Equal(t, []string{"1.1.3", "1.1.4", "1.1.5"}, RulesOf(sampleRegister().Findings))
}

func TestViolations(t *testing.T) {
	assert.Equal(t, 3, sampleRegister().Violations())
}
