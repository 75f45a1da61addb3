package rules

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStem(t *testing.T) {
	assert.Equal(t, "ведомост", Stem("ведомость"))
	assert.Equal(t, "эксплуатацион", Stem("эксплуатационных"))
	assert.Equal(t, "документ", Stem("документов"))
	assert.Equal(t, "вид", Stem("вид"))
}

func TestNamePatternMatchesInflections(t *testing.T) {
	re := regexp.MustCompile("(?i)" + NamePattern("Ведомость эксплуатационных документов"))
	assert.True(t, re.MatchString(NormText("ВЕДОМОСТЬ ЭКСПЛУАТАЦИОННЫХ ДОКУМЕНТОВ")))
	assert.True(t, re.MatchString(NormText("ведомости  эксплуатационного документа")))
	assert.False(t, re.MatchString(NormText("Ведомость покупных изделий")))
}

func TestNamePatternHyphen(t *testing.T) {
	re := regexp.MustCompile("(?i)" + NamePattern("Электро-монтажный"))
	assert.True(t, re.MatchString("электро-монтажного"))
	assert.True(t, re.MatchString("электромонтажный"))
	assert.True(t, re.MatchString("электро монтажный"))
}

func TestMatchDocType(t *testing.T) {
	cat := testCatalog(t)
	name, ok := cat.MatchDocType("Сборочного чертежа")
	require.True(t, ok)
	assert.Equal(t, "Сборочный чертеж", name)

	_, ok = cat.MatchDocType("Втулка")
	assert.False(t, ok)
}

func TestNameForSuffix(t *testing.T) {
	cat := testCatalog(t)
	n, ok := cat.NameForSuffix("СБ")
	require.True(t, ok)
	assert.Equal(t, "Сборочный чертеж", n)

	n, ok = cat.NameForSuffix("Э3")
	require.True(t, ok)
	assert.Equal(t, "Схема электрическая", n)

	_, ok = cat.NameForSuffix("ZZ")
	assert.False(t, ok)
}

func TestCodeSuffix(t *testing.T) {
	assert.Equal(t, "СБ", CodeSuffix("АБВГ.123456.001СБ"))
	assert.Equal(t, "ВО", CodeSuffix("ABCD.123456.001BO"))
	assert.Equal(t, "", CodeSuffix("АБВГ.123456.001"))
}
