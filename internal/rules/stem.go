package rules

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// Russian inflection endings, stripped longest first.
var ruSuffixes = func() []string {
	s := []string{
		"иями", "ями", "ами", "иях", "ях", "ием", "ьем", "ем", "ия", "ие", "ий", "ью", "ье", "ья",
		"ого", "его", "ому", "ему", "ыми", "ими", "ой", "ый", "ое", "ее", "ых", "их", "ую", "юю",
		"ая", "яя", "ые", "ам", "ям", "ах", "ою", "ею", "ов", "ев",
		"а", "я", "о", "е", "ы", "и", "у", "ю", "ь",
	}
	sort.SliceStable(s, func(i, j int) bool {
		return utf8.RuneCountInString(s[i]) > utf8.RuneCountInString(s[j])
	})
	return s
}()

// RE2 has ASCII-only \w and \b, so word characters are spelled out.
const (
	wordChars = `[\p{L}\p{N}_]`
	wordStart = `(?:^|[^\p{L}\p{N}_])`
	wordEnd   = `(?:$|[^\p{L}\p{N}_])`
)

var reWordSplit = regexp.MustCompile(`[^\p{L}\p{N}_\-]+`)

// Stem strips one inflectional ending from a lower-case token longer than
// three letters, then reduces a trailing "нн" to "н".
func Stem(token string) string {
	if utf8.RuneCountInString(token) > 3 {
		for _, suf := range ruSuffixes {
			if strings.HasSuffix(token, suf) {
				token = strings.TrimSuffix(token, suf)
				break
			}
		}
	}
	if strings.HasSuffix(token, "нн") {
		token = strings.TrimSuffix(token, "н")
	}
	return token
}

// NamePattern builds a regex matching inflected forms of a document type name:
// "Ведомость эксплуатационных документов" matches "ведомост\w* эксплуатацион\w* документ\w*".
// Hyphenated words may be written with a hyphen, a space or nothing between parts.
func NamePattern(name string) string {
	var parts []string
	for _, w := range reWordSplit.Split(NormText(name), -1) {
		if w == "" {
			continue
		}
		if strings.Contains(w, "-") {
			var sub []string
			for _, seg := range strings.Split(w, "-") {
				if st := Stem(seg); st != "" {
					sub = append(sub, regexp.QuoteMeta(st)+wordChars+"*")
				}
			}
			if len(sub) > 0 {
				parts = append(parts, strings.Join(sub, "[- ]?"))
			}
			continue
		}
		if st := Stem(w); st != "" {
			parts = append(parts, regexp.QuoteMeta(st)+wordChars+"*")
		}
	}
	if len(parts) == 0 {
		return wordStart + wordChars + "+" + wordEnd
	}
	return wordStart + strings.Join(parts, `\s+`) + wordEnd
}
