package rules

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/dgallion1/drawcheck/internal/layout"
)

// Latin glyphs that look like Cyrillic letters on drawings.
var lat2cyr = map[rune]rune{
	'A': 'А', 'B': 'В', 'C': 'С', 'E': 'Е', 'H': 'Н', 'K': 'К', 'M': 'М',
	'O': 'О', 'P': 'Р', 'T': 'Т', 'X': 'Х', 'Y': 'У', 'I': 'И', 'R': 'Р', 'Z': 'З',
	'a': 'А', 'b': 'В', 'c': 'С', 'e': 'Е', 'h': 'Н', 'k': 'К', 'm': 'М',
	'o': 'О', 'p': 'Р', 't': 'Т', 'x': 'Х', 'y': 'У', 'i': 'И', 'r': 'Р', 'z': 'З',
}

// ToCyrUpper maps Latin look-alikes to Cyrillic and upper-cases the result.
func ToCyrUpper(s string) string {
	return strings.ToUpper(strings.Map(func(r rune) rune {
		if c, ok := lat2cyr[r]; ok {
			return c
		}
		return r
	}, s))
}

var reSpaces = regexp.MustCompile(`\s+`)

// NormText lower-cases, folds ё into е and collapses whitespace.
func NormText(s string) string {
	s = strings.ReplaceAll(strings.ToLower(s), "ё", "е")
	return strings.TrimSpace(reSpaces.ReplaceAllString(s, " "))
}

// CollapseSpaces trims and collapses whitespace without changing case.
func CollapseSpaces(s string) string {
	return strings.TrimSpace(reSpaces.ReplaceAllString(s, " "))
}

var (
	// requirement note: "1. ...", "2) ...", "3 ..."
	reRequirement = regexp.MustCompile(`^\s*\d+\s*[.)-]?\s+`)

	reSectionDesignation = regexp.MustCompile(`^[А-Яа-яЁёA-Za-z]\s*-?\s*[А-Яа-яЁёA-Za-z]$`)
	// section cut with an explicit dash: "А-А", "Сечение Б–Б"
	reSectionCut = regexp.MustCompile(`(?:^|[^\p{L}\p{N}])([А-Яа-яЁёA-Za-z])\s*[-–—]\s*([А-Яа-яЁёA-Za-z])(?:$|[^\p{L}\p{N}])`)
)

// IsRequirementLine reports whether text starts with an ordinal marker.
func IsRequirementLine(text string) bool {
	return reRequirement.MatchString(text)
}

// SplitNotes separates requirement notes from the rest of the drawing field.
func SplitNotes(spans []layout.Span) (notes, field []layout.Span) {
	for _, s := range spans {
		if IsRequirementLine(strings.TrimSpace(s.Text)) {
			notes = append(notes, s)
		} else {
			field = append(field, s)
		}
	}
	return notes, field
}

func trimPunct(s string) string {
	return strings.Trim(strings.TrimSpace(s), ".:,;()[]{}<>«»'\"")
}

// IsSectionDesignation matches a bare two-letter designation such as "А-А" or "Б Б".
func IsSectionDesignation(text string) bool {
	return reSectionDesignation.MatchString(trimPunct(text))
}

// SectionCutLetters returns the letters of "X-X" cuts found in text, upper-cased Cyrillic.
func SectionCutLetters(text string) []string {
	var out []string
	for _, m := range reSectionCut.FindAllStringSubmatch(text, -1) {
		a, b := ToCyrUpper(m[1]), ToCyrUpper(m[2])
		if a == b {
			out = append(out, a)
		}
	}
	return out
}

// HasSectionCut reports whether text contains an "X-X" cut.
func HasSectionCut(text string) bool {
	return len(SectionCutLetters(text)) > 0
}

func isCyrillicLetter(r rune) bool {
	return unicode.Is(unicode.Cyrillic, r) && unicode.IsLetter(r)
}

func hasDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
