package judge

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const maxCommentRunes = 300

var injectionPattern = regexp.MustCompile(
	`(?i)(ignore\s+(previous|all|above)|system\s*prompt|you\s+are\s+now|` +
		`act\s+as\s+|pretend\s+|forget\s+(everything|all)|override|` +
		`new\s+instructions)`,
)

// ParseVerdict decodes a model reply into a verdict.
func ParseVerdict(raw string) (*Verdict, error) {
	text := stripCodeBlock(raw)
	var v Verdict
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, fmt.Errorf("parse verdict json: %w (raw: %s)", err, truncate(text, 200))
	}
	if !ValidateVerdict(&v) {
		return nil, fmt.Errorf("invalid verdict (raw: %s)", truncate(text, 200))
	}
	return &v, nil
}

// ValidateVerdict cleans a verdict in place. A failing verdict must explain
// itself; comments that look like prompt injection are dropped.
func ValidateVerdict(v *Verdict) bool {
	if v == nil {
		return false
	}
	v.Comment = strings.Join(strings.Fields(v.Comment), " ")
	if injectionPattern.MatchString(v.Comment) {
		v.Comment = ""
	}
	if utf8.RuneCountInString(v.Comment) > maxCommentRunes {
		v.Comment = string([]rune(v.Comment)[:maxCommentRunes])
	}
	if !v.Pass && v.Comment == "" {
		v.Comment = "нарушение обнаружено без комментария"
	}
	return true
}

// ParseComparison decodes a model reply into a comparison.
func ParseComparison(raw string) (*Comparison, error) {
	text := stripCodeBlock(raw)
	var c Comparison
	if err := json.Unmarshal([]byte(text), &c); err != nil {
		return nil, fmt.Errorf("parse comparison json: %w (raw: %s)", err, truncate(text, 200))
	}
	if c.Confidence < 0 {
		c.Confidence = 0
	}
	if c.Confidence > 1 {
		c.Confidence = 1
	}
	return &c, nil
}
