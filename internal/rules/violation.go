package rules

import (
	"encoding/json"

	"github.com/dgallion1/drawcheck/internal/geom"
)

// Kind says how a violation is reported.
type Kind string

const (
	// KindBoxed has a bbox and is drawn on the page.
	KindBoxed Kind = "boxed"
	// KindInfo is an unboxed cross-reference mismatch or a "not evaluated" notice.
	KindInfo Kind = "info"
	// KindGlobal is a whole-drawing pass/fail from the vision judge.
	KindGlobal Kind = "global"
)

// Violation is one raw rule hit.
type Violation struct {
	Page   int        `json:"page"`
	BBox   *geom.BBox `json:"bbox,omitempty"`
	RuleID string     `json:"rule"`
	Note   string     `json:"note"`
	Kind   Kind       `json:"kind"`
	Detail Detail     `json:"-"`
}

// MarshalJSON adds the typed detail under "meta".
func (v Violation) MarshalJSON() ([]byte, error) {
	type plain Violation
	return json.Marshal(struct {
		plain
		Meta json.RawMessage `json:"meta,omitempty"`
	}{plain(v), EncodeDetail(v.Detail)})
}

func boxed(page int, b geom.BBox, rule, note string, d Detail) Violation {
	bb := b
	return Violation{Page: page, BBox: &bb, RuleID: rule, Note: note, Kind: KindBoxed, Detail: d}
}

func info(page int, rule, note string, d Detail) Violation {
	return Violation{Page: page, RuleID: rule, Note: note, Kind: KindInfo, Detail: d}
}

// Detail is the per-rule payload of a violation.
type Detail interface {
	DetailKind() string
}

type TitleBlockDetail struct {
	Code     string `json:"code"`
	Suffix   string `json:"suffix,omitempty"`
	Expected string `json:"expected,omitempty"`
	DocType  string `json:"doc_type,omitempty"`
}

type TableDetail struct {
	Check    string  `json:"check"` // placement, alignment or width
	Column   int     `json:"column"`
	WidthMM  float64 `json:"width_mm,omitempty"`
	Overlap  float64 `json:"overlap,omitempty"`
	TargetMM float64 `json:"target_mm,omitempty"`
}

type LetterDetail struct {
	Letter  string   `json:"letter,omitempty"`
	Missing []string `json:"missing,omitempty"`
}

type StarDetail struct {
	Token   string   `json:"token,omitempty"`
	Missing []string `json:"missing,omitempty"`
}

type TiltDetail struct {
	Text      string  `json:"text"`
	Angle     float64 `json:"angle_deg"`
	Tilt      float64 `json:"tilt_deg"`
	Threshold float64 `json:"threshold_deg"`
}

type BaseDetail struct {
	Letter string `json:"letter"`
	Frame  string `json:"frame"`
}

type JudgeDetail struct {
	Comment   string `json:"comment"`
	Evaluated bool   `json:"evaluated"`
}

func (TitleBlockDetail) DetailKind() string { return "title_block" }
func (TableDetail) DetailKind() string      { return "table" }
func (LetterDetail) DetailKind() string     { return "letter" }
func (StarDetail) DetailKind() string       { return "star" }
func (TiltDetail) DetailKind() string       { return "tilt" }
func (BaseDetail) DetailKind() string       { return "base" }
func (JudgeDetail) DetailKind() string      { return "judge" }

// EncodeDetail renders a detail as {"kind": ..., fields...}; nil for a nil detail.
func EncodeDetail(d Detail) json.RawMessage {
	if d == nil {
		return nil
	}
	body, err := json.Marshal(d)
	if err != nil {
		return nil
	}
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil
	}
	fields["kind"] = d.DetailKind()
	out, err := json.Marshal(fields)
	if err != nil {
		return nil
	}
	return out
}
