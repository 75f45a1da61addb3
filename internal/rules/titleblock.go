package rules

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

const RuleTitleBlock = "1.1.1"

var reCodeSuffix = regexp.MustCompile(`([A-Za-zА-Яа-яЁё]{1,5})$`)

// CodeSuffix returns the trailing letters of a document code, normalized to
// upper-case Cyrillic, or "" when the code ends in something else.
func CodeSuffix(code string) string {
	m := reCodeSuffix.FindStringSubmatch(strings.TrimSpace(code))
	if m == nil {
		return ""
	}
	return ToCyrUpper(m[1])
}

// TitleBlock checks that the document code suffix agrees with the document type caption.
type TitleBlock struct {
	cat *Catalog
}

func NewTitleBlock(cat *Catalog) *TitleBlock { return &TitleBlock{cat: cat} }

func (e *TitleBlock) ID() string { return RuleTitleBlock }

func (e *TitleBlock) Evaluate(_ context.Context, pc *PageContext) ([]Violation, error) {
	if pc.Page.Number != 1 {
		return nil, nil
	}
	t := pc.Facts.Title
	if t.Code == nil {
		return []Violation{info(1, RuleTitleBlock, "шифр документа не найден, проверка не выполнена", nil)}, nil
	}

	code := strings.TrimSpace(t.Code.Text)
	suffix := CodeSuffix(code)
	expected, known := e.cat.NameForSuffix(suffix)
	detail := TitleBlockDetail{Code: code, Suffix: suffix, Expected: expected, DocType: t.DocTypeName}

	switch {
	case !known:
		return []Violation{info(1, RuleTitleBlock,
			fmt.Sprintf("суффикс '%s' шифра «%s» не сопоставлен типу документа, проверка не выполнена", suffix, code), detail)}, nil
	case t.DocType == nil:
		return []Violation{info(1, RuleTitleBlock,
			fmt.Sprintf("тип документа не найден на листе (ожидался '%s'), проверка не выполнена", expected), detail)}, nil
	case NormText(expected) == NormText(t.DocTypeName):
		return nil, nil
	}
	note := fmt.Sprintf("Суффикс '%s' ⇒ '%s' ≠ типу документа '%s'", suffix, expected, t.DocTypeName)
	return []Violation{boxed(1, t.Code.BBox, RuleTitleBlock, note, detail)}, nil
}
