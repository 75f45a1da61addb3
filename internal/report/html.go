package report

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Markdown renders the register as a Markdown document.
func (r *Register) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", escapeMD(r.FileName))
	fmt.Fprintf(&b, "Всего нарушений (кластеров): **%d**\n\n", len(r.Findings))

	counts := map[string]int{}
	for _, f := range r.Findings {
		for _, it := range f.Items {
			counts[it.Rule]++
		}
	}
	if len(counts) > 0 {
		ids := make([]string, 0, len(counts))
		for id := range counts {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		b.WriteString("| Пункт | Замечаний |\n|---|---|\n")
		for _, id := range ids {
			fmt.Fprintf(&b, "| %s | %d |\n", escapeMD(id), counts[id])
		}
		b.WriteString("\n")
	}

	for _, f := range r.Findings {
		fmt.Fprintf(&b, "## №%03d, страница %d\n\n", f.Number, f.Page)
		fmt.Fprintf(&b, "Пункты: %s\n\n", escapeMD(strings.Join(f.Rules, ", ")))
		for _, it := range f.Items {
			fmt.Fprintf(&b, "- **%s** %s\n", escapeMD(it.Rule), escapeMD(oneLine(it.Note)))
		}
		b.WriteString("\n")
	}

	if len(r.Global) > 0 {
		b.WriteString("## Проверки по всему чертежу\n\n")
		for _, v := range r.Global {
			fmt.Fprintf(&b, "- **%s** %s\n", escapeMD(v.RuleID), escapeMD(oneLine(v.Note)))
		}
		b.WriteString("\n")
	}
	if len(r.Info) > 0 {
		b.WriteString("## Информация\n\n")
		for _, v := range r.Info {
			fmt.Fprintf(&b, "- %s: %s\n", escapeMD(v.RuleID), escapeMD(oneLine(v.Note)))
		}
	}
	return b.String()
}

// RenderHTML converts the register to an HTML fragment.
func RenderHTML(r *Register) ([]byte, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	var buf bytes.Buffer
	if err := md.Convert([]byte(r.Markdown()), &buf); err != nil {
		return nil, fmt.Errorf("render register html: %w", err)
	}
	return buf.Bytes(), nil
}

// escapeMD backslash-escapes ASCII punctuation so notes like "15**" stay literal.
func escapeMD(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r < 0x80 && strings.ContainsRune("\\`*_{}[]()<>#+-.!|~", r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
