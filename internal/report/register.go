// Package report renders a revision's findings: the textual register the
// ledger parses back, annotated page images and an HTML view.
package report

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/dgallion1/drawcheck/internal/cluster"
	"github.com/dgallion1/drawcheck/internal/occurrence"
	"github.com/dgallion1/drawcheck/internal/rules"
)

// Register is the textual report of one revision.
type Register struct {
	FileName string
	Findings []cluster.Finding
	Info     []rules.Violation
	Global   []rules.Violation
}

// Text renders the register. The result always ends with exactly one newline.
func (r *Register) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Файл: %s\n", r.FileName)
	fmt.Fprintf(&b, "Всего нарушений (кластеров): %d\n\n", len(r.Findings))

	for _, f := range r.Findings {
		fmt.Fprintf(&b, "[#%03d] страница %d\n", f.Number, f.Page)
		b.WriteString("  Пункты: " + strings.Join(f.Rules, ",") + "\n")
		b.WriteString("  Описания:\n")
		for _, it := range f.Items {
			fmt.Fprintf(&b, "   - (%s) %s\n", it.Rule, oneLine(it.Note))
		}
		b.WriteString("\n")
	}
	for _, v := range r.Info {
		fmt.Fprintf(&b, "[инфо] %s: %s\n", v.RuleID, oneLine(v.Note))
	}
	for _, v := range r.Global {
		fmt.Fprintf(&b, "[GLOBAL] %s: %s\n", v.RuleID, oneLine(v.Note))
	}
	return strings.TrimRight(b.String(), " \t\r\n") + "\n"
}

// WriteTo writes Text to w.
func (r *Register) WriteTo(w io.Writer) (int64, error) {
	n, err := io.WriteString(w, r.Text())
	return int64(n), err
}

// Violations counts boxed findings plus failing global checks.
func (r *Register) Violations() int {
	return len(r.Findings) + len(r.Global)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Parsed is what the ledger needs from a register.
type Parsed struct {
	Occurrences occurrence.Map `json:"occurrences"`
	RuleCounts  map[string]int `json:"rule_counts"`
	// Total counts item lines plus global failures.
	Total int `json:"total"`
	// Order lists occurrence ids as first seen in the register.
	Order []string `json:"order"`
	// Numbers maps each occurrence to the finding ordinals it appears under.
	Numbers map[string][]int `json:"numbers,omitempty"`
}

var (
	reHeader = regexp.MustCompile(`^\[#(\d+)\]`)
	reItem   = regexp.MustCompile(`^-\s*\(([^)]+)\)\s*(.*)$`)
	reGlobal = regexp.MustCompile(`^\[GLOBAL\]\s*([^:]+):\s*(.*)$`)
)

// ParseText reads a register back. Item lines yield occurrence ids from their
// rule and note; a global failure yields the rule-only id. Item lines without
// a "(rule)" prefix are attributed to every rule listed in the block header.
func ParseText(text string) *Parsed {
	p := &Parsed{
		Occurrences: occurrence.Map{},
		RuleCounts:  map[string]int{},
		Numbers:     map[string][]int{},
	}
	add := func(rule, desc string, num int) {
		id := occurrence.ID(rule, desc)
		if _, seen := p.Occurrences[id]; !seen {
			p.Order = append(p.Order, id)
		}
		p.Occurrences.Add(rule, desc)
		p.RuleCounts[rule]++
		p.Total++
		if num > 0 {
			p.Numbers[id] = append(p.Numbers[id], num)
		}
	}

	var num int
	var points []string
	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if m := reHeader.FindStringSubmatch(line); m != nil {
			num, _ = strconv.Atoi(m[1])
			points = nil
			continue
		}
		if rest, ok := strings.CutPrefix(line, "Пункты:"); ok {
			points = points[:0]
			for _, r := range strings.Split(rest, ",") {
				if r = strings.TrimSpace(r); r != "" {
					points = append(points, r)
				}
			}
			continue
		}
		if m := reGlobal.FindStringSubmatch(line); m != nil {
			add(strings.TrimSpace(m[1]), "", 0)
			continue
		}
		if !strings.HasPrefix(line, "-") {
			continue
		}
		if m := reItem.FindStringSubmatch(line); m != nil {
			add(strings.TrimSpace(m[1]), m[2], num)
			continue
		}
		desc := strings.TrimSpace(strings.TrimPrefix(line, "-"))
		for _, r := range points {
			add(r, desc, num)
		}
	}
	return p
}

// FilterByRule keeps the findings that carry rule, with only that rule's
// items. Ordinals are left untouched so per-rule views match the register.
func FilterByRule(findings []cluster.Finding, rule string) []cluster.Finding {
	var out []cluster.Finding
	for _, f := range findings {
		if !f.HasRule(rule) {
			continue
		}
		g := f
		g.Rules = []string{rule}
		g.Items = nil
		for _, it := range f.Items {
			if it.Rule == rule {
				g.Items = append(g.Items, it)
			}
		}
		out = append(out, g)
	}
	return out
}

// RulesOf lists every rule present in findings, sorted.
func RulesOf(findings []cluster.Finding) []string {
	seen := map[string]bool{}
	var out []string
	for _, f := range findings {
		for _, r := range f.Rules {
			if !seen[r] {
				seen[r] = true
				out = append(out, r)
			}
		}
	}
	sort.Strings(out)
	return out
}
