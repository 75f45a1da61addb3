// Package cluster merges raw boxed violations that point at the same spot of
// a page into numbered findings.
package cluster

import (
	"sort"
	"strconv"
	"strings"

	"github.com/dgallion1/drawcheck/internal/config"
	"github.com/dgallion1/drawcheck/internal/geom"
	"github.com/dgallion1/drawcheck/internal/occurrence"
	"github.com/dgallion1/drawcheck/internal/rules"
)

// Options control the greedy growth and the in-cluster collapsing.
type Options struct {
	IoUThreshold    float64
	EdgeDistance    float64
	NeverMerge      [][2]string
	SameObjectRules []string
	PriorityRule    string
}

// DefaultOptions matches the embedded catalog.
func DefaultOptions() Options {
	return Options{
		IoUThreshold:    0.30,
		EdgeDistance:    8,
		NeverMerge:      [][2]string{{rules.RuleLetters, rules.RuleBases}},
		SameObjectRules: []string{rules.RuleTiltRaw, rules.RuleTiltPage},
		PriorityRule:    rules.RuleTiltRaw,
	}
}

// OptionsFrom converts the catalog section.
func OptionsFrom(c config.ClusterConfig) Options {
	return Options{
		IoUThreshold:    c.IoUThreshold,
		EdgeDistance:    c.EdgeDistance,
		NeverMerge:      c.NeverMerge,
		SameObjectRules: c.SameObjectRules,
		PriorityRule:    c.PriorityRule,
	}
}

// Item is one distinct description inside a finding.
type Item struct {
	Rule         string       `json:"rule"`
	Note         string       `json:"note"`
	OccurrenceID string       `json:"occurrence_id"`
	BBox         geom.BBox    `json:"bbox"`
	Detail       rules.Detail `json:"-"`
}

// Finding is one numbered, boxed defect location.
type Finding struct {
	Number int       `json:"number"`
	Page   int       `json:"page"`
	BBox   geom.BBox `json:"bbox"`
	Rules  []string  `json:"rules"`
	Items  []Item    `json:"items"`
}

// Label is the text drawn next to the box.
func (f Finding) Label() string {
	return "No " + strconv.Itoa(f.Number) + ": n." + strings.Join(f.Rules, ", ")
}

// HasRule reports whether any item belongs to rule.
func (f Finding) HasRule(rule string) bool {
	for _, r := range f.Rules {
		if r == rule {
			return true
		}
	}
	return false
}

// Split separates boxed violations from info notices and global judge results.
func Split(vs []rules.Violation) (boxed, info, global []rules.Violation) {
	for _, v := range vs {
		switch {
		case v.Kind == rules.KindGlobal:
			global = append(global, v)
		case v.Kind == rules.KindBoxed && v.BBox != nil:
			boxed = append(boxed, v)
		default:
			info = append(info, v)
		}
	}
	return boxed, info, global
}

// Cluster groups the boxed violations in vs. Other kinds are ignored.
// Findings are numbered from 1 in (page, top, left) order.
func Cluster(vs []rules.Violation, opts Options) []Finding {
	byPage := map[int][]rules.Violation{}
	var pages []int
	for _, v := range vs {
		if v.Kind != rules.KindBoxed || v.BBox == nil {
			continue
		}
		if _, ok := byPage[v.Page]; !ok {
			pages = append(pages, v.Page)
		}
		byPage[v.Page] = append(byPage[v.Page], v)
	}
	sort.Ints(pages)

	var out []Finding
	for _, p := range pages {
		out = append(out, clusterPage(p, byPage[p], opts)...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Page != b.Page {
			return a.Page < b.Page
		}
		if a.BBox.Y0 != b.BBox.Y0 {
			return a.BBox.Y0 < b.BBox.Y0
		}
		return a.BBox.X0 < b.BBox.X0
	})
	for i := range out {
		out[i].Number = i + 1
	}
	return out
}

func clusterPage(page int, items []rules.Violation, opts Options) []Finding {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i].BBox, items[j].BBox
		if a.Y0 != b.Y0 {
			return a.Y0 < b.Y0
		}
		return a.X0 < b.X0
	})

	used := make([]bool, len(items))
	var out []Finding
	for i := range items {
		if used[i] {
			continue
		}
		used[i] = true
		members := []int{i}
		union := *items[i].BBox
		for changed := true; changed; {
			changed = false
			for j := range items {
				if used[j] || conflicts(items, members, j, opts.NeverMerge) {
					continue
				}
				b := *items[j].BBox
				if geom.IoU(union, b) >= opts.IoUThreshold || geom.EdgeDistance(union, b) < opts.EdgeDistance {
					used[j] = true
					members = append(members, j)
					union = union.Union(b)
					changed = true
				}
			}
		}
		out = append(out, buildFinding(page, union, items, members, opts))
	}
	return out
}

func conflicts(items []rules.Violation, members []int, cand int, never [][2]string) bool {
	r := items[cand].RuleID
	for _, m := range members {
		o := items[m].RuleID
		for _, pair := range never {
			if (r == pair[0] && o == pair[1]) || (r == pair[1] && o == pair[0]) {
				return true
			}
		}
	}
	return false
}

func buildFinding(page int, union geom.BBox, items []rules.Violation, members []int, opts Options) Finding {
	sameObject := map[string]bool{}
	for _, r := range opts.SameObjectRules {
		sameObject[r] = true
	}

	var plain []Item
	groups := map[string][]Item{}
	var groupOrder []string
	for _, m := range members {
		v := items[m]
		it := Item{Rule: v.RuleID, Note: v.Note, BBox: v.BBox.Round(2), Detail: v.Detail}
		if key, ok := objectKey(v, sameObject); ok {
			if _, seen := groups[key]; !seen {
				groupOrder = append(groupOrder, key)
			}
			groups[key] = append(groups[key], it)
			continue
		}
		plain = append(plain, it)
	}
	for _, key := range groupOrder {
		plain = append(plain, preferred(groups[key], opts.PriorityRule))
	}

	seen := map[[2]string]bool{}
	var uniq []Item
	ruleSet := map[string]bool{}
	for _, it := range plain {
		k := [2]string{it.Rule, it.Note}
		if seen[k] {
			continue
		}
		seen[k] = true
		it.OccurrenceID = occurrence.ID(it.Rule, it.Note)
		uniq = append(uniq, it)
		ruleSet[it.Rule] = true
	}
	sort.SliceStable(uniq, func(i, j int) bool {
		if uniq[i].Rule != uniq[j].Rule {
			return uniq[i].Rule < uniq[j].Rule
		}
		return uniq[i].Note < uniq[j].Note
	})

	ruleList := make([]string, 0, len(ruleSet))
	for r := range ruleSet {
		ruleList = append(ruleList, r)
	}
	sort.Strings(ruleList)
	return Finding{Page: page, BBox: union.RoundOut(2), Rules: ruleList, Items: uniq}
}

// objectKey groups tilt hits on the same dimension text.
func objectKey(v rules.Violation, sameObject map[string]bool) (string, bool) {
	if !sameObject[v.RuleID] {
		return "", false
	}
	d, ok := v.Detail.(rules.TiltDetail)
	if !ok {
		return "", false
	}
	t := strings.Join(strings.Fields(d.Text), " ")
	if t == "" {
		return "", false
	}
	return t, true
}

func preferred(group []Item, priority string) Item {
	for _, it := range group {
		if it.Rule == priority {
			return it
		}
	}
	return group[0]
}
