package rules

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/dgallion1/drawcheck/internal/config"
)

type typePattern struct {
	Name string
	Re   *regexp.Regexp
}

// Catalog is the compiled, read-only form of config.Catalog shared by all evaluators.
type Catalog struct {
	DocCode         *regexp.Regexp
	NameMinFontSize float64
	NameYWindow     float64

	suffixMap map[string]string
	wildcards []config.CodeWildcard
	types     []typePattern

	Table    config.TableConfig
	Letters  config.LettersConfig
	Tilt     config.TiltConfig
	Bases    config.BasesConfig
	Cluster  config.ClusterConfig
	Semantic []config.SemanticRule
}

// NewCatalog compiles every pattern once.
func NewCatalog(c *config.Catalog) (*Catalog, error) {
	tb := c.TitleBlock
	code, err := regexp.Compile("(?i)" + tb.DocCodeRegex)
	if err != nil {
		return nil, fmt.Errorf("compile doc_code_regex: %w", err)
	}
	cat := &Catalog{
		DocCode:         code,
		NameMinFontSize: tb.NameMinFontSize,
		NameYWindow:     tb.NameYWindow,
		suffixMap:       make(map[string]string, len(tb.CodeSuffixMap)),
		Table:           c.Table,
		Letters:         c.Letters,
		Tilt:            c.Tilt,
		Bases:           c.Bases,
		Cluster:         c.Cluster,
		Semantic:        c.Semantic,
	}
	names := map[string]bool{}
	for k, v := range tb.CodeSuffixMap {
		cat.suffixMap[ToCyrUpper(k)] = v
		names[v] = true
	}
	for _, w := range tb.CodeWildcards {
		cat.wildcards = append(cat.wildcards, config.CodeWildcard{Prefix: ToCyrUpper(w.Prefix), Name: w.Name})
		names[w.Name] = true
	}
	for _, n := range tb.ExtraDocTypeNames {
		names[n] = true
	}

	sorted := make([]string, 0, len(names))
	for n := range names {
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)
	for _, n := range sorted {
		rx := tb.RegexOverrides[n]
		if rx == "" {
			rx = NamePattern(n)
		}
		re, err := regexp.Compile("(?i)" + rx)
		if err != nil {
			return nil, fmt.Errorf("compile pattern for %q: %w", n, err)
		}
		cat.types = append(cat.types, typePattern{Name: n, Re: re})
	}
	return cat, nil
}

// DefaultRulesCatalog compiles the embedded catalog.
func DefaultRulesCatalog() (*Catalog, error) {
	c, err := config.DefaultCatalog()
	if err != nil {
		return nil, err
	}
	return NewCatalog(c)
}

// MatchDocType returns the first canonical type name whose pattern matches text.
func (c *Catalog) MatchDocType(text string) (string, bool) {
	s := NormText(text)
	if s == "" {
		return "", false
	}
	for _, tp := range c.types {
		if tp.Re.MatchString(s) {
			return tp.Name, true
		}
	}
	return "", false
}

// TypePattern returns the compiled pattern text for a canonical name.
func (c *Catalog) TypePattern(name string) (string, bool) {
	for _, tp := range c.types {
		if tp.Name == name {
			return tp.Re.String(), true
		}
	}
	return "", false
}

// NameForSuffix maps a normalized code suffix to its document type name:
// exact map hit first, then the first wildcard whose prefix matches.
func (c *Catalog) NameForSuffix(suffix string) (string, bool) {
	if suffix == "" {
		return "", false
	}
	if n, ok := c.suffixMap[suffix]; ok {
		return n, true
	}
	for _, w := range c.wildcards {
		if strings.HasPrefix(suffix, w.Prefix) {
			return w.Name, true
		}
	}
	return "", false
}

// SemanticRule looks up a judge-backed rule definition.
func (c *Catalog) SemanticRule(id string) (config.SemanticRule, bool) {
	for _, s := range c.Semantic {
		if s.Rule == id {
			return s, true
		}
	}
	return config.SemanticRule{}, false
}
