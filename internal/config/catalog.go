package config

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultCatalogYAML []byte

// Catalog is the rule catalog file: thresholds, dictionaries and judge prompts.
type Catalog struct {
	TitleBlock TitleBlockConfig `yaml:"title_block"`
	Table      TableConfig      `yaml:"table"`
	Letters    LettersConfig    `yaml:"letters"`
	Tilt       TiltConfig       `yaml:"tilt"`
	Bases      BasesConfig      `yaml:"bases"`
	Cluster    ClusterConfig    `yaml:"cluster"`
	Semantic   []SemanticRule   `yaml:"semantic"`
}

// TitleBlockConfig drives the code/type consistency check.
type TitleBlockConfig struct {
	DocCodeRegex      string            `yaml:"doc_code_regex"`
	NameMinFontSize   float64           `yaml:"name_min_font_size"`
	NameYWindow       float64           `yaml:"name_y_window"`
	CodeSuffixMap     map[string]string `yaml:"code_suffix_map"`
	CodeWildcards     []CodeWildcard    `yaml:"code_wildcards"`
	ExtraDocTypeNames []string          `yaml:"extra_doc_type_names"`
	RegexOverrides    map[string]string `yaml:"regex_overrides"`
}

// CodeWildcard maps every suffix starting with Prefix to Name.
type CodeWildcard struct {
	Prefix string `yaml:"prefix"`
	Name   string `yaml:"name"`
}

// TableConfig holds the requirement-table geometry, in millimetres unless noted.
type TableConfig struct {
	TargetWidthMM     float64  `yaml:"target_width_mm"`
	WidthToleranceMM  float64  `yaml:"width_tolerance_mm"`
	ColumnToleranceMM float64  `yaml:"column_tolerance_mm"`
	AboveAllowanceMM  float64  `yaml:"above_allowance_mm"`
	MinOverlapRatio   float64  `yaml:"min_overlap_ratio"`
	BottomStripPt     float64  `yaml:"bottom_strip_pt"`
	TitleKeywords     []string `yaml:"title_keywords"`
	MinKeywordHits    int      `yaml:"min_keyword_hits"`
}

type LettersConfig struct {
	CalloutDistancePt float64 `yaml:"callout_distance_pt"`
}

type TiltConfig struct {
	ThresholdDeg float64 `yaml:"threshold_deg"`
}

type BasesConfig struct {
	RightWindowMM    float64 `yaml:"right_window_mm"`
	VerticalWindowMM float64 `yaml:"vertical_window_mm"`
	RowTolerancePt   float64 `yaml:"row_tolerance_pt"`
}

// ClusterConfig tunes how raw hits are merged into findings.
type ClusterConfig struct {
	IoUThreshold    float64     `yaml:"iou_threshold"`
	EdgeDistance    float64     `yaml:"edge_distance"`
	NeverMerge      [][2]string `yaml:"never_merge"`
	SameObjectRules []string    `yaml:"same_object_rules"`
	PriorityRule    string      `yaml:"priority_rule"`
}

// SemanticRule is a rule judged by the vision model.
type SemanticRule struct {
	Rule           string `yaml:"rule"`
	Prompt         string `yaml:"prompt"`
	ReferenceImage string `yaml:"reference_image"`
}

// DefaultCatalog parses the embedded catalog.
func DefaultCatalog() (*Catalog, error) {
	return parseCatalog(defaultCatalogYAML)
}

// LoadCatalog reads a catalog file. Keys missing from the file keep their
// embedded defaults.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	cat, err := DefaultCatalog()
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cat); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	if err := cat.Validate(); err != nil {
		return nil, fmt.Errorf("invalid catalog %s: %w", path, err)
	}
	return cat, nil
}

func parseCatalog(data []byte) (*Catalog, error) {
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := cat.Validate(); err != nil {
		return nil, err
	}
	return &cat, nil
}

// Validate checks that thresholds are usable.
func (c *Catalog) Validate() error {
	if c.TitleBlock.DocCodeRegex == "" {
		return fmt.Errorf("title_block.doc_code_regex is required")
	}
	if c.Table.TargetWidthMM <= 0 {
		return fmt.Errorf("table.target_width_mm must be positive")
	}
	if c.Table.WidthToleranceMM < 0 {
		return fmt.Errorf("table.width_tolerance_mm must not be negative")
	}
	if c.Table.ColumnToleranceMM <= 0 {
		return fmt.Errorf("table.column_tolerance_mm must be positive")
	}
	if c.Table.MinOverlapRatio < 0 || c.Table.MinOverlapRatio > 1 {
		return fmt.Errorf("table.min_overlap_ratio must be within [0,1]")
	}
	if c.Tilt.ThresholdDeg <= 0 || c.Tilt.ThresholdDeg >= 90 {
		return fmt.Errorf("tilt.threshold_deg must be within (0,90)")
	}
	if c.Cluster.IoUThreshold <= 0 || c.Cluster.IoUThreshold > 1 {
		return fmt.Errorf("cluster.iou_threshold must be within (0,1]")
	}
	for _, w := range c.TitleBlock.CodeWildcards {
		if w.Prefix == "" || w.Name == "" {
			return fmt.Errorf("title_block.code_wildcards entries need prefix and name")
		}
	}
	for i, s := range c.Semantic {
		if s.Rule == "" || s.Prompt == "" {
			return fmt.Errorf("semantic[%d]: rule and prompt are required", i)
		}
	}
	return nil
}
