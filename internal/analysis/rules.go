package analysis

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRulesYAML []byte

// Rules is the heuristic tier's keyword and rule table
type Rules struct {
	DefaultSubject         string         `yaml:"default_subject"`
	EquationSubject        string         `yaml:"equation_subject"`
	Subjects               []SubjectRule  `yaml:"subjects"`
	Difficulty             DifficultyRule `yaml:"difficulty"`
	GapConfidenceThreshold float64        `yaml:"gap_confidence_threshold"`
	ConceptRules           []ConceptRule  `yaml:"concept_rules"`
	Defaults               DefaultRule    `yaml:"defaults"`
}

// SubjectRule maps keywords to a subject
type SubjectRule struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

// DifficultyRule derives difficulty and understanding from signal density
type DifficultyRule struct {
	AdvancedEquationCount int                   `yaml:"advanced_equation_count"`
	AdvancedKeywords      []string              `yaml:"advanced_keywords"`
	IntermediateKeywords  []string              `yaml:"intermediate_keywords"`
	Levels                map[string]ScoreLevel `yaml:"levels"`
}

// ScoreLevel is understanding = baseline + int(confidence * weight)
type ScoreLevel struct {
	Baseline         int     `yaml:"baseline"`
	ConfidenceWeight float64 `yaml:"confidence_weight"`
}

// ConceptRule adds a concept, and below the confidence threshold a gap and suggestion
type ConceptRule struct {
	Subject       string   `yaml:"subject"`
	Keywords      []string `yaml:"keywords"`
	WhenEquations bool     `yaml:"when_equations"`
	Always        bool     `yaml:"always"`
	Concept       string   `yaml:"concept"`
	Gap           string   `yaml:"gap"`
	Suggestion    string   `yaml:"suggestion"`
}

// DefaultRule fills empty lists
type DefaultRule struct {
	Concepts    []string `yaml:"concepts"`
	Gaps        []string `yaml:"gaps"`
	Suggestions []string `yaml:"suggestions"`
}

// DefaultRules returns the embedded rule table
func DefaultRules() (*Rules, error) {
	return ParseRules(defaultRulesYAML)
}

// LoadRules reads a rule table from path, or the embedded table when path is empty
func LoadRules(path string) (*Rules, error) {
	if path == "" {
		return DefaultRules()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes and validates a YAML rule table
func ParseRules(data []byte) (*Rules, error) {
	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	rules.lowercase()
	return &rules, nil
}

// Validate checks the table is usable
func (r *Rules) Validate() error {
	if len(r.Subjects) == 0 {
		return fmt.Errorf("rules: at least one subject is required")
	}
	for i, s := range r.Subjects {
		if s.Name == "" || len(s.Keywords) == 0 {
			return fmt.Errorf("rules: subject %d needs a name and keywords", i)
		}
	}
	for _, level := range []string{DifficultyBeginner, DifficultyIntermediate, DifficultyAdvanced} {
		if _, ok := r.Difficulty.Levels[level]; !ok {
			return fmt.Errorf("rules: difficulty level %q is missing", level)
		}
	}
	if r.Difficulty.AdvancedEquationCount < 1 {
		return fmt.Errorf("rules: advanced_equation_count must be positive")
	}
	for i, c := range r.ConceptRules {
		if c.Subject == "" || c.Concept == "" {
			return fmt.Errorf("rules: concept rule %d needs a subject and concept", i)
		}
	}
	if r.DefaultSubject == "" {
		r.DefaultSubject = "General"
	}
	return nil
}

// lowercase folds keywords once so matching is a plain substring test
func (r *Rules) lowercase() {
	for i := range r.Subjects {
		r.Subjects[i].Keywords = lowerAll(r.Subjects[i].Keywords)
	}
	r.Difficulty.AdvancedKeywords = lowerAll(r.Difficulty.AdvancedKeywords)
	r.Difficulty.IntermediateKeywords = lowerAll(r.Difficulty.IntermediateKeywords)
	for i := range r.ConceptRules {
		r.ConceptRules[i].Keywords = lowerAll(r.ConceptRules[i].Keywords)
	}
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if k != "" && strings.Contains(text, k) {
			return true
		}
	}
	return false
}
