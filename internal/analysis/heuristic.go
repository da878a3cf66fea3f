package analysis

import (
	"context"
	"fmt"
	"strings"

	"github.com/adverant/nexus/notes-ocr-service/internal/errors"
)

// HeuristicProvider classifies text with a fixed keyword and rule table
type HeuristicProvider struct {
	rules *Rules
}

// NewHeuristicProvider creates the local tier; nil rules selects the embedded table
func NewHeuristicProvider(rules *Rules) (*HeuristicProvider, error) {
	if rules == nil {
		var err error
		if rules, err = DefaultRules(); err != nil {
			return nil, err
		}
	}
	return &HeuristicProvider{rules: rules}, nil
}

// Name returns the provider identifier
func (p *HeuristicProvider) Name() string { return "heuristic" }

// Tier returns the heuristic tier
func (p *HeuristicProvider) Tier() Tier { return TierHeuristic }

// Attempt classifies subject, difficulty and concepts
func (p *HeuristicProvider) Attempt(ctx context.Context, in Input) (Analysis, error) {
	text := strings.ToLower(strings.TrimSpace(in.Text))
	if len([]rune(text)) < MinTextLength {
		return Analysis{}, errors.NewTierFailedError(in.RequestID, p.Name(), fmt.Errorf("text too short to classify"))
	}

	subject := p.subject(text, in.Equations)
	difficulty := p.difficulty(text, in.Equations)

	level := p.rules.Difficulty.Levels[difficulty]
	understanding := ClampUnderstanding(level.Baseline + int(clampConfidence(in.Confidence)*level.ConfidenceWeight))

	concepts, gaps, suggestions := p.applyConceptRules(subject, text, in)

	if len(concepts) == 0 {
		concepts = append(concepts, p.rules.Defaults.Concepts...)
	}
	if len(gaps) == 0 {
		gaps = append(gaps, p.rules.Defaults.Gaps...)
	}
	if len(suggestions) == 0 {
		suggestions = append(suggestions, p.rules.Defaults.Suggestions...)
	}

	return Analysis{
		Subject:       subject,
		Difficulty:    difficulty,
		Concepts:      concepts,
		Understanding: understanding,
		Gaps:          gaps,
		Suggestions:   suggestions,
		SourceTier:    TierHeuristic,
		Provider:      p.Name(),
	}, nil
}

func (p *HeuristicProvider) subject(text string, equations []string) string {
	for _, s := range p.rules.Subjects {
		if containsAny(text, s.Keywords) {
			return s.Name
		}
	}
	if len(equations) > 0 && p.rules.EquationSubject != "" {
		return p.rules.EquationSubject
	}
	return p.rules.DefaultSubject
}

func (p *HeuristicProvider) difficulty(text string, equations []string) string {
	d := p.rules.Difficulty
	switch {
	case len(equations) >= d.AdvancedEquationCount || containsAny(text, d.AdvancedKeywords):
		return DifficultyAdvanced
	case len(equations) > 0 || containsAny(text, d.IntermediateKeywords):
		return DifficultyIntermediate
	default:
		return DifficultyBeginner
	}
}

func (p *HeuristicProvider) applyConceptRules(subject, text string, in Input) (concepts, gaps, suggestions []string) {
	uncertain := in.Confidence < p.rules.GapConfidenceThreshold

	for _, rule := range p.rules.ConceptRules {
		if rule.Subject != subject {
			continue
		}
		fires := rule.Always ||
			containsAny(text, rule.Keywords) ||
			(rule.WhenEquations && len(in.Equations) > 0)
		if !fires {
			continue
		}

		concepts = append(concepts, rule.Concept)
		if uncertain {
			if rule.Gap != "" {
				gaps = append(gaps, rule.Gap)
			}
			if rule.Suggestion != "" {
				suggestions = append(suggestions, rule.Suggestion)
			}
		}
	}
	return concepts, gaps, suggestions
}

func clampConfidence(c float64) float64 {
	if c != c || c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
