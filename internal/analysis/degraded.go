package analysis

import (
	"context"
)

// DegradedProvider returns a fixed minimal analysis and never fails
type DegradedProvider struct{}

// NewDegradedProvider creates the terminal provider
func NewDegradedProvider() *DegradedProvider {
	return &DegradedProvider{}
}

// Name returns the provider identifier
func (p *DegradedProvider) Name() string { return "degraded" }

// Tier returns the degraded tier
func (p *DegradedProvider) Tier() Tier { return TierDegraded }

// Attempt always succeeds
func (p *DegradedProvider) Attempt(ctx context.Context, in Input) (Analysis, error) {
	return Analysis{
		Subject:       "Unknown",
		Difficulty:    DifficultyBeginner,
		Concepts:      []string{},
		Understanding: 0,
		Gaps:          []string{"Unable to assess - insufficient readable text"},
		Suggestions:   []string{"Upload a clearer image with more visible text"},
		SourceTier:    TierDegraded,
		Provider:      p.Name(),
	}, nil
}
