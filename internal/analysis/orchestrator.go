package analysis

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/adverant/nexus/notes-ocr-service/internal/errors"
	"github.com/adverant/nexus/notes-ocr-service/internal/logging"
)

// Provider is one tier of the analysis fallback chain
type Provider interface {
	Name() string
	Tier() Tier
	// Attempt returns an analysis or a tier failure; it must not retry
	Attempt(ctx context.Context, in Input) (Analysis, error)
}

// Orchestrator tries providers in order and keeps the first success.
// It always returns an analysis: when every provider fails, or the text is
// too short to analyze, the degraded analysis is returned.
type Orchestrator struct {
	providers []Provider
	degraded  *DegradedProvider
	logger    *logging.Logger
}

// NewOrchestrator creates an orchestrator over the given chain
func NewOrchestrator(providers ...Provider) *Orchestrator {
	chain := make([]Provider, 0, len(providers))
	for _, p := range providers {
		if p != nil {
			chain = append(chain, p)
		}
	}
	return &Orchestrator{
		providers: chain,
		degraded:  NewDegradedProvider(),
		logger:    logging.NewLogger("AnalysisOrchestrator"),
	}
}

// Providers returns the provider names in attempt order
func (o *Orchestrator) Providers() []string {
	names := make([]string, 0, len(o.providers)+1)
	for _, p := range o.providers {
		names = append(names, p.Name())
	}
	return append(names, o.degraded.Name())
}

// Analyze runs the fallback chain. Text too short to analyze only reaches
// remote providers, and only when the image travels with it.
func (o *Orchestrator) Analyze(ctx context.Context, in Input) Analysis {
	if utf8.RuneCountInString(strings.TrimSpace(in.Text)) < MinTextLength {
		if len(in.Image) > 0 {
			if result, ok := o.run(ctx, in, TierRemote); ok {
				return result
			}
		}
		o.logger.Info("Text too short for analysis, using degraded result",
			"requestId", in.RequestID,
			"textLength", len(strings.TrimSpace(in.Text)),
			"imageSent", len(in.Image) > 0)
		return o.degradedFor(ctx, in)
	}

	if result, ok := o.run(ctx, in, ""); ok {
		return result
	}

	o.logger.Warn("All analysis tiers failed, using degraded result", "requestId", in.RequestID)
	return o.degradedFor(ctx, in)
}

// run tries providers in order, restricted to one tier when tier is set
func (o *Orchestrator) run(ctx context.Context, in Input, tier Tier) (Analysis, bool) {
	for _, p := range o.providers {
		if tier != "" && p.Tier() != tier {
			continue
		}

		result, err := o.attempt(ctx, p, in)
		if err != nil {
			o.tierFailed(p, in, err)
			continue
		}

		o.logger.Info("Analysis produced",
			"requestId", in.RequestID,
			"provider", result.Provider,
			"tier", result.SourceTier,
			"subject", result.Subject,
			"difficulty", result.Difficulty)
		return result, true
	}
	return Analysis{}, false
}

func (o *Orchestrator) tierFailed(p Provider, in Input, err error) {
	logger := o.logger.With("provider", p.Name(), "tier", p.Tier())
	var perr *errors.PipelineError
	if stderrors.As(err, &perr) {
		if perr.RequestID == "" {
			perr.WithRequestID(in.RequestID)
		}
		logger = logger.With(mapFields(perr.ToMap())...)
	} else {
		logger = logger.With("requestId", in.RequestID, "error", err)
	}
	logger.Warn("Analysis tier failed, falling through")
}

func mapFields(m map[string]interface{}) []interface{} {
	kv := make([]interface{}, 0, len(m)*2)
	for k, v := range m {
		kv = append(kv, k, v)
	}
	return kv
}

// attempt runs one provider, converting panics and malformed results into tier failures
func (o *Orchestrator) attempt(ctx context.Context, p Provider, in Input) (result Analysis, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.NewTierFailedError(in.RequestID, p.Name(), fmt.Errorf("provider panicked: %v", r))
		}
	}()

	raw, err := p.Attempt(ctx, in)
	if err != nil {
		return Analysis{}, err
	}

	result = raw.normalized()
	if result.Subject == "" {
		return Analysis{}, errors.NewTierFailedError(in.RequestID, p.Name(), fmt.Errorf("analysis has no subject"))
	}
	if !IsValidDifficulty(result.Difficulty) {
		return Analysis{}, errors.NewTierFailedError(in.RequestID, p.Name(), fmt.Errorf("invalid difficulty %q", raw.Difficulty))
	}

	result.SourceTier = p.Tier()
	if result.Provider == "" {
		result.Provider = p.Name()
	}
	return result, nil
}

func (o *Orchestrator) degradedFor(ctx context.Context, in Input) Analysis {
	result, _ := o.degraded.Attempt(ctx, in)
	return result
}
