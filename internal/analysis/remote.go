package analysis

import (
	"context"
	"encoding/base64"
	stderrors "errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/adverant/nexus/notes-ocr-service/internal/clients"
	"github.com/adverant/nexus/notes-ocr-service/internal/errors"
)

// RemoteTimeouts bound a single remote attempt
type RemoteTimeouts struct {
	Text  time.Duration
	Image time.Duration
}

func (t RemoteTimeouts) forInput(in Input) time.Duration {
	if len(in.Image) > 0 && t.Image > 0 {
		return t.Image
	}
	if t.Text > 0 {
		return t.Text
	}
	return 30 * time.Second
}

// NotesAnalyzer is the subset of the K.A.N.A. client the provider needs
type NotesAnalyzer interface {
	AnalyzeNotes(ctx context.Context, req *clients.NotesAnalysisRequest) (*clients.NotesAnalysisResponse, error)
}

// KanaProvider is the remote tier backed by the K.A.N.A. service
type KanaProvider struct {
	client   NotesAnalyzer
	timeouts RemoteTimeouts
}

// NewKanaProvider creates the K.A.N.A. tier
func NewKanaProvider(client NotesAnalyzer, timeouts RemoteTimeouts) *KanaProvider {
	return &KanaProvider{client: client, timeouts: timeouts}
}

// Name returns the provider identifier
func (p *KanaProvider) Name() string { return "kana" }

// Tier returns the remote tier
func (p *KanaProvider) Tier() Tier { return TierRemote }

// Attempt makes exactly one request within the tier timeout
func (p *KanaProvider) Attempt(ctx context.Context, in Input) (Analysis, error) {
	timeout := p.timeouts.forInput(in)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := &clients.NotesAnalysisRequest{
		RequestID:     in.RequestID,
		Prompt:        BuildPrompt(in),
		Message:       in.Text,
		Context:       clients.KanaContext,
		ImageFilename: in.Filename,
		StudentID:     in.StudentID,
		Equations:     in.Equations,
	}
	if len(in.Image) > 0 {
		req.ImageData = base64.StdEncoding.EncodeToString(in.Image)
		req.ImageAnalysis = true
	}

	resp, err := p.client.AnalyzeNotes(ctx, req)
	if err != nil {
		if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = errors.NewNetworkTimeoutError("K.A.N.A.", timeout, err)
		}
		return Analysis{}, errors.NewTierFailedError(in.RequestID, p.Name(), err)
	}

	result, err := fromRemote(resp.Analysis)
	if err != nil {
		return Analysis{}, errors.NewTierFailedError(in.RequestID, p.Name(), err)
	}
	result.Provider = p.Name()
	return result, nil
}

// BuildPrompt renders the analysis request shared by remote providers
func BuildPrompt(in Input) string {
	var b strings.Builder
	b.WriteString("Analyze these student notes and provide a JSON object with the keys ")
	b.WriteString("subject, difficulty (beginner|intermediate|advanced), concepts (list), ")
	b.WriteString("understanding (integer 0-100), gaps (list) and suggestions (list).\n\n")
	fmt.Fprintf(&b, "Student notes (OCR confidence %.2f):\n%s\n", in.Confidence, in.Text)
	if len(in.Equations) > 0 {
		fmt.Fprintf(&b, "\nDetected equations: %s\n", strings.Join(in.Equations, "; "))
	}
	if len(in.Diagrams) > 0 {
		fmt.Fprintf(&b, "Detected diagrams: %s\n", strings.Join(in.Diagrams, ", "))
	}
	if in.HandwritingQuality != "" {
		fmt.Fprintf(&b, "Handwriting quality: %s\n", in.HandwritingQuality)
	}
	return b.String()
}

// fromRemote validates a remote body. Understanding given as a 0-1 fraction is scaled to 0-100.
func fromRemote(r clients.NotesAnalysis) (Analysis, error) {
	subject := strings.TrimSpace(r.Subject)
	if subject == "" {
		return Analysis{}, fmt.Errorf("remote analysis has no subject")
	}

	difficulty := strings.ToLower(strings.TrimSpace(r.Difficulty))
	if !IsValidDifficulty(difficulty) {
		return Analysis{}, fmt.Errorf("remote analysis has invalid difficulty %q", r.Difficulty)
	}

	u := r.Understanding
	if math.IsNaN(u) || math.IsInf(u, 0) {
		return Analysis{}, fmt.Errorf("remote analysis has invalid understanding")
	}
	if u > 0 && u <= 1 && u != math.Trunc(u) {
		u *= 100
	}

	return Analysis{
		Subject:       subject,
		Difficulty:    difficulty,
		Concepts:      r.Concepts,
		Understanding: ClampUnderstanding(int(math.Round(u))),
		Gaps:          r.Gaps,
		Suggestions:   r.Suggestions,
		SourceTier:    TierRemote,
	}, nil
}
