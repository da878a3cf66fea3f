package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/adverant/nexus/notes-ocr-service/internal/clients"
	"github.com/adverant/nexus/notes-ocr-service/internal/errors"
)

const geminiSystemInstruction = `You assess photographed student work for a teacher.
Reply with one JSON object only: {"subject": string, "difficulty": "beginner"|"intermediate"|"advanced",
"concepts": [string], "understanding": integer 0-100, "gaps": [string], "suggestions": [string]}.`

// GeminiProvider is a remote tier backed by Google Gemini
type GeminiProvider struct {
	apiKey   string
	model    string
	timeouts RemoteTimeouts
}

// NewGeminiProvider creates the Gemini tier
func NewGeminiProvider(apiKey, model string, timeouts RemoteTimeouts) *GeminiProvider {
	return &GeminiProvider{apiKey: apiKey, model: strings.TrimSpace(model), timeouts: timeouts}
}

// Name returns the provider identifier
func (p *GeminiProvider) Name() string { return "gemini" }

// Tier returns the remote tier
func (p *GeminiProvider) Tier() Tier { return TierRemote }

// Attempt makes exactly one generation call within the tier timeout
func (p *GeminiProvider) Attempt(ctx context.Context, in Input) (Analysis, error) {
	if p.apiKey == "" {
		return Analysis{}, errors.NewTierFailedError(in.RequestID, p.Name(), fmt.Errorf("GOOGLE_API_KEY is empty"))
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeouts.forInput(in))
	defer cancel()

	cl, err := genai.NewClient(ctx, option.WithAPIKey(p.apiKey))
	if err != nil {
		return Analysis{}, errors.NewTierFailedError(in.RequestID, p.Name(), err)
	}
	defer cl.Close()

	m := cl.GenerativeModel(p.model)
	m.GenerationConfig = genai.GenerationConfig{
		Temperature:      ptrFloat32(0),
		ResponseMIMEType: "application/json",
	}
	m.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(geminiSystemInstruction)},
	}

	parts := []genai.Part{genai.Text(BuildPrompt(in))}
	if len(in.Image) > 0 {
		parts = append(parts, &genai.Blob{MIMEType: http.DetectContentType(in.Image), Data: in.Image})
	}

	resp, err := m.GenerateContent(ctx, parts...)
	if err != nil {
		return Analysis{}, errors.NewTierFailedError(in.RequestID, p.Name(), err)
	}

	txt := stripCodeFences(strings.TrimSpace(firstText(resp)))
	if txt == "" {
		return Analysis{}, errors.NewTierFailedError(in.RequestID, p.Name(), fmt.Errorf("empty response"))
	}

	var body clients.NotesAnalysis
	if err := json.Unmarshal([]byte(txt), &body); err != nil {
		return Analysis{}, errors.NewTierFailedError(in.RequestID, p.Name(), fmt.Errorf("bad JSON: %w", err))
	}

	result, err := fromRemote(body)
	if err != nil {
		return Analysis{}, errors.NewTierFailedError(in.RequestID, p.Name(), err)
	}
	result.Provider = p.Name()
	return result, nil
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, part := range c.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				return string(t)
			}
		}
	}
	return ""
}

// stripCodeFences removes a surrounding ```json ... ``` block
func stripCodeFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func ptrFloat32(v float32) *float32 { return &v }
