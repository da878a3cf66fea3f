package analysis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/adverant/nexus/notes-ocr-service/internal/clients"
)

func TestKanaProviderAcceptsRemoteAnalysis(t *testing.T) {
	var got clients.NotesAnalysisRequest
	var gotRequestID string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRequestID = r.Header.Get("X-Request-ID")
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"analysis":{"subject":"Mathematics","difficulty":"Intermediate","concepts":["Linear Equations","Linear Equations"],"understanding":0.85,"gaps":["Checking answers"],"suggestions":["Substitute back"]}}`))
	}))
	defer server.Close()

	p := NewKanaProvider(clients.NewKanaClient(server.URL, nil), RemoteTimeouts{Text: 5 * time.Second, Image: 5 * time.Second})
	result, err := p.Attempt(context.Background(), Input{
		RequestID: "req-7",
		Text:      "2x + 5 = 15",
		Equations: []string{"2x + 5 = 15"},
		Filename:  "work.png",
		Image:     []byte("\x89PNG fake"),
	})
	if err != nil {
		t.Fatalf("Attempt() error = %v", err)
	}

	if result.Understanding != 85 {
		t.Errorf("Understanding = %d, want fraction scaled to 85", result.Understanding)
	}
	if result.Difficulty != DifficultyIntermediate || result.SourceTier != TierRemote || result.Provider != "kana" {
		t.Errorf("unexpected result %+v", result)
	}
	if !got.ImageAnalysis || got.ImageData == "" {
		t.Errorf("image should be sent when present, got analysis=%v data=%d bytes", got.ImageAnalysis, len(got.ImageData))
	}
	if gotRequestID != "req-7" {
		t.Errorf("X-Request-ID = %q, want the pipeline request id", gotRequestID)
	}
	if !strings.Contains(got.Prompt, "2x + 5 = 15") {
		t.Errorf("prompt does not carry the text: %q", got.Prompt)
	}
}

func TestKanaProviderTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	p := NewKanaProvider(clients.NewKanaClient(server.URL, nil), RemoteTimeouts{Text: 100 * time.Millisecond, Image: time.Second})

	start := time.Now()
	if _, err := p.Attempt(context.Background(), Input{Text: "some text"}); err == nil {
		t.Fatal("expected timeout failure")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("attempt took %v, timeout not enforced", elapsed)
	}
}

func TestFromRemote(t *testing.T) {
	testCases := []struct {
		name    string
		in      clients.NotesAnalysis
		want    int
		wantErr bool
	}{
		{name: "integer score", in: clients.NotesAnalysis{Subject: "Math", Difficulty: "beginner", Understanding: 72}, want: 72},
		{name: "fraction score", in: clients.NotesAnalysis{Subject: "Math", Difficulty: "beginner", Understanding: 0.5}, want: 50},
		{name: "one is one", in: clients.NotesAnalysis{Subject: "Math", Difficulty: "beginner", Understanding: 1}, want: 1},
		{name: "clamped", in: clients.NotesAnalysis{Subject: "Math", Difficulty: "advanced", Understanding: 250}, want: 100},
		{name: "missing subject", in: clients.NotesAnalysis{Difficulty: "beginner"}, wantErr: true},
		{name: "unknown difficulty", in: clients.NotesAnalysis{Subject: "Math", Difficulty: "hard"}, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := fromRemote(tc.in)
			if (err != nil) != tc.wantErr {
				t.Fatalf("fromRemote() error = %v, wantErr %v", err, tc.wantErr)
			}
			if !tc.wantErr && got.Understanding != tc.want {
				t.Errorf("Understanding = %d, want %d", got.Understanding, tc.want)
			}
		})
	}
}

func TestStripCodeFences(t *testing.T) {
	testCases := map[string]string{
		"{\"a\":1}":               "{\"a\":1}",
		"```json\n{\"a\":1}\n```": "{\"a\":1}",
		"```\n{\"a\":1}```":       "{\"a\":1}",
	}
	for in, want := range testCases {
		if got := stripCodeFences(in); got != want {
			t.Errorf("stripCodeFences(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGeminiProviderWithoutKeyFails(t *testing.T) {
	p := NewGeminiProvider("", "gemini-1.5-flash", RemoteTimeouts{})
	if _, err := p.Attempt(context.Background(), Input{Text: "some text"}); err == nil {
		t.Fatal("expected failure without an API key")
	}
	if p.Tier() != TierRemote {
		t.Errorf("Tier() = %s, want remote", p.Tier())
	}
}
