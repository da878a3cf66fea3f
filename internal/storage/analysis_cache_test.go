package storage

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/adverant/nexus/notes-ocr-service/internal/analysis"
)

func TestEntryRoundTrip(t *testing.T) {
	want := analysis.Analysis{
		Subject:       "Physics",
		Difficulty:    analysis.DifficultyIntermediate,
		Concepts:      []string{"Mechanics"},
		Understanding: 72,
		Gaps:          []string{"Formula application"},
		Suggestions:   []string{"Practice"},
		SourceTier:    analysis.TierRemote,
		Provider:      "kana",
	}

	raw, err := encodeEntry(want, time.Now())
	if err != nil {
		t.Fatalf("encodeEntry() error = %v", err)
	}
	got, err := decodeEntry(raw)
	if err != nil {
		t.Fatalf("decodeEntry() error = %v", err)
	}
	if !reflect.DeepEqual(*got, want) {
		t.Errorf("decodeEntry() = %+v, want %+v", *got, want)
	}
}

func TestDecodeEntryRejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", "{{"},
		{"old version", `{"v":0,"analysis":{"subject":"X"}}`},
		{"future version", `{"v":9,"analysis":{"subject":"X"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := decodeEntry([]byte(tt.raw)); err == nil {
				t.Error("decodeEntry() error = nil, want error")
			}
		})
	}
}

func TestNewAnalysisCacheConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  *AnalysisCacheConfig
	}{
		{"nil", nil},
		{"empty url", &AnalysisCacheConfig{}},
		{"bad scheme", &AnalysisCacheConfig{RedisURL: "http://localhost:6379"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewAnalysisCache(context.Background(), tt.cfg); err == nil {
				t.Error("NewAnalysisCache() error = nil, want error")
			}
		})
	}
}

func TestAnalysisCacheUnreachable(t *testing.T) {
	c, err := newAnalysisCache(&AnalysisCacheConfig{
		RedisURL:    "redis://127.0.0.1:1/0",
		DialTimeout: 200 * time.Millisecond,
		OpTimeout:   200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("newAnalysisCache() error = %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if a, err := c.Get(ctx, "k"); err == nil || a != nil {
		t.Errorf("Get() = %v, %v; want nil and an error", a, err)
	}
	if err := c.Set(ctx, "k", analysis.Analysis{}, time.Minute); err == nil {
		t.Error("Set() error = nil, want error")
	}
}

var _ analysis.Cache = (*AnalysisCache)(nil)
