package analysis

import (
	"strings"
)

// Tier identifies which stage of the fallback chain produced an analysis
type Tier string

const (
	TierRemote    Tier = "remote"
	TierHeuristic Tier = "heuristic"
	TierDegraded  Tier = "degraded"
)

// Difficulty levels
const (
	DifficultyBeginner     = "beginner"
	DifficultyIntermediate = "intermediate"
	DifficultyAdvanced     = "advanced"
)

// MinTextLength is the shortest text any tier other than degraded will analyze
const MinTextLength = 3

// Analysis is the pedagogical analysis of one piece of student work
type Analysis struct {
	Subject       string   `json:"subject"`
	Difficulty    string   `json:"difficulty"`
	Concepts      []string `json:"concepts"`
	Understanding int      `json:"understanding"`
	Gaps          []string `json:"gaps"`
	Suggestions   []string `json:"suggestions"`
	SourceTier    Tier     `json:"source_tier"`
	// Provider names the concrete provider, e.g. "kana" or "heuristic"
	Provider string `json:"provider"`
}

// Input is everything a provider may look at
type Input struct {
	RequestID          string
	Text               string
	Confidence         float64
	Equations          []string
	Diagrams           []string
	HandwritingQuality string
	Filename           string
	StudentID          string
	// Image is the original upload; remote providers send it when present
	Image []byte
}

// IsValidDifficulty reports whether d is one of the three levels
func IsValidDifficulty(d string) bool {
	switch d {
	case DifficultyBeginner, DifficultyIntermediate, DifficultyAdvanced:
		return true
	}
	return false
}

// ClampUnderstanding bounds a score to [0,100]
func ClampUnderstanding(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// normalized returns a copy with non-nil slices, trimmed and de-duplicated
// concepts, and a clamped score
func (a Analysis) normalized() Analysis {
	out := a
	out.Subject = strings.TrimSpace(a.Subject)
	out.Difficulty = strings.ToLower(strings.TrimSpace(a.Difficulty))
	out.Concepts = uniqueStrings(a.Concepts)
	out.Gaps = cleanStrings(a.Gaps)
	out.Suggestions = cleanStrings(a.Suggestions)
	out.Understanding = ClampUnderstanding(a.Understanding)
	return out
}

func cleanStrings(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func uniqueStrings(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range cleanStrings(in) {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
