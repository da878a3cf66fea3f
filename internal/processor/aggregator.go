package processor

import (
	"fmt"
	"sort"
	"strings"
)

// Aggregate orders regions top-to-bottom then left-to-right by their first
// polygon vertex, joins their text and averages their confidence.
// Regions with blank text are dropped; no usable regions, or zero mean
// confidence, yields the sentinel text.
func Aggregate(regions []TextRegion) OCRResult {
	ordered := make([]TextRegion, 0, len(regions))
	for _, region := range regions {
		if strings.TrimSpace(region.Text) == "" {
			continue
		}
		ordered = append(ordered, region)
	}

	if len(ordered) == 0 {
		return OCRResult{Text: NoTextSentinel, Confidence: 0, Regions: []TextRegion{}}
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i].anchor(), ordered[j].anchor()
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.X < b.X
	})

	texts := make([]string, len(ordered))
	total := 0.0
	for i, region := range ordered {
		texts[i] = region.Text
		total += clampUnit(region.Confidence)
	}

	result := OCRResult{
		Text:       strings.TrimSpace(strings.Join(texts, " ")),
		Confidence: total / float64(len(ordered)),
		Regions:    ordered,
	}
	// zero confidence never carries recognized text
	if result.Confidence == 0 {
		result.Text = NoTextSentinel
	}
	return result
}

// AggregateRecognition aggregates a recognition outcome, replacing the text
// with an explanatory message when the engine was unavailable or failed
func AggregateRecognition(rec Recognition) OCRResult {
	result := Aggregate(rec.Regions)
	if result.HasText() {
		return result
	}

	switch rec.Status {
	case RecognitionUnavailable:
		result.Text = "OCR engine unavailable - no text detected"
	case RecognitionFailed:
		result.Text = fmt.Sprintf("OCR processing failed: %s", rec.Detail)
	}
	return result
}
