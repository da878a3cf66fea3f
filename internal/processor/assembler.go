package processor

import (
	"time"

	"github.com/adverant/nexus/notes-ocr-service/internal/analysis"
)

// StatusCompleted is the only status of an assembled response
const StatusCompleted = "completed"

// OCRSection is the ocr_result block of a response
type OCRSection struct {
	Text               string       `json:"text"`
	Confidence         float64      `json:"confidence"`
	Equations          []string     `json:"equations"`
	Diagrams           []string     `json:"diagrams"`
	HandwritingQuality string       `json:"handwriting_quality"`
	ProcessingTime     float64      `json:"processing_time"`
	Regions            []TextRegion `json:"regions"`
}

// AnalysisSection is the ai_analysis block of a response
type AnalysisSection struct {
	Subject       string   `json:"subject"`
	Difficulty    string   `json:"difficulty"`
	Concepts      []string `json:"concepts"`
	Understanding int      `json:"understanding"`
	Gaps          []string `json:"gaps"`
	Suggestions   []string `json:"suggestions"`
	StudentID     string   `json:"student_id"`
	SourceTier    string   `json:"source_tier"`
}

// PipelineResponse is the caller-facing result of recognize-and-analyze
type PipelineResponse struct {
	RequestID   string          `json:"request_id"`
	FileName    string          `json:"file_name"`
	FileSize    int64           `json:"file_size"`
	Timestamp   string          `json:"timestamp"`
	ElapsedTime float64         `json:"elapsed_time"`
	OCRResult   OCRSection      `json:"ocr_result"`
	AIAnalysis  AnalysisSection `json:"ai_analysis"`
	Status      string          `json:"status"`
	Engine      string          `json:"engine"`
}

// OCRResponse is the result of recognition without analysis
type OCRResponse struct {
	RequestID   string     `json:"request_id"`
	FileName    string     `json:"file_name"`
	FileSize    int64      `json:"file_size"`
	Timestamp   string     `json:"timestamp"`
	ElapsedTime float64    `json:"elapsed_time"`
	OCRResult   OCRSection `json:"ocr_result"`
	Status      string     `json:"status"`
	Engine      string     `json:"engine"`
}

// Metadata describes the request an assembled response belongs to
type Metadata struct {
	RequestID         string
	FileName          string
	FileSize          int64
	StudentID         string
	RecognitionEngine string
	StartedAt         time.Time
	FinishedAt        time.Time
}

// Assemble merges the stage outputs into a response. Missing values are
// replaced with sentinels; nothing else is changed.
func Assemble(ocr OCRResult, ext Extraction, an analysis.Analysis, meta Metadata) PipelineResponse {
	return PipelineResponse{
		RequestID:   meta.RequestID,
		FileName:    meta.FileName,
		FileSize:    meta.FileSize,
		Timestamp:   formatTimestamp(meta.FinishedAt),
		ElapsedTime: elapsed(meta),
		OCRResult:   ocrSection(ocr, ext),
		AIAnalysis: AnalysisSection{
			Subject:       orDefault(an.Subject, "Unknown"),
			Difficulty:    orDefault(an.Difficulty, analysis.DifficultyBeginner),
			Concepts:      nonNil(an.Concepts),
			Understanding: an.Understanding,
			Gaps:          nonNil(an.Gaps),
			Suggestions:   nonNil(an.Suggestions),
			StudentID:     meta.StudentID,
			SourceTier:    orDefault(string(an.SourceTier), string(analysis.TierDegraded)),
		},
		Status: StatusCompleted,
		Engine: engineLabel(meta.RecognitionEngine, an.Provider),
	}
}

// AssembleOCR builds the recognition-only response
func AssembleOCR(ocr OCRResult, ext Extraction, meta Metadata) OCRResponse {
	return OCRResponse{
		RequestID:   meta.RequestID,
		FileName:    meta.FileName,
		FileSize:    meta.FileSize,
		Timestamp:   formatTimestamp(meta.FinishedAt),
		ElapsedTime: elapsed(meta),
		OCRResult:   ocrSection(ocr, ext),
		Status:      StatusCompleted,
		Engine:      orDefault(meta.RecognitionEngine, unavailableEngineName),
	}
}

func ocrSection(ocr OCRResult, ext Extraction) OCRSection {
	diagrams := make([]string, 0, len(ext.Diagrams))
	for _, d := range ext.Diagrams {
		diagrams = append(diagrams, string(d))
	}

	regions := ocr.Regions
	if regions == nil {
		regions = []TextRegion{}
	}

	return OCRSection{
		Text:               orDefault(ocr.Text, NoTextSentinel),
		Confidence:         ocr.Confidence,
		Equations:          nonNil(ext.Equations),
		Diagrams:           diagrams,
		HandwritingQuality: orDefault(ext.HandwritingQuality, QualityUnreadable),
		ProcessingTime:     ocr.ProcessingTime.Seconds(),
		Regions:            regions,
	}
}

// engineLabel reads "<recognition engine>/<analysis provider>"
func engineLabel(recognition, provider string) string {
	return orDefault(recognition, unavailableEngineName) + "/" + orDefault(provider, string(analysis.TierDegraded))
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func elapsed(meta Metadata) float64 {
	if meta.StartedAt.IsZero() || meta.FinishedAt.Before(meta.StartedAt) {
		return 0
	}
	return meta.FinishedAt.Sub(meta.StartedAt).Seconds()
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
