/**
 * Notes Processor - OCR-and-Analysis pipeline for student work images
 *
 * raw bytes -> Normalizer -> Recognizer -> Aggregate -> extraction
 * (equations || diagrams) -> analysis Orchestrator -> Assemble.
 *
 * Only input validation can fail a request. Every later stage degrades to
 * its documented fallback output and logs why.
 */

package processor

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/adverant/nexus/notes-ocr-service/internal/analysis"
	"github.com/adverant/nexus/notes-ocr-service/internal/errors"
	"github.com/adverant/nexus/notes-ocr-service/internal/logging"
)

// Analyzer produces the pedagogical analysis; it never fails
type Analyzer interface {
	Analyze(ctx context.Context, in analysis.Input) analysis.Analysis
}

// ProcessorConfig holds processor configuration
type ProcessorConfig struct {
	Normalizer  *Normalizer
	Recognizer  *Recognizer
	Diagrams    *DiagramDetector
	Analyzer    Analyzer
	MaxFileSize int64
}

// ProcessRequest represents one uploaded image
type ProcessRequest struct {
	RequestID string
	Filename  string
	Data      []byte
	StudentID string
	// IncludeImage forwards the original upload to remote analysis providers
	IncludeImage bool
}

// NotesProcessor runs the pipeline
type NotesProcessor struct {
	normalizer  *Normalizer
	recognizer  *Recognizer
	diagrams    *DiagramDetector
	analyzer    Analyzer
	maxFileSize int64
	logger      *logging.Logger
}

// NewNotesProcessor creates a new processor
func NewNotesProcessor(cfg *ProcessorConfig) (*NotesProcessor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Recognizer == nil {
		return nil, fmt.Errorf("recognizer is required")
	}
	if cfg.Analyzer == nil {
		return nil, fmt.Errorf("analyzer is required")
	}

	normalizer := cfg.Normalizer
	if normalizer == nil {
		normalizer = NewNormalizer(nil)
	}
	diagrams := cfg.Diagrams
	if diagrams == nil {
		diagrams = NewDiagramDetector(nil)
	}

	return &NotesProcessor{
		normalizer:  normalizer,
		recognizer:  cfg.Recognizer,
		diagrams:    diagrams,
		analyzer:    cfg.Analyzer,
		maxFileSize: cfg.MaxFileSize,
		logger:      logging.NewLogger("NotesProcessor"),
	}, nil
}

// recognitionStage is everything produced before analysis
type recognitionStage struct {
	ocr        OCRResult
	extraction Extraction
	engine     string
}

// Process runs recognition, extraction and analysis. The only errors
// returned are input errors.
func (p *NotesProcessor) Process(ctx context.Context, req *ProcessRequest) (*PipelineResponse, error) {
	startTime := time.Now()
	p.ensureRequestID(req)

	stage, err := p.recognize(ctx, req)
	if err != nil {
		return nil, err
	}

	in := analysis.Input{
		RequestID:          req.RequestID,
		Text:               stage.ocr.AnalyzableText(),
		Confidence:         stage.ocr.Confidence,
		Equations:          stage.extraction.Equations,
		Diagrams:           hintStrings(stage.extraction.Diagrams),
		HandwritingQuality: stage.extraction.HandwritingQuality,
		Filename:           req.Filename,
		StudentID:          req.StudentID,
	}
	if req.IncludeImage {
		in.Image = req.Data
	}

	result := p.analyzer.Analyze(ctx, in)

	resp := Assemble(stage.ocr, stage.extraction, result, Metadata{
		RequestID:         req.RequestID,
		FileName:          req.Filename,
		FileSize:          int64(len(req.Data)),
		StudentID:         req.StudentID,
		RecognitionEngine: stage.engine,
		StartedAt:         startTime,
		FinishedAt:        time.Now(),
	})

	p.logger.Info("Pipeline completed",
		"requestId", req.RequestID,
		"file", req.Filename,
		"engine", resp.Engine,
		"confidence", fmt.Sprintf("%.2f", resp.OCRResult.Confidence),
		"equations", len(resp.OCRResult.Equations),
		"subject", resp.AIAnalysis.Subject,
		"tier", resp.AIAnalysis.SourceTier,
		"duration", time.Since(startTime))

	return &resp, nil
}

// RecognizeOnly runs recognition and extraction without analysis
func (p *NotesProcessor) RecognizeOnly(ctx context.Context, req *ProcessRequest) (*OCRResponse, error) {
	startTime := time.Now()
	p.ensureRequestID(req)

	stage, err := p.recognize(ctx, req)
	if err != nil {
		return nil, err
	}

	resp := AssembleOCR(stage.ocr, stage.extraction, Metadata{
		RequestID:         req.RequestID,
		FileName:          req.Filename,
		FileSize:          int64(len(req.Data)),
		RecognitionEngine: stage.engine,
		StartedAt:         startTime,
		FinishedAt:        time.Now(),
	})
	return &resp, nil
}

func (p *NotesProcessor) ensureRequestID(req *ProcessRequest) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
}

func (p *NotesProcessor) recognize(ctx context.Context, req *ProcessRequest) (*recognitionStage, error) {
	if err := ValidateUpload(req.Filename, int64(len(req.Data)), p.maxFileSize); err != nil {
		return nil, withRequestID(err, req.RequestID)
	}

	img, err := p.normalizer.Decode(req.Filename, req.Data)
	if err != nil {
		return nil, withRequestID(err, req.RequestID)
	}

	normalized := p.normalizer.Normalize(img)

	ocrStart := time.Now()
	rec := p.recognizer.Recognize(ctx, normalized)
	ocr := AggregateRecognition(rec)
	ocr.ProcessingTime = time.Since(ocrStart)

	if rec.Status != RecognitionOK {
		p.logger.Warn("Recognition degraded",
			"requestId", req.RequestID,
			"status", rec.Status,
			"detail", rec.Detail)
	}

	return &recognitionStage{
		ocr:        ocr,
		extraction: p.extract(ctx, req.RequestID, ocr, normalized),
		engine:     rec.Engine,
	}, nil
}

// extract runs equation and diagram extraction concurrently; a failing
// extractor contributes an empty result
func (p *NotesProcessor) extract(ctx context.Context, requestID string, ocr OCRResult, img *NormalizedImage) Extraction {
	var equations []string
	var diagrams []DiagramHint

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		equations = p.safeEquations(requestID, ocr.AnalyzableText())
		return nil
	})
	g.Go(func() error {
		diagrams = p.diagrams.Detect(gctx, img)
		return nil
	})
	_ = g.Wait()

	return Extraction{
		Equations:          equations,
		Diagrams:           diagrams,
		HandwritingQuality: HandwritingQuality(ocr),
	}
}

func (p *NotesProcessor) safeEquations(requestID, text string) (equations []string) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Equation extraction panicked", "requestId", requestID, "panic", r)
			equations = []string{}
		}
	}()
	return ExtractEquations(text)
}

func hintStrings(hints []DiagramHint) []string {
	out := make([]string, len(hints))
	for i, h := range hints {
		out[i] = string(h)
	}
	return out
}

func withRequestID(err error, requestID string) error {
	var perr *errors.PipelineError
	if stderrors.As(err, &perr) {
		perr.WithRequestID(requestID)
	}
	return err
}
