/**
 * Recognition Engine Adapter
 *
 * Owns the process-wide OCR engine handle. Initialization happens once,
 * guarded by sync.Once; a failed init leaves the adapter ENGINE_UNAVAILABLE
 * for the process lifetime. Recognition never returns an error: failures and
 * unavailability both surface as an empty region list plus a status.
 */

package processor

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/adverant/nexus/notes-ocr-service/internal/errors"
	"github.com/adverant/nexus/notes-ocr-service/internal/logging"
)

// Engine is a concrete OCR backend. Implementations must be safe for up to
// the configured number of concurrent Recognize calls.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, img *image.NRGBA) ([]TextRegion, error)
	Close() error
}

// EngineFactory builds the engine on first use
type EngineFactory func() (Engine, error)

// EngineState is the adapter's lifecycle state
type EngineState string

const (
	EngineUninitialized EngineState = "uninitialized"
	EngineReady         EngineState = "ready"
	EngineUnavailable   EngineState = "unavailable"
)

// RecognitionStatus describes how a single recognize call ended
type RecognitionStatus string

const (
	RecognitionOK          RecognitionStatus = "ok"
	RecognitionUnavailable RecognitionStatus = "unavailable"
	RecognitionFailed      RecognitionStatus = "failed"
)

// unavailableEngineName is reported when no engine could be initialized
const unavailableEngineName = "none"

// Recognition is the outcome of one recognize call
type Recognition struct {
	Regions []TextRegion
	Engine  string
	Status  RecognitionStatus
	Detail  string
}

// RecognizerConfig holds adapter configuration
type RecognizerConfig struct {
	Factory EngineFactory
	// EngineName is reported before initialization and when the factory fails
	EngineName string
	Workers    int
}

// Recognizer is the Recognition Engine Adapter
type Recognizer struct {
	factory    EngineFactory
	engineName string
	workers    int64

	once    sync.Once
	engine  Engine
	state   EngineState
	initErr error

	// pool bounds concurrent engine calls; held for the full engine call
	pool   *semaphore.Weighted
	logger *logging.Logger
}

// NewRecognizer creates the adapter; the engine is not built until Init or first use
func NewRecognizer(cfg *RecognizerConfig) *Recognizer {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	name := cfg.EngineName
	if name == "" {
		name = "ocr"
	}

	return &Recognizer{
		factory:    cfg.Factory,
		engineName: name,
		workers:    int64(workers),
		state:      EngineUninitialized,
		pool:       semaphore.NewWeighted(int64(workers)),
		logger:     logging.NewLogger("Recognizer"),
	}
}

// Init builds the engine exactly once and returns the resulting state
func (r *Recognizer) Init() EngineState {
	r.once.Do(func() {
		start := time.Now()
		engine, err := r.build()
		if err != nil {
			r.state = EngineUnavailable
			r.initErr = err
			r.logger.Error("OCR engine initialization failed, recognition disabled",
				"engine", r.engineName,
				"error", err)
			return
		}

		r.engine = engine
		r.engineName = engine.Name()
		r.state = EngineReady
		r.logger.Info("OCR engine ready",
			"engine", r.engineName,
			"workers", r.workers,
			"duration", time.Since(start))
	})
	return r.state
}

func (r *Recognizer) build() (engine Engine, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("engine factory panicked: %v", rec)
		}
	}()

	if r.factory == nil {
		return nil, errors.NewEngineUnavailableError(r.engineName, fmt.Errorf("no engine configured"))
	}
	engine, err = r.factory()
	if err == nil && engine == nil {
		err = errors.NewEngineUnavailableError(r.engineName, fmt.Errorf("factory returned no engine"))
	}
	return engine, err
}

// State returns the current state, initializing if needed
func (r *Recognizer) State() EngineState {
	return r.Init()
}

// Available reports whether the engine is ready
func (r *Recognizer) Available() bool {
	return r.Init() == EngineReady
}

// EngineName returns the reported engine identifier
func (r *Recognizer) EngineName() string {
	if r.Init() != EngineReady {
		return unavailableEngineName
	}
	return r.engineName
}

// InitError returns the initialization failure, if any
func (r *Recognizer) InitError() error {
	r.Init()
	return r.initErr
}

// Recognize runs the engine on the image via the worker pool.
// Cancellation is best-effort: once dispatched, the engine call finishes in
// the background and releases its pool slot.
func (r *Recognizer) Recognize(ctx context.Context, img *NormalizedImage) Recognition {
	if r.Init() != EngineReady {
		return Recognition{Engine: unavailableEngineName, Status: RecognitionUnavailable, Detail: "OCR engine unavailable"}
	}
	if img == nil || img.Image == nil {
		return Recognition{Engine: r.engineName, Status: RecognitionOK}
	}

	if err := r.pool.Acquire(ctx, 1); err != nil {
		r.logger.Warn("Recognition not dispatched", "error", err)
		return Recognition{Engine: r.engineName, Status: RecognitionFailed, Detail: err.Error()}
	}

	type outcome struct {
		regions []TextRegion
		err     error
	}
	done := make(chan outcome, 1)

	go func() {
		defer r.pool.Release(1)
		regions, err := r.call(ctx, img.Image)
		done <- outcome{regions: regions, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			r.logger.Error("Recognition failed, treating as no text",
				"engine", r.engineName,
				"error", out.err)
			return Recognition{Engine: r.engineName, Status: RecognitionFailed, Detail: out.err.Error()}
		}
		return Recognition{Regions: sanitizeRegions(out.regions), Engine: r.engineName, Status: RecognitionOK}
	case <-ctx.Done():
		r.logger.Warn("Caller gave up waiting for recognition", "error", ctx.Err())
		return Recognition{Engine: r.engineName, Status: RecognitionFailed, Detail: ctx.Err().Error()}
	}
}

func (r *Recognizer) call(ctx context.Context, img *image.NRGBA) (regions []TextRegion, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.NewOCRFailedError("", r.engineName, fmt.Errorf("engine panicked: %v", rec))
		}
	}()
	return r.engine.Recognize(ctx, img)
}

// SelfTest recognizes a blank 100x50 white image and reports whether the
// engine answered without error. An empty result is a pass.
func (r *Recognizer) SelfTest(ctx context.Context) bool {
	if r.Init() != EngineReady {
		return false
	}

	blank := image.NewNRGBA(image.Rect(0, 0, 100, 50))
	for i := range blank.Pix {
		blank.Pix[i] = 0xff
	}

	rec := r.Recognize(ctx, &NormalizedImage{Image: blank})
	return rec.Status == RecognitionOK
}

// Close releases the engine after waiting for in-flight calls
func (r *Recognizer) Close(ctx context.Context) error {
	if r.engine == nil {
		return nil
	}
	if err := r.pool.Acquire(ctx, r.workers); err != nil {
		return fmt.Errorf("waiting for in-flight recognitions: %w", err)
	}
	defer r.pool.Release(r.workers)
	return r.engine.Close()
}

// sanitizeRegions clamps confidences and copies polygons so callers own their data
func sanitizeRegions(regions []TextRegion) []TextRegion {
	out := make([]TextRegion, 0, len(regions))
	for _, region := range regions {
		polygon := make([]Point, len(region.Polygon))
		copy(polygon, region.Polygon)
		out = append(out, TextRegion{
			Polygon:    polygon,
			Text:       region.Text,
			Confidence: clampUnit(region.Confidence),
		})
	}
	return out
}

func clampUnit(v float64) float64 {
	if v != v || v < 0 { // NaN or negative
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
