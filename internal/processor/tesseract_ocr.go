//go:build ocr

/**
 * Tesseract OCR engine
 *
 * Line-level recognition through gosseract. Tesseract handles are not safe
 * for concurrent use, so the engine keeps a fixed pool of clients and each
 * call checks one out for its duration.
 */

package processor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"
)

// TesseractConfig holds Tesseract configuration
type TesseractConfig struct {
	Language string
	Clients  int
}

// TesseractEngine performs OCR using Tesseract
type TesseractEngine struct {
	clients chan *gosseract.Client
	size    int
}

// NewTesseractEngine creates the client pool and warms one client up so that
// missing language data is reported at init instead of on the first request
func NewTesseractEngine(cfg *TesseractConfig) (Engine, error) {
	size := cfg.Clients
	if size < 1 {
		size = 1
	}
	language := cfg.Language
	if language == "" {
		language = "eng"
	}

	e := &TesseractEngine{
		clients: make(chan *gosseract.Client, size),
		size:    size,
	}

	for i := 0; i < size; i++ {
		client := gosseract.NewClient()
		if err := client.SetLanguage(strings.Split(language, "+")...); err != nil {
			client.Close()
			e.Close()
			return nil, fmt.Errorf("failed to set tesseract language %q: %w", language, err)
		}
		if err := client.SetPageSegMode(gosseract.PSM_AUTO); err != nil {
			client.Close()
			e.Close()
			return nil, fmt.Errorf("failed to set page segmentation mode: %w", err)
		}
		e.clients <- client
	}

	warmup := image.NewNRGBA(image.Rect(0, 0, 32, 16))
	for i := range warmup.Pix {
		warmup.Pix[i] = 0xff
	}
	if _, err := e.Recognize(context.Background(), warmup); err != nil {
		e.Close()
		return nil, fmt.Errorf("tesseract warm-up failed (version %s): %w", gosseract.Version(), err)
	}

	return e, nil
}

// Name returns the engine identifier
func (e *TesseractEngine) Name() string {
	return "tesseract"
}

// Recognize returns one region per recognized text line
func (e *TesseractEngine) Recognize(ctx context.Context, img *image.NRGBA) ([]TextRegion, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode image for tesseract: %w", err)
	}

	var client *gosseract.Client
	select {
	case client = <-e.clients:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { e.clients <- client }()

	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, fmt.Errorf("tesseract OCR failed: %w", err)
	}

	regions := make([]TextRegion, 0, len(boxes))
	for _, box := range boxes {
		text := strings.TrimSpace(box.Word)
		if text == "" {
			continue
		}
		bb := BoundingBox{
			X:      box.Box.Min.X,
			Y:      box.Box.Min.Y,
			Width:  box.Box.Dx(),
			Height: box.Box.Dy(),
		}
		regions = append(regions, TextRegion{
			Polygon:    bb.Polygon(),
			Text:       text,
			Confidence: box.Confidence / 100.0,
		})
	}

	return regions, nil
}

// Close releases every pooled client
func (e *TesseractEngine) Close() error {
	for {
		select {
		case client := <-e.clients:
			client.Close()
		default:
			return nil
		}
	}
}
