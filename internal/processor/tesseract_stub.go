//go:build !ocr

package processor

import (
	"fmt"

	"github.com/adverant/nexus/notes-ocr-service/internal/errors"
)

// TesseractConfig holds Tesseract configuration
type TesseractConfig struct {
	Language string
	Clients  int
}

// NewTesseractEngine reports the engine as unavailable in builds without the ocr tag
func NewTesseractEngine(cfg *TesseractConfig) (Engine, error) {
	return nil, errors.NewEngineUnavailableError("tesseract",
		fmt.Errorf("built without tesseract support; rebuild with -tags ocr"))
}
