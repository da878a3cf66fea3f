/**
 * Image Normalizer - color and enhancement pre-pass before recognition
 *
 * Steps run in a fixed order with fixed constants so the same upload always
 * produces the same bitmap. A failing step is logged and skipped.
 */

package processor

import (
	"bytes"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/adverant/nexus/notes-ocr-service/internal/errors"
	"github.com/adverant/nexus/notes-ocr-service/internal/logging"
)

const (
	// contrastPercent is imaging's percentage form of a 1.2x contrast multiplier
	contrastPercent = 20.0
	// sharpenSigma approximates a 1.1x sharpness multiplier
	sharpenSigma = 0.6
	denoiseSigma = 0.5
)

// NormalizerConfig holds normalizer configuration
type NormalizerConfig struct {
	Denoise bool
}

// Normalizer decodes uploads and prepares them for recognition
type Normalizer struct {
	denoise bool
	logger  *logging.Logger
}

// NewNormalizer creates a new normalizer
func NewNormalizer(cfg *NormalizerConfig) *Normalizer {
	n := &Normalizer{logger: logging.NewLogger("Normalizer")}
	if cfg != nil {
		n.denoise = cfg.Denoise
	}
	return n
}

// Decode turns raw upload bytes into a bitmap, honoring EXIF orientation.
// It is the only normalizer call that can fail, and its failures are input errors.
func (n *Normalizer) Decode(filename string, data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, errors.NewEmptyFileError(filename)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.NewCorruptImageError(filename, err)
	}
	if img.Bounds().Empty() {
		return nil, errors.NewCorruptImageError(filename, fmt.Errorf("image has no pixels"))
	}

	return img, nil
}

// Normalize composites, enhances and optionally denoises the image.
// It never fails; on any step error the best image so far is returned.
func (n *Normalizer) Normalize(img image.Image) *NormalizedImage {
	if img == nil || img.Bounds().Empty() {
		n.logger.Warn("Nothing to normalize, passing through empty image")
		return &NormalizedImage{}
	}

	current := n.canonical(img)

	current = n.step("contrast", current, func(src *image.NRGBA) *image.NRGBA {
		return imaging.AdjustContrast(src, contrastPercent)
	})
	current = n.step("sharpen", current, func(src *image.NRGBA) *image.NRGBA {
		return imaging.Sharpen(src, sharpenSigma)
	})
	if n.denoise {
		current = n.step("denoise", current, func(src *image.NRGBA) *image.NRGBA {
			return imaging.Blur(src, denoiseSigma)
		})
	}

	return &NormalizedImage{Image: current}
}

// canonical converts to NRGBA, flattening any transparency onto white
func (n *Normalizer) canonical(img image.Image) (out *image.NRGBA) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("Color conversion failed, using raw pixels", "panic", r)
			out = imaging.Clone(img)
		}
	}()

	if !hasAlpha(img) {
		return imaging.Clone(img)
	}

	bounds := img.Bounds()
	background := imaging.New(bounds.Dx(), bounds.Dy(), color.White)
	return imaging.Overlay(background, img, image.Pt(0, 0), 1.0)
}

func (n *Normalizer) step(name string, current *image.NRGBA, fn func(*image.NRGBA) *image.NRGBA) (out *image.NRGBA) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("Enhancement step failed, keeping previous image", "step", name, "panic", r)
			out = current
		}
	}()

	result := fn(current)
	if result == nil || result.Bounds().Empty() {
		n.logger.Warn("Enhancement step produced no image, keeping previous image", "step", name)
		return current
	}
	return result
}

func hasAlpha(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	return true
}
