package processor

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync/atomic"
	"testing"
)

// fakeEngine returns canned regions
type fakeEngine struct {
	name    string
	regions []TextRegion
	err     error
	panics  bool
	calls   atomic.Int32
	closed  atomic.Bool
}

func (f *fakeEngine) Name() string {
	if f.name == "" {
		return "fake"
	}
	return f.name
}

func (f *fakeEngine) Recognize(ctx context.Context, img *image.NRGBA) ([]TextRegion, error) {
	f.calls.Add(1)
	if f.panics {
		panic("engine exploded")
	}
	return f.regions, f.err
}

func (f *fakeEngine) Close() error {
	f.closed.Store(true)
	return nil
}

func newFakeRecognizer(engine Engine) *Recognizer {
	return NewRecognizer(&RecognizerConfig{
		Factory: func() (Engine, error) { return engine, nil },
		Workers: 2,
	})
}

func region(text string, x, y int, confidence float64) TextRegion {
	return TextRegion{
		Polygon:    BoundingBox{X: x, Y: y, Width: 40, Height: 12}.Polygon(),
		Text:       text,
		Confidence: confidence,
	}
}

func whiteImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	return buf.Bytes()
}

func drawLine(img *image.NRGBA, x0, y0, x1, y1, thickness int) {
	black := color.NRGBA{A: 0xff}
	for x := x0; x <= x1; x++ {
		for y := y0; y <= y1; y++ {
			for d := 0; d < thickness; d++ {
				if x0 == x1 {
					img.SetNRGBA(x+d, y, black)
				} else {
					img.SetNRGBA(x, y+d, black)
				}
			}
		}
	}
}
