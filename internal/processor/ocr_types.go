/**
 * OCR Types - Shared data structures for the recognition stages
 *
 * Values flow downstream by copy; no stage mutates a record it received.
 */

package processor

import (
	"image"
	"time"
)

// NoTextSentinel is the OCR text reported when nothing was recognized
const NoTextSentinel = "No text detected in image"

// Point is a vertex of a region's bounding polygon
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// TextRegion is one recognized, localized block of text
type TextRegion struct {
	Polygon    []Point `json:"bounding_polygon"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// anchor is the first polygon vertex, used as the reading-order key
func (r TextRegion) anchor() Point {
	if len(r.Polygon) == 0 {
		return Point{}
	}
	return r.Polygon[0]
}

// BoundingBox represents coordinates of a region
type BoundingBox struct {
	X      int
	Y      int
	Width  int
	Height int
}

// Polygon returns the box corners clockwise from the top-left
func (b BoundingBox) Polygon() []Point {
	return []Point{
		{X: b.X, Y: b.Y},
		{X: b.X + b.Width, Y: b.Y},
		{X: b.X + b.Width, Y: b.Y + b.Height},
		{X: b.X, Y: b.Y + b.Height},
	}
}

// OCRResult represents the aggregated result of recognition
type OCRResult struct {
	Text           string
	Confidence     float64
	Regions        []TextRegion
	ProcessingTime time.Duration
}

// HasText reports whether recognition produced any usable text
func (r OCRResult) HasText() bool {
	return len(r.Regions) > 0 && r.Confidence > 0
}

// AnalyzableText returns the recognized text, or "" when the text is a sentinel
func (r OCRResult) AnalyzableText() string {
	if !r.HasText() {
		return ""
	}
	return r.Text
}

// Extraction holds the structural hints derived from an OCRResult and its image
type Extraction struct {
	Equations          []string
	Diagrams           []DiagramHint
	HandwritingQuality string
}

// NormalizedImage is a decoded bitmap in canonical encoding, owned by one pipeline run
type NormalizedImage struct {
	Image *image.NRGBA
}

// Bounds returns the image bounds, or an empty rectangle for a nil image
func (n *NormalizedImage) Bounds() image.Rectangle {
	if n == nil || n.Image == nil {
		return image.Rectangle{}
	}
	return n.Image.Bounds()
}
