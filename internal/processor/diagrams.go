package processor

import (
	"context"
	"math"

	"github.com/adverant/nexus/notes-ocr-service/internal/logging"
)

// DiagramHint is a structural tag inferred from image geometry
type DiagramHint string

const (
	HintGeometricFigure  DiagramHint = "geometric_figure"
	HintCircularDiagram  DiagramHint = "circular_diagram"
	HintCoordinateSystem DiagramHint = "coordinate_system"
)

// Detection thresholds shared by every geometry backend
const (
	cannyLow         = 50
	cannyHigh        = 150
	houghThreshold   = 100
	minLineLength    = 50
	maxLineGap       = 10
	circleMinDist    = 20
	circleParam1     = 50
	circleParam2     = 30
	circleMinRadius  = 10
	circleMaxRadius  = 100
	geometricLineMin = 10 // strictly more lines than this tags geometric_figure

	perpendicularTolerance = 0.3
	// only the strongest segments are paired for the perpendicularity scan
	perpendicularScanLimit = 20
)

// Segment is a detected line segment
type Segment struct {
	X1, Y1, X2, Y2 int
}

// Angle returns the segment direction in radians, in (-π, π]
func (s Segment) Angle() float64 {
	return math.Atan2(float64(s.Y2-s.Y1), float64(s.X2-s.X1))
}

// Circle is a detected circle
type Circle struct {
	X, Y, Radius int
}

// Geometry is what a detector found in an image
type Geometry struct {
	Segments []Segment
	Circles  []Circle
}

// GeometryDetector finds line segments and circles
type GeometryDetector interface {
	Name() string
	Detect(ctx context.Context, img *NormalizedImage) (Geometry, error)
}

// DiagramDetector turns detected geometry into diagram hints
type DiagramDetector struct {
	geometry GeometryDetector
	logger   *logging.Logger
}

// NewDiagramDetector creates a detector; a nil backend selects the build default
func NewDiagramDetector(geometry GeometryDetector) *DiagramDetector {
	if geometry == nil {
		geometry = newDefaultGeometryDetector()
	}
	return &DiagramDetector{
		geometry: geometry,
		logger:   logging.NewLogger("DiagramDetector"),
	}
}

// Backend names the geometry implementation in use
func (d *DiagramDetector) Backend() string {
	return d.geometry.Name()
}

// Detect returns the diagram hints for the image. Detection failures yield no hints.
func (d *DiagramDetector) Detect(ctx context.Context, img *NormalizedImage) (hints []DiagramHint) {
	hints = []DiagramHint{}
	if img.Bounds().Empty() {
		return hints
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Diagram detection panicked", "backend", d.geometry.Name(), "panic", r)
			hints = []DiagramHint{}
		}
	}()

	geometry, err := d.geometry.Detect(ctx, img)
	if err != nil {
		d.logger.Warn("Diagram detection failed", "backend", d.geometry.Name(), "error", err)
		return hints
	}

	return ClassifyGeometry(geometry)
}

// ClassifyGeometry maps geometry to hints, each at most once, in a fixed order
func ClassifyGeometry(g Geometry) []DiagramHint {
	hints := []DiagramHint{}

	if len(g.Segments) > geometricLineMin {
		hints = append(hints, HintGeometricFigure)
	}
	if len(g.Circles) > 0 {
		hints = append(hints, HintCircularDiagram)
	}
	if hasPerpendicularPair(g.Segments) {
		hints = append(hints, HintCoordinateSystem)
	}

	return hints
}

func hasPerpendicularPair(segments []Segment) bool {
	if len(segments) > perpendicularScanLimit {
		segments = segments[:perpendicularScanLimit]
	}

	for i := 0; i < len(segments); i++ {
		a := segments[i].Angle()
		for j := i + 1; j < len(segments); j++ {
			diff := math.Abs(a - segments[j].Angle())
			if math.Abs(diff-math.Pi/2) < perpendicularTolerance ||
				math.Abs(diff-3*math.Pi/2) < perpendicularTolerance {
				return true
			}
		}
	}
	return false
}
