//go:build opencv

package processor

import (
	"context"
	"fmt"
	"math"

	"gocv.io/x/gocv"
)

// OpenCVDetector finds geometry with OpenCV's Canny, HoughLinesP and HoughCircles
type OpenCVDetector struct{}

func newDefaultGeometryDetector() GeometryDetector {
	return &OpenCVDetector{}
}

// Name returns the backend identifier
func (d *OpenCVDetector) Name() string {
	return "opencv"
}

// Detect finds line segments and circles
func (d *OpenCVDetector) Detect(ctx context.Context, img *NormalizedImage) (Geometry, error) {
	src := img.Image
	b := src.Bounds()
	if src.Stride != b.Dx()*4 {
		return Geometry{}, fmt.Errorf("unexpected row stride %d for width %d", src.Stride, b.Dx())
	}

	rgba, err := gocv.NewMatFromBytes(b.Dy(), b.Dx(), gocv.MatTypeCV8UC4, src.Pix)
	if err != nil {
		return Geometry{}, fmt.Errorf("failed to wrap image: %w", err)
	}
	defer rgba.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(rgba, &gray, gocv.ColorRGBAToGray)

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(gray, &edges, cannyLow, cannyHigh)

	if err := ctx.Err(); err != nil {
		return Geometry{}, err
	}

	lines := gocv.NewMat()
	defer lines.Close()
	gocv.HoughLinesPWithParams(edges, &lines, 1, math.Pi/180, houghThreshold, minLineLength, maxLineGap)

	segments := make([]Segment, 0, lines.Rows())
	for i := 0; i < lines.Rows(); i++ {
		v := lines.GetVeciAt(i, 0)
		segments = append(segments, Segment{X1: int(v[0]), Y1: int(v[1]), X2: int(v[2]), Y2: int(v[3])})
	}

	circlesMat := gocv.NewMat()
	defer circlesMat.Close()
	gocv.HoughCirclesWithParams(gray, &circlesMat, gocv.HoughGradient, 1, circleMinDist,
		circleParam1, circleParam2, circleMinRadius, circleMaxRadius)

	circles := make([]Circle, 0, circlesMat.Cols())
	for i := 0; i < circlesMat.Cols(); i++ {
		v := circlesMat.GetVecfAt(0, i)
		circles = append(circles, Circle{X: int(v[0]), Y: int(v[1]), Radius: int(v[2])})
	}

	return Geometry{Segments: segments, Circles: circles}, nil
}
