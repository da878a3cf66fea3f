//go:build !opencv

package processor

func newDefaultGeometryDetector() GeometryDetector {
	return NewHoughDetector()
}
