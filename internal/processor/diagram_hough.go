package processor

import (
	"context"
	"image"
	"math"
	"sort"

	"github.com/disintegration/imaging"
)

const (
	// houghMaxDimension bounds the working resolution of the pure Go detector
	houghMaxDimension = 1024
	houghThetaBins    = 180
	houghMaxPeaks     = 64
	houghPeakRho      = 5
	houghPeakTheta    = 3
	circleMaxCenters  = 16
	// circleSupport is the fraction of a circumference that must lie on edges
	circleSupport = 0.5
)

// HoughDetector is a pure Go Canny + Hough geometry detector
type HoughDetector struct {
	maxDimension int
}

// NewHoughDetector creates the pure Go detector
func NewHoughDetector() *HoughDetector {
	return &HoughDetector{maxDimension: houghMaxDimension}
}

// Name returns the backend identifier
func (d *HoughDetector) Name() string {
	return "hough"
}

// Detect finds line segments and circles
func (d *HoughDetector) Detect(ctx context.Context, img *NormalizedImage) (Geometry, error) {
	var src image.Image = img.Image
	b := src.Bounds()
	if b.Dx() > d.maxDimension || b.Dy() > d.maxDimension {
		src = imaging.Fit(src, d.maxDimension, d.maxDimension, imaging.Box)
	}

	gray := newGrayPlane(imaging.Clone(src))
	if gray.w < 3 || gray.h < 3 {
		return Geometry{}, nil
	}

	edges := gray.canny(cannyLow, cannyHigh)
	if err := ctx.Err(); err != nil {
		return Geometry{}, err
	}

	segments := edges.segments()
	if err := ctx.Err(); err != nil {
		return Geometry{}, err
	}

	return Geometry{Segments: segments, Circles: edges.circles()}, nil
}

type grayPlane struct {
	w, h int
	pix  []int32
}

func newGrayPlane(img *image.NRGBA) *grayPlane {
	b := img.Bounds()
	g := &grayPlane{w: b.Dx(), h: b.Dy(), pix: make([]int32, b.Dx()*b.Dy())}
	for y := 0; y < g.h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < g.w; x++ {
			r, gr, bl := int32(row[x*4]), int32(row[x*4+1]), int32(row[x*4+2])
			g.pix[y*g.w+x] = (299*r + 587*gr + 114*bl) / 1000
		}
	}
	return g
}

func (g *grayPlane) at(x, y int) int32 {
	return g.pix[y*g.w+x]
}

// edgeMap is a thinned binary edge image with the Sobel gradients that produced it
type edgeMap struct {
	w, h   int
	edge   []bool
	gx, gy []int32
	points []image.Point
}

func (e *edgeMap) isEdge(x, y int) bool {
	return x >= 0 && y >= 0 && x < e.w && y < e.h && e.edge[y*e.w+x]
}

// canny runs Sobel, non-maximum suppression and hysteresis with L1 magnitudes
func (g *grayPlane) canny(low, high int32) *edgeMap {
	w, h := g.w, g.h
	gx := make([]int32, w*h)
	gy := make([]int32, w*h)
	mag := make([]int32, w*h)

	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			sx := (g.at(x+1, y-1) + 2*g.at(x+1, y) + g.at(x+1, y+1)) -
				(g.at(x-1, y-1) + 2*g.at(x-1, y) + g.at(x-1, y+1))
			sy := (g.at(x-1, y+1) + 2*g.at(x, y+1) + g.at(x+1, y+1)) -
				(g.at(x-1, y-1) + 2*g.at(x, y-1) + g.at(x+1, y-1))
			i := y*w + x
			gx[i], gy[i] = sx, sy
			mag[i] = abs32(sx) + abs32(sy)
		}
	}

	// 0 = suppressed, 1 = weak, 2 = strong
	class := make([]uint8, w*h)
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			i := y*w + x
			m := mag[i]
			if m <= low {
				continue
			}

			ax, ay := abs32(gx[i]), abs32(gy[i])
			var before, after int
			switch {
			case ay*1000 <= ax*414:
				before, after = i-1, i+1
			case ay*1000 >= ax*2414:
				before, after = i-w, i+w
			case (gx[i] > 0) == (gy[i] > 0):
				before, after = i-w-1, i+w+1
			default:
				before, after = i-w+1, i+w-1
			}
			if m <= mag[before] || m < mag[after] {
				continue
			}

			if m > high {
				class[i] = 2
			} else {
				class[i] = 1
			}
		}
	}

	e := &edgeMap{w: w, h: h, edge: make([]bool, w*h), gx: gx, gy: gy}
	stack := make([]int, 0, 1024)
	for i, c := range class {
		if c == 2 && !e.edge[i] {
			e.edge[i] = true
			stack = append(stack, i)
		}
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			cx, cy := cur%w, cur/w
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := cx+dx, cy+dy
					if nx < 0 || ny < 0 || nx >= w || ny >= h {
						continue
					}
					n := ny*w + nx
					if class[n] != 0 && !e.edge[n] {
						e.edge[n] = true
						stack = append(stack, n)
					}
				}
			}
		}
	}

	for i, on := range e.edge {
		if on {
			e.points = append(e.points, image.Pt(i%w, i/w))
		}
	}
	return e
}

type houghPeak struct {
	theta, rho, votes int
}

// segments is a probabilistic-Hough style line segment search: accumulator
// peaks are walked pixel by pixel and split into runs separated by gaps
func (e *edgeMap) segments() []Segment {
	if len(e.points) == 0 {
		return []Segment{}
	}

	diag := int(math.Ceil(math.Hypot(float64(e.w), float64(e.h))))
	rhoBins := 2*diag + 1
	cosT := make([]float64, houghThetaBins)
	sinT := make([]float64, houghThetaBins)
	for t := 0; t < houghThetaBins; t++ {
		theta := float64(t) * math.Pi / houghThetaBins
		cosT[t], sinT[t] = math.Cos(theta), math.Sin(theta)
	}

	acc := make([]int32, houghThetaBins*rhoBins)
	for _, p := range e.points {
		for t := 0; t < houghThetaBins; t++ {
			rho := int(math.Round(float64(p.X)*cosT[t]+float64(p.Y)*sinT[t])) + diag
			acc[t*rhoBins+rho]++
		}
	}

	var candidates []houghPeak
	for t := 0; t < houghThetaBins; t++ {
		for r := 0; r < rhoBins; r++ {
			if v := int(acc[t*rhoBins+r]); v >= houghThreshold {
				candidates = append(candidates, houghPeak{theta: t, rho: r - diag, votes: v})
			}
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.votes != b.votes {
			return a.votes > b.votes
		}
		if a.theta != b.theta {
			return a.theta < b.theta
		}
		return a.rho < b.rho
	})

	var peaks []houghPeak
	for _, c := range candidates {
		near := false
		for _, p := range peaks {
			if absInt(c.theta-p.theta) <= houghPeakTheta && absInt(c.rho-p.rho) <= houghPeakRho {
				near = true
				break
			}
		}
		if near {
			continue
		}
		peaks = append(peaks, c)
		if len(peaks) == houghMaxPeaks {
			break
		}
	}

	segments := []Segment{}
	for _, p := range peaks {
		segments = append(segments, e.walk(p, cosT[p.theta], sinT[p.theta], diag)...)
	}
	return segments
}

// walk traces the line of a peak and returns its runs of at least minLineLength
func (e *edgeMap) walk(p houghPeak, cos, sin float64, diag int) []Segment {
	x0, y0 := float64(p.rho)*cos, float64(p.rho)*sin
	dx, dy := -sin, cos

	var out []Segment
	var start, last image.Point
	inRun := false
	gap := 0

	flush := func() {
		if inRun && math.Hypot(float64(last.X-start.X), float64(last.Y-start.Y)) >= minLineLength {
			out = append(out, Segment{X1: start.X, Y1: start.Y, X2: last.X, Y2: last.Y})
		}
		inRun = false
		gap = 0
	}

	for t := -diag; t <= diag; t++ {
		px := int(math.Round(x0 + float64(t)*dx))
		py := int(math.Round(y0 + float64(t)*dy))
		if px < 0 || py < 0 || px >= e.w || py >= e.h {
			if inRun {
				flush()
			}
			continue
		}

		hit := e.isEdge(px, py) ||
			e.isEdge(int(math.Round(float64(px)+cos)), int(math.Round(float64(py)+sin))) ||
			e.isEdge(int(math.Round(float64(px)-cos)), int(math.Round(float64(py)-sin)))

		switch {
		case hit && !inRun:
			start, last, inRun, gap = image.Pt(px, py), image.Pt(px, py), true, 0
		case hit:
			last, gap = image.Pt(px, py), 0
		case inRun:
			gap++
			if gap > maxLineGap {
				flush()
			}
		}
	}
	flush()
	return out
}

type circleCandidate struct {
	x, y, votes int
}

// circles is a gradient Hough transform: every edge pixel votes for centers
// along its gradient, and each surviving center is confirmed by a radius histogram
func (e *edgeMap) circles() []Circle {
	circles := []Circle{}
	if len(e.points) == 0 {
		return circles
	}

	acc := make([]int32, e.w*e.h)
	for _, p := range e.points {
		i := p.Y*e.w + p.X
		gx, gy := float64(e.gx[i]), float64(e.gy[i])
		m := math.Hypot(gx, gy)
		if m == 0 {
			continue
		}
		ux, uy := gx/m, gy/m
		for r := circleMinRadius; r <= circleMaxRadius; r++ {
			for _, sign := range [2]float64{1, -1} {
				cx := int(math.Round(float64(p.X) + sign*float64(r)*ux))
				cy := int(math.Round(float64(p.Y) + sign*float64(r)*uy))
				if cx >= 0 && cy >= 0 && cx < e.w && cy < e.h {
					acc[cy*e.w+cx]++
				}
			}
		}
	}

	var candidates []circleCandidate
	for i, v := range acc {
		if int(v) >= circleParam2 {
			candidates = append(candidates, circleCandidate{x: i % e.w, y: i / e.w, votes: int(v)})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.votes != b.votes {
			return a.votes > b.votes
		}
		if a.y != b.y {
			return a.y < b.y
		}
		return a.x < b.x
	})

	var centers []circleCandidate
	for _, c := range candidates {
		tooClose := false
		for _, k := range centers {
			if math.Hypot(float64(c.x-k.x), float64(c.y-k.y)) < circleMinDist {
				tooClose = true
				break
			}
		}
		if tooClose {
			continue
		}
		centers = append(centers, c)
		if len(centers) == circleMaxCenters {
			break
		}
	}

	for _, c := range centers {
		if radius, ok := e.confirmRadius(c.x, c.y); ok {
			circles = append(circles, Circle{X: c.x, Y: c.y, Radius: radius})
		}
	}
	return circles
}

func (e *edgeMap) confirmRadius(cx, cy int) (int, bool) {
	hist := make([]int, circleMaxRadius+2)
	for _, p := range e.points {
		d := int(math.Round(math.Hypot(float64(p.X-cx), float64(p.Y-cy))))
		if d >= circleMinRadius-1 && d <= circleMaxRadius+1 {
			hist[d]++
		}
	}

	best, bestSupport := 0, 0
	for r := circleMinRadius; r <= circleMaxRadius; r++ {
		support := hist[r-1] + hist[r] + hist[r+1]
		if support > bestSupport {
			best, bestSupport = r, support
		}
	}

	need := circleSupport * 2 * math.Pi * float64(best)
	if bestSupport < circleParam2 || float64(bestSupport) < need {
		return 0, false
	}
	return best, true
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
