package focal

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/optimize"
)

const (
	// gridSteps is the number of log-spaced candidates in the coarse search
	gridSteps = 120

	// truncation caps each squared residual so a few bad matches cannot dominate
	truncation = 3.0

	// minOutlierThreshold is the smallest rejection radius in pixels
	minOutlierThreshold = 1.5

	// madScale turns a median absolute deviation into a standard deviation
	madScale = 1.4826
)

// correspondence is a matched point pair in centred pixel coordinates:
// the optical axis passes through (0, 0) of both frames.
type correspondence struct {
	xa, ya float64
	xb, yb float64
}

// pairFit is the focal length of one pair of neighbours in detection pixels.
type pairFit struct {
	focal   float64
	step    float64
	inliers int
}

// residuals returns the horizontal and vertical misfit of every
// correspondence for focal f.
//
// Under a pure yaw the azimuth difference atan(xa/f) - atan(xb/f) is the same
// for every point, and the elevation tangent y/hypot(x, f) is unchanged.
func residuals(corr []correspondence, f float64, h, v []float64) {
	alpha := make([]float64, len(corr))
	for i, c := range corr {
		alpha[i] = math.Atan(c.xa/f) - math.Atan(c.xb/f)
	}
	med := median(alpha)
	for i, c := range corr {
		h[i] = f * (alpha[i] - med)
		v[i] = f * (c.ya/math.Hypot(c.xa, f) - c.yb/math.Hypot(c.xb, f))
	}
}

// cost is the truncated sum of squared residuals.
func cost(corr []correspondence, f float64) float64 {
	h := make([]float64, len(corr))
	v := make([]float64, len(corr))
	residuals(corr, f, h, v)
	t2 := truncation * truncation
	s := 0.0
	for i := range corr {
		s += math.Min(h[i]*h[i], t2) + math.Min(v[i]*v[i], t2)
	}
	return s
}

// yawStep returns the median azimuth difference between the frames.
func yawStep(corr []correspondence, f float64) float64 {
	alpha := make([]float64, len(corr))
	for i, c := range corr {
		alpha[i] = math.Atan(c.xa/f) - math.Atan(c.xb/f)
	}
	return median(alpha)
}

// minimise finds the focal length in [lo, hi] with the lowest cost.
// ok is false when the best grid candidate sits on a search bound, which
// happens when the correspondences do not constrain the focal length.
func minimise(corr []correspondence, lo, hi float64) (float64, bool) {
	logLo, logHi := math.Log(lo), math.Log(hi)
	best, bestCost := 0, math.Inf(1)
	for i := 0; i < gridSteps; i++ {
		f := math.Exp(logLo + (logHi-logLo)*float64(i)/float64(gridSteps-1))
		if c := cost(corr, f); c < bestCost {
			best, bestCost = i, c
		}
	}
	if best == 0 || best == gridSteps-1 {
		return 0, false
	}
	start := logLo + (logHi-logLo)*float64(best)/float64(gridSteps-1)
	fBest := math.Exp(start)

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			lf := math.Max(logLo, math.Min(logHi, x[0]))
			return cost(corr, math.Exp(lf))
		},
	}
	settings := &optimize.Settings{MajorIterations: 200, FuncEvaluations: 1000}
	res, err := optimize.Minimize(problem, []float64{start}, settings, &optimize.NelderMead{})
	if err != nil || res == nil || len(res.X) == 0 {
		return fBest, true
	}
	lf := math.Max(logLo, math.Min(logHi, res.X[0]))
	if f := math.Exp(lf); cost(corr, f) <= bestCost {
		return f, true
	}
	return fBest, true
}

// solvePair estimates the focal length from one pair's correspondences.
// width is the detection-scale frame width bounding the search range.
func solvePair(corr []correspondence, width float64, p Params) (pairFit, bool) {
	if len(corr) < p.MinMatches {
		return pairFit{}, false
	}
	lo, hi := p.MinFactor*width, p.MaxFactor*width
	f, ok := minimise(corr, lo, hi)
	if !ok {
		return pairFit{}, false
	}

	// One pass of outlier rejection around the first fit
	h := make([]float64, len(corr))
	v := make([]float64, len(corr))
	residuals(corr, f, h, v)
	r := make([]float64, len(corr))
	for i := range corr {
		r[i] = math.Hypot(h[i], v[i])
	}
	limit := math.Max(3*madScale*median(r), minOutlierThreshold)
	inliers := make([]correspondence, 0, len(corr))
	for i, c := range corr {
		if r[i] <= limit {
			inliers = append(inliers, c)
		}
	}
	if len(inliers) < p.MinMatches {
		return pairFit{}, false
	}
	if len(inliers) < len(corr) {
		if f, ok = minimise(inliers, lo, hi); !ok {
			return pairFit{}, false
		}
	}
	return pairFit{focal: f, step: yawStep(inliers, f), inliers: len(inliers)}, true
}

// median returns the median of values without modifying them.
func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	s := append([]float64(nil), values...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}
