package align

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"panostitch/internal/models"
)

// minPairWeight keeps a barely accepted pair in the solve
const minPairWeight = 0.05

// SolveRow returns the final offsets of a column-ordered row.
//
// Frames joined by a pair without a usable measurement form a rigid group:
// they share one correction, so the predicted spacing of that pair is kept
// exactly. Every measured pair contributes
// correction[group(c+1)] - correction[group(c)] = measured correction,
// weighted by its correlation peak, and every frame pulls its group weakly
// towards zero correction so the system is never singular. When SpanWeight
// is positive, the first-to-last span is also tied to the model span. The
// horizontal and vertical axes are solved independently.
func SolveRow(anchors []models.Vec2, pairs []Measurement, p Params) []models.Vec2 {
	n := len(anchors)
	out := make([]models.Vec2, n)
	copy(out, anchors)
	if n < 2 {
		return out
	}

	group, groups := rigidGroups(pairs, n)
	dx := solveAxis(group, groups, pairs, p, func(v models.Vec2) float64 { return v.X })
	dy := solveAxis(group, groups, pairs, p, func(v models.Vec2) float64 { return v.Y })
	for i := range out {
		out[i] = anchors[i].Add(models.Vec2{X: dx[group[i]], Y: dy[group[i]]})
	}
	return out
}

// rigidGroups labels every frame with the run of unmeasured pairs it
// belongs to and returns the number of runs.
func rigidGroups(pairs []Measurement, n int) ([]int, int) {
	group := make([]int, n)
	g := 0
	for i := 1; i < n; i++ {
		if pairs[i-1].OK() {
			g++
		}
		group[i] = g
	}
	return group, g + 1
}

// solveAxis returns the correction of every group along one axis.
func solveAxis(group []int, groups int, pairs []Measurement, p Params, axis func(models.Vec2) float64) []float64 {
	measured := 0
	for _, pr := range pairs {
		if pr.OK() {
			measured++
		}
	}
	useSpan := p.SpanWeight > 0 && len(group) >= 3 && groups >= 2

	m := measured + groups
	if useSpan {
		m++
	}
	a := mat.NewDense(m, groups, nil)
	b := mat.NewVecDense(m, nil)

	row := 0
	for c, pr := range pairs {
		if !pr.OK() {
			continue
		}
		sw := math.Sqrt(math.Max(minPairWeight, math.Min(1, pr.Peak)))
		a.Set(row, group[c], -sw)
		a.Set(row, group[c+1], sw)
		b.SetVec(row, sw*axis(pr.Correction))
		row++
	}
	if useSpan {
		sw := math.Sqrt(p.SpanWeight)
		a.Set(row, 0, -sw)
		a.Set(row, groups-1, sw)
		row++
	}
	size := make([]float64, groups)
	for _, g := range group {
		size[g]++
	}
	prior := math.Max(p.PriorWeight, 1e-12)
	for g := 0; g < groups; g++ {
		a.Set(row, g, math.Sqrt(prior*size[g]))
		row++
	}

	var x mat.VecDense
	if err := x.SolveVec(a, b); err != nil {
		return make([]float64, groups)
	}
	out := make([]float64, groups)
	for g := range out {
		out[g] = x.AtVec(g)
	}
	return out
}
