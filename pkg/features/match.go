package features

import (
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"
)

// descriptor is a feature descriptor that satisfies kdtree.Comparable
type descriptor struct {
	vec   []float64
	index int
}

// Compare implements the kdtree.Comparable interface
func (d descriptor) Compare(c kdtree.Comparable, dim kdtree.Dim) float64 {
	q := c.(descriptor)
	return d.vec[dim] - q.vec[dim]
}

// Dims returns the descriptor length
func (d descriptor) Dims() int { return len(d.vec) }

// Distance returns the squared Euclidean distance between two descriptors
func (d descriptor) Distance(c kdtree.Comparable) float64 {
	q := c.(descriptor)
	s := 0.0
	for i, v := range d.vec {
		diff := v - q.vec[i]
		s += diff * diff
	}
	return s
}

// descriptors is a collection that satisfies kdtree.Interface
type descriptors []descriptor

func (p descriptors) Index(i int) kdtree.Comparable         { return p[i] }
func (p descriptors) Len() int                              { return len(p) }
func (p descriptors) Slice(start, end int) kdtree.Interface { return p[start:end] }

// Pivot implements the kdtree.Interface method
func (p descriptors) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(descriptorPlane{descriptors: p, Dim: d}, kdtree.MedianOfRandoms(descriptorPlane{descriptors: p, Dim: d}, 100))
}

// descriptorPlane implements sort.Interface and kdtree.SortSlicer
type descriptorPlane struct {
	descriptors
	kdtree.Dim
}

func (p descriptorPlane) Less(i, j int) bool {
	return p.descriptors[i].vec[p.Dim] < p.descriptors[j].vec[p.Dim]
}

func (p descriptorPlane) Slice(start, end int) kdtree.SortSlicer {
	return descriptorPlane{descriptors: p.descriptors[start:end], Dim: p.Dim}
}

func (p descriptorPlane) Swap(i, j int) {
	p.descriptors[i], p.descriptors[j] = p.descriptors[j], p.descriptors[i]
}

// Match pairs feature A[A] with feature B[B].
type Match struct {
	A, B     int
	Distance float64
}

// index builds a kd-tree over the descriptors of fs. The tree reorders its
// own copy, so fs is untouched.
func index(fs []Feature) *kdtree.Tree {
	pts := make(descriptors, len(fs))
	for i, f := range fs {
		pts[i] = descriptor{vec: f.Descriptor, index: i}
	}
	return kdtree.New(pts, false)
}

// nearestTwo returns the best match index and the squared distances of the
// two nearest neighbours. ok is false when fewer than two were found.
func nearestTwo(t *kdtree.Tree, q descriptor) (best int, d1, d2 float64, ok bool) {
	keep := kdtree.NewNKeeper(2)
	t.NearestSet(keep, q)

	found := make([]kdtree.ComparableDist, 0, 2)
	for _, c := range keep.Heap {
		if c.Comparable != nil {
			found = append(found, c)
		}
	}
	if len(found) < 2 {
		return 0, 0, 0, false
	}
	sort.Slice(found, func(i, j int) bool { return found[i].Dist < found[j].Dist })
	return found[0].Comparable.(descriptor).index, found[0].Dist, found[1].Dist, true
}

// MatchFeatures pairs descriptors of a and b that are mutual nearest
// neighbours and pass the ratio test. Matches are ordered by index in a.
func MatchFeatures(a, b []Feature, ratio float64) []Match {
	if len(a) < 2 || len(b) < 2 {
		return nil
	}
	treeA := index(a)
	treeB := index(b)
	r2 := ratio * ratio

	var out []Match
	for i, fa := range a {
		j, d1, d2, ok := nearestTwo(treeB, descriptor{vec: fa.Descriptor, index: i})
		if !ok || d1 >= r2*d2 {
			continue
		}
		back, _, _, ok := nearestTwo(treeA, descriptor{vec: b[j].Descriptor, index: j})
		if !ok || back != i {
			continue
		}
		out = append(out, Match{A: i, B: j, Distance: d1})
	}
	return out
}
