package morph

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrNoCorrespondence is returned when zero target vertices pass validation;
// with no known values there is no basis for inpainting and the transfer
// cannot proceed.
var ErrNoCorrespondence = errors.New("no valid correspondences found")

// vertexPoint is one indexed vertex stored in a kd-tree. The index rides
// along because kdtree.New reorders the backing slice in place.
type vertexPoint struct {
	pos   r3.Vec
	index int
}

func (p vertexPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(vertexPoint)
	switch d {
	case 0:
		return p.pos.X - q.pos.X
	case 1:
		return p.pos.Y - q.pos.Y
	case 2:
		return p.pos.Z - q.pos.Z
	}
	panic("unreachable")
}

func (p vertexPoint) Dims() int { return 3 }

// Distance returns the squared Euclidean distance, the metric the kd-tree
// search operates in.
func (p vertexPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(vertexPoint)
	return r3.Norm2(r3.Sub(p.pos, q.pos))
}

// vertexSet adapts an indexed vertex slice to kdtree.Interface.
type vertexSet []vertexPoint

func newVertexSet(positions []r3.Vec) vertexSet {
	set := make(vertexSet, len(positions))
	for i, p := range positions {
		set[i] = vertexPoint{pos: p, index: i}
	}
	return set
}

func (s vertexSet) Index(i int) kdtree.Comparable { return s[i] }

func (s vertexSet) Len() int { return len(s) }

func (s vertexSet) Pivot(d kdtree.Dim) int {
	p := vertexPlane{dim: d, set: s}
	return kdtree.Partition(p, kdtree.MedianOfMedians(p))
}

func (s vertexSet) Slice(start, end int) kdtree.Interface { return s[start:end] }

// Bounds implements kdtree.Bounder so the tree can prune against the cloud's
// bounding box.
func (s vertexSet) Bounds() *kdtree.Bounding {
	if len(s) == 0 {
		return nil
	}
	min := r3.Vec{X: math.MaxFloat64, Y: math.MaxFloat64, Z: math.MaxFloat64}
	max := r3.Vec{X: -math.MaxFloat64, Y: -math.MaxFloat64, Z: -math.MaxFloat64}
	for _, p := range s {
		min = minElem(min, p.pos)
		max = maxElem(max, p.pos)
	}
	return &kdtree.Bounding{
		Min: vertexPoint{pos: min},
		Max: vertexPoint{pos: max},
	}
}

// vertexPlane sorts a vertexSet along one dimension for pivot selection.
type vertexPlane struct {
	dim kdtree.Dim
	set vertexSet
}

func (p vertexPlane) Less(i, j int) bool {
	return p.set[i].Compare(p.set[j], p.dim) < 0
}

func (p vertexPlane) Swap(i, j int) {
	p.set[i], p.set[j] = p.set[j], p.set[i]
}

func (p vertexPlane) Len() int { return len(p.set) }

func (p vertexPlane) Slice(start, end int) kdtree.SortSlicer {
	p.set = p.set[start:end]
	return p
}

// vertexTree is a static nearest-neighbor index over a vertex cloud.
type vertexTree struct {
	tree *kdtree.Tree
}

func newVertexTree(positions []r3.Vec) *vertexTree {
	return &vertexTree{tree: kdtree.New(newVertexSet(positions), true)}
}

// nearest returns the index of the closest stored vertex to q and the
// Euclidean distance to it. Exact-distance ties resolve to the lowest index
// so results do not depend on tree layout.
func (t *vertexTree) nearest(q r3.Vec) (int, float64) {
	got, d2 := t.tree.Nearest(vertexPoint{pos: q, index: -1})
	if got == nil {
		return -1, math.Inf(1)
	}
	idx := got.(vertexPoint).index
	keep := kdtree.NewDistKeeper(d2)
	t.tree.NearestSet(keep, vertexPoint{pos: q, index: -1})
	for _, cd := range keep.Heap {
		if cd.Comparable == nil {
			continue
		}
		if p := cd.Comparable.(vertexPoint); cd.Dist <= d2 && p.index < idx {
			idx = p.index
		}
	}
	return idx, math.Sqrt(d2)
}

// nearestK fills out with up to k nearest stored vertices to q, sorted by
// index for deterministic downstream accumulation, and returns them with
// their Euclidean distances.
func (t *vertexTree) nearestK(q r3.Vec, k int) ([]int, []float64) {
	keep := kdtree.NewNKeeper(k)
	t.tree.NearestSet(keep, vertexPoint{pos: q, index: -1})
	type hit struct {
		index int
		dist  float64
	}
	hits := make([]hit, 0, k)
	for _, cd := range keep.Heap {
		if cd.Comparable == nil {
			continue
		}
		p := cd.Comparable.(vertexPoint)
		hits = append(hits, hit{index: p.index, dist: math.Sqrt(cd.Dist)})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].index < hits[j].index })
	indices := make([]int, len(hits))
	dists := make([]float64, len(hits))
	for i, h := range hits {
		indices[i] = h.index
		dists[i] = h.dist
	}
	return indices, dists
}

// Correspondence holds the validated target→source matches for one transfer.
type Correspondence struct {
	Indices       []int     // matched target vertex ids, ascending
	SourceIndices []int     // matched source vertex id per entry
	Displacements []r3.Vec  // source displacement per entry
	Distances     []float64 // Euclidean distance to the matched source vertex
	TargetCount   int       // total target vertices considered
}

// MatchCount returns the number of validated matches.
func (c *Correspondence) MatchCount() int { return len(c.Indices) }

// MatchPercent returns the share of target vertices with a validated match,
// in percent.
func (c *Correspondence) MatchPercent() float64 {
	if c.TargetCount == 0 {
		return 0
	}
	return 100 * float64(len(c.Indices)) / float64(c.TargetCount)
}

// MatchedMask returns a per-target-vertex flag slice, true where matched.
func (c *Correspondence) MatchedMask() []bool {
	mask := make([]bool, c.TargetCount)
	for _, i := range c.Indices {
		mask[i] = true
	}
	return mask
}

// FindCorrespondences matches every target vertex against its nearest source
// vertex and keeps the pairs passing both validity predicates: Euclidean
// distance strictly below distThreshold, and absolute normal cosine strictly
// above normalThreshold. The absolute cosine tolerates flipped normals, which
// show up wherever double-sided or mirrored surfaces overlap.
//
// field maps source vertex id to its displacement and must cover every
// source vertex. Returns ErrNoCorrespondence (wrapped, with counts) when
// nothing validates.
func FindCorrespondences(source *Mesh, field []r3.Vec, target *Mesh, distThreshold, normalThreshold float64) (*Correspondence, error) {
	if len(field) != source.VertexCount() {
		return nil, fmt.Errorf("correspondence: field covers %d vertices, source has %d", len(field), source.VertexCount())
	}
	if distThreshold <= 0 {
		return nil, fmt.Errorf("correspondence: distance threshold must be > 0, got %g", distThreshold)
	}
	if normalThreshold < 0 || normalThreshold > 1 {
		return nil, fmt.Errorf("correspondence: normal threshold must be in [0,1], got %g", normalThreshold)
	}
	if source.VertexCount() == 0 || target.VertexCount() == 0 {
		return nil, fmt.Errorf("correspondence: %w (source %d vertices, target %d)",
			ErrNoCorrespondence, source.VertexCount(), target.VertexCount())
	}

	srcNormals := source.Normals
	if srcNormals == nil {
		srcNormals = VertexNormals(source.Positions, source.Triangles)
	}
	tgtNormals := target.Normals
	if tgtNormals == nil {
		tgtNormals = VertexNormals(target.Positions, target.Triangles)
	}

	tree := newVertexTree(source.Positions)
	corr := &Correspondence{TargetCount: target.VertexCount()}
	for i, p := range target.Positions {
		srcIdx, dist := tree.nearest(p)
		if srcIdx < 0 || dist >= distThreshold {
			continue
		}
		if math.Abs(r3.Cos(tgtNormals[i], srcNormals[srcIdx])) <= normalThreshold {
			continue
		}
		corr.Indices = append(corr.Indices, i)
		corr.SourceIndices = append(corr.SourceIndices, srcIdx)
		corr.Displacements = append(corr.Displacements, field[srcIdx])
		corr.Distances = append(corr.Distances, dist)
	}

	if len(corr.Indices) == 0 {
		return nil, fmt.Errorf("correspondence: %w (0 of %d target vertices within %g of a source vertex with |cos| > %g)",
			ErrNoCorrespondence, target.VertexCount(), distThreshold, normalThreshold)
	}
	return corr, nil
}
