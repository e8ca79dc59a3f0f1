package morph

import (
	"fmt"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/simplify"
	"gonum.org/v1/gonum/spatial/r3"
)

// ProjectionAxis selects the plane debug renders project onto.
type ProjectionAxis string

const (
	ProjectionXY ProjectionAxis = "xy"
	ProjectionXZ ProjectionAxis = "xz"
	ProjectionYZ ProjectionAxis = "yz"
)

// ParseProjectionAxis validates an axis name; empty means XY.
func ParseProjectionAxis(s string) (ProjectionAxis, error) {
	switch ProjectionAxis(s) {
	case "":
		return ProjectionXY, nil
	case ProjectionXY, ProjectionXZ, ProjectionYZ:
		return ProjectionAxis(s), nil
	}
	return "", fmt.Errorf("projection axis must be xy, xz or yz, got %q", s)
}

// Project maps a vertex onto the projection plane.
func (a ProjectionAxis) Project(v r3.Vec) orb.Point {
	switch a {
	case ProjectionXZ:
		return orb.Point{v.X, v.Z}
	case ProjectionYZ:
		return orb.Point{v.Y, v.Z}
	default:
		return orb.Point{v.X, v.Y}
	}
}

// Labels returns the plane's axis names for legends.
func (a ProjectionAxis) Labels() (string, string) {
	switch a {
	case ProjectionXZ:
		return "x", "z"
	case ProjectionYZ:
		return "y", "z"
	default:
		return "x", "y"
	}
}

// Overlay is the 2D projection of a transfer prepared for the debug
// renderers: every target vertex projected onto the plane, a simplified
// convex outline per island, and hulls around the clusters of unmatched
// vertices that mark where inpainting took over.
type Overlay struct {
	Axis           ProjectionAxis
	Points         []orb.Point // projected vertices, mesh order
	Bound          orb.Bound
	IslandOutlines []orb.Ring
	UnmatchedHulls []orb.Ring
}

// outlineSimplifyFraction scales Douglas-Peucker tolerance from the
// projected diagonal.
const outlineSimplifyFraction = 0.005

// clusterDistanceFraction scales the unmatched-cluster linkage distance
// from the projected diagonal.
const clusterDistanceFraction = 0.02

// BuildOverlay projects the target mesh and the match mask onto the chosen
// plane. matched must be mesh.VertexCount() long; pass a TransferResult's
// Matched slice.
func BuildOverlay(mesh *Mesh, matched []bool, axis ProjectionAxis) *Overlay {
	ov := &Overlay{Axis: axis}
	if mesh.VertexCount() == 0 {
		return ov
	}

	ov.Points = make([]orb.Point, mesh.VertexCount())
	for i, v := range mesh.Positions {
		ov.Points[i] = axis.Project(v)
	}
	ov.Bound = orb.Bound{Min: ov.Points[0], Max: ov.Points[0]}
	for _, p := range ov.Points[1:] {
		ov.Bound = ov.Bound.Extend(p)
	}
	diag := planar.Distance(ov.Bound.Min, ov.Bound.Max)

	partition := AnalyzeIslands(mesh.VertexCount(), mesh.Triangles)
	for _, members := range partition.Components {
		pts := make([]orb.Point, len(members))
		for i, v := range members {
			pts[i] = ov.Points[v]
		}
		if ring := outlineRing(pts, diag*outlineSimplifyFraction); ring != nil {
			ov.IslandOutlines = append(ov.IslandOutlines, ring)
		}
	}

	var unmatchedPts []orb.Point
	for i, ok := range matched {
		if !ok {
			unmatchedPts = append(unmatchedPts, ov.Points[i])
		}
	}
	for _, cluster := range ClusterPoints(unmatchedPts, diag*clusterDistanceFraction) {
		pts := make([]orb.Point, len(cluster))
		for i, idx := range cluster {
			pts[i] = unmatchedPts[idx]
		}
		if ring := outlineRing(pts, 0); ring != nil {
			ov.UnmatchedHulls = append(ov.UnmatchedHulls, ring)
		}
	}
	return ov
}

// outlineRing builds a closed convex outline around the points, optionally
// simplified. Returns nil when the points cannot span an area.
func outlineRing(points []orb.Point, tolerance float64) orb.Ring {
	hull := convexHull(points)
	if len(hull) < 3 {
		return nil
	}
	ring := make(orb.Ring, 0, len(hull)+1)
	ring = append(ring, hull...)
	ring = append(ring, hull[0])
	if tolerance <= 0 {
		return ring
	}
	simplified := simplify.DouglasPeucker(tolerance).Simplify(ring.Clone())
	result, ok := simplified.(orb.Ring)
	if !ok || len(result) < 4 {
		return ring
	}
	return result
}

// ClusterPoints groups points into single-linkage proximity clusters: two
// points closer than maxDist join the same cluster, transitively. Returned
// clusters hold indices into points, members ascending, ordered by size
// descending with ties broken by first member.
func ClusterPoints(points []orb.Point, maxDist float64) [][]int {
	if len(points) == 0 {
		return nil
	}

	uf := newUnionFind(len(points))
	for i := 0; i < len(points); i++ {
		for j := i + 1; j < len(points); j++ {
			if planar.Distance(points[i], points[j]) <= maxDist {
				uf.union(i, j)
			}
		}
	}

	clusters := make(map[int][]int)
	for i := range points {
		root := uf.find(i)
		clusters[root] = append(clusters[root], i)
	}

	result := make([][]int, 0, len(clusters))
	for _, cluster := range clusters {
		result = append(result, cluster)
	}
	sort.Slice(result, func(i, j int) bool {
		if len(result[i]) != len(result[j]) {
			return len(result[i]) > len(result[j])
		}
		return result[i][0] < result[j][0]
	})
	return result
}

// convexHull computes the convex hull of the points using the Andrew
// monotone chain algorithm. Fewer than 3 points are returned as-is.
func convexHull(points []orb.Point) []orb.Point {
	if len(points) < 3 {
		result := make([]orb.Point, len(points))
		copy(result, points)
		return result
	}

	// Sort by x, then y
	sorted := make([]orb.Point, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i][0] != sorted[j][0] {
			return sorted[i][0] < sorted[j][0]
		}
		return sorted[i][1] < sorted[j][1]
	})

	// cross returns the cross product of vectors OA and OB where O is origin
	cross := func(o, a, b orb.Point) float64 {
		return (a[0]-o[0])*(b[1]-o[1]) - (a[1]-o[1])*(b[0]-o[0])
	}

	n := len(sorted)
	hull := make([]orb.Point, 0, 2*n)

	// Lower hull
	for _, p := range sorted {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}

	// Upper hull
	lower := len(hull) + 1
	for i := n - 2; i >= 0; i-- {
		p := sorted[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}

	// Remove last point (duplicate of first)
	return hull[:len(hull)-1]
}

// unionFind implements union by size with path compression.
type unionFind struct {
	parent []int
	size   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{
		parent: make([]int, n),
		size:   make([]int, n),
	}
	for i := range uf.parent {
		uf.parent[i] = i
		uf.size[i] = 1
	}
	return uf
}

func (uf *unionFind) find(x int) int {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]]
		x = uf.parent[x]
	}
	return x
}

func (uf *unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return
	}
	if uf.size[ra] < uf.size[rb] {
		ra, rb = rb, ra
	}
	uf.parent[rb] = ra
	uf.size[ra] += uf.size[rb]
}
