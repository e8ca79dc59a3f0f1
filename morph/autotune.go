package morph

import (
	"sort"

	"gonum.org/v1/gonum/spatial/r3"
)

// RecommendDistanceThreshold suggests a distance threshold for a source and
// target pair: twice the median nearest-neighbor distance from target
// vertices to the source cloud. The doubling leaves headroom for the parts
// of the surfaces that genuinely diverge. Returns 0 when either mesh is
// empty.
func RecommendDistanceThreshold(source, target *Mesh) float64 {
	if source.VertexCount() == 0 || target.VertexCount() == 0 {
		return 0
	}
	tree := newVertexTree(source.Positions)
	dists := make([]float64, 0, target.VertexCount())
	for _, p := range target.Positions {
		if _, d := tree.nearest(p); isFinite(d) {
			dists = append(dists, d)
		}
	}
	if len(dists) == 0 {
		return 0
	}
	sort.Float64s(dists)
	mid := len(dists) / 2
	median := dists[mid]
	if len(dists)%2 == 0 {
		median = (dists[mid-1] + dists[mid]) / 2
	}
	return 2 * median
}

// MatchPercentAt previews the match rate the thresholds would produce. The
// displacement field plays no part in matching, so a zero field stands in.
// Returns 0 when nothing matches at all.
func MatchPercentAt(source, target *Mesh, distThreshold, normalThreshold float64) float64 {
	field := make([]r3.Vec, source.VertexCount())
	corr, err := FindCorrespondences(source, field, target, distThreshold, normalThreshold)
	if err != nil {
		return 0
	}
	return corr.MatchPercent()
}
