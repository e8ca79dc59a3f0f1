package morph

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"
)

// IslandPartition is a partition of all vertices into disjoint connected
// components ("islands") derived purely from triangle adjacency. Every
// vertex belongs to exactly one component.
type IslandPartition struct {
	ComponentID []int   // per-vertex component index
	Components  [][]int // ascending vertex ids per component, ordered by lowest member
}

// AnalyzeIslands partitions vertices into connected components by
// breadth-first traversal of the adjacency graph induced by triangle edges.
// Vertices outside any triangle form singleton components.
func AnalyzeIslands(vertexCount int, triangles [][3]int) *IslandPartition {
	return analyzeIslandsAdj(vertexCount, BuildAdjacency(vertexCount, triangles))
}

func analyzeIslandsAdj(vertexCount int, adjacency [][]int) *IslandPartition {
	p := &IslandPartition{ComponentID: make([]int, vertexCount)}
	for i := range p.ComponentID {
		p.ComponentID[i] = -1
	}
	for start := 0; start < vertexCount; start++ {
		if p.ComponentID[start] >= 0 {
			continue
		}
		id := len(p.Components)
		p.ComponentID[start] = id
		queue := []int{start}
		var members []int
		for len(queue) > 0 {
			v := queue[0]
			queue = queue[1:]
			members = append(members, v)
			for _, n := range adjacency[v] {
				if p.ComponentID[n] < 0 {
					p.ComponentID[n] = id
					queue = append(queue, n)
				}
			}
		}
		sort.Ints(members)
		p.Components = append(p.Components, members)
	}
	return p
}

// Coverage returns, per component, the fraction of its vertices that are
// matched.
func (p *IslandPartition) Coverage(matched []bool) []float64 {
	coverage := make([]float64, len(p.Components))
	for ci, members := range p.Components {
		hit := 0
		for _, v := range members {
			if matched[v] {
				hit++
			}
		}
		coverage[ci] = float64(hit) / float64(len(members))
	}
	return coverage
}

// LowCoverage returns the indices of components whose matched fraction is
// below minCoverage.
func (p *IslandPartition) LowCoverage(matched []bool, minCoverage float64) []int {
	var low []int
	for ci, cov := range p.Coverage(matched) {
		if cov < minCoverage {
			low = append(low, ci)
		}
	}
	return low
}

// CopyNearestToIsland overrides field on each listed component with the
// displacement of the matched vertex closest to the component centroid. It
// is the simple non-solver island strategy selectable via IslandFallback
// "copy"; components without any matched vertex anywhere are left at their
// current values.
func CopyNearestToIsland(positions []r3.Vec, field []r3.Vec, corr *Correspondence, p *IslandPartition, components []int) {
	if corr.MatchCount() == 0 {
		return
	}
	for _, ci := range components {
		members := p.Components[ci]
		islandPositions := make([]r3.Vec, len(members))
		for i, v := range members {
			islandPositions[i] = positions[v]
		}
		center := Centroid(islandPositions)

		best := 0
		bestDist := math.Inf(1)
		for k, ti := range corr.Indices {
			d := r3.Norm2(r3.Sub(positions[ti], center))
			if d < bestDist {
				best = k
				bestDist = d
			}
		}
		for _, v := range members {
			field[v] = corr.Displacements[best]
		}
	}
}

// PartialIslandMode selects how ProcessPartialIslands treats a small island
// that ended up only partially displaced.
type PartialIslandMode string

const (
	// PartialIslandExclude zeroes the island's displacements.
	PartialIslandExclude PartialIslandMode = "exclude"
	// PartialIslandAverage assigns the mean of the island's nonzero
	// displacements to every island vertex.
	PartialIslandAverage PartialIslandMode = "average"
)

const (
	// smallIslandFraction bounds which components count as small islands,
	// as a share of total vertex count.
	smallIslandFraction = 0.05
	// partialMovedCutoff: islands with at least this moved fraction are
	// considered intentionally displaced and left alone.
	partialMovedCutoff = 0.8
	// movedEpsilon separates genuine displacement from numeric noise.
	movedEpsilon = 1e-9
)

// ProcessPartialIslands cleans up small islands that a transfer displaced
// only partially, which usually reads as an artifact on detached trim
// pieces. An island qualifies when it holds at most 5% of all vertices and
// strictly between 0% and 80% of its vertices moved. Returns the number of
// islands modified.
func ProcessPartialIslands(mesh *Mesh, field []r3.Vec, mode PartialIslandMode) (int, error) {
	if mode != PartialIslandExclude && mode != PartialIslandAverage {
		return 0, fmt.Errorf("partial islands: unknown mode %q", mode)
	}
	if len(field) != mesh.VertexCount() {
		return 0, fmt.Errorf("partial islands: field covers %d vertices, mesh has %d", len(field), mesh.VertexCount())
	}

	partition := AnalyzeIslands(mesh.VertexCount(), mesh.Triangles)
	maxSize := int(smallIslandFraction * float64(mesh.VertexCount()))
	processed := 0

	for _, members := range partition.Components {
		if len(members) > maxSize {
			continue
		}
		moved := 0
		var sum r3.Vec
		for _, v := range members {
			if r3.Norm(field[v]) > movedEpsilon {
				moved++
				sum = r3.Add(sum, field[v])
			}
		}
		if moved == 0 || float64(moved) >= partialMovedCutoff*float64(len(members)) {
			continue
		}

		switch mode {
		case PartialIslandExclude:
			for _, v := range members {
				field[v] = r3.Vec{}
			}
		case PartialIslandAverage:
			avg := r3.Scale(1/float64(moved), sum)
			for _, v := range members {
				field[v] = avg
			}
		}
		processed++
	}
	return processed, nil
}
