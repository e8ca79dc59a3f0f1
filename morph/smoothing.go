package morph

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// SmoothUnmatched runs Jacobi relaxation passes over the displacement field,
// moving only the unmatched (inpainted) vertices. Neighbors are weighted by
// 1/(1+edgeLength) so short edges dominate, and matched vertices anchor the
// field without ever moving. Zero iterations returns a copy of the field.
// field and matched must be mesh.VertexCount() long.
func SmoothUnmatched(mesh *Mesh, field []r3.Vec, matched []bool, iterations int) []r3.Vec {
	cur := append([]r3.Vec(nil), field...)
	if iterations <= 0 {
		return cur
	}
	adj := BuildAdjacency(mesh.VertexCount(), mesh.Triangles)
	next := make([]r3.Vec, len(cur))
	for it := 0; it < iterations; it++ {
		copy(next, cur)
		for v := range cur {
			if matched[v] || len(adj[v]) == 0 {
				continue
			}
			var acc r3.Vec
			var wsum float64
			for _, u := range adj[v] {
				w := 1 / (1 + r3.Norm(r3.Sub(mesh.Positions[u], mesh.Positions[v])))
				acc = r3.Add(acc, r3.Scale(w, cur[u]))
				wsum += w
			}
			if wsum > 0 {
				next[v] = r3.Scale(1/wsum, acc)
			}
		}
		cur, next = next, cur
	}
	return cur
}

// BuildBoundaryMask marks the unmoved vertices that sit within width rings
// of the moved region, for blending a transferred patch into untouched
// geometry. Ring r carries weight (1 − r/(width+1))², so the mask decays
// quadratically away from the seam. Moved components too small to form a
// real seam (at most smallIslandFraction of the mesh) do not seed the mask.
func BuildBoundaryMask(mesh *Mesh, moved []bool, width int) []float64 {
	n := mesh.VertexCount()
	mask := make([]float64, n)
	if width < 0 {
		return mask
	}
	adj := BuildAdjacency(mesh.VertexCount(), mesh.Triangles)

	minSeed := int(smallIslandFraction * float64(n))
	eligible := make([]bool, n)
	for _, comp := range movedComponents(adj, moved) {
		if len(comp) <= minSeed {
			continue
		}
		for _, v := range comp {
			eligible[v] = true
		}
	}

	ring := make([]int, n)
	for i := range ring {
		ring[i] = -1
	}
	var queue []int
	for v := 0; v < n; v++ {
		if moved[v] {
			continue
		}
		for _, u := range adj[v] {
			if eligible[u] {
				ring[v] = 0
				queue = append(queue, v)
				break
			}
		}
	}
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		if ring[v] >= width {
			continue
		}
		for _, u := range adj[v] {
			if moved[u] || ring[u] >= 0 {
				continue
			}
			ring[u] = ring[v] + 1
			queue = append(queue, u)
		}
	}

	for v, r := range ring {
		if r < 0 {
			continue
		}
		t := 1 - float64(r)/float64(width+1)
		mask[v] = t * t
	}
	return mask
}

// movedComponents groups the moved vertices into connected components over
// edges that join two moved vertices.
func movedComponents(adj [][]int, moved []bool) [][]int {
	n := len(adj)
	visited := make([]bool, n)
	var components [][]int
	for start := 0; start < n; start++ {
		if visited[start] || !moved[start] {
			continue
		}
		var comp []int
		queue := []int{start}
		visited[start] = true
		for len(queue) > 0 {
			v := queue[0]
			queue = queue[1:]
			comp = append(comp, v)
			for _, u := range adj[v] {
				if visited[u] || !moved[u] {
					continue
				}
				visited[u] = true
				queue = append(queue, u)
			}
		}
		components = append(components, comp)
	}
	return components
}

// BlurMask diffuses a per-vertex weight mask with uniform self+neighbor
// averaging, softening the hard ring steps BuildBoundaryMask produces.
func BlurMask(mesh *Mesh, mask []float64, iterations int) []float64 {
	cur := append([]float64(nil), mask...)
	if iterations <= 0 {
		return cur
	}
	adj := BuildAdjacency(mesh.VertexCount(), mesh.Triangles)
	next := make([]float64, len(cur))
	for it := 0; it < iterations; it++ {
		for v := range cur {
			sum := cur[v]
			for _, u := range adj[v] {
				sum += cur[u]
			}
			next[v] = sum / float64(len(adj[v])+1)
		}
		cur, next = next, cur
	}
	return cur
}

// ApplyWeightedSmoothing relaxes the field toward the neighborhood average
// wherever the mask is positive. Each pass blends 0.3 of the current value
// with 0.7 of the uniform neighbor average, applied with strength
// mask^0.7 so low-weight vertices barely move. Zero-mask vertices are
// untouched.
func ApplyWeightedSmoothing(mesh *Mesh, field []r3.Vec, mask []float64, iterations int) []r3.Vec {
	cur := append([]r3.Vec(nil), field...)
	if iterations <= 0 {
		return cur
	}
	adj := BuildAdjacency(mesh.VertexCount(), mesh.Triangles)
	next := make([]r3.Vec, len(cur))
	for it := 0; it < iterations; it++ {
		copy(next, cur)
		for v := range cur {
			if mask[v] <= 0 || len(adj[v]) == 0 {
				continue
			}
			var acc r3.Vec
			for _, u := range adj[v] {
				acc = r3.Add(acc, cur[u])
			}
			avg := r3.Scale(1/float64(len(adj[v])), acc)
			smoothed := r3.Add(r3.Scale(0.3, cur[v]), r3.Scale(0.7, avg))
			eff := math.Pow(mask[v], 0.7)
			next[v] = r3.Add(cur[v], r3.Scale(eff, r3.Sub(smoothed, cur[v])))
		}
		cur, next = next, cur
	}
	return cur
}
