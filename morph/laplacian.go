package morph

import (
	"fmt"
	"math"
	"sort"

	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/spatial/r3"
)

// LaplacianMode identifies which discretization built the operator.
type LaplacianMode string

const (
	// LaplacianSurface is the cotangent discretization over mesh connectivity.
	LaplacianSurface LaplacianMode = "surface"
	// LaplacianPoint is the proximity-kernel discretization that ignores
	// connectivity entirely.
	LaplacianPoint LaplacianMode = "point"
)

// DefaultPointNeighbors is the neighborhood size for the point-based
// Laplacian.
const DefaultPointNeighbors = 8

// Laplacian bundles the sparse operator L with the inverse of its diagonal
// mass matrix. L is normalized so xᵀLx is non-negative for a well-formed
// input; both are N×N for N vertices and never mutated after construction.
type Laplacian struct {
	L       *sparse.CSR
	MassInv []float64
	Mode    LaplacianMode
	// Repaired counts triangles whose cotangent weights came out
	// non-finite and were replaced with uniform weights.
	Repaired int
}

// Size returns the operator dimension (the vertex count it was built for).
func (l *Laplacian) Size() int { return len(l.MassInv) }

// matrixBuilder accumulates sparse symmetric coefficients with a
// deterministic emission order: additions happen in caller order, emission
// walks rows ascending with sorted columns. That keeps assembled float sums
// reproducible run to run.
type matrixBuilder struct {
	n    int
	rows []map[int]float64
}

func newMatrixBuilder(n int) *matrixBuilder {
	return &matrixBuilder{n: n, rows: make([]map[int]float64, n)}
}

func (b *matrixBuilder) add(i, j int, v float64) {
	if b.rows[i] == nil {
		b.rows[i] = make(map[int]float64, 8)
	}
	b.rows[i][j] += v
}

func (b *matrixBuilder) sortedCols(i int) []int {
	cols := make([]int, 0, len(b.rows[i]))
	for j := range b.rows[i] {
		cols = append(cols, j)
	}
	sort.Ints(cols)
	return cols
}

// toCSR emits the coefficients as a canonical CSR matrix: rows ascending,
// column indices sorted within each row.
func (b *matrixBuilder) toCSR() *sparse.CSR {
	ia := make([]int, 1, b.n+1)
	var ja []int
	var data []float64
	for i := 0; i < b.n; i++ {
		for _, j := range b.sortedCols(i) {
			ja = append(ja, j)
			data = append(data, b.rows[i][j])
		}
		ia = append(ia, len(ja))
	}
	return sparse.NewCSR(b.n, b.n, ia, ja, data)
}

// quadraticForm returns xᵀAx over the accumulated coefficients.
func (b *matrixBuilder) quadraticForm(x []float64) float64 {
	total := 0.0
	for i := 0; i < b.n; i++ {
		if b.rows[i] == nil {
			continue
		}
		for _, j := range b.sortedCols(i) {
			total += x[i] * b.rows[i][j] * x[j]
		}
	}
	return total
}

func (b *matrixBuilder) negate() {
	for _, row := range b.rows {
		for j := range row {
			row[j] = -row[j]
		}
	}
}

// ensurePSDSign probes the quadratic form with a few non-constant vectors
// and flips the operator when it comes out negative, normalizing to the
// convention where xᵀLx ≥ 0.
func ensurePSDSign(b *matrixBuilder, positions []r3.Vec) {
	const tiny = 1e-14
	probes := make([][]float64, 0, 4)
	for axis := 0; axis < 3; axis++ {
		probe := make([]float64, len(positions))
		for i, p := range positions {
			switch axis {
			case 0:
				probe[i] = p.X
			case 1:
				probe[i] = p.Y
			default:
				probe[i] = p.Z
			}
		}
		probes = append(probes, probe)
	}
	ramp := make([]float64, len(positions))
	for i := range ramp {
		ramp[i] = float64(i)
	}
	probes = append(probes, ramp)

	for _, probe := range probes {
		q := b.quadraticForm(probe)
		if q > tiny {
			return
		}
		if q < -tiny {
			b.negate()
			return
		}
	}
}

// halfCot returns cot(angle at c between the edges c→a and c→b) / 2, the
// cotangent weight one triangle corner contributes to its opposite edge.
// Degenerate corners return +Inf so the caller can detect and repair them.
func halfCot(a, b, c r3.Vec) float64 {
	u := r3.Sub(a, c)
	v := r3.Sub(b, c)
	cross := r3.Norm(r3.Cross(u, v))
	if cross == 0 {
		return math.Inf(1)
	}
	return 0.5 * r3.Dot(u, v) / cross
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// BuildSurfaceLaplacian constructs the cotangent Laplacian and barycentric
// lumped mass matrix over mesh connectivity. Individual degenerate triangles
// are repaired with uniform weights; a mesh with no usable triangles at all
// is a construction failure, and the caller falls back to the point-based
// variant.
func BuildSurfaceLaplacian(mesh *Mesh) (*Laplacian, error) {
	n := mesh.VertexCount()
	if n == 0 {
		return nil, fmt.Errorf("surface laplacian: mesh has no vertices")
	}
	if mesh.TriangleCount() == 0 {
		return nil, fmt.Errorf("surface laplacian: mesh has no triangles")
	}

	builder := newMatrixBuilder(n)
	mass := make([]float64, n)
	repaired := 0
	areaSeen := false

	for _, tri := range mesh.Triangles {
		a, b, c := mesh.Positions[tri[0]], mesh.Positions[tri[1]], mesh.Positions[tri[2]]
		ws := [3]float64{
			halfCot(b, c, a), // edge (1,2), angle at corner 0
			halfCot(c, a, b), // edge (2,0), angle at corner 1
			halfCot(a, b, c), // edge (0,1), angle at corner 2
		}
		if !isFinite(ws[0]) || !isFinite(ws[1]) || !isFinite(ws[2]) {
			ws = [3]float64{0.5, 0.5, 0.5}
			repaired++
		}
		edges := [3][2]int{{tri[1], tri[2]}, {tri[2], tri[0]}, {tri[0], tri[1]}}
		for e, w := range ws {
			i, j := edges[e][0], edges[e][1]
			if i == j {
				continue
			}
			builder.add(i, j, -w)
			builder.add(j, i, -w)
			builder.add(i, i, w)
			builder.add(j, j, w)
		}
		if area := TriangleArea(a, b, c); area > 0 && isFinite(area) {
			areaSeen = true
			third := area / 3
			for _, v := range tri {
				mass[v] += third
			}
		}
	}

	if !areaSeen {
		return nil, fmt.Errorf("surface laplacian: all %d triangles are degenerate", mesh.TriangleCount())
	}

	ensurePSDSign(builder, mesh.Positions)

	return &Laplacian{
		L:        builder.toCSR(),
		MassInv:  invertMass(mass),
		Mode:     LaplacianSurface,
		Repaired: repaired,
	}, nil
}

// BuildPointLaplacian constructs a proximity-kernel graph Laplacian: each
// vertex couples to its k nearest neighbors with Gaussian weights scaled by
// the local neighborhood radius. Connectivity is ignored, which makes this
// variant tolerant of disconnected or degenerate geometry at a cost in
// surface fidelity.
func BuildPointLaplacian(positions []r3.Vec, k int) (*Laplacian, error) {
	n := len(positions)
	if n < 2 {
		return nil, fmt.Errorf("point laplacian: need at least 2 points, got %d", n)
	}
	if k <= 0 {
		k = DefaultPointNeighbors
	}
	if k > n-1 {
		k = n - 1
	}

	tree := newVertexTree(positions)
	builder := newMatrixBuilder(n)
	mass := make([]float64, n)

	for i, p := range positions {
		indices, dists := tree.nearestK(p, k+1) // the query vertex rides along
		var sum float64
		neighbors := 0
		for t, j := range indices {
			if j == i {
				continue
			}
			sum += dists[t]
			neighbors++
		}
		if neighbors == 0 {
			continue
		}
		sigma := sum / float64(neighbors)
		for t, j := range indices {
			if j == i {
				continue
			}
			w := 1.0
			if sigma > 0 {
				d := dists[t]
				w = math.Exp(-(d * d) / (2 * sigma * sigma))
			}
			// Each undirected pair can be visited from both sides, so
			// every visit deposits half the weight symmetrically.
			builder.add(i, j, -0.5*w)
			builder.add(j, i, -0.5*w)
			builder.add(i, i, 0.5*w)
			builder.add(j, j, 0.5*w)
			mass[i] += 0.5 * w
			mass[j] += 0.5 * w
		}
	}

	ensurePSDSign(builder, positions)

	return &Laplacian{
		L:       builder.toCSR(),
		MassInv: invertMass(mass),
		Mode:    LaplacianPoint,
	}, nil
}

// invertMass inverts the diagonal mass vector, substituting the mean
// positive mass for empty or non-finite entries so an isolated vertex
// cannot poison the energy operator.
func invertMass(mass []float64) []float64 {
	var sum float64
	positive := 0
	for _, m := range mass {
		if m > 0 && isFinite(m) {
			sum += m
			positive++
		}
	}
	mean := 1.0
	if positive > 0 {
		mean = sum / float64(positive)
	}
	inv := make([]float64, len(mass))
	for i, m := range mass {
		if m <= 0 || !isFinite(m) {
			m = mean
		}
		inv[i] = 1 / m
	}
	return inv
}
