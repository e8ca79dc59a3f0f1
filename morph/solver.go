package morph

import (
	"fmt"
	"math"
	"sort"

	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// denseSolveCutoff bounds the unknown count for the dense Cholesky path.
// Larger systems go through preconditioned conjugate gradients instead.
const denseSolveCutoff = 1024

// cgTolerance is the relative residual target for the iterative path.
const cgTolerance = 1e-10

// AxisReport describes how one axis of the harmonic solve went. A failed
// axis is not an error: the unknown vertices degrade to zero displacement
// on that axis and the report carries the reason.
type AxisReport struct {
	Axis       string
	OK         bool
	Method     string
	Iterations int
	Residual   float64
	Reason     string
}

var axisNames = [3]string{"x", "y", "z"}

type matEntry struct {
	col int
	val float64
}

// rowEntries extracts the CSR rows with columns sorted, giving a canonical
// iteration order independent of how the matrix walks its non-zeros.
func rowEntries(m *sparse.CSR) [][]matEntry {
	r, _ := m.Dims()
	rows := make([][]matEntry, r)
	m.DoNonZero(func(i, j int, v float64) {
		rows[i] = append(rows[i], matEntry{col: j, val: v})
	})
	for i := range rows {
		sort.Slice(rows[i], func(a, b int) bool { return rows[i][a].col < rows[i][b].col })
	}
	return rows
}

// rowList emits the accumulated coefficients as sorted per-row entry lists.
func (b *matrixBuilder) rowList() [][]matEntry {
	rows := make([][]matEntry, b.n)
	for i := 0; i < b.n; i++ {
		cols := b.sortedCols(i)
		entries := make([]matEntry, 0, len(cols))
		for _, j := range cols {
			entries = append(entries, matEntry{col: j, val: b.rows[i][j]})
		}
		rows[i] = entries
	}
	return rows
}

// buildEnergyMatrix assembles Q = Lᵀ M⁻¹ L. Row k of L contributes the
// outer product of its entries scaled by 1/m_k, accumulated in ascending
// row order so the float sums are reproducible.
func buildEnergyMatrix(lap *Laplacian) [][]matEntry {
	n := lap.Size()
	lRows := rowEntries(lap.L)
	q := newMatrixBuilder(n)
	for k := 0; k < n; k++ {
		mk := lap.MassInv[k]
		for _, a := range lRows[k] {
			for _, b := range lRows[k] {
				q.add(a.col, b.col, mk*a.val*b.val)
			}
		}
	}
	return q.rowList()
}

func axisComponent(v r3.Vec, axis int) float64 {
	switch axis {
	case 0:
		return v.X
	case 1:
		return v.Y
	default:
		return v.Z
	}
}

func setAxisComponent(v *r3.Vec, axis int, s float64) {
	switch axis {
	case 0:
		v.X = s
	case 1:
		v.Y = s
	default:
		v.Z = s
	}
}

// SolveHarmonicField extends the displacements at known vertices to the
// rest of the mesh by minimizing the biharmonic-type energy xᵀQx per axis,
// with Q = LᵀM⁻¹L. Known vertices pass through exactly as given; they never
// enter the linear system. An axis whose solve breaks down degrades to zero
// displacement at the unknown vertices and is flagged in its report rather
// than failing the whole field.
func SolveHarmonicField(lap *Laplacian, known []bool, values []r3.Vec) ([]r3.Vec, []AxisReport, error) {
	n := lap.Size()
	if len(known) != n || len(values) != n {
		return nil, nil, fmt.Errorf("solver: operator size %d does not match known mask %d / values %d", n, len(known), len(values))
	}

	unknownIdx := make([]int, 0, n)
	local := make([]int, n)
	for i := range local {
		local[i] = -1
	}
	for i, k := range known {
		if !k {
			local[i] = len(unknownIdx)
			unknownIdx = append(unknownIdx, i)
		}
	}

	out := make([]r3.Vec, n)
	for i, k := range known {
		if k {
			out[i] = values[i]
		}
	}

	reports := make([]AxisReport, 0, 3)
	if len(unknownIdx) == 0 {
		for axis := 0; axis < 3; axis++ {
			reports = append(reports, AxisReport{Axis: axisNames[axis], OK: true, Method: "none"})
		}
		return out, reports, nil
	}

	qRows := buildEnergyMatrix(lap)
	sys := newReducedSystem(qRows, unknownIdx, local)

	for axis := 0; axis < 3; axis++ {
		rhs := make([]float64, len(unknownIdx))
		for u, g := range unknownIdx {
			var s float64
			for _, e := range qRows[g] {
				if known[e.col] {
					s += e.val * axisComponent(values[e.col], axis)
				}
			}
			rhs[u] = -s
		}

		solution, rep := sys.solve(rhs)
		rep.Axis = axisNames[axis]
		reports = append(reports, rep)
		if !rep.OK {
			continue // unknowns stay zero on this axis
		}
		for u, g := range unknownIdx {
			setAxisComponent(&out[g], axis, solution[u])
		}
	}
	return out, reports, nil
}

// reducedSystem holds Q restricted to the unknown block, shared across the
// three axis solves.
type reducedSystem struct {
	n    int
	rows [][]matEntry
	csr  *sparse.CSR
	diag []float64
}

func newReducedSystem(qRows [][]matEntry, unknownIdx, local []int) *reducedSystem {
	nU := len(unknownIdx)
	qu := newMatrixBuilder(nU)
	for u, g := range unknownIdx {
		for _, e := range qRows[g] {
			if lj := local[e.col]; lj >= 0 {
				qu.add(u, lj, e.val)
			}
		}
	}
	rows := qu.rowList()
	diag := make([]float64, nU)
	for i, row := range rows {
		for _, e := range row {
			if e.col == i {
				diag[i] = e.val
			}
		}
	}
	return &reducedSystem{n: nU, rows: rows, csr: qu.toCSR(), diag: diag}
}

func (s *reducedSystem) solve(rhs []float64) ([]float64, AxisReport) {
	if s.n <= denseSolveCutoff {
		if x, ok := s.solveDense(rhs); ok {
			if solutionFinite(x) {
				return x, AxisReport{OK: true, Method: "cholesky"}
			}
			return nil, AxisReport{Method: "cholesky", Reason: "non-finite solution"}
		}
		// Not positive definite, fall through to CG which tolerates
		// the semi-definite case.
	}

	x := make([]float64, s.n)
	maxIter := 4*s.n + 100
	res := conjugateGradient(s.csr, s.diag, rhs, x, maxIter, cgTolerance)
	rep := AxisReport{Method: "cg", Iterations: res.iterations, Residual: res.residual}
	if !res.converged {
		rep.Reason = fmt.Sprintf("cg stalled after %d iterations (residual %.3e)", res.iterations, res.residual)
		return nil, rep
	}
	if !solutionFinite(x) {
		rep.Reason = "non-finite solution"
		return nil, rep
	}
	rep.OK = true
	return x, rep
}

func (s *reducedSystem) solveDense(rhs []float64) ([]float64, bool) {
	sym := mat.NewSymDense(s.n, nil)
	for i, row := range s.rows {
		for _, e := range row {
			if e.col >= i {
				sym.SetSym(i, e.col, e.val)
			}
		}
	}
	var chol mat.Cholesky
	if !chol.Factorize(sym) {
		return nil, false
	}
	var x mat.VecDense
	if err := chol.SolveVecTo(&x, mat.NewVecDense(s.n, rhs)); err != nil {
		return nil, false
	}
	out := make([]float64, s.n)
	for i := range out {
		out[i] = x.AtVec(i)
	}
	return out, true
}

func solutionFinite(x []float64) bool {
	for _, v := range x {
		if !isFinite(v) {
			return false
		}
	}
	return true
}

type cgResult struct {
	iterations int
	residual   float64
	converged  bool
}

// conjugateGradient runs Jacobi-preconditioned CG starting from x. The
// system is symmetric positive semi-definite; breakdown (a non-positive
// curvature direction) terminates early and reports non-convergence.
func conjugateGradient(m *sparse.CSR, diag, b, x []float64, maxIter int, tol float64) cgResult {
	n := len(b)
	r := make([]float64, n)
	z := make([]float64, n)
	p := make([]float64, n)
	ap := make([]float64, n)

	copy(r, b) // x starts at zero
	bnorm := vecNorm(b)
	if bnorm == 0 {
		return cgResult{converged: true}
	}
	threshold := tol * bnorm

	applyJacobi(diag, r, z)
	copy(p, z)
	rz := vecDot(r, z)

	for it := 0; it < maxIter; it++ {
		res := vecNorm(r)
		if res <= threshold {
			return cgResult{iterations: it, residual: res, converged: true}
		}
		csrMatVec(m, p, ap)
		pap := vecDot(p, ap)
		if pap <= 0 || !isFinite(pap) {
			return cgResult{iterations: it, residual: res}
		}
		alpha := rz / pap
		for i := range x {
			x[i] += alpha * p[i]
			r[i] -= alpha * ap[i]
		}
		applyJacobi(diag, r, z)
		rzNext := vecDot(r, z)
		if !isFinite(rzNext) {
			return cgResult{iterations: it, residual: vecNorm(r)}
		}
		beta := rzNext / rz
		rz = rzNext
		for i := range p {
			p[i] = z[i] + beta*p[i]
		}
	}
	res := vecNorm(r)
	return cgResult{iterations: maxIter, residual: res, converged: res <= threshold}
}

func csrMatVec(m *sparse.CSR, x, y []float64) {
	for i := range y {
		y[i] = 0
	}
	m.DoNonZero(func(i, j int, v float64) {
		y[i] += v * x[j]
	})
}

func applyJacobi(diag, r, z []float64) {
	for i := range r {
		d := diag[i]
		if d <= 0 || !isFinite(d) {
			d = 1
		}
		z[i] = r[i] / d
	}
}

func vecDot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func vecNorm(a []float64) float64 {
	return math.Sqrt(vecDot(a, a))
}
