package morph

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// degenerateAreaEpsilon is the triangle area below which geometry counts as
// degenerate for validation purposes.
const degenerateAreaEpsilon = 1e-6

// largeMeshVertexCount is the advisory size above which transfers get slow.
const largeMeshVertexCount = 100000

// ValidationReport collects structural errors and advisory warnings for a
// mesh. Errors make the mesh unusable for transfer; warnings flag quality
// problems the pipeline tolerates.
type ValidationReport struct {
	Errors   []string
	Warnings []string
}

// OK reports whether the mesh passed without structural errors.
func (r *ValidationReport) OK() bool { return len(r.Errors) == 0 }

func (r *ValidationReport) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *ValidationReport) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// ValidateMesh checks a mesh for the structural problems that break
// correspondence or Laplacian construction, and for the advisory ones that
// merely degrade quality. It never mutates the mesh.
func ValidateMesh(mesh *Mesh) *ValidationReport {
	report := &ValidationReport{}
	n := mesh.VertexCount()

	if n < 3 {
		report.errorf("mesh has %d vertices, need at least 3", n)
	}
	if mesh.TriangleCount() == 0 {
		report.errorf("mesh has no triangles")
	}
	if err := checkTriangleBounds(n, mesh.Triangles); err != nil {
		report.errorf("%v", err)
	}

	badCoords := 0
	for _, p := range mesh.Positions {
		if !isFinite(p.X) || !isFinite(p.Y) || !isFinite(p.Z) {
			badCoords++
		}
	}
	if badCoords > 0 {
		report.errorf("%d vertices have non-finite coordinates", badCoords)
	}

	if !report.OK() {
		return report
	}

	degenerate := 0
	referenced := make([]bool, n)
	edgeUse := make(map[[2]int]int)
	for _, tri := range mesh.Triangles {
		a, b, c := mesh.Positions[tri[0]], mesh.Positions[tri[1]], mesh.Positions[tri[2]]
		if TriangleArea(a, b, c) < degenerateAreaEpsilon {
			degenerate++
		}
		for _, v := range tri {
			referenced[v] = true
		}
		for e := 0; e < 3; e++ {
			i, j := tri[e], tri[(e+1)%3]
			if i > j {
				i, j = j, i
			}
			edgeUse[[2]int{i, j}]++
		}
	}
	if degenerate > 0 {
		report.warnf("%d degenerate triangles (area < %g)", degenerate, degenerateAreaEpsilon)
	}

	loose := 0
	for _, used := range referenced {
		if !used {
			loose++
		}
	}
	if loose > 0 {
		report.warnf("%d loose vertices not referenced by any triangle", loose)
	}

	nonManifold := 0
	for _, uses := range edgeUse {
		if uses > 2 {
			nonManifold++
		}
	}
	if nonManifold > 0 {
		report.warnf("%d non-manifold edges shared by more than two triangles", nonManifold)
	}

	if n > largeMeshVertexCount {
		report.warnf("mesh has %d vertices; transfers above %d get slow", n, largeMeshVertexCount)
	}
	return report
}

// FieldFinite reports the number of non-finite displacement vectors in the
// field.
func FieldFinite(field []r3.Vec) int {
	bad := 0
	for _, v := range field {
		if !isFinite(v.X) || !isFinite(v.Y) || !isFinite(v.Z) {
			bad++
		}
	}
	return bad
}
