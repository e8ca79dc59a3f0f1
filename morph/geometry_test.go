package morph

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"
)

func TestVertexNormalsFlatGrid(t *testing.T) {
	mesh := makeGridMesh(t, 5, 5, 0.2)
	for i, n := range mesh.Normals {
		if !vecApproxEqual(n, r3.Vec{Z: 1}, 1e-12) {
			t.Errorf("normal[%d] = %v, want +Z", i, n)
		}
	}
}

func TestVertexNormalsLooseAndDegenerate(t *testing.T) {
	// Vertex 3 is outside every triangle, triangle {0,1,4} is collinear.
	positions := []r3.Vec{{}, {X: 1}, {Y: 1}, {X: 9}, {X: 2}}
	normals := VertexNormals(positions, [][3]int{{0, 1, 2}, {0, 1, 4}})

	if normals[3] != (r3.Vec{}) {
		t.Errorf("loose vertex normal = %v, want zero", normals[3])
	}
	if normals[4] != (r3.Vec{}) {
		t.Errorf("degenerate-only vertex normal = %v, want zero", normals[4])
	}
	for _, v := range []int{0, 1, 2} {
		if !vecApproxEqual(normals[v], r3.Vec{Z: 1}, 1e-12) {
			t.Errorf("normal[%d] = %v, want +Z", v, normals[v])
		}
	}
}

func TestVertexNormalsAngleWeighted(t *testing.T) {
	// A box corner: three unit-square faces meeting at the origin with
	// equal opening angles there, so the corner normal is the diagonal.
	positions := []r3.Vec{
		{}, {X: 1}, {Y: 1}, {Z: 1},
	}
	triangles := [][3]int{
		{0, 1, 2}, // +Z face
		{0, 2, 3}, // +X face
		{0, 3, 1}, // +Y face
	}
	normals := VertexNormals(positions, triangles)
	want := r3.Unit(r3.Vec{X: 1, Y: 1, Z: 1})
	if !vecApproxEqual(normals[0], want, 1e-12) {
		t.Errorf("corner normal = %v, want %v", normals[0], want)
	}
}

func TestBuildAdjacency(t *testing.T) {
	// Two triangles sharing edge 1-2, plus loose vertex 4.
	adj := BuildAdjacency(5, [][3]int{{0, 1, 2}, {1, 3, 2}})

	want := [][]int{
		{1, 2},
		{0, 2, 3},
		{0, 1, 3},
		{1, 2},
		nil,
	}
	for v := range want {
		if len(adj[v]) != len(want[v]) {
			t.Errorf("adj[%d] = %v, want %v", v, adj[v], want[v])
			continue
		}
		for i := range want[v] {
			if adj[v][i] != want[v][i] {
				t.Errorf("adj[%d] = %v, want %v", v, adj[v], want[v])
				break
			}
		}
	}
}

func TestFieldBetweenAndApplyFieldRoundTrip(t *testing.T) {
	basis := makeGridMesh(t, 4, 4, 0.1)
	deformed := translateMesh(t, basis, r3.Vec{X: 0.5, Z: 0.25})

	field, err := FieldBetween(basis, deformed)
	if err != nil {
		t.Fatalf("FieldBetween: %v", err)
	}
	for i, f := range field {
		if !vecApproxEqual(f, r3.Vec{X: 0.5, Z: 0.25}, 1e-12) {
			t.Errorf("field[%d] = %v, want {0.5 0 0.25}", i, f)
		}
	}

	applied, err := ApplyField(basis, field)
	if err != nil {
		t.Fatalf("ApplyField: %v", err)
	}
	for i := range applied.Positions {
		if !vecApproxEqual(applied.Positions[i], deformed.Positions[i], 1e-12) {
			t.Errorf("applied[%d] = %v, want %v", i, applied.Positions[i], deformed.Positions[i])
		}
	}
	if basis.Positions[0] != (r3.Vec{}) {
		t.Error("ApplyField mutated the input mesh")
	}
}

func TestFieldBetweenVertexCountMismatch(t *testing.T) {
	a := makeGridMesh(t, 3, 3, 0.1)
	b := makeGridMesh(t, 4, 4, 0.1)
	if _, err := FieldBetween(a, b); err == nil {
		t.Error("mismatched meshes accepted, want error")
	}
	if _, err := ApplyField(a, make([]r3.Vec, 2)); err == nil {
		t.Error("short field accepted, want error")
	}
}

func TestTriangleArea(t *testing.T) {
	got := TriangleArea(r3.Vec{}, r3.Vec{X: 1}, r3.Vec{Y: 1})
	if math.Abs(got-0.5) > 1e-15 {
		t.Errorf("TriangleArea = %v, want 0.5", got)
	}
	if got := TriangleArea(r3.Vec{}, r3.Vec{X: 1}, r3.Vec{X: 2}); got != 0 {
		t.Errorf("degenerate TriangleArea = %v, want 0", got)
	}
}

func TestMeshBounds(t *testing.T) {
	positions := []r3.Vec{
		{X: -1, Y: 2, Z: 0.5},
		{X: 3, Y: -4, Z: 0},
		{X: 0, Y: 0, Z: 7},
	}
	box := MeshBounds(positions)
	if box.Min != (r3.Vec{X: -1, Y: -4, Z: 0}) {
		t.Errorf("Min = %v, want {-1 -4 0}", box.Min)
	}
	if box.Max != (r3.Vec{X: 3, Y: 2, Z: 7}) {
		t.Errorf("Max = %v, want {3 2 7}", box.Max)
	}
}

func TestCentroid(t *testing.T) {
	got := Centroid([]r3.Vec{{X: 1}, {X: 3}, {Y: 6}, {Z: -2}})
	want := r3.Vec{X: 1, Y: 1.5, Z: -0.5}
	if !vecApproxEqual(got, want, 1e-15) {
		t.Errorf("Centroid = %v, want %v", got, want)
	}
	if got := Centroid(nil); got != (r3.Vec{}) {
		t.Errorf("Centroid(nil) = %v, want zero", got)
	}
}

func TestMeshConstructors(t *testing.T) {
	positions := []r3.Vec{{}, {X: 1}, {Y: 1}}

	if _, err := NewMesh(positions, [][3]int{{0, 1, 3}}); err == nil {
		t.Error("out-of-range triangle accepted, want error")
	}
	if _, err := NewMesh(positions, [][3]int{{0, -1, 2}}); err == nil {
		t.Error("negative vertex id accepted, want error")
	}
	if _, err := NewMeshWithNormals(positions, nil, make([]r3.Vec, 2)); err == nil {
		t.Error("short normals accepted, want error")
	}

	mesh, err := NewMesh(positions, [][3]int{{0, 1, 2}})
	if err != nil {
		t.Fatalf("NewMesh: %v", err)
	}
	if mesh.VertexCount() != 3 || mesh.TriangleCount() != 1 {
		t.Errorf("counts = %d/%d, want 3/1", mesh.VertexCount(), mesh.TriangleCount())
	}
	if len(mesh.Normals) != 3 {
		t.Errorf("normals = %d, want one per vertex", len(mesh.Normals))
	}
}
