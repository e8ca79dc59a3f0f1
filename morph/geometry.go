package morph

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"
)

// VertexNormals computes per-vertex unit normals by accumulating adjacent
// face normals weighted by the corner opening angle, which keeps the result
// independent of how finely a smooth surface is triangulated.
func VertexNormals(positions []r3.Vec, triangles [][3]int) []r3.Vec {
	normals := make([]r3.Vec, len(positions))
	for _, tri := range triangles {
		a, b, c := positions[tri[0]], positions[tri[1]], positions[tri[2]]
		face := r3.Cross(r3.Sub(b, a), r3.Sub(c, a))
		if r3.Norm2(face) == 0 {
			continue // degenerate triangle contributes nothing
		}
		face = r3.Unit(face)
		corners := [3]r3.Vec{a, b, c}
		for j := 0; j < 3; j++ {
			u := r3.Sub(corners[(j+1)%3], corners[j])
			v := r3.Sub(corners[(j+2)%3], corners[j])
			cos := r3.Cos(u, v)
			// Clamp against rounding before Acos.
			cos = math.Max(-1, math.Min(1, cos))
			alpha := math.Acos(cos)
			normals[tri[j]] = r3.Add(normals[tri[j]], r3.Scale(alpha, face))
		}
	}
	for i, n := range normals {
		if r3.Norm2(n) > 0 {
			normals[i] = r3.Unit(n)
		}
	}
	return normals
}

// BuildAdjacency returns, for every vertex, the sorted list of vertices it
// shares a triangle edge with. Vertices outside any triangle get an empty
// list.
func BuildAdjacency(vertexCount int, triangles [][3]int) [][]int {
	sets := make([]map[int]struct{}, vertexCount)
	link := func(a, b int) {
		if sets[a] == nil {
			sets[a] = make(map[int]struct{}, 8)
		}
		sets[a][b] = struct{}{}
	}
	for _, tri := range triangles {
		for j := 0; j < 3; j++ {
			a, b := tri[j], tri[(j+1)%3]
			if a == b {
				continue
			}
			link(a, b)
			link(b, a)
		}
	}
	adjacency := make([][]int, vertexCount)
	for i, set := range sets {
		if len(set) == 0 {
			adjacency[i] = nil
			continue
		}
		neighbors := make([]int, 0, len(set))
		for v := range set {
			neighbors = append(neighbors, v)
		}
		sort.Ints(neighbors)
		adjacency[i] = neighbors
	}
	return adjacency
}

// FieldBetween returns the per-vertex displacement field deformed − basis.
// Both meshes must share vertex count and ordering.
func FieldBetween(basis, deformed *Mesh) ([]r3.Vec, error) {
	if basis.VertexCount() != deformed.VertexCount() {
		return nil, fmt.Errorf("displacement field: basis has %d vertices, deformed has %d",
			basis.VertexCount(), deformed.VertexCount())
	}
	field := make([]r3.Vec, basis.VertexCount())
	for i := range field {
		field[i] = r3.Sub(deformed.Positions[i], basis.Positions[i])
	}
	return field, nil
}

// ApplyField returns a copy of the mesh displaced by the field. The inverse
// of FieldBetween: ApplyField(basis, FieldBetween(basis, deformed))
// reproduces the deformed positions.
func ApplyField(mesh *Mesh, field []r3.Vec) (*Mesh, error) {
	if len(field) != mesh.VertexCount() {
		return nil, fmt.Errorf("apply field: field covers %d vertices, mesh has %d",
			len(field), mesh.VertexCount())
	}
	positions := make([]r3.Vec, mesh.VertexCount())
	for i, p := range mesh.Positions {
		positions[i] = r3.Add(p, field[i])
	}
	return NewMesh(positions, mesh.Triangles)
}

// TriangleArea returns the area of the triangle spanned by a, b, c.
func TriangleArea(a, b, c r3.Vec) float64 {
	return 0.5 * r3.Norm(r3.Cross(r3.Sub(b, a), r3.Sub(c, a)))
}

// MeshBounds returns the axis-aligned bounding box of the positions.
func MeshBounds(positions []r3.Vec) r3.Box {
	box := r3.Box{
		Min: r3.Vec{X: math.MaxFloat64, Y: math.MaxFloat64, Z: math.MaxFloat64},
		Max: r3.Vec{X: -math.MaxFloat64, Y: -math.MaxFloat64, Z: -math.MaxFloat64},
	}
	for _, p := range positions {
		box.Min = minElem(box.Min, p)
		box.Max = maxElem(box.Max, p)
	}
	return box
}

// Centroid returns the mean of the given positions, or the zero vector for
// an empty slice.
func Centroid(positions []r3.Vec) r3.Vec {
	if len(positions) == 0 {
		return r3.Vec{}
	}
	var sum r3.Vec
	for _, p := range positions {
		sum = r3.Add(sum, p)
	}
	return r3.Scale(1/float64(len(positions)), sum)
}

func minElem(a, b r3.Vec) r3.Vec {
	return r3.Vec{X: math.Min(a.X, b.X), Y: math.Min(a.Y, b.Y), Z: math.Min(a.Z, b.Z)}
}

func maxElem(a, b r3.Vec) r3.Vec {
	return r3.Vec{X: math.Max(a.X, b.X), Y: math.Max(a.Y, b.Y), Z: math.Max(a.Z, b.Z)}
}
