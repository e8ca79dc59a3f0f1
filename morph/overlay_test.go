package morph

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestParseProjectionAxis(t *testing.T) {
	cases := []struct {
		in   string
		want ProjectionAxis
		ok   bool
	}{
		{"", ProjectionXY, true},
		{"xy", ProjectionXY, true},
		{"xz", ProjectionXZ, true},
		{"yz", ProjectionYZ, true},
		{"zz", "", false},
		{"XY", "", false},
	}
	for _, tc := range cases {
		got, err := ParseProjectionAxis(tc.in)
		if tc.ok {
			if err != nil {
				t.Errorf("ParseProjectionAxis(%q): %v", tc.in, err)
				continue
			}
			if got != tc.want {
				t.Errorf("ParseProjectionAxis(%q) = %q, want %q", tc.in, got, tc.want)
			}
			continue
		}
		if err == nil {
			t.Errorf("ParseProjectionAxis(%q) accepted, want error", tc.in)
		}
	}
}

func TestProjectionAxisProject(t *testing.T) {
	v := r3.Vec{X: 1, Y: 2, Z: 3}
	if got := ProjectionXY.Project(v); got != (orb.Point{1, 2}) {
		t.Errorf("xy = %v, want {1 2}", got)
	}
	if got := ProjectionXZ.Project(v); got != (orb.Point{1, 3}) {
		t.Errorf("xz = %v, want {1 3}", got)
	}
	if got := ProjectionYZ.Project(v); got != (orb.Point{2, 3}) {
		t.Errorf("yz = %v, want {2 3}", got)
	}

	if x, y := ProjectionXZ.Labels(); x != "x" || y != "z" {
		t.Errorf("Labels = %q/%q, want x/z", x, y)
	}
}

func TestBuildOverlay(t *testing.T) {
	grid := makeGridMesh(t, 10, 10, 0.1)
	island := makeTriangleMesh(t, r3.Vec{X: 5}, 0.1)
	mesh := mergeMeshes(t, grid, island)

	matched := make([]bool, mesh.VertexCount())
	for i := 0; i < grid.VertexCount(); i++ {
		matched[i] = true
	}

	ov := BuildOverlay(mesh, matched, ProjectionXY)

	if len(ov.Points) != mesh.VertexCount() {
		t.Fatalf("Points = %d, want %d", len(ov.Points), mesh.VertexCount())
	}
	if ov.Bound.Min != (orb.Point{0, 0}) {
		t.Errorf("Bound.Min = %v, want {0 0}", ov.Bound.Min)
	}
	if ov.Bound.Max != (orb.Point{5.1, 0.9}) {
		t.Errorf("Bound.Max = %v, want {5.1 0.9}", ov.Bound.Max)
	}

	if got := len(ov.IslandOutlines); got != 2 {
		t.Fatalf("IslandOutlines = %d, want 2", got)
	}
	for i, ring := range ov.IslandOutlines {
		if len(ring) < 4 {
			t.Errorf("outline %d has %d points, want a closed ring", i, len(ring))
		}
		if ring[0] != ring[len(ring)-1] {
			t.Errorf("outline %d is not closed", i)
		}
	}

	// The only unmatched cluster is the island triangle.
	if got := len(ov.UnmatchedHulls); got != 1 {
		t.Fatalf("UnmatchedHulls = %d, want 1", got)
	}
	hull := ov.UnmatchedHulls[0]
	for _, p := range hull {
		if p[0] < 5 || p[0] > 5.1 {
			t.Errorf("hull point %v outside the island footprint", p)
		}
	}
}

func TestBuildOverlayEmptyMesh(t *testing.T) {
	ov := BuildOverlay(&Mesh{}, nil, ProjectionXY)
	if len(ov.Points) != 0 || len(ov.IslandOutlines) != 0 || len(ov.UnmatchedHulls) != 0 {
		t.Errorf("empty mesh overlay = %+v, want empty", ov)
	}
}

func TestClusterPoints(t *testing.T) {
	points := []orb.Point{
		{0, 0}, {0.1, 0}, {0.2, 0}, // chain cluster
		{5, 5}, {5.05, 5}, // pair
		{9, 9}, // singleton
	}
	clusters := ClusterPoints(points, 0.15)

	if len(clusters) != 3 {
		t.Fatalf("clusters = %d, want 3", len(clusters))
	}
	// Largest first; members ascending.
	if len(clusters[0]) != 3 || clusters[0][0] != 0 || clusters[0][2] != 2 {
		t.Errorf("clusters[0] = %v, want [0 1 2]", clusters[0])
	}
	if len(clusters[1]) != 2 || clusters[1][0] != 3 {
		t.Errorf("clusters[1] = %v, want [3 4]", clusters[1])
	}
	if len(clusters[2]) != 1 || clusters[2][0] != 5 {
		t.Errorf("clusters[2] = %v, want [5]", clusters[2])
	}

	if got := ClusterPoints(nil, 1); got != nil {
		t.Errorf("ClusterPoints(nil) = %v, want nil", got)
	}
}

func TestConvexHull(t *testing.T) {
	// A square with an interior point; the hull must drop the center.
	points := []orb.Point{
		{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0.5, 0.5},
	}
	hull := convexHull(points)
	if len(hull) != 4 {
		t.Fatalf("hull = %v, want the 4 square corners", hull)
	}
	for _, p := range hull {
		if p == (orb.Point{0.5, 0.5}) {
			t.Error("interior point survived the hull")
		}
	}

	two := convexHull(points[:2])
	if len(two) != 2 {
		t.Errorf("hull of 2 points = %v, want both points back", two)
	}
}

func TestClusterPointsOrderIndependentOfMapIteration(t *testing.T) {
	// Two clusters of equal size tie-break on their first member, which
	// keeps the output deterministic across runs.
	points := []orb.Point{
		{10, 0}, {10.1, 0},
		{0, 0}, {0.1, 0},
	}
	for run := 0; run < 5; run++ {
		clusters := ClusterPoints(points, 0.2)
		if len(clusters) != 2 {
			t.Fatalf("clusters = %d, want 2", len(clusters))
		}
		if clusters[0][0] != 0 || clusters[1][0] != 2 {
			t.Fatalf("run %d: clusters = %v, want [[0 1] [2 3]]", run, clusters)
		}
	}
}

func TestOutlineRingDegenerate(t *testing.T) {
	if ring := outlineRing([]orb.Point{{0, 0}, {1, 1}}, 0); ring != nil {
		t.Errorf("outline of 2 points = %v, want nil", ring)
	}
	collinear := []orb.Point{{0, 0}, {1, 0}, {2, 0}}
	if ring := outlineRing(collinear, 0); ring != nil {
		t.Errorf("outline of collinear points = %v, want nil", ring)
	}
}

func TestBuildOverlayHullsCoverUnmatched(t *testing.T) {
	// The cluster linkage distance scales from the projected diagonal,
	// so the grid must be large relative to its spacing for adjacent
	// unmatched vertices to group.
	const nx, ny = 40, 40
	grid := makeGridMesh(t, nx, ny, 0.1)
	matched := make([]bool, grid.VertexCount())
	for i := range matched {
		matched[i] = true
	}
	// A block of unmatched vertices in one corner.
	for y := 0; y < 5; y++ {
		for x := 0; x < 5; x++ {
			matched[y*nx+x] = false
		}
	}

	ov := BuildOverlay(grid, matched, ProjectionXY)
	if len(ov.UnmatchedHulls) != 1 {
		t.Fatalf("UnmatchedHulls = %d, want 1", len(ov.UnmatchedHulls))
	}
	for _, p := range ov.UnmatchedHulls[0] {
		if planar.Distance(p, orb.Point{0.2, 0.2}) > 0.3 {
			t.Errorf("hull point %v far from the unmatched corner", p)
		}
	}
}
