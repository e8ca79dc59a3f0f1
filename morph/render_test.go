package morph

import (
	"bytes"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// coveringResult marks every vertex matched, which is all the render paths
// need when no classification is attached.
func coveringResult(t *testing.T, m *Mesh) *TransferResult {
	t.Helper()
	matched := make([]bool, m.VertexCount())
	for i := range matched {
		matched[i] = true
	}
	return &TransferResult{
		Matched:       matched,
		MatchCount:    len(matched),
		MatchPercent:  100,
		LaplacianMode: LaplacianSurface,
	}
}

func TestNewRasterRendererDefaults(t *testing.T) {
	m := makeGridMesh(t, 4, 4, 0.1)
	r := NewRasterRenderer(m, coveringResult(t, m), ProjectionXY)

	if r.ImageSize != 800 {
		t.Errorf("ImageSize = %d, want 800", r.ImageSize)
	}
	if r.Padding != 24 {
		t.Errorf("Padding = %d, want 24", r.Padding)
	}
	if r.DotRadius != 2 {
		t.Errorf("DotRadius = %d, want 2", r.DotRadius)
	}
	if r.Scale != 0 {
		t.Errorf("Scale = %v, want 0 (fit to ImageSize)", r.Scale)
	}
}

func TestRasterRendererRenderProducesImage(t *testing.T) {
	m := makeGridMesh(t, 10, 10, 0.1)
	r := NewRasterRenderer(m, coveringResult(t, m), ProjectionXY)

	img, err := r.Render()
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	// A square mesh span fills the 800px canvas on both sides.
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	if w != h {
		t.Errorf("image %dx%d, want square for a square span", w, h)
	}
	if w < 780 || w > 800 {
		t.Errorf("image width = %d, want close to 800", w)
	}

	if got := img.RGBAAt(0, 0); got != (color.RGBA{240, 240, 240, 255}) {
		t.Errorf("corner pixel = %v, want light gray background", got)
	}

	// Without bands every matched vertex draws in the good-band color.
	want := BandGood.Color()
	found := false
	for y := 0; y < h && !found; y++ {
		for x := 0; x < w; x++ {
			if img.RGBAAt(x, y) == want {
				found = true
				break
			}
		}
	}
	if !found {
		t.Error("no matched-vertex dots found in the rendered image")
	}
}

func TestRasterRendererBandsColorDots(t *testing.T) {
	m := makeGridMesh(t, 10, 10, 0.1)
	res := coveringResult(t, m)
	res.Bands = make([]QualityBand, m.VertexCount()) // all BandExact
	res.BandTotals = [4]int{m.VertexCount(), 0, 0, 0}

	r := NewRasterRenderer(m, res, ProjectionXY)
	img, err := r.Render()
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	// 100 dots of radius 2 paint far more exact-band pixels than the
	// single legend swatch ever could.
	exact := BandExact.Color()
	count := 0
	for y := 0; y < img.Bounds().Dy(); y++ {
		for x := 0; x < img.Bounds().Dx(); x++ {
			if img.RGBAAt(x, y) == exact {
				count++
			}
		}
	}
	if count < 500 {
		t.Errorf("exact-band pixels = %d, want hundreds from vertex dots", count)
	}
}

func TestRasterRendererScaleOverride(t *testing.T) {
	m := makeGridMesh(t, 10, 10, 0.1)
	r := NewRasterRenderer(m, coveringResult(t, m), ProjectionXY)
	r.Scale = 10 // pixels per mesh unit

	img, err := r.Render()
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	// 0.9 span at 10 px/unit plus padding on both sides.
	if w := img.Bounds().Dx(); w < 50 || w > 60 {
		t.Errorf("image width = %d, want span*scale+2*padding (around 57)", w)
	}
}

func TestRasterRendererPNGRoundTrip(t *testing.T) {
	m := makeGridMesh(t, 6, 6, 0.1)
	r := NewRasterRenderer(m, coveringResult(t, m), ProjectionXY)

	var buf bytes.Buffer
	if err := r.RenderToPNG(&buf); err != nil {
		t.Fatalf("RenderToPNG: %v", err)
	}

	decoded, err := png.Decode(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("decoding PNG output: %v", err)
	}
	img, err := r.Render()
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if decoded.Bounds() != img.Bounds() {
		t.Errorf("decoded bounds %v, want %v", decoded.Bounds(), img.Bounds())
	}
}

func TestRasterRendererSavePNG(t *testing.T) {
	m := makeGridMesh(t, 6, 6, 0.1)
	r := NewRasterRenderer(m, coveringResult(t, m), ProjectionXY)

	path := filepath.Join(t.TempDir(), "classification.png")
	if err := r.SavePNG(path); err != nil {
		t.Fatalf("SavePNG: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening saved PNG: %v", err)
	}
	defer f.Close()
	if _, err := png.Decode(f); err != nil {
		t.Errorf("saved file is not a valid PNG: %v", err)
	}
}

func TestRasterRendererErrors(t *testing.T) {
	m := makeGridMesh(t, 4, 4, 0.1)
	res := coveringResult(t, m)

	tests := []struct {
		name    string
		r       *RasterRenderer
		wantErr string
	}{
		{"nil mesh", NewRasterRenderer(nil, res, ProjectionXY), "no vertices"},
		{"nil result", NewRasterRenderer(m, nil, ProjectionXY), "does not cover"},
		{"short mask", NewRasterRenderer(m, &TransferResult{Matched: make([]bool, 3)}, ProjectionXY), "does not cover"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.r.Render()
			if err == nil {
				t.Fatal("Render succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q, want it to mention %q", err, tt.wantErr)
			}
			if err := tt.r.RenderToPNG(&bytes.Buffer{}); err == nil {
				t.Error("RenderToPNG succeeded, want error")
			}
		})
	}
}
