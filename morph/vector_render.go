package morph

import (
	"fmt"
	"image/png"
	"io"
	"math"

	"github.com/paulmach/orb"
	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

// canvasRenderer is an interface that both svg and rasterizer renderers implement
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// DebugRenderer draws a transfer's correspondence classification as vector
// graphics: target vertices colored by quality band, a convex outline per
// island, hulls around the unmatched clusters and an optional world-space
// grid. SVG and PNG share the same canvas pipeline.
type DebugRenderer struct {
	Mesh   *Mesh
	Result *TransferResult
	Axis   ProjectionAxis

	CanvasSize  float64           // longest canvas side in mm
	Padding     float64           // padding in mm
	PointRadius float64           // vertex dot radius in mm
	GridSpacing float64           // grid spacing in mesh units; 0 disables
	Resolution  canvas.Resolution // resolution for PNG output (default: 300 DPI)
}

// NewDebugRenderer creates a renderer with default settings.
func NewDebugRenderer(mesh *Mesh, result *TransferResult, axis ProjectionAxis) *DebugRenderer {
	return &DebugRenderer{
		Mesh:        mesh,
		Result:      result,
		Axis:        axis,
		CanvasSize:  200.0,
		Padding:     10.0,
		PointRadius: 1.2,
		GridSpacing: 0,
		Resolution:  canvas.DPI(300),
	}
}

// RenderToSVG writes the classification view as an SVG to the provided writer
func (r *DebugRenderer) RenderToSVG(w io.Writer) error {
	ov, scale, width, height, err := r.layout()
	if err != nil {
		return err
	}

	svgRenderer := svg.New(w, width, height, nil)
	r.renderToCanvas(svgRenderer, ov, scale, width, height)
	return svgRenderer.Close()
}

// RenderToPNG writes the classification view as a PNG to the provided writer
func (r *DebugRenderer) RenderToPNG(w io.Writer) error {
	ov, scale, width, height, err := r.layout()
	if err != nil {
		return err
	}

	rast := rasterizer.New(width, height, r.Resolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, ov, scale, width, height)

	// Rasterizer implements draw.Image, which embeds image.Image
	return png.Encode(w, rast)
}

// layout projects the mesh and works out the canvas dimensions.
func (r *DebugRenderer) layout() (*Overlay, float64, float64, float64, error) {
	if r.Mesh == nil || r.Mesh.VertexCount() == 0 {
		return nil, 0, 0, 0, fmt.Errorf("render: no vertices to draw")
	}
	if r.Result == nil || len(r.Result.Matched) != r.Mesh.VertexCount() {
		return nil, 0, 0, 0, fmt.Errorf("render: result does not cover the mesh")
	}

	ov := BuildOverlay(r.Mesh, r.Result.Matched, r.Axis)
	spanX := ov.Bound.Max[0] - ov.Bound.Min[0]
	spanY := ov.Bound.Max[1] - ov.Bound.Min[1]
	longest := math.Max(spanX, spanY)
	if longest <= 0 {
		longest = 1
	}
	scale := r.CanvasSize / longest
	width := spanX*scale + 2*r.Padding
	height := spanY*scale + 2*r.Padding
	return ov, scale, width, height, nil
}

func (r *DebugRenderer) toCanvas(ov *Overlay, scale float64, p orb.Point) (float64, float64) {
	return (p[0]-ov.Bound.Min[0])*scale + r.Padding, (p[1]-ov.Bound.Min[1])*scale + r.Padding
}

// renderToCanvas draws the shared layers for SVG and PNG output.
func (r *DebugRenderer) renderToCanvas(renderer canvasRenderer, ov *Overlay, scale, width, height float64) {
	// White background.
	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	renderer.RenderPath(canvas.Rectangle(width, height), bgStyle, canvas.Identity)

	// Grid lines in mesh units.
	if r.GridSpacing > 0 {
		gridStyle := canvas.DefaultStyle
		gridStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		gridStyle.Stroke = canvas.Paint{Color: canvas.Gray}
		gridStyle.StrokeWidth = 0.3
		gridStyle.Dashes = []float64{1.5, 1.5}

		for x := math.Floor(ov.Bound.Min[0]/r.GridSpacing) * r.GridSpacing; x <= ov.Bound.Max[0]; x += r.GridSpacing {
			gridPath := &canvas.Path{}
			x1, y1 := r.toCanvas(ov, scale, orb.Point{x, ov.Bound.Min[1]})
			x2, y2 := r.toCanvas(ov, scale, orb.Point{x, ov.Bound.Max[1]})
			gridPath.MoveTo(x1, y1)
			gridPath.LineTo(x2, y2)
			renderer.RenderPath(gridPath, gridStyle, canvas.Identity)
		}
		for y := math.Floor(ov.Bound.Min[1]/r.GridSpacing) * r.GridSpacing; y <= ov.Bound.Max[1]; y += r.GridSpacing {
			gridPath := &canvas.Path{}
			x1, y1 := r.toCanvas(ov, scale, orb.Point{ov.Bound.Min[0], y})
			x2, y2 := r.toCanvas(ov, scale, orb.Point{ov.Bound.Max[0], y})
			gridPath.MoveTo(x1, y1)
			gridPath.LineTo(x2, y2)
			renderer.RenderPath(gridPath, gridStyle, canvas.Identity)
		}
	}

	// Island outlines (thin, gray).
	outlineStyle := canvas.DefaultStyle
	outlineStyle.Fill = canvas.Paint{Color: canvas.Transparent}
	outlineStyle.Stroke = canvas.Paint{Color: canvas.Gray}
	outlineStyle.StrokeWidth = 0.4

	for _, ring := range ov.IslandOutlines {
		renderer.RenderPath(r.ringPath(ov, scale, ring), outlineStyle, canvas.Identity)
	}

	// Vertex dots colored by quality band. Without a classification the
	// view degrades to matched/inpainted two-tone.
	bands := r.Result.Bands
	dotStyle := canvas.DefaultStyle
	dotStyle.Stroke = canvas.Paint{Color: canvas.Transparent}
	for i, p := range ov.Points {
		band := BandInpainted
		switch {
		case bands != nil:
			band = bands[i]
		case r.Result.Matched[i]:
			band = BandGood
		}
		dotStyle.Fill = canvas.Paint{Color: band.Color()}
		cx, cy := r.toCanvas(ov, scale, p)
		dot := canvas.Circle(r.PointRadius)
		dot = dot.Translate(cx, cy)
		renderer.RenderPath(dot, dotStyle, canvas.Identity)
	}

	// Unmatched cluster hulls (red, dashed).
	hullStyle := canvas.DefaultStyle
	hullStyle.Fill = canvas.Paint{Color: canvas.Transparent}
	hullStyle.Stroke = canvas.Paint{Color: BandInpainted.Color()}
	hullStyle.StrokeWidth = 0.6
	hullStyle.Dashes = []float64{2.0, 1.0}

	for _, ring := range ov.UnmatchedHulls {
		renderer.RenderPath(r.ringPath(ov, scale, ring), hullStyle, canvas.Identity)
	}

	// Legend swatches, one square per band. Text needs font loading in
	// tdewolff/canvas; the raster renderer draws the labeled legend.
	swatch := 4.0
	for i := 0; i < int(bandCount); i++ {
		swatchStyle := canvas.DefaultStyle
		swatchStyle.Fill = canvas.Paint{Color: QualityBand(i).Color()}
		swatchStyle.Stroke = canvas.Paint{Color: canvas.Black}
		swatchStyle.StrokeWidth = 0.2

		sq := canvas.Rectangle(swatch, swatch)
		sq = sq.Translate(2, height-2-swatch-float64(i)*(swatch+1.5))
		renderer.RenderPath(sq, swatchStyle, canvas.Identity)
	}
}

func (r *DebugRenderer) ringPath(ov *Overlay, scale float64, ring orb.Ring) *canvas.Path {
	cp := &canvas.Path{}
	for i, pt := range ring {
		cx, cy := r.toCanvas(ov, scale, pt)
		if i == 0 {
			cp.MoveTo(cx, cy)
		} else {
			cp.LineTo(cx, cy)
		}
	}
	cp.Close()
	return cp
}
