package morph

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"os"

	"github.com/paulmach/orb"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// RasterRenderer draws the classification view straight into a raster image.
// Unlike DebugRenderer it labels the legend, since bitmap text only needs
// the builtin face.
type RasterRenderer struct {
	Mesh   *Mesh
	Result *TransferResult
	Axis   ProjectionAxis

	Scale     float64 // pixels per mesh unit; 0 fits ImageSize
	ImageSize int     // longest side in pixels when Scale is 0
	Padding   int     // padding around the drawing in pixels
	DotRadius int     // vertex dot radius in pixels
}

// NewRasterRenderer creates a renderer with default settings.
func NewRasterRenderer(mesh *Mesh, result *TransferResult, axis ProjectionAxis) *RasterRenderer {
	return &RasterRenderer{
		Mesh:      mesh,
		Result:    result,
		Axis:      axis,
		ImageSize: 800,
		Padding:   24,
		DotRadius: 2,
	}
}

// Render draws the projected vertices, island outlines, unmatched-cluster
// hulls and a labeled legend into a new image.
func (r *RasterRenderer) Render() (*image.RGBA, error) {
	if r.Mesh == nil || r.Mesh.VertexCount() == 0 {
		return nil, fmt.Errorf("render: no vertices to draw")
	}
	if r.Result == nil || len(r.Result.Matched) != r.Mesh.VertexCount() {
		return nil, fmt.Errorf("render: result does not cover the mesh")
	}

	ov := BuildOverlay(r.Mesh, r.Result.Matched, r.Axis)
	spanX := ov.Bound.Max[0] - ov.Bound.Min[0]
	spanY := ov.Bound.Max[1] - ov.Bound.Min[1]
	longest := math.Max(spanX, spanY)
	if longest <= 0 {
		longest = 1
	}

	scale := r.Scale
	if scale <= 0 {
		size := r.ImageSize
		if size <= 0 {
			size = 800
		}
		scale = float64(size-2*r.Padding) / longest
	}

	width := int(spanX*scale) + 2*r.Padding
	height := int(spanY*scale) + 2*r.Padding

	// Limit size
	if width > 4000 {
		scale *= float64(4000) / float64(width)
		width = 4000
		height = int(spanY*scale) + 2*r.Padding
	}
	if height > 4000 {
		scale *= float64(4000) / float64(height)
		height = 4000
		width = int(spanX*scale) + 2*r.Padding
	}
	if width <= 0 {
		width = 1
	}
	if height <= 0 {
		height = 1
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{240, 240, 240, 255})
		}
	}

	// Image rows grow downward; flip the vertical axis so +Y points up.
	toImage := func(p orb.Point) (int, int) {
		x := int((p[0]-ov.Bound.Min[0])*scale) + r.Padding
		y := height - (int((p[1]-ov.Bound.Min[1])*scale) + r.Padding)
		return x, y
	}

	outlineGray := color.RGBA{150, 150, 150, 255}
	for _, ring := range ov.IslandOutlines {
		drawRing(img, ring, toImage, outlineGray)
	}

	bands := r.Result.Bands
	for i, p := range ov.Points {
		band := BandInpainted
		switch {
		case bands != nil:
			band = bands[i]
		case r.Result.Matched[i]:
			band = BandGood
		}
		x, y := toImage(p)
		drawDot(img, x, y, r.DotRadius, band.Color())
	}

	for _, ring := range ov.UnmatchedHulls {
		drawRing(img, ring, toImage, BandInpainted.Color())
	}

	r.drawLegend(img)
	return img, nil
}

// RenderToPNG encodes the classification view as PNG to the writer.
func (r *RasterRenderer) RenderToPNG(w io.Writer) error {
	img, err := r.Render()
	if err != nil {
		return err
	}
	return png.Encode(w, img)
}

// SavePNG renders and writes the view to a PNG file.
func (r *RasterRenderer) SavePNG(path string) error {
	img, err := r.Render()
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	return png.Encode(f, img)
}

// drawLegend adds band swatches with labels and a summary line.
func (r *RasterRenderer) drawLegend(img *image.RGBA) {
	counts := r.Result.BandTotals
	if r.Result.Bands == nil {
		counts = [4]int{}
		for _, m := range r.Result.Matched {
			if m {
				counts[BandGood]++
			} else {
				counts[BandInpainted]++
			}
		}
	}

	y := 15
	for b := QualityBand(0); b < bandCount; b++ {
		c := b.Color()
		for dy := 0; dy < 12; dy++ {
			for dx := 0; dx < 12; dx++ {
				img.Set(10+dx, y+dy-6, c)
			}
		}
		drawText(img, 28, y+4, fmt.Sprintf("%s (%d)", b, counts[b]), color.RGBA{0, 0, 0, 255})
		y += 18
	}

	summary := fmt.Sprintf("matched %.1f%%, %s laplacian", r.Result.MatchPercent, r.Result.LaplacianMode)
	drawText(img, 10, y+6, summary, color.RGBA{0, 0, 0, 255})
}

// drawDot draws a filled circle clipped to the image.
func drawDot(img *image.RGBA, cx, cy, radius int, c color.RGBA) {
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy <= radius*radius {
				x, y := cx+dx, cy+dy
				if x >= 0 && x < img.Bounds().Max.X && y >= 0 && y < img.Bounds().Max.Y {
					img.Set(x, y, c)
				}
			}
		}
	}
}

// drawRing strokes a closed outline segment by segment.
func drawRing(img *image.RGBA, ring orb.Ring, toImage func(orb.Point) (int, int), c color.RGBA) {
	for i := 1; i < len(ring); i++ {
		x0, y0 := toImage(ring[i-1])
		x1, y1 := toImage(ring[i])
		drawLine(img, x0, y0, x1, y1, c)
	}
}

// drawLine draws a line with the integer Bresenham walk.
func drawLine(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA) {
	dx := iabs(x1 - x0)
	dy := -iabs(y1 - y0)
	sx := 1
	if x0 > x1 {
		sx = -1
	}
	sy := 1
	if y0 > y1 {
		sy = -1
	}
	err := dx + dy
	for {
		if x0 >= 0 && x0 < img.Bounds().Max.X && y0 >= 0 && y0 < img.Bounds().Max.Y {
			img.Set(x0, y0, c)
		}
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

func iabs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// drawText renders text onto an image at the specified position
func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}
