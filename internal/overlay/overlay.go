// Package overlay draws a pipeline snapshot onto a frame: one colored box
// and label per renderable detection, plus a status line.
package overlay

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-ranker/internal/pipeline"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-ranker/pkg/types"
)

// ColorSource returns the display color of a class.
type ColorSource interface {
	ColorFor(class string) colorful.Color
}

// Renderer annotates frames. It holds no per-frame state.
type Renderer struct {
	colors    ColorSource
	face      font.Face
	lineWidth int
}

// NewRenderer returns a Renderer that colors boxes with colors.
func NewRenderer(colors ColorSource) *Renderer {
	return &Renderer{
		colors:    colors,
		face:      basicfont.Face7x13,
		lineWidth: 2,
	}
}

// Label is the text drawn next to a detection, e.g. "cat (90.0%)".
func Label(d types.Detection) string {
	return fmt.Sprintf("%s (%.1f%%)", d.Class, d.Score*100)
}

// LabelBaseline is the y coordinate of the label text: just above the box,
// or pinned near the top edge when the box starts within 10px of it.
func LabelBaseline(d types.Detection) int {
	if d.BBox.Y > 10 {
		return int(math.Round(d.BBox.Y)) - 5
	}
	return 10
}

// Annotate returns a copy of frame with snap drawn on top. A nil frame gives
// a black 640x480 canvas.
func (r *Renderer) Annotate(frame image.Image, snap pipeline.Snapshot) *image.RGBA {
	bounds := image.Rect(0, 0, 640, 480)
	if frame != nil {
		bounds = frame.Bounds()
	}
	canvas := image.NewRGBA(bounds)
	if frame != nil {
		draw.Draw(canvas, bounds, frame, bounds.Min, draw.Src)
	} else {
		draw.Draw(canvas, bounds, image.Black, image.Point{}, draw.Src)
	}

	for _, d := range snap.Renderable {
		c := r.colors.ColorFor(d.Class)
		r.drawRect(canvas, d.BBox, c)
		r.drawText(canvas, int(math.Round(d.BBox.X)), LabelBaseline(d), Label(d), c, color.Black)
	}

	status := fmt.Sprintf("Cycle: %d  FPS: %.1f  Visible: %d", snap.Cycle, snap.RateHz, len(snap.Visible))
	r.drawText(canvas, bounds.Min.X+10, bounds.Max.Y-10, status, color.White, color.Black)
	return canvas
}

func (r *Renderer) drawRect(dst *image.RGBA, box types.BoundingBox, c color.Color) {
	x0, y0 := int(math.Round(box.X)), int(math.Round(box.Y))
	x1, y1 := int(math.Round(box.X+box.W)), int(math.Round(box.Y+box.H))
	lw := r.lineWidth
	src := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(x0, y0, x1, y0+lw),
		image.Rect(x0, y1-lw, x1, y1),
		image.Rect(x0, y0, x0+lw, y1),
		image.Rect(x1-lw, y0, x1, y1),
	}
	for _, e := range edges {
		draw.Draw(dst, e.Intersect(dst.Bounds()), src, image.Point{}, draw.Over)
	}
}

// drawText writes s with its baseline at y over a filled background box.
func (r *Renderer) drawText(dst *image.RGBA, x, y int, s string, fg, bg color.Color) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(fg),
		Face: r.face,
		Dot:  fixed.P(x, y),
	}
	metrics := r.face.Metrics()
	width := d.MeasureString(s).Ceil()
	box := image.Rect(x-2, y-metrics.Ascent.Ceil()-2, x+width+2, y+metrics.Descent.Ceil()+2)
	draw.Draw(dst, box.Intersect(dst.Bounds()), image.NewUniform(bg), image.Point{}, draw.Src)
	d.DrawString(s)
}

// FileName is the name SavePNG uses for an image taken at t.
func FileName(t time.Time) string {
	return fmt.Sprintf("annotated_image_%d.png", t.UnixMilli())
}

// SavePNG writes img into dir and returns the file path.
func SavePNG(dir string, img image.Image, t time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(dir, FileName(t))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return "", fmt.Errorf("encode png: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return path, nil
}
