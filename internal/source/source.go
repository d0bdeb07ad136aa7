// Package source provides frame sources for a detection session: a test
// pattern generator and still images loaded from disk.
package source

import (
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"sync/atomic"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Color bars: White, Yellow, Cyan, Green, Magenta, Red, Blue, Black
var barColors = []color.RGBA{
	{R: 255, G: 255, B: 255, A: 255},
	{R: 255, G: 255, B: 0, A: 255},
	{R: 0, G: 255, B: 255, A: 255},
	{R: 0, G: 255, B: 0, A: 255},
	{R: 255, G: 0, B: 255, A: 255},
	{R: 255, G: 0, B: 0, A: 255},
	{R: 0, G: 0, B: 255, A: 255},
	{R: 0, G: 0, B: 0, A: 255},
}

// ColorBars renders a fresh test pattern for every frame, optionally
// stopping after a fixed count.
type ColorBars struct {
	width, height int
	limit         int64 // 0 means unlimited
	served        atomic.Int64
}

// NewColorBars returns a width x height pattern source. limit <= 0 never ends.
func NewColorBars(width, height, limit int) *ColorBars {
	if width <= 0 || height <= 0 {
		width, height = 640, 480
	}
	return &ColorBars{width: width, height: height, limit: int64(max(limit, 0))}
}

// NextFrame returns io.EOF once limit frames have been served.
func (c *ColorBars) NextFrame(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n := c.served.Add(1); c.limit > 0 && n > c.limit {
		return nil, io.EOF
	}
	return colorBars(c.width, c.height), nil
}

func colorBars(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	barWidth := max(width/len(barColors), 1)
	for y := range height {
		for x := range width {
			barIndex := min(x/barWidth, len(barColors)-1)
			img.SetRGBA(x, y, barColors[barIndex])
		}
	}
	return img
}

// Still serves one decoded image a fixed number of times. It is the
// one-shot "process this picture" mode; Repeat > 1 reprocesses it.
type Still struct {
	img    image.Image
	repeat int64 // 0 means unlimited
	served atomic.Int64
}

// LoadStill decodes the image at path. PNG, JPEG, GIF, BMP, TIFF and WebP
// are recognized.
func LoadStill(path string, repeat int) (*Still, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return NewStill(img, repeat), nil
}

// NewStill wraps an already decoded image. repeat <= 0 never ends.
func NewStill(img image.Image, repeat int) *Still {
	return &Still{img: img, repeat: int64(max(repeat, 0))}
}

// NextFrame returns the image until it has been served repeat times.
func (s *Still) NextFrame(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n := s.served.Add(1); s.repeat > 0 && n > s.repeat {
		return nil, io.EOF
	}
	return s.img, nil
}
