package aggregate

import (
	"sync"

	"github.com/lucasb-eyer/go-colorful"
)

const (
	paletteSaturation = 0.7
	paletteLightness  = 0.5
)

// Palette hands out a stable color per class name. Colors depend only on the
// name, so two palettes agree with each other; the cache only saves work.
type Palette struct {
	mu    sync.Mutex
	cache map[string]colorful.Color
}

// NewPalette returns an empty Palette.
func NewPalette() *Palette {
	return &Palette{cache: make(map[string]colorful.Color)}
}

// ColorFor returns the color for class.
func (p *Palette) ColorFor(class string) colorful.Color {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.cache[class]; ok {
		return c
	}
	c := colorful.Hsl(Hue(class), paletteSaturation, paletteLightness).Clamped()
	p.cache[class] = c
	return c
}

// Hue maps class to a hue in [0, 360) using djb2 over its runes.
func Hue(class string) float64 {
	var h uint32 = 5381
	for _, r := range class {
		h = h*33 + uint32(r)
	}
	return float64(h % 360)
}
