package detector

import (
	"context"
	"image"
	"math/rand/v2"
	"sync"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-ranker/pkg/types"
)

// DefaultClasses is a small COCO subset used when no classes are given.
var DefaultClasses = []string{"person", "cat", "dog", "bird", "cup", "chair"}

// Synthetic fabricates plausible detections inside the image bounds. It is
// deterministic for a given seed.
type Synthetic struct {
	mu      sync.Mutex
	rng     *rand.Rand
	classes []string
	max     int
}

// NewSynthetic returns a detector producing up to maxPerFrame detections
// drawn from classes.
func NewSynthetic(seed uint64, classes []string, maxPerFrame int) *Synthetic {
	if len(classes) == 0 {
		classes = DefaultClasses
	}
	if maxPerFrame <= 0 {
		maxPerFrame = 5
	}
	return &Synthetic{
		rng:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		classes: classes,
		max:     maxPerFrame,
	}
}

// Detect ignores the pixels and uses only the image bounds.
func (s *Synthetic) Detect(ctx context.Context, img image.Image) ([]types.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bounds := image.Rect(0, 0, 640, 480)
	if img != nil {
		bounds = img.Bounds()
	}
	w, h := float64(bounds.Dx()), float64(bounds.Dy())

	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.rng.IntN(s.max + 1)
	out := make([]types.Detection, n)
	for i := range out {
		bw := w * (0.1 + 0.3*s.rng.Float64())
		bh := h * (0.1 + 0.3*s.rng.Float64())
		out[i] = types.Detection{
			Class: s.classes[s.rng.IntN(len(s.classes))],
			Score: s.rng.Float64(),
			BBox: types.BoundingBox{
				X: float64(bounds.Min.X) + (w-bw)*s.rng.Float64(),
				Y: float64(bounds.Min.Y) + (h-bh)*s.rng.Float64(),
				W: bw,
				H: bh,
			},
		}
	}
	return out, nil
}
