package detector

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-ranker/internal/pipeline"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-ranker/pkg/types"
)

type timeoutDetector struct {
	inner   pipeline.Detector
	timeout time.Duration
}

// WithTimeout bounds every Detect call on inner. The call returns once the
// timeout passes even if inner ignores its context; inner's late result is
// dropped. inner's context is cancelled at the timeout, and inner must return
// on cancellation for the pipeline to keep one detector call outstanding at a
// time.
func WithTimeout(inner pipeline.Detector, timeout time.Duration) pipeline.Detector {
	if timeout <= 0 {
		return inner
	}
	return &timeoutDetector{inner: inner, timeout: timeout}
}

type detectResult struct {
	detections []types.Detection
	err        error
}

func (d *timeoutDetector) Detect(ctx context.Context, img image.Image) ([]types.Detection, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	ch := make(chan detectResult, 1)
	go func() {
		dets, err := d.inner.Detect(ctx, img)
		ch <- detectResult{dets, err}
	}()

	select {
	case res := <-ch:
		return res.detections, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("detector gave up after %s: %w", d.timeout, ctx.Err())
	}
}
