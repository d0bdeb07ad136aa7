// Package framerate smooths observed frame timing and picks the delay before
// the next processing cycle.
package framerate

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// WindowSize is the number of inter-frame deltas kept for smoothing.
const WindowSize = 20

// Controller keeps a FIFO window of the last WindowSize inter-frame deltas in
// milliseconds. The zero value is ready to use.
type Controller struct {
	window        []float64
	lastTimestamp float64
}

// New returns an empty Controller.
func New() *Controller {
	return &Controller{window: make([]float64, 0, WindowSize)}
}

// RecordFrame adds the delta since the previous frame. Before any frame the
// previous timestamp is 0, so the first delta is a warm-up outlier.
func (c *Controller) RecordFrame(nowMillis float64) {
	delta := nowMillis - c.lastTimestamp
	c.lastTimestamp = nowMillis

	if len(c.window) == WindowSize {
		copy(c.window, c.window[1:])
		c.window = c.window[:WindowSize-1]
	}
	c.window = append(c.window, delta)
}

// SmoothedRateHz returns 1000 / mean(window), or 0 when nothing usable has
// been recorded.
func (c *Controller) SmoothedRateHz() float64 {
	if len(c.window) == 0 {
		return 0
	}
	mean := stat.Mean(c.window, nil)
	if mean <= 0 {
		return 0
	}
	return 1000 / mean
}

// NextDelayMillis returns the fixed interval for targetRate. immediate is
// true for a target of 0, meaning run again as soon as possible.
func (c *Controller) NextDelayMillis(targetRate float64) (delayMillis float64, immediate bool) {
	if targetRate <= 0 {
		return 0, true
	}
	return 1000 / targetRate, false
}

// NextDelay is NextDelayMillis as a time.Duration.
func (c *Controller) NextDelay(targetRate float64) (time.Duration, bool) {
	ms, immediate := c.NextDelayMillis(targetRate)
	return time.Duration(ms * float64(time.Millisecond)), immediate
}

// Window returns a copy of the current deltas, oldest first.
func (c *Controller) Window() []float64 {
	out := make([]float64, len(c.window))
	copy(out, c.window)
	return out
}

// LastTimestamp returns the timestamp of the latest recorded frame.
func (c *Controller) LastTimestamp() float64 {
	return c.lastTimestamp
}

// Reset forgets all samples and the last timestamp.
func (c *Controller) Reset() {
	c.window = c.window[:0]
	c.lastTimestamp = 0
}
