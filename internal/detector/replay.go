// Package detector provides Detector implementations that stand in for a
// real inference backend: recorded results, synthetic results, and a
// timeout guard for any detector.
package detector

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"os"
	"sync"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-ranker/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-ranker/pkg/types"
)

// ErrExhausted is returned by a non-looping Replay after its last batch. It
// wraps io.EOF so a session treats it as the end of the stream.
var ErrExhausted = fmt.Errorf("detector: replay exhausted: %w", io.EOF)

// DetectionResult is one recorded detector output, one JSON object per line.
type DetectionResult struct {
	FrameNumber int               `json:"frame_number"`
	Timestamp   float64           `json:"timestamp"`
	Detections  []types.Detection `json:"detections"`
}

// Replay returns recorded batches in order, ignoring the image.
type Replay struct {
	mu      sync.Mutex
	results []DetectionResult
	next    int
	loop    bool
	log     logger.Module
}

// NewReplay returns a Replay over results. With loop set it starts over
// after the last batch instead of failing.
func NewReplay(results []DetectionResult, loop bool) *Replay {
	return &Replay{results: results, loop: loop, log: logger.For("Replay")}
}

// LoadReplay reads a JSON-lines recording from path.
func LoadReplay(path string, loop bool) (*Replay, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open replay: %w", err)
	}
	defer f.Close()

	results, err := ReadResults(f)
	if err != nil {
		return nil, fmt.Errorf("read replay %s: %w", path, err)
	}
	r := NewReplay(results, loop)
	r.log.Infof("Loaded %d recorded batches from %s", len(results), path)
	return r, nil
}

// ReadResults parses JSON lines. Blank lines are skipped.
func ReadResults(r io.Reader) ([]DetectionResult, error) {
	var results []DetectionResult
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var res DetectionResult
		if err := json.Unmarshal(raw, &res); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		results = append(results, res)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// Detect returns the next recorded batch.
func (r *Replay) Detect(ctx context.Context, _ image.Image) ([]types.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.next >= len(r.results) {
		if !r.loop || len(r.results) == 0 {
			return nil, ErrExhausted
		}
		r.log.Debugf("Replay wrapped after %d batches", len(r.results))
		r.next = 0
	}
	res := r.results[r.next]
	r.next++

	out := make([]types.Detection, len(res.Detections))
	copy(out, res.Detections)
	return out, nil
}
