// Package recorder writes detector output to JSON-lines files that
// detector.LoadReplay can play back.
package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-ranker/internal/detector"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-ranker/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-ranker/internal/pipeline"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-ranker/pkg/types"
)

// Recorder records detection batches to file
type Recorder struct {
	mu           sync.RWMutex
	clock        clock.Clock
	file         *os.File
	filename     string
	basePath     string
	recording    bool
	frameCount   uint64
	bytesWritten uint64
	dropped      atomic.Uint64
	startTime    time.Time
	resultChan   chan detector.DetectionResult
	wg           sync.WaitGroup
	log          logger.Module
}

// NewRecorder creates a recorder writing into basePath.
func NewRecorder(basePath string, clk clock.Clock) *Recorder {
	if clk == nil {
		clk = clock.New()
	}
	return &Recorder{
		basePath: basePath,
		clock:    clk,
		log:      logger.For("Recorder"),
	}
}

// Start starts recording to a new file
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return fmt.Errorf("already recording")
	}

	now := r.clock.Now()
	filename := fmt.Sprintf("detections_%s.jsonl", now.Format("20060102_150405"))
	path := filepath.Join(r.basePath, filename)

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	r.file = file
	r.filename = filename
	r.recording = true
	r.frameCount = 0
	r.bytesWritten = 0
	r.dropped.Store(0)
	r.startTime = now
	r.resultChan = make(chan detector.DetectionResult, 60)

	r.wg.Add(1)
	go r.writeResults(r.resultChan)

	r.log.Infof("Recording to %s", path)
	return nil
}

// Stop stops recording and flushes the file.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return fmt.Errorf("not recording")
	}
	r.recording = false
	close(r.resultChan)
	r.mu.Unlock()

	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		if err := r.file.Sync(); err != nil {
			return fmt.Errorf("failed to sync file: %w", err)
		}
		if err := r.file.Close(); err != nil {
			return fmt.Errorf("failed to close file: %w", err)
		}
		r.file = nil
	}

	r.log.Infof("Recorded %d batches to %s (%d dropped)", r.frameCount, r.filename, r.dropped.Load())
	return nil
}

// SendDetections queues one batch (non-blocking). It reports false when not
// recording or when the queue is full.
func (r *Recorder) SendDetections(dets []types.Detection) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.recording {
		return false
	}

	now := r.clock.Now()
	res := detector.DetectionResult{
		Timestamp:  float64(now.UnixNano()) / 1e9,
		Detections: append([]types.Detection(nil), dets...),
	}
	select {
	case r.resultChan <- res:
		return true
	default:
		r.dropped.Add(1)
		return false
	}
}

func (r *Recorder) writeResults(ch <-chan detector.DetectionResult) {
	defer r.wg.Done()
	for res := range ch {
		r.writeResult(res)
	}
}

func (r *Recorder) writeResult(res detector.DetectionResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return
	}

	res.FrameNumber = int(r.frameCount) + 1
	if res.Detections == nil {
		res.Detections = []types.Detection{}
	}
	data, err := json.Marshal(res)
	if err != nil {
		r.log.Warnf("Encode failed: %v", err)
		return
	}
	n, err := r.file.Write(append(data, '\n'))
	if err != nil {
		r.log.Warnf("Write failed: %v", err)
		return
	}

	r.bytesWritten += uint64(n)
	r.frameCount++
}

// Wrap returns a detector that forwards every successful batch of inner to
// the recorder.
func (r *Recorder) Wrap(inner pipeline.Detector) pipeline.Detector {
	return &tap{inner: inner, rec: r}
}

type tap struct {
	inner pipeline.Detector
	rec   *Recorder
}

func (t *tap) Detect(ctx context.Context, img image.Image) ([]types.Detection, error) {
	dets, err := t.inner.Detect(ctx, img)
	if err == nil {
		t.rec.SendDetections(dets)
	}
	return dets, err
}

// IsRecording returns true if currently recording
func (r *Recorder) IsRecording() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recording
}

// GetStatus returns the current recording status
func (r *Recorder) GetStatus() RecordingStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var duration time.Duration
	if r.recording {
		duration = r.clock.Since(r.startTime)
	}

	return RecordingStatus{
		Recording:    r.recording,
		Filename:     r.filename,
		FrameCount:   r.frameCount,
		BytesWritten: r.bytesWritten,
		Dropped:      r.dropped.Load(),
		Duration:     duration,
		StartTime:    r.startTime,
	}
}

// Close stops a running recording.
func (r *Recorder) Close() error {
	if r.IsRecording() {
		return r.Stop()
	}
	return nil
}

// RecordingStatus holds the current recording status
type RecordingStatus struct {
	Recording    bool          `json:"recording"`
	Filename     string        `json:"filename"`
	FrameCount   uint64        `json:"frame_count"`
	BytesWritten uint64        `json:"bytes_written"`
	Dropped      uint64        `json:"dropped"`
	Duration     time.Duration `json:"duration_ms"`
	StartTime    time.Time     `json:"start_time"`
}
