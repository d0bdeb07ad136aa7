package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"runtime"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-ranker/internal/logger"
)

// FrameSource yields the images to run detection on. Returning io.EOF ends
// the session cleanly.
type FrameSource interface {
	NextFrame(ctx context.Context) (image.Image, error)
}

// FrameSourceFunc adapts a function to FrameSource.
type FrameSourceFunc func(ctx context.Context) (image.Image, error)

func (f FrameSourceFunc) NextFrame(ctx context.Context) (image.Image, error) { return f(ctx) }

// CycleFunc receives the frame and snapshot of every committed cycle.
type CycleFunc func(frame image.Image, snap Snapshot)

// Session is a streaming loop: read a frame, detect, ingest, wait, repeat.
// It stops on context cancellation, Stop, or io.EOF from the source.
type Session struct {
	ID string

	pipeline *Pipeline
	source   FrameSource
	clock    clock.Clock
	onCycle  CycleFunc
	log      logger.Module

	mu       sync.Mutex
	detector Detector
	cancel   context.CancelFunc
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithCycleFunc registers the renderer hook.
func WithCycleFunc(fn CycleFunc) SessionOption {
	return func(s *Session) { s.onCycle = fn }
}

// WithSessionClock overrides the clock used for inter-cycle delays. It
// defaults to the pipeline's clock.
func WithSessionClock(clk clock.Clock) SessionOption {
	return func(s *Session) { s.clock = clk }
}

// NewSession binds a detector and a frame source to p.
func NewSession(p *Pipeline, det Detector, src FrameSource, opts ...SessionOption) *Session {
	id := uuid.NewString()
	s := &Session{
		ID:       id,
		pipeline: p,
		source:   src,
		clock:    p.clock,
		detector: det,
		log:      logger.For("Session").With(id[:8]),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SwapDetector replaces the detector, e.g. after a model change. The
// pipeline is fully reset, exclusions included.
func (s *Session) SwapDetector(det Detector) {
	s.mu.Lock()
	s.detector = det
	s.mu.Unlock()
	s.pipeline.ResetAll()
	s.log.Infof("Detector swapped, pipeline reset")
}

// Stop cancels a running session. It is safe to call at any time.
func (s *Session) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Session) currentDetector() Detector {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detector
}

// Run blocks until the session ends. Cancellation and io.EOF from either the
// source or the detector return nil; a frame source failure is returned. The pipeline is always left Idle.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()
	defer s.pipeline.Stop()

	s.log.Infof("Session started (target %.1f fps)", s.pipeline.Config().TargetFrameRate)
	cycles := 0
	defer func() { s.log.Infof("Session ended after %d cycles", cycles) }()

	for {
		if ctx.Err() != nil {
			return nil
		}

		frame, err := s.source.NextFrame(ctx)
		switch {
		case errors.Is(err, io.EOF):
			return nil
		case ctx.Err() != nil:
			return nil
		case err != nil:
			s.pipeline.metrics.IncSourceErrors()
			return fmt.Errorf("read frame: %w", err)
		}

		snap, err := s.pipeline.Process(ctx, s.currentDetector(), frame)
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, ErrStopped):
			s.log.Debugf("Cycle dropped by a pipeline reset")
			continue
		case errors.Is(err, io.EOF):
			s.log.Infof("Detector has no more results")
			return nil
		case err != nil:
			s.log.Warnf("Cycle skipped: %v", err)
		default:
			cycles++
			if s.onCycle != nil {
				s.onCycle(frame, snap)
			}
		}

		delay, immediate := s.pipeline.MarkScheduled()
		if immediate {
			runtime.Gosched()
			continue
		}
		timer := s.clock.Timer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}
