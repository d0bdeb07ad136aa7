package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-ranker/internal/broadcast"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-ranker/internal/config"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-ranker/internal/detector"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-ranker/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-ranker/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-ranker/internal/overlay"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-ranker/internal/pipeline"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-ranker/internal/recorder"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-ranker/internal/source"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-ranker/internal/viewcodec"
)

// cycleEvent is one committed cycle, encoded once for every subscriber.
type cycleEvent struct {
	frame   image.Image
	snap    pipeline.Snapshot
	encoded *viewcodec.SerializedEvent
}

// Server wires a frame source and a detector into a pipeline session and
// publishes every cycle.
type Server struct {
	cfg     config.Config
	metrics *metrics.Metrics

	pipeline *pipeline.Pipeline
	session  *pipeline.Session
	renderer *overlay.Renderer
	events   *broadcast.Hub[*cycleEvent]
	recorder *recorder.Recorder

	snapshots *viewcodec.Writer
	closeOut  func() error

	metricsServer *http.Server
	wg            sync.WaitGroup
}

func main() {
	cfg, err := config.Parse(os.Args[0], os.Args[1:])
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	level, _ := logger.ParseLevel(cfg.LogLevel)
	logger.Init(level, os.Stderr, cfg.LogColor)

	logger.Info("Main", "Detection ranker starting...")
	logger.Info("Main", "Log level: %s", level)

	srv, err := NewServer(cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for {
		select {
		case err := <-done:
			srv.Shutdown()
			if err != nil {
				log.Fatalf("Session failed: %v", err)
			}
			logger.Info("Main", "Source exhausted, stopped")
			return
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				if err := srv.ReloadDetector(); err != nil {
					logger.Error("Main", "Detector reload failed: %v", err)
				}
				continue
			}
			logger.Info("Main", "Shutting down (%s)...", sig)
			cancel()
			if err := <-done; err != nil {
				logger.Error("Main", "Session ended with error: %v", err)
			}
			srv.Shutdown()
			logger.Info("Main", "Server stopped")
			return
		}
	}
}

// NewServer builds every component from cfg.
func NewServer(cfg config.Config) (*Server, error) {
	m := metrics.New()

	p, err := pipeline.New(cfg.Pipeline, pipeline.Options{Metrics: m})
	if err != nil {
		return nil, err
	}
	for _, class := range cfg.Exclude {
		p.Exclude(class)
	}

	src, err := buildSource(cfg.Source)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		metrics:  m,
		pipeline: p,
		renderer: overlay.NewRenderer(p),
		events:   broadcast.NewHub[*cycleEvent]("Events", 8),
		closeOut: func() error { return nil },
	}

	if err := s.openSnapshotOutput(); err != nil {
		return nil, err
	}
	if dir := cfg.Output.AnnotatedDir; dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create annotated directory: %w", err)
		}
	}
	if cfg.MetricsAddr != "" {
		s.metricsServer = m.NewServer(cfg.MetricsAddr)
	}
	if dir := cfg.Output.RecordDir; dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create recordings directory: %w", err)
		}
		s.recorder = recorder.NewRecorder(dir, nil)
	}

	det, err := s.buildDetector()
	if err != nil {
		return nil, err
	}
	s.session = pipeline.NewSession(p, det, src, pipeline.WithCycleFunc(s.publish))
	return s, nil
}

func (s *Server) openSnapshotOutput() error {
	format, err := viewcodec.ParseFormat(s.cfg.Output.SnapshotFormat)
	if err != nil {
		return err
	}
	var w io.Writer
	switch path := s.cfg.Output.SnapshotPath; path {
	case "":
		return nil
	case "-":
		w = os.Stdout
	default:
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create snapshot output: %w", err)
		}
		w = f
		s.closeOut = f.Close
	}
	s.snapshots = viewcodec.NewWriter(w, format)
	return nil
}

func (s *Server) buildDetector() (pipeline.Detector, error) {
	cfg := s.cfg.Detector
	var det pipeline.Detector
	switch cfg.Kind {
	case "replay":
		r, err := detector.LoadReplay(cfg.ReplayPath, cfg.Loop)
		if err != nil {
			return nil, err
		}
		det = r
	default:
		det = detector.NewSynthetic(cfg.Seed, cfg.Classes, cfg.MaxPerFrame)
	}
	det = detector.WithTimeout(det, cfg.Timeout)
	if s.recorder != nil {
		det = s.recorder.Wrap(det)
	}
	return det, nil
}

func buildSource(cfg config.SourceConfig) (pipeline.FrameSource, error) {
	if cfg.Kind == "image" {
		still, err := source.LoadStill(cfg.ImagePath, cfg.Frames)
		if err != nil {
			return nil, err
		}
		return still, nil
	}
	return source.NewColorBars(cfg.Width, cfg.Height, cfg.Frames), nil
}

// Run starts the metrics server and blocks in the session loop.
func (s *Server) Run(ctx context.Context) error {
	logger.Info("Main", "  Source: %s", s.cfg.Source.Kind)
	logger.Info("Main", "  Detector: %s", s.cfg.Detector.Kind)
	logger.Info("Main", "  Threshold: %.2f, target fps: %.1f",
		s.cfg.Pipeline.ConfidenceThreshold, s.cfg.Pipeline.TargetFrameRate)

	if s.metricsServer != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			logger.Info("Metrics", "Starting metrics server on %s", s.metricsServer.Addr)
			if err := s.metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics", "Metrics server error: %v", err)
			}
		}()
	}

	if s.recorder != nil {
		if err := s.recorder.Start(); err != nil {
			return err
		}
	}
	if s.snapshots != nil {
		s.startSubscriber("Output", s.writeSnapshot)
	}
	if s.cfg.Output.AnnotatedDir != "" {
		s.startSubscriber("Overlay", s.saveAnnotated)
	}

	return s.session.Run(ctx)
}

func (s *Server) startSubscriber(name string, handle func(*cycleEvent)) {
	id, ch := s.events.Subscribe()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.events.Unsubscribe(id)
		for ev := range ch {
			handle(ev)
		}
		logger.Debug(name, "Subscriber #%d finished", id)
	}()
}

// ReloadDetector rebuilds the detector from the configuration and swaps it
// in. Exclusions and aggregates start over.
func (s *Server) ReloadDetector() error {
	det, err := s.buildDetector()
	if err != nil {
		return err
	}
	s.session.SwapDetector(det)
	for _, class := range s.cfg.Exclude {
		s.pipeline.Exclude(class)
	}
	logger.Info("Main", "Detector reloaded")
	return nil
}

func (s *Server) publish(frame image.Image, snap pipeline.Snapshot) {
	if s.events.Len() == 0 {
		return
	}
	encoded, err := viewcodec.Encode(snap)
	if err != nil {
		logger.Warn("Output", "Snapshot encode failed: %v", err)
		return
	}
	dropped := s.events.Publish(&cycleEvent{frame: frame, snap: snap, encoded: encoded})
	s.metrics.AddEventsDropped(dropped)
}

func (s *Server) writeSnapshot(ev *cycleEvent) {
	if err := s.snapshots.WriteEvent(ev.encoded); err != nil {
		logger.Warn("Output", "Snapshot write failed: %v", err)
	}
}

func (s *Server) saveAnnotated(ev *cycleEvent) {
	every := uint64(max(s.cfg.Output.AnnotateEvery, 1))
	if ev.snap.Cycle%every != 0 {
		return
	}
	img := s.renderer.Annotate(ev.frame, ev.snap)
	path, err := overlay.SavePNG(s.cfg.Output.AnnotatedDir, img, time.Now())
	if err != nil {
		logger.Warn("Overlay", "Annotated image not saved: %v", err)
		return
	}
	logger.Debug("Overlay", "Saved %s", path)
}

// Shutdown stops the session and the metrics server and flushes output.
func (s *Server) Shutdown() {
	s.session.Stop()
	s.events.Close()

	if s.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.metricsServer.Shutdown(ctx); err != nil {
			logger.Warn("Metrics", "Shutdown error: %v", err)
		}
	}
	s.wg.Wait()

	if s.recorder != nil {
		if err := s.recorder.Close(); err != nil {
			logger.Warn("Recorder", "Close error: %v", err)
		}
	}

	if err := s.closeOut(); err != nil {
		logger.Warn("Output", "Closing snapshot output: %v", err)
	}
}
