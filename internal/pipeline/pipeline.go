package pipeline

import (
	"context"
	"fmt"
	"image"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-ranker/internal/aggregate"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-ranker/internal/framerate"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-ranker/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-ranker/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-ranker/internal/pqueue"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-ranker/pkg/types"
)

// Detector produces detections for one image. Implementations may block and
// may fail; the pipeline never retries.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]types.Detection, error)
}

// State is the position of the pipeline within one processing cycle.
type State int

const (
	StateIdle State = iota
	StateRanking
	StateAggregating
	StateRanked
	StateScheduled
)

var stateNames = map[State]string{
	StateIdle:        "idle",
	StateRanking:     "ranking",
	StateAggregating: "aggregating",
	StateRanked:      "ranked",
	StateScheduled:   "scheduled",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Options carries optional collaborators. Zero values fall back to the wall
// clock, no metrics and the process logger.
type Options struct {
	Clock   clock.Clock
	Metrics *metrics.Metrics
	Logger  logger.Module
}

// Pipeline owns all state of one detection stream: the class aggregator, the
// frame-rate controller and the ranked view of the latest cycle. Only one
// cycle may be in flight at a time.
type Pipeline struct {
	clock   clock.Clock
	epoch   time.Time
	metrics *metrics.Metrics
	log     logger.Module
	palette *aggregate.Palette

	mu         sync.Mutex
	cfg        Config
	agg        *aggregate.Aggregator
	rate       *framerate.Controller
	state      State
	cycle      uint64
	generation uint64 // bumped by Stop and ResetAll
	busy       bool
	batch      []types.Detection
	ranked     []types.RankedEntry
	changed    bool
}

// New validates cfg and returns an idle pipeline.
func New(cfg Config, opts Options) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	log := opts.Logger
	if log.Name() == "" {
		log = logger.For("Pipeline")
	}
	return &Pipeline{
		clock:   clk,
		epoch:   clk.Now(),
		metrics: opts.Metrics,
		log:     log,
		palette: aggregate.NewPalette(),
		cfg:     cfg,
		agg:     aggregate.New(),
		rate:    framerate.New(),
	}, nil
}

// Ingest runs one cycle over batch. It fails with ErrBusy while a Process
// call is waiting on its detector.
func (p *Pipeline) Ingest(batch []types.Detection) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.busy {
		p.metrics.IncBusyRejections()
		return ErrBusy
	}
	p.ingestLocked(batch)
	return nil
}

// Process runs det on img and ingests the result. The pipeline is marked
// busy and reports StateRanking for the duration of the detector call. On
// detector failure nothing is committed and the previous state returns. If Stop or ResetAll ran while the detector was working the
// result is dropped and ErrStopped is returned.
func (p *Pipeline) Process(ctx context.Context, det Detector, img image.Image) (Snapshot, error) {
	p.mu.Lock()
	if p.busy {
		p.mu.Unlock()
		p.metrics.IncBusyRejections()
		return Snapshot{}, ErrBusy
	}
	p.busy = true
	gen := p.generation
	prev := p.state
	p.state = StateRanking
	p.mu.Unlock()

	start := p.clock.Now()
	batch, err := det.Detect(ctx, img)
	p.metrics.UpdateDetectLatency(p.clock.Now().Sub(start))

	p.mu.Lock()
	defer p.mu.Unlock()
	p.busy = false

	if err != nil {
		p.metrics.IncDetectorErrors()
		if gen == p.generation {
			p.state = prev
		}
		return Snapshot{}, fmt.Errorf("detect: %w", err)
	}
	if gen != p.generation {
		p.metrics.IncCyclesDiscarded()
		p.log.Debugf("Discarding %d detections from a stopped cycle", len(batch))
		return Snapshot{}, ErrStopped
	}

	p.ingestLocked(batch)
	return p.snapshotLocked(), nil
}

func (p *Pipeline) ingestLocked(batch []types.Detection) {
	start := p.clock.Now()

	p.state = StateRanking
	p.batch = slices.Clone(batch)
	entries := make([]types.RankedEntry, len(p.batch))
	for i, d := range p.batch {
		entries[i] = d.Rank()
	}
	queue := pqueue.New(types.HigherScore, entries...)

	p.state = StateAggregating
	p.agg.BeginCycle()
	for _, d := range p.batch {
		p.agg.Record(d)
	}
	p.changed = p.agg.HasVisibleSetChanged()

	p.ranked = queue.SortedDescending()
	p.state = StateRanked
	p.cycle++

	if p.changed {
		p.log.Debugf("Cycle %d: visible classes now %v", p.cycle, p.agg.Visible())
	}
	p.metrics.ObserveCycle(len(p.batch), len(p.renderableLocked()), p.agg.Counts(),
		len(p.agg.Visible()), len(p.agg.Excluded()), p.clock.Now().Sub(start))
}

// MarkScheduled records the current frame time and returns how long to wait
// before the next cycle. immediate is true when the target rate is 0.
func (p *Pipeline) MarkScheduled() (delay time.Duration, immediate bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.rate.RecordFrame(p.nowMillis())
	p.metrics.SetSmoothedRate(p.rate.SmoothedRateHz())
	p.state = StateScheduled
	return p.rate.NextDelay(p.cfg.TargetFrameRate)
}

func (p *Pipeline) nowMillis() float64 {
	return float64(p.clock.Now().Sub(p.epoch)) / float64(time.Millisecond)
}

// Stop discards the current cycle and returns to Idle. Exclusions survive.
// A detection still in flight will be dropped when it returns.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	p.log.Debugf("Stopped at cycle %d", p.cycle)
}

// ResetAll is Stop plus clearing the exclude set, used when the detector
// model changes.
func (p *Pipeline) ResetAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	p.agg.ResetAll()
	p.log.Debugf("Full reset at cycle %d", p.cycle)
}

func (p *Pipeline) stopLocked() {
	p.generation++
	p.agg.ResetCycleState()
	p.rate.Reset()
	p.epoch = p.clock.Now()
	p.batch = nil
	p.ranked = nil
	p.changed = false
	p.state = StateIdle
}

// Exclude hides class from the visible set until Include or ResetAll.
func (p *Pipeline) Exclude(class string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.agg.Exclude(class)
}

// Include reverses Exclude.
func (p *Pipeline) Include(class string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.agg.Include(class)
}

// SetConfidenceThreshold changes the render threshold for the next snapshot.
func (p *Pipeline) SetConfidenceThreshold(v float64) error {
	if err := validateThreshold(v); err != nil {
		return err
	}
	p.mu.Lock()
	p.cfg.ConfidenceThreshold = v
	p.mu.Unlock()
	return nil
}

// SetTargetFrameRate changes the scheduling target for the next delay.
func (p *Pipeline) SetTargetFrameRate(v float64) error {
	if err := validateFrameRate(v); err != nil {
		return err
	}
	p.mu.Lock()
	p.cfg.TargetFrameRate = v
	p.mu.Unlock()
	return nil
}

// Config returns the current configuration.
func (p *Pipeline) Config() Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// State returns the current cycle state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Busy reports whether a detector call is outstanding.
func (p *Pipeline) Busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.busy
}

// ColorFor returns the stable display color of class.
func (p *Pipeline) ColorFor(class string) colorful.Color {
	return p.palette.ColorFor(class)
}
