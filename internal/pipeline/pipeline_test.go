package pipeline

import (
	"context"
	"errors"
	"image"
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-ranker/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-ranker/pkg/types"
)

var catDogCat = []types.Detection{
	{Class: "cat", Score: 0.9, BBox: types.BoundingBox{X: 10, Y: 20, W: 30, H: 40}},
	{Class: "dog", Score: 0.4, BBox: types.BoundingBox{X: 50, Y: 5, W: 20, H: 20}},
	{Class: "cat", Score: 0.75, BBox: types.BoundingBox{X: 0, Y: 0, W: 5, H: 5}},
}

type detectorFunc func(ctx context.Context, img image.Image) ([]types.Detection, error)

func (f detectorFunc) Detect(ctx context.Context, img image.Image) ([]types.Detection, error) {
	return f(ctx, img)
}

// gatedDetector blocks in Detect until release is closed.
type gatedDetector struct {
	started chan struct{}
	release chan struct{}
	out     []types.Detection
}

func newGatedDetector(out []types.Detection) *gatedDetector {
	return &gatedDetector{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
		out:     out,
	}
}

func (d *gatedDetector) Detect(ctx context.Context, _ image.Image) ([]types.Detection, error) {
	d.started <- struct{}{}
	select {
	case <-d.release:
		return d.out, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func newTestPipeline(t *testing.T, cfg Config) (*Pipeline, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	p, err := New(cfg, Options{Clock: mock, Metrics: metrics.New()})
	require.NoError(t, err)
	return p, mock
}

func rankedPairs(s Snapshot) [][3]any {
	out := make([][3]any, len(s.Ranked))
	for i, r := range s.Ranked {
		out[i] = [3]any{r.Ordinal, r.Class, r.Score}
	}
	return out
}

func TestIngestRanksAndCounts(t *testing.T) {
	p, _ := newTestPipeline(t, DefaultConfig())
	require.NoError(t, p.Ingest(catDogCat))

	snap := p.Snapshot()
	require.Equal(t, [][3]any{
		{"1st", "cat", 0.9},
		{"2nd", "cat", 0.75},
		{"3rd", "dog", 0.4},
	}, rankedPairs(snap))
	require.Equal(t, map[string]int{"cat": 2, "dog": 1}, snap.Counts)
	require.Equal(t, []string{"cat", "dog"}, snap.Visible)
	require.Equal(t, uint64(1), snap.Cycle)
	require.Equal(t, "ranked", snap.State)
	require.True(t, snap.VisibleChanged)
}

func TestThresholdHidesFromRenderingOnly(t *testing.T) {
	p, _ := newTestPipeline(t, Config{ConfidenceThreshold: 0.5, TargetFrameRate: 20})
	require.NoError(t, p.Ingest(catDogCat))

	snap := p.Snapshot()
	for _, d := range snap.Renderable {
		require.NotEqual(t, "dog", d.Class, "below-threshold detection rendered")
	}
	require.Len(t, snap.Renderable, 2)
	require.Equal(t, 1, snap.Counts["dog"])
	require.Equal(t, "3rd", snap.Ranked[2].Ordinal)
	require.Equal(t, "dog", snap.Ranked[2].Class)

	require.NoError(t, p.SetConfidenceThreshold(0.3))
	require.Len(t, p.Snapshot().Renderable, 3, "threshold change should apply without a new cycle")
}

func TestExcludeMidSession(t *testing.T) {
	p, _ := newTestPipeline(t, DefaultConfig())
	require.NoError(t, p.Ingest(catDogCat))

	p.Exclude("cat")
	require.NoError(t, p.Ingest([]types.Detection{
		{Class: "cat", Score: 0.8},
		{Class: "dog", Score: 0.7},
	}))

	snap := p.Snapshot()
	require.Equal(t, []string{"dog"}, snap.Visible)
	require.Equal(t, []string{"cat"}, snap.Excluded)
	require.Equal(t, map[string]int{"cat": 1, "dog": 1}, snap.Counts)
	require.Len(t, snap.Ranked, 2, "excluded classes are still ranked")
	require.Len(t, snap.Renderable, 1)
	require.Equal(t, "dog", snap.Renderable[0].Class)

	p.Include("cat")
	require.Equal(t, []string{"cat", "dog"}, p.Snapshot().Visible)
	require.Empty(t, p.Snapshot().Excluded)
}

func TestEmptyBatchIsValid(t *testing.T) {
	p, _ := newTestPipeline(t, DefaultConfig())
	require.NoError(t, p.Ingest(nil))

	snap := p.Snapshot()
	require.Empty(t, snap.Ranked)
	require.Empty(t, snap.Visible)
	require.Empty(t, snap.Renderable)
	require.Equal(t, uint64(1), snap.Cycle)
}

func TestIngestCopiesBatch(t *testing.T) {
	p, _ := newTestPipeline(t, Config{ConfidenceThreshold: 0, TargetFrameRate: 0})
	batch := []types.Detection{{Class: "cat", Score: 0.9}}
	require.NoError(t, p.Ingest(batch))
	batch[0].Class = "mutated"
	require.Equal(t, "cat", p.Snapshot().Renderable[0].Class)
}

func TestProcessRejectsOverlappingCycles(t *testing.T) {
	p, _ := newTestPipeline(t, DefaultConfig())
	det := newGatedDetector(catDogCat)

	done := make(chan error, 1)
	go func() {
		_, err := p.Process(context.Background(), det, nil)
		done <- err
	}()
	<-det.started
	require.True(t, p.Busy())
	require.Equal(t, StateRanking, p.State(), "waiting on the detector is part of ranking")

	require.ErrorIs(t, p.Ingest(catDogCat), ErrBusy)
	_, err := p.Process(context.Background(), det, nil)
	require.ErrorIs(t, err, ErrBusy)

	close(det.release)
	require.NoError(t, <-done)
	require.False(t, p.Busy())
	require.Equal(t, map[string]int{"cat": 2, "dog": 1}, p.Snapshot().Counts,
		"rejected ingest must not double the counts")
	require.Equal(t, uint64(2), p.metrics.BusyRejections.Load())
}

func TestProcessDetectorFailureCommitsNothing(t *testing.T) {
	p, _ := newTestPipeline(t, DefaultConfig())
	require.NoError(t, p.Ingest(catDogCat))
	before := p.Snapshot()

	boom := errors.New("model not loaded")
	_, err := p.Process(context.Background(), detectorFunc(func(context.Context, image.Image) ([]types.Detection, error) {
		return []types.Detection{{Class: "bird", Score: 1}}, boom
	}), nil)
	require.ErrorIs(t, err, boom)

	require.Equal(t, before, p.Snapshot())
	require.False(t, p.Busy())
	require.Equal(t, uint64(1), p.metrics.DetectorErrors.Load())
}

func TestStopDiscardsInFlightCycle(t *testing.T) {
	p, _ := newTestPipeline(t, DefaultConfig())
	p.Exclude("person")
	require.NoError(t, p.Ingest(catDogCat))

	det := newGatedDetector(catDogCat)
	done := make(chan error, 1)
	go func() {
		_, err := p.Process(context.Background(), det, nil)
		done <- err
	}()
	<-det.started

	p.Stop()
	close(det.release)
	require.ErrorIs(t, <-done, ErrStopped)

	snap := p.Snapshot()
	require.Equal(t, "idle", snap.State)
	require.Empty(t, snap.Ranked)
	require.Empty(t, snap.Counts)
	require.Equal(t, []string{"person"}, snap.Excluded, "Stop keeps exclusions")
	require.Equal(t, uint64(1), p.metrics.CyclesDiscarded.Load())
}

func TestResetAllClearsExclusions(t *testing.T) {
	p, _ := newTestPipeline(t, DefaultConfig())
	p.Exclude("cat")
	require.NoError(t, p.Ingest(catDogCat))

	p.ResetAll()
	require.Equal(t, StateIdle, p.State())
	require.Empty(t, p.Snapshot().Excluded)
}

func TestConfigValidation(t *testing.T) {
	_, err := New(Config{ConfidenceThreshold: -0.1, TargetFrameRate: -1}, Options{})
	require.ErrorIs(t, err, ErrInvalidConfig)
	require.Contains(t, err.Error(), "confidence threshold")
	require.Contains(t, err.Error(), "target frame rate")

	p, _ := newTestPipeline(t, DefaultConfig())
	require.ErrorIs(t, p.SetConfidenceThreshold(1.5), ErrInvalidConfig)
	require.ErrorIs(t, p.SetConfidenceThreshold(math.NaN()), ErrInvalidConfig)
	require.ErrorIs(t, p.SetTargetFrameRate(-5), ErrInvalidConfig)
	require.Equal(t, DefaultConfig(), p.Config(), "rejected values must not be applied")

	require.NoError(t, p.SetTargetFrameRate(0))
	require.Equal(t, 0.0, p.Config().TargetFrameRate)
}

func TestMarkScheduledSmoothsRate(t *testing.T) {
	p, mock := newTestPipeline(t, DefaultConfig())

	var delay time.Duration
	var immediate bool
	for range 5 {
		mock.Add(50 * time.Millisecond)
		delay, immediate = p.MarkScheduled()
	}
	require.False(t, immediate)
	require.Equal(t, 50*time.Millisecond, delay)
	require.InDelta(t, 20.0, p.Snapshot().RateHz, 1e-9)
	require.Equal(t, StateScheduled, p.State())
	require.InDelta(t, 20.0, p.metrics.SmoothedRate(), 1e-9)

	require.NoError(t, p.SetTargetFrameRate(0))
	_, immediate = p.MarkScheduled()
	require.True(t, immediate)
}

func TestColorForIsStable(t *testing.T) {
	p, _ := newTestPipeline(t, DefaultConfig())
	require.Equal(t, p.ColorFor("cat"), p.ColorFor("cat"))
	require.NotEqual(t, p.ColorFor("cat").Hex(), p.ColorFor("dog").Hex())
}

func TestOrdinal(t *testing.T) {
	tests := map[int]string{
		1: "1st", 2: "2nd", 3: "3rd", 4: "4th", 10: "10th",
		11: "11th", 12: "12th", 13: "13th",
		21: "21st", 22: "22nd", 23: "23rd",
		101: "101st", 111: "111th", 112: "112th",
	}
	for n, want := range tests {
		require.Equal(t, want, Ordinal(n), "Ordinal(%d)", n)
	}
}
