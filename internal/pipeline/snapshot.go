package pipeline

import "github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-ranker/pkg/types"

// RankedView is one row of the ranking shown to the user.
type RankedView struct {
	Rank    int     `json:"rank"`
	Ordinal string  `json:"ordinal"`
	Class   string  `json:"class"`
	Score   float64 `json:"score"`
}

// Snapshot is a read-only copy of everything a renderer needs after a cycle.
type Snapshot struct {
	Cycle               uint64            `json:"cycle"`
	State               string            `json:"state"`
	Ranked              []RankedView      `json:"ranked"`
	Renderable          []types.Detection `json:"renderable"`
	Visible             []string          `json:"visible"`
	Excluded            []string          `json:"excluded"`
	Counts              map[string]int    `json:"counts"`
	VisibleChanged      bool              `json:"visible_changed"`
	RateHz              float64           `json:"rate_hz"`
	ConfidenceThreshold float64           `json:"confidence_threshold"`
	TargetFrameRate     float64           `json:"target_frame_rate"`
}

// Snapshot returns the views of the latest committed cycle, filtered by the
// current threshold and exclude set.
func (p *Pipeline) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *Pipeline) snapshotLocked() Snapshot {
	ranked := make([]RankedView, len(p.ranked))
	for i, e := range p.ranked {
		ranked[i] = RankedView{
			Rank:    i + 1,
			Ordinal: Ordinal(i + 1),
			Class:   e.Class,
			Score:   e.Score,
		}
	}
	return Snapshot{
		Cycle:               p.cycle,
		State:               p.state.String(),
		Ranked:              ranked,
		Renderable:          p.renderableLocked(),
		Visible:             p.agg.Visible(),
		Excluded:            p.agg.Excluded(),
		Counts:              p.agg.Counts(),
		VisibleChanged:      p.changed,
		RateHz:              p.rate.SmoothedRateHz(),
		ConfidenceThreshold: p.cfg.ConfidenceThreshold,
		TargetFrameRate:     p.cfg.TargetFrameRate,
	}
}

// renderableLocked keeps detections at or above the threshold whose class is
// not excluded, in arrival order.
func (p *Pipeline) renderableLocked() []types.Detection {
	out := make([]types.Detection, 0, len(p.batch))
	for _, d := range p.batch {
		if d.Score < p.cfg.ConfidenceThreshold || p.agg.IsExcluded(d.Class) {
			continue
		}
		out = append(out, d)
	}
	return out
}
