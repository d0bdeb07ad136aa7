// Package aggregate tracks which detection classes are visible, which are
// filtered out by the user, and how often each class occurred per cycle.
package aggregate

import (
	"maps"
	"slices"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-ranker/pkg/types"
)

// Aggregator holds per-cycle class state plus the exclude set, which
// outlives cycles. visible and excluded are always disjoint.
//
// Aggregator is not safe for concurrent use; the pipeline serializes access.
type Aggregator struct {
	visible         map[string]struct{}
	previousVisible map[string]struct{}
	excluded        map[string]struct{}
	counts          map[string]int
}

// New returns an empty Aggregator.
func New() *Aggregator {
	return &Aggregator{
		visible:         make(map[string]struct{}),
		previousVisible: make(map[string]struct{}),
		excluded:        make(map[string]struct{}),
		counts:          make(map[string]int),
	}
}

// BeginCycle clears the per-cycle counts and visible set. The exclude set and
// the previous visible snapshot survive so change detection spans cycles.
func (a *Aggregator) BeginCycle() {
	clear(a.counts)
	clear(a.visible)
}

// Record counts d and marks its class visible unless it is excluded.
func (a *Aggregator) Record(d types.Detection) {
	a.counts[d.Class]++
	if _, ok := a.excluded[d.Class]; !ok {
		a.visible[d.Class] = struct{}{}
	}
}

// Exclude moves class from the visible set into the exclude set.
func (a *Aggregator) Exclude(class string) {
	delete(a.visible, class)
	a.excluded[class] = struct{}{}
}

// Include moves class from the exclude set back into the visible set.
func (a *Aggregator) Include(class string) {
	delete(a.excluded, class)
	a.visible[class] = struct{}{}
}

// HasVisibleSetChanged reports whether the visible set differs from the one
// seen on the previous call, then remembers the current set. Call it once per
// render decision.
func (a *Aggregator) HasVisibleSetChanged() bool {
	changed := !sameSet(a.visible, a.previousVisible)
	a.previousVisible = maps.Clone(a.visible)
	return changed
}

// ResetCycleState drops visible, previous visible and counts. Exclusions are
// kept.
func (a *Aggregator) ResetCycleState() {
	clear(a.visible)
	clear(a.previousVisible)
	clear(a.counts)
}

// ResetAll is ResetCycleState plus clearing the exclude set.
func (a *Aggregator) ResetAll() {
	a.ResetCycleState()
	clear(a.excluded)
}

// Count returns how many detections of class were recorded this cycle.
func (a *Aggregator) Count(class string) int {
	return a.counts[class]
}

// Counts returns a copy of the per-class counts.
func (a *Aggregator) Counts() map[string]int {
	return maps.Clone(a.counts)
}

// Visible returns the visible classes in lexical order.
func (a *Aggregator) Visible() []string {
	return sortedKeys(a.visible)
}

// Excluded returns the excluded classes in lexical order.
func (a *Aggregator) Excluded() []string {
	return sortedKeys(a.excluded)
}

// IsExcluded reports whether class is filtered out.
func (a *Aggregator) IsExcluded(class string) bool {
	_, ok := a.excluded[class]
	return ok
}

func sameSet(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

func sortedKeys(m map[string]struct{}) []string {
	return slices.Sorted(maps.Keys(m))
}
