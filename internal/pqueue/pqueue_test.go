package pqueue

import (
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-ranker/pkg/types"
)

func drain[T any](q *Queue[T]) []T {
	var out []T
	for {
		v, ok := q.ExtractMax()
		if !ok {
			return out
		}
		out = append(out, v)
	}
}

func TestExtractMaxEmpty(t *testing.T) {
	q := NewOrdered[int]()
	if v, ok := q.ExtractMax(); ok {
		t.Fatalf("ExtractMax on empty queue = (%d, true), want (_, false)", v)
	}
	if _, ok := q.Peek(); ok {
		t.Fatal("Peek on empty queue reported a value")
	}
	if q.Cap() != defaultCapacity {
		t.Fatalf("Cap() = %d, want %d", q.Cap(), defaultCapacity)
	}
}

func TestHeapifyReproducesDescendingOrder(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	for _, n := range []int{0, 1, 2, 3, 10, 11, 64, 257} {
		perm := rng.Perm(n)
		q := NewOrdered(perm...)
		if q.Len() != n {
			t.Fatalf("n=%d: Len() = %d", n, q.Len())
		}
		want := make([]int, n)
		for i := range want {
			want[i] = n - 1 - i
		}
		got := drain(q)
		if n == 0 {
			got = []int{}
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("n=%d: drain order mismatch (-want +got):\n%s", n, diff)
		}
	}
}

func TestNewCopiesInitialElements(t *testing.T) {
	in := []int{1, 5, 3}
	q := NewOrdered(in...)
	q.Insert(9)
	if diff := cmp.Diff([]int{1, 5, 3}, in); diff != "" {
		t.Fatalf("caller slice mutated (-want +got):\n%s", diff)
	}
}

func TestRandomInsertExtractKeepsMaxAtRoot(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 5))
	q := NewOrdered[int]()
	var live []int

	for step := 0; step < 5000; step++ {
		if len(live) == 0 || rng.IntN(3) > 0 {
			v := rng.IntN(1000)
			q.Insert(v)
			live = append(live, v)
			continue
		}
		got, ok := q.ExtractMax()
		if !ok {
			t.Fatalf("step %d: ExtractMax reported empty with %d live", step, len(live))
		}
		want := slices.Max(live)
		if got != want {
			t.Fatalf("step %d: ExtractMax = %d, want %d", step, got, want)
		}
		live = slices.Delete(live, slices.Index(live, want), slices.Index(live, want)+1)
		if q.Len() != len(live) {
			t.Fatalf("step %d: Len() = %d, want %d", step, q.Len(), len(live))
		}
	}
}

func TestGrowthKeepsLiveElements(t *testing.T) {
	q := NewOrdered[int]()
	for i := range 100 {
		q.Insert(i)
	}
	if q.Len() != 100 {
		t.Fatalf("Len() = %d, want 100", q.Len())
	}
	if q.Cap() < 100 {
		t.Fatalf("Cap() = %d, want >= 100", q.Cap())
	}
	capBefore := q.Cap()
	for range 50 {
		q.ExtractMax()
	}
	if q.Cap() != capBefore {
		t.Fatalf("Cap() changed on extract: %d -> %d", capBefore, q.Cap())
	}
	if top, _ := q.Peek(); top != 49 {
		t.Fatalf("Peek() = %d, want 49", top)
	}
}

func TestGrowthFactor(t *testing.T) {
	q := NewOrdered[int]()
	for i := range defaultCapacity + 1 {
		q.Insert(i)
	}
	if q.Cap() != 15 {
		t.Fatalf("Cap() after first growth = %d, want 15", q.Cap())
	}
}

func TestSortedDescendingIsPure(t *testing.T) {
	q := NewOrdered(4, 8, 1, 9, 2)
	sorted := q.SortedDescending()
	if diff := cmp.Diff([]int{9, 8, 4, 2, 1}, sorted); diff != "" {
		t.Fatalf("SortedDescending mismatch (-want +got):\n%s", diff)
	}
	if q.Len() != 5 {
		t.Fatalf("Len() after sort = %d, want 5", q.Len())
	}
	if diff := cmp.Diff([]int{9, 8, 4, 2, 1}, drain(q)); diff != "" {
		t.Fatalf("queue changed by sort (-want +got):\n%s", diff)
	}
}

func TestCustomPredicateRanksDetections(t *testing.T) {
	q := New(types.HigherScore,
		types.RankedEntry{Class: "cat", Score: 0.9},
		types.RankedEntry{Class: "dog", Score: 0.4},
		types.RankedEntry{Class: "cat", Score: 0.75},
	)
	want := []types.RankedEntry{
		{Class: "cat", Score: 0.9},
		{Class: "cat", Score: 0.75},
		{Class: "dog", Score: 0.4},
	}
	if diff := cmp.Diff(want, q.SortedDescending()); diff != "" {
		t.Fatalf("ranking mismatch (-want +got):\n%s", diff)
	}
}

func TestTiesAreAllReturned(t *testing.T) {
	q := NewOrdered(2, 2, 2, 1, 2)
	got := q.SortedDescending()
	if diff := cmp.Diff([]int{2, 2, 2, 2, 1}, got); diff != "" {
		t.Fatalf("ties mismatch (-want +got):\n%s", diff)
	}
}
