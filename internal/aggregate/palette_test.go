package aggregate

import (
	"sync"
	"testing"
)

func TestHueIsDJB2Mod360(t *testing.T) {
	// djb2("a") = 5381*33 + 97 = 177670; 177670 % 360 = 190
	if got := Hue("a"); got != 190 {
		t.Fatalf("Hue(a) = %v, want 190", got)
	}
	for _, class := range []string{"", "cat", "dog", "traffic light", "猫"} {
		h := Hue(class)
		if h < 0 || h >= 360 {
			t.Fatalf("Hue(%q) = %v out of range", class, h)
		}
	}
}

func TestColorForIsStableAcrossPalettes(t *testing.T) {
	p1, p2 := NewPalette(), NewPalette()
	p2.ColorFor("dog")
	p2.ColorFor("person")

	for _, class := range []string{"cat", "dog", "person"} {
		if p1.ColorFor(class).Hex() != p2.ColorFor(class).Hex() {
			t.Fatalf("ColorFor(%q) depends on call history", class)
		}
		if p1.ColorFor(class) != p1.ColorFor(class) {
			t.Fatalf("ColorFor(%q) not memoized", class)
		}
	}
}

func TestColorForConcurrent(t *testing.T) {
	p := NewPalette()
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, class := range []string{"cat", "dog", "bird"} {
				p.ColorFor(class)
			}
		}()
	}
	wg.Wait()
	if len(p.cache) != 3 {
		t.Fatalf("cache size = %d, want 3", len(p.cache))
	}
}
