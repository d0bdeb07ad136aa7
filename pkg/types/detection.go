package types

// BoundingBox is a detection rectangle in source-image pixels.
type BoundingBox struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	W float64 `json:"w" yaml:"w"`
	H float64 `json:"h" yaml:"h"`
}

// Detection is one object-recognition result produced by a detector.
// Treat it as immutable once produced.
type Detection struct {
	Class string      `json:"class" yaml:"class"`
	Score float64     `json:"score" yaml:"score"`
	BBox  BoundingBox `json:"bbox" yaml:"bbox"`
}

// RankedEntry is the score-only projection of a Detection used for ranking.
type RankedEntry struct {
	Class string  `json:"class"`
	Score float64 `json:"score"`
}

// Rank projects d onto the fields needed for ranking.
func (d Detection) Rank() RankedEntry {
	return RankedEntry{Class: d.Class, Score: d.Score}
}

// HigherScore orders ranked entries by descending confidence.
func HigherScore(a, b RankedEntry) bool {
	return a.Score > b.Score
}
