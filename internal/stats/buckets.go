// Package stats derives confidence buckets from a user threshold and
// classifies detection scores into them.
package stats

// BucketCeiling is the lower bound of the top band. Everything at or above it
// counts as a maximal-confidence detection.
const BucketCeiling = 0.9

// Band is a named confidence interval. Bounds are inclusive.
type Band struct {
	Name string
	Min  float64
	Max  float64
}

// Buckets splits [confidence, 1.0] into four contiguous bands: a fixed top
// band from BucketCeiling up, then three equal steps walking down from the
// ceiling to the threshold. When confidence meets or exceeds the ceiling the
// step degenerates to zero and the lower bands collapse onto the ceiling.
func Buckets(confidence float64) []Band {
	diff := BucketCeiling - confidence
	step := 0.0
	if diff > 0 {
		step = diff / 3
	}
	b1 := BucketCeiling - step
	b2 := BucketCeiling - 2*step
	return []Band{
		{Name: "max", Min: BucketCeiling, Max: 1.0},
		{Name: "b1", Min: b1, Max: BucketCeiling},
		{Name: "b2", Min: b2, Max: b1},
		{Name: "min", Min: confidence, Max: b2},
	}
}

// Classify returns the name of the first band whose inclusive range contains
// score, scanning bands top down. Shared boundaries resolve to the higher
// band. Returns empty string when no band matches.
func Classify(score float64, bands []Band) string {
	for _, b := range bands {
		if score >= b.Min && score <= b.Max {
			return b.Name
		}
	}
	return ""
}
