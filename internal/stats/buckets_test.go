package stats_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conceptscan/conceptscan/internal/stats"
)

func TestBucketsAtHalfConfidence(t *testing.T) {
	bands := stats.Buckets(0.5)
	require.Len(t, bands, 4)

	assert.Equal(t, "max", bands[0].Name)
	assert.InDelta(t, 0.9, bands[0].Min, 1e-9)
	assert.InDelta(t, 1.0, bands[0].Max, 1e-9)

	assert.Equal(t, "b1", bands[1].Name)
	assert.InDelta(t, 0.9-0.4/3, bands[1].Min, 1e-9)
	assert.InDelta(t, 0.9, bands[1].Max, 1e-9)

	assert.Equal(t, "b2", bands[2].Name)
	assert.InDelta(t, 0.9-0.8/3, bands[2].Min, 1e-9)
	assert.InDelta(t, 0.9-0.4/3, bands[2].Max, 1e-9)

	assert.Equal(t, "min", bands[3].Name)
	assert.InDelta(t, 0.5, bands[3].Min, 1e-9)
	assert.InDelta(t, 0.9-0.8/3, bands[3].Max, 1e-9)
}

func TestBucketsAreContiguous(t *testing.T) {
	bands := stats.Buckets(0.3)
	assert.InDelta(t, bands[0].Min, bands[1].Max, 1e-9)
	assert.InDelta(t, bands[1].Min, bands[2].Max, 1e-9)
	assert.InDelta(t, bands[2].Min, bands[3].Max, 1e-9)
}

func TestClassify(t *testing.T) {
	bands := stats.Buckets(0.5)

	assert.Equal(t, "max", stats.Classify(0.95, bands))
	assert.Equal(t, "max", stats.Classify(1.0, bands))
	assert.Equal(t, "b1", stats.Classify(0.85, bands))
	assert.Equal(t, "b2", stats.Classify(0.7, bands))
	assert.Equal(t, "min", stats.Classify(0.55, bands))
	assert.Equal(t, "min", stats.Classify(0.5, bands))
	assert.Equal(t, "", stats.Classify(0.49, bands))
}

func TestClassifySharedBoundaryGoesToHigherBand(t *testing.T) {
	bands := stats.Buckets(0.5)
	// 0.9 sits on the max/b1 boundary and must land in max.
	assert.Equal(t, "max", stats.Classify(0.9, bands))
	assert.Equal(t, "b1", stats.Classify(bands[1].Min, bands))
}

func TestBucketsDegenerateAboveCeiling(t *testing.T) {
	bands := stats.Buckets(0.95)
	// Step collapses to zero; the lower bands all sit on the ceiling and
	// every score at or above it classifies as max.
	for _, b := range bands[1:3] {
		assert.InDelta(t, 0.9, b.Min, 1e-9)
		assert.InDelta(t, 0.9, b.Max, 1e-9)
	}
	assert.Equal(t, "max", stats.Classify(0.97, bands))
	assert.Equal(t, "max", stats.Classify(0.9, bands))
	assert.Equal(t, "", stats.Classify(0.89, bands))
}
