package pointcache_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scada-core/internal/faults"
	"scada-core/internal/model"
	"scada-core/internal/pointcache"
)

var t0 = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func TestCommitAndGet(t *testing.T) {
	c := pointcache.New()

	v, save, err := c.Commit("p1", 42, t0, 1, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 42.0, v.Value)
	assert.False(t, save)

	got, ok := c.Get("p1")
	require.True(t, ok)
	assert.Equal(t, 42.0, got.Value)
	assert.Equal(t, t0, got.At)
}

func TestStaleSampleRejected(t *testing.T) {
	c := pointcache.New()

	_, _, err := c.Commit("p1", 1, t0, 1, 0, nil)
	require.NoError(t, err)

	// Older timestamp is dropped.
	_, _, err = c.Commit("p1", 2, t0.Add(-time.Second), 1, 0, nil)
	assert.True(t, errors.Is(err, faults.ErrStaleSample))

	// Equal timestamp is a duplicate redelivery, also dropped.
	_, _, err = c.Commit("p1", 3, t0, 1, 0, nil)
	assert.True(t, errors.Is(err, faults.ErrStaleSample))

	got, _ := c.Get("p1")
	assert.Equal(t, 1.0, got.Value)
}

func TestAveragingWindow(t *testing.T) {
	c := pointcache.New()

	v, _, err := c.Commit("p1", 10, t0, 3, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 10.0, v.Value)

	v, _, _ = c.Commit("p1", 20, t0.Add(time.Second), 3, 0, nil)
	assert.Equal(t, 15.0, v.Value)

	v, _, _ = c.Commit("p1", 30, t0.Add(2*time.Second), 3, 0, nil)
	assert.Equal(t, 20.0, v.Value)

	// Fourth sample overwrites the oldest: mean of 20, 30, 40.
	v, _, _ = c.Commit("p1", 40, t0.Add(3*time.Second), 3, 0, nil)
	assert.Equal(t, 30.0, v.Value)
}

func TestConvertAppliedAfterAggregation(t *testing.T) {
	c := pointcache.New()
	double := func(v float64) float64 { return v * 2 }

	c.Commit("p1", 10, t0, 2, 0, double)
	v, _, err := c.Commit("p1", 20, t0.Add(time.Second), 2, 0, double)
	require.NoError(t, err)
	assert.Equal(t, 30.0, v.Value) // mean 15, then doubled
}

func TestHistoryThrottle(t *testing.T) {
	c := pointcache.New()
	interval := 10 * time.Second

	_, save, _ := c.Commit("p1", 1, t0, 1, interval, nil)
	assert.True(t, save, "first accepted sample saves")

	_, save, _ = c.Commit("p1", 2, t0.Add(5*time.Second), 1, interval, nil)
	assert.False(t, save, "within the throttle window")

	_, save, _ = c.Commit("p1", 3, t0.Add(10*time.Second), 1, interval, nil)
	assert.True(t, save, "interval elapsed")

	// Zero interval disables history entirely.
	_, save, _ = c.Commit("p2", 1, t0, 1, 0, nil)
	assert.False(t, save)
}

func TestSnapshotAndPrune(t *testing.T) {
	c := pointcache.New()
	c.Commit("p1", 1, t0, 1, 0, nil)
	c.Commit("p2", 2, t0, 1, 0, nil)

	assert.Len(t, c.Snapshot(), 2)
	assert.Len(t, c.Snapshot("p1"), 1)
	assert.Len(t, c.Snapshot("p1", "missing"), 1)

	c.Prune(map[string]*model.MonitoringPoint{"p2": {ID: "p2"}})
	_, ok := c.Get("p1")
	assert.False(t, ok)
	_, ok = c.Get("p2")
	assert.True(t, ok)
}
