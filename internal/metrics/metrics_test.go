package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterIncrements(t *testing.T) {
	r := NewRegistry()

	r.IncrementCounter("test_counter", nil)
	r.IncrementCounter("test_counter", nil)
	r.AddToCounter("test_counter", 3, nil)

	snap := r.GetAll()
	require.Contains(t, snap.Counters, "test_counter")
	assert.Equal(t, 5.0, snap.Counters["test_counter"].Value)
	assert.Equal(t, Counter, snap.Counters["test_counter"].Type)
}

func TestCountersWithLabelsAreDistinct(t *testing.T) {
	r := NewRegistry()

	r.IncrementCounter("sends", map[string]string{"outcome": "ok"})
	r.IncrementCounter("sends", map[string]string{"outcome": "failed"})
	r.IncrementCounter("sends", map[string]string{"outcome": "ok"})

	snap := r.GetAll()
	assert.Equal(t, 2.0, snap.Counters["sends{outcome=ok}"].Value)
	assert.Equal(t, 1.0, snap.Counters["sends{outcome=failed}"].Value)
}

func TestRecordTimer(t *testing.T) {
	r := NewRegistry()

	r.RecordTimer("op", 10*time.Millisecond)
	r.RecordTimer("op", 20*time.Millisecond)
	r.RecordTimer("op", 30*time.Millisecond)

	snap := r.GetAll()
	timer := snap.Timers["op"]
	require.NotNil(t, timer)
	assert.Equal(t, int64(3), timer.Count)
	assert.InDelta(t, 10.0, timer.Min, 1.0)
	assert.InDelta(t, 30.0, timer.Max, 1.0)
	assert.InDelta(t, 20.0, timer.Average, 1.0)
}

func TestSetGauge(t *testing.T) {
	r := NewRegistry()

	r.SetGauge("queue_depth", 7, nil)
	r.SetGauge("queue_depth", 3, nil)

	snap := r.GetAll()
	assert.Equal(t, 3.0, snap.Gauges["queue_depth"].Value)
}

func TestSnapshotIsACopy(t *testing.T) {
	r := NewRegistry()
	r.IncrementCounter("c", nil)

	snap := r.GetAll()
	snap.Counters["c"].Value = 99

	assert.Equal(t, 1.0, r.GetAll().Counters["c"].Value)
}

func TestSnapshotUptime(t *testing.T) {
	r := NewRegistry()
	snap := r.GetAll()
	assert.GreaterOrEqual(t, snap.UptimeSeconds, 0.0)
}

func TestMetricKeyOrdering(t *testing.T) {
	a := metricKey("m", map[string]string{"b": "2", "a": "1"})
	b := metricKey("m", map[string]string{"a": "1", "b": "2"})
	assert.Equal(t, a, b)
	assert.Equal(t, "m{a=1}{b=2}", a)
	assert.Equal(t, "m", metricKey("m", nil))
}

func TestGlobalHelpers(t *testing.T) {
	IncrementCounter("global_test_counter", nil)
	RecordTimer("global_test_timer", time.Millisecond)
	SetGauge("global_test_gauge", 1, nil)

	snap := GetAllMetrics()
	assert.Contains(t, snap.Counters, "global_test_counter")
	assert.Contains(t, snap.Timers, "global_test_timer")
	assert.Contains(t, snap.Gauges, "global_test_gauge")
}
