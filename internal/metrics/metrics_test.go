package metrics

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	r := NewRegistry()

	r.AddToCounter("pool_acquired_total", 1)
	r.AddToCounter("pool_acquired_total", 1)
	r.AddToCounter("pool_acquired_total", 3)

	assert.Equal(t, float64(5), r.CounterValue("pool_acquired_total"))
	assert.Equal(t, float64(0), r.CounterValue("missing"))
}

func TestGauges(t *testing.T) {
	r := NewRegistry()

	r.SetGauge("pool_idle", 2)
	r.SetGauge("pool_idle", 7)

	all := r.GetAllMetrics()
	gauges := all["gauges"].(map[string]*Metric)
	require.Contains(t, gauges, "pool_idle")
	assert.Equal(t, float64(7), gauges["pool_idle"].Value)
}

func TestTimers(t *testing.T) {
	r := NewRegistry()

	samples := []float64{10, 20, 30, 40, 50}
	for _, s := range samples {
		r.RecordTimer("pool_acquire_ms", s)
	}

	all := r.GetAllMetrics()
	timers := all["timers"].(map[string]*TimerMetric)
	require.Contains(t, timers, "pool_acquire_ms")

	timer := timers["pool_acquire_ms"]
	assert.Equal(t, int64(5), timer.Count)
	assert.Equal(t, float64(150), timer.Sum)
	assert.Equal(t, float64(10), timer.Min)
	assert.Equal(t, float64(50), timer.Max)
	assert.Equal(t, float64(30), timer.Average)
}

func TestTimerP95(t *testing.T) {
	r := NewRegistry()

	for i := 1; i <= 100; i++ {
		r.RecordTimer("op", float64(i))
	}

	all := r.GetAllMetrics()
	timer := all["timers"].(map[string]*TimerMetric)["op"]
	assert.InDelta(t, 96, timer.P95, 2)
}

func TestTimerSampleWindowBounded(t *testing.T) {
	r := NewRegistry()

	for i := 0; i < 2500; i++ {
		r.RecordTimer("op", float64(i))
	}

	all := r.GetAllMetrics()
	timer := all["timers"].(map[string]*TimerMetric)["op"]
	assert.Equal(t, int64(2500), timer.Count)
	// The percentile reflects the recent window, not ancient samples.
	assert.Greater(t, timer.P95, float64(2000))
}

func TestReset(t *testing.T) {
	r := NewRegistry()
	r.AddToCounter("a", 1)
	r.SetGauge("b", 2)
	r.RecordTimer("c", 3)

	r.Reset()

	all := r.GetAllMetrics()
	assert.Empty(t, all["counters"])
	assert.Empty(t, all["gauges"])
	assert.Empty(t, all["timers"])
}

func TestGlobalRegistryHelpers(t *testing.T) {
	GetRegistry().Reset()
	defer GetRegistry().Reset()

	IncrementCounter("test_total")
	IncrementCounter("test_total")
	RecordTimer("test_ms", 12.5)
	SetGauge("test_gauge", 3)

	assert.Equal(t, float64(2), GetRegistry().CounterValue("test_total"))

	all := GetAllMetrics()
	assert.Contains(t, all, "counters")
	assert.Contains(t, all, "uptime_ms")
}

func TestRegistryConcurrency(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.AddToCounter("concurrent", 1)
				r.RecordTimer("concurrent_ms", float64(j))
				r.SetGauge("concurrent_gauge", float64(j))
				_ = r.GetAllMetrics()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, float64(1000), r.CounterValue("concurrent"))
}
