// Package metrics is an in-memory registry for the storage layer's
// counters, gauges and timers. It keeps the core free of any logging or
// export dependency; the stats endpoint serializes the registry on demand.
package metrics

import (
	"sort"
	"sync"
	"time"
)

// Metric is a single counter or gauge value
type Metric struct {
	Name       string    `json:"name"`
	Value      float64   `json:"value"`
	LastUpdate time.Time `json:"last_update"`
}

// TimerMetric aggregates timing samples in milliseconds
type TimerMetric struct {
	Count   int64   `json:"count"`
	Sum     float64 `json:"sum_ms"`
	Min     float64 `json:"min_ms"`
	Max     float64 `json:"max_ms"`
	Average float64 `json:"avg_ms"`
	P95     float64 `json:"p95_ms,omitempty"`
	samples []float64
}

// Registry manages all metrics in memory
type Registry struct {
	mu        sync.RWMutex
	counters  map[string]*Metric
	gauges    map[string]*Metric
	timers    map[string]*TimerMetric
	startTime time.Time
}

// NewRegistry creates a new metrics registry
func NewRegistry() *Registry {
	return &Registry{
		counters:  make(map[string]*Metric),
		gauges:    make(map[string]*Metric),
		timers:    make(map[string]*TimerMetric),
		startTime: time.Now(),
	}
}

var globalRegistry = NewRegistry()

// GetRegistry returns the global registry instance
func GetRegistry() *Registry {
	return globalRegistry
}

// IncrementCounter increments a counter on the global registry
func IncrementCounter(name string) {
	globalRegistry.AddToCounter(name, 1)
}

// RecordTimer records a timing sample (milliseconds) on the global registry
func RecordTimer(name string, ms float64) {
	globalRegistry.RecordTimer(name, ms)
}

// SetGauge sets a gauge on the global registry
func SetGauge(name string, value float64) {
	globalRegistry.SetGauge(name, value)
}

// GetAllMetrics serializes the global registry
func GetAllMetrics() map[string]interface{} {
	return globalRegistry.GetAllMetrics()
}

// AddToCounter adds a value to a counter metric
func (r *Registry) AddToCounter(name string, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if counter, exists := r.counters[name]; exists {
		counter.Value += value
		counter.LastUpdate = time.Now()
		return
	}
	r.counters[name] = &Metric{Name: name, Value: value, LastUpdate: time.Now()}
}

// CounterValue returns the current value of a counter (0 if absent)
func (r *Registry) CounterValue(name string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if counter, exists := r.counters[name]; exists {
		return counter.Value
	}
	return 0
}

// SetGauge sets a gauge metric value
func (r *Registry) SetGauge(name string, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gauges[name] = &Metric{Name: name, Value: value, LastUpdate: time.Now()}
}

// RecordTimer records a timing measurement in milliseconds
func (r *Registry) RecordTimer(name string, ms float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	timer, exists := r.timers[name]
	if !exists {
		r.timers[name] = &TimerMetric{
			Count:   1,
			Sum:     ms,
			Min:     ms,
			Max:     ms,
			Average: ms,
			samples: []float64{ms},
		}
		return
	}

	timer.Count++
	timer.Sum += ms
	timer.samples = append(timer.samples, ms)

	if ms < timer.Min {
		timer.Min = ms
	}
	if ms > timer.Max {
		timer.Max = ms
	}
	timer.Average = timer.Sum / float64(timer.Count)

	// Keep a bounded sample window for the percentile.
	if len(timer.samples) > 1000 {
		timer.samples = timer.samples[len(timer.samples)-1000:]
	}
	if len(timer.samples) >= 10 {
		timer.P95 = percentile(timer.samples, 0.95)
	}
}

// GetAllMetrics returns all metrics in a structured format
func (r *Registry) GetAllMetrics() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counters := make(map[string]*Metric, len(r.counters))
	for key, counter := range r.counters {
		counters[key] = counter
	}
	gauges := make(map[string]*Metric, len(r.gauges))
	for key, gauge := range r.gauges {
		gauges[key] = gauge
	}
	timers := make(map[string]*TimerMetric, len(r.timers))
	for key, timer := range r.timers {
		timers[key] = timer
	}

	return map[string]interface{}{
		"counters":  counters,
		"gauges":    gauges,
		"timers":    timers,
		"uptime_ms": time.Since(r.startTime).Milliseconds(),
		"timestamp": time.Now().Unix(),
	}
}

// Reset clears the registry. Test helper.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters = make(map[string]*Metric)
	r.gauges = make(map[string]*Metric)
	r.timers = make(map[string]*TimerMetric)
	r.startTime = time.Now()
}

func percentile(samples []float64, p float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}
