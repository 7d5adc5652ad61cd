package metrics

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// MetricType represents the type of metric
type MetricType string

const (
	Counter MetricType = "counter"
	Timer   MetricType = "timer"
	Gauge   MetricType = "gauge"
)

// Well-known delivery metric names.
const (
	MetricMessagesSent         = "wadeliver_messages_sent_total"
	MetricMessagesRetried      = "wadeliver_messages_retried_total"
	MetricMessagesDeadLettered = "wadeliver_messages_dead_lettered_total"
	MetricMessagesReplayed     = "wadeliver_messages_replayed_total"
	MetricBreakerOpened        = "wadeliver_breaker_opened_total"
	MetricAttemptDuration      = "wadeliver_attempt_duration"
)

// Metric represents a single metric with its metadata
type Metric struct {
	Name       string            `json:"name"`
	Type       MetricType        `json:"type"`
	Value      float64           `json:"value"`
	Labels     map[string]string `json:"labels,omitempty"`
	LastUpdate time.Time         `json:"last_update"`
}

// TimerMetric stores timing information
type TimerMetric struct {
	Count   int64   `json:"count"`
	Sum     float64 `json:"sum_ms"`
	Min     float64 `json:"min_ms"`
	Max     float64 `json:"max_ms"`
	Average float64 `json:"avg_ms"`
}

// Registry manages all metrics in memory
type Registry struct {
	mu        sync.RWMutex
	counters  map[string]*Metric
	timers    map[string]*TimerMetric
	gauges    map[string]*Metric
	startTime time.Time
}

// NewRegistry creates a new metrics registry
func NewRegistry() *Registry {
	return &Registry{
		counters:  make(map[string]*Metric),
		timers:    make(map[string]*TimerMetric),
		gauges:    make(map[string]*Metric),
		startTime: time.Now(),
	}
}

var globalRegistry = NewRegistry()

// GetRegistry returns the global registry instance
func GetRegistry() *Registry {
	return globalRegistry
}

// IncrementCounter increments a counter metric
func (r *Registry) IncrementCounter(name string, labels map[string]string) {
	r.AddToCounter(name, 1, labels)
}

// AddToCounter adds a value to a counter metric
func (r *Registry) AddToCounter(name string, value float64, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := metricKey(name, labels)
	if counter, exists := r.counters[key]; exists {
		counter.Value += value
		counter.LastUpdate = time.Now()
		return
	}
	r.counters[key] = &Metric{
		Name:       name,
		Type:       Counter,
		Value:      value,
		Labels:     copyLabels(labels),
		LastUpdate: time.Now(),
	}
}

// RecordTimer records a duration sample
func (r *Registry) RecordTimer(name string, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ms := float64(duration.Microseconds()) / 1000.0
	timer, exists := r.timers[name]
	if !exists {
		timer = &TimerMetric{Min: ms, Max: ms}
		r.timers[name] = timer
	}

	timer.Count++
	timer.Sum += ms
	if ms < timer.Min {
		timer.Min = ms
	}
	if ms > timer.Max {
		timer.Max = ms
	}
	timer.Average = timer.Sum / float64(timer.Count)
}

// SetGauge sets a gauge metric to a value
func (r *Registry) SetGauge(name string, value float64, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := metricKey(name, labels)
	r.gauges[key] = &Metric{
		Name:       name,
		Type:       Gauge,
		Value:      value,
		Labels:     copyLabels(labels),
		LastUpdate: time.Now(),
	}
}

// Snapshot is the full registry contents for the metrics endpoint.
type Snapshot struct {
	UptimeSeconds float64                 `json:"uptime_seconds"`
	Counters      map[string]*Metric      `json:"counters"`
	Timers        map[string]*TimerMetric `json:"timers"`
	Gauges        map[string]*Metric      `json:"gauges"`
}

// GetAll returns a copy of all metrics
func (r *Registry) GetAll() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := Snapshot{
		UptimeSeconds: time.Since(r.startTime).Seconds(),
		Counters:      make(map[string]*Metric, len(r.counters)),
		Timers:        make(map[string]*TimerMetric, len(r.timers)),
		Gauges:        make(map[string]*Metric, len(r.gauges)),
	}
	for k, v := range r.counters {
		m := *v
		snap.Counters[k] = &m
	}
	for k, v := range r.timers {
		t := *v
		snap.Timers[k] = &t
	}
	for k, v := range r.gauges {
		m := *v
		snap.Gauges[k] = &m
	}
	return snap
}

// Package-level helpers against the global registry.

func IncrementCounter(name string, labels map[string]string) {
	globalRegistry.IncrementCounter(name, labels)
}

func RecordTimer(name string, duration time.Duration) {
	globalRegistry.RecordTimer(name, duration)
}

func SetGauge(name string, value float64, labels map[string]string) {
	globalRegistry.SetGauge(name, value, labels)
}

func GetAllMetrics() Snapshot {
	return globalRegistry.GetAll()
}

func metricKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteByte('{')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
		b.WriteByte('}')
	}
	return b.String()
}

func copyLabels(labels map[string]string) map[string]string {
	if len(labels) == 0 {
		return nil
	}
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}
