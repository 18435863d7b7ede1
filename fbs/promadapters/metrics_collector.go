package promadapters

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bibsdb/bibselv/fbs"
)

const metricsNamespace = "bibselv"

// MetricsCollector implements fbs.MetricsCollector on top of Prometheus
// metric vectors. It maps the interface to Prometheus instruments:
//   - RecordDuration -> HistogramVec (seconds)
//   - IncrementCounter -> CounterVec
//   - RecordValue -> GaugeVec
type MetricsCollector struct {
	registerer prometheus.Registerer

	mu         sync.Mutex
	histograms map[string]vecEntry[*prometheus.HistogramVec]
	counters   map[string]vecEntry[*prometheus.CounterVec]
	gauges     map[string]vecEntry[*prometheus.GaugeVec]
}

// vecEntry pairs a metric vector with the label keys it was registered with.
type vecEntry[T any] struct {
	vec       T
	labelKeys []string
}

// NewMetricsCollector creates a collector registering its metric vectors on
// the given Registerer. Pass prometheus.DefaultRegisterer to expose the
// metrics through the default registry.
func NewMetricsCollector(registerer prometheus.Registerer) *MetricsCollector {
	return &MetricsCollector{
		registerer: registerer,
		histograms: make(map[string]vecEntry[*prometheus.HistogramVec]),
		counters:   make(map[string]vecEntry[*prometheus.CounterVec]),
		gauges:     make(map[string]vecEntry[*prometheus.GaugeVec]),
	}
}

// RecordDuration records a duration observation in seconds.
func (m *MetricsCollector) RecordDuration(metric string, duration time.Duration, labels map[string]string) {
	entry, ok := m.getOrCreateHistogram(metric, labels)
	if !ok {
		return
	}

	entry.vec.With(labelValues(entry.labelKeys, labels)).Observe(duration.Seconds())
}

// IncrementCounter increments a monotonic counter.
func (m *MetricsCollector) IncrementCounter(metric string, labels map[string]string) {
	entry, ok := m.getOrCreateCounter(metric, labels)
	if !ok {
		return
	}

	entry.vec.With(labelValues(entry.labelKeys, labels)).Inc()
}

// RecordValue sets a gauge to the given value.
func (m *MetricsCollector) RecordValue(metric string, value float64, labels map[string]string) {
	entry, ok := m.getOrCreateGauge(metric, labels)
	if !ok {
		return
	}

	entry.vec.With(labelValues(entry.labelKeys, labels)).Set(value)
}

func (m *MetricsCollector) getOrCreateHistogram(metric string, labels map[string]string) (vecEntry[*prometheus.HistogramVec], bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, exists := m.histograms[metric]; exists {
		return entry, true
	}

	keys := labelKeys(labels)
	vec := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      metric,
			Help:      "circulation operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		keys,
	)

	if err := m.registerer.Register(vec); err != nil {
		return vecEntry[*prometheus.HistogramVec]{}, false
	}

	entry := vecEntry[*prometheus.HistogramVec]{vec: vec, labelKeys: keys}
	m.histograms[metric] = entry

	return entry, true
}

func (m *MetricsCollector) getOrCreateCounter(metric string, labels map[string]string) (vecEntry[*prometheus.CounterVec], bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, exists := m.counters[metric]; exists {
		return entry, true
	}

	keys := labelKeys(labels)
	vec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      metric,
			Help:      "circulation operation counter",
		},
		keys,
	)

	if err := m.registerer.Register(vec); err != nil {
		return vecEntry[*prometheus.CounterVec]{}, false
	}

	entry := vecEntry[*prometheus.CounterVec]{vec: vec, labelKeys: keys}
	m.counters[metric] = entry

	return entry, true
}

func (m *MetricsCollector) getOrCreateGauge(metric string, labels map[string]string) (vecEntry[*prometheus.GaugeVec], bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, exists := m.gauges[metric]; exists {
		return entry, true
	}

	keys := labelKeys(labels)
	vec := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      metric,
			Help:      "circulation current value",
		},
		keys,
	)

	if err := m.registerer.Register(vec); err != nil {
		return vecEntry[*prometheus.GaugeVec]{}, false
	}

	entry := vecEntry[*prometheus.GaugeVec]{vec: vec, labelKeys: keys}
	m.gauges[metric] = entry

	return entry, true
}

func labelKeys(labels map[string]string) []string {
	keys := make([]string, 0, len(labels))
	for key := range labels {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	return keys
}

// labelValues projects the observed labels onto the keys the vector was
// registered with. Unknown keys are dropped, missing keys become "".
func labelValues(keys []string, labels map[string]string) prometheus.Labels {
	values := make(prometheus.Labels, len(keys))
	for _, key := range keys {
		values[key] = labels[key]
	}

	return values
}

var _ fbs.MetricsCollector = (*MetricsCollector)(nil)
