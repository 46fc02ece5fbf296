package metrics

import (
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are grouped by subsystem ("comms.writer", "comms.reader", ...).
// The group becomes the prometheus subsystem with dots mapped to
// underscores, so ("comms.writer", "retry_total") is exported as
// comms_writer_retry_total.
//
// Label names are taken from the Dimension keys of the first observation of
// a metric. Later observations with a different key set are kept on a
// separate series family that is not exported.

type vecKey struct {
	name   string
	labels string
}

type registry struct {
	reg        *prometheus.Registry
	mu         sync.RWMutex
	counters   map[vecKey]*prometheus.CounterVec
	gauges     map[vecKey]*prometheus.GaugeVec
	histograms map[vecKey]*prometheus.HistogramVec
}

var _default atomic.Pointer[registry]

func init() {
	_default.Store(newRegistry())
}

func current() *registry {
	return _default.Load()
}

func newRegistry() *registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return &registry{
		reg:        reg,
		counters:   make(map[vecKey]*prometheus.CounterVec),
		gauges:     make(map[vecKey]*prometheus.GaugeVec),
		histograms: make(map[vecKey]*prometheus.HistogramVec),
	}
}

// Registry exposes the prometheus registry backing the package-level
// functions.
func Registry() *prometheus.Registry {
	return current().reg
}

// Handler serves the registry in the prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(current().reg, promhttp.HandlerOpts{})
}

// Reset drops every registered metric. It is meant for tests.
func Reset() {
	_default.Store(newRegistry())
}

func fqName(group, name string) string {
	return prometheus.BuildFQName("", strings.ReplaceAll(group, ".", "_"), name)
}

func labelNames(dims Dimension) []string {
	if len(dims) == 0 {
		return nil
	}
	names := make([]string, 0, len(dims))
	for k := range dims {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func labelValues(names []string, dims Dimension) []string {
	values := make([]string, len(names))
	for i, n := range names {
		values[i] = dims[n]
	}
	return values
}

func (r *registry) register(c prometheus.Collector) {
	// A name clash with a different label set leaves the collector usable
	// but unexported.
	_ = r.reg.Register(c)
}

func (r *registry) counter(group, name string, dims Dimension) prometheus.Counter {
	names := labelNames(dims)
	key := vecKey{name: fqName(group, name), labels: strings.Join(names, ",")}

	r.mu.RLock()
	vec, ok := r.counters[key]
	r.mu.RUnlock()
	if !ok {
		r.mu.Lock()
		if vec, ok = r.counters[key]; !ok {
			vec = prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: key.name,
				Help: group + " " + name,
			}, names)
			r.register(vec)
			r.counters[key] = vec
		}
		r.mu.Unlock()
	}
	return vec.WithLabelValues(labelValues(names, dims)...)
}

func (r *registry) gauge(group, name string, dims Dimension) prometheus.Gauge {
	names := labelNames(dims)
	key := vecKey{name: fqName(group, name), labels: strings.Join(names, ",")}

	r.mu.RLock()
	vec, ok := r.gauges[key]
	r.mu.RUnlock()
	if !ok {
		r.mu.Lock()
		if vec, ok = r.gauges[key]; !ok {
			vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: key.name,
				Help: group + " " + name,
			}, names)
			r.register(vec)
			r.gauges[key] = vec
		}
		r.mu.Unlock()
	}
	return vec.WithLabelValues(labelValues(names, dims)...)
}

func (r *registry) histogram(group, name string, dims Dimension, buckets []float64) prometheus.Observer {
	names := labelNames(dims)
	key := vecKey{name: fqName(group, name), labels: strings.Join(names, ",")}

	r.mu.RLock()
	vec, ok := r.histograms[key]
	r.mu.RUnlock()
	if !ok {
		r.mu.Lock()
		if vec, ok = r.histograms[key]; !ok {
			vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    key.name,
				Help:    group + " " + name,
				Buckets: buckets,
			}, names)
			r.register(vec)
			r.histograms[key] = vec
		}
		r.mu.Unlock()
	}
	return vec.WithLabelValues(labelValues(names, dims)...)
}

// IncrCounterWithGroup adds v to a counter.
func IncrCounterWithGroup(group, name string, v Value) {
	current().counter(group, name, nil).Add(float64(v))
}

// IncrCounterWithDimGroup adds v to the counter series selected by dims.
func IncrCounterWithDimGroup(group, name string, v Value, dims Dimension) {
	current().counter(group, name, dims).Add(float64(v))
}

// UpdateGaugeWithGroup sets a gauge.
func UpdateGaugeWithGroup(group, name string, v Value) {
	current().gauge(group, name, nil).Set(float64(v))
}

// UpdateGaugeWithDimGroup sets the gauge series selected by dims.
func UpdateGaugeWithDimGroup(group, name string, v Value, dims Dimension) {
	current().gauge(group, name, dims).Set(float64(v))
}

// AddGaugeWithGroup adds v (possibly negative) to a gauge.
func AddGaugeWithGroup(group, name string, v Value) {
	current().gauge(group, name, nil).Add(float64(v))
}

// ObserveHistogramWithGroup records v in a histogram with the default buckets.
func ObserveHistogramWithGroup(group, name string, v Value) {
	current().histogram(group, name, nil, prometheus.DefBuckets).Observe(float64(v))
}

// ObserveHistogramWithDimGroup records v in the histogram series selected by dims.
func ObserveHistogramWithDimGroup(group, name string, v Value, dims Dimension) {
	current().histogram(group, name, dims, prometheus.DefBuckets).Observe(float64(v))
}

// RecordStopwatchWithGroup records the seconds elapsed since start.
func RecordStopwatchWithGroup(group, name string, start time.Time) {
	current().histogram(group, name, nil, prometheus.DefBuckets).Observe(time.Since(start).Seconds())
}

// RecordStopwatchWithDimGroup records the seconds elapsed since start in the
// series selected by dims.
func RecordStopwatchWithDimGroup(group, name string, start time.Time, dims Dimension) {
	current().histogram(group, name, dims, prometheus.DefBuckets).Observe(time.Since(start).Seconds())
}
