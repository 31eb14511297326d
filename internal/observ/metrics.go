package observ

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// registry lazily creates one Vec collector per metric name so call sites
// can record metrics without declaring them up front. Label keys must stay
// stable for a given name.
type registry struct {
	mu       sync.Mutex
	reg      *prometheus.Registry
	counters map[string]*prometheus.CounterVec
	gauges   map[string]*prometheus.GaugeVec
	hists    map[string]*prometheus.HistogramVec
}

var reg = &registry{
	reg:      prometheus.NewRegistry(),
	counters: map[string]*prometheus.CounterVec{},
	gauges:   map[string]*prometheus.GaugeVec{},
	hists:    map[string]*prometheus.HistogramVec{},
}

func labelKeys(labels map[string]string) []string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IncCounter increments a counter by one.
func IncCounter(name string, labels map[string]string) {
	IncCounterBy(name, labels, 1.0)
}

// IncCounterBy increments a counter by value.
func IncCounterBy(name string, labels map[string]string, value float64) {
	reg.mu.Lock()
	c, ok := reg.counters[name]
	if !ok {
		c = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name}, labelKeys(labels))
		reg.reg.MustRegister(c)
		reg.counters[name] = c
	}
	reg.mu.Unlock()
	c.With(prometheus.Labels(labels)).Add(value)
}

// SetGauge sets a gauge value.
func SetGauge(name string, labels map[string]string, value float64) {
	reg.mu.Lock()
	g, ok := reg.gauges[name]
	if !ok {
		g = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name}, labelKeys(labels))
		reg.reg.MustRegister(g)
		reg.gauges[name] = g
	}
	reg.mu.Unlock()
	g.With(prometheus.Labels(labels)).Set(value)
}

// Observe records a histogram observation.
func Observe(name string, labels map[string]string, value float64) {
	reg.mu.Lock()
	h, ok := reg.hists[name]
	if !ok {
		h = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    name,
			Buckets: prometheus.DefBuckets,
		}, labelKeys(labels))
		reg.reg.MustRegister(h)
		reg.hists[name] = h
	}
	reg.mu.Unlock()
	h.With(prometheus.Labels(labels)).Observe(value)
}

// RecordDuration records a duration as a histogram observation in seconds.
func RecordDuration(name string, labels map[string]string, duration time.Duration) {
	Observe(name, labels, duration.Seconds())
}

// Handler exposes the metrics registry in Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(reg.reg, promhttp.HandlerOpts{})
}

// Health is a minimal liveness handler.
func Health() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}
