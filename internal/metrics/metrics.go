// Package metrics exposes the resolver's prometheus instrumentation,
// grounded on the same CounterVec/HistogramVec pattern the teacher's
// gRPC middleware used for request accounting.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Recorder groups every metric a resolver handle updates.
type Recorder struct {
	Resolutions    *prometheus.CounterVec
	ResolveLatency *prometheus.HistogramVec
	FrameDepth     prometheus.Histogram
	PortPoolEvents *prometheus.CounterVec
}

// NewRecorder builds and registers a Recorder against reg. Passing a
// fresh prometheus.NewRegistry() per test keeps cases independent.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		Resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "resolved",
			Name:      "resolutions_total",
			Help:      "Completed resolutions by outcome (ok, servfail, error).",
		}, []string{"outcome"}),
		ResolveLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "resolved",
			Name:      "resolve_duration_seconds",
			Help:      "Wall-clock time from Submit to a terminal Check result.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"qtype"}),
		FrameDepth: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "resolved",
			Name:      "frame_depth",
			Help:      "Resolver frame-stack depth observed at completion.",
			Buckets:   prometheus.LinearBuckets(0, 1, 9), // 0..8
		}),
		PortPoolEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "resolved",
			Name:      "port_pool_events_total",
			Help:      "Port pool allocations/recycles/exhaustions.",
		}, []string{"event"}),
	}
	reg.MustRegister(r.Resolutions, r.ResolveLatency, r.FrameDepth, r.PortPoolEvents)
	return r
}
