// Package metrics implements the metric counters the dataplane reports:
// OnReqStart(host), OnReqEnd(host, seconds), IncCcHit(ruleID), built on
// github.com/prometheus/client_golang.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles the counters/histograms the dataplane reports.
type Registry struct {
	requestsStarted  *prometheus.CounterVec
	requestDurations *prometheus.HistogramVec
	ccHits           *prometheus.CounterVec
}

// NewRegistry creates and registers a Registry against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		requestsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "waf_requests_started_total",
			Help: "Requests that entered the dataplane, by host.",
		}, []string{"host"}),
		requestDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "waf_request_duration_seconds",
			Help:    "End-to-end request duration, by host.",
			Buckets: prometheus.DefBuckets,
		}, []string{"host"}),
		ccHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "waf_cc_hits_total",
			Help: "CC limiter hits, by rule id.",
		}, []string{"rule_id"}),
	}
	reg.MustRegister(r.requestsStarted, r.requestDurations, r.ccHits)
	return r
}

// OnReqStart implements on_req_start(host).
func (r *Registry) OnReqStart(host string) {
	r.requestsStarted.WithLabelValues(host).Inc()
}

// OnReqEnd implements on_req_end(host, seconds).
func (r *Registry) OnReqEnd(host string, seconds float64) {
	r.requestDurations.WithLabelValues(host).Observe(seconds)
}

// IncCcHit implements inc_cc_hit(rule_id).
func (r *Registry) IncCcHit(ruleID string) {
	r.ccHits.WithLabelValues(ruleID).Inc()
}
