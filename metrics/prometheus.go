// Package metrics provides a Prometheus-backed recorder for enforcement
// verdicts.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder counts verdicts per rule set. It satisfies the
// limiter's metrics hook.
type PrometheusRecorder struct {
	allowed  *prometheus.CounterVec
	rejected *prometheus.CounterVec
}

// NewPrometheusRecorder registers the verdict counters with reg. Pass
// prometheus.DefaultRegisterer for the default registry.
func NewPrometheusRecorder(reg prometheus.Registerer) (*PrometheusRecorder, error) {
	r := &PrometheusRecorder{
		allowed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fluxgate",
			Name:      "requests_allowed_total",
			Help:      "Requests admitted by the rate limiter.",
		}, []string{"rule_set"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fluxgate",
			Name:      "requests_rejected_total",
			Help:      "Requests rejected by the rate limiter.",
		}, []string{"rule_set", "rule"}),
	}

	if err := reg.Register(r.allowed); err != nil {
		return nil, err
	}
	if err := reg.Register(r.rejected); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *PrometheusRecorder) RecordAllowed(ruleSetID string) {
	r.allowed.WithLabelValues(ruleSetID).Inc()
}

func (r *PrometheusRecorder) RecordRejected(ruleSetID, ruleID string) {
	r.rejected.WithLabelValues(ruleSetID, ruleID).Inc()
}
