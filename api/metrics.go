/*
metrics.go - Prometheus instrumentation

PURPOSE:
  Counts transitions by workflow/action/outcome and disbursement volume
  per workflow. Served on /metrics.
*/
package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	transitions   *prometheus.CounterVec
	disbursements *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "caseflow_transitions_total",
			Help: "Case transitions by workflow, action and outcome.",
		}, []string{"workflow", "action", "outcome"}),
		disbursements: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "caseflow_disbursements_total",
			Help: "Committed disbursement events by workflow.",
		}, []string{"workflow"}),
	}
}

func (m *metrics) observe(workflowID, action string, err error) {
	outcome := "ok"
	if err != nil {
		_, kind, _ := classify(err)
		outcome = string(kind)
	}
	m.transitions.WithLabelValues(workflowID, action, outcome).Inc()
	if action == "disburse" && err == nil {
		m.disbursements.WithLabelValues(workflowID).Inc()
	}
}
