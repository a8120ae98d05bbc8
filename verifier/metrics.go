package verifier

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/omni/intent-bridge/entity"
	"github.com/omni/intent-bridge/fault"
)

var (
	ValidationResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "intent_bridge",
		Subsystem: "verifier",
		Name:      "validation_results_total",
		Help:      "Validation outcomes by path and reason code.",
	}, []string{"path", "result"})

	PolledEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "intent_bridge",
		Subsystem: "verifier",
		Name:      "polled_events_total",
	}, []string{"chain_id"})

	PollCursor = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "intent_bridge",
		Subsystem: "verifier",
		Name:      "poll_cursor",
		Help:      "Index of the next event the poller reads.",
	}, []string{"chain_id"})
)

func observeValidation(path entity.ApprovalPath, err error) {
	result := "approved"
	if err != nil {
		result = fault.CodeOf(err)
		if result == "" {
			result = "error"
		}
	}
	ValidationResults.WithLabelValues(string(path), result).Inc()
}
