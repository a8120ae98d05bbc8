package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DeliveryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "intent_bridge",
		Subsystem: "relay",
		Name:      "delivery_attempts_total",
		Help:      "Delivery attempts by route and outcome.",
	}, []string{"route", "result"})

	RouteCursor = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "intent_bridge",
		Subsystem: "relay",
		Name:      "cursor",
		Help:      "Index of the next source event the relay reads.",
	}, []string{"route"})

	BreakerOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "intent_bridge",
		Subsystem: "relay",
		Name:      "breaker_open",
	}, []string{"route"})
)
