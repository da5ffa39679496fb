package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersAcceptedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fulfillment_orders_accepted_total",
		Help: "Total number of orders accepted by restaurants.",
	})

	OrdersCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fulfillment_orders_cancelled_total",
		Help: "Total number of orders cancelled.",
	})

	OrdersCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fulfillment_orders_completed_total",
		Help: "Total number of orders delivered and completed.",
	})

	AssignmentRequestsSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fulfillment_assignment_requests_sent_total",
		Help: "Total number of assignment requests sent to delivery agents.",
	})

	AssignmentResponsesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_assignment_responses_total",
		Help: "Total number of agent responses to assignment requests.",
	},
		[]string{"outcome"},
	)

	CommandErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_command_errors_total",
		Help: "Total number of commands rejected by the ledger.",
	},
		[]string{"command"},
	)

	PushEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_push_events_total",
		Help: "Total number of push events published to actor rooms.",
	},
		[]string{"event"},
	)

	ActiveOrdersCached = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fulfillment_active_orders_cached",
		Help: "Current number of orders in the active cache partition.",
	})
)
