package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for monitoring the execution engine
var (
	SchedulerTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autopilot_scheduler_ticks_total",
		Help: "The total number of scheduler evaluation cycles",
	})

	DueOrders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "autopilot_due_orders",
		Help: "The number of due orders found by the last tick",
	})

	OrdersProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autopilot_orders_processed_total",
		Help: "The total number of order execution attempts by type and outcome",
	}, []string{"order_type", "outcome"})

	ExecutionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "autopilot_execution_seconds",
		Help:    "Time taken to execute one standing order attempt",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"order_type"})

	SafetyDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autopilot_safety_denials_total",
		Help: "The total number of executions denied by the safety gate, by reason",
	}, []string{"reason"})

	StepsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autopilot_steps_executed_total",
		Help: "The total number of intent steps by action and final status",
	}, []string{"action", "status"})

	IntentsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autopilot_intents_total",
		Help: "The total number of intents reaching a terminal status",
	}, []string{"status"})

	RulesTriggered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autopilot_monitoring_rules_triggered_total",
		Help: "The total number of monitoring rules that fired",
	})

	ActiveRules = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "autopilot_monitoring_rules_active",
		Help: "The number of active monitoring rules at the last evaluation",
	})
)
