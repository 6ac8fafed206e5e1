// Package metrics defines Prometheus metrics and the HTTP endpoint
// that exposes them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "trading_runtime"

var (
	// Connector metrics.
	SessionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Number of live connector sessions by kind.",
	}, []string{"exchange", "kind"})

	SessionInitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_init_total",
		Help:      "Connector session initialization attempts by outcome.",
	}, []string{"exchange", "outcome"})

	BookSubscriptions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "book_subscriptions",
		Help:      "Number of live order book subscriptions.",
	}, []string{"exchange"})

	BookReadyWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "book_ready_wait_seconds",
		Help:      "Time spent waiting for order book readiness.",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30},
	}, []string{"exchange"})

	// Order metrics.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orders_total",
		Help:      "Orders placed by exchange, side and outcome.",
	}, []string{"exchange", "side", "outcome"})

	OrderLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "order_latency_seconds",
		Help:      "Order placement round trip latency.",
		Buckets:   prometheus.DefBuckets,
	})

	// Executor metrics.
	ExecutorsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "executors_active",
		Help:      "Number of active executors by type.",
	}, []string{"type"})

	ExecutorsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "executors_completed_total",
		Help:      "Completed executors by type and close reason.",
	}, []string{"type", "close_type"})

	ControlLoopTicks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "control_loop_ticks_total",
		Help:      "Executor control loop ticks.",
	})

	ControlLoopDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "control_loop_duration_seconds",
		Help:      "Duration of one control loop tick.",
		Buckets:   []float64{0.001, 0.005, 0.025, 0.1, 0.5, 1},
	})

	HeldPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "held_positions",
		Help:      "Number of held position aggregates in memory.",
	})

	// Error metrics.
	ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "errors_total",
		Help:      "Errors by category.",
	}, []string{"category"})

	PersistenceFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "persistence_failures_total",
		Help:      "Persistence operations that failed and were swallowed.",
	})

	// Feed metrics.
	FeedConnected = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "feed_connected",
		Help:      "Whether the market data feed is connected (1) or not (0).",
	}, []string{"exchange", "pair"})

	FeedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "feed_messages_total",
		Help:      "Market data feed messages received.",
	}, []string{"exchange", "pair"})
)
