package metrics

import "time"

// Recorder provides methods for recording metrics.
type Recorder struct{}

// NewRecorder creates a new metrics recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// RecordSessionStarted records a connector session coming up.
func (r *Recorder) RecordSessionStarted(exchange, kind string) {
	SessionsActive.WithLabelValues(exchange, kind).Inc()
	SessionInitTotal.WithLabelValues(exchange, "ok").Inc()
}

// RecordSessionStopped records a connector session going down.
func (r *Recorder) RecordSessionStopped(exchange, kind string) {
	SessionsActive.WithLabelValues(exchange, kind).Dec()
}

// RecordSessionInitFailed records a failed session initialization.
func (r *Recorder) RecordSessionInitFailed(exchange string) {
	SessionInitTotal.WithLabelValues(exchange, "error").Inc()
}

// RecordBookSubscribed records an order book subscription being added.
func (r *Recorder) RecordBookSubscribed(exchange string) {
	BookSubscriptions.WithLabelValues(exchange).Inc()
}

// RecordBookRemoved records an order book subscription being removed.
func (r *Recorder) RecordBookRemoved(exchange string) {
	BookSubscriptions.WithLabelValues(exchange).Dec()
}

// RecordBookWait records how long a caller waited for book readiness.
func (r *Recorder) RecordBookWait(exchange string, d time.Duration) {
	BookReadyWait.WithLabelValues(exchange).Observe(d.Seconds())
}

// RecordOrder records an order placement outcome.
func (r *Recorder) RecordOrder(exchange, side, outcome string) {
	OrdersTotal.WithLabelValues(exchange, side, outcome).Inc()
}

// RecordOrderLatency records order placement latency.
func (r *Recorder) RecordOrderLatency(d time.Duration) {
	OrderLatency.Observe(d.Seconds())
}

// RecordExecutorStarted records an executor entering the active set.
func (r *Recorder) RecordExecutorStarted(executorType string) {
	ExecutorsActive.WithLabelValues(executorType).Inc()
}

// RecordExecutorCompleted records an executor leaving the active set.
func (r *Recorder) RecordExecutorCompleted(executorType, closeType string) {
	ExecutorsActive.WithLabelValues(executorType).Dec()
	ExecutorsCompleted.WithLabelValues(executorType, closeType).Inc()
}

// RecordControlTick records one control loop pass.
func (r *Recorder) RecordControlTick(d time.Duration) {
	ControlLoopTicks.Inc()
	ControlLoopDuration.Observe(d.Seconds())
}

// RecordHeldPositions records the current held position count.
func (r *Recorder) RecordHeldPositions(n int) {
	HeldPositions.Set(float64(n))
}

// RecordError records an error by category.
func (r *Recorder) RecordError(category string) {
	ErrorsTotal.WithLabelValues(category).Inc()
}

// RecordPersistenceFailure records a swallowed persistence error.
func (r *Recorder) RecordPersistenceFailure() {
	PersistenceFailures.Inc()
}

// RecordFeedStatus records feed connectivity for a pair.
func (r *Recorder) RecordFeedStatus(exchange, pair string, connected bool) {
	v := 0.0
	if connected {
		v = 1.0
	}
	FeedConnected.WithLabelValues(exchange, pair).Set(v)
}

// RecordFeedMessage records one inbound feed message.
func (r *Recorder) RecordFeedMessage(exchange, pair string) {
	FeedMessages.WithLabelValues(exchange, pair).Inc()
}
