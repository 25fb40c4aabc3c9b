package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection metrics
	activeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reader_stream_active_connections",
		Help: "Number of active websocket connections",
	})

	connectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reader_stream_connections_total",
		Help: "Total websocket connections by outcome",
	}, []string{"outcome"}) // outcome: "rolled_over", "finalized", "failed"

	connectionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "reader_stream_connection_duration_seconds",
		Help:    "Duration of individual websocket connections in seconds",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	})

	rolloversTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reader_stream_rollovers_total",
		Help: "Total connection rollovers by trigger",
	}, []string{"trigger"}) // trigger: "idle", "budget", "server_final"

	reconnectBackoffSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "reader_stream_reconnect_backoff_seconds",
		Help:    "Backoff delays applied before reconnect attempts",
		Buckets: []float64{0.5, 1, 2, 4, 8, 10},
	})

	// Segment metrics
	segmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reader_stream_segments_total",
		Help: "Total decoded segments by disposition",
	}, []string{"disposition"}) // disposition: "accepted", "dropped", "separator", "unrecognized"

	audioBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reader_stream_audio_bytes_total",
		Help: "Total accepted audio bytes",
	})

	decodeErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reader_stream_decode_errors_total",
		Help: "Total message decode errors recovered in place",
	})

	// Highlight metrics
	highlightEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reader_stream_highlight_events_total",
		Help: "Total word-highlight events emitted by the ticker",
	})

	timingBlocksQueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reader_stream_timing_blocks_queued_total",
		Help: "Total timing blocks enqueued for highlight scheduling",
	})

	// Progress sink metrics
	progressUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reader_stream_progress_updates_total",
		Help: "Total progress sink updates",
	}, []string{"status"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "reader_stream_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reader_stream_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

// StreamMetrics tracks metrics for one document streaming run
type StreamMetrics struct {
	documentID string
	startTime  time.Time
	connStart  time.Time
	mu         sync.Mutex
}

// NewStreamMetrics creates a metrics tracker for a streaming run
func NewStreamMetrics(documentID string) *StreamMetrics {
	return &StreamMetrics{
		documentID: documentID,
		startTime:  time.Now(),
	}
}

// RecordConnectionStart records the start of a websocket connection
func (m *StreamMetrics) RecordConnectionStart() {
	m.mu.Lock()
	m.connStart = time.Now()
	m.mu.Unlock()
	activeConnections.Inc()
}

// RecordConnectionEnd records the end of a websocket connection
func (m *StreamMetrics) RecordConnectionEnd(outcome string) {
	m.mu.Lock()
	if !m.connStart.IsZero() {
		connectionDuration.Observe(time.Since(m.connStart).Seconds())
	}
	m.mu.Unlock()
	activeConnections.Dec()
	connectionsTotal.WithLabelValues(outcome).Inc()
}

// RecordRollover records a voluntary connection rollover
func (m *StreamMetrics) RecordRollover(trigger string) {
	rolloversTotal.WithLabelValues(trigger).Inc()
}

// RecordBackoff records a reconnect backoff delay
func (m *StreamMetrics) RecordBackoff(delay time.Duration) {
	reconnectBackoffSeconds.Observe(delay.Seconds())
}

// RecordSegment records a decoded segment's disposition
func (m *StreamMetrics) RecordSegment(disposition string) {
	segmentsTotal.WithLabelValues(disposition).Inc()
}

// RecordAudioBytes records accepted audio bytes
func (m *StreamMetrics) RecordAudioBytes(n int) {
	audioBytesTotal.Add(float64(n))
}

// RecordDecodeError records a recovered decode error
func (m *StreamMetrics) RecordDecodeError() {
	decodeErrorsTotal.Inc()
}

// RecordProgressUpdate records a progress sink update attempt
func (m *StreamMetrics) RecordProgressUpdate(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	progressUpdates.WithLabelValues(status).Inc()
}

// RecordHighlightEvent records a word-highlight event emission
func RecordHighlightEvent() {
	highlightEventsTotal.Inc()
}

// RecordTimingBlockQueued records a timing block enqueued for scheduling
func RecordTimingBlockQueued() {
	timingBlocksQueued.Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
