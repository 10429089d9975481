package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons recorded on nanoplay_units_dropped_total.
const (
	ReasonNoParams         = "no_params"
	ReasonMalformed        = "malformed"
	ReasonNotReady         = "not_ready"
	ReasonDecodeError      = "decode_error"
	ReasonConversionError  = "conversion_error"
	ReasonQueueFull        = "queue_full"
	ReasonParametersLocked = "parameters_locked"
	ReasonPacketParse      = "packet_parse"
)

// Worker states reported on nanoplay_worker_state.
const (
	WorkerStopped = 0
	WorkerRunning = 1
	WorkerFailed  = 2
)

var (
	fragmentsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nanoplay_fragments_received_total",
		Help: "Network fragments handed to the assemblers",
	}, []string{"stream"})

	fragmentBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nanoplay_fragment_bytes_total",
		Help: "Payload bytes handed to the assemblers",
	}, []string{"stream"})

	unitsAssembled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nanoplay_units_assembled_total",
		Help: "Encoded access units produced by the assemblers",
	}, []string{"stream"})

	unitsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nanoplay_units_dropped_total",
		Help: "Units dropped anywhere in the pipeline",
	}, []string{"stream", "reason"})

	packetsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nanoplay_packets_submitted_total",
		Help: "Encoded units submitted to the decoder",
	}, []string{"stream"})

	unitsDecoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nanoplay_units_decoded_total",
		Help: "Decoded units published to the playback bridge",
	}, []string{"stream"})

	conversions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nanoplay_conversions_total",
		Help: "Decoded units routed through the converter",
	}, []string{"stream"})

	codecErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nanoplay_codec_errors_total",
		Help: "Codec context errors by type",
	}, []string{"stream", "type"})

	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nanoplay_queue_depth",
		Help: "Units waiting in a pipeline queue",
	}, []string{"stream", "queue"})

	decodeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nanoplay_decode_latency_seconds",
		Help:    "Time from access-unit completion to decoded output",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
	}, []string{"stream"})

	workerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nanoplay_worker_state",
		Help: "Decode worker state (0 stopped, 1 running, 2 failed)",
	}, []string{"stream"})

	unitsPresented = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nanoplay_units_presented_total",
		Help: "Decoded units handed to the renderer",
	}, []string{"stream"})

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nanoplay_sessions_active",
		Help: "Playback sessions currently started",
	})
)

// RecordFragment counts one fragment of n payload bytes.
func RecordFragment(stream string, n int) {
	fragmentsReceived.WithLabelValues(stream).Inc()
	fragmentBytes.WithLabelValues(stream).Add(float64(n))
}

// IncrementUnitsAssembled counts a completed access unit.
func IncrementUnitsAssembled(stream string) {
	unitsAssembled.WithLabelValues(stream).Inc()
}

// IncrementUnitsDropped counts a dropped unit.
func IncrementUnitsDropped(stream, reason string) {
	unitsDropped.WithLabelValues(stream, reason).Inc()
}

// IncrementCodecError counts a codec error by its type name.
func IncrementCodecError(stream, errType string) {
	codecErrors.WithLabelValues(stream, errType).Inc()
}

// SetQueueDepth publishes the depth of one queue.
func SetQueueDepth(stream, queue string, depth int) {
	queueDepth.WithLabelValues(stream, queue).Set(float64(depth))
}

// SetWorkerState publishes a decode worker state.
func SetWorkerState(stream string, state int) {
	workerState.WithLabelValues(stream).Set(float64(state))
}

// IncrementUnitsPresented counts a unit handed to the renderer.
func IncrementUnitsPresented(stream string) {
	unitsPresented.WithLabelValues(stream).Inc()
}

// SetActiveSessions sets the number of started sessions.
func SetActiveSessions(n int) {
	activeSessions.Set(float64(n))
}

// ObserveDecodeLatency records the age of a unit when it leaves the decoder.
func ObserveDecodeLatency(stream string, since time.Time) {
	if since.IsZero() {
		return
	}
	decodeLatency.WithLabelValues(stream).Observe(time.Since(since).Seconds())
}
