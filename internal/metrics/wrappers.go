package metrics

import "github.com/prometheus/client_golang/prometheus"

// StreamMetrics holds the per-stream children of the pipeline vectors so
// the decode loop does not resolve label values on every unit.
type StreamMetrics struct {
	stream    string
	Submitted prometheus.Counter
	Decoded   prometheus.Counter
	Converted prometheus.Counter
	Latency   prometheus.Observer
}

// ForStream binds the pipeline metrics to one stream label.
func ForStream(stream string) *StreamMetrics {
	return &StreamMetrics{
		stream:    stream,
		Submitted: packetsSubmitted.WithLabelValues(stream),
		Decoded:   unitsDecoded.WithLabelValues(stream),
		Converted: conversions.WithLabelValues(stream),
		Latency:   decodeLatency.WithLabelValues(stream),
	}
}

// Stream returns the bound label value.
func (m *StreamMetrics) Stream() string {
	return m.stream
}

// Dropped counts a dropped unit for the bound stream.
func (m *StreamMetrics) Dropped(reason string) {
	unitsDropped.WithLabelValues(m.stream, reason).Inc()
}

// CodecError counts a codec error for the bound stream.
func (m *StreamMetrics) CodecError(errType string) {
	codecErrors.WithLabelValues(m.stream, errType).Inc()
}

// Register registers c with the default registry. When an equal collector
// is already registered, the existing one is returned instead, so
// constructors can run more than once in a process.
func Register[T prometheus.Collector](c T) T {
	if err := prometheus.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}
