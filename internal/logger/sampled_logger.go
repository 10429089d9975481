package logger

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Per-unit diagnostic categories of the decode pipeline.
const (
	CategoryDecodeError     = "decode_error"
	CategoryConversionError = "conversion_error"
	CategoryNotReady        = "not_ready"
	CategorySubmitDrop      = "submit_drop"
	CategoryAssembly        = "assembly"
	CategoryQueueDrop       = "queue_drop"
)

// SampledLogger rate-limits log lines per category. Each category gets a
// token bucket; lines beyond it are counted and the count is reported on
// the next line that gets through.
type SampledLogger struct {
	Logger
	samplers *samplerSet
}

type samplerSet struct {
	mu       sync.RWMutex
	samplers map[string]*logSampler
}

type logSampler struct {
	limiter    *rate.Limiter
	total      atomic.Int64
	logged     atomic.Int64
	dropped    atomic.Int64
	suppressed atomic.Int64 // dropped since the last logged line
}

// SamplerStats holds statistics for a log sampler
type SamplerStats struct {
	Name            string `json:"name"`
	TotalMessages   int64  `json:"total_messages"`
	SampledMessages int64  `json:"sampled_messages"`
	DroppedMessages int64  `json:"dropped_messages"`
}

// NewSampledLogger wraps base. Categories without a sampler always log.
func NewSampledLogger(base Logger) *SampledLogger {
	if base == nil {
		base = NewNullLogger()
	}
	return &SampledLogger{
		Logger:   base,
		samplers: &samplerSet{samplers: make(map[string]*logSampler)},
	}
}

// WithSampler allows burst lines of category at once and then one line
// every interval.
func (s *SampledLogger) WithSampler(category string, interval time.Duration, burst int) *SampledLogger {
	s.samplers.mu.Lock()
	defer s.samplers.mu.Unlock()

	s.samplers.samplers[category] = &logSampler{
		limiter: rate.NewLimiter(rate.Every(interval), burst),
	}
	return s
}

// NewPlaybackLogger returns a sampled logger configured for the per-unit
// categories of the decode pipeline.
func NewPlaybackLogger(base Logger) *SampledLogger {
	return NewSampledLogger(base).
		WithSampler(CategoryDecodeError, time.Second, 5).
		WithSampler(CategoryConversionError, time.Second, 5).
		WithSampler(CategoryNotReady, 5*time.Second, 1).
		WithSampler(CategorySubmitDrop, time.Second, 3).
		WithSampler(CategoryAssembly, 2*time.Second, 3).
		WithSampler(CategoryQueueDrop, time.Second, 2)
}

func (s *SampledLogger) sampler(category string) *logSampler {
	s.samplers.mu.RLock()
	defer s.samplers.mu.RUnlock()
	return s.samplers.samplers[category]
}

// Sample logs msg at level unless category is over its rate.
func (s *SampledLogger) Sample(level logrus.Level, category, msg string, fields map[string]interface{}) bool {
	out := make(map[string]interface{}, len(fields)+2)
	for k, v := range fields {
		out[k] = v
	}
	out["category"] = category

	if sm := s.sampler(category); sm != nil {
		sm.total.Add(1)
		if !sm.limiter.Allow() {
			sm.dropped.Add(1)
			sm.suppressed.Add(1)
			return false
		}
		sm.logged.Add(1)
		if n := sm.suppressed.Swap(0); n > 0 {
			out["suppressed"] = n
		}
	}

	s.Logger.WithFields(out).Log(level, msg)
	return true
}

// DebugWithCategory logs a sampled debug line.
func (s *SampledLogger) DebugWithCategory(category, msg string, fields map[string]interface{}) {
	s.Sample(logrus.DebugLevel, category, msg, fields)
}

// WarnWithCategory logs a sampled warning.
func (s *SampledLogger) WarnWithCategory(category, msg string, fields map[string]interface{}) {
	s.Sample(logrus.WarnLevel, category, msg, fields)
}

// ErrorWithCategory always logs; errors are never sampled.
func (s *SampledLogger) ErrorWithCategory(category, msg string, fields map[string]interface{}) {
	out := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["category"] = category
	s.Logger.WithFields(out).Error(msg)
}

// GetSamplerStats returns statistics for all samplers
func (s *SampledLogger) GetSamplerStats() map[string]SamplerStats {
	s.samplers.mu.RLock()
	defer s.samplers.mu.RUnlock()

	stats := make(map[string]SamplerStats, len(s.samplers.samplers))
	for name, sm := range s.samplers.samplers {
		stats[name] = SamplerStats{
			Name:            name,
			TotalMessages:   sm.total.Load(),
			SampledMessages: sm.logged.Load(),
			DroppedMessages: sm.dropped.Load(),
		}
	}
	return stats
}

// The derived loggers share the parent's samplers.

func (s *SampledLogger) WithFields(fields map[string]interface{}) Logger {
	return &SampledLogger{Logger: s.Logger.WithFields(fields), samplers: s.samplers}
}

func (s *SampledLogger) WithField(key string, value interface{}) Logger {
	return &SampledLogger{Logger: s.Logger.WithField(key, value), samplers: s.samplers}
}

func (s *SampledLogger) WithError(err error) Logger {
	return &SampledLogger{Logger: s.Logger.WithError(err), samplers: s.samplers}
}
