package logger

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestSampledLoggerBurstThenDrop(t *testing.T) {
	l, buf := newBufferLogger()
	s := NewSampledLogger(FromLogrus(l)).WithSampler("noisy", time.Hour, 3)

	logged := 0
	for i := 0; i < 10; i++ {
		if s.Sample(logrus.InfoLevel, "noisy", "decode failed", nil) {
			logged++
		}
	}

	assert.Equal(t, 3, logged)
	assert.Equal(t, 3, strings.Count(buf.String(), "decode failed"))

	stats := s.GetSamplerStats()["noisy"]
	assert.Equal(t, int64(10), stats.TotalMessages)
	assert.Equal(t, int64(3), stats.SampledMessages)
	assert.Equal(t, int64(7), stats.DroppedMessages)
}

func TestSampledLoggerReportsSuppressed(t *testing.T) {
	l, buf := newBufferLogger()
	s := NewSampledLogger(FromLogrus(l)).WithSampler("cat", 20*time.Millisecond, 1)

	assert.True(t, s.Sample(logrus.WarnLevel, "cat", "first", nil))
	assert.False(t, s.Sample(logrus.WarnLevel, "cat", "second", nil))
	assert.False(t, s.Sample(logrus.WarnLevel, "cat", "third", nil))
	buf.Reset()

	time.Sleep(50 * time.Millisecond)
	assert.True(t, s.Sample(logrus.WarnLevel, "cat", "later", map[string]interface{}{"frame_id": 1}))

	entry := decodeLine(t, buf)
	assert.Equal(t, float64(2), entry["suppressed"])
	assert.Equal(t, "cat", entry["category"])
	assert.Equal(t, float64(1), entry["frame_id"])
}

func TestSampledLoggerUnconfiguredCategory(t *testing.T) {
	l, buf := newBufferLogger()
	s := NewSampledLogger(FromLogrus(l))

	for i := 0; i < 5; i++ {
		assert.True(t, s.Sample(logrus.InfoLevel, "other", "line", nil))
	}
	assert.Equal(t, 5, strings.Count(buf.String(), "\"line\""))
}

func TestSampledLoggerErrorsNeverSampled(t *testing.T) {
	l, buf := newBufferLogger()
	s := NewSampledLogger(FromLogrus(l)).WithSampler(CategoryDecodeError, time.Hour, 1)

	for i := 0; i < 4; i++ {
		s.ErrorWithCategory(CategoryDecodeError, "fatal decode", nil)
	}
	assert.Equal(t, 4, strings.Count(buf.String(), "fatal decode"))
}

func TestSampledLoggerDerivedSharesSamplers(t *testing.T) {
	l, _ := newBufferLogger()
	s := NewPlaybackLogger(FromLogrus(l))

	derived, ok := s.WithField("stream", "audio").(*SampledLogger)
	assert.True(t, ok)

	derived.WarnWithCategory(CategoryNotReady, "not ready", nil)
	assert.Equal(t, int64(1), s.GetSamplerStats()[CategoryNotReady].TotalMessages)
}

func TestSampledLoggerConcurrent(t *testing.T) {
	s := NewPlaybackLogger(nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.DebugWithCategory(CategoryQueueDrop, "drop", nil)
			}
		}()
	}
	wg.Wait()

	stats := s.GetSamplerStats()[CategoryQueueDrop]
	assert.Equal(t, int64(800), stats.TotalMessages)
	assert.Equal(t, stats.TotalMessages, stats.SampledMessages+stats.DroppedMessages)
}
