package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/nanoplay/internal/config"
)

func newBufferLogger() (*logrus.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetFormatter(&logrus.JSONFormatter{})
	l.SetLevel(logrus.DebugLevel)
	return l, &buf
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	buf.Reset()
	return entry
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  *config.LoggingConfig
		wantErr bool
		check   func(t *testing.T, logger *logrus.Logger)
	}{
		{
			name:   "json format stdout",
			config: &config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
			check: func(t *testing.T, logger *logrus.Logger) {
				assert.Equal(t, logrus.InfoLevel, logger.Level)
				_, ok := logger.Formatter.(*logrus.JSONFormatter)
				assert.True(t, ok)
				assert.Equal(t, os.Stdout, logger.Out)
			},
		},
		{
			name:   "text format stderr",
			config: &config.LoggingConfig{Level: "debug", Format: "text", Output: "stderr"},
			check: func(t *testing.T, logger *logrus.Logger) {
				assert.Equal(t, logrus.DebugLevel, logger.Level)
				_, ok := logger.Formatter.(*logrus.TextFormatter)
				assert.True(t, ok)
			},
		},
		{
			name: "rotated file output",
			config: &config.LoggingConfig{
				Level:      "warn",
				Format:     "json",
				Output:     filepath.Join(t.TempDir(), "logs", "nanoplay.log"),
				MaxSize:    10,
				MaxBackups: 3,
				MaxAge:     7,
			},
			check: func(t *testing.T, logger *logrus.Logger) {
				assert.Equal(t, logrus.WarnLevel, logger.Level)
			},
		},
		{
			name:    "invalid log level",
			config:  &config.LoggingConfig{Level: "invalid", Format: "json", Output: "stdout"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, logger)
		})
	}
}

func TestAdapterFields(t *testing.T) {
	l, buf := newBufferLogger()
	log := WithStream(WithComponent(FromLogrus(l), "decode_worker"), "video")

	log.WithError(errors.New("boom")).WithFields(map[string]interface{}{"frame_id": 7}).Warn("Dropping unit")

	entry := decodeLine(t, buf)
	assert.Equal(t, "decode_worker", entry["component"])
	assert.Equal(t, "video", entry["stream"])
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, float64(7), entry["frame_id"])
	assert.Equal(t, "warning", entry["level"])
	assert.Equal(t, "Dropping unit", entry["msg"])
}

func TestNewService(t *testing.T) {
	l, buf := newBufferLogger()
	WithSession(NewService(l), "abc").Infof("started %d streams", 2)

	entry := decodeLine(t, buf)
	assert.Equal(t, "nanoplay", entry["service"])
	assert.Equal(t, "abc", entry["session_id"])
	assert.Equal(t, "started 2 streams", entry["msg"])
}

func TestAdapterLevels(t *testing.T) {
	l, buf := newBufferLogger()
	l.SetLevel(logrus.InfoLevel)
	log := FromLogrus(l)

	log.Debug("hidden")
	assert.Zero(t, buf.Len())

	log.Log(logrus.ErrorLevel, "shown")
	entry := decodeLine(t, buf)
	assert.Equal(t, "error", entry["level"])
}

func TestNullLogger(t *testing.T) {
	log := NewNullLogger()
	assert.Same(t, log, log.WithField("a", 1))
	assert.Same(t, log, log.WithFields(map[string]interface{}{"b": 2}))
	assert.Same(t, log, log.WithError(errors.New("x")))
	assert.NotPanics(t, func() {
		log.Info("x")
		log.Errorf("%d", 1)
	})
}
