package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nanoplay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "aac", cfg.Playback.Audio.Codec)
	assert.Equal(t, 48000, cfg.Playback.Audio.SampleRate)
	assert.Equal(t, 2, cfg.Playback.Audio.Channels)
	assert.Equal(t, "flt", cfg.Playback.Audio.SampleFormat)
	assert.Equal(t, "h264", cfg.Playback.Video.Codec)
	assert.Equal(t, 1280, cfg.Playback.Video.Width)
	assert.Equal(t, 720, cfg.Playback.Video.Height)
	assert.Equal(t, 5*time.Millisecond, cfg.Playback.Decoder.PollTimeout)
	assert.Equal(t, 1024, cfg.Playback.Render.AudioBufferSamples)
	assert.Equal(t, "block", cfg.Playback.Queue.DecodedPolicy)
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
  format: json
playback:
  audio:
    codec: opus
  video:
    width: 1920
    height: 1080
    fps: 60
  decoder:
    backend: native
  queue:
    decoded_capacity: 8
ingest:
  enabled: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "opus", cfg.Playback.Audio.Codec)
	assert.Equal(t, 1920, cfg.Playback.Video.Width)
	assert.Equal(t, 60, cfg.Playback.Video.FPS)
	assert.Equal(t, "native", cfg.Playback.Decoder.Backend)
	assert.Equal(t, 8, cfg.Playback.Queue.DecodedCapacity)
	assert.False(t, cfg.Ingest.Enabled)

	// untouched sections keep defaults
	assert.Equal(t, 48000, cfg.Playback.Audio.SampleRate)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: info\n")
	t.Setenv("NANOPLAY_LOGGING_LEVEL", "warn")
	t.Setenv("NANOPLAY_PLAYBACK_VIDEO_FPS", "60")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, 60, cfg.Playback.Video.FPS)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config")

	path := writeConfig(t, `
playback:
  decoder:
    backend: gstreamer
`)
	_, err = Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown decoder backend")
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{
			name:   "invalid server port",
			mutate: func(c *Config) { c.Server.HTTPPort = 0 },
			errMsg: "invalid HTTP port",
		},
		{
			name:   "disabled server skips port check",
			mutate: func(c *Config) { c.Server.Enabled = false; c.Server.HTTPPort = 0 },
		},
		{
			name:   "invalid log level",
			mutate: func(c *Config) { c.Logging.Level = "loud" },
			errMsg: "invalid log level",
		},
		{
			name:   "file output needs max size",
			mutate: func(c *Config) { c.Logging.Output = "/tmp/nanoplay.log"; c.Logging.MaxSize = 0 },
			errMsg: "max_size must be positive",
		},
		{
			name:   "metrics path",
			mutate: func(c *Config) { c.Metrics.Path = "metrics" },
			errMsg: "metrics path",
		},
		{
			name: "no streams",
			mutate: func(c *Config) {
				c.Playback.Audio.Enabled = false
				c.Playback.Video.Enabled = false
			},
			errMsg: "at least one of audio or video",
		},
		{
			name:   "audio channels",
			mutate: func(c *Config) { c.Playback.Audio.Channels = 9 },
			errMsg: "channels must be between 1 and 8",
		},
		{
			name:   "disabled audio is not validated",
			mutate: func(c *Config) { c.Playback.Audio.Enabled = false; c.Playback.Audio.Channels = 0 },
		},
		{
			name:   "video dimensions",
			mutate: func(c *Config) { c.Playback.Video.Width = 0 },
			errMsg: "invalid dimensions",
		},
		{
			name:   "queue policy",
			mutate: func(c *Config) { c.Playback.Queue.DecodedPolicy = "ring" },
			errMsg: "invalid queue policy",
		},
		{
			name:   "blocking encoded queue",
			mutate: func(c *Config) { c.Playback.Queue.EncodedPolicy = "block" },
			errMsg: "encoded_policy cannot be 'block'",
		},
		{
			name:   "poll timeout",
			mutate: func(c *Config) { c.Playback.Decoder.PollTimeout = 0 },
			errMsg: "poll_timeout must be positive",
		},
		{
			name:   "render sink",
			mutate: func(c *Config) { c.Playback.Render.Sink = "sdl" },
			errMsg: "unknown render sink",
		},
		{
			name: "registry heartbeat",
			mutate: func(c *Config) {
				c.Playback.Registry.Enabled = true
				c.Playback.Registry.HeartbeatInterval = c.Playback.Registry.TTL
			},
			errMsg: "heartbeat_interval",
		},
		{
			name: "registry needs redis",
			mutate: func(c *Config) {
				c.Playback.Registry.Enabled = true
				c.Redis.Addresses = nil
			},
			errMsg: "at least one Redis address",
		},
		{
			name:   "ingest ports differ",
			mutate: func(c *Config) { c.Ingest.AudioPort = c.Ingest.VideoPort },
			errMsg: "ports must differ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestRedisConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		config  RedisConfig
		wantErr bool
	}{
		{"valid", RedisConfig{Addresses: []string{"localhost:6379"}, PoolSize: 10, MinIdleConns: 1}, false},
		{"negative DB", RedisConfig{Addresses: []string{"localhost:6379"}, DB: -1, PoolSize: 10}, true},
		{"zero pool size", RedisConfig{Addresses: []string{"localhost:6379"}}, true},
		{"idle above pool", RedisConfig{Addresses: []string{"localhost:6379"}, PoolSize: 2, MinIdleConns: 3}, true},
		{"negative retries", RedisConfig{Addresses: []string{"localhost:6379"}, PoolSize: 2, MaxRetries: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
