package config

import (
	"fmt"
	"strings"
)

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if c.Playback.Registry.Enabled {
		if err := c.Redis.Validate(); err != nil {
			return fmt.Errorf("redis config: %w", err)
		}
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}

	if err := c.Playback.Validate(); err != nil {
		return fmt.Errorf("playback config: %w", err)
	}

	if err := c.Ingest.Validate(); err != nil {
		return fmt.Errorf("ingest config: %w", err)
	}

	return nil
}

func (s *ServerConfig) Validate() error {
	if !s.Enabled {
		return nil
	}

	if !validPort(s.HTTPPort) {
		return fmt.Errorf("invalid HTTP port: %d", s.HTTPPort)
	}

	if s.ShutdownTimeout < 0 {
		return fmt.Errorf("shutdown_timeout cannot be negative")
	}

	return nil
}

func (r *RedisConfig) Validate() error {
	if len(r.Addresses) == 0 {
		return fmt.Errorf("at least one Redis address is required")
	}

	if r.DB < 0 {
		return fmt.Errorf("invalid Redis database number: %d", r.DB)
	}

	if r.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}

	if r.PoolSize <= 0 {
		return fmt.Errorf("pool_size must be positive")
	}

	if r.MinIdleConns < 0 || r.MinIdleConns > r.PoolSize {
		return fmt.Errorf("min_idle_conns must be between 0 and pool_size")
	}

	return nil
}

func (l *LoggingConfig) Validate() error {
	switch l.Level {
	case "panic", "fatal", "error", "warn", "info", "debug", "trace":
	default:
		return fmt.Errorf("invalid log level: %s", l.Level)
	}

	if l.Format != "json" && l.Format != "text" {
		return fmt.Errorf("log format must be 'json' or 'text'")
	}

	if l.Output != "stdout" && l.Output != "stderr" {
		if l.MaxSize <= 0 {
			return fmt.Errorf("max_size must be positive for file output")
		}
		if l.MaxBackups < 0 || l.MaxAge < 0 {
			return fmt.Errorf("max_backups and max_age cannot be negative")
		}
	}

	return nil
}

func (m *MetricsConfig) Validate() error {
	if !m.Enabled {
		return nil
	}

	if !validPort(m.Port) {
		return fmt.Errorf("invalid metrics port: %d", m.Port)
	}

	if !strings.HasPrefix(m.Path, "/") {
		return fmt.Errorf("metrics path must start with '/'")
	}

	return nil
}

func (p *PlaybackConfig) Validate() error {
	if !p.Audio.Enabled && !p.Video.Enabled {
		return fmt.Errorf("at least one of audio or video must be enabled")
	}

	if p.Audio.Enabled {
		if err := p.Audio.Validate(); err != nil {
			return fmt.Errorf("audio: %w", err)
		}
	}

	if p.Video.Enabled {
		if err := p.Video.Validate(); err != nil {
			return fmt.Errorf("video: %w", err)
		}
	}

	if err := p.Queue.Validate(); err != nil {
		return fmt.Errorf("queue: %w", err)
	}

	if err := p.Decoder.Validate(); err != nil {
		return fmt.Errorf("decoder: %w", err)
	}

	if err := p.Render.Validate(); err != nil {
		return fmt.Errorf("render: %w", err)
	}

	if p.Registry.Enabled {
		if p.Registry.TTL <= 0 {
			return fmt.Errorf("registry: ttl must be positive")
		}
		if p.Registry.HeartbeatInterval <= 0 || p.Registry.HeartbeatInterval >= p.Registry.TTL {
			return fmt.Errorf("registry: heartbeat_interval must be positive and below ttl")
		}
	}

	return nil
}

func (a *AudioConfig) Validate() error {
	if a.Codec == "" {
		return fmt.Errorf("codec is required")
	}

	if a.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive")
	}

	if a.Channels < 1 || a.Channels > 8 {
		return fmt.Errorf("channels must be between 1 and 8, got %d", a.Channels)
	}

	if a.AACProfile < 1 || a.AACProfile > 4 {
		return fmt.Errorf("aac_profile must be between 1 and 4")
	}

	return nil
}

func (v *VideoConfig) Validate() error {
	if v.Codec == "" {
		return fmt.Errorf("codec is required")
	}

	if v.Width <= 0 || v.Height <= 0 {
		return fmt.Errorf("invalid dimensions %dx%d", v.Width, v.Height)
	}

	if v.FPS <= 0 || v.FPS > 240 {
		return fmt.Errorf("fps must be between 1 and 240")
	}

	if v.MaxUnitSize < 0 {
		return fmt.Errorf("max_unit_size cannot be negative")
	}

	return nil
}

func (q *QueueConfig) Validate() error {
	if q.EncodedCapacity < 0 || q.DecodedCapacity < 0 {
		return fmt.Errorf("capacities cannot be negative")
	}

	for _, p := range []string{q.EncodedPolicy, q.DecodedPolicy} {
		switch p {
		case "unbounded", "block", "drop_oldest":
		default:
			return fmt.Errorf("invalid queue policy: %q", p)
		}
	}

	// A blocking input queue would stall the receive goroutine.
	if q.EncodedPolicy == "block" {
		return fmt.Errorf("encoded_policy cannot be 'block'")
	}

	return nil
}

func (d *DecoderConfig) Validate() error {
	switch d.Backend {
	case "libav", "native":
	default:
		return fmt.Errorf("unknown decoder backend: %q", d.Backend)
	}

	if d.PollTimeout <= 0 {
		return fmt.Errorf("poll_timeout must be positive")
	}

	if d.StopTimeout <= 0 {
		return fmt.Errorf("stop_timeout must be positive")
	}

	return nil
}

func (r *RenderConfig) Validate() error {
	if !r.Enabled {
		return nil
	}

	if r.Sink != "headless" {
		return fmt.Errorf("unknown render sink: %q", r.Sink)
	}

	if r.AudioBufferSamples <= 0 {
		return fmt.Errorf("audio_buffer_samples must be positive")
	}

	if r.PollTimeout <= 0 {
		return fmt.Errorf("poll_timeout must be positive")
	}

	return nil
}

func (i *IngestConfig) Validate() error {
	if !i.Enabled {
		return nil
	}

	if !validPort(i.AudioPort) || !validPort(i.VideoPort) {
		return fmt.Errorf("invalid ports: audio %d, video %d", i.AudioPort, i.VideoPort)
	}

	if i.AudioPort == i.VideoPort {
		return fmt.Errorf("audio and video ports must differ")
	}

	if i.MaxPacketBytes < 64 {
		return fmt.Errorf("max_packet_bytes must be at least 64")
	}

	return nil
}

func validPort(p int) bool {
	return p >= 1 && p <= 65535
}
