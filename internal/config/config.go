package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete player configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Playback PlaybackConfig `mapstructure:"playback"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
}

// ServerConfig configures the status HTTP server.
type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	ListenAddr      string        `mapstructure:"listen_addr"`
	HTTPPort        int           `mapstructure:"http_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	DebugEndpoints  bool          `mapstructure:"debug_endpoints"`
}

// RedisConfig configures the connection backing the session registry.
type RedisConfig struct {
	Addresses    []string      `mapstructure:"addresses"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	MaxRetries   int           `mapstructure:"max_retries"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

// LoggingConfig configures the logrus logger.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // json or text
	Output     string `mapstructure:"output"` // stdout, stderr, or file path
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Port    int    `mapstructure:"port"`
}

// PlaybackConfig configures the decode pipeline.
type PlaybackConfig struct {
	Audio    AudioConfig    `mapstructure:"audio"`
	Video    VideoConfig    `mapstructure:"video"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Decoder  DecoderConfig  `mapstructure:"decoder"`
	Render   RenderConfig   `mapstructure:"render"`
	Registry RegistryConfig `mapstructure:"registry"`
}

// AudioConfig is the negotiated audio stream format.
type AudioConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Codec        string `mapstructure:"codec"`
	SampleRate   int    `mapstructure:"sample_rate"`
	Channels     int    `mapstructure:"channels"`
	SampleFormat string `mapstructure:"sample_format"` // layout handed to the renderer
	AACProfile   int    `mapstructure:"aac_profile"`
	WrapADTS     bool   `mapstructure:"wrap_adts"`
}

// VideoConfig is the negotiated video stream format.
type VideoConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Codec          string `mapstructure:"codec"`
	Width          int    `mapstructure:"width"`
	Height         int    `mapstructure:"height"`
	FPS            int    `mapstructure:"fps"`
	PixelFormat    string `mapstructure:"pixel_format"`
	LengthPrefixed bool   `mapstructure:"length_prefixed"`
	MaxUnitSize    int    `mapstructure:"max_unit_size"`
}

// QueueConfig sets the capacity and overflow policy of the encoded input
// queues and the decoded output bridge.
type QueueConfig struct {
	EncodedCapacity int    `mapstructure:"encoded_capacity"`
	EncodedPolicy   string `mapstructure:"encoded_policy"` // unbounded, block, drop_oldest
	DecodedCapacity int    `mapstructure:"decoded_capacity"`
	DecodedPolicy   string `mapstructure:"decoded_policy"`
}

// DecoderConfig selects the codec backend and tunes the decode loops.
type DecoderConfig struct {
	Backend     string        `mapstructure:"backend"` // libav or native
	PollTimeout time.Duration `mapstructure:"poll_timeout"`
	StopTimeout time.Duration `mapstructure:"stop_timeout"`
	LogLevel    string        `mapstructure:"log_level"`
}

// RenderConfig configures the presentation side.
type RenderConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	Sink               string        `mapstructure:"sink"` // headless
	AudioBufferSamples int           `mapstructure:"audio_buffer_samples"`
	Fullscreen         bool          `mapstructure:"fullscreen"`
	PaceVideo          bool          `mapstructure:"pace_video"`
	PollTimeout        time.Duration `mapstructure:"poll_timeout"`
}

// RegistryConfig configures the Redis-backed session registry.
type RegistryConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	KeyPrefix         string        `mapstructure:"key_prefix"`
	TTL               time.Duration `mapstructure:"ttl"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

// IngestConfig configures the RTP/UDP fragment listener.
type IngestConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	ListenAddr     string        `mapstructure:"listen_addr"`
	AudioPort      int           `mapstructure:"audio_port"`
	VideoPort      int           `mapstructure:"video_port"`
	BufferSize     int           `mapstructure:"buffer_size"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	ReinitOnSSRC   bool          `mapstructure:"reinit_on_ssrc"`
	MaxPacketBytes int           `mapstructure:"max_packet_bytes"`
}

// Load reads the configuration file at configPath, applies NANOPLAY_*
// environment overrides and validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(configPath)

	v.SetEnvPrefix("NANOPLAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	// Defaults are static and always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.listen_addr", "127.0.0.1")
	v.SetDefault("server.http_port", 8088)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "5s")
	v.SetDefault("server.debug_endpoints", false)

	v.SetDefault("redis.addresses", []string{"localhost:6379"})
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 1)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age", 30)
	v.SetDefault("logging.compress", true)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.port", 9090)

	v.SetDefault("playback.audio.enabled", true)
	v.SetDefault("playback.audio.codec", "aac")
	v.SetDefault("playback.audio.sample_rate", 48000)
	v.SetDefault("playback.audio.channels", 2)
	v.SetDefault("playback.audio.sample_format", "flt")
	v.SetDefault("playback.audio.aac_profile", 2) // LC
	v.SetDefault("playback.audio.wrap_adts", false)

	v.SetDefault("playback.video.enabled", true)
	v.SetDefault("playback.video.codec", "h264")
	v.SetDefault("playback.video.width", 1280)
	v.SetDefault("playback.video.height", 720)
	v.SetDefault("playback.video.fps", 30)
	v.SetDefault("playback.video.pixel_format", "yuv420p")
	v.SetDefault("playback.video.length_prefixed", true)
	v.SetDefault("playback.video.max_unit_size", 4194304) // 4MB

	v.SetDefault("playback.queue.encoded_capacity", 256)
	v.SetDefault("playback.queue.encoded_policy", "drop_oldest")
	v.SetDefault("playback.queue.decoded_capacity", 64)
	v.SetDefault("playback.queue.decoded_policy", "block")

	v.SetDefault("playback.decoder.backend", "libav")
	v.SetDefault("playback.decoder.poll_timeout", "5ms")
	v.SetDefault("playback.decoder.stop_timeout", "5s")
	v.SetDefault("playback.decoder.log_level", "warn")

	v.SetDefault("playback.render.enabled", true)
	v.SetDefault("playback.render.sink", "headless")
	v.SetDefault("playback.render.audio_buffer_samples", 1024)
	v.SetDefault("playback.render.fullscreen", false)
	v.SetDefault("playback.render.pace_video", true)
	v.SetDefault("playback.render.poll_timeout", "20ms")

	v.SetDefault("playback.registry.enabled", false)
	v.SetDefault("playback.registry.key_prefix", "nanoplay:sessions:")
	v.SetDefault("playback.registry.ttl", "30s")
	v.SetDefault("playback.registry.heartbeat_interval", "10s")

	v.SetDefault("ingest.enabled", true)
	v.SetDefault("ingest.listen_addr", "0.0.0.0")
	v.SetDefault("ingest.audio_port", 5006)
	v.SetDefault("ingest.video_port", 5004)
	v.SetDefault("ingest.buffer_size", 2097152) // 2MB
	v.SetDefault("ingest.read_timeout", "500ms")
	v.SetDefault("ingest.reinit_on_ssrc", true)
	v.SetDefault("ingest.max_packet_bytes", 1500)
}
