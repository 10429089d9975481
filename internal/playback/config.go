package playback

import (
	"fmt"
	"time"

	"github.com/zsiec/nanoplay/internal/config"
	"github.com/zsiec/nanoplay/internal/playback/types"
	"github.com/zsiec/nanoplay/internal/queue"
)

// Config is the resolved player configuration. A nil Audio or Video
// disables that stream.
type Config struct {
	Audio *types.AudioFormat
	Video *types.VideoFormat

	WrapADTS       bool
	LengthPrefixed bool
	MaxUnitSize    int

	EncodedCapacity int
	EncodedPolicy   queue.Policy
	DecodedCapacity int
	DecodedPolicy   queue.Policy

	PollTimeout time.Duration
	StopTimeout time.Duration

	Render RenderConfig

	HeartbeatInterval time.Duration
	Host              string
}

// RenderConfig enables the presenter.
type RenderConfig struct {
	Enabled            bool
	AudioBufferSamples int
	Fullscreen         bool
	PaceVideo          bool
	PollTimeout        time.Duration
}

// ConfigFromSettings resolves the string-typed file configuration.
func ConfigFromSettings(pc *config.PlaybackConfig) (Config, error) {
	cfg := Config{
		MaxUnitSize:       pc.Video.MaxUnitSize,
		LengthPrefixed:    pc.Video.LengthPrefixed,
		WrapADTS:          pc.Audio.WrapADTS,
		EncodedCapacity:   pc.Queue.EncodedCapacity,
		DecodedCapacity:   pc.Queue.DecodedCapacity,
		PollTimeout:       pc.Decoder.PollTimeout,
		StopTimeout:       pc.Decoder.StopTimeout,
		HeartbeatInterval: pc.Registry.HeartbeatInterval,
		Render: RenderConfig{
			Enabled:            pc.Render.Enabled,
			AudioBufferSamples: pc.Render.AudioBufferSamples,
			Fullscreen:         pc.Render.Fullscreen,
			PaceVideo:          pc.Render.PaceVideo,
			PollTimeout:        pc.Render.PollTimeout,
		},
	}

	var err error
	if cfg.EncodedPolicy, err = queue.ParsePolicy(pc.Queue.EncodedPolicy); err != nil {
		return Config{}, fmt.Errorf("encoded queue: %w", err)
	}
	if cfg.DecodedPolicy, err = queue.ParsePolicy(pc.Queue.DecodedPolicy); err != nil {
		return Config{}, fmt.Errorf("decoded queue: %w", err)
	}

	if pc.Audio.Enabled {
		id, err := types.ParseCodecID(pc.Audio.Codec)
		if err != nil {
			return Config{}, fmt.Errorf("audio: %w", err)
		}
		sf, err := types.ParseSampleFormat(pc.Audio.SampleFormat)
		if err != nil {
			return Config{}, fmt.Errorf("audio: %w", err)
		}
		cfg.Audio = &types.AudioFormat{
			Codec:        id,
			SampleRate:   pc.Audio.SampleRate,
			Channels:     pc.Audio.Channels,
			SampleFormat: sf,
			Profile:      types.AACProfile(pc.Audio.AACProfile),
		}
	}

	if pc.Video.Enabled {
		id, err := types.ParseCodecID(pc.Video.Codec)
		if err != nil {
			return Config{}, fmt.Errorf("video: %w", err)
		}
		pf, err := types.ParsePixelFormat(pc.Video.PixelFormat)
		if err != nil {
			return Config{}, fmt.Errorf("video: %w", err)
		}
		cfg.Video = &types.VideoFormat{
			Codec:       id,
			Width:       pc.Video.Width,
			Height:      pc.Video.Height,
			FPS:         pc.Video.FPS,
			PixelFormat: pf,
		}
	}

	if cfg.Audio == nil && cfg.Video == nil {
		return Config{}, fmt.Errorf("at least one of audio or video must be enabled")
	}
	return cfg, nil
}

// Codecs lists the codecs of the enabled streams.
func (c Config) Codecs() []types.CodecID {
	var ids []types.CodecID
	if c.Audio != nil {
		ids = append(ids, c.Audio.Codec)
	}
	if c.Video != nil {
		ids = append(ids, c.Video.Codec)
	}
	return ids
}
