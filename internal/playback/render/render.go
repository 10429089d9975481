// Package render moves decoded units from the playback bridge to audio and
// video outputs.
package render

import (
	"context"
	"fmt"
	"time"

	"github.com/zsiec/nanoplay/internal/playback/types"
)

// AudioSpec describes the audio device a presenter opens.
type AudioSpec struct {
	SampleRate    int
	Channels      int
	SampleFormat  types.SampleFormat
	BufferSamples int
}

// VideoSpec describes the surface a presenter opens.
type VideoSpec struct {
	Width       int
	Height      int
	PixelFormat types.PixelFormat
	Fullscreen  bool
}

// AudioOutput is an audio device.
type AudioOutput interface {
	OpenAudio(spec AudioSpec) error
	QueueSamples(data []byte) error
	CloseAudio() error
}

// VideoSurface is a window or other picture sink. UpdatePlanarImage
// uploads a frame and Present shows it.
type VideoSurface interface {
	OpenVideo(spec VideoSpec) error
	UpdatePlanarImage(frame types.YUVFrame) error
	Present() error
	CloseVideo() error
}

// Source is the consumer side of the playback bridge.
type Source interface {
	PopAudio(ctx context.Context, timeout time.Duration) (types.PCMSample, error)
	PopVideo(ctx context.Context, timeout time.Duration) (types.YUVFrame, error)
}

// NewSink returns the sink selected by name.
func NewSink(name string) (*Headless, error) {
	switch name {
	case "", "headless":
		return NewHeadless(), nil
	}
	return nil, fmt.Errorf("unknown render sink %q", name)
}
