package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// SampleFormat describes how decoded audio samples are laid out in memory.
type SampleFormat uint8

const (
	SampleFormatNone SampleFormat = iota
	SampleFormatS16               // signed 16-bit, interleaved
	SampleFormatS16P              // signed 16-bit, one plane per channel
	SampleFormatFLT               // 32-bit float, interleaved
	SampleFormatFLTP              // 32-bit float, one plane per channel
)

var sampleFormatInfo = [...]struct {
	name   string
	size   int
	planar bool
	packed SampleFormat
}{
	SampleFormatNone: {"none", 0, false, SampleFormatNone},
	SampleFormatS16:  {"s16", 2, false, SampleFormatS16},
	SampleFormatS16P: {"s16p", 2, true, SampleFormatS16},
	SampleFormatFLT:  {"flt", 4, false, SampleFormatFLT},
	SampleFormatFLTP: {"fltp", 4, true, SampleFormatFLT},
}

func (f SampleFormat) valid() bool {
	return f > SampleFormatNone && int(f) < len(sampleFormatInfo)
}

func (f SampleFormat) String() string {
	if int(f) >= len(sampleFormatInfo) {
		return fmt.Sprintf("sample_format(%d)", uint8(f))
	}
	return sampleFormatInfo[f].name
}

// BytesPerSample returns the size of one sample of one channel.
func (f SampleFormat) BytesPerSample() int {
	if !f.valid() {
		return 0
	}
	return sampleFormatInfo[f].size
}

// IsPlanar reports whether each channel is stored in its own plane.
func (f SampleFormat) IsPlanar() bool {
	return f.valid() && sampleFormatInfo[f].planar
}

// Packed returns the interleaved counterpart of a planar format.
func (f SampleFormat) Packed() SampleFormat {
	if !f.valid() {
		return SampleFormatNone
	}
	return sampleFormatInfo[f].packed
}

// BufferSize is the number of bytes needed for samples frames of channels
// channels, whatever the layout.
func (f SampleFormat) BufferSize(samples, channels int) int {
	return samples * channels * f.BytesPerSample()
}

// ParseSampleFormat maps a configuration name to a SampleFormat.
func ParseSampleFormat(s string) (SampleFormat, error) {
	name := strings.ToLower(s)
	for i := SampleFormatS16; int(i) < len(sampleFormatInfo); i++ {
		if sampleFormatInfo[i].name == name {
			return i, nil
		}
	}
	return SampleFormatNone, fmt.Errorf("unknown sample format %q", s)
}

// PixelFormat describes how a decoded picture is laid out in memory.
type PixelFormat uint8

const (
	PixelFormatNone    PixelFormat = iota
	PixelFormatYUV420P             // I420: Y, U, V planes, chroma subsampled 2x2
	PixelFormatNV12                // Y plane + interleaved UV plane
	PixelFormatRGB24               // packed 8-bit RGB
)

var pixelFormatNames = [...]string{
	PixelFormatNone:    "none",
	PixelFormatYUV420P: "yuv420p",
	PixelFormatNV12:    "nv12",
	PixelFormatRGB24:   "rgb24",
}

func (p PixelFormat) String() string {
	if int(p) >= len(pixelFormatNames) {
		return fmt.Sprintf("pixel_format(%d)", uint8(p))
	}
	return pixelFormatNames[p]
}

// PlaneCount returns the number of planes the format uses.
func (p PixelFormat) PlaneCount() int {
	switch p {
	case PixelFormatYUV420P:
		return 3
	case PixelFormatNV12:
		return 2
	case PixelFormatRGB24:
		return 1
	}
	return 0
}

// PlaneDims returns the tightly packed row width in bytes and the height of
// plane i for a picture of the given size.
func (p PixelFormat) PlaneDims(i, width, height int) (rowBytes, rows int) {
	cw, ch := (width+1)/2, (height+1)/2
	switch p {
	case PixelFormatYUV420P:
		if i == 0 {
			return width, height
		}
		if i < 3 {
			return cw, ch
		}
	case PixelFormatNV12:
		if i == 0 {
			return width, height
		}
		if i == 1 {
			return cw * 2, ch
		}
	case PixelFormatRGB24:
		if i == 0 {
			return width * 3, height
		}
	}
	return 0, 0
}

// FrameSize returns the tightly packed size of one picture.
func (p PixelFormat) FrameSize(width, height int) int {
	total := 0
	for i := 0; i < p.PlaneCount(); i++ {
		w, h := p.PlaneDims(i, width, height)
		total += w * h
	}
	return total
}

// ParsePixelFormat maps a configuration name to a PixelFormat.
func ParsePixelFormat(s string) (PixelFormat, error) {
	name := strings.ToLower(s)
	if name == "i420" || name == "yv12" {
		return PixelFormatYUV420P, nil
	}
	for i := PixelFormatYUV420P; int(i) < len(pixelFormatNames); i++ {
		if pixelFormatNames[i] == name {
			return i, nil
		}
	}
	return PixelFormatNone, fmt.Errorf("unknown pixel format %q", s)
}

// AACProfile is the MPEG-4 audio object type written into codec data.
type AACProfile uint8

const (
	AACProfileMain AACProfile = 1
	AACProfileLC   AACProfile = 2
	AACProfileSSR  AACProfile = 3
)

// AudioFormat is the negotiated shape of an audio stream. SampleFormat is
// the layout the renderer wants.
type AudioFormat struct {
	Codec        CodecID
	SampleRate   int
	Channels     int
	SampleFormat SampleFormat
	Profile      AACProfile
}

// Validate checks the format is usable for decoder setup.
func (f AudioFormat) Validate() error {
	if !f.Codec.IsAudio() {
		return fmt.Errorf("codec %s is not an audio codec", f.Codec)
	}
	if f.SampleRate <= 0 {
		return errors.New("sample rate must be positive")
	}
	if f.Channels <= 0 || f.Channels > 8 {
		return fmt.Errorf("channel count %d out of range", f.Channels)
	}
	return nil
}

func (f AudioFormat) String() string {
	return fmt.Sprintf("%s %dHz %dch %s", f.Codec, f.SampleRate, f.Channels, f.SampleFormat)
}

// VideoFormat is the negotiated shape of a video stream. PixelFormat is the
// layout the renderer wants. The RGB fields only apply to raw RGB streams.
type VideoFormat struct {
	Codec        CodecID
	Width        int
	Height       int
	FPS          int
	PixelFormat  PixelFormat
	BitsPerPixel int
	Bytes        int
	RedMask      uint32
	GreenMask    uint32
	BlueMask     uint32
}

// Validate checks the format is usable for decoder setup.
func (f VideoFormat) Validate() error {
	if !f.Codec.IsVideo() {
		return fmt.Errorf("codec %s is not a video codec", f.Codec)
	}
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("invalid dimensions %dx%d", f.Width, f.Height)
	}
	if f.FPS <= 0 {
		return errors.New("fps must be positive")
	}
	return nil
}

// TimeBase returns the duration of one frame.
func (f VideoFormat) TimeBase() time.Duration {
	if f.FPS <= 0 {
		return 0
	}
	return time.Second / time.Duration(f.FPS)
}

func (f VideoFormat) String() string {
	return fmt.Sprintf("%s %dx%d@%d %s", f.Codec, f.Width, f.Height, f.FPS, f.PixelFormat)
}
