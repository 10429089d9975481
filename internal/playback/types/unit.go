package types

import (
	"image"
	"time"
)

// UnitFlags carries per-unit properties set by the assemblers.
type UnitFlags uint8

const (
	// FlagCodecConfig marks a unit whose payload is out-of-band codec
	// parameter data instead of content.
	FlagCodecConfig UnitFlags = 1 << iota
	FlagKeyframe
	FlagContainsSPS
	FlagContainsPPS
	// FlagFlush asks the decode worker to flush the codec.
	FlagFlush
)

// EncodedUnit is one complete compressed access unit.
type EncodedUnit struct {
	Kind      StreamKind
	Data      []byte
	Flags     UnitFlags
	FrameID   uint32
	Timestamp uint32
	Received  time.Time
}

// IsCodecConfig reports whether the unit carries codec parameters.
func (u EncodedUnit) IsCodecConfig() bool {
	return u.Flags&FlagCodecConfig != 0
}

// IsFlush reports whether the unit is a flush request.
func (u EncodedUnit) IsFlush() bool {
	return u.Flags&FlagFlush != 0
}

// IsKeyframe reports whether the unit starts a decodable sequence.
func (u EncodedUnit) IsKeyframe() bool {
	return u.Flags&FlagKeyframe != 0
}

// DecodedUnit is the tagged variant produced by a codec context. It is
// implemented by PCMSample and YUVFrame only.
type DecodedUnit interface {
	Kind() StreamKind
	Size() int
	decodedUnit()
}

// PCMSample is one block of decoded audio.
type PCMSample struct {
	Data         []byte
	SampleFormat SampleFormat
	SampleRate   int
	Channels     int
	Samples      int // per channel
	FrameID      uint32
	Timestamp    time.Duration
}

func (PCMSample) Kind() StreamKind { return KindAudio }
func (PCMSample) decodedUnit()     {}

// Size returns the length of the sample buffer.
func (s PCMSample) Size() int { return len(s.Data) }

// Duration returns the playback time covered by the block.
func (s PCMSample) Duration() time.Duration {
	if s.SampleRate <= 0 {
		return 0
	}
	return time.Duration(s.Samples) * time.Second / time.Duration(s.SampleRate)
}

// YUVFrame is one decoded picture in planar layout.
type YUVFrame struct {
	Planes      [3][]byte
	Strides     [3]int
	Width       int
	Height      int
	PixelFormat PixelFormat
	FrameID     uint32
	Timestamp   time.Duration
}

func (YUVFrame) Kind() StreamKind { return KindVideo }
func (YUVFrame) decodedUnit()     {}

// Size returns the combined length of all planes.
func (f YUVFrame) Size() int {
	return len(f.Planes[0]) + len(f.Planes[1]) + len(f.Planes[2])
}

// Image wraps a YUV420P frame as an image.YCbCr without copying. It returns
// nil for other pixel formats.
func (f YUVFrame) Image() *image.YCbCr {
	if f.PixelFormat != PixelFormatYUV420P {
		return nil
	}
	return &image.YCbCr{
		Y:              f.Planes[0],
		Cb:             f.Planes[1],
		Cr:             f.Planes[2],
		YStride:        f.Strides[0],
		CStride:        f.Strides[1],
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           image.Rect(0, 0, f.Width, f.Height),
	}
}
