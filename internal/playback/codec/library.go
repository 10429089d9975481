package codec

import (
	"errors"
	"fmt"

	"github.com/zsiec/nanoplay/internal/playback/types"
)

var (
	// ErrNotReady is returned by ReceiveFrame and Context.Receive when no
	// decoded output is pending. It is part of normal operation.
	ErrNotReady = errors.New("codec: no output ready")

	// ErrWouldBlock is returned by SubmitPacket when the decoder input is
	// full. The caller must drain output before submitting again.
	ErrWouldBlock = errors.New("codec: decoder input full")
)

// Library is a decoding backend. A Library outlives every decoder and
// converter it opens and is closed last.
type Library interface {
	Name() string
	Supports(id types.CodecID) bool
	Capabilities(id types.CodecID) Capabilities
	OpenDecoder(id types.CodecID, params DecoderParams) (Decoder, error)
	OpenConverter(src, dst ConvertParams) (Converter, error)
	Close() error
}

// Capabilities describes the raw output a backend produces for a codec.
type Capabilities struct {
	SampleFormat   types.SampleFormat
	PixelFormat    types.PixelFormat
	NeedsExtraData bool
}

// Decoder is one open decoder handle. It is not safe for concurrent use.
type Decoder interface {
	SetExtraData(data []byte) error
	SubmitPacket(data []byte) error
	ReceiveFrame() (*RawFrame, error)
	Flush()
	Close() error
}

// Converter reshapes raw frames between sample or pixel layouts.
type Converter interface {
	Convert(frame *RawFrame) (*RawFrame, error)
	Close() error
}

// DecoderParams carries the stream parameters a decoder is opened with.
type DecoderParams struct {
	Kind       types.StreamKind
	SampleRate int
	Channels   int
	Width      int
	Height     int
	ExtraData  []byte
}

// ConvertParams is one side of a conversion.
type ConvertParams struct {
	Kind         types.StreamKind
	SampleFormat types.SampleFormat
	SampleRate   int
	Channels     int
	PixelFormat  types.PixelFormat
	Width        int
	Height       int
}

// Equal reports whether two sides describe the same representation.
func (p ConvertParams) Equal(o ConvertParams) bool {
	return p == o
}

func (p ConvertParams) String() string {
	if p.Kind == types.KindVideo {
		return fmt.Sprintf("%s %dx%d", p.PixelFormat, p.Width, p.Height)
	}
	return fmt.Sprintf("%s %dHz %dch", p.SampleFormat, p.SampleRate, p.Channels)
}

// RawFrame is decoder or converter output. Audio frames hold one plane when
// interleaved and one plane per channel when planar. Video planes may carry
// row padding described by Strides.
type RawFrame struct {
	Kind    types.StreamKind
	Planes  [][]byte
	Strides []int

	SampleFormat types.SampleFormat
	SampleRate   int
	Channels     int
	Samples      int

	Width       int
	Height      int
	PixelFormat types.PixelFormat

	PTS int64
}

// Params returns the representation the frame is in.
func (f *RawFrame) Params() ConvertParams {
	if f.Kind == types.KindVideo {
		return ConvertParams{
			Kind:        types.KindVideo,
			PixelFormat: f.PixelFormat,
			Width:       f.Width,
			Height:      f.Height,
		}
	}
	return ConvertParams{
		Kind:         types.KindAudio,
		SampleFormat: f.SampleFormat,
		SampleRate:   f.SampleRate,
		Channels:     f.Channels,
	}
}

// Size returns the combined length of all planes.
func (f *RawFrame) Size() int {
	n := 0
	for _, p := range f.Planes {
		n += len(p)
	}
	return n
}
