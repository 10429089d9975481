package codec

import (
	"fmt"
	"time"

	"github.com/zsiec/nanoplay/internal/playback/types"
)

// StreamVariant is the stream-specific half of a Context. Audio and video
// streams differ only in the variant the Context holds.
type StreamVariant interface {
	Kind() types.StreamKind
	Codec() types.CodecID
	Validate() error

	// SourceParams is the representation the backend decodes into.
	SourceParams(caps Capabilities) ConvertParams
	// TargetParams is the representation handed to the renderer.
	TargetParams() ConvertParams
	DecoderParams(extraData []byte) DecoderParams

	// WithTarget returns a copy with the non-zero fields of target applied.
	// Video targets only change the pixel format.
	WithTarget(target ConvertParams) (StreamVariant, error)

	// Span is how far one frame advances the stream position; Timestamp
	// maps a position to presentation time.
	Span(frame *RawFrame) int64
	Timestamp(position int64) time.Duration

	Shape(frame *RawFrame, meta UnitMeta) (types.DecodedUnit, error)
	String() string
}

// UnitMeta travels with a submitted packet to the unit it decodes into.
type UnitMeta struct {
	FrameID   uint32
	Timestamp time.Duration
	Received  time.Time
}

// AudioVariant is the StreamVariant of an audio stream. The format
// describes the incoming stream; outRate and outChannels shape the output.
type AudioVariant struct {
	format      types.AudioFormat
	outRate     int
	outChannels int
}

// Audio wraps an audio format. A missing target sample format defaults to
// interleaved float.
func Audio(format types.AudioFormat) *AudioVariant {
	if format.SampleFormat == types.SampleFormatNone {
		format.SampleFormat = types.SampleFormatFLT
	}
	return &AudioVariant{format: format, outRate: format.SampleRate, outChannels: format.Channels}
}

func (a *AudioVariant) Kind() types.StreamKind    { return types.KindAudio }
func (a *AudioVariant) Codec() types.CodecID      { return a.format.Codec }
func (a *AudioVariant) Format() types.AudioFormat { return a.format }
func (a *AudioVariant) String() string            { return a.format.String() }

func (a *AudioVariant) Validate() error {
	return a.format.Validate()
}

func (a *AudioVariant) SourceParams(caps Capabilities) ConvertParams {
	sf := caps.SampleFormat
	if sf == types.SampleFormatNone {
		sf = types.SampleFormatFLTP
	}
	return ConvertParams{
		Kind:         types.KindAudio,
		SampleFormat: sf,
		SampleRate:   a.format.SampleRate,
		Channels:     a.format.Channels,
	}
}

func (a *AudioVariant) TargetParams() ConvertParams {
	return ConvertParams{
		Kind:         types.KindAudio,
		SampleFormat: a.format.SampleFormat,
		SampleRate:   a.outRate,
		Channels:     a.outChannels,
	}
}

func (a *AudioVariant) DecoderParams(extraData []byte) DecoderParams {
	return DecoderParams{
		Kind:       types.KindAudio,
		SampleRate: a.format.SampleRate,
		Channels:   a.format.Channels,
		ExtraData:  extraData,
	}
}

func (a *AudioVariant) WithTarget(target ConvertParams) (StreamVariant, error) {
	if target.Kind != types.KindAudio {
		return nil, fmt.Errorf("target is %s, stream is audio", target.Kind)
	}
	out := *a
	if target.SampleFormat != types.SampleFormatNone {
		out.format.SampleFormat = target.SampleFormat
	}
	if target.SampleRate > 0 {
		out.outRate = target.SampleRate
	}
	if target.Channels > 0 {
		out.outChannels = target.Channels
	}
	if out.format.SampleFormat.BytesPerSample() == 0 {
		return nil, fmt.Errorf("invalid target sample format %s", out.format.SampleFormat)
	}
	return &out, nil
}

func (a *AudioVariant) Span(frame *RawFrame) int64 {
	return int64(frame.Samples)
}

func (a *AudioVariant) Timestamp(position int64) time.Duration {
	if a.outRate <= 0 {
		return 0
	}
	return time.Duration(position) * time.Second / time.Duration(a.outRate)
}

// Shape packs the frame into a PCMSample. Planar frames are stored plane
// after plane.
func (a *AudioVariant) Shape(frame *RawFrame, meta UnitMeta) (types.DecodedUnit, error) {
	if frame.Kind != types.KindAudio {
		return nil, fmt.Errorf("audio stream received %s frame", frame.Kind)
	}
	if frame.Samples <= 0 || frame.Channels <= 0 {
		return nil, fmt.Errorf("empty audio frame")
	}

	planeBytes := frame.Samples * frame.SampleFormat.BytesPerSample()
	planes := 1
	if frame.SampleFormat.IsPlanar() {
		planes = frame.Channels
	} else {
		planeBytes *= frame.Channels
	}
	if len(frame.Planes) < planes {
		return nil, fmt.Errorf("audio frame has %d planes, want %d", len(frame.Planes), planes)
	}

	data := make([]byte, 0, planeBytes*planes)
	for i := 0; i < planes; i++ {
		if len(frame.Planes[i]) < planeBytes {
			return nil, fmt.Errorf("audio plane %d has %d bytes, want %d", i, len(frame.Planes[i]), planeBytes)
		}
		data = append(data, frame.Planes[i][:planeBytes]...)
	}

	return types.PCMSample{
		Data:         data,
		SampleFormat: frame.SampleFormat,
		SampleRate:   frame.SampleRate,
		Channels:     frame.Channels,
		Samples:      frame.Samples,
		FrameID:      meta.FrameID,
		Timestamp:    meta.Timestamp,
	}, nil
}

// VideoVariant is the StreamVariant of a video stream.
type VideoVariant struct {
	format types.VideoFormat
}

// Video wraps a video format. A missing target pixel format defaults to
// YUV420P.
func Video(format types.VideoFormat) *VideoVariant {
	if format.PixelFormat == types.PixelFormatNone {
		format.PixelFormat = types.PixelFormatYUV420P
	}
	return &VideoVariant{format: format}
}

func (v *VideoVariant) Kind() types.StreamKind    { return types.KindVideo }
func (v *VideoVariant) Codec() types.CodecID      { return v.format.Codec }
func (v *VideoVariant) Format() types.VideoFormat { return v.format }
func (v *VideoVariant) String() string            { return v.format.String() }

func (v *VideoVariant) Validate() error {
	return v.format.Validate()
}

func (v *VideoVariant) SourceParams(caps Capabilities) ConvertParams {
	pf := caps.PixelFormat
	if pf == types.PixelFormatNone {
		pf = types.PixelFormatYUV420P
	}
	return ConvertParams{
		Kind:        types.KindVideo,
		PixelFormat: pf,
		Width:       v.format.Width,
		Height:      v.format.Height,
	}
}

func (v *VideoVariant) TargetParams() ConvertParams {
	return ConvertParams{
		Kind:        types.KindVideo,
		PixelFormat: v.format.PixelFormat,
		Width:       v.format.Width,
		Height:      v.format.Height,
	}
}

func (v *VideoVariant) DecoderParams(extraData []byte) DecoderParams {
	return DecoderParams{
		Kind:      types.KindVideo,
		Width:     v.format.Width,
		Height:    v.format.Height,
		ExtraData: extraData,
	}
}

func (v *VideoVariant) WithTarget(target ConvertParams) (StreamVariant, error) {
	if target.Kind != types.KindVideo {
		return nil, fmt.Errorf("target is %s, stream is video", target.Kind)
	}
	f := v.format
	if target.PixelFormat != types.PixelFormatNone {
		f.PixelFormat = target.PixelFormat
	}
	if f.PixelFormat.PlaneCount() == 0 {
		return nil, fmt.Errorf("invalid target pixel format %s", f.PixelFormat)
	}
	return &VideoVariant{format: f}, nil
}

func (v *VideoVariant) Span(*RawFrame) int64 {
	return 1
}

func (v *VideoVariant) Timestamp(position int64) time.Duration {
	return time.Duration(position) * v.format.TimeBase()
}

// Shape copies the frame planes into a YUVFrame, keeping the source
// strides.
func (v *VideoVariant) Shape(frame *RawFrame, meta UnitMeta) (types.DecodedUnit, error) {
	if frame.Kind != types.KindVideo {
		return nil, fmt.Errorf("video stream received %s frame", frame.Kind)
	}
	n := frame.PixelFormat.PlaneCount()
	if n == 0 || frame.Width <= 0 || frame.Height <= 0 {
		return nil, fmt.Errorf("invalid picture %s %dx%d", frame.PixelFormat, frame.Width, frame.Height)
	}
	if len(frame.Planes) < n {
		return nil, fmt.Errorf("picture has %d planes, want %d", len(frame.Planes), n)
	}

	out := types.YUVFrame{
		Width:       frame.Width,
		Height:      frame.Height,
		PixelFormat: frame.PixelFormat,
		FrameID:     meta.FrameID,
		Timestamp:   meta.Timestamp,
	}
	for i := 0; i < n; i++ {
		rowBytes, rows := frame.PixelFormat.PlaneDims(i, frame.Width, frame.Height)
		stride := rowBytes
		if i < len(frame.Strides) && frame.Strides[i] > 0 {
			stride = frame.Strides[i]
		}
		if stride < rowBytes {
			return nil, fmt.Errorf("plane %d stride %d below row size %d", i, stride, rowBytes)
		}
		need := stride*(rows-1) + rowBytes
		if len(frame.Planes[i]) < need {
			return nil, fmt.Errorf("plane %d has %d bytes, want %d", i, len(frame.Planes[i]), need)
		}
		plane := make([]byte, need)
		copy(plane, frame.Planes[i])
		out.Planes[i] = plane
		out.Strides[i] = stride
	}
	return out, nil
}
