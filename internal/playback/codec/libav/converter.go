//go:build libav

package libav

import (
	"errors"
	"fmt"

	"github.com/asticode/go-astiav"

	"github.com/zsiec/nanoplay/internal/playback/codec"
	"github.com/zsiec/nanoplay/internal/playback/types"
)

var avSampleFormats = map[types.SampleFormat]astiav.SampleFormat{
	types.SampleFormatS16:  astiav.SampleFormatS16,
	types.SampleFormatS16P: astiav.SampleFormatS16P,
	types.SampleFormatFLT:  astiav.SampleFormatFlt,
	types.SampleFormatFLTP: astiav.SampleFormatFltp,
}

var avPixelFormats = map[types.PixelFormat]astiav.PixelFormat{
	types.PixelFormatYUV420P: astiav.PixelFormatYuv420P,
	types.PixelFormatNV12:    astiav.PixelFormatNv12,
	types.PixelFormatRGB24:   astiav.PixelFormatRgb24,
}

func channelLayout(channels int) (astiav.ChannelLayout, error) {
	switch channels {
	case 1:
		return astiav.ChannelLayoutMono, nil
	case 2:
		return astiav.ChannelLayoutStereo, nil
	}
	return astiav.ChannelLayout{}, fmt.Errorf("unsupported channel count %d", channels)
}

// resampler converts audio with libswresample. The context is rebuilt
// whenever the source layout changes, since swresample refuses input that
// differs from the frame it was configured with.
type resampler struct {
	dst    codec.ConvertParams
	format astiav.SampleFormat
	layout astiav.ChannelLayout

	swr *astiav.SoftwareResampleContext
	src codec.ConvertParams

	in  *astiav.Frame
	out *astiav.Frame
}

func newResampler(dst codec.ConvertParams) (*resampler, error) {
	format, ok := avSampleFormats[dst.SampleFormat]
	if !ok {
		return nil, fmt.Errorf("unsupported target sample format %s", dst.SampleFormat)
	}
	if dst.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid target sample rate %d", dst.SampleRate)
	}
	layout, err := channelLayout(dst.Channels)
	if err != nil {
		return nil, err
	}
	return &resampler{
		dst:    dst,
		format: format,
		layout: layout,
		in:     astiav.AllocFrame(),
		out:    astiav.AllocFrame(),
	}, nil
}

func (r *resampler) Convert(frame *codec.RawFrame) (*codec.RawFrame, error) {
	if frame == nil || frame.Kind != types.KindAudio {
		return nil, errors.New("not an audio frame")
	}
	if err := r.ensure(frame.Params()); err != nil {
		return nil, err
	}

	defer r.in.Unref()
	if err := r.load(frame); err != nil {
		return nil, err
	}

	// swresample sizes and allocates the output frame itself.
	defer r.out.Unref()
	r.out.SetSampleFormat(r.format)
	r.out.SetChannelLayout(r.layout)
	r.out.SetSampleRate(r.dst.SampleRate)
	if err := r.swr.ConvertFrame(r.in, r.out); err != nil {
		return nil, fmt.Errorf("resampling failed: %w", err)
	}

	samples := r.out.NbSamples()
	var buf []byte
	if samples > 0 {
		var err error
		if buf, err = r.out.Data().Bytes(1); err != nil {
			return nil, fmt.Errorf("reading resampled audio failed: %w", err)
		}
	}
	out, err := audioFrame(buf, r.dst.SampleFormat, r.dst.Channels, samples)
	if err != nil {
		return nil, err
	}
	out.SampleRate = r.dst.SampleRate
	out.PTS = frame.PTS
	return out, nil
}

func (r *resampler) ensure(src codec.ConvertParams) error {
	if r.swr != nil && src == r.src {
		return nil
	}
	if r.swr != nil {
		r.swr.Free()
		r.swr = nil
	}
	if _, ok := avSampleFormats[src.SampleFormat]; !ok {
		return fmt.Errorf("unsupported source sample format %s", src.SampleFormat)
	}
	swr := astiav.AllocSoftwareResampleContext()
	if swr == nil {
		return errors.New("unable to allocate resample context")
	}
	r.swr = swr
	r.src = src
	return nil
}

func (r *resampler) load(frame *codec.RawFrame) error {
	layout, err := channelLayout(frame.Channels)
	if err != nil {
		return err
	}
	r.in.SetSampleFormat(avSampleFormats[frame.SampleFormat])
	r.in.SetChannelLayout(layout)
	r.in.SetSampleRate(frame.SampleRate)
	r.in.SetNbSamples(frame.Samples)
	if err := r.in.AllocBuffer(0); err != nil {
		return fmt.Errorf("allocating source audio failed: %w", err)
	}
	if err := r.in.Data().SetBytes(packAudio(frame), 1); err != nil {
		return fmt.Errorf("loading source audio failed: %w", err)
	}
	return nil
}

func (r *resampler) Close() error {
	if r.swr != nil {
		r.swr.Free()
		r.swr = nil
	}
	r.in.Free()
	r.out.Free()
	return nil
}

// scaler converts pictures with libswscale. A zero target size keeps the
// source size.
type scaler struct {
	dst    codec.ConvertParams
	format astiav.PixelFormat

	ssc    *astiav.SoftwareScaleContext
	src    codec.ConvertParams
	width  int
	height int

	in  *astiav.Frame
	out *astiav.Frame
}

func newScaler(dst codec.ConvertParams) (*scaler, error) {
	format, ok := avPixelFormats[dst.PixelFormat]
	if !ok {
		return nil, fmt.Errorf("unsupported target pixel format %s", dst.PixelFormat)
	}
	return &scaler{dst: dst, format: format, in: astiav.AllocFrame()}, nil
}

func (s *scaler) Convert(frame *codec.RawFrame) (*codec.RawFrame, error) {
	if frame == nil || frame.Kind != types.KindVideo {
		return nil, errors.New("not a video frame")
	}
	if err := s.ensure(frame.Params()); err != nil {
		return nil, err
	}

	defer s.in.Unref()
	s.in.SetWidth(frame.Width)
	s.in.SetHeight(frame.Height)
	s.in.SetPixelFormat(avPixelFormats[frame.PixelFormat])
	if err := s.in.AllocBuffer(1); err != nil {
		return nil, fmt.Errorf("allocating source picture failed: %w", err)
	}
	if err := s.in.Data().SetBytes(packPicture(frame), 1); err != nil {
		return nil, fmt.Errorf("loading source picture failed: %w", err)
	}

	if err := s.ssc.ScaleFrame(s.in, s.out); err != nil {
		return nil, fmt.Errorf("scaling failed: %w", err)
	}
	n, err := s.out.ImageBufferSize(1)
	if err != nil {
		return nil, fmt.Errorf("sizing scaled picture failed: %w", err)
	}
	buf := make([]byte, n)
	if _, err := s.out.ImageCopyToBuffer(buf, 1); err != nil {
		return nil, fmt.Errorf("copying scaled picture failed: %w", err)
	}

	out, err := pictureFrame(buf, s.dst.PixelFormat, s.width, s.height)
	if err != nil {
		return nil, err
	}
	out.PTS = frame.PTS
	return out, nil
}

func (s *scaler) ensure(src codec.ConvertParams) error {
	if s.ssc != nil && src == s.src {
		return nil
	}
	s.release()

	srcFormat, ok := avPixelFormats[src.PixelFormat]
	if !ok {
		return fmt.Errorf("unsupported source pixel format %s", src.PixelFormat)
	}
	w, h := s.dst.Width, s.dst.Height
	if w <= 0 || h <= 0 {
		w, h = src.Width, src.Height
	}

	ssc, err := astiav.CreateSoftwareScaleContext(
		src.Width, src.Height, srcFormat,
		w, h, s.format,
		astiav.NewSoftwareScaleContextFlags(),
	)
	if err != nil {
		return fmt.Errorf("creating scale context %dx%d %s -> %dx%d %s failed: %w",
			src.Width, src.Height, src.PixelFormat, w, h, s.dst.PixelFormat, err)
	}

	out := astiav.AllocFrame()
	out.SetWidth(w)
	out.SetHeight(h)
	out.SetPixelFormat(s.format)
	if err := out.AllocBuffer(1); err != nil {
		out.Free()
		ssc.Free()
		return fmt.Errorf("allocating scaled picture failed: %w", err)
	}

	s.ssc, s.out = ssc, out
	s.src = src
	s.width, s.height = w, h
	return nil
}

func (s *scaler) release() {
	if s.out != nil {
		s.out.Free()
		s.out = nil
	}
	if s.ssc != nil {
		s.ssc.Free()
		s.ssc = nil
	}
}

func (s *scaler) Close() error {
	s.release()
	s.in.Free()
	return nil
}

// packAudio joins the planes of frame without padding.
func packAudio(frame *codec.RawFrame) []byte {
	size := frame.SampleFormat.BufferSize(frame.Samples, frame.Channels)
	planeSize := size
	if frame.SampleFormat.IsPlanar() && frame.Channels > 0 {
		planeSize = size / frame.Channels
	}
	out := make([]byte, 0, size)
	for _, p := range frame.Planes {
		out = append(out, p[:min(len(p), planeSize)]...)
	}
	return out
}

// packPicture copies the visible rows of every plane into one buffer with
// no row padding.
func packPicture(frame *codec.RawFrame) []byte {
	pf := frame.PixelFormat
	out := make([]byte, 0, pf.FrameSize(frame.Width, frame.Height))
	for i, plane := range frame.Planes {
		rowBytes, rows := pf.PlaneDims(i, frame.Width, frame.Height)
		stride := rowBytes
		if i < len(frame.Strides) && frame.Strides[i] > 0 {
			stride = frame.Strides[i]
		}
		for r := 0; r < rows && r*stride+rowBytes <= len(plane); r++ {
			out = append(out, plane[r*stride:r*stride+rowBytes]...)
		}
	}
	return out
}

// audioFrame splits a packed sample buffer into the planes of sf.
func audioFrame(buf []byte, sf types.SampleFormat, channels, samples int) (*codec.RawFrame, error) {
	f := &codec.RawFrame{
		Kind:         types.KindAudio,
		SampleFormat: sf,
		Channels:     channels,
		Samples:      samples,
	}
	planes, size := 1, samples*channels*sf.BytesPerSample()
	if sf.IsPlanar() {
		planes, size = channels, samples*sf.BytesPerSample()
	}
	if len(buf) < planes*size {
		return nil, fmt.Errorf("sample buffer holds %d bytes, want %d", len(buf), planes*size)
	}
	for i := 0; i < planes; i++ {
		f.Planes = append(f.Planes, buf[i*size:(i+1)*size])
		f.Strides = append(f.Strides, size)
	}
	return f, nil
}

// pictureFrame splits a packed picture buffer into the planes of pf.
func pictureFrame(buf []byte, pf types.PixelFormat, w, h int) (*codec.RawFrame, error) {
	f := &codec.RawFrame{
		Kind:        types.KindVideo,
		Width:       w,
		Height:      h,
		PixelFormat: pf,
	}
	off := 0
	for i := 0; i < pf.PlaneCount(); i++ {
		rowBytes, rows := pf.PlaneDims(i, w, h)
		n := rowBytes * rows
		if off+n > len(buf) {
			return nil, fmt.Errorf("picture buffer holds %d bytes, want %d", len(buf), off+n)
		}
		f.Planes = append(f.Planes, buf[off:off+n])
		f.Strides = append(f.Strides, rowBytes)
		off += n
	}
	return f, nil
}
