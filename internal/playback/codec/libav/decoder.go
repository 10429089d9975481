//go:build libav

package libav

import (
	"errors"
	"fmt"

	"github.com/asticode/go-astiav"

	"github.com/zsiec/nanoplay/internal/playback/codec"
	"github.com/zsiec/nanoplay/internal/playback/types"
)

var sampleFormats = map[astiav.SampleFormat]types.SampleFormat{
	astiav.SampleFormatS16:  types.SampleFormatS16,
	astiav.SampleFormatS16P: types.SampleFormatS16P,
	astiav.SampleFormatFlt:  types.SampleFormatFLT,
	astiav.SampleFormatFltp: types.SampleFormatFLTP,
}

var pixelFormats = map[astiav.PixelFormat]types.PixelFormat{
	astiav.PixelFormatYuv420P:  types.PixelFormatYUV420P,
	astiav.PixelFormatYuvj420P: types.PixelFormatYUV420P,
	astiav.PixelFormatNv12:     types.PixelFormatNV12,
	astiav.PixelFormatRgb24:    types.PixelFormatRGB24,
}

// decoder wraps an astiav codec context. Extradata changes and flushes
// reopen the context, which resets decoder state the same way on every
// FFmpeg version.
type decoder struct {
	codec  *astiav.Codec
	params codec.DecoderParams

	cc     *astiav.CodecContext
	packet *astiav.Packet
	frame  *astiav.Frame

	onClose func()
	closed  bool
}

func newDecoder(id astiav.CodecID, params codec.DecoderParams) (*decoder, error) {
	c := astiav.FindDecoder(id)
	if c == nil {
		return nil, fmt.Errorf("no FFmpeg decoder for %s", id)
	}
	d := &decoder{
		codec:  c,
		params: params,
		packet: astiav.AllocPacket(),
		frame:  astiav.AllocFrame(),
	}
	if err := d.open(); err != nil {
		d.packet.Free()
		d.frame.Free()
		return nil, err
	}
	return d, nil
}

func (d *decoder) open() error {
	cc := astiav.AllocCodecContext(d.codec)
	if cc == nil {
		return errors.New("unable to allocate codec context")
	}

	switch d.params.Kind {
	case types.KindAudio:
		cc.SetSampleRate(d.params.SampleRate)
		if d.params.Channels == 1 {
			cc.SetChannelLayout(astiav.ChannelLayoutMono)
		} else {
			cc.SetChannelLayout(astiav.ChannelLayoutStereo)
		}
	case types.KindVideo:
		cc.SetWidth(d.params.Width)
		cc.SetHeight(d.params.Height)
	}
	if len(d.params.ExtraData) > 0 {
		if err := cc.SetExtraData(d.params.ExtraData); err != nil {
			cc.Free()
			return fmt.Errorf("setting extradata failed: %w", err)
		}
	}

	if err := cc.Open(d.codec, nil); err != nil {
		cc.Free()
		return fmt.Errorf("opening codec context failed: %w", err)
	}

	if d.cc != nil {
		d.cc.Free()
	}
	d.cc = cc
	return nil
}

func (d *decoder) SetExtraData(data []byte) error {
	d.params.ExtraData = append([]byte(nil), data...)
	return d.open()
}

func (d *decoder) SubmitPacket(data []byte) error {
	if d.closed {
		return errors.New("decoder closed")
	}
	defer d.packet.Unref()

	if err := d.packet.FromData(data); err != nil {
		return fmt.Errorf("packet allocation failed: %w", err)
	}
	if err := d.cc.SendPacket(d.packet); err != nil {
		if errors.Is(err, astiav.ErrEagain) {
			return codec.ErrWouldBlock
		}
		return err
	}
	return nil
}

func (d *decoder) ReceiveFrame() (*codec.RawFrame, error) {
	if d.closed {
		return nil, codec.ErrNotReady
	}
	defer d.frame.Unref()

	if err := d.cc.ReceiveFrame(d.frame); err != nil {
		if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
			return nil, codec.ErrNotReady
		}
		return nil, err
	}

	if d.params.Kind == types.KindVideo {
		return d.picture()
	}
	return d.audio()
}

func (d *decoder) audio() (*codec.RawFrame, error) {
	sf, ok := sampleFormats[d.frame.SampleFormat()]
	if !ok {
		return nil, fmt.Errorf("unsupported sample format %s", d.frame.SampleFormat())
	}
	buf, err := d.frame.Data().Bytes(1)
	if err != nil {
		return nil, fmt.Errorf("reading samples failed: %w", err)
	}
	f, err := audioFrame(buf, sf, d.frame.ChannelLayout().Channels(), d.frame.NbSamples())
	if err != nil {
		return nil, err
	}
	f.SampleRate = d.frame.SampleRate()
	f.PTS = d.frame.Pts()
	return f, nil
}

func (d *decoder) picture() (*codec.RawFrame, error) {
	pf, ok := pixelFormats[d.frame.PixelFormat()]
	if !ok {
		return nil, fmt.Errorf("unsupported pixel format %s", d.frame.PixelFormat())
	}
	buf, err := d.frame.Data().Bytes(1)
	if err != nil {
		return nil, fmt.Errorf("reading picture failed: %w", err)
	}
	f, err := pictureFrame(buf, pf, d.frame.Width(), d.frame.Height())
	if err != nil {
		return nil, err
	}
	f.PTS = d.frame.Pts()
	return f, nil
}

// Flush discards buffered packets and frames by reopening the context.
func (d *decoder) Flush() {
	if d.closed {
		return
	}
	// A failed reopen keeps the previous context.
	_ = d.open()
}

func (d *decoder) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	d.cc.Free()
	d.packet.Free()
	d.frame.Free()
	if d.onClose != nil {
		d.onClose()
	}
	return nil
}
