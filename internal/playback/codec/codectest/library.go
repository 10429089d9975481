// Package codectest provides a deterministic in-memory codec library for
// tests of the decode path.
package codectest

import (
	"errors"
	"sync"

	"github.com/zsiec/nanoplay/internal/playback/codec"
	"github.com/zsiec/nanoplay/internal/playback/codec/convert"
	"github.com/zsiec/nanoplay/internal/playback/types"
)

// CorruptMarker as the first payload byte makes the fake decoder fail the
// frame produced from that packet.
const CorruptMarker = 0xEE

// ErrCorrupt is the decode error reported for corrupt packets.
var ErrCorrupt = errors.New("codectest: corrupt packet")

// Config shapes the fake library.
type Config struct {
	// Codecs lists supported codecs; empty means AAC, Opus, H264 and YUV.
	Codecs []types.CodecID
	// SampleFormat and PixelFormat are the decoder output layouts;
	// defaults are FLTP and YUV420P.
	SampleFormat types.SampleFormat
	PixelFormat  types.PixelFormat
	// SamplesPerFrame is the audio frame length; default 1024.
	SamplesPerFrame int
	// InputCapacity bounds packets pending output before SubmitPacket
	// returns ErrWouldBlock. Zero means 8.
	InputCapacity int
	// OutputDelay holds back that many packets before producing frames,
	// like a decoder with reordering delay.
	OutputDelay int

	OpenErr        error
	ConvertErr     error
	ConvertOpenErr error
}

// Library is a fake codec.Library. Every packet decodes to one frame whose
// samples or pixels are filled with the first payload byte.
type Library struct {
	cfg Config

	mu         sync.Mutex
	decoders   []*Decoder
	converters []*Converter
	closed     bool
}

// New creates a fake library.
func New(cfg Config) *Library {
	if len(cfg.Codecs) == 0 {
		cfg.Codecs = []types.CodecID{types.CodecAAC, types.CodecOpus, types.CodecH264, types.CodecYUV}
	}
	if cfg.SampleFormat == types.SampleFormatNone {
		cfg.SampleFormat = types.SampleFormatFLTP
	}
	if cfg.PixelFormat == types.PixelFormatNone {
		cfg.PixelFormat = types.PixelFormatYUV420P
	}
	if cfg.SamplesPerFrame <= 0 {
		cfg.SamplesPerFrame = 1024
	}
	if cfg.InputCapacity <= 0 {
		cfg.InputCapacity = 8
	}
	return &Library{cfg: cfg}
}

func (l *Library) Name() string { return "fake" }

func (l *Library) Supports(id types.CodecID) bool {
	for _, c := range l.cfg.Codecs {
		if c == id {
			return true
		}
	}
	return false
}

func (l *Library) Capabilities(id types.CodecID) codec.Capabilities {
	return codec.Capabilities{
		SampleFormat:   l.cfg.SampleFormat,
		PixelFormat:    l.cfg.PixelFormat,
		NeedsExtraData: id == types.CodecAAC || id == types.CodecH264,
	}
}

func (l *Library) OpenDecoder(id types.CodecID, params codec.DecoderParams) (codec.Decoder, error) {
	if l.cfg.OpenErr != nil {
		return nil, l.cfg.OpenErr
	}
	d := &Decoder{
		cfg:       l.cfg,
		params:    params,
		extraData: append([]byte(nil), params.ExtraData...),
	}
	l.mu.Lock()
	l.decoders = append(l.decoders, d)
	l.mu.Unlock()
	return d, nil
}

func (l *Library) OpenConverter(src, dst codec.ConvertParams) (codec.Converter, error) {
	if l.cfg.ConvertOpenErr != nil {
		return nil, l.cfg.ConvertOpenErr
	}
	inner, err := convert.New(src, dst)
	if err != nil {
		return nil, err
	}
	c := &Converter{inner: inner, failWith: l.cfg.ConvertErr, Src: src, Dst: dst}
	l.mu.Lock()
	l.converters = append(l.converters, c)
	l.mu.Unlock()
	return c, nil
}

func (l *Library) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// Closed reports whether Close was called.
func (l *Library) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Decoders returns every decoder opened so far.
func (l *Library) Decoders() []*Decoder {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Decoder(nil), l.decoders...)
}

// Converters returns every converter opened so far.
func (l *Library) Converters() []*Converter {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Converter(nil), l.converters...)
}

// Decoder is the fake decoder handle.
type Decoder struct {
	cfg    Config
	params codec.DecoderParams

	mu        sync.Mutex
	pending   [][]byte
	extraData []byte
	submitted int
	bare      int
	flushes   int
	closed    bool
}

func (d *Decoder) SetExtraData(data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.extraData = append([]byte(nil), data...)
	return nil
}

func (d *Decoder) SubmitPacket(data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errors.New("codectest: decoder closed")
	}
	if len(d.pending) >= d.cfg.InputCapacity {
		return codec.ErrWouldBlock
	}
	d.pending = append(d.pending, append([]byte(nil), data...))
	d.submitted++
	if len(d.extraData) == 0 {
		d.bare++
	}
	return nil
}

func (d *Decoder) ReceiveFrame() (*codec.RawFrame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.pending) <= d.cfg.OutputDelay {
		return nil, codec.ErrNotReady
	}
	pkt := d.pending[0]
	d.pending = d.pending[1:]

	if len(pkt) > 0 && pkt[0] == CorruptMarker {
		return nil, ErrCorrupt
	}
	var fill byte
	if len(pkt) > 0 {
		fill = pkt[0]
	}
	if d.params.Kind == types.KindVideo {
		return d.picture(fill), nil
	}
	return d.audio(fill), nil
}

func (d *Decoder) audio(fill byte) *codec.RawFrame {
	sf := d.cfg.SampleFormat
	n := d.cfg.SamplesPerFrame
	ch := d.params.Channels
	f := &codec.RawFrame{
		Kind:         types.KindAudio,
		SampleFormat: sf,
		SampleRate:   d.params.SampleRate,
		Channels:     ch,
		Samples:      n,
	}
	planes, size := 1, n*ch*sf.BytesPerSample()
	if sf.IsPlanar() {
		planes, size = ch, n*sf.BytesPerSample()
	}
	for i := 0; i < planes; i++ {
		f.Planes = append(f.Planes, filled(size, fill))
		f.Strides = append(f.Strides, size)
	}
	return f
}

func (d *Decoder) picture(fill byte) *codec.RawFrame {
	pf := d.cfg.PixelFormat
	w, h := d.params.Width, d.params.Height
	f := &codec.RawFrame{
		Kind:        types.KindVideo,
		Width:       w,
		Height:      h,
		PixelFormat: pf,
	}
	for i := 0; i < pf.PlaneCount(); i++ {
		rowBytes, rows := pf.PlaneDims(i, w, h)
		f.Planes = append(f.Planes, filled(rowBytes*rows, fill))
		f.Strides = append(f.Strides, rowBytes)
	}
	return f
}

func (d *Decoder) Flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = nil
	d.flushes++
}

func (d *Decoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.pending = nil
	return nil
}

// ExtraData returns the last extradata the decoder received.
func (d *Decoder) ExtraData() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.extraData
}

// Submitted returns how many packets were accepted.
func (d *Decoder) Submitted() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.submitted
}

// SubmittedWithoutExtraData returns how many packets were accepted while
// the decoder had no extradata.
func (d *Decoder) SubmittedWithoutExtraData() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bare
}

// Flushes returns how many times Flush was called.
func (d *Decoder) Flushes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.flushes
}

// Closed reports whether Close was called.
func (d *Decoder) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Converter wraps a real pure-Go converter and counts calls.
type Converter struct {
	Src, Dst codec.ConvertParams

	inner    codec.Converter
	failWith error

	mu     sync.Mutex
	calls  int
	closed bool
}

func (c *Converter) Convert(frame *codec.RawFrame) (*codec.RawFrame, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	if c.failWith != nil {
		return nil, c.failWith
	}
	return c.inner.Convert(frame)
}

func (c *Converter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return c.inner.Close()
}

// Calls returns how many frames were converted.
func (c *Converter) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Closed reports whether Close was called.
func (c *Converter) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func filled(n int, b byte) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = b
	}
	return p
}
