// Package native is the pure-Go codec backend. It decodes Opus audio with
// pion/opus and passes raw YUV pictures through; compressed video and AAC
// need the libav backend.
package native

import (
	"fmt"
	"sync"

	"github.com/zsiec/nanoplay/internal/logger"
	"github.com/zsiec/nanoplay/internal/playback/codec"
	"github.com/zsiec/nanoplay/internal/playback/codec/convert"
	"github.com/zsiec/nanoplay/internal/playback/types"
)

// BackendName is the configuration value selecting this backend.
const BackendName = "native"

const defaultInputCapacity = 16

var capabilities = map[types.CodecID]codec.Capabilities{
	types.CodecOpus: {SampleFormat: types.SampleFormatS16},
	types.CodecYUV:  {PixelFormat: types.PixelFormatYUV420P},
}

// Library is the pure-Go codec.Library.
type Library struct {
	logger logger.Logger

	mu     sync.Mutex
	open   int
	closed bool
}

// New creates the native backend.
func New(log logger.Logger) *Library {
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &Library{logger: log.WithField("backend", BackendName)}
}

func (l *Library) Name() string { return BackendName }

func (l *Library) Supports(id types.CodecID) bool {
	_, ok := capabilities[id]
	return ok
}

func (l *Library) Capabilities(id types.CodecID) codec.Capabilities {
	return capabilities[id]
}

func (l *Library) OpenDecoder(id types.CodecID, params codec.DecoderParams) (codec.Decoder, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, fmt.Errorf("native library closed")
	}

	var dec codec.Decoder
	switch id {
	case types.CodecOpus:
		dec = newOpusDecoder(defaultInputCapacity, l.logger.WithField("codec", id.String()))
	case types.CodecYUV:
		if params.Width <= 0 || params.Height <= 0 {
			return nil, fmt.Errorf("raw video needs dimensions, got %dx%d", params.Width, params.Height)
		}
		dec = newYUVDecoder(params.Width, params.Height, defaultInputCapacity)
	default:
		return nil, fmt.Errorf("native backend cannot decode %s", id)
	}
	if len(params.ExtraData) > 0 {
		if err := dec.SetExtraData(params.ExtraData); err != nil {
			return nil, err
		}
	}

	l.open++
	return &tracked{Decoder: dec, lib: l}, nil
}

func (l *Library) OpenConverter(src, dst codec.ConvertParams) (codec.Converter, error) {
	return convert.New(src, dst)
}

// Close marks the library closed. Decoders still open are reported.
func (l *Library) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if l.open > 0 {
		l.logger.WithField("open_decoders", l.open).Warn("Library closed with decoders still open")
	}
	return nil
}

// OpenDecoders returns how many decoders have not been closed yet.
func (l *Library) OpenDecoders() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.open
}

// tracked counts open decoders so teardown order problems show up in logs.
type tracked struct {
	codec.Decoder
	lib  *Library
	once sync.Once
}

func (t *tracked) Close() error {
	err := t.Decoder.Close()
	t.once.Do(func() {
		t.lib.mu.Lock()
		t.lib.open--
		t.lib.mu.Unlock()
	})
	return err
}
