//go:build libav

// Package libav is the FFmpeg codec backend built on go-astiav. It needs
// the libav build tag and the FFmpeg development libraries.
package libav

import (
	"fmt"
	"strings"
	"sync"

	"github.com/asticode/go-astiav"
	"github.com/sirupsen/logrus"

	"github.com/zsiec/nanoplay/internal/logger"
	"github.com/zsiec/nanoplay/internal/playback/codec"
	"github.com/zsiec/nanoplay/internal/playback/types"
)

// BackendName is the configuration value selecting this backend.
const BackendName = "libav"

// Available reports whether this binary was built with the libav backend.
const Available = true

var codecIDs = map[types.CodecID]astiav.CodecID{
	types.CodecAAC:  astiav.CodecIDAac,
	types.CodecOpus: astiav.CodecIDOpus,
	types.CodecH264: astiav.CodecIDH264,
}

var capabilities = map[types.CodecID]codec.Capabilities{
	types.CodecAAC:  {SampleFormat: types.SampleFormatFLTP, NeedsExtraData: true},
	types.CodecOpus: {SampleFormat: types.SampleFormatFLTP},
	types.CodecH264: {PixelFormat: types.PixelFormatYUV420P, NeedsExtraData: true},
}

var logLevels = map[string]astiav.LogLevel{
	"quiet": astiav.LogLevelQuiet,
	"panic": astiav.LogLevelPanic,
	"fatal": astiav.LogLevelFatal,
	"error": astiav.LogLevelError,
	"warn":  astiav.LogLevelWarning,
	"info":  astiav.LogLevelInfo,
	"debug": astiav.LogLevelDebug,
	"trace": astiav.LogLevelVerbose,
}

// Library is the FFmpeg codec.Library.
type Library struct {
	logger logger.Logger

	mu     sync.Mutex
	open   int
	closed bool
}

// New creates the libav backend and routes FFmpeg logging at logLevel and
// above into log.
func New(log logger.Logger, logLevel string) (codec.Library, error) {
	if log == nil {
		log = logger.NewNullLogger()
	}
	level, ok := logLevels[strings.ToLower(logLevel)]
	if !ok {
		return nil, fmt.Errorf("unknown libav log level %q", logLevel)
	}

	l := &Library{logger: log.WithField("backend", BackendName)}
	astiav.SetLogLevel(level)
	astiav.SetLogCallback(logCallback(l.logger))
	return l, nil
}

func logCallback(log logger.Logger) astiav.LogCallback {
	var mu sync.Mutex
	return func(c astiav.Classer, level astiav.LogLevel, _, msg string) {
		msg = strings.TrimSpace(msg)
		if msg == "" {
			return
		}
		entry := log
		if c != nil {
			if cl := c.Class(); cl != nil {
				entry = entry.WithField("av_class", cl.Name())
			}
		}
		mu.Lock()
		defer mu.Unlock()
		entry.Log(logrusLevel(level), msg)
	}
}

func logrusLevel(level astiav.LogLevel) logrus.Level {
	switch level {
	case astiav.LogLevelPanic, astiav.LogLevelFatal, astiav.LogLevelError:
		return logrus.ErrorLevel
	case astiav.LogLevelWarning:
		return logrus.WarnLevel
	case astiav.LogLevelInfo:
		return logrus.InfoLevel
	case astiav.LogLevelVerbose:
		return logrus.DebugLevel
	}
	return logrus.TraceLevel
}

func (l *Library) Name() string { return BackendName }

func (l *Library) Supports(id types.CodecID) bool {
	avID, ok := codecIDs[id]
	return ok && astiav.FindDecoder(avID) != nil
}

func (l *Library) Capabilities(id types.CodecID) codec.Capabilities {
	return capabilities[id]
}

func (l *Library) OpenDecoder(id types.CodecID, params codec.DecoderParams) (codec.Decoder, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, fmt.Errorf("libav library closed")
	}

	avID, ok := codecIDs[id]
	if !ok {
		return nil, fmt.Errorf("libav backend has no mapping for %s", id)
	}
	d, err := newDecoder(avID, params)
	if err != nil {
		return nil, err
	}
	l.open++
	d.onClose = l.decoderClosed
	return d, nil
}

func (l *Library) decoderClosed() {
	l.mu.Lock()
	l.open--
	l.mu.Unlock()
}

// OpenConverter returns a libswresample converter for audio and a
// libswscale converter for video. Both follow the layout of each frame
// they are given; src only has to match dst's kind.
func (l *Library) OpenConverter(src, dst codec.ConvertParams) (codec.Converter, error) {
	if src.Kind != dst.Kind {
		return nil, fmt.Errorf("cannot convert %s to %s", src.Kind, dst.Kind)
	}
	if dst.Kind == types.KindVideo {
		return newScaler(dst)
	}
	return newResampler(dst)
}

// Close detaches the FFmpeg log callback. Decoders must be closed first.
func (l *Library) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	astiav.ResetLogCallback()
	if l.open > 0 {
		return fmt.Errorf("libav library closed with %d decoders open", l.open)
	}
	return nil
}
