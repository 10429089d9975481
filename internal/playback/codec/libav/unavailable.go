//go:build !libav

// Package libav is the FFmpeg codec backend built on go-astiav. It needs
// the libav build tag and the FFmpeg development libraries.
package libav

import (
	"errors"

	"github.com/zsiec/nanoplay/internal/logger"
	"github.com/zsiec/nanoplay/internal/playback/codec"
)

// BackendName is the configuration value selecting this backend.
const BackendName = "libav"

// Available reports whether this binary was built with the libav backend.
const Available = false

// ErrUnavailable is returned by New in builds without the libav tag.
var ErrUnavailable = errors.New("libav backend not compiled in: rebuild with -tags libav or set playback.decoder.backend to native")

// New fails in builds without the libav tag.
func New(logger.Logger, string) (codec.Library, error) {
	return nil, ErrUnavailable
}
