package health

import (
	"context"
	"fmt"
	"strings"

	"github.com/zsiec/nanoplay/internal/playback/types"
)

// CodecLibrary is the part of a codec backend the checker probes.
type CodecLibrary interface {
	Name() string
	Supports(id types.CodecID) bool
}

// CodecChecker verifies the codec backend can decode every configured
// stream codec.
type CodecChecker struct {
	lib      CodecLibrary
	required []types.CodecID
}

// NewCodecChecker creates a checker for lib and the codecs in use.
func NewCodecChecker(lib CodecLibrary, required ...types.CodecID) *CodecChecker {
	return &CodecChecker{lib: lib, required: required}
}

func (c *CodecChecker) Name() string {
	return "codec_library"
}

func (c *CodecChecker) Check(ctx context.Context) error {
	if c.lib == nil {
		return fmt.Errorf("no codec library loaded")
	}

	var missing []string
	for _, id := range c.required {
		if !c.lib.Supports(id) {
			missing = append(missing, id.String())
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s backend cannot decode: %s", c.lib.Name(), strings.Join(missing, ", "))
	}
	return nil
}

// Details reports the backend and the codecs it was asked for.
func (c *CodecChecker) Details() map[string]interface{} {
	names := make([]string, len(c.required))
	for i, id := range c.required {
		names[i] = id.String()
	}
	details := map[string]interface{}{"codecs": names}
	if c.lib != nil {
		details["backend"] = c.lib.Name()
	}
	return details
}
