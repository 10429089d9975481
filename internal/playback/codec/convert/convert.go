package convert

import (
	"fmt"

	"github.com/zsiec/nanoplay/internal/playback/codec"
	"github.com/zsiec/nanoplay/internal/playback/types"
)

// New returns a converter from src to dst. The source side is only used to
// check the request; frames are always converted from their own layout.
func New(src, dst codec.ConvertParams) (codec.Converter, error) {
	if src.Kind != dst.Kind {
		return nil, fmt.Errorf("cannot convert %s to %s", src.Kind, dst.Kind)
	}
	if dst.Kind == types.KindVideo {
		return NewVideo(dst)
	}
	return NewAudio(dst)
}
