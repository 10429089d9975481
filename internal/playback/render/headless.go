package render

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"sync"

	"github.com/zsiec/nanoplay/internal/playback/codec"
	"github.com/zsiec/nanoplay/internal/playback/codec/convert"
	"github.com/zsiec/nanoplay/internal/playback/types"
)

// ErrNoFrame is returned by Snapshot before the first frame was presented.
var ErrNoFrame = errors.New("no frame presented yet")

// HeadlessStats counts what reached the headless sink.
type HeadlessStats struct {
	AudioSpec   *AudioSpec `json:"audio_spec,omitempty"`
	VideoSpec   *VideoSpec `json:"video_spec,omitempty"`
	AudioBytes  uint64     `json:"audio_bytes"`
	AudioWrites uint64     `json:"audio_writes"`
	Frames      uint64     `json:"frames"`
	Presents    uint64     `json:"presents"`
}

// Headless is an AudioOutput and VideoSurface without a device. It keeps
// the last uploaded frame so it can be served as a snapshot.
type Headless struct {
	mu        sync.Mutex
	audioSpec *AudioSpec
	videoSpec *VideoSpec
	last      *types.YUVFrame
	stats     HeadlessStats
}

// NewHeadless creates a headless sink.
func NewHeadless() *Headless {
	return &Headless{}
}

func (h *Headless) OpenAudio(spec AudioSpec) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.audioSpec != nil {
		return fmt.Errorf("audio output already open")
	}
	h.audioSpec = &spec
	return nil
}

func (h *Headless) QueueSamples(data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.audioSpec == nil {
		return fmt.Errorf("audio output not open")
	}
	h.stats.AudioBytes += uint64(len(data))
	h.stats.AudioWrites++
	return nil
}

func (h *Headless) CloseAudio() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.audioSpec = nil
	return nil
}

func (h *Headless) OpenVideo(spec VideoSpec) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.videoSpec != nil {
		return fmt.Errorf("video surface already open")
	}
	h.videoSpec = &spec
	return nil
}

// UpdatePlanarImage copies the frame; the caller may reuse its planes.
func (h *Headless) UpdatePlanarImage(f types.YUVFrame) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.videoSpec == nil {
		return fmt.Errorf("video surface not open")
	}
	for i := range f.Planes {
		f.Planes[i] = append([]byte(nil), f.Planes[i]...)
	}
	h.last = &f
	h.stats.Frames++
	return nil
}

func (h *Headless) Present() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.videoSpec == nil {
		return fmt.Errorf("video surface not open")
	}
	h.stats.Presents++
	return nil
}

func (h *Headless) CloseVideo() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.videoSpec = nil
	return nil
}

// Stats returns counters and the currently open specs.
func (h *Headless) Stats() HeadlessStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.stats
	if h.audioSpec != nil {
		spec := *h.audioSpec
		s.AudioSpec = &spec
	}
	if h.videoSpec != nil {
		spec := *h.videoSpec
		s.VideoSpec = &spec
	}
	return s
}

// LastFrame returns the most recent frame.
func (h *Headless) LastFrame() (types.YUVFrame, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.last == nil {
		return types.YUVFrame{}, false
	}
	return *h.last, true
}

// Snapshot returns the last frame as an image.
func (h *Headless) Snapshot() (image.Image, error) {
	f, ok := h.LastFrame()
	if !ok {
		return nil, ErrNoFrame
	}
	return FrameImage(f)
}

// SnapshotPNG encodes the last frame as PNG.
func (h *Headless) SnapshotPNG() ([]byte, error) {
	img, err := h.Snapshot()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// FrameImage wraps or converts a frame into an image.Image.
func FrameImage(f types.YUVFrame) (image.Image, error) {
	switch f.PixelFormat {
	case types.PixelFormatYUV420P:
		return f.Image(), nil
	case types.PixelFormatRGB24:
		img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
		for y := 0; y < f.Height; y++ {
			row := f.Planes[0][y*f.Strides[0]:]
			for x := 0; x < f.Width; x++ {
				o := img.PixOffset(x, y)
				copy(img.Pix[o:o+3], row[x*3:x*3+3])
				img.Pix[o+3] = 0xFF
			}
		}
		return img, nil
	case types.PixelFormatNV12:
		raw := &codec.RawFrame{
			Kind:        types.KindVideo,
			Width:       f.Width,
			Height:      f.Height,
			PixelFormat: f.PixelFormat,
			Planes:      [][]byte{f.Planes[0], f.Planes[1]},
			Strides:     []int{f.Strides[0], f.Strides[1]},
		}
		conv, err := convert.NewVideo(codec.ConvertParams{Kind: types.KindVideo, PixelFormat: types.PixelFormatYUV420P})
		if err != nil {
			return nil, err
		}
		out, err := conv.Convert(raw)
		if err != nil {
			return nil, err
		}
		return types.YUVFrame{
			Planes:      [3][]byte{out.Planes[0], out.Planes[1], out.Planes[2]},
			Strides:     [3]int{out.Strides[0], out.Strides[1], out.Strides[2]},
			Width:       out.Width,
			Height:      out.Height,
			PixelFormat: types.PixelFormatYUV420P,
		}.Image(), nil
	}
	return nil, fmt.Errorf("cannot snapshot %s frames", f.PixelFormat)
}
