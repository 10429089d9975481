package convert

import (
	"fmt"

	"github.com/zsiec/nanoplay/internal/playback/codec"
	"github.com/zsiec/nanoplay/internal/playback/types"
)

// VideoConverter changes the pixel layout of pictures. It does not scale.
type VideoConverter struct {
	dst codec.ConvertParams
}

// NewVideo creates a converter producing dst.
func NewVideo(dst codec.ConvertParams) (*VideoConverter, error) {
	if dst.Kind != types.KindVideo {
		return nil, fmt.Errorf("video converter cannot produce %s", dst.Kind)
	}
	if dst.PixelFormat.PlaneCount() == 0 {
		return nil, fmt.Errorf("unsupported target pixel format %s", dst.PixelFormat)
	}
	return &VideoConverter{dst: dst}, nil
}

// Convert returns frame in the target pixel format with tightly packed
// planes.
func (c *VideoConverter) Convert(frame *codec.RawFrame) (*codec.RawFrame, error) {
	if frame == nil || frame.Kind != types.KindVideo {
		return nil, fmt.Errorf("not a video frame")
	}
	if c.dst.Width > 0 && c.dst.Height > 0 && (frame.Width != c.dst.Width || frame.Height != c.dst.Height) {
		return nil, fmt.Errorf("scaling %dx%d to %dx%d is not supported", frame.Width, frame.Height, c.dst.Width, c.dst.Height)
	}

	yuv, err := toI420(frame)
	if err != nil {
		return nil, err
	}

	var out *codec.RawFrame
	switch c.dst.PixelFormat {
	case types.PixelFormatYUV420P:
		out = yuv
	case types.PixelFormatNV12:
		out = i420ToNV12(yuv)
	case types.PixelFormatRGB24:
		out = i420ToRGB24(yuv)
	default:
		return nil, fmt.Errorf("unsupported target pixel format %s", c.dst.PixelFormat)
	}
	out.PTS = frame.PTS
	return out, nil
}

// Close releases nothing; it exists to satisfy codec.Converter.
func (c *VideoConverter) Close() error {
	return nil
}

// PackPlanes copies the planes of frame into tightly packed buffers,
// dropping any row padding.
func PackPlanes(frame *codec.RawFrame) ([][]byte, error) {
	n := frame.PixelFormat.PlaneCount()
	if n == 0 {
		return nil, fmt.Errorf("unsupported pixel format %s", frame.PixelFormat)
	}
	if len(frame.Planes) < n {
		return nil, fmt.Errorf("picture has %d planes, want %d", len(frame.Planes), n)
	}

	out := make([][]byte, n)
	for i := 0; i < n; i++ {
		rowBytes, rows := frame.PixelFormat.PlaneDims(i, frame.Width, frame.Height)
		stride := rowBytes
		if i < len(frame.Strides) && frame.Strides[i] > 0 {
			stride = frame.Strides[i]
		}
		if stride < rowBytes || len(frame.Planes[i]) < stride*(rows-1)+rowBytes {
			return nil, fmt.Errorf("plane %d is short", i)
		}

		if stride == rowBytes {
			out[i] = append([]byte(nil), frame.Planes[i][:rowBytes*rows]...)
			continue
		}
		packed := make([]byte, rowBytes*rows)
		for r := 0; r < rows; r++ {
			copy(packed[r*rowBytes:(r+1)*rowBytes], frame.Planes[i][r*stride:])
		}
		out[i] = packed
	}
	return out, nil
}

func newPicture(pf types.PixelFormat, w, h int, planes [][]byte) *codec.RawFrame {
	strides := make([]int, len(planes))
	for i := range planes {
		strides[i], _ = pf.PlaneDims(i, w, h)
	}
	return &codec.RawFrame{
		Kind:        types.KindVideo,
		Planes:      planes,
		Strides:     strides,
		Width:       w,
		Height:      h,
		PixelFormat: pf,
	}
}

func toI420(frame *codec.RawFrame) (*codec.RawFrame, error) {
	planes, err := PackPlanes(frame)
	if err != nil {
		return nil, err
	}
	w, h := frame.Width, frame.Height

	switch frame.PixelFormat {
	case types.PixelFormatYUV420P:
		return newPicture(types.PixelFormatYUV420P, w, h, planes), nil
	case types.PixelFormatNV12:
		uv := planes[1]
		u := make([]byte, len(uv)/2)
		v := make([]byte, len(uv)/2)
		for i := range u {
			u[i] = uv[2*i]
			v[i] = uv[2*i+1]
		}
		return newPicture(types.PixelFormatYUV420P, w, h, [][]byte{planes[0], u, v}), nil
	}
	return nil, fmt.Errorf("cannot convert from %s", frame.PixelFormat)
}

func i420ToNV12(f *codec.RawFrame) *codec.RawFrame {
	u, v := f.Planes[1], f.Planes[2]
	uv := make([]byte, len(u)*2)
	for i := range u {
		uv[2*i] = u[i]
		uv[2*i+1] = v[i]
	}
	return newPicture(types.PixelFormatNV12, f.Width, f.Height, [][]byte{f.Planes[0], uv})
}

// i420ToRGB24 uses BT.601 limited-range coefficients in 16.16 fixed point.
func i420ToRGB24(f *codec.RawFrame) *codec.RawFrame {
	w, h := f.Width, f.Height
	cw := (w + 1) / 2
	rgb := make([]byte, w*h*3)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			yy := int(f.Planes[0][y*w+x]) - 16
			ci := (y/2)*cw + x/2
			u := int(f.Planes[1][ci]) - 128
			v := int(f.Planes[2][ci]) - 128

			c := 76309 * yy
			o := (y*w + x) * 3
			rgb[o] = clamp8((c + 104597*v + 32768) >> 16)
			rgb[o+1] = clamp8((c - 25675*u - 53279*v + 32768) >> 16)
			rgb[o+2] = clamp8((c + 132201*u + 32768) >> 16)
		}
	}
	return newPicture(types.PixelFormatRGB24, w, h, [][]byte{rgb})
}

func clamp8(v int) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}
