package native

import (
	"fmt"

	"github.com/zsiec/nanoplay/internal/playback/codec"
	"github.com/zsiec/nanoplay/internal/playback/types"
)

// yuvDecoder splits raw I420 pictures into planes.
type yuvDecoder struct {
	width, height int
	capacity      int
	pending       [][]byte
}

func newYUVDecoder(width, height, capacity int) *yuvDecoder {
	return &yuvDecoder{width: width, height: height, capacity: capacity}
}

func (d *yuvDecoder) SetExtraData([]byte) error { return nil }

func (d *yuvDecoder) SubmitPacket(data []byte) error {
	if len(d.pending) >= d.capacity {
		return codec.ErrWouldBlock
	}
	d.pending = append(d.pending, data)
	return nil
}

func (d *yuvDecoder) ReceiveFrame() (*codec.RawFrame, error) {
	if len(d.pending) == 0 {
		return nil, codec.ErrNotReady
	}
	pkt := d.pending[0]
	d.pending = d.pending[1:]

	pf := types.PixelFormatYUV420P
	want := pf.FrameSize(d.width, d.height)
	if len(pkt) != want {
		return nil, fmt.Errorf("raw picture is %d bytes, %dx%d needs %d", len(pkt), d.width, d.height, want)
	}

	f := &codec.RawFrame{
		Kind:        types.KindVideo,
		Width:       d.width,
		Height:      d.height,
		PixelFormat: pf,
	}
	off := 0
	for i := 0; i < pf.PlaneCount(); i++ {
		rowBytes, rows := pf.PlaneDims(i, d.width, d.height)
		n := rowBytes * rows
		f.Planes = append(f.Planes, pkt[off:off+n])
		f.Strides = append(f.Strides, rowBytes)
		off += n
	}
	return f, nil
}

func (d *yuvDecoder) Flush() { d.pending = nil }

func (d *yuvDecoder) Close() error {
	d.pending = nil
	return nil
}
