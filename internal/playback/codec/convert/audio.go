// Package convert implements the frame converters used by the pure-Go
// backends: sample format, channel layout and rate for audio, and planar
// layout changes for video.
package convert

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/zsiec/nanoplay/internal/playback/codec"
	"github.com/zsiec/nanoplay/internal/playback/types"
)

// AudioConverter converts audio frames into one fixed target layout. It
// keeps resampler state between frames and is not safe for concurrent use.
type AudioConverter struct {
	dst codec.ConvertParams

	// Linear resampler state
	inRate   int
	last     []float32
	haveLast bool
	position float64
}

// NewAudio creates a converter producing dst.
func NewAudio(dst codec.ConvertParams) (*AudioConverter, error) {
	if dst.Kind != types.KindAudio {
		return nil, fmt.Errorf("audio converter cannot produce %s", dst.Kind)
	}
	if dst.SampleFormat.BytesPerSample() == 0 {
		return nil, fmt.Errorf("unsupported target sample format %s", dst.SampleFormat)
	}
	if dst.SampleRate <= 0 || dst.Channels <= 0 {
		return nil, fmt.Errorf("invalid target %s", dst)
	}
	return &AudioConverter{dst: dst}, nil
}

// Convert returns frame in the target layout. The input is not modified.
func (c *AudioConverter) Convert(frame *codec.RawFrame) (*codec.RawFrame, error) {
	if frame == nil || frame.Kind != types.KindAudio {
		return nil, fmt.Errorf("not an audio frame")
	}
	if frame.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid source sample rate %d", frame.SampleRate)
	}

	chans, err := Deinterleave(frame)
	if err != nil {
		return nil, err
	}
	chans = MapChannels(chans, c.dst.Channels)
	if frame.SampleRate != c.dst.SampleRate {
		chans = c.resample(chans, frame.SampleRate)
	}

	out := Interleave(chans, c.dst.SampleFormat)
	out.SampleRate = c.dst.SampleRate
	out.PTS = frame.PTS
	return out, nil
}

// Close releases nothing; it exists to satisfy codec.Converter.
func (c *AudioConverter) Close() error {
	return nil
}

// resample converts chans from inRate to the target rate by linear
// interpolation, carrying the last input sample and the fractional read
// position over to the next call.
func (c *AudioConverter) resample(chans [][]float32, inRate int) [][]float32 {
	if inRate != c.inRate {
		c.inRate = inRate
		c.haveLast = false
		c.position = 0
	}
	n := len(chans)
	if n == 0 || len(chans[0]) == 0 {
		return chans
	}
	if len(c.last) != n {
		c.last = make([]float32, n)
		c.haveLast = false
	}

	frames := len(chans[0])
	step := float64(inRate) / float64(c.dst.SampleRate)

	// Positions are relative to the first sample of this call; -1 is the
	// last sample of the previous call.
	sampleAt := func(ch, i int) float32 {
		switch {
		case i < 0:
			if c.haveLast {
				return c.last[ch]
			}
			return chans[ch][0]
		case i >= frames:
			return chans[ch][frames-1]
		}
		return chans[ch][i]
	}

	estimate := int(float64(frames)/step) + 2
	out := make([][]float32, n)
	for ch := range out {
		out[ch] = make([]float32, 0, estimate)
	}

	pos := c.position
	for pos < float64(frames-1) {
		i := int(math.Floor(pos))
		frac := float32(pos - float64(i))
		for ch := 0; ch < n; ch++ {
			a, b := sampleAt(ch, i), sampleAt(ch, i+1)
			out[ch] = append(out[ch], a+(b-a)*frac)
		}
		pos += step
	}

	c.position = pos - float64(frames)
	for ch := 0; ch < n; ch++ {
		c.last[ch] = chans[ch][frames-1]
	}
	c.haveLast = true
	return out
}

// Deinterleave reads an audio frame of any supported sample format into one
// float slice per channel, scaled to [-1, 1].
func Deinterleave(frame *codec.RawFrame) ([][]float32, error) {
	sf := frame.SampleFormat
	size := sf.BytesPerSample()
	if size == 0 {
		return nil, fmt.Errorf("unsupported sample format %s", sf)
	}
	if frame.Channels <= 0 || frame.Samples < 0 {
		return nil, fmt.Errorf("invalid audio frame: %d channels, %d samples", frame.Channels, frame.Samples)
	}

	chans := make([][]float32, frame.Channels)
	for ch := range chans {
		chans[ch] = make([]float32, frame.Samples)
	}

	if sf.IsPlanar() {
		if len(frame.Planes) < frame.Channels {
			return nil, fmt.Errorf("planar frame has %d planes for %d channels", len(frame.Planes), frame.Channels)
		}
		for ch := 0; ch < frame.Channels; ch++ {
			plane := frame.Planes[ch]
			if len(plane) < frame.Samples*size {
				return nil, fmt.Errorf("plane %d is short: %d bytes", ch, len(plane))
			}
			for i := 0; i < frame.Samples; i++ {
				chans[ch][i] = readSample(plane[i*size:], sf)
			}
		}
		return chans, nil
	}

	if len(frame.Planes) == 0 || len(frame.Planes[0]) < frame.Samples*frame.Channels*size {
		return nil, fmt.Errorf("interleaved frame is short")
	}
	data := frame.Planes[0]
	for i := 0; i < frame.Samples; i++ {
		for ch := 0; ch < frame.Channels; ch++ {
			chans[ch][i] = readSample(data[(i*frame.Channels+ch)*size:], sf)
		}
	}
	return chans, nil
}

// Interleave writes per-channel float samples into a frame of format sf.
func Interleave(chans [][]float32, sf types.SampleFormat) *codec.RawFrame {
	size := sf.BytesPerSample()
	n := len(chans)
	samples := 0
	if n > 0 {
		samples = len(chans[0])
	}

	out := &codec.RawFrame{
		Kind:         types.KindAudio,
		SampleFormat: sf,
		Channels:     n,
		Samples:      samples,
	}

	if sf.IsPlanar() {
		out.Planes = make([][]byte, n)
		out.Strides = make([]int, n)
		for ch := 0; ch < n; ch++ {
			plane := make([]byte, samples*size)
			for i, v := range chans[ch] {
				writeSample(plane[i*size:], sf, v)
			}
			out.Planes[ch] = plane
			out.Strides[ch] = len(plane)
		}
		return out
	}

	data := make([]byte, samples*n*size)
	for i := 0; i < samples; i++ {
		for ch := 0; ch < n; ch++ {
			writeSample(data[(i*n+ch)*size:], sf, chans[ch][i])
		}
	}
	out.Planes = [][]byte{data}
	out.Strides = []int{len(data)}
	return out
}

// MapChannels adapts the channel count. Mono is duplicated when widening,
// stereo is averaged when narrowing to mono, and other layouts keep the
// leading channels or repeat the last one.
func MapChannels(chans [][]float32, want int) [][]float32 {
	have := len(chans)
	if have == want || have == 0 {
		return chans
	}

	if want == 1 {
		mixed := make([]float32, len(chans[0]))
		for _, c := range chans {
			for i, v := range c {
				mixed[i] += v
			}
		}
		scale := 1 / float32(have)
		for i := range mixed {
			mixed[i] *= scale
		}
		return [][]float32{mixed}
	}

	out := make([][]float32, want)
	for ch := range out {
		src := ch
		if src >= have {
			src = have - 1
		}
		out[ch] = chans[src]
	}
	return out
}

func readSample(b []byte, sf types.SampleFormat) float32 {
	switch sf.Packed() {
	case types.SampleFormatS16:
		return float32(int16(binary.LittleEndian.Uint16(b))) / 32768
	case types.SampleFormatFLT:
		return math.Float32frombits(binary.LittleEndian.Uint32(b))
	}
	return 0
}

func writeSample(b []byte, sf types.SampleFormat, v float32) {
	switch sf.Packed() {
	case types.SampleFormatS16:
		binary.LittleEndian.PutUint16(b, uint16(floatToS16(v)))
	case types.SampleFormatFLT:
		binary.LittleEndian.PutUint32(b, math.Float32bits(v))
	}
}

func floatToS16(v float32) int16 {
	s := v * 32768
	if s > math.MaxInt16 {
		return math.MaxInt16
	}
	if s < math.MinInt16 {
		return math.MinInt16
	}
	return int16(s)
}
