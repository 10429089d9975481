package native

import (
	"errors"
	"fmt"

	"github.com/pion/opus"

	"github.com/zsiec/nanoplay/internal/logger"
	"github.com/zsiec/nanoplay/internal/playback/codec"
	"github.com/zsiec/nanoplay/internal/playback/types"
)

// maxOpusSamples is 120ms of stereo audio at 48kHz, the longest packet
// Opus allows.
const maxOpusSamples = 5760 * 2

// Output rate for each Opus audio bandwidth.
var bandwidthRates = map[opus.Bandwidth]int{
	opus.BandwidthNarrowband:    8000,
	opus.BandwidthMediumband:    12000,
	opus.BandwidthWideband:      16000,
	opus.BandwidthSuperwideband: 24000,
	opus.BandwidthFullband:      48000,
}

// Frame durations in microseconds by TOC configuration, RFC 6716 3.1.
var (
	silkDurations   = [4]int{10000, 20000, 40000, 60000}
	hybridDurations = [2]int{10000, 20000}
	celtDurations   = [4]int{2500, 5000, 10000, 20000}
)

var errEmptyPacket = errors.New("empty opus packet")

// PacketDuration returns the audio duration of an Opus packet in
// microseconds, read from its TOC byte and frame count.
func PacketDuration(packet []byte) (int, error) {
	if len(packet) == 0 {
		return 0, errEmptyPacket
	}
	toc := packet[0]
	config := int(toc >> 3)

	var frame int
	switch {
	case config < 12:
		frame = silkDurations[config%4]
	case config < 16:
		frame = hybridDurations[config%2]
	default:
		frame = celtDurations[config%4]
	}

	frames := 1
	switch toc & 0x03 {
	case 1, 2:
		frames = 2
	case 3:
		if len(packet) < 2 {
			return 0, fmt.Errorf("opus packet with frame count code is truncated")
		}
		frames = int(packet[1] & 0x3F)
		if frames == 0 {
			return 0, fmt.Errorf("opus packet declares zero frames")
		}
	}

	d := frame * frames
	if d > 120000 {
		return 0, fmt.Errorf("opus packet lasts %dus, limit is 120ms", d)
	}
	return d, nil
}

type opusDecoder struct {
	dec       opus.Decoder
	pending   [][]byte
	capacity  int
	extraData []byte
	out       []byte

	lastBandwidth  opus.Bandwidth
	bandwidthKnown bool
	logger         logger.Logger
}

func newOpusDecoder(capacity int, log logger.Logger) *opusDecoder {
	return &opusDecoder{
		dec:      opus.NewDecoder(),
		capacity: capacity,
		out:      make([]byte, maxOpusSamples*2),
		logger:   log,
	}
}

// SetExtraData keeps the OpusHead block; the decoder does not need it.
func (d *opusDecoder) SetExtraData(data []byte) error {
	d.extraData = append([]byte(nil), data...)
	return nil
}

func (d *opusDecoder) SubmitPacket(data []byte) error {
	if len(d.pending) >= d.capacity {
		return codec.ErrWouldBlock
	}
	d.pending = append(d.pending, append([]byte(nil), data...))
	return nil
}

func (d *opusDecoder) ReceiveFrame() (*codec.RawFrame, error) {
	if len(d.pending) == 0 {
		return nil, codec.ErrNotReady
	}
	pkt := d.pending[0]
	d.pending = d.pending[1:]

	duration, err := PacketDuration(pkt)
	if err != nil {
		return nil, err
	}

	bandwidth, isStereo, err := d.dec.Decode(pkt, d.out)
	if err != nil {
		return nil, fmt.Errorf("opus decode failed: %w", err)
	}
	rate, ok := bandwidthRates[bandwidth]
	if !ok {
		return nil, fmt.Errorf("unknown opus bandwidth %s", bandwidth.String())
	}
	if !d.bandwidthKnown || bandwidth != d.lastBandwidth {
		d.lastBandwidth, d.bandwidthKnown = bandwidth, true
		d.logger.WithFields(map[string]interface{}{
			"bandwidth": bandwidth.String(),
			"rate":      rate,
			"stereo":    isStereo,
		}).Debug("Opus bandwidth changed")
	}

	channels := 1
	if isStereo {
		channels = 2
	}
	samples := rate * duration / 1000000
	size := samples * channels * 2
	if size > len(d.out) {
		return nil, fmt.Errorf("opus packet decodes to %d bytes, buffer holds %d", size, len(d.out))
	}

	data := make([]byte, size)
	copy(data, d.out[:size])
	return &codec.RawFrame{
		Kind:         types.KindAudio,
		Planes:       [][]byte{data},
		Strides:      []int{size},
		SampleFormat: types.SampleFormatS16,
		SampleRate:   rate,
		Channels:     channels,
		Samples:      samples,
	}, nil
}

// Flush drops queued packets and resets decoder state.
func (d *opusDecoder) Flush() {
	d.pending = nil
	d.dec = opus.NewDecoder()
	d.bandwidthKnown = false
}

func (d *opusDecoder) Close() error {
	d.pending = nil
	return nil
}
