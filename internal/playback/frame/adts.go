package frame

import (
	"errors"

	"github.com/zsiec/nanoplay/internal/playback/types"
)

const adtsHeaderSize = 7

// ErrUnsupportedSampleRate indicates a rate with no ADTS frequency index
var ErrUnsupportedSampleRate = errors.New("sample rate has no ADTS frequency index")

// AAC sampling frequency index table (ISO 14496-3)
var aacSampleRates = [...]int{
	96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050,
	16000, 12000, 11025, 8000, 7350,
}

// explicitFrequencyIndex signals a 24-bit sample rate in the config.
const explicitFrequencyIndex = 0x0F

// SampleRateIndex returns the frequency index of rate.
func SampleRateIndex(rate int) (int, bool) {
	for i, r := range aacSampleRates {
		if r == rate {
			return i, true
		}
	}
	return explicitFrequencyIndex, false
}

// AudioSpecificConfig builds the MPEG-4 AudioSpecificConfig used as AAC
// decoder extradata. Rates outside the index table are written explicitly.
func AudioSpecificConfig(profile types.AACProfile, rate, channels int) []byte {
	idx, ok := SampleRateIndex(rate)
	obj := uint64(profile) & 0x1F
	ch := uint64(channels) & 0x0F

	if ok {
		v := obj<<11 | uint64(idx)<<7 | ch<<3
		return []byte{byte(v >> 8), byte(v)}
	}

	// 5 + 4 + 24 + 4 + 3 bits
	v := obj<<35 | uint64(explicitFrequencyIndex)<<31 | uint64(rate&0xFFFFFF)<<7 | ch<<3
	return []byte{byte(v >> 32), byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

// ADTSHeader builds a 7-byte ADTS header without CRC for a raw AAC payload
// of payloadLen bytes.
func ADTSHeader(profile types.AACProfile, rate, channels, payloadLen int) ([]byte, error) {
	idx, ok := SampleRateIndex(rate)
	if !ok {
		return nil, ErrUnsupportedSampleRate
	}
	frameLen := payloadLen + adtsHeaderSize
	obj := byte(profile-1) & 0x03
	ch := byte(channels) & 0x07

	return []byte{
		0xFF,
		0xF1, // MPEG-4, layer 0, no CRC
		obj<<6 | byte(idx)<<2 | ch>>2,
		(ch&0x03)<<6 | byte(frameLen>>11)&0x03,
		byte(frameLen >> 3),
		byte(frameLen&0x07)<<5 | 0x1F,
		0xFC,
	}, nil
}
