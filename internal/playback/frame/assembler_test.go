package frame

import (
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/nanoplay/internal/playback/types"
)

var (
	testSPS = []byte{0x67, 0x42, 0x00, 0x1f, 0xAA}
	testPPS = []byte{0x68, 0xCE, 0x38, 0x80}
)

func annexB(nals ...[]byte) []byte {
	var out []byte
	for _, n := range nals {
		out = append(out, 0x00, 0x00, 0x00, 0x01)
		out = append(out, n...)
	}
	return out
}

func paramFragment() Fragment {
	return Fragment{Payload: annexB(testSPS, testPPS), Marker: true, Timestamp: 1000}
}

func TestVideoAssemblerMarkerScenario(t *testing.T) {
	a := NewVideoAssembler(VideoAssemblerConfig{}, nil)

	unit, ok := a.Assemble(paramFragment())
	require.True(t, ok)
	assert.True(t, unit.IsCodecConfig())
	assert.Equal(t, types.KindVideo, unit.Kind)
	assert.True(t, a.ParamsSeen())
	assert.Equal(t, unit.Data, a.CodecParameters())

	var units []types.EncodedUnit
	frags := []Fragment{
		{Payload: annexB([]byte{0x65, 0x88, 0x84}), Marker: true, Timestamp: 3000},
		{Payload: annexB([]byte{0x41, 0x9A}), Marker: false, Timestamp: 6000},
		{Payload: []byte{0x02, 0x03}, Marker: true, Timestamp: 6000},
	}
	for _, f := range frags {
		if u, ok := a.Assemble(f); ok {
			units = append(units, u)
		}
	}

	require.Len(t, units, 2)
	assert.Equal(t, annexB([]byte{0x65, 0x88, 0x84}), units[0].Data)
	assert.True(t, units[0].IsKeyframe())
	assert.False(t, units[0].IsCodecConfig())
	assert.Equal(t, append(annexB([]byte{0x41, 0x9A}), 0x02, 0x03), units[1].Data)
	assert.False(t, units[1].IsKeyframe())
	assert.Equal(t, uint32(6000), units[1].Timestamp)
	assert.Less(t, units[0].FrameID, units[1].FrameID)

	stats := a.GetStats()
	assert.Equal(t, uint64(4), stats.FragmentsReceived)
	assert.Equal(t, uint64(3), stats.UnitsEmitted)
	assert.Zero(t, stats.PendingBytes)
}

func TestVideoAssemblerGatesContentOnParameters(t *testing.T) {
	a := NewVideoAssembler(VideoAssemblerConfig{}, nil)

	for i := 0; i < 3; i++ {
		_, ok := a.Assemble(Fragment{Payload: annexB([]byte{0x65, 0x01}), Marker: true})
		assert.False(t, ok, "content before parameters must not be forwarded")
	}
	assert.False(t, a.ParamsSeen())
	assert.Equal(t, uint64(3), a.GetStats().DroppedNoParams)

	_, ok := a.Assemble(paramFragment())
	require.True(t, ok)

	unit, ok := a.Assemble(Fragment{Payload: annexB([]byte{0x65, 0x01}), Marker: true})
	require.True(t, ok)
	assert.False(t, unit.IsCodecConfig())
}

func TestVideoAssemblerSecondParameterUnitIsContent(t *testing.T) {
	a := NewVideoAssembler(VideoAssemblerConfig{}, nil)
	_, ok := a.Assemble(paramFragment())
	require.True(t, ok)

	payload := annexB(testSPS, testPPS, []byte{0x65, 0x11})
	unit, ok := a.Assemble(Fragment{Payload: payload, Marker: true})
	require.True(t, ok)
	assert.False(t, unit.IsCodecConfig())
	assert.True(t, unit.IsKeyframe())
	assert.NotZero(t, unit.Flags&types.FlagContainsSPS)
	assert.NotZero(t, unit.Flags&types.FlagContainsPPS)
}

func TestVideoAssemblerTaggedFragmentWithoutSPS(t *testing.T) {
	a := NewVideoAssembler(VideoAssemblerConfig{}, nil)

	_, ok := a.Assemble(Fragment{Payload: annexB([]byte{0x65}), Marker: true, ParameterSet: true})
	assert.False(t, ok)
	assert.False(t, a.ParamsSeen())
	assert.Equal(t, uint64(1), a.GetStats().DroppedMalformed)
}

func TestVideoAssemblerEmptyAndOversized(t *testing.T) {
	a := NewVideoAssembler(VideoAssemblerConfig{MaxUnitSize: 12}, nil)
	_, ok := a.Assemble(paramFragment())
	require.False(t, ok, "parameter unit exceeds the bound")

	a = NewVideoAssembler(VideoAssemblerConfig{MaxUnitSize: 32}, nil)
	_, ok = a.Assemble(paramFragment())
	require.True(t, ok)

	_, ok = a.Assemble(Fragment{Marker: true})
	assert.False(t, ok)

	big := make([]byte, 20)
	_, ok = a.Assemble(Fragment{Payload: annexB(big[:10])})
	assert.False(t, ok)
	_, ok = a.Assemble(Fragment{Payload: big, Marker: true})
	assert.False(t, ok)

	unit, ok := a.Assemble(Fragment{Payload: annexB([]byte{0x41, 0x01}), Marker: true})
	require.True(t, ok, "assembler recovers after an oversized unit")
	assert.Equal(t, annexB([]byte{0x41, 0x01}), unit.Data)

	stats := a.GetStats()
	assert.Equal(t, uint64(1), stats.EmptyFragments)
	assert.Equal(t, uint64(1), stats.DroppedMalformed)
}

func TestVideoAssemblerLengthPrefixed(t *testing.T) {
	a := NewVideoAssembler(VideoAssemblerConfig{LengthPrefixed: true}, nil)
	_, ok := a.Assemble(paramFragment())
	require.True(t, ok)

	unit, ok := a.Assemble(Fragment{Payload: annexB([]byte{0x65, 0x88, 0x84}), Marker: true})
	require.True(t, ok)
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x03, 0x65, 0x88, 0x84}, unit.Data)
}

func TestVideoAssemblerPassthrough(t *testing.T) {
	a := NewVideoAssembler(VideoAssemblerConfig{Passthrough: true, LengthPrefixed: true}, nil)

	_, ok := a.Assemble(Fragment{Payload: []byte{1, 2}, Timestamp: 90})
	require.False(t, ok)
	unit, ok := a.Assemble(Fragment{Payload: []byte{3}, Marker: true, Timestamp: 90})
	require.True(t, ok)

	assert.Equal(t, []byte{1, 2, 3}, unit.Data, "raw pictures are not rewritten")
	assert.True(t, unit.IsKeyframe())
	assert.False(t, unit.IsCodecConfig())
	assert.Equal(t, uint32(90), unit.Timestamp)
	assert.False(t, a.ParamsSeen())
	assert.Zero(t, a.GetStats().DroppedNoParams)
}

func TestVideoAssemblerReset(t *testing.T) {
	a := NewVideoAssembler(VideoAssemblerConfig{}, nil)
	_, ok := a.Assemble(paramFragment())
	require.True(t, ok)

	a.Assemble(Fragment{Payload: annexB([]byte{0x41})})
	a.Reset()
	assert.False(t, a.ParamsSeen())
	assert.Nil(t, a.CodecParameters())
	assert.Zero(t, a.GetStats().PendingBytes)

	unit, ok := a.Assemble(paramFragment())
	require.True(t, ok)
	assert.True(t, unit.IsCodecConfig())
}

func TestBuildAVCC(t *testing.T) {
	avcc, err := BuildAVCC([][]byte{testSPS}, [][]byte{testPPS})
	require.NoError(t, err)
	assert.Equal(t, []byte{
		0x01, 0x42, 0x00, 0x1f, 0xFF, 0xE1,
		0x00, 0x05, 0x67, 0x42, 0x00, 0x1f, 0xAA,
		0x01,
		0x00, 0x04, 0x68, 0xCE, 0x38, 0x80,
	}, avcc)

	_, err = BuildAVCC(nil, [][]byte{testPPS})
	assert.ErrorIs(t, err, ErrMissingParameterSets)

	_, err = BuildAVCC([][]byte{{0x67, 0x42}}, [][]byte{testPPS})
	assert.ErrorIs(t, err, ErrShortSPS)

	fromUnit, err := CodecSpecificDataAVCC(annexB([]byte{0x09, 0x10}, testSPS, testPPS))
	require.NoError(t, err)
	assert.Equal(t, avcc, fromUnit)
}

func TestSplitAnnexB(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want [][]byte
	}{
		{"four byte start codes", annexB(testSPS, testPPS), [][]byte{testSPS, testPPS}},
		{"three byte start code", []byte{0, 0, 1, 0x65, 0x01, 0, 0, 1, 0x41}, [][]byte{{0x65, 0x01}, {0x41}}},
		{"no start code", []byte{0x65, 0x01}, [][]byte{{0x65, 0x01}}},
		{"empty", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitAnnexB(tt.data))
		})
	}

	assert.Equal(t, NALTypeSPS, NALType(testSPS))
	assert.Equal(t, NALTypePPS, NALType(testPPS))
	assert.Zero(t, NALType(nil))
}

func TestAudioSpecificConfig(t *testing.T) {
	assert.Equal(t, []byte{0x11, 0x90}, AudioSpecificConfig(types.AACProfileLC, 48000, 2))
	assert.Equal(t, []byte{0x12, 0x10}, AudioSpecificConfig(types.AACProfileLC, 44100, 2))

	explicit := AudioSpecificConfig(types.AACProfileLC, 50000, 2)
	require.Len(t, explicit, 5)
	assert.Equal(t, byte(0x17), explicit[0])
}

func TestADTSHeader(t *testing.T) {
	hdr, err := ADTSHeader(types.AACProfileLC, 48000, 2, 10)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xF1, 0x4C, 0x80, 0x02, 0x3F, 0xFC}, hdr)

	_, err = ADTSHeader(types.AACProfileLC, 50000, 2, 10)
	assert.ErrorIs(t, err, ErrUnsupportedSampleRate)
}

func TestAudioAssembler(t *testing.T) {
	format := types.AudioFormat{Codec: types.CodecAAC, SampleRate: 48000, Channels: 2}

	t.Run("one fragment one unit", func(t *testing.T) {
		a := NewAudioAssembler(format, false, nil)
		for i := 0; i < 3; i++ {
			unit, ok := a.Assemble(Fragment{Payload: []byte{byte(i), 0x21}, Timestamp: uint32(i * 1024)})
			require.True(t, ok)
			assert.Equal(t, types.KindAudio, unit.Kind)
			assert.Equal(t, []byte{byte(i), 0x21}, unit.Data)
			assert.Equal(t, uint32(i+1), unit.FrameID)
		}

		_, ok := a.Assemble(Fragment{})
		assert.False(t, ok)

		stats := a.GetStats()
		assert.Equal(t, uint64(4), stats.FragmentsReceived)
		assert.Equal(t, uint64(3), stats.UnitsEmitted)
		assert.Equal(t, uint64(1), stats.EmptyFragments)
	})

	t.Run("codec specific data", func(t *testing.T) {
		a := NewAudioAssembler(format, false, nil)
		assert.Equal(t, []byte{0x11, 0x90}, a.GetCodecSpecificData())
		assert.Equal(t, types.AACProfileLC, a.Format().Profile)

		opus := NewAudioAssembler(types.AudioFormat{Codec: types.CodecOpus, SampleRate: 48000, Channels: 2}, true, nil)
		assert.Nil(t, opus.GetCodecSpecificData())
		unit, ok := opus.Assemble(Fragment{Payload: []byte{0xFC}})
		require.True(t, ok)
		assert.Equal(t, []byte{0xFC}, unit.Data, "ADTS applies to AAC only")
	})

	t.Run("adts wrapping", func(t *testing.T) {
		a := NewAudioAssembler(format, true, nil)
		payload := make([]byte, 10)
		unit, ok := a.Assemble(Fragment{Payload: payload})
		require.True(t, ok)
		require.Len(t, unit.Data, 17)
		assert.Equal(t, []byte{0xFF, 0xF1, 0x4C, 0x80, 0x02, 0x3F, 0xFC}, unit.Data[:7])

		bad := NewAudioAssembler(types.AudioFormat{Codec: types.CodecAAC, SampleRate: 50000, Channels: 2}, true, nil)
		_, ok = bad.Assemble(Fragment{Payload: payload})
		assert.False(t, ok)
		assert.Equal(t, uint64(1), bad.GetStats().DroppedMalformed)
	})
}

func TestFromRTP(t *testing.T) {
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         true,
			SequenceNumber: 7,
			Timestamp:      9000,
			SSRC:           0xABC,
		},
		Payload: []byte{0x65, 0x01},
	}

	f := FromRTP(pkt)
	assert.True(t, f.Marker)
	assert.Equal(t, uint16(7), f.Sequence)
	assert.Equal(t, uint32(9000), f.Timestamp)
	assert.Equal(t, uint32(0xABC), f.SSRC)
	assert.Equal(t, pkt.Payload, f.Payload)
	assert.False(t, f.Received.IsZero())
}
