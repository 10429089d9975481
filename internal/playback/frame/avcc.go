package frame

import (
	"encoding/binary"
	"errors"
)

var (
	// ErrMissingParameterSets indicates a unit without both SPS and PPS
	ErrMissingParameterSets = errors.New("access unit does not carry both SPS and PPS")

	// ErrShortSPS indicates an SPS too short to read profile and level
	ErrShortSPS = errors.New("SPS too short")
)

// BuildAVCC builds an AVCDecoderConfigurationRecord (ISO 14496-15) from
// SPS and PPS NAL units. NAL lengths in content are declared as 4 bytes.
func BuildAVCC(sps, pps [][]byte) ([]byte, error) {
	if len(sps) == 0 || len(pps) == 0 {
		return nil, ErrMissingParameterSets
	}
	if len(sps[0]) < 4 {
		return nil, ErrShortSPS
	}

	size := 7
	for _, s := range sps {
		size += 2 + len(s)
	}
	for _, p := range pps {
		size += 2 + len(p)
	}

	out := make([]byte, 0, size)
	out = append(out,
		1,         // configurationVersion
		sps[0][1], // AVCProfileIndication
		sps[0][2], // profile_compatibility
		sps[0][3], // AVCLevelIndication
		0xFC|3,    // lengthSizeMinusOne
		0xE0|byte(len(sps)&0x1F),
	)
	for _, s := range sps {
		out = binary.BigEndian.AppendUint16(out, uint16(len(s)))
		out = append(out, s...)
	}
	out = append(out, byte(len(pps)))
	for _, p := range pps {
		out = binary.BigEndian.AppendUint16(out, uint16(len(p)))
		out = append(out, p...)
	}
	return out, nil
}

// CodecSpecificDataAVCC extracts SPS and PPS from an Annex-B access unit
// and returns the avcC record.
func CodecSpecificDataAVCC(unit []byte) ([]byte, error) {
	s := summarize(unit)
	if !s.hasParameterSets() {
		return nil, ErrMissingParameterSets
	}
	return BuildAVCC(s.sps, s.pps)
}
