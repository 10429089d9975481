package frame

import "encoding/binary"

// H.264 NAL unit types used by the assembler.
const (
	NALTypeSlice    uint8 = 1
	NALTypeIDR      uint8 = 5
	NALTypeSEI      uint8 = 6
	NALTypeSPS      uint8 = 7
	NALTypePPS      uint8 = 8
	NALTypeAUD      uint8 = 9
	NALTypeFillData uint8 = 12
)

// NALType returns the H.264 nal_unit_type of a NAL unit without start code.
func NALType(nal []byte) uint8 {
	if len(nal) == 0 {
		return 0
	}
	return nal[0] & 0x1F
}

// startCode returns the length of the Annex-B start code at data[i:], or 0.
func startCode(data []byte, i int) int {
	if i+3 <= len(data) && data[i] == 0 && data[i+1] == 0 {
		if data[i+2] == 1 {
			return 3
		}
		if i+4 <= len(data) && data[i+2] == 0 && data[i+3] == 1 {
			return 4
		}
	}
	return 0
}

// HasStartCode reports whether data begins with an Annex-B start code.
func HasStartCode(data []byte) bool {
	return startCode(data, 0) > 0
}

// SplitAnnexB splits an Annex-B byte stream into NAL units without their
// start codes. Trailing zero bytes belonging to the next start code are
// trimmed. Data without any start code is returned as a single unit.
func SplitAnnexB(data []byte) [][]byte {
	var units [][]byte

	begin := -1
	i := 0
	for i < len(data) {
		n := startCode(data, i)
		if n == 0 {
			i++
			continue
		}
		if begin >= 0 {
			units = appendUnit(units, data[begin:i])
		}
		i += n
		begin = i
	}

	if begin >= 0 {
		units = appendUnit(units, data[begin:])
	} else if len(data) > 0 {
		units = append(units, data)
	}
	return units
}

func appendUnit(units [][]byte, nal []byte) [][]byte {
	for len(nal) > 0 && nal[len(nal)-1] == 0 {
		nal = nal[:len(nal)-1]
	}
	if len(nal) == 0 {
		return units
	}
	return append(units, nal)
}

// AnnexBToLengthPrefixed rewrites an Annex-B access unit into the 4-byte
// length-prefixed layout expected by decoders opened with avcC extradata.
// Data without start codes is returned unchanged.
func AnnexBToLengthPrefixed(data []byte) []byte {
	if !HasStartCode(data) {
		return data
	}
	units := SplitAnnexB(data)
	size := 0
	for _, u := range units {
		size += 4 + len(u)
	}
	out := make([]byte, 0, size)
	for _, u := range units {
		out = binary.BigEndian.AppendUint32(out, uint32(len(u)))
		out = append(out, u...)
	}
	return out
}

// nalSummary records which NAL types an access unit contains.
type nalSummary struct {
	sps      [][]byte
	pps      [][]byte
	keyframe bool
	slices   int
}

func summarize(data []byte) nalSummary {
	var s nalSummary
	if !HasStartCode(data) {
		return s
	}
	for _, nal := range SplitAnnexB(data) {
		switch NALType(nal) {
		case NALTypeSPS:
			s.sps = append(s.sps, nal)
		case NALTypePPS:
			s.pps = append(s.pps, nal)
		case NALTypeIDR:
			s.keyframe = true
			s.slices++
		case NALTypeSlice:
			s.slices++
		}
	}
	return s
}

func (s nalSummary) hasParameterSets() bool {
	return len(s.sps) > 0 && len(s.pps) > 0
}
