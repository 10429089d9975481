package frame

import (
	"time"

	"github.com/pion/rtp"
)

// Fragment is one network-delivered piece of an access unit.
type Fragment struct {
	Payload   []byte
	Marker    bool
	Sequence  uint16
	Timestamp uint32
	SSRC      uint32
	FrameID   uint32
	// ParameterSet is set by transports that tag parameter-set units
	// explicitly. Untagged fragments are inspected instead.
	ParameterSet bool
	Received     time.Time
}

// FromRTP adapts an RTP packet. The marker bit closes an access unit.
func FromRTP(pkt *rtp.Packet) Fragment {
	return Fragment{
		Payload:   pkt.Payload,
		Marker:    pkt.Marker,
		Sequence:  pkt.SequenceNumber,
		Timestamp: pkt.Timestamp,
		SSRC:      pkt.SSRC,
		Received:  time.Now(),
	}
}
