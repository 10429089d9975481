package frame

import (
	"sync"
	"time"

	"github.com/zsiec/nanoplay/internal/logger"
	"github.com/zsiec/nanoplay/internal/playback/types"
)

// AudioAssembler maps audio fragments to access units. Audio fragments are
// never split across packets, so every non-empty fragment is one unit.
type AudioAssembler struct {
	format   types.AudioFormat
	wrapADTS bool

	nextFrameID uint32

	fragmentsReceived uint64
	unitsEmitted      uint64
	emptyFragments    uint64
	droppedMalformed  uint64

	logger logger.Logger
	mu     sync.Mutex
}

// AudioAssemblerStats contains assembler statistics
type AudioAssemblerStats struct {
	FragmentsReceived uint64 `json:"fragments_received"`
	UnitsEmitted      uint64 `json:"units_emitted"`
	EmptyFragments    uint64 `json:"empty_fragments"`
	DroppedMalformed  uint64 `json:"dropped_malformed"`
}

// NewAudioAssembler creates an audio assembler for format. With wrapADTS
// set, AAC units are prefixed with an ADTS header.
func NewAudioAssembler(format types.AudioFormat, wrapADTS bool, log logger.Logger) *AudioAssembler {
	if log == nil {
		log = logger.NewNullLogger()
	}
	if format.Codec == types.CodecAAC && format.Profile == 0 {
		format.Profile = types.AACProfileLC
	}
	return &AudioAssembler{
		format:   format,
		wrapADTS: wrapADTS && format.Codec == types.CodecAAC,
		logger:   log.WithField("component", "audio_assembler"),
	}
}

// Assemble turns one fragment into a unit. Empty payloads produce nothing.
func (a *AudioAssembler) Assemble(frag Fragment) (types.EncodedUnit, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.fragmentsReceived++
	if len(frag.Payload) == 0 {
		a.emptyFragments++
		return types.EncodedUnit{}, false
	}

	data := frag.Payload
	if a.wrapADTS {
		hdr, err := ADTSHeader(a.format.Profile, a.format.SampleRate, a.format.Channels, len(data))
		if err != nil {
			a.droppedMalformed++
			a.logger.WithError(err).Debug("Cannot build ADTS header")
			return types.EncodedUnit{}, false
		}
		data = append(hdr, data...)
	}

	frameID := frag.FrameID
	if frameID == 0 {
		a.nextFrameID++
		frameID = a.nextFrameID
	}
	received := frag.Received
	if received.IsZero() {
		received = time.Now()
	}

	a.unitsEmitted++
	return types.EncodedUnit{
		Kind:      types.KindAudio,
		Data:      data,
		FrameID:   frameID,
		Timestamp: frag.Timestamp,
		Received:  received,
	}, true
}

// GetCodecSpecificData returns the AudioSpecificConfig for AAC streams and
// nil for codecs that need no extradata.
func (a *AudioAssembler) GetCodecSpecificData() []byte {
	if a.format.Codec != types.CodecAAC {
		return nil
	}
	return AudioSpecificConfig(a.format.Profile, a.format.SampleRate, a.format.Channels)
}

// Format returns the stream format the assembler was built for.
func (a *AudioAssembler) Format() types.AudioFormat {
	return a.format
}

// GetStats returns assembler statistics
func (a *AudioAssembler) GetStats() AudioAssemblerStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	return AudioAssemblerStats{
		FragmentsReceived: a.fragmentsReceived,
		UnitsEmitted:      a.unitsEmitted,
		EmptyFragments:    a.emptyFragments,
		DroppedMalformed:  a.droppedMalformed,
	}
}
