package frame

import (
	"sync"
	"time"

	"github.com/zsiec/nanoplay/internal/logger"
	"github.com/zsiec/nanoplay/internal/playback/types"
)

// VideoAssemblerConfig tunes video reassembly.
type VideoAssemblerConfig struct {
	// LengthPrefixed rewrites Annex-B content into 4-byte length-prefixed
	// NAL units, matching the avcC parameter block.
	LengthPrefixed bool
	// MaxUnitSize bounds a unit under reassembly; a unit growing past it is
	// discarded. Zero means no bound.
	MaxUnitSize int
	// Passthrough emits every completed unit as a keyframe without NAL
	// inspection or parameter gating, for raw picture streams.
	Passthrough bool
}

// VideoAssembler rebuilds H.264 access units from marker-delimited
// fragments and gates content on the arrival of parameter sets.
type VideoAssembler struct {
	cfg VideoAssemblerConfig

	// Unit under reassembly
	pending      []byte
	pendingTS    uint32
	pendingParam bool
	pendingStart time.Time
	oversized    bool

	// Parameter state
	paramsSeen bool
	params     []byte

	nextFrameID uint32

	// Metrics
	fragmentsReceived uint64
	unitsEmitted      uint64
	droppedNoParams   uint64
	droppedMalformed  uint64
	emptyFragments    uint64

	logger logger.Logger
	mu     sync.Mutex
}

// VideoAssemblerStats contains assembler statistics
type VideoAssemblerStats struct {
	FragmentsReceived uint64 `json:"fragments_received"`
	UnitsEmitted      uint64 `json:"units_emitted"`
	DroppedNoParams   uint64 `json:"dropped_no_params"`
	DroppedMalformed  uint64 `json:"dropped_malformed"`
	EmptyFragments    uint64 `json:"empty_fragments"`
	ParamsSeen        bool   `json:"params_seen"`
	PendingBytes      int    `json:"pending_bytes"`
}

// NewVideoAssembler creates a video assembler
func NewVideoAssembler(cfg VideoAssemblerConfig, log logger.Logger) *VideoAssembler {
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &VideoAssembler{
		cfg:    cfg,
		logger: log.WithField("component", "video_assembler"),
	}
}

// Assemble consumes one fragment. It returns a unit when the fragment
// completes an access unit that may be forwarded to the decode path.
func (a *VideoAssembler) Assemble(frag Fragment) (types.EncodedUnit, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.fragmentsReceived++
	if len(frag.Payload) == 0 {
		a.emptyFragments++
		if frag.Marker {
			return a.complete(frag)
		}
		return types.EncodedUnit{}, false
	}

	if len(a.pending) == 0 {
		a.pendingTS = frag.Timestamp
		a.pendingStart = frag.Received
	}
	a.pendingParam = a.pendingParam || frag.ParameterSet

	if a.cfg.MaxUnitSize > 0 && len(a.pending)+len(frag.Payload) > a.cfg.MaxUnitSize {
		a.oversized = true
	}
	if !a.oversized {
		a.pending = append(a.pending, frag.Payload...)
	}

	if !frag.Marker {
		return types.EncodedUnit{}, false
	}
	return a.complete(frag)
}

func (a *VideoAssembler) complete(frag Fragment) (types.EncodedUnit, bool) {
	data := a.pending
	tagged := a.pendingParam
	oversized := a.oversized
	ts, received := a.pendingTS, a.pendingStart
	a.resetPending()

	if oversized {
		a.droppedMalformed++
		a.logger.WithField("max_unit_size", a.cfg.MaxUnitSize).Debug("Dropping oversized access unit")
		return types.EncodedUnit{}, false
	}
	if len(data) == 0 {
		return types.EncodedUnit{}, false
	}

	frameID := frag.FrameID
	if frameID == 0 {
		a.nextFrameID++
		frameID = a.nextFrameID
	}
	if received.IsZero() {
		received = time.Now()
	}

	if a.cfg.Passthrough {
		a.unitsEmitted++
		return types.EncodedUnit{
			Kind:      types.KindVideo,
			Data:      data,
			Flags:     types.FlagKeyframe,
			FrameID:   frameID,
			Timestamp: ts,
			Received:  received,
		}, true
	}

	summary := summarize(data)

	if !a.paramsSeen {
		if !tagged && !summary.hasParameterSets() {
			a.droppedNoParams++
			return types.EncodedUnit{}, false
		}

		avcc, err := BuildAVCC(summary.sps, summary.pps)
		if err != nil {
			a.droppedMalformed++
			a.logger.WithError(err).Warn("Parameter-set unit could not be converted")
			return types.EncodedUnit{}, false
		}

		a.params = avcc
		a.paramsSeen = true
		a.unitsEmitted++
		a.logger.WithFields(map[string]interface{}{
			"sps_count": len(summary.sps),
			"pps_count": len(summary.pps),
			"avcc_size": len(avcc),
		}).Info("Video parameter sets established")

		return types.EncodedUnit{
			Kind:      types.KindVideo,
			Data:      avcc,
			Flags:     types.FlagCodecConfig | types.FlagContainsSPS | types.FlagContainsPPS,
			FrameID:   frameID,
			Timestamp: ts,
			Received:  received,
		}, true
	}

	var flags types.UnitFlags
	if summary.keyframe {
		flags |= types.FlagKeyframe
	}
	if len(summary.sps) > 0 {
		flags |= types.FlagContainsSPS
	}
	if len(summary.pps) > 0 {
		flags |= types.FlagContainsPPS
	}
	if a.cfg.LengthPrefixed {
		data = AnnexBToLengthPrefixed(data)
	}

	a.unitsEmitted++
	return types.EncodedUnit{
		Kind:      types.KindVideo,
		Data:      data,
		Flags:     flags,
		FrameID:   frameID,
		Timestamp: ts,
		Received:  received,
	}, true
}

func (a *VideoAssembler) resetPending() {
	a.pending = nil
	a.pendingParam = false
	a.pendingTS = 0
	a.pendingStart = time.Time{}
	a.oversized = false
}

// ParamsSeen reports whether parameter sets have been established.
func (a *VideoAssembler) ParamsSeen() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.paramsSeen
}

// CodecParameters returns the avcC block, or nil before parameters are
// established.
func (a *VideoAssembler) CodecParameters() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.params
}

// Reset discards the partial unit and parameter state, so the next
// parameter-set unit is treated as the first one again.
func (a *VideoAssembler) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resetPending()
	a.paramsSeen = false
	a.params = nil
}

// GetStats returns assembler statistics
func (a *VideoAssembler) GetStats() VideoAssemblerStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	return VideoAssemblerStats{
		FragmentsReceived: a.fragmentsReceived,
		UnitsEmitted:      a.unitsEmitted,
		DroppedNoParams:   a.droppedNoParams,
		DroppedMalformed:  a.droppedMalformed,
		EmptyFragments:    a.emptyFragments,
		ParamsSeen:        a.paramsSeen,
		PendingBytes:      len(a.pending),
	}
}
