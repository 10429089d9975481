// Package playback is the player facade: it owns the assemblers, the codec
// contexts and their decode workers, the decoded-unit bridge and the
// optional presenter of one playback session.
package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/zsiec/nanoplay/internal/logger"
	"github.com/zsiec/nanoplay/internal/metrics"
	"github.com/zsiec/nanoplay/internal/playback/bridge"
	"github.com/zsiec/nanoplay/internal/playback/codec"
	"github.com/zsiec/nanoplay/internal/playback/frame"
	"github.com/zsiec/nanoplay/internal/playback/input"
	"github.com/zsiec/nanoplay/internal/playback/pipeline"
	"github.com/zsiec/nanoplay/internal/playback/registry"
	"github.com/zsiec/nanoplay/internal/playback/render"
	"github.com/zsiec/nanoplay/internal/playback/types"
	"github.com/zsiec/nanoplay/internal/queue"
)

var (
	// ErrStreamDisabled is returned for operations on a stream the session
	// was not configured with.
	ErrStreamDisabled = errors.New("stream not enabled")
	// ErrStopped is returned once the player has been stopped.
	ErrStopped = errors.New("player stopped")
)

const defaultHeartbeatInterval = 10 * time.Second

// State is the player lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	default:
		return "stopped"
	}
}

// Reference is the first content unit seen on a stream. It is recorded for
// diagnostics only; nothing is scheduled from it.
type Reference struct {
	Set          bool      `json:"set"`
	Timestamp    uint32    `json:"timestamp"`
	FirstFrameID uint32    `json:"first_frame_id"`
	At           time.Time `json:"at"`
}

type stream struct {
	kind  types.StreamKind
	name  string
	codec *codec.Context
	input *queue.Queue[types.EncodedUnit]

	worker *pipeline.Worker

	// ingest serializes assembly and enqueue with Reinit, so a flush
	// marker lands between the units assembled before and after it.
	ingest sync.Mutex

	mu        sync.Mutex
	ref       Reference
	configSet bool // audio: codec data enqueued
	fatal     error
}

func (s *stream) getWorker() *pipeline.Worker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.worker
}

func (s *stream) reference(u types.EncodedUnit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ref.Set || u.IsCodecConfig() {
		return
	}
	s.ref = Reference{Set: true, Timestamp: u.Timestamp, FirstFrameID: u.FrameID, At: u.Received}
}

// Player is one playback session.
type Player struct {
	id            string
	cfg           Config
	lib           codec.Library
	logger        logger.Logger
	sampledLogger *logger.SampledLogger

	audioAsm *frame.AudioAssembler
	videoAsm *frame.VideoAssembler
	audio    *stream
	video    *stream

	bridge    *bridge.Bridge
	presenter *render.Presenter
	audioOut  render.AudioOutput
	videoOut  render.VideoSurface

	registry registry.Registry
	input    *input.State

	onAudio func(types.PCMSample)
	onVideo func(types.YUVFrame)

	state     atomic.Int32
	startedAt time.Time

	// life bounds producer-side blocking; canceled by Stop.
	life       context.Context
	cancelLife context.CancelFunc
	cancelRun  context.CancelFunc
	heartbeat  sync.WaitGroup

	mu       sync.Mutex
	stopOnce sync.Once
	stopErr  error
}

// New creates a player on lib. The player takes ownership of lib and closes
// it on Stop. Both codec contexts are initialized here, so unsupported or
// unimplemented codecs are reported before anything starts.
func New(cfg Config, lib codec.Library, log logger.Logger) (*Player, error) {
	if lib == nil {
		return nil, errors.New("codec library required")
	}
	if cfg.Audio == nil && cfg.Video == nil {
		return nil, errors.New("at least one stream must be configured")
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if log == nil {
		log = logger.NewNullLogger()
	}

	id := uuid.NewString()
	log = logger.WithSession(logger.WithComponent(log, "player"), id)

	p := &Player{
		id:            id,
		cfg:           cfg,
		lib:           lib,
		logger:        log,
		sampledLogger: logger.NewPlaybackLogger(log),
		bridge:        bridge.New(bridge.Config{Capacity: cfg.DecodedCapacity, Policy: cfg.DecodedPolicy}, log),
		input:         input.NewState(),
	}
	p.life, p.cancelLife = context.WithCancel(context.Background())

	if cfg.Audio != nil {
		s, err := p.newStream(types.KindAudio, codec.Audio(*cfg.Audio))
		if err != nil {
			return nil, err
		}
		p.audio = s
		p.audioAsm = frame.NewAudioAssembler(*cfg.Audio, cfg.WrapADTS, log)
	}
	if cfg.Video != nil {
		s, err := p.newStream(types.KindVideo, codec.Video(*cfg.Video))
		if err != nil {
			if p.audio != nil {
				_ = p.audio.codec.Dispose()
			}
			return nil, err
		}
		p.video = s
		p.videoAsm = frame.NewVideoAssembler(frame.VideoAssemblerConfig{
			LengthPrefixed: cfg.LengthPrefixed,
			MaxUnitSize:    cfg.MaxUnitSize,
			Passthrough:    cfg.Video.Codec != types.CodecH264,
		}, log)
	}
	return p, nil
}

func (p *Player) newStream(kind types.StreamKind, v codec.StreamVariant) (*stream, error) {
	name := kind.String()
	sm := metrics.ForStream(name)
	ctx := codec.NewContext(p.lib,
		codec.WithLogger(logger.WithStream(p.logger, name)),
		codec.WithLatencyObserver(sm.Latency),
	)
	if err := ctx.Initialize(v); err != nil {
		return nil, fmt.Errorf("%s stream: %w", name, err)
	}

	in := queue.New[types.EncodedUnit](p.cfg.EncodedCapacity, p.cfg.EncodedPolicy)
	// Codec configuration and flush markers are never evicted.
	in.Evictable(func(u types.EncodedUnit) bool {
		return !u.IsCodecConfig() && !u.IsFlush()
	})
	in.OnDrop(func(u types.EncodedUnit) {
		sm.Dropped(metrics.ReasonQueueFull)
		p.sampledLogger.WarnWithCategory(logger.CategoryQueueDrop, "Encoded queue full, evicting oldest unit", map[string]interface{}{
			"stream":   name,
			"frame_id": u.FrameID,
			"keyframe": u.IsKeyframe(),
		})
	})
	return &stream{
		kind:  kind,
		name:  name,
		codec: ctx,
		input: in,
	}, nil
}

// ID returns the session id.
func (p *Player) ID() string { return p.id }

// State returns the lifecycle state.
func (p *Player) State() State { return State(p.state.Load()) }

// Backend returns the codec library name.
func (p *Player) Backend() string { return p.lib.Name() }

// SetRegistry publishes the session to reg. Call before Start.
func (p *Player) SetRegistry(reg registry.Registry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.registry = reg
}

// SetOutputs sets the presentation outputs. Either may be nil. Outputs are
// only used when rendering is enabled. Call before Start.
func (p *Player) SetOutputs(audio render.AudioOutput, video render.VideoSurface) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.audioOut = audio
	p.videoOut = video
}

// SetAudioHandler registers a function called from the audio worker for
// every decoded audio unit, before the unit enters the bridge.
func (p *Player) SetAudioHandler(fn func(types.PCMSample)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onAudio = fn
}

// SetVideoHandler is the video counterpart of SetAudioHandler.
func (p *Player) SetVideoHandler(fn func(types.YUVFrame)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onVideo = fn
}

// OverwriteTargetFormat changes the representation decoded units of kind
// are converted to. It is only accepted before Start.
func (p *Player) OverwriteTargetFormat(kind types.StreamKind, target codec.ConvertParams) error {
	s, err := p.stream(kind)
	if err != nil {
		return err
	}
	target.Kind = kind
	return s.codec.OverwriteTargetFormat(target)
}

func (p *Player) stream(kind types.StreamKind) (*stream, error) {
	var s *stream
	switch kind {
	case types.KindAudio:
		s = p.audio
	case types.KindVideo:
		s = p.video
	}
	if s == nil {
		return nil, fmt.Errorf("%s: %w", kind, ErrStreamDisabled)
	}
	return s, nil
}

func (p *Player) streams() []*stream {
	var out []*stream
	if p.audio != nil {
		out = append(out, p.audio)
	}
	if p.video != nil {
		out = append(out, p.video)
	}
	return out
}

// Start opens the decoders and starts the decode workers, the presenter
// and the registry heartbeat.
func (p *Player) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return fmt.Errorf("player is %s", p.State())
	}
	p.startedAt = time.Now()
	p.register(ctx)

	for _, s := range p.streams() {
		if err := s.codec.CreateDecoderContext(); err != nil {
			p.setStatus(registry.StatusError, err.Error())
			p.abortStart()
			return fmt.Errorf("%s stream: %w", s.name, err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancelRun = cancel

	for _, s := range p.streams() {
		w, err := pipeline.NewWorker(pipeline.Config{
			Stream:      s.name,
			PollTimeout: p.cfg.PollTimeout,
			StopTimeout: p.cfg.StopTimeout,
			Logger:      p.logger,
			OnFatal:     p.fatalHandler(s),
		}, s.codec, s.input, p.sink())
		if err == nil {
			err = w.Start(runCtx)
		}
		if err != nil {
			p.setStatus(registry.StatusError, err.Error())
			p.abortStart()
			return err
		}
		s.mu.Lock()
		s.worker = w
		s.mu.Unlock()
	}

	if p.cfg.Render.Enabled {
		pc := render.Config{
			AudioBufferSamples: p.cfg.Render.AudioBufferSamples,
			PaceVideo:          p.cfg.Render.PaceVideo,
			Fullscreen:         p.cfg.Render.Fullscreen,
			PollTimeout:        p.cfg.Render.PollTimeout,
			StopTimeout:        p.cfg.StopTimeout,
			Logger:             p.logger,
		}
		if p.cfg.Video != nil {
			pc.FPS = p.cfg.Video.FPS
		}
		pres, err := render.NewPresenter(pc, p.bridge, p.audioOut, p.videoOut)
		if err == nil {
			err = pres.Start(runCtx)
		}
		if err != nil {
			p.setStatus(registry.StatusError, err.Error())
			p.abortStart()
			return fmt.Errorf("presenter: %w", err)
		}
		p.presenter = pres
	}

	if p.registry != nil {
		p.heartbeat.Add(1)
		go p.heartbeatLoop(runCtx)
	}

	p.setStatus(registry.StatusPlaying, "")
	p.logger.WithFields(map[string]interface{}{
		"backend":   p.lib.Name(),
		"audio":     p.formatString(types.KindAudio),
		"video":     p.formatString(types.KindVideo),
		"rendering": p.presenter != nil,
	}).Info("Playback started")
	return nil
}

// abortStart tears down a partial start. Called with p.mu held.
func (p *Player) abortStart() {
	if p.cancelRun != nil {
		p.cancelRun()
	}
	for _, s := range p.streams() {
		if s.worker != nil {
			_ = s.worker.Stop()
		}
	}
	p.stopOnce.Do(func() { p.stopErr = p.teardown() })
}

func (p *Player) sink() pipeline.Sink {
	onAudio, onVideo := p.onAudio, p.onVideo
	return pipeline.SinkFunc(func(ctx context.Context, unit types.DecodedUnit) error {
		switch u := unit.(type) {
		case types.PCMSample:
			if onAudio != nil {
				onAudio(u)
			}
		case types.YUVFrame:
			if onVideo != nil {
				onVideo(u)
			}
		}
		return p.bridge.Publish(ctx, unit)
	})
}

func (p *Player) fatalHandler(s *stream) func(error) {
	return func(err error) {
		s.mu.Lock()
		s.fatal = err
		s.mu.Unlock()

		p.logger.WithError(err).WithFields(map[string]interface{}{
			"stream":     s.name,
			"error_type": string(codec.TypeOf(err)),
		}).Error("Stream stopped on fatal codec error")
		p.setStatus(registry.StatusError, fmt.Sprintf("%s: %v", s.name, err))
	}
}

// Stop stops the workers and the presenter, disposes both codec contexts
// and closes the codec library, in that order. It is safe to call more
// than once.
func (p *Player) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.State() == StateIdle {
		p.state.Store(int32(StateStopped))
	}
	p.stopOnce.Do(func() {
		p.state.Store(int32(StateStopped))
		p.cancelLife()

		var errs []error
		for _, s := range p.streams() {
			s.input.Close()
			if s.worker != nil {
				if err := s.worker.Stop(); err != nil {
					errs = append(errs, err)
				}
			}
		}
		p.bridge.Close()
		if p.presenter != nil {
			if err := p.presenter.Stop(); err != nil {
				errs = append(errs, err)
			}
		}
		if p.cancelRun != nil {
			p.cancelRun()
		}
		p.heartbeat.Wait()

		if err := p.teardown(); err != nil {
			errs = append(errs, err)
		}
		p.setStatus(registry.StatusStopped, "")
		p.stopErr = errors.Join(errs...)
		p.logger.Info("Playback stopped")
	})
	return p.stopErr
}

// teardown disposes the contexts, then closes the library.
func (p *Player) teardown() error {
	p.state.Store(int32(StateStopped))
	p.cancelLife()
	for _, s := range p.streams() {
		s.input.Close()
	}
	p.bridge.Close()

	var errs []error
	for _, s := range p.streams() {
		if err := s.codec.Dispose(); err != nil {
			errs = append(errs, fmt.Errorf("dispose %s: %w", s.name, err))
		}
	}
	if err := p.lib.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close %s library: %w", p.lib.Name(), err))
	}
	return errors.Join(errs...)
}

// PushEncodedAudioFragment assembles an audio fragment and queues the
// resulting unit. The first unit is preceded by the stream's codec
// specific data when the codec has any.
func (p *Player) PushEncodedAudioFragment(frag frame.Fragment) error {
	s, err := p.stream(types.KindAudio)
	if err != nil {
		return err
	}
	metrics.RecordFragment(s.name, len(frag.Payload))

	s.ingest.Lock()
	defer s.ingest.Unlock()
	unit, ok := p.audioAsm.Assemble(frag)
	if !ok {
		return nil
	}

	s.mu.Lock()
	sendConfig := !s.configSet
	s.configSet = true
	s.mu.Unlock()

	if sendConfig {
		if csd := p.audioAsm.GetCodecSpecificData(); len(csd) > 0 {
			cfgUnit := types.EncodedUnit{
				Kind:     types.KindAudio,
				Data:     csd,
				Flags:    types.FlagCodecConfig,
				FrameID:  unit.FrameID,
				Received: unit.Received,
			}
			if err := p.enqueue(s, cfgUnit); err != nil {
				return err
			}
		}
	}
	return p.enqueue(s, unit)
}

// PushEncodedVideoFragment assembles a video fragment. A completed
// parameter-set unit is queued as codec configuration; content completed
// before that is dropped by the assembler.
func (p *Player) PushEncodedVideoFragment(frag frame.Fragment) error {
	s, err := p.stream(types.KindVideo)
	if err != nil {
		return err
	}
	metrics.RecordFragment(s.name, len(frag.Payload))

	s.ingest.Lock()
	defer s.ingest.Unlock()
	unit, ok := p.videoAsm.Assemble(frag)
	if !ok {
		return nil
	}
	return p.enqueue(s, unit)
}

func (p *Player) enqueue(s *stream, unit types.EncodedUnit) error {
	if p.State() == StateStopped {
		return ErrStopped
	}
	s.reference(unit)
	if err := s.input.Enqueue(p.life, unit); err != nil {
		if errors.Is(err, queue.ErrQueueClosed) || errors.Is(err, context.Canceled) {
			return ErrStopped
		}
		return err
	}
	metrics.IncrementUnitsAssembled(s.name)
	metrics.SetQueueDepth(s.name, "encoded", s.input.Len())
	return nil
}

// UpdateCodecParameters injects out-of-band codec parameters. They travel
// through the stream's queue so only its worker touches the decoder.
func (p *Player) UpdateCodecParameters(kind types.StreamKind, data []byte) error {
	s, err := p.stream(kind)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	unit := types.EncodedUnit{
		Kind:     kind,
		Data:     append([]byte(nil), data...),
		Flags:    types.FlagCodecConfig,
		Received: time.Now(),
	}
	if err := p.enqueue(s, unit); err != nil {
		return err
	}
	if w := s.getWorker(); w != nil {
		w.Wake()
	}
	return nil
}

// Reinit flushes the decoder of kind. Units queued before the call are
// decoded and emitted first; the flush happens when the worker reaches the
// marker. Video parameter sets are required again afterwards, and audio
// codec data is resent with the next unit.
func (p *Player) Reinit(kind types.StreamKind) error {
	s, err := p.stream(kind)
	if err != nil {
		return err
	}
	s.ingest.Lock()
	defer s.ingest.Unlock()
	if kind == types.KindVideo {
		p.videoAsm.Reset()
	} else {
		s.mu.Lock()
		s.configSet = false
		s.mu.Unlock()
	}

	unit := types.EncodedUnit{Kind: kind, Flags: types.FlagFlush, Received: time.Now()}
	if err := p.enqueue(s, unit); err != nil {
		return err
	}
	if w := s.getWorker(); w != nil {
		w.Wake()
	}
	p.logger.WithField("stream", s.name).Info("Reinit requested")
	return nil
}

// OnDecodedAudioUnit returns a channel view of the decoded audio queue.
// The presenter, when enabled, reads the same queue; each unit reaches one
// consumer. The channel closes when the player stops or ctx ends.
func (p *Player) OnDecodedAudioUnit(ctx context.Context) <-chan types.PCMSample {
	return p.bridge.AudioUnits(ctx)
}

// OnDecodedVideoUnit is the video counterpart of OnDecodedAudioUnit.
func (p *Player) OnDecodedVideoUnit(ctx context.Context) <-chan types.YUVFrame {
	return p.bridge.VideoUnits(ctx)
}

// Bridge exposes the decoded-unit queues.
func (p *Player) Bridge() *bridge.Bridge { return p.bridge }

// ApplyInput records a controller event.
func (p *Player) ApplyInput(e input.Event) error {
	return p.input.Apply(e)
}

// InputState returns the current controller state.
func (p *Player) InputState() input.Snapshot {
	return p.input.Snapshot()
}

// Snapshot returns the last presented frame as PNG when the video output
// keeps one.
func (p *Player) Snapshot() ([]byte, error) {
	p.mu.Lock()
	out := p.videoOut
	p.mu.Unlock()

	snap, ok := out.(interface{ SnapshotPNG() ([]byte, error) })
	if !ok {
		return nil, errors.New("video output does not keep frames")
	}
	return snap.SnapshotPNG()
}

// StreamErr returns the fatal error that stopped kind, if any.
func (p *Player) StreamErr(kind types.StreamKind) error {
	s, err := p.stream(kind)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatal
}

func (p *Player) formatString(kind types.StreamKind) string {
	s, err := p.stream(kind)
	if err != nil {
		return ""
	}
	if v := s.codec.Format(); v != nil {
		return v.String()
	}
	return ""
}
