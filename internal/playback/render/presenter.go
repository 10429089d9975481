package render

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/zsiec/nanoplay/internal/logger"
	"github.com/zsiec/nanoplay/internal/metrics"
	"github.com/zsiec/nanoplay/internal/playback/types"
	"github.com/zsiec/nanoplay/internal/queue"
)

const (
	defaultAudioBufferSamples = 1024
	defaultPresenterPoll      = 20 * time.Millisecond
)

// Config holds presenter configuration
type Config struct {
	AudioBufferSamples int
	FPS                int  // video pacing rate
	PaceVideo          bool // limit presents to FPS
	Fullscreen         bool
	PollTimeout        time.Duration
	StopTimeout        time.Duration
	Logger             logger.Logger
}

// PresenterStats is a snapshot of presenter counters.
type PresenterStats struct {
	AudioOpen       bool   `json:"audio_open"`
	VideoOpen       bool   `json:"video_open"`
	AudioUnits      uint64 `json:"audio_units"`
	AudioBytes      uint64 `json:"audio_bytes"`
	VideoFrames     uint64 `json:"video_frames"`
	OutputErrors    uint64 `json:"output_errors"`
	DroppedNoOutput uint64 `json:"dropped_no_output"`
}

// Presenter pulls decoded units from a Source and hands them to the
// outputs. Either output may be nil, in which case its units are consumed
// and counted as dropped.
type Presenter struct {
	cfg    Config
	source Source
	audio  AudioOutput
	video  VideoSurface

	limiter *rate.Limiter

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool

	audioOpen atomic.Bool
	videoOpen atomic.Bool
	audioFail atomic.Bool
	videoFail atomic.Bool

	audioUnits      atomic.Uint64
	audioBytes      atomic.Uint64
	videoFrames     atomic.Uint64
	outputErrors    atomic.Uint64
	droppedNoOutput atomic.Uint64

	logger logger.Logger
}

// NewPresenter creates a presenter.
func NewPresenter(cfg Config, source Source, audio AudioOutput, video VideoSurface) (*Presenter, error) {
	if source == nil {
		return nil, fmt.Errorf("presenter needs a source")
	}
	if cfg.AudioBufferSamples <= 0 {
		cfg.AudioBufferSamples = defaultAudioBufferSamples
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPresenterPoll
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNullLogger()
	}

	p := &Presenter{
		cfg:    cfg,
		source: source,
		audio:  audio,
		video:  video,
		logger: logger.WithComponent(log, "presenter"),
	}
	if cfg.PaceVideo && cfg.FPS > 0 {
		p.limiter = rate.NewLimiter(rate.Every(time.Second/time.Duration(cfg.FPS)), 1)
	}
	return p, nil
}

// Start launches the audio and video loops.
func (p *Presenter) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return fmt.Errorf("presenter already started")
	}
	p.started = true

	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(2)
	go p.audioLoop(ctx)
	go p.videoLoop(ctx)
	return nil
}

// Stop ends both loops and closes any output that was opened.
func (p *Presenter) Stop() error {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var errs []error
	select {
	case <-done:
	case <-time.After(p.cfg.StopTimeout):
		errs = append(errs, fmt.Errorf("presenter loops did not stop within %s", p.cfg.StopTimeout))
	}

	if p.audioOpen.CompareAndSwap(true, false) {
		if err := p.audio.CloseAudio(); err != nil {
			errs = append(errs, fmt.Errorf("closing audio output: %w", err))
		}
	}
	if p.videoOpen.CompareAndSwap(true, false) {
		if err := p.video.CloseVideo(); err != nil {
			errs = append(errs, fmt.Errorf("closing video surface: %w", err))
		}
	}

	s := p.Stats()
	p.logger.WithFields(map[string]interface{}{
		"audio_units":   s.AudioUnits,
		"video_frames":  s.VideoFrames,
		"output_errors": s.OutputErrors,
	}).Info("Presenter stopped")
	return errors.Join(errs...)
}

// done reports whether a pop error ends a loop.
func done(err error) bool {
	return errors.Is(err, queue.ErrQueueClosed) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func (p *Presenter) audioLoop(ctx context.Context) {
	defer p.wg.Done()
	for {
		s, err := p.source.PopAudio(ctx, p.cfg.PollTimeout)
		if err != nil {
			if done(err) {
				return
			}
			continue
		}
		p.presentAudio(s)
	}
}

func (p *Presenter) presentAudio(s types.PCMSample) {
	if p.audio == nil || p.audioFail.Load() {
		p.droppedNoOutput.Add(1)
		return
	}
	if !p.audioOpen.Load() {
		spec := AudioSpec{
			SampleRate:    s.SampleRate,
			Channels:      s.Channels,
			SampleFormat:  s.SampleFormat,
			BufferSamples: p.cfg.AudioBufferSamples,
		}
		if err := p.audio.OpenAudio(spec); err != nil {
			p.audioFail.Store(true)
			p.outputErrors.Add(1)
			p.logger.WithError(err).Error("Failed to open audio output")
			p.droppedNoOutput.Add(1)
			return
		}
		p.audioOpen.Store(true)
		p.logger.WithFields(map[string]interface{}{
			"sample_rate": spec.SampleRate,
			"channels":    spec.Channels,
			"format":      spec.SampleFormat.String(),
			"buffer":      spec.BufferSamples,
		}).Info("Audio output opened")
	}

	if err := p.audio.QueueSamples(s.Data); err != nil {
		p.outputErrors.Add(1)
		p.logger.WithError(err).Warn("Failed to queue samples")
		return
	}
	p.audioUnits.Add(1)
	p.audioBytes.Add(uint64(len(s.Data)))
	metrics.IncrementUnitsPresented("audio")
}

func (p *Presenter) videoLoop(ctx context.Context) {
	defer p.wg.Done()
	for {
		f, err := p.source.PopVideo(ctx, p.cfg.PollTimeout)
		if err != nil {
			if done(err) {
				return
			}
			continue
		}
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return
			}
		}
		p.presentVideo(f)
	}
}

func (p *Presenter) presentVideo(f types.YUVFrame) {
	if p.video == nil || p.videoFail.Load() {
		p.droppedNoOutput.Add(1)
		return
	}
	if !p.videoOpen.Load() {
		spec := VideoSpec{
			Width:       f.Width,
			Height:      f.Height,
			PixelFormat: f.PixelFormat,
			Fullscreen:  p.cfg.Fullscreen,
		}
		if err := p.video.OpenVideo(spec); err != nil {
			p.videoFail.Store(true)
			p.outputErrors.Add(1)
			p.logger.WithError(err).Error("Failed to open video surface")
			p.droppedNoOutput.Add(1)
			return
		}
		p.videoOpen.Store(true)
		p.logger.WithFields(map[string]interface{}{
			"width":  spec.Width,
			"height": spec.Height,
			"format": spec.PixelFormat.String(),
		}).Info("Video surface opened")
	}

	if err := p.video.UpdatePlanarImage(f); err != nil {
		p.outputErrors.Add(1)
		p.logger.WithError(err).Warn("Failed to update surface")
		return
	}
	if err := p.video.Present(); err != nil {
		p.outputErrors.Add(1)
		p.logger.WithError(err).Warn("Failed to present frame")
		return
	}
	p.videoFrames.Add(1)
	metrics.IncrementUnitsPresented("video")
}

// Stats returns presenter statistics.
func (p *Presenter) Stats() PresenterStats {
	return PresenterStats{
		AudioOpen:       p.audioOpen.Load(),
		VideoOpen:       p.videoOpen.Load(),
		AudioUnits:      p.audioUnits.Load(),
		AudioBytes:      p.audioBytes.Load(),
		VideoFrames:     p.videoFrames.Load(),
		OutputErrors:    p.outputErrors.Load(),
		DroppedNoOutput: p.droppedNoOutput.Load(),
	}
}
