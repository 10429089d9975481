package playback

import (
	"context"
	"os"
	"time"

	"github.com/zsiec/nanoplay/internal/metrics"
	"github.com/zsiec/nanoplay/internal/playback/bridge"
	"github.com/zsiec/nanoplay/internal/playback/codec"
	"github.com/zsiec/nanoplay/internal/playback/frame"
	"github.com/zsiec/nanoplay/internal/playback/pipeline"
	"github.com/zsiec/nanoplay/internal/playback/registry"
	"github.com/zsiec/nanoplay/internal/playback/render"
	"github.com/zsiec/nanoplay/internal/playback/types"
	"github.com/zsiec/nanoplay/internal/queue"
)

const registryTimeout = 2 * time.Second

// StreamStats is the state of one stream.
type StreamStats struct {
	Format    string          `json:"format"`
	Reference Reference       `json:"reference"`
	Context   codec.Stats     `json:"context"`
	Worker    *pipeline.Stats `json:"worker,omitempty"`
	Input     queue.Stats     `json:"input"`
	Error     string          `json:"error,omitempty"`

	Audio *frame.AudioAssemblerStats `json:"audio_assembler,omitempty"`
	Video *frame.VideoAssemblerStats `json:"video_assembler,omitempty"`
}

// Stats is a snapshot of the whole session.
type Stats struct {
	SessionID string                 `json:"session_id"`
	State     string                 `json:"state"`
	Backend   string                 `json:"backend"`
	StartedAt time.Time              `json:"started_at,omitempty"`
	Uptime    string                 `json:"uptime,omitempty"`
	Audio     *StreamStats           `json:"audio,omitempty"`
	Video     *StreamStats           `json:"video,omitempty"`
	Bridge    bridge.Stats           `json:"bridge"`
	Presenter *render.PresenterStats `json:"presenter,omitempty"`
}

// GetStats returns a snapshot of every component.
func (p *Player) GetStats() Stats {
	st := Stats{
		SessionID: p.id,
		State:     p.State().String(),
		Backend:   p.lib.Name(),
		Bridge:    p.bridge.Stats(),
	}

	p.mu.Lock()
	started := p.startedAt
	pres := p.presenter
	p.mu.Unlock()

	if !started.IsZero() {
		st.StartedAt = started
		st.Uptime = time.Since(started).Round(time.Second).String()
	}
	if pres != nil {
		ps := pres.Stats()
		st.Presenter = &ps
	}

	if p.audio != nil {
		ss := p.audio.stats()
		as := p.audioAsm.GetStats()
		ss.Audio = &as
		st.Audio = &ss
	}
	if p.video != nil {
		ss := p.video.stats()
		vs := p.videoAsm.GetStats()
		ss.Video = &vs
		st.Video = &ss
	}
	return st
}

func (s *stream) stats() StreamStats {
	ss := StreamStats{
		Context: s.codec.GetStats(),
		Input:   s.input.Stats(),
	}
	ss.Format = ss.Context.Format

	s.mu.Lock()
	ss.Reference = s.ref
	if s.fatal != nil {
		ss.Error = s.fatal.Error()
	}
	w := s.worker
	s.mu.Unlock()

	if w != nil {
		ws := w.GetStats()
		ss.Worker = &ws
	}
	return ss
}

func (p *Player) sessionStats() *registry.SessionStats {
	st := &registry.SessionStats{
		AudioQueued: p.bridge.Len(types.KindAudio),
		VideoQueued: p.bridge.Len(types.KindVideo),
	}
	for _, s := range p.streams() {
		cs := s.codec.GetStats()
		if s.kind == types.KindAudio {
			st.AudioDecoded = cs.Decoded
		} else {
			st.VideoDecoded = cs.Decoded
		}
		if w := s.getWorker(); w != nil {
			for _, n := range w.GetStats().Dropped {
				st.Dropped += n
			}
		}
	}
	return st
}

// register publishes the session. Registry failures are logged, never
// fatal to playback.
func (p *Player) register(ctx context.Context) {
	if p.registry == nil {
		return
	}
	host := p.cfg.Host
	if host == "" {
		host, _ = os.Hostname()
	}
	sess := &registry.Session{
		ID:          p.id,
		Status:      registry.StatusStarting,
		Backend:     p.lib.Name(),
		AudioFormat: p.formatString(types.KindAudio),
		VideoFormat: p.formatString(types.KindVideo),
		Host:        host,
	}

	ctx, cancel := context.WithTimeout(ctx, registryTimeout)
	defer cancel()
	if err := p.registry.Register(ctx, sess); err != nil {
		p.logger.WithError(err).Warn("Failed to register session")
	}
}

func (p *Player) setStatus(status registry.Status, message string) {
	if p.registry == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), registryTimeout)
	defer cancel()
	if err := p.registry.UpdateStatus(ctx, p.id, status, message); err != nil {
		p.logger.WithError(err).WithField("status", status).Warn("Failed to update session status")
	}
}

func (p *Player) heartbeatLoop(ctx context.Context) {
	defer p.heartbeat.Done()

	ticker := time.NewTicker(p.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.beat(ctx)
		}
	}
}

func (p *Player) beat(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, registryTimeout)
	defer cancel()

	if err := p.registry.UpdateStats(ctx, p.id, p.sessionStats()); err != nil {
		p.logger.WithError(err).Warn("Failed to publish session heartbeat")
		return
	}
	if sessions, err := p.registry.List(ctx); err == nil {
		metrics.SetActiveSessions(len(sessions))
	}
}
