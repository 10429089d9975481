// Package ingest receives RTP over UDP and feeds the payloads to a player
// as encoded fragments.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"

	"github.com/zsiec/nanoplay/internal/logger"
	"github.com/zsiec/nanoplay/internal/metrics"
	"github.com/zsiec/nanoplay/internal/playback/frame"
	"github.com/zsiec/nanoplay/internal/playback/types"
)

// Target accepts fragments from the network.
type Target interface {
	PushEncodedAudioFragment(frag frame.Fragment) error
	PushEncodedVideoFragment(frag frame.Fragment) error
	Reinit(kind types.StreamKind) error
}

// Config configures a Listener. A zero port picks an ephemeral port.
type Config struct {
	ListenAddr     string
	AudioPort      int
	VideoPort      int
	DisableAudio   bool
	DisableVideo   bool
	BufferSize     int
	ReadTimeout    time.Duration
	MaxPacketBytes int
	// ReinitOnSSRC resets a stream when its sender changes SSRC.
	ReinitOnSSRC bool
	Logger       logger.Logger
}

// StreamStats counts packets on one socket.
type StreamStats struct {
	Packets     uint64 `json:"packets"`
	Bytes       uint64 `json:"bytes"`
	ParseErrors uint64 `json:"parse_errors"`
	Rejected    uint64 `json:"rejected"`
	SSRCChanges uint64 `json:"ssrc_changes"`
	SSRC        uint32 `json:"ssrc"`
}

// Stats reports both sockets.
type Stats struct {
	Audio StreamStats `json:"audio"`
	Video StreamStats `json:"video"`
}

type stream struct {
	kind types.StreamKind
	conn *net.UDPConn

	packets     atomic.Uint64
	bytes       atomic.Uint64
	parseErrors atomic.Uint64
	rejected    atomic.Uint64
	ssrcChanges atomic.Uint64
	ssrc        atomic.Uint32
	ssrcSeen    atomic.Bool
}

func (s *stream) stats() StreamStats {
	return StreamStats{
		Packets:     s.packets.Load(),
		Bytes:       s.bytes.Load(),
		ParseErrors: s.parseErrors.Load(),
		Rejected:    s.rejected.Load(),
		SSRCChanges: s.ssrcChanges.Load(),
		SSRC:        s.ssrc.Load(),
	}
}

// Listener reads one UDP socket per stream kind.
type Listener struct {
	cfg    Config
	target Target
	logger *logger.SampledLogger

	audio *stream
	video *stream

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewListener creates a listener feeding target.
func NewListener(cfg Config, target Target) (*Listener, error) {
	if target == nil {
		return nil, errors.New("ingest target required")
	}
	if cfg.DisableAudio && cfg.DisableVideo {
		return nil, errors.New("at least one stream must be enabled")
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = time.Second
	}
	if cfg.MaxPacketBytes <= 0 {
		cfg.MaxPacketBytes = 1500
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &Listener{
		cfg:    cfg,
		target: target,
		logger: logger.NewPlaybackLogger(logger.WithComponent(log, "rtp_listener")),
	}, nil
}

// Start opens the sockets and begins reading.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return errors.New("listener already started")
	}

	var opened []*stream
	closeOpened := func() {
		for _, s := range opened {
			s.conn.Close()
		}
	}
	if !l.cfg.DisableAudio {
		s, err := l.open(types.KindAudio, l.cfg.AudioPort)
		if err != nil {
			return err
		}
		l.audio = s
		opened = append(opened, s)
	}
	if !l.cfg.DisableVideo {
		s, err := l.open(types.KindVideo, l.cfg.VideoPort)
		if err != nil {
			closeOpened()
			return err
		}
		l.video = s
		opened = append(opened, s)
	}

	ctx, l.cancel = context.WithCancel(ctx)
	for _, s := range opened {
		l.wg.Add(1)
		go l.readLoop(ctx, s)
	}
	l.started = true

	fields := map[string]interface{}{"address": l.cfg.ListenAddr}
	if l.audio != nil {
		fields["audio_addr"] = l.audio.conn.LocalAddr().String()
	}
	if l.video != nil {
		fields["video_addr"] = l.video.conn.LocalAddr().String()
	}
	l.logger.WithFields(fields).Info("RTP listener started")
	return nil
}

func (l *Listener) open(kind types.StreamKind, port int) (*stream, error) {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(l.cfg.ListenAddr, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s address: %w", kind, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s port: %w", kind, err)
	}
	if l.cfg.BufferSize > 0 {
		if err := conn.SetReadBuffer(l.cfg.BufferSize); err != nil {
			l.logger.WithError(err).Warn("Failed to set read buffer size")
		}
	}
	return &stream{kind: kind, conn: conn}, nil
}

// Stop closes the sockets and waits for the readers.
func (l *Listener) Stop() error {
	l.mu.Lock()
	if !l.started {
		l.mu.Unlock()
		return nil
	}
	l.started = false
	l.cancel()
	for _, s := range []*stream{l.audio, l.video} {
		if s != nil {
			s.conn.Close()
		}
	}
	l.mu.Unlock()

	l.wg.Wait()
	l.logger.Info("RTP listener stopped")
	return nil
}

// AudioAddr returns the bound audio address, or nil.
func (l *Listener) AudioAddr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.audio == nil {
		return nil
	}
	return l.audio.conn.LocalAddr()
}

// VideoAddr returns the bound video address, or nil.
func (l *Listener) VideoAddr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.video == nil {
		return nil
	}
	return l.video.conn.LocalAddr()
}

// GetStats returns packet counters.
func (l *Listener) GetStats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	var st Stats
	if l.audio != nil {
		st.Audio = l.audio.stats()
	}
	if l.video != nil {
		st.Video = l.video.stats()
	}
	return st
}

func (l *Listener) readLoop(ctx context.Context, s *stream) {
	defer l.wg.Done()

	name := s.kind.String()
	// One spare byte detects datagrams larger than the limit.
	buf := make([]byte, l.cfg.MaxPacketBytes+1)

	for {
		if ctx.Err() != nil {
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(l.cfg.ReadTimeout))

		n, _, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			l.logger.WithError(err).Error("Failed to read RTP packet")
			continue
		}

		s.packets.Add(1)
		s.bytes.Add(uint64(n))
		if n > l.cfg.MaxPacketBytes {
			s.rejected.Add(1)
			metrics.IncrementUnitsDropped(name, metrics.ReasonPacketParse)
			l.logger.DebugWithCategory(logger.CategoryAssembly, "Oversized RTP packet", map[string]interface{}{
				"stream": name,
				"limit":  l.cfg.MaxPacketBytes,
			})
			continue
		}

		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			s.parseErrors.Add(1)
			metrics.IncrementUnitsDropped(name, metrics.ReasonPacketParse)
			l.logger.DebugWithCategory(logger.CategoryAssembly, "Failed to parse RTP packet", map[string]interface{}{
				"stream": name,
				"error":  err.Error(),
			})
			continue
		}

		l.trackSSRC(s, pkt.SSRC)

		frag := frame.FromRTP(pkt)
		// The read buffer is reused for the next datagram.
		frag.Payload = append([]byte(nil), pkt.Payload...)

		if s.kind == types.KindAudio {
			err = l.target.PushEncodedAudioFragment(frag)
		} else {
			err = l.target.PushEncodedVideoFragment(frag)
		}
		if err != nil {
			l.logger.WarnWithCategory(logger.CategorySubmitDrop, "Fragment rejected", map[string]interface{}{
				"stream": name,
				"error":  err.Error(),
			})
		}
	}
}

func (l *Listener) trackSSRC(s *stream, ssrc uint32) {
	if !s.ssrcSeen.Load() {
		s.ssrc.Store(ssrc)
		s.ssrcSeen.Store(true)
		return
	}
	prev := s.ssrc.Swap(ssrc)
	if prev == ssrc {
		return
	}

	s.ssrcChanges.Add(1)
	l.logger.WithFields(map[string]interface{}{
		"stream":   s.kind.String(),
		"old_ssrc": prev,
		"new_ssrc": ssrc,
	}).Info("Sender changed SSRC")

	if l.cfg.ReinitOnSSRC {
		if err := l.target.Reinit(s.kind); err != nil {
			l.logger.WithError(err).Warn("Reinit after SSRC change failed")
		}
	}
}
