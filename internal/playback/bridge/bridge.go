// Package bridge hands decoded units from the decode workers to the
// presentation side. Each stream has its own FIFO; there is no ordering
// between streams.
package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/zsiec/nanoplay/internal/logger"
	"github.com/zsiec/nanoplay/internal/metrics"
	"github.com/zsiec/nanoplay/internal/playback/types"
	"github.com/zsiec/nanoplay/internal/queue"
)

// Config sizes the per-stream queues.
type Config struct {
	Capacity int
	Policy   queue.Policy
}

// Stats holds both queue snapshots.
type Stats struct {
	Audio queue.Stats `json:"audio"`
	Video queue.Stats `json:"video"`
}

// Bridge is the decoded-unit queue pair.
type Bridge struct {
	audio *queue.Queue[types.PCMSample]
	video *queue.Queue[types.YUVFrame]

	logger        logger.Logger
	sampledLogger *logger.SampledLogger
}

// New creates a bridge. A zero capacity makes both queues unbounded.
func New(cfg Config, log logger.Logger) *Bridge {
	if log == nil {
		log = logger.NewNullLogger()
	}
	log = logger.WithComponent(log, "bridge")

	b := &Bridge{
		audio:         queue.New[types.PCMSample](cfg.Capacity, cfg.Policy),
		video:         queue.New[types.YUVFrame](cfg.Capacity, cfg.Policy),
		logger:        log,
		sampledLogger: logger.NewPlaybackLogger(log),
	}
	b.audio.OnDrop(func(s types.PCMSample) { b.dropped("audio", s.FrameID) })
	b.video.OnDrop(func(f types.YUVFrame) { b.dropped("video", f.FrameID) })
	return b
}

func (b *Bridge) dropped(stream string, frameID uint32) {
	metrics.IncrementUnitsDropped(stream, metrics.ReasonQueueFull)
	b.sampledLogger.WarnWithCategory(logger.CategoryQueueDrop, "Decoded queue full, evicting oldest unit", map[string]interface{}{
		"stream":   stream,
		"frame_id": frameID,
	})
}

// Publish routes a decoded unit to the queue of its kind.
func (b *Bridge) Publish(ctx context.Context, unit types.DecodedUnit) error {
	switch u := unit.(type) {
	case types.PCMSample:
		return b.PushAudio(ctx, u)
	case types.YUVFrame:
		return b.PushVideo(ctx, u)
	}
	return fmt.Errorf("bridge: unexpected unit %T", unit)
}

// PushAudio appends a sample block. Under the block policy it waits for
// room until ctx ends.
func (b *Bridge) PushAudio(ctx context.Context, s types.PCMSample) error {
	if err := b.audio.Enqueue(ctx, s); err != nil {
		return err
	}
	metrics.SetQueueDepth("audio", "decoded", b.audio.Len())
	return nil
}

// PushVideo appends a frame.
func (b *Bridge) PushVideo(ctx context.Context, f types.YUVFrame) error {
	if err := b.video.Enqueue(ctx, f); err != nil {
		return err
	}
	metrics.SetQueueDepth("video", "decoded", b.video.Len())
	return nil
}

// PopAudio waits up to timeout for the next sample block. It returns
// queue.ErrTimeout when none arrived and queue.ErrQueueClosed once the
// bridge is closed and empty.
func (b *Bridge) PopAudio(ctx context.Context, timeout time.Duration) (types.PCMSample, error) {
	s, err := b.audio.DequeueContext(ctx, timeout)
	if err == nil {
		metrics.SetQueueDepth("audio", "decoded", b.audio.Len())
	}
	return s, err
}

// PopVideo waits up to timeout for the next frame.
func (b *Bridge) PopVideo(ctx context.Context, timeout time.Duration) (types.YUVFrame, error) {
	f, err := b.video.DequeueContext(ctx, timeout)
	if err == nil {
		metrics.SetQueueDepth("video", "decoded", b.video.Len())
	}
	return f, err
}

func (b *Bridge) TryPopAudio() (types.PCMSample, bool) {
	return b.audio.TryDequeue()
}

func (b *Bridge) TryPopVideo() (types.YUVFrame, bool) {
	return b.video.TryDequeue()
}

// Len returns the number of units waiting for kind.
func (b *Bridge) Len(kind types.StreamKind) int {
	switch kind {
	case types.KindAudio:
		return b.audio.Len()
	case types.KindVideo:
		return b.video.Len()
	}
	return 0
}

// AudioUnits streams sample blocks on a channel until ctx ends or the
// bridge is closed and drained; the channel is then closed. The channel
// and the Pop methods share one FIFO, so each unit reaches one consumer.
func (b *Bridge) AudioUnits(ctx context.Context) <-chan types.PCMSample {
	return pump(ctx, b.audio)
}

// VideoUnits is AudioUnits for frames.
func (b *Bridge) VideoUnits(ctx context.Context) <-chan types.YUVFrame {
	return pump(ctx, b.video)
}

func pump[T any](ctx context.Context, q *queue.Queue[T]) <-chan T {
	ch := make(chan T)
	go func() {
		defer close(ch)
		for {
			item, err := q.Dequeue(ctx)
			if err != nil {
				return
			}
			select {
			case ch <- item:
			case <-ctx.Done():
				// Nobody took it; the next consumer gets it first.
				q.Requeue(item)
				return
			}
		}
	}()
	return ch
}

// Close stops both queues. Queued units can still be popped.
func (b *Bridge) Close() {
	b.audio.Close()
	b.video.Close()
}

// Stats returns both queue snapshots.
func (b *Bridge) Stats() Stats {
	return Stats{Audio: b.audio.Stats(), Video: b.video.Stats()}
}
