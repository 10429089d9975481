// Package pipeline runs the per-stream decode loop between the encoded-unit
// queue and the playback bridge.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/nanoplay/internal/logger"
	"github.com/zsiec/nanoplay/internal/metrics"
	"github.com/zsiec/nanoplay/internal/playback/codec"
	"github.com/zsiec/nanoplay/internal/playback/types"
	"github.com/zsiec/nanoplay/internal/queue"
)

const (
	defaultPollTimeout = 5 * time.Millisecond
	defaultStopTimeout = 5 * time.Second
)

// Decoder is the part of *codec.Context the worker drives. The worker is
// its only caller while running.
type Decoder interface {
	UpdateCodecParameters(data []byte) error
	Reinit() error
	Submit(unit types.EncodedUnit) error
	Receive() (types.DecodedUnit, error)
	DoResample() bool
}

// Sink receives decoded units in decode order.
type Sink interface {
	Publish(ctx context.Context, unit types.DecodedUnit) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, unit types.DecodedUnit) error

func (f SinkFunc) Publish(ctx context.Context, unit types.DecodedUnit) error {
	return f(ctx, unit)
}

// Config holds worker configuration
type Config struct {
	Stream      string // metrics and log label, "audio" or "video"
	PollTimeout time.Duration
	StopTimeout time.Duration
	Logger      logger.Logger

	// OnFatal is called once, from the worker goroutine, with the first
	// fatal codec error.
	OnFatal func(error)
}

// Stats is a snapshot of worker counters.
type Stats struct {
	Stream        string            `json:"stream"`
	Running       bool              `json:"running"`
	Submitted     uint64            `json:"submitted"`
	Decoded       uint64            `json:"decoded"`
	Converted     uint64            `json:"converted"`
	Dropped       map[string]uint64 `json:"dropped"`
	Parameters    uint64            `json:"parameters"`
	Flushes       uint64            `json:"flushes"`
	WouldBlock    uint64            `json:"would_block"`
	NotReadyPolls uint64            `json:"not_ready_polls"`
	WaitCycles    uint64            `json:"wait_cycles"`
	InputDepth    int               `json:"input_depth"`
	Err           string            `json:"error,omitempty"`
}

// Worker owns one codec context and moves units from its input queue
// through the decoder into a sink.
type Worker struct {
	stream      string
	decoder     Decoder
	input       *queue.Queue[types.EncodedUnit]
	sink        Sink
	pollTimeout time.Duration
	stopTimeout time.Duration
	onFatal     func(error)

	wake    chan struct{}
	pending *types.EncodedUnit

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running atomic.Bool
	err     error

	submitted     atomic.Uint64
	decoded       atomic.Uint64
	converted     atomic.Uint64
	parameters    atomic.Uint64
	flushes       atomic.Uint64
	wouldBlock    atomic.Uint64
	notReadyPolls atomic.Uint64
	waitCycles    atomic.Uint64

	dropMu  sync.Mutex
	dropped map[string]uint64

	metrics       *metrics.StreamMetrics
	logger        logger.Logger
	sampledLogger *logger.SampledLogger
}

// NewWorker creates a worker reading input and publishing to sink.
func NewWorker(cfg Config, dec Decoder, input *queue.Queue[types.EncodedUnit], sink Sink) (*Worker, error) {
	if cfg.Stream == "" {
		return nil, fmt.Errorf("stream label required")
	}
	if dec == nil || input == nil || sink == nil {
		return nil, fmt.Errorf("decoder, input queue and sink are required")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}

	base := cfg.Logger
	if base == nil {
		base = logger.NewNullLogger()
	}
	base = logger.WithStream(logger.WithComponent(base, "decode_worker"), cfg.Stream)

	return &Worker{
		stream:        cfg.Stream,
		decoder:       dec,
		input:         input,
		sink:          sink,
		pollTimeout:   cfg.PollTimeout,
		stopTimeout:   cfg.StopTimeout,
		onFatal:       cfg.OnFatal,
		wake:          make(chan struct{}, 1),
		dropped:       make(map[string]uint64),
		metrics:       metrics.ForStream(cfg.Stream),
		logger:        base,
		sampledLogger: logger.NewPlaybackLogger(base),
	}, nil
}

// Start launches the decode loop. It fails if the worker already ran.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done != nil {
		return fmt.Errorf("%s worker already started", w.stream)
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	w.running.Store(true)
	metrics.SetWorkerState(w.stream, metrics.WorkerRunning)

	go w.run(ctx)

	w.logger.WithField("poll_timeout", w.pollTimeout).Info("Decode worker started")
	return nil
}

// Stop cancels the loop and waits up to the stop timeout for it to exit.
// It does not dispose the codec context.
func (w *Worker) Stop() error {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.mu.Unlock()
	if done == nil {
		return nil
	}

	cancel()

	select {
	case <-done:
	case <-time.After(w.stopTimeout):
		w.logger.Warn("Timeout waiting for decode worker to finish")
		return fmt.Errorf("%s worker did not stop within %s", w.stream, w.stopTimeout)
	}

	s := w.GetStats()
	w.logger.WithFields(map[string]interface{}{
		"submitted":       s.Submitted,
		"decoded":         s.Decoded,
		"converted":       s.Converted,
		"dropped":         s.Dropped,
		"not_ready_polls": s.NotReadyPolls,
		"wait_cycles":     s.WaitCycles,
	}).Info("Decode worker stopped")
	return nil
}

// Done is closed when the loop has exited. It is nil before Start.
func (w *Worker) Done() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.done
}

// Wake ends a pending wait early. It never blocks.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Err returns the fatal error that stopped the worker, if any.
func (w *Worker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Running reports whether the loop is active.
func (w *Worker) Running() bool {
	return w.running.Load()
}

func (w *Worker) run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.WithField("panic", r).Error("Panic in decode worker")
			w.fail(fmt.Errorf("decode worker panic: %v", r))
		}
		w.running.Store(false)
		if w.Err() == nil {
			metrics.SetWorkerState(w.stream, metrics.WorkerStopped)
		}
		close(w.done)
	}()

	for ctx.Err() == nil {
		drained, err := w.drain(ctx)
		if err != nil {
			w.exit(err)
			return
		}

		fed, err := w.feed(ctx)
		if err != nil {
			w.exit(err)
			return
		}

		if drained == 0 && !fed {
			w.wait(ctx)
		}
	}
}

// exit classifies the error that ended the loop.
func (w *Worker) exit(err error) {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
	case errors.Is(err, queue.ErrQueueClosed):
		w.logger.Info("Output closed, decode worker exiting")
	default:
		w.fail(err)
	}
}

func (w *Worker) fail(err error) {
	w.mu.Lock()
	first := w.err == nil
	if first {
		w.err = err
	}
	w.mu.Unlock()
	if !first {
		return
	}

	metrics.SetWorkerState(w.stream, metrics.WorkerFailed)
	w.logger.WithError(err).Error("Fatal codec error, decode worker stopping")
	if w.onFatal != nil {
		w.onFatal(err)
	}
}

// drain publishes every unit the decoder has ready.
func (w *Worker) drain(ctx context.Context) (int, error) {
	n := 0
	for {
		unit, err := w.decoder.Receive()
		if err != nil {
			if errors.Is(err, codec.ErrNotReady) {
				w.notReadyPolls.Add(1)
				return n, nil
			}
			switch {
			case codec.IsFatal(err):
				return n, err
			case codec.IsType(err, codec.ErrorTypeNotReady), codec.IsType(err, codec.ErrorTypeDisposed):
				// No decoder to drain; feed reports the dropped units.
				w.notReadyPolls.Add(1)
				return n, nil
			}
			w.recoverable(err, types.EncodedUnit{})
			continue
		}

		if err := w.sink.Publish(ctx, unit); err != nil {
			return n, err
		}
		n++
		w.decoded.Add(1)
		w.metrics.Decoded.Inc()
		if w.decoder.DoResample() {
			w.converted.Add(1)
			w.metrics.Converted.Inc()
		}
	}
}

// feed hands at most one unit to the decoder. It reports whether a unit
// was consumed.
func (w *Worker) feed(ctx context.Context) (bool, error) {
	var unit types.EncodedUnit
	if w.pending != nil {
		unit = *w.pending
	} else {
		var ok bool
		if unit, ok = w.input.TryDequeue(); !ok {
			if w.input.Closed() {
				return false, queue.ErrQueueClosed
			}
			return false, nil
		}
		metrics.SetQueueDepth(w.stream, "encoded", w.input.Len())
	}

	var err error
	switch {
	case unit.IsFlush():
		err = w.decoder.Reinit()
		if err == nil {
			w.flushes.Add(1)
			w.logger.Debug("Decoder flushed")
		}
	case unit.IsCodecConfig():
		err = w.decoder.UpdateCodecParameters(unit.Data)
		if err == nil {
			w.parameters.Add(1)
			w.logger.WithField("bytes", len(unit.Data)).Debug("Codec parameters applied")
		}
	default:
		err = w.decoder.Submit(unit)
		if errors.Is(err, codec.ErrWouldBlock) {
			w.wouldBlock.Add(1)
			if w.pending == nil {
				w.pending = &unit
			}
			return false, nil
		}
		if err == nil {
			w.submitted.Add(1)
			w.metrics.Submitted.Inc()
		}
	}
	w.pending = nil

	if err != nil {
		if codec.IsFatal(err) {
			return true, err
		}
		w.recoverable(err, unit)
	}
	return true, nil
}

// recoverable logs, counts and drops.
func (w *Worker) recoverable(err error, unit types.EncodedUnit) {
	t := codec.TypeOf(err)
	w.metrics.CodecError(string(t))

	fields := map[string]interface{}{
		"error":    err.Error(),
		"frame_id": unit.FrameID,
	}
	switch t {
	case codec.ErrorTypeConversionFailed:
		w.drop(metrics.ReasonConversionError)
		w.sampledLogger.WarnWithCategory(logger.CategoryConversionError, "Dropping unit after conversion failure", fields)
	case codec.ErrorTypeNotReady, codec.ErrorTypeDisposed:
		w.drop(metrics.ReasonNotReady)
		w.sampledLogger.WarnWithCategory(logger.CategoryNotReady, "Codec context not ready, dropping unit", fields)
	case codec.ErrorTypeParametersLocked:
		w.drop(metrics.ReasonParametersLocked)
		w.sampledLogger.WarnWithCategory(logger.CategorySubmitDrop, "Codec parameters locked, ignoring update", fields)
	default:
		w.drop(metrics.ReasonDecodeError)
		w.sampledLogger.WarnWithCategory(logger.CategoryDecodeError, "Dropping unit after decode failure", fields)
	}
}

func (w *Worker) drop(reason string) {
	w.dropMu.Lock()
	w.dropped[reason]++
	w.dropMu.Unlock()
	w.metrics.Dropped(reason)
}

// wait blocks until input arrives, Wake is called, the poll timeout passes
// or ctx ends. With a unit pending on a full decoder the queue is not
// consulted, only the timer and wake.
func (w *Worker) wait(ctx context.Context) {
	w.waitCycles.Add(1)
	if w.pending == nil {
		w.input.WaitWake(ctx, w.pollTimeout, w.wake)
		return
	}

	timer := time.NewTimer(w.pollTimeout)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-w.wake:
	case <-ctx.Done():
	}
}

// GetStats returns worker statistics.
func (w *Worker) GetStats() Stats {
	w.dropMu.Lock()
	dropped := make(map[string]uint64, len(w.dropped))
	for k, v := range w.dropped {
		dropped[k] = v
	}
	w.dropMu.Unlock()

	s := Stats{
		Stream:        w.stream,
		Running:       w.running.Load(),
		Submitted:     w.submitted.Load(),
		Decoded:       w.decoded.Load(),
		Converted:     w.converted.Load(),
		Dropped:       dropped,
		Parameters:    w.parameters.Load(),
		Flushes:       w.flushes.Load(),
		WouldBlock:    w.wouldBlock.Load(),
		NotReadyPolls: w.notReadyPolls.Load(),
		WaitCycles:    w.waitCycles.Load(),
		InputDepth:    w.input.Len(),
	}
	if err := w.Err(); err != nil {
		s.Err = err.Error()
	}
	return s
}
