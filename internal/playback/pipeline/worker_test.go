package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/nanoplay/internal/metrics"
	"github.com/zsiec/nanoplay/internal/playback/codec"
	"github.com/zsiec/nanoplay/internal/playback/codec/codectest"
	"github.com/zsiec/nanoplay/internal/playback/types"
	"github.com/zsiec/nanoplay/internal/queue"
)

type collector struct {
	mu    sync.Mutex
	units []types.DecodedUnit
}

func (c *collector) Publish(_ context.Context, u types.DecodedUnit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.units = append(c.units, u)
	return nil
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.units)
}

func (c *collector) frameIDs() []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]uint32, 0, len(c.units))
	for _, u := range c.units {
		switch v := u.(type) {
		case types.PCMSample:
			ids = append(ids, v.FrameID)
		case types.YUVFrame:
			ids = append(ids, v.FrameID)
		}
	}
	return ids
}

func audioContext(t *testing.T, lib codec.Library, create bool) *codec.Context {
	t.Helper()
	ctx := codec.NewContext(lib)
	require.NoError(t, ctx.Initialize(codec.Audio(types.AudioFormat{
		Codec:        types.CodecAAC,
		SampleRate:   48000,
		Channels:     2,
		SampleFormat: types.SampleFormatFLT,
	})))
	if create {
		require.NoError(t, ctx.CreateDecoderContext())
	}
	t.Cleanup(func() { _ = ctx.Dispose() })
	return ctx
}

func startWorker(t *testing.T, dec Decoder, cfg Config) (*Worker, *queue.Queue[types.EncodedUnit], *collector) {
	t.Helper()
	if cfg.Stream == "" {
		cfg.Stream = "test"
	}
	in := queue.New[types.EncodedUnit](64, queue.PolicyBlock)
	out := &collector{}
	w, err := NewWorker(cfg, dec, in, out)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })
	return w, in, out
}

func content(b byte, id uint32) types.EncodedUnit {
	return types.EncodedUnit{Kind: types.KindAudio, Data: []byte{b, 1, 2}, FrameID: id, Received: time.Now()}
}

func TestNewWorkerValidation(t *testing.T) {
	in := queue.New[types.EncodedUnit](1, queue.PolicyBlock)
	dec := audioContext(t, codectest.New(codectest.Config{}), false)

	_, err := NewWorker(Config{}, dec, in, &collector{})
	assert.Error(t, err)
	_, err = NewWorker(Config{Stream: "audio"}, nil, in, &collector{})
	assert.Error(t, err)
	_, err = NewWorker(Config{Stream: "audio"}, dec, in, nil)
	assert.Error(t, err)

	w, err := NewWorker(Config{Stream: "audio"}, dec, in, &collector{})
	require.NoError(t, err)
	assert.Equal(t, defaultPollTimeout, w.pollTimeout)
	assert.Equal(t, defaultStopTimeout, w.stopTimeout)
	assert.NoError(t, w.Stop(), "stop before start is a no-op")
}

func TestWorkerPreservesOrder(t *testing.T) {
	lib := codectest.New(codectest.Config{InputCapacity: 2, OutputDelay: 1})
	ctx := audioContext(t, lib, true)
	w, in, out := startWorker(t, ctx, Config{})

	const n = 50
	for i := 1; i <= n; i++ {
		require.NoError(t, in.Enqueue(context.Background(), content(byte(i), uint32(i))))
	}

	// OutputDelay holds the last packet back until something follows it.
	require.Eventually(t, func() bool { return out.len() == n-1 }, 2*time.Second, 5*time.Millisecond)

	ids := out.frameIDs()
	for i, id := range ids {
		assert.Equal(t, uint32(i+1), id)
	}

	s := w.GetStats()
	assert.Equal(t, uint64(n), s.Submitted)
	assert.Equal(t, uint64(n-1), s.Decoded)
	assert.Equal(t, uint64(n-1), s.Converted, "FLTP decoder output is converted to FLT")
	assert.Empty(t, s.Dropped)
}

func TestWorkerAppliesCodecConfig(t *testing.T) {
	lib := codectest.New(codectest.Config{})
	ctx := audioContext(t, lib, true)
	w, in, out := startWorker(t, ctx, Config{})

	asc := []byte{0x11, 0x90}
	require.NoError(t, in.Enqueue(context.Background(), types.EncodedUnit{Data: asc, Flags: types.FlagCodecConfig}))
	require.NoError(t, in.Enqueue(context.Background(), content(1, 1)))

	require.Eventually(t, func() bool { return out.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, asc, lib.Decoders()[0].ExtraData())

	// Parameters lock once content went in; the update is dropped, not fatal.
	require.NoError(t, in.Enqueue(context.Background(), types.EncodedUnit{Data: []byte{0x12, 0x10}, Flags: types.FlagCodecConfig}))
	require.NoError(t, in.Enqueue(context.Background(), content(2, 2)))
	require.Eventually(t, func() bool { return out.len() == 2 }, time.Second, 5*time.Millisecond)

	s := w.GetStats()
	assert.Equal(t, uint64(1), s.Parameters)
	assert.Equal(t, uint64(1), s.Dropped[metrics.ReasonParametersLocked])
	assert.Equal(t, asc, lib.Decoders()[0].ExtraData())
	assert.NoError(t, w.Err())
}

func TestWorkerFlushUnit(t *testing.T) {
	lib := codectest.New(codectest.Config{OutputDelay: 3})
	ctx := audioContext(t, lib, true)
	w, in, out := startWorker(t, ctx, Config{})

	for i := 1; i <= 3; i++ {
		require.NoError(t, in.Enqueue(context.Background(), content(byte(i), uint32(i))))
	}
	require.NoError(t, in.Enqueue(context.Background(), types.EncodedUnit{Flags: types.FlagFlush}))
	for i := 10; i <= 14; i++ {
		require.NoError(t, in.Enqueue(context.Background(), content(byte(i), uint32(i))))
	}

	require.Eventually(t, func() bool { return out.len() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []uint32{10, 11}, out.frameIDs(), "units held before the flush are discarded")
	assert.Equal(t, 1, lib.Decoders()[0].Flushes())
	assert.Equal(t, uint64(1), w.GetStats().Flushes)
	assert.Equal(t, uint64(1), ctx.Epoch())
}

func TestWorkerDropsCorruptUnits(t *testing.T) {
	lib := codectest.New(codectest.Config{})
	ctx := audioContext(t, lib, true)
	w, in, out := startWorker(t, ctx, Config{})

	require.NoError(t, in.Enqueue(context.Background(), content(1, 1)))
	require.NoError(t, in.Enqueue(context.Background(), content(codectest.CorruptMarker, 2)))
	require.NoError(t, in.Enqueue(context.Background(), content(3, 3)))

	require.Eventually(t, func() bool { return out.len() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []uint32{1, 3}, out.frameIDs())
	assert.Equal(t, uint64(1), w.GetStats().Dropped[metrics.ReasonDecodeError])
	assert.NoError(t, w.Err())
	assert.True(t, w.Running())
}

func TestWorkerConversionFailureIsRecoverable(t *testing.T) {
	lib := codectest.New(codectest.Config{ConvertErr: errors.New("swr failed")})
	ctx := audioContext(t, lib, true)
	w, in, _ := startWorker(t, ctx, Config{})

	require.NoError(t, in.Enqueue(context.Background(), content(1, 1)))
	require.NoError(t, in.Enqueue(context.Background(), content(2, 2)))

	require.Eventually(t, func() bool {
		return w.GetStats().Dropped[metrics.ReasonConversionError] == 2
	}, time.Second, 5*time.Millisecond)
	assert.True(t, w.Running())
}

func TestWorkerNotReadyDropsUnits(t *testing.T) {
	lib := codectest.New(codectest.Config{})
	ctx := audioContext(t, lib, false)
	w, in, out := startWorker(t, ctx, Config{})

	require.NoError(t, in.Enqueue(context.Background(), content(1, 1)))
	require.NoError(t, in.Enqueue(context.Background(), content(2, 2)))

	require.Eventually(t, func() bool {
		return w.GetStats().Dropped[metrics.ReasonNotReady] == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, out.len())
	assert.NoError(t, w.Err())
}

// scripted is a Decoder whose Submit results are queued by the test.
type scripted struct {
	mu       sync.Mutex
	submits  []error
	accepted []types.EncodedUnit
	ready    []types.DecodedUnit
	calls    int
}

func (s *scripted) UpdateCodecParameters([]byte) error { return nil }
func (s *scripted) Reinit() error                      { return nil }
func (s *scripted) DoResample() bool                   { return false }

func (s *scripted) Submit(u types.EncodedUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.submits) > 0 {
		err := s.submits[0]
		s.submits = s.submits[1:]
		if err != nil {
			return err
		}
	}
	s.accepted = append(s.accepted, u)
	s.ready = append(s.ready, types.PCMSample{FrameID: u.FrameID})
	return nil
}

func (s *scripted) Receive() (types.DecodedUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ready) == 0 {
		return nil, codec.ErrNotReady
	}
	u := s.ready[0]
	s.ready = s.ready[1:]
	return u, nil
}

func (s *scripted) submitCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestWorkerRetriesAfterWouldBlock(t *testing.T) {
	dec := &scripted{submits: []error{codec.ErrWouldBlock, codec.ErrWouldBlock, nil, nil}}
	w, in, out := startWorker(t, dec, Config{PollTimeout: time.Millisecond})

	require.NoError(t, in.Enqueue(context.Background(), content(1, 7)))
	require.NoError(t, in.Enqueue(context.Background(), content(2, 8)))

	require.Eventually(t, func() bool { return out.len() == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []uint32{7, 8}, out.frameIDs())
	assert.Equal(t, 4, dec.submitCalls())
	assert.Equal(t, uint64(2), w.GetStats().WouldBlock)
	assert.Equal(t, uint64(2), w.GetStats().Submitted)
}

func TestWorkerStopsOnFatalError(t *testing.T) {
	fatal := &codec.Error{Type: codec.ErrorTypeDecoderOpenFailed, Op: "submit", Message: "device lost"}
	dec := &scripted{submits: []error{nil, fatal}}

	reported := make(chan error, 1)
	w, in, out := startWorker(t, dec, Config{OnFatal: func(err error) { reported <- err }})

	for i := 1; i <= 3; i++ {
		require.NoError(t, in.Enqueue(context.Background(), content(byte(i), uint32(i))))
	}

	select {
	case err := <-reported:
		assert.True(t, codec.IsType(err, codec.ErrorTypeDecoderOpenFailed))
	case <-time.After(time.Second):
		t.Fatal("fatal error not reported")
	}

	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("worker did not exit")
	}
	assert.False(t, w.Running())
	assert.ErrorIs(t, w.Err(), &codec.Error{Type: codec.ErrorTypeDecoderOpenFailed})
	assert.Equal(t, 1, out.len())
	assert.Equal(t, 1, in.Len(), "units after the failure stay queued")
	assert.Contains(t, w.GetStats().Err, "device lost")
}

func TestWorkerWakeEndsWait(t *testing.T) {
	dec := &scripted{submits: []error{codec.ErrWouldBlock}}
	w, in, out := startWorker(t, dec, Config{PollTimeout: time.Hour})

	require.NoError(t, in.Enqueue(context.Background(), content(1, 1)))
	require.Eventually(t, func() bool { return w.GetStats().WouldBlock == 1 }, time.Second, time.Millisecond)

	// The pending unit waits on the hour-long timer until woken.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, out.len())

	w.Wake()
	require.Eventually(t, func() bool { return out.len() == 1 }, time.Second, time.Millisecond)
}

func TestWorkerIdleDoesNotSpin(t *testing.T) {
	dec := &scripted{}
	w, _, _ := startWorker(t, dec, Config{PollTimeout: 20 * time.Millisecond})

	time.Sleep(100 * time.Millisecond)
	cycles := w.GetStats().WaitCycles
	assert.GreaterOrEqual(t, cycles, uint64(2))
	assert.LessOrEqual(t, cycles, uint64(10))
}

func TestWorkerStopLeavesContextOpen(t *testing.T) {
	lib := codectest.New(codectest.Config{})
	ctx := audioContext(t, lib, true)
	w, in, out := startWorker(t, ctx, Config{})

	require.NoError(t, in.Enqueue(context.Background(), content(1, 1)))
	require.Eventually(t, func() bool { return out.len() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, w.Stop())
	assert.False(t, w.Running())
	assert.Equal(t, codec.StateContextCreated, ctx.State())
	assert.False(t, lib.Decoders()[0].Closed())
	assert.NoError(t, w.Stop(), "second stop is harmless")
	assert.Error(t, w.Start(context.Background()), "a worker runs once")
}

func TestWorkerExitsWhenInputClosed(t *testing.T) {
	dec := &scripted{}
	w, in, out := startWorker(t, dec, Config{})

	require.NoError(t, in.Enqueue(context.Background(), content(1, 1)))
	in.Close()

	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("worker did not exit after input closed")
	}
	assert.Equal(t, 1, out.len(), "queued units are decoded before exit")
	assert.NoError(t, w.Err())
}

func TestWorkerSinkClosedStops(t *testing.T) {
	dec := &scripted{}
	in := queue.New[types.EncodedUnit](4, queue.PolicyBlock)
	sink := SinkFunc(func(context.Context, types.DecodedUnit) error { return queue.ErrQueueClosed })
	w, err := NewWorker(Config{Stream: "test"}, dec, in, sink)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))

	require.NoError(t, in.Enqueue(context.Background(), content(1, 1)))
	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("worker did not exit after sink closed")
	}
	assert.NoError(t, w.Err())
}
