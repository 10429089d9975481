package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/nanoplay/internal/playback/types"
	"github.com/zsiec/nanoplay/internal/queue"
)

func TestBridgeRoutesByKind(t *testing.T) {
	b := New(Config{Capacity: 4, Policy: queue.PolicyBlock}, nil)
	ctx := context.Background()

	require.NoError(t, b.Publish(ctx, types.PCMSample{FrameID: 1}))
	require.NoError(t, b.Publish(ctx, types.YUVFrame{FrameID: 2}))
	require.NoError(t, b.Publish(ctx, types.PCMSample{FrameID: 3}))

	assert.Equal(t, 2, b.Len(types.KindAudio))
	assert.Equal(t, 1, b.Len(types.KindVideo))
	assert.Equal(t, 0, b.Len(types.StreamKind(9)))

	s, ok := b.TryPopAudio()
	require.True(t, ok)
	assert.Equal(t, uint32(1), s.FrameID)
	f, ok := b.TryPopVideo()
	require.True(t, ok)
	assert.Equal(t, uint32(2), f.FrameID)

	assert.Error(t, b.Publish(ctx, nil))
}

func TestBridgePreservesOrderAcrossGoroutines(t *testing.T) {
	b := New(Config{Capacity: 8, Policy: queue.PolicyBlock}, nil)
	ctx := context.Background()
	const n = 500

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			if err := b.PushVideo(ctx, types.YUVFrame{FrameID: uint32(i)}); err != nil {
				return
			}
		}
	}()

	for i := 0; i < n; i++ {
		f, err := b.PopVideo(ctx, time.Second)
		require.NoError(t, err)
		require.Equal(t, uint32(i), f.FrameID)
	}
	wg.Wait()

	s := b.Stats().Video
	assert.Equal(t, uint64(n), s.Enqueued)
	assert.Equal(t, uint64(n), s.Dequeued)
	assert.Zero(t, s.Dropped)
}

func TestBridgeDropOldest(t *testing.T) {
	b := New(Config{Capacity: 2, Policy: queue.PolicyDropOldest}, nil)
	ctx := context.Background()
	for i := 1; i <= 4; i++ {
		require.NoError(t, b.PushAudio(ctx, types.PCMSample{FrameID: uint32(i)}))
	}

	s, err := b.PopAudio(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), s.FrameID)
	assert.Equal(t, uint64(2), b.Stats().Audio.Dropped)
	assert.Equal(t, "drop_oldest", b.Stats().Audio.Policy)
}

func TestBridgeBlockPolicyHonoursContext(t *testing.T) {
	b := New(Config{Capacity: 1, Policy: queue.PolicyBlock}, nil)
	require.NoError(t, b.PushAudio(context.Background(), types.PCMSample{}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := b.PushAudio(ctx, types.PCMSample{})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestBridgePopTimeoutAndClose(t *testing.T) {
	b := New(Config{}, nil)
	ctx := context.Background()

	_, err := b.PopVideo(ctx, 5*time.Millisecond)
	assert.ErrorIs(t, err, queue.ErrTimeout)

	require.NoError(t, b.PushVideo(ctx, types.YUVFrame{FrameID: 9}))
	b.Close()
	assert.ErrorIs(t, b.PushVideo(ctx, types.YUVFrame{}), queue.ErrQueueClosed)

	f, err := b.PopVideo(ctx, time.Millisecond)
	require.NoError(t, err, "queued units survive close")
	assert.Equal(t, uint32(9), f.FrameID)
	_, err = b.PopVideo(ctx, time.Millisecond)
	assert.ErrorIs(t, err, queue.ErrQueueClosed)
}

func TestBridgeChannelViewCancelKeepsPendingUnit(t *testing.T) {
	b := New(Config{Capacity: 4, Policy: queue.PolicyBlock}, nil)
	require.NoError(t, b.PushAudio(context.Background(), types.PCMSample{FrameID: 1}))
	require.NoError(t, b.PushAudio(context.Background(), types.PCMSample{FrameID: 2}))

	ctx, cancel := context.WithCancel(context.Background())
	units := b.AudioUnits(ctx)
	require.Eventually(t, func() bool { return b.Len(types.KindAudio) == 1 }, time.Second, time.Millisecond,
		"the channel view holds the head unit")

	cancel()
	require.Eventually(t, func() bool { return b.Len(types.KindAudio) == 2 }, time.Second, time.Millisecond,
		"the undelivered unit goes back to the queue")
	select {
	case _, ok := <-units:
		require.False(t, ok, "no unit is delivered after cancel")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}

	s, ok := b.TryPopAudio()
	require.True(t, ok)
	assert.Equal(t, uint32(1), s.FrameID)
	s, ok = b.TryPopAudio()
	require.True(t, ok)
	assert.Equal(t, uint32(2), s.FrameID)
	assert.Equal(t, uint64(2), b.Stats().Audio.Dequeued)
}

func TestBridgeChannelView(t *testing.T) {
	b := New(Config{Capacity: 16, Policy: queue.PolicyBlock}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	units := b.AudioUnits(ctx)
	for i := 0; i < 3; i++ {
		require.NoError(t, b.PushAudio(ctx, types.PCMSample{FrameID: uint32(i)}))
	}
	for i := 0; i < 3; i++ {
		select {
		case s := <-units:
			assert.Equal(t, uint32(i), s.FrameID)
		case <-time.After(time.Second):
			t.Fatal("unit not delivered")
		}
	}

	b.Close()
	select {
	case _, ok := <-units:
		assert.False(t, ok, "channel closes with the bridge")
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
}

func TestBridgeChannelViewStopsOnCancel(t *testing.T) {
	b := New(Config{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	frames := b.VideoUnits(ctx)
	cancel()

	select {
	case _, ok := <-frames:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}
