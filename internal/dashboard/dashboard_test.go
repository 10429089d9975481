package dashboard

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/nanoplay/internal/playback"
	"github.com/zsiec/nanoplay/internal/playback/codec"
	"github.com/zsiec/nanoplay/internal/playback/render"
	"github.com/zsiec/nanoplay/internal/queue"
)

func sampleStats(audioDecoded uint64) playback.Stats {
	return playback.Stats{
		SessionID: "session-1",
		State:     "running",
		Backend:   "native",
		Uptime:    "12s",
		Audio: &playback.StreamStats{
			Format:  "aac 48000Hz 2ch flt",
			Context: codec.Stats{State: "context_created", Decoded: audioDecoded, DoResample: true},
			Input:   queue.Stats{Depth: 3, Capacity: 10, Enqueued: 100, Dropped: 10},
		},
		Video: &playback.StreamStats{
			Format:  "h264 1280x720@30 yuv420p",
			Context: codec.Stats{State: "context_created", Decoded: 42},
			Error:   "DECODER_OPEN_FAILED: boom",
		},
		Presenter: &render.PresenterStats{AudioOpen: true, AudioUnits: 5, AudioBytes: 2048, VideoFrames: 7},
	}
}

func TestModelView(t *testing.T) {
	m := NewModel(func() playback.Stats { return sampleStats(0) })
	assert.Contains(t, m.View(), "Waiting")

	_, cmd := m.Update(statsMsg(sampleStats(10)))
	assert.Nil(t, cmd)

	view := m.View()
	for _, want := range []string{"session-1", "native", "AUDIO", "VIDEO", "OUTPUT", "converting output", "DECODER_OPEN_FAILED", "2.0 KB"} {
		assert.Contains(t, view, want)
	}
	assert.Contains(t, view, "10.0%", "drop rate combines both queues")
}

func TestModelNarrowLayoutStacksPanels(t *testing.T) {
	m := NewModel(func() playback.Stats { return sampleStats(0) })
	m.Update(tea.WindowSizeMsg{Width: 50, Height: 40})
	m.Update(statsMsg(sampleStats(1)))

	view := m.View()
	audio := strings.Index(view, "AUDIO")
	video := strings.Index(view, "VIDEO")
	require.True(t, audio >= 0 && video >= 0)
	assert.Greater(t, strings.Count(view[audio:video], "\n"), 2)
}

func TestModelRecordsDecodeRate(t *testing.T) {
	m := NewModel(nil)
	now := time.Now()
	m.record(sampleStats(0), now)
	m.record(sampleStats(50), now.Add(time.Second))
	m.record(sampleStats(10), now.Add(2*time.Second))

	require.Len(t, m.audioRate, 2)
	assert.InDelta(t, 50.0, m.audioRate[0], 0.001)
	assert.Zero(t, m.audioRate[1], "a counter reset yields zero, not a negative rate")

	for i := 0; i < historyLen+5; i++ {
		m.record(sampleStats(0), now.Add(time.Duration(3+i)*time.Second))
	}
	assert.Len(t, m.audioRate, historyLen)
}

func TestModelKeys(t *testing.T) {
	calls := 0
	m := NewModel(func() playback.Stats {
		calls++
		return sampleStats(uint64(calls))
	})

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	require.NotNil(t, cmd)
	msg := cmd()
	_, ok := msg.(statsMsg)
	assert.True(t, ok)
	assert.Equal(t, 1, calls)

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
	assert.Contains(t, m.View(), "Shutting down")

	_, cmd = m.Update(tickMsg(time.Now()))
	assert.Nil(t, cmd, "no refresh after quitting")
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "999", formatNumber(999))
	assert.Equal(t, "1.5K", formatNumber(1500))
	assert.Equal(t, "2.0M", formatNumber(2_000_000))
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.0 MB", formatBytes(1<<20))
	assert.Equal(t, "abcd...", truncate("abcdefghij", 7))
	assert.Equal(t, "short", truncate("short", 10))

	assert.Equal(t, strings.Repeat("▄", 5), sparkline([]float64{3, 3}, 5))
	line := sparkline([]float64{0, 10}, 4)
	assert.Equal(t, "▁▁██", line)
}
