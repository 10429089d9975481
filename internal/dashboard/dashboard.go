// Package dashboard renders live playback statistics in the terminal.
package dashboard

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/zsiec/nanoplay/internal/playback"
	"github.com/zsiec/nanoplay/internal/playback/render"
	"github.com/zsiec/nanoplay/internal/queue"
)

const (
	refreshInterval = 250 * time.Millisecond
	historyLen      = 40
)

// StatsSource returns the current session statistics.
type StatsSource func() playback.Stats

// Model is the bubbletea model of the playback dashboard.
type Model struct {
	source StatsSource

	mu         sync.RWMutex
	stats      playback.Stats
	fetched    bool
	audioRate  []float64
	videoRate  []float64
	lastAudio  uint64
	lastVideo  uint64
	lastSample time.Time
	width      int
	quitting   bool
}

type tickMsg time.Time
type statsMsg playback.Stats

// NewModel creates a dashboard over source.
func NewModel(source StatsSource) *Model {
	return &Model{source: source}
}

// Init implements tea.Model
func (m *Model) Init() tea.Cmd {
	return tea.Batch(tickEvery(refreshInterval), m.fetch())
}

// Update implements tea.Model
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.mu.Lock()
		m.width = msg.Width
		m.mu.Unlock()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.mu.Lock()
			m.quitting = true
			m.mu.Unlock()
			return m, tea.Quit
		case "r":
			return m, m.fetch()
		}

	case tickMsg:
		m.mu.RLock()
		quitting := m.quitting
		m.mu.RUnlock()
		if quitting {
			return m, nil
		}
		return m, tea.Batch(tickEvery(refreshInterval), m.fetch())

	case statsMsg:
		m.record(playback.Stats(msg), time.Now())
		return m, nil
	}
	return m, nil
}

// record stores a snapshot and appends decode rates to the history.
func (m *Model) record(st playback.Stats, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	audio, video := decoded(st.Audio), decoded(st.Video)
	if m.fetched && !m.lastSample.IsZero() {
		if elapsed := now.Sub(m.lastSample).Seconds(); elapsed > 0 {
			m.audioRate = appendHistory(m.audioRate, rate(audio, m.lastAudio, elapsed))
			m.videoRate = appendHistory(m.videoRate, rate(video, m.lastVideo, elapsed))
		}
	}
	m.stats = st
	m.fetched = true
	m.lastAudio, m.lastVideo = audio, video
	m.lastSample = now
}

func decoded(ss *playback.StreamStats) uint64 {
	if ss == nil {
		return 0
	}
	return ss.Context.Decoded
}

// rate is zero when the counter went backwards, as after a restart.
func rate(cur, prev uint64, seconds float64) float64 {
	if cur < prev {
		return 0
	}
	return float64(cur-prev) / seconds
}

func appendHistory(h []float64, v float64) []float64 {
	h = append(h, v)
	if len(h) > historyLen {
		h = h[len(h)-historyLen:]
	}
	return h
}

// View implements tea.Model
func (m *Model) View() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.quitting {
		return "Shutting down dashboard...\n"
	}
	if !m.fetched {
		return MutedStyle.Render("Waiting for playback statistics...") + "\n"
	}

	width := m.width
	if width == 0 {
		width = 100
	}
	st := m.stats

	header := HeaderStyle.Width(width - 2).Render(fmt.Sprintf("NANOPLAY  %s  %s", st.SessionID, StateBadge(st.State)))
	sections := []string{header, m.sessionLine(st)}

	panelWidth := width/2 - 3
	if panelWidth < 30 {
		panelWidth = width - 4
	}
	var streams []string
	if st.Audio != nil {
		streams = append(streams, m.streamPanel("AUDIO", st.Audio, st.Bridge.Audio, m.audioRate, panelWidth))
	}
	if st.Video != nil {
		streams = append(streams, m.streamPanel("VIDEO", st.Video, st.Bridge.Video, m.videoRate, panelWidth))
	}
	if width/2-3 >= 30 {
		sections = append(sections, lipgloss.JoinHorizontal(lipgloss.Top, streams...))
	} else {
		sections = append(sections, streams...)
	}

	if st.Presenter != nil {
		sections = append(sections, m.presenterPanel(st.Presenter, width-4))
	}
	sections = append(sections, MutedStyle.Render("q quit • r refresh"))
	return lipgloss.JoinVertical(lipgloss.Left, sections...) + "\n"
}

func (m *Model) sessionLine(st playback.Stats) string {
	parts := []string{
		"backend " + ValueStyle.Render(st.Backend),
	}
	if st.Uptime != "" {
		parts = append(parts, "uptime "+ValueStyle.Render(st.Uptime))
	}
	return " " + strings.Join(parts, MutedStyle.Render("  │  "))
}

func (m *Model) streamPanel(title string, ss *playback.StreamStats, out queue.Stats, history []float64, width int) string {
	lines := []string{
		PanelTitleStyle.Render(title) + "  " + StateBadge(ss.Context.State),
		MutedStyle.Render(ss.Format),
		fmt.Sprintf("decoded   %s", ValueStyle.Render(formatNumber(ss.Context.Decoded))),
		fmt.Sprintf("errors    %s", errorCount(ss.Context.DecodeErrors+ss.Context.ConversionErrors)),
		fmt.Sprintf("epoch     %d", ss.Context.Epoch),
		fmt.Sprintf("encoded   %s %d/%d", progressBar(ss.Input.Depth, ss.Input.Capacity, 12), ss.Input.Depth, ss.Input.Capacity),
		fmt.Sprintf("decoded q %s %d/%d", progressBar(out.Depth, out.Capacity, 12), out.Depth, out.Capacity),
		fmt.Sprintf("dropped   %s", dropRate(ss.Input.Dropped+out.Dropped, ss.Input.Enqueued+out.Enqueued)),
	}
	if ss.Context.DoResample {
		lines = append(lines, InfoStyle.Render("converting output"))
	}
	if len(history) > 0 {
		lines = append(lines, fmt.Sprintf("%s %s/s", SuccessStyle.Render(sparkline(history, 20)), formatRate(history[len(history)-1])))
	}
	if ss.Error != "" {
		lines = append(lines, ErrorStyle.Render(truncate(ss.Error, width-2)))
	}
	return PanelStyle.Width(width).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func (m *Model) presenterPanel(ps *render.PresenterStats, width int) string {
	audio, video := InactiveStyle.Render("closed"), InactiveStyle.Render("closed")
	if ps.AudioOpen {
		audio = ActiveStyle.Render("open")
	}
	if ps.VideoOpen {
		video = ActiveStyle.Render("open")
	}
	lines := []string{
		PanelTitleStyle.Render("OUTPUT"),
		fmt.Sprintf("audio %s  %s units  %s", audio, ValueStyle.Render(formatNumber(ps.AudioUnits)), formatBytes(ps.AudioBytes)),
		fmt.Sprintf("video %s  %s frames", video, ValueStyle.Render(formatNumber(ps.VideoFrames))),
	}
	if ps.OutputErrors > 0 || ps.DroppedNoOutput > 0 {
		lines = append(lines, fmt.Sprintf("errors %s  unrouted %s", errorCount(ps.OutputErrors), formatNumber(ps.DroppedNoOutput)))
	}
	return PanelStyle.Width(width).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func tickEvery(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *Model) fetch() tea.Cmd {
	source := m.source
	return func() tea.Msg {
		return statsMsg(source())
	}
}

// Run shows the dashboard until the user quits or ctx ends.
func Run(ctx context.Context, source StatsSource) error {
	prog := tea.NewProgram(NewModel(source), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := prog.Run()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func progressBar(value int64, capacity, width int) string {
	if capacity <= 0 {
		return MutedStyle.Render(strings.Repeat("·", width))
	}
	filled := int(value) * width / capacity
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	style := SuccessStyle
	switch pct := int(value) * 100 / capacity; {
	case pct >= 90:
		style = ErrorStyle
	case pct >= 60:
		style = WarningStyle
	}
	return style.Render(strings.Repeat("█", filled)) + MutedStyle.Render(strings.Repeat("░", width-filled))
}

func sparkline(data []float64, width int) string {
	if len(data) == 0 {
		return strings.Repeat("▁", width)
	}
	minVal, maxVal := data[0], data[0]
	for _, v := range data {
		minVal = min(minVal, v)
		maxVal = max(maxVal, v)
	}
	if maxVal == minVal {
		return strings.Repeat("▄", width)
	}

	sparkChars := []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}
	var b strings.Builder
	for i := 0; i < width; i++ {
		idx := i * len(data) / width
		normalized := (data[idx] - minVal) / (maxVal - minVal)
		b.WriteRune(sparkChars[min(int(normalized*7), 7)])
	}
	return b.String()
}

func formatNumber(n uint64) string {
	switch {
	case n >= 1_000_000_000:
		return fmt.Sprintf("%.1fB", float64(n)/1e9)
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1e6)
	case n >= 1000:
		return fmt.Sprintf("%.1fK", float64(n)/1e3)
	}
	return fmt.Sprintf("%d", n)
}

func formatRate(r float64) string {
	if r >= 100 {
		return fmt.Sprintf("%.0f", r)
	}
	return fmt.Sprintf("%.1f", r)
}

func formatBytes(bytes uint64) string {
	switch {
	case bytes >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(bytes)/(1<<30))
	case bytes >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(bytes)/(1<<20))
	case bytes >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(bytes)/(1<<10))
	}
	return fmt.Sprintf("%d B", bytes)
}

func dropRate(dropped, total uint64) string {
	if total == 0 || dropped == 0 {
		return SuccessStyle.Render("0%")
	}
	pct := float64(dropped) / float64(total) * 100
	switch {
	case pct < 1:
		return ValueStyle.Render(fmt.Sprintf("%.2f%%", pct))
	case pct < 5:
		return WarningStyle.Render(fmt.Sprintf("%.1f%%", pct))
	}
	return ErrorStyle.Render(fmt.Sprintf("%.1f%%", pct))
}

func errorCount(n uint64) string {
	if n == 0 {
		return SuccessStyle.Render("0")
	}
	return ErrorStyle.Render(formatNumber(n))
}

func truncate(s string, n int) string {
	if n <= 3 || len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
