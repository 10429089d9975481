package dashboard

import "github.com/charmbracelet/lipgloss"

// Palette
var (
	accent  = lipgloss.Color("#FF6B35")
	info    = lipgloss.Color("#1E88E5")
	good    = lipgloss.Color("#4CAF50")
	warn    = lipgloss.Color("#FFB74D")
	bad     = lipgloss.Color("#F44336")
	text    = lipgloss.Color("#E0E0E0")
	bright  = lipgloss.Color("#FFFFFF")
	muted   = lipgloss.Color("#90A4AE")
	live    = lipgloss.Color("#66BB6A")
	offline = lipgloss.Color("#424242")
	headBg  = lipgloss.Color("#1C2128")
	border  = lipgloss.Color("#30363D")
)

func bold(c lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(c).Bold(true)
}

var (
	HeaderStyle = bold(bright).
			Background(headBg).
			Align(lipgloss.Center).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accent)

	PanelStyle = lipgloss.NewStyle().
			Foreground(text).
			Padding(0, 1).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(border)

	PanelTitleStyle = bold(accent)
	SuccessStyle    = bold(good)
	ErrorStyle      = bold(bad)
	WarningStyle    = bold(warn)
	InfoStyle       = bold(info)
	ValueStyle      = bold(bright)
	ActiveStyle     = bold(live)
	InactiveStyle   = bold(offline)
	MutedStyle      = lipgloss.NewStyle().Foreground(muted)
)

// StateBadge renders a player, codec or session state with a marker.
func StateBadge(state string) string {
	switch state {
	case "running", "playing", "context_created":
		return ActiveStyle.Render("● " + state)
	case "error":
		return ErrorStyle.Render("✖ " + state)
	case "idle", "initialized", "starting":
		return WarningStyle.Render("◌ " + state)
	}
	return InactiveStyle.Render("○ " + state)
}
