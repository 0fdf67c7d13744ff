package tui

import "github.com/charmbracelet/lipgloss"

// completedLayout matches the web app's "MMMM d, yyyy KK:mm aa".
const completedLayout = "January 2, 2006 03:04 PM"

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#5B8DEF")).
			MarginBottom(1)
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#5B8DEF")).
			Padding(0, 1)
	paneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
	focusedPaneStyle = paneStyle.
				BorderForeground(lipgloss.Color("#5B8DEF"))
	hintStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
	ownedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50"))
	blockedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
)
