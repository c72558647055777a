package tui

import (
	"nexaview/pkg/models"

	"github.com/charmbracelet/lipgloss"
)

// --- Styles ---
var (
	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	titleStyle  = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#00A896")).
			Padding(0, 1).
			Bold(true)
	infoStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B"))
	errStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	boxStyle  = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#02C39A")).
			Padding(0, 1)
	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#3C3C3C")).
			Bold(true)
	tableHeaderStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#FAFAFA")).
				Bold(true).
				Padding(0, 1)
	balanceStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#02C39A")).
			Bold(true)
)

func statusStyle(state models.ConnectionState) lipgloss.Style {
	switch state {
	case models.StateConnected:
		return infoStyle
	case models.StateFailed:
		return errStyle
	default:
		return warnStyle
	}
}
