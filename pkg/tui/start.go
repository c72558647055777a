package tui

import (
	"fmt"
	"os"

	"nexaview/pkg/config"
	"nexaview/pkg/watcher"

	tea "github.com/charmbracelet/bubbletea"
)

func Start(w *watcher.Watcher, cfg config.Config, version string) {
	Version = version
	p := tea.NewProgram(
		initialModel(w, cfg),
		tea.WithAltScreen(),
		tea.WithReportFocus(),
	)

	if _, err := p.Run(); err != nil {
		fmt.Printf("Alas, there's been an error: %v", err)
		os.Exit(1)
	}
}
