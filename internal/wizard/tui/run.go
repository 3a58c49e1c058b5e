package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/muurk/miiobridge/internal/config"
)

// Run starts the wizard in the alternate screen and blocks until the
// user leaves it.
func Run(registry *config.Registry) error {
	program := tea.NewProgram(NewAppModel(registry), tea.WithAltScreen())
	_, err := program.Run()
	return err
}
