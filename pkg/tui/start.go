package tui

import (
	"solsync/pkg/watcher"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/cockroachdb/errors"
)

// Start runs the sync console until the user quits.
func Start(w *watcher.Watcher, version string) error {
	Version = version
	m := initialModel(w)
	defer w.Unsubscribe(m.sub)

	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return errors.Wrap(err, "run console")
	}
	return nil
}
