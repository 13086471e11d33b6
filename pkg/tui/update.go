package tui

import (
	"context"
	"fmt"
	"time"

	"solsync/pkg/retry"
	"solsync/pkg/store"
	"solsync/pkg/watcher"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/cockroachdb/errors"
)

func clearStatusAfter(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return clearStatusMsg{}
	})
}

func (m model) refreshCmd() tea.Cmd {
	w := m.watcher
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		return refreshDoneMsg{err: w.RefreshAll(ctx)}
	}
}

func (m model) loadMoreCmd(resource string) tea.Cmd {
	w := m.watcher
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		var (
			loaded bool
			err    error
		)
		switch resource {
		case store.ResourceTrending:
			loaded, err = w.Trending().LoadMore(ctx)
		case store.ResourceAssets:
			loaded, err = w.Assets().LoadMore(ctx)
		}
		return loadMoreDoneMsg{resource: resource, loaded: loaded, err: err}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.viewport.Width = max(msg.Width-8, 0)
		m.viewport.Height = max(msg.Height-10, 0)

	case watcher.Event:
		cmds = append(cmds, listenForWatcher(m.sub))
		m.refreshStatus(time.Now())

	case refreshDoneMsg:
		m.refreshing = false
		m.refreshStatus(time.Now())
		switch {
		case errors.Is(msg.err, retry.ErrOffline):
			m.statusMessage = "Offline: showing cached data"
		case msg.err != nil:
			m.statusMessage = fmt.Sprintf("Refresh finished with errors: %v", msg.err)
		default:
			m.statusMessage = "All resources refreshed"
		}
		cmds = append(cmds, clearStatusAfter(3*time.Second))

	case loadMoreDoneMsg:
		m.loadingMore = ""
		m.refreshStatus(time.Now())
		switch {
		case msg.err != nil:
			m.statusMessage = fmt.Sprintf("Load more %s failed: %v", msg.resource, msg.err)
		case !msg.loaded:
			m.statusMessage = fmt.Sprintf("No more %s to load", msg.resource)
		default:
			m.statusMessage = fmt.Sprintf("Loaded more %s", msg.resource)
		}
		cmds = append(cmds, clearStatusAfter(2*time.Second))

	case tea.KeyMsg:
		if msg.String() == "?" {
			m.showHelp = !m.showHelp
			return m, nil
		}
		if m.showHelp {
			if msg.String() == "q" || msg.String() == "esc" {
				m.showHelp = false
			}
			return m, nil
		}

		if m.showDetail {
			switch msg.String() {
			case "q", "esc", "enter":
				m.showDetail = false
				return m, nil
			case "m":
				return m.startLoadMore()
			}
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

		if m.showGraph {
			switch msg.String() {
			case "q", "esc", "g":
				m.showGraph = false
			}
			return m, nil
		}

		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "up", "k":
			if m.selected > 0 {
				m.selected--
			}
		case "down", "j":
			if m.selected < len(m.status.Resources)-1 {
				m.selected++
			}
		case "enter":
			if _, ok := m.selectedResource(); ok {
				m.showDetail = true
				m.updateDetailViewport()
				m.viewport.YOffset = 0
			}
		case "g":
			m.showGraph = true
		case "P":
			m.privacyMode = !m.privacyMode
		case "r":
			if !m.refreshing {
				m.refreshing = true
				m.statusMessage = "Refreshing all resources..."
				cmds = append(cmds, m.refreshCmd())
			}
		case "m":
			return m.startLoadMore()
		case "c":
			if m.status.Wallet == "" {
				m.statusMessage = "No active wallet"
			} else if err := clipboard.WriteAll(m.status.Wallet); err != nil {
				m.statusMessage = "Failed to copy to clipboard"
			} else if m.privacyMode {
				m.statusMessage = "Full address copied (Privacy Mode active)!"
			} else {
				m.statusMessage = "Wallet address copied to clipboard!"
			}
			cmds = append(cmds, clearStatusAfter(2*time.Second))
		}

	case uiTickMsg:
		m.status = m.watcher.Status()
		cmds = append(cmds, tea.Tick(time.Second, func(t time.Time) tea.Msg { return uiTickMsg(t) }))

	case clearStatusMsg:
		m.statusMessage = ""
	}

	var cmd tea.Cmd
	m.spinner, cmd = m.spinner.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// startLoadMore requests the next page of the selected resource.
func (m model) startLoadMore() (tea.Model, tea.Cmd) {
	r, ok := m.selectedResource()
	if !ok || !pageable[r.Name] {
		m.statusMessage = "Selected resource has no pages"
		return m, clearStatusAfter(2 * time.Second)
	}
	if m.loadingMore != "" {
		return m, nil
	}
	m.loadingMore = r.Name
	m.statusMessage = fmt.Sprintf("Loading more %s...", r.Name)
	return m, m.loadMoreCmd(r.Name)
}
