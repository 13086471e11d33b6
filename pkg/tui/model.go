package tui

import (
	"time"

	"solsync/pkg/watcher"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Version is set by Start()
var Version = "dev"

// --- Messages ---

type clearStatusMsg struct{}
type uiTickMsg time.Time

type refreshDoneMsg struct{ err error }

type loadMoreDoneMsg struct {
	resource string
	loaded   bool
	err      error
}

// --- Model ---

type model struct {
	watcher       *watcher.Watcher
	sub           watcher.Subscriber
	status        watcher.Status
	history       []float64
	width         int
	height        int
	spinner       spinner.Model
	viewport      viewport.Model
	selected      int
	refreshing    bool
	loadingMore   string
	lastUpdate    time.Time
	statusMessage string
	showDetail    bool
	showGraph     bool
	showHelp      bool
	privacyMode   bool
}

func initialModel(w *watcher.Watcher) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return model{
		watcher:    w,
		sub:        w.Subscribe(),
		status:     w.Status(),
		history:    w.PortfolioHistory(),
		spinner:    s,
		viewport:   viewport.New(0, 0),
		lastUpdate: time.Now(),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		listenForWatcher(m.sub),
		m.spinner.Tick,
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return uiTickMsg(t) }),
	)
}

// busy reports whether any resource is fetching, for the spinner.
func (m model) busy() bool {
	if m.refreshing || m.loadingMore != "" {
		return true
	}
	for _, r := range m.status.Resources {
		if r.IsLoading || r.IsRefetching {
			return true
		}
	}
	return false
}
