package tui

import "github.com/charmbracelet/lipgloss"

// Solana brand colors.
const (
	solPurple = lipgloss.Color("#9945FF")
	solGreen  = lipgloss.Color("#14F195")
	solWhite  = lipgloss.Color("#FAFAFA")
)

var (
	subtleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	titleStyle    = lipgloss.NewStyle().Foreground(solWhite).Background(solGreen).Padding(0, 1).Bold(true)
	infoStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575"))
	warnStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B"))
	errStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F56"))
	selectedStyle = lipgloss.NewStyle().Foreground(solPurple).Bold(true)

	boxStyle         = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(solPurple).Padding(0, 1)
	tableHeaderStyle = lipgloss.NewStyle().Foreground(solWhite).Bold(true).Padding(0, 1)
)

// stateStyles colors the resource states returned by resourceState.
var stateStyles = map[string]lipgloss.Style{
	"ok":         infoStyle,
	"error":      errStyle,
	"stale":      warnStyle,
	"loading":    warnStyle,
	"refreshing": warnStyle,
}

func stateStyle(state string) lipgloss.Style {
	if s, ok := stateStyles[state]; ok {
		return s
	}
	return subtleStyle
}
