package tui

import (
	"fmt"
	"strings"
	"time"

	"solsync/pkg/utils"

	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"
)

func (m model) View() string {
	if m.showHelp {
		return m.viewHelp()
	}
	if m.showGraph {
		return m.viewGraph()
	}
	if m.showDetail {
		return m.viewDetail()
	}

	now := time.Now()
	targetWidth := max(m.width-4, 0)

	header := titleStyle.Render("solsync")
	wallet := "Wallet: none"
	if m.status.Wallet != "" {
		wallet = "Wallet: " + m.maskAddress(m.status.Wallet)
	}
	session := "Session: " + sessionLabel(m.status.Session)

	headers := tableHeaderStyle.Render(fmt.Sprintf("%-14s %-12s %6s %-10s %s", "RESOURCE", "KEY", "ITEMS", "STATE", "UPDATED"))
	var rows []string
	for i, r := range m.status.Resources {
		key := r.Key
		if key != "" {
			key = m.maskAddress(key)
		}
		state := resourceState(r)
		styled := stateStyle(state).Render(fmt.Sprintf("%-10s", state))
		row := fmt.Sprintf("%-14s %-12s %6d %s %s", r.Name, utils.TruncateString(key, 12), r.Items, styled, utils.FormatAge(r.LastFetch, now))
		if i == m.selected {
			row = selectedStyle.Render("> ") + row
		} else {
			row = "  " + row
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		rows = append(rows, subtleStyle.Render("No resources bound"))
	}

	var errLines []string
	if r, ok := m.selectedResource(); ok && r.Error != "" {
		errLines = append(errLines, errStyle.Render(utils.TruncateString(r.Error, max(targetWidth-6, 10))))
	}

	block := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{header, wallet, session, "", headers, strings.Join(rows, "\n")}, errLines...)...,
	)
	content := boxStyle.Width(targetWidth).Render(block)

	// Footer
	line1 := "↑/↓:sel • ent:detail • r:refresh • m:more • g:graph • c:copy • P:prv • ?:hlp • q:quit"
	line2 := fmt.Sprintf("v%s", Version)
	var footer string
	if m.width > 0 {
		l1 := subtleStyle.Width(m.width).Align(lipgloss.Center).Render(line1)
		l2 := subtleStyle.Width(m.width).Align(lipgloss.Center).Render(line2)
		footer = lipgloss.JoinVertical(lipgloss.Center, l1, l2)
	} else {
		footer = subtleStyle.Render(line1 + "\n" + line2)
	}
	if m.statusMessage != "" {
		footer = lipgloss.JoinVertical(lipgloss.Center, infoStyle.Render(m.statusMessage), footer)
	}

	// Top bar
	netStyle := infoStyle
	if m.status.Network.Offline() {
		netStyle = errStyle
	}
	leftBlock := netStyle.Render(" Network: " + networkLabel(m.status.Network))
	spinnerView := ""
	if m.busy() {
		spinnerView = m.spinner.View() + " "
	}
	privacyIndicator := ""
	if m.privacyMode {
		privacyIndicator = "🔒 "
	}
	rightBlock := subtleStyle.Render(fmt.Sprintf("%s%sLast event: %s ", privacyIndicator, spinnerView, m.lastUpdate.Format("15:04:05")))
	gap := max(m.width-lipgloss.Width(leftBlock)-lipgloss.Width(rightBlock), 0)
	topBar := lipgloss.JoinHorizontal(lipgloss.Top, leftBlock, strings.Repeat(" ", gap), rightBlock)

	return lipgloss.JoinVertical(lipgloss.Left,
		topBar,
		lipgloss.Place(
			m.width,
			max(m.height-1, 0),
			lipgloss.Center,
			lipgloss.Center,
			lipgloss.JoinVertical(lipgloss.Center, content, "\n", footer),
		),
	)
}

func (m model) viewDetail() string {
	r, ok := m.selectedResource()
	if !ok {
		return "No resource selected."
	}
	title := fmt.Sprintf("Details: %s", r.Name)
	if r.Key != "" {
		title = fmt.Sprintf("Details: %s (%s)", r.Name, m.maskAddress(r.Key))
	}
	header := titleStyle.Render(title)

	hint := "↑/↓ scroll • enter/esc/q: back"
	if pageable[r.Name] {
		hint = "m: load more • " + hint
	}
	footer := subtleStyle.Render(fmt.Sprintf("%d items • %s", r.Items, hint))
	content := boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, header, "\n", m.viewport.View()))

	return lipgloss.Place(
		m.width,
		m.height,
		lipgloss.Center,
		lipgloss.Center,
		lipgloss.JoinVertical(lipgloss.Center, content, "\n", footer),
	)
}

func (m model) viewGraph() string {
	header := titleStyle.Render("Portfolio History")
	var graph, stats string
	if len(m.history) > 1 && !m.privacyMode {
		lo, hi := m.history[0], m.history[0]
		for _, v := range m.history {
			lo, hi = min(lo, v), max(hi, v)
		}
		stats = subtleStyle.Render(fmt.Sprintf("Low: $%s • High: $%s • Samples: %d",
			utils.FormatFloat(lo, 2), utils.FormatFloat(hi, 2), len(m.history)))
		graph = asciigraph.Plot(m.history,
			asciigraph.Height(max(m.height-14, 1)),
			asciigraph.Width(max(m.width-18, 10)),
			asciigraph.Caption("Portfolio Value History (USD)"),
		)
	} else if m.privacyMode {
		graph = "Hidden in Privacy Mode."
	} else {
		graph = "Not enough data to draw graph."
	}

	content := boxStyle.Render(lipgloss.JoinVertical(lipgloss.Center, header, "\n", stats, "\n", graph))
	footer := subtleStyle.Render("g/q/esc: back")

	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, lipgloss.JoinVertical(lipgloss.Center, content, "\n", footer))
}

func (m model) viewHelp() string {
	shortcuts := []string{
		"↑/k ↓/j: Select Resource",
		"enter: Show Cached Items",
		"r: Refresh All Resources",
		"m: Load Next Page (trending, assets)",
		"g: Portfolio History Graph",
		"c: Copy Wallet Address",
		"P: Toggle Privacy",
		"q: Quit",
		"?: Toggle Help",
	}

	header := titleStyle.Render("Help")
	content := boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, header, "\n", strings.Join(shortcuts, "\n")))
	footer := subtleStyle.Render("Press '?' or 'esc' to close")

	return lipgloss.Place(
		m.width,
		m.height,
		lipgloss.Center,
		lipgloss.Center,
		lipgloss.JoinVertical(lipgloss.Center, content, "\n", footer),
	)
}
