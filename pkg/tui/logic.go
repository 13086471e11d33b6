package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"solsync/pkg/models"
	"solsync/pkg/store"
	"solsync/pkg/utils"
	"solsync/pkg/watcher"

	tea "github.com/charmbracelet/bubbletea"
)

// pageable lists the resources that support load-more.
var pageable = map[string]bool{
	store.ResourceTrending: true,
	store.ResourceAssets:   true,
}

func networkLabel(st models.NetworkState) string {
	switch {
	case st.IsOnline == models.Unknown:
		return "checking..."
	case st.Offline():
		return "offline"
	case st.IsInternetReachable == models.Unknown:
		return fmt.Sprintf("online (%s, reachability unknown)", st.ConnectionType)
	}
	return fmt.Sprintf("online (%s)", st.ConnectionType)
}

func sessionLabel(s models.Session) string {
	switch {
	case s.IsAuthenticated && s.User != nil && s.IsReady:
		return "signed in " + s.User.ID
	case s.IsAuthenticated && s.User != nil:
		return "cached session " + s.User.ID
	case !s.IsReady:
		return "waiting for identity provider"
	}
	return "signed out"
}

// resourceState is the one-word state shown in the resource table.
func resourceState(r watcher.ResourceStatus) string {
	switch {
	case r.IsLoading:
		return "loading"
	case r.IsRefetching:
		return "refreshing"
	case r.Error != "" && r.HasData:
		return "stale"
	case r.Error != "":
		return "error"
	case r.HasData:
		return "ok"
	}
	return "empty"
}

func (m model) selectedResource() (watcher.ResourceStatus, bool) {
	if m.selected < 0 || m.selected >= len(m.status.Resources) {
		return watcher.ResourceStatus{}, false
	}
	return m.status.Resources[m.selected], true
}

// detailContent renders the items held by resource r for the detail viewport.
func (m model) detailContent(r watcher.ResourceStatus) string {
	var rows []string
	switch r.Name {
	case store.ResourcePortfolio:
		res := m.watcher.Portfolio().Result()
		if res.Data == nil {
			break
		}
		rows = append(rows, fmt.Sprintf("Total: %s", m.displayUSD(res.Data.TotalUSD)))
		for _, it := range res.Data.Items {
			rows = append(rows, fmt.Sprintf("  %-8s %14s %14s",
				utils.TruncateString(it.Symbol, 8),
				m.maskString(utils.FormatDecimal(it.UIAmount, 4)),
				m.displayUSD(it.ValueUSD)))
		}
	case store.ResourceTrending:
		for _, t := range m.watcher.Trending().View() {
			rows = append(rows, fmt.Sprintf("  #%-3d %-10s %14s %9s",
				t.Rank, utils.TruncateString(t.Symbol, 10), utils.FormatUSD(t.PriceUSD), utils.FormatPercent(t.Price24hChangePercent)))
		}
	case store.ResourceAssets:
		for _, a := range m.watcher.Assets().View() {
			name := a.Name
			if a.CollectionName != "" {
				name += " (" + a.CollectionName + ")"
			}
			rows = append(rows, fmt.Sprintf("  %-12s %s", utils.ShortenAddress(a.ID, 4), utils.TruncateString(name, 40)))
		}
	case store.ResourceTransactions:
		res := m.watcher.Transactions().Result()
		if res.Data == nil {
			break
		}
		for _, tx := range *res.Data {
			state := infoStyle.Render("ok ")
			if !tx.Success {
				state = errStyle.Render("err")
			}
			rows = append(rows, fmt.Sprintf("  %s %-12s %-10s %s",
				state, utils.ShortenAddress(tx.Signature, 4), utils.TruncateString(tx.MainAction, 10), tx.BlockTime.Format("01-02 15:04")))
		}
	case store.ResourceProfile:
		if res := m.watcher.Profile().Result(); res.Data != nil {
			rows = append(rows, "  Username: "+res.Data.Username, "  Name:     "+res.Data.DisplayName)
		}
	case store.ResourceOverview:
		if res := m.watcher.TokenOverview(context.Background(), r.Key).Result(); res.Data != nil {
			o := res.Data
			rows = append(rows,
				fmt.Sprintf("  %s (%s)", o.Name, o.Symbol),
				"  Price:      "+utils.FormatUSD(o.PriceUSD),
				"  Market cap: "+utils.FormatUSD(o.MarketCap),
				"  Volume 24h: "+utils.FormatUSD(o.Volume24hUSD),
				fmt.Sprintf("  Holders:    %d", o.Holders))
		}
	}
	if r.Error != "" {
		rows = append(rows, "", errStyle.Render("Last error: "+r.Error))
	}
	if len(rows) == 0 {
		return "Nothing cached yet."
	}
	return strings.Join(rows, "\n")
}

func (m *model) updateDetailViewport() {
	r, ok := m.selectedResource()
	if !ok {
		m.viewport.SetContent("")
		return
	}
	m.viewport.SetContent(m.detailContent(r))
}

// refreshStatus re-reads the watcher after an event.
func (m *model) refreshStatus(now time.Time) {
	m.status = m.watcher.Status()
	m.history = m.watcher.PortfolioHistory()
	m.lastUpdate = now
	if m.selected >= len(m.status.Resources) {
		m.selected = max(len(m.status.Resources)-1, 0)
	}
	if m.showDetail {
		m.updateDetailViewport()
	}
}

func listenForWatcher(sub watcher.Subscriber) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-sub
		if !ok {
			return nil
		}
		return ev
	}
}
