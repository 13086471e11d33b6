package tui

import (
	"context"
	"testing"
	"time"

	"solsync/pkg/models"
	"solsync/pkg/rpc"
	"solsync/pkg/store"
	"solsync/pkg/watcher"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWallet = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"

type stubSource struct{}

func (stubSource) Portfolio(ctx context.Context, wallet string) (models.Portfolio, error) {
	return models.Portfolio{
		Wallet:   wallet,
		TotalUSD: decimal.RequireFromString("100.50"),
		Items: []models.PortfolioItem{
			{Symbol: "USDC", UIAmount: decimal.RequireFromString("100.5"), ValueUSD: decimal.RequireFromString("100.50")},
		},
	}, nil
}

func (stubSource) Trending(ctx context.Context, offset, limit int) (rpc.TrendingPage, error) {
	return rpc.TrendingPage{
		Tokens:   []models.TrendingToken{{Address: "bonk", Symbol: "BONK", Rank: 1}},
		Limit:    limit,
		Received: 1,
	}, nil
}

func (stubSource) Assets(ctx context.Context, owner, cursor string, limit int) (rpc.AssetsPage, error) {
	return rpc.AssetsPage{}, nil
}

func (stubSource) Transactions(ctx context.Context, wallet string, limit int) ([]models.Transaction, error) {
	return nil, nil
}

func (stubSource) TokenOverview(ctx context.Context, mint string) (models.TokenOverview, error) {
	return models.TokenOverview{Address: mint}, nil
}

func (stubSource) Profile(ctx context.Context) (models.Profile, error) {
	return models.Profile{Username: "alice"}, nil
}

func (stubSource) AddressBook(ctx context.Context) ([]models.AddressBookEntry, error) {
	return nil, nil
}

func newTestModel(t *testing.T) model {
	t.Helper()
	stores := store.New(nil, nil, nil)
	stores.Auth.SetAuthenticated(context.Background(), &models.User{
		ID:             "did:privy:abc",
		LinkedAccounts: []models.LinkedAccount{{Type: "wallet", Address: testWallet}},
	}, time.Now())
	w := watcher.NewWatcher(stores, stubSource{}, nil, watcher.DefaultConfig(), nil)
	m := initialModel(w)
	t.Cleanup(func() { w.Unsubscribe(m.sub) })
	return m
}

func TestNetworkLabel(t *testing.T) {
	tests := []struct {
		state    models.NetworkState
		expected string
	}{
		{models.NetworkState{}, "checking..."},
		{models.NetworkState{IsOnline: models.False, ConnectionType: "none"}, "offline"},
		{models.NetworkState{IsOnline: models.True, ConnectionType: "wifi", IsInternetReachable: models.True}, "online (wifi)"},
		{models.NetworkState{IsOnline: models.True, ConnectionType: "cellular"}, "online (cellular, reachability unknown)"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, networkLabel(tt.state))
	}
}

func TestSessionLabel(t *testing.T) {
	user := &models.User{ID: "did:privy:abc"}
	assert.Equal(t, "signed in did:privy:abc", sessionLabel(models.Session{User: user, IsAuthenticated: true, IsReady: true}))
	assert.Equal(t, "cached session did:privy:abc", sessionLabel(models.Session{User: user, IsAuthenticated: true}))
	assert.Equal(t, "waiting for identity provider", sessionLabel(models.Session{}))
	assert.Equal(t, "signed out", sessionLabel(models.Session{IsReady: true}))
}

func TestResourceState(t *testing.T) {
	tests := []struct {
		r        watcher.ResourceStatus
		expected string
	}{
		{watcher.ResourceStatus{IsLoading: true}, "loading"},
		{watcher.ResourceStatus{HasData: true, IsRefetching: true}, "refreshing"},
		{watcher.ResourceStatus{HasData: true, Error: "timeout"}, "stale"},
		{watcher.ResourceStatus{Error: "no internet connection"}, "error"},
		{watcher.ResourceStatus{HasData: true}, "ok"},
		{watcher.ResourceStatus{}, "empty"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, resourceState(tt.r))
	}
}

func TestDetailContent(t *testing.T) {
	m := newTestModel(t)
	require.NoError(t, m.watcher.Portfolio().Refetch(context.Background()))
	require.NoError(t, m.watcher.Trending().Refetch(context.Background()))
	m.refreshStatus(time.Now())

	portfolio := m.detailContent(watcher.ResourceStatus{Name: store.ResourcePortfolio})
	assert.Contains(t, portfolio, "$100.50")
	assert.Contains(t, portfolio, "USDC")

	m.privacyMode = true
	assert.NotContains(t, m.detailContent(watcher.ResourceStatus{Name: store.ResourcePortfolio}), "$100.50")

	assert.Contains(t, m.detailContent(watcher.ResourceStatus{Name: store.ResourceTrending}), "BONK")
	assert.Equal(t, "Nothing cached yet.", m.detailContent(watcher.ResourceStatus{Name: store.ResourceAssets}))
	assert.Contains(t, m.detailContent(watcher.ResourceStatus{Name: store.ResourceAssets, Error: "indexer down"}), "indexer down")
}

func TestUpdateNavigation(t *testing.T) {
	m := newTestModel(t)
	require.NotEmpty(t, m.status.Resources)

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = next.(model)
	assert.Equal(t, 1, m.selected)

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyUp})
	m = next.(model)
	assert.Equal(t, 0, m.selected)

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyUp})
	m = next.(model)
	assert.Equal(t, 0, m.selected)

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("P")})
	m = next.(model)
	assert.True(t, m.privacyMode)

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(model)
	assert.True(t, m.showDetail)
}

func TestUpdateLoadMore(t *testing.T) {
	m := newTestModel(t)
	// the first row is the portfolio, which has no pages
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("m")})
	m = next.(model)
	assert.Equal(t, "Selected resource has no pages", m.statusMessage)
	assert.Empty(t, m.loadingMore)

	m.selected = 1
	require.Equal(t, store.ResourceTrending, m.status.Resources[1].Name)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("m")})
	m = next.(model)
	assert.Equal(t, store.ResourceTrending, m.loadingMore)
	require.NotNil(t, cmd)

	next, _ = m.Update(loadMoreDoneMsg{resource: store.ResourceTrending, loaded: false})
	m = next.(model)
	assert.Empty(t, m.loadingMore)
	assert.Equal(t, "No more trending to load", m.statusMessage)
}

func TestUpdateRefreshDone(t *testing.T) {
	m := newTestModel(t)
	m.refreshing = true
	next, _ := m.Update(refreshDoneMsg{})
	m = next.(model)
	assert.False(t, m.refreshing)
	assert.Equal(t, "All resources refreshed", m.statusMessage)
}

func TestListenForWatcher(t *testing.T) {
	sub := make(watcher.Subscriber, 1)
	sub <- watcher.Event{Type: watcher.EventWalletChanged, Data: testWallet}
	msg := listenForWatcher(sub)()
	assert.Equal(t, watcher.Event{Type: watcher.EventWalletChanged, Data: testWallet}, msg)

	close(sub)
	assert.Nil(t, listenForWatcher(sub)())
}
