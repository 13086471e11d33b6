package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"solsync/pkg/models"
	"solsync/pkg/storage"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testWallet = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"
	usdcMint   = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	wsolMint   = "So11111111111111111111111111111111111111112"
)

func idOf(s string) string { return s }

func newPortfolio(kv storage.KV) *CachedResource[models.Portfolio] {
	return NewCachedResource[models.Portfolio](ResourceOptions{Name: ResourcePortfolio, Key: testWallet, KV: kv})
}

func TestCachedResourceSucceed(t *testing.T) {
	ctx := context.Background()
	r := newPortfolio(nil)

	assert.False(t, r.BeginFetch())
	assert.True(t, r.Snapshot().IsLoading)

	now := time.Now()
	p := models.Portfolio{Wallet: testWallet, TotalUSD: decimal.RequireFromString("100.50")}
	r.Succeed(ctx, p, now)

	s := r.Snapshot()
	require.NotNil(t, s.Data)
	assert.True(t, s.Data.TotalUSD.Equal(decimal.RequireFromString("100.50")))
	assert.False(t, s.IsLoading)
	assert.Empty(t, s.Error)
	require.NotNil(t, s.LastFetch)
	assert.True(t, now.Equal(*s.LastFetch))
}

func TestCachedResourceFailKeepsData(t *testing.T) {
	ctx := context.Background()
	r := newPortfolio(nil)
	r.Succeed(ctx, models.Portfolio{Wallet: testWallet, TotalUSD: decimal.NewFromInt(5)}, time.Now())
	before := r.Snapshot()

	assert.True(t, r.BeginFetch(), "fetch with data held is a background refresh")
	mid := r.Snapshot()
	assert.False(t, mid.IsLoading)
	assert.True(t, mid.IsRefetching)

	r.Fail("boom")
	after := r.Snapshot()
	assert.Equal(t, before.Data, after.Data)
	assert.Equal(t, "boom", after.Error)
	assert.False(t, after.IsRefetching)
	assert.Equal(t, before.LastFetch, after.LastFetch)
}

func TestCachedResourceSuccessClearsError(t *testing.T) {
	ctx := context.Background()
	r := newPortfolio(nil)
	r.Fail("first")
	assert.Equal(t, "first", r.Snapshot().Error)

	for i := 1; i <= 3; i++ {
		r.Succeed(ctx, models.Portfolio{Wallet: testWallet, TotalUSD: decimal.NewFromInt(int64(i))}, time.Now())
	}
	s := r.Snapshot()
	assert.Empty(t, s.Error)
	assert.True(t, s.Data.TotalUSD.Equal(decimal.NewFromInt(3)))
}

func TestCachedResourcePersistAndHydrate(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryKV()
	r := newPortfolio(kv)
	r.BeginFetch()
	r.Succeed(ctx, models.Portfolio{Wallet: testWallet, TotalUSD: decimal.NewFromInt(42)}, time.Now())
	r.Fail("later failure")

	fresh := newPortfolio(kv)
	require.NoError(t, fresh.Hydrate(ctx))
	s := fresh.Snapshot()
	require.NotNil(t, s.Data)
	assert.True(t, s.Data.TotalUSD.Equal(decimal.NewFromInt(42)))
	assert.NotNil(t, s.LastFetch)
	assert.Empty(t, s.Error, "errors are not persisted")
	assert.False(t, s.IsLoading)

	require.NoError(t, fresh.Clear(ctx))
	_, ok, err := kv.Get(ctx, storage.Key(ResourcePortfolio, testWallet))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCachedResourceHydrateDoesNotOverwrite(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryKV()
	r := newPortfolio(kv)
	r.Succeed(ctx, models.Portfolio{TotalUSD: decimal.NewFromInt(2)}, time.Now())

	require.NoError(t, storage.SetJSON(ctx, kv, storage.Key(ResourcePortfolio, testWallet),
		Persisted[models.Portfolio]{Data: &models.Portfolio{TotalUSD: decimal.NewFromInt(1)}}))
	require.NoError(t, r.Hydrate(ctx))
	assert.True(t, r.Snapshot().Data.TotalUSD.Equal(decimal.NewFromInt(2)))
}

func TestCachedResourceIsStale(t *testing.T) {
	r := newPortfolio(nil)
	now := time.Now()
	assert.True(t, r.IsStale(time.Minute, now))
	r.Succeed(context.Background(), models.Portfolio{}, now)
	assert.False(t, r.IsStale(time.Minute, now.Add(30*time.Second)))
	assert.True(t, r.IsStale(time.Minute, now.Add(time.Minute)))
}

func TestCachedResourcePublishesChanges(t *testing.T) {
	s := New(nil, nil, nil)
	ch := make(chan Change, 16)
	sub := s.Subscribe(ch)
	defer sub.Unsubscribe()

	s.Profile.Succeed(context.Background(), models.Profile{Username: "alice"}, time.Now())
	select {
	case c := <-ch:
		assert.Equal(t, ResourceProfile, c.Resource)
	case <-time.After(time.Second):
		t.Fatal("no change published")
	}
}

func TestMerge(t *testing.T) {
	tests := []struct {
		name     string
		existing []string
		incoming []string
		want     []string
	}{
		{"ordering", []string{"a", "b"}, []string{"b", "c"}, []string{"a", "b", "c"}},
		{"same page twice", []string{"a", "b"}, []string{"a", "b"}, []string{"a", "b"}},
		{"duplicates inside page", nil, []string{"x", "y", "x"}, []string{"x", "y"}},
		{"empty incoming", []string{"a"}, nil, []string{"a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Merge(tt.existing, tt.incoming, idOf))
		})
	}
}

func newStringAccumulator() *Accumulator[string] {
	return NewAccumulator(NewCachedResource[PageState[string]](ResourceOptions{Name: "test"}), idOf)
}

func TestAccumulatorAppendPage(t *testing.T) {
	ctx := context.Background()
	a := newStringAccumulator()
	assert.True(t, a.HasNextPage())

	a.AppendPage(ctx, []string{"a", "b"}, "c1")
	st := a.AppendPage(ctx, []string{"b", "c"}, "c2")
	assert.Equal(t, []string{"a", "b", "c"}, st.Items)
	assert.Equal(t, "c2", st.Cursor)
	assert.True(t, st.HasNextPage)

	st = a.AppendPage(ctx, []string{"b", "c"}, "")
	assert.Equal(t, []string{"a", "b", "c"}, st.Items)
	assert.False(t, a.HasNextPage())
}

func TestAccumulatorTrendingPages(t *testing.T) {
	ctx := context.Background()
	a := NewAccumulator(
		NewCachedResource[PageState[models.TrendingToken]](ResourceOptions{Name: ResourceTrending}),
		func(t models.TrendingToken) string { return t.Address },
	)
	page := func(offset, n int) []models.TrendingToken {
		out := make([]models.TrendingToken, n)
		for i := range out {
			out[i] = models.TrendingToken{Address: fmt.Sprintf("token-%d", offset+i), Rank: offset + i + 1}
		}
		return out
	}
	fetch := func(_ context.Context, cursor string) (Page[models.TrendingToken], error) {
		if cursor == "" {
			return Page[models.TrendingToken]{Items: page(0, 20), Cursor: "20"}, nil
		}
		return Page[models.TrendingToken]{Items: page(20, 5)}, nil
	}

	loaded, err := a.LoadMore(ctx, fetch)
	require.NoError(t, err)
	assert.True(t, loaded)
	assert.True(t, a.HasNextPage())

	loaded, err = a.LoadMore(ctx, fetch)
	require.NoError(t, err)
	assert.True(t, loaded)
	assert.False(t, a.HasNextPage())
	assert.Len(t, a.View(), 25)

	loaded, err = a.LoadMore(ctx, fetch)
	require.NoError(t, err)
	assert.False(t, loaded, "no fetch after the last page")
}

func TestAccumulatorLoadMoreGuard(t *testing.T) {
	ctx := context.Background()
	a := newStringAccumulator()
	a.AppendPage(ctx, []string{"a"}, "c1")

	started := make(chan struct{})
	release := make(chan struct{})
	calls := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = a.LoadMore(ctx, func(context.Context, string) (Page[string], error) {
			calls++
			close(started)
			<-release
			return Page[string]{Items: []string{"b"}, Cursor: "c2"}, nil
		})
	}()

	<-started
	assert.True(t, a.IsLoadingMore())
	loaded, err := a.LoadMore(ctx, func(context.Context, string) (Page[string], error) {
		t.Error("second load must not fetch")
		return Page[string]{}, nil
	})
	assert.NoError(t, err)
	assert.False(t, loaded)

	close(release)
	<-done
	assert.Equal(t, 1, calls)
	assert.False(t, a.IsLoadingMore())
	assert.Equal(t, []string{"a", "b"}, a.View())
}

func TestAccumulatorLoadMoreRollback(t *testing.T) {
	ctx := context.Background()
	a := newStringAccumulator()
	a.AppendPage(ctx, []string{"a", "b"}, "c1")

	var seen string
	loaded, err := a.LoadMore(ctx, func(_ context.Context, cursor string) (Page[string], error) {
		seen = cursor
		return Page[string]{}, errors.New("page fetch failed")
	})
	assert.True(t, loaded)
	require.Error(t, err)
	assert.Equal(t, "c1", seen)

	s := a.Resource().Snapshot()
	assert.Equal(t, []string{"a", "b"}, s.Data.Items)
	assert.Equal(t, "c1", s.Data.Cursor)
	assert.True(t, s.Data.HasNextPage)
	assert.Equal(t, "page fetch failed", s.Error)
	assert.False(t, a.IsLoadingMore())
}

func TestAccumulatorChangeFilter(t *testing.T) {
	ctx := context.Background()
	a := newStringAccumulator()
	a.AppendPage(ctx, []string{"apple", "banana", "avocado"}, "")

	view := a.ChangeFilter(func(s string) bool { return s[0] == 'a' })
	assert.Equal(t, []string{"apple", "avocado"}, view)
	assert.Len(t, a.Resource().Snapshot().Data.Items, 3)

	assert.Equal(t, []string{"apple", "banana", "avocado"}, a.ChangeFilter(nil))
}

func TestRegistryGetHydratesOnce(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryKV()
	require.NoError(t, storage.SetJSON(ctx, kv, storage.Key(ResourcePortfolio, testWallet),
		Persisted[models.Portfolio]{Data: &models.Portfolio{Wallet: testWallet}}))

	builds := 0
	reg := NewRegistry(ResourcePortfolio, kv, nil, func(key string) *CachedResource[models.Portfolio] {
		builds++
		return NewCachedResource[models.Portfolio](ResourceOptions{Name: ResourcePortfolio, Key: key, KV: kv})
	})
	r := reg.Get(ctx, testWallet)
	assert.Same(t, r, reg.Get(ctx, testWallet))
	assert.Equal(t, 1, builds)
	assert.True(t, r.HasData())
	assert.Len(t, reg.items, 1)
}

func TestRegistryClearAllRemovesUnloadedSnapshots(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryKV()
	other := storage.Key(ResourcePortfolio, "older-wallet")
	require.NoError(t, kv.Set(ctx, other, []byte(`{}`)))
	unrelated := storage.Key("portfoliohistory")
	require.NoError(t, kv.Set(ctx, unrelated, []byte(`{}`)))

	reg := NewRegistry(ResourcePortfolio, kv, nil, func(key string) *CachedResource[models.Portfolio] {
		return NewCachedResource[models.Portfolio](ResourceOptions{Name: ResourcePortfolio, Key: key, KV: kv})
	})
	reg.Get(ctx, testWallet).Succeed(ctx, models.Portfolio{}, time.Now())

	require.NoError(t, reg.ClearAll(ctx))
	keys, err := kv.Keys(ctx, storage.Key(ResourcePortfolio))
	require.NoError(t, err)
	assert.Equal(t, []string{unrelated}, keys)
	assert.Empty(t, reg.items)
}

func TestAuthStore(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryKV()
	a := NewAuthStore(kv, nil, nil)
	assert.False(t, a.HasCachedUser())

	user := &models.User{ID: "did:privy:1", LinkedAccounts: []models.LinkedAccount{
		{Type: "email", Address: "a@example.com"},
		{Type: "wallet", Address: testWallet, ChainType: "solana"},
		{Type: "wallet", Address: "second"},
	}}
	a.SetAuthenticated(ctx, user, time.Now())
	s := a.Session()
	assert.True(t, s.IsAuthenticated)
	assert.True(t, s.IsReady)
	assert.Equal(t, testWallet, s.ActiveWallet)

	restored := NewAuthStore(kv, nil, nil)
	require.NoError(t, restored.Hydrate(ctx))
	rs := restored.Session()
	assert.True(t, rs.IsAuthenticated)
	assert.False(t, rs.IsReady, "readiness is never persisted")
	assert.Equal(t, testWallet, rs.ActiveWallet)
	assert.True(t, restored.HasCachedUser())

	restored.SetReady(true)
	require.NoError(t, restored.Clear(ctx))
	cs := restored.Session()
	assert.False(t, cs.IsAuthenticated)
	assert.Nil(t, cs.User)
	assert.True(t, cs.IsReady)
	_, ok, err := kv.Get(ctx, storage.Key(ResourceAuth))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAuthStoreRepeatedUserIsQuiet(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryKV()
	s := New(kv, nil, nil)
	ch := make(chan Change, 16)
	sub := s.Subscribe(ch)
	defer sub.Unsubscribe()

	user := &models.User{ID: "did:privy:1", LinkedAccounts: []models.LinkedAccount{{Type: "wallet", Address: testWallet}}}
	first := time.Now()
	s.Auth.SetAuthenticated(ctx, user, first)
	require.Len(t, ch, 1)
	<-ch

	require.NoError(t, kv.Delete(ctx, storage.Key(ResourceAuth)))
	later := first.Add(time.Minute)
	s.Auth.SetAuthenticated(ctx, &models.User{ID: "did:privy:1", LinkedAccounts: []models.LinkedAccount{{Type: "wallet", Address: testWallet}}}, later)
	assert.Empty(t, ch, "unchanged session must not publish")
	_, ok, err := kv.Get(ctx, storage.Key(ResourceAuth))
	require.NoError(t, err)
	assert.False(t, ok, "unchanged session must not be persisted again")
	assert.True(t, s.Auth.Session().LastSync.Equal(later))

	changed := &models.User{ID: "did:privy:1", LinkedAccounts: []models.LinkedAccount{{Type: "wallet", Address: "other"}}}
	s.Auth.SetAuthenticated(ctx, changed, later)
	assert.Len(t, ch, 1)
	assert.Equal(t, "other", s.Auth.Session().ActiveWallet)
}

type fakeBook struct {
	err     error
	created []models.AddressBookEntry
	deleted []string
}

func (f *fakeBook) ListAddressBook(context.Context) ([]models.AddressBookEntry, error) {
	return f.created, f.err
}

func (f *fakeBook) CreateAddressBookEntry(_ context.Context, e models.AddressBookEntry) (models.AddressBookEntry, error) {
	if f.err != nil {
		return models.AddressBookEntry{}, f.err
	}
	e.ID = "srv-" + e.Name
	f.created = append(f.created, e)
	return e, nil
}

func (f *fakeBook) UpdateAddressBookEntry(_ context.Context, e models.AddressBookEntry) (models.AddressBookEntry, error) {
	return e, f.err
}

func (f *fakeBook) DeleteAddressBookEntry(_ context.Context, id string) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func TestAddressBookCreate(t *testing.T) {
	ctx := context.Background()
	remote := &fakeBook{}
	s := New(storage.NewMemoryKV(), remote, nil)

	e, err := s.AddressBook.Create(ctx, EntryInput{
		Name:          " Treasury ",
		WalletAddress: testWallet,
		Tags:          []string{"ops", " Ops", "", "team"},
	})
	require.NoError(t, err)
	assert.Equal(t, "srv-Treasury", e.ID)
	assert.Equal(t, "solana", e.Network)
	assert.Equal(t, []string{"ops", "team"}, e.Tags)

	list := s.AddressBook.List()
	require.Len(t, list, 1)
	assert.Equal(t, "srv-Treasury", list[0].ID)
}

func TestAddressBookCreateRejectsInvalidAddress(t *testing.T) {
	s := New(nil, &fakeBook{}, nil)
	_, err := s.AddressBook.Create(context.Background(), EntryInput{Name: "x", WalletAddress: "not-base58!"})
	assert.ErrorIs(t, err, ErrInvalidEntry)
	assert.Empty(t, s.AddressBook.List())
}

func TestAddressBookRollback(t *testing.T) {
	ctx := context.Background()
	remote := &fakeBook{}
	s := New(nil, remote, nil)

	first, err := s.AddressBook.Create(ctx, EntryInput{Name: "one", WalletAddress: usdcMint})
	require.NoError(t, err)
	second, err := s.AddressBook.Create(ctx, EntryInput{Name: "two", WalletAddress: wsolMint})
	require.NoError(t, err)

	remote.err = errors.New("backend down")

	_, err = s.AddressBook.Create(ctx, EntryInput{Name: "three", WalletAddress: testWallet})
	require.Error(t, err)
	assert.Len(t, s.AddressBook.List(), 2)

	_, err = s.AddressBook.Update(ctx, first.ID, func(e *models.AddressBookEntry) { e.Name = "renamed" })
	require.Error(t, err)
	got, ok := s.AddressBook.Get(first.ID)
	require.True(t, ok)
	assert.Equal(t, "one", got.Name)

	require.Error(t, s.AddressBook.Delete(ctx, first.ID))
	list := s.AddressBook.List()
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID, "restored at its original position")
	assert.Equal(t, second.ID, list[1].ID)

	assert.ErrorIs(t, s.AddressBook.Delete(ctx, "missing"), ErrEntryNotFound)
}

func TestAddressBookFavoritesFirst(t *testing.T) {
	ctx := context.Background()
	s := New(nil, nil, nil)
	a, err := s.AddressBook.Create(ctx, EntryInput{Name: "a", WalletAddress: usdcMint})
	require.NoError(t, err)
	b, err := s.AddressBook.Create(ctx, EntryInput{Name: "b", WalletAddress: wsolMint})
	require.NoError(t, err)

	_, err = s.AddressBook.ToggleFavorite(ctx, b.ID)
	require.NoError(t, err)
	list := s.AddressBook.List()
	assert.Equal(t, []string{b.ID, a.ID}, []string{list[0].ID, list[1].ID})
	assert.True(t, list[0].IsFavorite)
}

func TestStoresClearUserData(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryKV()
	s := New(kv, nil, nil)
	s.Portfolios.Get(ctx, testWallet).Succeed(ctx, models.Portfolio{Wallet: testWallet}, time.Now())
	s.Trending.AppendPage(ctx, []models.TrendingToken{{Address: usdcMint}}, "")
	s.Overviews.Get(ctx, usdcMint).Succeed(ctx, models.TokenOverview{Address: usdcMint}, time.Now())
	_, err := s.AddressBook.Create(ctx, EntryInput{Name: "a", WalletAddress: usdcMint})
	require.NoError(t, err)

	require.NoError(t, s.ClearUserData(ctx))
	assert.Empty(t, s.AddressBook.List())
	assert.False(t, s.Portfolios.Get(ctx, testWallet).HasData())
	assert.Len(t, s.Trending.View(), 1)
	assert.True(t, s.Overviews.Get(ctx, usdcMint).HasData())

	fresh := New(kv, nil, nil)
	require.NoError(t, fresh.Hydrate(ctx))
	assert.Len(t, fresh.Trending.View(), 1)
	assert.Empty(t, fresh.AddressBook.List())
}

func TestAccumulatorRefreshKeepsAccumulatedItems(t *testing.T) {
	ctx := context.Background()
	a := newStringAccumulator()
	st := a.Refresh(ctx, Page[string]{Items: []string{"a", "b"}, Cursor: "2"}, time.Now())
	assert.Equal(t, PageState[string]{Items: []string{"a", "b"}, Cursor: "2", HasNextPage: true}, st)

	a.AppendPage(ctx, []string{"c", "d"}, "4")
	st = a.Refresh(ctx, Page[string]{Items: []string{"z", "a"}, Cursor: "2"}, time.Now())
	assert.Equal(t, []string{"z", "a", "b", "c", "d"}, st.Items)
	assert.Equal(t, "4", st.Cursor)
	assert.False(t, a.Resource().Snapshot().IsLoading)

	require.NoError(t, a.Reset(ctx))
	assert.Nil(t, a.View())
	assert.True(t, a.HasNextPage())
}
