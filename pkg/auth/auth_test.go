package auth

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"solsync/pkg/models"
	"solsync/pkg/storage"
	"solsync/pkg/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWallet = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"

func testUser() *models.User {
	return &models.User{ID: "did:privy:abc", LinkedAccounts: []models.LinkedAccount{
		{Type: "email", Address: "a@example.com"},
		{Type: "wallet", Address: testWallet, ChainType: "solana", WalletClientType: "privy"},
	}}
}

func cachedStore(t *testing.T) *store.AuthStore {
	t.Helper()
	s := store.NewAuthStore(storage.NewMemoryKV(), nil, nil)
	s.SetAuthenticated(context.Background(), testUser(), time.Now())
	s.SetReady(false)
	return s
}

func TestApplyReadyWithUser(t *testing.T) {
	s := store.NewAuthStore(nil, nil, nil)
	r := NewReconciler(NewStaticProvider(ProviderState{}), s, nil, nil)
	assert.Equal(t, Uninitialized, r.Phase())

	r.Apply(context.Background(), ProviderState{Ready: true, User: testUser()})
	sess := s.Session()
	assert.True(t, sess.IsAuthenticated)
	assert.True(t, sess.IsReady)
	assert.Equal(t, testWallet, sess.ActiveWallet)
	assert.NotNil(t, sess.LastSync)
	assert.Equal(t, ProviderReadyUser, r.Phase())
	assert.False(t, r.IsLoading())
}

func TestApplyReadyNoUserPreservesCachedSession(t *testing.T) {
	s := cachedStore(t)
	r := NewReconciler(NewStaticProvider(ProviderState{}), s, nil, nil)

	r.Apply(context.Background(), ProviderState{Ready: true})
	sess := s.Session()
	assert.True(t, sess.IsAuthenticated)
	assert.Equal(t, testWallet, sess.ActiveWallet)
	assert.True(t, sess.IsReady)
	assert.Equal(t, ProviderReadyNoUser, r.Phase())
}

func TestApplyReadyNoUserStaysUnauthenticated(t *testing.T) {
	s := store.NewAuthStore(nil, nil, nil)
	r := NewReconciler(NewStaticProvider(ProviderState{}), s, nil, nil)

	r.Apply(context.Background(), ProviderState{Ready: true})
	assert.False(t, s.Session().IsAuthenticated)
	assert.True(t, s.Session().IsReady)
	assert.False(t, r.IsLoading())
}

func TestLoadingAndPhaseWhileProviderUnready(t *testing.T) {
	tests := []struct {
		name    string
		store   func(t *testing.T) *store.AuthStore
		phase   Phase
		loading bool
	}{
		{"cached user", cachedStore, ProviderUnreadyCachedUser, false},
		{"no cached user", func(*testing.T) *store.AuthStore { return store.NewAuthStore(nil, nil, nil) }, ProviderUnreadyNoCachedUser, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReconciler(NewStaticProvider(ProviderState{}), tt.store(t), nil, nil)
			r.Apply(context.Background(), ProviderState{Ready: false})
			assert.Equal(t, tt.phase, r.Phase())
			assert.Equal(t, tt.loading, r.IsLoading())
		})
	}
}

func TestStartAppliesCurrentAndEvents(t *testing.T) {
	s := store.NewAuthStore(nil, nil, nil)
	p := NewStaticProvider(ProviderState{Ready: true})
	r := NewReconciler(p, s, nil, nil)
	stop := r.Start(context.Background())
	defer stop()

	assert.Equal(t, ProviderReadyNoUser, r.Phase())

	p.Set(ProviderState{Ready: true, User: testUser()})
	assert.Eventually(t, func() bool { return s.Session().IsAuthenticated }, time.Second, 5*time.Millisecond)
	stop()
	stop()
}

func TestLogoutWhileOffline(t *testing.T) {
	s := cachedStore(t)
	p := NewStaticProvider(ProviderState{})
	p.FailLogout(errors.New("network is unreachable"))
	cleared := false
	r := NewReconciler(p, s, func(context.Context) error {
		cleared = true
		return nil
	}, nil)

	require.NoError(t, r.Logout(context.Background()))
	assert.Equal(t, 1, p.Logouts())
	assert.False(t, s.Session().IsAuthenticated)
	assert.Nil(t, s.Session().User)
	assert.True(t, cleared)
}

func TestLogoutReportsLocalFailure(t *testing.T) {
	r := NewReconciler(NewStaticProvider(ProviderState{}), store.NewAuthStore(nil, nil, nil), func(context.Context) error {
		return errors.New("disk full")
	}, nil)
	err := r.Logout(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestPrivyCurrent(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/users/me", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "app", r.Header.Get("privy-app-id"))
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, `{"user":{"id":"did:privy:abc","created_at":1700000000,"linked_accounts":[
			{"type":"wallet","address":"`+testWallet+`","chain_type":"solana"}]}}`)
	})
	mux.HandleFunc("/sessions/logout", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	ctx := context.Background()

	st, err := NewPrivyProvider(srv.URL, "app", "good", time.Minute, nil).Current(ctx)
	require.NoError(t, err)
	assert.True(t, st.Ready)
	require.NotNil(t, st.User)
	assert.Equal(t, testWallet, st.User.FirstWallet())
	assert.Equal(t, int64(1700000000), st.User.CreatedAt.Unix())

	st, err = NewPrivyProvider(srv.URL, "app", "expired", time.Minute, nil).Current(ctx)
	require.NoError(t, err)
	assert.True(t, st.Ready)
	assert.Nil(t, st.User)

	assert.NoError(t, NewPrivyProvider(srv.URL, "app", "good", time.Minute, nil).Logout(ctx))
}

func TestPrivyUnreachableIsNotReady(t *testing.T) {
	p := NewPrivyProvider("http://127.0.0.1:1", "app", "tok", time.Minute, nil)
	st, err := p.Current(context.Background())
	assert.Error(t, err)
	assert.False(t, st.Ready)
	assert.Error(t, p.Logout(context.Background()))
}

func TestPrivySubscribePolls(t *testing.T) {
	p := NewPrivyProvider("http://unused", "app", "", 10*time.Millisecond, nil)
	ch := make(chan ProviderState, 1)
	sub := p.Subscribe(ch)
	defer sub.Unsubscribe()

	select {
	case st := <-ch:
		assert.True(t, st.Ready)
	case <-time.After(time.Second):
		t.Fatal("no poll result")
	}
}
