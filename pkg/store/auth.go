package store

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"solsync/pkg/models"
	"solsync/pkg/storage"

	"github.com/ethereum/go-ethereum/event"
)

// persistedSession is what survives a restart. IsReady always starts false.
type persistedSession struct {
	User            *models.User `json:"user"`
	ActiveWallet    string       `json:"activeWallet"`
	IsAuthenticated bool         `json:"isAuthenticated"`
	LastSync        *time.Time   `json:"lastSync"`
}

// AuthStore holds the locally known session.
type AuthStore struct {
	kv     storage.KV
	feed   *event.FeedOf[Change]
	logger *slog.Logger

	mu sync.RWMutex
	s  models.Session
}

func NewAuthStore(kv storage.KV, feed *event.FeedOf[Change], logger *slog.Logger) *AuthStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthStore{kv: kv, feed: feed, logger: logger}
}

// Session returns a copy of the current session.
func (a *AuthStore) Session() models.Session {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := a.s
	if s.User != nil {
		u := *s.User
		u.LinkedAccounts = append([]models.LinkedAccount(nil), s.User.LinkedAccounts...)
		s.User = &u
	}
	if s.LastSync != nil {
		t := *s.LastSync
		s.LastSync = &t
	}
	return s
}

// HasCachedUser reports whether a user is held, verified or not.
func (a *AuthStore) HasCachedUser() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.s.IsAuthenticated && a.s.User != nil
}

// SetAuthenticated records a verified user; the first wallet-type linked
// account becomes the active wallet.
// Re-reporting the session already held only advances LastSync in memory:
// nothing is persisted or published.
func (a *AuthStore) SetAuthenticated(ctx context.Context, user *models.User, at time.Time) {
	u := *user
	a.mu.Lock()
	if a.s.IsAuthenticated && a.s.IsReady && sameUser(a.s.User, &u) {
		a.s.LastSync = &at
		a.mu.Unlock()
		return
	}
	a.s.User = &u
	a.s.ActiveWallet = u.FirstWallet()
	a.s.IsAuthenticated = true
	a.s.IsReady = true
	a.s.LastSync = &at
	a.persistLocked(ctx)
	a.mu.Unlock()
	a.publish()
}

func sameUser(a, b *models.User) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID == b.ID && a.CreatedAt.Equal(b.CreatedAt) && slices.Equal(a.LinkedAccounts, b.LinkedAccounts)
}

// SetReady records identity-provider readiness. Not persisted.
func (a *AuthStore) SetReady(ready bool) {
	a.mu.Lock()
	changed := a.s.IsReady != ready
	a.s.IsReady = ready
	a.mu.Unlock()
	if changed {
		a.publish()
	}
}

// Clear wipes the local session, keeping provider readiness.
func (a *AuthStore) Clear(ctx context.Context) error {
	a.mu.Lock()
	ready := a.s.IsReady
	a.s = models.Session{IsReady: ready}
	var err error
	if a.kv != nil {
		err = a.kv.Delete(ctx, storage.Key(ResourceAuth))
	}
	a.mu.Unlock()
	a.publish()
	return err
}

// Hydrate restores the persisted session.
func (a *AuthStore) Hydrate(ctx context.Context) error {
	if a.kv == nil {
		return nil
	}
	p, ok, err := storage.GetJSON[persistedSession](ctx, a.kv, storage.Key(ResourceAuth))
	if err != nil || !ok {
		return err
	}
	a.mu.Lock()
	a.s.User = p.User
	a.s.ActiveWallet = p.ActiveWallet
	a.s.IsAuthenticated = p.IsAuthenticated && p.User != nil
	a.s.LastSync = p.LastSync
	a.mu.Unlock()
	a.publish()
	return nil
}

func (a *AuthStore) partialize() persistedSession {
	return persistedSession{
		User:            a.s.User,
		ActiveWallet:    a.s.ActiveWallet,
		IsAuthenticated: a.s.IsAuthenticated,
		LastSync:        a.s.LastSync,
	}
}

func (a *AuthStore) persistLocked(ctx context.Context) {
	if a.kv == nil {
		return
	}
	if err := storage.SetJSON(ctx, a.kv, storage.Key(ResourceAuth), a.partialize()); err != nil {
		a.logger.Warn("persist_failed", "resource", ResourceAuth, "error", err)
	}
}

func (a *AuthStore) publish() {
	if a.feed != nil {
		a.feed.Send(Change{Resource: ResourceAuth, At: time.Now()})
	}
}
