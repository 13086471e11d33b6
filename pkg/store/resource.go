// Package store holds the in-memory state containers of the sync layer. Every
// container is mutated only through its own methods, guards itself with a mutex
// and, when backed by a storage.KV, persists an explicit subset of its state on
// every successful mutation.
package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"solsync/pkg/storage"

	"github.com/ethereum/go-ethereum/event"
)

// Resource names, also used as storage key segments.
const (
	ResourceAuth         = "auth"
	ResourceProfile      = "profile"
	ResourcePortfolio    = "portfolio"
	ResourceTrending     = "trending"
	ResourceAssets       = "assets"
	ResourceTransactions = "transactions"
	ResourceOverview     = "overview"
	ResourceAddressBook  = "addressbook"
)

// Change is published after every mutation of a store.
type Change struct {
	Resource string    `json:"resource"`
	Key      string    `json:"key,omitempty"`
	At       time.Time `json:"at"`
}

// Snapshot is a point-in-time copy of a CachedResource. Data must be treated as
// read-only.
type Snapshot[T any] struct {
	Data         *T         `json:"data"`
	IsLoading    bool       `json:"isLoading"`
	IsRefetching bool       `json:"isRefetching"`
	Error        string     `json:"error,omitempty"`
	LastFetch    *time.Time `json:"lastFetch"`
}

// Persisted is the subset of a CachedResource written to device storage.
type Persisted[T any] struct {
	Data      *T         `json:"data"`
	LastFetch *time.Time `json:"lastFetch"`
}

// ResourceOptions configures a CachedResource. A nil KV disables persistence.
type ResourceOptions struct {
	Name   string
	Key    string
	KV     storage.KV
	Feed   *event.FeedOf[Change]
	Logger *slog.Logger
}

// CachedResource holds last-known-good data for one remote resource.
type CachedResource[T any] struct {
	name       string
	key        string
	storageKey string
	kv         storage.KV
	feed       *event.FeedOf[Change]
	logger     *slog.Logger

	mu           sync.RWMutex
	data         *T
	isLoading    bool
	isRefetching bool
	err          string
	lastFetch    *time.Time
}

func NewCachedResource[T any](opts ResourceOptions) *CachedResource[T] {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedResource[T]{
		name:       opts.Name,
		key:        opts.Key,
		storageKey: storage.Key(opts.Name, opts.Key),
		kv:         opts.KV,
		feed:       opts.Feed,
		logger:     logger,
	}
}

func (r *CachedResource[T]) Name() string { return r.name }
func (r *CachedResource[T]) Key() string  { return r.key }

// Snapshot returns a non-blocking copy of the current state.
func (r *CachedResource[T]) Snapshot() Snapshot[T] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := Snapshot[T]{
		IsLoading:    r.isLoading,
		IsRefetching: r.isRefetching,
		Error:        r.err,
	}
	if r.data != nil {
		d := *r.data
		s.Data = &d
	}
	if r.lastFetch != nil {
		t := *r.lastFetch
		s.LastFetch = &t
	}
	return s
}

// HasData reports whether any data (fetched or hydrated) is held.
func (r *CachedResource[T]) HasData() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.data != nil
}

// IsStale reports whether the data is older than window, or was never fetched.
func (r *CachedResource[T]) IsStale(window time.Duration, now time.Time) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastFetch == nil || now.Sub(*r.lastFetch) >= window
}

// BeginFetch marks a fetch as started. With data already held it is a background
// refresh: IsRefetching is raised and IsLoading is left alone.
func (r *CachedResource[T]) BeginFetch() (background bool) {
	r.mu.Lock()
	background = r.data != nil
	if background {
		r.isRefetching = true
	} else {
		r.isLoading = true
	}
	r.mu.Unlock()
	r.publish()
	return background
}

// Succeed stores the result of a successful fetch.
func (r *CachedResource[T]) Succeed(ctx context.Context, v T, at time.Time) {
	r.commit(ctx, func(*T) T { return v }, &at, true)
}

// Fail records a failed fetch. Data is left untouched.
func (r *CachedResource[T]) Fail(msg string) {
	r.setError(msg, true)
}

// Update applies an optimistic local mutation. LastFetch and the fetch flags are
// left untouched. fn receives nil when nothing is held yet.
func (r *CachedResource[T]) Update(ctx context.Context, fn func(cur *T) T) {
	r.commit(ctx, fn, nil, false)
}

// Hydrate loads the last persisted snapshot. Data already held wins.
func (r *CachedResource[T]) Hydrate(ctx context.Context) error {
	if r.kv == nil {
		return nil
	}
	p, ok, err := storage.GetJSON[Persisted[T]](ctx, r.kv, r.storageKey)
	if err != nil || !ok || p.Data == nil {
		return err
	}
	r.mu.Lock()
	if r.data == nil {
		r.data = p.Data
		r.lastFetch = p.LastFetch
	}
	r.mu.Unlock()
	r.publish()
	return nil
}

// Clear drops all state and the persisted snapshot.
func (r *CachedResource[T]) Clear(ctx context.Context) error {
	r.mu.Lock()
	r.data = nil
	r.isLoading = false
	r.isRefetching = false
	r.err = ""
	r.lastFetch = nil
	var err error
	if r.kv != nil {
		err = r.kv.Delete(ctx, r.storageKey)
	}
	r.mu.Unlock()
	r.publish()
	return err
}

func (r *CachedResource[T]) commit(ctx context.Context, fn func(cur *T) T, fetchedAt *time.Time, endFetch bool) {
	r.mu.Lock()
	v := fn(r.data)
	r.data = &v
	if fetchedAt != nil {
		t := *fetchedAt
		r.lastFetch = &t
		r.err = ""
	}
	if endFetch {
		r.isLoading = false
		r.isRefetching = false
	}
	r.persistLocked(ctx)
	r.mu.Unlock()
	r.publish()
}

func (r *CachedResource[T]) setError(msg string, endFetch bool) {
	r.mu.Lock()
	r.err = msg
	if endFetch {
		r.isLoading = false
		r.isRefetching = false
	}
	r.mu.Unlock()
	r.publish()
}

// partialize maps in-memory state to the persisted subset. Must be called with
// r.mu held.
func (r *CachedResource[T]) partialize() Persisted[T] {
	return Persisted[T]{Data: r.data, LastFetch: r.lastFetch}
}

func (r *CachedResource[T]) persistLocked(ctx context.Context) {
	if r.kv == nil {
		return
	}
	if err := storage.SetJSON(ctx, r.kv, r.storageKey, r.partialize()); err != nil {
		r.logger.Warn("persist_failed", "resource", r.name, "key", r.key, "error", err)
	}
}

func (r *CachedResource[T]) publish() {
	if r.feed == nil {
		return
	}
	r.feed.Send(Change{Resource: r.name, Key: r.key, At: time.Now()})
}
