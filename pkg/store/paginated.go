package store

import (
	"context"
	"sync"
	"time"
)

// Page is one page of a remote list. An empty Cursor means no further pages.
type Page[T any] struct {
	Items  []T
	Cursor string
}

// PageState is the accumulated collection of a paginated resource.
type PageState[T any] struct {
	Items       []T    `json:"items"`
	Cursor      string `json:"cursor"`
	HasNextPage bool   `json:"hasNextPage"`
}

// Accumulator merges successive pages into a deduplicated, order-preserving
// collection held in a CachedResource.
type Accumulator[T any] struct {
	res   *CachedResource[PageState[T]]
	keyOf func(T) string
	now   func() time.Time

	mu          sync.Mutex
	loadingMore bool
	filter      func(T) bool
}

func NewAccumulator[T any](res *CachedResource[PageState[T]], keyOf func(T) string) *Accumulator[T] {
	return &Accumulator[T]{res: res, keyOf: keyOf, now: time.Now}
}

// Resource exposes the underlying cached resource.
func (a *Accumulator[T]) Resource() *CachedResource[PageState[T]] { return a.res }

func (a *Accumulator[T]) Hydrate(ctx context.Context) error { return a.res.Hydrate(ctx) }

func (a *Accumulator[T]) Clear(ctx context.Context) error {
	a.mu.Lock()
	a.filter = nil
	a.mu.Unlock()
	return a.res.Clear(ctx)
}

// Reset drops the accumulated collection so the next load starts from the first
// page. The filter is kept.
func (a *Accumulator[T]) Reset(ctx context.Context) error { return a.res.Clear(ctx) }

// Merge appends the items of incoming whose key is not yet present, keeping the
// relative order of both segments. Duplicates inside incoming keep the first.
func Merge[T any](existing, incoming []T, keyOf func(T) string) []T {
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	out := make([]T, 0, len(existing)+len(incoming))
	for _, it := range existing {
		seen[keyOf(it)] = struct{}{}
		out = append(out, it)
	}
	for _, it := range incoming {
		k := keyOf(it)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, it)
	}
	return out
}

// AppendPage merges a page into the accumulated collection and stores its cursor.
func (a *Accumulator[T]) AppendPage(ctx context.Context, items []T, cursor string) PageState[T] {
	var next PageState[T]
	at := a.now()
	a.res.commit(ctx, func(cur *PageState[T]) PageState[T] {
		var existing []T
		if cur != nil {
			existing = cur.Items
		}
		next = PageState[T]{
			Items:       Merge(existing, items, a.keyOf),
			Cursor:      cursor,
			HasNextPage: cursor != "",
		}
		return next
	}, &at, false)
	return next
}

// FirstPage converts a freshly fetched first page into a PageState, dropping
// duplicates within the page.
func (a *Accumulator[T]) FirstPage(p Page[T]) PageState[T] {
	return PageState[T]{
		Items:       Merge(nil, p.Items, a.keyOf),
		Cursor:      p.Cursor,
		HasNextPage: p.Cursor != "",
	}
}

// Refresh applies a re-fetched first page as a background refresh: the page's
// items come first in their new order, every previously accumulated item not in
// the page follows, and the accumulated cursor is kept so LoadMore continues
// where it left off. With nothing accumulated it behaves like FirstPage.
func (a *Accumulator[T]) Refresh(ctx context.Context, p Page[T], at time.Time) PageState[T] {
	var next PageState[T]
	a.res.commit(ctx, func(cur *PageState[T]) PageState[T] {
		if cur == nil {
			next = a.FirstPage(p)
			return next
		}
		next = PageState[T]{
			Items:       Merge(p.Items, cur.Items, a.keyOf),
			Cursor:      cur.Cursor,
			HasNextPage: cur.HasNextPage,
		}
		return next
	}, &at, true)
	return next
}

// ChangeFilter installs a predicate and returns the filtered view. A nil
// predicate removes the filter. No item is dropped from the collection.
func (a *Accumulator[T]) ChangeFilter(pred func(T) bool) []T {
	a.mu.Lock()
	a.filter = pred
	a.mu.Unlock()
	return a.View()
}

// View returns the accumulated items passing the current filter.
func (a *Accumulator[T]) View() []T {
	a.mu.Lock()
	pred := a.filter
	a.mu.Unlock()

	s := a.res.Snapshot()
	if s.Data == nil {
		return nil
	}
	out := make([]T, 0, len(s.Data.Items))
	for _, it := range s.Data.Items {
		if pred == nil || pred(it) {
			out = append(out, it)
		}
	}
	return out
}

// HasNextPage reports whether another page can be requested. Before the first
// page has been loaded it is true.
func (a *Accumulator[T]) HasNextPage() bool {
	s := a.res.Snapshot()
	return s.Data == nil || s.Data.HasNextPage
}

// IsLoadingMore reports whether a LoadMore call is in flight.
func (a *Accumulator[T]) IsLoadingMore() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.loadingMore
}

// LoadMore fetches the page after the stored cursor and appends it. Only one call
// runs at a time; a call made while another is pending, or after the last page,
// returns false without fetching. On failure the collection is rolled back to
// what it was before the call and the error is recorded.
func (a *Accumulator[T]) LoadMore(ctx context.Context, fetch func(ctx context.Context, cursor string) (Page[T], error)) (bool, error) {
	a.mu.Lock()
	if a.loadingMore {
		a.mu.Unlock()
		return false, nil
	}
	prev := a.res.Snapshot()
	if prev.Data != nil && !prev.Data.HasNextPage {
		a.mu.Unlock()
		return false, nil
	}
	a.loadingMore = true
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.loadingMore = false
		a.mu.Unlock()
	}()

	cursor := ""
	if prev.Data != nil {
		cursor = prev.Data.Cursor
	}
	page, err := fetch(ctx, cursor)
	if err != nil {
		a.rollback(ctx, prev)
		a.res.setError(err.Error(), false)
		return true, err
	}
	a.AppendPage(ctx, page.Items, page.Cursor)
	return true, nil
}

// rollback restores prev unless another writer has advanced the collection in
// the meantime.
func (a *Accumulator[T]) rollback(ctx context.Context, prev Snapshot[PageState[T]]) {
	if prev.Data == nil {
		return
	}
	cur := a.res.Snapshot()
	if cur.Data != nil && cur.Data.Cursor != prev.Data.Cursor {
		return
	}
	restored := *prev.Data
	a.res.commit(ctx, func(*PageState[T]) PageState[T] { return restored }, nil, false)
}
