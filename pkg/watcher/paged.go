package watcher

import (
	"context"
	"log/slog"
	"time"

	"solsync/pkg/retry"
	"solsync/pkg/store"
)

// PagedQuery binds a paginated remote list to an Accumulator.
type PagedQuery[T any] struct {
	name   string
	key    string
	global bool
	acc    *store.Accumulator[T]
	fetch  func(ctx context.Context, key, cursor string) (store.Page[T], error)
	opts   Options
	net    Network
	logger *slog.Logger
	now    func() time.Time

	iss issuer
}

// NewPagedQuery builds a paginated query. Global lists (trending) need no key.
func NewPagedQuery[T any](name, key string, global bool, acc *store.Accumulator[T], fetch func(ctx context.Context, key, cursor string) (store.Page[T], error), opts Options, net Network, logger *slog.Logger) *PagedQuery[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &PagedQuery[T]{
		name:   name,
		key:    key,
		global: global,
		acc:    acc,
		fetch:  fetch,
		opts:   opts,
		net:    net,
		logger: logger,
		now:    time.Now,
	}
}

func (q *PagedQuery[T]) Name() string  { return q.name }
func (q *PagedQuery[T]) Key() string   { return q.key }
func (q *PagedQuery[T]) Enabled() bool { return (q.global || q.key != "") && q.acc != nil }

// Accumulator returns the backing collection, nil for a disabled query.
func (q *PagedQuery[T]) Accumulator() *store.Accumulator[T] { return q.acc }

func (q *PagedQuery[T]) Result() Result[store.PageState[T]] {
	if !q.Enabled() {
		return Result[store.PageState[T]]{Error: ErrNoKey.Error()}
	}
	return resultOf(q.acc.Resource().Snapshot())
}

// View returns the accumulated items passing the current filter.
func (q *PagedQuery[T]) View() []T {
	if !q.Enabled() {
		return nil
	}
	return q.acc.View()
}

// ChangeFilter re-derives the view without fetching.
func (q *PagedQuery[T]) ChangeFilter(pred func(T) bool) []T {
	if !q.Enabled() {
		return nil
	}
	return q.acc.ChangeFilter(pred)
}

func (q *PagedQuery[T]) HasNextPage() bool {
	return q.Enabled() && q.acc.HasNextPage()
}

func (q *PagedQuery[T]) IsLoadingMore() bool {
	return q.Enabled() && q.acc.IsLoadingMore()
}

// Refetch re-fetches the first page and merges it in as a background refresh.
func (q *PagedQuery[T]) Refetch(ctx context.Context) error {
	if !q.Enabled() {
		return ErrNoKey
	}
	res := q.acc.Resource()
	if offline(q.net) {
		if !res.HasData() {
			res.Fail(offlineMessage)
		}
		return retry.ErrOffline
	}

	fctx, gen := q.iss.issue(ctx)
	res.BeginFetch()
	page, err := retry.Do(fctx, q.opts.Retry, q.net, func(ctx context.Context) (store.Page[T], error) {
		return q.fetch(ctx, q.key, "")
	})

	applied := q.iss.complete(gen, func() {
		if err != nil {
			res.Fail(failureMessage(err, res.HasData()))
			return
		}
		q.acc.Refresh(ctx, page, q.now())
	})
	switch {
	case !applied:
		q.logger.Debug("fetch_superseded", "resource", q.name, "key", q.key)
		return ErrSuperseded
	case err != nil:
		q.logger.Warn("fetch_failed", "resource", q.name, "key", q.key, "error", err)
		return err
	}
	return nil
}

// LoadMore fetches the next page. It returns false without fetching while
// another LoadMore is in flight or after the last page.
func (q *PagedQuery[T]) LoadMore(ctx context.Context) (bool, error) {
	if !q.Enabled() {
		return false, ErrNoKey
	}
	if offline(q.net) {
		return false, retry.ErrOffline
	}
	loaded, err := q.acc.LoadMore(ctx, func(ctx context.Context, cursor string) (store.Page[T], error) {
		return retry.Do(ctx, q.opts.Retry, q.net, func(ctx context.Context) (store.Page[T], error) {
			return q.fetch(ctx, q.key, cursor)
		})
	})
	if err != nil {
		q.logger.Warn("load_more_failed", "resource", q.name, "key", q.key, "error", err)
	}
	return loaded, err
}

// Run refreshes the first page if stale, then every RefetchInterval and on
// reconnect.
func (q *PagedQuery[T]) Run(ctx context.Context) {
	if !q.Enabled() {
		return
	}
	poll(ctx, q.net, q.opts, func(now time.Time) bool {
		return q.acc.Resource().IsStale(q.opts.StaleTime, now)
	}, q.Refetch)
}
