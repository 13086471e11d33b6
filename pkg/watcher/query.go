package watcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"solsync/pkg/models"
	"solsync/pkg/retry"
	"solsync/pkg/store"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/event"
)

var (
	// ErrNoKey is returned by queries that have no identifying key. No request
	// is made.
	ErrNoKey = errors.New("no wallet address available")
	// ErrSuperseded is returned by a fetch whose result was discarded because a
	// newer fetch of the same query was issued after it.
	ErrSuperseded = errors.New("superseded by a newer request")
)

const offlineMessage = "no internet connection"

// Network is the part of the network monitor queries depend on.
type Network interface {
	IsOffline() bool
	Subscribe(ch chan<- models.NetworkState) event.Subscription
}

// Options controls staleness, polling and retries of a query.
type Options struct {
	StaleTime       time.Duration
	RefetchInterval time.Duration
	Retry           retry.Policy
}

// Result is what a query exposes to its consumers. Data falls back to the
// persisted snapshot while nothing has been fetched in this session.
type Result[T any] struct {
	Data         *T         `json:"data"`
	IsLoading    bool       `json:"isLoading"`
	IsRefetching bool       `json:"isRefetching"`
	Error        string     `json:"error,omitempty"`
	LastFetch    *time.Time `json:"lastFetch"`
}

func resultOf[T any](s store.Snapshot[T]) Result[T] {
	return Result[T]{
		Data:         s.Data,
		IsLoading:    s.IsLoading,
		IsRefetching: s.IsRefetching,
		Error:        s.Error,
		LastFetch:    s.LastFetch,
	}
}

// issuer stamps every fetch of a query with a generation. Issuing a new fetch
// cancels the previous one and only the newest issued fetch may apply its
// result.
type issuer struct {
	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
}

func (i *issuer) issue(ctx context.Context) (context.Context, uint64) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.cancel != nil {
		i.cancel()
	}
	i.gen++
	ctx, i.cancel = context.WithCancel(ctx)
	return ctx, i.gen
}

// complete runs apply if gen is still the newest generation and reports
// whether it did.
func (i *issuer) complete(gen uint64, apply func()) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if gen != i.gen {
		return false
	}
	if i.cancel != nil {
		i.cancel()
		i.cancel = nil
	}
	apply()
	return true
}

// Query binds a remote fetch to a CachedResource.
type Query[T any] struct {
	name   string
	key    string
	res    *store.CachedResource[T]
	fetch  func(ctx context.Context, key string) (T, error)
	opts   Options
	net    Network
	logger *slog.Logger
	now    func() time.Time

	iss issuer
}

// NewQuery builds a query. An empty key disables it; res may then be nil.
func NewQuery[T any](name, key string, res *store.CachedResource[T], fetch func(ctx context.Context, key string) (T, error), opts Options, net Network, logger *slog.Logger) *Query[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Query[T]{
		name:   name,
		key:    key,
		res:    res,
		fetch:  fetch,
		opts:   opts,
		net:    net,
		logger: logger,
		now:    time.Now,
	}
}

func (q *Query[T]) Name() string  { return q.name }
func (q *Query[T]) Key() string   { return q.key }
func (q *Query[T]) Enabled() bool { return q.key != "" && q.res != nil }

// Resource returns the backing resource, nil for a disabled query.
func (q *Query[T]) Resource() *store.CachedResource[T] { return q.res }

func (q *Query[T]) Result() Result[T] {
	if !q.Enabled() {
		r := Result[T]{Error: ErrNoKey.Error()}
		if q.res != nil {
			r.Data = q.res.Snapshot().Data
		}
		return r
	}
	return resultOf(q.res.Snapshot())
}

// Refetch fetches now. While offline nothing is requested; a resource without
// cached data then reports "no internet connection".
func (q *Query[T]) Refetch(ctx context.Context) error {
	if !q.Enabled() {
		return ErrNoKey
	}
	if offline(q.net) {
		if !q.res.HasData() {
			q.res.Fail(offlineMessage)
		}
		return retry.ErrOffline
	}

	fctx, gen := q.iss.issue(ctx)
	q.res.BeginFetch()
	v, err := retry.Do(fctx, q.opts.Retry, q.net, func(ctx context.Context) (T, error) {
		return q.fetch(ctx, q.key)
	})

	applied := q.iss.complete(gen, func() {
		if err != nil {
			q.res.Fail(failureMessage(err, q.res.HasData()))
			return
		}
		q.res.Succeed(ctx, v, q.now())
	})
	switch {
	case !applied:
		q.logger.Debug("fetch_superseded", "resource", q.name, "key", q.key)
		return ErrSuperseded
	case err != nil:
		q.logger.Warn("fetch_failed", "resource", q.name, "key", q.key, "error", err)
		return err
	}
	q.logger.Debug("fetch_succeeded", "resource", q.name, "key", q.key)
	return nil
}

// Run fetches if the data is stale, then every RefetchInterval, and again as
// soon as connectivity returns. It returns when ctx ends.
func (q *Query[T]) Run(ctx context.Context) {
	if !q.Enabled() {
		return
	}
	poll(ctx, q.net, q.opts, func(now time.Time) bool {
		return q.res.IsStale(q.opts.StaleTime, now)
	}, q.Refetch)
}

// poll drives a refetch loop shared by Query and PagedQuery.
func poll(ctx context.Context, net Network, opts Options, stale func(time.Time) bool, refetch func(context.Context) error) {
	var netCh chan models.NetworkState
	var netErr <-chan error
	if net != nil {
		netCh = make(chan models.NetworkState, 4)
		sub := net.Subscribe(netCh)
		defer sub.Unsubscribe()
		netErr = sub.Err()
	}

	if stale(time.Now()) {
		_ = refetch(ctx)
	}

	var tick <-chan time.Time
	if opts.RefetchInterval > 0 {
		t := time.NewTicker(opts.RefetchInterval)
		defer t.Stop()
		tick = t.C
	}

	wasOffline := offline(net)
	for {
		select {
		case <-tick:
			if !offline(net) {
				_ = refetch(ctx)
			}
		case st := <-netCh:
			if wasOffline && !st.Offline() {
				_ = refetch(ctx)
			}
			wasOffline = st.Offline()
		case <-netErr:
			netCh, netErr = nil, nil
		case <-ctx.Done():
			return
		}
	}
}

func offline(n Network) bool {
	return n != nil && n.IsOffline()
}

// failureMessage turns a fetch error into the message shown next to cached
// data.
func failureMessage(err error, hasData bool) string {
	if errors.Is(err, retry.ErrOffline) && !hasData {
		return offlineMessage
	}
	if errors.Is(err, ErrNoKey) {
		return ErrNoKey.Error()
	}
	return err.Error()
}
