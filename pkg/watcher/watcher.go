package watcher

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"solsync/pkg/models"
	"solsync/pkg/retry"
	"solsync/pkg/store"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
)

// historyLen caps the number of portfolio values kept for the console graph.
const historyLen = 120

// Config holds the per-resource query options.
type Config struct {
	Portfolio    Options
	Trending     Options
	Assets       Options
	Transactions Options
	Overview     Options
	Profile      Options
	AddressBook  Options

	TrendingPageSize  int
	AssetsPageSize    int
	TransactionsLimit int
}

func DefaultConfig() Config {
	p := retry.DefaultPolicy()
	return Config{
		Portfolio:         Options{StaleTime: 30 * time.Second, RefetchInterval: 60 * time.Second, Retry: p},
		Trending:          Options{StaleTime: 60 * time.Second, RefetchInterval: 120 * time.Second, Retry: p},
		Assets:            Options{StaleTime: 60 * time.Second, Retry: p},
		Transactions:      Options{StaleTime: 30 * time.Second, RefetchInterval: 60 * time.Second, Retry: p},
		Overview:          Options{StaleTime: 30 * time.Second, RefetchInterval: 60 * time.Second, Retry: p},
		Profile:           Options{StaleTime: 5 * time.Minute, Retry: p},
		AddressBook:       Options{StaleTime: 60 * time.Second, Retry: p},
		TrendingPageSize:  20,
		AssetsPageSize:    50,
		TransactionsLimit: 50,
	}
}

// Monitor is what the watcher needs from the network monitor.
type Monitor interface {
	Network
	State() models.NetworkState
}

// Watcher owns the queries of the active wallet and keeps them bound to the
// session: when the active wallet changes the wallet queries are rebuilt.
type Watcher struct {
	stores *store.Stores
	net    Monitor
	cfg    Config
	logger *slog.Logger

	mu          sync.RWMutex
	dataSource  DataSource
	subscribers []Subscriber

	wallet       string
	userID       string
	portfolio    *Query[models.Portfolio]
	transactions *Query[[]models.Transaction]
	assets       *PagedQuery[models.Asset]
	profile      *Query[models.Profile]
	addressBook  *Query[[]models.AddressBookEntry]
	trending     *PagedQuery[models.TrendingToken]
	overviews    map[string]*Query[models.TokenOverview]
	history      []float64

	runCtx      context.Context
	stop        context.CancelFunc
	boundCancel context.CancelFunc
	rebind      chan struct{}

	// pinned is the wallet set by the host; used while the session has none.
	pinned string
}

// NewWatcher creates a watcher bound to the session currently held by stores.
func NewWatcher(stores *store.Stores, ds DataSource, net Monitor, cfg Config, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watcher{
		stores:     stores,
		net:        net,
		cfg:        cfg,
		logger:     logger,
		dataSource: ds,
		overviews:  make(map[string]*Query[models.TokenOverview]),
		rebind:     make(chan struct{}, 1),
	}
	w.trending = NewPagedQuery(store.ResourceTrending, "", true, stores.Trending, w.fetchTrending, cfg.Trending, net, logger)
	w.bind(context.Background(), stores.Auth.Session())
	return w
}

// SetDataSource allows overriding the data source (useful for testing).
func (w *Watcher) SetDataSource(ds DataSource) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.dataSource = ds
}

func (w *Watcher) source() DataSource {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.dataSource
}

// Subscribe adds a new subscriber and returns a channel to receive events.
func (w *Watcher) Subscribe() Subscriber {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch := make(Subscriber, 100)
	w.subscribers = append(w.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber.
func (w *Watcher) Unsubscribe(ch Subscriber) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, sub := range w.subscribers {
		if sub == ch {
			w.subscribers = append(w.subscribers[:i], w.subscribers[i+1:]...)
			close(ch)
			break
		}
	}
}

func (w *Watcher) notify(event Event) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, sub := range w.subscribers {
		select {
		case sub <- event:
		default:
			// Slow subscribers miss events; they re-read state on the next one.
		}
	}
}

// Start begins forwarding store and network changes and runs every query's
// polling loop until ctx ends or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	changes := make(chan store.Change, 64)
	sub := w.stores.Subscribe(changes)

	w.mu.Lock()
	w.runCtx = ctx
	w.stop = cancel
	w.mu.Unlock()

	go func() {
		defer sub.Unsubscribe()
		for {
			select {
			case c := <-changes:
				w.onChange(c)
			case <-ctx.Done():
				return
			}
		}
	}()
	go w.rebindLoop(ctx)
	if w.net != nil {
		go w.forwardNetwork(ctx)
	}

	go w.trending.Run(ctx)
	w.mu.Lock()
	for _, q := range w.overviews {
		go q.Run(ctx)
	}
	w.startBoundLocked()
	w.mu.Unlock()
}

// Stop stops every loop started by Start.
func (w *Watcher) Stop() {
	w.mu.Lock()
	stop := w.stop
	w.mu.Unlock()
	if stop != nil {
		stop()
	}
}

func (w *Watcher) onChange(c store.Change) {
	switch c.Resource {
	case store.ResourceAuth:
		select {
		case w.rebind <- struct{}{}:
		default:
		}
	case store.ResourcePortfolio:
		w.recordPortfolio(c.Key)
	}
	w.notify(Event{Type: EventStoreChanged, Data: c})
}

func (w *Watcher) rebindLoop(ctx context.Context) {
	for {
		select {
		case <-w.rebind:
			w.bind(ctx, w.stores.Auth.Session())
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) forwardNetwork(ctx context.Context) {
	ch := make(chan models.NetworkState, 8)
	sub := w.net.Subscribe(ch)
	defer sub.Unsubscribe()
	for {
		select {
		case st := <-ch:
			w.notify(Event{Type: EventNetworkChanged, Data: st})
		case <-sub.Err():
			return
		case <-ctx.Done():
			return
		}
	}
}

// SetWallet binds wallet without touching the session, for hosts that track
// the active wallet themselves. The wallet stays pinned: later session changes
// that carry a wallet rebind to it, those without one keep the pinned wallet.
func (w *Watcher) SetWallet(ctx context.Context, wallet string) {
	w.mu.Lock()
	w.pinned = wallet
	w.mu.Unlock()
	s := w.stores.Auth.Session()
	if wallet != "" {
		s.ActiveWallet = wallet
	}
	w.bind(ctx, s)
}

// bind rebuilds the wallet and user queries when the session's active wallet
// or user changed.
func (w *Watcher) bind(ctx context.Context, s models.Session) {
	wallet := s.ActiveWallet
	if wallet == "" {
		w.mu.RLock()
		wallet = w.pinned
		w.mu.RUnlock()
	}
	userID := ""
	if s.IsAuthenticated && s.User != nil {
		userID = s.User.ID
	}

	var (
		portfolio *store.CachedResource[models.Portfolio]
		txs       *store.CachedResource[[]models.Transaction]
		assets    *store.Accumulator[models.Asset]
	)
	if wallet != "" {
		portfolio = w.stores.Portfolios.Get(ctx, wallet)
		txs = w.stores.Transactions.Get(ctx, wallet)
		assets = w.stores.Assets.Get(ctx, wallet)
	}

	w.mu.Lock()
	if w.portfolio != nil && wallet == w.wallet && userID == w.userID {
		w.mu.Unlock()
		return
	}
	if w.boundCancel != nil {
		w.boundCancel()
		w.boundCancel = nil
	}
	w.wallet, w.userID = wallet, userID
	w.history = nil

	w.portfolio = NewQuery(store.ResourcePortfolio, wallet, portfolio, w.fetchPortfolio, w.cfg.Portfolio, w.net, w.logger)
	w.transactions = NewQuery(store.ResourceTransactions, wallet, txs, w.fetchTransactions, w.cfg.Transactions, w.net, w.logger)
	w.assets = NewPagedQuery(store.ResourceAssets, wallet, false, assets, w.fetchAssets, w.cfg.Assets, w.net, w.logger)
	w.profile = NewQuery(store.ResourceProfile, userID, w.stores.Profile, w.fetchProfile, w.cfg.Profile, w.net, w.logger)
	w.addressBook = nil
	if w.stores.AddressBook.Remote() != nil {
		w.addressBook = NewQuery(store.ResourceAddressBook, userID, w.stores.AddressBook.Resource(), w.fetchAddressBook, w.cfg.AddressBook, w.net, w.logger)
	}
	if w.runCtx != nil && w.runCtx.Err() == nil {
		w.startBoundLocked()
	}
	w.mu.Unlock()

	w.logger.Info("wallet_bound", "wallet", wallet, "user", userID)
	w.notify(Event{Type: EventWalletChanged, Data: wallet})
}

// startBoundLocked runs the polling loops of the wallet and user queries.
// Must be called with w.mu held.
func (w *Watcher) startBoundLocked() {
	ctx, cancel := context.WithCancel(w.runCtx)
	w.boundCancel = cancel
	go w.portfolio.Run(ctx)
	go w.transactions.Run(ctx)
	go w.assets.Run(ctx)
	go w.profile.Run(ctx)
	if w.addressBook != nil {
		go w.addressBook.Run(ctx)
	}
}

func (w *Watcher) fetchPortfolio(ctx context.Context, wallet string) (models.Portfolio, error) {
	return w.source().Portfolio(ctx, wallet)
}

func (w *Watcher) fetchTransactions(ctx context.Context, wallet string) ([]models.Transaction, error) {
	return w.source().Transactions(ctx, wallet, w.cfg.TransactionsLimit)
}

func (w *Watcher) fetchProfile(ctx context.Context, _ string) (models.Profile, error) {
	return w.source().Profile(ctx)
}

func (w *Watcher) fetchAddressBook(ctx context.Context, _ string) ([]models.AddressBookEntry, error) {
	return w.source().AddressBook(ctx)
}

func (w *Watcher) fetchAssets(ctx context.Context, owner, cursor string) (store.Page[models.Asset], error) {
	p, err := w.source().Assets(ctx, owner, cursor, w.cfg.AssetsPageSize)
	if err != nil {
		return store.Page[models.Asset]{}, err
	}
	return store.Page[models.Asset]{Items: p.Assets, Cursor: p.Next}, nil
}

// fetchTrending maps the opaque cursor onto the provider's offset.
func (w *Watcher) fetchTrending(ctx context.Context, _ string, cursor string) (store.Page[models.TrendingToken], error) {
	offset := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return store.Page[models.TrendingToken]{}, retry.Permanent(errors.Newf("invalid trending cursor %q", cursor))
		}
		offset = n
	}
	p, err := w.source().Trending(ctx, offset, w.cfg.TrendingPageSize)
	if err != nil {
		return store.Page[models.TrendingToken]{}, err
	}
	return store.Page[models.TrendingToken]{Items: p.Tokens, Cursor: p.Next()}, nil
}

func (w *Watcher) recordPortfolio(wallet string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if wallet != w.wallet || w.portfolio == nil || !w.portfolio.Enabled() {
		return
	}
	s := w.portfolio.Resource().Snapshot()
	if s.Data == nil {
		return
	}
	v := s.Data.TotalUSD.InexactFloat64()
	if n := len(w.history); n > 0 && w.history[n-1] == v {
		return
	}
	w.history = append(w.history, v)
	if len(w.history) > historyLen {
		w.history = w.history[len(w.history)-historyLen:]
	}
}

// RefreshAll refetches every bound resource concurrently. A failing resource
// does not stop the others; the first error is returned.
func (w *Watcher) RefreshAll(ctx context.Context) error {
	w.mu.RLock()
	refetch := []func(context.Context) error{
		w.trending.Refetch,
		w.portfolio.Refetch,
		w.transactions.Refetch,
		w.assets.Refetch,
	}
	if w.profile.Enabled() {
		refetch = append(refetch, w.profile.Refetch)
	}
	if w.addressBook != nil && w.addressBook.Enabled() {
		refetch = append(refetch, w.addressBook.Refetch)
	}
	for _, q := range w.overviews {
		refetch = append(refetch, q.Refetch)
	}
	w.mu.RUnlock()

	var g errgroup.Group
	for _, fn := range refetch {
		g.Go(func() error {
			err := fn(ctx)
			if errors.Is(err, ErrSuperseded) {
				return nil
			}
			return err
		})
	}
	err := g.Wait()
	w.notify(Event{Type: EventRefreshed, Data: w.Status()})
	return err
}

// Wallet returns the wallet the queries are bound to.
func (w *Watcher) Wallet() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.wallet
}

func (w *Watcher) Portfolio() *Query[models.Portfolio] {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.portfolio
}

func (w *Watcher) Transactions() *Query[[]models.Transaction] {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.transactions
}

func (w *Watcher) Assets() *PagedQuery[models.Asset] {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.assets
}

func (w *Watcher) Trending() *PagedQuery[models.TrendingToken] {
	return w.trending
}

func (w *Watcher) Profile() *Query[models.Profile] {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.profile
}

// AddressBook returns the address book query, nil in local-only mode.
func (w *Watcher) AddressBook() *Query[[]models.AddressBookEntry] {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.addressBook
}

// TokenOverview returns the overview query of mint, creating it on first use.
// New queries poll while the watcher runs.
func (w *Watcher) TokenOverview(ctx context.Context, mint string) *Query[models.TokenOverview] {
	w.mu.RLock()
	q, ok := w.overviews[mint]
	w.mu.RUnlock()
	if ok {
		return q
	}

	var res *store.CachedResource[models.TokenOverview]
	if mint != "" {
		res = w.stores.Overviews.Get(ctx, mint)
	}
	q = NewQuery(store.ResourceOverview, mint, res, func(ctx context.Context, mint string) (models.TokenOverview, error) {
		return w.source().TokenOverview(ctx, mint)
	}, w.cfg.Overview, w.net, w.logger)
	if mint == "" {
		return q
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if existing, ok := w.overviews[mint]; ok {
		return existing
	}
	w.overviews[mint] = q
	if w.runCtx != nil && w.runCtx.Err() == nil {
		go q.Run(w.runCtx)
	}
	return q
}

// PortfolioHistory returns the total USD values observed for the bound wallet.
func (w *Watcher) PortfolioHistory() []float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]float64(nil), w.history...)
}

// ResourceStatus summarizes one resource for status views.
type ResourceStatus struct {
	Name         string     `json:"name"`
	Key          string     `json:"key,omitempty"`
	HasData      bool       `json:"hasData"`
	Items        int        `json:"items"`
	IsLoading    bool       `json:"isLoading"`
	IsRefetching bool       `json:"isRefetching"`
	Error        string     `json:"error,omitempty"`
	LastFetch    *time.Time `json:"lastFetch"`
}

// Status is a point-in-time summary of the sync layer.
type Status struct {
	Network   models.NetworkState `json:"network"`
	Session   models.Session      `json:"session"`
	Wallet    string              `json:"wallet"`
	Resources []ResourceStatus    `json:"resources"`
}

func statusOf[T any](name, key string, r Result[T], items int) ResourceStatus {
	return ResourceStatus{
		Name:         name,
		Key:          key,
		HasData:      r.Data != nil,
		Items:        items,
		IsLoading:    r.IsLoading,
		IsRefetching: r.IsRefetching,
		Error:        r.Error,
		LastFetch:    r.LastFetch,
	}
}

func (w *Watcher) Status() Status {
	w.mu.RLock()
	portfolio, txs, assets, profile, book := w.portfolio, w.transactions, w.assets, w.profile, w.addressBook
	wallet := w.wallet
	overviews := make([]*Query[models.TokenOverview], 0, len(w.overviews))
	for _, q := range w.overviews {
		overviews = append(overviews, q)
	}
	w.mu.RUnlock()

	st := Status{Session: w.stores.Auth.Session(), Wallet: wallet}
	if w.net != nil {
		st.Network = w.net.State()
	}

	pr := portfolio.Result()
	n := 0
	if pr.Data != nil {
		n = len(pr.Data.Items)
	}
	st.Resources = append(st.Resources, statusOf(store.ResourcePortfolio, wallet, pr, n))

	tr := w.trending.Result()
	st.Resources = append(st.Resources, statusOf(store.ResourceTrending, "", tr, len(w.trending.View())))

	ar := assets.Result()
	st.Resources = append(st.Resources, statusOf(store.ResourceAssets, wallet, ar, len(assets.View())))

	xr := txs.Result()
	n = 0
	if xr.Data != nil {
		n = len(*xr.Data)
	}
	st.Resources = append(st.Resources, statusOf(store.ResourceTransactions, wallet, xr, n))

	if profile.Enabled() {
		st.Resources = append(st.Resources, statusOf(store.ResourceProfile, profile.Key(), profile.Result(), 1))
	}
	if book != nil {
		br := book.Result()
		st.Resources = append(st.Resources, statusOf(store.ResourceAddressBook, "", br, len(w.stores.AddressBook.List())))
	} else {
		st.Resources = append(st.Resources, ResourceStatus{
			Name:    store.ResourceAddressBook,
			HasData: w.stores.AddressBook.Resource().HasData(),
			Items:   len(w.stores.AddressBook.List()),
		})
	}
	for _, q := range overviews {
		st.Resources = append(st.Resources, statusOf(store.ResourceOverview, q.Key(), q.Result(), 1))
	}
	return st
}
