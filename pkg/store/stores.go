package store

import (
	"context"
	"log/slog"

	"solsync/pkg/models"
	"solsync/pkg/storage"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/event"
)

// Stores is the root container owning every store of a running instance.
type Stores struct {
	kv     storage.KV
	feed   event.FeedOf[Change]
	logger *slog.Logger

	Auth        *AuthStore
	Profile     *CachedResource[models.Profile]
	Trending    *Accumulator[models.TrendingToken]
	AddressBook *AddressBookStore

	// Keyed by wallet address.
	Portfolios   *Registry[*CachedResource[models.Portfolio]]
	Transactions *Registry[*CachedResource[[]models.Transaction]]
	Assets       *Registry[*Accumulator[models.Asset]]

	// Keyed by token mint.
	Overviews *Registry[*CachedResource[models.TokenOverview]]
}

// New builds all stores on top of kv. A nil kv keeps everything in memory and a
// nil remote keeps address book edits local.
func New(kv storage.KV, remote AddressBookRemote, logger *slog.Logger) *Stores {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Stores{kv: kv, logger: logger}
	opts := func(name, key string) ResourceOptions {
		return ResourceOptions{Name: name, Key: key, KV: kv, Feed: &s.feed, Logger: logger}
	}

	s.Auth = NewAuthStore(kv, &s.feed, logger)
	s.Profile = NewCachedResource[models.Profile](opts(ResourceProfile, ""))
	s.Trending = NewAccumulator(
		NewCachedResource[PageState[models.TrendingToken]](opts(ResourceTrending, "")),
		func(t models.TrendingToken) string { return t.Address },
	)
	s.AddressBook = NewAddressBookStore(
		NewCachedResource[[]models.AddressBookEntry](opts(ResourceAddressBook, "")),
		remote, logger,
	)

	s.Portfolios = NewRegistry(ResourcePortfolio, kv, logger, func(wallet string) *CachedResource[models.Portfolio] {
		return NewCachedResource[models.Portfolio](opts(ResourcePortfolio, wallet))
	})
	s.Transactions = NewRegistry(ResourceTransactions, kv, logger, func(wallet string) *CachedResource[[]models.Transaction] {
		return NewCachedResource[[]models.Transaction](opts(ResourceTransactions, wallet))
	})
	s.Assets = NewRegistry(ResourceAssets, kv, logger, func(wallet string) *Accumulator[models.Asset] {
		return NewAccumulator(
			NewCachedResource[PageState[models.Asset]](opts(ResourceAssets, wallet)),
			func(a models.Asset) string { return a.ID },
		)
	})
	s.Overviews = NewRegistry(ResourceOverview, kv, logger, func(mint string) *CachedResource[models.TokenOverview] {
		return NewCachedResource[models.TokenOverview](opts(ResourceOverview, mint))
	})
	return s
}

// Subscribe delivers every store change to ch. ch must be drained promptly,
// writers block until it is received.
func (s *Stores) Subscribe(ch chan<- Change) event.Subscription {
	return s.feed.Subscribe(ch)
}

// Hydrate restores the unkeyed stores. Keyed stores hydrate on first use.
func (s *Stores) Hydrate(ctx context.Context) error {
	var errs []error
	for name, h := range map[string]Hydrater{
		ResourceAuth:        s.Auth,
		ResourceProfile:     s.Profile,
		ResourceTrending:    s.Trending,
		ResourceAddressBook: s.AddressBook.Resource(),
	} {
		if err := h.Hydrate(ctx); err != nil {
			s.logger.Warn("hydrate_failed", "resource", name, "error", err)
			errs = append(errs, errors.Wrapf(err, "hydrate %s", name))
		}
	}
	return errors.Join(errs...)
}

// ClearUserData wipes everything tied to the signed-in user. Market data shared
// by all users (trending, token overviews) is kept.
func (s *Stores) ClearUserData(ctx context.Context) error {
	return errors.Join(
		s.Profile.Clear(ctx),
		s.AddressBook.Resource().Clear(ctx),
		s.Portfolios.ClearAll(ctx),
		s.Transactions.ClearAll(ctx),
		s.Assets.ClearAll(ctx),
	)
}
