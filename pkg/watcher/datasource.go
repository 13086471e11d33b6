package watcher

import (
	"context"

	"solsync/pkg/models"
	"solsync/pkg/retry"
	"solsync/pkg/rpc"

	"github.com/cockroachdb/errors"
)

// ErrNotConfigured is returned by a data source whose service has no client.
var ErrNotConfigured = errors.New("service not configured")

// DataSource defines the remote calls the watcher makes.
type DataSource interface {
	Portfolio(ctx context.Context, wallet string) (models.Portfolio, error)
	Trending(ctx context.Context, offset, limit int) (rpc.TrendingPage, error)
	Assets(ctx context.Context, owner, cursor string, limit int) (rpc.AssetsPage, error)
	Transactions(ctx context.Context, wallet string, limit int) ([]models.Transaction, error)
	TokenOverview(ctx context.Context, mint string) (models.TokenOverview, error)
	Profile(ctx context.Context) (models.Profile, error)
	AddressBook(ctx context.Context) ([]models.AddressBookEntry, error)
}

// RemoteDataSource implements DataSource with the rpc clients. Nil clients make
// the matching calls fail permanently.
type RemoteDataSource struct {
	Market  *rpc.MarketClient
	Indexer *rpc.IndexerClient
	Backend *rpc.BackendClient
}

func notConfigured(service string) error {
	return retry.Permanent(errors.Wrap(ErrNotConfigured, service))
}

func (d *RemoteDataSource) Portfolio(ctx context.Context, wallet string) (models.Portfolio, error) {
	if d.Market == nil {
		return models.Portfolio{}, notConfigured("market data")
	}
	return d.Market.Portfolio(ctx, wallet)
}

func (d *RemoteDataSource) Trending(ctx context.Context, offset, limit int) (rpc.TrendingPage, error) {
	if d.Market == nil {
		return rpc.TrendingPage{}, notConfigured("market data")
	}
	return d.Market.Trending(ctx, offset, limit)
}

func (d *RemoteDataSource) Assets(ctx context.Context, owner, cursor string, limit int) (rpc.AssetsPage, error) {
	if d.Indexer == nil {
		return rpc.AssetsPage{}, notConfigured("nft indexer")
	}
	return d.Indexer.AssetsByOwner(ctx, owner, cursor, limit)
}

func (d *RemoteDataSource) Transactions(ctx context.Context, wallet string, limit int) ([]models.Transaction, error) {
	if d.Market == nil {
		return nil, notConfigured("market data")
	}
	return d.Market.Transactions(ctx, wallet, limit, "")
}

func (d *RemoteDataSource) TokenOverview(ctx context.Context, mint string) (models.TokenOverview, error) {
	if d.Market == nil {
		return models.TokenOverview{}, notConfigured("market data")
	}
	return d.Market.TokenOverview(ctx, mint)
}

func (d *RemoteDataSource) Profile(ctx context.Context) (models.Profile, error) {
	if d.Backend == nil {
		return models.Profile{}, notConfigured("backend")
	}
	return d.Backend.Profile(ctx)
}

func (d *RemoteDataSource) AddressBook(ctx context.Context) ([]models.AddressBookEntry, error) {
	if d.Backend == nil {
		return nil, notConfigured("backend")
	}
	return d.Backend.ListAddressBook(ctx)
}
