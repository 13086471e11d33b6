package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"solsync/pkg/models"
	"solsync/pkg/retry"

	"github.com/cockroachdb/errors"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

// IndexerClient queries a DAS-compatible NFT indexer over JSON-RPC.
type IndexerClient struct {
	rpc jsonrpc.RPCClient
}

func NewIndexerClient(endpoint string, hc *http.Client) *IndexerClient {
	return &IndexerClient{rpc: newJSONRPC(endpoint, hc, nil)}
}

func newJSONRPC(endpoint string, hc *http.Client, headers map[string]string) jsonrpc.RPCClient {
	if hc == nil {
		hc = &http.Client{Timeout: DefaultTimeout}
	}
	return jsonrpc.NewClientWithOpts(endpoint, &jsonrpc.RPCClientOpts{HTTPClient: hc, CustomHeaders: headers})
}

// AssetsPage is one page of an owner's assets. Next is the cursor of the
// following page, "" after the last one.
type AssetsPage struct {
	Assets []models.Asset
	Next   string
}

type assetsByOwnerParams struct {
	OwnerAddress string `json:"ownerAddress"`
	Page         int    `json:"page"`
	Limit        int    `json:"limit"`
}

type dasAsset struct {
	Interface string `json:"interface"`
	ID        string `json:"id"`
	Content   struct {
		Metadata struct {
			Name   string `json:"name"`
			Symbol string `json:"symbol"`
		} `json:"metadata"`
		Links struct {
			Image string `json:"image"`
		} `json:"links"`
	} `json:"content"`
	Grouping []struct {
		GroupKey           string `json:"group_key"`
		GroupValue         string `json:"group_value"`
		CollectionMetadata struct {
			Name string `json:"name"`
		} `json:"collection_metadata"`
	} `json:"grouping"`
	Compression struct {
		Compressed bool `json:"compressed"`
	} `json:"compression"`
	Burnt bool `json:"burnt"`
}

// AssetsByOwner returns one page of owner's assets. cursor is the page number
// returned as Next by the previous call; "" requests the first page.
func (c *IndexerClient) AssetsByOwner(ctx context.Context, owner, cursor string, limit int) (AssetsPage, error) {
	if err := ValidateAddress(owner); err != nil {
		return AssetsPage{}, err
	}
	page := 1
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 1 {
			return AssetsPage{}, retry.Permanent(errors.Newf("invalid assets cursor %q", cursor))
		}
		page = n
	}
	if limit <= 0 {
		limit = 50
	}

	var res struct {
		Total int               `json:"total"`
		Limit int               `json:"limit"`
		Page  int               `json:"page"`
		Items []json.RawMessage `json:"items"`
	}
	err := c.rpc.CallFor(ctx, &res, "getAssetsByOwner", assetsByOwnerParams{OwnerAddress: owner, Page: page, Limit: limit})
	if err != nil {
		return AssetsPage{}, rpcError("nft indexer", err)
	}

	assets, _ := decodeItems(res.Items, func(a dasAsset) (models.Asset, bool) {
		if a.ID == "" || a.Burnt {
			return models.Asset{}, false
		}
		out := models.Asset{
			ID:         a.ID,
			Interface:  a.Interface,
			Name:       a.Content.Metadata.Name,
			Symbol:     a.Content.Metadata.Symbol,
			ImageURL:   a.Content.Links.Image,
			Compressed: a.Compression.Compressed,
		}
		for _, g := range a.Grouping {
			if g.GroupKey == "collection" {
				out.CollectionID = g.GroupValue
				out.CollectionName = g.CollectionMetadata.Name
				break
			}
		}
		return out, true
	})

	next := ""
	if len(res.Items) >= limit {
		next = strconv.Itoa(page + 1)
	}
	return AssetsPage{Assets: assets, Next: next}, nil
}

// rpcError maps JSON-RPC failures onto RemoteError. Malformed-request codes are
// permanent.
func rpcError(service string, err error) error {
	var rerr *jsonrpc.RPCError
	if errors.As(err, &rerr) {
		re := &RemoteError{Service: service, Message: rerr.Message}
		switch rerr.Code {
		case -32600, -32601, -32602:
			return retry.Permanent(re)
		}
		return re
	}
	var herr *jsonrpc.HTTPError
	if errors.As(err, &herr) {
		return &RemoteError{Service: service, Status: herr.Code, Message: herr.Error()}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &RemoteError{Service: service, Message: err.Error()}
}
