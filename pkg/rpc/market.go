package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"solsync/pkg/models"
	"solsync/pkg/retry"

	"github.com/cockroachdb/errors"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

var BirdEyeBaseURL = "https://public-api.birdeye.so"

// MarketClient talks to the BirdEye market-data API.
type MarketClient struct {
	c httpClient
}

func NewMarketClient(baseURL, apiKey string, hc *http.Client) *MarketClient {
	if baseURL == "" {
		baseURL = BirdEyeBaseURL
	}
	c := newHTTPClient("market data", baseURL, hc)
	c.header.Set("X-API-KEY", apiKey)
	c.header.Set("x-chain", "solana")
	return &MarketClient{c: c}
}

// ValidateAddress checks that s is a base58 Solana public key.
func ValidateAddress(s string) error {
	if _, err := solana.PublicKeyFromBase58(s); err != nil {
		return retry.Permanent(errors.Wrapf(err, "invalid address %q", s))
	}
	return nil
}

type walletToken struct {
	Address  string          `json:"address"`
	Decimals int             `json:"decimals"`
	UIAmount decimal.Decimal `json:"uiAmount"`
	Name     string          `json:"name"`
	Symbol   string          `json:"symbol"`
	LogoURI  string          `json:"logoURI"`
	PriceUSD decimal.Decimal `json:"priceUsd"`
	ValueUSD decimal.Decimal `json:"valueUsd"`
}

// Portfolio returns the token holdings of wallet. Holdings that do not parse are
// left out.
func (m *MarketClient) Portfolio(ctx context.Context, wallet string) (models.Portfolio, error) {
	if err := ValidateAddress(wallet); err != nil {
		return models.Portfolio{}, err
	}
	data, err := enveloped[struct {
		Wallet   string            `json:"wallet"`
		TotalUSD decimal.Decimal   `json:"totalUsd"`
		Items    []json.RawMessage `json:"items"`
	}](ctx, m.c, http.MethodGet, "/v1/wallet/token_list", url.Values{"wallet": {wallet}}, nil)
	if err != nil {
		return models.Portfolio{}, err
	}

	items, _ := decodeItems(data.Items, func(t walletToken) (models.PortfolioItem, bool) {
		if t.Address == "" {
			return models.PortfolioItem{}, false
		}
		return models.PortfolioItem{
			Address:  t.Address,
			Name:     t.Name,
			Symbol:   t.Symbol,
			Decimals: t.Decimals,
			UIAmount: t.UIAmount,
			PriceUSD: t.PriceUSD,
			ValueUSD: t.ValueUSD,
			LogoURI:  t.LogoURI,
		}, true
	})
	p := models.Portfolio{Wallet: wallet, TotalUSD: data.TotalUSD, Items: items}
	if p.TotalUSD.IsZero() {
		for _, it := range items {
			p.TotalUSD = p.TotalUSD.Add(it.ValueUSD)
		}
	}
	return p, nil
}

// TrendingPage is one offset/limit page of trending tokens.
type TrendingPage struct {
	Tokens []models.TrendingToken
	Offset int
	Limit  int
	Total  int
	// Received counts the entries returned before malformed ones were dropped.
	Received int
}

// Next returns the offset of the following page as a cursor, or "" when this
// page was the last one.
func (p TrendingPage) Next() string {
	if p.Received < p.Limit {
		return ""
	}
	next := p.Offset + p.Received
	if p.Total > 0 && next >= p.Total {
		return ""
	}
	return strconv.Itoa(next)
}

type trendingToken struct {
	Address               string          `json:"address"`
	Decimals              int             `json:"decimals"`
	Liquidity             decimal.Decimal `json:"liquidity"`
	LogoURI               string          `json:"logoURI"`
	Name                  string          `json:"name"`
	Symbol                string          `json:"symbol"`
	Volume24hUSD          decimal.Decimal `json:"volume24hUSD"`
	Rank                  int             `json:"rank"`
	Price                 decimal.Decimal `json:"price"`
	Price24hChangePercent float64         `json:"price24hChangePercent"`
}

// Trending returns a page of tokens ordered by rank.
func (m *MarketClient) Trending(ctx context.Context, offset, limit int) (TrendingPage, error) {
	if limit <= 0 {
		limit = 20
	}
	q := url.Values{
		"sort_by":   {"rank"},
		"sort_type": {"asc"},
		"offset":    {strconv.Itoa(offset)},
		"limit":     {strconv.Itoa(limit)},
	}
	data, err := enveloped[struct {
		Tokens []json.RawMessage `json:"tokens"`
		Total  int               `json:"total"`
	}](ctx, m.c, http.MethodGet, "/defi/token_trending", q, nil)
	if err != nil {
		return TrendingPage{}, err
	}

	tokens, _ := decodeItems(data.Tokens, func(t trendingToken) (models.TrendingToken, bool) {
		if t.Address == "" || t.Symbol == "" {
			return models.TrendingToken{}, false
		}
		return models.TrendingToken{
			Address:               t.Address,
			Symbol:                t.Symbol,
			Name:                  t.Name,
			Decimals:              t.Decimals,
			Rank:                  t.Rank,
			LogoURI:               t.LogoURI,
			PriceUSD:              t.Price,
			Volume24hUSD:          t.Volume24hUSD,
			Liquidity:             t.Liquidity,
			Price24hChangePercent: t.Price24hChangePercent,
		}, true
	})
	return TrendingPage{Tokens: tokens, Offset: offset, Limit: limit, Total: data.Total, Received: len(data.Tokens)}, nil
}

// TokenOverview returns price and market statistics for a mint.
func (m *MarketClient) TokenOverview(ctx context.Context, mint string) (models.TokenOverview, error) {
	if err := ValidateAddress(mint); err != nil {
		return models.TokenOverview{}, err
	}
	data, err := enveloped[struct {
		Address               string          `json:"address"`
		Symbol                string          `json:"symbol"`
		Name                  string          `json:"name"`
		Decimals              int             `json:"decimals"`
		LogoURI               string          `json:"logoURI"`
		Price                 decimal.Decimal `json:"price"`
		MC                    decimal.Decimal `json:"mc"`
		Liquidity             decimal.Decimal `json:"liquidity"`
		V24hUSD               decimal.Decimal `json:"v24hUSD"`
		Supply                decimal.Decimal `json:"supply"`
		Holder                int             `json:"holder"`
		PriceChange24hPercent float64         `json:"priceChange24hPercent"`
	}](ctx, m.c, http.MethodGet, "/defi/token_overview", url.Values{"address": {mint}}, nil)
	if err != nil {
		return models.TokenOverview{}, err
	}
	addr := data.Address
	if addr == "" {
		addr = mint
	}
	return models.TokenOverview{
		Address:               addr,
		Symbol:                data.Symbol,
		Name:                  data.Name,
		Decimals:              data.Decimals,
		LogoURI:               data.LogoURI,
		PriceUSD:              data.Price,
		MarketCap:             data.MC,
		Liquidity:             data.Liquidity,
		Volume24hUSD:          data.V24hUSD,
		Supply:                data.Supply,
		Holders:               data.Holder,
		Price24hChangePercent: data.PriceChange24hPercent,
	}, nil
}

type candle struct {
	O        float64 `json:"o"`
	H        float64 `json:"h"`
	L        float64 `json:"l"`
	C        float64 `json:"c"`
	V        float64 `json:"v"`
	UnixTime int64   `json:"unixTime"`
}

// OHLCV returns candles of the given interval ("1m", "15m", "1H", "1D", ...).
func (m *MarketClient) OHLCV(ctx context.Context, mint, interval string, from, to time.Time) ([]models.OHLCVPoint, error) {
	if err := ValidateAddress(mint); err != nil {
		return nil, err
	}
	data, err := enveloped[struct {
		Items []json.RawMessage `json:"items"`
	}](ctx, m.c, http.MethodGet, "/defi/ohlcv", rangeQuery(mint, interval, from, to), nil)
	if err != nil {
		return nil, err
	}
	points, _ := decodeItems(data.Items, func(c candle) (models.OHLCVPoint, bool) {
		if c.UnixTime <= 0 {
			return models.OHLCVPoint{}, false
		}
		return models.OHLCVPoint{
			Time: time.Unix(c.UnixTime, 0).UTC(), Open: c.O, High: c.H, Low: c.L, Close: c.C, Volume: c.V,
		}, true
	})
	return points, nil
}

// PriceHistory returns the historical price series of a mint.
func (m *MarketClient) PriceHistory(ctx context.Context, mint, interval string, from, to time.Time) ([]models.PricePoint, error) {
	if err := ValidateAddress(mint); err != nil {
		return nil, err
	}
	q := rangeQuery(mint, interval, from, to)
	q.Set("address_type", "token")
	data, err := enveloped[struct {
		Items []json.RawMessage `json:"items"`
	}](ctx, m.c, http.MethodGet, "/defi/history_price", q, nil)
	if err != nil {
		return nil, err
	}
	points, _ := decodeItems(data.Items, func(p struct {
		UnixTime int64   `json:"unixTime"`
		Value    float64 `json:"value"`
	}) (models.PricePoint, bool) {
		if p.UnixTime <= 0 {
			return models.PricePoint{}, false
		}
		return models.PricePoint{Time: time.Unix(p.UnixTime, 0).UTC(), Value: p.Value}, true
	})
	return points, nil
}

type walletTx struct {
	TxHash        string          `json:"txHash"`
	BlockNumber   uint64          `json:"blockNumber"`
	BlockTime     string          `json:"blockTime"`
	Status        bool            `json:"status"`
	From          string          `json:"from"`
	To            string          `json:"to"`
	Fee           decimal.Decimal `json:"fee"`
	MainAction    string          `json:"mainAction"`
	BalanceChange []struct {
		Address string          `json:"address"`
		Symbol  string          `json:"symbol"`
		Amount  decimal.Decimal `json:"amount"`
	} `json:"balanceChange"`
}

// Transactions returns the most recent transactions of wallet, newest first.
// before is a signature to page backwards from; empty starts at the newest.
func (m *MarketClient) Transactions(ctx context.Context, wallet string, limit int, before string) ([]models.Transaction, error) {
	if err := ValidateAddress(wallet); err != nil {
		return nil, err
	}
	q := url.Values{"wallet": {wallet}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if before != "" {
		q.Set("before", before)
	}
	data, err := enveloped[map[string][]json.RawMessage](ctx, m.c, http.MethodGet, "/v1/wallet/tx_list", q, nil)
	if err != nil {
		return nil, err
	}
	txs, _ := decodeItems(data["solana"], func(t walletTx) (models.Transaction, bool) {
		if t.TxHash == "" {
			return models.Transaction{}, false
		}
		tx := models.Transaction{
			Signature:  t.TxHash,
			Slot:       t.BlockNumber,
			Success:    t.Status,
			From:       t.From,
			To:         t.To,
			Fee:        t.Fee,
			MainAction: t.MainAction,
		}
		if bt, err := time.Parse(time.RFC3339, t.BlockTime); err == nil {
			tx.BlockTime = bt.UTC()
		}
		for _, c := range t.BalanceChange {
			tx.Changes = append(tx.Changes, models.BalanceChange{Address: c.Address, Symbol: c.Symbol, Amount: c.Amount})
		}
		return tx, true
	})
	return txs, nil
}

func rangeQuery(mint, interval string, from, to time.Time) url.Values {
	if interval == "" {
		interval = "15m"
	}
	return url.Values{
		"address":   {mint},
		"type":      {interval},
		"time_from": {strconv.FormatInt(from.Unix(), 10)},
		"time_to":   {strconv.FormatInt(to.Unix(), 10)},
	}
}

// decodeItems decodes each raw item into the wire type W and converts it. Items
// that fail to decode or convert are skipped and counted.
func decodeItems[W, T any](raw []json.RawMessage, conv func(W) (T, bool)) ([]T, int) {
	out := make([]T, 0, len(raw))
	skipped := 0
	for _, r := range raw {
		if len(r) == 0 || strings.TrimSpace(string(r)) == "null" {
			skipped++
			continue
		}
		var w W
		if err := json.Unmarshal(r, &w); err != nil {
			skipped++
			continue
		}
		v, ok := conv(w)
		if !ok {
			skipped++
			continue
		}
		out = append(out, v)
	}
	return out, skipped
}
