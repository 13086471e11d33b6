package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LinkedAccount is one credential or wallet attached to an identity-provider user.
type LinkedAccount struct {
	Type             string `json:"type"`
	Address          string `json:"address,omitempty"`
	ChainType        string `json:"chain_type,omitempty"`
	WalletClientType string `json:"wallet_client_type,omitempty"`
}

// User is the identity-provider user as seen by the sync layer.
type User struct {
	ID             string          `json:"id"`
	LinkedAccounts []LinkedAccount `json:"linked_accounts"`
	CreatedAt      time.Time       `json:"created_at"`
}

// FirstWallet returns the address of the first wallet-type linked account.
func (u *User) FirstWallet() string {
	if u == nil {
		return ""
	}
	for _, la := range u.LinkedAccounts {
		if la.Type == "wallet" && la.Address != "" {
			return la.Address
		}
	}
	return ""
}

// Session is the reconciled authentication state.
type Session struct {
	User            *User      `json:"user"`
	ActiveWallet    string     `json:"activeWallet"`
	IsAuthenticated bool       `json:"isAuthenticated"`
	IsReady         bool       `json:"isReady"`
	LastSync        *time.Time `json:"lastSync"`
}

// Profile holds the custom backend's user profile.
type Profile struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl"`
	Bio         string `json:"bio"`
}

// PortfolioItem is a single token holding.
type PortfolioItem struct {
	Address  string          `json:"address"`
	Name     string          `json:"name"`
	Symbol   string          `json:"symbol"`
	Decimals int             `json:"decimals"`
	UIAmount decimal.Decimal `json:"uiAmount"`
	PriceUSD decimal.Decimal `json:"priceUsd"`
	ValueUSD decimal.Decimal `json:"valueUsd"`
	LogoURI  string          `json:"logoURI,omitempty"`
}

// Portfolio holds all token holdings of a wallet.
type Portfolio struct {
	Wallet   string          `json:"wallet"`
	TotalUSD decimal.Decimal `json:"totalUsd"`
	Items    []PortfolioItem `json:"items"`
}

// TrendingToken is one entry of the market-data trending list.
type TrendingToken struct {
	Address               string          `json:"address"`
	Symbol                string          `json:"symbol"`
	Name                  string          `json:"name"`
	Decimals              int             `json:"decimals"`
	Rank                  int             `json:"rank"`
	LogoURI               string          `json:"logoURI,omitempty"`
	PriceUSD              decimal.Decimal `json:"price"`
	Volume24hUSD          decimal.Decimal `json:"volume24hUSD"`
	Liquidity             decimal.Decimal `json:"liquidity"`
	Price24hChangePercent float64         `json:"price24hChangePercent"`
}

// Asset is an NFT (or other digital asset) returned by the indexer.
type Asset struct {
	ID             string `json:"id"`
	Interface      string `json:"interface"`
	Name           string `json:"name"`
	Symbol         string `json:"symbol"`
	ImageURL       string `json:"imageUrl,omitempty"`
	CollectionID   string `json:"collectionId,omitempty"`
	CollectionName string `json:"collectionName,omitempty"`
	Compressed     bool   `json:"compressed"`
}

// BalanceChange is a per-token delta inside a transaction.
type BalanceChange struct {
	Address string          `json:"address"`
	Symbol  string          `json:"symbol"`
	Amount  decimal.Decimal `json:"amount"`
}

// Transaction holds wallet transaction history details.
type Transaction struct {
	Signature  string          `json:"signature"`
	BlockTime  time.Time       `json:"blockTime"`
	Slot       uint64          `json:"slot"`
	Success    bool            `json:"success"`
	From       string          `json:"from"`
	To         string          `json:"to"`
	Fee        decimal.Decimal `json:"fee"`
	MainAction string          `json:"mainAction"`
	Changes    []BalanceChange `json:"changes,omitempty"`
}

// TokenOverview contains token statistics.
type TokenOverview struct {
	Address               string          `json:"address"`
	Symbol                string          `json:"symbol"`
	Name                  string          `json:"name"`
	Decimals              int             `json:"decimals"`
	LogoURI               string          `json:"logoURI,omitempty"`
	PriceUSD              decimal.Decimal `json:"price"`
	MarketCap             decimal.Decimal `json:"marketCap"`
	Liquidity             decimal.Decimal `json:"liquidity"`
	Volume24hUSD          decimal.Decimal `json:"volume24hUSD"`
	Supply                decimal.Decimal `json:"supply"`
	Holders               int             `json:"holders"`
	Price24hChangePercent float64         `json:"price24hChangePercent"`
}

// OHLCVPoint is one candle.
type OHLCVPoint struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"o"`
	High   float64   `json:"h"`
	Low    float64   `json:"l"`
	Close  float64   `json:"c"`
	Volume float64   `json:"v"`
}

// PricePoint holds a timestamped price value.
type PricePoint struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// AddressBookEntry is a saved counterparty address.
type AddressBookEntry struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	WalletAddress string    `json:"walletAddress"`
	Description   string    `json:"description,omitempty"`
	Network       string    `json:"network"`
	Tags          []string  `json:"tags"`
	IsFavorite    bool      `json:"isFavorite"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// SwapQuote is the routing quote returned by the swap router. Raw is kept verbatim
// so it can be posted back when requesting the swap transaction.
type SwapQuote struct {
	InputMint      string          `json:"inputMint"`
	OutputMint     string          `json:"outputMint"`
	InAmount       string          `json:"inAmount"`
	OutAmount      string          `json:"outAmount"`
	SlippageBps    int             `json:"slippageBps"`
	PriceImpactPct decimal.Decimal `json:"priceImpactPct"`
	RouteHops      int             `json:"routeHops"`
	Raw            []byte          `json:"-"`
}

// SwapTransaction is the unsigned transaction produced for a quote.
type SwapTransaction struct {
	Transaction          string `json:"swapTransaction"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

// ServiceResult holds check results for a single external service.
type ServiceResult struct {
	Name       string        `json:"name"`
	URL        string        `json:"url"`
	Status     string        `json:"status"` // "ok", "error" or "skipped"
	Latency    time.Duration `json:"latency_ns,omitempty"`
	Error      string        `json:"error,omitempty"`
	Configured bool          `json:"configured"`
}

// TestReport holds the results of the configuration test.
type TestReport struct {
	ConfigPath      string          `json:"config_path"`
	ValidStructure  bool            `json:"valid_structure"`
	StructureErrors []string        `json:"structure_errors,omitempty"`
	Wallet          string          `json:"wallet,omitempty"`
	Services        []ServiceResult `json:"services,omitempty"`
	Online          bool            `json:"online"`
}
