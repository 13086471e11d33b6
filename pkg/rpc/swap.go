package rpc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"solsync/pkg/models"
	"solsync/pkg/retry"

	"github.com/cockroachdb/errors"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/shopspring/decimal"
)

var JupiterBaseURL = "https://quote-api.jup.ag/v6"

// SwapClient shuttles quotes and transactions between the caller, the swap
// router and a Solana RPC node. Signing happens elsewhere.
type SwapClient struct {
	c   httpClient
	rpc jsonrpc.RPCClient
}

func NewSwapClient(baseURL, rpcEndpoint string, hc *http.Client) *SwapClient {
	if baseURL == "" {
		baseURL = JupiterBaseURL
	}
	return &SwapClient{
		c:   newHTTPClient("swap router", baseURL, hc),
		rpc: newJSONRPC(rpcEndpoint, hc, nil),
	}
}

// Quote asks the router for the best route swapping amount (base units) of
// inputMint into outputMint.
func (s *SwapClient) Quote(ctx context.Context, inputMint, outputMint string, amount uint64, slippageBps int) (models.SwapQuote, error) {
	for _, m := range []string{inputMint, outputMint} {
		if err := ValidateAddress(m); err != nil {
			return models.SwapQuote{}, err
		}
	}
	if amount == 0 {
		return models.SwapQuote{}, retry.Permanent(errors.New("swap amount must be positive"))
	}
	q := url.Values{
		"inputMint":   {inputMint},
		"outputMint":  {outputMint},
		"amount":      {strconv.FormatUint(amount, 10)},
		"slippageBps": {strconv.Itoa(slippageBps)},
	}

	var raw json.RawMessage
	if err := s.c.do(ctx, http.MethodGet, "/quote", q, nil, &raw); err != nil {
		return models.SwapQuote{}, err
	}
	var wire struct {
		InputMint      string            `json:"inputMint"`
		InAmount       string            `json:"inAmount"`
		OutputMint     string            `json:"outputMint"`
		OutAmount      string            `json:"outAmount"`
		SlippageBps    int               `json:"slippageBps"`
		PriceImpactPct decimal.Decimal   `json:"priceImpactPct"`
		RoutePlan      []json.RawMessage `json:"routePlan"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return models.SwapQuote{}, retry.Permanent(errors.Wrap(err, "swap router: decode quote"))
	}
	if wire.OutAmount == "" {
		return models.SwapQuote{}, retry.Permanent(&RemoteError{Service: "swap router", Status: http.StatusOK, Message: "quote has no output amount"})
	}
	return models.SwapQuote{
		InputMint:      wire.InputMint,
		OutputMint:     wire.OutputMint,
		InAmount:       wire.InAmount,
		OutAmount:      wire.OutAmount,
		SlippageBps:    wire.SlippageBps,
		PriceImpactPct: wire.PriceImpactPct,
		RouteHops:      len(wire.RoutePlan),
		Raw:            raw,
	}, nil
}

// SwapTransaction requests the unsigned, base64 encoded transaction for quote.
func (s *SwapClient) SwapTransaction(ctx context.Context, quote models.SwapQuote, userPublicKey string) (models.SwapTransaction, error) {
	if err := ValidateAddress(userPublicKey); err != nil {
		return models.SwapTransaction{}, err
	}
	if len(quote.Raw) == 0 {
		return models.SwapTransaction{}, retry.Permanent(errors.New("quote was not produced by the swap router"))
	}
	req := map[string]any{
		"quoteResponse":    json.RawMessage(quote.Raw),
		"userPublicKey":    userPublicKey,
		"wrapAndUnwrapSol": true,
	}
	var tx models.SwapTransaction
	if err := s.c.do(ctx, http.MethodPost, "/swap", nil, req, &tx); err != nil {
		return models.SwapTransaction{}, err
	}
	if tx.Transaction == "" {
		return models.SwapTransaction{}, retry.Permanent(&RemoteError{Service: "swap router", Status: http.StatusOK, Message: "empty swap transaction"})
	}
	return tx, nil
}

// Submit sends a signed, base64 encoded transaction and returns its signature.
func (s *SwapClient) Submit(ctx context.Context, signedTx string) (string, error) {
	if _, err := base64.StdEncoding.DecodeString(signedTx); err != nil {
		return "", retry.Permanent(errors.Wrap(err, "signed transaction is not base64"))
	}
	var sig string
	err := s.rpc.CallForInto(ctx, &sig, "sendTransaction", []any{
		signedTx,
		map[string]any{"encoding": "base64", "preflightCommitment": "confirmed"},
	})
	if err != nil {
		return "", rpcError("solana rpc", err)
	}
	return sig, nil
}
