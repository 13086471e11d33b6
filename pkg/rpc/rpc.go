package rpc

import (
	"context"
	"net/http"
	"time"

	"solsync/pkg/models"

	"github.com/cockroachdb/errors"
)

// CheckTimeout bounds a single health check.
var CheckTimeout = 5 * time.Second

// CheckRPC calls getHealth on a Solana JSON-RPC endpoint and reports latency.
func CheckRPC(ctx context.Context, name, endpoint string) models.ServiceResult {
	res := models.ServiceResult{Name: name, URL: endpoint, Configured: endpoint != ""}
	if endpoint == "" {
		res.Status = "skipped"
		return res
	}
	ctx, cancel := context.WithTimeout(ctx, CheckTimeout)
	defer cancel()

	start := time.Now()
	var health string
	err := newJSONRPC(endpoint, nil, nil).CallForInto(ctx, &health, "getHealth", nil)
	res.Latency = time.Since(start)
	if err != nil {
		res.Status = "error"
		res.Error = rpcError(name, err).Error()
		return res
	}
	res.Status = "ok"
	return res
}

// CheckHTTP sends a GET to url with header and reports latency. Any response
// below 500 counts as reachable; 401/403 are reported as errors so a missing
// API key shows up.
func CheckHTTP(ctx context.Context, name, url string, header http.Header, configured bool) models.ServiceResult {
	res := models.ServiceResult{Name: name, URL: url, Configured: configured}
	if url == "" {
		res.Status = "skipped"
		return res
	}
	ctx, cancel := context.WithTimeout(ctx, CheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		res.Status, res.Error = "error", err.Error()
		return res
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	start := time.Now()
	resp, err := http.DefaultClient.Do(req)
	res.Latency = time.Since(start)
	if err != nil {
		res.Status, res.Error = "error", err.Error()
		return res
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		res.Status, res.Error = "error", errors.Newf("unauthorized (HTTP %d)", resp.StatusCode).Error()
	case resp.StatusCode >= 500:
		res.Status, res.Error = "error", errors.Newf("HTTP %d", resp.StatusCode).Error()
	default:
		res.Status = "ok"
	}
	return res
}

// Header returns the static headers the market client sends, for health checks.
func (m *MarketClient) Header() http.Header { return m.c.header.Clone() }

// BaseURL returns the market-data base URL.
func (m *MarketClient) BaseURL() string { return m.c.baseURL }
