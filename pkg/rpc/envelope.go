// Package rpc holds the clients for the external collaborators: market data,
// NFT indexer, swap router, custom backend. Each one parses its provider's
// responses at the boundary and hands typed values inward.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"solsync/pkg/retry"

	"github.com/cockroachdb/errors"
)

// DefaultTimeout bounds a single HTTP call.
var DefaultTimeout = 20 * time.Second

// maxBody caps how much of an error body is kept in messages.
const maxBody = 512

// Envelope is the {success, message, data} wrapper used by the market-data API
// and the custom backend.
type Envelope[T any] struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

// RemoteError is a failed call to an external service.
type RemoteError struct {
	Service string
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: %s", e.Service, e.Message)
	}
	return fmt.Sprintf("%s: %s (HTTP %d)", e.Service, e.Message, e.Status)
}

// Temporary reports whether the call is worth retrying: server errors, rate
// limiting and failures that carry no status.
func (e *RemoteError) Temporary() bool {
	return e.Status == 0 || e.Status == http.StatusTooManyRequests || e.Status == http.StatusRequestTimeout || e.Status >= 500
}

// httpClient is the JSON-over-HTTP plumbing shared by the REST clients.
type httpClient struct {
	service string
	baseURL string
	http    *http.Client
	header  http.Header
}

func newHTTPClient(service, baseURL string, hc *http.Client) httpClient {
	if hc == nil {
		hc = &http.Client{Timeout: DefaultTimeout}
	}
	return httpClient{
		service: service,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    hc,
		header:  make(http.Header),
	}
}

// do sends a request and decodes a 2xx JSON body into out. Non-2xx responses
// become a RemoteError; a body that does not parse is a permanent error.
func (c httpClient) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return retry.Permanent(errors.Wrapf(err, "%s: encode request", c.service))
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return retry.Permanent(errors.Wrapf(err, "%s: build request", c.service))
	}
	for k, vs := range c.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &RemoteError{Service: c.service, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &RemoteError{Service: c.service, Status: resp.StatusCode, Message: "read body: " + err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &RemoteError{Service: c.service, Status: resp.StatusCode, Message: errorMessage(raw, resp.Status)}
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return retry.Permanent(errors.Wrapf(err, "%s: decode %s", c.service, path))
	}
	return nil
}

// enveloped decodes an Envelope and unwraps it.
func enveloped[T any](ctx context.Context, c httpClient, method, path string, query url.Values, in any) (T, error) {
	var env Envelope[T]
	if err := c.do(ctx, method, path, query, in, &env); err != nil {
		var zero T
		return zero, err
	}
	if !env.Success {
		var zero T
		msg := env.Message
		if msg == "" {
			msg = "request was not successful"
		}
		return zero, retry.Permanent(&RemoteError{Service: c.service, Status: http.StatusOK, Message: msg})
	}
	return env.Data, nil
}

// errorMessage pulls a human readable message out of an error body.
func errorMessage(raw []byte, status string) string {
	var probe struct {
		Message string `json:"message"`
		Error   any    `json:"error"`
	}
	if json.Unmarshal(raw, &probe) == nil {
		if probe.Message != "" {
			return probe.Message
		}
		switch e := probe.Error.(type) {
		case string:
			if e != "" {
				return e
			}
		case map[string]any:
			if m, ok := e["message"].(string); ok && m != "" {
				return m
			}
		}
	}
	s := strings.TrimSpace(string(raw))
	if s == "" {
		return status
	}
	if len(s) > maxBody {
		s = s[:maxBody]
	}
	return s
}
