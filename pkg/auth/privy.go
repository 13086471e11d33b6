package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"solsync/pkg/models"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/event"
)

var PrivyBaseURL = "https://auth.privy.io/api/v1"

// PrivyProvider polls the Privy REST API for the session bound to an access
// token. A provider that cannot be reached reports itself as not ready.
type PrivyProvider struct {
	baseURL     string
	appID       string
	accessToken string
	interval    time.Duration
	http        *http.Client
}

func NewPrivyProvider(baseURL, appID, accessToken string, interval time.Duration, hc *http.Client) *PrivyProvider {
	if baseURL == "" {
		baseURL = PrivyBaseURL
	}
	if interval <= 0 {
		interval = time.Minute
	}
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &PrivyProvider{
		baseURL:     strings.TrimRight(baseURL, "/"),
		appID:       appID,
		accessToken: accessToken,
		interval:    interval,
		http:        hc,
	}
}

type privyUser struct {
	ID             string `json:"id"`
	CreatedAt      int64  `json:"created_at"`
	LinkedAccounts []struct {
		Type             string `json:"type"`
		Address          string `json:"address"`
		ChainType        string `json:"chain_type"`
		WalletClientType string `json:"wallet_client_type"`
	} `json:"linked_accounts"`
}

func (u privyUser) toModel() *models.User {
	out := &models.User{ID: u.ID}
	if u.CreatedAt > 0 {
		out.CreatedAt = time.Unix(u.CreatedAt, 0).UTC()
	}
	for _, la := range u.LinkedAccounts {
		out.LinkedAccounts = append(out.LinkedAccounts, models.LinkedAccount{
			Type:             la.Type,
			Address:          la.Address,
			ChainType:        la.ChainType,
			WalletClientType: la.WalletClientType,
		})
	}
	return out
}

// Current asks Privy for the signed-in user. Without an access token, or when
// the token is rejected, the provider is ready with no user. Transport failures
// return an error and a not-ready state.
func (p *PrivyProvider) Current(ctx context.Context) (ProviderState, error) {
	if p.accessToken == "" {
		return ProviderState{Ready: true}, nil
	}
	resp, err := p.do(ctx, http.MethodGet, "/users/me", nil)
	if err != nil {
		return ProviderState{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ProviderState{Ready: true}, nil
	case resp.StatusCode >= 300:
		return ProviderState{}, errors.Newf("privy: users/me: HTTP %d", resp.StatusCode)
	}

	var body struct {
		User *privyUser `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return ProviderState{}, errors.Wrap(err, "privy: decode users/me")
	}
	if body.User == nil || body.User.ID == "" {
		return ProviderState{Ready: true}, nil
	}
	return ProviderState{Ready: true, User: body.User.toModel()}, nil
}

// Subscribe polls Current every interval and forwards the result. Poll errors
// are reported as a not-ready provider.
func (p *PrivyProvider) Subscribe(ch chan<- ProviderState) event.Subscription {
	return event.NewSubscription(func(quit <-chan struct{}) error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			<-quit
			cancel()
		}()

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				st, _ := p.Current(ctx)
				select {
				case ch <- st:
				case <-quit:
					return nil
				}
			case <-quit:
				return nil
			}
		}
	})
}

// Logout revokes the session bound to the access token.
func (p *PrivyProvider) Logout(ctx context.Context) error {
	if p.accessToken == "" {
		return nil
	}
	resp, err := p.do(ctx, http.MethodPost, "/sessions/logout", []byte("{}"))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return errors.Newf("privy: logout: HTTP %d", resp.StatusCode)
	}
	return nil
}

func (p *PrivyProvider) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, r)
	if err != nil {
		return nil, errors.Wrap(err, "privy: build request")
	}
	req.Header.Set("privy-app-id", p.appID)
	req.Header.Set("Authorization", "Bearer "+p.accessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "privy: %s %s", method, path)
	}
	return resp, nil
}
