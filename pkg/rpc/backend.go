package rpc

import (
	"context"
	"net/http"
	"net/url"

	"solsync/pkg/models"
)

// BackendClient talks to the custom backend holding profiles and the address
// book.
type BackendClient struct {
	c httpClient
}

func NewBackendClient(baseURL, token string, hc *http.Client) *BackendClient {
	c := newHTTPClient("backend", baseURL, hc)
	if token != "" {
		c.header.Set("Authorization", "Bearer "+token)
	}
	return &BackendClient{c: c}
}

func (b *BackendClient) Profile(ctx context.Context) (models.Profile, error) {
	return enveloped[models.Profile](ctx, b.c, http.MethodGet, "/api/profile", nil, nil)
}

func (b *BackendClient) ListAddressBook(ctx context.Context) ([]models.AddressBookEntry, error) {
	entries, err := enveloped[[]models.AddressBookEntry](ctx, b.c, http.MethodGet, "/api/address-book", nil, nil)
	if err != nil {
		return nil, err
	}
	out := entries[:0]
	for _, e := range entries {
		if e.ID == "" || ValidateAddress(e.WalletAddress) != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (b *BackendClient) CreateAddressBookEntry(ctx context.Context, e models.AddressBookEntry) (models.AddressBookEntry, error) {
	return enveloped[models.AddressBookEntry](ctx, b.c, http.MethodPost, "/api/address-book", nil, e)
}

func (b *BackendClient) UpdateAddressBookEntry(ctx context.Context, e models.AddressBookEntry) (models.AddressBookEntry, error) {
	return enveloped[models.AddressBookEntry](ctx, b.c, http.MethodPut, "/api/address-book/"+url.PathEscape(e.ID), nil, e)
}

func (b *BackendClient) DeleteAddressBookEntry(ctx context.Context, id string) error {
	return b.c.do(ctx, http.MethodDelete, "/api/address-book/"+url.PathEscape(id), nil, nil, nil)
}
