// Package auth reconciles the identity provider's session with the locally
// persisted one, preferring cached state while the provider is unavailable.
package auth

import (
	"context"
	"sync"

	"solsync/pkg/models"

	"github.com/ethereum/go-ethereum/event"
)

// ProviderState is what the identity provider reports. User is nil when no one
// is signed in.
type ProviderState struct {
	Ready bool
	User  *models.User
}

// Provider is the identity provider as seen by the reconciler.
type Provider interface {
	// Subscribe delivers every state change to ch.
	Subscribe(ch chan<- ProviderState) event.Subscription
	// Current returns the provider's present state.
	Current(ctx context.Context) (ProviderState, error)
	// Logout revokes the remote session.
	Logout(ctx context.Context) error
}

// StaticProvider is a Provider whose state is set by its owner, used by hosts
// that embed the identity SDK themselves and by tests.
type StaticProvider struct {
	feed event.FeedOf[ProviderState]

	mu        sync.Mutex
	st        ProviderState
	logoutErr error
	logouts   int
}

func NewStaticProvider(st ProviderState) *StaticProvider {
	return &StaticProvider{st: st}
}

func (p *StaticProvider) Subscribe(ch chan<- ProviderState) event.Subscription {
	return p.feed.Subscribe(ch)
}

func (p *StaticProvider) Current(context.Context) (ProviderState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.st, nil
}

// Set records st and forwards it to subscribers.
func (p *StaticProvider) Set(st ProviderState) {
	p.mu.Lock()
	p.st = st
	p.mu.Unlock()
	p.feed.Send(st)
}

// FailLogout makes subsequent Logout calls return err.
func (p *StaticProvider) FailLogout(err error) {
	p.mu.Lock()
	p.logoutErr = err
	p.mu.Unlock()
}

func (p *StaticProvider) Logout(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logouts++
	if p.logoutErr != nil {
		return p.logoutErr
	}
	p.st.User = nil
	return nil
}

// Logouts returns how many times Logout was called.
func (p *StaticProvider) Logouts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.logouts
}
