// Package netmon tracks device connectivity and exposes it as a single,
// synchronously readable state.
package netmon

import (
	"context"
	"log/slog"
	"sync"

	"solsync/pkg/models"

	"github.com/ethereum/go-ethereum/event"
)

// Source is a platform connectivity stream.
type Source interface {
	// Fetch returns the current state.
	Fetch(ctx context.Context) (models.NetworkState, error)
	// Subscribe delivers every connectivity change to ch.
	Subscribe(ch chan<- models.NetworkState) event.Subscription
}

// Monitor holds the last known NetworkState. It starts Unknown and is only
// overwritten by its Source.
type Monitor struct {
	src    Source
	logger *slog.Logger
	feed   event.FeedOf[models.NetworkState]

	mu    sync.RWMutex
	state models.NetworkState
}

func NewMonitor(src Source, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{src: src, logger: logger}
}

// Initialize subscribes to the source, applies one immediate fetch of the
// current state and then every change event. The returned function releases the
// subscription; calling it more than once is harmless.
func (m *Monitor) Initialize(ctx context.Context) (unsubscribe func()) {
	ch := make(chan models.NetworkState, 16)
	sub := m.src.Subscribe(ch)

	if st, err := m.src.Fetch(ctx); err != nil {
		m.logger.Warn("network_fetch_failed", "error", err)
	} else {
		m.apply(st)
	}

	quit := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer sub.Unsubscribe()
		for {
			select {
			case st := <-ch:
				m.apply(st)
			case err := <-sub.Err():
				if err != nil {
					m.logger.Warn("network_subscription_ended", "error", err)
				}
				return
			case <-quit:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.Unsubscribe()
			close(quit)
			<-done
		})
	}
}

// State returns the last known state.
func (m *Monitor) State() models.NetworkState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsOffline reports whether the device is known to be offline.
func (m *Monitor) IsOffline() bool {
	return m.State().Offline()
}

// Subscribe delivers every state change to ch.
func (m *Monitor) Subscribe(ch chan<- models.NetworkState) event.Subscription {
	return m.feed.Subscribe(ch)
}

func (m *Monitor) apply(st models.NetworkState) {
	m.mu.Lock()
	prev := m.state
	m.state = st
	m.mu.Unlock()
	if prev == st {
		return
	}
	m.logger.Info("network_changed",
		"online", st.IsOnline.String(),
		"type", st.ConnectionType,
		"reachable", st.IsInternetReachable.String())
	m.feed.Send(st)
}
