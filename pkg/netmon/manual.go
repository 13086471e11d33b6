package netmon

import (
	"context"
	"sync"

	"solsync/pkg/models"

	"github.com/ethereum/go-ethereum/event"
)

// ManualSource is driven by its owner: a host bridge forwarding platform events,
// or a test.
type ManualSource struct {
	feed event.FeedOf[models.NetworkState]

	mu  sync.Mutex
	cur models.NetworkState
}

func NewManualSource(initial models.NetworkState) *ManualSource {
	return &ManualSource{cur: initial}
}

func (s *ManualSource) Fetch(context.Context) (models.NetworkState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur, nil
}

func (s *ManualSource) Subscribe(ch chan<- models.NetworkState) event.Subscription {
	return s.feed.Subscribe(ch)
}

// Push records st and forwards it to subscribers.
func (s *ManualSource) Push(st models.NetworkState) {
	s.mu.Lock()
	s.cur = st
	s.mu.Unlock()
	s.feed.Send(st)
}

// SetOnline is a shorthand for pushing a plain online/offline state.
func (s *ManualSource) SetOnline(online bool) {
	st := models.NetworkState{
		IsOnline:            models.TristateOf(online),
		IsInternetReachable: models.TristateOf(online),
		ConnectionType:      "none",
	}
	if online {
		st.ConnectionType = "wifi"
	}
	s.Push(st)
}
