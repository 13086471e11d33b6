package netmon

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"solsync/pkg/models"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/event"
)

// ProbeSource derives connectivity from the host's network interfaces and a HEAD
// request to a list of well-known URLs.
type ProbeSource struct {
	URLs     []string
	Interval time.Duration
	Client   *http.Client

	// Interfaces lists the host interfaces. Defaults to net.Interfaces.
	Interfaces func() ([]net.Interface, error)
}

func NewProbeSource(urls []string, interval, timeout time.Duration) *ProbeSource {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ProbeSource{
		URLs:       urls,
		Interval:   interval,
		Client:     &http.Client{Timeout: timeout},
		Interfaces: net.Interfaces,
	}
}

// Fetch inspects interfaces and probes. The device is online when a link is up
// and no configured probe failed; reachability is Unknown without probe URLs.
func (p *ProbeSource) Fetch(ctx context.Context) (models.NetworkState, error) {
	list := p.Interfaces
	if list == nil {
		list = net.Interfaces
	}
	ifaces, err := list()
	if err != nil {
		return models.NetworkState{}, errors.Wrap(err, "list interfaces")
	}
	st := models.NetworkState{ConnectionType: ConnectionType(ifaces)}
	if st.ConnectionType == "none" {
		st.IsOnline = models.False
		st.IsInternetReachable = models.False
		return st, nil
	}
	st.IsInternetReachable = p.probe(ctx)
	st.IsOnline = models.TristateOf(st.IsInternetReachable != models.False)
	return st, nil
}

// Subscribe polls Fetch every Interval until the subscription is released.
func (p *ProbeSource) Subscribe(ch chan<- models.NetworkState) event.Subscription {
	return event.NewSubscription(func(quit <-chan struct{}) error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			<-quit
			cancel()
		}()

		ticker := time.NewTicker(p.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				st, err := p.Fetch(ctx)
				if err != nil {
					continue
				}
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

func (p *ProbeSource) probe(ctx context.Context) models.Tristate {
	if len(p.URLs) == 0 {
		return models.Unknown
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan bool, len(p.URLs))
	var wg sync.WaitGroup
	for _, u := range p.URLs {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			results <- p.head(ctx, u)
		}(u)
	}
	go func() {
		wg.Wait()
		close(results)
	}()
	for ok := range results {
		if ok {
			return models.True
		}
	}
	return models.False
}

func (p *ProbeSource) head(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

// ConnectionType classifies the first up, non-loopback interface by name.
func ConnectionType(ifaces []net.Interface) string {
	for _, ifc := range ifaces {
		if ifc.Flags&net.FlagUp == 0 || ifc.Flags&net.FlagLoopback != 0 {
			continue
		}
		name := strings.ToLower(ifc.Name)
		switch {
		case hasAnyPrefix(name, "wl", "wifi", "ath", "airport"):
			return "wifi"
		case hasAnyPrefix(name, "eth", "en", "em"):
			return "ethernet"
		case hasAnyPrefix(name, "wwan", "rmnet", "ccmni", "pdp_ip", "ppp"):
			return "cellular"
		default:
			return "other"
		}
	}
	return "none"
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
