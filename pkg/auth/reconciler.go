package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"solsync/pkg/store"

	"github.com/cockroachdb/errors"
)

// Phase is the reconciler's view of provider and local state.
type Phase int

const (
	Uninitialized Phase = iota
	ProviderReadyNoUser
	ProviderReadyUser
	ProviderUnreadyCachedUser
	ProviderUnreadyNoCachedUser
)

func (p Phase) String() string {
	switch p {
	case ProviderReadyNoUser:
		return "provider_ready_no_user"
	case ProviderReadyUser:
		return "provider_ready_user"
	case ProviderUnreadyCachedUser:
		return "provider_unready_cached_user"
	case ProviderUnreadyNoCachedUser:
		return "provider_unready_no_cached_user"
	default:
		return "uninitialized"
	}
}

// Reconciler merges provider state into the AuthStore.
type Reconciler struct {
	provider      Provider
	store         *store.AuthStore
	clearUserData func(ctx context.Context) error
	logger        *slog.Logger
	now           func() time.Time

	mu           sync.Mutex
	started      bool
	ready        bool
	providerUser bool
}

// NewReconciler builds a reconciler. clearUserData is called on logout to wipe
// the per-user stores and may be nil.
func NewReconciler(p Provider, s *store.AuthStore, clearUserData func(ctx context.Context) error, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{provider: p, store: s, clearUserData: clearUserData, logger: logger, now: time.Now}
}

// Start applies the provider's current state and then every change until the
// returned stop function is called. A provider that cannot be queried at start
// is treated as not ready.
func (r *Reconciler) Start(ctx context.Context) (stop func()) {
	ch := make(chan ProviderState, 8)
	sub := r.provider.Subscribe(ch)

	r.mu.Lock()
	r.started = true
	r.mu.Unlock()

	st, err := r.provider.Current(ctx)
	if err != nil {
		r.logger.Warn("auth_provider_unavailable", "error", err, "cached_user", r.store.HasCachedUser())
		st = ProviderState{}
	}
	r.Apply(ctx, st)

	quit := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer sub.Unsubscribe()
		for {
			select {
			case st := <-ch:
				r.Apply(ctx, st)
			case err := <-sub.Err():
				if err != nil {
					r.logger.Warn("auth_subscription_ended", "error", err)
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
			close(quit)
			<-done
		})
	}
}

// Apply merges one provider state into the local session.
//
// A ready provider with a user authenticates that user. A ready provider
// without a user leaves a locally authenticated session in place: the layer
// cannot tell a remote logout from a transient provider hiccup and keeps the
// cached identity usable. Only Logout clears it.
func (r *Reconciler) Apply(ctx context.Context, st ProviderState) {
	r.mu.Lock()
	r.started = true
	r.ready = st.Ready
	r.providerUser = st.Ready && st.User != nil
	r.mu.Unlock()

	switch {
	case !st.Ready:
		r.store.SetReady(false)
	case st.User != nil:
		r.store.SetAuthenticated(ctx, st.User, r.now())
		r.logger.Info("auth_synced", "user", st.User.ID, "wallet", st.User.FirstWallet())
	case r.store.HasCachedUser():
		r.logger.Warn("auth_preserved_cached_session", "wallet", r.store.Session().ActiveWallet)
		r.store.SetReady(true)
	default:
		r.store.SetReady(true)
	}
}

// Phase reports the current reconciliation state.
func (r *Reconciler) Phase() Phase {
	r.mu.Lock()
	started, ready, user := r.started, r.ready, r.providerUser
	r.mu.Unlock()

	switch {
	case !started:
		return Uninitialized
	case ready && user:
		return ProviderReadyUser
	case ready:
		return ProviderReadyNoUser
	case r.store.HasCachedUser():
		return ProviderUnreadyCachedUser
	default:
		return ProviderUnreadyNoCachedUser
	}
}

// IsLoading is true while the provider is not ready and there is no cached user
// to proceed with.
func (r *Reconciler) IsLoading() bool {
	r.mu.Lock()
	ready := r.ready
	r.mu.Unlock()
	return !ready && !r.store.HasCachedUser()
}

// Logout revokes the remote session on a best-effort basis and always clears
// the local session and per-user data. A failed remote call is logged and
// swallowed; only local failures are returned.
func (r *Reconciler) Logout(ctx context.Context) error {
	if err := r.provider.Logout(ctx); err != nil {
		r.logger.Warn("remote_logout_failed", "error", err)
	}

	r.mu.Lock()
	r.providerUser = false
	r.mu.Unlock()

	var errs []error
	if err := r.store.Clear(ctx); err != nil {
		errs = append(errs, errors.Wrap(err, "clear session"))
	}
	if r.clearUserData != nil {
		if err := r.clearUserData(ctx); err != nil {
			errs = append(errs, errors.Wrap(err, "clear user data"))
		}
	}
	r.logger.Info("logged_out")
	return errors.Join(errs...)
}
