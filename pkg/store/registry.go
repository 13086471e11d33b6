package store

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"solsync/pkg/storage"

	"github.com/cockroachdb/errors"
)

// Hydrater is implemented by every keyed container.
type Hydrater interface {
	Hydrate(ctx context.Context) error
	Clear(ctx context.Context) error
}

// Registry lazily creates one container per key (wallet or token address) and
// hydrates it from storage on first use.
type Registry[V Hydrater] struct {
	name   string
	kv     storage.KV
	build  func(key string) V
	logger *slog.Logger

	mu    sync.Mutex
	items map[string]V
}

func NewRegistry[V Hydrater](name string, kv storage.KV, logger *slog.Logger, build func(key string) V) *Registry[V] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry[V]{
		name:   name,
		kv:     kv,
		build:  build,
		logger: logger,
		items:  make(map[string]V),
	}
}

// Get returns the container for key, creating and hydrating it if needed.
func (r *Registry[V]) Get(ctx context.Context, key string) V {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.items[key]; ok {
		return v
	}
	v := r.build(key)
	if err := v.Hydrate(ctx); err != nil {
		r.logger.Warn("hydrate_failed", "resource", r.name, "key", key, "error", err)
	}
	r.items[key] = v
	return v
}

// ClearAll clears every live container and deletes snapshots persisted by
// earlier sessions that were never loaded in this one.
func (r *Registry[V]) ClearAll(ctx context.Context) error {
	r.mu.Lock()
	items := r.items
	r.items = make(map[string]V)
	r.mu.Unlock()

	var errs []error
	for _, v := range items {
		if err := v.Clear(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if r.kv != nil {
		prefix := storage.Key(r.name) + ":"
		keys, err := r.kv.Keys(ctx, prefix)
		if err != nil {
			errs = append(errs, err)
		}
		for _, k := range keys {
			if !strings.HasPrefix(k, prefix) {
				continue
			}
			if err := r.kv.Delete(ctx, k); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
