// Package storage is the device persistence medium behind every persisted store:
// a byte-level key-value store with JSON (de)serialization at the boundary.
package storage

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
)

// KeyPrefix namespaces every key written by solsync.
const KeyPrefix = "solsync"

var ErrClosed = errors.New("storage: closed")

// KV is an asynchronous key-value store. Implementations must be safe for
// concurrent use.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// Keys lists stored keys starting with prefix, sorted.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Key builds a namespaced key, e.g. Key("portfolio", wallet) -> "solsync:portfolio:<wallet>".
// Empty parts are dropped.
func Key(parts ...string) string {
	out := []string{KeyPrefix}
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ":")
}

// GetJSON loads and decodes the value at key. ok is false when the key is absent.
func GetJSON[T any](ctx context.Context, kv KV, key string) (v T, ok bool, err error) {
	raw, ok, err := kv.Get(ctx, key)
	if err != nil || !ok {
		return v, ok, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, false, errors.Wrapf(err, "decode %s", key)
	}
	return v, true, nil
}

// SetJSON encodes v and stores it at key.
func SetJSON(ctx context.Context, kv KV, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode %s", key)
	}
	return kv.Set(ctx, key, raw)
}
