// Package storage abstracts the engine's durable key-value needs
// (session list, unsynced retry queue, cached correlation ids) so the
// conversation engine stays storage-agnostic.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key has no value.
var ErrNotFound = errors.New("storage: key not found")

// KV is the minimal persistence port the engine depends on.
// Implementations exist for redis and in-process memory.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

type namespacedKV struct {
	kv     KV
	prefix string
}

// Namespace scopes every key under a prefix so several conversations can
// share one backing store without colliding.
func Namespace(kv KV, prefix string) KV {
	return &namespacedKV{kv: kv, prefix: prefix + ":"}
}

func (n *namespacedKV) Get(ctx context.Context, key string) (string, error) {
	return n.kv.Get(ctx, n.prefix+key)
}

func (n *namespacedKV) Set(ctx context.Context, key, value string) error {
	return n.kv.Set(ctx, n.prefix+key, value)
}

func (n *namespacedKV) Remove(ctx context.Context, key string) error {
	return n.kv.Remove(ctx, n.prefix+key)
}
