// Package blobstore is the key/value document layer under the artifact and
// credential stores. Keys are slash separated paths such as "model/<id>.json".
package blobstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no document is stored under the key.
var ErrNotFound = errors.New("blobstore: key not found")

// Store persists opaque documents by key.
type Store interface {
	// Put writes value under key, replacing any previous document.
	Put(ctx context.Context, key string, value []byte) error
	// Get returns the document under key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// List returns every key that starts with prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}
