// Package blob defines the archive mirror used to keep a durable copy
// of rendered documents alongside the external document store.
package blob

import (
	"context"
	"io"
)

// Store persists named artifacts and returns a stable URI for each.
type Store interface {
	Put(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}
