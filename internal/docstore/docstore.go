// Package docstore defines the interface to the external document
// indexing service that holds uploaded documents.
package docstore

import "context"

// FileInfo describes one file registered in a store.
type FileInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// Store is the opaque remote service the uploader ships documents to.
// All network access behind it goes through the retrying transport.
type Store interface {
	// GetOrCreateStore looks up the named container and creates it if
	// absent; concurrent creation of the same name resolves to the
	// existing container.
	GetOrCreateStore(ctx context.Context, name string) (string, error)
	// UploadBytes ships a payload and returns the opaque file handle.
	UploadBytes(ctx context.Context, payload []byte, displayName string) (string, error)
	// AddToStore registers an uploaded file handle into the container.
	AddToStore(ctx context.Context, storeID, fileID string) error
	// ListFiles enumerates the files registered in the container.
	ListFiles(ctx context.Context, storeID string) ([]FileInfo, error)
}
