// Package rest implements the document store interface over the
// service's HTTP API, with all calls going through the retrying
// transport.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/fscwatch/harvester/internal/docstore"
	"github.com/fscwatch/harvester/internal/fetch"
)

// Transport is the retrying HTTP surface the client consumes;
// satisfied by *fetch.Client.
type Transport interface {
	Get(ctx context.Context, target string) ([]byte, error)
	Post(ctx context.Context, target, contentType string, payload []byte) ([]byte, error)
}

// Client talks to the external document store's REST API.
type Client struct {
	baseURL   string
	transport Transport
	logger    *zap.Logger
}

// New builds a Client rooted at baseURL. API credentials ride on the
// transport's fixed headers.
func New(baseURL string, transport Transport, logger *zap.Logger) *Client {
	return &Client{
		baseURL:   baseURL,
		transport: transport,
		logger:    logger,
	}
}

type storeInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// GetOrCreateStore lists existing stores for a display-name match and
// creates the store when absent. A conflict on create means another
// process won the race; the existing store is looked up and returned.
func (c *Client) GetOrCreateStore(ctx context.Context, name string) (string, error) {
	if id, err := c.findStore(ctx, name); err != nil {
		return "", err
	} else if id != "" {
		c.logger.Info("found existing store", zap.String("store_id", id))
		return id, nil
	}

	payload, err := json.Marshal(map[string]string{"display_name": name})
	if err != nil {
		return "", fmt.Errorf("marshal store request: %w", err)
	}
	body, err := c.transport.Post(ctx, c.baseURL+"/v1/stores", "application/json", payload)
	if err != nil {
		var statusErr *fetch.StatusError
		if errors.As(err, &statusErr) && statusErr.Code == http.StatusConflict {
			// Lost a create race; the store exists now.
			id, findErr := c.findStore(ctx, name)
			if findErr != nil {
				return "", findErr
			}
			if id != "" {
				return id, nil
			}
		}
		return "", fmt.Errorf("create store %q: %w", name, err)
	}

	var created storeInfo
	if err := json.Unmarshal(body, &created); err != nil {
		return "", fmt.Errorf("decode store response: %w", err)
	}
	c.logger.Info("created store", zap.String("store_id", created.ID), zap.String("name", name))
	return created.ID, nil
}

func (c *Client) findStore(ctx context.Context, name string) (string, error) {
	body, err := c.transport.Get(ctx, c.baseURL+"/v1/stores")
	if err != nil {
		return "", fmt.Errorf("list stores: %w", err)
	}
	var listing struct {
		Stores []storeInfo `json:"stores"`
	}
	if err := json.Unmarshal(body, &listing); err != nil {
		return "", fmt.Errorf("decode store listing: %w", err)
	}
	for _, store := range listing.Stores {
		if store.DisplayName == name {
			return store.ID, nil
		}
	}
	return "", nil
}

// UploadBytes ships the raw document and returns the opaque file handle.
func (c *Client) UploadBytes(ctx context.Context, payload []byte, displayName string) (string, error) {
	target := c.baseURL + "/v1/files?display_name=" + url.QueryEscape(displayName)
	body, err := c.transport.Post(ctx, target, "application/octet-stream", payload)
	if err != nil {
		return "", fmt.Errorf("upload %q: %w", displayName, err)
	}
	var uploaded struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &uploaded); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if uploaded.ID == "" {
		return "", fmt.Errorf("upload %q: empty file id in response", displayName)
	}
	return uploaded.ID, nil
}

// AddToStore registers an uploaded file into the store.
func (c *Client) AddToStore(ctx context.Context, storeID, fileID string) error {
	payload, err := json.Marshal(map[string]string{"file_id": fileID})
	if err != nil {
		return fmt.Errorf("marshal register request: %w", err)
	}
	target := fmt.Sprintf("%s/v1/stores/%s/files", c.baseURL, url.PathEscape(storeID))
	if _, err := c.transport.Post(ctx, target, "application/json", payload); err != nil {
		return fmt.Errorf("register %s into %s: %w", fileID, storeID, err)
	}
	return nil
}

// ListFiles enumerates the files registered in the store.
func (c *Client) ListFiles(ctx context.Context, storeID string) ([]docstore.FileInfo, error) {
	target := fmt.Sprintf("%s/v1/stores/%s/files", c.baseURL, url.PathEscape(storeID))
	body, err := c.transport.Get(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("list files in %s: %w", storeID, err)
	}
	var listing struct {
		Files []docstore.FileInfo `json:"files"`
	}
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, fmt.Errorf("decode file listing: %w", err)
	}
	return listing.Files, nil
}

var _ docstore.Store = (*Client)(nil)
