// Package objectstore uploads generated media and fetches images by URL.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a key or URL has no object
	ErrNotFound = errors.New("object not found")

	// ErrNotOwned is returned by a store asked to download a URL it did not issue
	ErrNotOwned = errors.New("url not owned by store")

	// ErrTooLarge is returned when a download exceeds the configured limit
	ErrTooLarge = errors.New("object exceeds size limit")
)

// UploadOptions describe an upload
type UploadOptions struct {
	Key         string
	ContentType string
}

// Store uploads bytes and downloads them back by URL
type Store interface {
	Upload(ctx context.Context, data []byte, opts UploadOptions) (string, error)
	Download(ctx context.Context, url string) ([]byte, error)
}

// Key joins path segments into a clean object key
func Key(parts ...string) string {
	return strings.TrimPrefix(path.Clean(path.Join(parts...)), "/")
}

// Fetcher downloads from a Store, falling back to plain HTTP for foreign URLs
// such as chat attachments or reference images
type Fetcher struct {
	store    Store
	client   *http.Client
	maxBytes int64
}

// NewFetcher creates a Fetcher; maxBytes <= 0 disables the size limit
func NewFetcher(store Store, timeout time.Duration, maxBytes int64) *Fetcher {
	return &Fetcher{
		store:    store,
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
	}
}

// Upload delegates to the underlying store
func (f *Fetcher) Upload(ctx context.Context, data []byte, opts UploadOptions) (string, error) {
	return f.store.Upload(ctx, data, opts)
}

// Download fetches url from the store when it owns it, otherwise over HTTP
func (f *Fetcher) Download(ctx context.Context, url string) ([]byte, error) {
	data, err := f.store.Download(ctx, url)
	if err == nil {
		if f.maxBytes > 0 && int64(len(data)) > f.maxBytes {
			return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
		}
		return data, nil
	}
	if !errors.Is(err, ErrNotOwned) {
		return nil, err
	}

	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, fmt.Errorf("%w: unsupported url %q", ErrNotFound, url)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("failed to fetch %s: status %d", url, resp.StatusCode)
	}

	if f.maxBytes > 0 && resp.ContentLength > f.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, resp.ContentLength)
	}

	reader := io.Reader(resp.Body)
	if f.maxBytes > 0 {
		reader = io.LimitReader(resp.Body, f.maxBytes+1)
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	if f.maxBytes > 0 && int64(len(body)) > f.maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, f.maxBytes)
	}

	return body, nil
}
