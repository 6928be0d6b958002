package media

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// Fetcher downloads media blobs from the remote file-sync API.
type Fetcher struct {
	client *http.Client
	base   string
	tokens *TokenSource
}

// NewFetcher returns a fetcher for the given API base URL. tokens may
// be nil, in which case requests are made without authentication.
func NewFetcher(client *http.Client, base string, tokens *TokenSource) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{client: client, base: base, tokens: tokens}
}

// Fetch downloads one media blob by its path. A bearer token is
// attached when available; token failures degrade to an
// unauthenticated best-effort request rather than aborting. Any non-200
// response is treated as a miss.
func (f *Fetcher) Fetch(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.base+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build media request for %s: %w", path, err)
	}

	if f.tokens != nil {
		token, err := f.tokens.Token(ctx)
		if err != nil {
			slog.Warn("media auth unavailable, fetching without token", "error", err)
		} else {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch media %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch media %s: status %d", path, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read media %s: %w", path, err)
	}
	return data, nil
}
