package media

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// expirySlack is subtracted from the reported token lifetime so a token
// is refreshed shortly before the server would reject it.
const expirySlack = 5 * time.Second

// TokenSource exchanges a long-lived refresh token for short-lived
// access tokens and caches the current one until it expires. Concurrent
// callers share a single in-flight refresh.
type TokenSource struct {
	client       *http.Client
	endpoint     string
	refreshToken string

	mu        sync.Mutex
	token     string
	expiresAt time.Time
	group     singleflight.Group
}

// NewTokenSource returns a token source against the given token-exchange
// endpoint. client may be nil, in which case http.DefaultClient is used.
func NewTokenSource(client *http.Client, endpoint, refreshToken string) *TokenSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &TokenSource{client: client, endpoint: endpoint, refreshToken: refreshToken}
}

// Token returns a currently valid access token, refreshing it first if
// it has expired or is about to.
func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	if ts.token != "" && time.Now().Before(ts.expiresAt) {
		token := ts.token
		ts.mu.Unlock()
		return token, nil
	}
	ts.mu.Unlock()

	v, err, _ := ts.group.Do("refresh", func() (any, error) {
		return ts.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (ts *TokenSource) refresh(ctx context.Context) (string, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {ts.refreshToken},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := ts.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token exchange failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token exchange failed: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read token response: %w", err)
	}

	var payload struct {
		AccessToken string          `json:"access_token"`
		ExpiresIn   json.RawMessage `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}

	// expires_in arrives as a JSON string from some token endpoints.
	expiresIn, err := strconv.ParseFloat(strings.Trim(string(payload.ExpiresIn), `"`), 64)
	if err != nil {
		expiresIn = 0
	}

	ts.mu.Lock()
	ts.token = payload.AccessToken
	ts.expiresAt = time.Now().Add(time.Duration(expiresIn)*time.Second - expirySlack)
	ts.mu.Unlock()

	return payload.AccessToken, nil
}
