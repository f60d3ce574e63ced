package keys

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// SetFetcher retrieves a peer bank's published key-set and resolves the
// public key matching a token's key identifier. The key-set URL comes from
// the central registry, never from the token itself.
type SetFetcher struct {
	httpClient *http.Client
}

// NewSetFetcher builds a fetcher with a bounded request timeout.
func NewSetFetcher(timeout time.Duration) *SetFetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SetFetcher{
		httpClient: &http.Client{Timeout: timeout},
	}
}

// ResolvePublicKey fetches the key-set at keySetURL and returns the RSA
// public key whose kid matches. Returns ErrKeyNotFound when the set has no
// matching entry.
func (f *SetFetcher) ResolvePublicKey(ctx context.Context, keySetURL, kid string) (*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, keySetURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create key-set request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch key-set: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("key-set fetch returned status %d", resp.StatusCode)
	}

	var set JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("failed to decode key-set: %w", err)
	}

	return set.PublicKey(kid)
}
