/**
 * @description
 * This package provides a client for the central bank registry. It resolves a
 * bank prefix to the participant's name, transaction endpoint and key-set
 * URL, and reports whether the participant is active.
 *
 * Lookups may be cached with a bounded TTL so a registry round trip is not
 * paid on every transfer; a cached entry can mask a registry-reported
 * deactivation for at most one TTL.
 *
 * @dependencies
 * - context, encoding/json, net/http, time: Standard Go libraries.
 * - github.com/redis/go-redis/v9: Optional distributed cache backend.
 */
package registryclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/crestbank/bank-node/internal/domain"
)

var (
	ErrBankNotFound        = errors.New("bank prefix is not registered")
	ErrRegistryUnavailable = errors.New("bank registry is unreachable")
)

// Cache is the optional lookup cache consulted before the registry.
type Cache interface {
	Get(ctx context.Context, prefix string) (*domain.Bank, bool)
	Set(ctx context.Context, prefix string, bank *domain.Bank)
}

// Client resolves bank prefixes through the central registry.
type Client struct {
	verifyURL  string
	httpClient *http.Client
	cache      Cache
}

// NewClient creates a registry client. cache may be nil, in which case every
// call hits the registry.
func NewClient(verifyURL string, timeout time.Duration, cache Cache) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		verifyURL:  strings.TrimSuffix(verifyURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		cache:      cache,
	}
}

// Verify resolves a bank prefix. Returns ErrBankNotFound when the registry
// does not know the prefix and ErrRegistryUnavailable when the registry
// cannot be reached. Activity is reported as-is; the caller decides whether
// an inactive participant is acceptable.
func (c *Client) Verify(ctx context.Context, prefix string) (*domain.Bank, error) {
	if c.cache != nil {
		if bank, ok := c.cache.Get(ctx, prefix); ok {
			return bank, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.verifyURL+"/"+prefix, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create registry request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrRegistryUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrBankNotFound
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		log.Printf("level=warn component=registry_client op=verify prefix=%s status=%d msg=\"non-2xx registry response\"", prefix, resp.StatusCode)
		return nil, fmt.Errorf("%w: registry returned status %d", ErrRegistryUnavailable, resp.StatusCode)
	}

	var bank domain.Bank
	if err := json.Unmarshal(bodyBytes, &bank); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %v", ErrRegistryUnavailable, err)
	}

	if c.cache != nil {
		c.cache.Set(ctx, prefix, &bank)
	}
	return &bank, nil
}
