/**
 * @description
 * This package adapts an external spot-rate API into the currency conversion
 * the inbound receiver and the account conversion operation need. Each call
 * uses a single rate snapshot; the only rounding step is the final truncation
 * toward zero to integer minor units, so the converted amount never exceeds
 * the value of the original.
 *
 * @dependencies
 * - context, encoding/json, net/http, time: Standard Go libraries.
 */
package ratesclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"strings"
	"time"
)

var ErrRateUnavailable = errors.New("no exchange rate available")

type rateResponse struct {
	Base  string  `json:"base"`
	Quote string  `json:"quote"`
	Rate  float64 `json:"rate"`
}

// Client fetches spot rates and converts minor-unit amounts.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a conversion client with a bounded request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Convert converts an integer minor-unit amount from one currency to another
// at the current spot rate, truncating toward zero. Same-currency calls are
// an identity and never hit the network.
func (c *Client) Convert(ctx context.Context, amount int64, from, to string) (int64, error) {
	if from == to {
		return amount, nil
	}

	rate, err := c.fetchRate(ctx, from, to)
	if err != nil {
		return 0, err
	}
	if rate <= 0 {
		return 0, fmt.Errorf("%w: non-positive rate %f for %s/%s", ErrRateUnavailable, rate, from, to)
	}

	converted := int64(math.Trunc(float64(amount) * rate))
	if converted < 0 {
		return 0, fmt.Errorf("conversion overflow for amount %d at rate %f", amount, rate)
	}
	return converted, nil
}

func (c *Client) fetchRate(ctx context.Context, from, to string) (float64, error) {
	url := fmt.Sprintf("%s/rates/%s/%s", c.baseURL, from, to)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create rate request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRateUnavailable, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to read response: %v", ErrRateUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("level=warn component=rates_client op=fetch_rate pair=%s/%s status=%d", from, to, resp.StatusCode)
		return 0, fmt.Errorf("%w: rates service returned status %d", ErrRateUnavailable, resp.StatusCode)
	}

	var rate rateResponse
	if err := json.Unmarshal(bodyBytes, &rate); err != nil {
		return 0, fmt.Errorf("%w: failed to decode response: %v", ErrRateUnavailable, err)
	}
	return rate.Rate, nil
}
