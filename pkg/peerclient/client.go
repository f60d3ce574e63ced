/**
 * @description
 * This package delivers signed transfer assertions to peer banks. A delivery
 * is a single POST of `{"assertion": "<token>"}` to the peer's registered
 * transaction endpoint; a 2xx acknowledgment carries the receiving account
 * holder's display name.
 *
 * Deliveries run behind a circuit breaker so a flapping peer fails fast into
 * the caller's compensation path instead of tying up transfer workers.
 *
 * @dependencies
 * - bytes, context, encoding/json, net/http, time: Standard Go libraries.
 * - github.com/sony/gobreaker: Circuit breaker around the delivery call.
 */
package peerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

var ErrDeliveryRejected = errors.New("peer bank rejected the transfer")

// DeliveryRequest is the wire payload sent to a peer's transaction endpoint.
type DeliveryRequest struct {
	Assertion string `json:"assertion"`
}

type deliveryResponse struct {
	ReceiverName string `json:"receiverName"`
	Message      string `json:"message"`
}

// Client delivers assertions to peer banks.
type Client struct {
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// NewClient creates a peer delivery client with a bounded per-request timeout.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	settings := gobreaker.Settings{
		Name: "peer-delivery",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("level=warn component=peer_client msg=\"circuit breaker state changed\" breaker=%s from=%s to=%s", name, from, to)
		},
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		breaker:    gobreaker.NewCircuitBreaker(settings),
	}
}

// Deliver posts a signed assertion to the given endpoint. Delivery is
// attempted exactly once per call; retries are the caller's decision and must
// use a fresh transaction identifier.
func (c *Client) Deliver(ctx context.Context, endpoint, assertion string) (string, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.deliver(ctx, endpoint, assertion)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", fmt.Errorf("peer delivery suspended by circuit breaker: %w", err)
		}
		return "", err
	}
	return result.(string), nil
}

func (c *Client) deliver(ctx context.Context, endpoint, assertion string) (string, error) {
	body, err := json.Marshal(DeliveryRequest{Assertion: assertion})
	if err != nil {
		return "", fmt.Errorf("failed to marshal delivery request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(body))
	if err != nil {
		return "", fmt.Errorf("failed to create delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute delivery request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read delivery response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errBody deliveryResponse
		if json.Unmarshal(bodyBytes, &errBody) == nil && errBody.Message != "" {
			log.Printf("level=warn component=peer_client op=deliver status=%d message=%q", resp.StatusCode, errBody.Message)
			return "", fmt.Errorf("%w: %s (status %d)", ErrDeliveryRejected, errBody.Message, resp.StatusCode)
		}
		log.Printf("level=warn component=peer_client op=deliver status=%d msg=\"non-2xx response (unparsable error body)\"", resp.StatusCode)
		return "", fmt.Errorf("%w: status %d", ErrDeliveryRejected, resp.StatusCode)
	}

	var ack deliveryResponse
	if err := json.Unmarshal(bodyBytes, &ack); err != nil {
		return "", fmt.Errorf("failed to decode delivery acknowledgment: %w", err)
	}
	return ack.ReceiverName, nil
}
