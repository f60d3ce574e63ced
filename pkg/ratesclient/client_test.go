package ratesclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newRatesServer(t *testing.T, rates map[string]float64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rate, ok := rates[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"rate": rate})
	}))
}

func TestConvert_TruncatesTowardZero(t *testing.T) {
	tests := []struct {
		name   string
		amount int64
		rate   float64
		want   int64
	}{
		{name: "exact multiple", amount: 10000, rate: 1.5, want: 15000},
		{name: "fractional result truncates", amount: 999, rate: 1.0837, want: 1082},
		{name: "sub-unit amount can truncate to zero", amount: 1, rate: 0.45, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newRatesServer(t, map[string]float64{"/rates/USD/EUR": tt.rate})
			defer server.Close()

			client := NewClient(server.URL, 2*time.Second)
			got, err := client.Convert(context.Background(), tt.amount, "USD", "EUR")
			if err != nil {
				t.Fatalf("Convert returned error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("Convert(%d) at rate %f = %d, want %d", tt.amount, tt.rate, got, tt.want)
			}
		})
	}
}

func TestConvert_SameCurrencySkipsNetwork(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("did not expect a rate fetch for same-currency conversion")
	}))
	defer server.Close()

	client := NewClient(server.URL, 2*time.Second)
	got, err := client.Convert(context.Background(), 4200, "EUR", "EUR")
	if err != nil {
		t.Fatalf("Convert returned error: %v", err)
	}
	if got != 4200 {
		t.Fatalf("expected identity conversion, got %d", got)
	}
}

func TestConvert_MissingRate(t *testing.T) {
	server := newRatesServer(t, nil)
	defer server.Close()

	client := NewClient(server.URL, 2*time.Second)
	if _, err := client.Convert(context.Background(), 100, "USD", "XXX"); !errors.Is(err, ErrRateUnavailable) {
		t.Fatalf("expected ErrRateUnavailable, got %v", err)
	}
}

func TestConvert_NonPositiveRate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"rate": 0}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, 2*time.Second)
	if _, err := client.Convert(context.Background(), 100, "USD", "EUR"); !errors.Is(err, ErrRateUnavailable) {
		t.Fatalf("expected ErrRateUnavailable for zero rate, got %v", err)
	}
}
