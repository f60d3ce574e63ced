package keys

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestManager(t *testing.T, kid string) *Manager {
	t.Helper()
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	return NewManager(kid, privateKey)
}

func TestSignAndVerifyThroughKeySet(t *testing.T) {
	manager := newTestManager(t, "ABC")

	claims := jwt.MapClaims{"sub": "ABC1234567", "amount": float64(5000)}
	signed, err := manager.Sign(claims)
	if err != nil {
		t.Fatalf("Sign returned error: %v", err)
	}

	publicKey, err := manager.KeySet().PublicKey("ABC")
	if err != nil {
		t.Fatalf("PublicKey returned error: %v", err)
	}

	token, err := jwt.Parse(signed, func(token *jwt.Token) (interface{}, error) {
		return publicKey, nil
	}, jwt.WithValidMethods([]string{SigningAlgorithm}))
	if err != nil {
		t.Fatalf("expected token to verify against exported key-set: %v", err)
	}
	if kid, _ := token.Header["kid"].(string); kid != "ABC" {
		t.Fatalf("expected kid ABC in header, got %q", kid)
	}
}

func TestKeySetPublicKey_UnknownKid(t *testing.T) {
	manager := newTestManager(t, "ABC")
	if _, err := manager.KeySet().PublicKey("XYZ"); err != ErrKeyNotFound {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestSignatureFromDifferentKeyIsRejected(t *testing.T) {
	signer := newTestManager(t, "ABC")
	impostor := newTestManager(t, "ABC")

	signed, err := impostor.Sign(jwt.MapClaims{"sub": "forged"})
	if err != nil {
		t.Fatalf("Sign returned error: %v", err)
	}

	publicKey, err := signer.KeySet().PublicKey("ABC")
	if err != nil {
		t.Fatalf("PublicKey returned error: %v", err)
	}

	_, err = jwt.Parse(signed, func(token *jwt.Token) (interface{}, error) {
		return publicKey, nil
	}, jwt.WithValidMethods([]string{SigningAlgorithm}))
	if err == nil {
		t.Fatal("expected verification to fail for a token signed with a different key")
	}
}

func TestSetFetcher_ResolvePublicKey(t *testing.T) {
	manager := newTestManager(t, "EFG")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(manager.KeySet())
	}))
	defer server.Close()

	fetcher := NewSetFetcher(2 * time.Second)
	publicKey, err := fetcher.ResolvePublicKey(context.Background(), server.URL, "EFG")
	if err != nil {
		t.Fatalf("ResolvePublicKey returned error: %v", err)
	}
	if publicKey.N.Cmp(manager.privateKey.PublicKey.N) != 0 {
		t.Fatal("resolved modulus does not match the published key")
	}

	if _, err := fetcher.ResolvePublicKey(context.Background(), server.URL, "ZZZ"); err != ErrKeyNotFound {
		t.Fatalf("expected ErrKeyNotFound for unknown kid, got %v", err)
	}
}

func TestParseRSAPublicKey_RejectsBadExponents(t *testing.T) {
	manager := newTestManager(t, "ABC")
	validN := manager.KeySet().Keys[0].N

	tests := []struct {
		name string
		e    []byte
	}{
		{name: "zero exponent", e: []byte{0}},
		{name: "exponent above int31 range", e: []byte{0xFF, 0xFF, 0xFF, 0xFF}},
		{name: "five byte exponent", e: []byte{1, 0, 0, 0, 1}},
		{name: "nine byte exponent wraps uint64", e: []byte{1, 0, 0, 0, 0, 0, 0, 1, 1}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			encoded := base64.RawURLEncoding.EncodeToString(tc.e)
			if _, err := parseRSAPublicKey(validN, encoded); err == nil {
				t.Fatalf("expected error for exponent bytes %v", tc.e)
			}
		})
	}
}
