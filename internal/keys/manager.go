/**
 * @description
 * This package owns the bank's RSA signing identity. The Manager holds the
 * single active key pair, signs transfer assertions as RS256 bearer tokens
 * whose `kid` header equals the bank's registry prefix, and exposes the
 * public half as a JWKS-style key-set document for peer banks to discover.
 *
 * The private key never leaves this package; callers only obtain signatures
 * and the public key-set.
 *
 * @dependencies
 * - crypto/rsa, crypto/x509, encoding/pem: Standard Go key handling.
 * - github.com/golang-jwt/jwt/v5: RS256 token signing.
 */

package keys

import (
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"os"

	"github.com/golang-jwt/jwt/v5"
)

// SigningAlgorithm is fixed by network policy: RS256 over 2048-bit class keys.
const SigningAlgorithm = "RS256"

var ErrKeyNotFound = errors.New("no key in set matches the requested kid")

// JSONWebKey is one entry of a published key-set.
type JSONWebKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JSONWebKeySet is the document served on the key-discovery endpoint.
type JSONWebKeySet struct {
	Keys []JSONWebKey `json:"keys"`
}

// Manager owns the bank's active RSA key pair.
type Manager struct {
	kid        string
	privateKey *rsa.PrivateKey
}

// NewManager wraps an already-loaded private key. Used directly by tests and
// by provisioning code that generates keys in memory.
func NewManager(kid string, privateKey *rsa.PrivateKey) *Manager {
	return &Manager{kid: kid, privateKey: privateKey}
}

// LoadManager reads a PEM-encoded RSA private key from disk. The kid is the
// bank's registry prefix, so the key is discoverable by peers that only know
// the prefix.
func LoadManager(kid, privateKeyPath string) (*Manager, error) {
	pemBytes, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key file: %w", err)
	}
	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return &Manager{kid: kid, privateKey: privateKey}, nil
}

// Kid returns the key identifier the manager signs under.
func (m *Manager) Kid() string {
	return m.kid
}

// Sign produces a signed bearer token for the given claims with the bank's
// key identifier in the header.
func (m *Manager) Sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = m.kid
	signed, err := token.SignedString(m.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign assertion: %w", err)
	}
	return signed, nil
}

// KeySet returns the discoverable key-set document for the manager's public
// key, with modulus and exponent in base64url encoding.
func (m *Manager) KeySet() JSONWebKeySet {
	publicKey := &m.privateKey.PublicKey
	return JSONWebKeySet{
		Keys: []JSONWebKey{
			{
				Kty: "RSA",
				Kid: m.kid,
				Alg: SigningAlgorithm,
				Use: "sig",
				N:   base64.RawURLEncoding.EncodeToString(publicKey.N.Bytes()),
				E:   base64.RawURLEncoding.EncodeToString(bigEndianExponent(publicKey.E)),
			},
		},
	}
}

// PublicKey looks up a key by identifier in a key-set and reconstructs the
// native RSA public key from the base64url modulus and exponent.
func (s JSONWebKeySet) PublicKey(kid string) (*rsa.PublicKey, error) {
	for _, key := range s.Keys {
		if key.Kid == kid {
			return parseRSAPublicKey(key.N, key.E)
		}
	}
	return nil, ErrKeyNotFound
}

// parseRSAPublicKey parses an RSA public key from a JWK modulus/exponent pair.
func parseRSAPublicKey(n, e string) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}
	if len(nb) == 0 || len(eb) == 0 {
		return nil, errors.New("empty modulus or exponent")
	}
	// 4 bytes already covers every exponent the range check below admits; a
	// longer value would silently wrap the accumulator.
	if len(eb) > 4 {
		return nil, fmt.Errorf("exponent too large: %d bytes", len(eb))
	}

	var exp uint64
	for _, b := range eb {
		exp = (exp << 8) | uint64(b)
	}
	if exp == 0 || exp > 1<<31-1 {
		return nil, fmt.Errorf("exponent out of range: %d", exp)
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nb),
		E: int(exp),
	}, nil
}

func bigEndianExponent(e int) []byte {
	buf := big.NewInt(int64(e)).Bytes()
	if len(buf) == 0 {
		buf = []byte{0}
	}
	return buf
}
