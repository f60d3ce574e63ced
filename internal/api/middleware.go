/**
 * @description
 * This file contains HTTP middleware for the bank-node API. Customer-facing
 * endpoints sit behind the bank's own perimeter (an API gateway terminates
 * end-user authentication), so the node trusts a shared internal API key plus
 * a forwarded user identity header. The B2B endpoints are deliberately NOT
 * behind this middleware; their authentication is the signed assertion
 * itself.
 *
 * @dependencies
 * - context, crypto/subtle, net/http: Standard Go libraries.
 */

package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// userIDContextKey is a custom type for the context key to avoid collisions.
type userIDContextKey string

const userIDKey userIDContextKey = "userID"

const (
	internalAPIKeyHeader = "X-Internal-Api-Key"
	userIDHeader         = "X-User-Id"
)

// InternalAuthMiddleware authenticates requests forwarded by the bank's API
// gateway. It checks the shared internal key and extracts the authenticated
// user's identity from the forwarded header.
func InternalAuthMiddleware(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := r.Header.Get(internalAPIKeyHeader)
			if apiKey == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(apiKey)) != 1 {
				writeAuthError(w, "Invalid or missing internal API key")
				return
			}

			userID := strings.TrimSpace(r.Header.Get(userIDHeader))
			if userID == "" {
				writeAuthError(w, "Missing user identity header")
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUserID retrieves the authenticated user's ID from the request context.
func GetUserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDKey).(string)
	return userID, ok
}

func writeAuthError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
