/**
 * @description
 * This file sets up the HTTP router for the bank-node. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies
 * middleware. The surface splits three ways: public endpoints (health, JWKS,
 * the B2B receiver), the metrics endpoint, and the customer endpoints behind
 * the internal gateway authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS middleware for the public key-set endpoint.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/crestbank/bank-node/internal/keys"
	"github.com/crestbank/bank-node/internal/metrics"
)

// Routes creates and returns the bank-node router.
func Routes(h *Handlers, keyManager *keys.Manager, collector *metrics.Collector, internalAPIKey string) http.Handler {
	r := chi.NewRouter()

	// Standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	r.Handle("/metrics", collector.Handler())

	// The key-set is world-readable; peer banks fetch it to verify our
	// signatures.
	r.Group(func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET"},
			MaxAge:         300,
		}))
		r.Get("/jwks.json", KeySetHandler(keyManager))
	})

	// Bank-to-bank receiver. Authenticated by the signed assertion itself,
	// not by the internal gateway key.
	r.Post("/api/b2b/transactions", h.InboundTransferHandler)

	// Customer endpoints, forwarded by the bank's API gateway.
	r.Group(func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalAPIKey))

		r.Post("/accounts", h.CreateAccountHandler)
		r.Get("/accounts", h.ListAccountsHandler)
		r.Post("/accounts/{accountID}/convert", h.ConvertAccountHandler)

		r.Post("/transfers", h.TransferHandler)

		r.Get("/transactions", h.ListTransactionsHandler)
		r.Get("/transactions/{transactionID}", h.GetTransactionHandler)
	})

	return r
}
