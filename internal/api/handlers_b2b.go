/**
 * @description
 * This file contains the bank-to-bank HTTP surface: the endpoint peer banks
 * deliver signed transfer assertions to, and the JWKS endpoint where this
 * bank publishes its own public signing keys for peers to verify against.
 *
 * Error responses on the B2B endpoint are deliberately coarse. A peer bank
 * learns whether its assertion was accepted, rejected, or hit a transient
 * outage; it never learns ledger internals.
 *
 * @dependencies
 * - encoding/json, errors, log, net/http: Standard Go libraries.
 * - internal/app, internal/keys, internal/store: For the receiver logic and key-set.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/crestbank/bank-node/internal/app"
	"github.com/crestbank/bank-node/internal/keys"
	"github.com/crestbank/bank-node/internal/store"
	"github.com/crestbank/bank-node/pkg/ratesclient"
	"github.com/crestbank/bank-node/pkg/registryclient"
)

// inboundTransferRequest is the body a peer bank posts: the signed assertion,
// nothing else. Every fact about the transfer lives inside the token.
type inboundTransferRequest struct {
	Assertion string `json:"assertion"`
}

// InboundTransferHandler handles POST /api/b2b/transactions from peer banks.
func (h *Handlers) InboundTransferHandler(w http.ResponseWriter, r *http.Request) {
	var req inboundTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Assertion == "" {
		h.writeError(w, http.StatusBadRequest, "Request must carry a transfer assertion")
		return
	}

	result, err := h.service.AcceptAssertion(r.Context(), req.Assertion)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidAssertion), errors.Is(err, app.ErrUnknownBank):
			h.writeError(w, http.StatusBadRequest, "Transfer assertion was rejected")
		case errors.Is(err, store.ErrAccountNotFound):
			h.writeError(w, http.StatusNotFound, "Destination account does not exist at this bank")
		case isUpstreamUnavailable(err):
			h.writeError(w, http.StatusBadGateway, "Temporarily unable to verify the transfer, retry later")
		default:
			log.Printf("level=error component=api handler=inbound_transfer err=%v", err)
			h.writeError(w, http.StatusInternalServerError, "Could not process the transfer")
		}
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// KeySetHandler serves GET /jwks.json: this bank's public signing keys.
func KeySetHandler(manager *keys.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=300")
		json.NewEncoder(w).Encode(manager.KeySet())
	}
}

// isUpstreamUnavailable reports whether the error is a transient outage of a
// partner service (registry, exchange rates) rather than a request problem.
func isUpstreamUnavailable(err error) bool {
	return errors.Is(err, registryclient.ErrRegistryUnavailable) ||
		errors.Is(err, ratesclient.ErrRateUnavailable)
}
