/**
 * @description
 * This file contains the HTTP handlers for the bank-node's customer-facing
 * API endpoints: account provisioning, transfers, and history queries.
 * Handlers parse incoming requests, call the application service, and map
 * service errors to HTTP statuses. They act as the bridge between the web
 * layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, errors, log, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5: For URL parameters.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/crestbank/bank-node/internal/app"
	"github.com/crestbank/bank-node/internal/domain"
	"github.com/crestbank/bank-node/internal/store"
)

// Handlers holds the application service that handlers will use.
type Handlers struct {
	service *app.Service
}

// NewHandlers creates the handler set for the given service.
func NewHandlers(service *app.Service) *Handlers {
	return &Handlers{service: service}
}

// transferResponse is what the client gets back after a transfer request has
// been processed. Terminal failures still produce a transaction record, so a
// failed transfer answers with the record and its failure reason rather than
// a bare error.
type transferResponse struct {
	TransactionID string  `json:"transaction_id"`
	Status        string  `json:"status"`
	Amount        int64   `json:"amount"`
	Currency      string  `json:"currency"`
	FailureReason *string `json:"failure_reason,omitempty"`
}

func buildTransferResponse(txRecord *domain.Transaction) transferResponse {
	return transferResponse{
		TransactionID: txRecord.ID.String(),
		Status:        txRecord.Status,
		Amount:        txRecord.Amount,
		Currency:      txRecord.Currency,
		FailureReason: txRecord.FailureReason,
	}
}

// CreateAccountHandler handles POST /accounts.
func (h *Handlers) CreateAccountHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}

	var req domain.CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	account, err := h.service.CreateAccount(r.Context(), userID, req)
	if err != nil {
		if errors.Is(err, app.ErrInvalidCurrency) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("level=error component=api handler=create_account err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Could not create account")
		return
	}
	h.writeJSON(w, http.StatusCreated, account)
}

// ListAccountsHandler handles GET /accounts.
func (h *Handlers) ListAccountsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}

	accounts, err := h.service.ListAccounts(r.Context(), userID)
	if err != nil {
		log.Printf("level=error component=api handler=list_accounts err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Could not list accounts")
		return
	}
	if accounts == nil {
		accounts = []domain.Account{}
	}
	h.writeJSON(w, http.StatusOK, accounts)
}

// ConvertAccountHandler handles POST /accounts/{accountID}/convert.
func (h *Handlers) ConvertAccountHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}
	accountID, err := uuid.Parse(chi.URLParam(r, "accountID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid account ID")
		return
	}

	var req domain.ConvertAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	account, err := h.service.ConvertAccount(r.Context(), userID, accountID, req)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidCurrency):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, store.ErrAccountNotFound), errors.Is(err, app.ErrNotAccountOwner):
			h.writeError(w, http.StatusNotFound, "Account not found")
		case isUpstreamUnavailable(err):
			h.writeError(w, http.StatusBadGateway, "Exchange rates are currently unavailable")
		default:
			log.Printf("level=error component=api handler=convert_account err=%v", err)
			h.writeError(w, http.StatusInternalServerError, "Could not convert account")
		}
		return
	}
	h.writeJSON(w, http.StatusOK, account)
}

// TransferHandler handles POST /transfers, for both local and inter-bank
// transfers. The destination account number decides the route.
func (h *Handlers) TransferHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}

	var req domain.TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	txRecord, err := h.service.Transfer(r.Context(), userID, req)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidAmount),
			errors.Is(err, app.ErrInvalidDescription),
			errors.Is(err, app.ErrInvalidDestination),
			errors.Is(err, app.ErrCurrencyMismatch),
			errors.Is(err, app.ErrSameAccount):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, app.ErrNotAccountOwner):
			h.writeError(w, http.StatusForbidden, "You do not own the source account")
		case errors.Is(err, store.ErrAccountNotFound):
			h.writeError(w, http.StatusNotFound, "Account not found")
		case errors.Is(err, app.ErrUnknownBank):
			h.writeError(w, http.StatusBadRequest, "Destination bank is unknown or inactive")
		case errors.Is(err, store.ErrInsufficientFunds):
			// The failed transaction record is still returned so the client
			// can show it in history.
			h.writeJSON(w, http.StatusConflict, buildTransferResponse(txRecord))
		case isUpstreamUnavailable(err):
			h.writeError(w, http.StatusBadGateway, "A partner service is currently unavailable")
		default:
			log.Printf("level=error component=api handler=transfer err=%v", err)
			if txRecord != nil {
				h.writeJSON(w, http.StatusBadGateway, buildTransferResponse(txRecord))
				return
			}
			h.writeError(w, http.StatusInternalServerError, "Could not process transfer")
		}
		return
	}
	h.writeJSON(w, http.StatusCreated, buildTransferResponse(txRecord))
}

// GetTransactionHandler handles GET /transactions/{transactionID}.
func (h *Handlers) GetTransactionHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}
	transactionID, err := uuid.Parse(chi.URLParam(r, "transactionID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid transaction ID")
		return
	}

	txRecord, err := h.service.GetTransaction(r.Context(), userID, transactionID)
	if err != nil {
		if errors.Is(err, store.ErrTransactionNotFound) {
			h.writeError(w, http.StatusNotFound, "Transaction not found")
			return
		}
		log.Printf("level=error component=api handler=get_transaction err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Could not fetch transaction")
		return
	}
	h.writeJSON(w, http.StatusOK, txRecord)
}

// ListTransactionsHandler handles GET /transactions.
func (h *Handlers) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}

	transactions, err := h.service.ListTransactions(r.Context(), userID)
	if err != nil {
		log.Printf("level=error component=api handler=list_transactions err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Could not list transactions")
		return
	}
	if transactions == nil {
		transactions = []domain.Transaction{}
	}
	h.writeJSON(w, http.StatusOK, transactions)
}

// writeJSON is a helper for writing JSON responses.
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
