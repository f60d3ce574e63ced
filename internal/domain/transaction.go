/**
 * @description
 * This file defines the Transaction domain model and its status state machine.
 * A Transaction is the central ledger record for any money movement: internal
 * transfers between two accounts of this bank, and external transfers where
 * one leg lives at another bank of the network.
 *
 * @notes
 * - Amounts are stored as `int64` in minor units; no floating point touches
 *   the ledger path.
 * - Each leg of a transaction is a Party: either a local account reference or
 *   an external account number plus bank prefix. Exactly one of the two forms
 *   is set per leg. This replaces the error-prone convention of overloading a
 *   zero account id as "no local account".
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Transaction types.
const (
	TypeInternal = "internal"
	TypeExternal = "external"
)

// Transaction statuses. A transaction is created `pending`, may pass through
// `inProgress` while a remote delivery is in flight, and transitions exactly
// once to a terminal `completed` or `failed`.
const (
	StatusPending    = "pending"
	StatusInProgress = "inProgress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Party identifies one leg of a transfer: a local account of this bank, or an
// account held at another participant bank.
type Party struct {
	AccountID       *uuid.UUID `json:"account_id,omitempty"`
	ExternalAccount string     `json:"external_account,omitempty"`
	ExternalBank    string     `json:"external_bank,omitempty"`
}

// LocalParty builds a Party referencing an account of this bank.
func LocalParty(accountID uuid.UUID) Party {
	id := accountID
	return Party{AccountID: &id}
}

// ExternalParty builds a Party referencing an account at another bank.
func ExternalParty(accountNumber, bankPrefix string) Party {
	return Party{ExternalAccount: accountNumber, ExternalBank: bankPrefix}
}

// IsLocal reports whether the party is an account of this bank.
func (p Party) IsLocal() bool {
	return p.AccountID != nil
}

// Transaction represents one money movement in the ledger.
// This struct maps directly to the `transactions` table in the database.
type Transaction struct {
	ID            uuid.UUID  `json:"id"`
	Type          string     `json:"type"`   // 'internal' or 'external'
	Status        string     `json:"status"` // see Status* constants
	Amount        int64      `json:"amount"` // in minor units, always > 0
	Currency      string     `json:"currency"`
	Source        Party      `json:"source"`
	Destination   Party      `json:"destination"`
	Description   string     `json:"description"`
	FailureReason *string    `json:"failure_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// IsTerminal reports whether a status admits no further transitions.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// CanTransition reports whether the status state machine permits moving from
// one status to another. Terminal statuses are immutable.
func CanTransition(from, to string) bool {
	if IsTerminal(from) {
		return false
	}
	switch from {
	case StatusPending:
		return to == StatusInProgress || to == StatusCompleted || to == StatusFailed
	case StatusInProgress:
		return to == StatusCompleted || to == StatusFailed
	}
	return false
}

// TransferRequest is the DTO for an incoming transfer submission. The caller
// has already been authenticated by the fronting auth collaborator; ownership
// of the source account is enforced by the service.
type TransferRequest struct {
	SourceAccountID   uuid.UUID `json:"source_account_id"`
	DestinationNumber string    `json:"destination_number"`
	Amount            int64     `json:"amount"`                   // in minor units
	AmountDecimal     string    `json:"amount_decimal,omitempty"` // optional "12.34" form, wins over Amount when set
	Currency          string    `json:"currency,omitempty"`       // defaults to the source account's currency
	Description       string    `json:"description,omitempty"`
}

// CreateAccountRequest is the DTO for provisioning a new account.
type CreateAccountRequest struct {
	OwnerName string `json:"owner_name"`
	Currency  string `json:"currency,omitempty"` // defaults to the bank's default currency
}

// ConvertAccountRequest is the DTO for the explicit currency-conversion
// operation that atomically swaps an account's currency and balance.
type ConvertAccountRequest struct {
	Currency string `json:"currency"`
}

// InboundResult is what the inbound B2B receiver returns to the sending bank
// after a verified assertion has been credited.
type InboundResult struct {
	ReceiverName string `json:"receiverName"`
	Message      string `json:"message"`
}
