/**
 * @description
 * This file defines the Account domain model for the bank-node service.
 * An account belongs to a single user of this bank and holds a balance in
 * exactly one currency.
 *
 * @notes
 * - Balances are stored as `int64` in minor units (e.g. cents), which avoids
 *   floating-point inaccuracies with financial data.
 * - The account number is prefixed with this bank's 3-character prefix; the
 *   prefix is how the transfer engine decides whether a destination is local
 *   or belongs to another participant of the network.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// BankPrefixLength is the number of leading characters of an account number
// that identify the issuing bank within the central registry.
const BankPrefixLength = 3

// Account represents a user's ledger account at this bank.
// This struct maps directly to the `accounts` table in the database.
type Account struct {
	ID        uuid.UUID `json:"id"`
	Number    string    `json:"number"`
	OwnerID   string    `json:"owner_id"`
	OwnerName string    `json:"owner_name"`
	Currency  string    `json:"currency"` // 3-letter ISO 4217 code
	Balance   int64     `json:"balance"`  // in minor units
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BankPrefix returns the 3-character bank prefix of an account number, or an
// empty string when the number is too short to carry one.
func BankPrefix(accountNumber string) string {
	if len(accountNumber) < BankPrefixLength {
		return ""
	}
	return accountNumber[:BankPrefixLength]
}

// Bank describes a participant of the payment network as reported by the
// central registry.
type Bank struct {
	Name                string `json:"name"`
	Prefix              string `json:"prefix"`
	TransactionEndpoint string `json:"transactionEndpoint"`
	KeySetURL           string `json:"keySetUrl"`
	IsActive            bool   `json:"isActive"`
}
