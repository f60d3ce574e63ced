/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract
 * for all ledger data access required by the bank-node. The interface
 * decouples the transfer engine from the PostgreSQL implementation and lets
 * tests substitute in-memory stubs.
 *
 * The store is the only component allowed to mutate balances. Every method
 * that moves money commits the balance change and the matching transaction
 * status write inside one database transaction, so a partially applied
 * transfer is never observable.
 */

package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/crestbank/bank-node/internal/domain"
)

// Repository defines the set of methods for interacting with the ledger.
type Repository interface {
	// Account methods
	CreateAccount(ctx context.Context, account *domain.Account) error
	FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error)
	FindAccountByNumber(ctx context.Context, number string) (*domain.Account, error)
	FindAccountsByOwner(ctx context.Context, ownerID string) ([]domain.Account, error)
	// ConvertAccountCurrency swaps currency and balance together in one
	// atomic unit so no intermediate state mixes the two.
	ConvertAccountCurrency(ctx context.Context, accountID uuid.UUID, currency string, balance int64) error

	// Transaction methods
	CreateTransaction(ctx context.Context, tx *domain.Transaction) error
	FindTransactionByID(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error)
	FindTransactionsByOwner(ctx context.Context, ownerID string) ([]domain.Transaction, error)
	MarkTransactionFailed(ctx context.Context, transactionID uuid.UUID, reason string) error
	MarkTransactionCompleted(ctx context.Context, transactionID uuid.UUID) error

	// Atomic transfer commits. Each runs in a single database transaction
	// with row locks on the touched accounts.
	//
	// CommitLocalTransfer debits source, credits destination and marks the
	// transaction completed. Fails with ErrInsufficientFunds without any
	// balance change when the source balance is short.
	CommitLocalTransfer(ctx context.Context, transactionID, sourceID, destinationID uuid.UUID, amount int64) error
	// DebitForOutbound reserves funds for an outbound transfer: debits the
	// source account and moves the transaction to inProgress.
	DebitForOutbound(ctx context.Context, transactionID, sourceID uuid.UUID, amount int64) error
	// CompensateOutbound credits the reserved amount back and marks the
	// transaction failed, in one atomic unit.
	CompensateOutbound(ctx context.Context, transactionID, sourceID uuid.UUID, amount int64, reason string) error
	// CommitInboundCredit credits the destination account and marks the
	// inbound transaction completed, in one atomic unit.
	CommitInboundCredit(ctx context.Context, transactionID, destinationID uuid.UUID, amount int64) error
}
