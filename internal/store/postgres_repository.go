/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. It contains all SQL for the accounts and transactions tables,
 * including the atomic transfer commits that pair balance mutations with the
 * matching transaction status write in one database transaction.
 *
 * @dependencies
 * - context, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crestbank/bank-node/internal/domain"
)

var (
	ErrAccountNotFound      = errors.New("account not found")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrDuplicateTransaction = errors.New("transaction already exists")
	ErrDuplicateAccount     = errors.New("account number already exists")
	ErrTransactionFinalized = errors.New("transaction already in a terminal state")
)

const pgUniqueViolation = "23505"

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// CreateAccount inserts a new account row.
func (r *PostgresRepository) CreateAccount(ctx context.Context, account *domain.Account) error {
	query := `
		INSERT INTO accounts (id, number, owner_id, owner_name, currency, balance)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		account.ID,
		account.Number,
		account.OwnerID,
		account.OwnerName,
		account.Currency,
		account.Balance,
	).Scan(&account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateAccount
		}
		return err
	}
	return nil
}

// FindAccountByID retrieves an account by its internal identifier.
func (r *PostgresRepository) FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	query := `SELECT id, number, owner_id, owner_name, currency, balance, created_at, updated_at FROM accounts WHERE id = $1`
	return r.scanAccount(r.db.QueryRow(ctx, query, accountID))
}

// FindAccountByNumber retrieves an account by its bank-prefixed number.
func (r *PostgresRepository) FindAccountByNumber(ctx context.Context, number string) (*domain.Account, error) {
	query := `SELECT id, number, owner_id, owner_name, currency, balance, created_at, updated_at FROM accounts WHERE number = $1`
	return r.scanAccount(r.db.QueryRow(ctx, query, number))
}

func (r *PostgresRepository) scanAccount(row pgx.Row) (*domain.Account, error) {
	var account domain.Account
	err := row.Scan(
		&account.ID, &account.Number, &account.OwnerID, &account.OwnerName,
		&account.Currency, &account.Balance, &account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// FindAccountsByOwner retrieves all accounts belonging to a user.
func (r *PostgresRepository) FindAccountsByOwner(ctx context.Context, ownerID string) ([]domain.Account, error) {
	query := `
		SELECT id, number, owner_id, owner_name, currency, balance, created_at, updated_at
		FROM accounts
		WHERE owner_id = $1
		ORDER BY created_at ASC
	`
	rows, err := r.db.Query(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		var account domain.Account
		err := rows.Scan(
			&account.ID, &account.Number, &account.OwnerID, &account.OwnerName,
			&account.Currency, &account.Balance, &account.CreatedAt, &account.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

// ConvertAccountCurrency swaps an account's currency and balance in one
// atomic update, locking the row so no transfer interleaves with the swap.
func (r *PostgresRepository) ConvertAccountCurrency(ctx context.Context, accountID uuid.UUID, currency string, balance int64) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var current int64
	err = tx.QueryRow(ctx, "SELECT balance FROM accounts WHERE id = $1 FOR UPDATE", accountID).Scan(&current)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrAccountNotFound
		}
		return err
	}

	_, err = tx.Exec(ctx,
		"UPDATE accounts SET currency = $1, balance = $2, updated_at = NOW() WHERE id = $3",
		currency, balance, accountID,
	)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// CreateTransaction inserts a new transaction row in its initial status.
// A primary-key conflict maps to ErrDuplicateTransaction, which the inbound
// receiver uses as its idempotency signal.
func (r *PostgresRepository) CreateTransaction(ctx context.Context, txRecord *domain.Transaction) error {
	query := `
		INSERT INTO transactions (
			id, type, status, amount, currency,
			source_account_id, source_external_account, source_external_bank,
			destination_account_id, destination_external_account, destination_external_bank,
			description
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		txRecord.ID,
		txRecord.Type,
		txRecord.Status,
		txRecord.Amount,
		txRecord.Currency,
		txRecord.Source.AccountID,
		nullIfEmpty(txRecord.Source.ExternalAccount),
		nullIfEmpty(txRecord.Source.ExternalBank),
		txRecord.Destination.AccountID,
		nullIfEmpty(txRecord.Destination.ExternalAccount),
		nullIfEmpty(txRecord.Destination.ExternalBank),
		txRecord.Description,
	).Scan(&txRecord.CreatedAt, &txRecord.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateTransaction
		}
		return err
	}
	return nil
}

const transactionColumns = `
	id, type, status, amount, currency,
	source_account_id, COALESCE(source_external_account, ''), COALESCE(source_external_bank, ''),
	destination_account_id, COALESCE(destination_external_account, ''), COALESCE(destination_external_bank, ''),
	COALESCE(description, ''), failure_reason, created_at, updated_at, completed_at
`

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var txRecord domain.Transaction
	err := row.Scan(
		&txRecord.ID, &txRecord.Type, &txRecord.Status, &txRecord.Amount, &txRecord.Currency,
		&txRecord.Source.AccountID, &txRecord.Source.ExternalAccount, &txRecord.Source.ExternalBank,
		&txRecord.Destination.AccountID, &txRecord.Destination.ExternalAccount, &txRecord.Destination.ExternalBank,
		&txRecord.Description, &txRecord.FailureReason, &txRecord.CreatedAt, &txRecord.UpdatedAt, &txRecord.CompletedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &txRecord, nil
}

// FindTransactionByID retrieves a transaction by its identifier.
func (r *PostgresRepository) FindTransactionByID(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	return scanTransaction(r.db.QueryRow(ctx, query, transactionID))
}

// FindTransactionsByOwner retrieves the transaction history touching any of a
// user's accounts, newest first.
func (r *PostgresRepository) FindTransactionsByOwner(ctx context.Context, ownerID string) ([]domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE source_account_id IN (SELECT id FROM accounts WHERE owner_id = $1)
		   OR destination_account_id IN (SELECT id FROM accounts WHERE owner_id = $1)
		ORDER BY created_at DESC
	`
	rows, err := r.db.Query(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []domain.Transaction
	for rows.Next() {
		txRecord, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *txRecord)
	}
	return transactions, rows.Err()
}

// MarkTransactionFailed moves a non-terminal transaction to `failed` and
// records the failure reason for audit. Terminal rows are immutable.
func (r *PostgresRepository) MarkTransactionFailed(ctx context.Context, transactionID uuid.UUID, reason string) error {
	query := `
		UPDATE transactions
		SET status = 'failed', failure_reason = $2, completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'inProgress')
	`
	result, err := r.db.Exec(ctx, query, transactionID, reason)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return r.finalizeConflict(ctx, transactionID)
	}
	return nil
}

// MarkTransactionCompleted moves a non-terminal transaction to `completed`
// and stamps the completion timestamp.
func (r *PostgresRepository) MarkTransactionCompleted(ctx context.Context, transactionID uuid.UUID) error {
	query := `
		UPDATE transactions
		SET status = 'completed', completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'inProgress')
	`
	result, err := r.db.Exec(ctx, query, transactionID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return r.finalizeConflict(ctx, transactionID)
	}
	return nil
}

func (r *PostgresRepository) finalizeConflict(ctx context.Context, transactionID uuid.UUID) error {
	if _, err := r.FindTransactionByID(ctx, transactionID); err != nil {
		return err
	}
	return ErrTransactionFinalized
}

// CommitLocalTransfer atomically debits the source, credits the destination
// and marks the transaction completed. Rows are locked in a fixed order
// (ascending id) to avoid deadlocks between concurrent opposite transfers.
func (r *PostgresRepository) CommitLocalTransfer(ctx context.Context, transactionID, sourceID, destinationID uuid.UUID, amount int64) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		"SELECT id, balance FROM accounts WHERE id = ANY($1) ORDER BY id FOR UPDATE",
		[]uuid.UUID{sourceID, destinationID},
	)
	if err != nil {
		return err
	}
	balances := make(map[uuid.UUID]int64, 2)
	for rows.Next() {
		var id uuid.UUID
		var balance int64
		if err := rows.Scan(&id, &balance); err != nil {
			rows.Close()
			return err
		}
		balances[id] = balance
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if len(balances) != 2 {
		return ErrAccountNotFound
	}

	if balances[sourceID] < amount {
		return ErrInsufficientFunds
	}

	if _, err := tx.Exec(ctx, "UPDATE accounts SET balance = balance - $1, updated_at = NOW() WHERE id = $2", amount, sourceID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, "UPDATE accounts SET balance = balance + $1, updated_at = NOW() WHERE id = $2", amount, destinationID); err != nil {
		return err
	}
	if err := r.completeInTx(ctx, tx, transactionID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// DebitForOutbound reserves funds for an outbound transfer. The transaction
// row stays pending; the pending row is what explains the missing funds until
// the remote delivery resolves.
func (r *PostgresRepository) DebitForOutbound(ctx context.Context, transactionID, sourceID uuid.UUID, amount int64) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var balance int64
	// Use FOR UPDATE to lock the row, preventing race conditions.
	err = tx.QueryRow(ctx, "SELECT balance FROM accounts WHERE id = $1 FOR UPDATE", sourceID).Scan(&balance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrAccountNotFound
		}
		return err
	}
	if balance < amount {
		return ErrInsufficientFunds
	}

	if _, err := tx.Exec(ctx, "UPDATE accounts SET balance = balance - $1, updated_at = NOW() WHERE id = $2", amount, sourceID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, "UPDATE transactions SET status = 'inProgress', updated_at = NOW() WHERE id = $1 AND status = 'pending'", transactionID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// CompensateOutbound credits the reserved amount back to the source account
// and marks the transaction failed, in one atomic unit. There is no window
// where the account is short the funds without a terminal row explaining why.
func (r *PostgresRepository) CompensateOutbound(ctx context.Context, transactionID, sourceID uuid.UUID, amount int64, reason string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	result, err := tx.Exec(ctx, "UPDATE accounts SET balance = balance + $1, updated_at = NOW() WHERE id = $2", amount, sourceID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	if _, err := tx.Exec(ctx,
		"UPDATE transactions SET status = 'failed', failure_reason = $2, completed_at = NOW(), updated_at = NOW() WHERE id = $1 AND status IN ('pending', 'inProgress')",
		transactionID, reason,
	); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// CommitInboundCredit credits the destination account and marks the inbound
// transaction completed, in one atomic unit.
func (r *PostgresRepository) CommitInboundCredit(ctx context.Context, transactionID, destinationID uuid.UUID, amount int64) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	result, err := tx.Exec(ctx, "UPDATE accounts SET balance = balance + $1, updated_at = NOW() WHERE id = $2", amount, destinationID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	if err := r.completeInTx(ctx, tx, transactionID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *PostgresRepository) completeInTx(ctx context.Context, tx pgx.Tx, transactionID uuid.UUID) error {
	result, err := tx.Exec(ctx,
		"UPDATE transactions SET status = 'completed', completed_at = NOW(), updated_at = NOW() WHERE id = $1 AND status IN ('pending', 'inProgress')",
		transactionID,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrTransactionFinalized
	}
	return nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
