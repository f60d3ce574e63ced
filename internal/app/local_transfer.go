/**
 * @description
 * Local transfer processing. Both legs of an internal transfer live in this
 * bank's own ledger, so the whole movement happens inside one database
 * transaction: debit, credit, and the terminal status write commit together
 * or not at all.
 *
 * @dependencies
 * - internal/domain, internal/store: For models and atomic ledger commits.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/crestbank/bank-node/internal/domain"
	"github.com/crestbank/bank-node/internal/store"
)

// processLocalTransfer moves funds between two accounts of this bank.
func (s *Service) processLocalTransfer(ctx context.Context, source *domain.Account, destinationNumber string, amount int64, description string) (*domain.Transaction, error) {
	destination, err := s.repo.FindAccountByNumber(ctx, destinationNumber)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to find destination account: %w", err)
	}
	if destination.ID == source.ID {
		return nil, ErrSameAccount
	}
	if destination.Currency != source.Currency {
		return nil, ErrCurrencyMismatch
	}

	txRecord := &domain.Transaction{
		ID:          uuid.New(),
		Type:        domain.TypeInternal,
		Status:      domain.StatusPending,
		Amount:      amount,
		Currency:    source.Currency,
		Source:      domain.LocalParty(source.ID),
		Destination: domain.LocalParty(destination.ID),
		Description: description,
	}
	if err := s.repo.CreateTransaction(ctx, txRecord); err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	if err := s.repo.CommitLocalTransfer(ctx, txRecord.ID, source.ID, destination.ID, amount); err != nil {
		if errors.Is(err, store.ErrInsufficientFunds) {
			s.markFailed(ctx, txRecord, "insufficient funds")
			s.publishTerminalEvent(ctx, txRecord)
			s.collector.RecordTransfer(metricsDirectionLocal, metricsOutcomeFailed)
			return txRecord, store.ErrInsufficientFunds
		}
		s.markFailed(ctx, txRecord, "ledger commit failed")
		s.publishTerminalEvent(ctx, txRecord)
		s.collector.RecordTransfer(metricsDirectionLocal, metricsOutcomeFailed)
		return nil, fmt.Errorf("failed to commit local transfer: %w", err)
	}

	txRecord.Status = domain.StatusCompleted
	log.Printf("level=info component=service op=local_transfer transaction_id=%s amount=%d currency=%s", txRecord.ID, amount, txRecord.Currency)
	s.publishTerminalEvent(ctx, txRecord)
	s.collector.RecordTransfer(metricsDirectionLocal, metricsOutcomeCompleted)
	return txRecord, nil
}
