/**
 * @description
 * Outbound B2B gateway. An outbound transfer leaves this bank's ledger for a
 * peer bank, so it cannot commit atomically end to end. The sequence is:
 * verify the destination bank through the registry, reserve the funds
 * locally, sign a transfer assertion, deliver it to the peer, then finalize.
 * Any failure after the debit compensates by crediting the reserved amount
 * back and marking the transaction failed.
 *
 * No network call happens inside a database transaction; the debit and the
 * compensation are each atomic on their own.
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5: For assertion claims.
 * - internal/domain, internal/store: For models and ledger access.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/crestbank/bank-node/internal/domain"
	"github.com/crestbank/bank-node/internal/store"
)

// assertionTTL bounds the validity window of an outbound assertion. A peer
// receiving the token after this window rejects it, which limits replay of a
// leaked token.
const assertionTTL = 2 * time.Minute

// processOutboundTransfer executes the debit -> sign -> deliver -> complete
// pipeline, compensating the debit on any post-reservation failure.
func (s *Service) processOutboundTransfer(ctx context.Context, source *domain.Account, destinationNumber, destinationPrefix string, amount int64, description string) (*domain.Transaction, error) {
	// Gate on the registry before touching the ledger. An unknown or
	// inactive destination bank never costs a debit/compensate cycle.
	bank, err := s.verifyDestinationBank(ctx, destinationPrefix)
	if err != nil {
		s.collector.RecordTransfer(metricsDirectionOutbound, metricsOutcomeRejected)
		return nil, err
	}

	txRecord := &domain.Transaction{
		ID:          uuid.New(),
		Type:        domain.TypeExternal,
		Status:      domain.StatusPending,
		Amount:      amount,
		Currency:    source.Currency,
		Source:      domain.LocalParty(source.ID),
		Destination: domain.ExternalParty(destinationNumber, destinationPrefix),
		Description: description,
	}
	if err := s.repo.CreateTransaction(ctx, txRecord); err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	if err := s.repo.DebitForOutbound(ctx, txRecord.ID, source.ID, amount); err != nil {
		if errors.Is(err, store.ErrInsufficientFunds) {
			s.markFailed(ctx, txRecord, "insufficient funds")
			s.publishTerminalEvent(ctx, txRecord)
			s.collector.RecordTransfer(metricsDirectionOutbound, metricsOutcomeFailed)
			return txRecord, store.ErrInsufficientFunds
		}
		s.markFailed(ctx, txRecord, "ledger debit failed")
		s.publishTerminalEvent(ctx, txRecord)
		s.collector.RecordTransfer(metricsDirectionOutbound, metricsOutcomeFailed)
		return nil, fmt.Errorf("failed to debit source account: %w", err)
	}
	txRecord.Status = domain.StatusInProgress

	assertion, err := s.signAssertion(txRecord, source, destinationNumber)
	if err != nil {
		s.compensate(ctx, txRecord, source.ID, amount, "failed to sign transfer assertion")
		return nil, fmt.Errorf("failed to sign assertion: %w", err)
	}

	receiverName, err := s.peers.Deliver(ctx, bank.TransactionEndpoint, assertion)
	if err != nil {
		s.compensate(ctx, txRecord, source.ID, amount, failureReason("delivery to peer bank failed", err))
		return txRecord, fmt.Errorf("failed to deliver transfer to %s: %w", bank.Name, err)
	}

	// The delivery may have consumed the whole request budget; finalize on a
	// detached context so the accepted transfer still reaches its terminal
	// state.
	finalizeCtx, cancelFinalize := detachedContext(ctx)
	defer cancelFinalize()
	if err := s.repo.MarkTransactionCompleted(finalizeCtx, txRecord.ID); err != nil {
		// The peer has accepted the money; the transaction must not be
		// compensated. Leave it inProgress for operator reconciliation.
		log.Printf("level=error component=service msg=\"delivered transfer could not be finalized\" transaction_id=%s err=%v", txRecord.ID, err)
		return txRecord, fmt.Errorf("failed to finalize delivered transfer: %w", err)
	}
	txRecord.Status = domain.StatusCompleted

	log.Printf("level=info component=service op=outbound_transfer transaction_id=%s bank=%s receiver=%q amount=%d currency=%s",
		txRecord.ID, bank.Name, receiverName, amount, txRecord.Currency)
	s.publishTerminalEvent(ctx, txRecord)
	s.collector.RecordTransfer(metricsDirectionOutbound, metricsOutcomeCompleted)
	return txRecord, nil
}

func (s *Service) compensate(ctx context.Context, txRecord *domain.Transaction, sourceID uuid.UUID, amount int64, reason string) {
	// The request that reserved the funds may already be cancelled (client
	// disconnect, gateway timeout); the compensating credit must not inherit
	// that fate.
	ctx, cancel := detachedContext(ctx)
	defer cancel()
	if err := s.repo.CompensateOutbound(ctx, txRecord.ID, sourceID, amount, reason); err != nil {
		// The reserved funds stay debited until an operator intervenes;
		// losing the compensation is strictly better than double-crediting.
		log.Printf("level=error component=service msg=\"compensation failed\" transaction_id=%s err=%v", txRecord.ID, err)
		return
	}
	txRecord.Status = domain.StatusFailed
	txRecord.FailureReason = &reason
	log.Printf("level=warn component=service op=outbound_compensated transaction_id=%s reason=%q", txRecord.ID, reason)
	s.publishTerminalEvent(ctx, txRecord)
	s.collector.RecordTransfer(metricsDirectionOutbound, metricsOutcomeFailed)
}

// maxFailureReasonLength bounds what a failure writes onto the audit row.
const maxFailureReasonLength = 200

// failureReason builds the recorded failure reason from a delivery error so
// the transaction row itself explains why the transfer failed, not just the
// logs. Bounded, because the upstream message is peer-controlled.
func failureReason(prefix string, err error) string {
	reason := prefix
	if err != nil {
		reason = prefix + ": " + err.Error()
	}
	if len(reason) > maxFailureReasonLength {
		reason = reason[:maxFailureReasonLength]
	}
	return reason
}

// signAssertion builds and signs the transfer assertion. The jti claim
// carries the transaction id so the receiving bank can deduplicate replays.
func (s *Service) signAssertion(txRecord *domain.Transaction, source *domain.Account, destinationNumber string) (string, error) {
	now := time.Now()
	claims := domain.AssertionClaims{
		SourceAccount:      source.Number,
		DestinationAccount: destinationNumber,
		Currency:           txRecord.Currency,
		Amount:             txRecord.Amount,
		Description:        txRecord.Description,
		SenderName:         source.OwnerName,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        txRecord.ID.String(),
			Issuer:    s.identity.BankPrefix,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(assertionTTL)),
		},
	}
	return s.signer.Sign(claims)
}
