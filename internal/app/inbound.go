/**
 * @description
 * Inbound B2B receiver. A peer bank delivers a signed transfer assertion;
 * this file verifies it and credits the destination account. Verification is
 * strictly ordered before any ledger mutation: the signature is checked
 * against the sending bank's published key-set, resolved through the central
 * registry by the token's kid, before the destination account is even looked
 * up.
 *
 * The assertion's jti claim carries the sender's transaction identifier and
 * is reused as this ledger's transaction id, which makes redelivery of the
 * same assertion idempotent: the second attempt finds the existing record and
 * acknowledges without crediting again.
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5: For assertion parsing and verification.
 * - internal/domain, internal/keys, internal/store: For models, signature
 *   algorithms and ledger access.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/crestbank/bank-node/internal/domain"
	"github.com/crestbank/bank-node/internal/keys"
	"github.com/crestbank/bank-node/internal/store"
	"github.com/crestbank/bank-node/pkg/registryclient"
)

// isInfrastructureError separates transient upstream outages, which peers
// should retry, from verification failures, which they should not.
func isInfrastructureError(err error) bool {
	return errors.Is(err, registryclient.ErrRegistryUnavailable)
}

// AcceptAssertion processes a transfer assertion delivered by a peer bank.
// Nothing in the ledger changes unless the signature verifies against the
// sending bank's registered key-set.
func (s *Service) AcceptAssertion(ctx context.Context, assertion string) (*domain.InboundResult, error) {
	claims, senderPrefix, err := s.verifyAssertion(ctx, assertion)
	if err != nil {
		s.collector.RecordTransfer(metricsDirectionInbound, metricsOutcomeRejected)
		return nil, err
	}

	transactionID, err := uuid.Parse(claims.ID)
	if err != nil {
		s.collector.RecordTransfer(metricsDirectionInbound, metricsOutcomeRejected)
		return nil, fmt.Errorf("%w: jti is not a valid transaction id", ErrInvalidAssertion)
	}

	destination, err := s.repo.FindAccountByNumber(ctx, claims.DestinationAccount)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			s.collector.RecordTransfer(metricsDirectionInbound, metricsOutcomeRejected)
			return nil, err
		}
		return nil, fmt.Errorf("failed to find destination account: %w", err)
	}

	// Redelivery of an already-processed assertion acknowledges without a
	// second credit.
	if existing, err := s.repo.FindTransactionByID(ctx, transactionID); err == nil {
		log.Printf("level=info component=service op=inbound_replay transaction_id=%s", transactionID)
		return s.inboundResult(destination, existing.Status), nil
	} else if !errors.Is(err, store.ErrTransactionNotFound) {
		return nil, fmt.Errorf("failed to check for duplicate transaction: %w", err)
	}

	// Credit in the destination account's currency; convert when the sending
	// leg is denominated differently.
	amount := claims.Amount
	if claims.Currency != destination.Currency {
		amount, err = s.rates.Convert(ctx, claims.Amount, claims.Currency, destination.Currency)
		if err != nil {
			s.collector.RecordTransfer(metricsDirectionInbound, metricsOutcomeRejected)
			return nil, fmt.Errorf("failed to convert inbound amount: %w", err)
		}
	}

	txRecord := &domain.Transaction{
		ID:          transactionID,
		Type:        domain.TypeExternal,
		Status:      domain.StatusPending,
		Amount:      amount,
		Currency:    destination.Currency,
		Source:      domain.ExternalParty(claims.SourceAccount, senderPrefix),
		Destination: domain.LocalParty(destination.ID),
		Description: claims.Description,
	}
	if err := s.repo.CreateTransaction(ctx, txRecord); err != nil {
		if errors.Is(err, store.ErrDuplicateTransaction) {
			// Lost the race against a concurrent redelivery; the other
			// request owns the credit.
			log.Printf("level=info component=service op=inbound_replay transaction_id=%s", transactionID)
			return s.inboundResult(destination, domain.StatusCompleted), nil
		}
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	if err := s.repo.CommitInboundCredit(ctx, txRecord.ID, destination.ID, amount); err != nil {
		s.markFailed(ctx, txRecord, "ledger credit failed")
		s.publishTerminalEvent(ctx, txRecord)
		s.collector.RecordTransfer(metricsDirectionInbound, metricsOutcomeFailed)
		return nil, fmt.Errorf("failed to credit destination account: %w", err)
	}
	txRecord.Status = domain.StatusCompleted

	log.Printf("level=info component=service op=inbound_transfer transaction_id=%s sender_bank=%s amount=%d currency=%s",
		txRecord.ID, senderPrefix, amount, destination.Currency)
	s.publishTerminalEvent(ctx, txRecord)
	s.collector.RecordTransfer(metricsDirectionInbound, metricsOutcomeCompleted)
	return s.inboundResult(destination, txRecord.Status), nil
}

// verifyAssertion parses the assertion and verifies its RS256 signature with
// the sending bank's public key, resolved kid -> registry -> key-set. The
// key lookup happens inside the parser's keyfunc so an unverified payload is
// never trusted.
func (s *Service) verifyAssertion(ctx context.Context, assertion string) (*domain.AssertionClaims, string, error) {
	var senderPrefix string

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{keys.SigningAlgorithm}),
		jwt.WithIssuedAt(),
	)
	claims := &domain.AssertionClaims{}
	token, err := parser.ParseWithClaims(assertion, claims, func(token *jwt.Token) (any, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, errors.New("assertion has no kid header")
		}
		senderPrefix = kid

		bank, err := s.verifyDestinationBank(ctx, kid)
		if err != nil {
			return nil, err
		}
		publicKey, err := s.keyResolver.ResolvePublicKey(ctx, bank.KeySetURL, kid)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve signing key for bank %s: %w", kid, err)
		}
		return publicKey, nil
	})
	if err != nil {
		// Registry outages surface as-is so the peer can retry; everything
		// else collapses into one rejection error that leaks no detail.
		if errors.Is(err, ErrUnknownBank) {
			return nil, "", ErrUnknownBank
		}
		if errors.Is(err, ErrInvalidAssertion) {
			return nil, "", err
		}
		if isInfrastructureError(err) {
			return nil, "", err
		}
		log.Printf("level=warn component=service msg=\"rejected inbound assertion\" err=%v", err)
		return nil, "", ErrInvalidAssertion
	}
	if !token.Valid {
		return nil, "", ErrInvalidAssertion
	}

	if claims.Issuer != senderPrefix {
		log.Printf("level=warn component=service msg=\"assertion issuer does not match signing bank\" iss=%s kid=%s", claims.Issuer, senderPrefix)
		return nil, "", ErrInvalidAssertion
	}
	if claims.Amount <= 0 {
		return nil, "", fmt.Errorf("%w: amount must be positive", ErrInvalidAssertion)
	}
	if claims.DestinationAccount == "" || claims.SourceAccount == "" {
		return nil, "", fmt.Errorf("%w: account numbers are required", ErrInvalidAssertion)
	}
	if domain.BankPrefix(claims.DestinationAccount) != s.identity.BankPrefix {
		return nil, "", fmt.Errorf("%w: destination account belongs to another bank", ErrInvalidAssertion)
	}
	return claims, senderPrefix, nil
}

func (s *Service) inboundResult(destination *domain.Account, status string) *domain.InboundResult {
	return &domain.InboundResult{
		ReceiverName: destination.OwnerName,
		Message:      fmt.Sprintf("transfer %s by %s", status, s.identity.BankName),
	}
}
