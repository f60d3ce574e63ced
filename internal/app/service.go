/**
 * @description
 * This file contains the core business logic for the bank-node. The `Service`
 * struct orchestrates all money movement: it decides whether a transfer stays
 * inside this bank's ledger or must cross the trust boundary to a peer bank,
 * and it owns account provisioning and history queries.
 *
 * Key features:
 * - Routes transfers by comparing the destination account number's bank
 *   prefix against this bank's own prefix.
 * - All collaborators are injected at construction; there is no global state
 *   and no runtime strategy switching.
 * - Publishes terminal transaction events to RabbitMQ for asynchronous
 *   consumers; publishing failures never affect a transfer's outcome.
 *
 * @dependencies
 * - context, errors, fmt, log, strconv, strings: Standard Go libraries.
 * - github.com/google/uuid: For identifier generation.
 * - internal/domain, internal/store: For domain models and ledger access.
 * - pkg/rabbitmq: For lifecycle event publication.
 */

package app

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/crestbank/bank-node/internal/domain"
	"github.com/crestbank/bank-node/internal/metrics"
	"github.com/crestbank/bank-node/internal/store"
	"github.com/crestbank/bank-node/pkg/rabbitmq"
	"github.com/crestbank/bank-node/pkg/registryclient"
)

const (
	// MaxDescriptionLength bounds the free-text description on transfers.
	MaxDescriptionLength = 140

	eventsExchange = "bank.events"

	metricsDirectionLocal    = "local"
	metricsDirectionOutbound = "outbound"
	metricsDirectionInbound  = "inbound"
	metricsOutcomeCompleted  = "completed"
	metricsOutcomeFailed     = "failed"
	metricsOutcomeRejected   = "rejected"
)

var (
	ErrInvalidAmount      = errors.New("transfer amount must be positive")
	ErrInvalidDescription = errors.New("description exceeds the allowed length")
	ErrInvalidDestination = errors.New("destination account number is malformed")
	ErrInvalidCurrency    = errors.New("currency must be a 3-letter ISO 4217 code")
	ErrCurrencyMismatch   = errors.New("source and destination currencies differ")
	ErrSameAccount        = errors.New("source and destination are the same account")
	ErrNotAccountOwner    = errors.New("caller does not own this account")
	ErrUnknownBank        = errors.New("destination bank is unknown or inactive")
	ErrInvalidAssertion   = errors.New("assertion could not be verified")
)

// RegistryVerifier resolves a bank prefix through the central registry.
type RegistryVerifier interface {
	Verify(ctx context.Context, prefix string) (*domain.Bank, error)
}

// AssertionDeliverer delivers a signed assertion to a peer bank's endpoint
// and returns the receiving account holder's display name.
type AssertionDeliverer interface {
	Deliver(ctx context.Context, endpoint, assertion string) (string, error)
}

// RateConverter converts integer minor-unit amounts between currencies.
type RateConverter interface {
	Convert(ctx context.Context, amount int64, from, to string) (int64, error)
}

// AssertionSigner signs outbound transfer assertions under this bank's key
// identifier.
type AssertionSigner interface {
	Sign(claims jwt.Claims) (string, error)
	Kid() string
}

// PublicKeyResolver fetches a peer bank's key-set and returns the public key
// matching a key identifier.
type PublicKeyResolver interface {
	ResolvePublicKey(ctx context.Context, keySetURL, kid string) (*rsa.PublicKey, error)
}

// Identity carries this bank's registry identity and account policy.
type Identity struct {
	BankName        string
	BankPrefix      string
	DefaultCurrency string
	SeedBalance     int64 // in minor units; applied only to default-currency accounts
}

// Service provides the core business logic for the bank-node.
type Service struct {
	repo        store.Repository
	registry    RegistryVerifier
	peers       AssertionDeliverer
	rates       RateConverter
	signer      AssertionSigner
	keyResolver PublicKeyResolver
	producer    rabbitmq.Publisher
	collector   *metrics.Collector
	identity    Identity
}

// NewService creates a new bank-node service instance. producer and collector
// may be nil; both degrade to no-ops.
func NewService(
	repo store.Repository,
	registry RegistryVerifier,
	peers AssertionDeliverer,
	rates RateConverter,
	signer AssertionSigner,
	keyResolver PublicKeyResolver,
	producer rabbitmq.Publisher,
	collector *metrics.Collector,
	identity Identity,
) *Service {
	return &Service{
		repo:        repo,
		registry:    registry,
		peers:       peers,
		rates:       rates,
		signer:      signer,
		keyResolver: keyResolver,
		producer:    producer,
		collector:   collector,
		identity:    identity,
	}
}

// CreateAccount provisions a new account for a user. The seed balance policy
// applies only to accounts in the bank's own default currency; every other
// currency starts at zero.
func (s *Service) CreateAccount(ctx context.Context, ownerID string, req domain.CreateAccountRequest) (*domain.Account, error) {
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.identity.DefaultCurrency
	}
	if !isCurrencyCode(currency) {
		return nil, ErrInvalidCurrency
	}
	if strings.TrimSpace(req.OwnerName) == "" {
		return nil, errors.New("owner name is required")
	}

	var balance int64
	if currency == s.identity.DefaultCurrency {
		balance = s.identity.SeedBalance
	}

	account := &domain.Account{
		ID:        uuid.New(),
		Number:    s.generateAccountNumber(),
		OwnerID:   ownerID,
		OwnerName: strings.TrimSpace(req.OwnerName),
		Currency:  currency,
		Balance:   balance,
	}
	err := s.repo.CreateAccount(ctx, account)
	if errors.Is(err, store.ErrDuplicateAccount) {
		// Number collision; one regeneration attempt before giving up.
		account.Number = s.generateAccountNumber()
		err = s.repo.CreateAccount(ctx, account)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	log.Printf("level=info component=service op=create_account account=%s currency=%s seed_balance=%d", account.Number, account.Currency, account.Balance)
	return account, nil
}

// ListAccounts returns all accounts owned by a user.
func (s *Service) ListAccounts(ctx context.Context, ownerID string) ([]domain.Account, error) {
	return s.repo.FindAccountsByOwner(ctx, ownerID)
}

// GetTransaction returns a transaction by identifier, restricted to
// transactions touching one of the caller's accounts.
func (s *Service) GetTransaction(ctx context.Context, callerID string, transactionID uuid.UUID) (*domain.Transaction, error) {
	txRecord, err := s.repo.FindTransactionByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	owns, err := s.callerTouchesTransaction(ctx, callerID, txRecord)
	if err != nil {
		return nil, err
	}
	if !owns {
		return nil, store.ErrTransactionNotFound
	}
	return txRecord, nil
}

func (s *Service) callerTouchesTransaction(ctx context.Context, callerID string, txRecord *domain.Transaction) (bool, error) {
	for _, party := range []domain.Party{txRecord.Source, txRecord.Destination} {
		if !party.IsLocal() {
			continue
		}
		account, err := s.repo.FindAccountByID(ctx, *party.AccountID)
		if err != nil {
			if errors.Is(err, store.ErrAccountNotFound) {
				continue
			}
			return false, err
		}
		if account.OwnerID == callerID {
			return true, nil
		}
	}
	return false, nil
}

// ListTransactions returns the caller's transaction history, newest first.
func (s *Service) ListTransactions(ctx context.Context, ownerID string) ([]domain.Transaction, error) {
	return s.repo.FindTransactionsByOwner(ctx, ownerID)
}

// ConvertAccount swaps an account's currency, converting the balance at the
// current spot rate. Currency and balance change together atomically.
func (s *Service) ConvertAccount(ctx context.Context, callerID string, accountID uuid.UUID, req domain.ConvertAccountRequest) (*domain.Account, error) {
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if !isCurrencyCode(currency) {
		return nil, ErrInvalidCurrency
	}

	account, err := s.repo.FindAccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.OwnerID != callerID {
		return nil, ErrNotAccountOwner
	}
	if account.Currency == currency {
		return account, nil
	}

	converted, err := s.rates.Convert(ctx, account.Balance, account.Currency, currency)
	if err != nil {
		return nil, fmt.Errorf("failed to convert balance: %w", err)
	}
	if err := s.repo.ConvertAccountCurrency(ctx, account.ID, currency, converted); err != nil {
		return nil, err
	}

	log.Printf("level=info component=service op=convert_account account=%s from=%s to=%s balance_before=%d balance_after=%d",
		account.Number, account.Currency, currency, account.Balance, converted)
	account.Currency = currency
	account.Balance = converted
	return account, nil
}

// Transfer is the single entry point for caller-initiated transfers. The
// destination's bank prefix decides whether the transfer stays local or
// leaves through the outbound B2B gateway.
func (s *Service) Transfer(ctx context.Context, callerID string, req domain.TransferRequest) (*domain.Transaction, error) {
	amount, err := resolveAmount(req)
	if err != nil {
		return nil, err
	}
	if len(req.Description) > MaxDescriptionLength {
		return nil, ErrInvalidDescription
	}

	source, err := s.repo.FindAccountByID(ctx, req.SourceAccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to find source account: %w", err)
	}
	if source.OwnerID != callerID {
		return nil, ErrNotAccountOwner
	}

	// The local leg is always denominated in the source account's currency.
	if req.Currency != "" && !strings.EqualFold(req.Currency, source.Currency) {
		return nil, ErrCurrencyMismatch
	}

	prefix := domain.BankPrefix(req.DestinationNumber)
	if prefix == "" {
		return nil, ErrInvalidDestination
	}

	if prefix == s.identity.BankPrefix {
		return s.processLocalTransfer(ctx, source, req.DestinationNumber, amount, req.Description)
	}
	return s.processOutboundTransfer(ctx, source, req.DestinationNumber, prefix, amount, req.Description)
}

// resolveAmount picks the decimal form when present, otherwise the integer
// minor-unit amount. Decimal parsing is exact; no floating point.
func resolveAmount(req domain.TransferRequest) (int64, error) {
	if strings.TrimSpace(req.AmountDecimal) != "" {
		amount, err := parseDecimalAmount(req.AmountDecimal)
		if err != nil {
			return 0, err
		}
		return amount, nil
	}
	if req.Amount <= 0 {
		return 0, ErrInvalidAmount
	}
	return req.Amount, nil
}

// parseDecimalAmount converts a fixed-precision decimal string ("12.34",
// "50") to minor units. At most two fraction digits are accepted.
func parseDecimalAmount(raw string) (int64, error) {
	trimmed := strings.TrimSpace(raw)
	whole, frac, hasFrac := strings.Cut(trimmed, ".")
	if whole == "" || strings.HasPrefix(whole, "-") {
		return 0, ErrInvalidAmount
	}

	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}

	var cents int64
	if hasFrac {
		if len(frac) == 0 || len(frac) > 2 {
			return 0, ErrInvalidAmount
		}
		cents, err = strconv.ParseInt(frac, 10, 64)
		if err != nil || cents < 0 {
			return 0, ErrInvalidAmount
		}
		if len(frac) == 1 {
			cents *= 10
		}
	}

	// units*100 can wrap past int64 and land positive again; the post-hoc
	// sign check alone does not catch that.
	if units > math.MaxInt64/100 || (units == math.MaxInt64/100 && cents > math.MaxInt64%100) {
		return 0, ErrInvalidAmount
	}
	amount := units*100 + cents
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	return amount, nil
}

func (s *Service) generateAccountNumber() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")
	return s.identity.BankPrefix + suffix[:20]
}

func isCurrencyCode(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// finalizeTimeout bounds the detached ledger writes that settle a transfer
// after its originating request is gone.
const finalizeTimeout = 10 * time.Second

// detachedContext derives a context that survives cancellation of the
// request that started the transfer. Compensation and terminal status writes
// must land even when the caller disconnected or the request timed out
// mid-delivery; running them on the request context would strand the
// transaction in a non-terminal state with the debit applied.
func detachedContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
}

func (s *Service) markFailed(ctx context.Context, txRecord *domain.Transaction, reason string) {
	ctx, cancel := detachedContext(ctx)
	defer cancel()
	if err := s.repo.MarkTransactionFailed(ctx, txRecord.ID, reason); err != nil {
		log.Printf("level=error component=service msg=\"failed to record transaction failure\" transaction_id=%s err=%v", txRecord.ID, err)
		return
	}
	txRecord.Status = domain.StatusFailed
	txRecord.FailureReason = &reason
}

func (s *Service) publishTerminalEvent(ctx context.Context, txRecord *domain.Transaction) {
	if s.producer == nil {
		return
	}
	ctx, cancel := detachedContext(ctx)
	defer cancel()
	event := rabbitmq.TransactionEvent{
		TransactionID: txRecord.ID,
		Type:          txRecord.Type,
		Status:        txRecord.Status,
		Amount:        txRecord.Amount,
		Currency:      txRecord.Currency,
		Timestamp:     time.Now().UTC(),
	}
	if txRecord.FailureReason != nil {
		event.FailureReason = *txRecord.FailureReason
	}
	routingKey := "transaction." + txRecord.Status
	if err := s.producer.Publish(ctx, eventsExchange, routingKey, event); err != nil {
		log.Printf("level=warn component=service msg=\"failed to publish transaction event\" transaction_id=%s routing_key=%s err=%v", txRecord.ID, routingKey, err)
	}
}

// verifyDestinationBank resolves and gates the destination bank before any
// ledger mutation.
func (s *Service) verifyDestinationBank(ctx context.Context, prefix string) (*domain.Bank, error) {
	bank, err := s.registry.Verify(ctx, prefix)
	if err != nil {
		if errors.Is(err, registryclient.ErrBankNotFound) {
			return nil, ErrUnknownBank
		}
		return nil, err
	}
	if !bank.IsActive {
		return nil, ErrUnknownBank
	}
	return bank, nil
}
