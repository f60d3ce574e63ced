package app

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"math"
	"sort"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/crestbank/bank-node/internal/domain"
	"github.com/crestbank/bank-node/internal/keys"
	"github.com/crestbank/bank-node/internal/store"
	"github.com/crestbank/bank-node/pkg/registryclient"
)

// memRepo is an in-memory Repository with the same atomicity semantics as
// the postgres implementation: money movement and the matching status write
// either both apply or neither does.
type memRepo struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*domain.Account
	byNumber map[string]uuid.UUID
	txs      map[uuid.UUID]*domain.Transaction

	// failure injection
	commitInboundErr error
	markCompletedErr error
}

func newMemRepo() *memRepo {
	return &memRepo{
		accounts: make(map[uuid.UUID]*domain.Account),
		byNumber: make(map[string]uuid.UUID),
		txs:      make(map[uuid.UUID]*domain.Transaction),
	}
}

func (m *memRepo) CreateAccount(_ context.Context, account *domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byNumber[account.Number]; exists {
		return store.ErrDuplicateAccount
	}
	copied := *account
	m.accounts[account.ID] = &copied
	m.byNumber[account.Number] = account.ID
	return nil
}

func (m *memRepo) FindAccountByID(_ context.Context, accountID uuid.UUID) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[accountID]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	copied := *account
	return &copied, nil
}

func (m *memRepo) FindAccountByNumber(_ context.Context, number string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byNumber[number]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	copied := *m.accounts[id]
	return &copied, nil
}

func (m *memRepo) FindAccountsByOwner(_ context.Context, ownerID string) ([]domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Account
	for _, account := range m.accounts {
		if account.OwnerID == ownerID {
			out = append(out, *account)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (m *memRepo) ConvertAccountCurrency(_ context.Context, accountID uuid.UUID, currency string, balance int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[accountID]
	if !ok {
		return store.ErrAccountNotFound
	}
	account.Currency = currency
	account.Balance = balance
	return nil
}

func (m *memRepo) CreateTransaction(_ context.Context, txRecord *domain.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.txs[txRecord.ID]; exists {
		return store.ErrDuplicateTransaction
	}
	copied := *txRecord
	m.txs[txRecord.ID] = &copied
	return nil
}

func (m *memRepo) FindTransactionByID(_ context.Context, transactionID uuid.UUID) (*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	txRecord, ok := m.txs[transactionID]
	if !ok {
		return nil, store.ErrTransactionNotFound
	}
	copied := *txRecord
	return &copied, nil
}

func (m *memRepo) FindTransactionsByOwner(_ context.Context, ownerID string) ([]domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	owned := make(map[uuid.UUID]bool)
	for id, account := range m.accounts {
		if account.OwnerID == ownerID {
			owned[id] = true
		}
	}
	var out []domain.Transaction
	for _, txRecord := range m.txs {
		for _, party := range []domain.Party{txRecord.Source, txRecord.Destination} {
			if party.IsLocal() && owned[*party.AccountID] {
				out = append(out, *txRecord)
				break
			}
		}
	}
	return out, nil
}

func (m *memRepo) MarkTransactionFailed(ctx context.Context, transactionID uuid.UUID, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	txRecord, ok := m.txs[transactionID]
	if !ok {
		return store.ErrTransactionNotFound
	}
	if domain.IsTerminal(txRecord.Status) {
		return store.ErrTransactionFinalized
	}
	txRecord.Status = domain.StatusFailed
	txRecord.FailureReason = &reason
	return nil
}

func (m *memRepo) MarkTransactionCompleted(ctx context.Context, transactionID uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.markCompletedErr != nil {
		return m.markCompletedErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	txRecord, ok := m.txs[transactionID]
	if !ok {
		return store.ErrTransactionNotFound
	}
	if domain.IsTerminal(txRecord.Status) {
		return store.ErrTransactionFinalized
	}
	txRecord.Status = domain.StatusCompleted
	return nil
}

func (m *memRepo) CommitLocalTransfer(_ context.Context, transactionID, sourceID, destinationID uuid.UUID, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	source := m.accounts[sourceID]
	destination := m.accounts[destinationID]
	if source == nil || destination == nil {
		return store.ErrAccountNotFound
	}
	if source.Balance < amount {
		return store.ErrInsufficientFunds
	}
	source.Balance -= amount
	destination.Balance += amount
	m.txs[transactionID].Status = domain.StatusCompleted
	return nil
}

func (m *memRepo) DebitForOutbound(_ context.Context, transactionID, sourceID uuid.UUID, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	source := m.accounts[sourceID]
	if source == nil {
		return store.ErrAccountNotFound
	}
	if source.Balance < amount {
		return store.ErrInsufficientFunds
	}
	source.Balance -= amount
	m.txs[transactionID].Status = domain.StatusInProgress
	return nil
}

func (m *memRepo) CompensateOutbound(ctx context.Context, transactionID, sourceID uuid.UUID, amount int64, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	source := m.accounts[sourceID]
	if source == nil {
		return store.ErrAccountNotFound
	}
	source.Balance += amount
	txRecord := m.txs[transactionID]
	txRecord.Status = domain.StatusFailed
	txRecord.FailureReason = &reason
	return nil
}

func (m *memRepo) CommitInboundCredit(ctx context.Context, transactionID, destinationID uuid.UUID, amount int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.commitInboundErr != nil {
		return m.commitInboundErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	destination := m.accounts[destinationID]
	if destination == nil {
		return store.ErrAccountNotFound
	}
	destination.Balance += amount
	m.txs[transactionID].Status = domain.StatusCompleted
	return nil
}

func (m *memRepo) balance(t *testing.T, accountID uuid.UUID) int64 {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[accountID]
	if !ok {
		t.Fatalf("account %s not found", accountID)
	}
	return account.Balance
}

type stubRegistry struct {
	banks map[string]*domain.Bank
	err   error
	calls int
}

func (s *stubRegistry) Verify(_ context.Context, prefix string) (*domain.Bank, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	bank, ok := s.banks[prefix]
	if !ok {
		return nil, registryclient.ErrBankNotFound
	}
	return bank, nil
}

type stubDeliverer struct {
	receiver  string
	err       error
	endpoint  string
	assertion string
	calls     int
}

func (s *stubDeliverer) Deliver(_ context.Context, endpoint, assertion string) (string, error) {
	s.calls++
	s.endpoint = endpoint
	s.assertion = assertion
	if s.err != nil {
		return "", s.err
	}
	return s.receiver, nil
}

// stubRates converts with a fixed rate in basis points over 10000, e.g.
// 9300 means 1 unit of `from` buys 0.93 units of `to`.
type stubRates struct {
	rateBps int64
	err     error
	calls   int
}

func (s *stubRates) Convert(_ context.Context, amount int64, from, to string) (int64, error) {
	s.calls++
	if s.err != nil {
		return 0, s.err
	}
	if from == to {
		return amount, nil
	}
	return amount * s.rateBps / 10000, nil
}

// stubResolver hands out public keys from in-memory key-sets, keyed by kid,
// ignoring the key-set URL.
type stubResolver struct {
	sets map[string]keys.JSONWebKeySet
}

func (s *stubResolver) ResolvePublicKey(_ context.Context, _ string, kid string) (*rsa.PublicKey, error) {
	set, ok := s.sets[kid]
	if !ok {
		return nil, keys.ErrKeyNotFound
	}
	return set.PublicKey(kid)
}

type testHarness struct {
	service  *Service
	repo     *memRepo
	registry *stubRegistry
	peers    *stubDeliverer
	rates    *stubRates
	resolver *stubResolver
	signer   *keys.Manager
}

const (
	testBankPrefix  = "100"
	testPeerPrefix  = "200"
	testSeedBalance = int64(100000)
)

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	signer := keys.NewManager(testBankPrefix, privateKey)

	h := &testHarness{
		repo: newMemRepo(),
		registry: &stubRegistry{banks: map[string]*domain.Bank{
			testPeerPrefix: {
				Name:                "Harbor Bank",
				Prefix:              testPeerPrefix,
				TransactionEndpoint: "https://harbor.example/api/b2b/transactions",
				KeySetURL:           "https://harbor.example/jwks.json",
				IsActive:            true,
			},
		}},
		peers:    &stubDeliverer{receiver: "Remote Receiver"},
		rates:    &stubRates{rateBps: 10000},
		resolver: &stubResolver{sets: map[string]keys.JSONWebKeySet{}},
		signer:   signer,
	}
	h.service = NewService(h.repo, h.registry, h.peers, h.rates, signer, h.resolver, nil, nil, Identity{
		BankName:        "Crest Bank",
		BankPrefix:      testBankPrefix,
		DefaultCurrency: "USD",
		SeedBalance:     testSeedBalance,
	})
	return h
}

func (h *testHarness) addAccount(t *testing.T, ownerID, number, currency string, balance int64) *domain.Account {
	t.Helper()
	account := &domain.Account{
		ID:        uuid.New(),
		Number:    number,
		OwnerID:   ownerID,
		OwnerName: "Owner " + ownerID,
		Currency:  currency,
		Balance:   balance,
	}
	if err := h.repo.CreateAccount(context.Background(), account); err != nil {
		t.Fatalf("failed to seed account: %v", err)
	}
	return account
}

func TestCreateAccountSeedBalance(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	tests := []struct {
		name        string
		currency    string
		wantBalance int64
	}{
		{name: "default currency gets seed balance", currency: "USD", wantBalance: testSeedBalance},
		{name: "empty currency defaults and gets seed balance", currency: "", wantBalance: testSeedBalance},
		{name: "foreign currency starts empty", currency: "EUR", wantBalance: 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			account, err := h.service.CreateAccount(ctx, "user-1", domain.CreateAccountRequest{OwnerName: "Ada Lovelace", Currency: tc.currency})
			if err != nil {
				t.Fatalf("CreateAccount failed: %v", err)
			}
			if account.Balance != tc.wantBalance {
				t.Errorf("balance = %d, want %d", account.Balance, tc.wantBalance)
			}
			if got := domain.BankPrefix(account.Number); got != testBankPrefix {
				t.Errorf("account number prefix = %q, want %q", got, testBankPrefix)
			}
		})
	}
}

func TestCreateAccountRejectsBadCurrency(t *testing.T) {
	h := newTestHarness(t)
	_, err := h.service.CreateAccount(context.Background(), "user-1", domain.CreateAccountRequest{OwnerName: "Ada", Currency: "dollars"})
	if !errors.Is(err, ErrInvalidCurrency) {
		t.Fatalf("err = %v, want ErrInvalidCurrency", err)
	}
}

func TestConvertAccount(t *testing.T) {
	h := newTestHarness(t)
	h.rates.rateBps = 9300 // 1 USD -> 0.93 EUR
	account := h.addAccount(t, "user-1", "100aaaa", "USD", 10000)

	converted, err := h.service.ConvertAccount(context.Background(), "user-1", account.ID, domain.ConvertAccountRequest{Currency: "EUR"})
	if err != nil {
		t.Fatalf("ConvertAccount failed: %v", err)
	}
	if converted.Currency != "EUR" || converted.Balance != 9300 {
		t.Errorf("converted = %s %d, want EUR 9300", converted.Currency, converted.Balance)
	}
	if h.repo.balance(t, account.ID) != 9300 {
		t.Errorf("stored balance = %d, want 9300", h.repo.balance(t, account.ID))
	}
}

func TestConvertAccountRequiresOwnership(t *testing.T) {
	h := newTestHarness(t)
	account := h.addAccount(t, "user-1", "100aaaa", "USD", 10000)

	_, err := h.service.ConvertAccount(context.Background(), "user-2", account.ID, domain.ConvertAccountRequest{Currency: "EUR"})
	if !errors.Is(err, ErrNotAccountOwner) {
		t.Fatalf("err = %v, want ErrNotAccountOwner", err)
	}
	if h.rates.calls != 0 {
		t.Errorf("rates called %d times for rejected conversion", h.rates.calls)
	}
}

func TestParseDecimalAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "12.34", want: 1234},
		{in: "50", want: 5000},
		{in: "0.5", want: 50},
		{in: "0.05", want: 5},
		{in: "1000000.00", want: 100000000},
		{in: "0", wantErr: true},
		{in: "0.00", wantErr: true},
		{in: "-5.00", wantErr: true},
		{in: "12.345", wantErr: true},
		{in: "12.", wantErr: true},
		{in: ".50", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "12,34", wantErr: true},
		{in: "92233720368547758.07", want: math.MaxInt64},
		{in: "92233720368547758.08", wantErr: true},
		{in: "92233720368547759", wantErr: true},
		{in: "184467440737095517.00", wantErr: true},
		{in: "9223372036854775807", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := parseDecimalAmount(tc.in)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidAmount) {
					t.Fatalf("err = %v, want ErrInvalidAmount", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseDecimalAmount(%q) failed: %v", tc.in, err)
			}
			if got != tc.want {
				t.Errorf("parseDecimalAmount(%q) = %d, want %d", tc.in, got, tc.want)
			}
		})
	}
}

func TestGetTransactionHidesOthersRecords(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	source := h.addAccount(t, "user-1", "100aaaa", "USD", 10000)
	h.addAccount(t, "user-2", "100bbbb", "USD", 0)

	txRecord, err := h.service.Transfer(ctx, "user-1", domain.TransferRequest{
		SourceAccountID:   source.ID,
		DestinationNumber: "100bbbb",
		Amount:            500,
	})
	if err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}

	if _, err := h.service.GetTransaction(ctx, "user-1", txRecord.ID); err != nil {
		t.Errorf("source owner should see the transaction: %v", err)
	}
	if _, err := h.service.GetTransaction(ctx, "user-2", txRecord.ID); err != nil {
		t.Errorf("destination owner should see the transaction: %v", err)
	}
	if _, err := h.service.GetTransaction(ctx, "user-3", txRecord.ID); !errors.Is(err, store.ErrTransactionNotFound) {
		t.Errorf("stranger lookup err = %v, want ErrTransactionNotFound", err)
	}
}
