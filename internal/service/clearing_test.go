package service

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"ledgerhub/internal/ledger"
	"ledgerhub/internal/model"
	"ledgerhub/internal/repository"
	"ledgerhub/internal/store/doubleentry"
	"ledgerhub/pkg/money"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransferStore reproduces the repository's guarded-update semantics in
// memory. afterCreate, when set, runs after a successful insert so tests can
// interleave a concurrent actor at that exact point.
type fakeTransferStore struct {
	mu          sync.Mutex
	transfers   map[string]*model.Transfer
	afterCreate func(transferID string)
}

func newFakeTransferStore() *fakeTransferStore {
	return &fakeTransferStore{transfers: make(map[string]*model.Transfer)}
}

func (s *fakeTransferStore) Create(ctx context.Context, transfer *model.Transfer) error {
	s.mu.Lock()
	if _, ok := s.transfers[transfer.TransferID]; ok {
		s.mu.Unlock()
		return repository.ErrDuplicateRecord
	}
	copied := *transfer
	s.transfers[transfer.TransferID] = &copied
	s.mu.Unlock()

	if s.afterCreate != nil {
		s.afterCreate(transfer.TransferID)
	}
	return nil
}

func (s *fakeTransferStore) GetByTransferID(ctx context.Context, transferID string) (*model.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	transfer, ok := s.transfers[transferID]
	if !ok {
		return nil, nil
	}
	copied := *transfer
	return &copied, nil
}

func (s *fakeTransferStore) TransitionState(ctx context.Context, transferID, from, to string) (bool, error) {
	if !model.CanTransferTransition(from, to) {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	transfer, ok := s.transfers[transferID]
	if !ok || transfer.State != from {
		return false, nil
	}
	transfer.State = to
	return true, nil
}

func (s *fakeTransferStore) MarkCommitted(ctx context.Context, transferID, fulfilment string, completedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	transfer, ok := s.transfers[transferID]
	if !ok || transfer.State != model.TransferStateReserved {
		return false, nil
	}
	transfer.State = model.TransferStateCommitted
	transfer.Fulfilment = fulfilment
	transfer.CompletedAt = &completedAt
	return true, nil
}

func (s *fakeTransferStore) MarkTerminal(ctx context.Context, transferID, from, to, reason string, completedAt time.Time) (bool, error) {
	if !model.CanTransferTransition(from, to) {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	transfer, ok := s.transfers[transferID]
	if !ok || transfer.State != from {
		return false, nil
	}
	transfer.State = to
	transfer.ErrorReason = reason
	transfer.CompletedAt = &completedAt
	return true, nil
}

func (s *fakeTransferStore) RecordError(ctx context.Context, transferID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if transfer, ok := s.transfers[transferID]; ok {
		transfer.ErrorReason = reason
	}
	return nil
}

func (s *fakeTransferStore) FindExpired(ctx context.Context, now time.Time, limit int) ([]*model.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []*model.Transfer
	for _, transfer := range s.transfers {
		if len(expired) >= limit {
			break
		}
		if transfer.ExpiresAt.Before(now) &&
			(transfer.State == model.TransferStateReceived || transfer.State == model.TransferStateReserved) {
			copied := *transfer
			expired = append(expired, &copied)
		}
	}
	return expired, nil
}

// fakeParticipantStore holds participant and account metadata in memory.
type fakeParticipantStore struct {
	mu           sync.Mutex
	participants map[string]*model.Participant
	accounts     map[string]*model.Account
	nextID       int64
}

func newFakeParticipantStore() *fakeParticipantStore {
	return &fakeParticipantStore{
		participants: make(map[string]*model.Participant),
		accounts:     make(map[string]*model.Account),
	}
}

func accountKey(name, currency, accountType string) string {
	return name + "/" + currency + "/" + accountType
}

func (s *fakeParticipantStore) GetOrCreate(ctx context.Context, name string) (*model.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.participants[name]; ok {
		return p, nil
	}
	s.nextID++
	p := &model.Participant{ID: s.nextID, Name: name, IsActive: true}
	s.participants[name] = p
	return p, nil
}

func (s *fakeParticipantStore) GetByName(ctx context.Context, name string) (*model.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[name]
	if !ok {
		return nil, repository.ErrParticipantNotFound
	}
	return p, nil
}

func (s *fakeParticipantStore) SetActive(ctx context.Context, name string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[name]
	if !ok {
		return repository.ErrParticipantNotFound
	}
	p.IsActive = active
	return nil
}

func (s *fakeParticipantStore) CreateAccount(ctx context.Context, account *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var owner string
	for name, p := range s.participants {
		if p.ID == account.ParticipantID {
			owner = name
		}
	}
	key := accountKey(owner, account.Currency, account.Type)
	if _, ok := s.accounts[key]; ok {
		return repository.ErrDuplicateRecord
	}
	s.nextID++
	account.ID = s.nextID
	s.accounts[key] = account
	return nil
}

func (s *fakeParticipantStore) GetAccount(ctx context.Context, name, currency, accountType string) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[accountKey(name, currency, accountType)]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}
	return account, nil
}

func (s *fakeParticipantStore) SetAccountActive(ctx context.Context, name, currency, accountType string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[accountKey(name, currency, accountType)]
	if !ok {
		return repository.ErrAccountNotFound
	}
	account.IsActive = active
	return nil
}

func (s *fakeParticipantStore) SetCapLimit(ctx context.Context, name, currency string, limit int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[accountKey(name, currency, model.AccountTypePosition)]
	if !ok {
		return 0, repository.ErrAccountNotFound
	}
	previous := account.CapLimit
	account.CapLimit = limit
	return previous, nil
}

// fakeOutbox collects staged notifications.
type fakeOutbox struct {
	mu       sync.Mutex
	messages []*model.OutboxMessage
}

func (o *fakeOutbox) Create(ctx context.Context, msg *model.OutboxMessage) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages = append(o.messages, msg)
	return nil
}

func (o *fakeOutbox) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.messages)
}

// clearingFixture runs the clearing engine against the accounting-engine
// backend so the tests cover the full reserve/post/void path.
type clearingFixture struct {
	engine       *ClearingEngine
	transfers    *fakeTransferStore
	participants *fakeParticipantStore
	accounts     *doubleentry.AccountStore
	outbox       *fakeOutbox
	now          time.Time
	ctx          context.Context
}

func newClearingFixture(t *testing.T) *clearingFixture {
	t.Helper()

	mem := doubleentry.NewMemEngine()
	batcher := doubleentry.NewBatcher(mem, 8, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	batcher.Start(ctx)
	t.Cleanup(func() {
		cancel()
		batcher.Wait()
	})

	accounts := doubleentry.NewAccountStore(mem, batcher, model.HubName,
		doubleentry.LedgerMap([]string{"USD"}), doubleentry.AccountCodes())

	f := &clearingFixture{
		transfers:    newFakeTransferStore(),
		participants: newFakeParticipantStore(),
		accounts:     accounts,
		outbox:       &fakeOutbox{},
		now:          time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		ctx:          ctx,
	}

	f.engine = NewClearingEngine(
		f.transfers,
		f.participants,
		accounts,
		NewDuplicateDetector(newFakeDuplicateStore()),
		NewDuplicateDetector(newFakeDuplicateStore()),
		f.outbox,
		money.Scales{"USD": 2},
		30*time.Second,
		100,
		"ledger-notification",
	)
	f.engine.now = func() time.Time { return f.now }

	f.addDfsp(t, "dfsp1", 100000)
	f.addDfsp(t, "dfsp2", 100000)
	return f
}

func (f *clearingFixture) addDfsp(t *testing.T, name string, capacity int64) {
	t.Helper()
	p, err := f.participants.GetOrCreate(f.ctx, name)
	require.NoError(t, err)
	err = f.participants.CreateAccount(f.ctx, &model.Account{
		ParticipantID: p.ID, Currency: "USD", Type: model.AccountTypePosition, IsActive: true,
	})
	require.NoError(t, err)

	ref := ledger.AccountRef{Participant: name, Currency: "USD", Type: model.AccountTypePosition}
	require.NoError(t, f.accounts.CreateAccount(f.ctx, ref, ledger.CreateAccountOpts{EnforceCap: true}))
	hubRecon := ledger.AccountRef{Participant: model.HubName, Currency: "USD", Type: model.AccountTypeHubReconciliation}
	require.NoError(t, f.accounts.CreateAccount(f.ctx, hubRecon, ledger.CreateAccountOpts{}))
	require.NoError(t, f.accounts.AdjustCapacity(f.ctx, ref, capacity, "grant:"+name))
}

func (f *clearingFixture) prepareRequest(amount string) ledger.PrepareRequest {
	preimage := make([]byte, 32)
	copy(preimage, "test-preimage")
	digest := sha256.Sum256(preimage)
	return ledger.PrepareRequest{
		TransferID: uuid.NewString(),
		PayerID:    "dfsp1",
		PayeeID:    "dfsp2",
		Currency:   "USD",
		Amount:     amount,
		Condition:  base64.RawURLEncoding.EncodeToString(digest[:]),
		ExpiresAt:  f.now.Add(30 * time.Second),
	}
}

func testFulfilment() string {
	preimage := make([]byte, 32)
	copy(preimage, "test-preimage")
	return base64.RawURLEncoding.EncodeToString(preimage)
}

func (f *clearingFixture) balance(t *testing.T, name string) ledger.Balance {
	t.Helper()
	b, err := f.accounts.Balance(f.ctx,
		ledger.AccountRef{Participant: name, Currency: "USD", Type: model.AccountTypePosition})
	require.NoError(t, err)
	return b
}

func TestPrepare(t *testing.T) {
	t.Run("pass reserves liquidity", func(t *testing.T) {
		f := newClearingFixture(t)
		req := f.prepareRequest("100.00")

		result := f.engine.Prepare(f.ctx, req)
		require.Equal(t, ledger.PreparePass, result.Outcome)
		assert.Equal(t, model.TransferStateReserved, result.State)

		balance := f.balance(t, "dfsp1")
		assert.Equal(t, int64(10000), balance.Reserved)
		assert.Equal(t, 1, f.outbox.count())
	})

	t.Run("identical retry reports duplicate without re-reserving", func(t *testing.T) {
		f := newClearingFixture(t)
		req := f.prepareRequest("100.00")

		first := f.engine.Prepare(f.ctx, req)
		require.Equal(t, ledger.PreparePass, first.Outcome)

		second := f.engine.Prepare(f.ctx, req)
		assert.Equal(t, ledger.PrepareDuplicateNonFinal, second.Outcome)
		assert.Equal(t, model.TransferStateReserved, second.State)

		balance := f.balance(t, "dfsp1")
		assert.Equal(t, int64(10000), balance.Reserved, "retry must not double-reserve")
	})

	t.Run("same id different body is a conflict", func(t *testing.T) {
		f := newClearingFixture(t)
		req := f.prepareRequest("100.00")

		first := f.engine.Prepare(f.ctx, req)
		require.Equal(t, ledger.PreparePass, first.Outcome)

		req.Amount = "999.00"
		second := f.engine.Prepare(f.ctx, req)
		assert.Equal(t, ledger.PrepareModified, second.Outcome)
		assert.Equal(t, ledger.KindDuplicateConflict, ledger.KindOf(second.Err))
	})

	t.Run("insufficient liquidity aborts the transfer", func(t *testing.T) {
		f := newClearingFixture(t)
		req := f.prepareRequest("2000.00") // capacity is 1000.00

		result := f.engine.Prepare(f.ctx, req)
		assert.Equal(t, ledger.PrepareFailLiquidity, result.Outcome)
		assert.Equal(t, model.TransferStateAborted, result.State)

		stored, err := f.transfers.GetByTransferID(f.ctx, req.TransferID)
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.Equal(t, model.TransferStateAborted, stored.State)
		assert.Equal(t, int64(0), f.balance(t, "dfsp1").Reserved)
	})

	t.Run("validation failures are collected and final", func(t *testing.T) {
		f := newClearingFixture(t)
		req := f.prepareRequest("100.00")
		req.PayeeID = "nobody"
		req.ExpiresAt = f.now.Add(-time.Second)

		result := f.engine.Prepare(f.ctx, req)
		assert.Equal(t, ledger.PrepareFailValidation, result.Outcome)
		assert.GreaterOrEqual(t, len(result.Reasons), 2)

		stored, err := f.transfers.GetByTransferID(f.ctx, req.TransferID)
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.Equal(t, model.TransferStateAborted, stored.State)

		// A retry of the same rejected request sees the final state.
		retry := f.engine.Prepare(f.ctx, req)
		assert.Equal(t, ledger.PrepareDuplicateFinal, retry.Outcome)
	})

	t.Run("inactive payer position account rejected", func(t *testing.T) {
		f := newClearingFixture(t)
		require.NoError(t, f.participants.SetAccountActive(f.ctx, "dfsp1", "USD", model.AccountTypePosition, false))

		result := f.engine.Prepare(f.ctx, f.prepareRequest("10.00"))
		assert.Equal(t, ledger.PrepareFailValidation, result.Outcome)
	})

	t.Run("expiry racing the prepare releases the reservation", func(t *testing.T) {
		f := newClearingFixture(t)
		// The sweep expires the transfer right after its row is inserted, so
		// its own release runs before any reservation exists.
		f.transfers.afterCreate = func(transferID string) {
			ok, err := f.transfers.MarkTerminal(f.ctx, transferID,
				model.TransferStateReceived, model.TransferStateExpiredPrepared, "transfer expired", f.now)
			require.NoError(t, err)
			require.True(t, ok)
		}

		result := f.engine.Prepare(f.ctx, f.prepareRequest("5.00"))
		assert.Equal(t, ledger.PrepareFailOther, result.Outcome)
		assert.Equal(t, model.TransferStateExpiredPrepared, result.State)

		balance := f.balance(t, "dfsp1")
		assert.Equal(t, int64(0), balance.Reserved, "orphaned hold must be released")
		assert.Equal(t, int64(100000), balance.Settled)
	})
}

func TestFulfil(t *testing.T) {
	t.Run("commit moves funds payer to payee", func(t *testing.T) {
		f := newClearingFixture(t)
		req := f.prepareRequest("100.00")
		require.Equal(t, ledger.PreparePass, f.engine.Prepare(f.ctx, req).Outcome)

		result := f.engine.Fulfil(f.ctx, ledger.FulfilRequest{
			TransferID: req.TransferID,
			Fulfilment: testFulfilment(),
			Source:     "dfsp2",
		})
		require.Equal(t, ledger.FulfilPass, result.Outcome)
		assert.Equal(t, model.TransferStateCommitted, result.State)

		payer := f.balance(t, "dfsp1")
		payee := f.balance(t, "dfsp2")
		assert.Equal(t, int64(90000), payer.Settled)
		assert.Equal(t, int64(0), payer.Reserved)
		assert.Equal(t, int64(110000), payee.Settled)
	})

	t.Run("invalid fulfilment leaves the reservation", func(t *testing.T) {
		f := newClearingFixture(t)
		req := f.prepareRequest("100.00")
		require.Equal(t, ledger.PreparePass, f.engine.Prepare(f.ctx, req).Outcome)

		wrong := make([]byte, 32)
		result := f.engine.Fulfil(f.ctx, ledger.FulfilRequest{
			TransferID: req.TransferID,
			Fulfilment: base64.RawURLEncoding.EncodeToString(wrong),
			Source:     "dfsp2",
		})
		assert.Equal(t, ledger.FulfilFailValidation, result.Outcome)

		stored, _ := f.transfers.GetByTransferID(f.ctx, req.TransferID)
		assert.Equal(t, model.TransferStateReserved, stored.State)
		assert.Equal(t, int64(10000), f.balance(t, "dfsp1").Reserved)
	})

	t.Run("abort releases the reservation", func(t *testing.T) {
		f := newClearingFixture(t)
		req := f.prepareRequest("100.00")
		require.Equal(t, ledger.PreparePass, f.engine.Prepare(f.ctx, req).Outcome)

		result := f.engine.Fulfil(f.ctx, ledger.FulfilRequest{
			TransferID:  req.TransferID,
			Abort:       true,
			AbortReason: "payee cannot complete",
			Source:      "dfsp2",
		})
		require.Equal(t, ledger.FulfilPass, result.Outcome)
		assert.Equal(t, model.TransferStateAborted, result.State)

		payer := f.balance(t, "dfsp1")
		assert.Equal(t, int64(100000), payer.Settled)
		assert.Equal(t, int64(0), payer.Reserved)
	})

	t.Run("fulfil retry is acknowledged without reprocessing", func(t *testing.T) {
		f := newClearingFixture(t)
		req := f.prepareRequest("100.00")
		require.Equal(t, ledger.PreparePass, f.engine.Prepare(f.ctx, req).Outcome)

		fulfil := ledger.FulfilRequest{TransferID: req.TransferID, Fulfilment: testFulfilment(), Source: "dfsp2"}
		require.Equal(t, ledger.FulfilPass, f.engine.Fulfil(f.ctx, fulfil).Outcome)

		retry := f.engine.Fulfil(f.ctx, fulfil)
		assert.Equal(t, ledger.FulfilDuplicate, retry.Outcome)
		assert.Equal(t, model.TransferStateCommitted, retry.State)
		assert.Equal(t, int64(90000), f.balance(t, "dfsp1").Settled, "no double post")
	})

	t.Run("only the payee may commit", func(t *testing.T) {
		f := newClearingFixture(t)
		req := f.prepareRequest("100.00")
		require.Equal(t, ledger.PreparePass, f.engine.Prepare(f.ctx, req).Outcome)

		result := f.engine.Fulfil(f.ctx, ledger.FulfilRequest{
			TransferID: req.TransferID,
			Fulfilment: testFulfilment(),
			Source:     "dfsp1",
		})
		assert.Equal(t, ledger.FulfilFailValidation, result.Outcome)
	})

	t.Run("the payer may abort", func(t *testing.T) {
		f := newClearingFixture(t)
		req := f.prepareRequest("100.00")
		require.Equal(t, ledger.PreparePass, f.engine.Prepare(f.ctx, req).Outcome)

		result := f.engine.Fulfil(f.ctx, ledger.FulfilRequest{
			TransferID:  req.TransferID,
			Abort:       true,
			AbortReason: "payer recall",
			Source:      "dfsp1",
		})
		require.Equal(t, ledger.FulfilPass, result.Outcome)
		assert.Equal(t, model.TransferStateAborted, result.State)
		assert.Equal(t, int64(0), f.balance(t, "dfsp1").Reserved)
	})

	t.Run("a third party may not abort", func(t *testing.T) {
		f := newClearingFixture(t)
		req := f.prepareRequest("100.00")
		require.Equal(t, ledger.PreparePass, f.engine.Prepare(f.ctx, req).Outcome)

		result := f.engine.Fulfil(f.ctx, ledger.FulfilRequest{
			TransferID: req.TransferID,
			Abort:      true,
			Source:     "dfsp3",
		})
		assert.Equal(t, ledger.FulfilFailValidation, result.Outcome)
		assert.Equal(t, int64(10000), f.balance(t, "dfsp1").Reserved)
	})

	t.Run("unknown transfer", func(t *testing.T) {
		f := newClearingFixture(t)
		result := f.engine.Fulfil(f.ctx, ledger.FulfilRequest{
			TransferID: uuid.NewString(),
			Fulfilment: testFulfilment(),
			Source:     "dfsp2",
		})
		assert.Equal(t, ledger.FulfilFailValidation, result.Outcome)
	})
}

func TestSweepTimedOut(t *testing.T) {
	t.Run("expires reserved transfers and releases holds", func(t *testing.T) {
		f := newClearingFixture(t)
		req := f.prepareRequest("100.00")
		require.Equal(t, ledger.PreparePass, f.engine.Prepare(f.ctx, req).Outcome)

		f.now = f.now.Add(time.Minute)
		result := f.engine.SweepTimedOut(f.ctx)
		require.Nil(t, result.Err)
		require.Len(t, result.TimedOut, 1)
		assert.Equal(t, model.TransferStateExpiredReserved, result.TimedOut[0].State)

		payer := f.balance(t, "dfsp1")
		assert.Equal(t, int64(0), payer.Reserved)
		assert.Equal(t, int64(100000), payer.Settled)
	})

	t.Run("fulfil after expiry is rejected", func(t *testing.T) {
		f := newClearingFixture(t)
		req := f.prepareRequest("100.00")
		require.Equal(t, ledger.PreparePass, f.engine.Prepare(f.ctx, req).Outcome)

		f.now = f.now.Add(time.Minute)
		require.Len(t, f.engine.SweepTimedOut(f.ctx).TimedOut, 1)

		result := f.engine.Fulfil(f.ctx, ledger.FulfilRequest{
			TransferID: req.TransferID,
			Fulfilment: testFulfilment(),
			Source:     "dfsp2",
		})
		assert.Equal(t, ledger.FulfilFailOther, result.Outcome)
		assert.Equal(t, ledger.KindInvalidState, ledger.KindOf(result.Err))
	})

	t.Run("nothing expired is a no-op", func(t *testing.T) {
		f := newClearingFixture(t)
		req := f.prepareRequest("100.00")
		require.Equal(t, ledger.PreparePass, f.engine.Prepare(f.ctx, req).Outcome)

		result := f.engine.SweepTimedOut(f.ctx)
		require.Nil(t, result.Err)
		assert.Empty(t, result.TimedOut)
	})
}

func TestLookupTransfer(t *testing.T) {
	f := newClearingFixture(t)
	req := f.prepareRequest("42.50")
	require.Equal(t, ledger.PreparePass, f.engine.Prepare(f.ctx, req).Outcome)

	t.Run("non-final", func(t *testing.T) {
		result := f.engine.LookupTransfer(f.ctx, req.TransferID)
		require.Equal(t, ledger.LookupFoundNonFinal, result.Outcome)
		assert.Equal(t, "42.50", result.Transfer.Amount)
		assert.Equal(t, model.TransferStateReserved, result.Transfer.State)
	})

	t.Run("final after commit", func(t *testing.T) {
		fulfil := ledger.FulfilRequest{TransferID: req.TransferID, Fulfilment: testFulfilment(), Source: "dfsp2"}
		require.Equal(t, ledger.FulfilPass, f.engine.Fulfil(f.ctx, fulfil).Outcome)

		result := f.engine.LookupTransfer(f.ctx, req.TransferID)
		require.Equal(t, ledger.LookupFoundFinal, result.Outcome)
		assert.Equal(t, model.TransferStateCommitted, result.Transfer.State)
		assert.NotEmpty(t, result.Transfer.Fulfilment)
	})

	t.Run("not found", func(t *testing.T) {
		result := f.engine.LookupTransfer(f.ctx, uuid.NewString())
		assert.Equal(t, ledger.LookupNotFound, result.Outcome)
	})
}

func TestConcurrentPreparesRespectCapacity(t *testing.T) {
	f := newClearingFixture(t)
	// Capacity 1000.00; twenty concurrent 100.00 transfers, only ten can hold.
	const attempts = 20

	var wg sync.WaitGroup
	outcomes := make(chan ledger.PrepareOutcome, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes <- f.engine.Prepare(f.ctx, f.prepareRequest("100.00")).Outcome
		}()
	}
	wg.Wait()
	close(outcomes)

	passed := 0
	for outcome := range outcomes {
		switch outcome {
		case ledger.PreparePass:
			passed++
		case ledger.PrepareFailLiquidity:
		default:
			t.Fatalf("unexpected outcome %s", outcome)
		}
	}
	assert.Equal(t, 10, passed)
	assert.Equal(t, int64(100000), f.balance(t, "dfsp1").Reserved)
}
