package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"ledgerhub/internal/ledger"
	"ledgerhub/internal/model"
	"ledgerhub/internal/repository"
	"ledgerhub/pkg/money"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSettlementStore keeps settlement metadata in memory with the same
// guarded-update semantics as the relational repository.
type fakeSettlementStore struct {
	mu          sync.Mutex
	windows     map[int64]*model.SettlementWindow
	models      map[string]*model.SettlementModel
	settlements map[int64]*model.Settlement
	balances    map[int64][]model.SettlementBalance
	windowRefs  map[int64][]int64
	nextID      int64
}

func newFakeSettlementStore() *fakeSettlementStore {
	return &fakeSettlementStore{
		windows:     make(map[int64]*model.SettlementWindow),
		models:      make(map[string]*model.SettlementModel),
		settlements: make(map[int64]*model.Settlement),
		balances:    make(map[int64][]model.SettlementBalance),
		windowRefs:  make(map[int64][]int64),
	}
}

func (s *fakeSettlementStore) addWindow(state string, openedAt time.Time, closedAt *time.Time) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.windows[s.nextID] = &model.SettlementWindow{
		ID: s.nextID, State: state, OpenedAt: openedAt, ClosedAt: closedAt,
	}
	return s.nextID
}

func (s *fakeSettlementStore) addModel(name, currency string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models[name] = &model.SettlementModel{Name: name, Currency: currency}
}

func (s *fakeSettlementStore) windowState(id int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.windows[id].State
}

func (s *fakeSettlementStore) GetWindowsByIDs(ctx context.Context, ids []int64) ([]*model.SettlementWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.SettlementWindow
	for _, id := range ids {
		if w, ok := s.windows[id]; ok {
			copied := *w
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *fakeSettlementStore) ListWindows(ctx context.Context, state string, limit int) ([]*model.SettlementWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.SettlementWindow
	for _, w := range s.windows {
		if state != "" && w.State != state {
			continue
		}
		copied := *w
		out = append(out, &copied)
	}
	return out, nil
}

func (s *fakeSettlementStore) CloseWindow(ctx context.Context, id int64, reason string, now time.Time) (*model.SettlementWindow, *model.SettlementWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[id]
	if !ok {
		return nil, nil, repository.ErrWindowNotFound
	}
	if w.State != model.WindowStateOpen {
		return nil, nil, repository.ErrWindowNotOpen
	}
	w.State = model.WindowStateClosed
	w.Reason = reason
	w.ClosedAt = &now

	s.nextID++
	next := &model.SettlementWindow{ID: s.nextID, State: model.WindowStateOpen, OpenedAt: now}
	s.windows[next.ID] = next

	closed := *w
	opened := *next
	return &closed, &opened, nil
}

func (s *fakeSettlementStore) SetWindowsState(ctx context.Context, ids []int64, from, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if w, ok := s.windows[id]; ok && w.State == from {
			w.State = to
		}
	}
	return nil
}

func (s *fakeSettlementStore) GetModel(ctx context.Context, name string) (*model.SettlementModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.models[name]
	if !ok {
		return nil, repository.ErrModelNotFound
	}
	return m, nil
}

func (s *fakeSettlementStore) CreateSettlement(ctx context.Context, settlement *model.Settlement, windowIDs []int64, balances []model.SettlementBalance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range windowIDs {
		if w, ok := s.windows[id]; !ok || w.State != model.WindowStateClosed {
			return repository.ErrWindowNotOpen
		}
	}
	s.nextID++
	settlement.ID = s.nextID
	copied := *settlement
	s.settlements[settlement.ID] = &copied
	s.balances[settlement.ID] = append([]model.SettlementBalance(nil), balances...)
	s.windowRefs[settlement.ID] = append([]int64(nil), windowIDs...)
	for _, id := range windowIDs {
		s.windows[id].State = model.WindowStatePendingSettlement
	}
	return nil
}

func (s *fakeSettlementStore) GetSettlement(ctx context.Context, id int64) (*model.Settlement, []model.SettlementBalance, []int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	settlement, ok := s.settlements[id]
	if !ok {
		return nil, nil, nil, repository.ErrSettlementNotFound
	}
	copied := *settlement
	balances := append([]model.SettlementBalance(nil), s.balances[id]...)
	windows := append([]int64(nil), s.windowRefs[id]...)
	return &copied, balances, windows, nil
}

func (s *fakeSettlementStore) UpdateBalanceState(ctx context.Context, settlementID int64, participant, currency, from, to string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	balances := s.balances[settlementID]
	for i := range balances {
		b := &balances[i]
		if b.Participant == participant && b.Currency == currency && b.State == from {
			b.State = to
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeSettlementStore) UpdateSettlementState(ctx context.Context, id int64, from, to string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	settlement, ok := s.settlements[id]
	if !ok || settlement.State != from {
		return false, nil
	}
	settlement.State = to
	return true, nil
}

// fakeActivity serves a fixed per-window activity table.
type fakeActivity struct {
	payers []repository.ParticipantActivity
	payees []repository.ParticipantActivity
}

func (a *fakeActivity) SumCommittedByPayer(ctx context.Context, currency string, from, to time.Time) ([]repository.ParticipantActivity, error) {
	return a.payers, nil
}

func (a *fakeActivity) SumCommittedByPayee(ctx context.Context, currency string, from, to time.Time) ([]repository.ParticipantActivity, error) {
	return a.payees, nil
}

// settleCall records one immediate fund movement.
type settleCall struct {
	Reference string
	Debit     ledger.AccountRef
	Credit    ledger.AccountRef
	Amount    int64
}

// recordingAccounts captures settlement postings; only Settle matters here.
type recordingAccounts struct {
	mu      sync.Mutex
	settles []settleCall
}

func (r *recordingAccounts) CreateAccount(ctx context.Context, ref ledger.AccountRef, opts ledger.CreateAccountOpts) error {
	return nil
}

func (r *recordingAccounts) AdjustCapacity(ctx context.Context, ref ledger.AccountRef, delta int64, reference string) error {
	return nil
}

func (r *recordingAccounts) Reserve(ctx context.Context, transferID string, payer, payee ledger.AccountRef, amount int64) (ledger.ReserveResult, error) {
	return ledger.ReservePass, nil
}

func (r *recordingAccounts) Post(ctx context.Context, transferID string, payer, payee ledger.AccountRef, amount int64) error {
	return nil
}

func (r *recordingAccounts) Release(ctx context.Context, transferID string, payer, payee ledger.AccountRef, amount int64) error {
	return nil
}

func (r *recordingAccounts) Settle(ctx context.Context, reference string, debit, credit ledger.AccountRef, amount int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, call := range r.settles {
		if call.Reference == reference {
			return nil
		}
	}
	r.settles = append(r.settles, settleCall{Reference: reference, Debit: debit, Credit: credit, Amount: amount})
	return nil
}

func (r *recordingAccounts) Balance(ctx context.Context, ref ledger.AccountRef) (ledger.Balance, error) {
	return ledger.Balance{}, nil
}

// stubPrepareLock stands in for the Redis settlement lock.
type stubPrepareLock struct {
	busy     bool
	acquired int
	released int
}

func (l *stubPrepareLock) TryLock(ctx context.Context) (bool, error) {
	if l.busy {
		return false, nil
	}
	l.acquired++
	return true, nil
}

func (l *stubPrepareLock) Unlock(ctx context.Context) error {
	l.released++
	return nil
}

type settlementFixture struct {
	engine   *SettlementEngine
	store    *fakeSettlementStore
	activity *fakeActivity
	accounts *recordingAccounts
	outbox   *fakeOutbox
	windowID int64
	ctx      context.Context
}

// newSettlementFixture builds one CLOSED window with three participants whose
// committed clearing activity nets to zero:
//
//	dfspA: owes 5.00, is owed 1.00, net -4.00
//	dfspB: owes 3.00, is owed 5.00, net +2.00
//	dfspC: owes 1.00, is owed 3.00, net +2.00
func newSettlementFixture(t *testing.T) *settlementFixture {
	t.Helper()

	store := newFakeSettlementStore()
	store.addModel("DEFERREDNET", "USD")
	opened := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	closed := opened.Add(time.Hour)
	windowID := store.addWindow(model.WindowStateClosed, opened, &closed)

	activity := &fakeActivity{
		payers: []repository.ParticipantActivity{
			{Participant: "dfspA", Amount: 500},
			{Participant: "dfspB", Amount: 300},
			{Participant: "dfspC", Amount: 100},
		},
		payees: []repository.ParticipantActivity{
			{Participant: "dfspA", Amount: 100},
			{Participant: "dfspB", Amount: 500},
			{Participant: "dfspC", Amount: 300},
		},
	}
	accounts := &recordingAccounts{}
	outbox := &fakeOutbox{}

	engine := NewSettlementEngine(store, activity, accounts, outbox,
		money.Scales{"USD": 2}, "ledger-notification", nil)

	return &settlementFixture{
		engine:   engine,
		store:    store,
		activity: activity,
		accounts: accounts,
		outbox:   outbox,
		windowID: windowID,
		ctx:      context.Background(),
	}
}

func (f *settlementFixture) prepare(t *testing.T) *ledger.SettlementView {
	t.Helper()
	view, err := f.engine.SettlementPrepare(f.ctx, []int64{f.windowID}, "DEFERREDNET", "weekly run")
	require.NoError(t, err)
	return view
}

// advance moves every leg of the settlement to the given state.
func (f *settlementFixture) advance(t *testing.T, id int64, state string) *ledger.SettlementView {
	t.Helper()
	view, err := f.engine.SettlementUpdate(f.ctx, id, []ledger.BalanceUpdate{
		{Participant: "dfspA", Currency: "USD", State: state},
		{Participant: "dfspB", Currency: "USD", State: state},
		{Participant: "dfspC", Currency: "USD", State: state},
	})
	require.NoError(t, err)
	return view
}

func TestSettlementPrepare(t *testing.T) {
	t.Run("nets activity to zero-sum balances", func(t *testing.T) {
		f := newSettlementFixture(t)

		view := f.prepare(t)
		assert.Equal(t, model.SettlementStatePending, view.State)
		assert.Equal(t, "USD", view.Currency)
		assert.Equal(t, []int64{f.windowID}, view.Windows)
		require.Len(t, view.Balances, 3)

		// Sorted by participant name.
		assert.Equal(t, "dfspA", view.Balances[0].Participant)
		assert.Equal(t, "5.00", view.Balances[0].Owing)
		assert.Equal(t, "1.00", view.Balances[0].Owed)
		assert.Equal(t, "-4.00", view.Balances[0].NetAmount)
		assert.Equal(t, "2.00", view.Balances[1].NetAmount)
		assert.Equal(t, "2.00", view.Balances[2].NetAmount)
		for _, b := range view.Balances {
			assert.Equal(t, model.SettlementBalanceStatePending, b.State)
		}

		assert.Equal(t, model.WindowStatePendingSettlement, f.store.windowState(f.windowID))
	})

	t.Run("requires at least one window", func(t *testing.T) {
		f := newSettlementFixture(t)
		_, err := f.engine.SettlementPrepare(f.ctx, nil, "DEFERREDNET", "")
		assert.Equal(t, ledger.KindValidation, ledger.KindOf(err))
	})

	t.Run("unknown model", func(t *testing.T) {
		f := newSettlementFixture(t)
		_, err := f.engine.SettlementPrepare(f.ctx, []int64{f.windowID}, "NOSUCH", "")
		assert.Equal(t, ledger.KindValidation, ledger.KindOf(err))
	})

	t.Run("missing window", func(t *testing.T) {
		f := newSettlementFixture(t)
		_, err := f.engine.SettlementPrepare(f.ctx, []int64{f.windowID, 999}, "DEFERREDNET", "")
		assert.Equal(t, ledger.KindValidation, ledger.KindOf(err))
	})

	t.Run("window not closed", func(t *testing.T) {
		f := newSettlementFixture(t)
		openID := f.store.addWindow(model.WindowStateOpen, time.Now(), nil)
		_, err := f.engine.SettlementPrepare(f.ctx, []int64{openID}, "DEFERREDNET", "")
		assert.Equal(t, ledger.KindInvalidState, ledger.KindOf(err))
	})

	t.Run("held model lock refuses a concurrent prepare", func(t *testing.T) {
		f := newSettlementFixture(t)
		lock := &stubPrepareLock{}
		f.engine.prepareLock = func(model string) PrepareLock { return lock }

		lock.busy = true
		_, err := f.engine.SettlementPrepare(f.ctx, []int64{f.windowID}, "DEFERREDNET", "")
		assert.Equal(t, ledger.KindInvalidState, ledger.KindOf(err))
		assert.Empty(t, f.store.settlements)

		lock.busy = false
		_, err = f.engine.SettlementPrepare(f.ctx, []int64{f.windowID}, "DEFERREDNET", "")
		require.NoError(t, err)
		assert.Equal(t, 1, lock.acquired)
		assert.Equal(t, 1, lock.released)
	})

	t.Run("nonzero sum is refused before persisting", func(t *testing.T) {
		f := newSettlementFixture(t)
		// Drop one payee row so owed no longer balances owing.
		f.activity.payees = f.activity.payees[:2]

		_, err := f.engine.SettlementPrepare(f.ctx, []int64{f.windowID}, "DEFERREDNET", "")
		assert.Equal(t, ledger.KindInvariant, ledger.KindOf(err))
		assert.Empty(t, f.store.settlements)
		assert.Equal(t, model.WindowStateClosed, f.store.windowState(f.windowID))
	})
}

func TestSettlementUpdate(t *testing.T) {
	t.Run("committed legs post net amounts against the hub", func(t *testing.T) {
		f := newSettlementFixture(t)
		view := f.prepare(t)

		f.advance(t, view.ID, model.SettlementBalanceStateReserved)
		updated := f.advance(t, view.ID, model.SettlementBalanceStateCommitted)
		assert.Equal(t, model.SettlementStateProcessing, updated.State)

		require.Len(t, f.accounts.settles, 3)
		byParticipant := make(map[string]settleCall)
		for _, call := range f.accounts.settles {
			if call.Debit.Participant != model.HubName {
				byParticipant[call.Debit.Participant] = call
			} else {
				byParticipant[call.Credit.Participant] = call
			}
		}

		// Net payer: its settlement account is debited into hub recon.
		a := byParticipant["dfspA"]
		assert.Equal(t, int64(400), a.Amount)
		assert.Equal(t, model.AccountTypeSettlement, a.Debit.Type)
		assert.Equal(t, model.AccountTypeHubReconciliation, a.Credit.Type)
		assert.Equal(t, fmt.Sprintf("settlement:%d:dfspA:USD", view.ID), a.Reference)

		// Net payee: hub recon is debited into its settlement account.
		b := byParticipant["dfspB"]
		assert.Equal(t, int64(200), b.Amount)
		assert.Equal(t, model.HubName, b.Debit.Participant)
		assert.Equal(t, model.AccountTypeSettlement, b.Credit.Type)
	})

	t.Run("skipping a state is rejected", func(t *testing.T) {
		f := newSettlementFixture(t)
		view := f.prepare(t)

		_, err := f.engine.SettlementUpdate(f.ctx, view.ID, []ledger.BalanceUpdate{
			{Participant: "dfspA", Currency: "USD", State: model.SettlementBalanceStateCommitted},
		})
		assert.Equal(t, ledger.KindInvalidState, ledger.KindOf(err))
	})

	t.Run("unknown participant leg is rejected", func(t *testing.T) {
		f := newSettlementFixture(t)
		view := f.prepare(t)

		_, err := f.engine.SettlementUpdate(f.ctx, view.ID, []ledger.BalanceUpdate{
			{Participant: "nobody", Currency: "USD", State: model.SettlementBalanceStateReserved},
		})
		assert.Equal(t, ledger.KindValidation, ledger.KindOf(err))
	})

	t.Run("all legs settled finalizes settlement and windows", func(t *testing.T) {
		f := newSettlementFixture(t)
		view := f.prepare(t)

		f.advance(t, view.ID, model.SettlementBalanceStateReserved)
		f.advance(t, view.ID, model.SettlementBalanceStateCommitted)
		final := f.advance(t, view.ID, model.SettlementBalanceStateSettled)

		assert.Equal(t, model.SettlementStateCommitted, final.State)
		for _, b := range final.Balances {
			assert.Equal(t, model.SettlementBalanceStateSettled, b.State)
		}
		assert.Equal(t, model.WindowStateSettled, f.store.windowState(f.windowID))
		assert.GreaterOrEqual(t, f.outbox.count(), 1)
	})

	t.Run("no further updates after commit", func(t *testing.T) {
		f := newSettlementFixture(t)
		view := f.prepare(t)
		f.advance(t, view.ID, model.SettlementBalanceStateReserved)
		f.advance(t, view.ID, model.SettlementBalanceStateCommitted)
		f.advance(t, view.ID, model.SettlementBalanceStateSettled)

		_, err := f.engine.SettlementUpdate(f.ctx, view.ID, []ledger.BalanceUpdate{
			{Participant: "dfspA", Currency: "USD", State: model.SettlementBalanceStateAborted},
		})
		assert.Equal(t, ledger.KindInvalidState, ledger.KindOf(err))
	})

	t.Run("committed retry does not double-post", func(t *testing.T) {
		f := newSettlementFixture(t)
		view := f.prepare(t)
		f.advance(t, view.ID, model.SettlementBalanceStateReserved)
		f.advance(t, view.ID, model.SettlementBalanceStateCommitted)

		// A retried COMMITTED update loses the state guard and is rejected
		// before touching funds.
		_, err := f.engine.SettlementUpdate(f.ctx, view.ID, []ledger.BalanceUpdate{
			{Participant: "dfspA", Currency: "USD", State: model.SettlementBalanceStateCommitted},
		})
		assert.Equal(t, ledger.KindInvalidState, ledger.KindOf(err))
		assert.Len(t, f.accounts.settles, 3)
	})
}

func TestSettlementAbort(t *testing.T) {
	t.Run("aborts pending legs and reopens windows", func(t *testing.T) {
		f := newSettlementFixture(t)
		view := f.prepare(t)

		require.NoError(t, f.engine.SettlementAbort(f.ctx, view.ID, "operator abort"))

		after, err := f.engine.GetSettlement(f.ctx, view.ID)
		require.NoError(t, err)
		assert.Equal(t, model.SettlementStateAborted, after.State)
		for _, b := range after.Balances {
			assert.Equal(t, model.SettlementBalanceStateAborted, b.State)
		}
		assert.Equal(t, model.WindowStateClosed, f.store.windowState(f.windowID))
		assert.Empty(t, f.accounts.settles)
	})

	t.Run("abort is idempotent", func(t *testing.T) {
		f := newSettlementFixture(t)
		view := f.prepare(t)
		require.NoError(t, f.engine.SettlementAbort(f.ctx, view.ID, "first"))
		assert.NoError(t, f.engine.SettlementAbort(f.ctx, view.ID, "second"))
	})

	t.Run("refused once funds have moved", func(t *testing.T) {
		f := newSettlementFixture(t)
		view := f.prepare(t)
		f.advance(t, view.ID, model.SettlementBalanceStateReserved)
		_, err := f.engine.SettlementUpdate(f.ctx, view.ID, []ledger.BalanceUpdate{
			{Participant: "dfspA", Currency: "USD", State: model.SettlementBalanceStateCommitted},
		})
		require.NoError(t, err)

		err = f.engine.SettlementAbort(f.ctx, view.ID, "too late")
		assert.Equal(t, ledger.KindInvariant, ledger.KindOf(err))
	})

	t.Run("refused after commit", func(t *testing.T) {
		f := newSettlementFixture(t)
		view := f.prepare(t)
		f.advance(t, view.ID, model.SettlementBalanceStateReserved)
		f.advance(t, view.ID, model.SettlementBalanceStateCommitted)
		f.advance(t, view.ID, model.SettlementBalanceStateSettled)

		err := f.engine.SettlementAbort(f.ctx, view.ID, "too late")
		assert.Equal(t, ledger.KindInvalidState, ledger.KindOf(err))
	})
}

func TestCloseSettlementWindow(t *testing.T) {
	f := newSettlementFixture(t)
	openID := f.store.addWindow(model.WindowStateOpen, time.Now(), nil)

	t.Run("closes the open window and opens the next", func(t *testing.T) {
		view, err := f.engine.CloseSettlementWindow(f.ctx, openID, "end of day")
		require.NoError(t, err)
		assert.Equal(t, model.WindowStateClosed, view.State)
		require.NotNil(t, view.ClosedAt)

		open, err := f.engine.GetSettlementWindows(f.ctx, ledger.WindowFilter{State: model.WindowStateOpen})
		require.NoError(t, err)
		assert.Len(t, open, 1)
	})

	t.Run("closing a closed window is invalid", func(t *testing.T) {
		_, err := f.engine.CloseSettlementWindow(f.ctx, openID, "again")
		assert.Equal(t, ledger.KindInvalidState, ledger.KindOf(err))
	})

	t.Run("unknown window", func(t *testing.T) {
		_, err := f.engine.CloseSettlementWindow(f.ctx, 9999, "missing")
		assert.Equal(t, ledger.KindValidation, ledger.KindOf(err))
	})
}
