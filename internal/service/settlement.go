package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"ledgerhub/internal/ledger"
	"ledgerhub/internal/model"
	"ledgerhub/internal/repository"
	"ledgerhub/pkg/idgen"
	"ledgerhub/pkg/money"
)

// SettlementStore is the settlement metadata surface backed by the relational
// store.
type SettlementStore interface {
	GetWindowsByIDs(ctx context.Context, ids []int64) ([]*model.SettlementWindow, error)
	ListWindows(ctx context.Context, state string, limit int) ([]*model.SettlementWindow, error)
	CloseWindow(ctx context.Context, id int64, reason string, now time.Time) (*model.SettlementWindow, *model.SettlementWindow, error)
	SetWindowsState(ctx context.Context, ids []int64, from, to string) error
	GetModel(ctx context.Context, name string) (*model.SettlementModel, error)
	CreateSettlement(ctx context.Context, settlement *model.Settlement, windowIDs []int64, balances []model.SettlementBalance) error
	GetSettlement(ctx context.Context, id int64) (*model.Settlement, []model.SettlementBalance, []int64, error)
	UpdateBalanceState(ctx context.Context, settlementID int64, participant, currency, from, to string) (bool, error)
	UpdateSettlementState(ctx context.Context, id int64, from, to string) (bool, error)
}

// ActivitySource sums committed clearing activity per participant over a
// window interval.
type ActivitySource interface {
	SumCommittedByPayer(ctx context.Context, currency string, from, to time.Time) ([]repository.ParticipantActivity, error)
	SumCommittedByPayee(ctx context.Context, currency string, from, to time.Time) ([]repository.ParticipantActivity, error)
}

// PrepareLock serializes settlement preparation for one model across
// instances.
type PrepareLock interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// SettlementEngine computes multilateral net positions over closed windows and
// drives each participant leg through the bank confirmation sequence. The
// net amounts of one settlement always sum to zero; a nonzero sum means the
// underlying transfer data is corrupt and the settlement is refused before
// anything is persisted.
type SettlementEngine struct {
	settlements SettlementStore
	activity    ActivitySource
	accounts    ledger.AccountStore
	outbox      OutboxStore

	scales      money.Scales
	notifyTopic string
	// prepareLock builds the per-model preparation lock; nil means
	// single-instance operation with no external lock.
	prepareLock func(model string) PrepareLock
	now         func() time.Time
}

func NewSettlementEngine(
	settlements SettlementStore,
	activity ActivitySource,
	accounts ledger.AccountStore,
	outbox OutboxStore,
	scales money.Scales,
	notifyTopic string,
	prepareLock func(model string) PrepareLock,
) *SettlementEngine {
	return &SettlementEngine{
		settlements: settlements,
		activity:    activity,
		accounts:    accounts,
		outbox:      outbox,
		scales:      scales,
		notifyTopic: notifyTopic,
		prepareLock: prepareLock,
		now:         time.Now,
	}
}

func (e *SettlementEngine) GetSettlementWindows(ctx context.Context, filter ledger.WindowFilter) ([]ledger.WindowView, error) {
	windows, err := e.settlements.ListWindows(ctx, filter.State, filter.Limit)
	if err != nil {
		return nil, ledger.BackendError("list windows", err)
	}

	views := make([]ledger.WindowView, 0, len(windows))
	for _, w := range windows {
		views = append(views, windowView(w))
	}
	return views, nil
}

func (e *SettlementEngine) CloseSettlementWindow(ctx context.Context, id int64, reason string) (*ledger.WindowView, error) {
	closed, opened, err := e.settlements.CloseWindow(ctx, id, reason, e.now())
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrWindowNotFound):
			return nil, ledger.ValidationError(fmt.Sprintf("settlement window %d not found", id))
		case errors.Is(err, repository.ErrWindowNotOpen):
			return nil, ledger.InvalidStateError(fmt.Sprintf("settlement window %d is not open", id))
		default:
			return nil, ledger.BackendError("close window", err)
		}
	}

	log.Printf("settlement window %d closed, window %d opened", closed.ID, opened.ID)
	view := windowView(closed)
	return &view, nil
}

// SettlementPrepare nets the committed clearing activity of the given closed
// windows under one settlement model and persists the settlement with its
// participant balances.
func (e *SettlementEngine) SettlementPrepare(ctx context.Context, windowIDs []int64, modelName, reason string) (*ledger.SettlementView, error) {
	if len(windowIDs) == 0 {
		return nil, ledger.ValidationError("at least one settlement window is required")
	}

	if e.prepareLock != nil {
		l := e.prepareLock(modelName)
		acquired, err := l.TryLock(ctx)
		if err != nil {
			return nil, ledger.BackendError("acquire settlement lock", err)
		}
		if !acquired {
			return nil, ledger.InvalidStateError(
				fmt.Sprintf("settlement preparation for model %s is already in progress", modelName))
		}
		defer func() {
			if err := l.Unlock(ctx); err != nil {
				log.Printf("release settlement lock for %s: %v", modelName, err)
			}
		}()
	}

	settlementModel, err := e.settlements.GetModel(ctx, modelName)
	if err != nil {
		if errors.Is(err, repository.ErrModelNotFound) {
			return nil, ledger.ValidationError(fmt.Sprintf("settlement model %s not found", modelName))
		}
		return nil, ledger.BackendError("load settlement model", err)
	}
	currency := settlementModel.Currency

	windows, err := e.settlements.GetWindowsByIDs(ctx, windowIDs)
	if err != nil {
		return nil, ledger.BackendError("load windows", err)
	}
	if len(windows) != len(windowIDs) {
		return nil, ledger.ValidationError("one or more settlement windows do not exist")
	}
	for _, w := range windows {
		if w.State != model.WindowStateClosed || w.ClosedAt == nil {
			return nil, ledger.InvalidStateError(fmt.Sprintf("settlement window %d is %s, want CLOSED", w.ID, w.State))
		}
	}

	type position struct {
		owing int64
		owed  int64
	}
	positions := make(map[string]*position)
	at := func(name string) *position {
		p, ok := positions[name]
		if !ok {
			p = &position{}
			positions[name] = p
		}
		return p
	}

	for _, w := range windows {
		payers, err := e.activity.SumCommittedByPayer(ctx, currency, w.OpenedAt, *w.ClosedAt)
		if err != nil {
			return nil, ledger.BackendError("sum payer activity", err)
		}
		for _, row := range payers {
			at(row.Participant).owing += row.Amount
		}

		payees, err := e.activity.SumCommittedByPayee(ctx, currency, w.OpenedAt, *w.ClosedAt)
		if err != nil {
			return nil, ledger.BackendError("sum payee activity", err)
		}
		for _, row := range payees {
			at(row.Participant).owed += row.Amount
		}
	}

	var sum int64
	names := make([]string, 0, len(positions))
	for name, p := range positions {
		names = append(names, name)
		sum += p.owed - p.owing
	}
	if sum != 0 {
		return nil, ledger.InvariantError(
			fmt.Sprintf("net settlement amounts sum to %d, want 0 (windows %v)", sum, windowIDs))
	}
	sort.Strings(names)

	balances := make([]model.SettlementBalance, 0, len(names))
	for _, name := range names {
		p := positions[name]
		balances = append(balances, model.SettlementBalance{
			Participant: name,
			Currency:    currency,
			Owing:       p.owing,
			Owed:        p.owed,
			NetAmount:   p.owed - p.owing,
			State:       model.SettlementBalanceStatePending,
		})
	}

	settlement := &model.Settlement{
		Model:    modelName,
		Currency: currency,
		Reason:   reason,
		State:    model.SettlementStatePending,
	}
	if err := e.settlements.CreateSettlement(ctx, settlement, windowIDs, balances); err != nil {
		if errors.Is(err, repository.ErrWindowNotOpen) {
			return nil, ledger.InvalidStateError("one or more windows left CLOSED state concurrently")
		}
		return nil, ledger.BackendError("create settlement", err)
	}

	log.Printf("settlement %d prepared over windows %v, %d participants", settlement.ID, windowIDs, len(balances))
	return e.GetSettlement(ctx, settlement.ID)
}

// SettlementUpdate advances participant legs through the confirmation
// sequence. A leg reaching COMMITTED moves the net amount between the
// participant's settlement account and the hub reconciliation account; when
// every leg is SETTLED the settlement and its windows are finalized.
func (e *SettlementEngine) SettlementUpdate(ctx context.Context, id int64, updates []ledger.BalanceUpdate) (*ledger.SettlementView, error) {
	settlement, balances, windowIDs, err := e.loadSettlement(ctx, id)
	if err != nil {
		return nil, err
	}
	if settlement.State == model.SettlementStateAborted || settlement.State == model.SettlementStateCommitted {
		return nil, ledger.InvalidStateError(fmt.Sprintf("settlement %d is %s", id, settlement.State))
	}

	byKey := make(map[string]*model.SettlementBalance, len(balances))
	for i := range balances {
		b := &balances[i]
		byKey[b.Participant+"/"+b.Currency] = b
	}

	for _, update := range updates {
		balance, ok := byKey[update.Participant+"/"+update.Currency]
		if !ok {
			return nil, ledger.ValidationError(
				fmt.Sprintf("participant %s has no %s balance in settlement %d", update.Participant, update.Currency, id))
		}
		if !model.CanSettlementBalanceTransition(balance.State, update.State) {
			return nil, ledger.InvalidStateError(
				fmt.Sprintf("balance of %s cannot move %s -> %s", update.Participant, balance.State, update.State))
		}

		moved, err := e.settlements.UpdateBalanceState(ctx, id, update.Participant, update.Currency, balance.State, update.State)
		if err != nil {
			return nil, ledger.BackendError("update balance state", err)
		}
		if !moved {
			return nil, ledger.InvalidStateError(
				fmt.Sprintf("balance of %s changed concurrently", update.Participant))
		}
		balance.State = update.State

		if update.State == model.SettlementBalanceStateCommitted {
			if err := e.postNetAmount(ctx, id, balance); err != nil {
				return nil, err
			}
		}
	}

	// First leg past PENDING flips the settlement to PROCESSING; losing this
	// race to a concurrent update is fine.
	if _, err := e.settlements.UpdateSettlementState(ctx, id,
		model.SettlementStatePending, model.SettlementStateProcessing); err != nil {
		return nil, ledger.BackendError("update settlement state", err)
	}

	allSettled := true
	for i := range balances {
		if balances[i].State != model.SettlementBalanceStateSettled {
			allSettled = false
			break
		}
	}
	if allSettled {
		if _, err := e.settlements.UpdateSettlementState(ctx, id,
			model.SettlementStateProcessing, model.SettlementStateCommitted); err != nil {
			return nil, ledger.BackendError("finalize settlement", err)
		}
		if err := e.settlements.SetWindowsState(ctx, windowIDs,
			model.WindowStatePendingSettlement, model.WindowStateSettled); err != nil {
			return nil, ledger.BackendError("finalize windows", err)
		}
		e.notifySettlement(ctx, id, "settlement.committed")
		log.Printf("settlement %d committed, windows %v settled", id, windowIDs)
	}

	return e.GetSettlement(ctx, id)
}

// postNetAmount moves one committed leg's net amount. Net payers are debited
// into the hub reconciliation account, net payees are credited out of it; the
// zero-sum invariant keeps the hub account flat once every leg has posted.
func (e *SettlementEngine) postNetAmount(ctx context.Context, settlementID int64, balance *model.SettlementBalance) error {
	if balance.NetAmount == 0 {
		return nil
	}

	participantRef := ledger.AccountRef{
		Participant: balance.Participant,
		Currency:    balance.Currency,
		Type:        model.AccountTypeSettlement,
	}
	hubRef := ledger.AccountRef{
		Participant: model.HubName,
		Currency:    balance.Currency,
		Type:        model.AccountTypeHubReconciliation,
	}

	reference := fmt.Sprintf("settlement:%d:%s:%s", settlementID, balance.Participant, balance.Currency)

	var err error
	if balance.NetAmount < 0 {
		err = e.accounts.Settle(ctx, reference, participantRef, hubRef, -balance.NetAmount)
	} else {
		err = e.accounts.Settle(ctx, reference, hubRef, participantRef, balance.NetAmount)
	}
	if err != nil {
		log.Printf("settlement %d leg %s needs reconciliation: %v", settlementID, balance.Participant, err)
		return ledger.BackendError("post settlement leg", err)
	}
	return nil
}

// SettlementAbort cancels a settlement whose legs have not yet moved money and
// returns its windows to CLOSED so they can be settled again.
func (e *SettlementEngine) SettlementAbort(ctx context.Context, id int64, reason string) error {
	settlement, balances, windowIDs, err := e.loadSettlement(ctx, id)
	if err != nil {
		return err
	}
	if settlement.State == model.SettlementStateAborted {
		return nil
	}
	if settlement.State == model.SettlementStateCommitted {
		return ledger.InvalidStateError(fmt.Sprintf("settlement %d is already committed", id))
	}

	for i := range balances {
		state := balances[i].State
		if state == model.SettlementBalanceStateCommitted || state == model.SettlementBalanceStateSettled {
			return ledger.InvariantError(fmt.Sprintf(
				"settlement %d cannot abort: leg %s already %s and its funds have moved",
				id, balances[i].Participant, state))
		}
	}

	for i := range balances {
		b := &balances[i]
		if b.State == model.SettlementBalanceStateAborted {
			continue
		}
		moved, err := e.settlements.UpdateBalanceState(ctx, id, b.Participant, b.Currency,
			b.State, model.SettlementBalanceStateAborted)
		if err != nil {
			return ledger.BackendError("abort balance", err)
		}
		if !moved {
			return ledger.InvalidStateError(fmt.Sprintf("balance of %s changed concurrently", b.Participant))
		}
	}

	if _, err := e.settlements.UpdateSettlementState(ctx, id,
		settlement.State, model.SettlementStateAborted); err != nil {
		return ledger.BackendError("abort settlement", err)
	}
	if err := e.settlements.SetWindowsState(ctx, windowIDs,
		model.WindowStatePendingSettlement, model.WindowStateClosed); err != nil {
		return ledger.BackendError("reopen windows", err)
	}

	log.Printf("settlement %d aborted (%s), windows %v returned to CLOSED", id, reason, windowIDs)
	e.notifySettlement(ctx, id, "settlement.aborted")
	return nil
}

func (e *SettlementEngine) GetSettlement(ctx context.Context, id int64) (*ledger.SettlementView, error) {
	settlement, balances, windowIDs, err := e.loadSettlement(ctx, id)
	if err != nil {
		return nil, err
	}

	scale, scaleErr := e.scales.Scale(settlement.Currency)
	render := func(v int64) string {
		if scaleErr != nil {
			return fmt.Sprintf("%d", v)
		}
		return money.FromMinorUnits(v, scale)
	}

	view := &ledger.SettlementView{
		ID:       settlement.ID,
		Model:    settlement.Model,
		Currency: settlement.Currency,
		Reason:   settlement.Reason,
		State:    settlement.State,
		Windows:  windowIDs,
	}
	for i := range balances {
		b := &balances[i]
		view.Balances = append(view.Balances, ledger.SettlementBalanceView{
			Participant: b.Participant,
			Currency:    b.Currency,
			Owing:       render(b.Owing),
			Owed:        render(b.Owed),
			NetAmount:   render(b.NetAmount),
			State:       b.State,
		})
	}
	return view, nil
}

func (e *SettlementEngine) loadSettlement(ctx context.Context, id int64) (*model.Settlement, []model.SettlementBalance, []int64, error) {
	settlement, balances, windowIDs, err := e.settlements.GetSettlement(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrSettlementNotFound) {
			return nil, nil, nil, ledger.ValidationError(fmt.Sprintf("settlement %d not found", id))
		}
		return nil, nil, nil, ledger.BackendError("load settlement", err)
	}
	return settlement, balances, windowIDs, nil
}

func (e *SettlementEngine) notifySettlement(ctx context.Context, id int64, event string) {
	msg := &model.OutboxMessage{
		MessageKey: idgen.GenerateSettlementRef(),
		Topic:      e.notifyTopic,
		Payload:    fmt.Sprintf(`{"event":%q,"settlement_id":%d}`, event, id),
		Status:     model.OutboxStatusPending,
	}
	if err := e.outbox.Create(ctx, msg); err != nil {
		log.Printf("notify settlement %d: %v", id, err)
	}
}

func windowView(w *model.SettlementWindow) ledger.WindowView {
	return ledger.WindowView{
		ID:       w.ID,
		State:    w.State,
		Reason:   w.Reason,
		OpenedAt: w.OpenedAt,
		ClosedAt: w.ClosedAt,
	}
}
