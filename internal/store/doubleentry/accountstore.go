package doubleentry

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"ledgerhub/internal/ledger"

	"github.com/google/uuid"
)

// AccountStore adapts the accounting engine to the fund-movement contract.
// Reserve creates a pending transfer, Post closes it at the full pending
// amount (the AmountMax sentinel), Release voids it. The engine's own
// per-ledger atomicity provides the no-oversubscription guarantee; this layer
// maps ids, codes and error vocabulary.
type AccountStore struct {
	batcher *Batcher
	client  Client
	hub     string
	ledgers map[string]uint32 // currency -> engine ledger
	codes   map[string]uint16 // account type -> engine account code
}

var _ ledger.AccountStore = (*AccountStore)(nil)

// NewAccountStore builds the store with explicit lookup tables; nothing here
// reads ambient globals.
func NewAccountStore(client Client, batcher *Batcher, hub string, ledgers map[string]uint32, codes map[string]uint16) *AccountStore {
	return &AccountStore{
		batcher: batcher,
		client:  client,
		hub:     hub,
		ledgers: ledgers,
		codes:   codes,
	}
}

// LedgerMap assigns a stable engine ledger id per currency (sorted order, so
// the mapping is deterministic across restarts given the same currency set).
func LedgerMap(currencies []string) map[string]uint32 {
	sorted := append([]string(nil), currencies...)
	sort.Strings(sorted)
	m := make(map[string]uint32, len(sorted))
	for i, c := range sorted {
		m[c] = uint32(i + 1)
	}
	return m
}

// AccountCodes is the default account-type table.
func AccountCodes() map[string]uint16 {
	return map[string]uint16{
		"POSITION":           1,
		"SETTLEMENT":         2,
		"HUB_RECONCILIATION": 3,
	}
}

func (s *AccountStore) accountID(ref ledger.AccountRef) ID {
	return DeriveID("account", ref.Participant, ref.Currency, ref.Type)
}

func (s *AccountStore) ledgerOf(currency string) (uint32, error) {
	l, ok := s.ledgers[currency]
	if !ok {
		return 0, ledger.ValidationError(fmt.Sprintf("no engine ledger for currency %s", currency))
	}
	return l, nil
}

func (s *AccountStore) CreateAccount(ctx context.Context, ref ledger.AccountRef, opts ledger.CreateAccountOpts) error {
	l, err := s.ledgerOf(ref.Currency)
	if err != nil {
		return err
	}

	var flags AccountFlags
	if opts.EnforceCap {
		flags |= FlagDebitsMustNotExceedCredits
	}

	account := Account{
		ID:     s.accountID(ref),
		Ledger: l,
		Code:   s.codes[ref.Type],
		Flags:  flags,
	}

	events, err := s.client.CreateAccounts(ctx, []Account{account})
	if err != nil {
		return ledger.BackendError("create account", err)
	}
	for _, ev := range events {
		if ev.Code != CodeExists {
			return ledger.BackendError("create account", &EngineError{Code: ev.Code})
		}
	}
	return nil
}

// AdjustCapacity grants capacity by crediting the position account from the
// hub reconciliation account (or the reverse for a revocation). Capacity in
// this backend is literally credits on the ledger; the net debit cap becomes
// an engine-enforced balance.
func (s *AccountStore) AdjustCapacity(ctx context.Context, ref ledger.AccountRef, delta int64, reference string) error {
	if delta == 0 {
		return nil
	}

	l, err := s.ledgerOf(ref.Currency)
	if err != nil {
		return err
	}

	hubRef := ledger.AccountRef{Participant: s.hub, Currency: ref.Currency, Type: "HUB_RECONCILIATION"}
	transfer := Transfer{
		ID:     DeriveID("capacity", reference),
		Ledger: l,
	}
	if delta > 0 {
		transfer.DebitAccountID = s.accountID(hubRef)
		transfer.CreditAccountID = s.accountID(ref)
		transfer.Amount = uint64(delta)
	} else {
		transfer.DebitAccountID = s.accountID(ref)
		transfer.CreditAccountID = s.accountID(hubRef)
		transfer.Amount = uint64(-delta)
	}

	err = s.batcher.Enqueue(ctx, transfer)
	var engineErr *EngineError
	if errors.As(err, &engineErr) && engineErr.Code == CodeExists {
		return nil
	}
	if err != nil {
		return ledger.BackendError("adjust capacity", err)
	}
	return nil
}

func (s *AccountStore) Reserve(ctx context.Context, transferID string, payer, payee ledger.AccountRef, amount int64) (ledger.ReserveResult, error) {
	u, err := uuid.Parse(transferID)
	if err != nil {
		return 0, ledger.ValidationError(fmt.Sprintf("transfer id %q is not a UUID", transferID))
	}
	l, err := s.ledgerOf(payer.Currency)
	if err != nil {
		return 0, err
	}

	transfer := Transfer{
		ID:              IDFromUUID(u),
		DebitAccountID:  s.accountID(payer),
		CreditAccountID: s.accountID(payee),
		Amount:          uint64(amount),
		Ledger:          l,
		Flags:           FlagPending,
	}

	err = s.batcher.Enqueue(ctx, transfer)
	var engineErr *EngineError
	switch {
	case err == nil:
		return ledger.ReservePass, nil
	case errors.As(err, &engineErr):
		switch engineErr.Code {
		case CodeExists:
			// Same reservation id retried; the hold is already in place.
			return ledger.ReservePass, nil
		case CodeExceedsCapacity:
			return ledger.ReserveInsufficient, nil
		case CodeAccountNotFound, CodeLedgerMismatch, CodeZeroAmount:
			return 0, ledger.ValidationError(engineErr.Error())
		default:
			return 0, ledger.BackendError("reserve", engineErr)
		}
	default:
		return 0, ledger.BackendError("reserve", err)
	}
}

func (s *AccountStore) Post(ctx context.Context, transferID string, payer, payee ledger.AccountRef, amount int64) error {
	return s.closePending(ctx, transferID, payer.Currency, true)
}

func (s *AccountStore) Release(ctx context.Context, transferID string, payer, payee ledger.AccountRef, amount int64) error {
	return s.closePending(ctx, transferID, payer.Currency, false)
}

func (s *AccountStore) closePending(ctx context.Context, transferID, currency string, post bool) error {
	u, err := uuid.Parse(transferID)
	if err != nil {
		return ledger.ValidationError(fmt.Sprintf("transfer id %q is not a UUID", transferID))
	}
	l, err := s.ledgerOf(currency)
	if err != nil {
		return err
	}

	transfer := Transfer{
		PendingID: IDFromUUID(u),
		Amount:    AmountMax, // close at the exact pending amount
		Ledger:    l,
	}
	if post {
		transfer.ID = DeriveID("post", transferID)
		transfer.Flags = FlagPostPending
	} else {
		transfer.ID = DeriveID("void", transferID)
		transfer.Flags = FlagVoidPending
	}

	err = s.batcher.Enqueue(ctx, transfer)
	var engineErr *EngineError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &engineErr):
		switch engineErr.Code {
		case CodeExists:
			return nil
		case CodePendingAlreadyPosted:
			if post {
				return nil
			}
			return ledger.InvalidStateError(fmt.Sprintf("reservation %s already posted", transferID))
		case CodePendingAlreadyVoided:
			if !post {
				return nil
			}
			return ledger.InvalidStateError(fmt.Sprintf("reservation %s already voided", transferID))
		case CodePendingNotFound:
			if !post {
				// Releasing a reservation that was never made is a no-op.
				return nil
			}
			return ledger.InvalidStateError(fmt.Sprintf("no reservation for transfer %s", transferID))
		default:
			return ledger.BackendError("close pending", engineErr)
		}
	default:
		return ledger.BackendError("close pending", err)
	}
}

func (s *AccountStore) Settle(ctx context.Context, reference string, debit, credit ledger.AccountRef, amount int64) error {
	l, err := s.ledgerOf(debit.Currency)
	if err != nil {
		return err
	}

	transfer := Transfer{
		ID:              DeriveID("settle", reference),
		DebitAccountID:  s.accountID(debit),
		CreditAccountID: s.accountID(credit),
		Amount:          uint64(amount),
		Ledger:          l,
	}

	err = s.batcher.Enqueue(ctx, transfer)
	var engineErr *EngineError
	if errors.As(err, &engineErr) && engineErr.Code == CodeExists {
		return nil
	}
	if err != nil {
		return ledger.BackendError("settle", err)
	}
	return nil
}

func (s *AccountStore) Balance(ctx context.Context, ref ledger.AccountRef) (ledger.Balance, error) {
	accounts, err := s.client.LookupAccounts(ctx, []ID{s.accountID(ref)})
	if err != nil {
		return ledger.Balance{}, ledger.BackendError("lookup account", err)
	}
	if len(accounts) != 1 {
		return ledger.Balance{}, ledger.ValidationError(
			fmt.Sprintf("account %s/%s/%s not found", ref.Participant, ref.Currency, ref.Type))
	}

	a := accounts[0]
	return ledger.Balance{
		Settled:  int64(a.CreditsPosted) - int64(a.DebitsPosted),
		Reserved: int64(a.DebitsPending),
	}, nil
}
