package doubleentry

import (
	"context"
	"sync"
)

// MemEngine is an in-process Client with the same per-entry semantics as the
// external engine. It backs local development and the shared backend test
// suite.
type MemEngine struct {
	mu        sync.Mutex
	accounts  map[ID]*Account
	transfers map[ID]*Transfer
	// pending status by pending-transfer id: "open", "posted", "voided".
	pending map[ID]string
}

var _ Client = (*MemEngine)(nil)

func NewMemEngine() *MemEngine {
	return &MemEngine{
		accounts:  make(map[ID]*Account),
		transfers: make(map[ID]*Transfer),
		pending:   make(map[ID]string),
	}
}

func (e *MemEngine) CreateAccounts(ctx context.Context, accounts []Account) ([]EventError, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []EventError
	for i, a := range accounts {
		if _, ok := e.accounts[a.ID]; ok {
			errs = append(errs, EventError{Index: i, Code: CodeExists})
			continue
		}
		account := a
		account.DebitsPending = 0
		account.DebitsPosted = 0
		account.CreditsPending = 0
		account.CreditsPosted = 0
		e.accounts[a.ID] = &account
	}
	return errs, nil
}

func (e *MemEngine) CreateTransfers(ctx context.Context, transfers []Transfer) ([]EventError, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []EventError
	for i, t := range transfers {
		if code := e.applyTransfer(t); code != CodeOK {
			errs = append(errs, EventError{Index: i, Code: code})
		}
	}
	return errs, nil
}

func (e *MemEngine) applyTransfer(t Transfer) ErrCode {
	if _, ok := e.transfers[t.ID]; ok {
		return CodeExists
	}

	switch {
	case t.Flags&FlagPostPending != 0:
		return e.closePending(t, true)
	case t.Flags&FlagVoidPending != 0:
		return e.closePending(t, false)
	}

	debit, ok := e.accounts[t.DebitAccountID]
	if !ok {
		return CodeAccountNotFound
	}
	credit, ok := e.accounts[t.CreditAccountID]
	if !ok {
		return CodeAccountNotFound
	}
	if debit.Ledger != credit.Ledger || (t.Ledger != 0 && t.Ledger != debit.Ledger) {
		return CodeLedgerMismatch
	}
	if t.Amount == 0 {
		return CodeZeroAmount
	}

	if debit.Flags&FlagDebitsMustNotExceedCredits != 0 {
		if debit.DebitsPosted+debit.DebitsPending+t.Amount > debit.CreditsPosted {
			return CodeExceedsCapacity
		}
	}

	stored := t
	e.transfers[t.ID] = &stored

	if t.Flags&FlagPending != 0 {
		debit.DebitsPending += t.Amount
		credit.CreditsPending += t.Amount
		e.pending[t.ID] = "open"
	} else {
		debit.DebitsPosted += t.Amount
		credit.CreditsPosted += t.Amount
	}
	return CodeOK
}

func (e *MemEngine) closePending(t Transfer, post bool) ErrCode {
	original, ok := e.transfers[t.PendingID]
	if !ok || e.pending[t.PendingID] == "" {
		return CodePendingNotFound
	}
	switch e.pending[t.PendingID] {
	case "posted":
		return CodePendingAlreadyPosted
	case "voided":
		return CodePendingAlreadyVoided
	}

	amount := t.Amount
	if amount == AmountMax {
		amount = original.Amount
	}
	if amount != original.Amount {
		return CodeAmountMismatch
	}

	debit := e.accounts[original.DebitAccountID]
	credit := e.accounts[original.CreditAccountID]

	debit.DebitsPending -= amount
	credit.CreditsPending -= amount
	if post {
		debit.DebitsPosted += amount
		credit.CreditsPosted += amount
		e.pending[t.PendingID] = "posted"
	} else {
		e.pending[t.PendingID] = "voided"
	}

	stored := t
	e.transfers[t.ID] = &stored
	return CodeOK
}

func (e *MemEngine) LookupAccounts(ctx context.Context, ids []ID) ([]Account, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	accounts := make([]Account, 0, len(ids))
	for _, id := range ids {
		if a, ok := e.accounts[id]; ok {
			accounts = append(accounts, *a)
		}
	}
	return accounts, nil
}
