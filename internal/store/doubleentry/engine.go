// Package doubleentry implements the fund-movement contract against an
// external double-entry accounting engine. Every movement is a balanced
// debit/credit pair between ledger accounts: a reservation is a pending
// transfer, a commit posts it, an abort or expiry voids it.
package doubleentry

import (
	"context"
	"fmt"
)

// AmountMax is the engine's maximum-amount sentinel. Posting a pending
// transfer with this amount means "post the full pending amount".
const AmountMax = ^uint64(0)

type AccountFlags uint16

const (
	// FlagDebitsMustNotExceedCredits makes the engine reject any transfer
	// that would take posted+pending debits past posted credits.
	FlagDebitsMustNotExceedCredits AccountFlags = 1 << iota
)

type TransferFlags uint16

const (
	FlagPending TransferFlags = 1 << iota
	FlagPostPending
	FlagVoidPending
)

// Account is one engine-side ledger account. All four balance columns are
// unsigned; the net settled value is credits posted minus debits posted.
type Account struct {
	ID             ID
	Ledger         uint32
	Code           uint16
	Flags          AccountFlags
	DebitsPending  uint64
	DebitsPosted   uint64
	CreditsPending uint64
	CreditsPosted  uint64
}

// Transfer is one engine-side movement. For post/void operations PendingID
// references the pending transfer being closed and Amount may be AmountMax.
type Transfer struct {
	ID              ID
	DebitAccountID  ID
	CreditAccountID ID
	Amount          uint64
	PendingID       ID
	Ledger          uint32
	Code            uint16
	Flags           TransferFlags
}

// ErrCode is the engine's closed error vocabulary for individual entries.
type ErrCode uint16

const (
	CodeOK ErrCode = iota
	CodeExists
	CodeAccountNotFound
	CodeLedgerMismatch
	CodeZeroAmount
	CodeExceedsCapacity
	CodePendingNotFound
	CodePendingAlreadyPosted
	CodePendingAlreadyVoided
	CodeAmountMismatch
)

func (c ErrCode) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeExists:
		return "exists"
	case CodeAccountNotFound:
		return "account_not_found"
	case CodeLedgerMismatch:
		return "ledger_mismatch"
	case CodeZeroAmount:
		return "zero_amount"
	case CodeExceedsCapacity:
		return "exceeds_capacity"
	case CodePendingNotFound:
		return "pending_not_found"
	case CodePendingAlreadyPosted:
		return "pending_already_posted"
	case CodePendingAlreadyVoided:
		return "pending_already_voided"
	case CodeAmountMismatch:
		return "amount_mismatch"
	}
	return fmt.Sprintf("code(%d)", uint16(c))
}

// EventError reports a failure for a single entry of a batch call; entries
// without a reported error succeeded.
type EventError struct {
	Index int
	Code  ErrCode
}

// EngineError is the error form of a per-entry code, returned to batch
// callers so they can switch on the code.
type EngineError struct {
	Code ErrCode
}

func (e *EngineError) Error() string {
	return "accounting engine: " + e.Code.String()
}

// Client is the narrow surface of the external accounting engine. Batch calls
// return a sparse list of per-index errors for the failed entries only; a
// non-nil error means the whole call failed and nothing can be assumed
// applied.
type Client interface {
	CreateAccounts(ctx context.Context, accounts []Account) ([]EventError, error)
	CreateTransfers(ctx context.Context, transfers []Transfer) ([]EventError, error)
	LookupAccounts(ctx context.Context, ids []ID) ([]Account, error)
}
