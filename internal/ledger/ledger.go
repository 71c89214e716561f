package ledger

import (
	"context"
	"time"
)

// AccountRef identifies an account by its logical key, independent of which
// backend holds the funds.
type AccountRef struct {
	Participant string
	Currency    string
	Type        string
}

// Balance is the externally observable state of one account.
type Balance struct {
	Settled  int64
	Reserved int64
}

// ReserveResult is the closed outcome of a reservation attempt.
type ReserveResult int

const (
	ReservePass ReserveResult = iota + 1
	ReserveInsufficient
)

// CreateAccountOpts controls how a backend materializes an account.
type CreateAccountOpts struct {
	// EnforceCap makes the backend reject reservations that would exceed the
	// account's usable capacity. Set for POSITION accounts.
	EnforceCap bool
}

// AccountStore is the fund-movement contract implemented once per backend
// (relational tables, double-entry accounting engine). Both implementations
// must be externally indistinguishable: a reservation never under- or
// over-reserves, and Post/Release retried with the same transfer id are
// no-ops.
type AccountStore interface {
	// CreateAccount materializes the backing account for ref. Idempotent.
	CreateAccount(ctx context.Context, ref AccountRef, opts CreateAccountOpts) error

	// AdjustCapacity grants (delta > 0) or revokes (delta < 0) reservable
	// capacity on ref, keyed by reference for idempotency.
	AdjustCapacity(ctx context.Context, ref AccountRef, delta int64, reference string) error

	// Reserve holds amount against the payer's usable capacity without
	// touching settled balances. The liquidity check and the hold are atomic
	// with respect to concurrent reservations on the same account.
	Reserve(ctx context.Context, transferID string, payer, payee AccountRef, amount int64) (ReserveResult, error)

	// Post closes the reservation identified by transferID at its full
	// amount, moving settled balance from payer to payee.
	Post(ctx context.Context, transferID string, payer, payee AccountRef, amount int64) error

	// Release voids the reservation identified by transferID with zero net
	// balance change. Releasing a reservation that does not exist is a no-op.
	Release(ctx context.Context, transferID string, payer, payee AccountRef, amount int64) error

	// Settle applies an immediate settled-balance movement (no reservation
	// phase), keyed by reference for idempotency. Used for deposits and
	// settlement postings, which represent operator-confirmed external money.
	Settle(ctx context.Context, reference string, debit, credit AccountRef, amount int64) error

	// Balance returns the settled and reserved values for ref.
	Balance(ctx context.Context, ref AccountRef) (Balance, error)
}

// PrepareRequest is a decoded transfer-prepare command.
type PrepareRequest struct {
	TransferID string    `json:"transfer_id"`
	PayerID    string    `json:"payer_id"`
	PayeeID    string    `json:"payee_id"`
	Currency   string    `json:"currency"`
	Amount     string    `json:"amount"` // decimal string, currency-scaled
	Condition  string    `json:"condition"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// FulfilRequest is a decoded transfer-fulfil or transfer-abort command.
// Source and Destination carry the sender identity headers.
type FulfilRequest struct {
	TransferID  string `json:"transfer_id"`
	Fulfilment  string `json:"fulfilment,omitempty"`
	Abort       bool   `json:"abort,omitempty"`
	AbortReason string `json:"abort_reason,omitempty"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

// BalanceUpdate advances one participant leg of a settlement.
type BalanceUpdate struct {
	Participant string `json:"participant"`
	Currency    string `json:"currency"`
	State       string `json:"state"`
	Reason      string `json:"reason,omitempty"`
}

// WindowFilter narrows a settlement-window listing.
type WindowFilter struct {
	State string
	Limit int
}

// Ledger is the single facade the rest of the system depends on. Every
// operation returns a closed tagged result (or a typed *Error) rather than
// raising for expected business outcomes.
type Ledger interface {
	// Onboarding.
	CreateHubAccount(ctx context.Context, currency, settlementModel string) error
	CreateDfsp(ctx context.Context, name string, currencies []string, deposits map[string]string) error
	SetDfspActive(ctx context.Context, name string, active bool) error
	SetAccountActive(ctx context.Context, name, currency, accountType string, active bool) error
	Deposit(ctx context.Context, transferID, name, currency, amount, reason string) error
	WithdrawPrepare(ctx context.Context, transferID, name, currency, amount string) error
	WithdrawCommit(ctx context.Context, transferID string) error
	WithdrawAbort(ctx context.Context, transferID string) error
	SetNetDebitCap(ctx context.Context, name, currency, amount string) error
	GetBalance(ctx context.Context, name, currency, accountType string) (Balance, error)

	// Clearing.
	Prepare(ctx context.Context, req PrepareRequest) PrepareResult
	Fulfil(ctx context.Context, req FulfilRequest) FulfilResult
	SweepTimedOut(ctx context.Context) SweepResult
	LookupTransfer(ctx context.Context, transferID string) LookupResult

	// Settlement.
	GetSettlementWindows(ctx context.Context, filter WindowFilter) ([]WindowView, error)
	CloseSettlementWindow(ctx context.Context, id int64, reason string) (*WindowView, error)
	SettlementPrepare(ctx context.Context, windowIDs []int64, model, reason string) (*SettlementView, error)
	SettlementUpdate(ctx context.Context, id int64, updates []BalanceUpdate) (*SettlementView, error)
	SettlementAbort(ctx context.Context, id int64, reason string) error
	GetSettlement(ctx context.Context, id int64) (*SettlementView, error)
}
