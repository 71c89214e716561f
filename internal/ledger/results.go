package ledger

import (
	"time"
)

// PrepareOutcome is the closed result set of a prepare attempt.
type PrepareOutcome int

const (
	PreparePass PrepareOutcome = iota + 1
	PrepareDuplicateFinal
	PrepareDuplicateNonFinal
	PrepareModified
	PrepareFailValidation
	PrepareFailLiquidity
	PrepareFailOther
)

func (o PrepareOutcome) String() string {
	switch o {
	case PreparePass:
		return "PASS"
	case PrepareDuplicateFinal:
		return "DUPLICATE_FINAL"
	case PrepareDuplicateNonFinal:
		return "DUPLICATE_NON_FINAL"
	case PrepareModified:
		return "MODIFIED"
	case PrepareFailValidation:
		return "FAIL_VALIDATION"
	case PrepareFailLiquidity:
		return "FAIL_LIQUIDITY"
	case PrepareFailOther:
		return "FAIL_OTHER"
	}
	return "UNKNOWN"
}

type PrepareResult struct {
	Outcome    PrepareOutcome
	TransferID string
	State      string   // transfer state after the operation, if recorded
	Reasons    []string // validation failure reasons
	Err        *Error
}

// FulfilOutcome is the closed result set of a fulfil/abort attempt.
// A duplicated fulfil against a non-final transfer also reports
// FulfilDuplicate with the current state; the caller acknowledges without
// reprocessing either way.
type FulfilOutcome int

const (
	FulfilPass FulfilOutcome = iota + 1
	FulfilDuplicate
	FulfilFailValidation
	FulfilFailOther
)

func (o FulfilOutcome) String() string {
	switch o {
	case FulfilPass:
		return "PASS"
	case FulfilDuplicate:
		return "DUPLICATE_FINAL"
	case FulfilFailValidation:
		return "FAIL_VALIDATION"
	case FulfilFailOther:
		return "FAIL_OTHER"
	}
	return "UNKNOWN"
}

type FulfilResult struct {
	Outcome    FulfilOutcome
	TransferID string
	State      string
	Err        *Error
}

// TimedOutTransfer describes one transfer expired by the sweep.
type TimedOutTransfer struct {
	TransferID string
	PayerID    string
	PayeeID    string
	Currency   string
	Amount     int64
	State      string // EXPIRED_RESERVED or EXPIRED_PREPARED
}

type SweepResult struct {
	TimedOut []TimedOutTransfer
	Err      *Error
}

// LookupOutcome is the closed result set of a transfer lookup.
type LookupOutcome int

const (
	LookupFoundFinal LookupOutcome = iota + 1
	LookupFoundNonFinal
	LookupNotFound
	LookupFailed
)

type TransferView struct {
	TransferID  string     `json:"transfer_id"`
	PayerID     string     `json:"payer_id"`
	PayeeID     string     `json:"payee_id"`
	Currency    string     `json:"currency"`
	Amount      string     `json:"amount"` // decimal string
	State       string     `json:"state"`
	Fulfilment  string     `json:"fulfilment,omitempty"`
	ErrorReason string     `json:"error_reason,omitempty"`
	ExpiresAt   time.Time  `json:"expires_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type LookupResult struct {
	Outcome  LookupOutcome
	Transfer *TransferView
	Err      *Error
}

type WindowView struct {
	ID       int64      `json:"id"`
	State    string     `json:"state"`
	Reason   string     `json:"reason"`
	OpenedAt time.Time  `json:"opened_at"`
	ClosedAt *time.Time `json:"closed_at,omitempty"`
}

type SettlementBalanceView struct {
	Participant string `json:"participant"`
	Currency    string `json:"currency"`
	Owing       string `json:"owing"`
	Owed        string `json:"owed"`
	NetAmount   string `json:"net_amount"` // owed - owing, decimal string
	State       string `json:"state"`
}

type SettlementView struct {
	ID       int64                   `json:"id"`
	Model    string                  `json:"model"`
	Currency string                  `json:"currency"`
	Reason   string                  `json:"reason"`
	State    string                  `json:"state"`
	Windows  []int64                 `json:"windows"`
	Balances []SettlementBalanceView `json:"balances"`
}
