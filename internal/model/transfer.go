package model

import (
	"time"
)

const (
	TransferStateReceived        = "RECEIVED"
	TransferStateReserved        = "RESERVED"
	TransferStateCommitted       = "COMMITTED"
	TransferStateAborted         = "ABORTED"
	TransferStateExpiredReserved = "EXPIRED_RESERVED"
	TransferStateExpiredPrepared = "EXPIRED_PREPARED"
)

// ValidTransferTransitions is the clearing state machine. Terminal states have
// no outgoing edges; every transition in the store is a conditional update
// guarded by the expected source state, so no transition can run twice.
var ValidTransferTransitions = map[string][]string{
	TransferStateReceived: {TransferStateReserved, TransferStateAborted, TransferStateExpiredPrepared},
	TransferStateReserved: {TransferStateCommitted, TransferStateAborted, TransferStateExpiredReserved},
}

func CanTransferTransition(from, to string) bool {
	for _, s := range ValidTransferTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsFinalTransferState reports whether a state has no outgoing transitions.
func IsFinalTransferState(state string) bool {
	switch state {
	case TransferStateCommitted, TransferStateAborted,
		TransferStateExpiredReserved, TransferStateExpiredPrepared:
		return true
	}
	return false
}

// Transfer kinds. Deposits and withdrawals reuse the transfer lifecycle with
// the hub as counterparty, so they inherit the same idempotency guarantees.
const (
	TransferKindClearing = "CLEARING"
	TransferKindDeposit  = "DEPOSIT"
	TransferKindWithdraw = "WITHDRAW"
)

// Transfer is one money movement between a payer and a payee. Amount is in
// minor units of Currency; the decimal string form is reconstructed from the
// currency scale when needed.
type Transfer struct {
	ID          int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	TransferID  string     `gorm:"type:varchar(36);uniqueIndex;not null" json:"transfer_id"`
	Kind        string     `gorm:"type:varchar(16);not null;default:CLEARING" json:"kind"`
	PayerID     string     `gorm:"type:varchar(64);index;not null" json:"payer_id"`
	PayeeID     string     `gorm:"type:varchar(64);index;not null" json:"payee_id"`
	Currency    string     `gorm:"type:varchar(3);not null" json:"currency"`
	Amount      int64      `gorm:"not null" json:"amount"`
	Condition   string     `gorm:"type:varchar(64)" json:"condition"`
	Fulfilment  string     `gorm:"type:varchar(64)" json:"fulfilment"` // set only when COMMITTED
	State       string     `gorm:"type:varchar(20);index;not null" json:"state"`
	ErrorReason string     `gorm:"type:varchar(256)" json:"error_reason"`
	ExpiresAt   time.Time  `gorm:"index;not null" json:"expires_at"`
	CompletedAt *time.Time `gorm:"index" json:"completed_at"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Transfer) TableName() string {
	return "transfer"
}
