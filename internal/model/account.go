package model

import (
	"time"
)

// HubName is the reserved participant name for the switch operator.
const HubName = "hub"

const (
	AccountTypePosition          = "POSITION"
	AccountTypeSettlement        = "SETTLEMENT"
	AccountTypeHubReconciliation = "HUB_RECONCILIATION"
)

// Participant is a DFSP (or the hub) registered with the switch.
type Participant struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"name"`
	IsActive  bool      `gorm:"not null;default:1" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Participant) TableName() string {
	return "participant"
}

// Account holds one (participant, currency, type) balance. Balance and
// Reserved are minor units. For POSITION accounts the usable clearing
// capacity is Balance + CapLimit - Reserved; both the liquidity check and the
// reservation happen in a single conditional UPDATE against this row.
type Account struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ParticipantID int64     `gorm:"not null;uniqueIndex:idx_account_key" json:"participant_id"`
	Currency      string    `gorm:"type:varchar(3);not null;uniqueIndex:idx_account_key" json:"currency"`
	Type          string    `gorm:"type:varchar(24);not null;uniqueIndex:idx_account_key" json:"type"`
	Balance       int64     `gorm:"not null;default:0" json:"balance"`
	Reserved      int64     `gorm:"not null;default:0" json:"reserved"`
	CapLimit      int64     `gorm:"not null;default:0" json:"cap_limit"` // net debit cap, POSITION only
	IsActive      bool      `gorm:"not null;default:1" json:"is_active"`
	Version       int       `gorm:"not null;default:0" json:"version"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "account"
}

const (
	ReservationStateReserved = "RESERVED"
	ReservationStatePosted   = "POSTED"
	ReservationStateReleased = "RELEASED"
)

// Reservation tracks one held amount per transfer for the relational backend.
// The unique index on TransferID makes reserve idempotent, and the state
// column makes post/release no-ops when retried with the same id.
type Reservation struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TransferID string    `gorm:"type:varchar(36);uniqueIndex;not null" json:"transfer_id"`
	AccountID  int64     `gorm:"index;not null" json:"account_id"`
	Amount     int64     `gorm:"not null" json:"amount"`
	State      string    `gorm:"type:varchar(16);not null" json:"state"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Reservation) TableName() string {
	return "reservation"
}

// Posting records one immediate (non-pending) balance movement, keyed by a
// caller-supplied reference so retries are no-ops.
type Posting struct {
	ID              int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Reference       string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"reference"`
	DebitAccountID  int64     `gorm:"not null" json:"debit_account_id"`
	CreditAccountID int64     `gorm:"not null" json:"credit_account_id"`
	Amount          int64     `gorm:"not null" json:"amount"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Posting) TableName() string {
	return "posting"
}
