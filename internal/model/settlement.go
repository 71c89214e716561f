package model

import (
	"time"
)

const (
	WindowStateOpen              = "OPEN"
	WindowStateClosed            = "CLOSED"
	WindowStatePendingSettlement = "PENDING_SETTLEMENT"
	WindowStateSettled           = "SETTLED"
	WindowStateAborted           = "ABORTED"
)

const (
	SettlementStatePending    = "PENDING"
	SettlementStateProcessing = "PROCESSING"
	SettlementStateCommitted  = "COMMITTED"
	SettlementStateAborted    = "ABORTED"
)

const (
	SettlementBalanceStatePending   = "PENDING"
	SettlementBalanceStateReserved  = "RESERVED"
	SettlementBalanceStateCommitted = "COMMITTED"
	SettlementBalanceStateSettled   = "SETTLED"
	SettlementBalanceStateAborted   = "ABORTED"
)

// ValidSettlementBalanceTransitions drives the per-participant leg of a
// settlement, mirroring the bank confirmation sequence.
var ValidSettlementBalanceTransitions = map[string][]string{
	SettlementBalanceStatePending:   {SettlementBalanceStateReserved, SettlementBalanceStateAborted},
	SettlementBalanceStateReserved:  {SettlementBalanceStateCommitted, SettlementBalanceStateAborted},
	SettlementBalanceStateCommitted: {SettlementBalanceStateSettled},
}

func CanSettlementBalanceTransition(from, to string) bool {
	for _, s := range ValidSettlementBalanceTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// SettlementWindow is a bounded interval of clearing activity. Exactly one
// window is OPEN at a time; closing it atomically opens the next one. Window
// id 1 is created lazily (opened at the epoch) on the first-ever close so
// "since the beginning" queries always have a lower bound.
type SettlementWindow struct {
	ID        int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	State     string     `gorm:"type:varchar(24);index;not null" json:"state"`
	Reason    string     `gorm:"type:varchar(256)" json:"reason"`
	OpenedAt  time.Time  `gorm:"not null" json:"opened_at"`
	ClosedAt  *time.Time `json:"closed_at"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (SettlementWindow) TableName() string {
	return "settlement_window"
}

// SettlementModel binds a settlement model name to the currency it settles.
type SettlementModel struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"name"`
	Currency  string    `gorm:"type:varchar(3);not null" json:"currency"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (SettlementModel) TableName() string {
	return "settlement_model"
}

// Settlement is one multilateral net settlement over a set of closed windows.
type Settlement struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Model     string    `gorm:"type:varchar(64);not null" json:"model"`
	Currency  string    `gorm:"type:varchar(3);not null" json:"currency"`
	Reason    string    `gorm:"type:varchar(256)" json:"reason"`
	State     string    `gorm:"type:varchar(20);index;not null" json:"state"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Settlement) TableName() string {
	return "settlement"
}

// SettlementWindowRef joins a settlement to the windows it covers.
type SettlementWindowRef struct {
	ID           int64 `gorm:"primaryKey;autoIncrement" json:"id"`
	SettlementID int64 `gorm:"not null;uniqueIndex:idx_settlement_window" json:"settlement_id"`
	WindowID     int64 `gorm:"not null;uniqueIndex:idx_settlement_window" json:"window_id"`
}

func (SettlementWindowRef) TableName() string {
	return "settlement_window_ref"
}

// SettlementBalance is one participant's leg of a settlement. Owing and Owed
// accumulate additively across the covered windows; NetAmount = Owed - Owing.
// The signed sum of NetAmount across all legs of one settlement is zero.
type SettlementBalance struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	SettlementID  int64     `gorm:"not null;uniqueIndex:idx_settlement_participant" json:"settlement_id"`
	Participant   string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_settlement_participant" json:"participant"`
	Currency      string    `gorm:"type:varchar(3);not null;uniqueIndex:idx_settlement_participant" json:"currency"`
	Owing         int64     `gorm:"not null" json:"owing"`
	Owed          int64     `gorm:"not null" json:"owed"`
	NetAmount     int64     `gorm:"not null" json:"net_amount"`
	State         string    `gorm:"type:varchar(20);not null" json:"state"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (SettlementBalance) TableName() string {
	return "settlement_balance"
}
