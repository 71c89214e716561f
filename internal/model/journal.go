package model

import (
	"time"
)

const (
	EntryKindReserve    = "RESERVE"
	EntryKindCommit     = "COMMIT"
	EntryKindRelease    = "RELEASE"
	EntryKindDeposit    = "DEPOSIT"
	EntryKindWithdraw   = "WITHDRAW"
	EntryKindSettlement = "SETTLEMENT"
)

// JournalEntry is one row of the append-only audit trail. Entries are only
// ever inserted, inside the same transaction as the balance mutation they
// describe, and record the before/after values so balances can be replayed
// and reconciled.
type JournalEntry struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	EntryNo        string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"entry_no"`
	TransferID     string    `gorm:"type:varchar(64);index;not null" json:"transfer_id"`
	AccountID      int64     `gorm:"index;not null" json:"account_id"`
	Amount         int64     `gorm:"not null" json:"amount"` // signed, minor units
	Kind           string    `gorm:"type:varchar(20);not null" json:"kind"`
	BalanceBefore  int64     `gorm:"not null" json:"balance_before"`
	BalanceAfter   int64     `gorm:"not null" json:"balance_after"`
	ReservedBefore int64     `gorm:"not null" json:"reserved_before"`
	ReservedAfter  int64     `gorm:"not null" json:"reserved_after"`
	Remark         string    `gorm:"type:varchar(256)" json:"remark"`
	CreatedAt      time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (JournalEntry) TableName() string {
	return "journal_entry"
}
