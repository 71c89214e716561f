package model

import (
	"time"
)

// DuplicateCheck pins a transfer id to the content hash of the first prepare
// request seen for it. Created once, never overwritten; the unique index on
// TransferID is what makes concurrent creators race safely (exactly one
// insert wins, the loser re-reads and compares hashes).
type DuplicateCheck struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TransferID string    `gorm:"type:varchar(36);uniqueIndex;not null" json:"transfer_id"`
	Hash       string    `gorm:"type:varchar(64);not null" json:"hash"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (DuplicateCheck) TableName() string {
	return "duplicate_check"
}

// FulfilDuplicateCheck is the same record for fulfil/abort bodies, kept in a
// separate table so the prepare and fulfil policies are independent.
type FulfilDuplicateCheck struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TransferID string    `gorm:"type:varchar(36);uniqueIndex;not null" json:"transfer_id"`
	Hash       string    `gorm:"type:varchar(64);not null" json:"hash"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (FulfilDuplicateCheck) TableName() string {
	return "fulfil_duplicate_check"
}
