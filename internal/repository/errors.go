package repository

import (
	"errors"

	"gorm.io/gorm"
)

var (
	ErrDuplicateRecord     = errors.New("duplicate record")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrAccountNotFound     = errors.New("account not found")
	ErrTransferNotFound    = errors.New("transfer not found")
	ErrWindowNotFound      = errors.New("settlement window not found")
	ErrSettlementNotFound  = errors.New("settlement not found")
	ErrModelNotFound       = errors.New("settlement model not found")
)

// translateDuplicate maps the driver's unique-constraint violation onto the
// package sentinel. Requires TranslateError to be enabled on the gorm session.
func translateDuplicate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateRecord
	}
	return err
}
