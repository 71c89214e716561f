package repository

import (
	"context"
	"errors"

	"ledgerhub/internal/model"

	"gorm.io/gorm"
)

// DuplicateRepository backs the prepare-side duplicate detector. The unique
// index on transfer_id is the storage-level constraint that gives exactly-once
// record creation under concurrency.
type DuplicateRepository struct {
	db *gorm.DB
}

func NewDuplicateRepository(db *gorm.DB) *DuplicateRepository {
	return &DuplicateRepository{db: db}
}

// Insert returns ErrDuplicateRecord when a record for transferID already
// exists; exactly one concurrent creator succeeds.
func (r *DuplicateRepository) Insert(ctx context.Context, transferID, hash string) error {
	record := &model.DuplicateCheck{TransferID: transferID, Hash: hash}
	return translateDuplicate(r.db.WithContext(ctx).Create(record).Error)
}

func (r *DuplicateRepository) Get(ctx context.Context, transferID string) (string, bool, error) {
	var record model.DuplicateCheck
	err := r.db.WithContext(ctx).Where("transfer_id = ?", transferID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return record.Hash, true, nil
}

// FulfilDuplicateRepository is the fulfil/abort-side counterpart, kept as a
// separate table so the two policies never interfere.
type FulfilDuplicateRepository struct {
	db *gorm.DB
}

func NewFulfilDuplicateRepository(db *gorm.DB) *FulfilDuplicateRepository {
	return &FulfilDuplicateRepository{db: db}
}

func (r *FulfilDuplicateRepository) Insert(ctx context.Context, transferID, hash string) error {
	record := &model.FulfilDuplicateCheck{TransferID: transferID, Hash: hash}
	return translateDuplicate(r.db.WithContext(ctx).Create(record).Error)
}

func (r *FulfilDuplicateRepository) Get(ctx context.Context, transferID string) (string, bool, error) {
	var record model.FulfilDuplicateCheck
	err := r.db.WithContext(ctx).Where("transfer_id = ?", transferID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return record.Hash, true, nil
}
