package repository

import (
	"context"
	"errors"
	"time"

	"ledgerhub/internal/model"

	"gorm.io/gorm"
)

type TransferRepository struct {
	db *gorm.DB
}

func NewTransferRepository(db *gorm.DB) *TransferRepository {
	return &TransferRepository{db: db}
}

func (r *TransferRepository) Create(ctx context.Context, transfer *model.Transfer) error {
	return translateDuplicate(r.db.WithContext(ctx).Create(transfer).Error)
}

// GetByTransferID returns (nil, nil) when the transfer does not exist.
func (r *TransferRepository) GetByTransferID(ctx context.Context, transferID string) (*model.Transfer, error) {
	var transfer model.Transfer
	err := r.db.WithContext(ctx).Where("transfer_id = ?", transferID).First(&transfer).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &transfer, nil
}

// TransitionState performs a state-guarded conditional update. It returns
// false without error when the transfer was not in the expected source state,
// which is how concurrent fulfils and sweeps lose the race harmlessly.
func (r *TransferRepository) TransitionState(ctx context.Context, transferID, from, to string) (bool, error) {
	if !model.CanTransferTransition(from, to) {
		return false, nil
	}

	result := r.db.WithContext(ctx).
		Model(&model.Transfer{}).
		Where("transfer_id = ? AND state = ?", transferID, from).
		Update("state", to)

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// MarkCommitted transitions RESERVED -> COMMITTED and records the fulfilment.
func (r *TransferRepository) MarkCommitted(ctx context.Context, transferID, fulfilment string, completedAt time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.Transfer{}).
		Where("transfer_id = ? AND state = ?", transferID, model.TransferStateReserved).
		Updates(map[string]interface{}{
			"state":        model.TransferStateCommitted,
			"fulfilment":   fulfilment,
			"completed_at": completedAt,
		})

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// MarkTerminal transitions from -> to (a terminal state) with a reason.
func (r *TransferRepository) MarkTerminal(ctx context.Context, transferID, from, to, reason string, completedAt time.Time) (bool, error) {
	if !model.CanTransferTransition(from, to) {
		return false, nil
	}

	result := r.db.WithContext(ctx).
		Model(&model.Transfer{}).
		Where("transfer_id = ? AND state = ?", transferID, from).
		Updates(map[string]interface{}{
			"state":        to,
			"error_reason": reason,
			"completed_at": completedAt,
		})

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// RecordError stores a failure reason without changing state, so later
// duplicate lookups see what happened.
func (r *TransferRepository) RecordError(ctx context.Context, transferID, reason string) error {
	return r.db.WithContext(ctx).
		Model(&model.Transfer{}).
		Where("transfer_id = ?", transferID).
		Update("error_reason", reason).Error
}

// FindExpired returns transfers past their expiration that are still in a
// non-final state, oldest first.
func (r *TransferRepository) FindExpired(ctx context.Context, now time.Time, limit int) ([]*model.Transfer, error) {
	var transfers []*model.Transfer
	err := r.db.WithContext(ctx).
		Where("state IN ? AND expires_at < ?",
			[]string{model.TransferStateReceived, model.TransferStateReserved}, now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&transfers).Error
	return transfers, err
}

// ParticipantActivity is one participant's summed committed clearing activity.
type ParticipantActivity struct {
	Participant string
	Amount      int64
}

// SumCommittedByPayer sums committed clearing transfers per payer with
// completed_at in [from, to).
func (r *TransferRepository) SumCommittedByPayer(ctx context.Context, currency string, from, to time.Time) ([]ParticipantActivity, error) {
	var rows []ParticipantActivity
	err := r.db.WithContext(ctx).
		Model(&model.Transfer{}).
		Select("payer_id AS participant, SUM(amount) AS amount").
		Where("state = ? AND kind = ? AND currency = ? AND completed_at >= ? AND completed_at < ?",
			model.TransferStateCommitted, model.TransferKindClearing, currency, from, to).
		Group("payer_id").
		Scan(&rows).Error
	return rows, err
}

// SumCommittedByPayee is the payee-side counterpart of SumCommittedByPayer.
func (r *TransferRepository) SumCommittedByPayee(ctx context.Context, currency string, from, to time.Time) ([]ParticipantActivity, error) {
	var rows []ParticipantActivity
	err := r.db.WithContext(ctx).
		Model(&model.Transfer{}).
		Select("payee_id AS participant, SUM(amount) AS amount").
		Where("state = ? AND kind = ? AND currency = ? AND completed_at >= ? AND completed_at < ?",
			model.TransferStateCommitted, model.TransferKindClearing, currency, from, to).
		Group("payee_id").
		Scan(&rows).Error
	return rows, err
}
