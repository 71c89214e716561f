package repository

import (
	"context"
	"errors"
	"time"

	"ledgerhub/internal/model"

	"gorm.io/gorm"
)

var ErrWindowNotOpen = errors.New("settlement window is not open")

type SettlementRepository struct {
	db *gorm.DB
}

func NewSettlementRepository(db *gorm.DB) *SettlementRepository {
	return &SettlementRepository{db: db}
}

func (r *SettlementRepository) GetWindowsByIDs(ctx context.Context, ids []int64) ([]*model.SettlementWindow, error) {
	var windows []*model.SettlementWindow
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&windows).Error
	return windows, err
}

func (r *SettlementRepository) ListWindows(ctx context.Context, state string, limit int) ([]*model.SettlementWindow, error) {
	query := r.db.WithContext(ctx).Model(&model.SettlementWindow{})
	if state != "" {
		query = query.Where("state = ?", state)
	}
	if limit <= 0 {
		limit = 100
	}

	var windows []*model.SettlementWindow
	err := query.Order("id DESC").Limit(limit).Find(&windows).Error
	return windows, err
}

// CloseWindow atomically closes the referenced OPEN window and opens the next
// one. If no window exists yet and id 1 is requested, window 1 is first
// created with openedAt at the epoch so it covers all activity since the
// beginning. Returns the closed window and the newly opened one.
func (r *SettlementRepository) CloseWindow(ctx context.Context, id int64, reason string, now time.Time) (*model.SettlementWindow, *model.SettlementWindow, error) {
	var closed, opened *model.SettlementWindow

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&model.SettlementWindow{}).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			if id != 1 {
				return ErrWindowNotFound
			}
			first := &model.SettlementWindow{
				ID:       1,
				State:    model.WindowStateOpen,
				Reason:   "initial window",
				OpenedAt: time.Unix(0, 0).UTC(),
			}
			if err := tx.Create(first).Error; err != nil {
				return err
			}
		}

		result := tx.Model(&model.SettlementWindow{}).
			Where("id = ? AND state = ?", id, model.WindowStateOpen).
			Updates(map[string]interface{}{
				"state":     model.WindowStateClosed,
				"reason":    reason,
				"closed_at": now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			var window model.SettlementWindow
			if err := tx.Where("id = ?", id).First(&window).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrWindowNotFound
				}
				return err
			}
			return ErrWindowNotOpen
		}

		next := &model.SettlementWindow{
			State:    model.WindowStateOpen,
			Reason:   "New settlement window opened",
			OpenedAt: now,
		}
		if err := tx.Create(next).Error; err != nil {
			return err
		}
		opened = next

		var window model.SettlementWindow
		if err := tx.Where("id = ?", id).First(&window).Error; err != nil {
			return err
		}
		closed = &window
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return closed, opened, nil
}

// SetWindowsState conditionally moves every window in ids from one state to
// another; fails if any window is not in the expected source state.
func (r *SettlementRepository) SetWindowsState(ctx context.Context, ids []int64, from, to string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&model.SettlementWindow{}).
			Where("id IN ? AND state = ?", ids, from).
			Update("state", to)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected != int64(len(ids)) {
			return ErrWindowNotOpen
		}
		return nil
	})
}

func (r *SettlementRepository) CreateModel(ctx context.Context, m *model.SettlementModel) error {
	return translateDuplicate(r.db.WithContext(ctx).Create(m).Error)
}

func (r *SettlementRepository) GetModel(ctx context.Context, name string) (*model.SettlementModel, error) {
	var m model.SettlementModel
	err := r.db.WithContext(ctx).Where("name = ?", name).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrModelNotFound
		}
		return nil, err
	}
	return &m, nil
}

// CreateSettlement persists the settlement row, its window references and all
// participant balances, and moves the covered windows to PENDING_SETTLEMENT,
// in one transaction.
func (r *SettlementRepository) CreateSettlement(ctx context.Context, settlement *model.Settlement, windowIDs []int64, balances []model.SettlementBalance) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(settlement).Error; err != nil {
			return err
		}

		for _, windowID := range windowIDs {
			ref := &model.SettlementWindowRef{SettlementID: settlement.ID, WindowID: windowID}
			if err := tx.Create(ref).Error; err != nil {
				return translateDuplicate(err)
			}
		}

		for i := range balances {
			balances[i].SettlementID = settlement.ID
			if err := tx.Create(&balances[i]).Error; err != nil {
				return err
			}
		}

		result := tx.Model(&model.SettlementWindow{}).
			Where("id IN ? AND state = ?", windowIDs, model.WindowStateClosed).
			Update("state", model.WindowStatePendingSettlement)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected != int64(len(windowIDs)) {
			return ErrWindowNotOpen
		}
		return nil
	})
}

func (r *SettlementRepository) GetSettlement(ctx context.Context, id int64) (*model.Settlement, []model.SettlementBalance, []int64, error) {
	var settlement model.Settlement
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&settlement).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, nil, ErrSettlementNotFound
		}
		return nil, nil, nil, err
	}

	var balances []model.SettlementBalance
	if err := r.db.WithContext(ctx).
		Where("settlement_id = ?", id).
		Order("participant ASC").
		Find(&balances).Error; err != nil {
		return nil, nil, nil, err
	}

	var refs []model.SettlementWindowRef
	if err := r.db.WithContext(ctx).
		Where("settlement_id = ?", id).
		Order("window_id ASC").
		Find(&refs).Error; err != nil {
		return nil, nil, nil, err
	}

	windowIDs := make([]int64, 0, len(refs))
	for _, ref := range refs {
		windowIDs = append(windowIDs, ref.WindowID)
	}
	return &settlement, balances, windowIDs, nil
}

// UpdateBalanceState performs the state-guarded transition of one participant
// leg; returns false when the leg was not in the expected source state.
func (r *SettlementRepository) UpdateBalanceState(ctx context.Context, settlementID int64, participant, currency, from, to string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.SettlementBalance{}).
		Where("settlement_id = ? AND participant = ? AND currency = ? AND state = ?",
			settlementID, participant, currency, from).
		Update("state", to)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *SettlementRepository) UpdateSettlementState(ctx context.Context, id int64, from, to string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.Settlement{}).
		Where("id = ? AND state = ?", id, from).
		Update("state", to)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
