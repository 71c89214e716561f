package repository

import (
	"context"
	"errors"

	"ledgerhub/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ParticipantRepository struct {
	db *gorm.DB
}

func NewParticipantRepository(db *gorm.DB) *ParticipantRepository {
	return &ParticipantRepository{db: db}
}

func (r *ParticipantRepository) Create(ctx context.Context, p *model.Participant) error {
	return translateDuplicate(r.db.WithContext(ctx).Create(p).Error)
}

// GetOrCreate inserts the participant if absent, racing safely on the unique
// name index.
func (r *ParticipantRepository) GetOrCreate(ctx context.Context, name string) (*model.Participant, error) {
	p, err := r.GetByName(ctx, name)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrParticipantNotFound) {
		return nil, err
	}

	created := &model.Participant{Name: name, IsActive: true}
	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoNothing: true,
		}).
		Create(created).Error
	if err != nil {
		return nil, err
	}

	return r.GetByName(ctx, name)
}

func (r *ParticipantRepository) GetByName(ctx context.Context, name string) (*model.Participant, error) {
	var p model.Participant
	err := r.db.WithContext(ctx).Where("name = ?", name).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrParticipantNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *ParticipantRepository) SetActive(ctx context.Context, name string, active bool) error {
	result := r.db.WithContext(ctx).
		Model(&model.Participant{}).
		Where("name = ?", name).
		Update("is_active", active)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrParticipantNotFound
	}
	return nil
}

func (r *ParticipantRepository) CreateAccount(ctx context.Context, account *model.Account) error {
	return translateDuplicate(r.db.WithContext(ctx).Create(account).Error)
}

// GetAccount resolves an account by participant name, currency and type.
func (r *ParticipantRepository) GetAccount(ctx context.Context, name, currency, accountType string) (*model.Account, error) {
	var account model.Account
	err := r.db.WithContext(ctx).
		Joins("JOIN participant ON participant.id = account.participant_id").
		Where("participant.name = ? AND account.currency = ? AND account.type = ?", name, currency, accountType).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (r *ParticipantRepository) SetAccountActive(ctx context.Context, name, currency, accountType string, active bool) error {
	account, err := r.GetAccount(ctx, name, currency, accountType)
	if err != nil {
		return err
	}

	return r.db.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ?", account.ID).
		Update("is_active", active).Error
}

// SetCapLimit records the net debit cap on the account metadata row and
// returns the previous value so the caller can compute the granted delta.
func (r *ParticipantRepository) SetCapLimit(ctx context.Context, name, currency string, limit int64) (previous int64, err error) {
	account, err := r.GetAccount(ctx, name, currency, model.AccountTypePosition)
	if err != nil {
		return 0, err
	}

	result := r.db.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ? AND cap_limit = ?", account.ID, account.CapLimit).
		Updates(map[string]interface{}{
			"cap_limit": limit,
			"version":   gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected == 0 {
		// Lost a concurrent cap update; caller retries with fresh state.
		return 0, ErrDuplicateRecord
	}
	return account.CapLimit, nil
}
