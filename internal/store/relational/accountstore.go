// Package relational implements the fund-movement contract on MySQL rows.
// The liquidity check and the reservation are one conditional UPDATE, so
// concurrent prepares against the same account serialize on the row and can
// never jointly oversubscribe its capacity.
package relational

import (
	"context"
	"errors"
	"fmt"

	"ledgerhub/internal/ledger"
	"ledgerhub/internal/model"
	"ledgerhub/pkg/idgen"

	"gorm.io/gorm"
)

var errInsufficient = errors.New("insufficient capacity")

type AccountStore struct {
	db *gorm.DB
}

var _ ledger.AccountStore = (*AccountStore)(nil)

func NewAccountStore(db *gorm.DB) *AccountStore {
	return &AccountStore{db: db}
}

// CreateAccount verifies the metadata row exists. The account table doubles
// as the balance store for this backend, and the row itself is created by the
// onboarding flow.
func (s *AccountStore) CreateAccount(ctx context.Context, ref ledger.AccountRef, _ ledger.CreateAccountOpts) error {
	_, err := s.lookupAccount(ctx, s.db, ref)
	return err
}

// AdjustCapacity is a no-op here: the cap_limit column is the source of truth
// and is maintained by the onboarding flow; Reserve reads it directly.
func (s *AccountStore) AdjustCapacity(ctx context.Context, ref ledger.AccountRef, delta int64, reference string) error {
	return nil
}

func (s *AccountStore) Reserve(ctx context.Context, transferID string, payer, payee ledger.AccountRef, amount int64) (ledger.ReserveResult, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.lookupAccount(ctx, tx, payer)
		if err != nil {
			return err
		}

		reservation := &model.Reservation{
			TransferID: transferID,
			AccountID:  account.ID,
			Amount:     amount,
			State:      model.ReservationStateReserved,
		}
		if err := tx.Create(reservation).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				// Same transfer reserved before; retried reserve is a no-op.
				return nil
			}
			return err
		}

		// Liquidity check and hold in one statement: usable capacity is
		// balance + cap_limit - reserved.
		result := tx.Model(&model.Account{}).
			Where("id = ? AND is_active = 1 AND balance + cap_limit - reserved >= ?", account.ID, amount).
			Updates(map[string]interface{}{
				"reserved": gorm.Expr("reserved + ?", amount),
				"version":  gorm.Expr("version + 1"),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return errInsufficient
		}

		return s.writeJournal(ctx, tx, account.ID, transferID, model.EntryKindReserve, 0, amount, "")
	})
	if err != nil {
		if errors.Is(err, errInsufficient) {
			return ledger.ReserveInsufficient, nil
		}
		return 0, err
	}
	return ledger.ReservePass, nil
}

func (s *AccountStore) Post(ctx context.Context, transferID string, payer, payee ledger.AccountRef, amount int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		done, err := s.closeReservation(ctx, tx, transferID, model.ReservationStatePosted)
		if err != nil || done {
			return err
		}

		payerAccount, err := s.lookupAccount(ctx, tx, payer)
		if err != nil {
			return err
		}
		payeeAccount, err := s.lookupAccount(ctx, tx, payee)
		if err != nil {
			return err
		}

		result := tx.Model(&model.Account{}).
			Where("id = ? AND reserved >= ?", payerAccount.ID, amount).
			Updates(map[string]interface{}{
				"balance":  gorm.Expr("balance - ?", amount),
				"reserved": gorm.Expr("reserved - ?", amount),
				"version":  gorm.Expr("version + 1"),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ledger.InvariantError(fmt.Sprintf("posting %s would release more than is reserved", transferID))
		}

		result = tx.Model(&model.Account{}).
			Where("id = ?", payeeAccount.ID).
			Updates(map[string]interface{}{
				"balance": gorm.Expr("balance + ?", amount),
				"version": gorm.Expr("version + 1"),
			})
		if result.Error != nil {
			return result.Error
		}

		if err := s.writeJournal(ctx, tx, payerAccount.ID, transferID, model.EntryKindCommit, -amount, -amount, ""); err != nil {
			return err
		}
		return s.writeJournal(ctx, tx, payeeAccount.ID, transferID, model.EntryKindCommit, amount, 0, "")
	})
}

func (s *AccountStore) Release(ctx context.Context, transferID string, payer, payee ledger.AccountRef, amount int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var reservation model.Reservation
		err := tx.Where("transfer_id = ?", transferID).First(&reservation).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				// Nothing was ever reserved; releasing is a no-op.
				return nil
			}
			return err
		}

		result := tx.Model(&model.Reservation{}).
			Where("transfer_id = ? AND state = ?", transferID, model.ReservationStateReserved).
			Update("state", model.ReservationStateReleased)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			switch reservation.State {
			case model.ReservationStateReleased:
				return nil
			default:
				return ledger.InvalidStateError(fmt.Sprintf("reservation %s already posted", transferID))
			}
		}

		result = tx.Model(&model.Account{}).
			Where("id = ? AND reserved >= ?", reservation.AccountID, amount).
			Updates(map[string]interface{}{
				"reserved": gorm.Expr("reserved - ?", amount),
				"version":  gorm.Expr("version + 1"),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ledger.InvariantError(fmt.Sprintf("releasing %s would drop reserved below zero", transferID))
		}

		return s.writeJournal(ctx, tx, reservation.AccountID, transferID, model.EntryKindRelease, 0, -amount, "")
	})
}

func (s *AccountStore) Settle(ctx context.Context, reference string, debit, credit ledger.AccountRef, amount int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		debitAccount, err := s.lookupAccount(ctx, tx, debit)
		if err != nil {
			return err
		}
		creditAccount, err := s.lookupAccount(ctx, tx, credit)
		if err != nil {
			return err
		}

		posting := &model.Posting{
			Reference:       reference,
			DebitAccountID:  debitAccount.ID,
			CreditAccountID: creditAccount.ID,
			Amount:          amount,
		}
		if err := tx.Create(posting).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				// Reference already applied; retried settle is a no-op.
				return nil
			}
			return err
		}

		// Settlement-phase movements carry operator-confirmed external money,
		// so the debit side is not capacity-checked.
		result := tx.Model(&model.Account{}).
			Where("id = ?", debitAccount.ID).
			Updates(map[string]interface{}{
				"balance": gorm.Expr("balance - ?", amount),
				"version": gorm.Expr("version + 1"),
			})
		if result.Error != nil {
			return result.Error
		}

		result = tx.Model(&model.Account{}).
			Where("id = ?", creditAccount.ID).
			Updates(map[string]interface{}{
				"balance": gorm.Expr("balance + ?", amount),
				"version": gorm.Expr("version + 1"),
			})
		if result.Error != nil {
			return result.Error
		}

		if err := s.writeJournal(ctx, tx, debitAccount.ID, reference, model.EntryKindSettlement, -amount, 0, ""); err != nil {
			return err
		}
		return s.writeJournal(ctx, tx, creditAccount.ID, reference, model.EntryKindSettlement, amount, 0, "")
	})
}

func (s *AccountStore) Balance(ctx context.Context, ref ledger.AccountRef) (ledger.Balance, error) {
	account, err := s.lookupAccount(ctx, s.db, ref)
	if err != nil {
		return ledger.Balance{}, err
	}
	return ledger.Balance{Settled: account.Balance, Reserved: account.Reserved}, nil
}

// closeReservation moves the reservation to wantState. Returns done=true when
// the operation is already applied (idempotent retry), an error when the
// reservation is missing or in the conflicting terminal state.
func (s *AccountStore) closeReservation(ctx context.Context, tx *gorm.DB, transferID, wantState string) (bool, error) {
	result := tx.Model(&model.Reservation{}).
		Where("transfer_id = ? AND state = ?", transferID, model.ReservationStateReserved).
		Update("state", wantState)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected > 0 {
		return false, nil
	}

	var reservation model.Reservation
	err := tx.Where("transfer_id = ?", transferID).First(&reservation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, ledger.InvalidStateError(fmt.Sprintf("no reservation for transfer %s", transferID))
		}
		return false, err
	}
	if reservation.State == wantState {
		return true, nil
	}
	return false, ledger.InvalidStateError(
		fmt.Sprintf("reservation %s is %s, cannot move to %s", transferID, reservation.State, wantState))
}

func (s *AccountStore) lookupAccount(ctx context.Context, tx *gorm.DB, ref ledger.AccountRef) (*model.Account, error) {
	var account model.Account
	err := tx.WithContext(ctx).
		Joins("JOIN participant ON participant.id = account.participant_id").
		Where("participant.name = ? AND account.currency = ? AND account.type = ?",
			ref.Participant, ref.Currency, ref.Type).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ledger.ValidationError(
				fmt.Sprintf("account %s/%s/%s not found", ref.Participant, ref.Currency, ref.Type))
		}
		return nil, err
	}
	return &account, nil
}

// writeJournal appends one audit row reflecting the mutation just applied in
// the same transaction. Deltas are signed; before-values are reconstructed
// from the post-update row.
func (s *AccountStore) writeJournal(ctx context.Context, tx *gorm.DB, accountID int64, transferID, kind string, balanceDelta, reservedDelta int64, remark string) error {
	var account model.Account
	if err := tx.WithContext(ctx).Where("id = ?", accountID).First(&account).Error; err != nil {
		return err
	}

	entry := &model.JournalEntry{
		EntryNo:        idgen.GenerateJournalNo(),
		TransferID:     transferID,
		AccountID:      accountID,
		Amount:         balanceDelta,
		Kind:           kind,
		BalanceBefore:  account.Balance - balanceDelta,
		BalanceAfter:   account.Balance,
		ReservedBefore: account.Reserved - reservedDelta,
		ReservedAfter:  account.Reserved,
		Remark:         remark,
	}
	return tx.WithContext(ctx).Create(entry).Error
}
