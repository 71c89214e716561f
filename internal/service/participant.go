package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"ledgerhub/internal/ledger"
	"ledgerhub/internal/model"
	"ledgerhub/internal/repository"
	"ledgerhub/pkg/money"

	"github.com/google/uuid"
)

// SettlementModelStore registers settlement models during hub onboarding.
type SettlementModelStore interface {
	CreateModel(ctx context.Context, m *model.SettlementModel) error
}

// ParticipantService covers onboarding and operator-driven money movement:
// hub and DFSP account creation, deposits, two-phase withdrawals and net
// debit cap changes. Deposits and withdrawals reuse the transfer lifecycle
// with the hub as counterparty, so they inherit its idempotency guarantees.
type ParticipantService struct {
	participants ParticipantStore
	transfers    TransferStore
	accounts     ledger.AccountStore
	models       SettlementModelStore
	outbox       OutboxStore

	scales      money.Scales
	expiry      time.Duration
	notifyTopic string
	now         func() time.Time
}

func NewParticipantService(
	participants ParticipantStore,
	transfers TransferStore,
	accounts ledger.AccountStore,
	models SettlementModelStore,
	outbox OutboxStore,
	scales money.Scales,
	expiry time.Duration,
	notifyTopic string,
) *ParticipantService {
	return &ParticipantService{
		participants: participants,
		transfers:    transfers,
		accounts:     accounts,
		models:       models,
		outbox:       outbox,
		scales:       scales,
		expiry:       expiry,
		notifyTopic:  notifyTopic,
		now:          time.Now,
	}
}

func settlementRef(name, currency string) ledger.AccountRef {
	return ledger.AccountRef{Participant: name, Currency: currency, Type: model.AccountTypeSettlement}
}

func hubReconRef(currency string) ledger.AccountRef {
	return ledger.AccountRef{Participant: model.HubName, Currency: currency, Type: model.AccountTypeHubReconciliation}
}

// CreateHubAccount provisions the hub's settlement and reconciliation
// accounts for a currency and registers the settlement model that settles it.
// Idempotent.
func (s *ParticipantService) CreateHubAccount(ctx context.Context, currency, settlementModel string) error {
	if _, err := s.scales.Scale(currency); err != nil {
		return ledger.ValidationError(err.Error())
	}

	hub, err := s.participants.GetOrCreate(ctx, model.HubName)
	if err != nil {
		return ledger.BackendError("create hub participant", err)
	}

	for _, accountType := range []string{model.AccountTypeSettlement, model.AccountTypeHubReconciliation} {
		if err := s.ensureAccount(ctx, hub.ID, model.HubName, currency, accountType, false); err != nil {
			return err
		}
	}

	if settlementModel != "" {
		err := s.models.CreateModel(ctx, &model.SettlementModel{Name: settlementModel, Currency: currency})
		if err != nil && !errors.Is(err, repository.ErrDuplicateRecord) {
			return ledger.BackendError("register settlement model", err)
		}
	}

	log.Printf("hub accounts ready for %s", currency)
	return nil
}

// CreateDfsp onboards a participant with position and settlement accounts per
// currency, plus an optional initial deposit per currency. The hub accounts
// for every requested currency must already exist.
func (s *ParticipantService) CreateDfsp(ctx context.Context, name string, currencies []string, deposits map[string]string) error {
	if name == "" || name == model.HubName {
		return ledger.ValidationError("invalid participant name")
	}
	if len(currencies) == 0 {
		return ledger.ValidationError("at least one currency is required")
	}

	for _, currency := range currencies {
		if _, err := s.scales.Scale(currency); err != nil {
			return ledger.ValidationError(err.Error())
		}
		if _, err := s.participants.GetAccount(ctx, model.HubName, currency, model.AccountTypeHubReconciliation); err != nil {
			if errors.Is(err, repository.ErrAccountNotFound) || errors.Is(err, repository.ErrParticipantNotFound) {
				return ledger.ValidationError(fmt.Sprintf("hub accounts for %s must be created first", currency))
			}
			return ledger.BackendError("check hub account", err)
		}
	}

	participant, err := s.participants.GetOrCreate(ctx, name)
	if err != nil {
		return ledger.BackendError("create participant", err)
	}

	for _, currency := range currencies {
		if err := s.ensureAccount(ctx, participant.ID, name, currency, model.AccountTypePosition, true); err != nil {
			return err
		}
		if err := s.ensureAccount(ctx, participant.ID, name, currency, model.AccountTypeSettlement, true); err != nil {
			return err
		}

		if amount, ok := deposits[currency]; ok && amount != "" {
			if err := s.Deposit(ctx, uuid.NewString(), name, currency, amount, "initial funding"); err != nil {
				return err
			}
		}
	}

	log.Printf("participant %s onboarded for %v", name, currencies)
	return nil
}

// ensureAccount creates the metadata row and the backing account, tolerating
// both already existing.
func (s *ParticipantService) ensureAccount(ctx context.Context, participantID int64, name, currency, accountType string, enforceCap bool) error {
	account := &model.Account{
		ParticipantID: participantID,
		Currency:      currency,
		Type:          accountType,
		IsActive:      true,
	}
	if err := s.participants.CreateAccount(ctx, account); err != nil && !errors.Is(err, repository.ErrDuplicateRecord) {
		return ledger.BackendError("create account row", err)
	}

	ref := ledger.AccountRef{Participant: name, Currency: currency, Type: accountType}
	if err := s.accounts.CreateAccount(ctx, ref, ledger.CreateAccountOpts{EnforceCap: enforceCap}); err != nil {
		return err
	}
	return nil
}

func (s *ParticipantService) SetDfspActive(ctx context.Context, name string, active bool) error {
	if err := s.participants.SetActive(ctx, name, active); err != nil {
		if errors.Is(err, repository.ErrParticipantNotFound) {
			return ledger.ValidationError(fmt.Sprintf("participant %s not found", name))
		}
		return ledger.BackendError("set participant active", err)
	}
	return nil
}

func (s *ParticipantService) SetAccountActive(ctx context.Context, name, currency, accountType string, active bool) error {
	if err := s.participants.SetAccountActive(ctx, name, currency, accountType, active); err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) || errors.Is(err, repository.ErrParticipantNotFound) {
			return ledger.ValidationError(fmt.Sprintf("%s %s account of %s not found", currency, accountType, name))
		}
		return ledger.BackendError("set account active", err)
	}
	return nil
}

// Deposit records operator-confirmed funds arriving at the participant's
// settlement account. The money is already at the settlement bank, so the
// movement is immediate; the transfer row exists for audit and idempotency.
func (s *ParticipantService) Deposit(ctx context.Context, transferID, name, currency, amount, reason string) error {
	finalized, deposit, err := s.loadOrCreateOperatorTransfer(ctx, transferID, model.TransferKindDeposit, model.HubName, name, currency, amount)
	if err != nil {
		return err
	}
	if finalized {
		return nil
	}

	err = s.accounts.Settle(ctx, "deposit:"+transferID, hubReconRef(currency), settlementRef(name, currency), deposit.Amount)
	if err != nil {
		_ = s.transfers.RecordError(ctx, transferID, err.Error())
		return ledger.BackendError("apply deposit", err)
	}

	if _, err := s.transfers.TransitionState(ctx, transferID,
		model.TransferStateReceived, model.TransferStateReserved); err != nil {
		return ledger.BackendError("advance deposit", err)
	}
	if _, err := s.transfers.MarkCommitted(ctx, transferID, "", s.now()); err != nil {
		return ledger.BackendError("commit deposit", err)
	}

	log.Printf("deposit %s: %s %s to %s (%s)", transferID, amount, currency, name, reason)
	return nil
}

// WithdrawPrepare places a hold on the participant's settlement account. The
// hold converts to an outgoing movement on commit, or disappears on abort.
func (s *ParticipantService) WithdrawPrepare(ctx context.Context, transferID, name, currency, amount string) error {
	finalized, withdrawal, err := s.loadOrCreateOperatorTransfer(ctx, transferID, model.TransferKindWithdraw, name, model.HubName, currency, amount)
	if err != nil {
		return err
	}
	if finalized {
		return nil
	}

	result, err := s.accounts.Reserve(ctx, transferID, settlementRef(name, currency), hubReconRef(currency), withdrawal.Amount)
	if err != nil {
		_ = s.transfers.RecordError(ctx, transferID, err.Error())
		return err
	}
	if result == ledger.ReserveInsufficient {
		reason := fmt.Sprintf("insufficient settled funds for %s %s", amount, currency)
		if _, err := s.transfers.MarkTerminal(ctx, transferID,
			model.TransferStateReceived, model.TransferStateAborted, reason, s.now()); err != nil {
			return ledger.BackendError("abort withdrawal", err)
		}
		return ledger.LiquidityError(reason)
	}

	if _, err := s.transfers.TransitionState(ctx, transferID,
		model.TransferStateReceived, model.TransferStateReserved); err != nil {
		return ledger.BackendError("advance withdrawal", err)
	}
	return nil
}

func (s *ParticipantService) WithdrawCommit(ctx context.Context, transferID string) error {
	withdrawal, err := s.loadOperatorTransfer(ctx, transferID, model.TransferKindWithdraw)
	if err != nil {
		return err
	}

	ok, err := s.transfers.MarkCommitted(ctx, transferID, "", s.now())
	if err != nil {
		return ledger.BackendError("commit withdrawal", err)
	}
	if !ok {
		if withdrawal.State == model.TransferStateCommitted {
			return nil
		}
		return ledger.InvalidStateError(fmt.Sprintf("withdrawal %s is %s", transferID, withdrawal.State))
	}

	err = s.accounts.Post(ctx, transferID,
		settlementRef(withdrawal.PayerID, withdrawal.Currency),
		hubReconRef(withdrawal.Currency),
		withdrawal.Amount)
	if err != nil {
		reason := fmt.Sprintf("post after withdrawal commit failed: %v", err)
		_ = s.transfers.RecordError(ctx, transferID, reason)
		log.Printf("withdrawal %s needs reconciliation: %s", transferID, reason)
		return ledger.BackendError("post withdrawal", err)
	}
	return nil
}

func (s *ParticipantService) WithdrawAbort(ctx context.Context, transferID string) error {
	withdrawal, err := s.loadOperatorTransfer(ctx, transferID, model.TransferKindWithdraw)
	if err != nil {
		return err
	}

	ok, err := s.transfers.MarkTerminal(ctx, transferID,
		model.TransferStateReserved, model.TransferStateAborted, "withdrawal aborted", s.now())
	if err != nil {
		return ledger.BackendError("abort withdrawal", err)
	}
	if !ok {
		if withdrawal.State == model.TransferStateAborted {
			return nil
		}
		return ledger.InvalidStateError(fmt.Sprintf("withdrawal %s is %s", transferID, withdrawal.State))
	}

	err = s.accounts.Release(ctx, transferID,
		settlementRef(withdrawal.PayerID, withdrawal.Currency),
		hubReconRef(withdrawal.Currency),
		withdrawal.Amount)
	if err != nil {
		reason := fmt.Sprintf("release after withdrawal abort failed: %v", err)
		_ = s.transfers.RecordError(ctx, transferID, reason)
		log.Printf("withdrawal %s needs reconciliation: %s", transferID, reason)
		return ledger.BackendError("release withdrawal", err)
	}
	return nil
}

// SetNetDebitCap changes a participant's net debit cap and adjusts the
// backing capacity by the difference. The conditional update on the cap
// column serializes concurrent changes; losers retry against fresh state.
func (s *ParticipantService) SetNetDebitCap(ctx context.Context, name, currency, amount string) error {
	scale, err := s.scales.Scale(currency)
	if err != nil {
		return ledger.ValidationError(err.Error())
	}
	limit, err := money.ToMinorUnits(amount, scale)
	if err != nil {
		return ledger.ValidationError(err.Error())
	}
	if limit < 0 {
		return ledger.ValidationError("net debit cap must not be negative")
	}

	var previous int64
	for attempt := 0; ; attempt++ {
		previous, err = s.participants.SetCapLimit(ctx, name, currency, limit)
		if err == nil {
			break
		}
		if errors.Is(err, repository.ErrDuplicateRecord) && attempt < 3 {
			continue
		}
		if errors.Is(err, repository.ErrAccountNotFound) || errors.Is(err, repository.ErrParticipantNotFound) {
			return ledger.ValidationError(fmt.Sprintf("%s has no %s position account", name, currency))
		}
		return ledger.BackendError("set cap limit", err)
	}

	delta := limit - previous
	if delta == 0 {
		return nil
	}

	reference := fmt.Sprintf("ndc:%s:%s:%d:%d", name, currency, previous, limit)
	if err := s.accounts.AdjustCapacity(ctx, positionRef(name, currency), delta, reference); err != nil {
		return err
	}

	log.Printf("net debit cap of %s %s set to %s (delta %d)", name, currency, amount, delta)
	return nil
}

func (s *ParticipantService) GetBalance(ctx context.Context, name, currency, accountType string) (ledger.Balance, error) {
	if _, err := s.participants.GetAccount(ctx, name, currency, accountType); err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) || errors.Is(err, repository.ErrParticipantNotFound) {
			return ledger.Balance{}, ledger.ValidationError(fmt.Sprintf("%s %s account of %s not found", currency, accountType, name))
		}
		return ledger.Balance{}, ledger.BackendError("load account", err)
	}
	return s.accounts.Balance(ctx, ledger.AccountRef{Participant: name, Currency: currency, Type: accountType})
}

// loadOrCreateOperatorTransfer creates the transfer row for a deposit or
// withdrawal, or loads it when the same id is retried. finalized reports that
// the operation already completed.
func (s *ParticipantService) loadOrCreateOperatorTransfer(ctx context.Context, transferID, kind, payer, payee, currency, amount string) (bool, *model.Transfer, error) {
	name := payee
	if kind == model.TransferKindWithdraw {
		name = payer
	}

	participant, err := s.participants.GetByName(ctx, name)
	if err != nil {
		if errors.Is(err, repository.ErrParticipantNotFound) {
			return false, nil, ledger.ValidationError(fmt.Sprintf("participant %s not found", name))
		}
		return false, nil, ledger.BackendError("load participant", err)
	}
	if !participant.IsActive {
		return false, nil, ledger.ValidationError(fmt.Sprintf("participant %s is inactive", name))
	}
	if _, err := s.participants.GetAccount(ctx, name, currency, model.AccountTypeSettlement); err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return false, nil, ledger.ValidationError(fmt.Sprintf("%s has no %s settlement account", name, currency))
		}
		return false, nil, ledger.BackendError("load settlement account", err)
	}

	scale, err := s.scales.Scale(currency)
	if err != nil {
		return false, nil, ledger.ValidationError(err.Error())
	}
	minor, err := money.ToMinorUnits(amount, scale)
	if err != nil {
		return false, nil, ledger.ValidationError(err.Error())
	}
	if minor <= 0 {
		return false, nil, ledger.ValidationError("amount must be positive")
	}

	transfer := &model.Transfer{
		TransferID: transferID,
		Kind:       kind,
		PayerID:    payer,
		PayeeID:    payee,
		Currency:   currency,
		Amount:     minor,
		State:      model.TransferStateReceived,
		ExpiresAt:  s.now().Add(s.expiry),
	}
	err = s.transfers.Create(ctx, transfer)
	if err == nil {
		return false, transfer, nil
	}
	if !errors.Is(err, repository.ErrDuplicateRecord) {
		return false, nil, ledger.BackendError("create transfer", err)
	}

	existing, err := s.transfers.GetByTransferID(ctx, transferID)
	if err != nil || existing == nil {
		return false, nil, ledger.BackendError("load transfer", err)
	}
	if existing.Kind != kind {
		return false, nil, ledger.DuplicateConflictError(fmt.Sprintf("transfer %s exists with kind %s", transferID, existing.Kind))
	}
	if model.IsFinalTransferState(existing.State) || existing.State == model.TransferStateReserved {
		return true, existing, nil
	}
	// RECEIVED after a crash: resume from the fund movement.
	return false, existing, nil
}

func (s *ParticipantService) loadOperatorTransfer(ctx context.Context, transferID, kind string) (*model.Transfer, error) {
	transfer, err := s.transfers.GetByTransferID(ctx, transferID)
	if err != nil {
		return nil, ledger.BackendError("load transfer", err)
	}
	if transfer == nil {
		return nil, ledger.ValidationError(fmt.Sprintf("transfer %s not found", transferID))
	}
	if transfer.Kind != kind {
		return nil, ledger.ValidationError(fmt.Sprintf("transfer %s is a %s, not a %s", transferID, transfer.Kind, kind))
	}
	return transfer, nil
}
