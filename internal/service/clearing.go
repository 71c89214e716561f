package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"ledgerhub/internal/ledger"
	"ledgerhub/internal/model"
	"ledgerhub/internal/repository"
	"ledgerhub/pkg/money"

	"github.com/google/uuid"
)

// TransferStore is the transfer metadata surface the clearing engine needs.
type TransferStore interface {
	Create(ctx context.Context, transfer *model.Transfer) error
	GetByTransferID(ctx context.Context, transferID string) (*model.Transfer, error)
	TransitionState(ctx context.Context, transferID, from, to string) (bool, error)
	MarkCommitted(ctx context.Context, transferID, fulfilment string, completedAt time.Time) (bool, error)
	MarkTerminal(ctx context.Context, transferID, from, to, reason string, completedAt time.Time) (bool, error)
	RecordError(ctx context.Context, transferID, reason string) error
	FindExpired(ctx context.Context, now time.Time, limit int) ([]*model.Transfer, error)
}

// ParticipantStore is the participant/account metadata surface shared by the
// clearing engine and the onboarding service.
type ParticipantStore interface {
	GetOrCreate(ctx context.Context, name string) (*model.Participant, error)
	GetByName(ctx context.Context, name string) (*model.Participant, error)
	SetActive(ctx context.Context, name string, active bool) error
	CreateAccount(ctx context.Context, account *model.Account) error
	GetAccount(ctx context.Context, name, currency, accountType string) (*model.Account, error)
	SetAccountActive(ctx context.Context, name, currency, accountType string, active bool) error
	SetCapLimit(ctx context.Context, name, currency string, limit int64) (int64, error)
}

// OutboxStore stages notifications for the background Kafka sender.
type OutboxStore interface {
	Create(ctx context.Context, msg *model.OutboxMessage) error
}

// ClearingEngine drives the two-phase transfer lifecycle: prepare reserves
// payer liquidity, fulfil commits or aborts the reservation, and the sweep
// expires whatever the payee never answered for.
//
// Ordering rule: during prepare the funds move first and the state follows;
// during fulfil and sweep the state transition is the concurrency guard and
// the funds move after it. A fund-movement failure after a won state guard is
// reported FAIL_OTHER and left for manual reconciliation, never retried into
// a double movement.
type ClearingEngine struct {
	transfers    TransferStore
	participants ParticipantStore
	accounts     ledger.AccountStore
	prepareDup   *DuplicateDetector
	fulfilDup    *DuplicateDetector
	outbox       OutboxStore

	scales         money.Scales
	expiry         time.Duration
	sweepBatchSize int
	notifyTopic    string
	now            func() time.Time
}

func NewClearingEngine(
	transfers TransferStore,
	participants ParticipantStore,
	accounts ledger.AccountStore,
	prepareDup *DuplicateDetector,
	fulfilDup *DuplicateDetector,
	outbox OutboxStore,
	scales money.Scales,
	expiry time.Duration,
	sweepBatchSize int,
	notifyTopic string,
) *ClearingEngine {
	if sweepBatchSize <= 0 {
		sweepBatchSize = 100
	}
	return &ClearingEngine{
		transfers:      transfers,
		participants:   participants,
		accounts:       accounts,
		prepareDup:     prepareDup,
		fulfilDup:      fulfilDup,
		outbox:         outbox,
		scales:         scales,
		expiry:         expiry,
		sweepBatchSize: sweepBatchSize,
		notifyTopic:    notifyTopic,
		now:            time.Now,
	}
}

func positionRef(name, currency string) ledger.AccountRef {
	return ledger.AccountRef{Participant: name, Currency: currency, Type: model.AccountTypePosition}
}

// Prepare processes a transfer-prepare command. Every expected business
// outcome is a tagged result; only infrastructure failures surface as errors
// inside the result.
func (e *ClearingEngine) Prepare(ctx context.Context, req ledger.PrepareRequest) ledger.PrepareResult {
	status, err := e.prepareDup.Check(ctx, req.TransferID, req)
	if err != nil {
		return ledger.PrepareResult{
			Outcome:    ledger.PrepareFailOther,
			TransferID: req.TransferID,
			Err:        ledger.BackendError("duplicate check", err),
		}
	}

	switch status {
	case DuplicateStatusModified:
		return ledger.PrepareResult{
			Outcome:    ledger.PrepareModified,
			TransferID: req.TransferID,
			Err:        ledger.DuplicateConflictError("prepare body differs from the original"),
		}
	case DuplicateStatusDuplicated:
		return e.prepareDuplicate(ctx, req.TransferID)
	}

	amount, reasons := e.validatePrepare(ctx, req)
	if len(reasons) > 0 {
		e.recordRejectedPrepare(ctx, req, amount, reasons)
		return ledger.PrepareResult{
			Outcome:    ledger.PrepareFailValidation,
			TransferID: req.TransferID,
			State:      model.TransferStateAborted,
			Reasons:    reasons,
		}
	}

	transfer := &model.Transfer{
		TransferID: req.TransferID,
		Kind:       model.TransferKindClearing,
		PayerID:    req.PayerID,
		PayeeID:    req.PayeeID,
		Currency:   req.Currency,
		Amount:     amount,
		Condition:  req.Condition,
		State:      model.TransferStateReceived,
		ExpiresAt:  req.ExpiresAt,
	}
	if err := e.transfers.Create(ctx, transfer); err != nil {
		if errors.Is(err, repository.ErrDuplicateRecord) {
			// The duplicate detector won the claim but the transfer row
			// already exists; only a crash between a previous insert and its
			// duplicate record can produce this.
			return e.prepareDuplicate(ctx, req.TransferID)
		}
		return ledger.PrepareResult{
			Outcome:    ledger.PrepareFailOther,
			TransferID: req.TransferID,
			Err:        ledger.BackendError("create transfer", err),
		}
	}

	reserveResult, err := e.accounts.Reserve(ctx, req.TransferID,
		positionRef(req.PayerID, req.Currency), positionRef(req.PayeeID, req.Currency), amount)
	if err != nil {
		if ledger.KindOf(err) == ledger.KindValidation {
			e.abortReceived(ctx, req.TransferID, err.Error())
			return ledger.PrepareResult{
				Outcome:    ledger.PrepareFailValidation,
				TransferID: req.TransferID,
				State:      model.TransferStateAborted,
				Reasons:    []string{err.Error()},
			}
		}
		_ = e.transfers.RecordError(ctx, req.TransferID, err.Error())
		return ledger.PrepareResult{
			Outcome:    ledger.PrepareFailOther,
			TransferID: req.TransferID,
			Err:        ledger.BackendError("reserve", err),
		}
	}
	if reserveResult == ledger.ReserveInsufficient {
		reason := fmt.Sprintf("insufficient liquidity for %s %s", req.Amount, req.Currency)
		e.abortReceived(ctx, req.TransferID, reason)
		return ledger.PrepareResult{
			Outcome:    ledger.PrepareFailLiquidity,
			TransferID: req.TransferID,
			State:      model.TransferStateAborted,
			Err:        ledger.LiquidityError(reason),
		}
	}

	ok, err := e.transfers.TransitionState(ctx, req.TransferID,
		model.TransferStateReceived, model.TransferStateReserved)
	if err != nil {
		_ = e.transfers.RecordError(ctx, req.TransferID, err.Error())
		return ledger.PrepareResult{
			Outcome:    ledger.PrepareFailOther,
			TransferID: req.TransferID,
			Err:        ledger.BackendError("transition to RESERVED", err),
		}
	}
	if !ok {
		// Lost the race to the timeout sweep. The sweep's release may have run
		// before this reservation existed, so release it here too; both
		// releases are idempotent by transfer id, the hold is voided exactly
		// once either way.
		relErr := e.accounts.Release(ctx, req.TransferID,
			positionRef(req.PayerID, req.Currency), positionRef(req.PayeeID, req.Currency), amount)
		if relErr != nil {
			reason := fmt.Sprintf("release after expiry race failed: %v", relErr)
			_ = e.transfers.RecordError(ctx, req.TransferID, reason)
			log.Printf("transfer %s needs reconciliation: %s", req.TransferID, reason)
		} else {
			_ = e.transfers.RecordError(ctx, req.TransferID, "transfer expired during prepare, reservation released")
		}

		state := model.TransferStateExpiredPrepared
		if t, err := e.transfers.GetByTransferID(ctx, req.TransferID); err == nil && t != nil {
			state = t.State
		}
		return ledger.PrepareResult{
			Outcome:    ledger.PrepareFailOther,
			TransferID: req.TransferID,
			State:      state,
			Err:        ledger.InvalidStateError("transfer expired during prepare"),
		}
	}

	e.notify(ctx, req.TransferID, map[string]interface{}{
		"event":       "transfer.reserved",
		"transfer_id": req.TransferID,
		"payer_id":    req.PayerID,
		"payee_id":    req.PayeeID,
		"currency":    req.Currency,
		"amount":      req.Amount,
		"condition":   req.Condition,
		"expires_at":  req.ExpiresAt.Format(time.RFC3339),
	})

	return ledger.PrepareResult{
		Outcome:    ledger.PreparePass,
		TransferID: req.TransferID,
		State:      model.TransferStateReserved,
	}
}

func (e *ClearingEngine) validatePrepare(ctx context.Context, req ledger.PrepareRequest) (int64, []string) {
	var reasons []string

	if _, err := uuid.Parse(req.TransferID); err != nil {
		reasons = append(reasons, "transfer_id must be a UUID")
	}
	if req.PayerID == "" || req.PayeeID == "" {
		reasons = append(reasons, "payer_id and payee_id are required")
	}
	if req.PayerID == req.PayeeID {
		reasons = append(reasons, "payer and payee must differ")
	}
	if req.Condition == "" {
		reasons = append(reasons, "condition is required")
	}
	if !req.ExpiresAt.After(e.now()) {
		reasons = append(reasons, "expiration must be in the future")
	}

	var amount int64
	scale, err := e.scales.Scale(req.Currency)
	if err != nil {
		reasons = append(reasons, err.Error())
	} else {
		amount, err = money.ToMinorUnits(req.Amount, scale)
		if err != nil {
			reasons = append(reasons, err.Error())
		} else if amount <= 0 {
			reasons = append(reasons, "amount must be positive")
		}
	}

	for _, name := range []string{req.PayerID, req.PayeeID} {
		if name == "" {
			continue
		}
		p, err := e.participants.GetByName(ctx, name)
		if err != nil {
			if errors.Is(err, repository.ErrParticipantNotFound) {
				reasons = append(reasons, fmt.Sprintf("participant %s not found", name))
			} else {
				reasons = append(reasons, fmt.Sprintf("participant %s lookup failed", name))
			}
			continue
		}
		if !p.IsActive {
			reasons = append(reasons, fmt.Sprintf("participant %s is inactive", name))
			continue
		}
		account, err := e.participants.GetAccount(ctx, name, req.Currency, model.AccountTypePosition)
		if err != nil {
			if errors.Is(err, repository.ErrAccountNotFound) {
				reasons = append(reasons, fmt.Sprintf("participant %s has no %s position account", name, req.Currency))
			} else {
				reasons = append(reasons, fmt.Sprintf("account lookup for %s failed", name))
			}
			continue
		}
		if !account.IsActive {
			reasons = append(reasons, fmt.Sprintf("%s position account of %s is inactive", req.Currency, name))
		}
	}

	return amount, reasons
}

// recordRejectedPrepare persists a terminal ABORTED row for a validation
// failure so later duplicates of the same request see a final state.
func (e *ClearingEngine) recordRejectedPrepare(ctx context.Context, req ledger.PrepareRequest, amount int64, reasons []string) {
	now := e.now()
	transfer := &model.Transfer{
		TransferID:  req.TransferID,
		Kind:        model.TransferKindClearing,
		PayerID:     req.PayerID,
		PayeeID:     req.PayeeID,
		Currency:    req.Currency,
		Amount:      amount,
		Condition:   req.Condition,
		State:       model.TransferStateAborted,
		ErrorReason: strings.Join(reasons, "; "),
		ExpiresAt:   req.ExpiresAt,
		CompletedAt: &now,
	}
	if err := e.transfers.Create(ctx, transfer); err != nil && !errors.Is(err, repository.ErrDuplicateRecord) {
		log.Printf("record rejected prepare %s: %v", req.TransferID, err)
	}
}

func (e *ClearingEngine) abortReceived(ctx context.Context, transferID, reason string) {
	if _, err := e.transfers.MarkTerminal(ctx, transferID,
		model.TransferStateReceived, model.TransferStateAborted, reason, e.now()); err != nil {
		log.Printf("abort received transfer %s: %v", transferID, err)
	}
}

func (e *ClearingEngine) prepareDuplicate(ctx context.Context, transferID string) ledger.PrepareResult {
	transfer, err := e.transfers.GetByTransferID(ctx, transferID)
	if err != nil {
		return ledger.PrepareResult{
			Outcome:    ledger.PrepareFailOther,
			TransferID: transferID,
			Err:        ledger.BackendError("load duplicate transfer", err),
		}
	}
	if transfer == nil {
		// Claimed but not yet persisted by the concurrent original; report
		// non-final so the caller comes back.
		return ledger.PrepareResult{Outcome: ledger.PrepareDuplicateNonFinal, TransferID: transferID}
	}
	if model.IsFinalTransferState(transfer.State) {
		return ledger.PrepareResult{
			Outcome:    ledger.PrepareDuplicateFinal,
			TransferID: transferID,
			State:      transfer.State,
		}
	}
	return ledger.PrepareResult{
		Outcome:    ledger.PrepareDuplicateNonFinal,
		TransferID: transferID,
		State:      transfer.State,
	}
}

// Fulfil processes a fulfil or abort command from the payee side.
func (e *ClearingEngine) Fulfil(ctx context.Context, req ledger.FulfilRequest) ledger.FulfilResult {
	status, err := e.fulfilDup.Check(ctx, req.TransferID, req)
	if err != nil {
		return ledger.FulfilResult{
			Outcome:    ledger.FulfilFailOther,
			TransferID: req.TransferID,
			Err:        ledger.BackendError("duplicate check", err),
		}
	}

	switch status {
	case DuplicateStatusModified:
		return ledger.FulfilResult{
			Outcome:    ledger.FulfilFailValidation,
			TransferID: req.TransferID,
			Err:        ledger.DuplicateConflictError("fulfil body differs from the original"),
		}
	case DuplicateStatusDuplicated:
		state := ""
		if t, err := e.transfers.GetByTransferID(ctx, req.TransferID); err == nil && t != nil {
			state = t.State
		}
		return ledger.FulfilResult{Outcome: ledger.FulfilDuplicate, TransferID: req.TransferID, State: state}
	}

	transfer, err := e.transfers.GetByTransferID(ctx, req.TransferID)
	if err != nil {
		return ledger.FulfilResult{
			Outcome:    ledger.FulfilFailOther,
			TransferID: req.TransferID,
			Err:        ledger.BackendError("load transfer", err),
		}
	}
	if transfer == nil {
		return ledger.FulfilResult{
			Outcome:    ledger.FulfilFailValidation,
			TransferID: req.TransferID,
			Err:        ledger.ValidationError("transfer not found"),
		}
	}

	// Only the payee may commit; either party may abort.
	if req.Abort {
		if req.Source != "" && req.Source != transfer.PayeeID && req.Source != transfer.PayerID {
			return ledger.FulfilResult{
				Outcome:    ledger.FulfilFailValidation,
				TransferID: req.TransferID,
				State:      transfer.State,
				Err:        ledger.ValidationError(fmt.Sprintf("%s is not a party to this transfer", req.Source)),
			}
		}
		return e.abortReserved(ctx, transfer, req.AbortReason)
	}
	if req.Source != "" && req.Source != transfer.PayeeID {
		return ledger.FulfilResult{
			Outcome:    ledger.FulfilFailValidation,
			TransferID: req.TransferID,
			State:      transfer.State,
			Err:        ledger.ValidationError(fmt.Sprintf("%s is not the payee of this transfer", req.Source)),
		}
	}
	return e.commit(ctx, transfer, req.Fulfilment)
}

func (e *ClearingEngine) commit(ctx context.Context, transfer *model.Transfer, fulfilment string) ledger.FulfilResult {
	if err := VerifyFulfilment(fulfilment, transfer.Condition); err != nil {
		// The reservation stays in place; the sweep expires it if no valid
		// fulfil arrives before the deadline.
		_ = e.transfers.RecordError(ctx, transfer.TransferID, err.Error())
		return ledger.FulfilResult{
			Outcome:    ledger.FulfilFailValidation,
			TransferID: transfer.TransferID,
			State:      transfer.State,
			Err:        ledger.ValidationError(err.Error()),
		}
	}

	ok, err := e.transfers.MarkCommitted(ctx, transfer.TransferID, fulfilment, e.now())
	if err != nil {
		return ledger.FulfilResult{
			Outcome:    ledger.FulfilFailOther,
			TransferID: transfer.TransferID,
			Err:        ledger.BackendError("mark committed", err),
		}
	}
	if !ok {
		return e.fulfilLostRace(ctx, transfer.TransferID, model.TransferStateCommitted)
	}

	err = e.accounts.Post(ctx, transfer.TransferID,
		positionRef(transfer.PayerID, transfer.Currency),
		positionRef(transfer.PayeeID, transfer.Currency),
		transfer.Amount)
	if err != nil {
		reason := fmt.Sprintf("post after commit failed: %v", err)
		_ = e.transfers.RecordError(ctx, transfer.TransferID, reason)
		log.Printf("transfer %s needs reconciliation: %s", transfer.TransferID, reason)
		return ledger.FulfilResult{
			Outcome:    ledger.FulfilFailOther,
			TransferID: transfer.TransferID,
			State:      model.TransferStateCommitted,
			Err:        ledger.BackendError("post", err),
		}
	}

	e.notify(ctx, transfer.TransferID, map[string]interface{}{
		"event":       "transfer.committed",
		"transfer_id": transfer.TransferID,
		"payer_id":    transfer.PayerID,
		"payee_id":    transfer.PayeeID,
		"fulfilment":  fulfilment,
	})

	return ledger.FulfilResult{
		Outcome:    ledger.FulfilPass,
		TransferID: transfer.TransferID,
		State:      model.TransferStateCommitted,
	}
}

func (e *ClearingEngine) abortReserved(ctx context.Context, transfer *model.Transfer, reason string) ledger.FulfilResult {
	if reason == "" {
		reason = "aborted by payee"
	}

	ok, err := e.transfers.MarkTerminal(ctx, transfer.TransferID,
		model.TransferStateReserved, model.TransferStateAborted, reason, e.now())
	if err != nil {
		return ledger.FulfilResult{
			Outcome:    ledger.FulfilFailOther,
			TransferID: transfer.TransferID,
			Err:        ledger.BackendError("mark aborted", err),
		}
	}
	if !ok {
		return e.fulfilLostRace(ctx, transfer.TransferID, model.TransferStateAborted)
	}

	err = e.accounts.Release(ctx, transfer.TransferID,
		positionRef(transfer.PayerID, transfer.Currency),
		positionRef(transfer.PayeeID, transfer.Currency),
		transfer.Amount)
	if err != nil {
		failReason := fmt.Sprintf("release after abort failed: %v", err)
		_ = e.transfers.RecordError(ctx, transfer.TransferID, failReason)
		log.Printf("transfer %s needs reconciliation: %s", transfer.TransferID, failReason)
		return ledger.FulfilResult{
			Outcome:    ledger.FulfilFailOther,
			TransferID: transfer.TransferID,
			State:      model.TransferStateAborted,
			Err:        ledger.BackendError("release", err),
		}
	}

	e.notify(ctx, transfer.TransferID, map[string]interface{}{
		"event":       "transfer.aborted",
		"transfer_id": transfer.TransferID,
		"payer_id":    transfer.PayerID,
		"payee_id":    transfer.PayeeID,
		"reason":      reason,
	})

	return ledger.FulfilResult{
		Outcome:    ledger.FulfilPass,
		TransferID: transfer.TransferID,
		State:      model.TransferStateAborted,
	}
}

// fulfilLostRace classifies a failed state guard: reaching the intended state
// by another path is a duplicate, anything else is fatal for this message and
// reported FAIL_OTHER with the invalid-state error, never retried.
func (e *ClearingEngine) fulfilLostRace(ctx context.Context, transferID, wanted string) ledger.FulfilResult {
	current, err := e.transfers.GetByTransferID(ctx, transferID)
	if err != nil || current == nil {
		return ledger.FulfilResult{
			Outcome:    ledger.FulfilFailOther,
			TransferID: transferID,
			Err:        ledger.BackendError("reload transfer after lost race", err),
		}
	}
	if current.State == wanted {
		return ledger.FulfilResult{Outcome: ledger.FulfilDuplicate, TransferID: transferID, State: current.State}
	}
	return ledger.FulfilResult{
		Outcome:    ledger.FulfilFailOther,
		TransferID: transferID,
		State:      current.State,
		Err:        ledger.InvalidStateError(fmt.Sprintf("transfer is %s", current.State)),
	}
}

// SweepTimedOut expires transfers past their deadline. RESERVED transfers
// release their hold; RECEIVED transfers also attempt a release, which is a
// no-op unless a crash left a reservation without the state following it.
func (e *ClearingEngine) SweepTimedOut(ctx context.Context) ledger.SweepResult {
	now := e.now()
	expired, err := e.transfers.FindExpired(ctx, now, e.sweepBatchSize)
	if err != nil {
		return ledger.SweepResult{Err: ledger.BackendError("find expired", err)}
	}

	var timedOut []ledger.TimedOutTransfer
	for _, transfer := range expired {
		var target string
		switch transfer.State {
		case model.TransferStateReserved:
			target = model.TransferStateExpiredReserved
		case model.TransferStateReceived:
			target = model.TransferStateExpiredPrepared
		default:
			continue
		}

		ok, err := e.transfers.MarkTerminal(ctx, transfer.TransferID,
			transfer.State, target, "transfer expired", now)
		if err != nil {
			log.Printf("sweep: expire %s: %v", transfer.TransferID, err)
			continue
		}
		if !ok {
			// A concurrent fulfil won; nothing to do.
			continue
		}

		err = e.accounts.Release(ctx, transfer.TransferID,
			positionRef(transfer.PayerID, transfer.Currency),
			positionRef(transfer.PayeeID, transfer.Currency),
			transfer.Amount)
		if err != nil {
			reason := fmt.Sprintf("release after expiry failed: %v", err)
			_ = e.transfers.RecordError(ctx, transfer.TransferID, reason)
			log.Printf("transfer %s needs reconciliation: %s", transfer.TransferID, reason)
		}

		e.notify(ctx, transfer.TransferID, map[string]interface{}{
			"event":       "transfer.expired",
			"transfer_id": transfer.TransferID,
			"payer_id":    transfer.PayerID,
			"payee_id":    transfer.PayeeID,
			"state":       target,
		})

		timedOut = append(timedOut, ledger.TimedOutTransfer{
			TransferID: transfer.TransferID,
			PayerID:    transfer.PayerID,
			PayeeID:    transfer.PayeeID,
			Currency:   transfer.Currency,
			Amount:     transfer.Amount,
			State:      target,
		})
	}

	return ledger.SweepResult{TimedOut: timedOut}
}

// LookupTransfer returns the current view of a transfer.
func (e *ClearingEngine) LookupTransfer(ctx context.Context, transferID string) ledger.LookupResult {
	transfer, err := e.transfers.GetByTransferID(ctx, transferID)
	if err != nil {
		return ledger.LookupResult{Outcome: ledger.LookupFailed, Err: ledger.BackendError("load transfer", err)}
	}
	if transfer == nil {
		return ledger.LookupResult{Outcome: ledger.LookupNotFound}
	}

	view := e.transferView(transfer)
	if model.IsFinalTransferState(transfer.State) {
		return ledger.LookupResult{Outcome: ledger.LookupFoundFinal, Transfer: view}
	}
	return ledger.LookupResult{Outcome: ledger.LookupFoundNonFinal, Transfer: view}
}

func (e *ClearingEngine) transferView(transfer *model.Transfer) *ledger.TransferView {
	amount := fmt.Sprintf("%d", transfer.Amount)
	if scale, err := e.scales.Scale(transfer.Currency); err == nil {
		amount = money.FromMinorUnits(transfer.Amount, scale)
	}
	return &ledger.TransferView{
		TransferID:  transfer.TransferID,
		PayerID:     transfer.PayerID,
		PayeeID:     transfer.PayeeID,
		Currency:    transfer.Currency,
		Amount:      amount,
		State:       transfer.State,
		Fulfilment:  transfer.Fulfilment,
		ErrorReason: transfer.ErrorReason,
		ExpiresAt:   transfer.ExpiresAt,
		CompletedAt: transfer.CompletedAt,
	}
}

// notify stages a notification; a staging failure is logged, not fatal, since
// the state change it announces has already happened.
func (e *ClearingEngine) notify(ctx context.Context, key string, payload map[string]interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("notify %s: marshal: %v", key, err)
		return
	}
	msg := &model.OutboxMessage{
		MessageKey: key,
		Topic:      e.notifyTopic,
		Payload:    string(body),
		Status:     model.OutboxStatusPending,
	}
	if err := e.outbox.Create(ctx, msg); err != nil {
		log.Printf("notify %s: stage outbox message: %v", key, err)
	}
}
