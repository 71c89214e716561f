package service

import (
	"ledgerhub/internal/config"
	"ledgerhub/internal/ledger"
	"ledgerhub/internal/repository"
	"ledgerhub/pkg/money"

	"gorm.io/gorm"
)

// LedgerService is the facade assembling the clearing, settlement and
// onboarding engines over one metadata database and one account-store
// backend. It is the only type the transports talk to.
type LedgerService struct {
	*ParticipantService
	*ClearingEngine
	*SettlementEngine
}

var _ ledger.Ledger = (*LedgerService)(nil)

// NewLedgerService wires the repositories and engines. The account store and
// the settlement prepare lock are injected so the caller chooses the backend
// and the coordination primitive; everything else is shared.
func NewLedgerService(db *gorm.DB, accounts ledger.AccountStore, prepareLock func(model string) PrepareLock, cfg *config.Config) *LedgerService {
	transferRepo := repository.NewTransferRepository(db)
	participantRepo := repository.NewParticipantRepository(db)
	settlementRepo := repository.NewSettlementRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)

	prepareDup := NewDuplicateDetector(repository.NewDuplicateRepository(db))
	fulfilDup := NewDuplicateDetector(repository.NewFulfilDuplicateRepository(db))

	scales := money.Scales(cfg.Ledger.CurrencyScales)
	notifyTopic := cfg.Kafka.Topic.Notification

	return &LedgerService{
		ParticipantService: NewParticipantService(
			participantRepo,
			transferRepo,
			accounts,
			settlementRepo,
			outboxRepo,
			scales,
			cfg.Ledger.TransferExpiry(),
			notifyTopic,
		),
		ClearingEngine: NewClearingEngine(
			transferRepo,
			participantRepo,
			accounts,
			prepareDup,
			fulfilDup,
			outboxRepo,
			scales,
			cfg.Ledger.TransferExpiry(),
			cfg.Ledger.SweepBatchSize,
			notifyTopic,
		),
		SettlementEngine: NewSettlementEngine(
			settlementRepo,
			transferRepo,
			accounts,
			outboxRepo,
			scales,
			notifyTopic,
			prepareLock,
		),
	}
}
