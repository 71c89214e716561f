package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ledgerhub/internal/config"
	"ledgerhub/internal/handler"
	"ledgerhub/internal/infrastructure/cache"
	"ledgerhub/internal/infrastructure/database"
	"ledgerhub/internal/infrastructure/lock"
	"ledgerhub/internal/infrastructure/mq"
	"ledgerhub/internal/job"
	"ledgerhub/internal/ledger"
	"ledgerhub/internal/model"
	"ledgerhub/internal/service"
	"ledgerhub/internal/store/doubleentry"
	"ledgerhub/internal/store/relational"
	"ledgerhub/pkg/idgen"

	"github.com/google/uuid"
)

func main() {
	cfg := config.LoadConfig("config/config.yaml")

	idgen.Init(1)

	db := database.InitMySQL(&cfg.MySQL)
	redisClient := cache.InitRedis(&cfg.Redis)

	producer := mq.InitProducer(&cfg.Kafka)
	defer producer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var accounts ledger.AccountStore
	var batcher *doubleentry.Batcher

	switch cfg.Ledger.Backend {
	case "doubleentry":
		engine := doubleentry.NewMemEngine()
		batcher = doubleentry.NewBatcher(engine, cfg.Ledger.BatchSize, cfg.Ledger.BatchInterval())
		batcher.Start(ctx)

		currencies := make([]string, 0, len(cfg.Ledger.CurrencyScales))
		for currency := range cfg.Ledger.CurrencyScales {
			currencies = append(currencies, currency)
		}
		accounts = doubleentry.NewAccountStore(engine, batcher, model.HubName,
			doubleentry.LedgerMap(currencies), doubleentry.AccountCodes())
		log.Println("account store backend: doubleentry")
	case "relational", "":
		accounts = relational.NewAccountStore(db)
		log.Println("account store backend: relational")
	default:
		log.Fatalf("unknown ledger backend %q", cfg.Ledger.Backend)
	}

	settlementLock := func(model string) service.PrepareLock {
		return lock.NewSettlementLock(redisClient, model, uuid.NewString())
	}
	ledgerService := service.NewLedgerService(db, accounts, settlementLock, cfg)

	consumer := mq.NewCommandConsumer(&cfg.Kafka, ledgerService)
	consumer.Start(ctx)
	defer consumer.Close()

	outboxSender := job.NewOutboxSender(db, producer, cfg.Ledger.MaxNotifyRetry)
	go outboxSender.Start(ctx)

	sweepJob := job.NewSweepJob(ledgerService, redisClient, cfg.Ledger.SweepInterval())
	go sweepJob.Start(ctx)

	router := handler.SetupRouter(ledgerService)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("listening on :%d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down...")

	cancel()
	if batcher != nil {
		batcher.Wait()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown: %v", err)
	}

	log.Println("stopped")
}
