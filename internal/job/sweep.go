package job

import (
	"context"
	"log"
	"time"

	"ledgerhub/internal/infrastructure/lock"
	"ledgerhub/internal/ledger"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// SweepJob periodically expires timed-out transfers. A Redis lock keeps the
// sweep single-flight across instances; failing to take it just means another
// instance is already sweeping.
type SweepJob struct {
	ledger      ledger.Ledger
	redisClient *redis.Client
	interval    time.Duration
	stopCh      chan struct{}
}

func NewSweepJob(l ledger.Ledger, redisClient *redis.Client, interval time.Duration) *SweepJob {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &SweepJob{
		ledger:      l,
		redisClient: redisClient,
		interval:    interval,
		stopCh:      make(chan struct{}),
	}
}

func (j *SweepJob) Start(ctx context.Context) {
	log.Println("[SweepJob] timeout sweep started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[SweepJob] stopping")
			return
		case <-j.stopCh:
			log.Println("[SweepJob] stopped")
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *SweepJob) Stop() {
	close(j.stopCh)
}

func (j *SweepJob) sweep(ctx context.Context) {
	sweepLock := lock.NewSweepLock(j.redisClient, uuid.NewString())
	acquired, err := sweepLock.TryLock(ctx)
	if err != nil {
		log.Printf("[SweepJob] acquire lock: %v", err)
		return
	}
	if !acquired {
		return
	}
	defer func() {
		if err := sweepLock.Unlock(ctx); err != nil {
			log.Printf("[SweepJob] release lock: %v", err)
		}
	}()

	result := j.ledger.SweepTimedOut(ctx)
	if result.Err != nil {
		log.Printf("[SweepJob] sweep failed: %v", result.Err)
		return
	}
	if len(result.TimedOut) > 0 {
		log.Printf("[SweepJob] expired %d transfers", len(result.TimedOut))
	}
}
