package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"

	"github.com/economato/stock-ledger/internal/ledger"
)

// verifyAllLockKey guards the sweep so overlapping cron firings skip instead
// of replaying every chain twice.
const verifyAllLockKey = "ledger:verify_all:lock"

// Verifier is the slice of the ledger service the sweep needs.
type Verifier interface {
	VerifyAllProducts(ctx context.Context) ([]ledger.VerifyResult, error)
}

// VerifyAllJob runs the scheduled chain integrity sweep.
type VerifyAllJob struct {
	verifier Verifier
	locker   *redislock.Client
	logger   *slog.Logger
	lockTTL  time.Duration
}

// NewVerifyAllJob constructs the job. locker may be nil (no single-flight
// guard, acceptable in single-instance deployments).
func NewVerifyAllJob(verifier Verifier, locker *redislock.Client, logger *slog.Logger, lockTTL time.Duration) *VerifyAllJob {
	if lockTTL <= 0 {
		lockTTL = 5 * time.Minute
	}
	return &VerifyAllJob{verifier: verifier, locker: locker, logger: logger, lockTTL: lockTTL}
}

// HandleTask processes TaskVerifyAllChains tasks.
func (j *VerifyAllJob) HandleTask(ctx context.Context, _ *asynq.Task) error {
	if j.locker != nil {
		lock, err := j.locker.Obtain(ctx, verifyAllLockKey, j.lockTTL, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			j.logger.Info("verification sweep already running, skipping")
			return nil
		}
		if err != nil {
			return err
		}
		defer func() {
			_ = lock.Release(ctx)
		}()
	}

	results, err := j.verifier.VerifyAllProducts(ctx)
	if err != nil {
		return err
	}

	corrupted := 0
	for _, result := range results {
		if !result.Valid {
			corrupted++
		}
	}
	if corrupted > 0 {
		j.logger.Error("verification sweep found corrupted chains",
			slog.Int("corrupted", corrupted),
			slog.Int("total", len(results)))
	}
	return nil
}
