// internal/app/system/workers/jobs.go
package workers

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ExpiredCleaner deletes rows past their expiry and reports how many went.
// The challenge and email confirmation stores satisfy it.
type ExpiredCleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// ChallengeCleanupJob removes login challenges past their retention.
// This is a backup for when MongoDB's TTL index cleanup is delayed.
func ChallengeCleanupJob(store ExpiredCleaner, logger *zap.Logger) Job {
	return cleanupJob("login-challenge-cleanup", 15*time.Minute, store, logger)
}

// ConfirmationCleanupJob removes expired email confirmation links.
func ConfirmationCleanupJob(store ExpiredCleaner, logger *zap.Logger) Job {
	return cleanupJob("email-confirmation-cleanup", time.Hour, store, logger)
}

func cleanupJob(name string, every time.Duration, store ExpiredCleaner, logger *zap.Logger) Job {
	return Job{
		Name:     name,
		Interval: every,
		Run: func(ctx context.Context) error {
			count, err := store.CleanupExpired(ctx)
			if err != nil {
				return err
			}
			if count > 0 {
				logger.Debug("removed expired rows", zap.String("job", name), zap.Int64("count", count))
			}
			return nil
		},
	}
}
