package jobs

import (
	"context"

	"fixnearby-server/config"
)

// payoutBatch bounds how many captured payments one retry pass picks up
const payoutBatch = 50

// PayoutRetrier re-attempts payouts for captured payments
type PayoutRetrier interface {
	RetryPayouts(ctx context.Context, limit int) (int, error)
}

// AwaitingMatcher re-runs repairer matching for requests nobody could take
type AwaitingMatcher interface {
	MatchAwaiting(ctx context.Context) (int, error)
}

// TokenCleaner removes expired refresh tokens
type TokenCleaner interface {
	CleanupExpiredTokens(ctx context.Context) (int64, error)
}

// NewPayoutRetry builds the payout retry job
func NewPayoutRetry(cfg config.JobsConfig, p PayoutRetrier) *Job {
	return New("payout_retry", cfg.PayoutRetryInterval, func(ctx context.Context) (int, error) {
		return p.RetryPayouts(ctx, payoutBatch)
	})
}

// NewAvailabilityMatcher builds the job that notifies customers once repairers become available
func NewAvailabilityMatcher(cfg config.JobsConfig, m AwaitingMatcher) *Job {
	return New("availability_matcher", cfg.AvailabilityInterval, m.MatchAwaiting)
}

// NewTokenCleanup builds the refresh token cleanup job
func NewTokenCleanup(cfg config.JobsConfig, c TokenCleaner) *Job {
	return New("token_cleanup", cfg.TokenCleanupInterval, func(ctx context.Context) (int, error) {
		n, err := c.CleanupExpiredTokens(ctx)
		return int(n), err
	})
}
