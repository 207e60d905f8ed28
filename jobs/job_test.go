package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"fixnearby-server/config"
	"fixnearby-server/metrics"
)

type retrier struct {
	calls atomic.Int32
	limit atomic.Int32
}

func (r *retrier) RetryPayouts(_ context.Context, limit int) (int, error) {
	r.calls.Add(1)
	r.limit.Store(int32(limit))
	return 1, nil
}

type failingCleaner struct{}

func (failingCleaner) CleanupExpiredTokens(context.Context) (int64, error) {
	return 0, errors.New("db down")
}

func TestJobRunsOnInterval(t *testing.T) {
	r := &retrier{}
	job := NewPayoutRetry(config.JobsConfig{PayoutRetryInterval: 10 * time.Millisecond}, r)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- job.Serve(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for r.calls.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("job did not tick")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if r.limit.Load() != payoutBatch {
		t.Errorf("expected batch %d, got %d", payoutBatch, r.limit.Load())
	}
}

func TestJobCountsFailures(t *testing.T) {
	job := NewTokenCleanup(config.JobsConfig{TokenCleanupInterval: time.Hour}, failingCleaner{})
	before := testutil.ToFloat64(metrics.JobRuns.WithLabelValues("token_cleanup", "error"))

	job.RunOnce(context.Background())

	after := testutil.ToFloat64(metrics.JobRuns.WithLabelValues("token_cleanup", "error"))
	if after != before+1 {
		t.Errorf("expected error counter to grow by 1, got %v -> %v", before, after)
	}
	if job.String() != "job:token_cleanup" {
		t.Errorf("unexpected name %q", job.String())
	}
}
