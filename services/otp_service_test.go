package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"fixnearby-server/cache"
	"fixnearby-server/models"
)

func newOTPFixture(t *testing.T, maxAttempts int) (*OTPService, string) {
	t.Helper()
	codes := newCodeCapture()
	svc := NewOTPService(cache.NewMemoryStore(), codes, OTPSettings{MaxAttempts: maxAttempts})
	to := models.Contact{Name: "Asha Rao", Phone: "9876543210"}
	if err := svc.Issue(context.Background(), completionKey(1), to, PurposeCompletion); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return svc, codes.code(PurposeCompletion, to.Phone)
}

func TestVerifyConcurrentWrongCodesRespectCap(t *testing.T) {
	ctx := context.Background()
	svc, code := newOTPFixture(t, 5)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		mismatch int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := svc.Verify(ctx, completionKey(1), wrongCode(code), PurposeCompletion)
			if errors.Is(err, ErrInvalidOTP) {
				mu.Lock()
				mismatch++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if mismatch > 4 {
		t.Errorf("cap of 5 allows at most 4 plain mismatches, got %d", mismatch)
	}
	err := svc.Verify(ctx, completionKey(1), code, PurposeCompletion)
	mustErr(t, err, ErrOTPExpired)
}

func TestVerifyConcurrentCorrectCodeConsumedOnce(t *testing.T) {
	ctx := context.Background()
	svc, code := newOTPFixture(t, 20)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if svc.Verify(ctx, completionKey(1), code, PurposeCompletion) == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if ok != 1 {
		t.Errorf("expected the code to be accepted exactly once, got %d", ok)
	}
}

func TestVerifyCorrectCodeOnLastAttempt(t *testing.T) {
	ctx := context.Background()
	svc, code := newOTPFixture(t, 3)

	for i := 0; i < 2; i++ {
		mustErr(t, svc.Verify(ctx, completionKey(1), wrongCode(code), PurposeCompletion), ErrInvalidOTP)
	}
	if err := svc.Verify(ctx, completionKey(1), code, PurposeCompletion); err != nil {
		t.Fatalf("third attempt with the right code: %v", err)
	}
}

func TestVerifyMalformedCodeIsNotCounted(t *testing.T) {
	ctx := context.Background()
	svc, code := newOTPFixture(t, 2)

	for i := 0; i < 5; i++ {
		mustErr(t, svc.Verify(ctx, completionKey(1), "12ab", PurposeCompletion), ErrInvalidOTP)
	}
	if err := svc.Verify(ctx, completionKey(1), code, PurposeCompletion); err != nil {
		t.Fatalf("malformed input must not use up attempts: %v", err)
	}
}
