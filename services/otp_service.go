package services

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/crypto/bcrypt"

	"fixnearby-server/cache"
	"fixnearby-server/logging"
	"fixnearby-server/mailer"
	"fixnearby-server/metrics"
	"fixnearby-server/models"
)

// OTPPurpose scopes a code to the flow it was issued for
type OTPPurpose string

const (
	PurposeSignup     OTPPurpose = "signup"
	PurposeLogin      OTPPurpose = "login"
	PurposeCompletion OTPPurpose = "completion"
)

// OTPSettings controls code lifetime and attempts
type OTPSettings struct {
	TTL         time.Duration
	VerifiedTTL time.Duration
	MaxAttempts int
}

// OTPService issues and checks six digit codes. Codes are stored bcrypt-hashed.
type OTPService struct {
	store  OTPStore
	sender mailer.Sender
	cfg    OTPSettings
	now    func() time.Time
}

// NewOTPService creates an OTP service
func NewOTPService(store OTPStore, sender mailer.Sender, cfg OTPSettings) *OTPService {
	if cfg.TTL == 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.VerifiedTTL == 0 {
		cfg.VerifiedTTL = 15 * time.Minute
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 5
	}
	return &OTPService{store: store, sender: sender, cfg: cfg, now: time.Now}
}

func phoneKey(purpose OTPPurpose, role models.Role, phone string) string {
	return fmt.Sprintf("otp:%s:%s:%s", purpose, role, phone)
}

func verifiedKey(role models.Role, phone string) string {
	return fmt.Sprintf("verified:%s:%s", role, phone)
}

func completionKey(requestID uint) string {
	return fmt.Sprintf("otp:%s:request:%d", PurposeCompletion, requestID)
}

// Issue generates a fresh code under key, replacing any earlier one, and sends it to the contact
func (s *OTPService) Issue(ctx context.Context, key string, to models.Contact, purpose OTPPurpose) error {
	code, err := generateCode()
	if err != nil {
		return fmt.Errorf("generate otp: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash otp: %w", err)
	}

	if err := s.store.Put(ctx, key, cache.OTPRecord{Hash: string(hash), IssuedAt: s.now()}, s.cfg.TTL); err != nil {
		return fmt.Errorf("store otp: %w", err)
	}
	if err := s.sender.SendOTP(ctx, to, code, string(purpose)); err != nil {
		_ = s.store.Delete(ctx, key)
		return fmt.Errorf("deliver otp: %w", err)
	}

	metrics.OTPIssued.WithLabelValues(string(purpose)).Inc()
	logging.Ctx(ctx).Info().Str("purpose", string(purpose)).Msg("OTP issued")
	return nil
}

// Verify checks code against key. A correct code is consumed exactly once.
// Every attempt is counted before the hash compare; past the limit the code is discarded.
func (s *OTPService) Verify(ctx context.Context, key, code string, purpose OTPPurpose) error {
	if !isSixDigits(code) {
		metrics.OTPFailures.WithLabelValues(string(purpose), "malformed").Inc()
		return ErrInvalidOTP
	}

	rec, found, err := s.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("load otp: %w", err)
	}
	if !found {
		metrics.OTPFailures.WithLabelValues(string(purpose), "expired").Inc()
		return ErrOTPExpired
	}

	attempt, err := s.store.IncrAttempts(ctx, key)
	if err != nil {
		return err
	}
	if attempt == 0 {
		metrics.OTPFailures.WithLabelValues(string(purpose), "expired").Inc()
		return ErrOTPExpired
	}
	if attempt > s.cfg.MaxAttempts {
		metrics.OTPFailures.WithLabelValues(string(purpose), "attempts").Inc()
		_ = s.store.Delete(ctx, key)
		return ErrOTPAttempts
	}

	if bcrypt.CompareHashAndPassword([]byte(rec.Hash), []byte(code)) != nil {
		metrics.OTPFailures.WithLabelValues(string(purpose), "mismatch").Inc()
		if attempt >= s.cfg.MaxAttempts {
			_ = s.store.Delete(ctx, key)
			return ErrOTPAttempts
		}
		return ErrInvalidOTP
	}

	taken, err := s.store.Take(ctx, key)
	if err != nil {
		return fmt.Errorf("consume otp: %w", err)
	}
	if !taken {
		metrics.OTPFailures.WithLabelValues(string(purpose), "consumed").Inc()
		return ErrOTPExpired
	}
	return nil
}

// MarkVerified remembers that phone passed OTP verification for role
func (s *OTPService) MarkVerified(ctx context.Context, role models.Role, phone string) error {
	return s.store.Mark(ctx, verifiedKey(role, phone), s.cfg.VerifiedTTL)
}

// IsVerified reports whether phone was verified recently
func (s *OTPService) IsVerified(ctx context.Context, role models.Role, phone string) (bool, error) {
	return s.store.Marked(ctx, verifiedKey(role, phone))
}

// ClearVerified drops the verification marker once it has been used
func (s *OTPService) ClearVerified(ctx context.Context, role models.Role, phone string) error {
	return s.store.Delete(ctx, verifiedKey(role, phone))
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func isSixDigits(code string) bool {
	if len(code) != 6 {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
