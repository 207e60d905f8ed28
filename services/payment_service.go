package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"fixnearby-server/events"
	"fixnearby-server/logging"
	"fixnearby-server/metrics"
	"fixnearby-server/models"
	"fixnearby-server/razorpay"
)

// PaymentSettings configures collection and payouts
type PaymentSettings struct {
	CommissionPercent float64
	Currency          string
	MaxPayoutAttempts int
}

// PaymentService collects payments through the gateway and pays repairers out
type PaymentService struct {
	store   Store
	gateway PaymentGateway
	events  Publisher
	cfg     PaymentSettings
	now     func() time.Time
}

// NewPaymentService creates the payment service
func NewPaymentService(store Store, gateway PaymentGateway, publisher Publisher, cfg PaymentSettings) *PaymentService {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	if cfg.MaxPayoutAttempts == 0 {
		cfg.MaxPayoutAttempts = 5
	}
	return &PaymentService{store: store, gateway: gateway, events: publisher, cfg: cfg, now: time.Now}
}

// OrderInfo is what the client needs to open checkout
type OrderInfo struct {
	PaymentID uint   `json:"payment_id"`
	OrderID   string `json:"order_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	KeyID     string `json:"key_id"`
}

// CreateOrder opens a gateway order for a payable payment. It fails closed unless
// both the payment and its request are in a payable state, and returns the
// existing order when one is already pending.
func (p *PaymentService) CreateOrder(ctx context.Context, s models.Session, paymentID uint) (*OrderInfo, error) {
	payment, err := p.customerPayment(ctx, s, paymentID)
	if err != nil {
		return nil, err
	}
	if err := p.checkPayable(ctx, payment); err != nil {
		return nil, err
	}

	if payment.Status == models.PaymentPending && payment.GatewayOrderID != nil {
		return p.orderInfo(payment), nil
	}

	order, err := p.gateway.CreateOrder(ctx, razorpay.OrderRequest{
		Amount:   payment.AmountPaise(),
		Currency: payment.Currency,
		Receipt:  "fn_" + strconv.FormatUint(uint64(payment.ID), 10) + "_" + uuid.New().String()[:8],
		Notes: map[string]string{
			"payment_id":         strconv.FormatUint(uint64(payment.ID), 10),
			"service_request_id": strconv.FormatUint(uint64(payment.ServiceRequestID), 10),
			"payment_method":     string(payment.PaymentMethod),
		},
	})
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Uint("payment_id", payment.ID).Msg("Failed to create gateway order")
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	updated, err := p.store.AdvancePayment(ctx, payment.ID, []models.PaymentStatus{models.PaymentCreated, models.PaymentPending}, models.PaymentChanges{
		Status:         models.PaymentPending,
		GatewayOrderID: &order.ID,
	})
	if err != nil {
		return nil, err
	}
	metrics.Payments.WithLabelValues(string(updated.PaymentMethod), string(updated.Status)).Inc()
	return p.orderInfo(updated), nil
}

func (p *PaymentService) orderInfo(payment *models.Payment) *OrderInfo {
	return &OrderInfo{
		PaymentID: payment.ID,
		OrderID:   *payment.GatewayOrderID,
		Amount:    payment.AmountPaise(),
		Currency:  payment.Currency,
		KeyID:     p.gateway.KeyID(),
	}
}

func (p *PaymentService) checkPayable(ctx context.Context, payment *models.Payment) error {
	if !payment.Status.Payable() || payment.Amount <= 0 {
		return ErrPaymentNotPayable
	}
	req, err := p.store.GetServiceRequest(ctx, payment.ServiceRequestID)
	if err != nil {
		return err
	}
	if req.Status != payment.PaymentMethod.PayableRequestStatus() {
		return ErrPaymentNotPayable
	}
	return nil
}

// VerifyInput is the checkout result posted by the client
type VerifyInput struct {
	OrderID         string `json:"razorpay_order_id" binding:"required"`
	PaymentID       string `json:"razorpay_payment_id" binding:"required"`
	Signature       string `json:"razorpay_signature" binding:"required"`
	PaymentRecordID uint   `json:"payment_record_id" binding:"required"`
}

// VerifyAndTransfer checks the checkout signature, captures the payment,
// completes standard jobs and starts the repairer payout. A bad signature marks
// the payment failed and leaves the request untouched.
func (p *PaymentService) VerifyAndTransfer(ctx context.Context, s models.Session, in VerifyInput) (*models.Payment, error) {
	payment, err := p.customerPayment(ctx, s, in.PaymentRecordID)
	if err != nil {
		return nil, err
	}
	if payment.GatewayOrderID == nil || *payment.GatewayOrderID != in.OrderID {
		return nil, ErrPaymentUnverified
	}
	if payment.Status.IsCaptured() && payment.GatewayPaymentID != nil && *payment.GatewayPaymentID == in.PaymentID {
		return payment, nil
	}
	if payment.Status != models.PaymentPending {
		return nil, ErrPaymentNotPayable
	}

	if !p.gateway.VerifyPaymentSignature(in.OrderID, in.PaymentID, in.Signature) {
		reason := "payment signature verification failed"
		if _, err := p.store.AdvancePayment(ctx, payment.ID, []models.PaymentStatus{models.PaymentPending}, models.PaymentChanges{
			Status:           models.PaymentFailed,
			GatewayPaymentID: &in.PaymentID,
			FailureReason:    &reason,
		}); err != nil {
			logging.Ctx(ctx).Error().Err(err).Uint("payment_id", payment.ID).Msg("Failed to mark payment failed")
		}
		metrics.Payments.WithLabelValues(string(payment.PaymentMethod), string(models.PaymentFailed)).Inc()
		logging.Ctx(ctx).Warn().Uint("payment_id", payment.ID).Str("order_id", in.OrderID).Msg("Payment signature mismatch")
		return nil, ErrPaymentUnverified
	}

	commission, payout := models.SplitCommission(payment.Amount, p.cfg.CommissionPercent)
	now := p.now()

	var (
		captured *models.Payment
		req      *models.ServiceRequest
	)
	err = p.store.WithinTx(ctx, func(tx Store) error {
		var err error
		captured, err = tx.AdvancePayment(ctx, payment.ID, []models.PaymentStatus{models.PaymentPending}, models.PaymentChanges{
			Status:           models.PaymentCaptured,
			GatewayPaymentID: &in.PaymentID,
			GatewaySignature: &in.Signature,
			Commission:       &commission,
			PayoutAmount:     &payout,
			CapturedAt:       &now,
		})
		if err != nil {
			return err
		}

		req, err = tx.GetServiceRequest(ctx, payment.ServiceRequestID)
		if err != nil {
			return err
		}
		if payment.PaymentMethod != models.MethodStandard {
			return nil
		}
		if err := models.Transition(req.Status, models.StatusCompleted); err != nil {
			return err
		}
		from := req.Status
		req, err = tx.TransitionServiceRequest(ctx, req.ID, []models.RequestStatus{from}, models.StatusCompleted, models.RequestChanges{CompletedAt: &now})
		if err != nil {
			return err
		}
		metrics.RequestTransitions.WithLabelValues(string(from), string(models.StatusCompleted)).Inc()
		if _, err := tx.DeactivateConversation(ctx, req.ID); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.Payments.WithLabelValues(string(captured.PaymentMethod), string(captured.Status)).Inc()
	logging.Ctx(ctx).Info().Uint("payment_id", captured.ID).Uint("service_request_id", req.ID).Msg("Payment captured")

	ev := events.ForRequest(events.PaymentCaptured, req)
	ev.Amount = captured.Amount
	if err := p.events.Publish(ctx, ev); err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Failed to publish payment event")
	}

	if paid, err := p.initiatePayout(ctx, captured); err == nil {
		captured = paid
	}
	return captured, nil
}

// initiatePayout sends the repairer's share. Failures leave the payment captured for retry.
func (p *PaymentService) initiatePayout(ctx context.Context, payment *models.Payment) (*models.Payment, error) {
	if payment.RepairerID == nil {
		return payment, fmt.Errorf("payment %d has no repairer", payment.ID)
	}
	r, err := p.store.GetRepairer(ctx, *payment.RepairerID)
	if err != nil {
		return payment, err
	}

	attempts := payment.PayoutAttempts + 1
	if r.UPIID == "" {
		reason := "repairer has no UPI id"
		if _, uerr := p.store.AdvancePayment(ctx, payment.ID, []models.PaymentStatus{models.PaymentCaptured}, models.PaymentChanges{
			Status:         models.PaymentCaptured,
			FailureReason:  &reason,
			PayoutAttempts: &attempts,
		}); uerr != nil {
			logging.Ctx(ctx).Error().Err(uerr).Uint("payment_id", payment.ID).Msg("Failed to record payout attempt")
		}
		logging.Ctx(ctx).Warn().Uint("payment_id", payment.ID).Uint("repairer_id", r.ID).Msg("Payout skipped, repairer has no UPI id")
		return payment, errors.New(reason)
	}

	out, err := p.gateway.CreatePayout(ctx, razorpay.PayoutRequest{
		AmountPaise: models.ToPaise(payment.PayoutAmount),
		Currency:    payment.Currency,
		UPIID:       r.UPIID,
		Name:        r.FullName,
		ReferenceID: "payment_" + strconv.FormatUint(uint64(payment.ID), 10),
		Narration:   "FixNearby job payout",
	})
	if err != nil {
		reason := err.Error()
		if _, uerr := p.store.AdvancePayment(ctx, payment.ID, []models.PaymentStatus{models.PaymentCaptured}, models.PaymentChanges{
			Status:         models.PaymentCaptured,
			FailureReason:  &reason,
			PayoutAttempts: &attempts,
		}); uerr != nil {
			logging.Ctx(ctx).Error().Err(uerr).Uint("payment_id", payment.ID).Msg("Failed to record payout attempt")
		}
		logging.Ctx(ctx).Warn().Err(err).Uint("payment_id", payment.ID).Int("attempt", attempts).Msg("Payout failed, will retry")
		return payment, err
	}

	now := p.now()
	updated, err := p.store.AdvancePayment(ctx, payment.ID, []models.PaymentStatus{models.PaymentCaptured}, models.PaymentChanges{
		Status:            models.PaymentPayoutInitiated,
		PayoutID:          &out.ID,
		PayoutAttempts:    &attempts,
		PayoutInitiatedAt: &now,
	})
	if err != nil {
		return payment, err
	}
	metrics.Payments.WithLabelValues(string(updated.PaymentMethod), string(updated.Status)).Inc()
	logging.Ctx(ctx).Info().Uint("payment_id", updated.ID).Str("payout_id", out.ID).Msg("Payout initiated")
	return updated, nil
}

// RetryPayouts re-attempts payouts for captured payments and returns how many were initiated
func (p *PaymentService) RetryPayouts(ctx context.Context, limit int) (int, error) {
	captured, err := p.store.ListPayments(ctx, models.PaymentCaptured, limit)
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range captured {
		if captured[i].PayoutAttempts >= p.cfg.MaxPayoutAttempts {
			continue
		}
		if _, err := p.initiatePayout(ctx, &captured[i]); err == nil {
			n++
		}
	}
	return n, nil
}

// HandleWebhook applies a signed gateway webhook
func (p *PaymentService) HandleWebhook(ctx context.Context, body []byte, signature string) error {
	if !p.gateway.VerifyWebhookSignature(body, signature) {
		return ErrPaymentUnverified
	}
	ev, err := razorpay.ParseWebhook(body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	payoutID := ev.Payload.Payout.Entity.ID
	switch ev.Event {
	case razorpay.EventPayoutProcessed:
		return p.payoutSettled(ctx, payoutID)
	case razorpay.EventPayoutFailed, razorpay.EventPayoutReversed:
		reason := ev.Payload.Payout.Entity.FailureReason
		if reason == "" {
			reason = ev.Event
		}
		return p.payoutFailed(ctx, payoutID, reason)
	default:
		logging.Ctx(ctx).Debug().Str("event", ev.Event).Msg("Ignoring webhook event")
		return nil
	}
}

func (p *PaymentService) payoutSettled(ctx context.Context, payoutID string) error {
	payment, err := p.store.GetPaymentByPayout(ctx, payoutID)
	if errors.Is(err, ErrNotFound) {
		logging.Ctx(ctx).Warn().Str("payout_id", payoutID).Msg("Webhook for unknown payout")
		return nil
	}
	if err != nil {
		return err
	}
	if payment.Status == models.PaymentPayoutCompleted {
		return nil
	}

	now := p.now()
	updated, err := p.store.AdvancePayment(ctx, payment.ID, []models.PaymentStatus{models.PaymentPayoutInitiated}, models.PaymentChanges{
		Status:            models.PaymentPayoutCompleted,
		PayoutCompletedAt: &now,
	})
	if err != nil {
		return err
	}
	metrics.Payments.WithLabelValues(string(updated.PaymentMethod), string(updated.Status)).Inc()

	ev := events.Event{
		Kind:       events.PayoutCompleted,
		RequestID:  updated.ServiceRequestID,
		CustomerID: updated.CustomerID,
		Amount:     updated.PayoutAmount,
		OccurredAt: now,
	}
	if updated.RepairerID != nil {
		ev.RepairerID = *updated.RepairerID
	}
	if err := p.events.Publish(ctx, ev); err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Failed to publish payout event")
	}
	return nil
}

func (p *PaymentService) payoutFailed(ctx context.Context, payoutID, reason string) error {
	payment, err := p.store.GetPaymentByPayout(ctx, payoutID)
	if errors.Is(err, ErrNotFound) {
		logging.Ctx(ctx).Warn().Str("payout_id", payoutID).Msg("Webhook for unknown payout")
		return nil
	}
	if err != nil {
		return err
	}

	_, err = p.store.AdvancePayment(ctx, payment.ID, []models.PaymentStatus{models.PaymentPayoutInitiated, models.PaymentPayoutCompleted}, models.PaymentChanges{
		Status:        models.PaymentCaptured,
		FailureReason: &reason,
	})
	if errors.Is(err, ErrConflict) {
		return nil
	}
	if err != nil {
		return err
	}
	logging.Ctx(ctx).Warn().Uint("payment_id", payment.ID).Str("reason", reason).Msg("Payout returned, queued for retry")
	return nil
}

// Reopen lets support put a failed payment back to created after checking it
// with the gateway, so the customer can pay again. The linked request must
// still be waiting for this payment.
func (p *PaymentService) Reopen(ctx context.Context, s models.Session, id uint, note string) (*models.Payment, error) {
	if !s.IsAdmin() {
		return nil, ErrForbidden
	}
	payment, err := p.store.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	if payment.Status != models.PaymentFailed {
		return nil, ErrPaymentNotPayable
	}
	req, err := p.store.GetServiceRequest(ctx, payment.ServiceRequestID)
	if err != nil {
		return nil, err
	}
	if req.Status != payment.PaymentMethod.PayableRequestStatus() {
		return nil, ErrPaymentNotPayable
	}

	reason := "reopened by support: " + strings.TrimSpace(note)
	updated, err := p.store.AdvancePayment(ctx, payment.ID, []models.PaymentStatus{models.PaymentFailed}, models.PaymentChanges{
		Status:        models.PaymentCreated,
		FailureReason: &reason,
	})
	if err != nil {
		return nil, err
	}
	metrics.Payments.WithLabelValues(string(updated.PaymentMethod), string(updated.Status)).Inc()
	logging.Ctx(ctx).Info().
		Uint("payment_id", updated.ID).
		Uint("admin_id", s.SubjectID()).
		Msg("Failed payment reopened")
	return updated, nil
}

// Get returns a payment visible to the session
func (p *PaymentService) Get(ctx context.Context, s models.Session, id uint) (*models.Payment, error) {
	payment, err := p.store.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case s.IsAdmin():
	case s.Role() == models.RoleUser && payment.CustomerID == s.SubjectID():
	case s.Role() == models.RoleRepairer && payment.RepairerID != nil && *payment.RepairerID == s.SubjectID():
	default:
		return nil, ErrForbidden
	}
	return payment, nil
}

func (p *PaymentService) customerPayment(ctx context.Context, s models.Session, id uint) (*models.Payment, error) {
	uid, ok := s.UserID()
	if !ok {
		return nil, ErrForbidden
	}
	payment, err := p.store.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	if payment.CustomerID != uid {
		return nil, ErrForbidden
	}
	return payment, nil
}
