package models

import (
	"math"
	"time"
)

// PaymentStatus tracks a payment from order creation to payout
type PaymentStatus string

const (
	PaymentCreated         PaymentStatus = "created"
	PaymentPending         PaymentStatus = "pending"
	PaymentCaptured        PaymentStatus = "captured"
	PaymentPayoutInitiated PaymentStatus = "payout_initiated"
	PaymentPayoutCompleted PaymentStatus = "payout_completed"
	PaymentFailed          PaymentStatus = "failed"
)

// AllPaymentStatuses lists every payment status
var AllPaymentStatuses = []PaymentStatus{
	PaymentCreated,
	PaymentPending,
	PaymentCaptured,
	PaymentPayoutInitiated,
	PaymentPayoutCompleted,
	PaymentFailed,
}

// IsValid checks that s is a known payment status
func (s PaymentStatus) IsValid() bool {
	for _, known := range AllPaymentStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// PaymentMethod distinguishes a job payment from the quote rejection fee
type PaymentMethod string

const (
	MethodStandard     PaymentMethod = "standard"
	MethodRejectionFee PaymentMethod = "rejection_fee"
)

// Payable reports whether an order may still be created for the status
func (s PaymentStatus) Payable() bool {
	return s == PaymentCreated || s == PaymentPending
}

// IsCaptured reports whether money has been confirmed by the gateway
func (s PaymentStatus) IsCaptured() bool {
	switch s {
	case PaymentCaptured, PaymentPayoutInitiated, PaymentPayoutCompleted:
		return true
	}
	return false
}

// PayableRequestStatus returns the request status in which a payment of method m can be collected
func (m PaymentMethod) PayableRequestStatus() RequestStatus {
	if m == MethodRejectionFee {
		return StatusRejected
	}
	return StatusPendingPayment
}

// Payment is one payable event of a service request
type Payment struct {
	ID               uint          `json:"id" gorm:"primaryKey"`
	ServiceRequestID uint          `json:"service_request_id" gorm:"not null;uniqueIndex:idx_payment_request_method"`
	PaymentMethod    PaymentMethod `json:"payment_method" gorm:"type:varchar(20);not null;uniqueIndex:idx_payment_request_method"`
	CustomerID       uint          `json:"customer_id" gorm:"not null;index"`
	RepairerID       *uint         `json:"repairer_id" gorm:"index"`
	Amount           float64       `json:"amount" gorm:"type:decimal(10,2);not null"`
	Commission       float64       `json:"commission" gorm:"type:decimal(10,2);default:0"`
	PayoutAmount     float64       `json:"payout_amount" gorm:"type:decimal(10,2);default:0"`
	Currency         string        `json:"currency" gorm:"type:varchar(3);default:'INR'"`
	Status           PaymentStatus `json:"status" gorm:"type:varchar(20);not null;default:'created';index"`

	GatewayOrderID   *string `json:"gateway_order_id" gorm:"size:100;uniqueIndex"`
	GatewayPaymentID *string `json:"gateway_payment_id" gorm:"size:100"`
	GatewaySignature *string `json:"-" gorm:"size:255"`
	PayoutID         *string `json:"payout_id" gorm:"size:100;index"`
	FailureReason    string  `json:"failure_reason,omitempty" gorm:"type:text"`
	PayoutAttempts   int     `json:"payout_attempts" gorm:"default:0"`

	CapturedAt        *time.Time `json:"captured_at"`
	PayoutInitiatedAt *time.Time `json:"payout_initiated_at"`
	PayoutCompletedAt *time.Time `json:"payout_completed_at"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// TableName specifies the table name for Payment
func (Payment) TableName() string {
	return "payments"
}

// AmountPaise returns the amount in the smallest currency unit
func (p *Payment) AmountPaise() int64 {
	return ToPaise(p.Amount)
}

// ToPaise converts rupees to paise
func ToPaise(rupees float64) int64 {
	return int64(math.Round(rupees * 100))
}

// SplitCommission returns the commission and payout parts of amount for a percentage
func SplitCommission(amount, percent float64) (commission, payout float64) {
	commission = math.Round(amount*percent) / 100
	payout = math.Round((amount-commission)*100) / 100
	return commission, payout
}

// PaymentChanges carries the column updates applied together with a payment status change
type PaymentChanges struct {
	Status            PaymentStatus
	GatewayOrderID    *string
	GatewayPaymentID  *string
	GatewaySignature  *string
	PayoutID          *string
	FailureReason     *string
	Commission        *float64
	PayoutAmount      *float64
	PayoutAttempts    *int
	CapturedAt        *time.Time
	PayoutInitiatedAt *time.Time
	PayoutCompletedAt *time.Time
}

// Columns returns the changes as a column map suitable for gorm Updates
func (c PaymentChanges) Columns() map[string]interface{} {
	cols := map[string]interface{}{"status": c.Status}
	if c.GatewayOrderID != nil {
		cols["gateway_order_id"] = *c.GatewayOrderID
	}
	if c.GatewayPaymentID != nil {
		cols["gateway_payment_id"] = *c.GatewayPaymentID
	}
	if c.GatewaySignature != nil {
		cols["gateway_signature"] = *c.GatewaySignature
	}
	if c.PayoutID != nil {
		cols["payout_id"] = *c.PayoutID
	}
	if c.FailureReason != nil {
		cols["failure_reason"] = *c.FailureReason
	}
	if c.Commission != nil {
		cols["commission"] = *c.Commission
	}
	if c.PayoutAmount != nil {
		cols["payout_amount"] = *c.PayoutAmount
	}
	if c.PayoutAttempts != nil {
		cols["payout_attempts"] = *c.PayoutAttempts
	}
	if c.CapturedAt != nil {
		cols["captured_at"] = *c.CapturedAt
	}
	if c.PayoutInitiatedAt != nil {
		cols["payout_initiated_at"] = *c.PayoutInitiatedAt
	}
	if c.PayoutCompletedAt != nil {
		cols["payout_completed_at"] = *c.PayoutCompletedAt
	}
	return cols
}

// Apply copies the changes onto p
func (c PaymentChanges) Apply(p *Payment) {
	p.Status = c.Status
	if c.GatewayOrderID != nil {
		v := *c.GatewayOrderID
		p.GatewayOrderID = &v
	}
	if c.GatewayPaymentID != nil {
		v := *c.GatewayPaymentID
		p.GatewayPaymentID = &v
	}
	if c.GatewaySignature != nil {
		v := *c.GatewaySignature
		p.GatewaySignature = &v
	}
	if c.PayoutID != nil {
		v := *c.PayoutID
		p.PayoutID = &v
	}
	if c.FailureReason != nil {
		p.FailureReason = *c.FailureReason
	}
	if c.Commission != nil {
		p.Commission = *c.Commission
	}
	if c.PayoutAmount != nil {
		p.PayoutAmount = *c.PayoutAmount
	}
	if c.PayoutAttempts != nil {
		p.PayoutAttempts = *c.PayoutAttempts
	}
	if c.CapturedAt != nil {
		p.CapturedAt = c.CapturedAt
	}
	if c.PayoutInitiatedAt != nil {
		p.PayoutInitiatedAt = c.PayoutInitiatedAt
	}
	if c.PayoutCompletedAt != nil {
		p.PayoutCompletedAt = c.PayoutCompletedAt
	}
}
