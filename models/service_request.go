package models

import (
	"time"

	"gorm.io/gorm"
)

// ServiceCategories lists the repair categories a request can be filed under
var ServiceCategories = []string{
	"Plumbing",
	"Electrical",
	"Carpentry",
	"Painting",
	"Appliance Repair",
	"AC Repair",
	"Cleaning",
	"Pest Control",
	"Masonry",
	"Locksmith",
}

// Urgency levels accepted on a service request
const (
	UrgencyLow       = "low"
	UrgencyMedium    = "medium"
	UrgencyHigh      = "high"
	UrgencyEmergency = "emergency"
)

// Location capture methods
const (
	CaptureManual = "manual"
	CaptureGPS    = "gps"
)

// ServiceRequest is a customer's repair job and the central workflow entity
type ServiceRequest struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	CustomerID  uint      `json:"customer_id" gorm:"not null;index"`
	Customer    *User     `json:"customer,omitempty" gorm:"foreignKey:CustomerID"`
	RepairerID  *uint     `json:"repairer_id" gorm:"index"`
	Repairer    *Repairer `json:"repairer,omitempty" gorm:"foreignKey:RepairerID"`
	Title       string    `json:"title" gorm:"type:varchar(200);not null"`
	Category    string    `json:"category" gorm:"type:varchar(100);not null;index"`
	Issue       string    `json:"issue" gorm:"type:varchar(200);not null"`
	Description string    `json:"description" gorm:"type:text"`

	// Location
	Address       string   `json:"address" gorm:"type:text;not null"`
	Pincode       string   `json:"pincode" gorm:"type:varchar(6);not null;index"`
	Latitude      *float64 `json:"latitude" gorm:"type:decimal(10,8)"`
	Longitude     *float64 `json:"longitude" gorm:"type:decimal(11,8)"`
	CaptureMethod string   `json:"capture_method" gorm:"type:varchar(20);default:'manual'"`

	// Preferred time slot
	PreferredDate string `json:"preferred_date" gorm:"type:varchar(20)"`
	PreferredTime string `json:"preferred_time" gorm:"type:varchar(40)"`
	Urgency       string `json:"urgency" gorm:"type:varchar(20);not null;default:'medium'"`

	Status RequestStatus `json:"status" gorm:"type:varchar(30);not null;default:'requested';index"`

	// Quotation is the advisory estimate shown before a repairer quotes.
	Quotation *float64 `json:"quotation" gorm:"type:decimal(10,2)"`
	// EstimatedPrice is the repairer's binding quote.
	EstimatedPrice *float64 `json:"estimated_price" gorm:"type:decimal(10,2)"`

	ContactName  string `json:"contact_name" gorm:"type:varchar(255)"`
	ContactPhone string `json:"contact_phone" gorm:"type:varchar(20);not null"`

	ConversationID   *uint `json:"conversation_id"`
	AwaitingRepairer bool  `json:"awaiting_repairer" gorm:"default:false;index"`

	AssignedAt   *time.Time `json:"assigned_at"`
	QuotedAt     *time.Time `json:"quoted_at"`
	AcceptedAt   *time.Time `json:"accepted_at"`
	StartedAt    *time.Time `json:"started_at"`
	OTPIssuedAt  *time.Time `json:"otp_issued_at"`
	CompletedAt  *time.Time `json:"completed_at"`
	CancelledAt  *time.Time `json:"cancelled_at"`
	CancelledBy  Role       `json:"cancelled_by,omitempty" gorm:"type:varchar(20)"`
	CancelReason string     `json:"cancel_reason,omitempty" gorm:"type:text"`

	Rating *int   `json:"rating"`
	Review string `json:"review,omitempty" gorm:"type:text"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName specifies the table name for ServiceRequest
func (ServiceRequest) TableName() string {
	return "service_requests"
}

// IsAssignedTo reports whether the request is assigned to the given repairer
func (r *ServiceRequest) IsAssignedTo(repairerID uint) bool {
	return r.RepairerID != nil && *r.RepairerID == repairerID
}

// RequestChanges carries the column updates applied together with a status transition.
// Nil fields are left untouched.
type RequestChanges struct {
	RepairerID       *uint
	AssignedAt       *time.Time
	EstimatedPrice   *float64
	QuotedAt         *time.Time
	AcceptedAt       *time.Time
	StartedAt        *time.Time
	OTPIssuedAt      *time.Time
	CompletedAt      *time.Time
	CancelledAt      *time.Time
	CancelledBy      *Role
	CancelReason     *string
	AwaitingRepairer *bool
}

// Columns returns the changes as a column map suitable for gorm Updates
func (c RequestChanges) Columns() map[string]interface{} {
	cols := map[string]interface{}{}
	if c.RepairerID != nil {
		cols["repairer_id"] = *c.RepairerID
	}
	if c.AssignedAt != nil {
		cols["assigned_at"] = *c.AssignedAt
	}
	if c.EstimatedPrice != nil {
		cols["estimated_price"] = *c.EstimatedPrice
	}
	if c.QuotedAt != nil {
		cols["quoted_at"] = *c.QuotedAt
	}
	if c.AcceptedAt != nil {
		cols["accepted_at"] = *c.AcceptedAt
	}
	if c.StartedAt != nil {
		cols["started_at"] = *c.StartedAt
	}
	if c.OTPIssuedAt != nil {
		cols["otp_issued_at"] = *c.OTPIssuedAt
	}
	if c.CompletedAt != nil {
		cols["completed_at"] = *c.CompletedAt
	}
	if c.CancelledAt != nil {
		cols["cancelled_at"] = *c.CancelledAt
	}
	if c.CancelledBy != nil {
		cols["cancelled_by"] = *c.CancelledBy
	}
	if c.CancelReason != nil {
		cols["cancel_reason"] = *c.CancelReason
	}
	if c.AwaitingRepairer != nil {
		cols["awaiting_repairer"] = *c.AwaitingRepairer
	}
	return cols
}

// Apply copies the changes onto r
func (c RequestChanges) Apply(r *ServiceRequest) {
	if c.RepairerID != nil {
		id := *c.RepairerID
		r.RepairerID = &id
	}
	if c.AssignedAt != nil {
		r.AssignedAt = c.AssignedAt
	}
	if c.EstimatedPrice != nil {
		p := *c.EstimatedPrice
		r.EstimatedPrice = &p
	}
	if c.QuotedAt != nil {
		r.QuotedAt = c.QuotedAt
	}
	if c.AcceptedAt != nil {
		r.AcceptedAt = c.AcceptedAt
	}
	if c.StartedAt != nil {
		r.StartedAt = c.StartedAt
	}
	if c.OTPIssuedAt != nil {
		r.OTPIssuedAt = c.OTPIssuedAt
	}
	if c.CompletedAt != nil {
		r.CompletedAt = c.CompletedAt
	}
	if c.CancelledAt != nil {
		r.CancelledAt = c.CancelledAt
	}
	if c.CancelledBy != nil {
		r.CancelledBy = *c.CancelledBy
	}
	if c.CancelReason != nil {
		r.CancelReason = *c.CancelReason
	}
	if c.AwaitingRepairer != nil {
		r.AwaitingRepairer = *c.AwaitingRepairer
	}
}

// ServiceRequestCreate is the customer's submission payload
type ServiceRequestCreate struct {
	Title         string   `json:"title" binding:"required,max=200"`
	Category      string   `json:"category" binding:"required,category"`
	Issue         string   `json:"issue" binding:"required,max=200"`
	Description   string   `json:"description" binding:"max=2000"`
	Address       string   `json:"address" binding:"required"`
	Pincode       string   `json:"pincode" binding:"required,pincode"`
	Latitude      *float64 `json:"latitude" binding:"omitempty,latitude"`
	Longitude     *float64 `json:"longitude" binding:"omitempty,longitude"`
	CaptureMethod string   `json:"capture_method" binding:"omitempty,oneof=manual gps"`
	PreferredDate string   `json:"preferred_date"`
	PreferredTime string   `json:"preferred_time"`
	Urgency       string   `json:"urgency" binding:"omitempty,oneof=low medium high emergency"`
	Quotation     *float64 `json:"quotation" binding:"omitempty,gt=0"`
	ContactName   string   `json:"contact_name"`
	ContactPhone  string   `json:"contact_phone" binding:"required,phone"`
}
