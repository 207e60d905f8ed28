package models

import (
	"strings"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

// RepairerService is one service a repairer offers together with its visiting charge
type RepairerService struct {
	Name           string  `json:"name" binding:"required,category"`
	VisitingCharge float64 `json:"visiting_charge" binding:"gte=0"`
}

// RepairerPreferences holds notification toggles and the service radius
type RepairerPreferences struct {
	NotifyNewJobs   bool    `json:"notify_new_jobs" gorm:"default:true"`
	NotifyMessages  bool    `json:"notify_messages" gorm:"default:true"`
	NotifyPayments  bool    `json:"notify_payments" gorm:"default:true"`
	ServiceRadiusKm float64 `json:"service_radius_km" gorm:"type:decimal(6,2);default:10"`
}

// DefaultRepairerPreferences returns the preferences applied at signup
func DefaultRepairerPreferences() RepairerPreferences {
	return RepairerPreferences{
		NotifyNewJobs:   true,
		NotifyMessages:  true,
		NotifyPayments:  true,
		ServiceRadiusKm: 10,
	}
}

// Repairer is an independent professional taking repair jobs
type Repairer struct {
	ID              uint              `json:"id" gorm:"primaryKey"`
	FullName        string            `json:"full_name" gorm:"size:255;not null"`
	Phone           string            `json:"phone" gorm:"size:20;uniqueIndex;not null"`
	Email           string            `json:"email" gorm:"size:255"`
	Pincode         string            `json:"pincode" gorm:"size:6;not null;index"`
	ServicePincodes pq.StringArray    `json:"service_pincodes" gorm:"type:text[]"`
	Services        []RepairerService `json:"services" gorm:"serializer:json;type:jsonb"`
	UPIID           string            `json:"upi_id" gorm:"column:upi_id;size:100"`
	Rating          float64           `json:"rating" gorm:"type:decimal(3,2);default:0"`
	RatingCount     int               `json:"rating_count" gorm:"default:0"`
	Latitude        *float64          `json:"latitude" gorm:"type:decimal(10,8)"`
	Longitude       *float64          `json:"longitude" gorm:"type:decimal(11,8)"`
	ProfilePhotoURL *string           `json:"profile_photo_url" gorm:"size:500"`
	IsActive        bool              `json:"is_active" gorm:"default:true"`
	IsAvailable     bool              `json:"is_available" gorm:"default:true"`

	Preferences RepairerPreferences `json:"preferences" gorm:"embedded;embeddedPrefix:pref_"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName specifies the table name for the Repairer model
func (Repairer) TableName() string {
	return "repairers"
}

// Contact returns the channels an OTP or notice can be delivered to
func (r *Repairer) Contact() Contact {
	return Contact{Name: r.FullName, Phone: r.Phone, Email: r.Email}
}

// Offers reports whether the repairer lists the category among their services
func (r *Repairer) Offers(category string) bool {
	_, ok := r.VisitingCharge(category)
	return ok
}

// VisitingCharge returns the charge for a category the repairer offers
func (r *Repairer) VisitingCharge(category string) (float64, bool) {
	for _, s := range r.Services {
		if strings.EqualFold(s.Name, category) {
			return s.VisitingCharge, true
		}
	}
	return 0, false
}

// ServesPincode reports whether pincode is the home pincode or one of the service pincodes
func (r *Repairer) ServesPincode(pincode string) bool {
	if r.Pincode == pincode {
		return true
	}
	for _, p := range r.ServicePincodes {
		if p == pincode {
			return true
		}
	}
	return false
}

// RepairerSignup is the repairer signup payload
type RepairerSignup struct {
	FullName        string            `json:"full_name" binding:"required,max=255"`
	Phone           string            `json:"phone" binding:"required,phone"`
	Email           string            `json:"email" binding:"required,email"`
	Pincode         string            `json:"pincode" binding:"required,pincode"`
	ServicePincodes []string          `json:"service_pincodes" binding:"omitempty,dive,pincode"`
	Services        []RepairerService `json:"services" binding:"required,min=1,dive"`
	UPIID           string            `json:"upi_id" binding:"required,upi"`
	Latitude        *float64          `json:"latitude" binding:"omitempty,latitude"`
	Longitude       *float64          `json:"longitude" binding:"omitempty,longitude"`
}

// RepairerProfileUpdate holds the owner-editable profile fields
type RepairerProfileUpdate struct {
	FullName        *string   `json:"full_name" binding:"omitempty,max=255"`
	Email           *string   `json:"email" binding:"omitempty,email"`
	Pincode         *string   `json:"pincode" binding:"omitempty,pincode"`
	ServicePincodes *[]string `json:"service_pincodes" binding:"omitempty,dive,pincode"`
	UPIID           *string   `json:"upi_id" binding:"omitempty,upi"`
	Latitude        *float64  `json:"latitude" binding:"omitempty,latitude"`
	Longitude       *float64  `json:"longitude" binding:"omitempty,longitude"`
	IsAvailable     *bool     `json:"is_available"`
}
