package models

import (
	"time"

	"gorm.io/gorm"
)

// User is a customer account
type User struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	FullName  string         `json:"full_name" gorm:"size:255;not null"`
	Phone     string         `json:"phone" gorm:"size:20;uniqueIndex;not null"`
	Email     string         `json:"email" gorm:"size:255"`
	Pincode   string         `json:"pincode" gorm:"size:6"`
	Address   string         `json:"address" gorm:"type:text"`
	IsActive  bool           `json:"is_active" gorm:"default:true"`
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName specifies the table name for the User model
func (User) TableName() string {
	return "users"
}

// Contact returns the channels an OTP or notice can be delivered to
func (u *User) Contact() Contact {
	return Contact{Name: u.FullName, Phone: u.Phone, Email: u.Email}
}

// Admin is a back-office operator signing in with email and password
type Admin struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	Email        string    `json:"email" gorm:"size:255;uniqueIndex;not null"`
	FullName     string    `json:"full_name" gorm:"size:255"`
	PasswordHash string    `json:"-" gorm:"size:255;not null"`
	IsActive     bool      `json:"is_active" gorm:"default:true"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName specifies the table name for the Admin model
func (Admin) TableName() string {
	return "admins"
}

// Contact is a delivery address for one-time codes and notices
type Contact struct {
	Name  string
	Phone string
	Email string
}

// UserSignup is the customer signup payload
type UserSignup struct {
	FullName string `json:"full_name" binding:"required,max=255"`
	Phone    string `json:"phone" binding:"required,phone"`
	Email    string `json:"email" binding:"required,email"`
	Pincode  string `json:"pincode" binding:"required,pincode"`
	Address  string `json:"address"`
}
