package database

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"fixnearby-server/logging"
	"fixnearby-server/models"
	"fixnearby-server/services"
)

// SeedAdmin creates the bootstrap admin account if it does not exist yet
func SeedAdmin(ctx context.Context, db *gorm.DB, email, password string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil
	}

	var existing models.Admin
	err := db.WithContext(ctx).Where("email = ?", email).First(&existing).Error
	if err == nil {
		logging.Debug().Str("email", email).Msg("Admin already exists")
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	hash, err := services.HashPassword(password)
	if err != nil {
		return err
	}
	admin := models.Admin{
		Email:        email,
		FullName:     "Administrator",
		PasswordHash: hash,
		IsActive:     true,
	}
	if err := NewStore(db).CreateAdmin(ctx, &admin); err != nil {
		return err
	}
	logging.Info().Str("email", email).Msg("Created admin account")
	return nil
}
