package services

import (
	"context"

	"fixnearby-server/models"
)

// maxPage bounds admin listings
const maxPage = 200

// AdminService serves the back-office listings
type AdminService struct {
	store Store
}

// NewAdminService creates the admin service
func NewAdminService(store Store) *AdminService {
	return &AdminService{store: store}
}

func page(limit, offset int) (int, int) {
	if limit <= 0 || limit > maxPage {
		limit = maxPage
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// Users lists customers, newest first
func (a *AdminService) Users(ctx context.Context, s models.Session, limit, offset int) ([]models.User, error) {
	if !s.IsAdmin() {
		return nil, ErrForbidden
	}
	limit, offset = page(limit, offset)
	return a.store.ListUsers(ctx, limit, offset)
}

// Repairers lists repairers, newest first
func (a *AdminService) Repairers(ctx context.Context, s models.Session, limit, offset int) ([]models.Repairer, error) {
	if !s.IsAdmin() {
		return nil, ErrForbidden
	}
	limit, offset = page(limit, offset)
	return a.store.ListRepairers(ctx, limit, offset)
}

// Payments lists payments, optionally in one status
func (a *AdminService) Payments(ctx context.Context, s models.Session, status models.PaymentStatus, limit int) ([]models.Payment, error) {
	if !s.IsAdmin() {
		return nil, ErrForbidden
	}
	if status != "" && !status.IsValid() {
		return nil, fieldErr("status", ErrValidation)
	}
	limit, _ = page(limit, 0)
	return a.store.ListPayments(ctx, status, limit)
}
