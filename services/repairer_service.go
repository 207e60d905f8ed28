package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"fixnearby-server/models"
	"fixnearby-server/utils"
)

// RepairerService manages a repairer's own profile, services and preferences
type RepairerService struct {
	store    Store
	uploader PhotoUploader
}

// NewRepairerService creates the repairer profile service
func NewRepairerService(store Store, uploader PhotoUploader) *RepairerService {
	return &RepairerService{store: store, uploader: uploader}
}

func (r *RepairerService) own(ctx context.Context, s models.Session) (*models.Repairer, error) {
	id, err := repairerOf(s)
	if err != nil {
		return nil, err
	}
	return r.store.GetRepairer(ctx, id)
}

// Profile returns the calling repairer
func (r *RepairerService) Profile(ctx context.Context, s models.Session) (*models.Repairer, error) {
	return r.own(ctx, s)
}

// UpdateProfile applies the non-nil fields of in
func (r *RepairerService) UpdateProfile(ctx context.Context, s models.Session, in models.RepairerProfileUpdate) (*models.Repairer, error) {
	rep, err := r.own(ctx, s)
	if err != nil {
		return nil, err
	}
	if in.FullName != nil {
		rep.FullName = strings.TrimSpace(*in.FullName)
	}
	if in.Email != nil {
		rep.Email = strings.ToLower(strings.TrimSpace(*in.Email))
	}
	if in.Pincode != nil {
		rep.Pincode = *in.Pincode
	}
	if in.ServicePincodes != nil {
		rep.ServicePincodes = *in.ServicePincodes
	}
	if in.UPIID != nil {
		rep.UPIID = strings.TrimSpace(*in.UPIID)
	}
	if in.Latitude != nil || in.Longitude != nil {
		if _, ok := utils.NewLocation(in.Latitude, in.Longitude); !ok {
			return nil, fieldErr("latitude", fmt.Errorf("%w: both coordinates are required", ErrValidation))
		}
		rep.Latitude, rep.Longitude = in.Latitude, in.Longitude
	}
	if in.IsAvailable != nil {
		rep.IsAvailable = *in.IsAvailable
	}
	if err := r.store.SaveRepairer(ctx, rep); err != nil {
		return nil, err
	}
	return rep, nil
}

// AddService adds a category to the repairer's offering
func (r *RepairerService) AddService(ctx context.Context, s models.Session, svc models.RepairerService) (*models.Repairer, error) {
	rep, err := r.own(ctx, s)
	if err != nil {
		return nil, err
	}
	svc.Name = canonicalCategory(svc.Name)
	if rep.Offers(svc.Name) {
		return nil, fieldErr("name", fmt.Errorf("%w: service already listed", ErrConflict))
	}
	rep.Services = append(rep.Services, svc)
	if err := r.store.SaveRepairer(ctx, rep); err != nil {
		return nil, err
	}
	return rep, nil
}

// UpdateService changes the visiting charge of a listed service
func (r *RepairerService) UpdateService(ctx context.Context, s models.Session, name string, charge float64) (*models.Repairer, error) {
	if charge < 0 {
		return nil, fieldErr("visiting_charge", ErrValidation)
	}
	rep, err := r.own(ctx, s)
	if err != nil {
		return nil, err
	}
	for i := range rep.Services {
		if strings.EqualFold(rep.Services[i].Name, name) {
			rep.Services[i].VisitingCharge = charge
			if err := r.store.SaveRepairer(ctx, rep); err != nil {
				return nil, err
			}
			return rep, nil
		}
	}
	return nil, ErrNotFound
}

// RemoveService drops a service; at least one must remain
func (r *RepairerService) RemoveService(ctx context.Context, s models.Session, name string) (*models.Repairer, error) {
	rep, err := r.own(ctx, s)
	if err != nil {
		return nil, err
	}
	kept := rep.Services[:0:0]
	for _, svc := range rep.Services {
		if !strings.EqualFold(svc.Name, name) {
			kept = append(kept, svc)
		}
	}
	if len(kept) == len(rep.Services) {
		return nil, ErrNotFound
	}
	if len(kept) == 0 {
		return nil, fieldErr("services", fmt.Errorf("%w: at least one service is required", ErrValidation))
	}
	rep.Services = kept
	if err := r.store.SaveRepairer(ctx, rep); err != nil {
		return nil, err
	}
	return rep, nil
}

// UpdatePreferences replaces notification toggles and service radius
func (r *RepairerService) UpdatePreferences(ctx context.Context, s models.Session, prefs models.RepairerPreferences) (*models.Repairer, error) {
	if !utils.ValidateServiceRadius(prefs.ServiceRadiusKm) {
		return nil, fieldErr("service_radius_km", fmt.Errorf("%w: radius must be between 0 and %.0f km", ErrValidation, utils.GetMaxServiceRadius()))
	}
	rep, err := r.own(ctx, s)
	if err != nil {
		return nil, err
	}
	rep.Preferences = prefs
	if err := r.store.SaveRepairer(ctx, rep); err != nil {
		return nil, err
	}
	return rep, nil
}

// UploadPhoto stores a new profile photo
func (r *RepairerService) UploadPhoto(ctx context.Context, s models.Session, file io.Reader, filename string) (*models.Repairer, error) {
	rep, err := r.own(ctx, s)
	if err != nil {
		return nil, err
	}
	if r.uploader == nil {
		return nil, errors.New("photo uploads are not configured")
	}
	url, err := r.uploader.UploadProfilePhoto(ctx, rep.ID, file, filename)
	if err != nil {
		return nil, err
	}
	rep.ProfilePhotoURL = &url
	if err := r.store.SaveRepairer(ctx, rep); err != nil {
		return nil, err
	}
	return rep, nil
}

// SetActive enables or disables a repairer account. Admin only.
func (r *RepairerService) SetActive(ctx context.Context, s models.Session, id uint, active bool) (*models.Repairer, error) {
	if !s.IsAdmin() {
		return nil, ErrForbidden
	}
	rep, err := r.store.GetRepairer(ctx, id)
	if err != nil {
		return nil, err
	}
	rep.IsActive = active
	if err := r.store.SaveRepairer(ctx, rep); err != nil {
		return nil, err
	}
	return rep, nil
}
