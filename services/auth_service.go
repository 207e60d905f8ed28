package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"fixnearby-server/logging"
	"fixnearby-server/models"
)

// AuthService runs the OTP sign-up and login flows for customers and repairers
type AuthService struct {
	store  Store
	otp    *OTPService
	tokens *JWTService
}

// NewAuthService creates an auth service
func NewAuthService(store Store, otp *OTPService, tokens *JWTService) *AuthService {
	return &AuthService{store: store, otp: otp, tokens: tokens}
}

// OTPRequest asks for a code to be sent for signup or login
type OTPRequest struct {
	Phone   string     `json:"phone" binding:"required,phone"`
	Email   string     `json:"email" binding:"omitempty,email"`
	Purpose OTPPurpose `json:"purpose" binding:"omitempty,oneof=signup login"`
}

// RequestOTP sends a code to the phone's contact email.
// Signup requires an unused phone and an email; login requires an existing account.
func (a *AuthService) RequestOTP(ctx context.Context, role models.Role, req OTPRequest) error {
	if req.Purpose == "" {
		req.Purpose = PurposeSignup
	}

	exists, contact, err := a.lookup(ctx, role, req.Phone)
	if err != nil {
		return err
	}

	switch req.Purpose {
	case PurposeSignup:
		if exists {
			return fieldErr("phone", ErrAlreadyRegistered)
		}
		if req.Email == "" {
			return fieldErr("email", fmt.Errorf("%w: email is required", ErrValidation))
		}
		contact = models.Contact{Phone: req.Phone, Email: req.Email}
	case PurposeLogin:
		if !exists {
			return fieldErr("phone", ErrAccountNotFound)
		}
	default:
		return fieldErr("purpose", ErrValidation)
	}

	return a.otp.Issue(ctx, phoneKey(req.Purpose, role, req.Phone), contact, req.Purpose)
}

// VerifyPhone checks a signup code and marks the phone verified
func (a *AuthService) VerifyPhone(ctx context.Context, role models.Role, phone, code string) error {
	if err := a.otp.Verify(ctx, phoneKey(PurposeSignup, role, phone), code, PurposeSignup); err != nil {
		return fieldErr("otp", err)
	}
	return a.otp.MarkVerified(ctx, role, phone)
}

// SignupUser creates a customer account for a verified phone
func (a *AuthService) SignupUser(ctx context.Context, in models.UserSignup, meta ClientMeta) (*models.User, *TokenPair, error) {
	if err := a.requireVerified(ctx, models.RoleUser, in.Phone); err != nil {
		return nil, nil, err
	}

	u := &models.User{
		FullName: strings.TrimSpace(in.FullName),
		Phone:    in.Phone,
		Email:    strings.ToLower(strings.TrimSpace(in.Email)),
		Pincode:  in.Pincode,
		Address:  in.Address,
		IsActive: true,
	}
	if err := a.store.CreateUser(ctx, u); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, nil, fieldErr("phone", ErrAlreadyRegistered)
		}
		return nil, nil, err
	}
	_ = a.otp.ClearVerified(ctx, models.RoleUser, in.Phone)

	tokens, err := a.tokens.GenerateTokenPair(ctx, models.UserSession(u.ID), meta)
	if err != nil {
		return nil, nil, err
	}
	logging.Ctx(ctx).Info().Uint("user_id", u.ID).Msg("Customer signed up")
	return u, tokens, nil
}

// SignupRepairer creates a repairer account for a verified phone
func (a *AuthService) SignupRepairer(ctx context.Context, in models.RepairerSignup, meta ClientMeta) (*models.Repairer, *TokenPair, error) {
	if err := a.requireVerified(ctx, models.RoleRepairer, in.Phone); err != nil {
		return nil, nil, err
	}

	r := &models.Repairer{
		FullName:        strings.TrimSpace(in.FullName),
		Phone:           in.Phone,
		Email:           strings.ToLower(strings.TrimSpace(in.Email)),
		Pincode:         in.Pincode,
		ServicePincodes: in.ServicePincodes,
		Services:        normalizeServices(in.Services),
		UPIID:           strings.TrimSpace(in.UPIID),
		Latitude:        in.Latitude,
		Longitude:       in.Longitude,
		IsActive:        true,
		IsAvailable:     true,
		Preferences:     models.DefaultRepairerPreferences(),
	}
	if err := a.store.CreateRepairer(ctx, r); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, nil, fieldErr("phone", ErrAlreadyRegistered)
		}
		return nil, nil, err
	}
	_ = a.otp.ClearVerified(ctx, models.RoleRepairer, in.Phone)

	tokens, err := a.tokens.GenerateTokenPair(ctx, models.RepairerSession(r.ID), meta)
	if err != nil {
		return nil, nil, err
	}
	logging.Ctx(ctx).Info().Uint("repairer_id", r.ID).Msg("Repairer signed up")
	return r, tokens, nil
}

// Login exchanges a login code for tokens
func (a *AuthService) Login(ctx context.Context, role models.Role, phone, code string, meta ClientMeta) (models.Session, *TokenPair, error) {
	if err := a.otp.Verify(ctx, phoneKey(PurposeLogin, role, phone), code, PurposeLogin); err != nil {
		return models.Anonymous(), nil, fieldErr("otp", err)
	}

	var s models.Session
	switch role {
	case models.RoleUser:
		u, err := a.store.GetUserByPhone(ctx, phone)
		if err != nil {
			return models.Anonymous(), nil, accountErr(err)
		}
		if !u.IsActive {
			return models.Anonymous(), nil, ErrForbidden
		}
		s = models.UserSession(u.ID)
	case models.RoleRepairer:
		r, err := a.store.GetRepairerByPhone(ctx, phone)
		if err != nil {
			return models.Anonymous(), nil, accountErr(err)
		}
		if !r.IsActive {
			return models.Anonymous(), nil, ErrForbidden
		}
		s = models.RepairerSession(r.ID)
	default:
		return models.Anonymous(), nil, ErrForbidden
	}

	tokens, err := a.tokens.GenerateTokenPair(ctx, s, meta)
	if err != nil {
		return models.Anonymous(), nil, err
	}
	return s, tokens, nil
}

// AdminLogin checks admin credentials
func (a *AuthService) AdminLogin(ctx context.Context, email, password string, meta ClientMeta) (*models.Admin, *TokenPair, error) {
	admin, err := a.store.GetAdminByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, ErrNotFound) {
		return nil, nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, nil, err
	}
	if !admin.IsActive || !CheckPasswordHash(password, admin.PasswordHash) {
		return nil, nil, ErrInvalidCredentials
	}

	tokens, err := a.tokens.GenerateTokenPair(ctx, models.AdminSession(admin.ID), meta)
	if err != nil {
		return nil, nil, err
	}
	logging.Ctx(ctx).Info().Uint("admin_id", admin.ID).Msg("Admin logged in")
	return admin, tokens, nil
}

// Profile returns the account behind a session
func (a *AuthService) Profile(ctx context.Context, s models.Session) (interface{}, error) {
	switch s.Role() {
	case models.RoleUser:
		return a.store.GetUser(ctx, s.SubjectID())
	case models.RoleRepairer:
		return a.store.GetRepairer(ctx, s.SubjectID())
	case models.RoleAdmin:
		return map[string]interface{}{"id": s.SubjectID(), "role": s.Role()}, nil
	default:
		return nil, ErrForbidden
	}
}

func (a *AuthService) lookup(ctx context.Context, role models.Role, phone string) (bool, models.Contact, error) {
	var (
		contact models.Contact
		err     error
	)
	switch role {
	case models.RoleUser:
		var u *models.User
		if u, err = a.store.GetUserByPhone(ctx, phone); err == nil {
			contact = u.Contact()
		}
	case models.RoleRepairer:
		var r *models.Repairer
		if r, err = a.store.GetRepairerByPhone(ctx, phone); err == nil {
			contact = r.Contact()
		}
	default:
		return false, contact, ErrForbidden
	}

	if errors.Is(err, ErrNotFound) {
		return false, contact, nil
	}
	if err != nil {
		return false, contact, err
	}
	return true, contact, nil
}

func (a *AuthService) requireVerified(ctx context.Context, role models.Role, phone string) error {
	ok, err := a.otp.IsVerified(ctx, role, phone)
	if err != nil {
		return err
	}
	if !ok {
		return fieldErr("phone", ErrPhoneNotVerified)
	}
	return nil
}

func accountErr(err error) error {
	if errors.Is(err, ErrNotFound) {
		return fieldErr("phone", ErrAccountNotFound)
	}
	return err
}

func normalizeServices(in []models.RepairerService) []models.RepairerService {
	out := make([]models.RepairerService, 0, len(in))
	seen := map[string]bool{}
	for _, s := range in {
		name := canonicalCategory(s.Name)
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, models.RepairerService{Name: name, VisitingCharge: s.VisitingCharge})
	}
	return out
}

func canonicalCategory(name string) string {
	name = strings.TrimSpace(name)
	for _, c := range models.ServiceCategories {
		if strings.EqualFold(c, name) {
			return c
		}
	}
	return name
}
