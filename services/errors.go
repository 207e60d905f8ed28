package services

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrForbidden             = errors.New("not allowed for this account")
	ErrConflict              = errors.New("request was changed by someone else")
	ErrValidation            = errors.New("validation failed")
	ErrInvalidQuote          = errors.New("quote must be a positive amount")
	ErrQuoteAlreadySubmitted = errors.New("quote already submitted")
	ErrInvalidOTP            = errors.New("invalid OTP")
	ErrOTPExpired            = errors.New("OTP expired or not issued")
	ErrOTPAttempts           = errors.New("too many OTP attempts")
	ErrPhoneNotVerified      = errors.New("phone number not verified")
	ErrAlreadyRegistered     = errors.New("phone number already registered")
	ErrAccountNotFound       = errors.New("no account for this phone number")
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrPaymentNotPayable     = errors.New("payment cannot be collected in its current state")
	ErrPaymentUnverified     = errors.New("payment could not be verified")
	ErrMissingRepairer       = errors.New("repairer id missing from session")
	ErrAlreadyRated          = errors.New("request already rated")
	ErrChatClosed            = errors.New("conversation is closed")
	ErrGatewayUnavailable    = errors.New("payment gateway unavailable")
)

// FieldError marks err as belonging to one input field so clients can show it inline
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string { return e.Field + ": " + e.Err.Error() }

func (e *FieldError) Unwrap() error { return e.Err }

func fieldErr(field string, err error) error {
	return &FieldError{Field: field, Err: err}
}
