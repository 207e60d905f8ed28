// Package validation registers the marketplace's custom binding tags with gin.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"fixnearby-server/models"
)

var (
	pincodeRe = regexp.MustCompile(`^[1-9][0-9]{5}$`)
	phoneRe   = regexp.MustCompile(`^[6-9][0-9]{9}$`)
	upiRe     = regexp.MustCompile(`^[a-zA-Z0-9.\-_]{2,256}@[a-zA-Z]{2,64}$`)
	otpRe     = regexp.MustCompile(`^[0-9]{6}$`)
)

var registerOnce sync.Once

// IsPincode reports whether s is a six digit Indian postal code
func IsPincode(s string) bool { return pincodeRe.MatchString(s) }

// IsPhone reports whether s is a ten digit Indian mobile number
func IsPhone(s string) bool { return phoneRe.MatchString(s) }

// IsUPI reports whether s looks like a UPI virtual payment address
func IsUPI(s string) bool { return upiRe.MatchString(s) }

// IsOTP reports whether s is a six digit code
func IsOTP(s string) bool { return otpRe.MatchString(s) }

// IsCategory reports whether s names a known service category, ignoring case
func IsCategory(s string) bool {
	for _, c := range models.ServiceCategories {
		if strings.EqualFold(c, s) {
			return true
		}
	}
	return false
}

// Register adds the custom tags to v
func Register(v *validator.Validate) error {
	tags := map[string]func(string) bool{
		"pincode":  IsPincode,
		"phone":    IsPhone,
		"upi":      IsUPI,
		"otp":      IsOTP,
		"category": IsCategory,
	}
	v.RegisterTagNameFunc(jsonName)
	for tag, check := range tags {
		check := check
		if err := v.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
			return check(fl.Field().String())
		}); err != nil {
			return fmt.Errorf("register %s validator: %w", tag, err)
		}
	}
	return nil
}

// jsonName reports fields by their JSON key so errors match request bodies
func jsonName(f reflect.StructField) string {
	name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	return name
}

// RegisterGin installs the custom tags into gin's default validator
func RegisterGin() error {
	var err error
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			err = errors.New("gin validator engine is not go-playground/validator")
			return
		}
		err = Register(v)
	})
	return err
}

// FieldError is the first invalid field of a binding failure
type FieldError struct {
	Field   string
	Message string
}

// FirstFieldError extracts a client-facing field error from a binding error
func FirstFieldError(err error) (FieldError, bool) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return FieldError{}, false
	}
	fe := verrs[0]
	return FieldError{Field: toSnake(fe.Field()), Message: message(fe)}, true
}

func message(fe validator.FieldError) string {
	field := toSnake(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "pincode":
		return "Enter a valid 6-digit pincode"
	case "phone":
		return "Enter a valid 10-digit mobile number"
	case "upi":
		return "Enter a valid UPI ID"
	case "otp":
		return "Enter the 6-digit OTP"
	case "category":
		return "Unknown service category"
	case "email":
		return "Enter a valid email address"
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}

func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
