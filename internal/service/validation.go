package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"otp-auth-service/internal/util"
)

const (
	MobileLength  = 11
	maxNameLength = 30
)

// newValidator registers the digits rule: a non-empty string of ASCII 0-9.
// The builtin numeric tag also accepts signs and decimal points.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("digits", func(fl validator.FieldLevel) bool {
		return isDigits(fl.Field().String())
	})
	return v
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// FormatError names the field that failed validation.
type FormatError struct {
	Field  string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *FormatError) Unwrap() error {
	return ErrInvalidFormat
}

type mobileInput struct {
	MobileNumber string `validate:"required,len=11,digits"`
}

type verifyInput struct {
	MobileNumber string `validate:"required,len=11,digits"`
	Code         string `validate:"required,digits"`
}

type profileInput struct {
	FirstName string `validate:"omitempty,max=30"`
	LastName  string `validate:"omitempty,max=30"`
	Email     string `validate:"omitempty,email"`
}

func (s *AuthService) validateMobile(mobile string) error {
	return s.check(mobileInput{MobileNumber: mobile})
}

func (s *AuthService) validateVerify(mobile, code string) error {
	if err := s.check(verifyInput{MobileNumber: mobile, Code: code}); err != nil {
		return err
	}
	if len(code) != s.codeLength {
		return &FormatError{Field: "code", Reason: fmt.Sprintf("must be exactly %d digits", s.codeLength)}
	}
	return nil
}

func (s *AuthService) validateProfile(p profileInput) error {
	if err := s.check(p); err != nil {
		return err
	}
	for field, value := range map[string]string{"first_name": p.FirstName, "last_name": p.LastName} {
		if util.ContainsSuspicious(value) {
			return &FormatError{Field: field, Reason: "contains forbidden characters"}
		}
	}
	return nil
}

// check maps the first validator failure onto a FormatError.
func (s *AuthService) check(input interface{}) error {
	err := s.validate.Struct(input)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}

	fe := verrs[0]
	field := fieldName(fe.StructField())
	switch {
	case field == "mobile_number":
		return &FormatError{Field: field, Reason: fmt.Sprintf("must be exactly %d digits", MobileLength)}
	case field == "code":
		return &FormatError{Field: field, Reason: fmt.Sprintf("must be exactly %d digits", s.codeLength)}
	case fe.Tag() == "max":
		return &FormatError{Field: field, Reason: fmt.Sprintf("must be at most %d characters", maxNameLength)}
	case fe.Tag() == "email":
		return &FormatError{Field: field, Reason: "must be a valid email address"}
	default:
		return &FormatError{Field: field, Reason: "failed " + fe.Tag()}
	}
}

func fieldName(structField string) string {
	switch structField {
	case "MobileNumber":
		return "mobile_number"
	case "Code":
		return "code"
	case "FirstName":
		return "first_name"
	case "LastName":
		return "last_name"
	}
	return strings.ToLower(structField)
}
