package validator

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrInvalidLength indicates phone number length is not 10 digits
	ErrInvalidLength = errors.New("phone number must be exactly 10 digits")

	// ErrInvalidPrefix indicates phone number doesn't start with a Vietnamese mobile prefix
	ErrInvalidPrefix = errors.New("phone number must start with 03, 05, 07, 08 or 09")

	// ErrInvalidFormat indicates phone number contains invalid characters
	ErrInvalidFormat = errors.New("phone number can only contain digits")

	// ErrEmptyPhone indicates phone number is empty
	ErrEmptyPhone = errors.New("phone number cannot be empty")
)

// validPrefixes contains the mobile network prefixes after the leading zero
var validPrefixes = []string{
	"03", // Viettel
	"05", // Vietnamobile
	"07", // Mobifone
	"08", // Vinaphone
	"09", // legacy ranges
}

var separatorRegex = regexp.MustCompile(`[\s\-\.\(\)\+]`)

// phoneRegex matches digits only
var phoneRegex = regexp.MustCompile(`^\d+$`)

var nonDigitRegex = regexp.MustCompile(`\D`)

// PhoneValidator handles phone number validation
type PhoneValidator struct{}

// NewPhoneValidator creates a new phone validator instance
func NewPhoneValidator() *PhoneValidator {
	return &PhoneValidator{}
}

// Validate validates a Vietnamese mobile number.
// Accepts 0912345678, 0912 345 678, 091-234-5678, +84912345678 or 912345678.
// Returns the sanitized 10 digit number.
func (v *PhoneValidator) Validate(phone string) (string, error) {
	// Check if empty
	if strings.TrimSpace(phone) == "" {
		return "", ErrEmptyPhone
	}

	sanitized := v.Sanitize(phone)

	// Digits only after sanitizing
	if !phoneRegex.MatchString(sanitized) {
		return "", ErrInvalidFormat
	}

	// Check length
	if len(sanitized) != 10 {
		return "", ErrInvalidLength
	}

	// Check prefix
	if !v.IsValidPrefix(sanitized) {
		return "", ErrInvalidPrefix
	}

	return sanitized, nil
}

// Sanitize removes separators, rewrites the 84 country code to 0 and restores
// a dropped leading zero
func (v *PhoneValidator) Sanitize(phone string) string {
	phone = separatorRegex.ReplaceAllString(phone, "")

	// +84 country code
	if strings.HasPrefix(phone, "84") && len(phone) == 11 {
		phone = "0" + phone[2:]
	}

	if len(phone) == 9 && !strings.HasPrefix(phone, "0") {
		phone = "0" + phone
	}

	return phone
}

// IsValidPrefix checks if phone number has a valid mobile prefix
func (v *PhoneValidator) IsValidPrefix(phone string) bool {
	if len(phone) < 2 {
		return false
	}

	prefix := phone[:2]
	for _, validPrefix := range validPrefixes {
		if prefix == validPrefix {
			return true
		}
	}

	return false
}

// Format formats a phone number in the display format: 09XX XXX XXX
func (v *PhoneValidator) Format(phone string) (string, error) {
	sanitized, err := v.Validate(phone)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s %s %s", sanitized[0:4], sanitized[4:7], sanitized[7:10]), nil
}

// IsValid is a convenience method that returns true if phone is valid
func (v *PhoneValidator) IsValid(phone string) bool {
	_, err := v.Validate(phone)
	return err == nil
}

// Normalize reduces any phone-like input to a comparable digit string.
// Unlike Validate it never fails, so partial numbers typed into a search box
// still compare.
func Normalize(phone string) string {
	digits := nonDigitRegex.ReplaceAllString(phone, "")
	if strings.HasPrefix(digits, "84") && len(digits) == 11 {
		digits = "0" + digits[2:]
	}
	if len(digits) == 9 && !strings.HasPrefix(digits, "0") {
		digits = "0" + digits
	}
	return digits
}
