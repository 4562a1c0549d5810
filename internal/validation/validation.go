// Package validation provides input validation for the peertrade API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/peertrade/internal/money"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxStringLength is the maximum length for free-text fields
const MaxStringLength = 10000

var (
	// assetRegex validates asset codes like "USDT", "BTC", "EUR"
	assetRegex = regexp.MustCompile(`^[A-Z0-9]{2,10}$`)
	// userIDRegex validates platform user IDs
	userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidAsset checks if a string is a valid asset code
func IsValidAsset(asset string) bool {
	return assetRegex.MatchString(asset)
}

// IsValidUserID checks if a string is a valid user ID
func IsValidUserID(id string) bool {
	return userIDRegex.MatchString(id)
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	s = strings.ReplaceAll(s, "\x00", "")
	return s
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate runs the given field validators and collects any failures
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errs ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errs = append(errs, *err)
		}
	}
	return errs
}

// ValidUserID validates a user ID field
func ValidUserID(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if !IsValidUserID(value) {
			return &ValidationError{Field: field, Message: "must be 1-64 alphanumeric characters"}
		}
		return nil
	}
}

// ValidAsset validates an asset code field
func ValidAsset(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if !IsValidAsset(value) {
			return &ValidationError{Field: field, Message: "must be a 2-10 character uppercase asset code"}
		}
		return nil
	}
}

// ValidAmount validates a strictly positive decimal amount field
func ValidAmount(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if _, ok := money.ParsePositive(value); !ok {
			return &ValidationError{Field: field, Message: "must be a positive decimal amount"}
		}
		return nil
	}
}

// OptionalAmount validates a decimal amount field that may be empty
func OptionalAmount(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if _, ok := money.Parse(value); !ok {
			return &ValidationError{Field: field, Message: "must be a decimal amount"}
		}
		return nil
	}
}
