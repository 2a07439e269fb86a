package registry

import (
	"errors"
	"fmt"
)

// Category normalises registry failures.
type Category string

const (
	CategoryTimeout        Category = "timeout"
	CategoryBadData        Category = "bad_data"
	CategoryAuthentication Category = "authentication"
	CategoryOutage         Category = "outage"
	CategoryNotFound       Category = "not_found"
	CategoryRateLimited    Category = "rate_limited"
	CategoryInternal       Category = "internal"
)

// Error wraps a failed registry call.
type Error struct {
	Category   Category
	Operation  string
	StatusCode int
	Message    string
	Underlying error
	Retryable  bool
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("registry %s [%s]", e.Operation, e.Category)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" status %d", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Underlying != nil {
		msg += ": " + e.Underlying.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Underlying
}

func newError(category Category, op string, status int, message string, underlying error) *Error {
	return &Error{
		Category:   category,
		Operation:  op,
		StatusCode: status,
		Message:    message,
		Underlying: underlying,
		Retryable: category == CategoryTimeout ||
			category == CategoryOutage ||
			category == CategoryRateLimited,
	}
}

// IsRetryable reports whether err is a transient registry failure.
func IsRetryable(err error) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Retryable
	}
	return false
}

// CategoryOf extracts the category from err, or CategoryInternal.
func CategoryOf(err error) Category {
	var re *Error
	if errors.As(err, &re) {
		return re.Category
	}
	return CategoryInternal
}

func categoryForStatus(status int) Category {
	switch {
	case status == 401 || status == 403:
		return CategoryAuthentication
	case status == 404:
		return CategoryNotFound
	case status == 429:
		return CategoryRateLimited
	case status == 400 || status == 409 || status == 422:
		return CategoryBadData
	case status >= 500:
		return CategoryOutage
	default:
		return CategoryInternal
	}
}
