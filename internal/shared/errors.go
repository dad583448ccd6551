package shared

import (
	"errors"
	"fmt"
)

var (
	// Configuration errors
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")

	// Authentication errors
	ErrAuthFailed     = fmt.Errorf("authentication failed")
	ErrNoRefreshToken = fmt.Errorf("no refresh token available")

	// API and service errors
	ErrAPIRequest         = fmt.Errorf("API request failed")
	ErrServiceUnavailable = fmt.Errorf("service unavailable")
	ErrTimeout            = fmt.Errorf("operation timed out")

	// Persistence and sync errors
	ErrNotFound      = fmt.Errorf("not found")
	ErrImport        = fmt.Errorf("library import failed")
	ErrNoSavedTracks = fmt.Errorf("no saved tracks found")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)

// AuthReason identifies why an [AuthError] occurred.
type AuthReason int

const (
	ExchangeFailed AuthReason = iota
	RefreshRevoked
)

func (r AuthReason) String() string {
	switch r {
	case ExchangeFailed:
		return "exchange_failed"
	case RefreshRevoked:
		return "refresh_revoked"
	default:
		return "unknown"
	}
}

// AuthError is returned when an authorization code or refresh token is rejected by the provider.
type AuthError struct {
	Reason AuthReason
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v: %s", ErrAuthFailed, e.Reason)
	}
	return fmt.Sprintf("%v: %s: %v", ErrAuthFailed, e.Reason, e.Err)
}

func (e *AuthError) Unwrap() error        { return e.Err }
func (e *AuthError) Is(target error) bool { return target == ErrAuthFailed }

// ProviderErrorKind classifies failed catalog requests.
type ProviderErrorKind int

const (
	RateLimited ProviderErrorKind = iota
	Unauthorized
	Forbidden
	Transient
	Malformed
)

func (k ProviderErrorKind) String() string {
	switch k {
	case RateLimited:
		return "rate_limited"
	case Unauthorized:
		return "unauthorized"
	case Forbidden:
		return "forbidden"
	case Transient:
		return "transient"
	case Malformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// ProviderError describes a failed request against the music catalog.
//
// Status is zero when no HTTP response was received.
type ProviderError struct {
	Kind     ProviderErrorKind
	Status   int
	Endpoint string
	Err      error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%v: %s", ErrAPIRequest, e.Kind)
	if e.Endpoint != "" {
		msg += " " + e.Endpoint
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error        { return e.Err }
func (e *ProviderError) Is(target error) bool { return target == ErrAPIRequest }

// Retryable reports whether the request may succeed if sent again unchanged.
func (e *ProviderError) Retryable() bool {
	return e.Kind == Transient
}

// NotFoundError is returned when a lookup by ID finds nothing.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %v: %s", e.Entity, ErrNotFound, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ImportError is the terminal failure of a library sync for one user.
type ImportError struct {
	UserID string
	Phase  string
	Cause  error
}

func (e *ImportError) Error() string {
	return fmt.Sprintf("%v for user %s during %s: %v", ErrImport, e.UserID, e.Phase, e.Cause)
}

func (e *ImportError) Unwrap() error        { return e.Cause }
func (e *ImportError) Is(target error) bool { return target == ErrImport }

// IsProviderKind reports whether err wraps a [ProviderError] of the given kind.
func IsProviderKind(err error, kind ProviderErrorKind) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Kind == kind
}

// IsAuthReason reports whether err wraps an [AuthError] with the given reason.
func IsAuthReason(err error, reason AuthReason) bool {
	var ae *AuthError
	return errors.As(err, &ae) && ae.Reason == reason
}
