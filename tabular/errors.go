package tabular

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrQuotaExceeded marks rate-limit responses from the store. Callers
	// are expected to back off rather than retry immediately.
	ErrQuotaExceeded = errors.New("tabular: quota exceeded")

	// ErrSheetNotFound is returned when the addressed sheet does not exist.
	ErrSheetNotFound = errors.New("tabular: sheet not found")

	// ErrRowNotFound is returned by DeleteRow when the row is out of range.
	ErrRowNotFound = errors.New("tabular: row not found")
)

// QuotaError carries the store's rate-limit response. It matches
// ErrQuotaExceeded via errors.Is.
type QuotaError struct {
	Code    int
	Message string
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("tabular: quota exceeded (status %d): %s", e.Code, e.Message)
}

// Is reports a match against ErrQuotaExceeded.
func (e *QuotaError) Is(target error) bool { return target == ErrQuotaExceeded }

// TransientError wraps a network or 5xx-class failure that is worth a plain
// retry, without triggering the quota cooldown path.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "tabular: transient: " + e.Err.Error() }

// Unwrap returns the underlying failure.
func (e *TransientError) Unwrap() error { return e.Err }

// IsQuota reports whether err represents a rate-limit response. Besides the
// typed QuotaError it pattern-matches message text, because some client
// libraries surface 429s as opaque errors.
func IsQuota(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrQuotaExceeded) {
		return true
	}
	msg := err.Error()
	if strings.Contains(msg, "429") || strings.Contains(msg, "RESOURCE_EXHAUSTED") {
		return true
	}
	return strings.Contains(strings.ToLower(msg), "quota")
}

// IsTransient reports whether err is a retryable non-quota failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
