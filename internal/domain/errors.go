package domain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
)

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrJobAlreadyClaimed is returned when attempting to claim a job that's already claimed
	ErrJobAlreadyClaimed = errors.New("job already claimed or not in PENDING status")

	// ErrInvalidPayload is returned when job payload JSON is malformed
	ErrInvalidPayload = errors.New("invalid job payload")

	// ErrUnknownJobType is returned for job types without a pipeline
	ErrUnknownJobType = errors.New("unknown job type")

	// ErrUserNotFound is returned when the ledger has no record for a user
	ErrUserNotFound = errors.New("user not found")

	// ErrInsufficientBalance is returned when a cost-bearing action exceeds the balance
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrFreeGenerationUsed is returned when the one-time free generation was already consumed
	ErrFreeGenerationUsed = errors.New("free generation already used")

	// ErrNoOutputs is returned when a provider call succeeds without producing images
	ErrNoOutputs = errors.New("provider returned no images")

	// ErrAllUnitsFailed is returned when every independent sub-generation of a job failed
	ErrAllUnitsFailed = errors.New("all generation units failed")

	// ErrTimerLeak is logged when the progress registry trims leaked timers
	ErrTimerLeak = errors.New("progress timer leak")
)

// Kind is the error taxonomy shared by the retry policy and the dispatcher
type Kind string

const (
	KindTransientProvider       Kind = "transient_provider"
	KindFatalProvider           Kind = "fatal_provider"
	KindInsufficientEntitlement Kind = "insufficient_entitlement"
	KindPartialBatch            Kind = "partial_batch"
	KindLeakGuard               Kind = "leak_guard"
)

// RetryableError wraps transient errors that should be retried
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// ProviderError describes a failed call to an external provider.
// StatusCode is zero when the call never produced an HTTP response.
type ProviderError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s: status %d: %v", e.Provider, e.StatusCode, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// PartialBatchError reports a job where some independent units failed
type PartialBatchError struct {
	Failed    []int
	Succeeded int
}

func (e *PartialBatchError) Error() string {
	return fmt.Sprintf("partial batch failure: %d succeeded, units %v failed", e.Succeeded, e.Failed)
}

// CorrelatedError is a job failure already reported to the user under Ref
type CorrelatedError struct {
	Ref string
	Err error
}

func (e *CorrelatedError) Error() string {
	return fmt.Sprintf("[%s] %v", e.Ref, e.Err)
}

func (e *CorrelatedError) Unwrap() error {
	return e.Err
}

// KindOf classifies err into the shared taxonomy. Unrecognised errors are fatal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	if errors.Is(err, ErrInsufficientBalance) || errors.Is(err, ErrFreeGenerationUsed) {
		return KindInsufficientEntitlement
	}

	if errors.Is(err, ErrTimerLeak) {
		return KindLeakGuard
	}

	var partial *PartialBatchError
	if errors.As(err, &partial) {
		return KindPartialBatch
	}

	var retryable *RetryableError
	if errors.As(err, &retryable) {
		return KindTransientProvider
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) && providerErr.StatusCode != 0 {
		if IsRetryableStatus(providerErr.StatusCode) {
			return KindTransientProvider
		}
		return KindFatalProvider
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) {
		return KindTransientProvider
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransientProvider
	}

	return KindFatalProvider
}

// IsRetryableStatus reports whether an HTTP status code denotes a transient failure
func IsRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
