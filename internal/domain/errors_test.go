package domain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"insufficient balance", fmt.Errorf("settle: %w", ErrInsufficientBalance), KindInsufficientEntitlement},
		{"free used", ErrFreeGenerationUsed, KindInsufficientEntitlement},
		{"timer leak", ErrTimerLeak, KindLeakGuard},
		{"partial batch", &PartialBatchError{Failed: []int{3}, Succeeded: 4}, KindPartialBatch},
		{"retryable wrapper", NewRetryableError(errors.New("flaky")), KindTransientProvider},
		{"429", &ProviderError{Provider: "p", StatusCode: 429, Err: errors.New("slow down")}, KindTransientProvider},
		{"502", &ProviderError{Provider: "p", StatusCode: 502, Err: errors.New("bad gateway")}, KindTransientProvider},
		{"401", &ProviderError{Provider: "p", StatusCode: 401, Err: errors.New("unauthorized")}, KindFatalProvider},
		{"400", &ProviderError{Provider: "p", StatusCode: 400, Err: errors.New("bad prompt")}, KindFatalProvider},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), KindTransientProvider},
		{"conn reset", &net.OpError{Op: "read", Err: syscall.ECONNRESET}, KindTransientProvider},
		{"unexpected eof", io.ErrUnexpectedEOF, KindTransientProvider},
		{"provider without status over network", &ProviderError{Provider: "p", Err: syscall.ECONNREFUSED}, KindTransientProvider},
		{"unknown", errors.New("boom"), KindFatalProvider},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestIsRetryableStatus(t *testing.T) {
	for _, code := range []int{429, 500, 502, 503, 504} {
		assert.True(t, IsRetryableStatus(code), code)
	}
	for _, code := range []int{200, 400, 401, 403, 404, 422, 501} {
		assert.False(t, IsRetryableStatus(code), code)
	}
}

func TestProviderError_Message(t *testing.T) {
	err := &ProviderError{Provider: "gemini", StatusCode: 503, Err: errors.New("overloaded")}
	assert.Equal(t, "gemini: status 503: overloaded", err.Error())

	err = &ProviderError{Provider: "gemini", Err: ErrNoOutputs}
	assert.Equal(t, "gemini: provider returned no images", err.Error())
	assert.ErrorIs(t, err, ErrNoOutputs)
}
