package errors

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/nkkko/idled/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestFromError(t *testing.T) {
	tests := []struct {
		err      error
		code     string
		httpCode int
	}{
		{domain.ErrUnknownSeat, "unknown_seat", http.StatusNotFound},
		{fmt.Errorf("create: %w", domain.ErrInvalidTimeout), "invalid_timeout", http.StatusBadRequest},
		{domain.ErrUnknownSubscription, "unknown_subscription", http.StatusNotFound},
		{domain.ErrSubscriptionIdle, "subscription_idle", http.StatusConflict},
		{domain.ErrUnknownInhibitor, "unknown_inhibitor", http.StatusNotFound},
		{domain.ErrTooManyInhibitors, "too_many_inhibitors", http.StatusConflict},
		{context.DeadlineExceeded, "timeout", http.StatusGatewayTimeout},
		{fmt.Errorf("disk on fire"), "internal_error", http.StatusInternalServerError},
		{ValidationError("bad_seat", "nope"), "bad_seat", http.StatusBadRequest},
	}

	for _, tt := range tests {
		apiErr := FromError(tt.err)
		assert.Equal(t, tt.code, apiErr.Code, tt.err.Error())
		assert.Equal(t, tt.httpCode, apiErr.HTTPCode, tt.err.Error())
	}

	assert.Nil(t, FromError(nil))
}

func TestAPIErrorString(t *testing.T) {
	err := NotFoundError("unknown_seat", "unknown seat").WithRequestID("req-1")
	assert.Equal(t, "[not_found] unknown_seat: unknown seat", err.Error())
	assert.Equal(t, "req-1", err.RequestID)
}
