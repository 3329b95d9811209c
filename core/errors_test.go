package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusForError(t *testing.T) {
	exhausted := &CredentialsExhaustedError{Pool: "p", Attempts: 2, Last: &UpstreamError{StatusCode: 429}}

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"forbidden", &ForbiddenError{Model: "o3", Reason: "no"}, http.StatusForbidden},
		{"timeout", ErrStreamTimeout, http.StatusGatewayTimeout},
		{"deadline", fmt.Errorf("wrapped: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"credentials exhausted", exhausted, http.StatusTooManyRequests},
		{"fallback exhausted wins over inner 429", &FallbackExhaustedError{Attempts: []error{exhausted}}, http.StatusServiceUnavailable},
		{"transport", &TransportError{Endpoint: "x", Err: errors.New("reset")}, http.StatusServiceUnavailable},
		{"upstream 401 passthrough", &UpstreamError{StatusCode: 401}, http.StatusUnauthorized},
		{"upstream 400 passthrough", &UpstreamError{StatusCode: 400}, http.StatusBadRequest},
		{"upstream 500", &UpstreamError{StatusCode: 500}, http.StatusBadGateway},
		{"no credentials", &NoCredentialsError{Pool: "p"}, http.StatusInternalServerError},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusForError(tt.err))
		})
	}
}

func TestIsFallbackEligible(t *testing.T) {
	assert.True(t, IsFallbackEligible(&TransportError{Err: errors.New("dns")}))
	assert.True(t, IsFallbackEligible(&CredentialsExhaustedError{Pool: "p"}))
	assert.True(t, IsFallbackEligible(&UpstreamError{StatusCode: 503}))
	assert.False(t, IsFallbackEligible(&UpstreamError{StatusCode: 404}))
	assert.False(t, IsFallbackEligible(&ForbiddenError{}))
	assert.False(t, IsFallbackEligible(errors.New("other")))
}

func TestClientMessage_HidesDetails(t *testing.T) {
	err := &UpstreamError{StatusCode: 500, Body: `{"error":"internal key sk-secret leaked"}`}
	msg := ClientMessage(err)
	assert.NotContains(t, msg, "sk-secret")
	assert.Equal(t, "An error occurred while contacting the AI service.", msg)

	assert.Equal(t, "Rate limit exceeded. Please try again later.", ClientMessage(&CredentialsExhaustedError{Pool: "p"}))
	assert.Equal(t, "Authentication failed with AI service.", ClientMessage(&UpstreamError{StatusCode: 401}))
	assert.Equal(t, "Request timed out. Please try again.", ClientMessage(ErrStreamTimeout))
}

func TestFallbackExhaustedError_Unwrap(t *testing.T) {
	transport := &TransportError{Endpoint: "a", Err: errors.New("reset")}
	err := &FallbackExhaustedError{Attempts: []error{transport, &UpstreamError{StatusCode: 502}}}

	var got *TransportError
	assert.ErrorAs(t, err, &got)
	assert.Contains(t, err.Error(), "2")
}
