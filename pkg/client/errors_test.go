package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/Sternrassler/webapi-kit/pkg/endpoint"
)

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name       string
		errorClass ErrorClass
		expected   bool
	}{
		{
			name:       "client error should not retry",
			errorClass: ErrorClassClient,
			expected:   false,
		},
		{
			name:       "server error should retry",
			errorClass: ErrorClassServer,
			expected:   true,
		},
		{
			name:       "rate limit should retry",
			errorClass: ErrorClassRateLimit,
			expected:   true,
		},
		{
			name:       "network error should retry",
			errorClass: ErrorClassNetwork,
			expected:   true,
		},
		{
			name:       "canceled should not retry",
			errorClass: ErrorClassCanceled,
			expected:   false,
		},
		{
			name:       "malformed request should not retry",
			errorClass: ErrorClassRequest,
			expected:   false,
		},
		{
			name:       "empty error class should not retry",
			errorClass: "",
			expected:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ShouldRetry(tt.errorClass)
			if result != tt.expected {
				t.Errorf("ShouldRetry(%q) = %v, want %v", tt.errorClass, result, tt.expected)
			}
		})
	}
}

func TestClassifyError(t *testing.T) {
	const u = "https://api.github.com/search/issues"

	tests := []struct {
		name     string
		err      error
		expected ErrorClass
	}{
		{
			name:     "nil",
			err:      nil,
			expected: "",
		},
		{
			name:     "context canceled",
			err:      endpoint.NewTransportError("GET", u, context.Canceled),
			expected: ErrorClassCanceled,
		},
		{
			name:     "deadline exceeded wrapped",
			err:      fmt.Errorf("page 3: %w", context.DeadlineExceeded),
			expected: ErrorClassCanceled,
		},
		{
			name:     "foreign error",
			err:      errors.New("connection reset by peer"),
			expected: ErrorClassNetwork,
		},
		{
			name:     "transport without status",
			err:      endpoint.NewTransportError("GET", u, errors.New("dial tcp: connection refused")),
			expected: ErrorClassNetwork,
		},
		{
			name:     "body too large",
			err:      endpoint.NewTransportError("GET", u, ErrBodyTooLarge),
			expected: ErrorClassRequest,
		},
		{
			name:     "url error",
			err:      endpoint.NewURLError("://", "missing scheme"),
			expected: ErrorClassRequest,
		},
		{
			name:     "query error",
			err:      endpoint.NewQueryError("filter[x]", "unsupported value"),
			expected: ErrorClassRequest,
		},
		{
			name:     "decode error",
			err:      endpoint.NewDecodeError(nil, "malformed JSON"),
			expected: ErrorClassRequest,
		},
		{
			name:     "status 404",
			err:      endpoint.NewStatusError("GET", u, http.StatusNotFound, []byte(`{"message":"Not Found"}`)),
			expected: ErrorClassClient,
		},
		{
			name:     "status 502",
			err:      endpoint.NewStatusError("GET", u, http.StatusBadGateway, nil),
			expected: ErrorClassServer,
		},
		{
			name:     "status 429",
			err:      endpoint.NewStatusError("GET", u, http.StatusTooManyRequests, nil),
			expected: ErrorClassRateLimit,
		},
		{
			name:     "403 quota exhausted",
			err:      endpoint.NewStatusError("GET", u, http.StatusForbidden, []byte(`{"message":"API rate limit exceeded"}`)),
			expected: ErrorClassRateLimit,
		},
		{
			name:     "403 forbidden",
			err:      endpoint.NewStatusError("GET", u, http.StatusForbidden, []byte(`{"message":"Resource not accessible"}`)),
			expected: ErrorClassClient,
		},
		{
			name:     "business error 422",
			err:      endpoint.NewBusinessError(http.StatusUnprocessableEntity, map[string]any{"message": "Validation Failed"}, nil),
			expected: ErrorClassClient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.expected {
				t.Errorf("ClassifyError() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestClassifyStatus_RateLimitHeader(t *testing.T) {
	h := http.Header{}
	h.Set("X-RateLimit-Remaining", "0")

	if got := classifyStatus(http.StatusForbidden, h, nil); got != ErrorClassRateLimit {
		t.Errorf("classifyStatus(403, remaining=0) = %q, want %q", got, ErrorClassRateLimit)
	}

	h.Set("X-RateLimit-Remaining", "12")
	if got := classifyStatus(http.StatusForbidden, h, nil); got != ErrorClassClient {
		t.Errorf("classifyStatus(403, remaining=12) = %q, want %q", got, ErrorClassClient)
	}

	if got := classifyStatus(http.StatusOK, nil, nil); got != "" {
		t.Errorf("classifyStatus(200) = %q, want empty", got)
	}
}
