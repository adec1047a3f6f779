package client

import (
	"bytes"
	"context"
	"errors"
	"net/http"

	"github.com/Sternrassler/webapi-kit/pkg/endpoint"
)

// Common errors returned by the client.
var (
	// ErrBodyTooLarge is returned when a response body exceeds MaxBodyBytes.
	ErrBodyTooLarge = errors.New("response body too large")
)

// ErrorClass represents a classification of API errors for observability
// and retry decisions.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 responses and exhausted rate limit quotas.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassCanceled represents requests abandoned by their context.
	ErrorClassCanceled ErrorClass = "canceled"

	// ErrorClassRequest represents requests that could not be built or whose
	// response could not be decoded. Resending them cannot help.
	ErrorClassRequest ErrorClass = "request"
)

// ClassifyError categorizes an error returned by a round trip.
func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassCanceled
	}

	e, ok := endpoint.AsError(err)
	if !ok {
		return ErrorClassNetwork
	}

	switch e.Kind {
	case endpoint.KindURL, endpoint.KindQuery, endpoint.KindDecode:
		return ErrorClassRequest
	case endpoint.KindTransport:
		if e.StatusCode == 0 {
			if errors.Is(e, ErrBodyTooLarge) {
				return ErrorClassRequest
			}
			return ErrorClassNetwork
		}
	}
	return classifyStatus(e.StatusCode, nil, e.Body)
}

// classifyStatus categorizes a non-success HTTP status.
func classifyStatus(status int, header http.Header, body []byte) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status == http.StatusForbidden && rateLimited(header, body):
		return ErrorClassRateLimit
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// rateLimited detects quota exhaustion reported with a 403, as GitHub does.
func rateLimited(header http.Header, body []byte) bool {
	if header != nil && header.Get("X-RateLimit-Remaining") == "0" {
		return true
	}
	return bytes.Contains(bytes.ToLower(body), []byte("rate limit"))
}

// ShouldRetry determines if an error class is worth retrying.
func ShouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork:
		return true
	default:
		// 4xx, canceled and malformed requests fail the same way again
		return false
	}
}
