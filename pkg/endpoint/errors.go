package endpoint

import (
	"errors"
	"fmt"
)

// Kind identifies which stage of a round trip produced an Error.
// The set is closed: every Error carries exactly one of these kinds.
type Kind string

const (
	// KindTransport covers failures reported by the transport, plus
	// non-success responses that no business decoder could interpret.
	KindTransport Kind = "transport"

	// KindURL represents a request URL that could not be composed.
	KindURL Kind = "url"

	// KindQuery represents request parameters that could not be encoded.
	KindQuery Kind = "query"

	// KindDecode represents a success body that did not match the expected type.
	KindDecode Kind = "decode"

	// KindBusiness represents an endpoint-declared error payload.
	KindBusiness Kind = "business"
)

// Sentinels for matching an Error by kind with errors.Is.
var (
	ErrTransport = &Error{Kind: KindTransport, sentinel: true}
	ErrURL       = &Error{Kind: KindURL, sentinel: true}
	ErrQuery     = &Error{Kind: KindQuery, sentinel: true}
	ErrDecode    = &Error{Kind: KindDecode, sentinel: true}
	ErrBusiness  = &Error{Kind: KindBusiness, sentinel: true}

	// ErrUnexpectedStatus is the cause of transport errors built from a
	// non-success status code.
	ErrUnexpectedStatus = errors.New("unexpected status code")
)

// Error is the single error type returned by the endpoint pipeline and
// the paginator. Which fields are populated depends on Kind:
//
//	KindTransport  Err (opaque cause); StatusCode and Body for status failures
//	KindURL        URL and Message
//	KindQuery      Param and Message
//	KindDecode     Path and Message; StatusCode and Body of the response
//	KindBusiness   Payload, StatusCode and Body
//
// Method and URL describe the request when it is known.
type Error struct {
	Kind Kind

	Method     string
	URL        string
	StatusCode int
	Body       []byte

	// Param names the query parameter that failed to encode.
	Param string

	// Path locates a decode failure inside the response body.
	Path Path

	// Payload is the endpoint-defined business error value.
	Payload any

	Message string
	Err     error

	sentinel bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Kind) + " error"
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}

	switch e.Kind {
	case KindURL:
		msg += fmt.Sprintf(": %q", e.URL)
	case KindQuery:
		msg += fmt.Sprintf(": parameter %q", e.Param)
	case KindDecode:
		msg += " at " + e.Path.String()
	case KindBusiness:
		if e.Payload != nil {
			msg += fmt.Sprintf(": %v", e.Payload)
		}
	}

	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.sentinel && t.Kind == e.Kind
}

// WithRequest returns a shallow copy of e describing the given request.
func (e *Error) WithRequest(method, url string) *Error {
	cp := *e
	cp.Method = method
	cp.URL = url
	return &cp
}

// NewTransportError wraps a failure reported by the transport.
func NewTransportError(method, url string, err error) *Error {
	return &Error{Kind: KindTransport, Method: method, URL: url, Err: err}
}

// NewStatusError describes a non-success response that could not be
// interpreted as a business error.
func NewStatusError(method, url string, status int, body []byte) *Error {
	return &Error{
		Kind:       KindTransport,
		Method:     method,
		URL:        url,
		StatusCode: status,
		Body:       body,
		Err:        ErrUnexpectedStatus,
	}
}

// NewURLError describes a URL that could not be composed.
func NewURLError(url, reason string) *Error {
	return &Error{Kind: KindURL, URL: url, Message: reason}
}

// NewQueryError describes a parameter that could not be encoded.
func NewQueryError(param, reason string) *Error {
	return &Error{Kind: KindQuery, Param: param, Message: reason}
}

// NewDecodeError describes a body that failed to decode at path.
func NewDecodeError(path Path, message string) *Error {
	return &Error{Kind: KindDecode, Path: path, Message: message}
}

// NewBusinessError carries a payload decoded from a non-success response.
func NewBusinessError(status int, payload any, body []byte) *Error {
	return &Error{Kind: KindBusiness, StatusCode: status, Payload: payload, Body: body}
}

// AsError finds the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// BusinessPayload extracts a typed business payload from err.
func BusinessPayload[B any](err error) (B, bool) {
	var zero B
	e, ok := AsError(err)
	if !ok || e.Kind != KindBusiness {
		return zero, false
	}
	b, ok := e.Payload.(B)
	return b, ok
}
