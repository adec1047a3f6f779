package endpoint

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
)

// Request describes the input of one API call. Builder methods return
// modified copies, so a Request can be shared once built.
type Request struct {
	Method string

	// Path is resolved against the endpoint's base URL. It may contain
	// {name} placeholders filled from PathParams.
	Path       string
	PathParams map[string]string

	// Query is a query.Params, map[string]any, url.Values or a struct with
	// `url` tags.
	Query any

	// Body is JSON-encoded unless it is already []byte.
	Body any

	Header http.Header

	// URL, when set, is used verbatim instead of composing base, Path and
	// Query. Next-URL cursors use it.
	URL string
}

// Get returns a GET request for path.
func Get(path string) Request {
	return Request{Method: http.MethodGet, Path: path}
}

// Post returns a POST request for path with body.
func Post(path string, body any) Request {
	return Request{Method: http.MethodPost, Path: path, Body: body}
}

// WithParam returns a copy of r with the path parameter name set.
func (r Request) WithParam(name, value string) Request {
	params := make(map[string]string, len(r.PathParams)+1)
	maps.Copy(params, r.PathParams)
	params[name] = value
	r.PathParams = params
	return r
}

// WithQuery returns a copy of r with the query parameters replaced.
func (r Request) WithQuery(q any) Request {
	r.Query = q
	return r
}

// WithBody returns a copy of r with the body replaced.
func (r Request) WithBody(body any) Request {
	r.Body = body
	return r
}

// WithHeader returns a copy of r with one header value set.
func (r Request) WithHeader(key, value string) Request {
	h := r.Header.Clone()
	if h == nil {
		h = http.Header{}
	}
	h.Set(key, value)
	r.Header = h
	return r
}

// WithURL returns a copy of r that targets an absolute URL.
func (r Request) WithURL(u string) Request {
	r.URL = u
	return r
}

// WireRequest is a fully composed request, ready for a Transport.
type WireRequest struct {
	Method string
	URL    *url.URL
	Header http.Header
	Body   []byte

	// Route is the path template the request was built from.
	Route string
}

// HTTPRequest converts w into a *http.Request bound to ctx.
func (w *WireRequest) HTTPRequest(ctx context.Context) (*http.Request, error) {
	var body io.Reader
	if len(w.Body) > 0 {
		body = bytes.NewReader(w.Body)
	}
	req, err := http.NewRequestWithContext(ctx, w.Method, w.URL.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header = w.Header.Clone()
	if req.Header == nil {
		req.Header = http.Header{}
	}
	return req, nil
}

// RawResponse is the undecoded result of one round trip.
type RawResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Transport executes wire requests. Implementations report I/O failures as
// errors and every received response, whatever its status, as a RawResponse.
type Transport interface {
	RoundTrip(ctx context.Context, req *WireRequest) (*RawResponse, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, req *WireRequest) (*RawResponse, error)

// RoundTrip calls f(ctx, req).
func (f TransportFunc) RoundTrip(ctx context.Context, req *WireRequest) (*RawResponse, error) {
	return f(ctx, req)
}
