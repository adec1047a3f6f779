package endpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/Sternrassler/webapi-kit/pkg/query"
)

// Contract is the seam between typed values and wire values for one API
// operation.
type Contract[T any] interface {
	BuildRequest(req Request) (*WireRequest, error)
	DecodeResponse(req *WireRequest, raw *RawResponse) (*Response[T], error)
}

// Response is a decoded success response.
type Response[T any] struct {
	Value      T
	StatusCode int
	Header     http.Header
	Body       []byte
	URL        string
}

// BusinessDecoder interprets a non-success response as an endpoint-defined
// error payload. Returning an error makes the pipeline fall back to a
// transport error carrying the raw status and body.
type BusinessDecoder func(raw *RawResponse) (any, error)

// JSONBusiness decodes non-success bodies into B.
func JSONBusiness[B any](opts ...DecodeOption) BusinessDecoder {
	return func(raw *RawResponse) (any, error) {
		var b B
		if err := DecodeJSON(raw.Body, &b, opts...); err != nil {
			return nil, err
		}
		return b, nil
	}
}

// Endpoint is the standard JSON Contract implementation.
type Endpoint[T any] struct {
	// BaseURL must be an absolute http or https URL.
	BaseURL string

	// Header is sent with every request; Request.Header entries win.
	Header http.Header

	// Business decodes non-success bodies. Nil means every non-success
	// response becomes a transport error.
	Business BusinessDecoder

	DecodeOptions []DecodeOption
}

// New returns an Endpoint for baseURL.
func New[T any](baseURL string) *Endpoint[T] {
	return &Endpoint[T]{BaseURL: baseURL}
}

// BuildRequest composes the wire request for req.
func (e *Endpoint[T]) BuildRequest(req Request) (*WireRequest, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	u, route, err := e.resolve(req)
	if err != nil {
		return nil, err
	}

	q, err := query.Marshal(req.Query)
	if err != nil {
		var qe *query.EncodeError
		if errors.As(err, &qe) {
			return nil, NewQueryError(qe.Param, qe.Reason).WithRequest(method, u.String())
		}
		return nil, NewQueryError("", err.Error()).WithRequest(method, u.String())
	}
	if q != "" {
		if u.RawQuery != "" {
			u.RawQuery += "&" + q
		} else {
			u.RawQuery = q
		}
	}

	header := e.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	for k, vs := range req.Header {
		header[k] = append([]string(nil), vs...)
	}
	if header.Get("Accept") == "" {
		header.Set("Accept", "application/json")
	}

	var body []byte
	switch b := req.Body.(type) {
	case nil:
	case []byte:
		body = b
	default:
		body, err = json.Marshal(b)
		if err != nil {
			return nil, NewQueryError("body", err.Error()).WithRequest(method, u.String())
		}
		if header.Get("Content-Type") == "" {
			header.Set("Content-Type", "application/json")
		}
	}

	return &WireRequest{
		Method: method,
		URL:    u,
		Header: header,
		Body:   body,
		Route:  route,
	}, nil
}

func (e *Endpoint[T]) resolve(req Request) (*url.URL, string, error) {
	if req.URL != "" {
		u, err := url.Parse(req.URL)
		if err != nil {
			return nil, "", NewURLError(req.URL, err.Error())
		}
		if !u.IsAbs() || u.Host == "" {
			return nil, "", NewURLError(req.URL, "URL must be absolute")
		}
		return u, u.Path, nil
	}

	base, err := url.Parse(e.BaseURL)
	if err != nil {
		return nil, "", NewURLError(e.BaseURL, err.Error())
	}
	if (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, "", NewURLError(e.BaseURL, "base URL must be an absolute http(s) URL")
	}

	path, err := expandPath(req.Path, req.PathParams)
	if err != nil {
		return nil, "", NewURLError(req.Path, err.Error())
	}

	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
		if base.RawPath != "" {
			base.RawPath += "/"
		}
	}
	ref, err := url.Parse(strings.TrimPrefix(path, "/"))
	if err != nil {
		return nil, "", NewURLError(base.String()+path, err.Error())
	}
	if ref.IsAbs() || ref.Host != "" {
		return nil, "", NewURLError(path, "path must be relative to the base URL")
	}
	return base.ResolveReference(ref), req.Path, nil
}

type pathError string

func (e pathError) Error() string { return string(e) }

// expandPath substitutes {name} placeholders with escaped values.
func expandPath(tmpl string, params map[string]string) (string, error) {
	var b strings.Builder
	used := make(map[string]bool, len(params))

	for rest := tmpl; rest != ""; {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			if strings.IndexByte(rest, '}') >= 0 {
				return "", pathError("unbalanced '}' in path template")
			}
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:open])
		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			return "", pathError("unbalanced '{' in path template")
		}
		name := rest[open+1 : open+end]
		value, ok := params[name]
		if !ok {
			return "", pathError("missing path parameter " + `"` + name + `"`)
		}
		if value == "" {
			return "", pathError("empty path parameter " + `"` + name + `"`)
		}
		used[name] = true
		b.WriteString(url.PathEscape(value))
		rest = rest[open+end+1:]
	}

	var unused []string
	for name := range params {
		if !used[name] {
			unused = append(unused, name)
		}
	}
	if len(unused) > 0 {
		sort.Strings(unused)
		return "", pathError("unused path parameter " + `"` + unused[0] + `"`)
	}
	return b.String(), nil
}

// DecodeResponse interprets raw. Success statuses decode into T; other
// statuses go through the business decoder, falling back to a transport
// error that carries the status and body.
func (e *Endpoint[T]) DecodeResponse(req *WireRequest, raw *RawResponse) (*Response[T], error) {
	var method, rawURL string
	if req != nil {
		method = req.Method
		if req.URL != nil {
			rawURL = req.URL.String()
		}
	}

	if raw.StatusCode < 200 || raw.StatusCode > 299 {
		if e.Business != nil {
			if payload, err := e.Business(raw); err == nil {
				return nil, NewBusinessError(raw.StatusCode, payload, raw.Body).WithRequest(method, rawURL)
			}
		}
		return nil, NewStatusError(method, rawURL, raw.StatusCode, raw.Body)
	}

	resp := &Response[T]{
		StatusCode: raw.StatusCode,
		Header:     raw.Header,
		Body:       raw.Body,
		URL:        rawURL,
	}
	if len(bytes.TrimSpace(raw.Body)) == 0 {
		return resp, nil
	}

	if err := DecodeJSON(raw.Body, &resp.Value, e.DecodeOptions...); err != nil {
		de, ok := AsError(err)
		if !ok {
			de = NewDecodeError(nil, err.Error())
		}
		de = de.WithRequest(method, rawURL)
		de.StatusCode = raw.StatusCode
		de.Body = raw.Body
		return nil, de
	}
	return resp, nil
}

// Do performs one complete round trip: build, send, decode.
func Do[T any](ctx context.Context, t Transport, c Contract[T], req Request) (*Response[T], error) {
	wire, err := c.BuildRequest(req)
	if err != nil {
		return nil, err
	}

	raw, err := t.RoundTrip(ctx, wire)
	if err != nil {
		if ae, ok := AsError(err); ok {
			return nil, ae
		}
		return nil, NewTransportError(wire.Method, wire.URL.String(), err)
	}
	return c.DecodeResponse(wire, raw)
}
