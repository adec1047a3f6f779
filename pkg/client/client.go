// Package client provides the HTTP transport that executes endpoint
// contracts, with request logging, metrics and error classification.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Sternrassler/webapi-kit/pkg/endpoint"
	"github.com/Sternrassler/webapi-kit/pkg/logging"
	"github.com/Sternrassler/webapi-kit/pkg/pagination"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for HTTP client operations.
var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webapi_requests_total",
		Help: "Total API requests by route and status",
	}, []string{"route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "webapi_request_duration_seconds",
		Help:    "API request duration in seconds by route",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"route"})

	httpErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webapi_errors_total",
		Help: "Total API errors by class",
	}, []string{"class"})
)

// Client executes wire requests over HTTP. It implements endpoint.Transport.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// HTTPClient performs the requests. When nil, a client with Timeout is
	// created. Authenticated clients (e.g. from golang.org/x/oauth2) go here.
	HTTPClient *http.Client

	// User-Agent header (REQUIRED, many APIs reject anonymous agents)
	UserAgent string

	// Timeout applies to the client created when HTTPClient is nil.
	Timeout time.Duration

	// MaxBodyBytes caps how much of a response body is read.
	MaxBodyBytes int64

	// RequestIDHeader carries a generated UUID per request unless the
	// request already sets it. Empty disables request IDs.
	RequestIDHeader string
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(userAgent string) Config {
	return Config{
		UserAgent:       userAgent,
		Timeout:         30 * time.Second,
		MaxBodyBytes:    10 << 20,
		RequestIDHeader: "X-Request-Id",
	}
}

// New creates a new HTTP client.
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("timeout must be >= 0 (got %s)", cfg.Timeout)
	}

	if cfg.MaxBodyBytes <= 0 {
		return nil, fmt.Errorf("max_body_bytes must be > 0 (got %d)", cfg.MaxBodyBytes)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		httpClient: httpClient,
		config:     cfg,
		logger:     logging.NewLogger("http-client"),
	}, nil
}

// SetLogger replaces the component logger.
func (c *Client) SetLogger(logger zerolog.Logger) {
	c.logger = logger
}

// RoundTrip sends req and returns the response whatever its status. Only
// failures to obtain a response are errors; they are transport errors.
func (c *Client) RoundTrip(ctx context.Context, req *endpoint.WireRequest) (*endpoint.RawResponse, error) {
	route := req.Route
	if route == "" {
		route = req.URL.Path
	}
	rawURL := req.URL.String()

	startTime := time.Now()
	defer func() {
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(startTime).Seconds())
	}()

	httpReq, err := req.HTTPRequest(ctx)
	if err != nil {
		return nil, endpoint.NewTransportError(req.Method, rawURL, err)
	}
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", c.config.UserAgent)
	}
	requestID := ""
	if h := c.config.RequestIDHeader; h != "" {
		requestID = httpReq.Header.Get(h)
		if requestID == "" {
			requestID = uuid.NewString()
			httpReq.Header.Set(h, requestID)
		}
	}

	c.logger.Debug().
		Str("route", route).
		Str("method", req.Method).
		Str("request_id", requestID).
		Msg("Executing API request")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		errClass := ErrorClassNetwork
		if ctx.Err() != nil {
			errClass = ErrorClassCanceled
		}
		httpErrorsTotal.WithLabelValues(string(errClass)).Inc()
		httpRequestsTotal.WithLabelValues(route, "network_error").Inc()
		c.logger.Warn().
			Err(err).
			Str("route", route).
			Str("request_id", requestID).
			Str("error_class", string(errClass)).
			Msg("HTTP request failed")
		return nil, endpoint.NewTransportError(req.Method, rawURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxBodyBytes+1))
	if err != nil {
		httpErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		httpRequestsTotal.WithLabelValues(route, "network_error").Inc()
		return nil, endpoint.NewTransportError(req.Method, rawURL, fmt.Errorf("read body: %w", err))
	}
	if int64(len(body)) > c.config.MaxBodyBytes {
		httpErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		httpRequestsTotal.WithLabelValues(route, "body_too_large").Inc()
		return nil, endpoint.NewTransportError(req.Method, rawURL,
			fmt.Errorf("%w: limit %d bytes", ErrBodyTooLarge, c.config.MaxBodyBytes))
	}

	httpRequestsTotal.WithLabelValues(route, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode >= 400 {
		errClass := classifyStatus(resp.StatusCode, resp.Header, body)
		httpErrorsTotal.WithLabelValues(string(errClass)).Inc()
		c.logger.Warn().
			Str("route", route).
			Int("status", resp.StatusCode).
			Str("request_id", requestID).
			Str("error_class", string(errClass)).
			Msg("API request error")
	} else {
		c.logger.Debug().
			Str("route", route).
			Int("status", resp.StatusCode).
			Dur("duration", time.Since(startTime)).
			Msg("API request completed")
	}

	return &endpoint.RawResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// Call performs one typed round trip through c.
func Call[T any](ctx context.Context, c *Client, contract endpoint.Contract[T], req endpoint.Request) (*endpoint.Response[T], error) {
	return endpoint.Do(ctx, c, contract, req)
}

// ExtractFunc turns one decoded response into a page of items.
type ExtractFunc[Out, T any] func(resp *endpoint.Response[Out]) (*pagination.Page[T], error)

// Paginate returns a paginator whose pages are fetched through c.
func Paginate[Out, T any](
	c *Client,
	contract endpoint.Contract[Out],
	initial endpoint.Request,
	extract ExtractFunc[Out, T],
	next pagination.NextFunc[endpoint.Request, T],
	opts ...pagination.Option,
) *pagination.Paginator[endpoint.Request, T] {
	fetch := func(ctx context.Context, req endpoint.Request) (*pagination.Page[T], error) {
		resp, err := Call(ctx, c, contract, req)
		if err != nil {
			return nil, err
		}
		page, err := extract(resp)
		if err != nil {
			var ae *endpoint.Error
			if errors.As(err, &ae) {
				return nil, ae.WithRequest(req.Method, resp.URL)
			}
			return nil, endpoint.NewDecodeError(nil, err.Error()).WithRequest(req.Method, resp.URL)
		}
		return page, nil
	}
	return pagination.New(initial, fetch, next, opts...)
}

// NextLinkCursor returns the rel="next" URL of h as a cursor, or nil when
// there is none. A relative target is resolved against base, the URL of the
// response that carried the header.
func NextLinkCursor(h http.Header, base string) pagination.Cursor {
	next, ok := endpoint.NextLink(h)
	if !ok {
		return nil
	}
	target, err := url.Parse(next)
	if err != nil || target.IsAbs() || base == "" {
		return next
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return next
	}
	return baseURL.ResolveReference(target).String()
}

// FollowLink is the next-page rule for Link header pagination: the cursor
// is an absolute URL that replaces the request URL. The link already
// carries the query, so the request's own parameters are dropped.
func FollowLink[T any]() pagination.NextFunc[endpoint.Request, T] {
	return pagination.CursorRule[endpoint.Request, T](func(req endpoint.Request, c pagination.Cursor) endpoint.Request {
		return req.WithURL(c.(string)).WithQuery(nil)
	})
}
