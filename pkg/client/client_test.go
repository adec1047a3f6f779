package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/webapi-kit/internal/testutil"
	"github.com/Sternrassler/webapi-kit/pkg/endpoint"
	"github.com/Sternrassler/webapi-kit/pkg/pagination"
	"github.com/Sternrassler/webapi-kit/pkg/query"
	"github.com/google/uuid"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid config",
			config:      DefaultConfig("TestApp/1.0.0 (test@example.com)"),
			expectError: false,
		},
		{
			name: "missing user agent",
			config: Config{
				Timeout:      time.Second,
				MaxBodyBytes: 1024,
			},
			expectError: true,
			errorMsg:    "user-agent is required",
		},
		{
			name: "negative timeout",
			config: Config{
				UserAgent:    "TestApp/1.0.0",
				Timeout:      -time.Second,
				MaxBodyBytes: 1024,
			},
			expectError: true,
			errorMsg:    "timeout must be >= 0",
		},
		{
			name: "zero body limit",
			config: Config{
				UserAgent: "TestApp/1.0.0",
				Timeout:   time.Second,
			},
			expectError: true,
			errorMsg:    "max_body_bytes must be > 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.config)
			if tt.expectError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, c)
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("TestApp/1.0.0")

	assert.Equal(t, "TestApp/1.0.0", cfg.UserAgent)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, int64(10<<20), cfg.MaxBodyBytes)
	assert.Equal(t, "X-Request-Id", cfg.RequestIDHeader)
}

func newTestClient(t *testing.T, mock *testutil.MockAPI) *Client {
	t.Helper()
	cfg := DefaultConfig("webapi-kit-test/1.0")
	cfg.HTTPClient = mock.Client()
	c, err := New(cfg)
	require.NoError(t, err)
	return c
}

func wireGet(t *testing.T, rawURL, route string) *endpoint.WireRequest {
	t.Helper()
	ep := endpoint.New[any](rawURL)
	wire, err := ep.BuildRequest(endpoint.Get(route))
	require.NoError(t, err)
	return wire
}

func TestClient_RoundTrip(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("/status", testutil.NewHealthyResponse(`{"ok": true}`))

	c := newTestClient(t, mock)
	resp, err := c.RoundTrip(context.Background(), wireGet(t, mock.URL(), "/status"))
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"ok": true}`, string(resp.Body))
	assert.Equal(t, "29", resp.Header.Get("X-RateLimit-Remaining"))

	h := mock.GetLastRequestHeader()
	assert.Equal(t, "webapi-kit-test/1.0", h.Get("User-Agent"))
	assert.Equal(t, "application/json", h.Get("Accept"))
	_, err = uuid.Parse(h.Get("X-Request-Id"))
	assert.NoError(t, err, "X-Request-Id should be a UUID")
}

func TestClient_RoundTrip_KeepsCallerHeaders(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("/status", testutil.NewHealthyResponse(`{}`))

	c := newTestClient(t, mock)
	wire := wireGet(t, mock.URL(), "/status")
	wire.Header.Set("User-Agent", "custom/2.0")
	wire.Header.Set("X-Request-Id", "fixed-id")

	_, err := c.RoundTrip(context.Background(), wire)
	require.NoError(t, err)

	h := mock.GetLastRequestHeader()
	assert.Equal(t, "custom/2.0", h.Get("User-Agent"))
	assert.Equal(t, "fixed-id", h.Get("X-Request-Id"))
}

func TestClient_RoundTrip_ErrorStatusIsAResponse(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("/broken", testutil.NewServerErrorResponse())

	c := newTestClient(t, mock)
	before := promtestutil.ToFloat64(httpErrorsTotal.WithLabelValues(string(ErrorClassServer)))

	resp, err := c.RoundTrip(context.Background(), wireGet(t, mock.URL(), "/broken"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	after := promtestutil.ToFloat64(httpErrorsTotal.WithLabelValues(string(ErrorClassServer)))
	assert.Equal(t, before+1, after)
	assert.Equal(t, 1.0, promtestutil.ToFloat64(httpRequestsTotal.WithLabelValues("/broken", "500")))
}

func TestClient_RoundTrip_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	c, err := New(DefaultConfig("webapi-kit-test/1.0"))
	require.NoError(t, err)

	_, err = c.RoundTrip(context.Background(), wireGet(t, url, "/gone"))
	require.Error(t, err)

	e, ok := endpoint.AsError(err)
	require.True(t, ok)
	assert.Equal(t, endpoint.KindTransport, e.Kind)
	assert.Equal(t, 0, e.StatusCode)
	assert.Equal(t, ErrorClassNetwork, ClassifyError(err))
}

func TestClient_RoundTrip_BodyTooLarge(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("/big", testutil.NewHealthyResponse(strings.Repeat("x", 2048)))

	cfg := DefaultConfig("webapi-kit-test/1.0")
	cfg.HTTPClient = mock.Client()
	cfg.MaxBodyBytes = 1024
	c, err := New(cfg)
	require.NoError(t, err)

	_, err = c.RoundTrip(context.Background(), wireGet(t, mock.URL(), "/big"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBodyTooLarge))
	assert.Equal(t, ErrorClassRequest, ClassifyError(err))
}

func TestClient_RoundTrip_ContextCancelled(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("/slow", slowResponse())

	c := newTestClient(t, mock)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.RoundTrip(ctx, wireGet(t, mock.URL(), "/slow"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, ErrorClassCanceled, ClassifyError(err))
}

// slowResponse responds after the test contexts have expired.
func slowResponse() testutil.MockResponse {
	resp := testutil.NewHealthyResponse(`{}`)
	resp.Delay = 500 * time.Millisecond
	return resp
}

type item struct {
	ID   int    `json:"id" validate:"required"`
	Name string `json:"name"`
}

type cursorPage struct {
	Items      []item `json:"items" validate:"dive"`
	NextCursor string `json:"next_cursor"`
}

func TestCall(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("/items/7", testutil.NewHealthyResponse(`{"id": 7, "name": "seven"}`))

	c := newTestClient(t, mock)
	resp, err := Call(context.Background(), c, endpoint.New[item](mock.URL()), endpoint.Get("/items/{id}").WithParam("id", "7"))
	require.NoError(t, err)
	assert.Equal(t, item{ID: 7, Name: "seven"}, resp.Value)

	_, err = Call(context.Background(), c, endpoint.New[item](mock.URL()), endpoint.Get("/items/{id}").WithParam("id", "8"))
	require.Error(t, err)
	assert.Equal(t, ErrorClassClient, ClassifyError(err))
}

func TestPaginate_Cursor(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetCursorPages("/items",
		[]any{map[string]any{"id": 1}, map[string]any{"id": 2}},
		[]any{},
		[]any{map[string]any{"id": 3}},
	)

	c := newTestClient(t, mock)
	extract := func(resp *endpoint.Response[cursorPage]) (*pagination.Page[item], error) {
		page := &pagination.Page[item]{Items: resp.Value.Items}
		if resp.Value.NextCursor != "" {
			page.Cursor = resp.Value.NextCursor
		}
		return page, nil
	}
	next := pagination.CursorRule[endpoint.Request, item](func(req endpoint.Request, cur pagination.Cursor) endpoint.Request {
		return req.WithQuery(query.Params{"cursor": cur})
	})

	p := Paginate(c, endpoint.New[cursorPage](mock.URL()), endpoint.Get("/items"), extract, next)
	items, err := p.Collect(context.Background())
	require.NoError(t, err)

	ids := make([]int, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	assert.Equal(t, []int{1, 2, 3}, ids)
	assert.Equal(t, 3, p.Fetches())
	assert.Equal(t, []string{"/items", "/items?cursor=p1", "/items?cursor=p2"}, mock.GetRequestURIs())
}

func TestPaginate_FollowLink(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	var all []any
	for i := 1; i <= 5; i++ {
		all = append(all, map[string]any{"id": i, "name": "n"})
	}
	mock.SetSearchPages("/search", all)

	type result struct {
		TotalCount int    `json:"total_count"`
		Items      []item `json:"items"`
	}
	extract := func(resp *endpoint.Response[result]) (*pagination.Page[item], error) {
		return &pagination.Page[item]{
			Items:  resp.Value.Items,
			Cursor: NextLinkCursor(resp.Header, resp.URL),
			Total:  resp.Value.TotalCount,
		}, nil
	}

	c := newTestClient(t, mock)
	p := Paginate(c, endpoint.New[result](mock.URL()),
		endpoint.Get("/search").WithQuery(query.Params{"q": "x", "per_page": 2}),
		extract, FollowLink[item](), pagination.WithName("follow-link-test"))

	items, err := p.Collect(context.Background())
	require.NoError(t, err)
	assert.Len(t, items, 5)
	assert.Equal(t, 3, mock.GetRequestCount())

	total, ok := p.Total()
	assert.True(t, ok)
	assert.Equal(t, 5, total)
}

func TestNextLinkCursor(t *testing.T) {
	base := "https://api.example.com/v1/items?page=1"
	tests := []struct {
		name string
		link string
		want pagination.Cursor
	}{
		{"absolute target", `<https://other.example.com/items?page=2>; rel="next"`, "https://other.example.com/items?page=2"},
		{"root-relative target", `</v1/items?page=2>; rel="next"`, "https://api.example.com/v1/items?page=2"},
		{"path-relative target", `<items?page=2>; rel="next"`, "https://api.example.com/v1/items?page=2"},
		{"no next relation", `</v1/items?page=1>; rel="prev"`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{"Link": {tt.link}}
			assert.Equal(t, tt.want, NextLinkCursor(h, base))
		})
	}

	t.Run("relative target without base", func(t *testing.T) {
		h := http.Header{"Link": {`</v1/items?page=2>; rel="next"`}}
		assert.Equal(t, pagination.Cursor("/v1/items?page=2"), NextLinkCursor(h, ""))
	})
}

func TestPaginate_FollowRelativeLink(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetHandler("/items", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("page") == "" {
			w.Header().Set("Link", `</items?page=2>; rel="next"`)
			_, _ = w.Write([]byte(`[{"id": 1}, {"id": 2}]`))
			return
		}
		_, _ = w.Write([]byte(`[{"id": 3}]`))
	})

	extract := func(resp *endpoint.Response[[]item]) (*pagination.Page[item], error) {
		return &pagination.Page[item]{Items: resp.Value, Cursor: NextLinkCursor(resp.Header, resp.URL)}, nil
	}

	c := newTestClient(t, mock)
	items, err := Paginate(c, endpoint.New[[]item](mock.URL()), endpoint.Get("/items"),
		extract, FollowLink[item]()).Collect(context.Background())
	require.NoError(t, err)
	assert.Len(t, items, 3)
	assert.Equal(t, []string{"/items", "/items?page=2"}, mock.GetRequestURIs())
}

func TestPaginate_DecodeFailureIsTerminal(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetCursorPages("/items",
		[]any{map[string]any{"id": 1}},
		[]any{map[string]any{"id": 2}, map[string]any{"name": "no id"}},
	)

	c := newTestClient(t, mock)
	extract := func(resp *endpoint.Response[cursorPage]) (*pagination.Page[item], error) {
		page := &pagination.Page[item]{Items: resp.Value.Items}
		if resp.Value.NextCursor != "" {
			page.Cursor = resp.Value.NextCursor
		}
		return page, nil
	}
	next := pagination.CursorRule[endpoint.Request, item](func(req endpoint.Request, cur pagination.Cursor) endpoint.Request {
		return req.WithQuery(query.Params{"cursor": cur})
	})

	p := Paginate(c, endpoint.New[cursorPage](mock.URL()), endpoint.Get("/items"), extract, next)
	items, err := p.Collect(context.Background())
	require.Error(t, err)
	assert.Len(t, items, 1)

	e, ok := endpoint.AsError(err)
	require.True(t, ok)
	assert.Equal(t, endpoint.KindDecode, e.Kind)
	assert.Equal(t, "items[1].id", e.Path.String())

	_, err = p.Next(context.Background())
	assert.ErrorIs(t, err, pagination.ErrDone)
	assert.Equal(t, 2, mock.GetRequestCount())
}

func TestPaginate_ExtractError(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("/items", testutil.NewHealthyResponse(`{"items": []}`))

	c := newTestClient(t, mock)
	extract := func(*endpoint.Response[cursorPage]) (*pagination.Page[item], error) {
		return nil, errors.New("missing pagination metadata")
	}
	next := pagination.CursorRule[endpoint.Request, item](func(req endpoint.Request, _ pagination.Cursor) endpoint.Request { return req })

	_, err := Paginate(c, endpoint.New[cursorPage](mock.URL()), endpoint.Get("/items"), extract, next).Next(context.Background())
	e, ok := endpoint.AsError(err)
	require.True(t, ok)
	assert.Equal(t, endpoint.KindDecode, e.Kind)
	assert.Contains(t, e.Error(), "missing pagination metadata")
	assert.Equal(t, mock.URL()+"/items", e.URL)
}
