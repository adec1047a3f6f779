// Package testutil provides testing utilities for webapi-kit.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock API endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockAPI is a configurable mock REST API server for testing.
type MockAPI struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)
	injected map[string][]MockResponse

	// Tracking
	RequestCount      int
	RequestURIs       []string
	LastRequestHeader http.Header
}

// NewMockAPI creates a new mock API server.
func NewMockAPI() *MockAPI {
	mock := &MockAPI{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
		injected: make(map[string][]MockResponse),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.RequestURIs = append(mock.RequestURIs, r.URL.RequestURI())
		mock.LastRequestHeader = r.Header.Clone()
		handler, exists := mock.handlers[r.URL.Path]
		var injected *MockResponse
		if queue := mock.injected[r.URL.Path]; len(queue) > 0 {
			injected = &queue[0]
			mock.injected[r.URL.Path] = queue[1:]
		}
		mock.mu.Unlock()

		if injected != nil {
			writeResponse(w, *injected)
			return
		}
		if exists {
			handler(w, r)
			return
		}

		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockAPI) URL() string {
	return m.server.URL
}

// Client returns an HTTP client configured for the mock server.
func (m *MockAPI) Client() *http.Client {
	return m.server.Client()
}

// Close shuts down the mock server.
func (m *MockAPI) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.RequestURIs = nil
	m.injected = make(map[string][]MockResponse)
	m.LastRequestHeader = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockAPI) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockAPI) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, resp)
	})
}

// SetSequence answers successive requests to path with resps in order.
// The last response repeats once the sequence is used up.
func (m *MockAPI) SetSequence(path string, resps ...MockResponse) {
	var (
		mu   sync.Mutex
		next int
	)
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		resp := resps[min(next, len(resps)-1)]
		next++
		mu.Unlock()
		writeResponse(w, resp)
	})
}

// InjectResponses queues resps for the next requests to path. They are
// served in order ahead of the path's handler, which resumes afterwards.
func (m *MockAPI) InjectResponses(path string, resps ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.injected[path] = append(m.injected[path], resps...)
}

// SetSearchPages serves items as a GitHub-style search result at path.
// Pages are selected with the page and per_page query parameters and
// chained with a Link header. The body is
// {"total_count": N, "incomplete_results": false, "items": [...]}.
func (m *MockAPI) SetSearchPages(path string, items []any) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		perPage := atoiDefault(q.Get("per_page"), 30)
		page := atoiDefault(q.Get("page"), 1)

		start := min((page-1)*perPage, len(items))
		end := min(start+perPage, len(items))
		lastPage := max((len(items)+perPage-1)/perPage, 1)

		var links []string
		if page < lastPage {
			links = append(links, m.pageLink(r, page+1, "next"), m.pageLink(r, lastPage, "last"))
		}
		if page > 1 {
			links = append(links, m.pageLink(r, 1, "first"), m.pageLink(r, page-1, "prev"))
		}
		if len(links) > 0 {
			w.Header().Set("Link", strings.Join(links, ", "))
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"total_count":        len(items),
			"incomplete_results": false,
			"items":              items[start:end],
		})
	})
}

// SetCursorPages serves pages chained by a cursor query parameter at path.
// Page i is requested with cursor=p<i>; the first page has no cursor. The
// body is {"items": [...], "next_cursor": "p<i+1>"}, with next_cursor
// omitted on the last page.
func (m *MockAPI) SetCursorPages(path string, pages ...[]any) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		i := 0
		if c := r.URL.Query().Get("cursor"); c != "" {
			n, err := strconv.Atoi(strings.TrimPrefix(c, "p"))
			if err != nil || n < 0 || n >= len(pages) {
				writeJSON(w, http.StatusBadRequest, map[string]any{"message": "invalid cursor"})
				return
			}
			i = n
		}

		body := map[string]any{"items": pages[i]}
		if i+1 < len(pages) {
			body["next_cursor"] = fmt.Sprintf("p%d", i+1)
		}
		writeJSON(w, http.StatusOK, body)
	})
}

func (m *MockAPI) pageLink(r *http.Request, page int, rel string) string {
	q := r.URL.Query()
	q.Set("page", strconv.Itoa(page))
	return fmt.Sprintf(`<%s%s?%s>; rel="%s"`, m.server.URL, r.URL.Path, q.Encode(), rel)
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockAPI) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetRequestURIs returns the request URIs received so far, in order.
func (m *MockAPI) GetRequestURIs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.RequestURIs...)
}

// GetLastRequestHeader returns the headers of the most recent request.
func (m *MockAPI) GetLastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastRequestHeader.Clone()
}

// defaultHandler answers unknown paths like GitHub does.
func (m *MockAPI) defaultHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]any{
		"message":           "Not Found",
		"documentation_url": "https://docs.github.com/rest",
	})
}

// NewHealthyResponse creates a standard 200 OK JSON response.
func NewHealthyResponse(data string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       data,
		Headers: map[string]string{
			"Content-Type":          "application/json; charset=utf-8",
			"X-RateLimit-Limit":     "30",
			"X-RateLimit-Remaining": "29",
		},
	}
}

// NewRateLimitResponse creates a GitHub-style 403 for an exhausted quota.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusForbidden,
		Body:       `{"message": "API rate limit exceeded", "documentation_url": "https://docs.github.com/rest/rate-limit"}`,
		Headers: map[string]string{
			"Content-Type":          "application/json; charset=utf-8",
			"X-RateLimit-Limit":     "30",
			"X-RateLimit-Remaining": "0",
			"X-RateLimit-Reset":     strconv.FormatInt(time.Now().Add(time.Minute).Unix(), 10),
		},
	}
}

// NewTooManyRequestsResponse creates a 429 Too Many Requests response.
func NewTooManyRequestsResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"message": "You have exceeded a secondary rate limit"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
			"Retry-After":  "1",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"message": "Server Error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewValidationFailedResponse creates a 422 response as GitHub sends for a
// malformed search query.
func NewValidationFailedResponse(message string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusUnprocessableEntity,
		Body: fmt.Sprintf(`{"message": "Validation Failed", "errors": [{"resource": "Search", "field": "q", "code": "invalid", "message": %q}], "documentation_url": "https://docs.github.com/rest/search"}`,
			message),
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

func writeResponse(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}

	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}

	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		_, _ = w.Write([]byte(resp.Body))
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func atoiDefault(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
