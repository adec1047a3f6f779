// Package github is a small GitHub REST client built on the webapi-kit
// endpoint, client and pagination packages. It searches issues and lists
// repository issues, following Link headers, and retries transient
// failures with exponential backoff.
package github

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Sternrassler/webapi-kit/pkg/client"
	"github.com/Sternrassler/webapi-kit/pkg/endpoint"
	"github.com/Sternrassler/webapi-kit/pkg/logging"
	"github.com/Sternrassler/webapi-kit/pkg/pagination"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// searchResultCap is the number of results the search API will page
// through, whatever total_count says.
const searchResultCap = 1000

// Config holds the GitHub client configuration.
type Config struct {
	// BaseURL is the REST API root (https://api.github.com, or
	// https://HOST/api/v3 for GitHub Enterprise).
	BaseURL string

	// Token is sent as a bearer token when set.
	Token string

	UserAgent string

	// APIVersion is sent as X-GitHub-Api-Version.
	APIVersion string

	// PageSize is the per_page value used by iterators (1-100).
	PageSize int

	Timeout time.Duration

	// HTTPClient is the base client. The token transport wraps its
	// Transport. Nil uses http.DefaultTransport.
	HTTPClient *http.Client

	// RetryPolicy picks backoff settings per error class. Nil uses
	// RetryConfigForErrorClass.
	RetryPolicy RetryPolicy
}

// DefaultConfig returns the configuration for api.github.com.
func DefaultConfig(token string) Config {
	return Config{
		BaseURL:     "https://api.github.com",
		Token:       token,
		UserAgent:   "webapi-kit-ghsearch/0.1.0",
		APIVersion:  "2022-11-28",
		PageSize:    30,
		Timeout:     30 * time.Second,
		RetryPolicy: RetryConfigForErrorClass,
	}
}

// Client is a GitHub REST client.
type Client struct {
	http   *client.Client
	config Config
	logger zerolog.Logger

	search *endpoint.Endpoint[SearchResult]
	issues *endpoint.Endpoint[[]Issue]
}

// New creates a GitHub client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.PageSize < 1 || cfg.PageSize > 100 {
		return nil, fmt.Errorf("page size must be between 1 and 100 (got %d)", cfg.PageSize)
	}
	if cfg.RetryPolicy == nil {
		cfg.RetryPolicy = RetryConfigForErrorClass
	}

	httpCfg := client.DefaultConfig(cfg.UserAgent)
	httpCfg.Timeout = cfg.Timeout
	httpCfg.HTTPClient = authenticatedClient(cfg)

	hc, err := client.New(httpCfg)
	if err != nil {
		return nil, fmt.Errorf("http client: %w", err)
	}

	logger := logging.NewLogger("github")
	hc.SetLogger(logger)

	header := http.Header{}
	header.Set("Accept", "application/vnd.github+json")
	if cfg.APIVersion != "" {
		header.Set("X-GitHub-Api-Version", cfg.APIVersion)
	}

	return &Client{
		http:   hc,
		config: cfg,
		logger: logger,
		search: &endpoint.Endpoint[SearchResult]{
			BaseURL:  cfg.BaseURL,
			Header:   header,
			Business: endpoint.JSONBusiness[APIError](),
		},
		issues: &endpoint.Endpoint[[]Issue]{
			BaseURL:  cfg.BaseURL,
			Header:   header,
			Business: endpoint.JSONBusiness[APIError](),
		},
	}, nil
}

// authenticatedClient wraps the base client's transport with a static
// bearer token source.
func authenticatedClient(cfg Config) *http.Client {
	base := cfg.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Token == "" {
		return base
	}

	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	authed := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token}))
	authed.Timeout = base.Timeout
	return authed
}

// SearchOptions are the query parameters of /search/issues.
type SearchOptions struct {
	// Query uses the GitHub search syntax, e.g. "repo:golang/go is:open".
	Query string `url:"q"`

	// Sort is one of comments, reactions, created, updated. Empty sorts by
	// best match.
	Sort  string `url:"sort,omitempty"`
	Order string `url:"order,omitempty"`

	PerPage int `url:"per_page,omitempty"`
	Page    int `url:"page,omitempty"`
}

// SearchIssues fetches a single page of issue search results.
func (c *Client) SearchIssues(ctx context.Context, opts SearchOptions) (*SearchResult, error) {
	if strings.TrimSpace(opts.Query) == "" {
		return nil, fmt.Errorf("search query is required")
	}

	var resp *endpoint.Response[SearchResult]
	err := retryWithBackoff(ctx, c.config.RetryPolicy, c.logger, func() error {
		var err error
		resp, err = client.Call(ctx, c.http, c.search, endpoint.Get("/search/issues").WithQuery(opts))
		return err
	})
	if err != nil {
		return nil, err
	}
	return &resp.Value, nil
}

// SearchIssuesIter walks every result of a search, page by page. Pages are
// chained through the Link header; when a response carries none, page
// numbers are used instead.
func (c *Client) SearchIssuesIter(opts SearchOptions) *Retrier[Issue] {
	if opts.PerPage == 0 {
		opts.PerPage = c.config.PageSize
	}
	if opts.Page == 0 {
		opts.Page = 1
	}

	extract := func(resp *endpoint.Response[SearchResult]) (*pagination.Page[Issue], error) {
		if resp.Value.IncompleteResults {
			c.logger.Warn().
				Str("query", opts.Query).
				Msg("Search timed out on GitHub, results are incomplete")
		}
		return &pagination.Page[Issue]{
			Items:  resp.Value.Items,
			Cursor: client.NextLinkCursor(resp.Header, resp.URL),
			Total:  min(resp.Value.TotalCount, searchResultCap),
		}, nil
	}

	byNumber := pagination.PageNumberRule[endpoint.Request, Issue](opts.Page, opts.PerPage,
		func(_ endpoint.Request, page int) endpoint.Request {
			next := opts
			next.Page = page
			return endpoint.Get("/search/issues").WithQuery(next)
		})

	initial := endpoint.Get("/search/issues").WithQuery(opts)
	return iterate(c, c.search, initial, extract, linkOr(byNumber), "search_issues")
}

// IssueListOptions are the query parameters of /repos/{owner}/{repo}/issues.
type IssueListOptions struct {
	// State is open, closed or all.
	State     string   `url:"state,omitempty"`
	Labels    []string `url:"labels,comma,omitempty"`
	Sort      string   `url:"sort,omitempty"`
	Direction string   `url:"direction,omitempty"`
	Since     string   `url:"since,omitempty"`
	PerPage   int      `url:"per_page,omitempty"`
}

// RepoIssues walks the issues of owner/repo by following Link headers.
func (c *Client) RepoIssues(owner, repo string, opts IssueListOptions) *Retrier[Issue] {
	if opts.PerPage == 0 {
		opts.PerPage = c.config.PageSize
	}

	extract := func(resp *endpoint.Response[[]Issue]) (*pagination.Page[Issue], error) {
		return &pagination.Page[Issue]{
			Items:  resp.Value,
			Cursor: client.NextLinkCursor(resp.Header, resp.URL),
		}, nil
	}

	initial := endpoint.Get("/repos/{owner}/{repo}/issues").
		WithParam("owner", owner).
		WithParam("repo", repo).
		WithQuery(opts)
	return iterate(c, c.issues, initial, extract, client.FollowLink[Issue](), "repo_issues")
}

func iterate[Out any](
	c *Client,
	contract endpoint.Contract[Out],
	initial endpoint.Request,
	extract client.ExtractFunc[Out, Issue],
	next pagination.NextFunc[endpoint.Request, Issue],
	name string,
) *Retrier[Issue] {
	pager := client.Paginate(c.http, contract, initial, extract, next,
		pagination.WithName(name),
		pagination.WithLogger(c.logger),
		pagination.WithRecoverable(recoverable),
	)
	return &Retrier[Issue]{pager: pager, policy: c.config.RetryPolicy, logger: c.logger}
}

// linkOr follows the Link header when the page has one and defers to
// fallback otherwise.
func linkOr(fallback pagination.NextFunc[endpoint.Request, Issue]) pagination.NextFunc[endpoint.Request, Issue] {
	follow := client.FollowLink[Issue]()
	return func(req endpoint.Request, page *pagination.Page[Issue], p pagination.Progress) (endpoint.Request, bool) {
		if page.Cursor != nil {
			return follow(req, page, p)
		}
		return fallback(req, page, p)
	}
}

// APIErrorOf returns the GitHub error payload carried by err, if any.
func APIErrorOf(err error) (APIError, bool) {
	return endpoint.BusinessPayload[APIError](err)
}
