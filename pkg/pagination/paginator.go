package pagination

import (
	"context"
	"errors"
	"iter"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/webapi-kit/pkg/endpoint"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Common errors returned by the paginator.
var (
	// ErrDone is returned by Next once the sequence is finished, including
	// every pull after a terminal failure.
	ErrDone = errors.New("pagination: no more items")

	// ErrConcurrentNext is returned when Next is called while another call
	// is still outstanding. The paginator state is left untouched.
	ErrConcurrentNext = errors.New("pagination: concurrent call to Next")
)

// Cursor is an opaque continuation token. Only the page extractor produces
// it and only the next-page rule reads it.
type Cursor any

// Page is the decoded result of one fetch.
type Page[T any] struct {
	// Items in the order the API returned them.
	Items []T

	// Cursor is nil on the last page.
	Cursor Cursor

	// Total is the item count the API reports for the whole sequence,
	// zero when unknown.
	Total int
}

// Progress summarises what has been fetched so far, including the page
// passed alongside it.
type Progress struct {
	Pages int
	Items int
}

// FetchFunc performs one fetch for req. It is the only place the
// paginator blocks.
type FetchFunc[Req, T any] func(ctx context.Context, req Req) (*Page[T], error)

// NextFunc is the next-page rule. It must be pure: given the request that
// produced page, it returns the request for the following page, or false
// when page was the last one.
type NextFunc[Req, T any] func(req Req, page *Page[T], p Progress) (Req, bool)

type state int

const (
	stateInit state = iota
	stateReady
	stateExhausted
	stateFailed
)

func (s state) String() string {
	switch s {
	case stateInit:
		return "init"
	case stateReady:
		return "ready"
	case stateExhausted:
		return "exhausted"
	case stateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Paginator flattens a chain of page fetches into one ordered sequence of
// items. Pages are fetched lazily, one at a time, and at most one page is
// buffered. A Paginator is not restartable and must be driven by a single
// consumer.
type Paginator[Req, T any] struct {
	fetch FetchFunc[Req, T]
	next  NextFunc[Req, T]
	cfg   config

	state    state
	req      Req
	buf      []T
	pos      int
	more     bool
	progress Progress
	emptyRun int
	total    int
	fetches  int

	busy atomic.Bool
}

// New returns a paginator that starts from initial.
func New[Req, T any](initial Req, fetch FetchFunc[Req, T], next NextFunc[Req, T], opts ...Option) *Paginator[Req, T] {
	if fetch == nil || next == nil {
		panic("pagination: New requires a FetchFunc and a NextFunc")
	}

	cfg := config{
		name:     "default",
		logger:   log.With().Str("component", "paginator").Logger(),
		maxEmpty: -1,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Paginator[Req, T]{
		fetch: fetch,
		next:  next,
		cfg:   cfg,
		req:   initial,
	}
}

// Next returns the next item. It returns ErrDone at the end of the
// sequence. A fetch or decode failure is returned once as an
// *endpoint.Error; every later call returns ErrDone without fetching,
// unless the failure was declared recoverable with WithRecoverable.
//
// ctx bounds the fetch issued by this call, if any. Cancelling it cancels
// the outstanding fetch.
func (p *Paginator[Req, T]) Next(ctx context.Context) (T, error) {
	var zero T
	if !p.busy.CompareAndSwap(false, true) {
		return zero, ErrConcurrentNext
	}
	defer p.busy.Store(false)

	for {
		switch p.state {
		case stateInit:
			if err := p.fetchPage(ctx); err != nil {
				return zero, err
			}

		case stateReady:
			if p.pos < len(p.buf) {
				item := p.buf[p.pos]
				p.pos++
				itemsYieldedTotal.WithLabelValues(p.cfg.name).Inc()
				return item, nil
			}
			p.buf, p.pos = nil, 0
			if !p.more {
				p.state = stateExhausted
				p.cfg.logger.Debug().
					Str("paginator", p.cfg.name).
					Int("pages", p.progress.Pages).
					Int("items", p.progress.Items).
					Msg("Pagination complete")
				return zero, ErrDone
			}
			p.state = stateInit

		default:
			return zero, ErrDone
		}
	}
}

// fetchPage performs one fetch and moves to Ready, or stays in Init when
// the page was empty but had a successor.
func (p *Paginator[Req, T]) fetchPage(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return p.fail(endpoint.NewTransportError("", "", err))
	}

	start := time.Now()
	page, err := p.fetch(ctx, p.req)
	p.fetches++
	pageFetchDuration.WithLabelValues(p.cfg.name).Observe(time.Since(start).Seconds())

	if err == nil && page == nil {
		err = endpoint.NewDecodeError(nil, "fetch returned neither a page nor an error")
	}
	if err != nil {
		return p.fail(err)
	}
	pagesFetchedTotal.WithLabelValues(p.cfg.name).Inc()

	p.progress.Pages++
	p.progress.Items += len(page.Items)
	if page.Total > 0 {
		p.total = page.Total
	}
	nextReq, more := p.next(p.req, page, p.progress)

	p.cfg.logger.Debug().
		Str("paginator", p.cfg.name).
		Int("page", p.progress.Pages).
		Int("items", len(page.Items)).
		Bool("more", more).
		Dur("duration", time.Since(start)).
		Msg("Page fetched")

	if len(page.Items) == 0 && more {
		p.emptyRun++
		emptyPagesSkippedTotal.WithLabelValues(p.cfg.name).Inc()
		if p.cfg.maxEmpty >= 0 && p.emptyRun > p.cfg.maxEmpty {
			return p.fail(endpoint.NewDecodeError(
				endpoint.Path{endpoint.FieldSegment("items")},
				"empty page with a continuation cursor",
			))
		}
		p.req = nextReq
		return nil
	}

	p.emptyRun = 0
	p.buf, p.pos = page.Items, 0
	p.more = more
	if more {
		p.req = nextReq
	}
	p.state = stateReady
	return nil
}

func (p *Paginator[Req, T]) fail(err error) error {
	ae, ok := endpoint.AsError(err)
	if !ok {
		ae = endpoint.NewTransportError("", "", err)
	}
	pageFailuresTotal.WithLabelValues(p.cfg.name, string(ae.Kind)).Inc()

	if p.cfg.recoverable != nil && p.cfg.recoverable(ae) {
		p.cfg.logger.Warn().
			Err(ae).
			Str("paginator", p.cfg.name).
			Str("kind", string(ae.Kind)).
			Msg("Page fetch failed, request kept for another pull")
		return ae
	}

	p.state = stateFailed
	p.buf, p.pos = nil, 0
	p.cfg.logger.Warn().
		Err(ae).
		Str("paginator", p.cfg.name).
		Str("kind", string(ae.Kind)).
		Int("pages", p.progress.Pages).
		Msg("Page fetch failed, paginator closed")
	return ae
}

// All returns an iterator over the remaining items. A failure is yielded
// once as the final element; the sequence ends silently at ErrDone.
func (p *Paginator[Req, T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for {
			item, err := p.Next(ctx)
			if errors.Is(err, ErrDone) {
				return
			}
			if err != nil {
				yield(item, err)
				return
			}
			if !yield(item, nil) {
				return
			}
		}
	}
}

// Collect drains the paginator. On failure it returns the items received
// before the error together with the error.
func (p *Paginator[Req, T]) Collect(ctx context.Context) ([]T, error) {
	var items []T
	for item, err := range p.All(ctx) {
		if err != nil {
			return items, err
		}
		items = append(items, item)
	}
	return items, nil
}

// Fetches returns how many fetches have been issued, failed ones included.
func (p *Paginator[Req, T]) Fetches() int {
	return p.fetches
}

// Total returns the latest item count reported by the API.
func (p *Paginator[Req, T]) Total() (int, bool) {
	return p.total, p.total > 0
}

// Option configures a Paginator.
type Option func(*config)

type config struct {
	name        string
	logger      zerolog.Logger
	maxEmpty    int
	recoverable func(*endpoint.Error) bool
}

// WithName labels the paginator's logs and metrics.
func WithName(name string) Option {
	return func(c *config) { c.name = name }
}

// WithLogger replaces the default component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// WithMaxEmptyPages bounds how many consecutive empty pages with a
// successor are skipped. Past the bound the paginator fails with a decode
// error at path "items". Zero rejects every empty intermediate page; a
// negative value, the default, skips any number of them.
func WithMaxEmptyPages(n int) Option {
	return func(c *config) { c.maxEmpty = n }
}

// WithRecoverable marks errors that should not close the paginator. Such
// an error is still returned from Next, but the failed request is kept, so
// the next call fetches it again. This is the hook for caller-side retry
// policies; the paginator itself never retries.
func WithRecoverable(fn func(*endpoint.Error) bool) Option {
	return func(c *config) { c.recoverable = fn }
}
