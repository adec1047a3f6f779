// Command ghsearch walks a GitHub issue search, or the issue list of one
// repository, page by page and prints every issue.
//
// Usage:
//
//	ghsearch [flags] QUERY...
//	ghsearch -repo OWNER/REPO [flags]
//
// Configuration comes from the environment and an optional .env file:
// GITHUB_TOKEN, API_BASE_URL, USER_AGENT, LOG_LEVEL, LOG_PRETTY, PAGE_SIZE,
// MAX_ITEMS, HTTP_TIMEOUT and METRICS_ADDR.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Sternrassler/webapi-kit/internal/config"
	"github.com/Sternrassler/webapi-kit/internal/github"
	"github.com/Sternrassler/webapi-kit/pkg/codec"
	"github.com/Sternrassler/webapi-kit/pkg/logging"
	"github.com/Sternrassler/webapi-kit/pkg/metrics"
	"github.com/rs/zerolog/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		log.Error().Err(err).Msg("ghsearch failed")
		os.Exit(1)
	}
}

type options struct {
	envFile string
	repo    string
	state   string
	sort    string
	order   string
	format  string
	query   string
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("ghsearch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.envFile, "env", ".env", "`file` with environment defaults")
	fs.StringVar(&opts.repo, "repo", "", "list the issues of `OWNER/REPO` instead of searching")
	fs.StringVar(&opts.state, "state", "open", "issue state for -repo: open, closed or all")
	fs.StringVar(&opts.sort, "sort", "", "sort field (search: comments, reactions, created, updated)")
	fs.StringVar(&opts.order, "order", "", "sort order: asc or desc")
	fs.StringVar(&opts.format, "format", "text", "output format: text or json")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	opts.query = strings.Join(fs.Args(), " ")

	switch {
	case opts.format != "text" && opts.format != "json":
		return options{}, fmt.Errorf("unknown format %q", opts.format)
	case opts.repo == "" && strings.TrimSpace(opts.query) == "":
		return options{}, fmt.Errorf("a search query or -repo is required")
	case opts.repo != "" && opts.query != "":
		return options{}, fmt.Errorf("-repo and a search query are mutually exclusive")
	case opts.repo != "" && strings.Count(opts.repo, "/") != 1:
		return options{}, fmt.Errorf("-repo must be OWNER/REPO (got %q)", opts.repo)
	}
	return opts, nil
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	opts, err := parseFlags(args, os.Stderr)
	if err != nil {
		return err
	}

	cfg, err := config.Load(opts.envFile)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
		Output: os.Stderr,
	})
	logger := logging.NewLogger("ghsearch")

	if cfg.MetricsAddr != "" {
		srv := metrics.NewServer(cfg.MetricsAddr)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Str("addr", cfg.MetricsAddr).Msg("Metrics server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("Serving metrics")
	}

	ghCfg := github.DefaultConfig(cfg.GitHubToken)
	ghCfg.BaseURL = cfg.APIBase
	ghCfg.UserAgent = cfg.UserAgent
	ghCfg.PageSize = cfg.PageSize
	ghCfg.Timeout = cfg.Timeout
	gh, err := github.New(ghCfg)
	if err != nil {
		return fmt.Errorf("github client: %w", err)
	}

	var it *github.Retrier[github.Issue]
	if opts.repo != "" {
		owner, repo, _ := strings.Cut(opts.repo, "/")
		it = gh.RepoIssues(owner, repo, github.IssueListOptions{State: opts.state, Sort: opts.sort, Direction: opts.order})
	} else {
		it = gh.SearchIssuesIter(github.SearchOptions{Query: opts.query, Sort: opts.sort, Order: opts.order})
	}

	logger.Info().
		Str("query", opts.query).
		Str("repo", opts.repo).
		Bool("authenticated", cfg.GitHubToken != "").
		Int("max_items", cfg.MaxItems).
		Msg("Starting walk")

	printer := newPrinter(opts.format, stdout)
	printed := 0
	for issue, err := range it.All(ctx) {
		if err != nil {
			return fmt.Errorf("after %d issues: %w", printed, err)
		}
		if err := printer(issue); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		printed++
		if cfg.MaxItems > 0 && printed >= cfg.MaxItems {
			break
		}
	}

	total, _ := it.Total()
	logger.Info().
		Int("items", printed).
		Int("total", total).
		Int("fetches", it.Fetches()).
		Msg("Walk complete")
	return nil
}

// outputIssue is the JSON line written per issue.
type outputIssue struct {
	Key      codec.Base62 `json:"key"`
	Number   int          `json:"number"`
	Title    string       `json:"title"`
	State    string       `json:"state"`
	Author   string       `json:"author,omitempty"`
	Labels   []string     `json:"labels,omitempty"`
	Comments int          `json:"comments"`
	PR       bool         `json:"pull_request"`
	URL      string       `json:"url"`
	Created  time.Time    `json:"created_at"`
}

func toOutput(issue github.Issue) outputIssue {
	out := outputIssue{
		Key:      codec.Base62(issue.ID),
		Number:   issue.Number,
		Title:    issue.Title,
		State:    issue.State,
		Comments: issue.Comments,
		PR:       issue.IsPullRequest(),
		URL:      issue.HTMLURL,
		Created:  issue.CreatedAt,
	}
	if issue.User != nil {
		out.Author = issue.User.Login
	}
	for _, l := range issue.Labels {
		out.Labels = append(out.Labels, l.Name)
	}
	return out
}

func newPrinter(format string, w io.Writer) func(github.Issue) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		return func(issue github.Issue) error {
			return enc.Encode(toOutput(issue))
		}
	}
	return func(issue github.Issue) error {
		o := toOutput(issue)
		line := fmt.Sprintf("%-11s #%-6d %-6s %s", o.Key, o.Number, o.State, o.Title)
		if len(o.Labels) > 0 {
			line += " [" + strings.Join(o.Labels, ", ") + "]"
		}
		_, err := fmt.Fprintln(w, line)
		return err
	}
}
