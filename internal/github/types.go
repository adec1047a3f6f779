package github

import (
	"fmt"
	"strings"
	"time"
)

// User is the account summary embedded in issues.
type User struct {
	Login string `json:"login" validate:"required"`
	ID    int64  `json:"id"`
	Type  string `json:"type"`
}

// Label is an issue label.
type Label struct {
	Name  string `json:"name" validate:"required"`
	Color string `json:"color"`
}

// PullRequestRef is present on issues that are pull requests.
type PullRequestRef struct {
	URL      string     `json:"url"`
	MergedAt *time.Time `json:"merged_at"`
}

// Issue is an issue or pull request as returned by the search and issues
// APIs.
type Issue struct {
	ID          int64           `json:"id" validate:"required"`
	Number      int             `json:"number" validate:"required"`
	Title       string          `json:"title"`
	State       string          `json:"state" validate:"omitempty,oneof=open closed"`
	HTMLURL     string          `json:"html_url"`
	User        *User           `json:"user"`
	Labels      []Label         `json:"labels" validate:"dive"`
	Comments    int             `json:"comments"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	ClosedAt    *time.Time      `json:"closed_at"`
	PullRequest *PullRequestRef `json:"pull_request"`
	Score       float64         `json:"score"`
}

// IsPullRequest reports whether the issue is a pull request.
func (i Issue) IsPullRequest() bool {
	return i.PullRequest != nil
}

// SearchResult is one page of /search/issues.
type SearchResult struct {
	TotalCount        int     `json:"total_count"`
	IncompleteResults bool    `json:"incomplete_results"`
	Items             []Issue `json:"items" validate:"dive"`
}

// FieldError is one entry of a validation failure.
type FieldError struct {
	Resource string `json:"resource"`
	Field    string `json:"field"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

// APIError is the error body GitHub sends with non-success statuses. It is
// the business payload of the client's endpoints.
type APIError struct {
	Message          string       `json:"message" validate:"required"`
	DocumentationURL string       `json:"documentation_url"`
	Errors           []FieldError `json:"errors"`
}

func (e APIError) String() string {
	if len(e.Errors) == 0 {
		return e.Message
	}
	details := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		switch {
		case fe.Message != "":
			details = append(details, fe.Message)
		case fe.Field != "":
			details = append(details, fmt.Sprintf("%s.%s %s", fe.Resource, fe.Field, fe.Code))
		default:
			details = append(details, fe.Code)
		}
	}
	return e.Message + ": " + strings.Join(details, "; ")
}
