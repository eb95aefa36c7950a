package models

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Engine selects the page flow for a job.
type Engine string

const (
	EngineGoogle  Engine = "google"
	EngineBing    Engine = "bing"
	EngineGeneric Engine = "generic"
)

// ParseEngine converts a user-supplied string into an Engine. An empty
// string yields EngineBing, matching the queue's historical default.
func ParseEngine(s string) (Engine, error) {
	switch e := Engine(strings.ToLower(strings.TrimSpace(s))); e {
	case "":
		return EngineBing, nil
	case EngineGoogle, EngineBing, EngineGeneric:
		return e, nil
	default:
		return "", fmt.Errorf("unknown engine %q", s)
	}
}

// IsSearch reports whether the engine produces a results page.
func (e Engine) IsSearch() bool {
	return e == EngineGoogle || e == EngineBing
}

// Status is the externally visible job lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CrawlJob is one unit of work: a keyword for a search engine or a target
// URL for deep extraction.
type CrawlJob struct {
	ID      string `json:"id"`
	Keyword string `json:"keyword,omitempty"`
	URL     string `json:"url,omitempty"`
	Engine  Engine `json:"engine"`

	// Verbatim requests exact-match results from the search engine.
	Verbatim bool `json:"verbatim,omitempty"`

	// FollowFirst deep-extracts the first search result.
	FollowFirst bool `json:"follow_first,omitempty"`

	// Selectors maps an output field name to a CSS selector (generic jobs).
	Selectors map[string]string `json:"selectors,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Validate checks that the job carries what its engine needs.
func (j *CrawlJob) Validate() error {
	if j.ID == "" {
		return NewCrawlError(ErrCodeInvalidInput, "job id is required", nil)
	}
	switch {
	case j.Engine.IsSearch():
		if strings.TrimSpace(j.Keyword) == "" {
			return NewCrawlError(ErrCodeInvalidInput, "keyword is required for search engines", nil)
		}
	case j.Engine == EngineGeneric:
		u, err := url.Parse(j.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return NewCrawlError(ErrCodeInvalidInput, "generic jobs need an absolute http(s) url", err)
		}
	default:
		return NewCrawlError(ErrCodeInvalidInput, fmt.Sprintf("unknown engine %q", j.Engine), nil)
	}
	return nil
}

// Query returns the keyword for search jobs and the URL otherwise.
func (j *CrawlJob) Query() string {
	if j.Engine.IsSearch() {
		return j.Keyword
	}
	return j.URL
}

// JobRecord is what the persistence collaborator stores for a job.
type JobRecord struct {
	Job       CrawlJob   `json:"job"`
	Status    Status     `json:"status"`
	Attempts  int        `json:"attempts"`
	Reason    string     `json:"reason,omitempty"`
	ErrorCode string     `json:"error_code,omitempty"`
	Result    *JobResult `json:"result,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`

	// FinishedAt is set once, on the terminal write.
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Cookie is a credential cookie scoped to a declared domain.
type Cookie struct {
	Name     string `json:"name" yaml:"name"`
	Value    string `json:"value" yaml:"value"`
	Domain   string `json:"domain" yaml:"domain"`
	Path     string `json:"path,omitempty" yaml:"path,omitempty"`
	Secure   bool   `json:"secure,omitempty" yaml:"secure,omitempty"`
	HTTPOnly bool   `json:"http_only,omitempty" yaml:"http_only,omitempty"`
}
