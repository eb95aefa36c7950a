package models

import "time"

// JobRequest is the body of POST /api/v1/jobs.
type JobRequest struct {
	Keyword     string            `json:"keyword"`
	URL         string            `json:"url"`
	Engine      string            `json:"engine"`
	Verbatim    bool              `json:"verbatim"`
	FollowFirst *bool             `json:"follow_first"`
	Selectors   map[string]string `json:"selectors"`

	// MaxAgeMs returns a cached terminal record for the same query when it
	// is younger than this many milliseconds. Zero disables the lookup.
	MaxAgeMs int `json:"max_age_ms"`
}

// JobResponse is returned by job intake and status endpoints.
type JobResponse struct {
	Success     bool         `json:"success"`
	ID          string       `json:"id,omitempty"`
	Status      Status       `json:"status,omitempty"`
	Record      *JobRecord   `json:"record,omitempty"`
	CacheStatus string       `json:"cache_status,omitempty"`
	Error       *ErrorDetail `json:"error,omitempty"`
}

// JobListResponse is returned by GET /api/v1/jobs.
type JobListResponse struct {
	Success bool         `json:"success"`
	Jobs    []*JobRecord `json:"jobs"`
}

// ProxyInfo is the dashboard view of one proxy endpoint. Credentials are
// never exposed; HasAuth tells whether the endpoint carries them.
type ProxyInfo struct {
	ID               string     `json:"id"`
	Scheme           string     `json:"scheme"`
	Host             string     `json:"host"`
	Port             int        `json:"port"`
	HasAuth          bool       `json:"has_auth"`
	Enabled          bool       `json:"enabled"`
	ConsecutiveFails int        `json:"consecutive_fails"`
	TotalUses        int64      `json:"total_uses"`
	Weight           int        `json:"weight"`
	LastUsed         *time.Time `json:"last_used,omitempty"`
}

// ProxyStats summarises the pool.
type ProxyStats struct {
	Strategy  string `json:"strategy"`
	Total     int    `json:"total"`
	Enabled   int    `json:"enabled"`
	Disabled  int    `json:"disabled"`
	TotalUses int64  `json:"total_uses"`
}

// ProxyRequest is the body of POST /api/v1/proxies.
type ProxyRequest struct {
	Proxy  string `json:"proxy" binding:"required"`
	Weight int    `json:"weight"`
}

// ProxyResponse wraps proxy endpoint replies.
type ProxyResponse struct {
	Success bool         `json:"success"`
	Proxy   *ProxyInfo   `json:"proxy,omitempty"`
	Proxies []ProxyInfo  `json:"proxies,omitempty"`
	Stats   *ProxyStats  `json:"stats,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status  string     `json:"status"` // "healthy" or "degraded"
	Uptime  string     `json:"uptime"`
	Proxies ProxyStats `json:"proxies"`
	Queue   string     `json:"queue"`
	Version string     `json:"version"`
}

// ErrorResponse is the body of every failed API request that has no more
// specific envelope.
type ErrorResponse struct {
	Success bool         `json:"success"`
	Error   *ErrorDetail `json:"error"`
}
