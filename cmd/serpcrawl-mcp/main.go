package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/use-agent/serpcrawl/models"
)

// pollInterval is the wait between job status requests.
const pollInterval = 2 * time.Second

func main() {
	apiURL := os.Getenv("SERPCRAWL_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}
	apiKey := os.Getenv("SERPCRAWL_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "SERPCRAWL_API_KEY is required")
		os.Exit(1)
	}

	c := &apiClient{
		baseURL: strings.TrimRight(apiURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}

	s := server.NewMCPServer(
		"serpcrawl",
		"0.1.0",
		server.WithToolCapabilities(false),
	)

	searchTool := mcp.NewTool("search",
		mcp.WithDescription("Run a search through a real browser behind rotating proxies and return the organic results. Optionally extracts the first result's page."),
		mcp.WithString("keyword",
			mcp.Required(),
			mcp.Description("The search query"),
		),
		mcp.WithString("engine",
			mcp.Description("Search engine: 'bing' (default) or 'google'"),
			mcp.Enum("bing", "google"),
		),
		mcp.WithBoolean("verbatim",
			mcp.Description("Ask the engine for exact-match results"),
		),
		mcp.WithBoolean("follow_first",
			mcp.Description("Also visit and extract the first organic result"),
		),
	)
	s.AddTool(searchTool, c.handleSearch)

	extractTool := mcp.NewTool("extract_page",
		mcp.WithDescription("Load a page in a real browser and return its main text, metadata, contacts and links."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The absolute http(s) URL of the page"),
		),
	)
	s.AddTool(extractTool, c.handleExtract)

	statusTool := mcp.NewTool("job_status",
		mcp.WithDescription("Look up a crawl job by id without waiting for it."),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("The job id returned when the job was queued"),
		),
	)
	s.AddTool(statusTool, c.handleStatus)

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

type apiClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// do sends a request to the serpcrawl API and decodes a JobResponse.
func (c *apiClient) do(ctx context.Context, method, path string, payload any) (*models.JobResponse, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var out models.JobResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse response (HTTP %d): %w", resp.StatusCode, err)
	}
	if !out.Success {
		if out.Error != nil {
			return nil, fmt.Errorf("[%s] %s", out.Error.Code, out.Error.Message)
		}
		return nil, fmt.Errorf("API returned HTTP %d", resp.StatusCode)
	}
	return &out, nil
}

// submitAndWait queues a job and polls it until it is terminal or ctx ends.
func (c *apiClient) submitAndWait(ctx context.Context, req models.JobRequest) (*models.JobRecord, error) {
	queued, err := c.do(ctx, http.MethodPost, "/api/v1/jobs", req)
	if err != nil {
		return nil, err
	}
	if queued.Record != nil && isTerminal(queued.Record.Status) {
		return queued.Record, nil
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			got, err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+queued.ID, nil)
			if err != nil {
				return nil, err
			}
			if got.Record != nil && isTerminal(got.Record.Status) {
				return got.Record, nil
			}
		}
	}
}

func isTerminal(s models.Status) bool {
	return s == models.StatusCompleted || s == models.StatusFailed
}

func (c *apiClient) handleSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	keyword, err := request.RequireString("keyword")
	if err != nil {
		return mcp.NewToolResultError("keyword is required"), nil
	}
	req := models.JobRequest{
		Keyword:  keyword,
		Engine:   request.GetString("engine", "bing"),
		Verbatim: request.GetBool("verbatim", false),
	}
	if _, ok := request.GetArguments()["follow_first"]; ok {
		follow := request.GetBool("follow_first", false)
		req.FollowFirst = &follow
	}

	rec, err := c.submitAndWait(ctx, req)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}
	return recordResult(rec), nil
}

func (c *apiClient) handleExtract(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	url, err := request.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError("url is required"), nil
	}
	rec, err := c.submitAndWait(ctx, models.JobRequest{URL: url, Engine: string(models.EngineGeneric)})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("extraction failed: %v", err)), nil
	}
	return recordResult(rec), nil
}

func (c *apiClient) handleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("id is required"), nil
	}
	got, err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+id, nil)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status lookup failed: %v", err)), nil
	}
	if got.Record == nil {
		return mcp.NewToolResultText(fmt.Sprintf("Job %s: %s", got.ID, got.Status)), nil
	}
	return recordResult(got.Record), nil
}

func recordResult(rec *models.JobRecord) *mcp.CallToolResult {
	if rec.Status == models.StatusFailed && rec.Result == nil {
		return mcp.NewToolResultError(fmt.Sprintf("job %s failed after %d attempts: [%s] %s",
			rec.Job.ID, rec.Attempts, rec.ErrorCode, rec.Reason))
	}
	return mcp.NewToolResultText(formatRecord(rec))
}

// formatRecord renders a job record as plain text for the model.
func formatRecord(rec *models.JobRecord) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Job %s: %s (%d attempts)\n", rec.Job.ID, rec.Status, rec.Attempts)
	if rec.Status == models.StatusFailed {
		fmt.Fprintf(&sb, "Failed: [%s] %s\nPartial result follows.\n", rec.ErrorCode, rec.Reason)
	}
	sb.WriteString("\n")

	res := rec.Result
	if res == nil {
		return sb.String()
	}

	if res.SERP != nil {
		fmt.Fprintf(&sb, "Results for %q:\n", rec.Job.Keyword)
		for i, e := range res.SERP.Entries {
			fmt.Fprintf(&sb, "%d. %s\n   %s\n", i+1, e.Title, e.Link)
			if e.Snippet != "" {
				fmt.Fprintf(&sb, "   %s\n", e.Snippet)
			}
		}
		if len(res.SERP.PeopleAlsoAsk) > 0 {
			sb.WriteString("\nPeople also ask:\n")
			for _, q := range res.SERP.PeopleAlsoAsk {
				sb.WriteString("- " + q + "\n")
			}
		}
		if len(res.SERP.Related) > 0 {
			sb.WriteString("\nRelated searches: " + strings.Join(res.SERP.Related, ", ") + "\n")
		}
	}

	if res.FirstPage != nil {
		sb.WriteString("\n--- First result ---\n")
		writePage(&sb, res.FirstPage)
	}
	if res.Deep != nil {
		writePage(&sb, res.Deep)
	}
	if len(res.Tags) > 0 {
		sb.WriteString("\nTags: " + strings.Join(res.Tags, ", ") + "\n")
	}
	return sb.String()
}

func writePage(sb *strings.Builder, d *models.DeepExtraction) {
	fmt.Fprintf(sb, "Title: %s\nSource: %s\n", d.Metadata.Title, d.URL)
	if len(d.Emails) > 0 {
		sb.WriteString("Emails: " + strings.Join(d.Emails, ", ") + "\n")
	}
	if len(d.Phones) > 0 {
		sb.WriteString("Phones: " + strings.Join(d.Phones, ", ") + "\n")
	}
	sb.WriteString("\n")
	if d.Markdown != "" {
		sb.WriteString(d.Markdown)
	} else {
		sb.WriteString(d.MainText)
	}
	sb.WriteString("\n")
}
