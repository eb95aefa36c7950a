// Package llm is the enrichment collaborator: an OpenAI-compatible chat
// client that turns page text into topic tags.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/use-agent/serpcrawl/config"
	"github.com/use-agent/serpcrawl/models"
)

const (
	// maxInputChars is how much of the text is sent.
	maxInputChars = 8000
	maxTags       = 10
)

// Client is a lightweight OpenAI-compatible API client.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// New creates a client from configuration.
func New(cfg config.LLMConfig) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
	}
}

// chatRequest is the OpenAI chat completion request body.
type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

// chatResponse is the minimal OpenAI chat completion response we need.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// chatErrorResponse captures an API error from the provider.
type chatErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

const systemPrompt = `You label web content with topic tags.

Rules:
- Return ONLY a JSON object of the form {"tags": ["tag", ...]}.
- Use at most 10 short lowercase tags.
- Tags describe the subject matter, not the page layout.`

// Tags asks the model for topic tags describing text.
func (c *Client) Tags(ctx context.Context, text string) ([]string, error) {
	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: truncate(text, maxInputChars)},
		},
		Temperature:    0,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, models.NewCrawlError(models.ErrCodeEnrichFailure, "enrichment request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, models.NewCrawlError(models.ErrCodeEnrichFailure, "failed to read enrichment response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyError(resp.StatusCode, respBody)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, models.NewCrawlError(models.ErrCodeEnrichFailure, "failed to parse enrichment response", err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, models.NewCrawlError(models.ErrCodeEnrichFailure, "model returned no choices", nil)
	}

	var out struct {
		Tags []string `json:"tags"`
	}
	if err := json.Unmarshal([]byte(chatResp.Choices[0].Message.Content), &out); err != nil {
		return nil, models.NewCrawlError(models.ErrCodeEnrichFailure, "model returned invalid JSON", err)
	}
	return normalizeTags(out.Tags), nil
}

func normalizeTags(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, t := range in {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
		if len(out) == maxTags {
			break
		}
	}
	return out
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// classifyError maps HTTP status codes to error codes.
func classifyError(statusCode int, body []byte) *models.CrawlError {
	var errResp chatErrorResponse
	msg := "enrichment API error"
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		msg = errResp.Error.Message
	}

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return models.NewCrawlError(models.ErrCodeEnrichAuthFailure, msg, nil)
	case statusCode == http.StatusTooManyRequests:
		return models.NewCrawlError(models.ErrCodeEnrichRateLimited, msg, nil)
	default:
		return models.NewCrawlError(models.ErrCodeEnrichFailure, fmt.Sprintf("enrichment API returned %d: %s", statusCode, msg), nil)
	}
}
