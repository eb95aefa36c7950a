// Package webhook delivers terminal job records to an HTTP endpoint.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/use-agent/serpcrawl/config"
	"github.com/use-agent/serpcrawl/models"
)

// Event types.
const (
	EventJobCompleted = "job.completed"
	EventJobFailed    = "job.failed"
)

// SignatureHeader carries "sha256=<hex>" of the body when a secret is set.
const SignatureHeader = "X-Serpcrawl-Signature"

// Event is the payload sent to webhook endpoints.
type Event struct {
	Type      string            `json:"type"`
	JobID     string            `json:"job_id"`
	Timestamp int64             `json:"timestamp"`
	Data      *models.JobRecord `json:"data"`
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Deliver sends a webhook event synchronously.
func Deliver(ctx context.Context, client *http.Client, url, secret string, event *Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Serpcrawl-Webhook/1.0")
	if secret != "" {
		req.Header.Set(SignatureHeader, Sign(secret, body))
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: deliver: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook: endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// Notifier posts every terminal record in the background with retries.
type Notifier struct {
	url    string
	secret string
	client *http.Client
	delays []time.Duration
	wg     sync.WaitGroup
}

// New creates a notifier. Retry intervals are 1s, 5s and 30s.
func New(cfg config.WebhookConfig) *Notifier {
	return &Notifier{
		url:    cfg.URL,
		secret: cfg.Secret,
		client: &http.Client{Timeout: 10 * time.Second},
		delays: []time.Duration{0, 1 * time.Second, 5 * time.Second, 30 * time.Second},
	}
}

// Notify queues delivery of rec and returns immediately.
func (n *Notifier) Notify(rec *models.JobRecord) {
	if n.url == "" || rec == nil {
		return
	}
	typ := EventJobCompleted
	if rec.Status == models.StatusFailed {
		typ = EventJobFailed
	}
	event := &Event{
		Type:      typ,
		JobID:     rec.Job.ID,
		Timestamp: time.Now().Unix(),
		Data:      rec,
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.deliver(event)
	}()
}

// Wait blocks until queued deliveries have finished or given up.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) deliver(event *Event) {
	for attempt, delay := range n.delays {
		if delay > 0 {
			time.Sleep(delay)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := Deliver(ctx, n.client, n.url, n.secret, event)
		cancel()
		if err == nil {
			slog.Info("webhook delivered",
				"event", event.Type,
				"job_id", event.JobID,
				"attempt", attempt+1,
			)
			return
		}
		slog.Warn("webhook delivery failed",
			"event", event.Type,
			"job_id", event.JobID,
			"attempt", attempt+1,
			"error", err,
		)
	}
	slog.Error("webhook delivery exhausted all retries",
		"event", event.Type,
		"job_id", event.JobID,
	)
}
