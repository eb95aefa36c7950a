package crawl

import (
	"context"
	"encoding/json"

	"github.com/use-agent/serpcrawl/browser"
	"github.com/use-agent/serpcrawl/detect"
	"github.com/use-agent/serpcrawl/fetch"
	"github.com/use-agent/serpcrawl/models"
	"github.com/use-agent/serpcrawl/proxypool"
)

// Session is one browser owned by one attempt. browser.Session implements it.
type Session interface {
	Navigate(ctx context.Context, rawURL string) (detect.Page, error)
	Humanize(ctx context.Context)
	Evaluate(ctx context.Context, script string) (json.RawMessage, error)
	HTML(ctx context.Context) (string, error)
	Close() error
}

// Opener starts sessions.
type Opener interface {
	Open(ctx context.Context, opts browser.OpenOptions) (Session, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, opts browser.OpenOptions) (Session, error)

func (f OpenerFunc) Open(ctx context.Context, opts browser.OpenOptions) (Session, error) {
	return f(ctx, opts)
}

// LauncherOpener opens real browser sessions.
func LauncherOpener(l *browser.Launcher) Opener {
	return OpenerFunc(func(ctx context.Context, opts browser.OpenOptions) (Session, error) {
		s, err := l.Open(ctx, opts)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
}

// ProxySource hands out proxies and takes health reports.
// *proxypool.Pool implements it.
type ProxySource interface {
	Acquire() (proxypool.Endpoint, bool)
	Report(id string, success bool)
}

// BlockDetector classifies loaded pages. *detect.SignatureDetector implements it.
type BlockDetector interface {
	detect.Detector
	EmptySERP(engine models.Engine, htmlLen int) (detect.Verdict, bool)
}

// JobSaver persists job records.
type JobSaver interface {
	Save(ctx context.Context, rec *models.JobRecord) error
}

// BlobPutter archives raw page HTML.
type BlobPutter interface {
	Put(ctx context.Context, key, html string) error
}

// CookieSource returns the stored cookies that may apply to host.
type CookieSource interface {
	CookiesFor(host string) []models.Cookie
}

// Enricher turns text into tags.
type Enricher interface {
	Tags(ctx context.Context, text string) ([]string, error)
}

// Notifier is told about every terminal record. It must not block.
type Notifier interface {
	Notify(rec *models.JobRecord)
}

// PageFetcher fetches pages without a browser. *fetch.Fetcher implements it.
type PageFetcher interface {
	Get(ctx context.Context, rawURL string) (*fetch.Result, error)
}

// Notifiers fans a record out to several notifiers.
type Notifiers []Notifier

func (ns Notifiers) Notify(rec *models.JobRecord) {
	for _, n := range ns {
		if n != nil {
			n.Notify(rec)
		}
	}
}
