package crawl

import (
	"log/slog"

	"github.com/use-agent/serpcrawl/detect"
	"github.com/use-agent/serpcrawl/extract"
	"github.com/use-agent/serpcrawl/models"
)

// followFirst deep-extracts the first result. The plain fetcher is tried
// first unless the domain is known to need a browser; the session already
// open for the job is the fallback. A failure leaves FirstPage empty and
// never fails the job.
func (r *run) followFirst(sess Session, link string) *models.DeepExtraction {
	o := r.o
	host := hostOf(link)

	if o.deps.Fetcher != nil && (o.deps.Memory == nil || !o.deps.Memory.NeedsBrowser(host)) {
		if deep, ok := r.fetchFirst(link); ok {
			return deep
		}
		if o.deps.Memory != nil {
			o.deps.Memory.MarkBrowser(host)
		}
	}

	page, err := sess.Navigate(r.ctx, link)
	if err != nil {
		slog.Warn("crawl: first result unreachable", "job_id", r.job.ID, "url", link, "error", err)
		return nil
	}
	deep, err := o.deps.Extractor.Deep(r.ctx, sess, page.URL)
	if err != nil {
		slog.Warn("crawl: first result extraction failed", "job_id", r.job.ID, "url", link, "error", err)
		return nil
	}
	return deep
}

// fetchFirst reports false when the fetched page is blocked or looks like a
// script-rendered shell.
func (r *run) fetchFirst(link string) (*models.DeepExtraction, bool) {
	o := r.o
	res, err := o.deps.Fetcher.Get(r.ctx, link)
	if err != nil {
		slog.Debug("crawl: fetch fallback to browser", "url", link, "error", err)
		return nil, false
	}
	page := detect.Page{URL: res.FinalURL, Title: res.Title, HTML: res.HTML, StatusCode: res.StatusCode}
	if v, blocked := o.deps.Detector.Detect(models.EngineGeneric, page); blocked {
		slog.Debug("crawl: fetched page blocked", "url", link, "verdict", v.String())
		return nil, false
	}
	deep, err := o.deps.Extractor.DeepFromHTML(res.HTML, res.FinalURL)
	if err != nil {
		return nil, false
	}
	if deep.TextSource == extract.SourceBody && len(deep.MainText) < minFetchedText {
		return nil, false
	}
	return deep, true
}

// minFetchedText is the body text below which a fetched page is assumed to
// need scripts.
const minFetchedText = 200
