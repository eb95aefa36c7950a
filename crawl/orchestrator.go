// Package crawl runs crawl jobs through the acquire, navigate, extract and
// retry state machine, and schedules them over a bounded worker pool.
package crawl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/cascadia"
	"github.com/use-agent/serpcrawl/browser"
	"github.com/use-agent/serpcrawl/config"
	"github.com/use-agent/serpcrawl/detect"
	"github.com/use-agent/serpcrawl/extract"
	"github.com/use-agent/serpcrawl/models"
	"github.com/use-agent/serpcrawl/proxypool"
)

// saveTimeout bounds each persistence call. Saves run on a context
// detached from the job so a canceled job still records its outcome.
const saveTimeout = 10 * time.Second

// Config controls the retry policy.
type Config struct {
	MaxAttempts int
	BaseBackoff time.Duration

	// RequireProxy fails jobs with PROXY_EXHAUSTED when the pool has no
	// enabled endpoint instead of connecting directly.
	RequireProxy bool

	// RetryEmptySERP retries results pages that parsed to zero entries.
	RetryEmptySERP bool

	// SettleDelay is the wait after a prepare script clicked something.
	SettleDelay time.Duration
}

// ConfigFrom builds a Config from application configuration.
func ConfigFrom(c config.CrawlConfig, p config.ProxyConfig) Config {
	return Config{
		MaxAttempts:    c.MaxAttempts,
		BaseBackoff:    c.BackoffBase,
		RequireProxy:   p.Required,
		RetryEmptySERP: c.RetryEmptySERP,
		SettleDelay:    2 * time.Second,
	}
}

// BrowserMemory remembers domains that need a real browser.
// *fetch.DomainMemory implements it.
type BrowserMemory interface {
	NeedsBrowser(domain string) bool
	MarkBrowser(domain string)
}

// Deps are the orchestrator's collaborators. Proxies, Opener and Store are
// required; the rest are optional.
type Deps struct {
	Proxies   ProxySource
	Opener    Opener
	Store     JobSaver
	Extractor *extract.Extractor
	Detector  BlockDetector
	Blobs     BlobPutter
	Cookies   CookieSource
	Enricher  Enricher
	Notifier  Notifier
	Fetcher   PageFetcher
	Memory    BrowserMemory
	Sleeper   Sleeper
	Observer  Observer
	Clock     func() time.Time
}

// Orchestrator runs jobs. It is safe for concurrent use; each Run owns its
// own session.
type Orchestrator struct {
	cfg  Config
	deps Deps
}

// New validates deps and fills defaults.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Proxies == nil:
		return nil, errors.New("crawl: proxy source is required")
	case deps.Opener == nil:
		return nil, errors.New("crawl: session opener is required")
	case deps.Store == nil:
		return nil, errors.New("crawl: job store is required")
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if deps.Extractor == nil {
		deps.Extractor = extract.New()
	}
	if deps.Detector == nil {
		deps.Detector = detect.NewSignatureDetector(detect.DefaultSignatures())
	}
	if deps.Sleeper == nil {
		deps.Sleeper = RealSleeper{}
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	return &Orchestrator{cfg: cfg, deps: deps}, nil
}

// run is the mutable state of one job.
type run struct {
	o         *Orchestrator
	ctx       context.Context
	job       models.CrawlJob
	rec       *models.JobRecord
	target    string
	selectors map[string]cascadia.Sel

	state   State
	entered time.Time
}

// outcome is the result of one attempt.
type outcome struct {
	result *models.JobResult
	html   string
	phase  State
	err    error
}

// Run drives job to a terminal state and returns the persisted record.
// Every opened session is closed before Run returns, including on
// cancellation of ctx.
func (o *Orchestrator) Run(ctx context.Context, job models.CrawlJob) *models.JobRecord {
	now := o.deps.Clock()
	r := &run{
		o:       o,
		ctx:     ctx,
		job:     job,
		rec:     &models.JobRecord{Job: job, Status: models.StatusPending, UpdatedAt: now},
		state:   StatePending,
		entered: now,
	}

	if err := job.Validate(); err != nil {
		return r.fail(err, nil)
	}
	selectors, err := extract.CompileSelectors(job.Selectors)
	if err != nil {
		return r.fail(models.NewCrawlError(models.ErrCodeInvalidInput, "invalid selectors", err), nil)
	}
	r.selectors = selectors
	if r.target, err = r.resolveTarget(); err != nil {
		return r.fail(err, nil)
	}

	r.rec.Status = models.StatusRunning
	r.save()

	var partial *models.JobResult
	for attempt := 1; ; attempt++ {
		r.rec.Attempts = attempt
		out := r.attempt()
		if !out.result.Empty() {
			partial = out.result
		}
		if out.err == nil {
			return r.complete(out)
		}

		code := models.CodeOf(out.err)
		if !models.Retryable(code) {
			return r.fail(out.err, partial)
		}

		r.enter(StateRetrying, code)
		r.rec.Reason = reasonOf(out.err)
		r.rec.ErrorCode = code
		r.save()

		delay := Backoff(o.cfg.BaseBackoff, attempt)
		slog.Warn("crawl: attempt failed",
			"job_id", job.ID,
			"engine", job.Engine,
			"attempt", attempt,
			"code", code,
			"backoff", delay,
			"error", reasonOf(out.err),
		)
		if err := o.deps.Sleeper.Sleep(ctx, delay); err != nil {
			return r.fail(models.NewCrawlError(models.ErrCodeCanceled, "canceled during backoff", err), partial)
		}
		if attempt >= o.cfg.MaxAttempts {
			return r.exhausted(out, partial)
		}
	}
}

func (r *run) resolveTarget() (string, error) {
	if r.job.Engine.IsSearch() {
		return extract.SearchURL(r.job.Engine, r.job.Keyword, r.job.Verbatim)
	}
	return r.job.URL, nil
}

// attempt performs Acquiring, Navigating and Extracting once. The session
// opened here is closed when it returns.
func (r *run) attempt() (out outcome) {
	o := r.o
	ctx := r.ctx

	// ── 1. Acquire proxy ──────────────────────────────────────────────
	r.enter(StateAcquiring, "")
	out.phase = StateAcquiring

	var proxy *proxypool.Endpoint
	if ep, ok := o.deps.Proxies.Acquire(); ok {
		proxy = &ep
	} else if o.cfg.RequireProxy {
		out.err = models.NewCrawlError(models.ErrCodeProxyExhausted, "no enabled proxy available", nil)
		return out
	}
	proxyID := ""
	if proxy != nil {
		proxyID = proxy.ID()
	}

	// ── 2. Open session ───────────────────────────────────────────────
	sess, err := o.deps.Opener.Open(ctx, r.openOptions(proxy))
	if err != nil {
		out.err = err
		return out
	}
	defer r.closeSession(sess)

	// ── 3. Navigate ───────────────────────────────────────────────────
	r.enter(StateNavigating, "")
	out.phase = StateNavigating
	page, err := sess.Navigate(ctx, r.target)
	if err != nil {
		r.report(proxyID, err)
		out.err = err
		return out
	}
	if err = r.checkBlocked(page); err != nil {
		r.report(proxyID, err)
		out.err = err
		return out
	}
	if script := extract.PrepareScript(r.job.Engine, r.job.Verbatim); script != "" && r.prepare(sess, script) {
		page.HTML = r.reread(sess, page.HTML)
		if err = r.checkBlocked(page); err != nil {
			r.report(proxyID, err)
			out.err = err
			return out
		}
	}

	// ── 4. Extract ────────────────────────────────────────────────────
	r.enter(StateExtracting, "")
	out.phase = StateExtracting
	sess.Humanize(ctx)

	out.result = &models.JobResult{ProxyID: proxyID}
	if r.job.Engine.IsSearch() {
		page.HTML = r.reread(sess, page.HTML)
		out.html = page.HTML
		err = r.extractSERP(sess, page, out.result)
	} else {
		out.html, err = r.extractDeep(sess, page, out.result)
	}
	if err != nil {
		if models.CodeOf(err) == models.ErrCodeNavBlocked {
			out.phase = StateNavigating
		}
		r.report(proxyID, err)
		out.err = err
		return out
	}

	if proxyID != "" {
		o.deps.Proxies.Report(proxyID, true)
	}
	return out
}

func (r *run) openOptions(proxy *proxypool.Endpoint) browser.OpenOptions {
	opts := browser.OpenOptions{
		Proxy:    proxy,
		Target:   r.target,
		Engine:   r.job.Engine,
		Detector: r.o.deps.Detector,
	}
	host := hostOf(r.target)
	if r.o.deps.Cookies != nil {
		opts.Cookies = r.o.deps.Cookies.CookiesFor(host)
	}
	if !r.job.Engine.IsSearch() && host != "" {
		opts.Headers = map[string]string{
			"Referer": "https://www.google.com/search?q=" + url.QueryEscape(host),
		}
	}
	return opts
}

// prepare runs the consent/verbatim script and reports whether it changed
// the page. Failures are logged only.
func (r *run) prepare(sess Session, script string) bool {
	raw, err := sess.Evaluate(r.ctx, script)
	if err != nil {
		slog.Debug("crawl: prepare script failed", "job_id", r.job.ID, "error", err)
		return false
	}
	var result string
	if json.Unmarshal(raw, &result) != nil || result == "" || result == extract.PrepareNone {
		return false
	}
	slog.Debug("crawl: prepare script changed the page", "job_id", r.job.ID, "result", result)
	_ = r.o.deps.Sleeper.Sleep(r.ctx, r.o.cfg.SettleDelay)
	return true
}

// checkBlocked runs the detector over a loaded page. Sessions may already
// have checked; the orchestrator does not rely on it.
func (r *run) checkBlocked(page detect.Page) error {
	if v, blocked := r.o.deps.Detector.Detect(r.job.Engine, page); blocked {
		return models.NewCrawlError(models.ErrCodeNavBlocked, "blocked by "+v.String(), nil)
	}
	return nil
}

// reread returns the live document, or prev when it cannot be read.
func (r *run) reread(sess Session, prev string) string {
	html, err := sess.HTML(r.ctx)
	if err != nil || html == "" {
		return prev
	}
	return html
}

func (r *run) extractSERP(sess Session, page detect.Page, res *models.JobResult) error {
	o := r.o
	set, err := o.deps.Extractor.SERP(r.ctx, sess, r.job.Engine, page.URL)
	if err != nil {
		return asExtraction(err)
	}
	res.SERP = set

	if len(set.Entries) == 0 {
		if v, blocked := o.deps.Detector.EmptySERP(r.job.Engine, len(page.HTML)); blocked {
			return models.NewCrawlError(models.ErrCodeNavBlocked, "blocked by "+v.String(), nil)
		}
		if o.cfg.RetryEmptySERP {
			return models.NewCrawlError(models.ErrCodeExtraction, "results page has no entries", nil)
		}
		return nil
	}

	if r.job.FollowFirst {
		res.FirstPage = r.followFirst(sess, set.Entries[0].Link)
	}
	return nil
}

func (r *run) extractDeep(sess Session, page detect.Page, res *models.JobResult) (string, error) {
	html, err := sess.HTML(r.ctx)
	if err != nil {
		return "", asExtraction(err)
	}
	deep, err := r.o.deps.Extractor.DeepFromHTML(html, page.URL)
	if err != nil {
		return html, asExtraction(err)
	}
	res.Deep = deep

	if len(r.selectors) > 0 {
		custom, err := extract.Custom(html, r.selectors)
		if err != nil {
			return html, models.NewCrawlError(models.ErrCodeExtraction, "custom selectors failed", err)
		}
		res.Custom = custom
	}
	return html, nil
}

// complete assembles and persists a successful record.
func (r *run) complete(out outcome) *models.JobRecord {
	r.archive(out.result, out.html)
	r.enrich(out.result)

	r.rec.Status = models.StatusCompleted
	r.rec.Result = out.result
	r.rec.Reason = ""
	r.rec.ErrorCode = ""
	r.enter(StateCompleted, "")
	return r.finish()
}

// exhausted fails a job whose attempt budget is spent. The code depends on
// where the last attempt failed.
func (r *run) exhausted(out outcome, partial *models.JobResult) *models.JobRecord {
	code := models.ErrCodeExhaustedRetries
	if out.phase == StateExtracting {
		code = models.ErrCodeExtraction
	}
	msg := fmt.Sprintf("gave up after %d attempts: %s", r.rec.Attempts, reasonOf(out.err))
	return r.fail(models.NewCrawlError(code, msg, out.err), partial)
}

func (r *run) fail(err error, partial *models.JobResult) *models.JobRecord {
	code := models.CodeOf(err)
	r.rec.Status = models.StatusFailed
	r.rec.ErrorCode = code
	r.rec.Reason = reasonOf(err)
	r.rec.Result = partial
	r.enter(StateFailed, code)
	slog.Warn("crawl: job failed",
		"job_id", r.job.ID,
		"engine", r.job.Engine,
		"attempts", r.rec.Attempts,
		"code", code,
		"reason", r.rec.Reason,
	)
	return r.finish()
}

func (r *run) finish() *models.JobRecord {
	now := r.o.deps.Clock()
	r.rec.UpdatedAt = now
	r.rec.FinishedAt = &now
	r.save()
	if r.o.deps.Notifier != nil {
		r.o.deps.Notifier.Notify(r.rec)
	}
	return r.rec
}

func (r *run) save() {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), saveTimeout)
	defer cancel()
	r.rec.UpdatedAt = r.o.deps.Clock()
	if err := r.o.deps.Store.Save(ctx, r.rec); err != nil {
		slog.Error("crawl: failed to save job record",
			"job_id", r.job.ID,
			"status", r.rec.Status,
			"error", err,
		)
	}
}

// enter records a state change and notifies the observer.
func (r *run) enter(to State, code string) {
	now := r.o.deps.Clock()
	t := Transition{
		JobID:   r.job.ID,
		Engine:  r.job.Engine,
		From:    r.state,
		To:      to,
		Attempt: r.rec.Attempts,
		Code:    code,
		Elapsed: now.Sub(r.entered),
	}
	r.state, r.entered = to, now
	slog.Debug("crawl: transition",
		"job_id", t.JobID,
		"from", t.From,
		"to", t.To,
		"attempt", t.Attempt,
	)
	if r.o.deps.Observer != nil {
		r.o.deps.Observer.OnTransition(t)
	}
}

// report marks the proxy unhealthy for failures a different proxy could fix.
func (r *run) report(proxyID string, err error) {
	if proxyID != "" && models.Retryable(models.CodeOf(err)) {
		r.o.deps.Proxies.Report(proxyID, false)
	}
}

func (r *run) closeSession(sess Session) {
	if err := sess.Close(); err != nil {
		slog.Warn("crawl: session close failed", "job_id", r.job.ID, "error", err)
	}
}

func (r *run) archive(res *models.JobResult, html string) {
	if r.o.deps.Blobs == nil || html == "" {
		return
	}
	key := fmt.Sprintf("%s/%s.html", r.job.Engine, r.job.ID)
	if err := r.o.deps.Blobs.Put(r.ctx, key, html); err != nil {
		slog.Warn("crawl: raw html upload failed", "job_id", r.job.ID, "key", key, "error", err)
		return
	}
	res.RawHTMLKey = key
}

// enrich attaches tags from the enrichment service. Failure is ignored.
func (r *run) enrich(res *models.JobResult) {
	if r.o.deps.Enricher == nil {
		return
	}
	text := enrichmentText(res)
	if text == "" {
		return
	}
	tags, err := r.o.deps.Enricher.Tags(r.ctx, text)
	if err != nil {
		slog.Warn("crawl: enrichment failed", "job_id", r.job.ID, "code", models.CodeOf(err), "error", err)
		return
	}
	res.Tags = tags
}

func enrichmentText(res *models.JobResult) string {
	switch {
	case res.Deep != nil && res.Deep.MainText != "":
		return res.Deep.MainText
	case res.SERP != nil:
		var b strings.Builder
		for _, e := range res.SERP.Entries {
			b.WriteString(e.Title)
			b.WriteString(". ")
			b.WriteString(e.Snippet)
			b.WriteByte('\n')
		}
		return strings.TrimSpace(b.String())
	}
	return ""
}

// asExtraction gives uncoded extraction errors the EXTRACTION_FAILED code.
func asExtraction(err error) error {
	var ce *models.CrawlError
	if errors.As(err, &ce) {
		return err
	}
	return models.NewCrawlError(models.ErrCodeExtraction, "extraction failed", err)
}

// reasonOf renders err for the record without the code prefix.
func reasonOf(err error) string {
	var ce *models.CrawlError
	if !errors.As(err, &ce) {
		return err.Error()
	}
	if ce.Err != nil {
		return ce.Message + ": " + ce.Err.Error()
	}
	return ce.Message
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
