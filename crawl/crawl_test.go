package crawl

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/use-agent/serpcrawl/browser"
	"github.com/use-agent/serpcrawl/detect"
	"github.com/use-agent/serpcrawl/extract"
	"github.com/use-agent/serpcrawl/fetch"
	"github.com/use-agent/serpcrawl/models"
	"github.com/use-agent/serpcrawl/proxypool"
)

const bingPayload = `{"v":1,"results":[{"title":"Example","link":"https://example.com/first","snippet":"An example page"}],"people_also_ask":[],"related":["example search"],"total_results":"About 10 results"}`

const emptyPayload = `{"v":1,"results":[],"people_also_ask":[],"related":[],"total_results":null}`

const articleHTML = `<html><head><title>Article</title><meta name="description" content="An article"></head>
<body><nav><a href="/">Home</a></nav><article><h1>Article</h1>
<p>This article has enough text in it to be picked up by the readability pass and kept as the main content of the page.</p>
<p>It carries a second paragraph so that the content block is clearly the densest part of the document body for every scorer.</p>
<p>A third paragraph pads the document further and mentions contact@example.com for the email extractor to find.</p>
</article></body></html>`

// fakeSession counts closes and serves canned responses.
type fakeSession struct {
	navigate func(url string) (detect.Page, error)
	eval     func(script string) (json.RawMessage, error)
	html     string

	mu       sync.Mutex
	visited  []string
	closes   atomic.Int32
	humanize atomic.Int32
}

func (s *fakeSession) Navigate(_ context.Context, url string) (detect.Page, error) {
	s.mu.Lock()
	s.visited = append(s.visited, url)
	s.mu.Unlock()
	if s.navigate != nil {
		return s.navigate(url)
	}
	return detect.Page{URL: url, HTML: s.html, StatusCode: 200}, nil
}

func (s *fakeSession) Humanize(context.Context) { s.humanize.Add(1) }

func (s *fakeSession) Evaluate(_ context.Context, script string) (json.RawMessage, error) {
	if s.eval != nil {
		return s.eval(script)
	}
	if strings.Contains(script, "people_also_ask") {
		return json.RawMessage(bingPayload), nil
	}
	return json.RawMessage(`"none"`), nil
}

func (s *fakeSession) HTML(context.Context) (string, error) { return s.html, nil }

func (s *fakeSession) Close() error {
	s.closes.Add(1)
	return nil
}

// fakeOpener builds sessions from newSession and records every open.
type fakeOpener struct {
	newSession func() *fakeSession
	err        error

	mu       sync.Mutex
	opts     []browser.OpenOptions
	sessions []*fakeSession
}

func (o *fakeOpener) Open(_ context.Context, opts browser.OpenOptions) (Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opts = append(o.opts, opts)
	if o.err != nil {
		return nil, o.err
	}
	s := o.newSession()
	o.sessions = append(o.sessions, s)
	return s, nil
}

type report struct {
	id      string
	success bool
}

type fakeProxies struct {
	endpoints []proxypool.Endpoint
	next      int
	reports   []report
}

func (p *fakeProxies) Acquire() (proxypool.Endpoint, bool) {
	if len(p.endpoints) == 0 {
		return proxypool.Endpoint{}, false
	}
	e := p.endpoints[p.next%len(p.endpoints)]
	p.next++
	return e, true
}

func (p *fakeProxies) Report(id string, success bool) {
	p.reports = append(p.reports, report{id, success})
}

type savedRecord struct {
	status   models.Status
	canceled bool
}

type fakeStore struct {
	mu    sync.Mutex
	saves []savedRecord
	last  models.JobRecord
}

func (s *fakeStore) Save(ctx context.Context, rec *models.JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves = append(s.saves, savedRecord{status: rec.Status, canceled: ctx.Err() != nil})
	s.last = *rec
	return nil
}

type fakeBlobs struct{ keys, bodies []string }

func (b *fakeBlobs) Put(_ context.Context, key, html string) error {
	b.keys = append(b.keys, key)
	b.bodies = append(b.bodies, html)
	return nil
}

type fakeNotifier struct{ recs []*models.JobRecord }

func (n *fakeNotifier) Notify(rec *models.JobRecord) { n.recs = append(n.recs, rec) }

type recordingSleeper struct{ delays []time.Duration }

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return ctx.Err()
}

type cookieJar []models.Cookie

func (j cookieJar) CookiesFor(string) []models.Cookie { return j }

type fakeFetcher struct {
	res   *fetch.Result
	err   error
	calls int
}

func (f *fakeFetcher) Get(context.Context, string) (*fetch.Result, error) {
	f.calls++
	return f.res, f.err
}

type fakeMemory map[string]bool

func (m fakeMemory) NeedsBrowser(d string) bool { return m[d] }
func (m fakeMemory) MarkBrowser(d string) { m[d] = true }

type harness struct {
	proxies  *fakeProxies
	opener   *fakeOpener
	store    *fakeStore
	blobs    *fakeBlobs
	notifier *fakeNotifier
	sleeper  *recordingSleeper
	states   []State
}

func newHarness(t *testing.T, cfg Config, newSession func() *fakeSession, mutate func(*Deps)) (*Orchestrator, *harness) {
	t.Helper()
	h := &harness{
		proxies: &fakeProxies{endpoints: []proxypool.Endpoint{
			{Scheme: "http", Host: "10.0.0.1", Port: 8080, Enabled: true},
			{Scheme: "http", Host: "10.0.0.2", Port: 8080, Enabled: true},
		}},
		opener:   &fakeOpener{newSession: newSession},
		store:    &fakeStore{},
		blobs:    &fakeBlobs{},
		notifier: &fakeNotifier{},
		sleeper:  &recordingSleeper{},
	}
	deps := Deps{
		Proxies:  h.proxies,
		Opener:   h.opener,
		Store:    h.store,
		Blobs:    h.blobs,
		Notifier: h.notifier,
		Sleeper:  h.sleeper,
		Observer: ObserverFunc(func(tr Transition) { h.states = append(h.states, tr.To) }),
	}
	if mutate != nil {
		mutate(&deps)
	}
	o, err := New(cfg, deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o, h
}

func (h *harness) assertClosed(t *testing.T) {
	t.Helper()
	for i, s := range h.opener.sessions {
		if n := s.closes.Load(); n != 1 {
			t.Errorf("session %d closed %d times, want 1", i, n)
		}
	}
}

func bingJob() models.CrawlJob {
	return models.CrawlJob{ID: "job-1", Keyword: "golang crawler", Engine: models.EngineBing, Verbatim: true}
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Config{}, Deps{}); err == nil {
		t.Fatal("New with no deps should fail")
	}
}

func TestRun_SearchSuccess(t *testing.T) {
	o, h := newHarness(t, Config{MaxAttempts: 3, BaseBackoff: time.Second},
		func() *fakeSession { return &fakeSession{html: "<html>results</html>"} }, nil)

	rec := o.Run(context.Background(), bingJob())

	if rec.Status != models.StatusCompleted {
		t.Fatalf("status = %s (%s), want completed", rec.Status, rec.Reason)
	}
	if rec.Attempts != 1 || rec.FinishedAt == nil {
		t.Errorf("attempts = %d, finished = %v", rec.Attempts, rec.FinishedAt)
	}
	if rec.Result == nil || rec.Result.SERP == nil || len(rec.Result.SERP.Entries) != 1 {
		t.Fatalf("result = %+v, want one entry", rec.Result)
	}
	if rec.Result.ProxyID != "10.0.0.1:8080" {
		t.Errorf("proxy id = %q", rec.Result.ProxyID)
	}

	want, _ := extract.SearchURL(models.EngineBing, "golang crawler", true)
	if got := h.opener.opts[0].Target; got != want {
		t.Errorf("target = %q, want %q", got, want)
	}
	if visited := h.opener.sessions[0].visited; len(visited) != 1 || visited[0] != want {
		t.Errorf("visited = %v", visited)
	}
	if h.opener.sessions[0].humanize.Load() != 1 {
		t.Error("session was not humanized")
	}

	if len(h.proxies.reports) != 1 || !h.proxies.reports[0].success {
		t.Errorf("reports = %+v, want one success", h.proxies.reports)
	}
	if len(h.blobs.keys) != 1 || h.blobs.keys[0] != "bing/job-1.html" || rec.Result.RawHTMLKey != "bing/job-1.html" {
		t.Errorf("blob keys = %v, record key = %q", h.blobs.keys, rec.Result.RawHTMLKey)
	}
	if len(h.notifier.recs) != 1 {
		t.Errorf("notified %d times, want 1", len(h.notifier.recs))
	}
	if h.store.last.Status != models.StatusCompleted || h.store.saves[0].status != models.StatusRunning {
		t.Errorf("saves = %+v", h.store.saves)
	}
	if len(h.sleeper.delays) != 0 {
		t.Errorf("slept %v on success", h.sleeper.delays)
	}

	wantStates := []State{StateAcquiring, StateNavigating, StateExtracting, StateCompleted}
	if len(h.states) != len(wantStates) {
		t.Fatalf("states = %v, want %v", h.states, wantStates)
	}
	for i := range wantStates {
		if h.states[i] != wantStates[i] {
			t.Errorf("states[%d] = %s, want %s", i, h.states[i], wantStates[i])
		}
	}
	h.assertClosed(t)
}

func TestRun_AlwaysBlocked(t *testing.T) {
	blocked := func() *fakeSession {
		return &fakeSession{navigate: func(url string) (detect.Page, error) {
			return detect.Page{URL: url}, models.NewCrawlError(models.ErrCodeNavBlocked, "blocked by signature", nil)
		}}
	}
	base := 100 * time.Millisecond
	o, h := newHarness(t, Config{MaxAttempts: 3, BaseBackoff: base}, blocked, nil)

	rec := o.Run(context.Background(), bingJob())

	if rec.Status != models.StatusFailed || rec.ErrorCode != models.ErrCodeExhaustedRetries {
		t.Fatalf("status = %s code = %s, want failed/%s", rec.Status, rec.ErrorCode, models.ErrCodeExhaustedRetries)
	}
	if rec.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", rec.Attempts)
	}
	if !strings.Contains(rec.Reason, "blocked") {
		t.Errorf("reason = %q", rec.Reason)
	}

	wantDelays := []time.Duration{base, 2 * base, 4 * base}
	if len(h.sleeper.delays) != len(wantDelays) {
		t.Fatalf("delays = %v, want %v", h.sleeper.delays, wantDelays)
	}
	for i, d := range wantDelays {
		if h.sleeper.delays[i] != d {
			t.Errorf("delay[%d] = %v, want %v", i, h.sleeper.delays[i], d)
		}
	}

	if len(h.opener.sessions) != 3 {
		t.Errorf("opened %d sessions, want 3", len(h.opener.sessions))
	}
	h.assertClosed(t)

	if len(h.proxies.reports) != 3 {
		t.Fatalf("reports = %+v, want 3 failures", h.proxies.reports)
	}
	for _, r := range h.proxies.reports {
		if r.success {
			t.Errorf("unexpected success report for %s", r.id)
		}
	}
	if h.proxies.reports[0].id == h.proxies.reports[1].id {
		t.Error("retry reused the same proxy")
	}
}

func TestRun_ProxyExhausted(t *testing.T) {
	o, h := newHarness(t, Config{MaxAttempts: 3, BaseBackoff: time.Second, RequireProxy: true},
		func() *fakeSession { return &fakeSession{} },
		func(d *Deps) { d.Proxies = &fakeProxies{} })

	rec := o.Run(context.Background(), bingJob())

	if rec.Status != models.StatusFailed || rec.ErrorCode != models.ErrCodeProxyExhausted {
		t.Fatalf("status = %s code = %s", rec.Status, rec.ErrorCode)
	}
	if rec.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", rec.Attempts)
	}
	if len(h.opener.opts) != 0 || len(h.sleeper.delays) != 0 {
		t.Errorf("opened %d sessions and slept %v", len(h.opener.opts), h.sleeper.delays)
	}
}

func TestRun_DirectWithoutProxy(t *testing.T) {
	proxies := &fakeProxies{}
	o, h := newHarness(t, Config{MaxAttempts: 1},
		func() *fakeSession { return &fakeSession{} },
		func(d *Deps) { d.Proxies = proxies })

	rec := o.Run(context.Background(), bingJob())

	if rec.Status != models.StatusCompleted {
		t.Fatalf("status = %s (%s)", rec.Status, rec.Reason)
	}
	if h.opener.opts[0].Proxy != nil {
		t.Errorf("proxy = %+v, want direct", h.opener.opts[0].Proxy)
	}
	if len(proxies.reports) != 0 {
		t.Errorf("reports = %+v, want none", proxies.reports)
	}
}

func TestRun_ExtractionFailedKeepsPartial(t *testing.T) {
	empty := func() *fakeSession {
		return &fakeSession{eval: func(script string) (json.RawMessage, error) {
			if strings.Contains(script, "people_also_ask") {
				return json.RawMessage(emptyPayload), nil
			}
			return json.RawMessage(`"none"`), nil
		}}
	}
	o, h := newHarness(t, Config{MaxAttempts: 2, BaseBackoff: time.Millisecond, RetryEmptySERP: true}, empty, nil)

	job := models.CrawlJob{ID: "job-2", Keyword: "nothing", Engine: models.EngineGoogle}
	rec := o.Run(context.Background(), job)

	if rec.Status != models.StatusFailed || rec.ErrorCode != models.ErrCodeExtraction {
		t.Fatalf("status = %s code = %s, want failed/%s", rec.Status, rec.ErrorCode, models.ErrCodeExtraction)
	}
	if rec.Result == nil || rec.Result.SERP == nil {
		t.Fatalf("partial result dropped: %+v", rec.Result)
	}
	if rec.Attempts != 2 || len(h.sleeper.delays) != 2 {
		t.Errorf("attempts = %d delays = %v", rec.Attempts, h.sleeper.delays)
	}
	h.assertClosed(t)
}

func TestRun_EmptySERPAccepted(t *testing.T) {
	empty := func() *fakeSession {
		return &fakeSession{eval: func(string) (json.RawMessage, error) { return json.RawMessage(emptyPayload), nil }}
	}
	o, _ := newHarness(t, Config{MaxAttempts: 3}, empty, nil)

	rec := o.Run(context.Background(), models.CrawlJob{ID: "job-3", Keyword: "rare", Engine: models.EngineGoogle})

	if rec.Status != models.StatusCompleted {
		t.Fatalf("status = %s (%s), want completed", rec.Status, rec.Reason)
	}
	if rec.Result.SERP == nil || len(rec.Result.SERP.Entries) != 0 {
		t.Errorf("serp = %+v", rec.Result.SERP)
	}
}

func TestRun_SmallEmptySERPIsBlocked(t *testing.T) {
	empty := func() *fakeSession {
		return &fakeSession{
			html: "<html></html>",
			eval: func(string) (json.RawMessage, error) { return json.RawMessage(emptyPayload), nil },
		}
	}
	o, h := newHarness(t, Config{MaxAttempts: 1, BaseBackoff: time.Millisecond}, empty, nil)

	rec := o.Run(context.Background(), bingJob())

	if rec.ErrorCode != models.ErrCodeExhaustedRetries {
		t.Fatalf("code = %s, want %s", rec.ErrorCode, models.ErrCodeExhaustedRetries)
	}
	if len(h.proxies.reports) != 1 || h.proxies.reports[0].success {
		t.Errorf("reports = %+v, want one failure", h.proxies.reports)
	}
}

func TestRun_BlockedPageWithoutNavigateError(t *testing.T) {
	tests := []struct {
		name string
		job  models.CrawlJob
		page detect.Page
	}{
		{
			name: "google captcha",
			job:  models.CrawlJob{ID: "job-g", Keyword: "golang", Engine: models.EngineGoogle},
			page: detect.Page{
				URL:        "https://www.google.com/sorry/index?continue=https://www.google.com/search",
				HTML:       `<html><body><form id="captcha-form">Our systems have detected unusual traffic from your computer network.</form></body></html>`,
				StatusCode: 200,
			},
		},
		{
			name: "cloudflare challenge",
			job:  models.CrawlJob{ID: "job-c", URL: "https://shop.example.com/item", Engine: models.EngineGeneric},
			page: detect.Page{
				URL:        "https://shop.example.com/item",
				Title:      "Just a moment...",
				HTML:       `<html><head><title>Just a moment...</title></head><body><div id="cf-chl-widget"></div></body></html>`,
				StatusCode: 200,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := func() *fakeSession {
				return &fakeSession{
					html:     tt.page.HTML,
					navigate: func(string) (detect.Page, error) { return tt.page, nil },
				}
			}
			o, h := newHarness(t, Config{MaxAttempts: 1, BaseBackoff: time.Millisecond}, session, nil)

			rec := o.Run(context.Background(), tt.job)

			if rec.Status != models.StatusFailed || rec.ErrorCode != models.ErrCodeExhaustedRetries {
				t.Fatalf("status = %s code = %s, want failed/%s", rec.Status, rec.ErrorCode, models.ErrCodeExhaustedRetries)
			}
			if !strings.Contains(rec.Reason, "blocked") {
				t.Errorf("reason = %q", rec.Reason)
			}
			if len(h.proxies.reports) != 1 || h.proxies.reports[0].success {
				t.Errorf("reports = %+v, want one failure", h.proxies.reports)
			}
			for _, st := range h.states {
				if st == StateExtracting {
					t.Errorf("states = %v, blocked page reached extraction", h.states)
				}
			}
			if len(h.blobs.keys) != 0 {
				t.Errorf("archived %v for a blocked page", h.blobs.keys)
			}
			h.assertClosed(t)
		})
	}
}

func TestRun_BlockedAfterPrepare(t *testing.T) {
	captcha := `<html><body><div class="g-recaptcha"></div></body></html>`
	session := func() *fakeSession {
		return &fakeSession{
			html: captcha,
			navigate: func(url string) (detect.Page, error) {
				return detect.Page{URL: url, HTML: "<html>consent</html>", StatusCode: 200}, nil
			},
			eval: func(string) (json.RawMessage, error) { return json.RawMessage(`"consent"`), nil },
		}
	}
	settle := 2 * time.Second
	o, h := newHarness(t, Config{MaxAttempts: 1, BaseBackoff: time.Millisecond, SettleDelay: settle}, session, nil)

	rec := o.Run(context.Background(), models.CrawlJob{ID: "job-p", Keyword: "golang", Engine: models.EngineGoogle})

	if rec.ErrorCode != models.ErrCodeExhaustedRetries || !strings.Contains(rec.Reason, "blocked") {
		t.Fatalf("code = %s reason = %q, want blocked", rec.ErrorCode, rec.Reason)
	}
	if len(h.sleeper.delays) != 2 || h.sleeper.delays[0] != settle {
		t.Errorf("delays = %v, want settle %v then backoff", h.sleeper.delays, settle)
	}
	if len(h.proxies.reports) != 1 || h.proxies.reports[0].success {
		t.Errorf("reports = %+v, want one failure", h.proxies.reports)
	}
}

func TestRun_PrepareSettlesThroughSleeper(t *testing.T) {
	session := func() *fakeSession {
		return &fakeSession{
			html: "<html>results</html>",
			eval: func(script string) (json.RawMessage, error) {
				if strings.Contains(script, "people_also_ask") {
					return json.RawMessage(bingPayload), nil
				}
				return json.RawMessage(`"verbatim"`), nil
			},
		}
	}
	settle := 1500 * time.Millisecond
	o, h := newHarness(t, Config{MaxAttempts: 1, SettleDelay: settle}, session, nil)

	rec := o.Run(context.Background(), bingJob())

	if rec.Status != models.StatusCompleted {
		t.Fatalf("status = %s (%s), want completed", rec.Status, rec.Reason)
	}
	if len(h.sleeper.delays) != 1 || h.sleeper.delays[0] != settle {
		t.Errorf("delays = %v, want [%v]", h.sleeper.delays, settle)
	}
}

func TestRun_SERPUsesLiveHTML(t *testing.T) {
	t.Run("archived document", func(t *testing.T) {
		session := func() *fakeSession {
			return &fakeSession{
				html: "<html>results</html>",
				navigate: func(url string) (detect.Page, error) {
					return detect.Page{URL: url, HTML: "<html>loading</html>", StatusCode: 200}, nil
				},
			}
		}
		o, h := newHarness(t, Config{MaxAttempts: 1}, session, nil)

		rec := o.Run(context.Background(), bingJob())

		if rec.Status != models.StatusCompleted {
			t.Fatalf("status = %s (%s)", rec.Status, rec.Reason)
		}
		if len(h.blobs.bodies) != 1 || h.blobs.bodies[0] != "<html>results</html>" {
			t.Errorf("archived %q, want the live document", h.blobs.bodies)
		}
	})

	t.Run("empty results size check", func(t *testing.T) {
		session := func() *fakeSession {
			return &fakeSession{
				html: "<html></html>",
				navigate: func(url string) (detect.Page, error) {
					return detect.Page{URL: url, HTML: "<html>" + strings.Repeat("x", 60000) + "</html>", StatusCode: 200}, nil
				},
				eval: func(string) (json.RawMessage, error) { return json.RawMessage(emptyPayload), nil },
			}
		}
		o, _ := newHarness(t, Config{MaxAttempts: 1, BaseBackoff: time.Millisecond}, session, nil)

		rec := o.Run(context.Background(), bingJob())

		if rec.ErrorCode != models.ErrCodeExhaustedRetries {
			t.Errorf("code = %s, want %s from the live document size", rec.ErrorCode, models.ErrCodeExhaustedRetries)
		}
	})
}

func TestRun_RetryThenSuccess(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"script error", models.NewCrawlError(models.ErrCodeScript, "evaluate failed", nil)},
		{"network error", models.NewCrawlError(models.ErrCodeNavNetwork, "connection reset", nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opened := 0
			session := func() *fakeSession {
				opened++
				if opened > 1 {
					return &fakeSession{html: "<html>results</html>"}
				}
				return &fakeSession{navigate: func(url string) (detect.Page, error) {
					return detect.Page{URL: url}, tt.err
				}}
			}
			base := 250 * time.Millisecond
			o, h := newHarness(t, Config{MaxAttempts: 3, BaseBackoff: base}, session, nil)

			rec := o.Run(context.Background(), bingJob())

			if rec.Status != models.StatusCompleted {
				t.Fatalf("status = %s (%s), want completed", rec.Status, rec.Reason)
			}
			if rec.Attempts != 2 {
				t.Errorf("attempts = %d, want 2", rec.Attempts)
			}
			if len(h.sleeper.delays) != 1 || h.sleeper.delays[0] != base {
				t.Errorf("delays = %v, want [%v]", h.sleeper.delays, base)
			}
			want := []report{{"10.0.0.1:8080", false}, {"10.0.0.2:8080", true}}
			if len(h.proxies.reports) != len(want) {
				t.Fatalf("reports = %+v, want %+v", h.proxies.reports, want)
			}
			for i := range want {
				if h.proxies.reports[i] != want[i] {
					t.Errorf("reports[%d] = %+v, want %+v", i, h.proxies.reports[i], want[i])
				}
			}
			if len(h.opener.sessions) != 2 {
				t.Errorf("opened %d sessions, want 2", len(h.opener.sessions))
			}
			h.assertClosed(t)

			retried := false
			for _, st := range h.states {
				if st == StateRetrying {
					retried = true
				}
			}
			if !retried {
				t.Errorf("states = %v, want a retry", h.states)
			}
		})
	}
}

func TestRun_GenericWithCookies(t *testing.T) {
	jar := cookieJar{
		{Name: "sid", Value: "a", Domain: "example.com"},
		{Name: "other", Value: "b", Domain: "example.org"},
	}
	o, h := newHarness(t, Config{MaxAttempts: 1},
		func() *fakeSession { return &fakeSession{html: articleHTML} },
		func(d *Deps) { d.Cookies = jar })

	job := models.CrawlJob{
		ID:        "job-4",
		URL:       "https://www.example.com/post",
		Engine:    models.EngineGeneric,
		Selectors: map[string]string{"heading": "h1"},
	}
	rec := o.Run(context.Background(), job)

	if rec.Status != models.StatusCompleted {
		t.Fatalf("status = %s (%s)", rec.Status, rec.Reason)
	}
	opts := h.opener.opts[0]
	scoped := browser.ScopeCookies(opts.Target, opts.Cookies)
	if len(scoped) != 1 || scoped[0].Name != "sid" {
		t.Errorf("scoped cookies = %+v, want only sid", scoped)
	}
	if ref := opts.Headers["Referer"]; !strings.Contains(ref, "www.example.com") {
		t.Errorf("referer = %q", ref)
	}
	if rec.Result.Deep == nil || len(rec.Result.Deep.Emails) != 1 {
		t.Fatalf("deep = %+v", rec.Result.Deep)
	}
	if got := rec.Result.Custom["heading"]; len(got) != 1 || got[0] != "Article" {
		t.Errorf("custom heading = %v", got)
	}
	if h.blobs.keys[0] != "generic/job-4.html" {
		t.Errorf("blob key = %q", h.blobs.keys[0])
	}
}

func TestRun_InvalidJob(t *testing.T) {
	o, h := newHarness(t, Config{MaxAttempts: 3}, func() *fakeSession { return &fakeSession{} }, nil)

	tests := []struct {
		name string
		job  models.CrawlJob
	}{
		{"missing keyword", models.CrawlJob{ID: "a", Engine: models.EngineBing}},
		{"relative url", models.CrawlJob{ID: "b", Engine: models.EngineGeneric, URL: "/path"}},
		{"bad selector", models.CrawlJob{ID: "c", Engine: models.EngineGeneric, URL: "https://example.com", Selectors: map[string]string{"x": "a[["}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := o.Run(context.Background(), tt.job)
			if rec.Status != models.StatusFailed || rec.ErrorCode != models.ErrCodeInvalidInput {
				t.Errorf("status = %s code = %s", rec.Status, rec.ErrorCode)
			}
		})
	}
	if len(h.opener.opts) != 0 {
		t.Errorf("opened %d sessions for invalid jobs", len(h.opener.opts))
	}
}

func TestRun_LaunchFailure(t *testing.T) {
	o, h := newHarness(t, Config{MaxAttempts: 3}, nil, nil)
	h.opener.err = models.NewCrawlError(models.ErrCodeBrowserLaunch, "no chrome", nil)

	rec := o.Run(context.Background(), bingJob())

	if rec.ErrorCode != models.ErrCodeBrowserLaunch || rec.Attempts != 1 {
		t.Errorf("code = %s attempts = %d", rec.ErrorCode, rec.Attempts)
	}
	if len(h.proxies.reports) != 0 {
		t.Errorf("launch failure reported against proxy: %+v", h.proxies.reports)
	}
}

func TestRun_CanceledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	o, h := newHarness(t, Config{MaxAttempts: 3, BaseBackoff: time.Second},
		func() *fakeSession {
			return &fakeSession{navigate: func(url string) (detect.Page, error) {
				return detect.Page{}, models.NewCrawlError(models.ErrCodeNavTimeout, "navigation timed out", nil)
			}}
		},
		func(d *Deps) {
			d.Sleeper = SleeperFunc(func(ctx context.Context, _ time.Duration) error {
				cancel()
				return ctx.Err()
			})
		})

	rec := o.Run(ctx, bingJob())

	if rec.Status != models.StatusFailed || rec.ErrorCode != models.ErrCodeCanceled {
		t.Fatalf("status = %s code = %s", rec.Status, rec.ErrorCode)
	}
	if h.store.last.Status != models.StatusFailed {
		t.Errorf("terminal record not saved: %+v", h.store.last)
	}
	for _, s := range h.store.saves {
		if s.canceled {
			t.Error("save ran on a canceled context")
		}
	}
	h.assertClosed(t)
}

func TestRun_FollowFirstFetched(t *testing.T) {
	fetcher := &fakeFetcher{res: &fetch.Result{HTML: articleHTML, Title: "Article", StatusCode: 200, FinalURL: "https://example.com/first"}}
	mem := fakeMemory{}
	o, h := newHarness(t, Config{MaxAttempts: 1},
		func() *fakeSession { return &fakeSession{} },
		func(d *Deps) {
			d.Fetcher = fetcher
			d.Memory = mem
		})

	job := bingJob()
	job.FollowFirst = true
	rec := o.Run(context.Background(), job)

	if rec.Result.FirstPage == nil || rec.Result.FirstPage.URL != "https://example.com/first" {
		t.Fatalf("first page = %+v", rec.Result.FirstPage)
	}
	if fetcher.calls != 1 || mem["example.com"] {
		t.Errorf("fetch calls = %d, memory = %v", fetcher.calls, mem)
	}
	if n := len(h.opener.sessions[0].visited); n != 1 {
		t.Errorf("session visited %d pages, want 1", n)
	}
}

func TestRun_FollowFirstFallsBackToBrowser(t *testing.T) {
	fetcher := &fakeFetcher{err: fetch.ErrNotHTML}
	mem := fakeMemory{}
	o, h := newHarness(t, Config{MaxAttempts: 1},
		func() *fakeSession { return &fakeSession{html: articleHTML} },
		func(d *Deps) {
			d.Fetcher = fetcher
			d.Memory = mem
		})

	job := bingJob()
	job.FollowFirst = true
	rec := o.Run(context.Background(), job)

	if rec.Status != models.StatusCompleted || rec.Result.FirstPage == nil {
		t.Fatalf("status = %s first page = %+v", rec.Status, rec.Result.FirstPage)
	}
	if !mem["example.com"] {
		t.Error("domain not remembered as needing a browser")
	}
	visited := h.opener.sessions[0].visited
	if len(visited) != 2 || visited[1] != "https://example.com/first" {
		t.Errorf("visited = %v", visited)
	}

	// The remembered domain skips the fetcher next time.
	o.Run(context.Background(), job)
	if fetcher.calls != 1 {
		t.Errorf("fetch calls = %d, want 1", fetcher.calls)
	}
}

func TestRun_FollowFirstFailureIsNotFatal(t *testing.T) {
	calls := 0
	session := func() *fakeSession {
		return &fakeSession{navigate: func(url string) (detect.Page, error) {
			calls++
			if calls > 1 {
				return detect.Page{}, errors.New("connection reset")
			}
			return detect.Page{URL: url, StatusCode: 200}, nil
		}}
	}
	o, _ := newHarness(t, Config{MaxAttempts: 1}, session, nil)

	job := bingJob()
	job.FollowFirst = true
	rec := o.Run(context.Background(), job)

	if rec.Status != models.StatusCompleted || rec.Result.FirstPage != nil {
		t.Errorf("status = %s first page = %+v", rec.Status, rec.Result.FirstPage)
	}
}

type staticEnricher struct{ err error }

func (e staticEnricher) Tags(context.Context, string) ([]string, error) {
	if e.err != nil {
		return nil, e.err
	}
	return []string{"go", "crawling"}, nil
}

func TestRun_Enrichment(t *testing.T) {
	tests := []struct {
		name     string
		enricher Enricher
		want     int
	}{
		{"tags attached", staticEnricher{}, 2},
		{"failure ignored", staticEnricher{err: errors.New("llm down")}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, _ := newHarness(t, Config{MaxAttempts: 1},
				func() *fakeSession { return &fakeSession{} },
				func(d *Deps) { d.Enricher = tt.enricher })
			rec := o.Run(context.Background(), bingJob())
			if rec.Status != models.StatusCompleted {
				t.Fatalf("status = %s", rec.Status)
			}
			if len(rec.Result.Tags) != tt.want {
				t.Errorf("tags = %v, want %d", rec.Result.Tags, tt.want)
			}
		})
	}
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
	}
	for _, tt := range tests {
		if got := Backoff(time.Second, tt.attempt); got != tt.want {
			t.Errorf("Backoff(1s, %d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRealSleeper_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := (RealSleeper{}).Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestObservers(t *testing.T) {
	var a, b int
	obs := Observers{
		ObserverFunc(func(Transition) { a++ }),
		nil,
		ObserverFunc(func(Transition) { b++ }),
	}
	obs.OnTransition(Transition{To: StateCompleted})
	if a != 1 || b != 1 {
		t.Errorf("a = %d b = %d", a, b)
	}
	if !StateFailed.Terminal() || StateRetrying.Terminal() {
		t.Error("terminal states wrong")
	}
}
