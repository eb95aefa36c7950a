// Package browser owns one stealth Chromium process per crawl attempt.
//
// A Session is never shared: it is opened for one job attempt, routed
// through at most one proxy, and closed exactly once on every exit path.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/use-agent/serpcrawl/config"
	"github.com/use-agent/serpcrawl/detect"
	"github.com/use-agent/serpcrawl/models"
	"github.com/use-agent/serpcrawl/proxypool"
	"github.com/ysmood/gson"
)

// OpenOptions configures one session.
type OpenOptions struct {
	// Proxy routes all traffic; nil connects directly.
	Proxy *proxypool.Endpoint

	// Target is the first navigation URL. Cookies are scoped against it.
	Target string

	// Cookies are candidate credentials; only those matching Target are set.
	Cookies []models.Cookie

	// Headers are sent with every request.
	Headers map[string]string

	// Engine and Detector classify loaded pages as blocked.
	Engine   models.Engine
	Detector detect.Detector
}

// Launcher starts sessions. It is safe for concurrent use.
type Launcher struct {
	cfg config.BrowserConfig

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewLauncher returns a launcher for cfg.
func NewLauncher(cfg config.BrowserConfig) *Launcher {
	return &Launcher{
		cfg: cfg,
		rnd: rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64())),
	}
}

// Session is one browser process positioned on at most one page.
type Session struct {
	cfg      config.BrowserConfig
	proc     *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	profile  Profile
	rnd      *rand.Rand
	engine   models.Engine
	detector detect.Detector
	cookies  int

	stopEvents context.CancelFunc
	closeOnce  sync.Once
	closeErr   error
}

// Open launches a browser for opts. On error nothing is left running.
//
// Lifecycle:
//
//  1. Launch          – fresh process with stealth flags and the proxy
//  2. Connect         – control connection to the new process
//  3. Interception    – resource blocking and proxy credentials
//  4. Page            – single tab for the whole session
//  5. Identity        – user agent, viewport, stealth scripts
//  6. Headers/cookies – scoped to the target before navigating
func (l *Launcher) Open(ctx context.Context, opts OpenOptions) (*Session, error) {
	l.mu.Lock()
	profile := RandomProfile(l.rnd)
	rnd := rand.New(rand.NewPCG(l.rnd.Uint64(), l.rnd.Uint64()))
	l.mu.Unlock()

	// ── 1. Launch ─────────────────────────────────────────────────────
	proc := launcher.New().
		Headless(l.cfg.Headless).
		NoSandbox(l.cfg.NoSandbox).
		Leakless(true)
	if l.cfg.BrowserBin != "" {
		proc = proc.Bin(l.cfg.BrowserBin)
	}

	var auth *credentials
	if opts.Proxy != nil {
		proc = proc.Proxy(opts.Proxy.ServerURL())
		if opts.Proxy.HasAuth() {
			auth = &credentials{username: opts.Proxy.Username, password: opts.Proxy.Password}
		}
	}

	proc.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	proc.Delete(flags.Flag("enable-automation"))
	proc.Set(flags.Flag("disable-features"), "AudioServiceOutOfProcess,TranslateUI")
	proc.Set(flags.Flag("disable-popup-blocking"))
	proc.Set(flags.Flag("disable-renderer-backgrounding"))
	proc.Set(flags.Flag("disable-background-timer-throttling"))
	proc.Set(flags.Flag("disable-backgrounding-occluded-windows"))
	proc.Set(flags.Flag("disable-component-update"))
	proc.Set(flags.Flag("disable-default-apps"))
	proc.Set(flags.Flag("disable-dev-shm-usage"))
	proc.Set(flags.Flag("disable-extensions"))
	proc.Set(flags.Flag("no-first-run"))
	proc.Set(flags.Flag("lang"), "en-US")
	proc.Set(flags.Flag("user-agent"), profile.UserAgent)

	controlURL, err := proc.Launch()
	if err != nil {
		proc.Kill()
		return nil, models.NewCrawlError(models.ErrCodeBrowserLaunch, "failed to launch browser", err)
	}

	s := &Session{
		cfg:      l.cfg,
		proc:     proc,
		profile:  profile,
		rnd:      rnd,
		engine:   opts.Engine,
		detector: opts.Detector,
	}

	// ── 2. Connect ────────────────────────────────────────────────────
	s.browser = rod.New().ControlURL(controlURL)
	if err := s.browser.Connect(); err != nil {
		s.teardown()
		return nil, models.NewCrawlError(models.ErrCodeBrowserLaunch, "failed to connect to browser", err)
	}

	// ── 3. Interception ───────────────────────────────────────────────
	eventCtx, stop := context.WithCancel(context.Background())
	s.stopEvents = stop
	icpt := newInterceptor(l.cfg.BlockedResourceTypes, l.cfg.BlockAds, auth)
	if err := icpt.start(eventCtx, s.browser); err != nil {
		s.teardown()
		return nil, models.NewCrawlError(models.ErrCodeBrowserLaunch, "failed to enable request interception", err)
	}

	// ── 4. Page ───────────────────────────────────────────────────────
	page, err := s.browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		s.teardown()
		return nil, models.NewCrawlError(models.ErrCodeBrowserLaunch, "failed to open page", err)
	}
	s.page = page

	// ── 5. Identity ───────────────────────────────────────────────────
	if err := s.applyProfile(); err != nil {
		s.teardown()
		return nil, models.NewCrawlError(models.ErrCodeBrowserLaunch, "failed to apply browser profile", err)
	}

	// ── 6. Headers and cookies ────────────────────────────────────────
	if len(opts.Headers) > 0 {
		if err := (proto.NetworkSetExtraHTTPHeaders{Headers: toHeadersMap(opts.Headers)}).Call(page); err != nil {
			slog.Warn("browser: extra headers rejected", "error", err)
		}
	}
	for _, c := range ScopeCookies(opts.Target, opts.Cookies) {
		if _, err := (proto.NetworkSetCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}).Call(page); err != nil {
			slog.Warn("browser: cookie rejected", "name", c.Name, "domain", c.Domain, "error", err)
			continue
		}
		s.cookies++
	}

	proxyID := ""
	if opts.Proxy != nil {
		proxyID = opts.Proxy.ID()
	}
	slog.Debug("browser session opened",
		"proxy", proxyID,
		"cookies", s.cookies,
		"userAgent", profile.UserAgent,
	)
	return s, nil
}

func (s *Session) applyProfile() error {
	if err := (proto.NetworkSetUserAgentOverride{
		UserAgent:      s.profile.UserAgent,
		AcceptLanguage: s.profile.AcceptLanguage,
		Platform:       s.profile.Platform,
	}).Call(s.page); err != nil {
		return err
	}
	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             s.profile.Viewport.Width,
		Height:            s.profile.Viewport.Height,
		DeviceScaleFactor: 1,
	}).Call(s.page); err != nil {
		return err
	}
	if _, err := s.page.EvalOnNewDocument(stealth.JS); err != nil {
		return err
	}
	_, err := s.page.EvalOnNewDocument(fingerprintScript(s.profile))
	return err
}

// Navigate loads rawURL and waits for the load event and a stable DOM.
// A page matching a block signature yields the page and an ErrCodeNavBlocked
// error so the caller can still inspect what was served.
func (s *Session) Navigate(ctx context.Context, rawURL string) (detect.Page, error) {
	navCtx, cancel := context.WithTimeout(ctx, s.cfg.NavTimeout)
	defer cancel()
	p := s.page.Context(navCtx)

	if err := p.Navigate(rawURL); err != nil {
		return detect.Page{}, navError(err, "navigation failed")
	}
	if err := p.WaitLoad(); err != nil {
		return detect.Page{}, navError(err, "page did not finish loading")
	}
	if err := p.WaitDOMStable(300*time.Millisecond, 0.1); err != nil {
		slog.Debug("WaitDOMStable did not converge, proceeding with current DOM", "error", err)
	}

	page := detect.Page{URL: rawURL}
	if res, err := p.Eval(`() => {
		try {
			const entries = performance.getEntriesByType("navigation");
			if (entries.length > 0) return entries[0].responseStatus || 0;
		} catch (e) {}
		return 0;
	}`); err == nil {
		page.StatusCode = res.Value.Int()
	}

	html, err := p.HTML()
	if err != nil {
		return detect.Page{}, navError(err, "failed to read page HTML")
	}
	page.HTML = html
	page.Title = evalStringOrEmpty(p, `() => document.title`)
	if final := evalStringOrEmpty(p, `() => window.location.href`); final != "" {
		page.URL = final
	}

	if s.detector != nil {
		if v, blocked := s.detector.Detect(s.engine, page); blocked {
			return page, models.NewCrawlError(models.ErrCodeNavBlocked, "blocked by "+v.String(), nil)
		}
	}
	return page, nil
}

// Evaluate runs script, a JS function expression, and returns its JSON value.
func (s *Session) Evaluate(ctx context.Context, script string) (json.RawMessage, error) {
	evalCtx, cancel := context.WithTimeout(ctx, s.cfg.EvalTimeout)
	defer cancel()

	res, err := s.page.Context(evalCtx).Eval(script)
	if err != nil {
		return nil, evalError(err)
	}
	return json.RawMessage(res.Value.JSON("", "")), nil
}

// HTML returns the current serialized DOM.
func (s *Session) HTML(ctx context.Context) (string, error) {
	evalCtx, cancel := context.WithTimeout(ctx, s.cfg.EvalTimeout)
	defer cancel()

	html, err := s.page.Context(evalCtx).HTML()
	if err != nil {
		return "", evalError(err)
	}
	return html, nil
}

// Close terminates the browser process. Only the first call has effect;
// later calls return the first result.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.teardown()
	})
	return s.closeErr
}

func (s *Session) teardown() error {
	if s.stopEvents != nil {
		s.stopEvents()
	}
	var err error
	if s.browser != nil {
		if closeErr := s.browser.Close(); closeErr != nil {
			err = models.NewCrawlError(models.ErrCodeInternal, "failed to close browser", closeErr)
		}
	}
	s.proc.Kill()
	s.proc.Cleanup()
	return err
}

// evalStringOrEmpty evaluates a JS expression and returns the string result,
// swallowing any errors.
func evalStringOrEmpty(page *rod.Page, js string) string {
	res, err := page.Eval(js)
	if err != nil {
		return ""
	}
	return res.Value.Str()
}

// toHeadersMap converts a plain string map to proto.NetworkHeaders.
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}

// navError classifies navigation failures.
func navError(err error, msg string) *models.CrawlError {
	var navErr *rod.NavigationError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewCrawlError(models.ErrCodeNavTimeout, "navigation timed out", err)
	case errors.Is(err, context.Canceled):
		return models.NewCrawlError(models.ErrCodeCanceled, "navigation canceled", err)
	case errors.As(err, &navErr):
		return models.NewCrawlError(models.ErrCodeNavNetwork, msg+": "+navErr.Reason, err)
	default:
		return models.NewCrawlError(models.ErrCodeNavNetwork, msg, err)
	}
}

// evalError classifies script evaluation failures.
func evalError(err error) *models.CrawlError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewCrawlError(models.ErrCodeScript, "script timed out", err)
	case errors.Is(err, context.Canceled):
		return models.NewCrawlError(models.ErrCodeCanceled, "script canceled", err)
	default:
		return models.NewCrawlError(models.ErrCodeScript, "script failed", err)
	}
}
