package browser

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// resourceTypes maps config names to protocol resource types.
var resourceTypes = map[string]proto.NetworkResourceType{
	"Image":      proto.NetworkResourceTypeImage,
	"Stylesheet": proto.NetworkResourceTypeStylesheet,
	"Font":       proto.NetworkResourceTypeFont,
	"Media":      proto.NetworkResourceTypeMedia,
	"Script":     proto.NetworkResourceTypeScript,
}

// adDomains is the set of ad and tracking domains failed when BlockAds is on.
var adDomains = map[string]struct{}{
	"doubleclick.net":       {},
	"googlesyndication.com": {},
	"googleadservices.com":  {},
	"google-analytics.com":  {},
	"googletagmanager.com":  {},
	"googletagservices.com": {},
	"facebook.net":          {},
	"adnxs.com":             {},
	"adsrvr.org":            {},
	"amazon-adsystem.com":   {},
	"criteo.com":            {},
	"criteo.net":            {},
	"outbrain.com":          {},
	"taboola.com":           {},
	"moatads.com":           {},
	"pubmatic.com":          {},
	"rubiconproject.com":    {},
	"scorecardresearch.com": {},
	"quantserve.com":        {},
	"hotjar.com":            {},
	"mixpanel.com":          {},
	"segment.io":            {},
	"analytics.twitter.com": {},
	"ads-twitter.com":       {},
	"chartbeat.com":         {},
	"media.net":             {},
	"openx.net":             {},
	"casalemedia.com":       {},
	"demdex.net":            {},
	"krxd.net":              {},
	"bat.bing.com":          {},
	"clarity.ms":            {},
	"consensu.org":          {},
}

// isAdDomain checks host and each parent domain against the blocklist.
func isAdDomain(host string) bool {
	host = strings.ToLower(host)
	for {
		if _, ok := adDomains[host]; ok {
			return true
		}
		idx := strings.IndexByte(host, '.')
		if idx < 0 {
			return false
		}
		host = host[idx+1:]
	}
}

// credentials answer proxy authentication challenges.
type credentials struct {
	username string
	password string
}

// interceptor owns the browser-wide Fetch domain. It fails blocked
// resources and answers proxy auth challenges, which Chrome does not accept
// inline in the --proxy-server flag.
type interceptor struct {
	blocked  map[proto.NetworkResourceType]struct{}
	blockAds bool
	auth     *credentials
}

func newInterceptor(blockedTypes []string, blockAds bool, auth *credentials) *interceptor {
	blocked := make(map[proto.NetworkResourceType]struct{}, len(blockedTypes))
	for _, name := range blockedTypes {
		if rt, ok := resourceTypes[name]; ok {
			blocked[rt] = struct{}{}
		}
	}
	return &interceptor{blocked: blocked, blockAds: blockAds, auth: auth}
}

// active reports whether there is anything to intercept.
func (i *interceptor) active() bool {
	return len(i.blocked) > 0 || i.blockAds || i.auth != nil
}

// shouldFail decides whether a paused request is blocked.
func (i *interceptor) shouldFail(resourceType proto.NetworkResourceType, rawURL string) bool {
	if _, ok := i.blocked[resourceType]; ok {
		return true
	}
	if i.blockAds {
		if u, err := url.Parse(rawURL); err == nil && isAdDomain(u.Hostname()) {
			return true
		}
	}
	return false
}

// start enables interception on b and serves events until ctx is done.
func (i *interceptor) start(ctx context.Context, b *rod.Browser) error {
	if !i.active() {
		return nil
	}

	err := proto.FetchEnable{
		Patterns:           []*proto.FetchRequestPattern{{URLPattern: "*"}},
		HandleAuthRequests: i.auth != nil,
	}.Call(b)
	if err != nil {
		return err
	}

	// Protocol calls must not run inside the event callback or the
	// event loop deadlocks.
	eb := b.Context(ctx)
	wait := eb.EachEvent(
		func(e *proto.FetchRequestPaused) {
			go i.handlePaused(eb, e)
		},
		func(e *proto.FetchAuthRequired) {
			go i.handleAuth(eb, e)
		},
	)
	go wait()
	return nil
}

func (i *interceptor) handlePaused(b *rod.Browser, e *proto.FetchRequestPaused) {
	var err error
	if e.Request != nil && i.shouldFail(e.ResourceType, e.Request.URL) {
		err = proto.FetchFailRequest{
			RequestID:   e.RequestID,
			ErrorReason: proto.NetworkErrorReasonBlockedByClient,
		}.Call(b)
	} else {
		err = proto.FetchContinueRequest{RequestID: e.RequestID}.Call(b)
	}
	if err != nil {
		slog.Debug("interceptor: request resume failed", "error", err)
	}
}

func (i *interceptor) handleAuth(b *rod.Browser, e *proto.FetchAuthRequired) {
	resp := &proto.FetchAuthChallengeResponse{
		Response: proto.FetchAuthChallengeResponseResponseDefault,
	}
	if i.auth != nil && e.AuthChallenge != nil && e.AuthChallenge.Source == proto.FetchAuthChallengeSourceProxy {
		resp = &proto.FetchAuthChallengeResponse{
			Response: proto.FetchAuthChallengeResponseResponseProvideCredentials,
			Username: i.auth.username,
			Password: i.auth.password,
		}
	}
	err := proto.FetchContinueWithAuth{
		RequestID:             e.RequestID,
		AuthChallengeResponse: resp,
	}.Call(b)
	if err != nil {
		slog.Debug("interceptor: auth response failed", "error", err)
	}
}
