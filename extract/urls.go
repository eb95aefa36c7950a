package extract

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/use-agent/serpcrawl/models"
)

// SearchURL builds the results page URL for keyword. Verbatim asks Google
// for its "verbatim" tool and quotes the query for Bing.
func SearchURL(engine models.Engine, keyword string, verbatim bool) (string, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return "", models.NewCrawlError(models.ErrCodeInvalidInput, "empty keyword", nil)
	}
	switch engine {
	case models.EngineGoogle:
		u := "https://www.google.com/search?q=" + url.QueryEscape(keyword) + "&hl=en&num=10"
		if verbatim {
			u += "&tbs=li:1"
		}
		return u, nil
	case models.EngineBing:
		q := keyword
		if verbatim {
			q = `"` + strings.Trim(keyword, `"`) + `"`
		}
		return "https://www.bing.com/search?q=" + url.QueryEscape(q) + "&setlang=en", nil
	default:
		return "", models.NewCrawlError(models.ErrCodeInvalidInput,
			fmt.Sprintf("engine %q has no search url", engine), nil)
	}
}

// DecodeSearchURL unwraps Bing "ck/a" and Google "/url" click-tracking
// redirects. Anything else, including undecodable redirects, is returned
// unchanged.
func DecodeSearchURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	host := strings.ToLower(u.Hostname())

	switch {
	case isEngineHost(host, "bing.com") && u.Path == "/ck/a":
		enc := u.Query().Get("u")
		enc = strings.TrimPrefix(enc, "a1")
		if target, ok := decodeBase64URL(enc); ok {
			return target
		}
	case (host == "" || isEngineHost(host, "google.com")) && u.Path == "/url":
		q := u.Query()
		for _, key := range []string{"q", "url"} {
			if target := q.Get(key); isHTTPURL(target) {
				return target
			}
		}
	}
	return raw
}

func decodeBase64URL(s string) (string, bool) {
	s = strings.TrimRight(s, "=")
	if s == "" {
		return "", false
	}
	for _, enc := range []*base64.Encoding{base64.RawURLEncoding, base64.RawStdEncoding} {
		if b, err := enc.DecodeString(s); err == nil && isHTTPURL(string(b)) {
			return string(b), true
		}
	}
	return "", false
}

func isEngineHost(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}

func isHTTPURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
