package browser

import (
	"net/url"
	"strings"

	"github.com/use-agent/serpcrawl/models"
	"golang.org/x/net/publicsuffix"
)

// ScopeCookies returns the cookies that may be sent to target. A cookie
// declared for "example.com" matches "example.com" and any subdomain of it,
// never "notexample.com" or "example.org". Cookies declared for a public
// suffix such as "co.uk" are dropped. A cookie with no domain becomes a
// host-only cookie for the target host.
func ScopeCookies(target string, cookies []models.Cookie) []models.Cookie {
	u, err := url.Parse(target)
	if err != nil || u.Hostname() == "" {
		return nil
	}
	host := strings.ToLower(u.Hostname())

	var out []models.Cookie
	for _, c := range cookies {
		if c.Name == "" {
			continue
		}
		domain := normalizeDomain(c.Domain)
		if domain == "" {
			c.Domain = host
		} else if !DomainMatches(host, domain) {
			continue
		}
		if c.Path == "" {
			c.Path = "/"
		}
		out = append(out, c)
	}
	return out
}

// DomainMatches reports whether host is domain or a subdomain of it.
func DomainMatches(host, domain string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	domain = normalizeDomain(domain)
	if host == "" || domain == "" {
		return false
	}
	if suffix, _ := publicsuffix.PublicSuffix(domain); suffix == domain {
		return false
	}
	return host == domain || strings.HasSuffix(host, "."+domain)
}

func normalizeDomain(d string) string {
	d = strings.ToLower(strings.TrimSpace(d))
	d = strings.TrimPrefix(d, ".")
	return strings.TrimSuffix(d, ".")
}
