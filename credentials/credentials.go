// Package credentials loads the per-domain cookie store injected into
// browser sessions. The store is read-only once loaded.
package credentials

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/use-agent/serpcrawl/browser"
	"github.com/use-agent/serpcrawl/models"
)

// Store maps a cookie domain to the cookies declared for it.
type Store struct {
	domains []string
	cookies map[string][]models.Cookie
}

// New builds a store. A cookie without its own domain inherits the key.
func New(byDomain map[string][]models.Cookie) *Store {
	s := &Store{cookies: make(map[string][]models.Cookie, len(byDomain))}
	for domain, list := range byDomain {
		key := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(domain), "."))
		if key == "" {
			continue
		}
		for _, c := range list {
			if c.Domain == "" {
				c.Domain = key
			}
			s.cookies[key] = append(s.cookies[key], c)
		}
	}
	for key := range s.cookies {
		s.domains = append(s.domains, key)
	}
	sort.Strings(s.domains)
	return s
}

// Load reads a YAML or JSON file of the form
//
//	example.com:
//	  - name: session
//	    value: abc123
//
// An empty path yields an empty store.
func Load(path string) (*Store, error) {
	if path == "" {
		return New(nil), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("credentials: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a cookie file. JSON is accepted as a subset of YAML.
func Parse(data []byte) (*Store, error) {
	var byDomain map[string][]models.Cookie
	if err := yaml.Unmarshal(data, &byDomain); err != nil {
		return nil, fmt.Errorf("credentials: parse: %w", err)
	}
	return New(byDomain), nil
}

// CookiesFor returns the cookies of every stored domain that host falls
// under. Final scoping happens in the browser session.
func (s *Store) CookiesFor(host string) []models.Cookie {
	var out []models.Cookie
	for _, domain := range s.domains {
		if browser.DomainMatches(host, domain) {
			out = append(out, s.cookies[domain]...)
		}
	}
	return out
}

// Len returns the number of stored cookies.
func (s *Store) Len() int {
	n := 0
	for _, list := range s.cookies {
		n += len(list)
	}
	return n
}
