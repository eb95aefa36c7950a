package credentials

import (
	"os"
	"path/filepath"
	"testing"
)

const cookiesYAML = `
example.com:
  - name: sid
    value: abc
  - name: pref
    value: dark
    path: /settings
.shop.example.com:
  - name: cart
    value: "42"
example.org:
  - name: other
    value: x
`

func TestParseAndCookiesFor(t *testing.T) {
	s, err := Parse([]byte(cookiesYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if s.Len() != 4 {
		t.Errorf("Len = %d, want 4", s.Len())
	}

	tests := []struct {
		host string
		want []string
	}{
		{"example.com", []string{"sid", "pref"}},
		{"www.example.com", []string{"sid", "pref"}},
		{"shop.example.com", []string{"sid", "pref", "cart"}},
		{"example.org", []string{"other"}},
		{"notexample.com", nil},
		{"", nil},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			got := s.CookiesFor(tt.host)
			if len(got) != len(tt.want) {
				t.Fatalf("CookiesFor(%q) = %+v, want %v", tt.host, got, tt.want)
			}
			for i, name := range tt.want {
				if got[i].Name != name {
					t.Errorf("cookie %d = %s, want %s", i, got[i].Name, name)
				}
			}
		})
	}

	if got := s.CookiesFor("example.com")[0].Domain; got != "example.com" {
		t.Errorf("inherited domain = %q", got)
	}
}

func TestLoad(t *testing.T) {
	s, err := Load("")
	if err != nil || s.Len() != 0 {
		t.Fatalf("Load(\"\") = %v, %v", s, err)
	}

	path := filepath.Join(t.TempDir(), "cookies.json")
	if err := os.WriteFile(path, []byte(`{"example.com":[{"name":"sid","value":"v","secure":true}]}`), 0o600); err != nil {
		t.Fatal(err)
	}
	s, err = Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	got := s.CookiesFor("example.com")
	if len(got) != 1 || !got[0].Secure {
		t.Errorf("cookies = %+v", got)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load of a missing file should fail")
	}
	if _, err := Parse([]byte("- not\n- a map")); err == nil {
		t.Error("Parse accepted a list")
	}
}
