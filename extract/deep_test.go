package extract

import (
	"strings"
	"testing"
)

const articleFixture = `<!DOCTYPE html>
<html lang="en">
<head>
  <title>Channels in Practice</title>
  <meta name="description" content="X">
  <meta name="author" content="Ada Lovelace">
  <meta name="keywords" content="go, channels, , concurrency, go">
  <meta property="og:title" content="Channels in Practice (OG)">
  <meta property="og:image" content="https://blog.example.com/cover.png">
  <meta property="article:published_time" content="2024-03-01T10:00:00Z">
  <script type="application/ld+json">{"@context": "https://schema.org", "@type": "Article", "headline": "Channels in Practice"}</script>
</head>
<body>
  <nav><a href="/">Home</a> <a href="https://twitter.example.net/share">Share</a></nav>
  <article class="post-content">
    <h1>Channels in Practice</h1>
    <p>Channels are the pipes that connect concurrent goroutines. You can send values into channels from one goroutine and receive those values into another goroutine, which makes them the primary way Go programs coordinate work.</p>
    <p>Unbuffered channels synchronise the sender and the receiver, while buffered channels decouple them up to the buffer capacity. Choosing between the two is mostly a question of whether the sender should wait for the receiver to be ready.</p>
    <p>Closing a channel signals that no more values will be sent. Receivers can test for closure with the two-value receive form, and range loops over a channel stop once it is closed and drained.</p>
    <img src="/img/pipes.png"><img src="/img/pipes.png"><img src="data:image/png;base64,AAAA">
    <p>Questions? Write to Editor@Example.com or call +1 (555) 123-4567. Published 2024-03-01.</p>
    <p>See <a href="https://go.dev/ref/mem#chan">the memory model</a> and <a href="/tags/go">more posts</a>.</p>
  </article>
  <footer><a href="mailto:team@example.com?subject=hi">Mail us</a> <a href="https://go.dev/ref/mem#locks">memory model</a></footer>
</body>
</html>`

func TestDeepFromHTML(t *testing.T) {
	d, err := New().DeepFromHTML(articleFixture, "https://blog.example.com/posts/channels")
	if err != nil {
		t.Fatalf("DeepFromHTML: %v", err)
	}

	if d.Metadata.Description != "X" {
		t.Errorf("Description = %q, want X", d.Metadata.Description)
	}
	if d.Metadata.Title != "Channels in Practice" {
		t.Errorf("Title = %q", d.Metadata.Title)
	}
	if len(d.Metadata.Authors) != 1 || d.Metadata.Authors[0] != "Ada Lovelace" {
		t.Errorf("Authors = %v", d.Metadata.Authors)
	}
	if strings.Join(d.Metadata.Keywords, "|") != "go|channels|concurrency" {
		t.Errorf("Keywords = %v", d.Metadata.Keywords)
	}
	if d.Metadata.Published != "2024-03-01T10:00:00Z" || d.Metadata.Language != "en" {
		t.Errorf("Published = %q Language = %q", d.Metadata.Published, d.Metadata.Language)
	}
	if len(d.Schema) != 1 || d.Schema[0]["@type"] != "Article" {
		t.Errorf("Schema = %v, want one Article", d.Schema)
	}
	if d.OpenGraph["title"] != "Channels in Practice (OG)" || d.OpenGraph["image"] == "" {
		t.Errorf("OpenGraph = %v", d.OpenGraph)
	}

	if d.TextSource != SourceReadability {
		t.Errorf("TextSource = %q, want %q", d.TextSource, SourceReadability)
	}
	if !strings.Contains(d.MainText, "Unbuffered channels synchronise the sender") {
		t.Errorf("MainText missing article body: %q", d.MainText)
	}
	if strings.Contains(d.MainText, "  ") {
		t.Error("MainText contains unnormalized whitespace")
	}
	if !strings.Contains(d.Markdown, "Closing a channel") {
		t.Errorf("Markdown missing content: %q", d.Markdown)
	}

	if strings.Join(d.Emails, ",") != "editor@example.com,team@example.com" {
		t.Errorf("Emails = %v", d.Emails)
	}
	if len(d.Phones) != 1 || d.Phones[0] != "+15551234567" {
		t.Errorf("Phones = %v", d.Phones)
	}
	if len(d.Images) != 1 || d.Images[0] != "https://blog.example.com/img/pipes.png" {
		t.Errorf("Images = %v", d.Images)
	}
	wantOut := "https://twitter.example.net/share,https://go.dev/ref/mem"
	if strings.Join(d.Outbound, ",") != wantOut {
		t.Errorf("Outbound = %v, want %s", d.Outbound, wantOut)
	}
}

func TestDeepFromHTML_MalformedJSONLD(t *testing.T) {
	page := `<html><head>
<meta name="description" content="Still fine">
<script type="application/ld+json">{"@type": "Article", "headline": </script>
</head><body><p>Short page.</p></body></html>`

	d, err := New().DeepFromHTML(page, "https://example.com/")
	if err != nil {
		t.Fatalf("malformed JSON-LD must not fail extraction: %v", err)
	}
	if len(d.Schema) != 0 {
		t.Errorf("Schema = %v, want empty", d.Schema)
	}
	if d.Metadata.Description != "Still fine" {
		t.Errorf("Description = %q", d.Metadata.Description)
	}
	if d.TextSource != SourceBody || d.MainText != "Short page." {
		t.Errorf("short page: source=%q text=%q, want body fallback", d.TextSource, d.MainText)
	}
}

func TestDeepFromHTML_JSONLDArray(t *testing.T) {
	page := `<html><head><script type="application/ld+json">[{"@type":"Person"},{"@type":"Organization"},"junk"]</script></head><body></body></html>`
	d, err := New().DeepFromHTML(page, "https://example.com/")
	if err != nil {
		t.Fatal(err)
	}
	if len(d.Schema) != 2 {
		t.Errorf("Schema = %v, want 2 records", d.Schema)
	}
}

func TestDeepFromHTML_InvalidURL(t *testing.T) {
	if _, err := New().DeepFromHTML("<html></html>", "not a url"); err == nil {
		t.Error("relative page url should fail")
	}
}

func TestDensestBlockFallback(t *testing.T) {
	page := `<html><body>
<div class="sidebar"><a href="/a">One</a> <a href="/b">Two</a> <a href="/c">Three</a></div>
<div class="main-text">This block carries the real text of the page and it is comfortably longer than fifty characters.</div>
</body></html>`
	d, err := New().DeepFromHTML(page, "https://example.com/")
	if err != nil {
		t.Fatal(err)
	}
	if d.TextSource == SourceBody {
		t.Errorf("TextSource = body, want a content heuristic")
	}
	if !strings.Contains(d.MainText, "real text of the page") {
		t.Errorf("MainText = %q", d.MainText)
	}
}

func TestCustom(t *testing.T) {
	sels, err := CompileSelectors(map[string]string{
		"price": "span.price",
		"name":  "h1",
		"none":  ".missing",
	})
	if err != nil {
		t.Fatal(err)
	}
	got, err := Custom(`<html><body><h1> Widget <script>x()</script></h1><span class="price">$1</span><span class="price">$2</span></body></html>`, sels)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(got["price"], ",") != "$1,$2" {
		t.Errorf("price = %v", got["price"])
	}
	if len(got["name"]) != 1 || got["name"][0] != "Widget" {
		t.Errorf("name = %v", got["name"])
	}
	if got["none"] == nil || len(got["none"]) != 0 {
		t.Errorf("none = %#v, want empty slice", got["none"])
	}

	if _, err := CompileSelectors(map[string]string{"bad": "div[["}); err == nil {
		t.Error("invalid selector should fail")
	}
}

func TestTextHelpers(t *testing.T) {
	if got := NormalizeText("  a \n\t b  c "); got != "a b c" {
		t.Errorf("NormalizeText = %q", got)
	}
	if got := Emails("x@y.io, X@Y.io and bad@host"); len(got) != 1 || got[0] != "x@y.io" {
		t.Errorf("Emails = %v", got)
	}
	phones := Phones("Call 030 1234 5678, order 12345, date 2024-01-15, or +44 20 7946 0958.")
	if strings.Join(phones, ",") != "03012345678,+442079460958" {
		t.Errorf("Phones = %v", phones)
	}
	if got := Dedupe([]string{"b", "a", "b"}); strings.Join(got, "") != "ba" {
		t.Errorf("Dedupe = %v", got)
	}
}
