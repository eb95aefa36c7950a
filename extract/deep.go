package extract

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/markusmobius/go-trafilatura"
	"github.com/use-agent/serpcrawl/models"
)

// Deep reads the page DOM and runs DeepFromHTML on it.
func (e *Extractor) Deep(ctx context.Context, page Page, pageURL string) (*models.DeepExtraction, error) {
	rawHTML, err := page.HTML(ctx)
	if err != nil {
		return nil, err
	}
	return e.DeepFromHTML(rawHTML, pageURL)
}

// DeepFromHTML analyses a full page. Individual fields degrade to empty
// when their source is missing or malformed; only an unusable URL or an
// unparseable document is an error.
func (e *Extractor) DeepFromHTML(rawHTML, pageURL string) (*models.DeepExtraction, error) {
	base, err := url.Parse(pageURL)
	if err != nil || base.Host == "" {
		return nil, models.NewCrawlError(models.ErrCodeExtraction, "invalid page url "+pageURL, err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, models.NewCrawlError(models.ErrCodeExtraction, "unparseable page", err)
	}

	main := findMainContent(rawHTML, base, doc)
	out := &models.DeepExtraction{
		URL:        base.String(),
		MainText:   main.text,
		TextSource: main.source,
		Metadata:   metadata(doc, main),
		OpenGraph:  openGraph(doc),
		Schema:     jsonLD(doc),
		Images:     images(doc, base),
		Outbound:   outboundLinks(doc, base),
	}
	if out.Metadata.Published == "" {
		out.Metadata.Published = publishedDate(rawHTML, base)
	}

	visible := visibleText(doc.Find("body"))
	out.Emails = Dedupe(append(Emails(visible), hrefValues(doc, "mailto:", Emails)...))
	out.Phones = Dedupe(append(Phones(visible), hrefValues(doc, "tel:", Phones)...))

	if main.html != "" {
		md, err := e.toMarkdown(main.html, base.Scheme+"://"+base.Host)
		if err != nil {
			slog.Debug("deep: markdown conversion failed", "url", pageURL, "error", err)
		} else {
			out.Markdown = strings.TrimSpace(md)
		}
	}
	return out, nil
}

func metadata(doc *goquery.Document, main mainContent) models.PageMetadata {
	meta := func(attr, name string) string {
		v, _ := doc.Find("meta[" + attr + "='" + name + "']").First().Attr("content")
		return NormalizeText(v)
	}

	md := models.PageMetadata{
		Title:       NormalizeText(doc.Find("title").First().Text()),
		Description: meta("name", "description"),
		Published:   meta("property", "article:published_time"),
	}
	if md.Title == "" {
		md.Title = meta("property", "og:title")
	}
	if md.Title == "" {
		md.Title = NormalizeText(main.title)
	}
	if md.Description == "" {
		md.Description = meta("property", "og:description")
	}
	if md.Published == "" {
		md.Published = meta("name", "date")
	}

	doc.Find("meta[name='author']").Each(func(_ int, s *goquery.Selection) {
		if v, _ := s.Attr("content"); NormalizeText(v) != "" {
			md.Authors = append(md.Authors, NormalizeText(v))
		}
	})
	if len(md.Authors) == 0 && NormalizeText(main.byline) != "" {
		md.Authors = []string{NormalizeText(main.byline)}
	}
	md.Authors = Dedupe(md.Authors)

	for _, kw := range strings.Split(meta("name", "keywords"), ",") {
		if kw = NormalizeText(kw); kw != "" {
			md.Keywords = append(md.Keywords, kw)
		}
	}
	md.Keywords = Dedupe(md.Keywords)

	if lang, ok := doc.Find("html").First().Attr("lang"); ok {
		md.Language = strings.TrimSpace(lang)
	}
	return md
}

func openGraph(doc *goquery.Document) map[string]string {
	og := make(map[string]string)
	doc.Find("meta[property^='og:']").Each(func(_ int, s *goquery.Selection) {
		prop, _ := s.Attr("property")
		content, _ := s.Attr("content")
		if content = NormalizeText(content); content == "" {
			return
		}
		key := strings.TrimPrefix(prop, "og:")
		if _, exists := og[key]; !exists {
			og[key] = content
		}
	})
	if len(og) == 0 {
		return nil
	}
	return og
}

// jsonLD parses every ld+json block as opaque records. Arrays are
// flattened; blocks that are not valid JSON are skipped.
func jsonLD(doc *goquery.Document) []map[string]any {
	var out []map[string]any
	doc.Find(`script[type="application/ld+json"]`).Each(func(i int, s *goquery.Selection) {
		var v any
		if err := json.Unmarshal([]byte(strings.TrimSpace(s.Text())), &v); err != nil {
			slog.Debug("deep: skipping malformed JSON-LD block", "index", i, "error", err)
			return
		}
		switch t := v.(type) {
		case map[string]any:
			out = append(out, t)
		case []any:
			for _, item := range t {
				if m, ok := item.(map[string]any); ok {
					out = append(out, m)
				}
			}
		}
	})
	return out
}

func images(doc *goquery.Document, base *url.URL) []string {
	var out []string
	doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		u, err := base.Parse(strings.TrimSpace(src))
		if err != nil || src == "" || u.Scheme == "data" {
			return
		}
		out = append(out, u.String())
	})
	return Dedupe(out)
}

// outboundLinks returns absolute http(s) links whose host differs from
// the page host. Fragments are stripped before deduplication.
func outboundLinks(doc *goquery.Document, base *url.URL) []string {
	var out []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		u, err := base.Parse(strings.TrimSpace(href))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return
		}
		if strings.EqualFold(u.Hostname(), base.Hostname()) {
			return
		}
		u.Fragment = ""
		out = append(out, u.String())
	})
	return Dedupe(out)
}

// hrefValues runs match over the targets of links with the given scheme.
func hrefValues(doc *goquery.Document, scheme string, match func(string) []string) []string {
	var out []string
	doc.Find("a[href^='" + scheme + "']").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		target, _, _ := strings.Cut(strings.TrimPrefix(href, scheme), "?")
		if unescaped, err := url.PathUnescape(target); err == nil {
			target = unescaped
		}
		out = append(out, match(target)...)
	})
	return out
}

// publishedDate asks trafilatura's metadata extractor for a date when the
// page carries no explicit meta tag.
func publishedDate(rawHTML string, base *url.URL) string {
	res, err := trafilatura.Extract(strings.NewReader(rawHTML), trafilatura.Options{
		OriginalURL:     base,
		ExcludeComments: true,
	})
	if err != nil || res == nil || res.Metadata.Date.IsZero() {
		return ""
	}
	return res.Metadata.Date.UTC().Format(time.RFC3339)
}
