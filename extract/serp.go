package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/use-agent/serpcrawl/models"
)

// serpPayload is what the in-page SERP scripts return. Every field is
// optional on receipt; DecodeSERP decides what survives.
type serpPayload struct {
	V             int               `json:"v"`
	Results       []json.RawMessage `json:"results"`
	PeopleAlsoAsk []json.RawMessage `json:"people_also_ask"`
	Related       []json.RawMessage `json:"related"`
	TotalResults  *string           `json:"total_results"`
}

type payloadEntry struct {
	Title   *string `json:"title"`
	Link    *string `json:"link"`
	Snippet *string `json:"snippet"`
}

// serpScript returns the extraction script for a search engine.
func serpScript(engine models.Engine) (string, bool) {
	switch engine {
	case models.EngineGoogle:
		return googleSERPJS, true
	case models.EngineBing:
		return bingSERPJS, true
	}
	return "", false
}

// DecodeSERP validates a script payload and converts it to a result set.
// Malformed entries are dropped and counted rather than failing the whole
// payload. The error is non-nil only when the payload is not an object of
// the expected version.
func DecodeSERP(raw json.RawMessage) (*models.SearchResultSet, int, error) {
	var p serpPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, 0, fmt.Errorf("serp payload: %w", err)
	}
	if p.V != payloadVersion {
		return nil, 0, fmt.Errorf("serp payload: version %d, want %d", p.V, payloadVersion)
	}

	set := &models.SearchResultSet{Entries: []models.SearchEntry{}}
	dropped := 0
	for _, r := range p.Results {
		var e payloadEntry
		if err := json.Unmarshal(r, &e); err != nil || e.Title == nil || e.Link == nil {
			dropped++
			continue
		}
		snippet := ""
		if e.Snippet != nil {
			snippet = *e.Snippet
		}
		set.Entries = append(set.Entries, models.SearchEntry{
			Title:   *e.Title,
			Link:    *e.Link,
			Snippet: snippet,
		})
	}
	set.PeopleAlsoAsk, dropped = appendStrings(nil, p.PeopleAlsoAsk, dropped)
	set.Related, dropped = appendStrings(nil, p.Related, dropped)
	if p.TotalResults != nil {
		set.TotalResults = NormalizeText(*p.TotalResults)
	}

	before := len(set.Entries)
	normalizeSet(set)
	return set, dropped + before - len(set.Entries), nil
}

func appendStrings(dst []string, raw []json.RawMessage, dropped int) ([]string, int) {
	for _, r := range raw {
		var s string
		if err := json.Unmarshal(r, &s); err != nil {
			dropped++
			continue
		}
		dst = append(dst, s)
	}
	return dst, dropped
}

// normalizeSet cleans text, unwraps redirect links and removes entries
// without a usable title or link. Duplicate links keep the first entry.
func normalizeSet(set *models.SearchResultSet) {
	seen := make(map[string]struct{}, len(set.Entries))
	entries := set.Entries[:0]
	for _, e := range set.Entries {
		e.Title = NormalizeText(e.Title)
		e.Snippet = NormalizeText(e.Snippet)
		e.Link = DecodeSearchURL(strings.TrimSpace(e.Link))
		if e.Title == "" || !isHTTPURL(e.Link) {
			continue
		}
		if _, dup := seen[e.Link]; dup {
			continue
		}
		seen[e.Link] = struct{}{}
		entries = append(entries, e)
	}
	set.Entries = entries
	set.PeopleAlsoAsk = Dedupe(normalizeAll(set.PeopleAlsoAsk))
	set.Related = Dedupe(normalizeAll(set.Related))
}

func normalizeAll(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s = NormalizeText(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// SERP extracts a result set from a results page. The in-page script is
// tried first; when it returns an unusable payload the serialized DOM is
// parsed instead. Script errors are returned as-is so the caller can retry.
func (e *Extractor) SERP(ctx context.Context, page Page, engine models.Engine, pageURL string) (*models.SearchResultSet, error) {
	script, ok := serpScript(engine)
	if !ok {
		return nil, models.NewCrawlError(models.ErrCodeExtraction,
			fmt.Sprintf("engine %q has no results page", engine), nil)
	}

	raw, err := page.Evaluate(ctx, script)
	if err != nil {
		return nil, err
	}
	set, dropped, err := DecodeSERP(raw)
	if err == nil {
		if dropped > 0 {
			slog.Debug("serp: dropped malformed entries", "engine", engine, "dropped", dropped)
		}
		return set, nil
	}
	slog.Warn("serp: script payload rejected, parsing DOM", "engine", engine, "error", err)

	doc, htmlErr := page.HTML(ctx)
	if htmlErr != nil {
		return nil, htmlErr
	}
	return ParseSERPHTML(engine, pageURL, doc)
}

// ParseSERPHTML extracts results from serialized HTML with the same
// selectors the in-page scripts use.
func ParseSERPHTML(engine models.Engine, pageURL, rawHTML string) (*models.SearchResultSet, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, models.NewCrawlError(models.ErrCodeExtraction, "invalid page url", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, models.NewCrawlError(models.ErrCodeExtraction, "unparseable results page", err)
	}

	set := &models.SearchResultSet{Entries: []models.SearchEntry{}}
	resolve := func(s *goquery.Selection) string {
		href, _ := s.Attr("href")
		if u, err := base.Parse(strings.TrimSpace(href)); err == nil {
			return u.String()
		}
		return ""
	}

	switch engine {
	case models.EngineBing:
		doc.Find("li.b_algo").Each(func(_ int, block *goquery.Selection) {
			a := block.Find("h2 > a").First()
			if a.Length() == 0 {
				return
			}
			p := block.Find(".b_caption p").First()
			if p.Length() == 0 {
				p = block.Find("p").First()
			}
			set.Entries = append(set.Entries, models.SearchEntry{
				Title:   a.Text(),
				Link:    resolve(a),
				Snippet: p.Text(),
			})
		})
		set.PeopleAlsoAsk = texts(doc.Find(`.b_ans [data-tag="RelatedQnA.Item"] .b_1linetrunc, .df_qntext`))
		set.Related = texts(doc.Find(".b_rs li a, #brsv3 a"))
		set.TotalResults = NormalizeText(doc.Find(".sb_count").First().Text())

	case models.EngineGoogle:
		main := doc.Find(`[role="main"]`).First()
		if main.Length() == 0 {
			main = doc.Find("#main").First()
		}
		if main.Length() == 0 {
			main = doc.Find("body")
		}
		main.Find(`[data-snf], .g, [jscontroller="SC7lYd"], .Gx5Zad`).Each(func(_ int, block *goquery.Selection) {
			title := block.Find(`h3, [role="heading"]`).First()
			if title.Length() == 0 {
				return
			}
			var link string
			block.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
				candidate := DecodeSearchURL(resolve(a))
				if isResultLink(candidate) {
					link = candidate
					return false
				}
				return true
			})
			if link == "" {
				return
			}
			snippet := block.Find(`[data-content], [role="text"], .VwiC3b, .IsZvec, .yXK7lf`).First()
			set.Entries = append(set.Entries, models.SearchEntry{
				Title:   title.Text(),
				Link:    link,
				Snippet: snippet.Text(),
			})
		})
		set.PeopleAlsoAsk = texts(doc.Find(`[jsname="Cpkphb"] [role="heading"], .related-question-pair [role="heading"]`))
		set.Related = texts(doc.Find("#bres a, .k8XOCe"))
		set.TotalResults = NormalizeText(doc.Find("#result-stats").First().Text())

	default:
		return nil, models.NewCrawlError(models.ErrCodeExtraction,
			fmt.Sprintf("engine %q has no results page", engine), nil)
	}

	normalizeSet(set)
	return set, nil
}

// isResultLink rejects links back into the engine itself.
func isResultLink(link string) bool {
	if !isHTTPURL(link) {
		return false
	}
	u, _ := url.Parse(link)
	return !isEngineHost(strings.ToLower(u.Hostname()), "google.com")
}

func texts(sel *goquery.Selection) []string {
	var out []string
	sel.Each(func(_ int, s *goquery.Selection) {
		out = append(out, s.Text())
	})
	return out
}
