package models

// SearchEntry is one organic result on a results page.
type SearchEntry struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

// SearchResultSet is produced once per successful results-page fetch.
type SearchResultSet struct {
	Entries       []SearchEntry `json:"entries"`
	PeopleAlsoAsk []string      `json:"people_also_ask,omitempty"`
	Related       []string      `json:"related_searches,omitempty"`
	TotalResults  string        `json:"total_results,omitempty"`
}

// PageMetadata holds the <meta> derived fields of a page.
type PageMetadata struct {
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Authors     []string `json:"authors,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
	Published   string   `json:"published,omitempty"`
	Language    string   `json:"language,omitempty"`
}

// DeepExtraction is the full-page content analysis of one URL.
type DeepExtraction struct {
	URL       string            `json:"url"`
	MainText  string            `json:"main_text"`
	Markdown  string            `json:"markdown,omitempty"`
	Metadata  PageMetadata      `json:"metadata"`
	Schema    []map[string]any  `json:"schema_org,omitempty"`
	OpenGraph map[string]string `json:"open_graph,omitempty"`
	Emails    []string          `json:"emails,omitempty"`
	Phones    []string          `json:"phones,omitempty"`
	Images    []string          `json:"images,omitempty"`
	Outbound  []string          `json:"outbound_links,omitempty"`

	// TextSource records which heuristic produced MainText:
	// "readability", "densest_block" or "body".
	TextSource string `json:"text_source,omitempty"`
}

// JobResult is everything a job gathered, possibly partial on failure.
type JobResult struct {
	SERP       *SearchResultSet    `json:"serp,omitempty"`
	Deep       *DeepExtraction     `json:"deep,omitempty"`
	FirstPage  *DeepExtraction     `json:"first_page,omitempty"`
	Custom     map[string][]string `json:"custom,omitempty"`
	Tags       []string            `json:"tags,omitempty"`
	RawHTMLKey string              `json:"raw_html_key,omitempty"`
	ProxyID    string              `json:"proxy_id,omitempty"`
}

// Empty reports whether nothing was gathered.
func (r *JobResult) Empty() bool {
	return r == nil || (r.SERP == nil && r.Deep == nil && r.FirstPage == nil && len(r.Custom) == 0)
}
