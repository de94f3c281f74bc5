package research

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"patentsmith/internal/logging"
)

// DuckDuckGo searches the DuckDuckGo HTML endpoint (no API key) and
// ranks patent-source hits first. When a browser endpoint is
// configured, top hits are enriched with page text; enrichment failures
// degrade to snippets.
type DuckDuckGo struct {
	httpClient *http.Client
	enricher   *PageEnricher
	logger     *zap.Logger
}

// Option configures a DuckDuckGo provider.
type Option func(*DuckDuckGo)

// WithHTTPClient replaces the HTTP client. Tests point it at a stub
// server.
func WithHTTPClient(c *http.Client) Option {
	return func(d *DuckDuckGo) { d.httpClient = c }
}

// WithEnricher attaches a rod-driven page enricher for full-text
// snippets.
func WithEnricher(e *PageEnricher) Option {
	return func(d *DuckDuckGo) { d.enricher = e }
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *DuckDuckGo) { d.logger = l }
}

const searchBaseURL = "https://html.duckduckgo.com/html/"

// NewDuckDuckGo builds the provider.
func NewDuckDuckGo(opts ...Option) *DuckDuckGo {
	d := &DuckDuckGo{httpClient: defaultHTTPClient, logger: logging.Nop()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Available probes the search endpoint with a short timeout.
func (d *DuckDuckGo) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, searchBaseURL, nil)
	if err != nil {
		return false
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

// Search queries the HTML endpoint and returns ranked references.
func (d *DuckDuckGo) Search(ctx context.Context, keywords []string, limit int) ([]Reference, error) {
	if limit <= 0 {
		limit = 8
	}
	query := strings.Join(keywords, " ") + " 专利 patent"

	ctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	searchURL := searchBaseURL + "?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}

	refs, err := parseResults(string(body), limit)
	if err != nil {
		return nil, err
	}
	rankPatentSources(refs)

	if d.enricher != nil {
		d.enrich(ctx, refs)
	}
	d.logger.Debug("search completed",
		zap.String("query", query), zap.Int("results", len(refs)))
	return refs, nil
}

// enrich replaces snippets of the top hits with page text where the
// browser can fetch it. Failures keep the original snippet.
func (d *DuckDuckGo) enrich(ctx context.Context, refs []Reference) {
	const enrichTop = 3
	for i := range refs {
		if i >= enrichTop {
			break
		}
		text, err := d.enricher.PageText(ctx, refs[i].URL)
		if err != nil {
			d.logger.Debug("page enrichment failed",
				zap.String("url", refs[i].URL), zap.Error(err))
			continue
		}
		if text != "" {
			refs[i].Snippet = text
		}
	}
}

// rankPatentSources stable-sorts known patent hosts ahead of general
// results and tags their source.
func rankPatentSources(refs []Reference) {
	for i := range refs {
		refs[i].Source = sourceOf(refs[i].URL)
	}
	sort.SliceStable(refs, func(i, j int) bool {
		return refs[i].Source != "" && refs[j].Source == ""
	})
}

func sourceOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := u.Hostname()
	for _, src := range patentSources {
		if host == src || strings.HasSuffix(host, "."+src) {
			return src
		}
	}
	return ""
}

// parseResults extracts search hits from the DuckDuckGo HTML page
// (div.result.results_links blocks with result__a / result__snippet
// anchors).
func parseResults(page string, limit int) ([]Reference, error) {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse search HTML: %w", err)
	}

	var refs []Reference
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if len(refs) >= limit {
			return
		}
		if n.Type == html.ElementNode && n.Data == "div" {
			class := attrValue(n, "class")
			if strings.Contains(class, "result") && strings.Contains(class, "results_links") {
				if ref := extractReference(n); ref.URL != "" && ref.Title != "" {
					refs = append(refs, ref)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return refs, nil
}

func extractReference(n *html.Node) Reference {
	var ref Reference
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			class := attrValue(n, "class")
			switch {
			case strings.Contains(class, "result__a"):
				ref.URL = cleanRedirect(attrValue(n, "href"))
				ref.Title = textContent(n)
			case strings.Contains(class, "result__snippet"):
				ref.Snippet = textContent(n)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return ref
}

// cleanRedirect unwraps DuckDuckGo's //duckduckgo.com/l/?uddg=
// redirect URLs.
func cleanRedirect(rawURL string) string {
	const prefix = "//duckduckgo.com/l/?uddg="
	if !strings.HasPrefix(rawURL, prefix) {
		return rawURL
	}
	decoded, err := url.QueryUnescape(strings.TrimPrefix(rawURL, prefix))
	if err != nil {
		return rawURL
	}
	if idx := strings.Index(decoded, "&"); idx > 0 {
		decoded = decoded[:idx]
	}
	return decoded
}

func attrValue(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(strings.TrimSpace(n.Data))
			sb.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(sb.String())
}

// FormatReferences renders references as the markdown list injected
// into the patent-searcher prompt.
func FormatReferences(refs []Reference) string {
	if len(refs) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, ref := range refs {
		fmt.Fprintf(&sb, "%d. %s\n   URL: %s\n", i+1, ref.Title, ref.URL)
		if ref.Source != "" {
			fmt.Fprintf(&sb, "   来源: %s\n", ref.Source)
		}
		if ref.Snippet != "" {
			fmt.Fprintf(&sb, "   摘要: %s\n", ref.Snippet)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
