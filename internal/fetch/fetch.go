// Package fetch retrieves source articles and reduces their HTML to text.
package fetch

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// DefaultTimeout is the default HTTP request timeout.
const DefaultTimeout = 30 * time.Second

// DefaultUserAgent is the user agent string for HTTP requests.
const DefaultUserAgent = "Mozilla/5.0 (compatible; ReelForge/1.0)"

// maxBodyBytes bounds how much of a page is read.
const maxBodyBytes = 8 << 20

// Result holds the raw and processed content from a URL fetch.
type Result struct {
	URL         string
	HTML        string
	Text        string
	Title       string
	ContentType string
	StatusCode  int
	Rendered    bool
}

// Error represents an error during URL fetching.
type Error struct {
	URL     string
	Message string
	Status  int
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("fetch error for %s: %s: %v", e.URL, e.Message, e.Cause)
	}
	return fmt.Sprintf("fetch error for %s: %s", e.URL, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// StatusCode exposes the HTTP status for error classification. Zero when the
// request never got a response.
func (e *Error) StatusCode() int {
	return e.Status
}

// Options configures fetching. Zero Timeout and UserAgent use the defaults.
type Options struct {
	Timeout   time.Duration
	UserAgent string
	Headers   map[string]string
	// UseBrowser re-renders pages whose static HTML yields fewer than MinText
	// characters of text.
	UseBrowser bool
	MinText    int
	// Renderer defaults to ChromeRenderer.
	Renderer Renderer
	// Client overrides the HTTP client. Tests point it at httptest servers.
	Client *http.Client
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() *Options {
	return &Options{
		Timeout:   DefaultTimeout,
		UserAgent: DefaultUserAgent,
	}
}

// URL retrieves the page at urlStr. Non-200 responses return the partial
// result together with an *Error carrying the status.
func URL(ctx context.Context, urlStr string, opts *Options) (*Result, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if u, err := url.Parse(urlStr); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, &Error{URL: urlStr, Message: "invalid URL", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, &Error{URL: urlStr, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("User-Agent", cmp.Or(opts.UserAgent, DefaultUserAgent))
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: cmp.Or(opts.Timeout, DefaultTimeout)}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &Error{URL: urlStr, Message: "HTTP request failed", Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &Error{URL: urlStr, Message: "failed to read response body", Cause: err}
	}
	result := &Result{
		URL:         urlStr,
		HTML:        string(body),
		ContentType: resp.Header.Get("Content-Type"),
		StatusCode:  resp.StatusCode,
	}
	if resp.StatusCode != http.StatusOK {
		return result, &Error{URL: urlStr, Message: fmt.Sprintf("HTTP status %d", resp.StatusCode), Status: resp.StatusCode}
	}
	return result, nil
}

// Article fetches urlStr and extracts its title and main text. When the
// static page is too thin and opts.UseBrowser is set, the page is rendered
// in a headless browser and extracted again.
func Article(ctx context.Context, urlStr string, opts *Options) (*Result, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	result, err := URL(ctx, urlStr, opts)
	if err != nil {
		return result, err
	}
	platform := DetectPlatform(urlStr)
	if err := extractInto(result, platform); err != nil {
		return result, err
	}
	if !opts.UseBrowser || !thin(result.Text, opts.MinText) {
		return result, nil
	}

	renderer := opts.Renderer
	if renderer == nil {
		renderer = ChromeRenderer{Timeout: opts.Timeout, UserAgent: opts.UserAgent}
	}
	html, err := renderer.Render(ctx, urlStr)
	if err != nil {
		return result, &Error{URL: urlStr, Message: "browser rendering failed", Cause: err}
	}
	result.HTML, result.Rendered = html, true
	return result, extractInto(result, platform)
}

func extractInto(result *Result, platform Platform) error {
	doc, err := parse(result.HTML)
	if err != nil {
		return &Error{URL: result.URL, Message: "failed to extract text", Cause: err}
	}
	result.Title = title(doc)
	result.Text = mainText(doc, PlatformContentSelectors(platform), PlatformNoiseSelectors(platform))
	return nil
}

func parse(html string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return doc, nil
}

// boilerplate is removed from every page before extraction.
const boilerplate = "nav, footer, header, script, style, noscript, .ad, .advertisement, .ads, .sidebar, .cookie-banner, .popup"

// ExtractMainText returns the text of the first element matching one of
// contentSelectors, or of the body, after removing boilerplate and
// noiseSelectors.
func ExtractMainText(html string, contentSelectors []string, noiseSelectors ...string) (string, error) {
	doc, err := parse(html)
	if err != nil {
		return "", err
	}
	return mainText(doc, contentSelectors, noiseSelectors), nil
}

func mainText(doc *goquery.Document, contentSelectors, noiseSelectors []string) string {
	doc.Find(boilerplate).Remove()
	if len(noiseSelectors) > 0 {
		doc.Find(strings.Join(noiseSelectors, ", ")).Remove()
	}
	content := doc.Find("body")
	for _, sel := range contentSelectors {
		if found := doc.Find(sel); found.Length() > 0 {
			content = found.First()
			break
		}
	}
	return collapseWhitespace(content.Text())
}

// ExtractTitle returns og:title, falling back to <title> then the first <h1>.
func ExtractTitle(html string) string {
	doc, err := parse(html)
	if err != nil {
		return ""
	}
	return title(doc)
}

func title(doc *goquery.Document) string {
	if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && strings.TrimSpace(og) != "" {
		return strings.TrimSpace(og)
	}
	return cmp.Or(
		strings.TrimSpace(doc.Find("title").First().Text()),
		strings.TrimSpace(doc.Find("h1").First().Text()),
	)
}

// DefaultTextSelectors are tried in order on pages of no known platform.
func DefaultTextSelectors() []string {
	return []string{"article", "main", ".post-content", ".entry-content", ".content", "#content", ".main-content", "#main-content"}
}

// collapseWhitespace squeezes runs of blanks inside lines and drops empty
// lines.
func collapseWhitespace(text string) string {
	var lines []string
	for line := range strings.Lines(text) {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// Fetcher binds Options so Article can be passed around as a collaborator.
type Fetcher struct {
	Options *Options
}

// Article fetches and extracts urlStr with the bound options.
func (f *Fetcher) Article(ctx context.Context, urlStr string) (*Result, error) {
	return Article(ctx, urlStr, f.Options)
}
