// Package fetch is the Content Fetcher: it downloads one page and extracts
// its title, description, headings, readable text and a Markdown rendition.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"

	"github.com/ekkoscope/sherlock/pkg/resilience"
)

const (
	DefaultUserAgent = "Mozilla/5.0 (compatible; EkkoScope/1.0; Sherlock Semantic Analyzer)"

	maxRawHTML   = 100_000
	maxText      = 15_000
	maxHeadings  = 20
	minHeadingLn = 3
)

// Page is the extracted content of one URL.
type Page struct {
	URL             string
	Title           string
	MetaDescription string
	Headings        []string // "h2: Text"
	Text            string
	Markdown        string
	RawHTML         string
	WordCount       int
}

// Config tunes a Fetcher.
type Config struct {
	Timeout      time.Duration
	UserAgent    string
	PerHostRate  float64 // requests per second per host, <= 0 means unlimited
	MaxBodyBytes int64
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 2 << 20
	}
}

// Fetcher retrieves and extracts pages.
type Fetcher struct {
	client *http.Client
	cfg    Config
	md     *converter.Converter

	mu    sync.Mutex
	hosts map[string]*resilience.Limiter
}

// New creates a Fetcher.
func New(cfg Config) *Fetcher {
	cfg.defaults()
	return &Fetcher{
		client: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				return nil
			},
		},
		cfg: cfg,
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		hosts: make(map[string]*resilience.Limiter),
	}
}

func (f *Fetcher) limiter(host string) *resilience.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.hosts[host]
	if !ok {
		l = resilience.NewLimiter(resilience.LimiterOpts{Rate: f.cfg.PerHostRate, Burst: 1})
		f.hosts[host] = l
	}
	return l
}

// Fetch downloads rawURL and extracts its content. Any non-200 status is an
// error.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return Page{}, fmt.Errorf("fetch: invalid url %q", rawURL)
	}
	if err := f.limiter(u.Hostname()).Wait(ctx); err != nil {
		return Page{}, fmt.Errorf("fetch: pace %s: %w", u.Hostname(), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Page{}, fmt.Errorf("fetch: new request: %w", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("fetch: get %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Page{}, fmt.Errorf("fetch: %s: http %d", rawURL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBodyBytes))
	if err != nil {
		return Page{}, fmt.Errorf("fetch: read %s: %w", rawURL, err)
	}

	page, err := f.Extract(rawURL, toUTF8(body, resp.Header.Get("Content-Type")))
	if err != nil {
		return Page{}, err
	}
	return page, nil
}

// Extract parses an HTML document. A body that is not valid UTF-8 is decoded
// from the charset its meta tags declare, falling back to windows-1252.
func (f *Fetcher) Extract(pageURL string, body []byte) (Page, error) {
	if !utf8.Valid(body) {
		body = toUTF8(body, "")
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Page{}, fmt.Errorf("fetch: parse html: %w", err)
	}

	page := Page{
		URL:             pageURL,
		RawHTML:         truncateBytes(string(body), maxRawHTML),
		Title:           collapse(doc.Find("title").First().Text()),
		MetaDescription: collapse(doc.Find(`meta[name="description"]`).AttrOr("content", "")),
	}

	doc.Find("script, style, nav, footer, header, aside, noscript").Remove()

	headings := doc.Find("h1, h2, h3, h4")
	if headings.Length() > maxHeadings {
		headings = headings.Slice(0, maxHeadings)
	}
	headings.Each(func(_ int, s *goquery.Selection) {
		text := collapse(s.Text())
		if utf8.RuneCountInString(text) > minHeadingLn {
			page.Headings = append(page.Headings, goquery.NodeName(s)+": "+text)
		}
	})

	body2 := doc.Find("body")
	if body2.Length() == 0 {
		body2 = doc.Selection
	}
	text := collapse(body2.Text())
	page.WordCount = len(strings.Fields(text))
	page.Text = truncateRunes(text, maxText)

	if html, err := body2.Html(); err == nil {
		if md, err := f.md.ConvertString(html, converter.WithDomain(pageURL)); err == nil {
			page.Markdown = strings.TrimSpace(md)
		}
	}
	if page.Markdown == "" {
		page.Markdown = page.Text
	}
	return page, nil
}

// toUTF8 decodes body using the Content-Type charset, a BOM or the document's
// meta declaration. Bytes that still fail to decode are replaced.
func toUTF8(body []byte, contentType string) []byte {
	enc, name, _ := charset.DetermineEncoding(body, contentType)
	if name != "utf-8" {
		if out, err := enc.NewDecoder().Bytes(body); err == nil {
			body = out
		}
	}
	if !utf8.Valid(body) {
		body = bytes.ToValidUTF8(body, []byte("\uFFFD"))
	}
	return body
}

func collapse(s string) string { return strings.Join(strings.Fields(s), " ") }

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// truncateBytes cuts s to at most n bytes without splitting a rune.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// TruncateBytes is truncateBytes for callers persisting raw HTML.
func TruncateBytes(s string, n int) string { return truncateBytes(s, n) }
