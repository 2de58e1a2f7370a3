package builtin

import (
	"container/list"
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"oape/internal/agent/ports"
	oerr "oape/internal/errors"
)

// fetchTimeoutCeiling bounds both the client default and per-call overrides.
const fetchTimeoutCeiling = 30 * time.Second

// webFetch fetches URL content, converts HTML to readable text, and caches
// responses with a TTL.
type webFetch struct {
	httpClient *http.Client
	cache      *fetchCache
	bodyLimit  int64
}

// fetchCache manages URL content cache with TTL and LRU eviction.
type fetchCache struct {
	entries    map[string]*cacheEntry
	order      *list.List
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
}

type cacheEntry struct {
	content   string
	timestamp time.Time
	url       string
	element   *list.Element
}

func NewWebFetch(cfg ToolConfig) ports.ToolExecutor {
	cfg = cfg.withDefaults()

	cache := &fetchCache{
		entries:    make(map[string]*cacheEntry),
		order:      list.New(),
		ttl:        cfg.FetchCacheTTL,
		maxEntries: cfg.FetchCacheMaxEntries,
	}

	return &webFetch{
		httpClient: &http.Client{
			Timeout: fetchTimeoutCeiling,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("stopped after 10 redirects")
				}
				return nil
			},
		},
		cache:     cache,
		bodyLimit: cfg.FetchBodyLimit,
	}
}

func (t *webFetch) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	urlStr, _ := stringArg(call.Arguments, "url")
	if urlStr == "" {
		return errorResult(call.ID, oerr.New(oerr.KindInvalidInput, "missing 'url'")), nil
	}

	parsedURL, err := neturl.Parse(urlStr)
	if err != nil {
		return errorResult(call.ID, oerr.Wrap(oerr.KindInvalidInput, err, "invalid URL %q", urlStr)), nil
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return errorResult(call.ID, oerr.New(oerr.KindInvalidInput,
			"URL must use http or https, got %q", parsedURL.Scheme)), nil
	}

	cacheKey := t.cache.key(urlStr)
	if cached := t.cache.get(cacheKey); cached != nil {
		return t.buildResult(call.ID, cached.url, cached.content, true), nil
	}

	// Optional per-call timeout, bounded by the client ceiling.
	if seconds, ok := intArg(call.Arguments, "timeout"); ok && seconds > 0 {
		requested := time.Duration(seconds) * time.Second
		if requested > fetchTimeoutCeiling {
			requested = fetchTimeoutCeiling
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, requested)
		defer cancel()
	}

	content, finalURL, err := t.fetchContent(ctx, urlStr)
	if err != nil {
		return errorResult(call.ID, err), nil
	}

	// A cross-host redirect is surfaced instead of followed silently.
	if t.getHost(urlStr) != t.getHost(finalURL) {
		return &ports.ToolResult{
			CallID: call.ID,
			Content: fmt.Sprintf("URL redirected to a different host:\n\nOriginal: %s\nRedirect: %s\n\n"+
				"Make a new request with the redirect URL.", urlStr, finalURL),
			Metadata: map[string]any{
				"redirected":   true,
				"original_url": urlStr,
				"redirect_url": finalURL,
			},
		}, nil
	}

	t.cache.put(cacheKey, &cacheEntry{
		content:   content,
		timestamp: time.Now(),
		url:       finalURL,
	})

	return t.buildResult(call.ID, finalURL, content, false), nil
}

func (t *webFetch) fetchContent(ctx context.Context, urlStr string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return "", "", oerr.Wrap(oerr.KindInvalidInput, err, "create request")
	}

	req.Header.Set("User-Agent", "OAPE-Agent/1.0 (Web Content Fetcher)")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return "", "", oerr.Wrap(oerr.KindTimeout, err, "fetch timed out for %s", urlStr)
		}
		return "", "", oerr.Wrap(oerr.KindNetworkError, err, "failed to fetch %s", urlStr)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", "", oerr.New(oerr.KindNetworkError, "HTTP %d fetching %s", resp.StatusCode, urlStr)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, t.bodyLimit+1))
	if err != nil {
		return "", "", oerr.Wrap(oerr.KindNetworkError, err, "read response from %s", urlStr)
	}
	if int64(len(body)) > t.bodyLimit {
		return "", "", oerr.New(oerr.KindTooLarge, "response from %s exceeds %d bytes", urlStr, t.bodyLimit)
	}

	content := string(body)
	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "text/html") || looksLikeHTML(content) {
		content, err = htmlToText(content)
		if err != nil {
			return "", "", oerr.Wrap(oerr.KindInvalidInput, err, "parse HTML from %s", urlStr)
		}
	}

	return content, resp.Request.URL.String(), nil
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	var te timeouter
	return errors.As(err, &te) && te.Timeout()
}

func looksLikeHTML(body string) bool {
	head := strings.ToLower(body)
	if len(head) > 1024 {
		head = head[:1024]
	}
	return strings.Contains(head, "<html") || strings.Contains(head, "<!doctype html")
}

// htmlToText converts HTML to clean markdown-like text.
func htmlToText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}

	doc.Find("script, style, nav, footer, header, aside, iframe").Remove()

	var content strings.Builder

	if title := doc.Find("title").Text(); title != "" {
		content.WriteString("# " + strings.TrimSpace(title) + "\n\n")
	}

	doc.Find("h1, h2, h3, h4, h5, h6").Each(func(i int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); text != "" {
			level := s.Get(0).Data[1] - '0'
			prefix := strings.Repeat("#", int(level))
			content.WriteString(prefix + " " + text + "\n\n")
		}
	})

	doc.Find("p, article, section, pre, blockquote").Each(func(i int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); text != "" && len(text) > 30 {
			content.WriteString(text + "\n\n")
		}
	})

	doc.Find("ul, ol").Each(func(i int, s *goquery.Selection) {
		s.Find("li").Each(func(j int, li *goquery.Selection) {
			if text := strings.TrimSpace(li.Text()); text != "" {
				content.WriteString("- " + text + "\n")
			}
		})
		content.WriteString("\n")
	})

	result := content.String()

	const maxSize = 15000
	if len(result) > maxSize {
		result = result[:maxSize] + "\n\n[Content truncated...]"
	}

	return result, nil
}

func (t *webFetch) buildResult(callID, url, content string, cached bool) *ports.ToolResult {
	status := ""
	if cached {
		status = " (cached)"
	}
	return &ports.ToolResult{
		CallID:  callID,
		Content: fmt.Sprintf("Source: %s%s\n\n%s", url, status, content),
		Metadata: map[string]any{
			"url":          url,
			"cached":       cached,
			"content_size": len(content),
		},
	}
}

func (t *webFetch) getHost(urlStr string) string {
	u, err := neturl.Parse(urlStr)
	if err != nil {
		return ""
	}
	return u.Host
}

func (t *webFetch) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name: "web_fetch",
		Description: `Fetch a URL and return its content as readable text.

- http and https URLs only
- HTML is converted to clean text (headings, paragraphs, lists)
- Responses are cached briefly for repeated requests
- Cross-host redirects are reported instead of followed`,
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"url":     {Type: "string", Description: "Full URL to fetch (http/https)"},
				"timeout": {Type: "integer", Description: "Optional timeout in seconds (capped by the server ceiling)"},
			},
			Required: []string{"url"},
		},
	}
}

func (t *webFetch) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{
		Name: "web_fetch", Version: "1.0.0", Category: "web",
		Tags: []string{"web", "fetch", "http"},
	}
}

// Cache implementation.
func (c *fetchCache) key(url string) string {
	hash := md5.Sum([]byte(url))
	return fmt.Sprintf("%x", hash)
}

func (c *fetchCache) get(key string) *cacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[key]; ok {
		if time.Since(entry.timestamp) < c.ttl {
			if entry.element != nil {
				c.order.MoveToFront(entry.element)
			}
			return entry
		}
		if entry.element != nil {
			c.order.Remove(entry.element)
		}
		delete(c.entries, key)
	}
	return nil
}

func (c *fetchCache) put(key string, entry *cacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[key]; ok {
		existing.content = entry.content
		existing.timestamp = entry.timestamp
		existing.url = entry.url
		if existing.element != nil {
			c.order.MoveToFront(existing.element)
		}
		return
	}
	element := c.order.PushFront(key)
	entry.element = element
	c.entries[key] = entry
	for len(c.entries) > c.maxEntries {
		c.evictLocked()
	}
}

func (c *fetchCache) evictLocked() {
	oldest := c.order.Back()
	if oldest == nil {
		return
	}
	key, ok := oldest.Value.(string)
	if ok {
		delete(c.entries, key)
	}
	c.order.Remove(oldest)
}
