package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/sandbotdev/sandbot/internal/security"
)

const (
	fetchMaxChars       = 50000
	fetchMaxRedirects   = 3
	fetchTimeoutSeconds = 30
	fetchUserAgent      = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// FetchPageTool downloads a URL and returns its text. Metadata-service
// and loopback URLs are refused; the body passes through the sanitizer
// like every other tool output.
type FetchPageTool struct {
	lib       *security.Library
	sanitizer *security.Sanitizer
	client    *http.Client
}

func NewFetchPageTool(lib *security.Library, sanitizer *security.Sanitizer) *FetchPageTool {
	t := &FetchPageTool{lib: lib, sanitizer: sanitizer}
	t.client = &http.Client{
		Timeout: fetchTimeoutSeconds * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > fetchMaxRedirects {
				return fmt.Errorf("stopped after %d redirects", fetchMaxRedirects)
			}
			if reason := t.urlBlocked(req.URL.String()); reason != "" {
				return fmt.Errorf("redirect target refused: %s", reason)
			}
			return nil
		},
	}
	return t
}

func (t *FetchPageTool) Name() string { return "fetch_page" }

func (t *FetchPageTool) Description() string {
	return "Fetch an http(s) URL and return its textual content. Internal and metadata addresses are refused."
}

func (t *FetchPageTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{"type": "string", "description": "HTTP or HTTPS URL to fetch."},
		},
		"required": []string{"url"},
	}
}

func (t *FetchPageTool) urlBlocked(rawURL string) string {
	for _, re := range t.lib.Current().BlockedURLs {
		if re.MatchString(rawURL) {
			return "URL targets an internal or metadata address"
		}
	}
	return ""
}

func (t *FetchPageTool) Execute(ctx context.Context, call *Call) *Result {
	rawURL, _ := call.Args["url"].(string)
	if rawURL == "" {
		return ErrorResult("url is required")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ErrorResult(fmt.Sprintf("invalid URL: %v", err))
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ErrorResult("only http and https URLs are supported")
	}
	if parsed.Host == "" {
		return ErrorResult("missing hostname in URL")
	}
	if reason := t.urlBlocked(rawURL); reason != "" {
		return BlockedResult("🚫 BLOCKED: " + reason)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return ErrorResult(fmt.Sprintf("create request: %v", err))
	}
	req.Header.Set("User-Agent", fetchUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.8")

	resp, err := t.client.Do(req)
	if err != nil {
		return ErrorResult(fmt.Sprintf("fetch failed: %v", err))
	}
	defer resp.Body.Close()

	// HTML overhead means the useful text is much smaller than the
	// raw body; read extra and trim after stripping.
	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchMaxChars*4))
	if err != nil {
		return ErrorResult(fmt.Sprintf("read body: %v", err))
	}

	text := string(body)
	if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		text = htmlToText(text)
	}
	truncated := false
	if len(text) > fetchMaxChars {
		text = text[:fetchMaxChars]
		truncated = true
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "URL: %s\nStatus: %d\n", resp.Request.URL, resp.StatusCode)
	if truncated {
		fmt.Fprintf(&sb, "Truncated: true (limit %d chars)\n", fetchMaxChars)
	}
	sb.WriteString("\n")
	sb.WriteString(text)

	return NewResult(t.sanitizer.Sanitize(sb.String()))
}

var (
	htmlScriptRe = regexp.MustCompile(`(?is)<(script|style|noscript)[^>]*>.*?</(script|style|noscript)>`)
	htmlTagRe    = regexp.MustCompile(`<[^>]+>`)
	blankLinesRe = regexp.MustCompile(`\n{3,}`)
)

func htmlToText(html string) string {
	text := htmlScriptRe.ReplaceAllString(html, "")
	text = htmlTagRe.ReplaceAllString(text, "\n")
	text = strings.NewReplacer("&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", `"`, "&#39;", "'", "&nbsp;", " ").Replace(text)
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return blankLinesRe.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
}
