// Package web provides the web tool set: Brave search and page fetching
// with main-content extraction.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/gosuda/loom/internal/tool"
)

const (
	braveSearchURL   = "https://api.search.brave.com/res/v1/web/search"
	defaultUserAgent = "Mozilla/5.0 (compatible; loom/1.0)"
	defaultTimeout   = 30 * time.Second
	maxBodyBytes     = 4 << 20
)

// ErrNoAPIKey is returned by brave_web_search when no key is configured.
var ErrNoAPIKey = errors.New("web: Brave API key not configured")

// Client holds shared state for the web tools.
type Client struct {
	httpClient  *http.Client
	braveAPIKey string
	searchURL   string
}

// Option configures a Client.
type Option func(*Client)

// WithSearchURL overrides the Brave search endpoint, used in tests.
func WithSearchURL(u string) Option {
	return func(c *Client) { c.searchURL = u }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates the web tool client. braveAPIKey may be empty, in which
// case brave_web_search reports a configuration error when invoked.
func NewClient(braveAPIKey string, opts ...Option) *Client {
	c := &Client{
		httpClient:  &http.Client{Timeout: defaultTimeout},
		braveAPIKey: braveAPIKey,
		searchURL:   braveSearchURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Tools returns the web tool set for registration.
func (c *Client) Tools() []tool.Tool {
	return []tool.Tool{
		tool.NewFunc("brave_web_search",
			"Search the web using Brave Search API. The responses here only contain summaries. Use fetch_web_page to get the full contents of interesting search results.",
			[]tool.Param{
				{Name: "query", Type: "string", Required: true, Description: "the search query to submit to Brave"},
				{Name: "count", Type: "integer", Required: false, Description: "the number of results to return, defaults to 10"},
			},
			"String - a JSON object containing search results or error information from the Brave Search API",
			c.braveWebSearch),
		tool.NewFunc("fetch_web_page",
			"Fetch content from a specified URL. This is a good tool to use after doing a brave_web_search, in order to get more details from interesting search results.",
			[]tool.Param{
				{Name: "url", Type: "string", Required: true, Description: "the URL to fetch content from"},
				{Name: "headers", Type: "dictionary", Required: false, Description: "custom headers to include in the request, defaults to a standard User-Agent"},
				{Name: "timeout", Type: "integer", Required: false, Description: "request timeout in seconds, defaults to 30"},
				{Name: "clean", Type: "boolean", Required: false, Description: "whether to extract only the main content, defaults to true"},
			},
			"String - the cleaned web page content as text, or an error if the request fails",
			c.fetchWebPage),
	}
}

func (c *Client) braveWebSearch(ctx context.Context, args map[string]any) (string, error) {
	query, err := tool.StringArg(args, "query", true, "")
	if err != nil {
		return "", err
	}
	count, err := tool.IntArg(args, "count", false, 10)
	if err != nil {
		return "", err
	}
	if c.braveAPIKey == "" {
		return "", ErrNoAPIKey
	}

	u, err := url.Parse(c.searchURL)
	if err != nil {
		return "", fmt.Errorf("parsing search URL: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("count", strconv.Itoa(count))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("building search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", c.braveAPIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("searching: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("reading search response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("search API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	// Reduce the Brave payload to title/url/description per result.
	var raw struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return "", fmt.Errorf("decoding search response: %w", err)
	}

	out, err := json.MarshalIndent(map[string]any{
		"query":   query,
		"results": raw.Web.Results,
		"count":   len(raw.Web.Results),
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding search results: %w", err)
	}
	return string(out), nil
}

func (c *Client) fetchWebPage(ctx context.Context, args map[string]any) (string, error) {
	pageURL, err := tool.StringArg(args, "url", true, "")
	if err != nil {
		return "", err
	}
	headers, err := tool.StringMapArg(args, "headers")
	if err != nil {
		return "", err
	}
	timeoutSec, err := tool.IntArg(args, "timeout", false, int(defaultTimeout/time.Second))
	if err != nil {
		return "", err
	}
	clean, err := tool.BoolArg(args, "clean", true)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSec)*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("building fetch request: %w", err)
	}
	req.Header.Set("User-Agent", defaultUserAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetching %s: status %d", pageURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", pageURL, err)
	}

	if !clean {
		return string(body), nil
	}
	return extractText(string(body))
}

// extractText walks the HTML document and collects visible text, skipping
// script/style/nav chrome and collapsing whitespace.
func extractText(rawHTML string) (string, error) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return "", fmt.Errorf("parsing HTML: %w", err)
	}

	skip := map[string]bool{
		"script": true, "style": true, "noscript": true,
		"nav": true, "header": true, "footer": true, "aside": true,
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skip[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				sb.WriteString(text)
				sb.WriteString("\n")
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)

	return sb.String(), nil
}
