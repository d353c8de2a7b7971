package web_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/loom/internal/tool"
	"github.com/gosuda/loom/internal/tool/web"
)

func findTool(t *testing.T, c *web.Client, name string) tool.Tool {
	t.Helper()
	for _, wt := range c.Tools() {
		if wt.Name() == name {
			return wt
		}
	}
	t.Fatalf("tool %s not found", name)
	return nil
}

func TestBraveWebSearch(t *testing.T) {
	t.Parallel()

	t.Run("returns trimmed results", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "golang streaming", r.URL.Query().Get("q"))
			assert.Equal(t, "3", r.URL.Query().Get("count"))
			assert.Equal(t, "secret", r.Header.Get("X-Subscription-Token"))

			_, _ = w.Write([]byte(`{"web":{"results":[
				{"title":"Go","url":"https://go.dev","description":"The Go language"},
				{"title":"Streams","url":"https://example.com","description":"On streams"}
			]}}`))
		}))
		defer srv.Close()

		c := web.NewClient("secret", web.WithSearchURL(srv.URL))
		search := findTool(t, c, "brave_web_search")

		out, err := search.Call(context.Background(), map[string]any{
			"query": "golang streaming", "count": float64(3),
		})
		require.NoError(t, err)

		var parsed struct {
			Results []struct {
				Title string `json:"title"`
				URL   string `json:"url"`
			} `json:"results"`
			Count int `json:"count"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &parsed))
		assert.Equal(t, 2, parsed.Count)
		assert.Equal(t, "Go", parsed.Results[0].Title)
	})

	t.Run("missing API key", func(t *testing.T) {
		t.Parallel()

		c := web.NewClient("")
		search := findTool(t, c, "brave_web_search")

		_, err := search.Call(context.Background(), map[string]any{"query": "anything"})
		assert.ErrorIs(t, err, web.ErrNoAPIKey)
	})

	t.Run("API error status surfaced", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
		}))
		defer srv.Close()

		c := web.NewClient("secret", web.WithSearchURL(srv.URL))
		search := findTool(t, c, "brave_web_search")

		_, err := search.Call(context.Background(), map[string]any{"query": "x"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "429")
	})
}

func TestFetchWebPage(t *testing.T) {
	t.Parallel()

	page := `<html><head><title>T</title><style>body{}</style></head>
<body><nav>menu items</nav><article><h1>Headline</h1><p>Body text here.</p></article>
<script>var x=1;</script></body></html>`

	t.Run("clean extracts main text", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.NotEmpty(t, r.Header.Get("User-Agent"))
			_, _ = w.Write([]byte(page))
		}))
		defer srv.Close()

		c := web.NewClient("")
		fetch := findTool(t, c, "fetch_web_page")

		out, err := fetch.Call(context.Background(), map[string]any{"url": srv.URL})
		require.NoError(t, err)
		assert.Contains(t, out, "Headline")
		assert.Contains(t, out, "Body text here.")
		assert.NotContains(t, out, "menu items")
		assert.NotContains(t, out, "var x=1;")
	})

	t.Run("raw mode returns full HTML", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(page))
		}))
		defer srv.Close()

		c := web.NewClient("")
		fetch := findTool(t, c, "fetch_web_page")

		out, err := fetch.Call(context.Background(), map[string]any{"url": srv.URL, "clean": false})
		require.NoError(t, err)
		assert.Contains(t, out, "<script>")
	})

	t.Run("custom headers forwarded", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "token123", r.Header.Get("Authorization"))
			_, _ = w.Write([]byte("<html><body>ok</body></html>"))
		}))
		defer srv.Close()

		c := web.NewClient("")
		fetch := findTool(t, c, "fetch_web_page")

		_, err := fetch.Call(context.Background(), map[string]any{
			"url":     srv.URL,
			"headers": map[string]any{"Authorization": "token123"},
		})
		require.NoError(t, err)
	})

	t.Run("non-200 is an error", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.NotFoundHandler())
		defer srv.Close()

		c := web.NewClient("")
		fetch := findTool(t, c, "fetch_web_page")

		_, err := fetch.Call(context.Background(), map[string]any{"url": srv.URL})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 404")
	})
}
