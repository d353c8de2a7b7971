package provider_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/loom/internal/domain"
	"github.com/gosuda/loom/internal/provider"
)

// sseServer streams the given deltas as chat completion chunks.
func sseServer(t *testing.T, deltas []string, capture *[]map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if capture != nil {
			var req map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			*capture = append(*capture, req)
		}
		w.Header().Set("Content-Type", "text/event-stream")

		for _, d := range deltas {
			chunk := map[string]any{
				"id":      "chatcmpl-test",
				"object":  "chat.completion.chunk",
				"model":   "test-model",
				"choices": []map[string]any{{"index": 0, "delta": map[string]any{"content": d}}},
			}
			data, err := json.Marshal(chunk)
			require.NoError(t, err)
			fmt.Fprintf(w, "data: %s\n\n", data)
		}
		// Keepalive chunk with no choices, followed by an empty delta.
		fmt.Fprint(w, `data: {"id":"chatcmpl-test","object":"chat.completion.chunk","choices":[]}`+"\n\n")
		fmt.Fprint(w, `data: {"id":"chatcmpl-test","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":""}}]}`+"\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func TestStreamForwardsChunks(t *testing.T) {
	srv := sseServer(t, []string{"Hello", ", ", "world"}, nil)
	defer srv.Close()

	c := provider.New(srv.URL, "test-key", "test-model")

	var got []string
	full, err := c.Stream(context.Background(), provider.Request{Messages: []domain.Message{
		{Role: domain.RoleUser, Content: "hi"},
	}}, func(text string) error {
		got = append(got, text)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello, world", full)
	assert.Equal(t, []string{"Hello", ", ", "world"}, got)
}

func TestStreamRestoresEndMarker(t *testing.T) {
	srv := sseServer(t, []string{"[[qwen-tool-start]]\n```json\n{\"name\": \"get_cwd\", \"input\": \"\"}\n```\n"}, nil)
	defer srv.Close()

	c := provider.New(srv.URL, "test-key", "test-model")

	var got []string
	full, err := c.Stream(context.Background(), provider.Request{Messages: []domain.Message{
		{Role: domain.RoleUser, Content: "where am I"},
	}}, func(text string) error {
		got = append(got, text)
		return nil
	})
	require.NoError(t, err)
	assert.Contains(t, full, "[[qwen-tool-end]]")
	require.NotEmpty(t, got)
	assert.Equal(t, "[[qwen-tool-end]]", got[len(got)-1])
}

func TestStreamSendsStopSequence(t *testing.T) {
	var captured []map[string]any
	srv := sseServer(t, []string{"ok"}, &captured)
	defer srv.Close()

	c := provider.New(srv.URL, "test-key", "test-model")

	_, err := c.Stream(context.Background(), provider.Request{Messages: []domain.Message{
		{Role: domain.RoleSystem, Content: "sys"},
		{Role: domain.RoleUser, Content: "hi"},
	}}, nil)
	require.NoError(t, err)

	require.Len(t, captured, 1)
	req := captured[0]
	assert.Equal(t, "test-model", req["model"])
	assert.Equal(t, []any{"[[qwen-tool-end]]"}, req["stop"])
	msgs, ok := req["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
}

func TestStreamPerRequestOverrides(t *testing.T) {
	var captured []map[string]any
	srv := sseServer(t, []string{"ok"}, &captured)
	defer srv.Close()

	c := provider.New(srv.URL, "test-key", "test-model", provider.WithTemperature(0.2), provider.WithMaxTokens(512))

	_, err := c.Stream(context.Background(), provider.Request{
		Messages:    []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
		Temperature: 0.9,
		MaxTokens:   64,
	}, nil)
	require.NoError(t, err)

	require.Len(t, captured, 1)
	assert.InDelta(t, 0.9, captured[0]["temperature"], 0.001)
	assert.Equal(t, float64(64), captured[0]["max_tokens"])
}

func TestStreamEmptyResponse(t *testing.T) {
	srv := sseServer(t, nil, nil)
	defer srv.Close()

	c := provider.New(srv.URL, "test-key", "test-model")

	_, err := c.Stream(context.Background(), provider.Request{Messages: []domain.Message{
		{Role: domain.RoleUser, Content: "hi"},
	}}, nil)
	require.ErrorIs(t, err, provider.ErrNoContent)
}

func TestStreamChunkCallbackError(t *testing.T) {
	srv := sseServer(t, []string{"a", "b"}, nil)
	defer srv.Close()

	c := provider.New(srv.URL, "test-key", "test-model")

	_, err := c.Stream(context.Background(), provider.Request{Messages: []domain.Message{
		{Role: domain.RoleUser, Content: "hi"},
	}}, func(string) error {
		return fmt.Errorf("client went away")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client went away")
}

func TestStreamServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error": {"message": "model overloaded"}}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := provider.New(srv.URL, "test-key", "test-model")

	_, err := c.Stream(context.Background(), provider.Request{Messages: []domain.Message{
		{Role: domain.RoleUser, Content: "hi"},
	}}, nil)
	require.Error(t, err)
}
