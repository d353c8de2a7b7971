package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/loom/internal/domain"
	"github.com/gosuda/loom/internal/loop"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	SessionID       string        `json:"session_id"`
	Messages        []chatMessage `json:"messages"`
	Temperature     float32       `json:"temperature"`
	MaxOutputTokens int           `json:"max_output_tokens"`
}

// handleChat runs the tool-call loop over the request conversation and
// streams events back as NDJSON. Validation failures produce a single JSON
// error object before any streaming starts; once the stream is open, errors
// can only end it.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	// Unknown body keys are ignored so older or looser clients keep working.
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		chatError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if len(req.Messages) == 0 {
		chatError(w, http.StatusBadRequest, "messages must not be empty")
		return
	}

	messages := make([]domain.Message, 0, len(req.Messages)+1)
	messages = append(messages, domain.Message{Role: domain.RoleSystem, Content: s.systemPrompt})
	for i, m := range req.Messages {
		role := domain.Role(m.Role)
		if !role.Valid() {
			chatError(w, http.StatusBadRequest, fmt.Sprintf("messages[%d]: unknown role %q", i, m.Role))
			return
		}
		if role == domain.RoleSystem {
			chatError(w, http.StatusBadRequest, fmt.Sprintf("messages[%d]: system messages are not accepted", i))
			return
		}
		messages = append(messages, domain.Message{Role: role, Content: m.Content})
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		chatError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	err := s.loop.Run(r.Context(), loop.Request{
		SessionID:   req.SessionID,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxOutputTokens,
	}, func(ev loop.Event) error {
		if err := enc.Encode(ev); err != nil {
			return fmt.Errorf("encoding event: %w", err)
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrSessionActive) {
			// Headers are sent; the best we can do is a terminal error line.
			_ = enc.Encode(loop.Event{Role: "error", Content: "session already active"})
			return
		}
		log.Error().Err(err).Str("session_id", req.SessionID).Msg("chat stream ended with error")
		_ = enc.Encode(loop.Event{Role: "error", Content: "stream failed"})
	}
}

func chatError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
