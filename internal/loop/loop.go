// Package loop runs the streaming tool-call cycle for one conversation:
// generate a model turn, parse it for a tool call, dispatch, feed the result
// back, and repeat until the model answers without a call.
package loop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/gosuda/loom/internal/bus"
	"github.com/gosuda/loom/internal/domain"
	"github.com/gosuda/loom/internal/eventlog"
	"github.com/gosuda/loom/internal/logbuffer"
	"github.com/gosuda/loom/internal/protocol"
	"github.com/gosuda/loom/internal/provider"
	"github.com/gosuda/loom/internal/tool"
)

// Wire-level reply texts fed back to the model. The wording is part of the
// protocol contract; models were tuned against these exact phrases.
const (
	multipleCallsReply = "Tool Call Error: Multiple tool calls found. Please only use one tool at a time."
	invalidCallReply   = "Tool result: No valid tool call found. Please make sure tool request is valid JSON, " +
		"and escape necessary characters. Try again with better-formatted JSON"
)

var thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

// Event is one caller-visible stream event, serialized as a single NDJSON
// line on the chat endpoint and on the session bus.
type Event struct {
	Role    string `json:"role"`
	Type    string `json:"type,omitempty"`
	Content string `json:"content"`
}

// Sink receives events in emission order. Returning an error aborts the
// loop; the caller has gone away.
type Sink func(Event) error

// Loop orchestrates sessions. All dependencies are injected; the loop owns
// no I/O of its own.
type Loop struct {
	streamer   provider.Streamer
	dispatcher *tool.Dispatcher
	buffer     *logbuffer.Buffer
	events     *eventlog.Logger
	bus        bus.Bus
	sessions   *Store

	limiter   *rate.Limiter
	maxRounds int
}

// Options configures a Loop.
type Options struct {
	// RequestDelay is the minimum spacing between model streams. Zero
	// disables pacing.
	RequestDelay time.Duration

	// MaxRounds bounds generation cycles per session. Zero means unbounded.
	MaxRounds int
}

// New creates a Loop.
func New(streamer provider.Streamer, dispatcher *tool.Dispatcher, buffer *logbuffer.Buffer,
	events *eventlog.Logger, b bus.Bus, sessions *Store, opts Options,
) *Loop {
	l := &Loop{
		streamer:   streamer,
		dispatcher: dispatcher,
		buffer:     buffer,
		events:     events,
		bus:        b,
		sessions:   sessions,
		maxRounds:  opts.MaxRounds,
	}
	if opts.RequestDelay > 0 {
		l.limiter = rate.NewLimiter(rate.Every(opts.RequestDelay), 1)
	}
	return l
}

// Sessions exposes the session store for read-only API surfaces.
func (l *Loop) Sessions() *Store {
	return l.sessions
}

// Request describes one loop invocation. Messages must already include the
// system prompt. Temperature and MaxTokens are per-request overrides; zero
// uses the provider defaults.
type Request struct {
	SessionID   string
	Messages    []domain.Message
	Temperature float32
	MaxTokens   int
}

// Run executes the tool-call loop for one conversation. Events stream to
// sink as they happen; Run returns when the model produces a turn without a
// tool call, the round bound is hit, or an unrecoverable stream/transport
// error occurs.
func (l *Loop) Run(ctx context.Context, req Request, sink Sink) (err error) {
	sess, err := l.sessions.Begin(req.SessionID)
	if err != nil {
		return fmt.Errorf("loop.Run: %w", err)
	}
	defer l.sessions.End(sess.ID)
	defer func() {
		if err != nil {
			l.events.Drop(sess.ID)
		}
	}()

	conv := make([]domain.Message, len(req.Messages))
	copy(conv, req.Messages)

	for round := 1; ; round++ {
		if l.maxRounds > 0 && round > l.maxRounds {
			l.events.Error(sess.ID, "max_rounds", fmt.Sprintf("round bound %d reached", l.maxRounds), "terminating loop")
			l.finish(sess.ID)
			return nil
		}

		if l.limiter != nil {
			if err := l.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("loop.Run: %w", err)
			}
		}

		l.events.InferenceStart(sess.ID, len(conv))

		chunkCount := 0
		turn, err := l.streamer.Stream(ctx, provider.Request{
			Messages:    conv,
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
		}, func(text string) error {
			chunkCount++
			if uerr := l.sessions.Update(sess.ID, func(s *domain.Session) {
				s.Chunks++
				s.Bytes += int64(len(text))
			}); uerr != nil {
				return uerr
			}
			if berr := l.buffer.Append(sess.ID, text); berr != nil {
				log.Error().Err(berr).Str("session_id", sess.ID).Msg("loop: buffer append")
			}
			return l.emit(ctx, sess.ID, sink, Event{Role: "assistant", Type: "chunk", Content: text})
		})
		if err != nil {
			if errors.Is(err, provider.ErrNoContent) {
				// An empty turn parses as NoCall; treat it the same way.
				turn = ""
			} else {
				l.events.Error(sess.ID, "stream_failure", err.Error(), "model stream")
				return fmt.Errorf("loop.Run: %w", err)
			}
		}

		if err := l.emit(ctx, sess.ID, sink, Event{Role: "assistant", Type: "done"}); err != nil {
			return fmt.Errorf("loop.Run: %w", err)
		}

		_ = l.sessions.Update(sess.ID, func(s *domain.Session) { s.Rounds++ })

		// The assistant turn joins the conversation before parsing, so on a
		// malformed call the model sees its own output next to the correction.
		cleaned, stripped := stripThinking(turn)
		conv = append(conv, domain.Message{Role: domain.RoleAssistant, Content: cleaned})

		call, perr := protocol.Parse(turn)
		switch {
		case perr != nil:
			reply := invalidCallReply
			var pe *protocol.ProtocolError
			if errors.As(perr, &pe) && pe.Violation == protocol.ViolationMultipleCalls {
				reply = multipleCallsReply
			}
			l.events.Error(sess.ID, "protocol_violation", perr.Error(), "parsing assistant turn")
			conv = append(conv, domain.Message{Role: domain.RoleUser, Content: reply})
			if err := l.emit(ctx, sess.ID, sink, Event{Role: "tool_call", Content: reply}); err != nil {
				return fmt.Errorf("loop.Run: %w", err)
			}

		case call == nil:
			l.events.AssistantResponse(sess.ID, cleaned, chunkCount, stripped)
			l.finish(sess.ID)
			return nil

		default:
			l.events.AssistantResponse(sess.ID, cleaned, chunkCount, stripped)

			_ = l.sessions.Update(sess.ID, func(s *domain.Session) {
				s.ToolsUsed[call.Name] = struct{}{}
			})

			result := l.dispatcher.Dispatch(ctx, call)
			l.events.ToolExecution(sess.ID, call.Name, call.Input, result)

			body := result.Output
			if !result.Success {
				body = result.Err
			}
			toolMsg := fmt.Sprintf("Tool result: ```%s```", body)
			conv = append(conv, domain.Message{Role: domain.RoleUser, Content: toolMsg})
			if err := l.emit(ctx, sess.ID, sink, Event{Role: "tool_call", Content: toolMsg}); err != nil {
				return fmt.Errorf("loop.Run: %w", err)
			}
		}
	}
}

// finish records session completion and discards the session's stream file.
func (l *Loop) finish(sessionID string) {
	sess, err := l.sessions.Get(sessionID)
	if err == nil {
		l.events.SessionComplete(sessionID, sess.Rounds, sess.ToolNames(), time.Since(sess.StartedAt))
	}
	if err := l.buffer.Complete(sessionID); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("loop: buffer complete")
	}
}

// emit delivers the event to the caller sink and mirrors it on the session
// bus for watchers. Bus failures are logged and ignored; the caller stream
// is authoritative.
func (l *Loop) emit(ctx context.Context, sessionID string, sink Sink, ev Event) error {
	if l.bus != nil {
		if payload, err := json.Marshal(ev); err == nil {
			if perr := l.bus.Publish(ctx, bus.SessionChannel(sessionID), payload); perr != nil {
				log.Debug().Err(perr).Str("session_id", sessionID).Msg("loop: bus publish")
			}
		}
	}
	if sink == nil {
		return nil
	}
	return sink(ev)
}

// stripThinking removes <think> blocks from the stored assistant message and
// reports whether anything was removed.
func stripThinking(text string) (string, bool) {
	if !strings.Contains(text, "<think>") {
		return text, false
	}
	cleaned := thinkBlock.ReplaceAllString(text, "")
	cleaned = strings.TrimLeft(cleaned, "\n")
	return cleaned, cleaned != text
}
