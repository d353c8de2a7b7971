// Package eventlog records structured session events to daily NDJSON files.
// It is strictly best-effort: a logging failure must never break the session
// that triggered it, so write errors go to the process diagnostic logger and
// are otherwise swallowed.
package eventlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/loom/internal/domain"
)

// truncationMark is appended to bodies cut by privacy mode.
const truncationMark = "...[truncated]"

// SessionStats are in-memory aggregates kept for a session's lifetime.
type SessionStats struct {
	SessionID string    `json:"session_id"`
	StartedAt time.Time `json:"started_at"`
	Events    int       `json:"events"`
	ToolCalls int       `json:"tool_calls"`
	Errors    int       `json:"errors"`
}

// Logger writes events to events-YYYY-MM-DD.jsonl and errors additionally to
// errors-YYYY-MM-DD.log under dir, rotating when the date changes.
type Logger struct {
	dir     string
	privacy bool
	maxBody int
	now     func() time.Time

	mu      sync.Mutex
	day     string
	eventsF *os.File
	errorsF *os.File
	events  zerolog.Logger
	stats   map[string]*SessionStats
}

// Option configures a Logger.
type Option func(*Logger)

// WithNow overrides the clock, for rotation tests.
func WithNow(now func() time.Time) Option {
	return func(l *Logger) { l.now = now }
}

// New creates an event logger writing under dir. When privacy is true,
// message and result bodies longer than maxBody bytes are truncated.
func New(dir string, privacy bool, maxBody int, opts ...Option) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("eventlog.New: %w", err)
	}
	l := &Logger{
		dir:     dir,
		privacy: privacy,
		maxBody: maxBody,
		now:     time.Now,
		events:  zerolog.Nop(),
		stats:   map[string]*SessionStats{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// InferenceStart records the start of one model stream.
func (l *Logger) InferenceStart(sessionID string, messageCount int) {
	l.emit(sessionID, func(e *zerolog.Event) {
		e.Str("event", "inference_start").Int("message_count", messageCount)
	})
}

// AssistantResponse records one completed assistant turn.
func (l *Logger) AssistantResponse(sessionID, text string, chunkCount int, thinkingStripped bool) {
	l.emit(sessionID, func(e *zerolog.Event) {
		e.Str("event", "assistant_response").
			Str("content", l.truncate(text)).
			Int("length", len(text)).
			Int("chunk_count", chunkCount).
			Bool("thinking_stripped", thinkingStripped)
	})
}

// ToolExecution records one dispatched tool call and its outcome.
func (l *Logger) ToolExecution(sessionID, name string, input map[string]any, result domain.ToolCallResult) {
	l.mu.Lock()
	if s, ok := l.stats[sessionID]; ok {
		s.ToolCalls++
	}
	l.mu.Unlock()

	l.emit(sessionID, func(e *zerolog.Event) {
		e.Str("event", "tool_execution").
			Str("tool", name).
			Interface("input", input).
			Bool("success", result.Success).
			Dur("duration", result.Duration)
		if result.Success {
			e.Str("result", l.truncate(result.Output))
		} else {
			e.Str("error", l.truncate(result.Err))
		}
	})
}

// SessionComplete records the end of a session and drops its counters.
func (l *Logger) SessionComplete(sessionID string, rounds int, tools []string, duration time.Duration) {
	l.emit(sessionID, func(e *zerolog.Event) {
		e.Str("event", "session_complete").
			Int("rounds", rounds).
			Strs("tools_used", tools).
			Dur("duration", duration)
	})

	l.mu.Lock()
	delete(l.stats, sessionID)
	l.mu.Unlock()
}

// Drop discards a session's counters without recording completion. Used when
// a session is aborted rather than finished.
func (l *Logger) Drop(sessionID string) {
	l.mu.Lock()
	delete(l.stats, sessionID)
	l.mu.Unlock()
}

// Error records an error event, and appends it to the plain-text error file
// for grep-ability.
func (l *Logger) Error(sessionID, errType, message, context string) {
	l.mu.Lock()
	if s, ok := l.stats[sessionID]; ok {
		s.Errors++
	}
	l.mu.Unlock()

	l.emit(sessionID, func(e *zerolog.Event) {
		e.Str("event", "error").
			Str("error_type", errType).
			Str("message", l.truncate(message)).
			Str("context", context)
	})

	l.mu.Lock()
	defer l.mu.Unlock()
	l.rotateLocked()
	if l.errorsF == nil {
		return
	}
	line := fmt.Sprintf("%s [%s] %s: %s (%s)\n",
		l.now().UTC().Format(time.RFC3339), sessionID, errType, message, context)
	if _, err := l.errorsF.WriteString(line); err != nil {
		log.Error().Err(err).Msg("eventlog: writing error file")
	}
}

// Stats returns a snapshot of the session's counters, or false if the
// session is unknown.
func (l *Logger) Stats(sessionID string) (SessionStats, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.stats[sessionID]
	if !ok {
		return SessionStats{}, false
	}
	return *s, true
}

// ActiveSessions returns counter snapshots for all sessions that have logged
// events and not yet completed, ordered by start time.
func (l *Logger) ActiveSessions() []SessionStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]SessionStats, 0, len(l.stats))
	for _, s := range l.stats {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Close closes the underlying files.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeLocked()
	return nil
}

// emit writes one event line with common fields, tracking per-session
// counters. Failures never propagate to the caller.
func (l *Logger) emit(sessionID string, fill func(*zerolog.Event)) {
	l.mu.Lock()
	l.rotateLocked()
	s, ok := l.stats[sessionID]
	if !ok {
		s = &SessionStats{SessionID: sessionID, StartedAt: l.now()}
		l.stats[sessionID] = s
	}
	s.Events++
	logger := l.events
	l.mu.Unlock()

	e := logger.Log().Str("session_id", sessionID)
	fill(e)
	e.Msg("")
}

// rotateLocked reopens the daily files when the date changes. Open failures
// leave a nop event logger in place so callers keep working.
func (l *Logger) rotateLocked() {
	day := l.now().UTC().Format("2006-01-02")
	if day == l.day && l.eventsF != nil {
		return
	}
	l.closeLocked()
	l.day = day

	eventsPath := filepath.Join(l.dir, "events-"+day+".jsonl")
	f, err := os.OpenFile(eventsPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		log.Error().Err(err).Str("path", eventsPath).Msg("eventlog: opening events file")
		l.events = zerolog.Nop()
	} else {
		l.eventsF = f
		l.events = zerolog.New(f).With().Timestamp().Logger()
	}

	errorsPath := filepath.Join(l.dir, "errors-"+day+".log")
	ef, err := os.OpenFile(errorsPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		log.Error().Err(err).Str("path", errorsPath).Msg("eventlog: opening errors file")
	} else {
		l.errorsF = ef
	}
}

func (l *Logger) closeLocked() {
	if l.eventsF != nil {
		l.eventsF.Close()
		l.eventsF = nil
	}
	if l.errorsF != nil {
		l.errorsF.Close()
		l.errorsF = nil
	}
	l.events = zerolog.Nop()
}

func (l *Logger) truncate(s string) string {
	if !l.privacy || len(s) <= l.maxBody {
		return s
	}
	// Back up to a rune boundary so the cut never leaves invalid UTF-8.
	cut := l.maxBody
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + truncationMark
}
