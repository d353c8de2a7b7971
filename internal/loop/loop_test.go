package loop_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/loom/internal/bus"
	"github.com/gosuda/loom/internal/domain"
	"github.com/gosuda/loom/internal/eventlog"
	"github.com/gosuda/loom/internal/logbuffer"
	"github.com/gosuda/loom/internal/loop"
	"github.com/gosuda/loom/internal/provider"
	"github.com/gosuda/loom/internal/tool"
)

// scriptedStreamer replays canned turns, one per Stream call, and records
// the conversation passed to each call.
type scriptedStreamer struct {
	turns []string
	calls [][]domain.Message
}

func (s *scriptedStreamer) Stream(_ context.Context, req provider.Request, onChunk func(string) error) (string, error) {
	conv := make([]domain.Message, len(req.Messages))
	copy(conv, req.Messages)
	s.calls = append(s.calls, conv)

	if len(s.turns) == 0 {
		return "", fmt.Errorf("scripted streamer exhausted after %d turns", len(s.calls)-1)
	}
	turn := s.turns[0]
	s.turns = s.turns[1:]

	// Deliver in small chunks to exercise accumulation.
	for i := 0; i < len(turn); i += 7 {
		end := min(i+7, len(turn))
		if err := onChunk(turn[i:end]); err != nil {
			return "", err
		}
	}
	return turn, nil
}

type echoTool struct{}

func (echoTool) Name() string         { return "echo" }
func (echoTool) Description() string  { return "echoes its input" }
func (echoTool) Params() []tool.Param { return nil }
func (echoTool) Returns() string      { return "String - the echoed text" }
func (echoTool) Call(_ context.Context, args map[string]any) (string, error) {
	if text, ok := args["text"].(string); ok {
		return "echo: " + text, nil
	}
	return "echo: <nothing>", nil
}

type failingTool struct{}

func (failingTool) Name() string         { return "broken" }
func (failingTool) Description() string  { return "always fails" }
func (failingTool) Params() []tool.Param { return nil }
func (failingTool) Returns() string      { return "String" }
func (failingTool) Call(context.Context, map[string]any) (string, error) {
	return "", fmt.Errorf("disk on fire")
}

type harness struct {
	loop      *loop.Loop
	streamer  *scriptedStreamer
	sessions  *loop.Store
	bufferDir string
}

func newHarness(t *testing.T, turns []string, opts loop.Options) *harness {
	t.Helper()

	registry := tool.NewRegistry()
	registry.Register(echoTool{})
	registry.Register(failingTool{})

	bufferDir := t.TempDir()
	buf, err := logbuffer.New(bufferDir, time.Minute)
	require.NoError(t, err)

	events, err := eventlog.New(t.TempDir(), false, 2000)
	require.NoError(t, err)
	t.Cleanup(func() { events.Close() })

	streamer := &scriptedStreamer{turns: turns}
	sessions := loop.NewStore()

	return &harness{
		loop: loop.New(streamer, tool.NewDispatcher(registry), buf, events,
			bus.NewMemory(), sessions, opts),
		streamer:  streamer,
		sessions:  sessions,
		bufferDir: bufferDir,
	}
}

func userConv(content string) []domain.Message {
	return []domain.Message{
		{Role: domain.RoleSystem, Content: "You have tools."},
		{Role: domain.RoleUser, Content: content},
	}
}

func toolCallTurn(name, input string) string {
	return fmt.Sprintf("Let me check.\n[[qwen-tool-start]]\n```json\n{\"name\": %q, \"input\": %s}\n```\n[[qwen-tool-end]]", name, input)
}

func TestRunPlainAnswerTerminates(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []string{"Just an answer."}, loop.Options{})

	var events []loop.Event
	err := h.loop.Run(context.Background(), loop.Request{SessionID: "s1", Messages: userConv("hi")}, func(ev loop.Event) error {
		events = append(events, ev)
		return nil
	})
	require.NoError(t, err)

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, "done", last.Type)

	var text strings.Builder
	for _, ev := range events {
		if ev.Type == "chunk" {
			text.WriteString(ev.Content)
		}
	}
	assert.Equal(t, "Just an answer.", text.String())

	// Session is gone and its stream file was removed.
	_, err = h.sessions.Get("s1")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, err = os.Stat(filepath.Join(h.bufferDir, "session-s1.log"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestRunDispatchesToolAndLoops(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []string{
		toolCallTurn("echo", `{"text": "ping"}`),
		"The tool said ping.",
	}, loop.Options{})

	var events []loop.Event
	err := h.loop.Run(context.Background(), loop.Request{SessionID: "s1", Messages: userConv("run echo")}, func(ev loop.Event) error {
		events = append(events, ev)
		return nil
	})
	require.NoError(t, err)

	var toolEvents []loop.Event
	for _, ev := range events {
		if ev.Role == "tool_call" {
			toolEvents = append(toolEvents, ev)
		}
	}
	require.Len(t, toolEvents, 1)
	assert.Equal(t, "Tool result: ```echo: ping```", toolEvents[0].Content)

	// Second generation saw the assistant turn plus the synthetic result.
	require.Len(t, h.streamer.calls, 2)
	second := h.streamer.calls[1]
	require.Len(t, second, 4)
	assert.Equal(t, domain.RoleAssistant, second[2].Role)
	assert.Contains(t, second[2].Content, "[[qwen-tool-start]]")
	assert.Equal(t, domain.RoleUser, second[3].Role)
	assert.Equal(t, "Tool result: ```echo: ping```", second[3].Content)
}

func TestRunToolFailureFedBack(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []string{
		toolCallTurn("broken", `""`),
		"That did not work.",
	}, loop.Options{})

	err := h.loop.Run(context.Background(), loop.Request{SessionID: "s1", Messages: userConv("break it")}, nil)
	require.NoError(t, err)

	require.Len(t, h.streamer.calls, 2)
	last := h.streamer.calls[1][3]
	assert.Equal(t, domain.RoleUser, last.Role)
	assert.Contains(t, last.Content, "Tool result: ```")
	assert.Contains(t, last.Content, "disk on fire")
}

func TestRunUnknownToolFedBack(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []string{
		toolCallTurn("no_such_tool", `""`),
		"I will stop guessing.",
	}, loop.Options{})

	err := h.loop.Run(context.Background(), loop.Request{SessionID: "s1", Messages: userConv("hm")}, nil)
	require.NoError(t, err)

	require.Len(t, h.streamer.calls, 2)
	last := h.streamer.calls[1][3]
	assert.Contains(t, last.Content, "unknown tool")
}

func TestRunMultipleCallsViolation(t *testing.T) {
	t.Parallel()

	doubled := toolCallTurn("echo", `{"text": "a"}`) + "\n" + toolCallTurn("echo", `{"text": "b"}`)
	h := newHarness(t, []string{doubled, "One at a time, understood."}, loop.Options{})

	var events []loop.Event
	err := h.loop.Run(context.Background(), loop.Request{SessionID: "s1", Messages: userConv("do two things")}, func(ev loop.Event) error {
		events = append(events, ev)
		return nil
	})
	require.NoError(t, err)

	// The registry was never touched; the violation reply went back instead,
	// and the model sees its own doubled turn right before it.
	require.Len(t, h.streamer.calls, 2)
	second := h.streamer.calls[1]
	require.Len(t, second, 4)
	assert.Equal(t, domain.RoleAssistant, second[2].Role)
	assert.Contains(t, second[2].Content, "[[qwen-tool-start]]")
	assert.Equal(t, domain.RoleUser, second[3].Role)
	assert.Equal(t, "Tool Call Error: Multiple tool calls found. Please only use one tool at a time.", second[3].Content)

	var toolEvents []loop.Event
	for _, ev := range events {
		if ev.Role == "tool_call" {
			toolEvents = append(toolEvents, ev)
		}
	}
	require.Len(t, toolEvents, 1)
	assert.Contains(t, toolEvents[0].Content, "Multiple tool calls found")
}

func TestRunMalformedCallCorrected(t *testing.T) {
	t.Parallel()

	bad := "[[qwen-tool-start]]\n```json\n{\"name\": \"echo\", \"input\": {bad}\n```\n[[qwen-tool-end]]"
	h := newHarness(t, []string{bad, "Sorry, fixed now."}, loop.Options{})

	err := h.loop.Run(context.Background(), loop.Request{SessionID: "s1", Messages: userConv("go")}, nil)
	require.NoError(t, err)

	require.Len(t, h.streamer.calls, 2)
	second := h.streamer.calls[1]
	require.Len(t, second, 4)
	assert.Equal(t, domain.RoleAssistant, second[2].Role)
	assert.Contains(t, second[2].Content, "{bad}")
	assert.Equal(t, domain.RoleUser, second[3].Role)
	assert.Contains(t, second[3].Content, "No valid tool call found")
}

func TestRunMaxRoundsBound(t *testing.T) {
	t.Parallel()

	// The model keeps calling tools forever; the bound must end the loop.
	turns := make([]string, 10)
	for i := range turns {
		turns[i] = toolCallTurn("echo", `{"text": "again"}`)
	}
	h := newHarness(t, turns, loop.Options{MaxRounds: 3})

	err := h.loop.Run(context.Background(), loop.Request{SessionID: "s1", Messages: userConv("loop forever")}, nil)
	require.NoError(t, err)
	assert.Len(t, h.streamer.calls, 3)
}

func TestRunStripsThinkingBlocks(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []string{
		"<think>secret scratchpad</think>\n" + toolCallTurn("echo", `{"text": "x"}`),
		"Done.",
	}, loop.Options{})

	err := h.loop.Run(context.Background(), loop.Request{SessionID: "s1", Messages: userConv("go")}, nil)
	require.NoError(t, err)

	require.Len(t, h.streamer.calls, 2)
	stored := h.streamer.calls[1][2]
	assert.Equal(t, domain.RoleAssistant, stored.Role)
	assert.NotContains(t, stored.Content, "<think>")
	assert.NotContains(t, stored.Content, "scratchpad")
	assert.Contains(t, stored.Content, "[[qwen-tool-start]]")
}

func TestRunSinkErrorAborts(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []string{"long answer that streams in several chunks"}, loop.Options{})

	calls := 0
	err := h.loop.Run(context.Background(), loop.Request{SessionID: "s1", Messages: userConv("hi")}, func(loop.Event) error {
		calls++
		if calls > 1 {
			return fmt.Errorf("client disconnected")
		}
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client disconnected")

	// Aborted sessions are still deregistered.
	_, err = h.sessions.Get("s1")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestRunDuplicateSessionRejected(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []string{"fine"}, loop.Options{})

	_, err := h.sessions.Begin("busy")
	require.NoError(t, err)

	err = h.loop.Run(context.Background(), loop.Request{SessionID: "busy", Messages: userConv("hi")}, nil)
	require.ErrorIs(t, err, domain.ErrSessionActive)
}

func TestRunGeneratesSessionID(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []string{toolCallTurn("echo", `""`), "ok"}, loop.Options{})

	err := h.loop.Run(context.Background(), loop.Request{SessionID: "", Messages: userConv("hi")}, nil)
	require.NoError(t, err)
	require.Len(t, h.streamer.calls, 2)
}

func TestStoreActiveSnapshots(t *testing.T) {
	t.Parallel()

	s := loop.NewStore()
	sess, err := s.Begin("a")
	require.NoError(t, err)
	require.NoError(t, s.Update(sess.ID, func(d *domain.Session) {
		d.Rounds = 2
		d.ToolsUsed["echo"] = struct{}{}
	}))

	active := s.Active()
	require.Len(t, active, 1)
	assert.Equal(t, 2, active[0].Rounds)
	assert.Equal(t, []string{"echo"}, active[0].ToolNames())

	s.End("a")
	assert.Empty(t, s.Active())
}
