// Package protocol extracts tool-call requests from raw model output.
//
// A tool call is delimited by literal marker tokens with the JSON payload
// wrapped in a fenced code block between them:
//
//	[[qwen-tool-start]]
//	```
//	{"name": "list_directory", "input": {"path": "."}}
//	```
//	[[qwen-tool-end]]
//
// The protocol permits exactly one call per turn.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gosuda/loom/internal/domain"
)

// Marker tokens bounding a tool-call block in generated text. These are
// wire-protocol literals and must not change.
const (
	StartMarker = "[[qwen-tool-start]]"
	EndMarker   = "[[qwen-tool-end]]"
)

// ErrProtocol is the sentinel wrapped by every protocol violation.
var ErrProtocol = errors.New("protocol: violation")

// Violation classifies why a turn failed protocol parsing.
type Violation string

const (
	ViolationMultipleCalls    Violation = "multiple tool calls"
	ViolationUnbalancedBraces Violation = "unbalanced braces"
	ViolationInvalidJSON      Violation = "invalid JSON"
	ViolationMissingName      Violation = "missing name"
)

// ProtocolError reports a malformed tool-call block.
type ProtocolError struct {
	Violation Violation
	Detail    string
}

func (e *ProtocolError) Error() string {
	if e.Detail == "" {
		return "protocol: " + string(e.Violation)
	}
	return "protocol: " + string(e.Violation) + ": " + e.Detail
}

func (e *ProtocolError) Unwrap() error { return ErrProtocol }

// Parse examines the full text of one turn and returns the single tool-call
// request it contains, or nil when the turn contains none. A *ProtocolError
// is returned for any malformed or multiple block.
//
// Parse is a pure function over the text; the brace-depth scan (not a
// JSON-aware cursor) is what locates the payload, so nested objects and
// arrays inside the payload are handled, while a payload truncated
// mid-object surfaces as an unbalanced-braces error.
func Parse(turn string) (*domain.ToolCallRequest, error) {
	switch n := strings.Count(turn, StartMarker); {
	case n == 0:
		return nil, nil
	case n > 1:
		// Fail fast; extraction is never attempted for multi-call turns.
		return nil, &ProtocolError{Violation: ViolationMultipleCalls, Detail: fmt.Sprintf("%d start markers", n)}
	}

	after := strings.Index(turn, StartMarker) + len(StartMarker)
	open := strings.IndexByte(turn[after:], '{')
	if open < 0 {
		return nil, &ProtocolError{Violation: ViolationInvalidJSON, Detail: "no JSON object after start marker"}
	}
	start := after + open

	end, ok := scanBalanced(turn[start:])
	if !ok {
		return nil, &ProtocolError{Violation: ViolationUnbalancedBraces}
	}
	payload := turn[start : start+end]

	var raw struct {
		Name  string          `json:"name"`
		Input json.RawMessage `json:"input"`
	}
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, &ProtocolError{Violation: ViolationInvalidJSON, Detail: err.Error()}
	}
	if raw.Name == "" {
		return nil, &ProtocolError{Violation: ViolationMissingName}
	}

	input, err := decodeInput(raw.Input)
	if err != nil {
		return nil, &ProtocolError{Violation: ViolationInvalidJSON, Detail: err.Error()}
	}

	return &domain.ToolCallRequest{Name: raw.Name, Input: input}, nil
}

// scanBalanced walks s from its opening brace, tracking brace depth, and
// returns the offset one past the matching close. ok is false when the text
// ends before depth returns to zero.
func scanBalanced(s string) (end int, ok bool) {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}

// decodeInput maps the input field to named parameters. Absent input and the
// literal empty string both mean "no parameters": some models emit "" where
// {} is expected, and that quirk is tolerated on purpose.
func decodeInput(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if asString == "" {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("input must be an object, got string %q", asString)
	}

	var input map[string]any
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, fmt.Errorf("input must be an object: %w", err)
	}
	if input == nil {
		input = map[string]any{}
	}
	return input, nil
}
