package domain

import "time"

// ToolCallRequest is a parsed, model-emitted request to invoke a named tool.
// It is derived from exactly one turn and never mutated after creation.
type ToolCallRequest struct {
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// ToolCallResult is the outcome of dispatching a single tool call. Output
// holds the tool's string result on success; Err holds the wrapped failure
// message otherwise. Duration covers the tool invocation only.
type ToolCallResult struct {
	Success  bool          `json:"success"`
	Output   string        `json:"output"`
	Err      string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}
