// Package tool defines the Tool interface, the registry that maps tool names
// to implementations, and the dispatcher that executes parsed tool-call
// requests with isolated failure handling.
package tool

import "context"

// Param describes one named tool parameter for capability discovery and for
// the system-prompt advertisement.
type Param struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Description string `json:"description"`
}

// Tool is a named, independently invocable host-side operation. Input arrives
// as a mapping of named parameters decoded from JSON; the result is a single
// string (tools that produce structured data encode it as JSON themselves).
type Tool interface {
	Name() string
	Description() string
	Params() []Param
	Returns() string
	Call(ctx context.Context, args map[string]any) (string, error)
}

// Schema is the machine-readable description of one tool, exposed by the
// discovery API.
type Schema struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Params      []Param `json:"parameters"`
	Returns     string  `json:"returns"`
}
