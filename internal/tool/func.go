package tool

import "context"

// CallFunc is the signature of a tool body.
type CallFunc func(ctx context.Context, args map[string]any) (string, error)

// funcTool adapts a plain function and its metadata into a Tool. Tool
// packages with many small operations use this instead of one struct per
// operation.
type funcTool struct {
	name        string
	description string
	params      []Param
	returns     string
	fn          CallFunc
}

// NewFunc wraps fn as a Tool with the given metadata.
func NewFunc(name, description string, params []Param, returns string, fn CallFunc) Tool {
	return &funcTool{
		name:        name,
		description: description,
		params:      params,
		returns:     returns,
		fn:          fn,
	}
}

func (t *funcTool) Name() string        { return t.name }
func (t *funcTool) Description() string { return t.description }
func (t *funcTool) Params() []Param     { return t.params }
func (t *funcTool) Returns() string     { return t.returns }
func (t *funcTool) Call(ctx context.Context, args map[string]any) (string, error) {
	return t.fn(ctx, args)
}
