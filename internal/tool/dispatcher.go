package tool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gosuda/loom/internal/domain"
)

// Dispatcher validates a parsed tool-call request against the registry and
// invokes the tool. Tool failures never escape: they are caught, wrapped with
// the tool name, and returned inside the result so the loop can feed them
// back to the model.
type Dispatcher struct {
	registry *Registry
}

func NewDispatcher(registry *Registry) *Dispatcher {
	return &Dispatcher{registry: registry}
}

// Dispatch executes req and returns the result. Execution time is measured
// and attached for observability. A panicking tool is recovered and reported
// as an ordinary failure.
func (d *Dispatcher) Dispatch(ctx context.Context, req *domain.ToolCallRequest) domain.ToolCallResult {
	start := time.Now()

	t, err := d.registry.Get(req.Name)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownTool) {
			return domain.ToolCallResult{
				Err:      fmt.Sprintf("unknown tool %q", req.Name),
				Duration: time.Since(start),
			}
		}
		return domain.ToolCallResult{
			Err:      err.Error(),
			Duration: time.Since(start),
		}
	}

	// The parser normalizes absent and empty-string input to an empty map,
	// so a tool always receives a usable (possibly empty) parameter set.
	args := req.Input
	if args == nil {
		args = map[string]any{}
	}

	output, err := d.invoke(ctx, t, args)
	if err != nil {
		return domain.ToolCallResult{
			Err:      fmt.Sprintf("tool %s: %s", req.Name, err.Error()),
			Duration: time.Since(start),
		}
	}

	return domain.ToolCallResult{
		Success:  true,
		Output:   output,
		Duration: time.Since(start),
	}
}

// invoke calls the tool, converting a panic into an error.
func (d *Dispatcher) invoke(ctx context.Context, t Tool, args map[string]any) (output string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return t.Call(ctx, args)
}
