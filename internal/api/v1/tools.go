// Package v1 holds the typed read-only discovery API.
package v1

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/gosuda/loom/internal/tool"
)

type ListToolsOutput struct {
	Body *ToolCatalog
}

type ToolCatalog struct {
	Tools []tool.Schema `json:"tools"`
	Count int           `json:"count"`
}

// RegisterToolRoutes exposes the tool catalog for capability discovery.
func RegisterToolRoutes(api huma.API, registry *tool.Registry) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tools",
		Method:      http.MethodGet,
		Path:        "/tools",
		Summary:     "List available tools",
		Tags:        []string{"Tools"},
	}, func(_ context.Context, _ *struct{}) (*ListToolsOutput, error) {
		schemas := registry.Schemas()
		return &ListToolsOutput{Body: &ToolCatalog{
			Tools: schemas,
			Count: len(schemas),
		}}, nil
	})
}
