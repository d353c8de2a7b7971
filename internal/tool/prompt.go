package tool

import (
	"strings"

	"github.com/gosuda/loom/internal/protocol"
)

// Catalog renders the human-readable tool listing injected into the system
// prompt: one block per tool with its parameters and return contract.
func Catalog(r *Registry) string {
	var sb strings.Builder

	for _, s := range r.Schemas() {
		sb.WriteString("-" + s.Name + ": " + s.Description + "\n")
		sb.WriteString("    Parameters:\n")
		if len(s.Params) == 0 {
			sb.WriteString("    None. This tool does not need a parameter.\n")
		} else {
			for _, p := range s.Params {
				req := "(required, "
				if !p.Required {
					req = "(optional, "
				}
				sb.WriteString("    - " + p.Name + " " + req + p.Type + "): " + p.Description + "\n")
			}
		}
		sb.WriteString("    Returns: " + s.Returns + "\n\n")
	}

	return sb.String()
}

// FormatInstructions renders the calling-convention section of the system
// prompt: the marker format, worked examples, and the follow-up rules. The
// examples use the exact wire format the parser accepts, including the
// empty-string input form.
func FormatInstructions() string {
	var sb strings.Builder

	sb.WriteString("\nWhen you want to use a tool, make a tool call (no explanations) using this exact format:\n\n")
	sb.WriteString(protocol.StartMarker + "\n")
	sb.WriteString("```\n{\n    \"name\": \"tool_name\",\n    \"input\": {\n        \"param1\": \"value1\",\n        \"param2\": \"value2\"\n    }\n}\n```\n")
	sb.WriteString(protocol.EndMarker + "\n\n")
	sb.WriteString("Note that the triple backticks (```) are part of the format!\n\n")

	sb.WriteString("Example 1:\n************************\n")
	sb.WriteString("User: What is your current working directory?\nAssistant:\n")
	sb.WriteString(protocol.StartMarker + "\n```\n{\n    \"name\": \"get_cwd\",\n    \"input\": \"\"\n}\n```\n" + protocol.EndMarker + "\n")
	sb.WriteString("**********************\n\n")

	sb.WriteString("Example 2:\n************************\n")
	sb.WriteString("User: List the files in your current working directory.\nAssistant:\n")
	sb.WriteString(protocol.StartMarker + "\n```\n{\n    \"name\": \"list_directory\",\n    \"input\": {\n        \"path\": \".\"\n    }\n}\n```\n" + protocol.EndMarker + "\n")
	sb.WriteString("**********************\n\n")

	sb.WriteString("Immediately end your response after calling a tool and the final triple backticks.\n\n")
	sb.WriteString("ONLY ONE TOOL CALL IS ALLOWED PER MESSAGE.\n\n")
	sb.WriteString("NOTE: User messages that start with \"Tool result:\" are actually TOOL MESSAGES (automated, from tool execution) and do not come from the user.\n\n")
	sb.WriteString("After receiving the results of a tool call, do not parrot everything back to the user.\n")
	sb.WriteString("Instead, just briefly summarize the results in 1-2 sentences.\n")

	return sb.String()
}

// SystemPrompt assembles the full tool-aware system prompt from the registry.
func SystemPrompt(r *Registry) string {
	var sb strings.Builder
	sb.WriteString("You are a helpful assistant with access to the following tools:\n\n")
	sb.WriteString(Catalog(r))
	sb.WriteString(FormatInstructions())
	return sb.String()
}
