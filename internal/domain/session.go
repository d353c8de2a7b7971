package domain

import "time"

// Session tracks one end-to-end conversation instance for the lifetime of
// its loop invocation. Counters are mutated only through the session store,
// which serializes access; a completed session leaves no state behind beyond
// the event-log artifacts.
type Session struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`

	// Rounds counts completed model generation cycles.
	Rounds int `json:"rounds"`

	// ToolsUsed is the set of distinct tool names invoked so far.
	ToolsUsed map[string]struct{} `json:"-"`

	// Chunks and Bytes count streamed fragments and their total size.
	Chunks int   `json:"chunks"`
	Bytes  int64 `json:"bytes"`
}

// ToolNames returns the distinct tools invoked, unordered.
func (s *Session) ToolNames() []string {
	names := make([]string, 0, len(s.ToolsUsed))
	for name := range s.ToolsUsed {
		names = append(names, name)
	}
	return names
}
