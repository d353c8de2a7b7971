package v1

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/gosuda/loom/internal/loop"
)

type SessionView struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	Rounds    int       `json:"rounds"`
	Tools     []string  `json:"tools"`
	Chunks    int       `json:"chunks"`
	Bytes     int64     `json:"bytes"`
}

type ListSessionsOutput struct {
	Body *SessionList
}

type SessionList struct {
	Sessions []SessionView `json:"sessions"`
	Count    int           `json:"count"`
}

type GetSessionInput struct {
	SessionID string `path:"sessionID" doc:"Session ID"`
}

type GetSessionOutput struct {
	Body *SessionView
}

// RegisterSessionRoutes exposes running-session aggregates.
func RegisterSessionRoutes(api huma.API, sessions *loop.Store) {
	huma.Register(api, huma.Operation{
		OperationID: "list-sessions",
		Method:      http.MethodGet,
		Path:        "/sessions",
		Summary:     "List running sessions",
		Tags:        []string{"Sessions"},
	}, func(_ context.Context, _ *struct{}) (*ListSessionsOutput, error) {
		active := sessions.Active()
		views := make([]SessionView, 0, len(active))
		for _, sess := range active {
			views = append(views, SessionView{
				ID:        sess.ID,
				StartedAt: sess.StartedAt,
				Rounds:    sess.Rounds,
				Tools:     sess.ToolNames(),
				Chunks:    sess.Chunks,
				Bytes:     sess.Bytes,
			})
		}
		return &ListSessionsOutput{Body: &SessionList{
			Sessions: views,
			Count:    len(views),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/sessions/{sessionID}",
		Summary:     "Get one running session",
		Tags:        []string{"Sessions"},
	}, func(_ context.Context, input *GetSessionInput) (*GetSessionOutput, error) {
		sess, err := sessions.Get(input.SessionID)
		if err != nil {
			return nil, huma.Error404NotFound("session not found")
		}
		return &GetSessionOutput{Body: &SessionView{
			ID:        sess.ID,
			StartedAt: sess.StartedAt,
			Rounds:    sess.Rounds,
			Tools:     sess.ToolNames(),
			Chunks:    sess.Chunks,
			Bytes:     sess.Bytes,
		}}, nil
	})
}
