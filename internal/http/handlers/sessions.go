package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/fieldcast/fieldcast/internal/session"
)

// SessionsHandler serves the active-session listing API.
type SessionsHandler struct {
	sessions *session.Manager
}

// NewSessionsHandler creates the sessions API handler.
func NewSessionsHandler(sessions *session.Manager) *SessionsHandler {
	return &SessionsHandler{sessions: sessions}
}

// SessionsOutput wraps the session listing for Huma.
type SessionsOutput struct {
	Body struct {
		Sessions []session.Snapshot `json:"sessions"`
		Active   int                `json:"active"`
	}
}

// Register registers the session routes.
func (h *SessionsHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listSessions",
		Method:      "GET",
		Path:        "/api/v1/sessions",
		Summary:     "List active sessions",
		Tags:        []string{"Sessions"},
	}, h.List)
}

// List returns a snapshot of every active session.
func (h *SessionsHandler) List(_ context.Context, _ *struct{}) (*SessionsOutput, error) {
	out := &SessionsOutput{}
	out.Body.Sessions = h.sessions.All()
	out.Body.Active = len(out.Body.Sessions)
	return out, nil
}
