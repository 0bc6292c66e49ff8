package repository

import (
	"context"

	"github.com/m-mizutani/docent/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

var ErrSessionNotFound = goerr.New("session not found")

// SessionStore persists conversation sessions. Every method taking a
// session id validates its format before touching storage and fails with
// model.ErrInvalidSessionID.
type SessionStore interface {
	// Create stores a new active session owned by userID
	Create(ctx context.Context, userID string) (*model.Session, error)

	// Get returns the session or nil when it does not exist
	Get(ctx context.Context, id model.SessionID) (*model.Session, error)

	// AddMessage appends msg and bumps updated_at in one atomic operation and
	// returns the updated session
	AddMessage(ctx context.Context, id model.SessionID, msg *model.ChatMessage) (*model.Session, error)

	UpdateStatus(ctx context.Context, id model.SessionID, status model.SessionStatus) (*model.Session, error)

	ClearHistory(ctx context.Context, id model.SessionID) (*model.Session, error)

	Close() error
}

func notFound(id model.SessionID) error {
	return goerr.Wrap(ErrSessionNotFound, "no such session", goerr.V("session_id", id.String()))
}
