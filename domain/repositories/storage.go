package repositories

import (
	"context"

	"github.com/lumavoice/aura/domain/entities"
)

// SessionRepository defines data access methods for transcript sessions
type SessionRepository interface {
	Create(ctx context.Context, session *entities.Session) error
	GetByID(ctx context.Context, id string) (*entities.Session, error)
	GetLastByClientID(ctx context.Context, clientID string) (*entities.Session, error)
	Update(ctx context.Context, session *entities.Session) error
	// AppendLine appends a finalized transcript line without rewriting the
	// whole document.
	AppendLine(ctx context.Context, sessionID string, line entities.TranscriptLine) error
	// ExpireSessions marks sessions past their expiration as expired.
	ExpireSessions(ctx context.Context) error
}
