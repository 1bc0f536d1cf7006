package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/lumavoice/aura/domain/entities"
	"github.com/lumavoice/aura/domain/repositories"
)

type SessionRepository struct {
	collection *mongo.Collection
}

// NewSessionRepository creates a new MongoDB session repository
func NewSessionRepository(db *mongo.Database) repositories.SessionRepository {
	return &SessionRepository{
		collection: db.Collection("sessions"),
	}
}

// Create implements repositories.SessionRepository
func (r *SessionRepository) Create(ctx context.Context, session *entities.Session) error {
	if session == nil {
		return errors.New("session cannot be nil")
	}
	if err := session.Validate(); err != nil {
		return err
	}

	now := time.Now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	if session.LastActiveAt.IsZero() {
		session.LastActiveAt = now
	}
	if session.ID.IsZero() {
		session.ID = primitive.NewObjectID()
	}

	if _, err := r.collection.InsertOne(ctx, session); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetByID implements repositories.SessionRepository
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*entities.Session, error) {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("invalid session ID format: %w", err)
	}

	var session entities.Session
	err = r.collection.FindOne(ctx, bson.M{"_id": objectID}).Decode(&session)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return &session, nil
}

// GetLastByClientID implements repositories.SessionRepository
func (r *SessionRepository) GetLastByClientID(ctx context.Context, clientID string) (*entities.Session, error) {
	if clientID == "" {
		return nil, errors.New("client ID cannot be empty")
	}

	filter := bson.M{"client_id": clientID}
	opts := options.FindOne().SetSort(bson.M{"last_active_at": -1})

	var session entities.Session
	err := r.collection.FindOne(ctx, filter, opts).Decode(&session)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil // No session found, return nil without error
		}
		return nil, fmt.Errorf("failed to get last session for client %s: %w", clientID, err)
	}
	return &session, nil
}

// Update implements repositories.SessionRepository
func (r *SessionRepository) Update(ctx context.Context, session *entities.Session) error {
	if session == nil {
		return errors.New("session cannot be nil")
	}
	if session.ID.IsZero() {
		return errors.New("session ID cannot be empty")
	}

	update := bson.M{
		"$set": bson.M{
			"client_id":      session.ClientID,
			"last_active_at": session.LastActiveAt,
			"last_line_at":   session.LastLineAt,
			"expires_at":     session.ExpiresAt,
			"status":         session.Status,
			"lines":          session.Lines,
			"metadata":       session.Metadata,
		},
	}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": session.ID}, update)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("session with ID %s not found", session.ID.Hex())
	}
	return nil
}

// AppendLine pushes one finalized transcript line onto the session
// without rewriting the whole document. Lines stay append-only; the
// activity timestamps move forward with each line.
func (r *SessionRepository) AppendLine(ctx context.Context, sessionID string, line entities.TranscriptLine) error {
	objectID, err := primitive.ObjectIDFromHex(sessionID)
	if err != nil {
		return fmt.Errorf("invalid session ID format: %w", err)
	}

	now := time.Now()
	update := bson.M{
		"$push": bson.M{"lines": line},
		"$set": bson.M{
			"last_line_at":   now,
			"last_active_at": now,
			"expires_at":     now.Add(24 * time.Hour),
		},
	}

	result, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": objectID, "status": entities.SessionStatusActive},
		update)
	if err != nil {
		return fmt.Errorf("failed to append transcript line: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("no active session with ID %s", sessionID)
	}
	return nil
}

// ExpireSessions flips every active session past its expiration to
// expired. Run periodically by the cleanup loop.
func (r *SessionRepository) ExpireSessions(ctx context.Context) error {
	filter := bson.M{
		"status":     entities.SessionStatusActive,
		"expires_at": bson.M{"$lt": time.Now()},
	}
	update := bson.M{"$set": bson.M{"status": entities.SessionStatusExpired}}

	if _, err := r.collection.UpdateMany(ctx, filter, update); err != nil {
		return fmt.Errorf("failed to expire sessions: %w", err)
	}
	return nil
}
