package mapper

import (
	"context"
	"time"

	"github.com/gofrs/uuid"

	"github.com/junolab/langbridge/src/langbridge/entity"
	"github.com/junolab/langbridge/src/langbridge/internal/errors"
	"github.com/junolab/langbridge/src/langbridge/model"
)

// SessionToModel maps a Session entity to its model equivalent.
func SessionToModel(f *entity.Session) *model.Session {
	return &model.Session{
		UUID:             f.UUID,
		Family:           string(f.Family),
		CreatedAt:        f.CreatedAt,
		WorkDir:          f.WorkDir,
		InitializeParams: f.InitializeParams,
		Conn:             f.Conn,
		Owner:            f.Owner,
	}
}

// ModelToSession maps a model Session to its entity equivalent.
func ModelToSession(f *model.Session) (*entity.Session, error) {
	return &entity.Session{
		UUID:             f.UUID,
		Family:           entity.FamilyName(f.Family),
		CreatedAt:        f.CreatedAt,
		WorkDir:          f.WorkDir,
		InitializeParams: f.InitializeParams,
		Conn:             f.Conn,
		Owner:            f.Owner,
	}, nil
}

// UUIDToSession initializes a new Session entity with the assigned uuid and family.
func UUIDToSession(u uuid.UUID, family entity.FamilyName) *entity.Session {
	return &entity.Session{
		UUID:      u,
		Family:    family,
		CreatedAt: time.Now(),
	}
}

// ContextToSessionUUID extracts the UUID from a context.
func ContextToSessionUUID(c context.Context) (uuid.UUID, error) {
	s, ok := c.Value(entity.SessionContextKey).(uuid.UUID)
	if !ok {
		return uuid.Nil, &errors.NoSessionFoundError{}
	}
	return s, nil
}
