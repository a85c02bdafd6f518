// Package session is the process-wide ledger of live sessions. It holds no
// protocol logic; its correctness (no duplicate owners, no leaked entries)
// is load-bearing for resource safety under many concurrent sessions.
package session

import (
	"context"
	"sync"

	"github.com/gofrs/uuid"
	"github.com/uber-go/tally"
	"go.uber.org/multierr"

	"github.com/junolab/langbridge/src/langbridge/entity"
	"github.com/junolab/langbridge/src/langbridge/internal/errors"
	"github.com/junolab/langbridge/src/langbridge/mapper"
	"github.com/junolab/langbridge/src/langbridge/model"
)

// Repository is an entity-scoped repository. It starts empty and is drained
// via DisposeAll on gateway shutdown.
type Repository interface {
	Get(ctx context.Context, id uuid.UUID) (*entity.Session, error)
	GetFromContext(ctx context.Context) (*entity.Session, error)
	// Put registers a session. It fails with *errors.DuplicateSessionError
	// while a live entry exists for the same identifier.
	Put(ctx context.Context, s *entity.Session) error
	// Update replaces an existing entry. It fails with
	// *errors.UUIDNotFoundError if the session was never registered.
	Update(ctx context.Context, s *entity.Session) error
	// Delete removes the entry if present; deleting an absent id is a no-op.
	Delete(ctx context.Context, id uuid.UUID) error
	SessionCount(ctx context.Context) (int, error)
	// DisposeAll disposes every live session's owner and clears the table.
	DisposeAll(ctx context.Context) error
}

type repository struct {
	mu       sync.Mutex
	memstore map[uuid.UUID]*model.Session
	stats    tally.Scope
}

// New returns a repository to a key-value Session data store.
func New(stats tally.Scope) Repository {
	return &repository{
		memstore: make(map[uuid.UUID]*model.Session),
		stats:    stats,
	}
}

// Get returns the Session associated with the given id.
func (r *repository) Get(ctx context.Context, id uuid.UUID) (*entity.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.memstore[id]
	if !ok {
		return nil, &errors.UUIDNotFoundError{UUID: id}
	}
	return mapper.ModelToSession(f)
}

// GetFromContext returns the Session associated with the given context.
func (r *repository) GetFromContext(ctx context.Context) (*entity.Session, error) {
	id, err := mapper.ContextToSessionUUID(ctx)
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, id)
}

// Put registers the Session under its uuid, enforcing at most one live owner
// per session identifier.
func (r *repository) Put(ctx context.Context, f *entity.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if f == nil {
		return errors.New("can't save nil session")
	}
	if _, ok := r.memstore[f.UUID]; ok {
		return &errors.DuplicateSessionError{UUID: f.UUID}
	}

	r.memstore[f.UUID] = mapper.SessionToModel(f)
	r.stats.Gauge("active_sessions").Update(float64(len(r.memstore)))
	return nil
}

// Update replaces the stored state for an already registered Session.
func (r *repository) Update(ctx context.Context, f *entity.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if f == nil {
		return errors.New("can't save nil session")
	}
	if _, ok := r.memstore[f.UUID]; !ok {
		return &errors.UUIDNotFoundError{UUID: f.UUID}
	}

	r.memstore[f.UUID] = mapper.SessionToModel(f)
	return nil
}

// Delete removes the Session associated with the given id.
func (r *repository) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.memstore, id)
	r.stats.Gauge("active_sessions").Update(float64(len(r.memstore)))
	return nil
}

// SessionCount returns the total count of active sessions.
func (r *repository) SessionCount(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.memstore), nil
}

// DisposeAll drains the table, disposing each session's owner. Owners whose
// disposal callbacks re-enter Delete see a consistent (already empty) table.
func (r *repository) DisposeAll(ctx context.Context) error {
	r.mu.Lock()
	drained := make([]*model.Session, 0, len(r.memstore))
	for id, s := range r.memstore {
		drained = append(drained, s)
		delete(r.memstore, id)
	}
	r.stats.Gauge("active_sessions").Update(0)
	r.mu.Unlock()

	var errs error
	for _, s := range drained {
		if s.Owner != nil {
			errs = multierr.Append(errs, s.Owner.Dispose(ctx))
		}
	}
	return errs
}
