package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gregvolny/CSEntryWeb-sub001/dialog"
	"github.com/gregvolny/CSEntryWeb-sub001/errors"
	"github.com/gregvolny/CSEntryWeb-sub001/vfs"
)

// Registry maps session ids to live session records and owns their
// create/lookup/destroy lifecycle. At most one engine instance exists per
// registered id; creating a colliding id fails instead of overwriting the
// previous record.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	factory Factory
	spaces  *vfs.Manager
	log     *zap.Logger
}

func NewRegistry(factory Factory, spaces *vfs.Manager, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		sessions: make(map[string]*Session),
		factory:  factory,
		spaces:   spaces,
		log:      log,
	}
}

// Initialized reports whether the underlying engine runtime is loaded.
func (r *Registry) Initialized() bool {
	return r.factory.Initialized()
}

// Create builds an engine instance and namespace root for id and registers
// the record. Fails with not_initialized before the runtime is loaded and
// with session_exists on a colliding id.
func (r *Registry) Create(ctx context.Context, id string) (*Session, error) {
	if !r.factory.Initialized() {
		return nil, errors.NotInitialized("engine runtime")
	}

	r.mu.RLock()
	_, exists := r.sessions[id]
	r.mu.RUnlock()
	if exists {
		return nil, errors.SessionExists(id)
	}

	root, err := r.spaces.CreateRoot(id)
	if err != nil {
		return nil, err
	}

	inst, err := r.factory.NewInstance(ctx, id, root)
	if err != nil {
		r.spaces.RemoveSubtree(root)
		return nil, err
	}

	sess := &Session{
		ID:        id,
		Instance:  inst,
		Root:      root,
		CreatedAt: time.Now(),
		Dialogs:   dialog.NewBuffer(dialog.DefaultCapacity),
	}

	r.mu.Lock()
	if _, exists := r.sessions[id]; exists {
		r.mu.Unlock()
		// Lost a duplicate-create race; dispose what we built.
		if err := inst.Close(ctx); err != nil {
			r.log.Warn("instance disposal after create race failed",
				zap.String("session", id), zap.Error(err))
		}
		r.spaces.RemoveSubtree(root)
		return nil, errors.SessionExists(id)
	}
	r.sessions[id] = sess
	r.mu.Unlock()

	r.log.Info("session created", zap.String("session", id))
	return sess, nil
}

// Get is a pure lookup.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[id]
	return sess, ok
}

// Destroy disposes the session's engine instance, removes its namespace
// subtree and drops the record. Cleanup failures are logged, never raised;
// destroying an unknown id is a no-op. Idempotent.
func (r *Registry) Destroy(ctx context.Context, id string) {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return
	}

	if err := sess.Instance.Close(ctx); err != nil {
		r.log.Warn("engine instance disposal failed",
			zap.String("session", id), zap.Error(err))
	}
	r.spaces.RemoveSubtree(sess.Root)

	r.log.Info("session destroyed", zap.String("session", id))
}

// List returns a snapshot of all live sessions ordered by creation time.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, sess)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close destroys every live session, for process shutdown.
func (r *Registry) Close(ctx context.Context) {
	for _, sess := range r.List() {
		r.Destroy(ctx, sess.ID)
	}
}
