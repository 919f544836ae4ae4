package screen

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/avc/patientforms/internal/platform/sessionstore"
)

var ErrSessionNotFound = errors.New("screen session not found")

// StoreFactory returns the record store a screen for owner should see.
type StoreFactory func(owner Owner) RecordStore

// Registry keeps the mounted screens. Screens not in memory are rebuilt from
// their persisted snapshot on first access.
type Registry struct {
	factory   StoreFactory
	snapshots sessionstore.Store
	deps      Deps
	logger    zerolog.Logger

	mu      sync.Mutex
	screens map[string]*Screen
}

func NewRegistry(factory StoreFactory, snapshots sessionstore.Store, deps Deps) *Registry {
	return &Registry{
		factory:   factory,
		snapshots: snapshots,
		deps:      deps,
		logger:    deps.Logger.With().Str("component", "screen-registry").Logger(),
		screens:   make(map[string]*Screen),
	}
}

// Mount creates a screen for owner and issues its first fetch.
func (r *Registry) Mount(ctx context.Context, owner Owner) (*Screen, <-chan struct{}, error) {
	s := New(uuid.New().String(), owner, r.factory(owner), r.deps)

	r.mu.Lock()
	r.screens[s.ID] = s
	r.mu.Unlock()

	if err := r.snapshots.Save(ctx, s.Snapshot()); err != nil {
		r.mu.Lock()
		delete(r.screens, s.ID)
		r.mu.Unlock()
		return nil, nil, err
	}
	r.deps.Metrics.ScreenMounted()
	return s, s.Mount(ctx), nil
}

// Get returns the screen with id if it belongs to owner. The returned
// channel is non-nil when the screen had to be rebuilt and remounted.
func (r *Registry) Get(ctx context.Context, id string, owner Owner) (*Screen, <-chan struct{}, error) {
	r.mu.Lock()
	s, ok := r.screens[id]
	r.mu.Unlock()
	if ok {
		if s.Owner != owner {
			return nil, nil, ErrSessionNotFound
		}
		return s, nil, nil
	}

	snap, err := r.snapshots.Load(ctx, id)
	if err != nil {
		if errors.Is(err, sessionstore.ErrSnapshotNotFound) {
			return nil, nil, ErrSessionNotFound
		}
		return nil, nil, err
	}
	restoredOwner := Owner{UserID: snap.Owner, Superuser: snap.Superuser}
	if restoredOwner != owner {
		return nil, nil, ErrSessionNotFound
	}

	r.mu.Lock()
	// another request may have restored it meanwhile
	if existing, ok := r.screens[id]; ok {
		r.mu.Unlock()
		return existing, nil, nil
	}
	s = New(id, owner, r.factory(owner), r.deps)
	s.Restore(*snap)
	r.screens[id] = s
	r.mu.Unlock()

	r.deps.Metrics.ScreenMounted()
	r.logger.Info().Str("screen_id", id).Int("selected", len(snap.Selection)).Msg("screen restored from snapshot")
	return s, s.Mount(ctx), nil
}

// Persist saves the screen's snapshot.
func (r *Registry) Persist(ctx context.Context, s *Screen) error {
	return r.snapshots.Save(ctx, s.Snapshot())
}

// Unmount drops the screen and its snapshot.
func (r *Registry) Unmount(ctx context.Context, id string, owner Owner) error {
	r.mu.Lock()
	s, ok := r.screens[id]
	if ok && s.Owner != owner {
		r.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(r.screens, id)
	r.mu.Unlock()

	if !ok {
		snap, err := r.snapshots.Load(ctx, id)
		if err != nil {
			if errors.Is(err, sessionstore.ErrSnapshotNotFound) {
				return ErrSessionNotFound
			}
			return err
		}
		if snap.Owner != owner.UserID || snap.Superuser != owner.Superuser {
			return ErrSessionNotFound
		}
	} else {
		r.deps.Metrics.ScreenUnmounted()
	}
	return r.snapshots.Delete(ctx, id)
}

// Len is the number of screens held in memory.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.screens)
}
