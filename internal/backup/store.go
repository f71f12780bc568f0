package backup

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nbsync/nbclient/internal/protocol"
)

// Backend is the durable key-value layer under the store: one serialized
// Backups record per notebook path. Implementations must be safe for
// concurrent use.
type Backend interface {
	// Load retrieves the backups for a path.
	// Returns ErrNotFound when the path is untracked.
	Load(ctx context.Context, path string) (*Backups, error)

	// Save persists the backups for a path, replacing any previous value.
	Save(ctx context.Context, path string, backups *Backups) error

	// Paths lists every tracked notebook path.
	Paths(ctx context.Context) ([]string, error)

	// DeleteAll wipes the store.
	DeleteAll(ctx context.Context) error

	// Close releases any resources held by the backend.
	Close() error
}

// Store is the front door for backup operations. It owns the retention and
// dedup policy and serializes writes per path so interleaved calls for the
// same notebook cannot lose updates; backends stay dumb.
type Store struct {
	backend Backend
	clock   func() time.Time

	mu        sync.Mutex
	pathLocks map[string]*sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the store's time source. Used by tests to simulate
// day boundaries.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

// NewStore creates a store over the given backend.
func NewStore(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend:   backend,
		clock:     time.Now,
		pathLocks: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) pathLock(path string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.pathLocks[path]
	if !ok {
		lock = &sync.Mutex{}
		s.pathLocks[path] = lock
	}
	return lock
}

// AddNotebook records a fresh snapshot for a path. Cells must already have
// transient result data stripped. Adding a snapshot structurally equal to
// the current latest one is a no-op.
func (s *Store) AddNotebook(ctx context.Context, path string, cells []Cell, config protocol.NotebookConfig) error {
	lock := s.pathLock(path)
	lock.Lock()
	defer lock.Unlock()

	bs, err := s.backend.Load(ctx, path)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		bs = NewBackups(path)
	}

	now := s.clock()
	nb := &Backup{
		Path:      path,
		Cells:     cells,
		Config:    config,
		Timestamp: now.UnixMilli(),
	}

	if latest := bs.Latest(now); latest != nil && latest.Equal(nb) {
		snapshotsDeduped.Inc()
		return nil
	}

	bucketEvicted, entryEvicted := bs.Add(nb, now)
	if bucketEvicted {
		evictions.WithLabelValues("bucket").Inc()
	}
	if entryEvicted {
		evictions.WithLabelValues("entry").Inc()
	}
	snapshotsWritten.Inc()

	return s.backend.Save(ctx, path, bs)
}

// UpdateNotebook appends an incremental edit record to the latest backup for
// a path. Returns ErrNotFound when no snapshot has been seeded yet.
func (s *Store) UpdateNotebook(ctx context.Context, path string, msg *protocol.Message) error {
	lock := s.pathLock(path)
	lock.Lock()
	defer lock.Unlock()

	bs, err := s.backend.Load(ctx, path)
	if err != nil {
		return err
	}

	now := s.clock()
	latest := bs.Latest(now)
	if latest == nil {
		return ErrNotFound
	}

	latest.Updates = append(latest.Updates, Update{
		Timestamp: now.UnixMilli(),
		Message:   msg,
	})
	updatesRecorded.Inc()

	return s.backend.Save(ctx, path, bs)
}

// GetBackups returns the backups for a path.
// Returns ErrNotFound when the path is untracked.
func (s *Store) GetBackups(ctx context.Context, path string) (*Backups, error) {
	return s.backend.Load(ctx, path)
}

// AllBackups returns every stored path's backup set, keyed by path.
func (s *Store) AllBackups(ctx context.Context) (map[string]*Backups, error) {
	paths, err := s.backend.Paths(ctx)
	if err != nil {
		return nil, err
	}

	all := make(map[string]*Backups, len(paths))
	for _, path := range paths {
		bs, err := s.backend.Load(ctx, path)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// Deleted between the listing and the load.
				continue
			}
			return nil, err
		}
		all[path] = bs
	}
	return all, nil
}

// ClearBackups returns the full contents of the store, then wipes it.
func (s *Store) ClearBackups(ctx context.Context) (map[string]*Backups, error) {
	all, err := s.AllBackups(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.backend.DeleteAll(ctx); err != nil {
		return nil, err
	}
	return all, nil
}

// Close releases the underlying backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
