// Package fs persists engine snapshots to the local filesystem.
package fs

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aretw0/humus/pkg/engine"
)

// Store reads and writes one snapshot file.
type Store struct {
	path     string
	compress bool
	perm     os.FileMode
	logger   *slog.Logger

	mu       sync.Mutex
	saves    int
	loads    int
	lastSave *time.Time
	lastSize int
	lastSum  Digest
}

// Option configures a Store.
type Option func(*Store)

// WithCompression toggles zstd compression of the payload. It is on by
// default.
func WithCompression(on bool) Option {
	return func(s *Store) {
		s.compress = on
	}
}

// WithPerm sets the file mode of written snapshots.
func WithPerm(perm os.FileMode) Option {
	return func(s *Store) {
		s.perm = perm
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// NewStore creates a store for the snapshot at path. Nothing is touched on
// disk until Save or Load.
func NewStore(path string, opts ...Option) *Store {
	s := &Store{
		path:     path,
		compress: true,
		perm:     0o600,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the snapshot file path.
func (s *Store) Path() string { return s.path }

// Save writes a snapshot atomically, creating parent directories.
func (s *Store) Save(snap *engine.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	data, sum := pack(payload, s.compress)

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	if err := writeAtomic(s.path, data, s.perm); err != nil {
		return err
	}

	s.mu.Lock()
	now := time.Now()
	s.saves++
	s.lastSave = &now
	s.lastSize = len(data)
	s.lastSum = sum
	s.mu.Unlock()

	s.logger.Debug("snapshot saved", "path", s.path, "bytes", len(data), "digest", sum.String())
	return nil
}

// Load reads and validates the snapshot. A missing file yields an error
// matching os.ErrNotExist.
func (s *Store) Load() (*engine.Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	payload, sum, err := unpack(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.path, err)
	}
	var snap engine.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", s.path, ErrCorrupt, err)
	}

	s.mu.Lock()
	s.loads++
	s.lastSum = sum
	s.mu.Unlock()
	return &snap, nil
}

// Checkpoint dumps the engine and saves the result.
func (s *Store) Checkpoint(e *engine.Engine) error {
	snap, err := e.Dump()
	if err != nil {
		return err
	}
	return s.Save(snap)
}

// Resume restores the engine from the saved snapshot. It reports false,
// with no error, when there is nothing saved yet.
func (s *Store) Resume(e *engine.Engine) (bool, error) {
	snap, err := s.Load()
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := e.Restore(snap); err != nil {
		return false, err
	}
	s.logger.Info("replica restored", "path", s.path, "watermark", snap.Watermark, "nodes", len(snap.Nodes))
	return true, nil
}
