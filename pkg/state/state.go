// Package state records which ingest jobs have completed so an interrupted run resumes
// where it stopped.
package state

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/nassdata/quickstats/pkg/errors"
	"github.com/nassdata/quickstats/pkg/json"
)

// Store persists the set of completed job keys.
type Store interface {
	Completed(ctx context.Context) (map[string]bool, error)
	MarkCompleted(ctx context.Context, key string) error
	Reset(ctx context.Context) error
}

var (
	_ Store = (*FileStore)(nil)
	_ Store = (*MemoryStore)(nil)
)

// document is the on-disk layout.
type document struct {
	Completed []string `json:"completed"`
}

// FileStore keeps state in a JSON file. Every update rewrites the file through a temporary
// file and a rename, so a crash leaves either the old or the new state on disk.
type FileStore struct {
	path   string
	logger *zap.Logger

	mu        sync.Mutex
	completed map[string]bool
	loaded    bool
}

// NewFileStore returns a store backed by path. The file is read lazily.
func NewFileStore(path string, logger *zap.Logger) *FileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{
		path:   path,
		logger: logger.With(zap.String("component", "state"), zap.String("path", path)),
	}
}

// Path is the state file location.
func (s *FileStore) Path() string {
	return s.path
}

// Completed returns a copy of the completed job keys. A missing file is an empty state.
func (s *FileStore) Completed(ctx context.Context) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(s.completed))
	for k := range s.completed {
		out[k] = true
	}
	return out, nil
}

// MarkCompleted adds key and persists the state.
func (s *FileStore) MarkCompleted(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return err
	}
	if s.completed[key] {
		return nil
	}
	s.completed[key] = true
	if err := s.save(); err != nil {
		delete(s.completed, key)
		return err
	}
	return nil
}

// Reset forgets every completed job.
func (s *FileStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.completed = map[string]bool{}
	s.loaded = true
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, errors.ErrorTypeFile, "removing state file")
	}
	s.logger.Info("state reset")
	return nil
}

func (s *FileStore) load() error {
	if s.loaded {
		return nil
	}

	s.completed = map[string]bool{}
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.loaded = true
		return nil
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "reading state file")
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "state file "+s.path+" is corrupt")
	}
	for _, k := range doc.Completed {
		s.completed[k] = true
	}
	s.loaded = true
	s.logger.Debug("state loaded", zap.Int("completed", len(s.completed)))
	return nil
}

func (s *FileStore) save() error {
	doc := document{Completed: make([]string, 0, len(s.completed))}
	for k := range s.completed {
		doc.Completed = append(doc.Completed, k)
	}
	sort.Strings(doc.Completed)

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "encoding state")
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "creating state directory")
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "creating temporary state file")
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return errors.Wrap(err, errors.ErrorTypeFile, "writing state")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return errors.Wrap(err, errors.ErrorTypeFile, "syncing state")
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return errors.Wrap(err, errors.ErrorTypeFile, "closing state")
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return errors.Wrap(err, errors.ErrorTypeFile, "replacing state file")
	}
	return nil
}

// MemoryStore keeps state in memory. Used by tests and one-off runs.
type MemoryStore struct {
	mu        sync.RWMutex
	completed map[string]bool
}

// NewMemoryStore returns a store pre-populated with keys.
func NewMemoryStore(keys ...string) *MemoryStore {
	m := &MemoryStore{completed: make(map[string]bool, len(keys))}
	for _, k := range keys {
		m.completed[k] = true
	}
	return m
}

func (m *MemoryStore) Completed(ctx context.Context) (map[string]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]bool, len(m.completed))
	for k := range m.completed {
		out[k] = true
	}
	return out, nil
}

func (m *MemoryStore) MarkCompleted(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed[key] = true
	return nil
}

func (m *MemoryStore) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = map[string]bool{}
	return nil
}
