// File: internal/history/filestore.go
package history

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/stitchqa/stitch/api/schemas"
)

var fileJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// FileStore persists healing history as a JSON document on disk. Writes go
// through a temp file and rename so a crash never leaves a torn file.
type FileStore struct {
	path   string
	maxAge time.Duration
	log    *zap.Logger

	mu      sync.Mutex
	entries map[string]schemas.HealingHistoryEntry
}

var _ Store = (*FileStore)(nil)

// fileDocument is the on-disk shape: a versioned list of entries.
type fileDocument struct {
	Version int                           `json:"version"`
	Entries []schemas.HealingHistoryEntry `json:"entries"`
}

// OpenFileStore loads the history file at path, creating parent directories
// as needed. A missing file is an empty store, not an error.
func OpenFileStore(path string, maxAge time.Duration, logger *zap.Logger) (*FileStore, error) {
	s := &FileStore{
		path:    path,
		maxAge:  maxAge,
		log:     logger.Named("history"),
		entries: make(map[string]schemas.HealingHistoryEntry),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.log.Debug("No healing history file yet", zap.String("path", path))
			return s, nil
		}
		return nil, fmt.Errorf("reading healing history %s: %w", path, err)
	}

	var doc fileDocument
	if err := fileJSON.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing healing history %s: %w", path, err)
	}
	for _, e := range doc.Entries {
		s.entries[e.Signature] = e
	}
	s.log.Info("Loaded healing history",
		zap.String("path", path), zap.Int("entries", len(s.entries)))
	return s, nil
}

func (s *FileStore) Lookup(signature string) (schemas.HealingHistoryEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[signature]
	if !ok || !fresh(e, s.maxAge, time.Now()) {
		return schemas.HealingHistoryEntry{}, false
	}
	return e, true
}

func (s *FileStore) Record(ctx context.Context, entry schemas.HealingHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.entries[entry.Signature]
	merged := merge(existing, ok, entry, time.Now().UTC())
	s.entries[entry.Signature] = merged

	if err := s.flushLocked(); err != nil {
		return fmt.Errorf("persisting healing history: %w", err)
	}
	s.log.Debug("Recorded healing",
		zap.String("signature", entry.Signature),
		zap.String("healed_selector", merged.HealedSelector),
		zap.Int("success_count", merged.SuccessCount))
	return nil
}

func (s *FileStore) Entries() []schemas.HealingHistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]schemas.HealingHistoryEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Signature < out[j].Signature })
	return out
}

func (s *FileStore) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

// flushLocked writes the full document atomically. Caller holds s.mu.
func (s *FileStore) flushLocked() error {
	doc := fileDocument{Version: 1, Entries: make([]schemas.HealingHistoryEntry, 0, len(s.entries))}
	for _, e := range s.entries {
		doc.Entries = append(doc.Entries, e)
	}
	sort.Slice(doc.Entries, func(i, j int) bool { return doc.Entries[i].Signature < doc.Entries[j].Signature })

	data, err := fileJSON.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".history-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, s.path)
}
