package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/vlsi/ksar/internal/parser"
	"go.uber.org/zap"
)

const (
	dbPrefix = "file_"
	dbSuffix = ".duckdb"
)

// shortID truncates an id for log fields.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// PersistentParsedStore keeps one DuckDB file per parsed report so that
// reports survive a restart without being parsed again.
type PersistentParsedStore struct {
	dir string
	log *zap.Logger

	mu  sync.RWMutex
	dbs map[string]string // file id -> database path
}

// StoreStats describes the on-disk footprint of the parsed store.
type StoreStats struct {
	ParsedCount int    `json:"parsedCount"`
	TotalSize   int64  `json:"totalSize"`
	ParsedDir   string `json:"parsedDir"`
}

// NewPersistentParsedStore opens the store in dir, picking up databases
// written by an earlier run.
func NewPersistentParsedStore(dir string, log *zap.Logger) (*PersistentParsedStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating parsed directory: %w", err)
	}

	s := &PersistentParsedStore{dir: dir, log: log, dbs: make(map[string]string)}
	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Warn("failed to scan parsed directory", zap.String("dir", dir), zap.Error(err))
		return s, nil
	}
	for _, entry := range entries {
		if id, ok := fileIDFromDB(entry); ok {
			s.dbs[id] = filepath.Join(dir, entry.Name())
		}
	}
	log.Info("scanned parsed databases", zap.Int("count", len(s.dbs)))
	return s, nil
}

func fileIDFromDB(entry os.DirEntry) (string, bool) {
	if entry.IsDir() {
		return "", false
	}
	id, ok := strings.CutPrefix(entry.Name(), dbPrefix)
	if !ok {
		return "", false
	}
	id, ok = strings.CutSuffix(id, dbSuffix)
	return id, ok && id != ""
}

// GetDBPath returns where the database of fileID lives.
func (s *PersistentParsedStore) GetDBPath(fileID string) string {
	return filepath.Join(s.dir, dbPrefix+fileID+dbSuffix)
}

func (s *PersistentParsedStore) IsParsed(fileID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.dbs[fileID]
	return ok
}

// Save writes rep to the file's database, replacing an earlier parse. A
// partially written database is removed.
func (s *PersistentParsedStore) Save(ctx context.Context, fileID string, rep *parser.StoredReport) error {
	path := s.GetDBPath(fileID)
	db, err := parser.NewDuckStoreAtPath(path, s.log)
	if err != nil {
		return fmt.Errorf("failed to create parsed DB: %w", err)
	}

	err = db.Save(ctx, rep)
	if cerr := db.Close(); err == nil && cerr != nil {
		return fmt.Errorf("failed to close parsed DB: %w", cerr)
	}
	if err != nil {
		os.Remove(path)
		return fmt.Errorf("failed to save parsed DB: %w", err)
	}

	s.mu.Lock()
	s.dbs[fileID] = path
	s.mu.Unlock()
	s.log.Debug("parsed report saved", zap.String("file_id", shortID(fileID)))
	return nil
}

// Load reads back the stored report of a file. It returns nil, nil when
// the file has no database.
func (s *PersistentParsedStore) Load(ctx context.Context, fileID string) (*parser.StoredReport, error) {
	path, ok := s.existing(fileID)
	if !ok {
		return nil, nil
	}

	db, err := parser.OpenDuckStoreReadOnly(path, s.log)
	if err != nil {
		return nil, fmt.Errorf("failed to open parsed DB: %w", err)
	}
	defer db.Close()

	rep, err := db.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load parsed DB: %w", err)
	}
	return rep, nil
}

// existing returns the database path of fileID, forgetting it when the
// file was removed behind the store's back.
func (s *PersistentParsedStore) existing(fileID string) (string, bool) {
	s.mu.RLock()
	path, ok := s.dbs[fileID]
	s.mu.RUnlock()
	if !ok {
		return "", false
	}
	if _, err := os.Stat(path); err != nil {
		s.forget(fileID)
		return "", false
	}
	return path, true
}

func (s *PersistentParsedStore) forget(fileID string) {
	s.mu.Lock()
	delete(s.dbs, fileID)
	s.mu.Unlock()
}

// Delete removes the database of a file.
func (s *PersistentParsedStore) Delete(fileID string) error {
	s.forget(fileID)
	if err := os.Remove(s.GetDBPath(fileID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete parsed DB: %w", err)
	}
	s.log.Debug("parsed DB deleted", zap.String("file_id", shortID(fileID)))
	return nil
}

// List returns the ids of all persisted reports, sorted.
func (s *PersistentParsedStore) List() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.dbs))
	for id := range s.dbs {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Stats sums the size of all databases still on disk.
func (s *PersistentParsedStore) Stats() StoreStats {
	stats := StoreStats{ParsedDir: s.dir}
	for _, id := range s.List() {
		path, ok := s.existing(id)
		if !ok {
			continue
		}
		if fi, err := os.Stat(path); err == nil {
			stats.ParsedCount++
			stats.TotalSize += fi.Size()
		}
	}
	return stats
}

// CleanupOrphaned drops databases whose raw file is gone and returns how
// many were removed.
func (s *PersistentParsedStore) CleanupOrphaned(rawFileIDs []string) int {
	keep := make(map[string]struct{}, len(rawFileIDs))
	for _, id := range rawFileIDs {
		keep[id] = struct{}{}
	}

	removed := 0
	for _, id := range s.List() {
		if _, ok := keep[id]; ok {
			continue
		}
		if err := s.Delete(id); err != nil {
			s.log.Warn("failed to remove orphaned parsed DB", zap.String("file_id", shortID(id)), zap.Error(err))
			continue
		}
		removed++
		s.log.Info("removed orphaned parsed DB", zap.String("file_id", shortID(id)))
	}
	return removed
}
