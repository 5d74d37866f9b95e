package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vlsi/ksar/internal/models"
	"github.com/vlsi/ksar/internal/parser"
	"go.uber.org/zap"
)

// SessionMaxAge is how long to keep finished parse sessions before cleanup
const SessionMaxAge = 30 * time.Minute

var (
	// ErrFileNotFound is returned for an id the file store does not know.
	ErrFileNotFound = errors.New("file not found")
	// ErrNotParsed is returned when a known file has no parsed report.
	ErrNotParsed = errors.New("file not parsed")
)

// FileStore is what the registry needs from the upload store.
type FileStore interface {
	Get(id string) (*models.FileInfo, error)
	GetFilePath(id string) (string, error)
	SetStatus(id, status, errMsg string) error
	List(limit int) ([]*models.FileInfo, error)
}

// Options tune every parse run by the registry.
type Options struct {
	DateFormat          string
	MaxReportedErrors   int
	MaxConcurrentParses int
}

// Entry is one parsed report. It is never modified after it is stored.
type Entry struct {
	Data     *models.ParsedData
	Summary  models.ParseSummary
	FileName string
	Dialect  string
	ParsedAt time.Time
}

// Info describes the entry without its samples.
func (e *Entry) Info() *models.ParsedFileInfo {
	summary := e.Summary
	return e.Data.Describe(e.FileName, e.Dialect, &summary, e.ParsedAt)
}

type sessionState struct {
	session    *models.ParseSession
	finishedAt time.Time
}

// Registry parses uploaded files and holds their results by file id.
// All access to the parsed map goes through one mutex.
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]*Entry
	sessions map[string]*sessionState

	files   FileStore
	persist *PersistentParsedStore
	parsers *parser.Registry
	opts    Options
	sem     chan struct{}
	wg      sync.WaitGroup
	log     *zap.Logger
}

// NewRegistry creates a registry. persist may be nil to keep results in memory only.
func NewRegistry(files FileStore, persist *PersistentParsedStore, opts Options, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.MaxConcurrentParses <= 0 {
		opts.MaxConcurrentParses = 1
	}
	return &Registry{
		entries:  make(map[string]*Entry),
		sessions: make(map[string]*sessionState),
		files:    files,
		persist:  persist,
		parsers:  parser.GetGlobalRegistry(),
		opts:     opts,
		sem:      make(chan struct{}, opts.MaxConcurrentParses),
		log:      log,
	}
}

// Restore loads every persisted report whose raw file still exists and
// drops the rest. It returns the number of reports restored.
func (r *Registry) Restore(ctx context.Context) (int, error) {
	if r.persist == nil {
		return 0, nil
	}

	files, err := r.files.List(0)
	if err != nil {
		return 0, fmt.Errorf("listing files: %w", err)
	}
	ids := make([]string, len(files))
	for i, f := range files {
		ids[i] = f.ID
	}
	if removed := r.persist.CleanupOrphaned(ids); removed > 0 {
		r.log.Info("dropped parsed reports without raw files", zap.Int("count", removed))
	}

	restored := 0
	for _, id := range r.persist.List() {
		rep, err := r.persist.Load(ctx, id)
		if err != nil {
			r.log.Warn("failed to restore parsed report", zap.String("file_id", id), zap.Error(err))
			continue
		}
		if rep == nil {
			continue
		}
		r.put(id, &Entry{
			Data:     rep.Data,
			Summary:  rep.Summary,
			FileName: rep.FileName,
			Dialect:  rep.Dialect,
			ParsedAt: rep.ParsedAt,
		})
		r.setFileStatus(id, models.FileStatusParsed, "")
		restored++
	}

	r.log.Info("parsed reports restored", zap.Int("count", restored))
	return restored, nil
}

// ParseFile parses a stored file and registers the result, replacing any earlier one.
func (r *Registry) ParseFile(ctx context.Context, fileID string) (*Entry, error) {
	info, err := r.files.Get(fileID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, fileID)
	}
	path, err := r.files.GetFilePath(fileID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, fileID)
	}

	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-r.sem }()

	r.setFileStatus(fileID, models.FileStatusParsing, "")
	log := r.log.With(zap.String("file_id", fileID), zap.String("file_name", info.Name))

	result, err := r.parsers.ParseFile(path, parser.Options{
		FileID:            fileID,
		DateFormat:        r.opts.DateFormat,
		MaxReportedErrors: r.opts.MaxReportedErrors,
		Logger:            log,
	})
	if err != nil {
		r.setFileStatus(fileID, models.FileStatusError, err.Error())
		return nil, err
	}

	entry := &Entry{
		Data:     result.Data,
		Summary:  result.Summary,
		FileName: info.Name,
		Dialect:  result.Dialect,
		ParsedAt: time.Now(),
	}
	r.put(fileID, entry)

	if r.persist != nil {
		rep := &parser.StoredReport{
			Data:     entry.Data,
			FileName: entry.FileName,
			Dialect:  entry.Dialect,
			Summary:  entry.Summary,
			ParsedAt: entry.ParsedAt,
		}
		if err := r.persist.Save(ctx, fileID, rep); err != nil {
			log.Warn("failed to persist parsed report", zap.Error(err))
		}
	}

	r.setFileStatus(fileID, models.FileStatusParsed, "")
	return entry, nil
}

// setFileStatus records the parse state on the stored file. A failure does
// not fail the parse: the report is registered either way.
func (r *Registry) setFileStatus(fileID, status, errMsg string) {
	if err := r.files.SetStatus(fileID, status, errMsg); err != nil {
		r.log.Warn("failed to record file status",
			zap.String("file_id", fileID),
			zap.String("status", status),
			zap.Error(err))
	}
}

// StartParse parses a stored file in the background. The returned session
// can be polled with GetSession.
func (r *Registry) StartParse(fileID string) (*models.ParseSession, error) {
	info, err := r.files.Get(fileID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, fileID)
	}

	r.CleanupOldSessions(SessionMaxAge)

	session := models.NewParseSession(uuid.New().String(), fileID, info.Name)

	r.mu.Lock()
	r.sessions[session.ID] = &sessionState{session: session}
	snapshot := *session
	r.mu.Unlock()

	r.wg.Add(1)
	go r.runParse(session.ID, fileID)

	return &snapshot, nil
}

func (r *Registry) runParse(sessionID, fileID string) {
	defer r.wg.Done()
	// Recover from panics to prevent backend crash
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("parse panicked", zap.String("session_id", shortID(sessionID)), zap.Any("panic", rec))
			r.setFileStatus(fileID, models.FileStatusError, fmt.Sprintf("parse panicked: %v", rec))
			r.finishSession(sessionID, nil, fmt.Sprintf("parse panicked: %v", rec), 0)
		}
	}()

	r.updateSession(sessionID, models.SessionStatusParsing)

	start := time.Now()
	entry, err := r.ParseFile(context.Background(), fileID)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		r.log.Warn("parse failed", zap.String("session_id", shortID(sessionID)), zap.Error(err))
		r.finishSession(sessionID, nil, err.Error(), elapsed)
		return
	}
	r.finishSession(sessionID, entry, "", elapsed)
}

func (r *Registry) updateSession(sessionID string, status models.SessionStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if state, ok := r.sessions[sessionID]; ok {
		state.session.Status = status
	}
}

func (r *Registry) finishSession(sessionID string, entry *Entry, errMsg string, elapsed int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	state.finishedAt = time.Now()
	state.session.ProcessingTimeMs = elapsed
	if entry == nil {
		state.session.Status = models.SessionStatusError
		state.session.Error = errMsg
		return
	}
	summary := entry.Summary
	state.session.Status = models.SessionStatusComplete
	state.session.ParserName = entry.Dialect
	state.session.Summary = &summary
}

// GetSession returns a snapshot of a parse session.
func (r *Registry) GetSession(id string) (*models.ParseSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	cp := *state.session
	return &cp, true
}

// CleanupOldSessions removes finished sessions older than maxAge.
func (r *Registry) CleanupOldSessions(maxAge time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	for id, state := range r.sessions {
		if state.finishedAt.IsZero() {
			continue
		}
		if state.finishedAt.Before(cutoff) {
			delete(r.sessions, id)
		}
	}
}

// Wait blocks until every background parse has finished.
func (r *Registry) Wait() {
	r.wg.Wait()
}

func (r *Registry) put(fileID string, entry *Entry) {
	r.mu.Lock()
	r.entries[fileID] = entry
	r.mu.Unlock()
}

// Get returns the parsed report of a file.
func (r *Registry) Get(fileID string) (*Entry, error) {
	r.mu.RLock()
	entry, ok := r.entries[fileID]
	r.mu.RUnlock()
	if ok {
		return entry, nil
	}
	if _, err := r.files.Get(fileID); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, fileID)
	}
	return nil, fmt.Errorf("%w: %s", ErrNotParsed, fileID)
}

// Info describes a parsed report without its samples.
func (r *Registry) Info(fileID string) (*models.ParsedFileInfo, error) {
	entry, err := r.Get(fileID)
	if err != nil {
		return nil, err
	}
	return entry.Info(), nil
}

// List describes every parsed report, most recently parsed first.
func (r *Registry) List() []*models.ParsedFileInfo {
	r.mu.RLock()
	infos := make([]*models.ParsedFileInfo, 0, len(r.entries))
	for _, entry := range r.entries {
		infos = append(infos, entry.Info())
	}
	r.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].ParsedAt.Equal(infos[j].ParsedAt) {
			return infos[i].ParsedAt.After(infos[j].ParsedAt)
		}
		return infos[i].FileID < infos[j].FileID
	})
	return infos
}

// Delete forgets the parsed report of a file and its persisted copy.
// It reports whether a report was registered.
func (r *Registry) Delete(fileID string) bool {
	r.mu.Lock()
	_, ok := r.entries[fileID]
	delete(r.entries, fileID)
	r.mu.Unlock()

	if r.persist != nil {
		if err := r.persist.Delete(fileID); err != nil {
			r.log.Warn("failed to delete parsed DB", zap.String("file_id", fileID), zap.Error(err))
		}
	}
	return ok
}

// PersistStats describes the persisted reports. ok is false when
// persistence is disabled.
func (r *Registry) PersistStats() (stats StoreStats, ok bool) {
	if r.persist == nil {
		return StoreStats{}, false
	}
	return r.persist.Stats(), true
}

// Len returns the number of parsed reports.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
