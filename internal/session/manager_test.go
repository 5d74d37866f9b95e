package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vlsi/ksar/internal/models"
	"github.com/vlsi/ksar/internal/parser"
	"github.com/vlsi/ksar/internal/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

const sampleReport = `Linux 5.15.0 (host) 01/15/24 _x86_64_ (8 CPU)

23:59:58        CPU     %usr     %sys
23:59:58        all     1.00     2.00
23:59:59        all     1.50     2.50
00:00:01        all     2.00     3.00

23:59:58    kbmemfree kbmemused
23:59:58       100       200
Average:       100       200
`

func newTestRegistry(t *testing.T, persist bool) (*Registry, *testutil.MockStorage) {
	t.Helper()
	store := testutil.NewMockStorage(t.TempDir())
	var pps *PersistentParsedStore
	if persist {
		var err error
		pps, err = NewPersistentParsedStore(t.TempDir(), zaptest.NewLogger(t))
		require.NoError(t, err)
	}
	return NewRegistry(store, pps, Options{MaxConcurrentParses: 2}, zaptest.NewLogger(t)), store
}

func TestSessionManager(t *testing.T) {
	r, store := newTestRegistry(t, false)
	file := store.AddFile("file-1", "sar01", []byte(sampleReport))

	// Start session
	sess, err := r.StartParse(file.ID)
	if err != nil {
		t.Fatalf("Failed to start session: %v", err)
	}
	if sess.FileName != "sar01" {
		t.Errorf("Expected file name sar01, got %s", sess.FileName)
	}

	// Poll for completion
	maxRetries := 50
	var s *models.ParseSession
	for i := 0; i < maxRetries; i++ {
		var ok bool
		s, ok = r.GetSession(sess.ID)
		if !ok {
			t.Fatalf("Session not found")
		}
		if s.Status == models.SessionStatusComplete {
			break
		}
		if s.Status == models.SessionStatusError {
			t.Fatalf("Session error: %v", s.Error)
		}
		time.Sleep(100 * time.Millisecond)
	}
	if s.Status != models.SessionStatusComplete {
		t.Fatalf("Session did not complete, status %s", s.Status)
	}
	if s.ParserName != "linux" {
		t.Errorf("Expected parser linux, got %s", s.ParserName)
	}
	if s.Summary == nil || s.Summary.DataLines != 4 {
		t.Errorf("Expected 4 data lines, got %+v", s.Summary)
	}

	entry, err := r.Get(file.ID)
	if err != nil {
		t.Fatalf("Failed to get parsed report: %v", err)
	}
	usr := entry.Data.Metrics["cpu_all_%usr"]
	if usr == nil || usr.Len() != 3 {
		t.Fatalf("Expected 3 cpu samples, got %+v", usr)
	}
	if got := usr.Timestamps[2]; got.Day() != 16 {
		t.Errorf("Expected rollover to Jan 16, got %s", got)
	}
}

func TestParseFileRegistersResult(t *testing.T) {
	r, store := newTestRegistry(t, false)
	store.AddFile("f1", "sar01", []byte(sampleReport))

	entry, err := r.ParseFile(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, "sar01", entry.FileName)
	assert.Equal(t, "linux", entry.Dialect)

	info, err := r.Info("f1")
	require.NoError(t, err)
	assert.Equal(t, "f1", info.FileID)
	assert.Equal(t, []string{"cpu", "memory"}, info.Sections)
	assert.Equal(t, 4, info.MetricCount)
	assert.Equal(t, 2, info.DateSamples)
	require.NotNil(t, info.Summary)
	assert.Equal(t, 3, info.Summary.IgnoredLines)

	f, err := store.Get("f1")
	require.NoError(t, err)
	assert.Equal(t, models.FileStatusParsed, f.Status)
	assert.Equal(t, 1, r.Len())
}

func TestParseFileErrors(t *testing.T) {
	r, store := newTestRegistry(t, false)

	_, err := r.ParseFile(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrFileNotFound))

	store.AddFile("bad", "notes.txt", []byte("hello world\n"))
	_, err = r.ParseFile(context.Background(), "bad")
	var headerErr *parser.HeaderError
	require.True(t, errors.As(err, &headerErr))

	f, err := store.Get("bad")
	require.NoError(t, err)
	assert.Equal(t, models.FileStatusError, f.Status)
	assert.NotEmpty(t, f.Error)

	_, err = r.Get("bad")
	assert.True(t, errors.Is(err, ErrNotParsed))
	_, err = r.Get("missing")
	assert.True(t, errors.Is(err, ErrFileNotFound))
}

func TestStartParseFailure(t *testing.T) {
	r, store := newTestRegistry(t, false)
	store.AddFile("empty", "empty.txt", []byte(""))

	sess, err := r.StartParse("empty")
	require.NoError(t, err)
	r.Wait()

	s, ok := r.GetSession(sess.ID)
	require.True(t, ok)
	assert.Equal(t, models.SessionStatusError, s.Status)
	assert.Contains(t, s.Error, "empty input")

	_, err = r.StartParse("missing")
	assert.True(t, errors.Is(err, ErrFileNotFound))
}

func TestReparseReplacesEntry(t *testing.T) {
	r, store := newTestRegistry(t, false)
	store.AddFile("f1", "sar01", []byte(sampleReport))

	first, err := r.ParseFile(context.Background(), "f1")
	require.NoError(t, err)
	second, err := r.ParseFile(context.Background(), "f1")
	require.NoError(t, err)

	got, err := r.Get("f1")
	require.NoError(t, err)
	assert.Same(t, second, got)
	assert.NotSame(t, first, got)
	assert.Equal(t, first.Data.MetricIDs(), second.Data.MetricIDs())
}

func TestListAndDelete(t *testing.T) {
	r, store := newTestRegistry(t, true)
	store.AddFile("a", "a.txt", []byte(sampleReport))
	store.AddFile("b", "b.txt", []byte(sampleReport))

	_, err := r.ParseFile(context.Background(), "a")
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = r.ParseFile(context.Background(), "b")
	require.NoError(t, err)

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].FileID)
	assert.Equal(t, "a", list[1].FileID)
	assert.True(t, r.persist.IsParsed("a"))
	stats, ok := r.PersistStats()
	require.True(t, ok)
	assert.Equal(t, 2, stats.ParsedCount)

	assert.True(t, r.Delete("a"))
	assert.False(t, r.Delete("a"))
	assert.False(t, r.persist.IsParsed("a"))
	assert.NoFileExists(t, r.persist.GetDBPath("a"))
	require.Len(t, r.List(), 1)
}

func TestRestoreFromPersistedStore(t *testing.T) {
	store := testutil.NewMockStorage(t.TempDir())
	store.AddFile("keep", "keep.txt", []byte(sampleReport))
	store.AddFile("gone", "gone.txt", []byte(sampleReport))

	pps, err := NewPersistentParsedStore(t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)

	r := NewRegistry(store, pps, Options{}, zaptest.NewLogger(t))
	original, err := r.ParseFile(context.Background(), "keep")
	require.NoError(t, err)
	_, err = r.ParseFile(context.Background(), "gone")
	require.NoError(t, err)
	require.NoError(t, store.Delete("gone"))

	// a fresh process sees only what is on disk
	reopened, err := NewPersistentParsedStore(pps.dir, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"gone", "keep"}, reopened.List())

	r2 := NewRegistry(store, reopened, Options{}, zaptest.NewLogger(t))
	n, err := r2.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"keep"}, reopened.List())

	restored, err := r2.Get("keep")
	require.NoError(t, err)
	assert.Equal(t, "keep.txt", restored.FileName)
	assert.Equal(t, "linux", restored.Dialect)
	assert.Equal(t, original.Summary, restored.Summary)
	assert.Equal(t, original.Data.MetricIDs(), restored.Data.MetricIDs())
	assert.Equal(t, original.Data.Metrics["cpu_all_%usr"].Values, restored.Data.Metrics["cpu_all_%usr"].Values)
	assert.Equal(t, original.Data.Metrics["cpu_all_%usr"].Timestamps, restored.Data.Metrics["cpu_all_%usr"].Timestamps)
}

func TestCleanupOldSessions(t *testing.T) {
	r, store := newTestRegistry(t, false)
	store.AddFile("f1", "sar01", []byte(sampleReport))

	sess, err := r.StartParse("f1")
	require.NoError(t, err)
	r.Wait()

	r.CleanupOldSessions(time.Hour)
	_, ok := r.GetSession(sess.ID)
	assert.True(t, ok)

	time.Sleep(5 * time.Millisecond)
	r.CleanupOldSessions(time.Millisecond)
	_, ok = r.GetSession(sess.ID)
	assert.False(t, ok)
}

func TestPersistentParsedStoreStats(t *testing.T) {
	pps, err := NewPersistentParsedStore(t.TempDir(), nil)
	require.NoError(t, err)

	assert.Equal(t, 0, pps.Stats().ParsedCount)

	res, err := parser.GetGlobalRegistry().Parse([]byte(sampleReport), parser.Options{FileID: "x"})
	require.NoError(t, err)
	require.NoError(t, pps.Save(context.Background(), "x", &parser.StoredReport{
		Data:     res.Data,
		FileName: "x.txt",
		Dialect:  res.Dialect,
		Summary:  res.Summary,
		ParsedAt: time.Now(),
	}))

	stats := pps.Stats()
	assert.Equal(t, 1, stats.ParsedCount)
	assert.Greater(t, stats.TotalSize, int64(0))

	rep, err := pps.Load(context.Background(), "unknown")
	assert.NoError(t, err)
	assert.Nil(t, rep)
}

type statusFailingStore struct {
	*testutil.MockStorage
}

func (s statusFailingStore) SetStatus(id, status, errMsg string) error {
	return errors.New("index is read-only")
}

func TestStatusFailuresAreLogged(t *testing.T) {
	store := testutil.NewMockStorage(t.TempDir())
	store.AddFile("f1", "sar01", []byte(sampleReport))

	core, logs := observer.New(zap.WarnLevel)
	r := NewRegistry(statusFailingStore{store}, nil, Options{}, zap.New(core))

	entry, err := r.ParseFile(context.Background(), "f1")
	require.NoError(t, err)
	require.NotNil(t, entry)

	warned := logs.FilterMessage("failed to record file status").All()
	require.Len(t, warned, 2)
	assert.Equal(t, models.FileStatusParsing, warned[0].ContextMap()["status"])
	assert.Equal(t, models.FileStatusParsed, warned[1].ContextMap()["status"])
	assert.Equal(t, "f1", warned[1].ContextMap()["file_id"])
	assert.Equal(t, "index is read-only", warned[1].ContextMap()["error"])
}
