// duckstore_test.go - Tests for DuckDB-backed report storage
package parser

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vlsi/ksar/internal/models"
)

// createTestReport parses a small report with instanced and plain sections.
func createTestReport(t *testing.T) *StoredReport {
	res := mustParse(t, report(
		linuxHeader,
		"23:50:01  CPU  %usr  %sys",
		"23:55:01  all  1.5   2.5",
		"00:05:01  all  3.5   4.5",
		"23:50:01  kbmemfree  kbmemused",
		"23:55:01  100        200",
		"00:05:01  110        190",
	))
	return &StoredReport{
		Data:     res.Data,
		FileName: "sar.txt",
		Dialect:  res.Dialect,
		Summary:  res.Summary,
		ParsedAt: time.UnixMilli(time.Now().UnixMilli()),
	}
}

func TestDuckStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file_f1.duckdb")
	ctx := context.Background()
	rep := createTestReport(t)

	store, err := NewDuckStoreAtPath(path, nil)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, rep))
	require.NoError(t, store.Close())

	ro, err := OpenDuckStoreReadOnly(path, nil)
	require.NoError(t, err)
	defer ro.Close()
	assert.Equal(t, path, ro.Path())

	got, err := ro.Load(ctx)
	require.NoError(t, err)

	assert.Equal(t, "sar.txt", got.FileName)
	assert.Equal(t, "linux", got.Dialect)
	assert.Equal(t, rep.Summary, got.Summary)
	assert.True(t, rep.ParsedAt.Equal(got.ParsedAt))
	assert.Equal(t, "host", got.Data.SystemInfo.Get(models.FieldHostname))

	// the output contract is identical after a reload
	assert.Equal(t, rep.Data.ToOutput(), got.Data.ToOutput())
	assert.Equal(t, rep.Data.Days(), got.Data.Days())

	mem := got.Data.Metrics["memory_kbmemfree"]
	require.NotNil(t, mem)
	assert.Nil(t, mem.Instance)
	cpu := got.Data.Metrics["cpu_all_%usr"]
	require.NotNil(t, cpu)
	require.NotNil(t, cpu.Instance)
	assert.Equal(t, "all", *cpu.Instance)
}

func TestDuckStoreEmptyReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.duckdb")
	ctx := context.Background()
	res := mustParse(t, report(linuxHeader))

	store, err := NewDuckStoreAtPath(path, nil)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, &StoredReport{Data: res.Data, Dialect: res.Dialect, ParsedAt: time.Now()}))
	require.NoError(t, store.Close())

	ro, err := OpenDuckStoreReadOnly(path, nil)
	require.NoError(t, err)
	defer ro.Close()

	got, err := ro.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, got.Data.Metrics)
	assert.Nil(t, got.Data.StartTime)
	assert.Nil(t, got.Data.EndTime)
}

func TestNewDuckStoreReplacesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file.duckdb")
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0644))

	store, err := NewDuckStoreAtPath(path, nil)
	require.NoError(t, err)
	defer store.Close()
}

func TestOpenDuckStoreReadOnlyMissing(t *testing.T) {
	_, err := OpenDuckStoreReadOnly(filepath.Join(t.TempDir(), "nope.duckdb"), nil)
	assert.Error(t, err)
}
