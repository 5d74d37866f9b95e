// Package testutil holds fakes shared by package tests.
package testutil

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vlsi/ksar/internal/models"
	"github.com/vlsi/ksar/internal/storage"
)

// ErrNotFound is returned for unknown file ids and upload ids.
var ErrNotFound = errors.New("not found")

var _ storage.Store = (*MockStorage)(nil)

// MockStorage is an in-memory storage.Store. Report bodies still land in
// dir because parsers open them by path.
type MockStorage struct {
	dir string
	seq atomic.Int64

	mu      sync.RWMutex
	files   map[string]*models.FileInfo
	pending map[string][][]byte
}

// NewMockStorage creates a mock rooted at dir, usually t.TempDir().
func NewMockStorage(dir string) *MockStorage {
	return &MockStorage{
		dir:     dir,
		files:   make(map[string]*models.FileInfo),
		pending: make(map[string][][]byte),
	}
}

// AddFile stores data under a fixed id. It panics when the body cannot be
// written, which only happens with a broken temp dir.
func (m *MockStorage) AddFile(id, name string, data []byte) *models.FileInfo {
	if err := os.WriteFile(m.path(id), data, 0644); err != nil {
		panic(fmt.Sprintf("testutil: writing %s: %v", id, err))
	}
	info := &models.FileInfo{
		ID:         id,
		Name:       name,
		Size:       int64(len(data)),
		UploadedAt: time.Now(),
		Status:     models.FileStatusUploaded,
	}

	m.mu.Lock()
	m.files[id] = info
	m.mu.Unlock()

	cp := *info
	return &cp
}

// GetFileCount reports how many files are registered.
func (m *MockStorage) GetFileCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.files)
}

func (m *MockStorage) Save(name string, r io.Reader) (*models.FileInfo, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return m.SaveBytes(name, data)
}

func (m *MockStorage) SaveBytes(name string, data []byte) (*models.FileInfo, error) {
	return m.AddFile(m.nextID(), name, data), nil
}

func (m *MockStorage) Get(id string) (*models.FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	cp := *info
	return &cp, nil
}

// List orders by id so tests get a stable result.
func (m *MockStorage) List(limit int) ([]*models.FileInfo, error) {
	m.mu.RLock()
	out := make([]*models.FileInfo, 0, len(m.files))
	for _, info := range m.files {
		cp := *info
		out = append(out, &cp)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockStorage) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.lookup(id); err != nil {
		return err
	}
	delete(m.files, id)
	os.Remove(m.path(id))
	return nil
}

func (m *MockStorage) GetFilePath(id string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, err := m.lookup(id); err != nil {
		return "", err
	}
	return m.path(id), nil
}

func (m *MockStorage) SetStatus(id, status, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, err := m.lookup(id)
	if err != nil {
		return err
	}
	info.Status, info.Error = status, errMsg
	return nil
}

func (m *MockStorage) RegisterFile(info *models.FileInfo) {
	m.mu.Lock()
	m.files[info.ID] = info
	m.mu.Unlock()
}

func (m *MockStorage) SaveChunk(uploadID string, chunkIndex int, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	chunks := m.pending[uploadID]
	for len(chunks) <= chunkIndex {
		chunks = append(chunks, nil)
	}
	chunks[chunkIndex] = data
	m.pending[uploadID] = chunks
	return nil
}

func (m *MockStorage) CompleteChunkedUpload(uploadID, name string, totalChunks int) (*models.FileInfo, error) {
	m.mu.Lock()
	chunks, ok := m.pending[uploadID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("upload %s: %w", uploadID, ErrNotFound)
	}
	if len(chunks) < totalChunks {
		m.mu.Unlock()
		return nil, fmt.Errorf("upload %s: chunk %d missing", uploadID, len(chunks))
	}
	var body bytes.Buffer
	for i, c := range chunks[:totalChunks] {
		if c == nil {
			m.mu.Unlock()
			return nil, fmt.Errorf("upload %s: chunk %d missing", uploadID, i)
		}
		body.Write(c)
	}
	delete(m.pending, uploadID)
	m.mu.Unlock()

	return m.AddFile(m.nextID(), name, body.Bytes()), nil
}

// lookup must be called with m.mu held.
func (m *MockStorage) lookup(id string) (*models.FileInfo, error) {
	info, ok := m.files[id]
	if !ok {
		return nil, fmt.Errorf("file %s: %w", id, ErrNotFound)
	}
	return info, nil
}

func (m *MockStorage) nextID() string {
	return fmt.Sprintf("test-id-%d", m.seq.Add(1))
}

func (m *MockStorage) path(id string) string {
	return filepath.Join(m.dir, id)
}
