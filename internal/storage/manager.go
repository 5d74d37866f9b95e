package storage

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vlsi/ksar/internal/models"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

const indexFile = "index.msgpack"

// Store defines the interface for file storage.
type Store interface {
	Save(name string, r io.Reader) (*models.FileInfo, error)
	SaveBytes(name string, data []byte) (*models.FileInfo, error)
	Get(id string) (*models.FileInfo, error)
	List(limit int) ([]*models.FileInfo, error)
	Delete(id string) error
	GetFilePath(id string) (string, error)
	SetStatus(id, status, errMsg string) error
	RegisterFile(info *models.FileInfo)
	SaveChunk(uploadID string, chunkIndex int, r io.Reader) error
	CompleteChunkedUpload(uploadID string, name string, totalChunks int) (*models.FileInfo, error)
}

// LocalStore implements Store using the local filesystem. File metadata is
// kept in an index next to the uploads so it survives restarts.
type LocalStore struct {
	mu        sync.RWMutex
	uploadDir string
	files     map[string]*models.FileInfo
	log       *zap.Logger
}

// NewLocalStore creates a new LocalStore and loads its index.
func NewLocalStore(uploadDir string, log *zap.Logger) (*LocalStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(uploadDir, 0755); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}

	s := &LocalStore{
		uploadDir: uploadDir,
		files:     make(map[string]*models.FileInfo),
		log:       log,
	}
	if err := s.loadIndex(); err != nil {
		log.Warn("ignoring unreadable upload index", zap.Error(err))
	}
	return s, nil
}

func (s *LocalStore) loadIndex() error {
	data, err := os.ReadFile(filepath.Join(s.uploadDir, indexFile))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var files []*models.FileInfo
	if err := msgpack.Unmarshal(data, &files); err != nil {
		return err
	}
	for _, info := range files {
		if _, err := os.Stat(s.path(info.ID)); err != nil {
			continue
		}
		// a parse interrupted by shutdown is not running any more
		if info.Status == models.FileStatusParsing {
			info.Status = models.FileStatusUploaded
		}
		s.files[info.ID] = info
	}
	s.log.Info("upload index loaded", zap.Int("files", len(s.files)))
	return nil
}

// saveIndex must be called with s.mu held.
func (s *LocalStore) saveIndex() {
	files := make([]*models.FileInfo, 0, len(s.files))
	for _, info := range s.files {
		files = append(files, info)
	}
	data, err := msgpack.Marshal(files)
	if err == nil {
		tmp := filepath.Join(s.uploadDir, indexFile+".tmp")
		if err = os.WriteFile(tmp, data, 0644); err == nil {
			err = os.Rename(tmp, filepath.Join(s.uploadDir, indexFile))
		}
	}
	if err != nil {
		s.log.Warn("failed to write upload index", zap.Error(err))
	}
}

// Save copies a report into the upload directory under a fresh id.
func (s *LocalStore) Save(name string, r io.Reader) (*models.FileInfo, error) {
	id := uuid.New().String()
	size, err := s.writeNew(id, func(w io.Writer) (int64, error) {
		n, err := io.Copy(w, r)
		if err != nil {
			return n, fmt.Errorf("writing file: %w", err)
		}
		return n, nil
	})
	if err != nil {
		return nil, err
	}
	return s.commit(id, name, size), nil
}

// writeNew creates the file for id and fills it with fill. The file is
// removed again when fill fails.
func (s *LocalStore) writeNew(id string, fill func(io.Writer) (int64, error)) (int64, error) {
	path := s.path(id)
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("creating file: %w", err)
	}
	size, err := fill(f)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("closing file: %w", cerr)
	}
	if err != nil {
		os.Remove(path)
		return 0, err
	}
	return size, nil
}

func (s *LocalStore) commit(id, name string, size int64) *models.FileInfo {
	info := &models.FileInfo{
		ID:         id,
		Name:       name,
		Size:       size,
		UploadedAt: time.Now(),
		Status:     models.FileStatusUploaded,
	}

	s.mu.Lock()
	s.files[id] = info
	s.saveIndex()
	s.mu.Unlock()

	s.log.Debug("report stored", zap.String("file_id", id), zap.String("name", name), zap.Int64("size", size))
	cp := *info
	return &cp
}

func (s *LocalStore) path(id string) string {
	return filepath.Join(s.uploadDir, id)
}

// SaveBytes saves an in-memory file.
func (s *LocalStore) SaveBytes(name string, data []byte) (*models.FileInfo, error) {
	return s.Save(name, bytes.NewReader(data))
}

// Get retrieves file metadata by ID.
func (s *LocalStore) Get(id string) (*models.FileInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.files[id]
	if !ok {
		return nil, fmt.Errorf("file not found: %s", id)
	}

	cp := *info
	return &cp, nil
}

// List returns the most recent files.
func (s *LocalStore) List(limit int) ([]*models.FileInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*models.FileInfo, 0, len(s.files))
	for _, info := range s.files {
		cp := *info
		list = append(list, &cp)
	}

	// Sort by UploadedAt desc
	sort.Slice(list, func(i, j int) bool {
		return list[i].UploadedAt.After(list[j].UploadedAt)
	})

	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}

	return list, nil
}

// Delete removes a file from storage.
func (s *LocalStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.files[id]; !ok {
		return fmt.Errorf("file not found: %s", id)
	}

	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting file: %w", err)
	}

	delete(s.files, id)
	s.saveIndex()

	return nil
}

// SetStatus records the parse state of a file.
func (s *LocalStore) SetStatus(id, status, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.files[id]
	if !ok {
		return fmt.Errorf("file not found: %s", id)
	}

	info.Status = status
	info.Error = errMsg
	s.saveIndex()
	return nil
}

// RegisterFile adds metadata for a file already present in the upload directory.
func (s *LocalStore) RegisterFile(info *models.FileInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.files[info.ID] = info
	s.saveIndex()
}

// GetFilePath returns the absolute path to a file.
func (s *LocalStore) GetFilePath(id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.files[id]; !ok {
		return "", fmt.Errorf("file not found: %s", id)
	}

	return s.path(id), nil
}

func (s *LocalStore) chunkDir(uploadID string) string {
	return filepath.Join(s.uploadDir, "chunks", uploadID)
}

func chunkName(i int) string {
	return fmt.Sprintf("chunk_%d", i)
}

// SaveChunk stores one piece of a chunked upload. Chunks may arrive in any
// order and are only assembled by CompleteChunkedUpload.
func (s *LocalStore) SaveChunk(uploadID string, chunkIndex int, r io.Reader) error {
	if !validUploadID(uploadID) {
		return fmt.Errorf("invalid upload id: %s", uploadID)
	}

	dir := s.chunkDir(uploadID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating chunk directory: %w", err)
	}

	f, err := os.Create(filepath.Join(dir, chunkName(chunkIndex)))
	if err != nil {
		return fmt.Errorf("creating chunk file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("writing chunk: %w", err)
	}
	return nil
}

// SaveChunkBytes saves an in-memory chunk.
func (s *LocalStore) SaveChunkBytes(uploadID string, chunkIndex int, data []byte) error {
	return s.SaveChunk(uploadID, chunkIndex, bytes.NewReader(data))
}

// CompleteChunkedUpload concatenates chunks 0..totalChunks-1 into a new
// report and drops the chunk directory. Nothing is registered when a chunk
// is missing.
func (s *LocalStore) CompleteChunkedUpload(uploadID string, name string, totalChunks int) (*models.FileInfo, error) {
	if !validUploadID(uploadID) {
		return nil, fmt.Errorf("invalid upload id: %s", uploadID)
	}
	dir := s.chunkDir(uploadID)

	id := uuid.New().String()
	size, err := s.writeNew(id, func(w io.Writer) (int64, error) {
		var total int64
		for i := 0; i < totalChunks; i++ {
			n, err := appendChunk(w, dir, i)
			if err != nil {
				return total, err
			}
			total += n
		}
		return total, nil
	})
	if err != nil {
		return nil, err
	}

	info := s.commit(id, name, size)
	os.RemoveAll(dir)
	return info, nil
}

func appendChunk(w io.Writer, dir string, i int) (int64, error) {
	in, err := os.Open(filepath.Join(dir, chunkName(i)))
	if err != nil {
		return 0, fmt.Errorf("opening chunk %d: %w", i, err)
	}
	defer in.Close()

	n, err := io.Copy(w, in)
	if err != nil {
		return n, fmt.Errorf("copying chunk %d: %w", i, err)
	}
	return n, nil
}

// validUploadID rejects ids that would escape the chunk directory.
func validUploadID(id string) bool {
	return id != "" && id != "." && id != ".." && filepath.Base(id) == id
}
