// Package upload assembles chunked uploads in the background.
package upload

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vlsi/ksar/internal/models"
	"go.uber.org/zap"
)

// Status represents the upload processing status.
type Status string

const (
	StatusProcessing    Status = "processing"
	StatusAssembling    Status = "assembling"
	StatusDecompressing Status = "decompressing"
	StatusComplete      Status = "complete"
	StatusError         Status = "error"
)

// progress range of each stage within the whole job, in percent
var stageRange = map[Status][2]float64{
	StatusAssembling:    {0, 40},
	StatusDecompressing: {40, 90},
}

// Job is one chunked upload being turned into a stored report file.
type Job struct {
	ID             string           `json:"id"`
	UploadID       string           `json:"uploadId"`
	FileName       string           `json:"fileName"`
	TotalChunks    int              `json:"totalChunks"`
	OriginalSize   int64            `json:"originalSize"`
	CompressedSize int64            `json:"compressedSize"`
	Encoding       string           `json:"encoding"`
	Status         Status           `json:"status"`
	Progress       float64          `json:"progress"`
	Stage          string           `json:"stage"`
	StageProgress  float64          `json:"stageProgress"`
	FileInfo       *models.FileInfo `json:"fileInfo,omitempty"`
	Error          string           `json:"error,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
	CompletedAt    *time.Time       `json:"completedAt,omitempty"`
}

func (j *Job) finished() bool {
	return j.Status == StatusComplete || j.Status == StatusError
}

// compressed reports whether the assembled file should be gunzipped.
// Rotated sar files are commonly gzipped without the client saying so.
func (j *Job) compressed() bool {
	return j.Encoding == "gzip" || strings.HasSuffix(strings.ToLower(j.FileName), ".gz")
}

// CompleteFunc is called once an upload is assembled and ready to parse.
type CompleteFunc func(info *models.FileInfo)

// Store is the part of the storage layer a job needs.
type Store interface {
	CompleteChunkedUpload(uploadID string, name string, totalChunks int) (*models.FileInfo, error)
	GetFilePath(id string) (string, error)
	RegisterFile(info *models.FileInfo)
}

// Manager runs upload jobs and keeps their state for polling.
type Manager struct {
	mu         sync.RWMutex
	jobs       map[string]*Job
	store      Store
	onComplete CompleteFunc
	log        *zap.Logger
}

// NewManager creates a new upload processing manager. onComplete may be nil.
func NewManager(store Store, onComplete CompleteFunc, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		jobs:       make(map[string]*Job),
		store:      store,
		onComplete: onComplete,
		log:        log,
	}
}

// StartJob registers a job for an upload whose chunks are all stored and
// runs it in the background. It returns a snapshot of the new job.
func (m *Manager) StartJob(uploadID, fileName string, totalChunks int, originalSize, compressedSize int64, encoding string) *Job {
	job := &Job{
		ID:             uuid.New().String(),
		UploadID:       uploadID,
		FileName:       fileName,
		TotalChunks:    totalChunks,
		OriginalSize:   originalSize,
		CompressedSize: compressedSize,
		Encoding:       encoding,
		Status:         StatusProcessing,
		Stage:          "preparing",
		CreatedAt:      time.Now(),
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	snapshot := *job
	m.mu.Unlock()

	go m.run(job)
	return &snapshot
}

// GetJob returns a snapshot of a job by ID.
func (m *Manager) GetJob(id string) (*Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, false
	}
	cp := *job
	return &cp, true
}

func (m *Manager) run(job *Job) {
	log := m.log.With(zap.String("job_id", job.ID), zap.String("file_name", job.FileName))
	log.Info("upload job started", zap.Int("chunks", job.TotalChunks))

	m.setStage(job, StatusAssembling, "assembling chunks", 0)
	info, err := m.store.CompleteChunkedUpload(job.UploadID, job.FileName, job.TotalChunks)
	if err != nil {
		m.fail(job, fmt.Sprintf("failed to assemble chunks: %v", err))
		return
	}
	m.setStage(job, StatusAssembling, "assembling chunks", 100)
	log.Debug("chunks assembled", zap.String("file_id", info.ID), zap.Int64("size", info.Size))

	if job.compressed() {
		m.setStage(job, StatusDecompressing, "decompressing file", 0)
		if size, err := m.gunzip(job, info.ID); err != nil {
			// plain text uploaded under a .gz name or gzip encoding stays as it is
			log.Warn("decompression failed, keeping file as uploaded", zap.String("file_id", info.ID), zap.Error(err))
		} else {
			info.Size = size
			m.store.RegisterFile(info)
			log.Debug("file decompressed", zap.String("file_id", info.ID), zap.Int64("size", size))
		}
		m.setStage(job, StatusDecompressing, "decompressing file", 100)
	}

	m.complete(job, info)
	log.Info("upload job complete", zap.String("file_id", info.ID), zap.Int64("size", info.Size))

	if m.onComplete != nil {
		m.onComplete(info)
	}
}

func (m *Manager) gunzip(job *Job, fileID string) (int64, error) {
	path, err := m.store.GetFilePath(fileID)
	if err != nil {
		return 0, err
	}
	return gunzipInPlace(path, job.OriginalSize, func(written int64) {
		if job.OriginalSize <= 0 {
			return
		}
		m.setStage(job, StatusDecompressing, "decompressing file", min(99, float64(written)/float64(job.OriginalSize)*100))
	})
}

func (m *Manager) setStage(job *Job, status Status, stage string, stageProgress float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job.Status = status
	job.Stage = stage
	job.StageProgress = stageProgress
	if r, ok := stageRange[status]; ok {
		job.Progress = r[0] + (r[1]-r[0])*stageProgress/100
	}
}

func (m *Manager) complete(job *Job, info *models.FileInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	job.FileInfo = info
	job.Status = StatusComplete
	job.Stage = "complete"
	job.Progress = 100
	job.CompletedAt = &now
}

func (m *Manager) fail(job *Job, errMsg string) {
	m.mu.Lock()
	now := time.Now()
	job.Status = StatusError
	job.Error = errMsg
	job.CompletedAt = &now
	m.mu.Unlock()

	m.log.Warn("upload job failed", zap.String("job_id", job.ID), zap.String("error", errMsg))
}

// CleanupOldJobs forgets finished jobs that completed more than maxAge ago.
func (m *Manager) CleanupOldJobs(maxAge time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	for id, job := range m.jobs {
		if job.finished() && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(m.jobs, id)
		}
	}
}
