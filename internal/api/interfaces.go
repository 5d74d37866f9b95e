// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/vlsi/ksar/internal/models"
	"github.com/vlsi/ksar/internal/session"
	"github.com/vlsi/ksar/internal/upload"
)

// UploadHandler handles file upload operations
type UploadHandler interface {
	HandleUploadFile(c echo.Context) error
	HandleUploadBinary(c echo.Context) error
	HandleUploadChunk(c echo.Context) error
	HandleCompleteUpload(c echo.Context) error
	HandleUploadJobStatus(c echo.Context) error
	HandleGetUploads(c echo.Context) error
}

// ParseHandler handles parse session operations
type ParseHandler interface {
	HandleStartParse(c echo.Context) error
	HandleParseStatus(c echo.Context) error
	HandleParseProgressStream(c echo.Context) error
}

// FileHandler serves parsed reports
type FileHandler interface {
	HandleListFiles(c echo.Context) error
	HandleGetFile(c echo.Context) error
	HandleGetData(c echo.Context) error
	HandleGetDataMsgpack(c echo.Context) error
	HandleGetMetrics(c echo.Context) error
	HandleGetMetricStats(c echo.Context) error
	HandleExportCSV(c echo.Context) error
	HandleDeleteFile(c echo.Context) error
}

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// ReportRegistry defines what the handlers need from the parsed-report registry.
// This allows mocking in tests
type ReportRegistry interface {
	ParseFile(ctx context.Context, fileID string) (*session.Entry, error)
	StartParse(fileID string) (*models.ParseSession, error)
	GetSession(id string) (*models.ParseSession, bool)
	Get(fileID string) (*session.Entry, error)
	Info(fileID string) (*models.ParsedFileInfo, error)
	List() []*models.ParsedFileInfo
	Delete(fileID string) bool
	Len() int
	PersistStats() (session.StoreStats, bool)
}

// UploadJobs defines the chunked upload job manager used by the handlers
type UploadJobs interface {
	StartJob(uploadID, fileName string, totalChunks int, originalSize, compressedSize int64, encoding string) *upload.Job
	GetJob(id string) (*upload.Job, bool)
}

var (
	_ ReportRegistry = (*session.Registry)(nil)
	_ UploadJobs     = (*upload.Manager)(nil)
)
