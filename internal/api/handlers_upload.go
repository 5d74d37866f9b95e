// handlers_upload.go - File upload operation handlers
package api

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/vlsi/ksar/internal/models"
	"github.com/vlsi/ksar/internal/storage"
	"github.com/vlsi/ksar/internal/upload"
	"go.uber.org/zap"
)

// UploadHandlerImpl implements the UploadHandler interface
type UploadHandlerImpl struct {
	store      storage.Store
	registry   ReportRegistry
	jobs       UploadJobs
	extensions []string
	log        *zap.Logger
}

// NewUploadHandler creates a new upload handler instance. An empty
// extensions list accepts every file name.
func NewUploadHandler(store storage.Store, registry ReportRegistry, jobs UploadJobs, extensions []string, log *zap.Logger) UploadHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &UploadHandlerImpl{
		store:      store,
		registry:   registry,
		jobs:       jobs,
		extensions: extensions,
		log:        log,
	}
}

// uploadResponse is returned once an uploaded report has been parsed
type uploadResponse struct {
	File    *models.FileInfo       `json:"file"`
	Report  *models.ParsedFileInfo `json:"report"`
	Summary models.ParseSummary    `json:"summary"`
}

// HandleUploadFile accepts a file as base64 JSON, saves it and parses it
func (h *UploadHandlerImpl) HandleUploadFile(c echo.Context) error {
	var req uploadFileRequest
	if err := bindRequest(c, &req); err != nil {
		return err
	}
	if err := h.checkExtension(req.Name); err != nil {
		return err
	}

	decoded, err := decodeBase64(req.Data)
	if err != nil {
		return err
	}
	return h.saveAndParse(c, req.Name, bytes.NewReader(decoded))
}

// HandleUploadBinary accepts raw binary file upload (multipart/form-data)
func (h *UploadHandlerImpl) HandleUploadBinary(c echo.Context) error {
	// Get file from form
	file, err := c.FormFile("file")
	if err != nil {
		return NewBadRequestError("no file provided", err)
	}
	if err := h.checkExtension(file.Filename); err != nil {
		return err
	}

	// Open uploaded file
	src, err := file.Open()
	if err != nil {
		return NewInternalError("failed to open uploaded file", err)
	}
	defer src.Close()

	return h.saveAndParse(c, file.Filename, src)
}

// saveAndParse stores an upload and parses it before answering. The stored
// file is kept when parsing fails so that it can be inspected or re-parsed.
func (h *UploadHandlerImpl) saveAndParse(c echo.Context, name string, r io.Reader) error {
	info, err := h.store.Save(name, r)
	if err != nil {
		return NewInternalError("failed to save file", err)
	}
	h.log.Info("file uploaded", zap.String("file_id", info.ID), zap.String("file_name", name), zap.Int64("size", info.Size))

	entry, err := h.registry.ParseFile(c.Request().Context(), info.ID)
	if err != nil {
		return NewParseError(info.ID, err)
	}

	// status changed while parsing
	if current, err := h.store.Get(info.ID); err == nil {
		info = current
	}

	return c.JSON(http.StatusCreated, uploadResponse{
		File:    info,
		Report:  entry.Info(),
		Summary: entry.Summary,
	})
}

// HandleUploadChunk accepts a single chunk of a chunked upload
func (h *UploadHandlerImpl) HandleUploadChunk(c echo.Context) error {
	var req uploadChunkRequest
	if err := bindRequest(c, &req); err != nil {
		return err
	}

	decoded, err := decodeBase64(req.Data)
	if err != nil {
		return err
	}
	if err := h.store.SaveChunk(req.UploadID, req.ChunkIndex, bytes.NewReader(decoded)); err != nil {
		return NewBadRequestError("failed to save chunk", err)
	}

	return c.NoContent(http.StatusAccepted)
}

// HandleCompleteUpload completes a chunked upload and starts async processing.
// The report is parsed once the job has assembled the file.
func (h *UploadHandlerImpl) HandleCompleteUpload(c echo.Context) error {
	var req completeUploadRequest
	if err := bindRequest(c, &req); err != nil {
		return err
	}
	if err := h.checkExtension(req.Name); err != nil {
		return err
	}

	job := h.jobs.StartJob(req.UploadID, req.Name, req.TotalChunks, req.OriginalSize, req.CompressedSize, req.Encoding)
	return c.JSON(http.StatusAccepted, jobAccepted{JobID: job.ID, Status: job.Status})
}

// HandleUploadJobStatus returns the state of a chunked upload job
func (h *UploadHandlerImpl) HandleUploadJobStatus(c echo.Context) error {
	id := c.Param("jobId")
	if id == "" {
		return NewValidationError("jobId")
	}

	job, ok := h.jobs.GetJob(id)
	if !ok {
		return NewNotFoundError("upload job", id)
	}
	return c.JSON(http.StatusOK, job)
}

// HandleGetUploads returns the most recently uploaded files with their parse status
func (h *UploadHandlerImpl) HandleGetUploads(c echo.Context) error {
	limit, err := intParam(c, "limit", 50)
	if err != nil {
		return err
	}

	files, err := h.store.List(limit)
	if err != nil {
		return NewInternalError("failed to list files", err)
	}

	return c.JSON(http.StatusOK, files)
}

func (h *UploadHandlerImpl) checkExtension(name string) error {
	if len(h.extensions) == 0 {
		return nil
	}
	lower := strings.ToLower(name)
	for _, ext := range h.extensions {
		if strings.HasSuffix(lower, ext) {
			return nil
		}
	}
	// sar output is often saved without an extension
	if filepath.Ext(lower) == "" {
		return nil
	}
	return NewBadRequestError(fmt.Sprintf("file type not allowed: %s", filepath.Ext(name)), nil)
}

// request is a JSON body that checks its own required fields.
type request interface {
	validate() error
}

func bindRequest(c echo.Context, req request) error {
	if err := c.Bind(req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}
	return req.validate()
}

func decodeBase64(data string) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, NewBadRequestError("invalid base64 data", err)
	}
	return decoded, nil
}

type jobAccepted struct {
	JobID  string        `json:"jobId"`
	Status upload.Status `json:"status"`
}

type uploadFileRequest struct {
	Name string `json:"name"`
	Data string `json:"data"` // Base64-encoded content
}

func (r *uploadFileRequest) validate() error {
	if r.Name == "" {
		return NewValidationError("name")
	}
	if r.Data == "" {
		return NewValidationError("data")
	}
	return nil
}

type uploadChunkRequest struct {
	UploadID    string `json:"uploadId"`
	ChunkIndex  int    `json:"chunkIndex"`
	Data        string `json:"data"` // Base64-encoded chunk
	TotalChunks int    `json:"totalChunks"`
}

func (r *uploadChunkRequest) validate() error {
	if r.UploadID == "" {
		return NewValidationError("uploadId")
	}
	if r.ChunkIndex < 0 {
		return NewValidationError("chunkIndex")
	}
	if r.Data == "" {
		return NewValidationError("data")
	}
	return nil
}

type completeUploadRequest struct {
	UploadID       string `json:"uploadId"`
	Name           string `json:"name"`
	TotalChunks    int    `json:"totalChunks"`
	OriginalSize   int64  `json:"originalSize"`
	CompressedSize int64  `json:"compressedSize"`
	Encoding       string `json:"encoding"`
}

func (r *completeUploadRequest) validate() error {
	if r.UploadID == "" {
		return NewValidationError("uploadId")
	}
	if r.Name == "" {
		return NewValidationError("name")
	}
	if r.TotalChunks <= 0 {
		return NewBadRequestError("totalChunks must be positive", nil)
	}
	return nil
}
