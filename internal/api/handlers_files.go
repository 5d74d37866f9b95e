// handlers_files.go - Parsed report handlers
package api

import (
	"bytes"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/vlsi/ksar/internal/export"
	"github.com/vlsi/ksar/internal/models"
	"github.com/vlsi/ksar/internal/session"
	"github.com/vlsi/ksar/internal/storage"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// FileHandlerImpl implements the FileHandler interface
type FileHandlerImpl struct {
	store       storage.Store
	registry    ReportRegistry
	allowDelete bool
	log         *zap.Logger
}

// NewFileHandler creates a new parsed report handler
func NewFileHandler(store storage.Store, registry ReportRegistry, allowDelete bool, log *zap.Logger) FileHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &FileHandlerImpl{
		store:       store,
		registry:    registry,
		allowDelete: allowDelete,
		log:         log,
	}
}

// HandleListFiles returns every parsed report, most recent first
func (h *FileHandlerImpl) HandleListFiles(c echo.Context) error {
	return c.JSON(http.StatusOK, h.registry.List())
}

// HandleGetFile returns the description of one parsed report
func (h *FileHandlerImpl) HandleGetFile(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	info, err := h.registry.Info(id)
	if err != nil {
		return NewParseError(id, err)
	}
	return c.JSON(http.StatusOK, info)
}

// HandleGetData returns the full parsed report as JSON
func (h *FileHandlerImpl) HandleGetData(c echo.Context) error {
	entry, err := h.entry(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entry.Data.ToOutput())
}

// HandleGetDataMsgpack returns the full parsed report in MessagePack format
func (h *FileHandlerImpl) HandleGetDataMsgpack(c echo.Context) error {
	entry, err := h.entry(c)
	if err != nil {
		return err
	}

	data, err := msgpack.Marshal(entry.Data.ToOutput())
	if err != nil {
		return NewInternalError("failed to encode msgpack", err)
	}
	return c.Blob(http.StatusOK, "application/msgpack", data)
}

type metricsResponse struct {
	FileID  string                         `json:"file_id"`
	Start   *string                        `json:"start"`
	End     *string                        `json:"end"`
	Count   int                            `json:"count"`
	Metrics map[string]models.MetricOutput `json:"metrics"`
}

// HandleGetMetrics returns the series selected by section, id and time range.
// Query: section=cpu,memory ids=cpu_all_%usr start=... end=...
func (h *FileHandlerImpl) HandleGetMetrics(c echo.Context) error {
	entry, err := h.entry(c)
	if err != nil {
		return err
	}
	start, end, err := timeRangeParams(c)
	if err != nil {
		return err
	}

	ids, err := selectMetrics(entry.Data, splitList(c.QueryParam("ids")), splitList(c.QueryParam("section")))
	if err != nil {
		return err
	}

	resp := metricsResponse{
		FileID:  entry.Data.FileID,
		Start:   formatParam(start),
		End:     formatParam(end),
		Metrics: make(map[string]models.MetricOutput, len(ids)),
	}
	for _, id := range ids {
		resp.Metrics[id] = models.SeriesOutput(entry.Data.Metrics[id].FilterByTimeRange(start, end))
	}
	resp.Count = len(resp.Metrics)
	return c.JSON(http.StatusOK, resp)
}

type statsResponse struct {
	ID       string              `json:"id"`
	Section  string              `json:"section"`
	Column   string              `json:"column"`
	Instance *string             `json:"instance"`
	Stats    *models.SeriesStats `json:"stats"`
}

// HandleGetMetricStats summarizes one series. Query: metric=<id> start=... end=...
func (h *FileHandlerImpl) HandleGetMetricStats(c echo.Context) error {
	entry, err := h.entry(c)
	if err != nil {
		return err
	}
	metricID := c.QueryParam("metric")
	if metricID == "" {
		return NewValidationError("metric")
	}
	series, ok := entry.Data.Metrics[metricID]
	if !ok {
		return NewNotFoundError("metric", metricID)
	}
	start, end, err := timeRangeParams(c)
	if err != nil {
		return err
	}

	resp := statsResponse{
		ID:       series.ID,
		Section:  series.Section,
		Column:   series.Column,
		Instance: series.Instance,
	}
	if stats, ok := series.FilterByTimeRange(start, end).Stats(); ok {
		resp.Stats = &stats
	}
	return c.JSON(http.StatusOK, resp)
}

// HandleExportCSV writes the selected series as CSV, one row per timestamp.
// Query: ids, section, start, end, delimiter (semicolon, comma or tab)
func (h *FileHandlerImpl) HandleExportCSV(c echo.Context) error {
	entry, err := h.entry(c)
	if err != nil {
		return err
	}
	start, end, err := timeRangeParams(c)
	if err != nil {
		return err
	}
	ids, err := selectMetrics(entry.Data, splitList(c.QueryParam("ids")), splitList(c.QueryParam("section")))
	if err != nil {
		return err
	}

	opts := export.CSVOptions{MetricIDs: ids, Start: start, End: end}
	switch c.QueryParam("delimiter") {
	case "", "semicolon":
		opts.Delimiter = export.DefaultDelimiter
	case "comma":
		opts.Delimiter = ','
	case "tab":
		opts.Delimiter = '\t'
	default:
		return NewValidationError("delimiter")
	}

	var buf bytes.Buffer
	rows, err := export.WriteCSV(&buf, entry.Data, opts)
	if err != nil {
		return NewInternalError("failed to export CSV", err)
	}
	h.log.Debug("csv export", zap.String("file_id", entry.Data.FileID), zap.Int("rows", rows), zap.Int("columns", len(ids)))

	name := strings.TrimSuffix(entry.FileName, filepath.Ext(entry.FileName))
	if name == "" {
		name = entry.Data.FileID
	}
	name += ".csv"
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name))
	return c.Blob(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

// HandleDeleteFile deletes a file and its associated parsed data
func (h *FileHandlerImpl) HandleDeleteFile(c echo.Context) error {
	if !h.allowDelete {
		return NewForbiddenError("file deletion is disabled")
	}
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	if err := h.store.Delete(id); err != nil {
		return NewNotFoundError("file", id)
	}

	// Clean up associated parsed data
	h.registry.Delete(id)
	h.log.Info("file deleted", zap.String("file_id", id))

	return c.NoContent(http.StatusNoContent)
}

func (h *FileHandlerImpl) entry(c echo.Context) (*session.Entry, error) {
	id := c.Param("id")
	if id == "" {
		return nil, NewValidationError("id")
	}
	entry, err := h.registry.Get(id)
	if err != nil {
		return nil, NewParseError(id, err)
	}
	return entry, nil
}

// selectMetrics resolves explicit ids and section names into sorted metric
// ids. With neither given every metric is selected.
func selectMetrics(data *models.ParsedData, ids, sections []string) ([]string, error) {
	if len(ids) == 0 && len(sections) == 0 {
		return data.MetricIDs(), nil
	}

	selected := make(map[string]struct{})
	for _, id := range ids {
		if _, ok := data.Metrics[id]; !ok {
			return nil, NewNotFoundError("metric", id)
		}
		selected[id] = struct{}{}
	}
	if len(sections) > 0 {
		bySection := data.Sections()
		for _, s := range sections {
			for _, id := range bySection[s] {
				selected[id] = struct{}{}
			}
		}
	}

	out := make([]string, 0, len(selected))
	for _, id := range data.MetricIDs() {
		if _, ok := selected[id]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

// Helper functions

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func timeRangeParams(c echo.Context) (start, end *time.Time, err error) {
	if start, err = timeParam(c, "start"); err != nil {
		return nil, nil, err
	}
	if end, err = timeParam(c, "end"); err != nil {
		return nil, nil, err
	}
	if start != nil && end != nil && end.Before(*start) {
		return nil, nil, NewBadRequestError("end is before start", nil)
	}
	return start, end, nil
}

// timeParam accepts the output timestamp layout, RFC 3339 or Unix milliseconds.
func timeParam(c echo.Context, name string) (*time.Time, error) {
	s := c.QueryParam(name)
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(models.TimestampLayout, s); err == nil {
		return &t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		t = t.UTC()
		return &t, nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		t := time.UnixMilli(ms).UTC()
		return &t, nil
	}
	return nil, NewValidationError(name)
}

func intParam(c echo.Context, name string, def int) (int, error) {
	s := c.QueryParam(name)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return 0, NewValidationError(name)
	}
	return v, nil
}

func formatParam(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(models.TimestampLayout)
	return &s
}
