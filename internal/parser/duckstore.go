package parser

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/marcboeker/go-duckdb"
	"github.com/vlsi/ksar/internal/models"
	"go.uber.org/zap"
)

// StoredReport is a parsed report together with the bookkeeping kept beside it.
type StoredReport struct {
	Data     *models.ParsedData
	FileName string
	Dialect  string
	Summary  models.ParseSummary
	ParsedAt time.Time
}

// DuckStore persists one parsed report in its own DuckDB file.
type DuckStore struct {
	db     *sql.DB
	dbPath string
	log    *zap.Logger
}

var duckPragmas = []string{
	"PRAGMA memory_limit='1GB'",
	"PRAGMA threads=4",
	"PRAGMA enable_progress_bar=false",
}

var duckSchema = []string{
	`CREATE TABLE report (
		file_id    VARCHAR NOT NULL,
		file_name  VARCHAR NOT NULL,
		dialect    VARCHAR NOT NULL,
		parsed_at  BIGINT NOT NULL,
		summary    VARCHAR NOT NULL
	)`,
	`CREATE TABLE system_info (
		field VARCHAR NOT NULL,
		value VARCHAR NOT NULL
	)`,
	`CREATE TABLE series (
		id           VARCHAR NOT NULL,
		section      VARCHAR NOT NULL,
		column_name  VARCHAR NOT NULL,
		has_instance BOOLEAN NOT NULL,
		instance     VARCHAR NOT NULL
	)`,
	`CREATE TABLE samples (
		metric_id VARCHAR NOT NULL,
		seq       INTEGER NOT NULL,
		ts        BIGINT NOT NULL,
		value     DOUBLE NOT NULL
	)`,
	`CREATE TABLE date_samples (
		day BIGINT NOT NULL
	)`,
}

// NewDuckStoreAtPath creates an empty store at dbPath, replacing any existing file.
func NewDuckStoreAtPath(dbPath string, log *zap.Logger) (*DuckStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	os.Remove(dbPath)

	connector, err := duckdb.NewConnector(dbPath, func(execer driver.ExecerContext) error {
		for _, pragma := range duckPragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}

	db := sql.OpenDB(connector)
	for _, stmt := range duckSchema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			os.Remove(dbPath)
			return nil, fmt.Errorf("failed to create table: %w", err)
		}
	}

	log.Debug("duckdb store created", zap.String("path", dbPath))
	return &DuckStore{db: db, dbPath: dbPath, log: log}, nil
}

// OpenDuckStoreReadOnly opens an existing store for loading.
func OpenDuckStoreReadOnly(dbPath string, log *zap.Logger) (*DuckStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if _, err := os.Stat(dbPath); err != nil {
		return nil, err
	}

	connector, err := duckdb.NewConnector(dbPath+"?access_mode=READ_ONLY", func(execer driver.ExecerContext) error {
		for _, pragma := range duckPragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				log.Warn("duckdb pragma failed", zap.String("pragma", pragma), zap.Error(err))
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open DuckDB connector: %w", err)
	}

	return &DuckStore{db: sql.OpenDB(connector), dbPath: dbPath, log: log}, nil
}

// Path returns the database file path.
func (ds *DuckStore) Path() string {
	return ds.dbPath
}

// Close closes the database.
func (ds *DuckStore) Close() error {
	return ds.db.Close()
}

// Save writes a parsed report. Samples go through the Appender API.
func (ds *DuckStore) Save(ctx context.Context, rep *StoredReport) error {
	start := time.Now()
	data := rep.Data

	summary, err := json.Marshal(rep.Summary)
	if err != nil {
		return fmt.Errorf("encoding summary: %w", err)
	}
	if _, err := ds.db.ExecContext(ctx,
		"INSERT INTO report VALUES (?, ?, ?, ?, ?)",
		data.FileID, rep.FileName, rep.Dialect, rep.ParsedAt.UnixMilli(), string(summary)); err != nil {
		return fmt.Errorf("inserting report: %w", err)
	}

	for _, f := range models.InfoFields {
		if v := data.SystemInfo.Get(f); v != "" {
			if _, err := ds.db.ExecContext(ctx, "INSERT INTO system_info VALUES (?, ?)", string(f), v); err != nil {
				return fmt.Errorf("inserting system info: %w", err)
			}
		}
	}

	conn, err := ds.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	err = conn.Raw(func(driverConn interface{}) error {
		dConn, ok := driverConn.(*duckdb.Conn)
		if !ok {
			return fmt.Errorf("failed to cast to duckdb.Conn")
		}
		if err := appendSeries(dConn, data); err != nil {
			return err
		}
		if err := appendSamples(dConn, data); err != nil {
			return err
		}
		return appendDays(dConn, data)
	})
	if err != nil {
		return fmt.Errorf("appender error: %w", err)
	}

	if _, err := ds.db.ExecContext(ctx, "CREATE INDEX idx_samples_metric ON samples(metric_id)"); err != nil {
		ds.log.Warn("index creation failed", zap.Error(err))
	}

	ds.log.Debug("report saved",
		zap.String("file_id", data.FileID),
		zap.Int("samples", data.SampleCount()),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

func appendSeries(conn *duckdb.Conn, data *models.ParsedData) error {
	app, err := duckdb.NewAppenderFromConn(conn, "", "series")
	if err != nil {
		return fmt.Errorf("failed to create appender: %w", err)
	}
	defer app.Close()

	for _, id := range data.MetricIDs() {
		s := data.Metrics[id]
		inst := ""
		if s.Instance != nil {
			inst = *s.Instance
		}
		if err := app.AppendRow(s.ID, s.Section, s.Column, s.Instance != nil, inst); err != nil {
			return fmt.Errorf("failed to append series %s: %w", id, err)
		}
	}
	return app.Flush()
}

func appendSamples(conn *duckdb.Conn, data *models.ParsedData) error {
	app, err := duckdb.NewAppenderFromConn(conn, "", "samples")
	if err != nil {
		return fmt.Errorf("failed to create appender: %w", err)
	}
	defer app.Close()

	for _, id := range data.MetricIDs() {
		s := data.Metrics[id]
		for i, ts := range s.Timestamps {
			if err := app.AppendRow(s.ID, int32(i), ts.UnixMicro(), s.Values[i]); err != nil {
				return fmt.Errorf("failed to append sample %s[%d]: %w", id, i, err)
			}
		}
	}
	return app.Flush()
}

func appendDays(conn *duckdb.Conn, data *models.ParsedData) error {
	app, err := duckdb.NewAppenderFromConn(conn, "", "date_samples")
	if err != nil {
		return fmt.Errorf("failed to create appender: %w", err)
	}
	defer app.Close()

	for d := range data.DateSamples {
		if err := app.AppendRow(d.Unix()); err != nil {
			return fmt.Errorf("failed to append day: %w", err)
		}
	}
	return app.Flush()
}

// Load reads the report back.
func (ds *DuckStore) Load(ctx context.Context) (*StoredReport, error) {
	rep := &StoredReport{Data: &models.ParsedData{
		Metrics:     make(map[string]*models.MetricSeries),
		DateSamples: make(map[time.Time]struct{}),
	}}

	var parsedAt int64
	var summary string
	err := ds.db.QueryRowContext(ctx, "SELECT file_id, file_name, dialect, parsed_at, summary FROM report").
		Scan(&rep.Data.FileID, &rep.FileName, &rep.Dialect, &parsedAt, &summary)
	if err != nil {
		return nil, fmt.Errorf("reading report: %w", err)
	}
	rep.ParsedAt = time.UnixMilli(parsedAt)
	if err := json.Unmarshal([]byte(summary), &rep.Summary); err != nil {
		return nil, fmt.Errorf("decoding summary: %w", err)
	}

	if err := ds.loadSystemInfo(ctx, rep.Data); err != nil {
		return nil, err
	}
	if err := ds.loadSeries(ctx, rep.Data); err != nil {
		return nil, err
	}
	if err := ds.loadSamples(ctx, rep.Data); err != nil {
		return nil, err
	}
	if err := ds.loadDays(ctx, rep.Data); err != nil {
		return nil, err
	}
	return rep, nil
}

func (ds *DuckStore) loadSystemInfo(ctx context.Context, data *models.ParsedData) error {
	rows, err := ds.db.QueryContext(ctx, "SELECT field, value FROM system_info")
	if err != nil {
		return fmt.Errorf("reading system info: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var field, value string
		if err := rows.Scan(&field, &value); err != nil {
			return err
		}
		data.SystemInfo.Set(models.InfoField(field), value)
	}
	return rows.Err()
}

func (ds *DuckStore) loadSeries(ctx context.Context, data *models.ParsedData) error {
	rows, err := ds.db.QueryContext(ctx, "SELECT id, section, column_name, has_instance, instance FROM series")
	if err != nil {
		return fmt.Errorf("reading series: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, section, column, instance string
		var hasInstance bool
		if err := rows.Scan(&id, &section, &column, &hasInstance, &instance); err != nil {
			return err
		}
		var inst *string
		if hasInstance {
			inst = &instance
		}
		data.Metrics[id] = models.NewMetricSeries(id, section, column, inst)
	}
	return rows.Err()
}

func (ds *DuckStore) loadSamples(ctx context.Context, data *models.ParsedData) error {
	rows, err := ds.db.QueryContext(ctx, "SELECT metric_id, ts, value FROM samples ORDER BY metric_id, seq")
	if err != nil {
		return fmt.Errorf("reading samples: %w", err)
	}
	defer rows.Close()

	var start, end time.Time
	seen := false
	for rows.Next() {
		var id string
		var ts int64
		var v float64
		if err := rows.Scan(&id, &ts, &v); err != nil {
			return err
		}
		s, ok := data.Metrics[id]
		if !ok {
			return fmt.Errorf("sample for unknown series %s", id)
		}
		t := time.UnixMicro(ts).UTC()
		s.Append(t, v)
		if !seen || t.Before(start) {
			start = t
		}
		if !seen || t.After(end) {
			end = t
		}
		seen = true
	}
	if seen {
		data.StartTime = &start
		data.EndTime = &end
	}
	return rows.Err()
}

func (ds *DuckStore) loadDays(ctx context.Context, data *models.ParsedData) error {
	rows, err := ds.db.QueryContext(ctx, "SELECT day FROM date_samples")
	if err != nil {
		return fmt.Errorf("reading date samples: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var d int64
		if err := rows.Scan(&d); err != nil {
			return err
		}
		data.DateSamples[time.Unix(d, 0).UTC()] = struct{}{}
	}
	return rows.Err()
}
