package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vlsi/ksar/internal/models"
	"github.com/vmihailenco/msgpack/v5"
)

func TestFileHandler_ListAndGet(t *testing.T) {
	env := newTestEnv(t)
	env.addParsed(t, "f1", "sar01.txt", testReport)

	rec := env.do(http.MethodGet, "/api/files", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var list []models.ParsedFileInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "f1", list[0].FileID)

	rec = env.do(http.MethodGet, "/api/files/f1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var info models.ParsedFileInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "sar01.txt", info.FileName)
	assert.Equal(t, "linux", info.ParserName)
	assert.Equal(t, 4, info.MetricCount)
	assert.Equal(t, 8, info.SamplesCount)
	assert.Equal(t, 1, info.DateSamples)
	assert.Equal(t, []string{"cpu", "network"}, info.Sections)
	require.NotNil(t, info.StartTime)
	assert.Equal(t, "2024-01-15T10:00:10", *info.StartTime)
	require.NotNil(t, info.EndTime)
	assert.Equal(t, "2024-01-15T10:00:20", *info.EndTime)
}

func TestFileHandler_Lookups(t *testing.T) {
	env := newTestEnv(t)
	env.addParsed(t, "f1", "sar01.txt", testReport)
	env.store.AddFile("raw", "pending.txt", []byte(testReport))

	tests := []struct {
		name     string
		target   string
		wantCode int
		errCode  string
	}{
		{"unknown file", "/api/files/nope", http.StatusNotFound, "NOT_FOUND"},
		{"unknown file data", "/api/files/nope/data", http.StatusNotFound, "NOT_FOUND"},
		{"stored but not parsed", "/api/files/raw/data", http.StatusConflict, "NOT_PARSED"},
		{"unknown metric", "/api/files/f1/metrics?ids=cpu_all_idle", http.StatusNotFound, "NOT_FOUND"},
		{"bad start", "/api/files/f1/metrics?start=yesterday", http.StatusBadRequest, "VALIDATION_ERROR"},
		{"end before start", "/api/files/f1/metrics?start=2024-01-15T10:00:20&end=2024-01-15T10:00:10", http.StatusBadRequest, "BAD_REQUEST"},
		{"stats without metric", "/api/files/f1/stats", http.StatusBadRequest, "VALIDATION_ERROR"},
		{"stats unknown metric", "/api/files/f1/stats?metric=cpu_all_idle", http.StatusNotFound, "NOT_FOUND"},
		{"bad delimiter", "/api/files/f1/export.csv?delimiter=pipe", http.StatusBadRequest, "VALIDATION_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodGet, tt.target, "")
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Contains(t, rec.Body.String(), `"code":"`+tt.errCode+`"`)
		})
	}
}

func TestFileHandler_GetData(t *testing.T) {
	env := newTestEnv(t)
	env.addParsed(t, "f1", "sar01.txt", testReport)

	rec := env.do(http.MethodGet, "/api/files/f1/data", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var out models.ParsedDataOutput
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "f1", out.FileID)
	assert.Equal(t, 1, out.DateSamples)
	require.NotNil(t, out.SystemInfo.Hostname)
	assert.Equal(t, "web01", *out.SystemInfo.Hostname)
	require.Contains(t, out.Metrics, "cpu_all_%user")
	assert.Equal(t, []string{"2024-01-15T10:00:10", "2024-01-15T10:00:20"}, out.Metrics["cpu_all_%user"].Timestamps)
	assert.Equal(t, []float64{1, 3}, out.Metrics["cpu_all_%user"].Values)
	assert.Equal(t, []string{"%user"}, out.Metrics["cpu_all_%user"].Columns)
	assert.Equal(t, []float64{10, 30}, out.Metrics["network_eth0_rxpck/s"].Values)
}

func TestFileHandler_GetDataMsgpack(t *testing.T) {
	env := newTestEnv(t)
	env.addParsed(t, "f1", "sar01.txt", testReport)

	rec := env.do(http.MethodGet, "/api/files/f1/data/msgpack", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/msgpack", rec.Header().Get("Content-Type"))

	var out models.ParsedDataOutput
	require.NoError(t, msgpack.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "f1", out.FileID)
	assert.Len(t, out.Metrics, 4)
	assert.Equal(t, []float64{2, 4}, out.Metrics["cpu_all_%system"].Values)
}

func TestFileHandler_GetMetrics(t *testing.T) {
	env := newTestEnv(t)
	env.addParsed(t, "f1", "sar01.txt", testReport)

	tests := []struct {
		name    string
		query   url.Values
		wantIDs []string
		wantLen int
	}{
		{
			name:    "all metrics",
			query:   url.Values{},
			wantIDs: []string{"cpu_all_%system", "cpu_all_%user", "network_eth0_rxpck/s", "network_eth0_txpck/s"},
			wantLen: 2,
		},
		{
			name:    "by section",
			query:   url.Values{"section": {"network"}},
			wantIDs: []string{"network_eth0_rxpck/s", "network_eth0_txpck/s"},
			wantLen: 2,
		},
		{
			name:    "by id",
			query:   url.Values{"ids": {"cpu_all_%user"}},
			wantIDs: []string{"cpu_all_%user"},
			wantLen: 2,
		},
		{
			name:    "ids and section",
			query:   url.Values{"ids": {"cpu_all_%user"}, "section": {"network"}},
			wantIDs: []string{"cpu_all_%user", "network_eth0_rxpck/s", "network_eth0_txpck/s"},
			wantLen: 2,
		},
		{
			name:    "time range",
			query:   url.Values{"section": {"cpu"}, "start": {"2024-01-15T10:00:15"}},
			wantIDs: []string{"cpu_all_%system", "cpu_all_%user"},
			wantLen: 1,
		},
		{
			name:    "unknown section",
			query:   url.Values{"section": {"disk"}},
			wantIDs: []string{},
			wantLen: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodGet, "/api/files/f1/metrics?"+tt.query.Encode(), "")
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			var resp struct {
				FileID  string                         `json:"file_id"`
				Start   *string                        `json:"start"`
				Count   int                            `json:"count"`
				Metrics map[string]models.MetricOutput `json:"metrics"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, "f1", resp.FileID)
			assert.Equal(t, len(tt.wantIDs), resp.Count)

			for _, id := range tt.wantIDs {
				require.Contains(t, resp.Metrics, id)
				assert.Len(t, resp.Metrics[id].Values, tt.wantLen)
			}
		})
	}
}

func TestFileHandler_GetMetricsUnixMillis(t *testing.T) {
	env := newTestEnv(t)
	env.addParsed(t, "f1", "sar01.txt", testReport)

	// 2024-01-15T10:00:10Z
	rec := env.do(http.MethodGet, "/api/files/f1/metrics?ids=cpu_all_%25user&end=1705312810000", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"end":"2024-01-15T10:00:10"`)
	assert.Contains(t, rec.Body.String(), `"values":[1]`)
}

func TestFileHandler_GetMetricStats(t *testing.T) {
	env := newTestEnv(t)
	env.addParsed(t, "f1", "sar01.txt", testReport)

	rec := env.do(http.MethodGet, "/api/files/f1/stats?metric="+url.QueryEscape("cpu_all_%user"), "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp statsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "cpu", resp.Section)
	assert.Equal(t, "%user", resp.Column)
	require.NotNil(t, resp.Instance)
	assert.Equal(t, "all", *resp.Instance)
	require.NotNil(t, resp.Stats)
	assert.Equal(t, 2, resp.Stats.Count)
	assert.Equal(t, 1.0, resp.Stats.Min)
	assert.Equal(t, 3.0, resp.Stats.Max)
	assert.Equal(t, 2.0, resp.Stats.Mean)
	assert.Equal(t, 1.0, resp.Stats.Std)

	// a range without samples has no stats
	rec = env.do(http.MethodGet, "/api/files/f1/stats?metric="+url.QueryEscape("cpu_all_%user")+"&start=2024-01-16T00:00:00", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"stats":null`)
}

func TestFileHandler_ExportCSV(t *testing.T) {
	env := newTestEnv(t)
	env.addParsed(t, "f1", "sar01.txt", testReport)

	rec := env.do(http.MethodGet, "/api/files/f1/export.csv?section=cpu", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="sar01.csv"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "Date;cpu_all_%system;cpu_all_%user\n"+
		"2024-01-15T10:00:10;2;1\n"+
		"2024-01-15T10:00:20;4;3\n", rec.Body.String())

	rec = env.do(http.MethodGet, "/api/files/f1/export.csv?delimiter=comma&ids="+url.QueryEscape("network_eth0_rxpck/s"), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Date,network_eth0_rxpck/s\n"+
		"2024-01-15T10:00:10,10\n"+
		"2024-01-15T10:00:20,30\n", rec.Body.String())
}

func TestFileHandler_DeleteFile(t *testing.T) {
	env := newTestEnv(t)
	env.addParsed(t, "f1", "sar01.txt", testReport)

	rec := env.do(http.MethodDelete, "/api/files/f1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, env.registry.Len())
	assert.Equal(t, 0, env.store.GetFileCount())

	rec = env.do(http.MethodDelete, "/api/files/f1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFileHandler_DeleteDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Security.AllowFileDeletion = false
	env := newTestEnvWithConfig(t, cfg)
	env.addParsed(t, "f1", "sar01.txt", testReport)

	rec := env.do(http.MethodDelete, "/api/files/f1", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"FORBIDDEN"`)
	assert.Equal(t, 1, env.registry.Len())
}
