package export

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vlsi/ksar/internal/models"
)

func ts(clock string) time.Time {
	t, err := time.Parse(models.TimestampLayout, "2024-01-15T"+clock)
	if err != nil {
		panic(err)
	}
	return t
}

func testData() *models.ParsedData {
	usr := models.NewMetricSeries("cpu_all_%usr", "cpu", "%usr", nil)
	usr.Append(ts("10:00:00"), 1.5)
	usr.Append(ts("10:00:10"), 2)
	usr.Append(ts("10:00:20"), 2.25)

	free := models.NewMetricSeries("memory_kbmemfree", "memory", "kbmemfree", nil)
	free.Append(ts("10:00:10"), 1024)

	return &models.ParsedData{
		FileID: "f1",
		Metrics: map[string]*models.MetricSeries{
			usr.ID:  usr,
			free.ID: free,
		},
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	n, err := WriteCSV(&buf, testData(), CSVOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	want := strings.Join([]string{
		"Date;cpu_all_%usr;memory_kbmemfree",
		"2024-01-15T10:00:00;1.5;",
		"2024-01-15T10:00:10;2;1024",
		"2024-01-15T10:00:20;2.25;",
		"",
	}, "\n")
	assert.Equal(t, want, buf.String())
}

func TestWriteCSVSelectedMetrics(t *testing.T) {
	var buf bytes.Buffer
	start := ts("10:00:05")
	n, err := WriteCSV(&buf, testData(), CSVOptions{
		MetricIDs: []string{"memory_kbmemfree", "cpu_all_%usr"},
		Delimiter: ',',
		Start:     &start,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, []string{
		"Date,memory_kbmemfree,cpu_all_%usr",
		"2024-01-15T10:00:10,1024,2",
		"2024-01-15T10:00:20,,2.25",
	}, lines)
}

func TestWriteCSVUnknownMetric(t *testing.T) {
	var buf bytes.Buffer
	_, err := WriteCSV(&buf, testData(), CSVOptions{MetricIDs: []string{"nope"}})
	assert.Error(t, err)
	assert.Zero(t, buf.Len())
}

func TestWriteCSVEmpty(t *testing.T) {
	var buf bytes.Buffer
	n, err := WriteCSV(&buf, &models.ParsedData{Metrics: map[string]*models.MetricSeries{}}, CSVOptions{})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, "Date\n", buf.String())
}
