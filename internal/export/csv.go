// Package export writes parsed reports in tabular formats.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/vlsi/ksar/internal/models"
)

// DefaultDelimiter separates CSV fields unless CSVOptions says otherwise.
const DefaultDelimiter = ';'

// CSVOptions select what WriteCSV emits.
type CSVOptions struct {
	// MetricIDs limits and orders the columns. Empty means every metric, sorted.
	MetricIDs []string
	Delimiter rune
	// Start and End bound the rows; nil is open.
	Start *time.Time
	End   *time.Time
}

// WriteCSV writes one row per distinct timestamp and one column per metric.
// A metric without a sample at a row's timestamp leaves its cell empty.
// It returns the number of data rows written.
func WriteCSV(w io.Writer, data *models.ParsedData, opts CSVOptions) (int, error) {
	ids := opts.MetricIDs
	if len(ids) == 0 {
		ids = data.MetricIDs()
	}
	series := make([]*models.MetricSeries, len(ids))
	for i, id := range ids {
		s, ok := data.Metrics[id]
		if !ok {
			return 0, fmt.Errorf("unknown metric %q", id)
		}
		series[i] = s.FilterByTimeRange(opts.Start, opts.End)
	}

	cw := csv.NewWriter(w)
	if opts.Delimiter != 0 {
		cw.Comma = opts.Delimiter
	} else {
		cw.Comma = DefaultDelimiter
	}

	header := make([]string, 0, len(ids)+1)
	header = append(header, "Date")
	header = append(header, ids...)
	if err := cw.Write(header); err != nil {
		return 0, err
	}

	// column index -> timestamp -> value; a repeated timestamp keeps its last value
	cells := make([]map[time.Time]float64, len(series))
	seen := make(map[time.Time]struct{})
	for i, s := range series {
		cells[i] = make(map[time.Time]float64, s.Len())
		for j, ts := range s.Timestamps {
			cells[i][ts] = s.Values[j]
			seen[ts] = struct{}{}
		}
	}
	rows := make([]time.Time, 0, len(seen))
	for ts := range seen {
		rows = append(rows, ts)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Before(rows[j]) })

	record := make([]string, len(ids)+1)
	for _, ts := range rows {
		record[0] = ts.Format(models.TimestampLayout)
		for i := range series {
			if v, ok := cells[i][ts]; ok {
				record[i+1] = strconv.FormatFloat(v, 'f', -1, 64)
			} else {
				record[i+1] = ""
			}
		}
		if err := cw.Write(record); err != nil {
			return 0, err
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, err
	}
	return len(rows), nil
}
