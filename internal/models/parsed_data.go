package models

import (
	"math"
	"sort"
	"time"
)

// TimestampLayout is the ISO-8601 form used for every timestamp in the output contract.
// Report timestamps carry no zone, so none is printed.
const TimestampLayout = "2006-01-02T15:04:05"

// MetricSeries is one named time series. Timestamps and Values always have the same length.
type MetricSeries struct {
	ID         string      `json:"id"`
	Section    string      `json:"section"`
	Column     string      `json:"column"`
	Instance   *string     `json:"instance"`
	Timestamps []time.Time `json:"-"`
	Values     []float64   `json:"-"`
}

// NewMetricSeries creates an empty series.
func NewMetricSeries(id, section, column string, instance *string) *MetricSeries {
	return &MetricSeries{
		ID:         id,
		Section:    section,
		Column:     column,
		Instance:   instance,
		Timestamps: make([]time.Time, 0, 64),
		Values:     make([]float64, 0, 64),
	}
}

// Append adds one sample.
func (s *MetricSeries) Append(ts time.Time, v float64) {
	s.Timestamps = append(s.Timestamps, ts)
	s.Values = append(s.Values, v)
}

// Len returns the number of samples.
func (s *MetricSeries) Len() int {
	return len(s.Values)
}

// FilterByTimeRange returns a copy holding only samples within [start, end].
// A nil bound is open.
func (s *MetricSeries) FilterByTimeRange(start, end *time.Time) *MetricSeries {
	out := NewMetricSeries(s.ID, s.Section, s.Column, s.Instance)
	for i, ts := range s.Timestamps {
		if start != nil && ts.Before(*start) {
			continue
		}
		if end != nil && ts.After(*end) {
			continue
		}
		out.Append(ts, s.Values[i])
	}
	return out
}

// SeriesStats summarizes the values of one series.
type SeriesStats struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Sum   float64 `json:"sum"`
	Mean  float64 `json:"mean"`
	Std   float64 `json:"std"`
	P50   float64 `json:"p50"`
	P90   float64 `json:"p90"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
}

// Stats computes summary statistics. ok is false for an empty series.
// Std is the population standard deviation; percentiles interpolate linearly.
func (s *MetricSeries) Stats() (stats SeriesStats, ok bool) {
	n := len(s.Values)
	if n == 0 {
		return SeriesStats{}, false
	}

	sorted := make([]float64, n)
	copy(sorted, s.Values)
	sort.Float64s(sorted)

	for _, v := range sorted {
		stats.Sum += v
	}
	stats.Count = n
	stats.Min = sorted[0]
	stats.Max = sorted[n-1]
	stats.Mean = stats.Sum / float64(n)

	var sq float64
	for _, v := range sorted {
		d := v - stats.Mean
		sq += d * d
	}
	stats.Std = math.Sqrt(sq / float64(n))

	stats.P50 = percentile(sorted, 50)
	stats.P90 = percentile(sorted, 90)
	stats.P95 = percentile(sorted, 95)
	stats.P99 = percentile(sorted, 99)
	return stats, true
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// ParsedData is the terminal result of one parse. It is not modified after it is built.
type ParsedData struct {
	FileID      string
	SystemInfo  SystemInfo
	StartTime   *time.Time
	EndTime     *time.Time
	Metrics     map[string]*MetricSeries
	DateSamples map[time.Time]struct{}
}

// MetricIDs returns all metric ids in sorted order.
func (p *ParsedData) MetricIDs() []string {
	ids := make([]string, 0, len(p.Metrics))
	for id := range p.Metrics {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Sections groups metric ids by section name.
func (p *ParsedData) Sections() map[string][]string {
	out := make(map[string][]string)
	for _, id := range p.MetricIDs() {
		s := p.Metrics[id]
		out[s.Section] = append(out[s.Section], id)
	}
	return out
}

// SampleCount returns the total number of samples across all series.
func (p *ParsedData) SampleCount() int {
	n := 0
	for _, s := range p.Metrics {
		n += s.Len()
	}
	return n
}

// Days returns the distinct calendar days the report spans, ascending.
func (p *ParsedData) Days() []time.Time {
	days := make([]time.Time, 0, len(p.DateSamples))
	for d := range p.DateSamples {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days
}

// MetricOutput is the serialized form of one series.
type MetricOutput struct {
	Timestamps []string  `json:"timestamps" msgpack:"timestamps"`
	Values     []float64 `json:"values" msgpack:"values"`
	Columns    []string  `json:"columns" msgpack:"columns"`
}

// ParsedDataOutput is the plain structure handed to serializers.
type ParsedDataOutput struct {
	FileID      string                  `json:"file_id" msgpack:"file_id"`
	SystemInfo  SystemInfo              `json:"system_info" msgpack:"system_info"`
	StartTime   *string                 `json:"start_time" msgpack:"start_time"`
	EndTime     *string                 `json:"end_time" msgpack:"end_time"`
	Metrics     map[string]MetricOutput `json:"metrics" msgpack:"metrics"`
	DateSamples int                     `json:"date_samples" msgpack:"date_samples"`
}

// ToOutput converts p into the output contract.
func (p *ParsedData) ToOutput() *ParsedDataOutput {
	out := &ParsedDataOutput{
		FileID:      p.FileID,
		SystemInfo:  p.SystemInfo,
		StartTime:   formatTime(p.StartTime),
		EndTime:     formatTime(p.EndTime),
		Metrics:     make(map[string]MetricOutput, len(p.Metrics)),
		DateSamples: len(p.DateSamples),
	}
	for id, s := range p.Metrics {
		out.Metrics[id] = SeriesOutput(s)
	}
	return out
}

// SeriesOutput converts one series into its serialized form.
func SeriesOutput(s *MetricSeries) MetricOutput {
	ts := make([]string, len(s.Timestamps))
	for i, t := range s.Timestamps {
		ts[i] = t.Format(TimestampLayout)
	}
	values := make([]float64, len(s.Values))
	copy(values, s.Values)
	return MetricOutput{
		Timestamps: ts,
		Values:     values,
		Columns:    []string{s.Column},
	}
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(TimestampLayout)
	return &s
}
