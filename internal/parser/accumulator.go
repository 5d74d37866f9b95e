package parser

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/vlsi/ksar/internal/models"
)

// Accumulator collects samples into series, creating each series on first sight.
type Accumulator struct {
	keys   *KeyBuilder
	series map[string]*models.MetricSeries
}

// NewAccumulator creates an empty accumulator.
func NewAccumulator(keys *KeyBuilder) *Accumulator {
	if keys == nil {
		keys = NewKeyBuilder(nil)
	}
	return &Accumulator{
		keys:   keys,
		series: make(map[string]*models.MetricSeries, 256),
	}
}

// Append adds one value and returns the id of the series it went to.
func (a *Accumulator) Append(section string, instance *string, column string, ts time.Time, v float64) string {
	id := a.keys.Build(section, instance, column)
	s, ok := a.series[id]
	if !ok {
		var inst *string
		if instance != nil {
			cp := *instance
			inst = &cp
		}
		s = models.NewMetricSeries(id, section, column, inst)
		a.series[id] = s
	}
	s.Append(ts, v)
	return id
}

// Len returns the number of series.
func (a *Accumulator) Len() int {
	return len(a.series)
}

// Drain hands the series over to the caller. The accumulator must not be used afterwards.
func (a *Accumulator) Drain() map[string]*models.MetricSeries {
	out := a.series
	a.series = nil
	return out
}

// ParseValue parses one numeric cell. Decimal commas from non-English
// locales are accepted. NaN and infinities are rejected.
func ParseValue(s string) (float64, bool) {
	if strings.IndexByte(s, ',') >= 0 && strings.IndexByte(s, '.') < 0 {
		s = strings.Replace(s, ",", ".", 1)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
