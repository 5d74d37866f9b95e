package parser

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vlsi/ksar/internal/models"
	"go.uber.org/zap"
)

// State is the position of the engine in a report.
type State int

const (
	AwaitingHeader State = iota
	AwaitingSchema
	InSection
)

func (s State) String() string {
	switch s {
	case AwaitingHeader:
		return "awaiting_header"
	case AwaitingSchema:
		return "awaiting_schema"
	case InSection:
		return "in_section"
	}
	return "unknown"
}

// LineKind is how one line was handled.
type LineKind int

const (
	LineHeader LineKind = iota
	LineIgnored
	LineRestart
	LineSectionHeader
	LineData
	LineNoSchema
	LineError
)

func (k LineKind) String() string {
	switch k {
	case LineHeader:
		return "header"
	case LineIgnored:
		return "ignored"
	case LineRestart:
		return "restart"
	case LineSectionHeader:
		return "section_header"
	case LineData:
		return "data"
	case LineNoSchema:
		return "no_schema"
	case LineError:
		return "error"
	}
	return "unknown"
}

// SectionSchema is the column layout of the section currently being read.
type SectionSchema struct {
	Name           string
	Columns        []string
	Instance       InstancePosition
	InstanceColumn string
	Continuation   bool
	Skip           bool
}

// HasInstance reports whether rows carry an instance key.
func (s *SectionSchema) HasInstance() bool {
	return s.Instance != InstanceNone
}

func newSectionSchema(def *SectionDef, header []string, si *StringIntern) *SectionSchema {
	s := &SectionSchema{
		Name:         si.Intern(def.Name),
		Instance:     def.Instance,
		Continuation: def.Continuation,
		Skip:         def.Skip,
	}
	cols := header
	switch def.Instance {
	case InstanceFirst:
		s.InstanceColumn = header[0]
		cols = header[1:]
	case InstanceLast:
		s.InstanceColumn = header[len(header)-1]
		cols = header[:len(header)-1]
	}

	seen := make(map[string]int, len(cols))
	s.Columns = make([]string, 0, len(cols))
	for _, c := range cols {
		seen[c]++
		if n := seen[c]; n > 1 {
			c = c + "_" + strconv.Itoa(n)
		}
		s.Columns = append(s.Columns, c)
	}
	si.InternAll(s.Columns)
	return s
}

// split separates the instance key from the value cells of a row.
func (s *SectionSchema) split(fields []string) (instance *string, values []string, ok bool) {
	switch s.Instance {
	case InstanceFirst:
		if len(fields) == 0 {
			return nil, nil, false
		}
		inst := fields[0]
		return &inst, fields[1:], true
	case InstanceLast:
		if len(fields) == 0 {
			return nil, nil, false
		}
		inst := fields[len(fields)-1]
		return &inst, fields[:len(fields)-1], true
	}
	return nil, fields, true
}

// Engine is the line-by-line state machine for one report.
// It is owned by a single parse and is not safe for concurrent use.
type Engine struct {
	dialect Dialect
	vocab   *Vocabulary
	dates   *DateResolver
	log     *zap.Logger

	fileID    string
	maxErrors int

	state     State
	schema    *SectionSchema
	info      models.SystemInfo
	clock     *Clock
	intern    *StringIntern
	acc       *Accumulator
	summary   models.ParseSummary
	lineNo    int
	inSummary bool
	lastTS    time.Time
	hasLast   bool

	// a pass is one run of sections over the report period; sar -A prints
	// one pass per activity, each starting again at the first time-of-day
	passStarted bool
	passStart   time.Duration
	passNames   map[string]struct{}

	// scratch buffers reused across rows
	cols []string
	vals []float64
}

// NewEngine creates an engine for one parse of a report in the given dialect.
func NewEngine(d Dialect, opts Options) (*Engine, error) {
	dates, err := NewDateResolver(opts.DateFormat)
	if err != nil {
		return nil, err
	}
	si := NewStringIntern()
	return &Engine{
		dialect:   d,
		vocab:     d.Vocabulary(),
		dates:     dates,
		log:       opts.logger().With(zap.String("dialect", d.Name())),
		fileID:    opts.FileID,
		maxErrors: opts.maxErrors(),
		state:     AwaitingHeader,
		intern:    si,
		acc:       NewAccumulator(NewKeyBuilder(si)),
		passNames: make(map[string]struct{}),
	}, nil
}

// State returns the current state.
func (e *Engine) State() State {
	return e.state
}

// Schema returns the active section schema, or nil.
func (e *Engine) Schema() *SectionSchema {
	return e.schema
}

// ParseHeader reads the system header line. It must be the first non-blank line.
func (e *Engine) ParseHeader(line string) error {
	if e.state != AwaitingHeader {
		return fmt.Errorf("header already parsed")
	}
	info, date, err := e.dialect.ParseHeader(strings.TrimSpace(line), e.dates)
	if err != nil {
		return err
	}
	e.info = info
	e.clock = NewClock(date)
	e.state = AwaitingSchema
	if f, ok := e.dates.Format(); ok {
		e.log.Debug("header parsed",
			zap.String("hostname", info.Get(models.FieldHostname)),
			zap.String("date_format", f.Name),
			zap.Time("date", date))
	}
	return nil
}

// ParseLine classifies one line and applies it. A *LineParseError is
// returned for an unusable data line; any other error is fatal and can only
// come from the header line.
func (e *Engine) ParseLine(line string) (LineKind, error) {
	e.lineNo++
	e.summary.TotalLines++

	fields := strings.Fields(line)

	if e.state == AwaitingHeader {
		if len(fields) == 0 {
			e.summary.IgnoredLines++
			return LineIgnored, nil
		}
		if err := e.ParseHeader(line); err != nil {
			return LineError, err
		}
		return LineHeader, nil
	}

	if e.vocab.IsIgnorable(line, fields) {
		if e.vocab.StartsSummary(fields) {
			e.inSummary = true
		}
		e.summary.IgnoredLines++
		return LineIgnored, nil
	}

	if e.vocab.IsRestart(line) {
		if tod, _, ok := ParseTimeOfDay(fields); ok {
			e.clock.Observe(tod)
		}
		e.state = AwaitingSchema
		e.schema = nil
		e.inSummary = false
		e.hasLast = false
		e.summary.RestartLines++
		return LineRestart, nil
	}

	tod, width, ok := ParseTimeOfDay(fields)
	if !ok {
		return e.untimedLine(line, fields)
	}
	e.inSummary = false
	rest := fields[width:]

	if def := e.vocab.MatchSection(rest); def != nil {
		e.sectionHeader(tod, def, rest)
		return LineSectionHeader, nil
	}

	if e.schema == nil {
		e.summary.NoSchemaLines++
		return LineNoSchema, nil
	}
	if e.schema.Skip {
		e.summary.IgnoredLines++
		return LineIgnored, nil
	}

	return e.dataLine(line, rest, func() time.Time { return e.clock.Sample(tod) })
}

// sectionHeader installs the schema of a section. Only a header that opens
// a pass moves the clock: live output repeats every header each interval
// stamped with the previous sample's time, which must not read as midnight.
func (e *Engine) sectionHeader(tod time.Duration, def *SectionDef, header []string) {
	switch _, seen := e.passNames[def.Name]; {
	case !e.passStarted:
		e.passStarted = true
		e.passStart = tod
		e.clock.Observe(tod)
	case !seen && tod == e.passStart:
		e.clock.Rewind()
		e.clock.Observe(tod)
	}
	e.passNames[def.Name] = struct{}{}

	e.schema = newSectionSchema(def, header, e.intern)
	e.state = InSection
	e.hasLast = false
	e.summary.HeaderLines++
}

func (e *Engine) untimedLine(line string, fields []string) (LineKind, error) {
	if e.schema == nil {
		e.summary.NoSchemaLines++
		return LineNoSchema, nil
	}
	if e.schema.Continuation && e.hasLast {
		if e.inSummary || e.schema.Skip {
			e.summary.IgnoredLines++
			return LineIgnored, nil
		}
		ts := e.lastTS
		return e.dataLine(line, fields, func() time.Time {
			e.clock.Record(ts)
			return ts
		})
	}
	return LineError, e.lineError(line, fmt.Sprintf("unrecognized time-of-day %q", fields[0]))
}

func (e *Engine) dataLine(line string, fields []string, at func() time.Time) (LineKind, error) {
	instance, raw, ok := e.schema.split(fields)
	if !ok {
		return LineError, e.lineError(line, fmt.Sprintf("missing instance key for section %s", e.schema.Name))
	}

	width := len(e.schema.Columns)
	if len(raw) < width {
		width = len(raw)
	}
	if width == 0 {
		return LineError, e.lineError(line, fmt.Sprintf("no columns align with section %s", e.schema.Name))
	}
	if len(raw) != len(e.schema.Columns) {
		e.log.Debug("column count mismatch",
			zap.Int("line", e.lineNo),
			zap.String("section", e.schema.Name),
			zap.Int("expected", len(e.schema.Columns)),
			zap.Int("actual", len(raw)))
	}

	e.cols = e.cols[:0]
	e.vals = e.vals[:0]
	for i := 0; i < width; i++ {
		v, ok := ParseValue(raw[i])
		if !ok {
			continue
		}
		e.cols = append(e.cols, e.schema.Columns[i])
		e.vals = append(e.vals, v)
	}
	if len(e.vals) == 0 {
		return LineError, e.lineError(line, fmt.Sprintf("no numeric values for section %s", e.schema.Name))
	}

	if instance != nil {
		interned := e.intern.Intern(*instance)
		instance = &interned
	}

	ts := at()
	for i, col := range e.cols {
		e.acc.Append(e.schema.Name, instance, col, ts, e.vals[i])
	}
	e.lastTS = ts
	e.hasLast = true
	e.summary.DataLines++
	return LineData, nil
}

func (e *Engine) lineError(line, reason string) *LineParseError {
	e.summary.ErrorLines++
	err := &LineParseError{Line: e.lineNo, Content: line, Reason: reason}
	if len(e.summary.Errors) < e.maxErrors {
		e.summary.Errors = append(e.summary.Errors, models.ParseError{
			Line:    err.Line,
			Content: err.Content,
			Reason:  err.Reason,
		})
	}
	e.log.Debug("skipping line", zap.Int("line", e.lineNo), zap.String("reason", reason))
	return err
}

// Finalize drains the engine into the parse result. The engine must not be used afterwards.
func (e *Engine) Finalize() (*models.ParsedData, models.ParseSummary) {
	data := &models.ParsedData{
		FileID:      e.fileID,
		SystemInfo:  e.info,
		Metrics:     e.acc.Drain(),
		DateSamples: map[time.Time]struct{}{},
	}
	if e.clock != nil {
		if start, end, ok := e.clock.Bounds(); ok {
			data.StartTime = &start
			data.EndTime = &end
		}
		data.DateSamples = e.clock.Days()
	}
	e.log.Debug("parse finished",
		zap.Int("metrics", len(data.Metrics)),
		zap.Int("names", e.intern.Len()),
		zap.Int("name_reuse", e.intern.Hits()))
	return data, e.summary
}
