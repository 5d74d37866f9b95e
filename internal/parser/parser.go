package parser

import (
	"time"

	"github.com/vlsi/ksar/internal/models"
	"go.uber.org/zap"
)

// Dialect is one operating system's flavour of sar output.
type Dialect interface {
	// Name returns the unique name of the dialect.
	Name() string
	// CanParse reports whether header is this dialect's system header line.
	CanParse(header string) bool
	// ParseHeader extracts the host description and the report's first day.
	ParseHeader(line string, dates *DateResolver) (models.SystemInfo, time.Time, error)
	// Vocabulary returns the dialect's line tables.
	Vocabulary() *Vocabulary
}

// DefaultMaxReportedErrors caps how many line errors a summary keeps verbatim.
const DefaultMaxReportedErrors = 100

// Options tune a single parse.
type Options struct {
	FileID            string
	DateFormat        string // AutomaticDateFormat or a name from DateFormats
	MaxReportedErrors int
	Logger            *zap.Logger
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

func (o Options) maxErrors() int {
	if o.MaxReportedErrors <= 0 {
		return DefaultMaxReportedErrors
	}
	return o.MaxReportedErrors
}

// Result is the outcome of parsing one report.
type Result struct {
	Data    *models.ParsedData
	Summary models.ParseSummary
	Dialect string
	Charset string
}
