package parser

import (
	"strings"
	"time"

	"github.com/vlsi/ksar/internal/models"
)

// unixDialect covers the System V sar family, whose header is a fixed run of
// whitespace-separated fields ending with the date:
//
//	SunOS host.example.com 5.11 11.3 sun4v    05/31/2018
//	HP-UX host.example.com B.11.31 U ia64    03/21/18
//	AIX host 3 5 00C5D0C44C00    06/09/10
type unixDialect struct {
	name   string
	marker string
	vocab  *Vocabulary
	fields func(info *models.SystemInfo, cols []string)
}

// NewSunOSDialect creates the Solaris dialect.
func NewSunOSDialect() Dialect {
	return &unixDialect{
		name:   "sunos",
		marker: "SunOS",
		vocab:  builtinVocabulary("sunos"),
		fields: func(info *models.SystemInfo, cols []string) {
			info.Set(models.FieldHostname, cols[1])
			info.Set(models.FieldOSVersion, cols[2])
			info.Set(models.FieldKernel, cols[3])
			info.Set(models.FieldCPUType, cols[4])
		},
	}
}

// NewHPUXDialect creates the HP-UX dialect.
func NewHPUXDialect() Dialect {
	return &unixDialect{
		name:   "hpux",
		marker: "HP-UX",
		vocab:  builtinVocabulary("hpux"),
		fields: func(info *models.SystemInfo, cols []string) {
			info.Set(models.FieldHostname, cols[1])
			info.Set(models.FieldOSVersion, cols[2])
			info.Set(models.FieldKernel, cols[3])
			info.Set(models.FieldCPUType, cols[4])
		},
	}
}

// NewAIXDialect creates the AIX dialect.
func NewAIXDialect() Dialect {
	return &unixDialect{
		name:   "aix",
		marker: "AIX",
		vocab:  builtinVocabulary("aix"),
		fields: func(info *models.SystemInfo, cols []string) {
			info.Set(models.FieldHostname, cols[1])
			info.Set(models.FieldOSVersion, cols[2]+"."+cols[3])
			info.Set(models.FieldMacAddress, cols[4])
		},
	}
}

func (d *unixDialect) Name() string {
	return d.name
}

func (d *unixDialect) CanParse(header string) bool {
	cols := strings.Fields(header)
	return len(cols) > 0 && cols[0] == d.marker
}

func (d *unixDialect) Vocabulary() *Vocabulary {
	return d.vocab
}

func (d *unixDialect) ParseHeader(line string, dates *DateResolver) (models.SystemInfo, time.Time, error) {
	var info models.SystemInfo

	cols := strings.Fields(line)
	if len(cols) == 0 || cols[0] != d.marker {
		return info, time.Time{}, &HeaderError{Line: line, Reason: "missing OS marker"}
	}
	if len(cols) < 6 {
		return info, time.Time{}, &HeaderError{Line: line, Reason: "expected six header fields"}
	}

	date, err := dates.Resolve(cols[5])
	if err != nil {
		return info, time.Time{}, err
	}

	info.Set(models.FieldOSType, cols[0])
	d.fields(&info, cols)
	return info, date, nil
}
