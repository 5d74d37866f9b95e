package parser

import (
	"regexp"
	"strings"
	"time"

	"github.com/vlsi/ksar/internal/models"
)

var (
	// Linux 5.15.0-91-generic (host.example.com)  01/15/24  _x86_64_  (8 CPU)
	linuxHeaderRegex = regexp.MustCompile(`^(\S+)\s+(\S+)\s+\(([^)]*)\)\s+(.+?)\s*$`)
	linuxArchRegex   = regexp.MustCompile(`^_(\S+)_$`)
	linuxCPURegex    = regexp.MustCompile(`\((\d+)\s+CPU\)`)
)

// LinuxDialect parses sysstat reports.
type LinuxDialect struct {
	vocab *Vocabulary
}

// NewLinuxDialect creates the Linux dialect with its built-in vocabulary.
func NewLinuxDialect() *LinuxDialect {
	return &LinuxDialect{vocab: builtinVocabulary("linux")}
}

func (d *LinuxDialect) Name() string {
	return "linux"
}

func (d *LinuxDialect) CanParse(header string) bool {
	return strings.HasPrefix(strings.TrimSpace(header), "Linux")
}

func (d *LinuxDialect) Vocabulary() *Vocabulary {
	return d.vocab
}

// ParseHeader reads "<os> <kernel> (<host>) <date> [_<arch>_] [(<n> CPU)]".
// The date may be followed by anything; only the first token of the tail is the date.
func (d *LinuxDialect) ParseHeader(line string, dates *DateResolver) (models.SystemInfo, time.Time, error) {
	var info models.SystemInfo

	m := linuxHeaderRegex.FindStringSubmatch(line)
	if m == nil {
		return info, time.Time{}, &HeaderError{Line: line, Reason: "expected \"<os> <kernel> (<hostname>) <date>\""}
	}
	if m[1] != "Linux" {
		return info, time.Time{}, &HeaderError{Line: line, Reason: "missing OS marker"}
	}

	tail := strings.Fields(m[4])
	if len(tail) == 0 {
		return info, time.Time{}, &HeaderError{Line: line, Reason: "missing date"}
	}
	date, used, err := resolveLeadingDate(tail, dates)
	if err != nil {
		return info, time.Time{}, err
	}

	info.Set(models.FieldOSType, m[1])
	info.Set(models.FieldKernel, m[2])
	info.Set(models.FieldHostname, m[3])
	for _, tok := range tail[used:] {
		if a := linuxArchRegex.FindStringSubmatch(tok); a != nil {
			info.Set(models.FieldCPUType, a[1])
		}
	}
	if c := linuxCPURegex.FindStringSubmatch(m[4]); c != nil {
		info.Set(models.FieldNbCPU, c[1])
	}

	return info, date, nil
}

// resolveLeadingDate resolves the date at the start of tokens. A single token is
// tried first, then the three-token "dd Mon yyyy" form.
func resolveLeadingDate(tokens []string, dates *DateResolver) (time.Time, int, error) {
	date, err := dates.Resolve(tokens[0])
	if err == nil {
		return date, 1, nil
	}
	if len(tokens) >= 3 {
		if d, err3 := dates.Resolve(strings.Join(tokens[:3], " ")); err3 == nil {
			return d, 3, nil
		}
	}
	return time.Time{}, 0, err
}
