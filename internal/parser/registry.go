package parser

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
)

// Registry holds all available dialects and picks one by sniffing the header line.
// Dialects are registered at startup; the registry is read-only afterwards.
type Registry struct {
	dialects []Dialect
}

// Global registry instance
var globalRegistry = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{
		dialects: []Dialect{
			NewLinuxDialect(),
			NewSunOSDialect(),
			NewHPUXDialect(),
			NewAIXDialect(),
		},
	}
}

// GetGlobalRegistry returns the singleton registry.
func GetGlobalRegistry() *Registry {
	return globalRegistry
}

// Register adds a new dialect to the registry.
func (r *Registry) Register(d Dialect) {
	r.dialects = append(r.dialects, d)
}

// Names returns the registered dialect names.
func (r *Registry) Names() []string {
	names := make([]string, len(r.dialects))
	for i, d := range r.dialects {
		names[i] = d.Name()
	}
	return names
}

// FindDialect detects the dialect of a report from its header line.
func (r *Registry) FindDialect(header string) (Dialect, error) {
	for _, d := range r.dialects {
		if d.CanParse(header) {
			return d, nil
		}
	}
	return nil, &HeaderError{Line: header, Reason: "no dialect recognizes this header"}
}

// GetDialectByName returns a dialect by its name.
func (r *Registry) GetDialectByName(name string) (Dialect, error) {
	name = strings.ToLower(name)
	for _, d := range r.dialects {
		if strings.ToLower(d.Name()) == name {
			return d, nil
		}
	}
	return nil, fmt.Errorf("dialect not found: %s", name)
}

// ParseFile reads a report from disk and parses it.
func (r *Registry) ParseFile(filePath string, opts Options) (*Result, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("reading report: %w", err)
	}
	return r.Parse(data, opts)
}

// Parse parses a whole report. Only a missing or unrecognized header, an
// unresolvable date or empty input fail the parse; bad lines are counted
// in the summary and skipped.
func (r *Registry) Parse(data []byte, opts Options) (*Result, error) {
	log := opts.logger()

	text, charset := DecodeText(data)
	lines := SplitLines(text)
	if len(lines) == 0 {
		return nil, ErrEmptyInput
	}

	header := ""
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			header = l
			break
		}
	}
	if header == "" {
		return nil, ErrEmptyInput
	}

	d, err := r.FindDialect(header)
	if err != nil {
		log.Warn("rejecting report", zap.String("file_id", opts.FileID), zap.Error(err))
		return nil, err
	}

	eng, err := NewEngine(d, opts)
	if err != nil {
		return nil, err
	}

	for _, line := range lines {
		if _, err := eng.ParseLine(line); IsFatal(err) {
			log.Warn("aborting parse", zap.String("file_id", opts.FileID), zap.Error(err))
			return nil, err
		}
	}

	parsed, summary := eng.Finalize()
	log.Info("report parsed",
		zap.String("file_id", opts.FileID),
		zap.String("dialect", d.Name()),
		zap.String("charset", charset),
		zap.Int("lines", summary.TotalLines),
		zap.Int("data_lines", summary.DataLines),
		zap.Int("skipped", summary.Skipped()),
		zap.Int("metrics", len(parsed.Metrics)))

	return &Result{
		Data:    parsed,
		Summary: summary,
		Dialect: d.Name(),
		Charset: charset,
	}, nil
}

// SplitLines splits text on newlines, dropping carriage returns and the
// empty element after a final newline.
func SplitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}
