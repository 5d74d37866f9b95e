package parser

import (
	"embed"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed vocab/*.yaml
var vocabFS embed.FS

// InstancePosition says where the instance key sits among a section's columns.
type InstancePosition string

const (
	InstanceNone  InstancePosition = ""
	InstanceFirst InstancePosition = "first"
	InstanceLast  InstancePosition = "last"
)

// SectionDef recognizes one section header by its leading column names.
type SectionDef struct {
	Name         string           `yaml:"name"`
	Match        []string         `yaml:"match"`
	Instance     InstancePosition `yaml:"instance"`
	Continuation bool             `yaml:"continuation"` // rows without a time token belong to the last timestamp
	Skip         bool             `yaml:"skip"`         // recognized but never graphed
}

// Vocabulary is the table-driven part of one OS dialect: which lines are
// noise, which mark a restart and which open a section.
// A loaded Vocabulary is read-only.
type Vocabulary struct {
	Name             string       `yaml:"name"`
	IgnoreTokens     []string     `yaml:"ignore_tokens"`
	IgnorePrefixes   []string     `yaml:"ignore_prefixes"`
	IgnoreContaining []string     `yaml:"ignore_containing"`
	SummaryTokens    []string     `yaml:"summary_tokens"`
	RestartMarkers   []string     `yaml:"restart_markers"`
	Sections         []SectionDef `yaml:"sections"`

	ignore  map[string]struct{}
	summary map[string]struct{}
}

// ParseVocabulary reads a YAML vocabulary file.
func ParseVocabulary(filePath string) (*Vocabulary, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return ParseVocabularyFromReader(file)
}

// ParseVocabularyFromReader parses a vocabulary from an io.Reader.
func ParseVocabularyFromReader(r io.Reader) (*Vocabulary, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var v Vocabulary
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	if err := v.compile(); err != nil {
		return nil, err
	}

	return &v, nil
}

// builtinVocabulary loads one of the embedded vocabularies. They are part of the
// binary, so a failure is a programming error.
func builtinVocabulary(name string) *Vocabulary {
	f, err := vocabFS.Open("vocab/" + name + ".yaml")
	if err != nil {
		panic(fmt.Sprintf("missing vocabulary %s: %v", name, err))
	}
	defer f.Close()

	v, err := ParseVocabularyFromReader(f)
	if err != nil {
		panic(fmt.Sprintf("invalid vocabulary %s: %v", name, err))
	}
	return v
}

func (v *Vocabulary) compile() error {
	if v.Name == "" {
		return fmt.Errorf("vocabulary has no name")
	}
	v.ignore = make(map[string]struct{}, len(v.IgnoreTokens))
	for _, t := range v.IgnoreTokens {
		v.ignore[t] = struct{}{}
	}
	v.summary = make(map[string]struct{}, len(v.SummaryTokens))
	for _, t := range v.SummaryTokens {
		v.summary[t] = struct{}{}
	}
	for i, s := range v.Sections {
		if s.Name == "" || len(s.Match) == 0 {
			return fmt.Errorf("section %d: name and match are required", i)
		}
		switch s.Instance {
		case InstanceNone, InstanceFirst, InstanceLast:
		default:
			return fmt.Errorf("section %s: unknown instance position %q", s.Name, s.Instance)
		}
	}
	return nil
}

// IsIgnorable reports whether a line carries nothing to parse.
func (v *Vocabulary) IsIgnorable(line string, fields []string) bool {
	if len(fields) == 0 {
		return true
	}
	if _, ok := v.ignore[fields[0]]; ok {
		return true
	}
	for _, p := range v.IgnorePrefixes {
		if strings.HasPrefix(fields[0], p) {
			return true
		}
	}
	for _, s := range v.IgnoreContaining {
		if strings.Contains(line, s) {
			return true
		}
	}
	return false
}

// StartsSummary reports whether an ignorable line opens a block of summary rows.
func (v *Vocabulary) StartsSummary(fields []string) bool {
	if len(fields) == 0 {
		return false
	}
	_, ok := v.summary[fields[0]]
	return ok
}

// IsRestart reports whether the line marks a system restart.
func (v *Vocabulary) IsRestart(line string) bool {
	for _, m := range v.RestartMarkers {
		if strings.Contains(line, m) {
			return true
		}
	}
	return false
}

// MatchSection returns the first section whose match tokens lead columns.
func (v *Vocabulary) MatchSection(columns []string) *SectionDef {
	for i := range v.Sections {
		def := &v.Sections[i]
		if len(columns) < len(def.Match) {
			continue
		}
		matched := true
		for j, tok := range def.Match {
			if columns[j] != tok {
				matched = false
				break
			}
		}
		if matched {
			return def
		}
	}
	return nil
}
