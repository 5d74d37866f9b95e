package models

import (
	"sort"
	"time"
)

// Upload lifecycle states of a stored file.
const (
	FileStatusUploaded = "uploaded"
	FileStatusParsing  = "parsing"
	FileStatusParsed   = "parsed"
	FileStatusError    = "error"
)

// FileInfo represents metadata about an uploaded file.
type FileInfo struct {
	ID         string    `json:"id" msgpack:"id"`
	Name       string    `json:"name" msgpack:"name"`
	Size       int64     `json:"size" msgpack:"size"`
	UploadedAt time.Time `json:"uploadedAt" msgpack:"uploaded_at"`
	Status     string    `json:"status" msgpack:"status"`
	Error      string    `json:"error,omitempty" msgpack:"error,omitempty"`
}

// ParsedFileInfo describes a parsed report without its samples.
type ParsedFileInfo struct {
	FileID       string         `json:"file_id"`
	FileName     string         `json:"file_name"`
	ParserName   string         `json:"parser"`
	SystemInfo   SystemInfo     `json:"system_info"`
	StartTime    *string        `json:"start_time"`
	EndTime      *string        `json:"end_time"`
	DateSamples  int            `json:"date_samples"`
	MetricCount  int            `json:"metric_count"`
	SamplesCount int            `json:"samples_count"`
	Sections     []string       `json:"sections"`
	DataPoints   map[string]int `json:"data_points"`
	Summary      *ParseSummary  `json:"summary,omitempty"`
	ParsedAt     time.Time      `json:"parsed_at"`
}

// Describe builds the ParsedFileInfo of p.
func (p *ParsedData) Describe(fileName, parserName string, summary *ParseSummary, parsedAt time.Time) *ParsedFileInfo {
	info := &ParsedFileInfo{
		FileID:       p.FileID,
		FileName:     fileName,
		ParserName:   parserName,
		SystemInfo:   p.SystemInfo,
		StartTime:    formatTime(p.StartTime),
		EndTime:      formatTime(p.EndTime),
		DateSamples:  len(p.DateSamples),
		MetricCount:  len(p.Metrics),
		SamplesCount: p.SampleCount(),
		DataPoints:   make(map[string]int, len(p.Metrics)),
		Summary:      summary,
		ParsedAt:     parsedAt,
	}
	for id, s := range p.Metrics {
		info.DataPoints[id] = s.Len()
	}
	for section := range p.Sections() {
		info.Sections = append(info.Sections, section)
	}
	sort.Strings(info.Sections)
	return info
}
