package models

import "time"

// SessionStatus represents the status of a parse session.
type SessionStatus string

const (
	SessionStatusPending  SessionStatus = "pending"
	SessionStatusParsing  SessionStatus = "parsing"
	SessionStatusComplete SessionStatus = "complete"
	SessionStatusError    SessionStatus = "error"
)

// ParseSession tracks one parse of an uploaded file.
type ParseSession struct {
	ID               string        `json:"id"`
	FileID           string        `json:"fileId"`
	FileName         string        `json:"fileName"`
	Status           SessionStatus `json:"status"`
	ParserName       string        `json:"parserName,omitempty"`
	ProcessingTimeMs int64         `json:"processingTimeMs,omitempty"`
	Summary          *ParseSummary `json:"summary,omitempty"`
	Error            string        `json:"error,omitempty"`
	CreatedAt        time.Time     `json:"createdAt"`
}

// NewParseSession creates a new ParseSession in pending status.
func NewParseSession(id, fileID, fileName string) *ParseSession {
	return &ParseSession{
		ID:        id,
		FileID:    fileID,
		FileName:  fileName,
		Status:    SessionStatusPending,
		CreatedAt: time.Now(),
	}
}

// ParseError represents an error encountered during parsing.
type ParseError struct {
	Line    int    `json:"line"`
	Content string `json:"content"`
	Reason  string `json:"reason"`
}

// ParseSummary counts how the lines of one report were handled.
// It is informational only.
type ParseSummary struct {
	TotalLines    int          `json:"totalLines"`
	IgnoredLines  int          `json:"ignoredLines"`
	HeaderLines   int          `json:"headerLines"`
	RestartLines  int          `json:"restartLines"`
	DataLines     int          `json:"dataLines"`
	NoSchemaLines int          `json:"noSchemaLines"`
	ErrorLines    int          `json:"errorLines"`
	Errors        []ParseError `json:"errors,omitempty"`
}

// Skipped returns the number of lines that produced no samples.
func (s ParseSummary) Skipped() int {
	return s.IgnoredLines + s.NoSchemaLines + s.ErrorLines
}
