package parser

import (
	"errors"
	"fmt"
)

// ErrEmptyInput is returned when a report holds no lines at all.
var ErrEmptyInput = errors.New("empty input")

// HeaderError rejects a report whose first line is not a recognized system header.
type HeaderError struct {
	Line   string
	Reason string
}

func (e *HeaderError) Error() string {
	return fmt.Sprintf("unsupported format: %s: %q", e.Reason, e.Line)
}

// DateFormatError is returned when a date token matches no known format.
type DateFormatError struct {
	Token  string
	Format string // set when a fixed or cached format failed to parse the token
	Err    error
}

func (e *DateFormatError) Error() string {
	if e.Format != "" {
		return fmt.Sprintf("date %q does not match format %s: %v", e.Token, e.Format, e.Err)
	}
	return fmt.Sprintf("unrecognized date format: %q", e.Token)
}

func (e *DateFormatError) Unwrap() error {
	return e.Err
}

// LineParseError describes one data line that could not be used.
// It never aborts a parse.
type LineParseError struct {
	Line    int
	Content string
	Reason  string
}

func (e *LineParseError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

// IsFatal reports whether err aborts a parse.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var lineErr *LineParseError
	return !errors.As(err, &lineErr)
}
