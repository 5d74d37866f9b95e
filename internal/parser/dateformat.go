package parser

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// AutomaticDateFormat selects detection of the date format from the report itself.
const AutomaticDateFormat = "Automatic Detection"

// DateFormat pairs a recognizable date shape with the layout that parses it.
type DateFormat struct {
	Name    string
	Layout  string
	pattern *regexp.Regexp
}

// dateFormats is tried in order; the first pattern matching the lowercased token wins.
var dateFormats = []DateFormat{
	{Name: "yyyyMMdd", Layout: "20060102", pattern: regexp.MustCompile(`^\d{8}$`)},
	{Name: "dd-MM-yyyy", Layout: "2-1-2006", pattern: regexp.MustCompile(`^\d{1,2}-\d{1,2}-\d{4}$`)},
	{Name: "yyyy-MM-dd", Layout: "2006-1-2", pattern: regexp.MustCompile(`^\d{4}-\d{1,2}-\d{1,2}$`)},
	{Name: "MM/dd/yyyy", Layout: "1/2/2006", pattern: regexp.MustCompile(`^\d{1,2}/\d{1,2}/\d{4}$`)},
	{Name: "yyyy/MM/dd", Layout: "2006/1/2", pattern: regexp.MustCompile(`^\d{4}/\d{1,2}/\d{1,2}$`)},
	{Name: "dd MMM yyyy", Layout: "2 Jan 2006", pattern: regexp.MustCompile(`^\d{1,2}\s[a-z]{3}\s\d{4}$`)},
	{Name: "dd MMMM yyyy", Layout: "2 January 2006", pattern: regexp.MustCompile(`^\d{1,2}\s[a-z]{4,}\s\d{4}$`)},
	{Name: "dd-MM-yy", Layout: "2-1-06", pattern: regexp.MustCompile(`^\d{1,2}-\d{1,2}-\d{2}$`)},
	{Name: "MM/dd/yy", Layout: "1/2/06", pattern: regexp.MustCompile(`^\d{1,2}/\d{1,2}/\d{2}$`)},
}

// DateFormats returns the names of all known date formats in detection order.
func DateFormats() []string {
	names := make([]string, len(dateFormats))
	for i, f := range dateFormats {
		names[i] = f.Name
	}
	return names
}

// DetectDateFormat returns the first format whose pattern matches token.
func DetectDateFormat(token string) (DateFormat, error) {
	norm := normalizeDate(token)
	lower := strings.ToLower(norm)
	for _, f := range dateFormats {
		if f.pattern.MatchString(lower) {
			return f, nil
		}
	}
	return DateFormat{}, &DateFormatError{Token: token}
}

// LookupDateFormat finds a format by name, ignoring case.
func LookupDateFormat(name string) (DateFormat, bool) {
	for _, f := range dateFormats {
		if strings.EqualFold(f.Name, name) {
			return f, true
		}
	}
	return DateFormat{}, false
}

// Parse parses token with this format. The result is midnight UTC of that day.
func (f DateFormat) Parse(token string) (time.Time, error) {
	t, err := time.ParseInLocation(f.Layout, normalizeDate(token), time.UTC)
	if err != nil {
		return time.Time{}, &DateFormatError{Token: token, Format: f.Name, Err: err}
	}
	return t, nil
}

// DateResolver turns date tokens into calendar days for one parse.
// In automatic mode the first detected format is kept for the rest of the parse.
type DateResolver struct {
	fixed    *DateFormat
	detected *DateFormat
}

// NewDateResolver creates a resolver. An empty name or AutomaticDateFormat selects detection.
func NewDateResolver(name string) (*DateResolver, error) {
	if name == "" || strings.EqualFold(name, AutomaticDateFormat) {
		return &DateResolver{}, nil
	}
	f, ok := LookupDateFormat(name)
	if !ok {
		return nil, fmt.Errorf("unknown date format %q", name)
	}
	return &DateResolver{fixed: &f}, nil
}

// Automatic reports whether the resolver detects formats.
func (r *DateResolver) Automatic() bool {
	return r.fixed == nil
}

// Format returns the format in use, if one is fixed or already detected.
func (r *DateResolver) Format() (DateFormat, bool) {
	switch {
	case r.fixed != nil:
		return *r.fixed, true
	case r.detected != nil:
		return *r.detected, true
	}
	return DateFormat{}, false
}

// Resolve parses token into a calendar day.
func (r *DateResolver) Resolve(token string) (time.Time, error) {
	if f, ok := r.Format(); ok {
		return f.Parse(token)
	}
	f, err := DetectDateFormat(token)
	if err != nil {
		return time.Time{}, err
	}
	t, err := f.Parse(token)
	if err != nil {
		return time.Time{}, err
	}
	r.detected = &f
	return t, nil
}

func normalizeDate(token string) string {
	return strings.Join(strings.Fields(token), " ")
}
