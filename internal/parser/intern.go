// Package parser turns sar report text into named time series.
package parser

// defaultInternLimit caps the number of distinct names one report can pool.
const defaultInternLimit = 1 << 16

// StringIntern keeps a single copy of the names a report repeats on every
// line: section and column names, instance labels and metric ids.
// One parse owns one pool; it is not safe for concurrent use.
type StringIntern struct {
	names map[string]string
	limit int
	hits  int
}

// NewStringIntern creates an empty pool.
func NewStringIntern() *StringIntern {
	return &StringIntern{
		names: make(map[string]string, 64),
		limit: defaultInternLimit,
	}
}

// Intern returns the pooled copy of s. Once the pool is full, new names are
// returned as given.
func (si *StringIntern) Intern(s string) string {
	if pooled, ok := si.names[s]; ok {
		si.hits++
		return pooled
	}
	if len(si.names) < si.limit {
		si.names[s] = s
	}
	return s
}

// InternAll replaces every element of names with its pooled copy.
func (si *StringIntern) InternAll(names []string) []string {
	for i, s := range names {
		names[i] = si.Intern(s)
	}
	return names
}

// Len returns the number of pooled names.
func (si *StringIntern) Len() int {
	return len(si.names)
}

// Hits returns how many lookups found a pooled copy.
func (si *StringIntern) Hits() int {
	return si.hits
}
