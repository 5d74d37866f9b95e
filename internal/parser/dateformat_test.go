package parser

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectDateFormat(t *testing.T) {
	tests := []struct {
		token  string
		format string
		want   time.Time
	}{
		{"20240115", "yyyyMMdd", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
		{"15-01-2024", "dd-MM-yyyy", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
		{"2024-01-15", "yyyy-MM-dd", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
		{"01/15/2024", "MM/dd/yyyy", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
		{"2024/01/15", "yyyy/MM/dd", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
		{"15 Jan 2024", "dd MMM yyyy", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
		{"15 January 2024", "dd MMMM yyyy", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
		{"15-01-24", "dd-MM-yy", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
		{"01/15/24", "MM/dd/yy", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
		{"1/5/24", "MM/dd/yy", time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			f, err := DetectDateFormat(tt.token)
			require.NoError(t, err)
			assert.Equal(t, tt.format, f.Name)

			got, err := f.Parse(tt.token)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetectDateFormatRejects(t *testing.T) {
	for _, token := range []string{"", "2024.01.15", "Jan", "15/01", "x1/15/24"} {
		_, err := DetectDateFormat(token)
		var dfe *DateFormatError
		assert.True(t, errors.As(err, &dfe), token)
	}
}

func TestDateFormatParseInvalidDay(t *testing.T) {
	f, ok := LookupDateFormat("MM/dd/yyyy")
	require.True(t, ok)
	_, err := f.Parse("13/45/2024")
	var dfe *DateFormatError
	require.True(t, errors.As(err, &dfe))
	assert.Equal(t, "MM/dd/yyyy", dfe.Format)
	assert.NotNil(t, errors.Unwrap(err))
}

func TestDateResolverCachesDetectedFormat(t *testing.T) {
	r, err := NewDateResolver(AutomaticDateFormat)
	require.NoError(t, err)
	assert.True(t, r.Automatic())

	_, ok := r.Format()
	assert.False(t, ok)

	_, err = r.Resolve("garbage")
	assert.Error(t, err)
	_, ok = r.Format()
	assert.False(t, ok, "failed detection must not be cached")

	_, err = r.Resolve("2024-01-15")
	require.NoError(t, err)
	f, ok := r.Format()
	require.True(t, ok)
	assert.Equal(t, "yyyy-MM-dd", f.Name)

	// the cached format now rules
	_, err = r.Resolve("01/15/24")
	assert.Error(t, err)
}

func TestDateResolverFixed(t *testing.T) {
	r, err := NewDateResolver("dd-mm-yyyy")
	require.NoError(t, err)
	assert.False(t, r.Automatic())

	got, err := r.Resolve("03-04-2024")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 4, 3, 0, 0, 0, 0, time.UTC), got)

	_, err = NewDateResolver("yyyy.MM.dd")
	assert.Error(t, err)
}

func TestDateFormatsOrder(t *testing.T) {
	names := DateFormats()
	require.Len(t, names, 9)
	assert.Equal(t, "yyyyMMdd", names[0])
	assert.Equal(t, "MM/dd/yy", names[len(names)-1])
}
