package parser

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vlsi/ksar/internal/models"
)

func TestUnixHeaders(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		dialect string
		date    time.Time
		fields  map[models.InfoField]string
	}{
		{
			name:    "sunos",
			header:  "SunOS hostname.example.com 5.11 11.3 sun4v    05/31/2018",
			dialect: "sunos",
			date:    time.Date(2018, 5, 31, 0, 0, 0, 0, time.UTC),
			fields: map[models.InfoField]string{
				models.FieldOSType:    "SunOS",
				models.FieldHostname:  "hostname.example.com",
				models.FieldOSVersion: "5.11",
				models.FieldKernel:    "11.3",
				models.FieldCPUType:   "sun4v",
			},
		},
		{
			name:    "hpux",
			header:  "HP-UX hostname.example.com B.11.31 U ia64    03/21/18",
			dialect: "hpux",
			date:    time.Date(2018, 3, 21, 0, 0, 0, 0, time.UTC),
			fields: map[models.InfoField]string{
				models.FieldOSType:    "HP-UX",
				models.FieldHostname:  "hostname.example.com",
				models.FieldOSVersion: "B.11.31",
				models.FieldCPUType:   "ia64",
			},
		},
		{
			name:    "aix",
			header:  "AIX aixhost 3 5 00C5D0C44C00    06/09/10",
			dialect: "aix",
			date:    time.Date(2010, 6, 9, 0, 0, 0, 0, time.UTC),
			fields: map[models.InfoField]string{
				models.FieldOSType:     "AIX",
				models.FieldHostname:   "aixhost",
				models.FieldOSVersion:  "3.5",
				models.FieldMacAddress: "00C5D0C44C00",
			},
		},
	}

	reg := GetGlobalRegistry()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := reg.FindDialect(tt.header)
			require.NoError(t, err)
			assert.Equal(t, tt.dialect, d.Name())

			dates, err := NewDateResolver(AutomaticDateFormat)
			require.NoError(t, err)
			info, date, err := d.ParseHeader(tt.header, dates)
			require.NoError(t, err)
			assert.Equal(t, tt.date, date)
			for f, want := range tt.fields {
				assert.Equal(t, want, info.Get(f), string(f))
			}
		})
	}
}

func TestUnixHeaderTooShort(t *testing.T) {
	dates, _ := NewDateResolver("")
	_, _, err := NewSunOSDialect().ParseHeader("SunOS host 5.11", dates)
	var hdr *HeaderError
	assert.True(t, errors.As(err, &hdr))
}

func TestParseSunOSDiskContinuation(t *testing.T) {
	res := mustParse(t, report(
		"SunOS host 5.11 11.3 sun4v    05/31/2018",
		"",
		"00:00:01   device        %busy   avque   r+w/s",
		"",
		"00:05:01   sd0               1     0.0       5",
		"           sd1               2     0.1       6",
		"00:10:01   sd0               3     0.2       7",
		"           sd1               4     0.3       8",
		"",
		"Average    sd0               2     0.1       6",
		"           sd1               3     0.2       7",
	))

	d := time.Date(2018, 5, 31, 0, 0, 0, 0, time.UTC)
	sd1 := res.Data.Metrics["disk_sd1_%busy"]
	require.NotNil(t, sd1)
	assert.Equal(t, []float64{2, 4}, sd1.Values)
	assert.Equal(t, []time.Time{d.Add(5*time.Minute + time.Second), d.Add(10*time.Minute + time.Second)}, sd1.Timestamps)
	assert.Equal(t, []float64{1, 3}, res.Data.Metrics["disk_sd0_%busy"].Values)

	assert.Equal(t, 4, res.Summary.DataLines)
	assert.Equal(t, 0, res.Summary.ErrorLines)
}

func TestParseSunOSSections(t *testing.T) {
	res := mustParse(t, report(
		"SunOS host 5.11 11.3 sun4v    05/31/2018",
		"",
		"00:00:01    %usr    %sys    %wio   %idle",
		"00:05:01       1       2       0      97",
		"23:55:01       3       4       0      93",
		"",
		"Average        2       3       0      95",
		"",
		"00:00:01 runq-sz %runocc swpq-sz %swpocc",
		"00:05:01     1.0      10     0.0       0",
		"23:55:01     2.0      20     0.0       0",
		"",
		"unix restarts at 12:00:00",
	))

	assert.Equal(t, []float64{1, 3}, res.Data.Metrics["cpu_%usr"].Values)
	assert.Equal(t, []float64{10, 20}, res.Data.Metrics["queue_%runocc"].Values)
	assert.Equal(t, res.Data.Metrics["cpu_%usr"].Timestamps, res.Data.Metrics["queue_%runocc"].Timestamps)
	assert.Equal(t, 1, res.Summary.RestartLines)
	assert.Len(t, res.Data.DateSamples, 1)
}

func TestParseAIXIgnoresConfigurationLines(t *testing.T) {
	res := mustParse(t, report(
		"AIX aixhost 3 5 00C5D0C44C00    06/09/10",
		"",
		"System configuration: lcpu=4 ent=0.40 mode=Uncapped",
		"",
		"00:00:00    %usr    %sys    %wio   %idle   physc   %entc",
		"00:05:00       1       2       0      97    0.01     2.5",
	))

	assert.Equal(t, []float64{0.01}, res.Data.Metrics["cpu_physc"].Values)
	assert.Equal(t, "", res.Data.SystemInfo.Get(models.FieldEnt))
}

func TestParseHPUXPerCPU(t *testing.T) {
	res := mustParse(t, report(
		"HP-UX host B.11.31 U ia64    03/21/18",
		"",
		"00:00:00     cpu    %usr    %sys    %wio   %idle",
		"00:05:00       0       1       2       0      97",
		"               1       3       4       0      93",
		"          system       2       3       0      95",
	))

	assert.Equal(t, []float64{3}, res.Data.Metrics["cpus_1_%usr"].Values)
	assert.Equal(t, []float64{2}, res.Data.Metrics["cpus_system_%usr"].Values)
	assert.Equal(t, 3, res.Summary.DataLines)
}
