package parser

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinVocabulariesLoad(t *testing.T) {
	for _, name := range []string{"linux", "sunos", "hpux", "aix"} {
		v := builtinVocabulary(name)
		assert.Equal(t, name, v.Name)
		assert.NotEmpty(t, v.Sections, name)
		assert.NotEmpty(t, v.RestartMarkers, name)
	}
}

func TestVocabularyClassification(t *testing.T) {
	v := builtinVocabulary("linux")

	ignorable := []string{
		"",
		"   ",
		"Average:        all      1.00",
		"Durchschn.:     all      1.00",
		"# comment",
		"## header",
	}
	for _, line := range ignorable {
		assert.True(t, v.IsIgnorable(line, strings.Fields(line)), line)
	}
	assert.False(t, v.IsIgnorable("00:00:01 all 1", strings.Fields("00:00:01 all 1")))

	assert.True(t, v.IsRestart("12:00:01 AM       LINUX RESTART	(4 CPU)"))
	assert.False(t, v.IsRestart("00:00:01 all 1"))
}

func TestMatchSection(t *testing.T) {
	v := builtinVocabulary("linux")

	def := v.MatchSection(strings.Fields("CPU %usr %nice %sys"))
	require.NotNil(t, def)
	assert.Equal(t, "cpu", def.Name)
	assert.Equal(t, InstanceFirst, def.Instance)

	def = v.MatchSection(strings.Fields("IFACE rxerr/s txerr/s"))
	require.NotNil(t, def)
	assert.Equal(t, "network_errors", def.Name)

	assert.Nil(t, v.MatchSection(strings.Fields("all 1.0 2.0")))
	assert.Nil(t, v.MatchSection(nil))
}

func TestParseVocabulary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	content := `name: custom
ignore_tokens: ["Total:"]
restart_markers: ["REBOOT"]
sections:
  - name: widgets
    match: ["WID", "spin/s"]
    instance: first
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	v, err := ParseVocabulary(path)
	require.NoError(t, err)
	assert.True(t, v.IsIgnorable("Total: 5", []string{"Total:", "5"}))
	assert.True(t, v.IsRestart("00:00:00 REBOOT"))
	require.NotNil(t, v.MatchSection([]string{"WID", "spin/s"}))
}

func TestParseVocabularyInvalid(t *testing.T) {
	_, err := ParseVocabularyFromReader(strings.NewReader("sections: []"))
	assert.Error(t, err, "missing name")

	_, err = ParseVocabularyFromReader(strings.NewReader("name: x\nsections:\n  - name: a\n"))
	assert.Error(t, err, "missing match")

	_, err = ParseVocabularyFromReader(strings.NewReader("name: x\nsections:\n  - name: a\n    match: [b]\n    instance: middle\n"))
	assert.Error(t, err, "bad instance position")

	_, err = ParseVocabulary(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
