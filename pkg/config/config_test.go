package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fcopy.conf")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadServerConfigBasics(t *testing.T) {
	path := writeConfig(t, `
# a comment
port 9000
srv_max_conn 256
request-size-limit 64M
logfile "/var/log/fcopy.log"
default-partition main
partitions main /data/main
partitions backup /data/backup
`)

	cfg, err := LoadServerConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 256, cfg.SrvMaxConn)
	assert.EqualValues(t, 64<<20, cfg.RequestSizeLimit)
	assert.Equal(t, "/var/log/fcopy.log", cfg.LogFile)
	assert.Equal(t, "main", cfg.DefaultPartition)
	assert.Equal(t, "/data/main", cfg.Partitions["main"])
	assert.Equal(t, "/data/backup", cfg.Partitions["backup"])
}

func TestLoadServerConfigUnknownKeyIgnored(t *testing.T) {
	path := writeConfig(t, "some-future-key 1\nport 7000\n")
	cfg, err := LoadServerConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Port)
}

func TestLoadServerConfigBadIntErrors(t *testing.T) {
	path := writeConfig(t, "port not-a-number\n")
	_, err := LoadServerConfig(path)
	assert.Error(t, err)
}

func TestParseSizeSuffixes(t *testing.T) {
	cases := map[string]uint64{
		"1B":   1,
		"1K":   1 << 10,
		"1M":   1 << 20,
		"1G":   1 << 30,
		"1T":   1 << 40,
		"512":  512,
		"1.5K": uint64(1.5 * 1024),
	}
	for in, want := range cases {
		got, err := parseSize([]string{in})
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestParseLineQuotingAndEscapes(t *testing.T) {
	key, args, err := parseLine(`logfile "/tmp/a b\n.log"`)
	require.NoError(t, err)
	assert.Equal(t, "logfile", key)
	require.Len(t, args, 1)
	assert.Equal(t, "/tmp/a b\n.log", args[0])
}

func TestParseLineCommentAndBlank(t *testing.T) {
	key, args, err := parseLine("   # nothing here")
	require.NoError(t, err)
	assert.Empty(t, key)
	assert.Empty(t, args)
}

func TestParseLineMultipleArgs(t *testing.T) {
	key, args, err := parseLine("partitions main /data/main")
	require.NoError(t, err)
	assert.Equal(t, "partitions", key)
	assert.Equal(t, []string{"main", "/data/main"}, args)
}

func TestParseTarget(t *testing.T) {
	target, err := ParseTarget("10.0.0.5:8700")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", target.Host)
	assert.EqualValues(t, 8700, target.Port)

	_, err = ParseTarget("no-port-here")
	assert.Error(t, err)
}

func TestLoadTargetListSkipsBlanksAndComments(t *testing.T) {
	path := writeConfig(t, "\n# comment\n10.0.0.1:8700\n10.0.0.2:8700\n")
	targets, err := LoadTargetList(path)
	require.NoError(t, err)
	require.Len(t, targets, 2)
	assert.Equal(t, "10.0.0.1", targets[0].Host)
	assert.Equal(t, "10.0.0.2", targets[1].Host)
}
