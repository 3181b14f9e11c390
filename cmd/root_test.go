package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/billm/baaaht/softbus/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetFlags clears flag variables left over from a previous Execute
func resetFlags() {
	cfgFile, logLevel, logFormat, logOutput = "", "", "", ""
	maxPipes, maxMsgIDs, poolMemory = 0, 0, 0
	dumpDir, dumpFormat = "", ""
	demoCycles, demoZeroCopy, demoDumpKind, demoMetricsFile = 10, false, "", ""
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags()
	config.SetTestConfigPath(filepath.Join(t.TempDir(), "missing.yaml"))
	t.Cleanup(func() { config.SetTestConfigPath("") })

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(append([]string{"--log-output", "discard"}, args...))
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestDemoCommand(t *testing.T) {
	dir := t.TempDir()
	metricsPath := filepath.Join(dir, "softbus.prom")

	out, err := execute(t, "demo", "--cycles", "3", "--dump", "all", "--dump-dir", dir, "--metrics-file", metricsPath)
	require.NoError(t, err, out)

	assert.Contains(t, out, "HK_TLM_PIPE")
	assert.Contains(t, out, "SC_CMD_PIPE")
	assert.Contains(t, out, "SBN_SUB_PIPE")
	assert.Contains(t, out, "telemetry=9 commands=3 bad_checksums=0 sub_reports=6")
	assert.Contains(t, out, "dump written:")
	assert.Contains(t, out, "metrics written:")

	metricsText, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(metricsText), "softbus_sb_pipes_in_use 3")

	dumps, err := filepath.Glob(filepath.Join(dir, "softbus-all-*.yaml"))
	require.NoError(t, err)
	require.Len(t, dumps, 1)

	shown, err := execute(t, "dump", "show", dumps[0])
	require.NoError(t, err, shown)
	assert.Contains(t, shown, "Routing")
	assert.Contains(t, shown, "0x0801")
	assert.Contains(t, shown, "HK_TLM_PIPE")
}

func TestDemoZeroCopy(t *testing.T) {
	out, err := execute(t, "demo", "--cycles", "2", "--zero-copy")
	require.NoError(t, err, out)
	assert.Contains(t, out, "telemetry=6 commands=2")
}

func TestDemoRejectsBadCycles(t *testing.T) {
	_, err := execute(t, "demo", "--cycles", "0")
	require.Error(t, err)
}

func TestDumpConvert(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(t, "demo", "--cycles", "1", "--dump", "pipes", "--dump-dir", dir)
	require.NoError(t, err, out)

	dumps, err := filepath.Glob(filepath.Join(dir, "softbus-pipes-*.yaml"))
	require.NoError(t, err)
	require.Len(t, dumps, 1)

	packed := filepath.Join(dir, "pipes.msgpack")
	_, err = execute(t, "dump", "convert", dumps[0], packed)
	require.NoError(t, err)

	shown, err := execute(t, "dump", "show", packed)
	require.NoError(t, err, shown)
	assert.Contains(t, shown, "Pipes")
	assert.Contains(t, shown, "SC_CMD_PIPE")
	assert.NotContains(t, shown, "Routing")
}

func TestDumpShowMissingFile(t *testing.T) {
	_, err := execute(t, "dump", "show", filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestConfigShowAppliesOverrides(t *testing.T) {
	out, err := execute(t, "config", "show", "--max-pipes", "12", "--dump-format", "msgpack")
	require.NoError(t, err)
	assert.Contains(t, out, "max_pipes: 12")
	assert.Contains(t, out, "format: msgpack")
}

func TestConfigValidate(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "softbus.yaml")
	require.NoError(t, os.WriteFile(good, []byte("bus:\n  max_pipes: 8\n"), 0o644))

	out, err := execute(t, "config", "validate", good)
	require.NoError(t, err)
	assert.Contains(t, out, "valid:")

	bad := filepath.Join(dir, "softbus.txt")
	require.NoError(t, os.WriteFile(bad, []byte("bus: {}\n"), 0o644))
	_, err = execute(t, "config", "validate", bad)
	require.Error(t, err)
}

func TestConfigFileFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "softbus.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bus:\n  max_msg_ids: 32\n"), 0o644))

	out, err := execute(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "max_msg_ids: 32")
}
