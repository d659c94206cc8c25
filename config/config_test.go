package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/craigwin-ni/daemonlib/errs"
)

// TestLoadLastWriteWinsCaseInsensitive exercises scenario S1: comments,
// leading whitespace before a repeated key, and case-insensitive
// duplicate resolution where the last assignment wins.
func TestLoadLastWriteWinsCaseInsensitive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "daemon.conf")
	contents := "# hi\nLog.Level = debug\n log.level\t=\twarn\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, warnings, err := Load(path)
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, _, err := Load(filepath.Join(t.TempDir(), "absent.conf"))
	require.True(t, errs.OfKind(err, errs.NotFound))
	require.Equal(t, Default(), cfg)
}

func TestLoadDropsOverlongLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "daemon.conf")
	long := make([]byte, maxLineSize+1)
	for i := range long {
		long[i] = 'a'
	}
	contents := "log.level = " + string(long) + "\nlog.level = info\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, warnings, err := Load(path)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	require.Equal(t, "info", cfg.Log.Level)
}

func TestLoadMalformedMaxOutputSizeWarnsAndKeepsDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "daemon.conf")
	require.NoError(t, os.WriteFile(path, []byte("log.max_output_size = not-a-size\n"), 0o644))

	cfg, warnings, err := Load(path)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	require.Equal(t, Default().Log.MaxOutputSize, cfg.Log.MaxOutputSize)
}

func TestParseDebugFilterGrammar(t *testing.T) {
	rules, err := ParseDebugFilter("+all,-packet,+packet:137")
	require.NoError(t, err)
	require.Equal(t, []DebugRule{
		{Included: true, Name: "all"},
		{Included: false, Name: "packet"},
		{Included: true, Name: "packet", HasLine: true, Line: 137},
	}, rules)
}

func TestParseDebugFilterEmptyIsNoRules(t *testing.T) {
	rules, err := ParseDebugFilter("   ")
	require.NoError(t, err)
	require.Empty(t, rules)
}

func TestParseDebugFilterRejectsMissingSign(t *testing.T) {
	_, err := ParseDebugFilter("packet:1")
	require.Error(t, err)
}

func TestParseDebugFilterRejectsLineOutOfRange(t *testing.T) {
	_, err := ParseDebugFilter("+packet:0")
	require.Error(t, err)
	_, err = ParseDebugFilter("+packet:100000")
	require.Error(t, err)
}

func TestParseDebugFilterRejectsOverlongName(t *testing.T) {
	name := make([]byte, 65)
	for i := range name {
		name[i] = 'x'
	}
	_, err := ParseDebugFilter("+" + string(name))
	require.Error(t, err)
}
