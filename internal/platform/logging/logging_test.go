package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerWritesFileAndConsole(t *testing.T) {
	tmpDir := t.TempDir()
	var console bytes.Buffer

	logger, err := New(Config{
		Level:    "debug",
		Dir:      tmpDir,
		Filename: "test.log",
		Console:  &console,
	})
	require.NoError(t, err)

	logger.InfoTag("Store", "loaded %d collections", 3)
	require.NoError(t, logger.Close())

	content, err := os.ReadFile(filepath.Join(tmpDir, "test.log"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "[Store] loaded 3 collections")
	assert.Contains(t, console.String(), "[Store] loaded 3 collections")
}

func TestLoggerRespectsLevel(t *testing.T) {
	var console bytes.Buffer
	logger, err := New(Config{Level: "warn", Console: &console})
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Debug("hidden too")
	logger.Warn("visible %s", "warning")

	assert.NotContains(t, console.String(), "hidden")
	assert.Contains(t, console.String(), "visible warning")
}

func TestLoggerWithoutArgsKeepsPercent(t *testing.T) {
	var console bytes.Buffer
	logger, err := New(Config{Level: "info", Console: &console})
	require.NoError(t, err)

	logger.Info("error rate 100%")
	assert.Contains(t, console.String(), "error rate 100%")
}

func TestFormatLog(t *testing.T) {
	assert.Equal(t, "[Auth] login ok", FormatLog("Auth", "login ok"))
	assert.Equal(t, "[Other] kept", FormatLog("Auth", "[Other] kept"))
	assert.Equal(t, "plain", FormatLog("", " plain "))
}

func TestTaggedLogger(t *testing.T) {
	var console bytes.Buffer
	logger, err := New(Config{Level: "debug", Console: &console})
	require.NoError(t, err)

	logger.Tagged("Chaos").Warn("injected %d", 500)
	assert.Contains(t, console.String(), "[Chaos] injected 500")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", ParseLevel("DEBUG").String())
	assert.Equal(t, "WARN", ParseLevel("warning").String())
	assert.Equal(t, "INFO", ParseLevel("bogus").String())
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	logger.Error("nothing should happen")
	assert.NoError(t, logger.Close())
}
