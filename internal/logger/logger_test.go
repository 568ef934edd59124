package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitSetsLevel(t *testing.T) {
	Init(false)
	assert.Equal(t, zerolog.InfoLevel, Log.GetLevel())

	Init(true)
	assert.Equal(t, zerolog.DebugLevel, Log.GetLevel())
}

func TestInitWithFileCreatesLogFile(t *testing.T) {
	dir := t.TempDir()
	logsDir := filepath.Join(dir, "logs")

	err := InitWithFile(true, logsDir, &FileConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = CloseFileWriter() })

	Info().Str("component", "test").Msg("hello")

	data, err := os.ReadFile(filepath.Join(logsDir, "plexup.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"test"`)
	assert.Contains(t, string(data), "hello")
}

func TestInitWithFileEmptyDirFallsBackToConsole(t *testing.T) {
	err := InitWithFile(false, "", nil)
	require.NoError(t, err)
	assert.Nil(t, fileWriter)
}

func TestFileConfigDefaults(t *testing.T) {
	cfg := &FileConfig{}
	assert.Equal(t, 20, cfg.GetMaxSizeMB())
	assert.Equal(t, 7, cfg.GetMaxAgeDays())
	assert.Equal(t, 3, cfg.GetMaxBackups())

	cfg = &FileConfig{MaxSizeMB: 5, MaxAgeDays: 1, MaxBackups: 9}
	assert.Equal(t, 5, cfg.GetMaxSizeMB())
	assert.Equal(t, 1, cfg.GetMaxAgeDays())
	assert.Equal(t, 9, cfg.GetMaxBackups())
}
