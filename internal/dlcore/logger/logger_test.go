package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/surge-downloader/dlcore/internal/dlcore/types"
)

func TestLogger_LevelFiltersMessages(t *testing.T) {
	l, err := New(types.LogConfig{Level: types.LogWarning})
	require.NoError(t, err)

	var captured []string
	l.SetSink(func(level types.LogLevel, message string) {
		captured = append(captured, message)
	})

	l.Debug("debug message")
	l.Info("info message")
	l.Warning("warning message")
	l.Error("error message")

	assert.Equal(t, []string{"warning message", "error message"}, captured)
}

func TestLogger_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.txt")
	l, err := New(types.LogConfig{Level: types.LogDebug, LogToFile: true, LogFilePath: path})
	require.NoError(t, err)

	l.Info("hello %s", "world")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[INFO] hello world")
}

func TestLogger_SetLevelChangesFiltering(t *testing.T) {
	l, err := New(types.LogConfig{Level: types.LogNone})
	require.NoError(t, err)

	var count int
	l.SetSink(func(types.LogLevel, string) { count++ })

	l.Error("one")
	assert.Equal(t, 0, count)

	l.SetLevel(types.LogError)
	l.Error("two")
	assert.Equal(t, 1, count)
}

func TestNop_DiscardsEverything(t *testing.T) {
	l := Nop()
	assert.NotPanics(t, func() {
		l.Error("x")
		l.Info("y")
	})
}
