package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wlu03/story-to-scene-magic-08/config"
)

func TestNewWritesJSONToRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "app.log")
	log, err := New(config.LogConfig{
		Level:     "debug",
		Format:    "json",
		Output:    "file",
		Path:      path,
		MaxSizeMB: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())

	Module(log, "orchestrator").WithField(FieldStoryID, "s-1").Info("stage entered")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"module":"orchestrator"`)
	assert.Contains(t, string(data), `"story_id":"s-1"`)
	assert.Contains(t, string(data), `"message":"stage entered"`)
}

func TestNewFallsBackToInfoOnUnknownLevel(t *testing.T) {
	log, err := New(config.LogConfig{Level: "chatty", Output: "stdout"})
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, log.GetLevel())
}
