package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	os.Unsetenv("CODEX_VISUALIZER_WS")
	os.Unsetenv("TURNCORE_VISUALIZER_QUEUECAPACITY")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 256, cfg.Visualizer.QueueCapacity)
	assert.Equal(t, 1, cfg.Visualizer.MinBackoffSeconds)
	assert.Equal(t, 30, cfg.Visualizer.MaxBackoffSeconds)
	assert.Equal(t, 1*time.Second, cfg.Visualizer.MinBackoff())
	assert.Equal(t, 30*time.Second, cfg.Visualizer.MaxBackoff())
	assert.Empty(t, cfg.Debug.Addr)
}

func TestLoadReadsVisualizerEnvVar(t *testing.T) {
	os.Setenv("CODEX_VISUALIZER_WS", "ws://example.test/viz")
	defer os.Unsetenv("CODEX_VISUALIZER_WS")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "ws://example.test/viz", cfg.Visualizer.WSURL)
}

func TestValidateRejectsInvertedBackoff(t *testing.T) {
	cfg := &Config{
		Visualizer: VisualizerConfig{
			QueueCapacity:     256,
			MinBackoffSeconds: 30,
			MaxBackoffSeconds: 1,
		},
	}
	assert.Error(t, validate(cfg))
}
