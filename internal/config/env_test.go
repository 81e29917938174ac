package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/pagetrans/internal/stage"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, stage.All(), cfg.Pipeline.Stages)
	assert.Empty(t, cfg.Pipeline.Pages)
	assert.True(t, cfg.Pipeline.AsyncTranslate)
	assert.True(t, cfg.Pipeline.DeferIntensiveTranslate)
	assert.Equal(t, 50*time.Millisecond, cfg.Pipeline.StopPollInterval)
	assert.Equal(t, 200, cfg.Pipeline.StopPollLimit)
	assert.Less(t, cfg.Pipeline.TranslateDelay, time.Duration(0), "no override")
	assert.Equal(t, "blob", cfg.Strategies.Detector)
	assert.Equal(t, "fs", cfg.Storage.ArtifactBackend)
	assert.Equal(t, "dev_pagetrans", cfg.Axiom.Dataset)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("PIPELINE_STAGES", "detect, ocr")
	t.Setenv("PIPELINE_PAGES", "a.png, ,b.png")
	t.Setenv("PIPELINE_LOW_VRAM", "yes")
	t.Setenv("PIPELINE_ASYNC_TRANSLATE", "false")
	t.Setenv("PIPELINE_TRANSLATE_DELAY", "0s")
	t.Setenv("LLM_API_KEY", "sk-test")
	t.Setenv("ARTIFACT_BACKEND", "S3")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, []stage.Kind{stage.Detect, stage.Recognize}, cfg.Pipeline.Stages.Kinds())
	assert.Equal(t, []string{"a.png", "b.png"}, cfg.Pipeline.Pages)
	assert.True(t, cfg.Pipeline.LowVRAM)
	assert.False(t, cfg.Pipeline.AsyncTranslate)
	assert.Equal(t, time.Duration(0), cfg.Pipeline.TranslateDelay)
	assert.Equal(t, "sk-test", cfg.Strategies.Params["LLM_API_KEY"])
	assert.Equal(t, "s3", cfg.Storage.ArtifactBackend)
}

func TestFromEnvBadStages(t *testing.T) {
	t.Setenv("PIPELINE_STAGES", "detect,typeset")
	_, err := FromEnv()
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("PAGETRANS_TEST_VALUE=from-file\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("PAGETRANS_TEST_VALUE") })

	require.NoError(t, Load(filepath.Join(dir, "missing.env"), path))
	assert.Equal(t, "from-file", os.Getenv("PAGETRANS_TEST_VALUE"))
}
