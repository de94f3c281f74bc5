package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValues(t *testing.T) {
	cfg := Default()

	assert.Equal(t, DefaultParallelism, cfg.Parallelism)
	assert.Equal(t, DefaultMaxStageRetries, cfg.MaxStageRetries)
	assert.Equal(t, DefaultOutputDir, cfg.OutputDir)
}

func TestLoadMissingDefaultFileIsNotAnError(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestLoadLayersFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patentsmith.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"backend":"openai","parallelism":4}`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.Backend)
	assert.Equal(t, 4, cfg.Parallelism)
	// Untouched fields keep defaults.
	assert.Equal(t, DefaultMaxStageRetries, cfg.MaxStageRetries)
}

func TestApplyEnvParallelism(t *testing.T) {
	t.Setenv(EnvParallelism, "5")

	cfg := Default()
	cfg.ApplyEnv()
	assert.Equal(t, 5, cfg.Parallelism)
}

func TestApplyEnvIgnoresGarbage(t *testing.T) {
	t.Setenv(EnvParallelism, "many")

	cfg := Default()
	cfg.ApplyEnv()
	assert.Equal(t, DefaultParallelism, cfg.Parallelism)
}

func TestNormalizeClampsParallelism(t *testing.T) {
	cases := []struct {
		in, want int
	}{
		{-3, MinParallelism},
		{0, DefaultParallelism},
		{1, 1},
		{6, 6},
		{99, MaxParallelism},
	}
	for _, tc := range cases {
		cfg := Config{Parallelism: tc.in}
		cfg.Normalize()
		assert.Equal(t, tc.want, cfg.Parallelism, "input %d", tc.in)
	}
}

func TestNormalizeFloorsRetries(t *testing.T) {
	cfg := Config{MaxStageRetries: 0}
	cfg.Normalize()
	assert.Equal(t, DefaultMaxStageRetries, cfg.MaxStageRetries)

	cfg = Config{MaxStageRetries: 1}
	cfg.Normalize()
	assert.Equal(t, 1, cfg.MaxStageRetries)
}
