package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigTypedAccessors(t *testing.T) {
	cfg := New(map[string]any{
		"name":     "automaton",
		"count":    42,
		"ratio":    0.5,
		"enabled":  true,
		"interval": "5m",
		"seconds":  30,
	})

	assert.Equal(t, "automaton", cfg.String("name", "fallback"))
	assert.Equal(t, "fallback", cfg.String("missing", "fallback"))
	assert.Equal(t, "fallback", cfg.String("count", "fallback"), "wrong type falls back")

	assert.Equal(t, 42, cfg.Int("count", 0))
	assert.Equal(t, 7, cfg.Int("missing", 7))
	assert.Equal(t, 7, cfg.Int("ratio", 7), "fractional float is not an int")

	assert.Equal(t, 0.5, cfg.Float("ratio", 0))
	assert.Equal(t, 42.0, cfg.Float("count", 0), "ints convert to float")

	assert.True(t, cfg.Bool("enabled", false))
	assert.False(t, cfg.Bool("missing", false))

	assert.Equal(t, 5*time.Minute, cfg.Duration("interval", 0))
	assert.Equal(t, 30*time.Second, cfg.Duration("seconds", 0), "bare ints are seconds")
	assert.Equal(t, time.Hour, cfg.Duration("missing", time.Hour))
}

func TestConfigSub(t *testing.T) {
	cfg := New(map[string]any{
		"scheduler": map[string]any{
			"drain_timeout":  "45s",
			"max_concurrent": 8,
		},
		"flat": "value",
	})

	sched := cfg.Sub("scheduler")
	assert.Equal(t, 45*time.Second, sched.Duration("drain_timeout", 0))
	assert.Equal(t, 8, sched.Int("max_concurrent", 0))

	// Missing and non-map keys yield an empty section, not a panic.
	assert.Equal(t, 3, cfg.Sub("missing").Int("x", 3))
	assert.Equal(t, 3, cfg.Sub("flat").Int("x", 3))
}

func TestConfigNilMap(t *testing.T) {
	cfg := New(nil)
	assert.Equal(t, "d", cfg.String("k", "d"))
	assert.NotNil(t, cfg.Raw())
}

func TestFromYAML(t *testing.T) {
	cfg, err := FromYAML([]byte(`
dispatcher:
  max_concurrent: 16
  handler_timeout: 30s
scheduler:
  drain_timeout: 1m
`))
	require.NoError(t, err)

	assert.Equal(t, 16, cfg.Sub("dispatcher").Int("max_concurrent", 0))
	assert.Equal(t, 30*time.Second, cfg.Sub("dispatcher").Duration("handler_timeout", 0))
	assert.Equal(t, time.Minute, cfg.Sub("scheduler").Duration("drain_timeout", 0))

	_, err = FromYAML([]byte("not: [valid"))
	assert.Error(t, err)
}

func TestFromJSON(t *testing.T) {
	cfg, err := FromJSON([]byte(`{"dispatcher": {"max_depth": 5}}`))
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Sub("dispatcher").Int("max_depth", 0))

	_, err = FromJSON([]byte("{broken"))
	assert.Error(t, err)
}

func TestFromFile(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "engine.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("name: automaton\n"), 0o644))

	cfg, err := FromFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "automaton", cfg.String("name", ""))

	_, err = FromFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	tomlPath := filepath.Join(dir, "engine.toml")
	require.NoError(t, os.WriteFile(tomlPath, []byte("x = 1\n"), 0o644))
	_, err = FromFile(tomlPath)
	assert.Error(t, err, "unsupported extension")
}
