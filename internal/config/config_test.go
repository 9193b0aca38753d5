package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPath_Defaults(t *testing.T) {
	cfg, err := LoadPath("testdata/minimal.yaml")
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.Env)
	assert.Equal(t, ":8080", cfg.HTTP.Address)
	assert.Empty(t, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, "npc_session", cfg.HTTP.CookieName)
	assert.Equal(t, StorageFile, cfg.Storage.Driver)
	assert.Equal(t, "data/rooms.json", cfg.Storage.Path)
	assert.True(t, cfg.Storage.Wipe())
	assert.Equal(t, "data/movies.csv", cfg.Catalog.Path)
	assert.Equal(t, 3*time.Second, cfg.OMDB.Timeout)
	assert.Equal(t, "google/gemini-2.5-flash", cfg.LLM.Model)
	assert.Equal(t, 8000, cfg.LLM.MaxTokens)
	assert.Equal(t, float64(10), cfg.WS.MessagesPerSecond)
	assert.Equal(t, 20, cfg.WS.Burst)
	assert.Equal(t, "rating", cfg.Feed.Priority)
	assert.Zero(t, cfg.Feed.MinYear)
}

func TestLoadPath_Overrides(t *testing.T) {
	cfg, err := LoadPath("testdata/full.yaml")
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, ":9090", cfg.HTTP.Address)
	assert.Equal(t, "dev-secret", cfg.HTTP.SessionSecret)
	assert.Equal(t, StorageBadger, cfg.Storage.Driver)
	assert.Equal(t, "/tmp/npc-badger", cfg.Storage.BadgerDir)
	assert.False(t, cfg.Storage.Wipe())
	assert.Equal(t, 1500*time.Millisecond, cfg.OMDB.Timeout)
	assert.Equal(t, int64(42), cfg.Feed.Seed)
	assert.Equal(t, "year", cfg.Feed.Priority)
	assert.Equal(t, 1990, cfg.Feed.MinYear)
}

func TestLoadPath_EnvOverride(t *testing.T) {
	t.Setenv("OMDB_API_KEY", "omdb-key")
	t.Setenv("AI_API_KEY", "ai-key")

	cfg, err := LoadPath("testdata/minimal.yaml")
	require.NoError(t, err)
	assert.Equal(t, "omdb-key", cfg.OMDB.APIKey)
	assert.Equal(t, "ai-key", cfg.LLM.APIKey)
}

func TestLoadPath_Invalid(t *testing.T) {
	_, err := LoadPath("testdata/bad_driver.yaml")
	assert.ErrorContains(t, err, "Driver")

	_, err = LoadPath("testdata/prod_short_secret.yaml")
	assert.ErrorContains(t, err, "session_secret")

	_, err = LoadPath("testdata/nope.yaml")
	assert.ErrorContains(t, err, "does not exist")

	assert.Panics(t, func() { MustLoadPath("testdata/nope.yaml") })
}

func TestFetchConfigPath(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	assert.Equal(t, "config/local.yaml", fetchConfigPath(""))

	t.Setenv("CONFIG_PATH", "from-env.yaml")
	assert.Equal(t, "from-env.yaml", fetchConfigPath(""))
	assert.Equal(t, "flag.yaml", fetchConfigPath("flag.yaml"))
}
