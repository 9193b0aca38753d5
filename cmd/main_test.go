package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nirvaankohli/north-pole-consensus/internal/config"
	"github.com/nirvaankohli/north-pole-consensus/internal/domain"
	"github.com/nirvaankohli/north-pole-consensus/internal/repository"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func boolPtr(v bool) *bool {
	return &v
}

func TestOpenRoomsDrivers(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		cfg  config.StorageConfig
	}{
		{name: "memory", cfg: config.StorageConfig{Driver: config.StorageMemory}},
		{name: "file", cfg: config.StorageConfig{Driver: config.StorageFile, Path: filepath.Join(t.TempDir(), "rooms.json")}},
		{name: "badger in memory", cfg: config.StorageConfig{Driver: config.StorageBadger, BadgerDir: ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rooms, err := openRooms(ctx, tt.cfg, discardLogger())
			require.NoError(t, err)
			t.Cleanup(func() { _ = rooms.Close() })

			require.NoError(t, rooms.Create(ctx, domain.NewRoom("ABCDEF", "m1", "Alice")))
			ok, err := rooms.Exists(ctx, "ABCDEF")
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}

	_, err := openRooms(ctx, config.StorageConfig{Driver: "postgres"}, discardLogger())
	assert.Error(t, err)
}

func TestOpenRoomsWipesSnapshot(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "rooms.json")

	cfg := config.StorageConfig{Driver: config.StorageFile, Path: path, WipeOnStart: boolPtr(false)}
	rooms, err := openRooms(ctx, cfg, discardLogger())
	require.NoError(t, err)
	require.NoError(t, rooms.Create(ctx, domain.NewRoom("ABCDEF", "m1", "Alice")))
	require.NoError(t, rooms.Close())

	rooms, err = openRooms(ctx, cfg, discardLogger())
	require.NoError(t, err)
	ok, err := rooms.Exists(ctx, "ABCDEF")
	require.NoError(t, err)
	assert.True(t, ok, "rooms survive a restart without wipe")
	require.NoError(t, rooms.Close())

	cfg.WipeOnStart = nil
	rooms, err = openRooms(ctx, cfg, discardLogger())
	require.NoError(t, err)
	ok, err = rooms.Exists(ctx, "ABCDEF")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, rooms.Close())
}

func TestOpenRoomsRejectsCorruptSnapshot(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "rooms.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := openRooms(ctx, config.StorageConfig{Driver: config.StorageFile, Path: path, WipeOnStart: boolPtr(false)}, discardLogger())
	assert.ErrorIs(t, err, repository.ErrCorruptSnapshot)

	rooms, err := openRooms(ctx, config.StorageConfig{Driver: config.StorageFile, Path: path, WipeOnStart: boolPtr(true)}, discardLogger())
	require.NoError(t, err)
	list, err := rooms.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
	require.NoError(t, rooms.Close())
}

func TestSetupLogger(t *testing.T) {
	for _, env := range []string{envLocal, envDev, envProd, "unknown"} {
		assert.NotNil(t, setupLogger(env), env)
	}
	assert.True(t, setupLogger(envDev).Enabled(context.Background(), slog.LevelDebug))
	assert.False(t, setupLogger(envProd).Enabled(context.Background(), slog.LevelDebug))
}
