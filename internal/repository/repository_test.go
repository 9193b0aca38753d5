package repository_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nirvaankohli/north-pole-consensus/internal/domain"
	"github.com/nirvaankohli/north-pole-consensus/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storeFactory func(t *testing.T) repository.RoomRepository

func stores() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) repository.RoomRepository {
			return repository.NewInMemoryRoomRepository()
		},
		"file": func(t *testing.T) repository.RoomRepository {
			repo, err := repository.NewFileRoomRepository(filepath.Join(t.TempDir(), "data", "rooms.json"))
			require.NoError(t, err)
			return repo
		},
		"badger": func(t *testing.T) repository.RoomRepository {
			db, err := repository.OpenBadger("")
			require.NoError(t, err)
			repo := repository.NewBadgerRoomRepository(db)
			t.Cleanup(func() { _ = repo.Close() })
			return repo
		},
	}
}

func sampleRoom(t *testing.T) *domain.Room {
	t.Helper()

	room := domain.NewRoom("QWERTY", "host-id", "Alice")
	_, err := room.Join("guest-id", "Bob")
	require.NoError(t, err)

	pref := "sci-fi space"
	minRating := 7.5
	require.NoError(t, room.SetSurvey("host-id", domain.Survey{Preferences: &pref, MinRating: &minRating}))
	require.NoError(t, room.SetSuggestions("host-id", []domain.MovieStub{{Title: "Interstellar", Year: 2014}}))
	room.ChatStarted = true

	_, err = room.RecordChoice("host-id", "3", domain.ChoiceLike)
	require.NoError(t, err)
	_, err = room.RecordChoice("guest-id", "3", domain.ChoiceLike)
	require.NoError(t, err)
	_, err = room.RecordChoice("guest-id", "7", domain.ChoiceDislike)
	require.NoError(t, err)

	return room
}

func TestRoomRepository_RoundTrip(t *testing.T) {
	for name, factory := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := factory(t)
			room := sampleRoom(t)

			require.NoError(t, repo.Create(ctx, room))

			loaded, err := repo.Load(ctx, room.Code)
			require.NoError(t, err)

			assert.Equal(t, room.Host, loaded.Host)
			assert.Equal(t, room.MemberIDs(), loaded.MemberIDs())
			assert.Equal(t, room.MutualLikes, loaded.MutualLikes)

			host, ok := loaded.Member("host-id")
			require.True(t, ok)
			require.NotNil(t, host.Survey.Preferences)
			assert.Equal(t, "sci-fi space", *host.Survey.Preferences)
			require.NotNil(t, host.Survey.MinRating)
			assert.Equal(t, 7.5, *host.Survey.MinRating)
			assert.Equal(t, []domain.MovieStub{{Title: "Interstellar", Year: 2014}}, host.SuggestedFromLLM)

			guest, ok := loaded.Member("guest-id")
			require.True(t, ok)
			assert.Equal(t, map[string]domain.Choice{"3": domain.ChoiceLike, "7": domain.ChoiceDislike}, guest.MovieChoices)
			assert.Nil(t, guest.Survey.Preferences)
			assert.Nil(t, guest.Survey.MinRating)
		})
	}
}

func TestRoomRepository_SnapshotIsolation(t *testing.T) {
	for name, factory := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := factory(t)
			require.NoError(t, repo.Create(ctx, domain.NewRoom("ABCDEF", "h", "Host")))

			first, err := repo.Load(ctx, "ABCDEF")
			require.NoError(t, err)
			_, err = first.Join("late", "Late")
			require.NoError(t, err)

			second, err := repo.Load(ctx, "ABCDEF")
			require.NoError(t, err)
			assert.Len(t, second.Members, 1, "unsaved changes must not leak")

			require.NoError(t, repo.Save(ctx, first))
			third, err := repo.Load(ctx, "ABCDEF")
			require.NoError(t, err)
			assert.Len(t, third.Members, 2)
		})
	}
}

func TestRoomRepository_ExistsListWipe(t *testing.T) {
	for name, factory := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := factory(t)

			ok, err := repo.Exists(ctx, "ZZZZZZ")
			require.NoError(t, err)
			assert.False(t, ok)

			_, err = repo.Load(ctx, "ZZZZZZ")
			assert.ErrorIs(t, err, repository.ErrRoomNotFound)

			require.NoError(t, repo.Create(ctx, domain.NewRoom("BBBBBB", "h1", "One")))
			require.NoError(t, repo.Create(ctx, domain.NewRoom("AAAAAA", "h2", "Two")))
			assert.ErrorIs(t, repo.Create(ctx, domain.NewRoom("AAAAAA", "h3", "Three")), repository.ErrRoomExists)
			assert.ErrorIs(t, repo.Save(ctx, nil), repository.ErrInvalidRoom)

			ok, err = repo.Exists(ctx, "AAAAAA")
			require.NoError(t, err)
			assert.True(t, ok)

			rooms, err := repo.List(ctx)
			require.NoError(t, err)
			require.Len(t, rooms, 2)
			assert.Equal(t, "AAAAAA", rooms[0].Code)
			assert.Equal(t, "BBBBBB", rooms[1].Code)

			require.NoError(t, repo.Wipe(ctx))
			rooms, err = repo.List(ctx)
			require.NoError(t, err)
			assert.Empty(t, rooms)
		})
	}
}

func TestRoomRepository_CanceledContext(t *testing.T) {
	for name, factory := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			repo := factory(t)
			_, err := repo.Load(ctx, "AAAAAA")
			assert.ErrorIs(t, err, context.Canceled)
			assert.ErrorIs(t, repo.Save(ctx, domain.NewRoom("AAAAAA", "h", "H")), context.Canceled)
		})
	}
}

func TestFileRoomRepository_CorruptSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rooms.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"ABCDEF": {"members": `), 0o644))

	repo, err := repository.NewFileRoomRepository(path)
	require.NoError(t, err)

	_, err = repo.Load(context.Background(), "ABCDEF")
	assert.ErrorIs(t, err, repository.ErrCorruptSnapshot)

	require.NoError(t, repo.Wipe(context.Background()))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(data))
}

func TestFileRoomRepository_CorruptRoom(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rooms.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"ABCDEF": {"members": {"m1": {"survey": ["x", {"a": 1}]}}}}`), 0o644))

	repo, err := repository.NewFileRoomRepository(path)
	require.NoError(t, err)

	_, err = repo.Load(context.Background(), "ABCDEF")
	assert.ErrorIs(t, err, repository.ErrCorruptSnapshot)

	_, err = repo.List(context.Background())
	assert.ErrorIs(t, err, repository.ErrCorruptSnapshot)
}

func TestFileRoomRepository_LegacySurvey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rooms.json")
	legacy := `{
		"OLDONE": {
			"host": "m1",
			"chat_started": false,
			"members": {
				"m1": {"name": "Ann", "is_host": true, "survey": ["comedy", "6.5"]},
				"m2": {"name": "Ben", "survey": [null, null]}
			},
			"mutual_likes": {"4": ["m1"]}
		}
	}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o644))

	repo, err := repository.NewFileRoomRepository(path)
	require.NoError(t, err)

	room, err := repo.Load(context.Background(), "OLDONE")
	require.NoError(t, err)
	assert.Equal(t, "OLDONE", room.Code)

	ann, ok := room.Member("m1")
	require.True(t, ok)
	require.NotNil(t, ann.Survey.Preferences)
	assert.Equal(t, "comedy", *ann.Survey.Preferences)
	require.NotNil(t, ann.Survey.MinRating)
	assert.Equal(t, 6.5, *ann.Survey.MinRating)
	assert.NotNil(t, ann.MovieChoices)

	ben, ok := room.Member("m2")
	require.True(t, ok)
	assert.False(t, ben.Survey.Complete())
	assert.NotNil(t, room.Messages)

	require.NoError(t, repo.Save(context.Background(), room))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Regexp(t, `"min_rating":\s*6.5`, string(data))
}

func TestFileRoomRepository_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rooms.json")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	repo, err := repository.NewFileRoomRepository(path)
	require.NoError(t, err)

	rooms, err := repo.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rooms)
}
