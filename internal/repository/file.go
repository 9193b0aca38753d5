package repository

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"
	"github.com/nirvaankohli/north-pole-consensus/internal/domain"
)

// FileRoomRepository keeps every room in one JSON document mapping room code
// to room. Each operation reads the whole file and, for writes, replaces it.
type FileRoomRepository struct {
	mu   sync.Mutex
	path string
}

func NewFileRoomRepository(path string) (*FileRoomRepository, error) {
	const op = "repository.file.new"

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	return &FileRoomRepository{path: path}, nil
}

func (r *FileRoomRepository) Create(ctx context.Context, room *domain.Room) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateRoom(room); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rooms, err := r.read()
	if err != nil {
		return err
	}
	if _, ok := rooms[room.Code]; ok {
		return ErrRoomExists
	}

	raw, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("marshal room %s: %w", room.Code, err)
	}
	rooms[room.Code] = raw
	return r.write(rooms)
}

func (r *FileRoomRepository) Load(ctx context.Context, code string) (*domain.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rooms, err := r.read()
	if err != nil {
		return nil, err
	}
	raw, ok := rooms[code]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return decodeRoom(code, raw)
}

func (r *FileRoomRepository) Save(ctx context.Context, room *domain.Room) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateRoom(room); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rooms, err := r.read()
	if err != nil {
		return err
	}

	raw, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("marshal room %s: %w", room.Code, err)
	}
	rooms[room.Code] = raw
	return r.write(rooms)
}

func (r *FileRoomRepository) Exists(ctx context.Context, code string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rooms, err := r.read()
	if err != nil {
		return false, err
	}
	_, ok := rooms[code]
	return ok, nil
}

func (r *FileRoomRepository) List(ctx context.Context) ([]*domain.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rooms, err := r.read()
	if err != nil {
		return nil, err
	}

	result := make([]*domain.Room, 0, len(rooms))
	for code, raw := range rooms {
		room, err := decodeRoom(code, raw)
		if err != nil {
			return nil, err
		}
		result = append(result, room)
	}
	sortRooms(result)
	return result, nil
}

// Wipe resets the snapshot to an empty document.
func (r *FileRoomRepository) Wipe(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.write(map[string]json.RawMessage{})
}

func (r *FileRoomRepository) Close() error {
	return nil
}

// read returns the raw rooms keyed by code. A missing or empty file is an
// empty snapshot.
func (r *FileRoomRepository) read() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string]json.RawMessage), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", r.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return make(map[string]json.RawMessage), nil
	}

	rooms := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &rooms); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptSnapshot, r.path, err)
	}
	return rooms, nil
}

// write replaces the file through a temp file and rename so readers never see
// a partial document.
func (r *FileRoomRepository) write(rooms map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(rooms, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(r.path), filepath.Base(r.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}
