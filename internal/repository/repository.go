package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/nirvaankohli/north-pole-consensus/internal/domain"
)

var (
	ErrRoomNotFound     = errors.New("room not found")
	ErrRoomExists       = errors.New("room code already exists")
	ErrCorruptSnapshot  = errors.New("room snapshot is malformed")
	ErrInvalidRoom      = errors.New("room is nil or has no code")
	errStoreUnavailable = errors.New("store is closed")
)

// RoomRepository persists whole rooms. Every Load returns a private snapshot;
// changes are only visible to others after Save.
type RoomRepository interface {
	Create(ctx context.Context, room *domain.Room) error
	Load(ctx context.Context, code string) (*domain.Room, error)
	Save(ctx context.Context, room *domain.Room) error
	Exists(ctx context.Context, code string) (bool, error)
	List(ctx context.Context) ([]*domain.Room, error)
	Wipe(ctx context.Context) error
	Close() error
}

func validateRoom(room *domain.Room) error {
	if room == nil || room.Code == "" {
		return ErrInvalidRoom
	}
	return nil
}

// decodeRoom unmarshals one stored room. Legacy survey arrays are migrated by
// domain.Survey while decoding.
func decodeRoom(code string, data []byte) (*domain.Room, error) {
	var room domain.Room
	if err := json.Unmarshal(data, &room); err != nil {
		return nil, fmt.Errorf("%w: room %s: %v", ErrCorruptSnapshot, code, err)
	}
	if room.Code == "" {
		room.Code = code
	}
	room.Normalize()
	return &room, nil
}
