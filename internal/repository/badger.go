package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/nirvaankohli/north-pole-consensus/internal/domain"
)

const roomKeyPrefix = "room:"

// BadgerRoomRepository stores one JSON value per room under room:<code>.
type BadgerRoomRepository struct {
	db *badger.DB
}

// OpenBadger opens a badger database in dir. An empty dir opens an in-memory
// database.
func OpenBadger(dir string) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return db, nil
}

func NewBadgerRoomRepository(db *badger.DB) *BadgerRoomRepository {
	return &BadgerRoomRepository{db: db}
}

func roomKey(code string) []byte {
	return []byte(roomKeyPrefix + code)
}

func (r *BadgerRoomRepository) Create(ctx context.Context, room *domain.Room) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateRoom(room); err != nil {
		return err
	}

	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("marshal room %s: %w", room.Code, err)
	}

	return r.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(roomKey(room.Code))
		if err == nil {
			return ErrRoomExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("get room: %w", err)
		}
		return txn.Set(roomKey(room.Code), data)
	})
}

func (r *BadgerRoomRepository) Load(ctx context.Context, code string) (*domain.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var room *domain.Room
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(roomKey(code))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrRoomNotFound
		}
		if err != nil {
			return fmt.Errorf("get room: %w", err)
		}

		return item.Value(func(val []byte) error {
			decoded, err := decodeRoom(code, val)
			if err != nil {
				return err
			}
			room = decoded
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return room, nil
}

func (r *BadgerRoomRepository) Save(ctx context.Context, room *domain.Room) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateRoom(room); err != nil {
		return err
	}

	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("marshal room %s: %w", room.Code, err)
	}

	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(roomKey(room.Code), data)
	})
}

func (r *BadgerRoomRepository) Exists(ctx context.Context, code string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	found := false
	err := r.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(roomKey(code))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return found, err
}

func (r *BadgerRoomRepository) List(ctx context.Context) ([]*domain.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var result []*domain.Room
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(roomKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			code := strings.TrimPrefix(string(item.Key()), roomKeyPrefix)
			err := item.Value(func(val []byte) error {
				room, err := decodeRoom(code, val)
				if err != nil {
					return err
				}
				result = append(result, room)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sortRooms(result)
	return result, nil
}

func (r *BadgerRoomRepository) Wipe(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.db.IsClosed() {
		return errStoreUnavailable
	}
	return r.db.DropPrefix([]byte(roomKeyPrefix))
}

func (r *BadgerRoomRepository) Close() error {
	return r.db.Close()
}
