package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/go-memdb"
	"github.com/mossy-p/card-lobby/internal/models"
)

const roomsTable = "rooms"

func roomSchema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			roomsTable: {
				Name: roomsTable,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Code"},
					},
					"status": {
						Name:    "status",
						Indexer: &memdb.StringFieldIndex{Field: "Status"},
					},
				},
			},
		},
	}
}

// Memory is a process-local Repository backed by go-memdb. Stored objects
// are never handed out; reads and writes go through Clone.
type Memory struct {
	db    *memdb.MemDB
	locks *KeyedMutex
	now   func() time.Time
}

func NewMemory() (*Memory, error) {
	db, err := memdb.NewMemDB(roomSchema())
	if err != nil {
		return nil, fmt.Errorf("failed to build room schema: %w", err)
	}
	return &Memory{db: db, locks: NewKeyedMutex(), now: time.Now}, nil
}

func (m *Memory) Get(ctx context.Context, code string) (*models.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	txn := m.db.Txn(false)
	defer txn.Abort()
	return m.lookup(txn, code)
}

func (m *Memory) lookup(txn *memdb.Txn, code string) (*models.Room, error) {
	raw, err := txn.First(roomsTable, "id", code)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, ErrNotFound
	}
	return raw.(*models.Room).Clone(), nil
}

func (m *Memory) Create(ctx context.Context, room *models.Room) (*models.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r, err := prepareCreate(room, m.now())
	if err != nil {
		return nil, err
	}

	// Write transactions are exclusive, so the existence check and the
	// insert cannot interleave with another Create.
	txn := m.db.Txn(true)
	defer txn.Abort()

	existing, err := txn.First(roomsTable, "id", r.Code)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s", ErrConflict, r.Code)
	}
	if err := txn.Insert(roomsTable, r); err != nil {
		return nil, err
	}
	txn.Commit()
	return r.Clone(), nil
}

func (m *Memory) Mutate(ctx context.Context, code string, fn MutateFunc) (*models.Room, error) {
	unlock := m.locks.Lock(code)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	read := m.db.Txn(false)
	current, err := m.lookup(read, code)
	read.Abort()
	if err != nil {
		return nil, err
	}

	next, err := applyMutation(current, fn, m.now())
	if errors.Is(err, ErrSkip) {
		return current, nil
	}
	if err != nil {
		return nil, err
	}

	txn := m.db.Txn(true)
	defer txn.Abort()
	if err := txn.Insert(roomsTable, next); err != nil {
		return nil, err
	}
	txn.Commit()
	return next.Clone(), nil
}

func (m *Memory) List(ctx context.Context, filter ListFilter) ([]*models.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	txn := m.db.Txn(false)
	defer txn.Abort()

	var (
		it  memdb.ResultIterator
		err error
	)
	if filter.Status != "" {
		it, err = txn.Get(roomsTable, "status", string(filter.Status))
	} else {
		it, err = txn.Get(roomsTable, "id")
	}
	if err != nil {
		return nil, err
	}

	var rooms []*models.Room
	for obj := it.Next(); obj != nil; obj = it.Next() {
		r := obj.(*models.Room)
		if filter.matches(r) {
			rooms = append(rooms, r.Clone())
		}
	}
	sortNewestFirst(rooms)
	if filter.Limit > 0 && len(rooms) > filter.Limit {
		rooms = rooms[:filter.Limit]
	}
	return rooms, nil
}

func sortNewestFirst(rooms []*models.Room) {
	sort.SliceStable(rooms, func(i, j int) bool {
		if rooms[i].CreatedAt.Equal(rooms[j].CreatedAt) {
			return rooms[i].Code < rooms[j].Code
		}
		return rooms[i].CreatedAt.After(rooms[j].CreatedAt)
	})
}
