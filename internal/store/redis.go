package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mossy-p/card-lobby/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	roomKeyPrefix     = "room:"
	roomIndexKey      = "rooms:index"
	statusIndexPrefix = "rooms:status:"
	listPageSize      = 100

	defaultMutateRetries = 32
)

// Redis stores each room as JSON under room:<CODE> and keeps sorted-set
// indexes by creation time, one over every room and one per status. The
// status indexes move in the same MULTI as the record. Mutations use
// WATCH/MULTI and retry on conflict.
type Redis struct {
	client     redis.UniversalClient
	ttl        time.Duration
	maxRetries int
	now        func() time.Time
}

// NewRedis builds the store. ttl 0 keeps room keys until removed externally.
func NewRedis(client redis.UniversalClient, ttl time.Duration) *Redis {
	return &Redis{
		client:     client,
		ttl:        ttl,
		maxRetries: defaultMutateRetries,
		now:        time.Now,
	}
}

func roomKey(code string) string {
	return roomKeyPrefix + code
}

func statusIndexKey(status models.RoomStatus) string {
	return statusIndexPrefix + string(status)
}

func indexEntry(r *models.Room) redis.Z {
	return redis.Z{Score: float64(r.CreatedAt.UnixMilli()), Member: r.Code}
}

func (s *Redis) Get(ctx context.Context, code string) (*models.Room, error) {
	data, err := s.client.Get(ctx, roomKey(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load room %s: %w", code, err)
	}
	return decodeRoom(data)
}

func (s *Redis) Create(ctx context.Context, room *models.Room) (*models.Room, error) {
	r, err := prepareCreate(room, s.now())
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}

	key := roomKey(r.Code)
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: %s", ErrConflict, r.Code)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			pipe.ZAdd(ctx, roomIndexKey, indexEntry(r))
			pipe.ZAdd(ctx, statusIndexKey(r.Status), indexEntry(r))
			return nil
		})
		return err
	}, key)
	switch {
	case errors.Is(err, redis.TxFailedErr):
		// Another writer claimed the code between EXISTS and EXEC.
		return nil, fmt.Errorf("%w: %s", ErrConflict, r.Code)
	case errors.Is(err, ErrConflict):
		return nil, err
	case err != nil:
		return nil, fmt.Errorf("failed to store room %s: %w", r.Code, err)
	}
	return r, nil
}

// Mutate applies fn under optimistic locking. fn may run more than once when
// another writer commits first, so it must not keep state between calls.
func (s *Redis) Mutate(ctx context.Context, code string, fn MutateFunc) (*models.Room, error) {
	key := roomKey(code)

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		var result *models.Room
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			if err != nil {
				return err
			}
			current, err := decodeRoom(data)
			if err != nil {
				return err
			}

			next, err := applyMutation(current, fn, s.now())
			if errors.Is(err, ErrSkip) {
				result = current
				return nil
			}
			if err != nil {
				return err
			}

			encoded, err := json.Marshal(next)
			if err != nil {
				return err
			}
			expiration := time.Duration(0)
			if s.ttl > 0 {
				expiration = redis.KeepTTL
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, expiration)
				if next.Status != current.Status {
					pipe.ZRem(ctx, statusIndexKey(current.Status), code)
					pipe.ZAdd(ctx, statusIndexKey(next.Status), indexEntry(next))
				}
				return nil
			})
			if err == nil {
				result = next
			}
			return err
		}, key)

		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("%w: %s", ErrContention, code)
}

// List walks the status index when the filter names a status, and the full
// index otherwise.
func (s *Redis) List(ctx context.Context, filter ListFilter) ([]*models.Room, error) {
	var (
		rooms []*models.Room
		stale []interface{}
	)
	index := roomIndexKey
	if filter.Status != "" {
		index = statusIndexKey(filter.Status)
	}

	for start := int64(0); ; start += listPageSize {
		codes, err := s.client.ZRevRange(ctx, index, start, start+listPageSize-1).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read room index: %w", err)
		}
		if len(codes) == 0 {
			break
		}

		keys := make([]string, len(codes))
		for i, code := range codes {
			keys[i] = roomKey(code)
		}
		values, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to load rooms: %w", err)
		}

		for i, v := range values {
			raw, ok := v.(string)
			if !ok {
				// Expired by TTL; drop it from the index below.
				stale = append(stale, codes[i])
				continue
			}
			r, err := decodeRoom([]byte(raw))
			if err != nil {
				return nil, err
			}
			if !filter.matches(r) {
				continue
			}
			rooms = append(rooms, r)
			if filter.Limit > 0 && len(rooms) >= filter.Limit {
				s.prune(ctx, stale)
				return rooms, nil
			}
		}

		if len(codes) < listPageSize {
			break
		}
	}

	s.prune(ctx, stale)
	return rooms, nil
}

func (s *Redis) prune(ctx context.Context, codes []interface{}) {
	if len(codes) == 0 {
		return
	}
	// Best effort.
	s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, roomIndexKey, codes...)
		for _, status := range models.Statuses {
			pipe.ZRem(ctx, statusIndexKey(status), codes...)
		}
		return nil
	})
}

func decodeRoom(data []byte) (*models.Room, error) {
	var r models.Room
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse room data: %w", err)
	}
	return &r, nil
}
