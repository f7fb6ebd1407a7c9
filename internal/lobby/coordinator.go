// Package lobby implements the room lifecycle: creating rooms, seating
// players, readiness and starting a game. Every state change is one atomic
// store mutation and its events are published in commit order.
package lobby

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mossy-p/card-lobby/internal/broadcast"
	"github.com/mossy-p/card-lobby/internal/models"
	"github.com/mossy-p/card-lobby/internal/stats"
	"github.com/mossy-p/card-lobby/internal/store"
	"go.uber.org/zap"
)

const (
	maxTitleLength = 64
	maxNameLength  = 32

	defaultListLimit = 20
	maxListLimit     = 100
)

// Caller is the authenticated identity behind a request. AccountID is empty
// for guests.
type Caller struct {
	ID        string
	AccountID string
}

// Broadcaster fans room events out to subscribed connections.
type Broadcaster interface {
	Subscribe(code string, sub broadcast.Subscriber, snapshot models.Event)
	Unsubscribe(code string, sub broadcast.Subscriber)
	Publish(ctx context.Context, code string, ev models.Event) error
}

// StatsNotifier accepts counter increments without blocking.
type StatsNotifier interface {
	Notify(incs ...stats.Increment)
}

// HostPolicy decides who becomes host when the host leaves a non-empty room.
type HostPolicy string

const (
	// HostEarliest promotes the earliest-joined remaining member.
	HostEarliest HostPolicy = "earliest"
	// HostNone keeps the departed player's id as host.
	HostNone HostPolicy = "none"
)

type Option func(*Coordinator)

func WithHostPolicy(p HostPolicy) Option {
	return func(c *Coordinator) { c.hostPolicy = p }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// Coordinator runs the room state machine.
type Coordinator struct {
	rooms      store.Repository
	codes      *Allocator
	events     Broadcaster
	stats      StatsNotifier
	locks      *store.KeyedMutex
	logger     *zap.Logger
	now        func() time.Time
	hostPolicy HostPolicy
}

func NewCoordinator(rooms store.Repository, codes *Allocator, events Broadcaster, notifier StatsNotifier, logger *zap.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		rooms:      rooms,
		codes:      codes,
		events:     events,
		stats:      notifier,
		locks:      store.NewKeyedMutex(),
		logger:     logger,
		now:        time.Now,
		hostPolicy: HostEarliest,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NormalizeCode canonicalizes a user-supplied room code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// CreateRoomParams describes a new room.
type CreateRoomParams struct {
	Title     string
	HostID    string
	HostName  string
	ImageURL  string
	IsPrivate bool
}

// CreateRoom allocates a code and stores an empty waiting room. The host is
// not seated; they join like everyone else.
func (c *Coordinator) CreateRoom(ctx context.Context, params CreateRoomParams, caller Caller) (*models.Room, error) {
	params.Title = strings.TrimSpace(params.Title)
	params.HostName = strings.TrimSpace(params.HostName)
	if err := checkText("title", params.Title, maxTitleLength); err != nil {
		return nil, err
	}
	if err := checkText("host name", params.HostName, maxNameLength); err != nil {
		return nil, err
	}
	if params.HostID == "" {
		return nil, fmt.Errorf("%w: host id is required", ErrInvalidArgument)
	}

	var created *models.Room
	_, err := c.codes.Reserve(ctx, func(ctx context.Context, code string) error {
		room := &models.Room{
			Code:      code,
			Title:     params.Title,
			HostID:    params.HostID,
			HostName:  params.HostName,
			ImageURL:  params.ImageURL,
			IsPrivate: params.IsPrivate,
			Status:    models.StatusWaiting,
			CreatedAt: c.now(),
			Capacity:  models.Capacity{Current: 0, Max: models.MaxPlayers},
			Members:   []models.Player{},
		}
		var err error
		created, err = c.rooms.Create(ctx, room)
		return err
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("room created",
		zap.String("room", created.Code),
		zap.String("host", created.HostID),
		zap.Bool("private", created.IsPrivate))

	if caller.ID == params.HostID && caller.AccountID != "" {
		c.stats.Notify(stats.Increment{UserID: caller.AccountID, Counter: stats.RoomsCreated, Delta: 1})
	}
	return created, nil
}

// JoinRoom seats playerID. Joining a room the player already sits in is a
// successful no-op.
func (c *Coordinator) JoinRoom(ctx context.Context, code, playerID, playerName string, caller Caller) (*models.Room, error) {
	code = NormalizeCode(code)
	playerName = strings.TrimSpace(playerName)
	if code == "" || playerID == "" {
		return nil, fmt.Errorf("%w: room code and player id are required", ErrInvalidArgument)
	}
	if err := checkText("player name", playerName, maxNameLength); err != nil {
		return nil, err
	}

	unlock := c.locks.Lock(code)
	defer unlock()

	now := c.now()
	var joined bool
	room, err := c.rooms.Mutate(ctx, code, func(r *models.Room) error {
		joined = false
		switch {
		case r.Status == models.StatusFinished:
			return fmt.Errorf("%w: room %s has finished", ErrRoomClosed, code)
		case r.HasMember(playerID):
			return store.ErrSkip
		case r.Status != models.StatusWaiting:
			return fmt.Errorf("%w: game in room %s already started", ErrRoomClosed, code)
		case r.Full():
			return fmt.Errorf("%w: %s has %d/%d players", ErrRoomFull, code, len(r.Members), r.Capacity.Max)
		}

		p := models.Player{ID: playerID, Name: playerName, JoinedAt: now}
		// Only the player themself may link their account to the seat.
		if caller.ID == playerID && caller.AccountID != "" {
			account := caller.AccountID
			p.UserID = &account
		}
		r.Members = append(r.Members, p)
		joined = true
		return nil
	})
	if err != nil {
		return nil, c.storeError(err, code)
	}

	if joined {
		c.publish(ctx, room, models.EventPlayerJoined, models.PlayerJoinedPayload{
			PlayerID:   playerID,
			PlayerName: playerName,
			Timestamp:  models.Timestamp(now),
		})
	}
	return room, nil
}

// LeaveRoom removes playerID from the room. Leaving a room the player is not
// in is a successful no-op. The last player leaving a waiting room closes it.
func (c *Coordinator) LeaveRoom(ctx context.Context, code, playerID string) (*models.Room, error) {
	code = NormalizeCode(code)
	if code == "" || playerID == "" {
		return nil, fmt.Errorf("%w: room code and player id are required", ErrInvalidArgument)
	}

	unlock := c.locks.Lock(code)
	defer unlock()

	now := c.now()
	var left, abandoned bool
	var newHost *models.Player
	room, err := c.rooms.Mutate(ctx, code, func(r *models.Room) error {
		left, abandoned, newHost = false, false, nil
		if r.Status == models.StatusFinished {
			return fmt.Errorf("%w: room %s has finished", ErrRoomClosed, code)
		}
		idx := r.MemberIndex(playerID)
		if idx < 0 {
			return store.ErrSkip
		}

		r.Members = slices.Delete(r.Members, idx, idx+1)
		left = true

		if len(r.Members) == 0 {
			if r.Status == models.StatusWaiting {
				r.Status = models.StatusFinished
				abandoned = true
			}
			return nil
		}
		if r.HostID == playerID && c.hostPolicy == HostEarliest {
			h := earliestMember(r.Members)
			r.HostID, r.HostName = h.ID, h.Name
			newHost = &h
		}
		return nil
	})
	if err != nil {
		return nil, c.storeError(err, code)
	}

	if left {
		c.publish(ctx, room, models.EventPlayerLeft, models.PlayerLeftPayload{
			PlayerID:  playerID,
			Timestamp: models.Timestamp(now),
		})
	}
	if newHost != nil {
		c.logger.Info("host changed",
			zap.String("room", code),
			zap.String("from", playerID),
			zap.String("to", newHost.ID))
		c.publish(ctx, room, models.EventHostChanged, models.HostChangedPayload{
			PlayerID:   newHost.ID,
			PlayerName: newHost.Name,
			Timestamp:  models.Timestamp(now),
		})
	}
	if abandoned {
		c.logger.Info("room abandoned", zap.String("room", code))
		c.publish(ctx, room, models.EventRoomState, room)
	}
	return room, nil
}

// SetReady records a member's readiness. It never starts the game.
func (c *Coordinator) SetReady(ctx context.Context, code, playerID string, isReady bool) (*models.Room, error) {
	code = NormalizeCode(code)
	if code == "" || playerID == "" {
		return nil, fmt.Errorf("%w: room code and player id are required", ErrInvalidArgument)
	}

	unlock := c.locks.Lock(code)
	defer unlock()

	now := c.now()
	var changed bool
	room, err := c.rooms.Mutate(ctx, code, func(r *models.Room) error {
		changed = false
		idx := r.MemberIndex(playerID)
		switch {
		case idx < 0:
			return fmt.Errorf("%w: player %s is not in room %s", ErrNotFound, playerID, code)
		case r.Status == models.StatusFinished:
			return fmt.Errorf("%w: room %s has finished", ErrRoomClosed, code)
		case r.Status != models.StatusWaiting:
			return fmt.Errorf("%w: game in room %s already started", ErrInvalidState, code)
		case r.Members[idx].IsReady == isReady:
			return store.ErrSkip
		}
		r.Members[idx].IsReady = isReady
		changed = true
		return nil
	})
	if err != nil {
		return nil, c.storeError(err, code)
	}

	if changed {
		c.publish(ctx, room, models.EventPlayerReadyUpdate, models.PlayerReadyPayload{
			PlayerID:  playerID,
			IsReady:   isReady,
			Timestamp: models.Timestamp(now),
		})
	}
	return room, nil
}

// StartGame moves a full, all-ready waiting room to in_progress. Only the
// host may start.
func (c *Coordinator) StartGame(ctx context.Context, code, callerID string) (*models.Room, error) {
	code = NormalizeCode(code)
	if code == "" || callerID == "" {
		return nil, fmt.Errorf("%w: room code and caller id are required", ErrInvalidArgument)
	}

	unlock := c.locks.Lock(code)
	defer unlock()

	room, err := c.rooms.Mutate(ctx, code, func(r *models.Room) error {
		switch {
		case r.HostID != callerID:
			return fmt.Errorf("%w: only the host can start room %s", ErrForbidden, code)
		case r.Status != models.StatusWaiting:
			return fmt.Errorf("%w: room %s is %s", ErrRoomClosed, code, r.Status)
		case len(r.Members) != r.Capacity.Max:
			return fmt.Errorf("%w: %d/%d players seated", ErrInvalidState, len(r.Members), r.Capacity.Max)
		case !r.AllReady():
			return fmt.Errorf("%w: not every player is ready", ErrInvalidState)
		}
		r.Status = models.StatusInProgress
		return nil
	})
	if err != nil {
		return nil, c.storeError(err, code)
	}

	c.logger.Info("game started", zap.String("room", code), zap.Int("players", len(room.Members)))
	c.publish(ctx, room, models.EventGameStarted, room)

	var incs []stats.Increment
	for _, p := range room.Members {
		if p.UserID != nil {
			incs = append(incs, stats.Increment{UserID: *p.UserID, Counter: stats.GamesPlayed, Delta: 1})
		}
	}
	if len(incs) > 0 {
		c.stats.Notify(incs...)
	}
	return room, nil
}

func (c *Coordinator) GetRoom(ctx context.Context, code string) (*models.Room, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, fmt.Errorf("%w: room code is required", ErrInvalidArgument)
	}
	room, err := c.rooms.Get(ctx, code)
	if err != nil {
		return nil, c.storeError(err, code)
	}
	return room, nil
}

// ListRooms returns public rooms, newest first. An empty status lists all.
func (c *Coordinator) ListRooms(ctx context.Context, status models.RoomStatus, limit int) ([]*models.Room, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, status)
	}
	switch {
	case limit <= 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}
	return c.rooms.List(ctx, store.ListFilter{Status: status, Limit: limit})
}

// Subscribe attaches sub to the room and sends it a room-state snapshot.
// Holding the room lock keeps any commit from slipping between the snapshot
// and the registration.
func (c *Coordinator) Subscribe(ctx context.Context, code string, sub broadcast.Subscriber) (*models.Room, error) {
	code = NormalizeCode(code)

	unlock := c.locks.Lock(code)
	defer unlock()

	room, err := c.rooms.Get(ctx, code)
	if err != nil {
		return nil, c.storeError(err, code)
	}
	snapshot, err := models.SnapshotEvent(models.EventRoomState, room)
	if err != nil {
		return nil, err
	}
	c.events.Subscribe(code, sub, snapshot)
	return room, nil
}

// Snapshot reads the committed room as a room-state event. It takes no room
// lock, so a broadcaster may call it while a commit is being published.
func (c *Coordinator) Snapshot(ctx context.Context, code string) (models.Event, error) {
	code = NormalizeCode(code)
	room, err := c.rooms.Get(ctx, code)
	if err != nil {
		return models.Event{}, c.storeError(err, code)
	}
	return models.SnapshotEvent(models.EventRoomState, room)
}

// Unsubscribe detaches sub. Membership is untouched.
func (c *Coordinator) Unsubscribe(code string, sub broadcast.Subscriber) {
	c.events.Unsubscribe(NormalizeCode(code), sub)
}

// ExpireStale closes waiting rooms that have not changed for olderThan and
// returns how many were closed.
func (c *Coordinator) ExpireStale(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := c.now().Add(-olderThan)
	rooms, err := c.rooms.List(ctx, store.ListFilter{Status: models.StatusWaiting, IncludePrivate: true})
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, r := range rooms {
		if !r.UpdatedAt.Before(cutoff) {
			continue
		}
		ok, err := c.expire(ctx, r.Code, cutoff)
		if err != nil {
			c.logger.Warn("failed to expire room", zap.String("room", r.Code), zap.Error(err))
			continue
		}
		if ok {
			expired++
		}
	}
	return expired, nil
}

func (c *Coordinator) expire(ctx context.Context, code string, cutoff time.Time) (bool, error) {
	unlock := c.locks.Lock(code)
	defer unlock()

	var closed bool
	room, err := c.rooms.Mutate(ctx, code, func(r *models.Room) error {
		closed = false
		if r.Status != models.StatusWaiting || !r.UpdatedAt.Before(cutoff) {
			return store.ErrSkip
		}
		r.Status = models.StatusFinished
		closed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if closed {
		c.logger.Info("stale room closed", zap.String("room", code))
		c.publish(ctx, room, models.EventRoomState, room)
	}
	return closed, nil
}

// publish is called with the room lock held so events leave in commit order.
// The commit already happened; a failed publish is only logged.
func (c *Coordinator) publish(ctx context.Context, room *models.Room, t models.EventType, payload interface{}) {
	ev, err := models.NewEvent(t, room, payload)
	if err != nil {
		c.logger.Error("failed to encode event", zap.String("room", room.Code), zap.String("event", string(t)), zap.Error(err))
		return
	}
	if err := c.events.Publish(context.WithoutCancel(ctx), room.Code, ev); err != nil {
		c.logger.Warn("failed to publish event",
			zap.String("room", room.Code),
			zap.String("event", string(t)),
			zap.Error(err))
	}
}

func (c *Coordinator) storeError(err error, code string) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: room %s", ErrNotFound, code)
	}
	return err
}

// earliestMember picks the member with the oldest JoinedAt; ties go to the
// one listed first.
func earliestMember(members []models.Player) models.Player {
	best := members[0]
	for _, p := range members[1:] {
		if p.JoinedAt.Before(best.JoinedAt) {
			best = p
		}
	}
	return best
}

func checkText(field, value string, limit int) error {
	if value == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidArgument, field)
	}
	if utf8.RuneCountInString(value) > limit {
		return fmt.Errorf("%w: %s longer than %d characters", ErrInvalidArgument, field, limit)
	}
	return nil
}
