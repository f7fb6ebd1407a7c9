// Package broadcast fans room events out to live connections.
package broadcast

import (
	"context"
	"sync"

	"github.com/mossy-p/card-lobby/internal/models"
	"go.uber.org/zap"
)

// Subscriber is one live connection. Deliver must not block; it returns
// false when the event was dropped.
type Subscriber interface {
	ID() string
	Deliver(ev models.Event) bool
}

// SnapshotFunc reads the current room-state event for a room.
type SnapshotFunc func(ctx context.Context, code string) (models.Event, error)

type subscription struct {
	sub Subscriber
	// last is the newest version reflected client-side. fromSnapshot is set
	// when that version arrived as a room-state snapshot, which already
	// covers every event of the same commit.
	last         int64
	fromSnapshot bool
}

// accepts reports whether ev is the next thing this subscriber should see,
// and gap when at least one commit between last and ev never reached it.
func (s *subscription) accepts(ev models.Event) (deliver, gap bool) {
	switch {
	case ev.Version < s.last:
		return false, false
	case ev.Version == s.last:
		return !s.fromSnapshot, false
	case ev.Version == s.last+1:
		return true, false
	}
	return false, true
}

func (s *subscription) deliver(code string, ev models.Event, snapshot bool, logger *zap.Logger) {
	if !s.sub.Deliver(ev) {
		logger.Warn("dropped room event",
			zap.String("room", code),
			zap.String("subscriber", s.sub.ID()),
			zap.String("type", string(ev.Type)))
		return
	}
	s.last = ev.Version
	s.fromSnapshot = snapshot
}

// Hub keeps subscribers grouped by room code and delivers in-process.
type Hub struct {
	mu       sync.Mutex
	rooms    map[string]map[string]*subscription
	snapshot SnapshotFunc
	logger   *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		rooms:  make(map[string]map[string]*subscription),
		logger: logger,
	}
}

// OnGap sets the source used to resynchronize a subscriber that missed a
// commit. Without one the hub delivers past the gap.
func (h *Hub) OnGap(fn SnapshotFunc) {
	h.mu.Lock()
	h.snapshot = fn
	h.mu.Unlock()
}

// Subscribe registers sub for code and hands it snapshot before any later
// event can reach it.
func (h *Hub) Subscribe(code string, sub Subscriber, snapshot models.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	peers, ok := h.rooms[code]
	if !ok {
		peers = make(map[string]*subscription)
		h.rooms[code] = peers
	}
	s := &subscription{sub: sub, last: snapshot.Version, fromSnapshot: true}
	peers[sub.ID()] = s

	if !sub.Deliver(snapshot) {
		h.logger.Warn("dropped room snapshot", zap.String("room", code), zap.String("subscriber", sub.ID()))
	}
}

func (h *Hub) Unsubscribe(code string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	peers, ok := h.rooms[code]
	if !ok {
		return
	}
	delete(peers, sub.ID())
	if len(peers) == 0 {
		delete(h.rooms, code)
	}
}

// Publish delivers ev to every subscriber of code. Delivery is at most once;
// a full subscriber buffer drops the event for that subscriber only. A
// subscriber whose last version is more than one commit behind ev gets a
// fresh room-state snapshot instead, so events that arrive out of commit
// order or after a drop never leave it diverged from the store.
func (h *Hub) Publish(ctx context.Context, code string, ev models.Event) error {
	h.mu.Lock()
	var behind []*subscription
	for _, s := range h.rooms[code] {
		deliver, gap := s.accepts(ev)
		switch {
		case gap && h.snapshot != nil:
			behind = append(behind, s)
		case deliver || gap:
			s.deliver(code, ev, false, h.logger)
		}
	}
	snapshot := h.snapshot
	h.mu.Unlock()

	if len(behind) == 0 {
		return nil
	}
	return h.resync(ctx, code, ev, behind, snapshot)
}

// resync reads the room outside the hub lock and hands the snapshot to every
// subscriber that is still registered and still behind it.
func (h *Hub) resync(ctx context.Context, code string, ev models.Event, behind []*subscription, snapshot SnapshotFunc) error {
	state, err := snapshot(ctx, code)
	if err != nil {
		h.logger.Warn("failed to resync subscribers",
			zap.String("room", code),
			zap.Int("subscribers", len(behind)),
			zap.Error(err))
		state = ev
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	peers := h.rooms[code]
	for _, s := range behind {
		if peers[s.sub.ID()] != s || state.Version <= s.last {
			continue
		}
		h.logger.Debug("resynchronizing subscriber",
			zap.String("room", code),
			zap.String("subscriber", s.sub.ID()),
			zap.Int64("from", s.last),
			zap.Int64("to", state.Version))
		s.deliver(code, state, err == nil, h.logger)
	}
	return nil
}

// Count reports the number of subscribers for code.
func (h *Hub) Count(code string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[code])
}
