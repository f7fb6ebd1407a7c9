// Package stats forwards per-account counters to the statistics
// collaborator. Nothing here may slow down or fail a room transition.
package stats

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Counter names a per-user statistic.
type Counter string

const (
	GamesPlayed  Counter = "games_played"
	GamesWon     Counter = "games_won"
	RoomsCreated Counter = "rooms_created"
)

func (c Counter) Valid() bool {
	switch c {
	case GamesPlayed, GamesWon, RoomsCreated:
		return true
	}
	return false
}

// Collaborator is the external statistics service.
type Collaborator interface {
	Increment(ctx context.Context, userID string, counter Counter, delta int64) error
}

// Increment is one queued counter change.
type Increment struct {
	UserID  string
	Counter Counter
	Delta   int64

	attempts int
}

func (i Increment) String() string {
	return fmt.Sprintf("%s %s%+d", i.UserID, i.Counter, i.Delta)
}

// LogCollaborator records increments in the log only. Used when no stats
// database is configured.
type LogCollaborator struct {
	Logger *zap.Logger
}

func (l LogCollaborator) Increment(_ context.Context, userID string, counter Counter, delta int64) error {
	l.Logger.Info("stats increment",
		zap.String("user_id", userID),
		zap.String("counter", string(counter)),
		zap.Int64("delta", delta))
	return nil
}
