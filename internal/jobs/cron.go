// Package jobs runs the periodic maintenance work of the lobby.
package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	RetryStatsSchedule  = "@every 1m"
	ExpireRoomsSchedule = "@every 10m"
)

// StatsRetrier puts parked stats increments back in the delivery queue.
type StatsRetrier interface {
	RetryFailed() int
}

// RoomExpirer closes rooms that have sat idle too long.
type RoomExpirer interface {
	ExpireStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// Scheduler wraps a cron runner with the lobby's jobs.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger
}

// NewScheduler registers the stats retry job and the stale room job.
func NewScheduler(retrier StatsRetrier, rooms RoomExpirer, staleAfter time.Duration, logger *zap.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:   cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
		logger: logger,
	}

	if _, err := s.cron.AddFunc(RetryStatsSchedule, func() { RetryStats(retrier, logger) }); err != nil {
		return nil, err
	}
	if _, err := s.cron.AddFunc(ExpireRoomsSchedule, func() { ExpireRooms(rooms, staleAfter, logger) }); err != nil {
		return nil, err
	}
	return s, nil
}

// RetryStats requeues failed stats increments.
func RetryStats(retrier StatsRetrier, logger *zap.Logger) {
	if n := retrier.RetryFailed(); n > 0 {
		logger.Info("requeued failed stats increments", zap.Int("count", n))
	}
}

// ExpireRooms closes waiting rooms idle for longer than staleAfter.
func ExpireRooms(rooms RoomExpirer, staleAfter time.Duration, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	n, err := rooms.ExpireStale(ctx, staleAfter)
	if err != nil {
		logger.Error("stale room sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		logger.Info("closed stale rooms", zap.Int("rooms_closed", n))
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Jobs reports how many jobs are registered.
func (s *Scheduler) Jobs() int {
	return len(s.cron.Entries())
}
