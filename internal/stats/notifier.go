package stats

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

var errQueueFull = errors.New("stats queue full")

type NotifierConfig struct {
	Workers     int
	QueueSize   int
	Timeout     time.Duration
	MaxAttempts int
}

// Notifier delivers increments on background workers. Notify never blocks;
// failed increments are parked until RetryFailed puts them back in the queue.
type Notifier struct {
	collab Collaborator
	cfg    NotifierConfig
	logger *zap.Logger

	queue   chan Increment
	workers *pool.Pool

	mu     sync.RWMutex // guards closed against sends on queue
	closed bool

	failedMu sync.Mutex
	failed   []Increment
}

func NewNotifier(collab Collaborator, cfg NotifierConfig, logger *zap.Logger) *Notifier {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	n := &Notifier{
		collab:  collab,
		cfg:     cfg,
		logger:  logger,
		queue:   make(chan Increment, cfg.QueueSize),
		workers: pool.New().WithMaxGoroutines(cfg.Workers),
	}
	for i := 0; i < cfg.Workers; i++ {
		n.workers.Go(n.work)
	}
	return n
}

// Notify enqueues increments without waiting for delivery.
func (n *Notifier) Notify(incs ...Increment) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for _, inc := range incs {
		if n.closed {
			n.logger.Warn("stats notifier closed, dropping increment", zap.Stringer("increment", inc))
			continue
		}
		select {
		case n.queue <- inc:
		default:
			n.park(inc, errQueueFull)
		}
	}
}

func (n *Notifier) work() {
	for inc := range n.queue {
		n.deliver(inc)
	}
}

func (n *Notifier) deliver(inc Increment) {
	// Not tied to the request that produced inc.
	ctx, cancel := context.WithTimeout(context.Background(), n.cfg.Timeout)
	defer cancel()

	if err := n.collab.Increment(ctx, inc.UserID, inc.Counter, inc.Delta); err != nil {
		n.park(inc, err)
	}
}

func (n *Notifier) park(inc Increment, err error) {
	inc.attempts++
	if inc.attempts >= n.cfg.MaxAttempts {
		n.logger.Error("stats increment dropped",
			zap.Stringer("increment", inc),
			zap.Int("attempts", inc.attempts),
			zap.Error(err))
		return
	}
	n.logger.Warn("stats increment failed, parked for retry",
		zap.Stringer("increment", inc),
		zap.Int("attempts", inc.attempts),
		zap.Error(err))

	n.failedMu.Lock()
	n.failed = append(n.failed, inc)
	n.failedMu.Unlock()
}

// RetryFailed requeues parked increments and returns how many were requeued.
func (n *Notifier) RetryFailed() int {
	n.failedMu.Lock()
	retry := n.failed
	n.failed = nil
	n.failedMu.Unlock()

	n.Notify(retry...)
	return len(retry)
}

// Pending reports the number of parked increments.
func (n *Notifier) Pending() int {
	n.failedMu.Lock()
	defer n.failedMu.Unlock()
	return len(n.failed)
}

// Close stops accepting increments and waits for queued ones to finish.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	close(n.queue)
	n.mu.Unlock()

	n.workers.Wait()
}
