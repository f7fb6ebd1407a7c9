package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mossy-p/card-lobby/internal/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const channelPrefix = "lobby:events:"

func channelName(code string) string {
	return channelPrefix + code
}

// Relay publishes through Redis so that every instance, including this one,
// hands the event to its own local Hub.
type Relay struct {
	hub    *Hub
	client redis.UniversalClient
	logger *zap.Logger
	ready  chan struct{}
}

func NewRelay(client redis.UniversalClient, hub *Hub, logger *zap.Logger) *Relay {
	return &Relay{hub: hub, client: client, logger: logger, ready: make(chan struct{})}
}

func (r *Relay) Subscribe(code string, sub Subscriber, snapshot models.Event) {
	r.hub.Subscribe(code, sub, snapshot)
}

func (r *Relay) Unsubscribe(code string, sub Subscriber) {
	r.hub.Unsubscribe(code, sub)
}

func (r *Relay) Publish(ctx context.Context, code string, ev models.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, channelName(code), data).Err(); err != nil {
		return fmt.Errorf("failed to publish %s for room %s: %w", ev.Type, code, err)
	}
	return nil
}

// WaitReady blocks until Run holds its subscription. Events published before
// that are lost to every instance.
func (r *Relay) WaitReady(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-r.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("room event relay not subscribed after %s", timeout)
	}
}

// Run forwards Redis messages to the local hub until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	ps := r.client.PSubscribe(ctx, channelPrefix+"*")
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to room events: %w", err)
	}
	close(r.ready)
	r.logger.Info("room event relay subscribed", zap.String("pattern", channelPrefix+"*"))

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev models.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				r.logger.Error("failed to parse relayed event", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			code := strings.TrimPrefix(msg.Channel, channelPrefix)
			r.hub.Publish(ctx, code, ev)
		}
	}
}
