// internal/app/system/notify/redis.go
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultRedisChannel is the pub/sub channel events travel on.
const DefaultRedisChannel = "unchainme:notifications"

type envelope struct {
	UserID string          `json:"userId"`
	Event  json.RawMessage `json:"event"`
}

// RedisSink publishes events so every instance can deliver them to its own
// websocket clients.
type RedisSink struct {
	rdb     redis.UniversalClient
	channel string
}

// NewRedisSink creates a sink publishing on channel.
func NewRedisSink(rdb redis.UniversalClient, channel string) *RedisSink {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisSink{rdb: rdb, channel: channel}
}

// Deliver implements Sink.
func (s *RedisSink) Deliver(ctx context.Context, userID string, ev Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	payload, err := json.Marshal(envelope{UserID: userID, Event: raw})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return s.rdb.Publish(ctx, s.channel, payload).Err()
}

// Subscriber forwards events published by any instance to the local hub.
type Subscriber struct {
	rdb     redis.UniversalClient
	channel string
	hub     *Hub
	log     *zap.Logger
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewSubscriber creates a subscriber feeding hub.
func NewSubscriber(rdb redis.UniversalClient, channel string, hub *Hub, logger *zap.Logger) *Subscriber {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &Subscriber{rdb: rdb, channel: channel, hub: hub, log: logger}
}

// Start subscribes and begins forwarding. It returns once the subscription
// is confirmed.
func (s *Subscriber) Start(ctx context.Context) error {
	pubsub := s.rdb.Subscribe(ctx, s.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", s.channel, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.run(runCtx, pubsub)
	s.log.Info("notification subscriber started", zap.String("channel", s.channel))
	return nil
}

// Stop unsubscribes and waits for the forwarding loop to exit.
func (s *Subscriber) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.log.Info("notification subscriber stopped")
}

func (s *Subscriber) run(ctx context.Context, pubsub *redis.PubSub) {
	defer s.wg.Done()
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			s.forward(msg.Payload)
		}
	}
}

func (s *Subscriber) forward(payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		s.log.Warn("bad notification payload", zap.Error(err))
		return
	}
	if env.UserID == "" || len(env.Event) == 0 {
		return
	}
	s.hub.DeliverPayload(env.UserID, env.Event)
}
