// Package notify fans attendance snapshots out to stream subscribers.
// Delivery is best-effort and at-most-once: a slow or absent subscriber
// never blocks a publisher, and dropped snapshots are not replayed.
package notify

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"

	"faceattend/internal/attendance"
)

// Broadcaster is the abstraction over different backends.
type Broadcaster interface {
	Publish(ctx context.Context, snap attendance.Snapshot) error
	// Subscribe returns a channel of snapshots and a cancel func that
	// releases the subscription.
	Subscribe(ctx context.Context) (<-chan attendance.Snapshot, func(), error)
}

const subscriberBuffer = 8

// Hub is the in-process backend: a mutex-guarded subscriber registry.
type Hub struct {
	mu          sync.Mutex
	nextID      int
	subscribers map[int]chan attendance.Snapshot
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[int]chan attendance.Snapshot)}
}

// Publish delivers the snapshot to every subscriber that can take it right
// now; the rest miss this one.
func (h *Hub) Publish(_ context.Context, snap attendance.Snapshot) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subscribers {
		select {
		case ch <- snap:
		default:
		}
	}
	return nil
}

// Subscribe registers a listener.
func (h *Hub) Subscribe(_ context.Context) (<-chan attendance.Snapshot, func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan attendance.Snapshot, subscriberBuffer)
	h.subscribers[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subscribers[id]; ok {
			delete(h.subscribers, id)
			close(ch)
		}
	}
	return ch, cancel, nil
}

// SubscriberCount reports current listeners, for health and metrics.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// RedisBroadcaster fans snapshots out through redis pub/sub so every
// service instance sees marks made on any of them.
type RedisBroadcaster struct {
	client  *redis.Client
	channel string
}

// NewRedisBroadcaster builds a broadcaster on a pub/sub channel.
func NewRedisBroadcaster(client *redis.Client, channel string) *RedisBroadcaster {
	if channel == "" {
		channel = "faceattend:snapshots"
	}
	return &RedisBroadcaster{client: client, channel: channel}
}

// Publish sends the snapshot as JSON. Redis pub/sub itself is fire-and-
// forget, matching the delivery contract.
func (b *RedisBroadcaster) Publish(ctx context.Context, snap attendance.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, payload).Err()
}

// Subscribe streams snapshots published on the channel by any instance.
func (b *RedisBroadcaster) Subscribe(ctx context.Context) (<-chan attendance.Snapshot, func(), error) {
	sub := b.client.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, err
	}

	out := make(chan attendance.Snapshot, subscriberBuffer)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var snap attendance.Snapshot
			if err := json.Unmarshal([]byte(msg.Payload), &snap); err != nil {
				continue
			}
			select {
			case out <- snap:
			default:
			}
		}
	}()

	cancel := func() { _ = sub.Close() }
	return out, cancel, nil
}
