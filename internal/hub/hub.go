// Package hub implements the broadcast fan-out for the fixed set of
// real-time topics (chat, presence, files, updates). Delivery is best-effort:
// at most once per connected subscriber per publish, no backlog for
// disconnected or late subscribers, and a publish never blocks on a slow
// receiver.
package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/xid"

	"pkt.systems/coedit/api"
	"pkt.systems/coedit/internal/loggingutil"
	"pkt.systems/pslog"
)

// DefaultSubscriberBuffer is the per-subscriber send queue depth. A
// subscriber whose queue is full at publish time is detached.
const DefaultSubscriberBuffer = 32

// Topics is the fixed topic set; Publish on anything else is a no-op.
var Topics = []string{api.TopicChat, api.TopicPresence, api.TopicFiles, api.TopicUpdates}

// Subscriber is one endpoint's send queue. Each frame delivered on C is a
// complete marshalled envelope, never split or interleaved.
type Subscriber struct {
	id   string
	ch   chan []byte
	once sync.Once
}

// NewSubscriber returns a subscriber with the given queue depth (<=0 selects
// DefaultSubscriberBuffer).
func NewSubscriber(buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Subscriber{id: uuid.NewString(), ch: make(chan []byte, buffer)}
}

// ID returns the subscriber's connection identifier.
func (s *Subscriber) ID() string { return s.id }

// C is the delivery channel. It is closed when the subscriber is detached.
func (s *Subscriber) C() <-chan []byte { return s.ch }

func (s *Subscriber) close() {
	s.once.Do(func() { close(s.ch) })
}

// Hub owns the topic subscription sets. Safe for concurrent use.
type Hub struct {
	logger pslog.Logger
	now    func() time.Time

	mu     sync.RWMutex
	topics map[string]map[*Subscriber]struct{}
}

// Option configures hub instances.
type Option func(*Hub)

// WithClock injects a custom time source (used to stamp chat messages).
func WithClock(now func() time.Time) Option {
	return func(h *Hub) { h.now = now }
}

// New returns a hub with the fixed topic set registered.
func New(logger pslog.Logger, opts ...Option) *Hub {
	h := &Hub{
		logger: loggingutil.WithSubsystem(logger, "hub"),
		now:    time.Now,
		topics: make(map[string]map[*Subscriber]struct{}, len(Topics)),
	}
	for _, topic := range Topics {
		h.topics[topic] = make(map[*Subscriber]struct{})
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Attach subscribes sub to the named topics (all fixed topics when none are
// given). Subscription lasts until Detach.
func (h *Hub) Attach(sub *Subscriber, topics ...string) {
	if len(topics) == 0 {
		topics = Topics
	}
	h.mu.Lock()
	for _, topic := range topics {
		if set, ok := h.topics[topic]; ok {
			set[sub] = struct{}{}
		}
	}
	h.mu.Unlock()
	h.logger.Debug("subscriber.attach", "conn", sub.id, "topics", len(topics))
}

// Detach removes sub from every topic and closes its channel. Safe to call
// more than once.
func (h *Hub) Detach(sub *Subscriber) {
	h.mu.Lock()
	for _, set := range h.topics {
		delete(set, sub)
	}
	h.mu.Unlock()
	sub.close()
	h.logger.Debug("subscriber.detach", "conn", sub.id)
}

// Publish marshals payload once into a topic envelope and delivers it to
// every current subscriber of topic. Subscribers whose queues are full are
// detached rather than blocking the publisher. Returns the delivery count.
func (h *Hub) Publish(topic string, payload any) int {
	raw, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("publish.marshal_failed", "topic", topic, "error", err)
		return 0
	}
	frame, err := json.Marshal(api.Envelope{Topic: topic, Payload: raw})
	if err != nil {
		h.logger.Error("publish.marshal_failed", "topic", topic, "error", err)
		return 0
	}

	var victims []*Subscriber
	delivered := 0
	h.mu.RLock()
	for sub := range h.topics[topic] {
		select {
		case sub.ch <- frame:
			delivered++
		default:
			victims = append(victims, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range victims {
		h.logger.Warn("publish.drop_slow_subscriber", "topic", topic, "conn", sub.id)
		h.Detach(sub)
	}
	return delivered
}

// PublishChat stamps msg with a server-side HH:MM timestamp and a unique
// message ID (any client-supplied values are discarded), then publishes it on
// the chat topic. The stamped message is returned.
func (h *Hub) PublishChat(msg api.ChatMessage) api.ChatMessage {
	msg.ID = xid.New().String()
	msg.Timestamp = h.now().Format("15:04")
	h.Publish(api.TopicChat, msg)
	return msg
}

// SubscriberCount reports the current number of subscribers on topic.
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Close detaches every subscriber, ending their write loops.
func (h *Hub) Close() {
	h.mu.Lock()
	var all []*Subscriber
	for _, set := range h.topics {
		for sub := range set {
			all = append(all, sub)
		}
		clear(set)
	}
	h.mu.Unlock()
	seen := make(map[*Subscriber]struct{}, len(all))
	for _, sub := range all {
		if _, dup := seen[sub]; dup {
			continue
		}
		seen[sub] = struct{}{}
		sub.close()
	}
}
