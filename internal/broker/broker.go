// Package broker implements the broker core: it owns the subscription
// index and the client registry, applies commands forwarded by sessions,
// and drives the fan-out publish path.
package broker

import (
	"sync"

	"go.uber.org/zap"

	"github.com/outcatcher/gopsub/internal/metrics"
	"github.com/outcatcher/gopsub/internal/session"
	"github.com/outcatcher/gopsub/internal/topics"
	"github.com/outcatcher/gopsub/internal/wire"
)

// sessionEnqueuer is the subset of *session.Session the broker needs to
// deliver frames; kept narrow so the broker depends on behavior, not on the
// concrete session type's full surface.
type sessionEnqueuer interface {
	Enqueue(frame []byte)
}

// Broker owns the subscription index and the client registry, and exposes
// the non-blocking operations sessions call into.
type Broker struct {
	logger *zap.Logger
	index  *topics.Index

	mu       sync.RWMutex
	registry map[string]sessionEnqueuer

	metrics *metrics.Registry
}

// New creates an empty broker core.
func New(logger *zap.Logger, reg *metrics.Registry) *Broker {
	return &Broker{
		logger:   logger,
		index:    topics.NewIndex(),
		registry: make(map[string]sessionEnqueuer),
		metrics:  reg,
	}
}

// Register adds a session to the client registry (NEW -> REGISTERED).
func (b *Broker) Register(clientID string, s *session.Session) {
	b.mu.Lock()
	b.registry[clientID] = s
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.Connections.ActiveConnections.Inc()
	}
}

// Drop purges clientID from the subscription index and the registry
// (-> CLOSED). Idempotent.
func (b *Broker) Drop(clientID string) {
	b.index.Purge(clientID)

	b.mu.Lock()
	_, existed := b.registry[clientID]
	delete(b.registry, clientID)
	b.mu.Unlock()

	if existed && b.metrics != nil {
		b.metrics.Connections.ActiveConnections.Dec()
	}
}

// Subscribe adds (topic, client) to the subscription index. The broker
// commits this mutation before the session emits its OK verdict, so
// subscribe happens-before any subsequent publish the client awaited the
// verdict for.
func (b *Broker) Subscribe(client, topic string) {
	b.index.Add(topic, client)
}

// Unsubscribe removes (topic, client) from the subscription index.
// Idempotent; unsubscribing a never-subscribed pair is not an error.
func (b *Broker) Unsubscribe(client, topic string) {
	b.index.Remove(topic, client)
}

// Publish takes a snapshot of topic's subscribers and enqueues a DATA frame
// into each one's outbound queue, including the publisher itself if
// self-subscribed. It never blocks on an individual subscriber: a full
// queue means that subscriber loses this message (drop-newest, see
// session.Session.Enqueue). Publishing to a topic with no subscribers is
// not an error; it returns 0. Returns the number of sessions the message
// was handed to (not necessarily delivered, if their queue was full).
func (b *Broker) Publish(client, topic string, payload []byte) int {
	if b.metrics != nil {
		b.metrics.Messages.MessagesPublished.Inc()
	}

	subscribers := b.index.Snapshot(topic)
	if len(subscribers) == 0 {
		return 0
	}

	frame, err := wire.Encode(wire.FormatData(payload))
	if err != nil {
		// A payload that survived frame decode as part of a PUB command is
		// always small enough to re-wrap as a DATA frame: DATA:: is shorter
		// than PUB::<topic>,. This should be unreachable.
		b.logger.Error("failed to re-frame payload for fan-out",
			zap.String("topic", topic), zap.Error(err))
		return 0
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for _, subscriberID := range subscribers {
		target, ok := b.registry[subscriberID]
		if !ok {
			continue // SessionDead: subscriber disconnected after the snapshot
		}
		target.Enqueue(frame)
		delivered++
		if b.metrics != nil {
			b.metrics.Messages.MessagesDelivered.Inc()
		}
	}

	return delivered
}

// TopicCount reports the number of topics with at least one subscriber.
func (b *Broker) TopicCount() int {
	return b.index.TopicCount()
}

// ClientCount reports the number of registered sessions.
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.registry)
}
