// Package topics implements the broker's subscription index: a
// concurrency-safe mapping of topic name to the set of subscribed client
// identities.
package topics

import "sync"

// Index maps topic names to subscriber sets. The zero value is not usable;
// construct with NewIndex. A single coarse lock guards the whole map, per
// the spec's stated priority of correctness over throughput.
type Index struct {
	mu     sync.RWMutex
	topics map[string]map[string]struct{}
}

// NewIndex creates an empty subscription index.
func NewIndex() *Index {
	return &Index{topics: make(map[string]map[string]struct{})}
}

// Add inserts client into topic's subscriber set. It reports whether the
// pair was newly added; adding an already-present pair is a no-op and
// returns false.
func (idx *Index) Add(topic, client string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	subscribers, ok := idx.topics[topic]
	if !ok {
		subscribers = make(map[string]struct{})
		idx.topics[topic] = subscribers
	}

	if _, exists := subscribers[client]; exists {
		return false
	}
	subscribers[client] = struct{}{}
	return true
}

// Remove deletes client from topic's subscriber set. It reports whether the
// pair was present; removing an absent pair silently succeeds and returns
// false.
func (idx *Index) Remove(topic, client string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	subscribers, ok := idx.topics[topic]
	if !ok {
		return false
	}

	if _, exists := subscribers[client]; !exists {
		return false
	}
	delete(subscribers, client)
	if len(subscribers) == 0 {
		delete(idx.topics, topic)
	}
	return true
}

// Snapshot returns a point-in-time copy of topic's subscriber identities, so
// callers can fan out without holding the index lock.
func (idx *Index) Snapshot(topic string) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	subscribers, ok := idx.topics[topic]
	if !ok {
		return nil
	}

	out := make([]string, 0, len(subscribers))
	for client := range subscribers {
		out = append(out, client)
	}
	return out
}

// Purge removes client from every topic's subscriber set.
func (idx *Index) Purge(client string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for topic, subscribers := range idx.topics {
		if _, ok := subscribers[client]; ok {
			delete(subscribers, client)
			if len(subscribers) == 0 {
				delete(idx.topics, topic)
			}
		}
	}
}

// TopicCount returns the number of topics with at least one subscriber.
// Used for observability only.
func (idx *Index) TopicCount() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.topics)
}
