package hub

import "sync"

const subscriberBuffer = 64

// Lagged is the sentinel value a subscriber channel carries when the Hub
// had to drop events because the subscriber fell behind. Receivers are
// expected to treat it as "resync from the Replica," not as an error.
type Lagged struct {
	Dropped int
}

func (Lagged) event()          {}
func (Lagged) Kind() EventKind { return 0 }

// Subscriber is a channel a Hub publishes Events onto. A full buffer is
// never blocked on: a full subscriber instead has its oldest pending
// Event discarded and receives a Lagged event in place of the new one
// (spec §4.3's "broadcast fanout never blocks on a slow reader").
type Subscriber chan Event

// Hub fans broadcast Events out to every Subscriber registered on one
// workspace. Unlike warren's single global Broker, a Hub instance is
// scoped to exactly one workspace; Registry owns the workspace->Hub map
// and its ref-counted lifecycle (spec §4.3). Each Subscriber is tracked
// against the origin it registered with, so Publish can skip delivering
// a connector's own change back to it without guessing from the event.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]string
}

// New creates an empty Hub.
func New() *Hub {
	return &Hub{subscribers: make(map[Subscriber]string)}
}

// Subscribe registers a new Subscriber under origin (a connector's own
// identity, distinct from any Replica's logical client id) and returns
// it. origin may be empty for a subscriber that should never be skipped.
func (h *Hub) Subscribe(origin string) Subscriber {
	sub := make(Subscriber, subscriberBuffer)
	h.mu.Lock()
	h.subscribers[sub] = origin
	h.mu.Unlock()
	return sub
}

// Unsubscribe removes sub and closes its channel. Safe to call at most
// once per Subscriber.
func (h *Hub) Unsubscribe(sub Subscriber) {
	h.mu.Lock()
	_, ok := h.subscribers[sub]
	delete(h.subscribers, sub)
	h.mu.Unlock()
	if ok {
		close(sub)
	}
}

// Publish delivers event to every current subscriber except the one
// registered under skipOrigin (if any), so a connector never receives an
// echo of its own update. An empty skipOrigin skips nobody. A subscriber
// whose buffer is full loses its oldest pending event and is sent a
// Lagged notice instead of the new one, and never blocks the publisher.
func (h *Hub) Publish(event Event, skipOrigin string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub, origin := range h.subscribers {
		if skipOrigin != "" && origin == skipOrigin {
			continue
		}
		select {
		case sub <- event:
		default:
			// The buffer is full: discard the oldest pending event to make
			// room, and queue a Lagged notice in place of this event.
			dropped := 1
			select {
			case <-sub:
				dropped++
			default:
			}
			select {
			case sub <- Lagged{Dropped: dropped}:
			default:
				// Another publisher refilled the freed slot first; this
				// event is dropped without a notice of its own.
			}
		}
	}
}

// SubscriberCount returns the number of active subscribers, mainly for
// the close_websocket / close_websocket_by_workspace asymmetry: the
// Registry only drops a Hub entirely once its count reaches zero.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
