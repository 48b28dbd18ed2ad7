// Package events provides the in-process fan-out of agent events to SSE
// subscribers, including frame encoding and reconnect replay payloads.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/codeready-toolchain/vigil/pkg/models"
)

const (
	// subscriberBuffer is the per-client channel capacity. A client that
	// falls this far behind is disconnected rather than blocking the loop.
	subscriberBuffer = 200

	// Heartbeat is the SSE comment frame sent on idle streams so proxies
	// keep the connection open.
	Heartbeat = ": heartbeat\n\n"
)

// frameCounter issues monotonically increasing SSE frame ids. It is
// process-wide so replayed frames and live frames on any stream never reuse
// an id within one run.
var frameCounter atomic.Int64

// NextFrameID returns the next SSE frame id.
func NextFrameID() int64 {
	return frameCounter.Add(1)
}

// Frame encodes an SSE event frame with the given id and JSON payload.
func Frame(id int64, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode SSE payload: %w", err)
	}
	return fmt.Sprintf("id: %d\ndata: %s\n\n", id, data), nil
}

// GapPayload describes dropped history on reconnect when the replay window
// could not cover everything a client missed.
func GapPayload(replayed int, lastEventID, fromID, toID int64) map[string]any {
	dropped := toID - lastEventID - 1
	if dropped < 0 {
		dropped = 0
	}
	return map[string]any{
		"type": "_gap",
		"data": map[string]any{
			"message":       "Event history gap: some events were not replayed",
			"replayed":      replayed,
			"last_event_id": lastEventID,
			"from_id":       fromID,
			"to_id":         toID,
			"dropped_count": dropped,
		},
	}
}

// Broker fans agent events out to subscribed SSE clients. One broker serves
// one workspace loop.
type Broker struct {
	mu      sync.Mutex
	clients map[chan models.Event]struct{}
	closed  bool
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{clients: make(map[chan models.Event]struct{})}
}

// Subscribe registers a new client and returns its event channel plus an
// unsubscribe function. The channel is closed on unsubscribe or broker close.
func (b *Broker) Subscribe() (<-chan models.Event, func()) {
	ch := make(chan models.Event, subscriberBuffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			if _, ok := b.clients[ch]; ok {
				delete(b.clients, ch)
				close(ch)
			}
			b.mu.Unlock()
		})
	}
	return ch, unsubscribe
}

// Publish delivers an event to every subscriber. A subscriber whose buffer
// is full is dropped so a stalled client cannot block the agent loop.
func (b *Broker) Publish(evt models.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for ch := range b.clients {
		select {
		case ch <- evt:
		default:
			delete(b.clients, ch)
			close(ch)
			slog.Warn("Dropped slow SSE subscriber",
				"event_type", evt.Type, "remaining_clients", len(b.clients))
		}
	}
}

// SubscriberCount returns the number of connected clients.
func (b *Broker) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Close disconnects all subscribers. Subsequent publishes are no-ops.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.clients {
		delete(b.clients, ch)
		close(ch)
	}
}
