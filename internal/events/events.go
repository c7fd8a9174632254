// Package events implements a small in-process publish/subscribe broker
// and a websocket broadcaster for publish/reload notifications, so an
// operator dashboard can watch deploys and config reloads land in real
// time instead of polling the audit log. Grounded on the teacher's
// direct gorilla/websocket dependency, which no committed teacher file
// actually used — this package gives it a concrete home in the simple
// broker-with-channel-fan-out shape common across the retrieval pack's
// other proxy examples.
package events

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event is one notification broadcast to subscribers.
type Event struct {
	Kind      string    `json:"kind"` // "publish" | "reload"
	Repo      string    `json:"repo,omitempty"`
	Path      string    `json:"path,omitempty"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Broker fans out Events to every currently-subscribed channel. A slow
// or gone subscriber never blocks publishers: Publish drops the event
// for that one subscriber instead of waiting.
type Broker struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// NewBroker constructs an empty Broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a new listener; call the returned function to
// unsubscribe and release its channel.
func (b *Broker) Subscribe() (ch chan Event, unsubscribe func()) {
	ch = make(chan Event, 16)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
}

// Publish broadcasts ev to every current subscriber, non-blocking.
func (b *Broker) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// subscriber too slow; drop rather than stall the publisher
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS upgrades the connection and streams every subsequent Event as
// JSON until the client disconnects or the request context is
// cancelled. Intended to sit behind middleware.AdminAuth.
func ServeWS(broker *Broker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("events: websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		ch, unsubscribe := broker.Subscribe()
		defer unsubscribe()

		// Detect client-initiated close without blocking the write loop
		// on reads we otherwise ignore.
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.NextReader(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-closed:
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				payload, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
					return
				}
			}
		}
	}
}
