package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"camstream/internal/logging"
)

type Type string

const (
	CameraStarted      Type = "camera.started"
	CameraFailed       Type = "camera.failed"
	CameraStopped      Type = "camera.stopped"
	CameraReady        Type = "camera.ready"
	CameraStalled      Type = "camera.stalled"
	SessionStarted     Type = "session.started"
	SessionStopped     Type = "session.stopped"
	RecordingCompleted Type = "recording.completed"
	RecordingFailed    Type = "recording.failed"
)

// Event is one lifecycle notification pushed to websocket clients.
type Event struct {
	Type      Type      `json:"type"`
	CameraID  string    `json:"camera_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Path      string    `json:"path,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// Publisher accepts events. Implementations must not block the caller.
type Publisher interface {
	Publish(Event)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(Event) {}

// OrDiscard returns p, or Discard when p is nil.
func OrDiscard(p Publisher) Publisher {
	if p == nil {
		return Discard{}
	}
	return p
}

const subscriberBuffer = 64

// Hub fans events out to subscribers. A subscriber that falls behind is
// dropped rather than slowing publishers.
type Hub struct {
	log         *slog.Logger
	subscribers map[chan []byte]struct{}
	broadcast   chan []byte
	register    chan chan []byte
	unregister  chan chan []byte
	mu          sync.RWMutex
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:         logging.OrDefault(log).With("component", "event-hub"),
		subscribers: make(map[chan []byte]struct{}),
		broadcast:   make(chan []byte, subscriberBuffer),
		register:    make(chan chan []byte),
		unregister:  make(chan chan []byte),
	}
}

// Run processes registrations and broadcasts until ctx is done, then closes
// every subscriber.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for sub := range h.subscribers {
				delete(h.subscribers, sub)
				close(sub)
			}
			h.mu.Unlock()
			return

		case sub := <-h.register:
			h.mu.Lock()
			h.subscribers[sub] = struct{}{}
			h.mu.Unlock()
			h.log.Debug("subscriber registered")

		case sub := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.subscribers[sub]; ok {
				delete(h.subscribers, sub)
				close(sub)
			}
			h.mu.Unlock()
			h.log.Debug("subscriber unregistered")

		case message := <-h.broadcast:
			h.mu.Lock()
			for sub := range h.subscribers {
				select {
				case sub <- message:
				default:
					delete(h.subscribers, sub)
					close(sub)
					h.log.Warn("dropping slow subscriber")
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	message, err := json.Marshal(e)
	if err != nil {
		h.log.Error("encode event", "type", e.Type, "error", err)
		return
	}
	select {
	case h.broadcast <- message:
	default:
		h.log.Warn("event dropped, hub busy", "type", e.Type)
	}
}

// Subscribe registers a new subscriber. The returned channel is closed when
// cancel is called or the hub stops. Subscribe requires Run to be active.
func (h *Hub) Subscribe(ctx context.Context) (<-chan []byte, func()) {
	sub := make(chan []byte, subscriberBuffer)
	select {
	case h.register <- sub:
	case <-ctx.Done():
		close(sub)
		return sub, func() {}
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			select {
			case h.unregister <- sub:
			case <-ctx.Done():
			}
		})
	}
	return sub, cancel
}

// Subscribers returns the number of registered subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
