package events

import (
	"context"

	"github.com/gofiber/websocket/v2"
)

// Handler streams hub events to one websocket connection until either side
// goes away.
func (h *Hub) Handler(ctx context.Context) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		messages, cancel := h.Subscribe(ctx)
		defer cancel()

		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := c.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-closed:
				return
			case message, ok := <-messages:
				if !ok {
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					h.log.Debug("websocket write failed", "error", err)
					return
				}
			}
		}
	}
}
