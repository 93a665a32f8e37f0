// Package websocket streams pipeline events to WebSocket observers.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/clipstudio/api/internal/eventbus"
	"github.com/clipstudio/api/internal/model"
	"github.com/clipstudio/api/internal/service"
)

const pingInterval = 30 * time.Second

// Subscriber opens event subscriptions for a project
type Subscriber interface {
	Subscribe(ctx context.Context, projectID string) (*eventbus.Subscription, error)
}

// Stream serves /ws/projects/:projectId connections
type Stream struct {
	subscriber Subscriber
}

// NewStream creates a new Stream
func NewStream(subscriber Subscriber) *Stream {
	return &Stream{subscriber: subscriber}
}

// HandleConnection forwards project events to c until either side closes
func (s *Stream) HandleConnection(c *websocket.Conn, projectID string) {
	sub, err := s.subscriber.Subscribe(context.Background(), projectID)
	if err != nil {
		code := "SERVICE_ERROR"
		if errors.Is(err, service.ErrProjectNotFound) {
			code = "NOT_FOUND"
		}
		writeError(c, projectID, code, err.Error())
		return
	}
	defer sub.Close()

	control := make(chan []byte, 8)
	done := make(chan struct{})

	// Writer goroutine; the only writer of c
	go func() {
		defer close(done)
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()

		for {
			select {
			case evt, ok := <-sub.C:
				if !ok {
					_ = c.WriteMessage(websocket.CloseMessage, []byte{})
					_ = c.Close()
					return
				}
				data, err := json.Marshal(evt)
				if err != nil {
					log.Printf("[WebSocket] Failed to marshal %s event: %v", evt.Type, err)
					continue
				}
				if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
					return
				}

			case data, ok := <-control:
				if !ok {
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
					return
				}

			case <-ticker.C:
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[WebSocket] Read error on project %s: %v", projectID, err)
			}
			break
		}

		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSMessageTypePing {
			pong, _ := json.Marshal(model.WSMessage{Type: model.WSMessageTypePong})
			select {
			case control <- pong:
			case <-done:
			}
		}
	}

	sub.Close()
	close(control)
	<-done
}

func writeError(c *websocket.Conn, projectID, code, message string) {
	data, err := json.Marshal(model.WSErrorMessage{
		Type:      model.WSMessageTypeError,
		ProjectID: projectID,
		Error: model.WSError{
			Code:    code,
			Message: message,
		},
	})
	if err != nil {
		return
	}
	_ = c.WriteMessage(websocket.TextMessage, data)
	_ = c.WriteMessage(websocket.CloseMessage, []byte{})
}
