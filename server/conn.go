package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/WesleyDev184/bananaChat/domain/event"
	"github.com/WesleyDev184/bananaChat/errors"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
)

// Conn is one live websocket connection. It owns a bounded outbound buffer;
// the read and write pumps are its only goroutines. Conn doubles as the
// router sink of its session, so fan-out and request/response frames share
// one ordered writer.
type Conn struct {
	ws           *websocket.Conn
	send         chan []byte
	connectionID string
	core         *Core
	log          *slog.Logger
	heartbeat    time.Duration
	closeOnce    sync.Once
}

func newConn(ws *websocket.Conn, core *Core, log *slog.Logger, bufferSize int, heartbeat time.Duration) *Conn {
	ws.SetReadLimit(maxMessageSize)
	return &Conn{
		ws:        ws,
		send:      make(chan []byte, bufferSize),
		core:      core,
		log:       log,
		heartbeat: heartbeat,
	}
}

// Consume implements the router sink. It must not block: a full buffer
// means this subscriber cannot keep up, so the router drops it and the
// connection is closed.
func (c *Conn) Consume(_ context.Context, e event.DomainEvent) error {
	frame, ok := frameForEvent(e)
	if !ok {
		return nil
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return errors.ErrSlowConsumer
	}
}

func frameForEvent(e event.DomainEvent) (ServerFrame, bool) {
	switch evt := e.(type) {
	case event.MessageAccepted:
		body := toMessageBody(evt.Message)
		return ServerFrame{Type: FrameMessage, Message: &body, Scope: selectorFor(evt.Message.Scope)}, true
	case event.MessageEcho:
		body := toMessageBody(evt.Message)
		return ServerFrame{Type: FrameMessage, Message: &body, Scope: selectorFor(evt.Message.Scope)}, true
	case event.MessageUpdated:
		body := toMessageBody(evt.Message)
		return ServerFrame{Type: FrameMessage, Message: &body, Scope: selectorFor(evt.Message.Scope)}, true
	case event.PresenceChanged:
		return ServerFrame{
			Type:     FramePresence,
			Presence: &PresenceBody{Username: evt.Username, Online: evt.Online},
		}, true
	case event.GroupChanged:
		return ServerFrame{
			Type: FrameGroup,
			GroupEv: &GroupEventBody{
				Action:   evt.Action,
				GroupID:  evt.GroupID,
				Username: evt.Username,
				Group:    evt.Group,
			},
		}, true
	default:
		return ServerFrame{}, false
	}
}

// push queues a request/response frame. Same overflow rule as Consume: a
// client that cannot drain its own responses is disconnected.
func (c *Conn) push(frame ServerFrame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		c.log.Error("Failed to marshal frame", "error", err)
		return
	}
	select {
	case c.send <- payload:
	default:
		c.log.Warn("Outbound buffer full, closing connection", "connection_id", c.connectionID)
		c.close()
	}
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		_ = c.ws.Close()
	})
}

// readPump reads frames until the connection dies, then tears the session
// down. Idle connections beyond the heartbeat window count as disconnected
// through the read deadline.
func (c *Conn) readPump() {
	defer func() {
		c.core.disconnect(c.connectionID)
		c.close()
	}()

	_ = c.ws.SetReadDeadline(time.Now().Add(c.heartbeat))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.heartbeat))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				c.log.Warn("Unexpected websocket error", "connection_id", c.connectionID, "error", err)
			}
			return
		}
		c.core.handleFrame(c, raw)
	}
}

// writePump is the single writer of the socket. It drains the outbound
// buffer and keeps the connection alive with pings.
func (c *Conn) writePump() {
	pingInterval := c.heartbeat * 9 / 10
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
