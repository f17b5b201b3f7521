package ipc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	readTimeout          = 60 * time.Second
	writeTimeout         = 10 * time.Second
	maxInboundMessageLen = 1 << 20
	heartbeatInterval    = 30 * time.Second
)

var errClosed = errors.New("ipc: connection closed")

type client struct {
	conn *websocket.Conn
	hub  *Hub
	id   string

	ctx    context.Context
	cancel context.CancelFunc

	closed     chan struct{}
	closeOnce  sync.Once
	writeMutex sync.Mutex
}

func newClient(conn *websocket.Conn, hub *Hub, id string) *client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &client{
		conn:   conn,
		hub:    hub,
		id:     id,
		ctx:    ctx,
		cancel: cancel,
		closed: make(chan struct{}),
	}
	conn.SetReadLimit(maxInboundMessageLen)
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	c.startHeartbeat()
	return c
}

func (c *client) startHeartbeat() {
	ticker := time.NewTicker(heartbeatInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-c.closed:
				return
			case <-ticker.C:
				c.writeMutex.Lock()
				err := c.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeTimeout))
				c.writeMutex.Unlock()
				if err != nil {
					c.cleanup(err)
					return
				}
			}
		}
	}()
}

func (c *client) run() {
	defer c.cleanup(errClosed)
	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			c.cleanup(err)
			return
		}
		// Any inbound frame proves the peer is alive.
		_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		c.dispatch(msg)
	}
}

func (c *client) dispatch(msg Message) {
	switch msg.Type {
	case MessageTypePing:
		_ = c.send(Message{ID: msg.ID, Type: MessageTypePong})
		return
	case MessageTypePong:
		return
	}
	if c.hub.handle == nil {
		_ = c.send(errorMessage(msg.ID, fmt.Errorf("unsupported request %q", msg.Type)))
		return
	}
	// Requests may block on the network; answer them off the read loop.
	go func() {
		payload, err := c.hub.handle(c.ctx, msg)
		reply := Message{ID: msg.ID, Type: MessageTypeResponse, Payload: payload}
		if err != nil {
			reply = errorMessage(msg.ID, err)
		}
		if errSend := c.send(reply); errSend != nil && !errors.Is(errSend, errClosed) {
			log.Debugf("ipc: reply to %s failed: %v", c.id, errSend)
		}
	}()
}

func (c *client) send(msg Message) error {
	select {
	case <-c.closed:
		return errClosed
	default:
	}
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write json: %w", err)
	}
	return nil
}

func (c *client) cleanup(cause error) {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.cancel()
		_ = c.conn.Close()
		c.hub.handleClientClosed(c, cause)
	})
}
