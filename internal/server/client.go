package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/roomchat/internal/types"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 8 << 10
	sendQueueSize  = 256
)

// wsConn is the part of *websocket.Conn used by the pumps.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

type Client struct {
	id         string
	conn       wsConn
	chatServer *ChatServer
	log        *zap.Logger
	user       types.UserRef
	send       chan []byte
	stop       chan struct{}
	stopOnce   sync.Once
}

func NewClient(user types.UserRef, conn wsConn, cs *ChatServer, l *zap.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		id:         id,
		conn:       conn,
		chatServer: cs,
		log:        l.With(zap.Int("user_id", user.Id), zap.String("client_id", id)),
		user:       user,
		send:       make(chan []byte, sendQueueSize),
		stop:       make(chan struct{}),
	}
}

// Serve registers the client and runs both pumps until the connection closes.
func (c *Client) Serve() error {
	if err := c.chatServer.register(c); err != nil {
		c.conn.Close()
		return err
	}

	go c.Write()
	c.Read()
	return nil
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Debug("write pump exiting")
	}()

	for {
		select {
		case frame := <-c.send:
			if !c.sendMessage(websocket.TextMessage, frame) {
				return
			}
		case <-c.stop:
			c.sendMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Debug("read pump exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) })

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Warn("ws read", zap.Error(err))
			}
			return
		}

		var evt ClientEvent
		if err := json.Unmarshal(raw, &evt); err != nil || evt.Event == "" {
			c.log.Debug("invalid frame", zap.ByteString("frame", raw))
			c.sendError(errInvalidFrame)
			continue
		}

		c.handleEvent(&evt)
	}
}

// queueMessage hands a frame to the write pump. Frames for a client whose
// queue is full are dropped.
func (c *Client) queueMessage(frame []byte) bool {
	select {
	case c.send <- frame:
	default:
		c.log.Warn("send queue full, dropping frame")
		return false
	}

	return true
}

func (c *Client) queueEvent(evt *ServerEvent) bool {
	frame, err := json.Marshal(evt)
	if err != nil {
		c.log.Error("failed to serialize event", zap.String("event", evt.Event), zap.Error(err))
		return false
	}
	return c.queueMessage(frame)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Warn("ws write", zap.Error(err))
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Client) cleanup() {
	if err := c.chatServer.deregister(c); err != nil {
		c.log.Debug("deregister after stop", zap.Error(err))
	}
	c.stopClient()
}
