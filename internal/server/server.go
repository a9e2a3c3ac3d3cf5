package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/npezzotti/roomchat/internal/database"
	"github.com/npezzotti/roomchat/internal/stats"
	"go.uber.org/zap"
)

const (
	metricActiveClients = "NumActiveClients"
	metricRoomGroups    = "NumRoomGroups"

	broadcastQueueSize = 512
)

var ErrServerStopped = errors.New("chat server stopped")

// RoomService is the room and message rule set the gateway delegates to.
type RoomService interface {
	AssertMember(ctx context.Context, roomId string, userId int) (database.Room, error)
	CreateRoom(ctx context.Context, userId int, name, kind string) (database.Room, error)
	ListRooms(ctx context.Context) ([]database.Room, error)
	RoomsForUser(ctx context.Context, userId int) ([]database.Room, error)
	RoomDetails(ctx context.Context, roomId string, userId int) (database.Room, []database.Message, error)
	JoinRoom(ctx context.Context, roomId string, userId int) (database.Room, bool, error)
	LeaveRoom(ctx context.Context, roomId string, userId int) (database.Room, bool, error)
	DeleteRoom(ctx context.Context, roomId string, userId int) (database.Room, error)
	SendMessage(ctx context.Context, roomId string, userId int, content string, attachments []database.Attachment) (database.Message, error)
	GetMessages(ctx context.Context, roomId string, userId, before, limit int) (database.Room, []database.Message, error)
	EditMessage(ctx context.Context, messageId, userId int, content string) (database.Message, error)
	DeleteMessage(ctx context.Context, roomId string, messageId, userId int) (database.Message, error)
}

// Broadcast is a serialized frame addressed to a room's broadcast group, or
// to every connection when RoomId is empty.
type Broadcast struct {
	RoomId       string          `json:"room_id,omitempty"`
	SkipClientId string          `json:"skip_client_id,omitempty"`
	Frame        json.RawMessage `json:"frame"`
}

type groupReq struct {
	client *Client
	roomId string
}

type stopReq struct {
	done chan struct{}
}

// ChatServer owns the connection registry and the room broadcast groups.
// Both maps are only touched by the Run goroutine.
type ChatServer struct {
	log            *zap.Logger
	svc            RoomService
	stats          stats.StatsProvider
	relay          Relay
	verboseErrors  bool
	clients        map[*Client]struct{}
	groups         map[string]map[*Client]struct{}
	registerChan   chan *Client
	deregisterChan chan *Client
	joinChan       chan groupReq
	leaveChan      chan groupReq
	closeGroupChan chan string
	broadcastChan  chan *Broadcast
	stop           chan stopReq
	done           chan struct{}
}

type Option func(cs *ChatServer)

// WithRelay fans broadcasts out through r so that every instance sharing it
// delivers them to its local connections.
func WithRelay(r Relay) Option {
	return func(cs *ChatServer) {
		cs.relay = r
	}
}

// WithVerboseErrors sends unexpected failure details to clients.
func WithVerboseErrors(verbose bool) Option {
	return func(cs *ChatServer) {
		cs.verboseErrors = verbose
	}
}

func NewChatServer(logger *zap.Logger, svc RoomService, su stats.StatsProvider, opts ...Option) (*ChatServer, error) {
	if svc == nil {
		return nil, fmt.Errorf("room service is required")
	}

	cs := &ChatServer{
		log:            logger,
		svc:            svc,
		stats:          su,
		clients:        make(map[*Client]struct{}),
		groups:         make(map[string]map[*Client]struct{}),
		registerChan:   make(chan *Client),
		deregisterChan: make(chan *Client),
		joinChan:       make(chan groupReq),
		leaveChan:      make(chan groupReq),
		closeGroupChan: make(chan string),
		broadcastChan:  make(chan *Broadcast, broadcastQueueSize),
		stop:           make(chan stopReq),
		done:           make(chan struct{}),
	}

	for _, opt := range opts {
		opt(cs)
	}

	su.RegisterMetric(metricActiveClients)
	su.RegisterMetric(metricRoomGroups)

	return cs, nil
}

func (cs *ChatServer) Run() {
	for {
		select {
		case c := <-cs.registerChan:
			cs.clients[c] = struct{}{}
			cs.stats.Incr(metricActiveClients)
			cs.log.Debug("client registered", zap.Int("user_id", c.user.Id), zap.String("client_id", c.id))
		case c := <-cs.deregisterChan:
			cs.removeClient(c)
		case req := <-cs.joinChan:
			cs.addToGroup(req.client, req.roomId)
		case req := <-cs.leaveChan:
			cs.removeFromGroup(req.client, req.roomId)
		case roomId := <-cs.closeGroupChan:
			if _, ok := cs.groups[roomId]; ok {
				delete(cs.groups, roomId)
				cs.stats.Decr(metricRoomGroups)
				cs.log.Debug("closed room group", zap.String("room_id", roomId))
			}
		case b := <-cs.broadcastChan:
			cs.fanOut(b)
		case req := <-cs.stop:
			cs.log.Info("stopping chat server", zap.Int("clients", len(cs.clients)))
			for c := range cs.clients {
				c.stopClient()
			}
			close(req.done)
			close(cs.done)
			return
		}
	}
}

func (cs *ChatServer) removeClient(c *Client) {
	if _, ok := cs.clients[c]; !ok {
		return
	}

	delete(cs.clients, c)
	cs.stats.Decr(metricActiveClients)

	for roomId := range cs.groups {
		cs.removeFromGroup(c, roomId)
	}

	cs.log.Debug("client deregistered", zap.Int("user_id", c.user.Id), zap.String("client_id", c.id))
}

func (cs *ChatServer) addToGroup(c *Client, roomId string) {
	group, ok := cs.groups[roomId]
	if !ok {
		group = make(map[*Client]struct{})
		cs.groups[roomId] = group
		cs.stats.Incr(metricRoomGroups)
	}
	group[c] = struct{}{}
}

func (cs *ChatServer) removeFromGroup(c *Client, roomId string) {
	group, ok := cs.groups[roomId]
	if !ok {
		return
	}

	delete(group, c)
	if len(group) == 0 {
		delete(cs.groups, roomId)
		cs.stats.Decr(metricRoomGroups)
	}
}

func (cs *ChatServer) fanOut(b *Broadcast) {
	if b.RoomId == "" {
		for c := range cs.clients {
			if c.id != b.SkipClientId {
				c.queueMessage(b.Frame)
			}
		}
		return
	}

	for c := range cs.groups[b.RoomId] {
		if c.id != b.SkipClientId {
			c.queueMessage(b.Frame)
		}
	}
}

// send hands v to the Run goroutine unless the server has stopped.
func send[T any](cs *ChatServer, ch chan T, v T) error {
	select {
	case ch <- v:
		return nil
	case <-cs.done:
		return ErrServerStopped
	}
}

func (cs *ChatServer) register(c *Client) error {
	return send(cs, cs.registerChan, c)
}

func (cs *ChatServer) deregister(c *Client) error {
	return send(cs, cs.deregisterChan, c)
}

// joinGroup returns once the client is a member of the room's group, so
// broadcasts issued afterwards reach it.
func (cs *ChatServer) joinGroup(c *Client, roomId string) error {
	return send(cs, cs.joinChan, groupReq{client: c, roomId: roomId})
}

func (cs *ChatServer) leaveGroup(c *Client, roomId string) error {
	return send(cs, cs.leaveChan, groupReq{client: c, roomId: roomId})
}

// CloseRoom drops the broadcast group of a deleted room.
func (cs *ChatServer) CloseRoom(roomId string) error {
	return send(cs, cs.closeGroupChan, roomId)
}

// PublishRoom sends an event to every connection in the room's group except
// skip, which may be nil.
func (cs *ChatServer) PublishRoom(ctx context.Context, roomId string, evt *ServerEvent, skip *Client) error {
	if roomId == "" {
		return fmt.Errorf("room id is required")
	}
	return cs.publish(ctx, roomId, evt, skip)
}

// PublishAll sends an event to every connection.
func (cs *ChatServer) PublishAll(ctx context.Context, evt *ServerEvent) error {
	return cs.publish(ctx, "", evt, nil)
}

func (cs *ChatServer) publish(ctx context.Context, roomId string, evt *ServerEvent, skip *Client) error {
	frame, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	b := &Broadcast{RoomId: roomId, Frame: frame}
	if skip != nil {
		b.SkipClientId = skip.id
	}

	if cs.relay != nil {
		if err := cs.relay.Publish(ctx, b); err != nil {
			return fmt.Errorf("relay publish: %w", err)
		}
		return nil
	}

	return cs.Deliver(b)
}

// Deliver queues a broadcast for fan-out to this instance's connections.
// It is the callback handed to a relay subscription.
func (cs *ChatServer) Deliver(b *Broadcast) error {
	select {
	case cs.broadcastChan <- b:
		return nil
	case <-cs.done:
		return ErrServerStopped
	default:
		cs.log.Warn("broadcast queue full, dropping event", zap.String("room_id", b.RoomId))
		return fmt.Errorf("broadcast queue full")
	}
}

// Shutdown disconnects every client and stops the Run loop.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	req := stopReq{done: make(chan struct{})}

	select {
	case cs.stop <- req:
	case <-cs.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
