package ws

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"discussd/internal/config"
	"discussd/internal/constants"
	"discussd/internal/models"
)

const (
	// maxDroppedMessagesBeforeDisconnect is the threshold for disconnecting slow clients
	maxDroppedMessagesBeforeDisconnect = 100

	// Timeout for hub registration
	registerTimeout = 5 * time.Second
)

// MessageStore is the durable history collaborator. The hub's compose
// handlers are its only writers.
type MessageStore interface {
	Create(ctx context.Context, problemID string, author *models.User, content string) (*models.Message, error)
	CreateReply(ctx context.Context, messageID string, author *models.User, content, replyingTo string) (*models.Reply, error)
	ToggleUpvote(ctx context.Context, messageID, userID string) (bool, error)
	FindProblemID(ctx context.Context, messageID string) (string, error)
	ListHistory(ctx context.Context, problemID string, limit int) ([]*models.Message, error)
}

// registerRequest is used for synchronous registration with a callback
type registerRequest struct {
	client *Client
	done   chan struct{}
}

type Hub struct {
	clients      map[*Client]bool
	rooms        map[string]map[*Client]struct{}
	roomLocks    map[string]*sync.Mutex
	registerSync chan registerRequest
	unregister   chan *Client
	shutdown     chan struct{}
	store        MessageStore
	chatCfg      config.ChatConfig
	sequence     int64
	mu           sync.RWMutex
}

func NewHub(store MessageStore, chatCfg config.ChatConfig) *Hub {
	return &Hub{
		clients:      make(map[*Client]bool),
		rooms:        make(map[string]map[*Client]struct{}),
		roomLocks:    make(map[string]*sync.Mutex),
		registerSync: make(chan registerRequest, constants.WSBroadcastBufferSize),
		unregister:   make(chan *Client, constants.WSBroadcastBufferSize),
		shutdown:     make(chan struct{}),
		store:        store,
		chatCfg:      chatCfg,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.shutdown:
			h.mu.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.rooms = make(map[string]map[*Client]struct{})
			h.mu.Unlock()
			slog.Info("shutdown complete", "component", "hub")
			return

		case req := <-h.registerSync:
			h.mu.Lock()
			h.clients[req.client] = true
			h.mu.Unlock()
			close(req.done)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				h.removeFromRoomsLocked(client)
				client.Close()
			}
			h.mu.Unlock()
		}
	}
}

// RegisterClient adds the client to the hub's active set before any event
// can be delivered to it. Blocks until the hub has processed the request.
func (h *Hub) RegisterClient(c *Client) bool {
	done := make(chan struct{})
	select {
	case h.registerSync <- registerRequest{client: c, done: done}:
		select {
		case <-done:
			return true
		case <-time.After(registerTimeout):
			return false
		}
	case <-time.After(registerTimeout):
		return false
	}
}

// JoinRoom registers the client under problemID. Joining a room the client
// is already a member of is a no-op.
func (h *Hub) JoinRoom(c *Client, problemID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[problemID]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[problemID] = members
	}
	members[c] = struct{}{}
}

func (h *Hub) LeaveRoom(c *Client, problemID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if members, ok := h.rooms[problemID]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, problemID)
		}
	}
}

// Caller must hold h.mu.
func (h *Hub) removeFromRoomsLocked(c *Client) {
	for problemID, members := range h.rooms {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, problemID)
		}
	}
}

// RoomMembers returns a snapshot of the membership set for a room.
func (h *Hub) RoomMembers(problemID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	members := make([]*Client, 0, len(h.rooms[problemID]))
	for c := range h.rooms[problemID] {
		members = append(members, c)
	}
	return members
}

// IsMember reports whether the client is currently registered in the room.
func (h *Hub) IsMember(c *Client, problemID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[problemID][c]
	return ok
}

// roomLock returns the per-room compose mutex. Store appends and the
// membership read for one room are serialized under it so concurrent
// composes fan out in persisted order.
func (h *Hub) roomLock(problemID string) *sync.Mutex {
	h.mu.Lock()
	defer h.mu.Unlock()

	l, ok := h.roomLocks[problemID]
	if !ok {
		l = &sync.Mutex{}
		h.roomLocks[problemID] = l
	}
	return l
}

func (h *Hub) nextSequence() int64 {
	return atomic.AddInt64(&h.sequence, 1)
}

// DispatchToRoom delivers a DISPATCH event to every member of the room.
// The membership set is snapshotted once; delivery to each connection is
// fire-and-forget so a slow member never blocks the others.
func (h *Hub) DispatchToRoom(problemID, eventType string, data interface{}) {
	seq := h.nextSequence()
	msg := &WSMessage{
		Op:   OpDispatch,
		Type: eventType,
		Data: data,
		Seq:  &seq,
	}

	for _, client := range h.RoomMembers(problemID) {
		h.sendToClient(client, msg)
	}
}

// SendDispatchToClient delivers a DISPATCH event to a single connection.
// This is the acknowledgement path, distinct from room fan-out.
func (h *Hub) SendDispatchToClient(c *Client, eventType string, data interface{}) {
	seq := h.nextSequence()
	h.sendToClient(c, &WSMessage{
		Op:   OpDispatch,
		Type: eventType,
		Data: data,
		Seq:  &seq,
	})
}

// sendToClient is safe against concurrent client shutdown: the send channel
// is never closed, so the worst case for a closing client is a buffered
// frame the write pump never drains.
func (h *Hub) sendToClient(client *Client, msg *WSMessage) {
	if client.IsClosed() {
		return
	}
	select {
	case client.send <- msg:
		// Message sent successfully
	default:
		// Client buffer full - track the drop
		dropped := atomic.AddInt64(&client.DroppedMessages, 1)

		// Log warning periodically (every 10 drops)
		if dropped%10 == 1 {
			slog.Warn("dropped messages for slow client", "component", "hub", "dropped", dropped, "user_id", client.UserID())
		}

		// Disconnect clients that fall too far behind
		if dropped >= maxDroppedMessagesBeforeDisconnect {
			slog.Warn("disconnecting slow client", "component", "hub", "user_id", client.UserID(), "dropped", dropped)
			// Close will be handled by the client's pumps
			client.Close()
		}
	}
}

func (h *Hub) Store() MessageStore {
	return h.store
}

func (h *Hub) ChatConfig() config.ChatConfig {
	return h.chatCfg
}

func (h *Hub) Shutdown() {
	close(h.shutdown)
}
