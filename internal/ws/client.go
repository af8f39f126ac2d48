package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/microcosm-cc/bluemonday"

	"discussd/internal/constants"
	"discussd/internal/db"
	"discussd/internal/models"
)

// ClientState represents the lifecycle state of a WebSocket client
type ClientState int32

const (
	ClientStateConnected ClientState = iota // WS connected, processing commands
	ClientStateClosing                      // Shutdown initiated
	ClientStateClosed                       // Terminal
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 15 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = 10 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 16384
)

// contentPolicy strips all markup from user content before persistence.
var contentPolicy = bluemonday.StrictPolicy()

// Client represents a single WebSocket connection bound to one user.
// The send channel is never closed; shutdown is signalled through done so
// concurrent dispatchers can never hit a closed channel.
type Client struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan *WSMessage
	done          chan struct{}
	connCloseOnce sync.Once

	state atomic.Int32

	user      *models.User
	sessionID string

	// DroppedMessages tracks how many messages have been dropped due to full buffer
	DroppedMessages int64

	// Rate limiting state. Only accessed from the ReadPump goroutine (via
	// handleMessage), so no mutex is needed.
	lastMessage time.Time
}

// NewClient creates a new client for a connection whose identity was
// resolved during the HTTP upgrade.
func NewClient(hub *Hub, conn *websocket.Conn, user *models.User) *Client {
	c := &Client{
		hub:       hub,
		conn:      conn,
		send:      make(chan *WSMessage, constants.WSClientSendBufferSize),
		done:      make(chan struct{}),
		user:      user,
		sessionID: uuid.New().String(),
	}
	c.state.Store(int32(ClientStateConnected))
	return c
}

func (c *Client) UserID() string {
	if c.user != nil {
		return c.user.ID
	}
	return "unknown"
}

func (c *Client) SessionID() string {
	return c.sessionID
}

// Close performs cleanup for the client, ensuring it only happens once.
// Only the goroutine winning the Connected->Closing transition closes done.
func (c *Client) Close() {
	if !c.transitionTo(ClientStateClosing) {
		// Already closing/closed, but still ensure conn is closed
		c.closeConn()
		return
	}
	close(c.done)
	c.closeConn()
	c.transitionTo(ClientStateClosed)
}

func (c *Client) closeConn() {
	c.connCloseOnce.Do(func() {
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// SendHello sends the HELLO message to initiate the connection
func (c *Client) SendHello() {
	c.send <- &WSMessage{
		Op:   OpHello,
		Data: HelloPayload{},
	}
}

// SendReady confirms the session identity after hub registration.
func (c *Client) SendReady() {
	c.send <- &WSMessage{
		Op: OpReady,
		Data: ReadyPayload{
			SessionID: c.sessionID,
			User:      c.user,
		},
	}
}

func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister <- c
		c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("websocket read error", "component", "ws", "user_id", c.UserID(), "error", err)
			}
			break
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			slog.Warn("malformed frame", "component", "ws", "user_id", c.UserID(), "error", err)
			continue
		}

		c.handleMessage(&msg)
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case message := <-c.send:
			if c.IsClosed() {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(message); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			if c.IsClosed() {
				return
			}

			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(msg *WSMessage) {
	switch msg.Op {
	case OpDispatch:
		c.handleDispatch(msg)
	default:
		slog.Warn("unknown op code", "component", "ws", "op", msg.Op)
	}
}

// handleDispatch routes DISPATCH messages by their type
func (c *Client) handleDispatch(msg *WSMessage) {
	switch msg.Type {
	case CmdRoomJoin:
		c.handleRoomJoin(msg)
	case CmdRoomLeave:
		c.handleRoomLeave(msg)
	case CmdMessageSend:
		c.handleMessageSend(msg)
	case CmdReplySend:
		c.handleReplySend(msg)
	case CmdUpvoteToggle:
		c.handleUpvoteToggle(msg)
	default:
		slog.Warn("unknown dispatch type", "component", "ws", "type", msg.Type)
	}
}

func (c *Client) sendError(code, message, nonce string) {
	c.send <- &WSMessage{
		Op:   OpDispatch,
		Type: EventError,
		Data: ErrorPayload{
			Code:    code,
			Message: message,
			Nonce:   nonce,
		},
	}
}

func (c *Client) handleRoomJoin(msg *WSMessage) {
	var p RoomJoinPayload
	if err := decodePayload(msg.Data, &p); err != nil {
		c.sendError(ErrCodeInvalidRequest, "problem_id is required", "")
		return
	}

	// Membership is idempotent; the history snapshot is delivered once per
	// explicit join so a reconnecting client can always re-request it.
	c.hub.JoinRoom(c, p.ProblemID)

	history, err := c.hub.Store().ListHistory(context.Background(), p.ProblemID, c.hub.ChatConfig().HistoryLimit)
	if err != nil {
		slog.Error("loading history", "component", "ws", "problem_id", p.ProblemID, "error", err)
		c.sendError(ErrCodePersistenceFailed, "Failed to load history", "")
		return
	}

	c.hub.SendDispatchToClient(c, EventRoomHistory, RoomHistoryPayload{
		ProblemID: p.ProblemID,
		Messages:  history,
	})
}

func (c *Client) handleRoomLeave(msg *WSMessage) {
	var p RoomLeavePayload
	if err := decodePayload(msg.Data, &p); err != nil {
		return
	}

	c.hub.LeaveRoom(c, p.ProblemID)
}

// validateContent trims and sanitizes user content. Returns the cleaned
// content and the error code to reject with, if any.
func (c *Client) validateContent(raw, nonce string) (string, bool) {
	content := strings.TrimSpace(raw)
	if content == "" {
		c.sendError(ErrCodeEmptyContent, "Content must not be empty", nonce)
		return "", false
	}
	if len(content) > c.hub.ChatConfig().MaxContentLength {
		c.sendError(ErrCodeMessageTooLong, "Message exceeds maximum length", nonce)
		return "", false
	}

	content = strings.TrimSpace(contentPolicy.Sanitize(content))
	if content == "" {
		c.sendError(ErrCodeEmptyContent, "Content must not be empty", nonce)
		return "", false
	}
	return content, true
}

func (c *Client) allowMessage(nonce string) bool {
	now := time.Now()
	if wait := c.hub.ChatConfig().MessageRateLimit - now.Sub(c.lastMessage); wait > 0 {
		c.send <- &WSMessage{
			Op:   OpDispatch,
			Type: EventError,
			Data: ErrorPayload{
				Code:       ErrCodeRateLimited,
				Message:    "Sending too fast",
				Nonce:      nonce,
				RetryAfter: now.Add(wait).UnixMilli(),
			},
		}
		return false
	}
	c.lastMessage = now
	return true
}

func (c *Client) handleMessageSend(msg *WSMessage) {
	var p MessageSendPayload
	if err := decodePayload(msg.Data, &p); err != nil {
		c.sendError(ErrCodeInvalidRequest, "problem_id is required", p.Nonce)
		return
	}

	content, ok := c.validateContent(p.Content, p.Nonce)
	if !ok {
		return
	}
	if !c.allowMessage(p.Nonce) {
		return
	}

	// Persist and fan out under the room lock so two concurrent composes on
	// the same problem broadcast in the order the store appended them.
	lock := c.hub.roomLock(p.ProblemID)
	lock.Lock()
	defer lock.Unlock()

	message, err := c.hub.Store().Create(context.Background(), p.ProblemID, c.user, content)
	if err != nil {
		slog.Error("creating message", "component", "ws", "user_id", c.UserID(), "error", err)
		c.sendError(ErrCodePersistenceFailed, "Failed to save message", p.Nonce)
		return
	}

	// Acknowledgement and fan-out are independent delivery paths; the
	// composing connection receives both and reconciles by nonce.
	c.hub.SendDispatchToClient(c, EventMessageAck, MessageAckPayload{
		Nonce:   p.Nonce,
		Message: message,
	})
	c.hub.DispatchToRoom(p.ProblemID, EventMessageCreate, MessageCreatePayload{
		Message: message,
		Nonce:   p.Nonce,
	})
}

func (c *Client) handleReplySend(msg *WSMessage) {
	var p ReplySendPayload
	if err := decodePayload(msg.Data, &p); err != nil {
		c.sendError(ErrCodeInvalidRequest, "message_id is required", p.Nonce)
		return
	}

	content, ok := c.validateContent(p.Content, p.Nonce)
	if !ok {
		return
	}
	if !c.allowMessage(p.Nonce) {
		return
	}

	problemID, err := c.hub.Store().FindProblemID(context.Background(), p.MessageID)
	if errors.Is(err, db.ErrNotFound) {
		c.sendError(ErrCodeNotFound, "Message not found", p.Nonce)
		return
	}
	if err != nil {
		slog.Error("resolving reply target", "component", "ws", "message_id", p.MessageID, "error", err)
		c.sendError(ErrCodePersistenceFailed, "Failed to save reply", p.Nonce)
		return
	}

	lock := c.hub.roomLock(problemID)
	lock.Lock()
	defer lock.Unlock()

	reply, err := c.hub.Store().CreateReply(context.Background(), p.MessageID, c.user, content, p.ReplyingTo)
	if err != nil {
		slog.Error("creating reply", "component", "ws", "user_id", c.UserID(), "error", err)
		c.sendError(ErrCodePersistenceFailed, "Failed to save reply", p.Nonce)
		return
	}

	c.hub.SendDispatchToClient(c, EventReplyAck, ReplyAckPayload{
		Nonce: p.Nonce,
		Reply: reply,
	})
	c.hub.DispatchToRoom(problemID, EventReplyCreate, ReplyCreatePayload{
		Reply: reply,
		Nonce: p.Nonce,
	})
}

func (c *Client) handleUpvoteToggle(msg *WSMessage) {
	var p UpvoteTogglePayload
	if err := decodePayload(msg.Data, &p); err != nil {
		c.sendError(ErrCodeInvalidRequest, "message_id is required", "")
		return
	}

	problemID, err := c.hub.Store().FindProblemID(context.Background(), p.MessageID)
	if errors.Is(err, db.ErrNotFound) {
		c.sendError(ErrCodeNotFound, "Message not found", "")
		return
	}
	if err != nil {
		slog.Error("resolving upvote target", "component", "ws", "message_id", p.MessageID, "error", err)
		c.sendError(ErrCodePersistenceFailed, "Failed to toggle upvote", "")
		return
	}

	lock := c.hub.roomLock(problemID)
	lock.Lock()
	defer lock.Unlock()

	upvoted, err := c.hub.Store().ToggleUpvote(context.Background(), p.MessageID, c.user.ID)
	if err != nil {
		slog.Error("toggling upvote", "component", "ws", "user_id", c.UserID(), "error", err)
		c.sendError(ErrCodePersistenceFailed, "Failed to toggle upvote", "")
		return
	}

	// The payload carries only the acting user's resulting state; receivers
	// merge this one entry into their local set, never replacing it.
	c.hub.DispatchToRoom(problemID, EventMessageUpdate, MessageUpdatePayload{
		MessageID: p.MessageID,
		UserID:    c.user.ID,
		IsUpvoted: upvoted,
	})
}

// State returns the current client state
func (c *Client) State() ClientState {
	return ClientState(c.state.Load())
}

// IsClosed returns true if the client is closing or closed
func (c *Client) IsClosed() bool {
	state := c.State()
	return state == ClientStateClosing || state == ClientStateClosed
}

// isValidClientTransition checks if a state transition is valid
func isValidClientTransition(from, to ClientState) bool {
	switch from {
	case ClientStateConnected:
		return to == ClientStateClosing
	case ClientStateClosing:
		return to == ClientStateClosed
	case ClientStateClosed:
		return false
	}
	return false
}

// transitionTo atomically transitions to a new state if valid
func (c *Client) transitionTo(newState ClientState) bool {
	for {
		current := ClientState(c.state.Load())
		if !isValidClientTransition(current, newState) {
			return false
		}
		if c.state.CompareAndSwap(int32(current), int32(newState)) {
			return true
		}
	}
}

