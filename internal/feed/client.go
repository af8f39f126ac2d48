package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"discussd/internal/ws"
)

const readyTimeout = 10 * time.Second

var ErrNotReady = errors.New("feed: session not ready")

// ErrorHandler receives server-side rejections of this client's actions.
type ErrorHandler func(code, message, nonce string)

// Client is a websocket session bound to a Reconciliation Engine. It speaks
// the op/t/d dispatch protocol, stages optimistic entries before emitting
// commands, and feeds every inbound event through the engine's guards.
type Client struct {
	engine *Engine
	conn   *websocket.Conn
	log    *slog.Logger

	writeMu sync.Mutex

	readyCh chan struct{}
	done    chan struct{}

	mu      sync.Mutex
	self    Author
	ready   bool
	onError ErrorHandler
}

// Dial opens a session against a gateway URL (ws:// or wss://), passing the
// platform token as a query parameter. The returned client has already
// completed the hello/ready handshake.
func Dial(ctx context.Context, rawURL, token string) (*Client, error) {
	header := http.Header{}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, rawURL+"?token="+token, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("feed: dial failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("feed: dial failed: %w", err)
	}

	c := NewClient(conn)
	go c.readLoop()

	select {
	case <-c.readyCh:
		return c, nil
	case <-c.done:
		return nil, errors.New("feed: connection closed during handshake")
	case <-time.After(readyTimeout):
		c.Close()
		return nil, errors.New("feed: timed out waiting for ready")
	case <-ctx.Done():
		c.Close()
		return nil, ctx.Err()
	}
}

// NewClient wraps an established connection. Callers using Dial never need
// this directly; it exists for tests driving both ends of a pipe.
func NewClient(conn *websocket.Conn) *Client {
	return &Client{
		engine:  NewEngine(),
		conn:    conn,
		log:     slog.Default().With(slog.String("component", "feed")),
		readyCh: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (c *Client) Engine() *Engine { return c.engine }

// Self returns the identity the server bound this session to.
func (c *Client) Self() (Author, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self, c.ready
}

// SetErrorHandler installs a callback for server rejections. Placeholders
// for rejected actions are already discarded before the callback runs.
func (c *Client) SetErrorHandler(h ErrorHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = h
}

// JoinRoom subscribes to a problem's discussion. The server answers with a
// history snapshot; joining an already-joined room just refreshes it.
func (c *Client) JoinRoom(problemID string) error {
	return c.send(ws.CmdRoomJoin, ws.RoomJoinPayload{ProblemID: problemID})
}

func (c *Client) LeaveRoom(problemID string) error {
	return c.send(ws.CmdRoomLeave, ws.RoomLeavePayload{ProblemID: problemID})
}

// SendMessage stages an optimistic placeholder, then emits the command with
// the placeholder's id as the nonce. The returned message is pending until
// the server acknowledges or rejects it.
func (c *Client) SendMessage(problemID, content string) (*Message, error) {
	self, ok := c.Self()
	if !ok {
		return nil, ErrNotReady
	}

	staged := c.engine.StageMessage(self, problemID, content)
	err := c.send(ws.CmdMessageSend, ws.MessageSendPayload{
		ProblemID: problemID,
		Content:   content,
		Nonce:     staged.ID,
	})
	if err != nil {
		c.engine.FailMessage(staged.ID)
		return nil, err
	}
	return staged, nil
}

// SendReply stages an optimistic reply under the target message and emits
// the command. replyingTo optionally names the user being answered.
func (c *Client) SendReply(messageID, content, replyingTo string) (*Reply, error) {
	self, ok := c.Self()
	if !ok {
		return nil, ErrNotReady
	}

	staged := c.engine.StageReply(self, messageID, content, replyingTo)
	if staged == nil {
		return nil, fmt.Errorf("feed: unknown message %s", messageID)
	}
	err := c.send(ws.CmdReplySend, ws.ReplySendPayload{
		MessageID:  messageID,
		Content:    content,
		ReplyingTo: replyingTo,
		Nonce:      staged.ID,
	})
	if err != nil {
		c.engine.FailReply(staged.ID)
		return nil, err
	}
	return staged, nil
}

// ToggleUpvote flips the local upvote state immediately and emits the
// command. There is no acknowledgement for upvotes; the fan-out delta is
// idempotent against the local flip.
func (c *Client) ToggleUpvote(messageID string) error {
	self, ok := c.Self()
	if !ok {
		return ErrNotReady
	}

	if _, found := c.engine.ToggleUpvote(messageID, self.ID); !found {
		return fmt.Errorf("feed: unknown message %s", messageID)
	}
	return c.send(ws.CmdUpvoteToggle, ws.UpvoteTogglePayload{MessageID: messageID})
}

// Done closes when the connection ends.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) send(cmdType string, payload interface{}) error {
	msg := ws.WSMessage{
		Op:   ws.OpDispatch,
		Type: cmdType,
		Data: payload,
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(msg)
}

func (c *Client) readLoop() {
	defer func() {
		// Every in-flight action on this connection is implicitly failed;
		// nothing else will ever confirm it.
		c.engine.FailAllPending()
		c.conn.Close()
		close(c.done)
	}()

	for {
		var msg ws.WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn("connection closed unexpectedly", slog.String("error", err.Error()))
			}
			return
		}
		c.handle(&msg)
	}
}

func (c *Client) handle(msg *ws.WSMessage) {
	switch msg.Op {
	case ws.OpHello:
		// Nothing to do until the session is bound.
	case ws.OpReady:
		var payload ws.ReadyPayload
		if err := decodeInto(msg.Data, &payload); err != nil || payload.User == nil {
			c.log.Error("malformed ready payload")
			return
		}
		c.mu.Lock()
		alreadyReady := c.ready
		c.self = Author{
			ID:        payload.User.ID,
			Username:  payload.User.Username,
			AvatarURL: payload.User.GetAvatarURL(),
		}
		c.ready = true
		c.mu.Unlock()
		if !alreadyReady {
			close(c.readyCh)
		}
	case ws.OpDispatch:
		c.handleDispatch(msg)
	}
}

func (c *Client) handleDispatch(msg *ws.WSMessage) {
	switch msg.Type {
	case ws.EventRoomHistory:
		var payload ws.RoomHistoryPayload
		if err := decodeInto(msg.Data, &payload); err != nil {
			return
		}
		c.engine.SetHistory(payload.Messages)

	case ws.EventMessageAck:
		var payload ws.MessageAckPayload
		if err := decodeInto(msg.Data, &payload); err != nil || payload.Message == nil {
			return
		}
		c.engine.ResolveMessage(payload.Nonce, payload.Message)

	case ws.EventMessageCreate:
		var payload ws.MessageCreatePayload
		if err := decodeInto(msg.Data, &payload); err != nil || payload.Message == nil {
			return
		}
		c.engine.ApplyMessage(payload.Nonce, payload.Message)

	case ws.EventReplyAck:
		var payload ws.ReplyAckPayload
		if err := decodeInto(msg.Data, &payload); err != nil || payload.Reply == nil {
			return
		}
		c.engine.ResolveReply(payload.Nonce, payload.Reply)

	case ws.EventReplyCreate:
		var payload ws.ReplyCreatePayload
		if err := decodeInto(msg.Data, &payload); err != nil || payload.Reply == nil {
			return
		}
		c.engine.ApplyReply(payload.Nonce, payload.Reply)

	case ws.EventMessageUpdate:
		var payload ws.MessageUpdatePayload
		if err := decodeInto(msg.Data, &payload); err != nil {
			return
		}
		c.engine.ApplyUpvoteDelta(payload.MessageID, payload.UserID, payload.IsUpvoted)

	case ws.EventError:
		var payload ws.ErrorPayload
		if err := decodeInto(msg.Data, &payload); err != nil {
			return
		}
		c.engine.FailPending(payload.Nonce)
		c.mu.Lock()
		handler := c.onError
		c.mu.Unlock()
		if handler != nil {
			handler(payload.Code, payload.Message, payload.Nonce)
		}

	default:
		c.log.Debug("unhandled event", slog.String("type", msg.Type))
	}
}

// decodeInto re-marshals a decoded d payload into a typed struct.
func decodeInto(data interface{}, dst interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}
