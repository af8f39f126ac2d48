package ws

import (
	"discussd/internal/constants"
	"discussd/internal/models"
)

// Operation codes for WebSocket messages
type OpCode int

const (
	// DISPATCH - Events and commands with type field
	OpDispatch OpCode = 0

	// Lifecycle ops (Server -> Client)
	OpHello OpCode = 1 // Sent on connection
	OpReady OpCode = 2 // Sent after the session is bound to an identity
)

// Event types (Server -> Client via DISPATCH)
const (
	EventRoomHistory   = "ROOM_HISTORY"
	EventMessageCreate = "MESSAGE_CREATE"
	EventMessageAck    = "MESSAGE_ACK"
	EventReplyCreate   = "REPLY_CREATE"
	EventReplyAck      = "REPLY_ACK"
	EventMessageUpdate = "MESSAGE_UPDATE"
	EventError         = "ERROR"
)

// Command types (Client -> Server via DISPATCH)
const (
	CmdRoomJoin     = "ROOM_JOIN"
	CmdRoomLeave    = "ROOM_LEAVE"
	CmdMessageSend  = "MESSAGE_SEND"
	CmdReplySend    = "REPLY_SEND"
	CmdUpvoteToggle = "UPVOTE_TOGGLE"
)

// Error codes sent in EventError payloads.
const (
	ErrCodeRateLimited       = constants.ErrCodeRateLimited
	ErrCodeInvalidRequest    = constants.ErrCodeInvalidRequest
	ErrCodeNotFound          = constants.ErrCodeNotFound
	ErrCodeEmptyContent      = constants.ErrCodeEmptyContent
	ErrCodeMessageTooLong    = constants.ErrCodeMessageTooLong
	ErrCodePersistenceFailed = constants.ErrCodePersistenceFailed
)

type WSMessage struct {
	Op   OpCode      `json:"op"`
	Type string      `json:"t,omitempty"` // Event/command type (only for DISPATCH)
	Data interface{} `json:"d,omitempty"`
	Seq  *int64      `json:"s,omitempty"`
}

// Server -> Client payloads

type HelloPayload struct{}

type ReadyPayload struct {
	SessionID string       `json:"session_id"`
	User      *models.User `json:"user"`
}

// RoomHistoryPayload is delivered once per explicit join, to the joining
// connection only.
type RoomHistoryPayload struct {
	ProblemID string            `json:"problem_id"`
	Messages  []*models.Message `json:"messages"`
}

// MessageCreatePayload fans out to every member of the room. Nonce is the
// sender's client-generated id, echoed so the sender can match the event
// against its optimistic placeholder.
type MessageCreatePayload struct {
	Message *models.Message `json:"message"`
	Nonce   string          `json:"nonce,omitempty"`
}

// MessageAckPayload is the direct acknowledgement to the composing
// connection, independent of the fan-out path.
type MessageAckPayload struct {
	Nonce   string          `json:"nonce"`
	Message *models.Message `json:"message"`
}

type ReplyCreatePayload struct {
	Reply *models.Reply `json:"reply"`
	Nonce string        `json:"nonce,omitempty"`
}

type ReplyAckPayload struct {
	Nonce string        `json:"nonce"`
	Reply *models.Reply `json:"reply"`
}

// MessageUpdatePayload carries an upvote delta: the acting user and the
// resulting membership for that user only, never the full set.
type MessageUpdatePayload struct {
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
	IsUpvoted bool   `json:"is_upvoted"`
}

// ErrorPayload sent when the server rejects a client action
type ErrorPayload struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Nonce      string `json:"nonce,omitempty"`
	RetryAfter int64  `json:"retry_after,omitempty"` // Unix ms timestamp
}

// Client -> Server payloads (via DISPATCH)

type RoomJoinPayload struct {
	ProblemID string `json:"problem_id" validate:"required"`
}

type RoomLeavePayload struct {
	ProblemID string `json:"problem_id" validate:"required"`
}

type MessageSendPayload struct {
	ProblemID string `json:"problem_id" validate:"required"`
	Content   string `json:"content"`
	Nonce     string `json:"nonce,omitempty"` // Client-generated ID for tracking
}

type ReplySendPayload struct {
	MessageID  string `json:"message_id" validate:"required"`
	Content    string `json:"content"`
	ReplyingTo string `json:"replying_to_username,omitempty"`
	Nonce      string `json:"nonce,omitempty"`
}

type UpvoteTogglePayload struct {
	MessageID string `json:"message_id" validate:"required"`
}
