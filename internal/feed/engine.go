package feed

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"discussd/internal/models"
)

// pendingIDPrefix namespaces client-minted ids. Server ids carry msg_/rpl_
// prefixes, so the two spaces never collide by construction.
const pendingIDPrefix = "pending-"

// Message is the client-side view of a discussion entry. Pending is true
// while the entry is an optimistic placeholder awaiting server confirmation;
// it is never persisted.
type Message struct {
	ID              string
	ProblemID       string
	AuthorID        string
	AuthorName      string
	AuthorAvatarURL string
	Content         string
	CreatedAt       time.Time
	Replies         []*Reply
	Upvotes         []string
	Pending         bool
}

type Reply struct {
	ID              string
	MessageID       string
	AuthorID        string
	AuthorName      string
	AuthorAvatarURL string
	Content         string
	ReplyingTo      string
	CreatedAt       time.Time
	Pending         bool
}

// Author identifies the local user staging optimistic entries.
type Author struct {
	ID        string
	Username  string
	AvatarURL string
}

// Engine reconciles optimistic local state with server-confirmed events.
// The acknowledgement and fan-out paths race with no ordering guarantee
// between them; the engine is correct under either order and under
// duplicate fan-out delivery.
type Engine struct {
	mu       sync.Mutex
	messages []*Message
	pending  map[string]struct{} // client-minted ids awaiting confirmation

	nearBottom   bool
	scrollQueued bool
}

func NewEngine() *Engine {
	return &Engine{
		pending:    make(map[string]struct{}),
		nearBottom: true,
	}
}

func mintPendingID() string {
	return pendingIDPrefix + uuid.New().String()
}

// IsPendingID reports whether an id belongs to the client-minted namespace.
func IsPendingID(id string) bool {
	return strings.HasPrefix(id, pendingIDPrefix)
}

// Messages returns a snapshot of the current ordered feed.
func (e *Engine) Messages() []*Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Message(nil), e.messages...)
}

// PendingCount returns the number of actions awaiting confirmation.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// SetHistory replaces the confirmed feed with a join snapshot. Optimistic
// placeholders still in flight are carried over at the tail.
func (e *Engine) SetHistory(snapshot []*models.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()

	carried := lo.Filter(e.messages, func(m *Message, _ int) bool {
		return m.Pending
	})

	e.messages = lo.Map(snapshot, func(m *models.Message, _ int) *Message {
		return fromModelMessage(m)
	})
	e.messages = append(e.messages, carried...)
	e.queueScrollLocked()
}

// StageMessage inserts an optimistic placeholder at the tail and registers
// its id as pending. The placeholder's id doubles as the action nonce.
func (e *Engine) StageMessage(author Author, problemID, content string) *Message {
	e.mu.Lock()
	defer e.mu.Unlock()

	m := &Message{
		ID:              mintPendingID(),
		ProblemID:       problemID,
		AuthorID:        author.ID,
		AuthorName:      author.Username,
		AuthorAvatarURL: author.AvatarURL,
		Content:         content,
		CreatedAt:       time.Now(),
		Replies:         []*Reply{},
		Upvotes:         []string{},
		Pending:         true,
	}
	e.messages = append(e.messages, m)
	e.pending[m.ID] = struct{}{}
	e.queueScrollLocked()
	return m
}

// ResolveMessage replaces the placeholder identified by nonce with the
// server-confirmed message, preserving its position in the feed.
func (e *Engine) ResolveMessage(nonce string, confirmed *models.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.pending, nonce)

	// A join snapshot taken after the server persisted this message can
	// already hold the confirmed copy. The placeholder is redundant then;
	// swapping it in would duplicate the id.
	for _, m := range e.messages {
		if m.ID == confirmed.ID {
			e.messages = lo.Reject(e.messages, func(m *Message, _ int) bool {
				return m.ID == nonce
			})
			return
		}
	}

	for i, m := range e.messages {
		if m.ID == nonce {
			e.messages[i] = fromModelMessage(confirmed)
			return
		}
	}

	// Placeholder already gone (connection churn); fall back to the
	// fan-out guards so the confirmation is not lost.
	e.applyMessageLocked("", confirmed)
}

// FailMessage discards the placeholder for a rejected action. The action is
// not retried; the caller surfaces the error.
func (e *Engine) FailMessage(nonce string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.pending, nonce)
	e.messages = lo.Reject(e.messages, func(m *Message, _ int) bool {
		return m.ID == nonce
	})
}

// ApplyMessage merges a fan-out newMessage event. Events carrying a nonce
// the local session minted are discarded: the acknowledgement path owns
// their reconciliation. Re-delivery of an already-known id is a no-op.
func (e *Engine) ApplyMessage(nonce string, msg *models.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.applyMessageLocked(nonce, msg)
}

func (e *Engine) applyMessageLocked(nonce string, msg *models.Message) {
	if nonce != "" {
		if _, ok := e.pending[nonce]; ok {
			return
		}
	}
	for _, m := range e.messages {
		if m.ID == msg.ID {
			return
		}
	}
	e.messages = append(e.messages, fromModelMessage(msg))
	e.queueScrollLocked()
}

// StageReply appends an optimistic reply to the owning message. Returns nil
// if the message is not known locally.
func (e *Engine) StageReply(author Author, messageID, content, replyingTo string) *Reply {
	e.mu.Lock()
	defer e.mu.Unlock()

	m := e.findLocked(messageID)
	if m == nil {
		return nil
	}

	r := &Reply{
		ID:              mintPendingID(),
		MessageID:       messageID,
		AuthorID:        author.ID,
		AuthorName:      author.Username,
		AuthorAvatarURL: author.AvatarURL,
		Content:         content,
		ReplyingTo:      replyingTo,
		CreatedAt:       time.Now(),
		Pending:         true,
	}
	m.Replies = append(m.Replies, r)
	e.pending[r.ID] = struct{}{}
	return r
}

// ResolveReply replaces a reply placeholder with the confirmed reply.
func (e *Engine) ResolveReply(nonce string, confirmed *models.Reply) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.pending, nonce)

	if m := e.findLocked(confirmed.MessageID); m != nil {
		// Same snapshot race as ResolveMessage: if the confirmed reply is
		// already attached, only the placeholder needs to go.
		for _, r := range m.Replies {
			if r.ID == confirmed.ID {
				m.Replies = lo.Reject(m.Replies, func(r *Reply, _ int) bool {
					return r.ID == nonce
				})
				return
			}
		}
		for i, r := range m.Replies {
			if r.ID == nonce {
				m.Replies[i] = fromModelReply(confirmed)
				return
			}
		}
	}
	e.applyReplyLocked("", confirmed)
}

// FailReply discards a reply placeholder after a rejected action.
func (e *Engine) FailReply(nonce string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.pending, nonce)
	for _, m := range e.messages {
		m.Replies = lo.Reject(m.Replies, func(r *Reply, _ int) bool {
			return r.ID == nonce
		})
	}
}

// ApplyReply merges a fan-out newReply event with the same discard rules as
// ApplyMessage, scoped to the owning message's reply sequence.
func (e *Engine) ApplyReply(nonce string, reply *models.Reply) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.applyReplyLocked(nonce, reply)
}

func (e *Engine) applyReplyLocked(nonce string, reply *models.Reply) {
	if nonce != "" {
		if _, ok := e.pending[nonce]; ok {
			return
		}
	}

	m := e.findLocked(reply.MessageID)
	if m == nil {
		return
	}
	for _, r := range m.Replies {
		if r.ID == reply.ID {
			return
		}
	}
	m.Replies = append(m.Replies, fromModelReply(reply))
}

// ToggleUpvote flips the user's membership in the message's upvote set
// locally and returns the resulting state. Used for the optimistic path;
// the server's fan-out delta converges to the same result.
func (e *Engine) ToggleUpvote(messageID, userID string) (bool, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m := e.findLocked(messageID)
	if m == nil {
		return false, false
	}

	if lo.Contains(m.Upvotes, userID) {
		m.Upvotes = lo.Without(m.Upvotes, userID)
		return false, true
	}
	m.Upvotes = append(m.Upvotes, userID)
	return true, true
}

// ApplyUpvoteDelta merges a messageUpdated event: it adds or removes the
// one acting user, preserving every other entry already in the set. The
// operation is set-valued, so duplicate delivery is harmless.
func (e *Engine) ApplyUpvoteDelta(messageID, userID string, isUpvoted bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m := e.findLocked(messageID)
	if m == nil {
		return
	}

	if isUpvoted {
		if !lo.Contains(m.Upvotes, userID) {
			m.Upvotes = append(m.Upvotes, userID)
		}
		return
	}
	m.Upvotes = lo.Without(m.Upvotes, userID)
}

// FailPending discards whichever placeholder (message or reply) carries the
// nonce. Used when an error event arrives for an in-flight action.
func (e *Engine) FailPending(nonce string) {
	if nonce == "" {
		return
	}

	e.mu.Lock()
	_, isPending := e.pending[nonce]
	e.mu.Unlock()
	if !isPending {
		return
	}

	e.FailMessage(nonce)
	e.FailReply(nonce)
}

// FailAllPending discards every optimistic placeholder. A connection drop
// is an implicit failure for all in-flight actions on that connection.
func (e *Engine) FailAllPending() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.messages = lo.Reject(e.messages, func(m *Message, _ int) bool {
		return m.Pending
	})
	for _, m := range e.messages {
		m.Replies = lo.Reject(m.Replies, func(r *Reply, _ int) bool {
			return r.Pending
		})
	}
	e.pending = make(map[string]struct{})
}

// SetNearBottom records whether the viewport was near the bottom of the
// feed at the last render. Appends request a scroll only when it was, so a
// user reading history is never yanked down.
func (e *Engine) SetNearBottom(nearBottom bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nearBottom = nearBottom
}

// ConsumeScrollRequest reports whether an append requested a
// scroll-to-bottom since the last call, and clears the request.
func (e *Engine) ConsumeScrollRequest() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	queued := e.scrollQueued
	e.scrollQueued = false
	return queued
}

func (e *Engine) queueScrollLocked() {
	if e.nearBottom {
		e.scrollQueued = true
	}
}

func (e *Engine) findLocked(messageID string) *Message {
	for _, m := range e.messages {
		if m.ID == messageID {
			return m
		}
	}
	return nil
}

func fromModelMessage(m *models.Message) *Message {
	avatar := ""
	if m.AuthorAvatarURL != nil {
		avatar = *m.AuthorAvatarURL
	}
	return &Message{
		ID:              m.ID,
		ProblemID:       m.ProblemID,
		AuthorID:        m.AuthorID,
		AuthorName:      m.AuthorName,
		AuthorAvatarURL: avatar,
		Content:         m.Content,
		CreatedAt:       m.CreatedAt,
		Replies: lo.Map(m.Replies, func(r models.Reply, _ int) *Reply {
			return fromModelReply(&r)
		}),
		Upvotes: append([]string(nil), m.Upvotes...),
	}
}

func fromModelReply(r *models.Reply) *Reply {
	avatar := ""
	if r.AuthorAvatarURL != nil {
		avatar = *r.AuthorAvatarURL
	}
	return &Reply{
		ID:              r.ID,
		MessageID:       r.MessageID,
		AuthorID:        r.AuthorID,
		AuthorName:      r.AuthorName,
		AuthorAvatarURL: avatar,
		Content:         r.Content,
		ReplyingTo:      r.ReplyingTo,
		CreatedAt:       r.CreatedAt,
	}
}
