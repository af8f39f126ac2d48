package ws

import (
	"context"
	"sync"
	"testing"
	"time"

	"discussd/internal/config"
	"discussd/internal/db"
	"discussd/internal/models"
)

// fakeStore records compose calls and serves canned results.
type fakeStore struct {
	mu sync.Mutex

	createCalls int
	replyCalls  int
	toggleCalls int

	createErr error
	replyErr  error
	toggleErr error

	problemIDs map[string]string // message id -> problem id
	history    []*models.Message
	historyErr error
	upvoted    bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{problemIDs: make(map[string]string)}
}

func (s *fakeStore) Create(_ context.Context, problemID string, author *models.User, content string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createCalls++
	if s.createErr != nil {
		return nil, s.createErr
	}
	return &models.Message{
		ID:        "msg_created",
		ProblemID: problemID,
		AuthorID:  author.ID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
		Replies:   []models.Reply{},
		Upvotes:   []string{},
	}, nil
}

func (s *fakeStore) CreateReply(_ context.Context, messageID string, author *models.User, content, replyingTo string) (*models.Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replyCalls++
	if s.replyErr != nil {
		return nil, s.replyErr
	}
	return &models.Reply{
		ID:         "rpl_created",
		MessageID:  messageID,
		AuthorID:   author.ID,
		Content:    content,
		ReplyingTo: replyingTo,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

func (s *fakeStore) ToggleUpvote(_ context.Context, messageID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toggleCalls++
	if s.toggleErr != nil {
		return false, s.toggleErr
	}
	return s.upvoted, nil
}

func (s *fakeStore) FindProblemID(_ context.Context, messageID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if problemID, ok := s.problemIDs[messageID]; ok {
		return problemID, nil
	}
	return "", db.ErrNotFound
}

func (s *fakeStore) ListHistory(_ context.Context, problemID string, limit int) ([]*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.historyErr != nil {
		return nil, s.historyErr
	}
	return s.history, nil
}

func (s *fakeStore) calls() (int, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createCalls, s.replyCalls, s.toggleCalls
}

func testChatConfig() config.ChatConfig {
	return config.ChatConfig{
		MaxContentLength: 4000,
		HistoryLimit:     100,
		MessageRateLimit: 0, // disabled unless a test opts in
	}
}

func testChatConfigWithRate(rate time.Duration) config.ChatConfig {
	cfg := testChatConfig()
	cfg.MessageRateLimit = rate
	return cfg
}

func newTestHub(store MessageStore) *Hub {
	return NewHub(store, testChatConfig())
}

func newTestClient(h *Hub, userID string) *Client {
	return NewClient(h, nil, &models.User{ID: userID, Username: userID})
}

// recvFrame pops the next frame from a client's send buffer.
func recvFrame(t *testing.T, c *Client) *WSMessage {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func assertNoFrame(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msg := <-c.send:
		t.Fatalf("expected no frame, got op=%d type=%s", msg.Op, msg.Type)
	default:
	}
}

func TestJoinRoomIdempotent(t *testing.T) {
	h := newTestHub(newFakeStore())
	c := newTestClient(h, "usr_1")

	h.JoinRoom(c, "two-sum")
	h.JoinRoom(c, "two-sum")

	if got := len(h.RoomMembers("two-sum")); got != 1 {
		t.Fatalf("expected 1 member after double join, got %d", got)
	}
	if !h.IsMember(c, "two-sum") {
		t.Fatal("expected client to be a member")
	}
}

func TestLeaveRoomRemovesEmptyRoom(t *testing.T) {
	h := newTestHub(newFakeStore())
	c := newTestClient(h, "usr_1")

	h.JoinRoom(c, "two-sum")
	h.LeaveRoom(c, "two-sum")

	if h.IsMember(c, "two-sum") {
		t.Fatal("expected client to be removed")
	}

	h.mu.RLock()
	_, exists := h.rooms["two-sum"]
	h.mu.RUnlock()
	if exists {
		t.Fatal("expected empty room to be dropped")
	}
}

func TestLeaveRoomNotJoinedIsNoop(t *testing.T) {
	h := newTestHub(newFakeStore())
	c := newTestClient(h, "usr_1")

	h.LeaveRoom(c, "never-joined")
}

func TestDispatchToRoomReachesAllMembers(t *testing.T) {
	h := newTestHub(newFakeStore())
	a := newTestClient(h, "usr_a")
	b := newTestClient(h, "usr_b")
	outsider := newTestClient(h, "usr_c")

	h.JoinRoom(a, "two-sum")
	h.JoinRoom(b, "two-sum")
	h.JoinRoom(outsider, "other-problem")

	h.DispatchToRoom("two-sum", EventMessageCreate, MessageCreatePayload{})

	for _, c := range []*Client{a, b} {
		frame := recvFrame(t, c)
		if frame.Op != OpDispatch || frame.Type != EventMessageCreate {
			t.Fatalf("unexpected frame op=%d type=%s", frame.Op, frame.Type)
		}
		if frame.Seq == nil {
			t.Fatal("expected dispatch frame to carry a sequence number")
		}
	}
	assertNoFrame(t, outsider)
}

func TestDispatchSequenceMonotonic(t *testing.T) {
	h := newTestHub(newFakeStore())
	c := newTestClient(h, "usr_1")
	h.JoinRoom(c, "two-sum")

	h.DispatchToRoom("two-sum", EventMessageCreate, MessageCreatePayload{})
	h.SendDispatchToClient(c, EventMessageAck, MessageAckPayload{})

	first := recvFrame(t, c)
	second := recvFrame(t, c)
	if *second.Seq <= *first.Seq {
		t.Fatalf("expected increasing sequence, got %d then %d", *first.Seq, *second.Seq)
	}
}

func TestSlowClientDisconnect(t *testing.T) {
	h := newTestHub(newFakeStore())
	c := newTestClient(h, "usr_1")
	h.JoinRoom(c, "two-sum")

	// Fill the send buffer, then push past the drop threshold without a
	// reader on the other end.
	for i := 0; i < cap(c.send); i++ {
		c.send <- &WSMessage{Op: OpDispatch}
	}
	for i := 0; i < maxDroppedMessagesBeforeDisconnect; i++ {
		h.DispatchToRoom("two-sum", EventMessageCreate, MessageCreatePayload{})
	}

	if !c.IsClosed() {
		t.Fatal("expected slow client to be closed")
	}
}

func TestSendToClosedClientIsNoop(t *testing.T) {
	h := newTestHub(newFakeStore())
	c := newTestClient(h, "usr_1")
	c.Close()

	h.SendDispatchToClient(c, EventMessageAck, MessageAckPayload{})
	assertNoFrame(t, c)
}

func TestConcurrentDispatchAndClose(t *testing.T) {
	h := newTestHub(newFakeStore())

	// Dispatchers racing client shutdown must never touch a closed
	// channel; the worst allowed outcome is a dropped frame.
	for i := 0; i < 200; i++ {
		c := newTestClient(h, "usr_1")
		h.JoinRoom(c, "two-sum")

		var wg sync.WaitGroup
		wg.Add(3)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				h.DispatchToRoom("two-sum", EventMessageCreate, MessageCreatePayload{})
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				h.SendDispatchToClient(c, EventMessageAck, MessageAckPayload{})
			}
		}()
		go func() {
			defer wg.Done()
			c.Close()
		}()
		wg.Wait()

		h.LeaveRoom(c, "two-sum")
		if !c.IsClosed() {
			t.Fatal("expected client to be closed")
		}
	}
}

func TestUnregisterAfterCloseIsSafe(t *testing.T) {
	h := newTestHub(newFakeStore())
	go h.Run()
	defer h.Shutdown()

	c := newTestClient(h, "usr_1")
	if !h.RegisterClient(c) {
		t.Fatal("expected registration to succeed")
	}

	// The pump teardown path closes first, then unregisters.
	c.Close()
	h.unregister <- c

	deadline := time.After(time.Second)
	for {
		h.mu.RLock()
		_, present := h.clients[c]
		h.mu.RUnlock()
		if !present {
			break
		}
		select {
		case <-deadline:
			t.Fatal("client still registered after unregister")
		case <-time.After(5 * time.Millisecond):
		}
	}

	h.SendDispatchToClient(c, EventMessageAck, MessageAckPayload{})
}

func TestRegisterAndUnregister(t *testing.T) {
	h := newTestHub(newFakeStore())
	go h.Run()
	defer h.Shutdown()

	c := newTestClient(h, "usr_1")
	if !h.RegisterClient(c) {
		t.Fatal("expected registration to succeed")
	}
	h.JoinRoom(c, "two-sum")

	h.unregister <- c

	deadline := time.After(time.Second)
	for h.IsMember(c, "two-sum") {
		select {
		case <-deadline:
			t.Fatal("client still a room member after unregister")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
