package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"discussd/internal/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()

	database, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func seedUser(t *testing.T, database *DB, id, username string) *models.User {
	t.Helper()

	user := &models.User{ID: id, Username: username}
	if err := NewUserRepository(database).Upsert(context.Background(), user); err != nil {
		t.Fatalf("seeding user: %v", err)
	}
	return user
}

func TestCreateAndListHistory(t *testing.T) {
	database := openTestDB(t)
	repo := NewMessageRepository(database)
	ctx := context.Background()
	ada := seedUser(t, database, "usr_1", "ada")

	first, err := repo.Create(ctx, "two-sum", ada, "first")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := repo.Create(ctx, "two-sum", ada, "second"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := repo.Create(ctx, "other-problem", ada, "elsewhere"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	history, err := repo.ListHistory(ctx, "two-sum", 50)
	if err != nil {
		t.Fatalf("ListHistory failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(history))
	}
	if history[0].ID != first.ID {
		t.Fatalf("expected chronological order, got %s first", history[0].ID)
	}
	if history[0].AuthorName != "ada" {
		t.Fatalf("expected author join, got %q", history[0].AuthorName)
	}
	if history[0].Replies == nil || history[0].Upvotes == nil {
		t.Fatal("expected non-nil reply and upvote slices")
	}
}

func TestListHistoryLimitKeepsNewest(t *testing.T) {
	database := openTestDB(t)
	repo := NewMessageRepository(database)
	ctx := context.Background()
	ada := seedUser(t, database, "usr_1", "ada")

	var last *models.Message
	for i := 0; i < 5; i++ {
		m, err := repo.Create(ctx, "two-sum", ada, "message")
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		last = m
	}

	history, err := repo.ListHistory(ctx, "two-sum", 2)
	if err != nil {
		t.Fatalf("ListHistory failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(history))
	}
	if history[1].ID != last.ID {
		t.Fatalf("expected newest message last, got %s", history[1].ID)
	}
}

func TestListHistoryBeforeCursor(t *testing.T) {
	database := openTestDB(t)
	repo := NewMessageRepository(database)
	ctx := context.Background()
	ada := seedUser(t, database, "usr_1", "ada")

	var ids []string
	for i := 0; i < 4; i++ {
		m, err := repo.Create(ctx, "two-sum", ada, "message")
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		ids = append(ids, m.ID)
	}

	page, err := repo.ListHistoryBefore(ctx, "two-sum", ids[2], 10)
	if err != nil {
		t.Fatalf("ListHistoryBefore failed: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected 2 older messages, got %d", len(page))
	}
	if page[0].ID != ids[0] || page[1].ID != ids[1] {
		t.Fatalf("expected [%s %s], got [%s %s]", ids[0], ids[1], page[0].ID, page[1].ID)
	}

	empty, err := repo.ListHistoryBefore(ctx, "two-sum", "msg_000000000000000000000000", 10)
	if err != nil {
		t.Fatalf("ListHistoryBefore failed: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected empty page for unknown cursor, got %d", len(empty))
	}
}

func TestRepliesAttachInOrder(t *testing.T) {
	database := openTestDB(t)
	repo := NewMessageRepository(database)
	ctx := context.Background()
	ada := seedUser(t, database, "usr_1", "ada")
	bob := seedUser(t, database, "usr_2", "bob")

	parent, err := repo.Create(ctx, "two-sum", ada, "parent")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	firstReply, err := repo.CreateReply(ctx, parent.ID, bob, "first reply", "ada")
	if err != nil {
		t.Fatalf("CreateReply failed: %v", err)
	}
	if _, err := repo.CreateReply(ctx, parent.ID, ada, "second reply", ""); err != nil {
		t.Fatalf("CreateReply failed: %v", err)
	}

	history, err := repo.ListHistory(ctx, "two-sum", 50)
	if err != nil {
		t.Fatalf("ListHistory failed: %v", err)
	}
	replies := history[0].Replies
	if len(replies) != 2 {
		t.Fatalf("expected 2 replies, got %d", len(replies))
	}
	if replies[0].ID != firstReply.ID {
		t.Fatalf("expected replies in creation order, got %s first", replies[0].ID)
	}
	if replies[0].ReplyingTo != "ada" || replies[0].AuthorName != "bob" {
		t.Fatalf("unexpected reply row: %+v", replies[0])
	}
}

func TestFindProblemID(t *testing.T) {
	database := openTestDB(t)
	repo := NewMessageRepository(database)
	ctx := context.Background()
	ada := seedUser(t, database, "usr_1", "ada")

	m, err := repo.Create(ctx, "two-sum", ada, "hello")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	problemID, err := repo.FindProblemID(ctx, m.ID)
	if err != nil {
		t.Fatalf("FindProblemID failed: %v", err)
	}
	if problemID != "two-sum" {
		t.Fatalf("expected two-sum, got %q", problemID)
	}

	if _, err := repo.FindProblemID(ctx, "msg_missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestToggleUpvoteFlipsMembership(t *testing.T) {
	database := openTestDB(t)
	repo := NewMessageRepository(database)
	ctx := context.Background()
	ada := seedUser(t, database, "usr_1", "ada")
	seedUser(t, database, "usr_2", "bob")

	m, err := repo.Create(ctx, "two-sum", ada, "hello")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	upvoted, err := repo.ToggleUpvote(ctx, m.ID, "usr_2")
	if err != nil {
		t.Fatalf("ToggleUpvote failed: %v", err)
	}
	if !upvoted {
		t.Fatal("expected first toggle to add the upvote")
	}

	upvoted, err = repo.ToggleUpvote(ctx, m.ID, "usr_2")
	if err != nil {
		t.Fatalf("ToggleUpvote failed: %v", err)
	}
	if upvoted {
		t.Fatal("expected second toggle to remove the upvote")
	}

	history, err := repo.ListHistory(ctx, "two-sum", 50)
	if err != nil {
		t.Fatalf("ListHistory failed: %v", err)
	}
	if got := history[0].Upvotes; len(got) != 0 {
		t.Fatalf("expected empty upvote set after double toggle, got %v", got)
	}
}

func TestToggleUpvotePreservesOtherUsers(t *testing.T) {
	database := openTestDB(t)
	repo := NewMessageRepository(database)
	ctx := context.Background()
	ada := seedUser(t, database, "usr_1", "ada")
	seedUser(t, database, "usr_2", "bob")

	m, err := repo.Create(ctx, "two-sum", ada, "hello")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := repo.ToggleUpvote(ctx, m.ID, "usr_1"); err != nil {
		t.Fatalf("ToggleUpvote failed: %v", err)
	}
	if _, err := repo.ToggleUpvote(ctx, m.ID, "usr_2"); err != nil {
		t.Fatalf("ToggleUpvote failed: %v", err)
	}
	if _, err := repo.ToggleUpvote(ctx, m.ID, "usr_1"); err != nil {
		t.Fatalf("ToggleUpvote failed: %v", err)
	}

	history, err := repo.ListHistory(ctx, "two-sum", 50)
	if err != nil {
		t.Fatalf("ListHistory failed: %v", err)
	}
	got := history[0].Upvotes
	if len(got) != 1 || got[0] != "usr_2" {
		t.Fatalf("expected [usr_2], got %v", got)
	}
}

func TestToggleUpvoteUnknownMessage(t *testing.T) {
	database := openTestDB(t)
	repo := NewMessageRepository(database)

	if _, err := repo.ToggleUpvote(context.Background(), "msg_missing", "usr_1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUserUpsertRefreshesIdentity(t *testing.T) {
	database := openTestDB(t)
	repo := NewUserRepository(database)
	ctx := context.Background()

	seedUser(t, database, "usr_1", "ada")

	avatar := "https://cdn.example.com/ada.png"
	if err := repo.Upsert(ctx, &models.User{ID: "usr_1", Username: "ada_l", AvatarURL: &avatar}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	user, err := repo.FindByID(ctx, "usr_1")
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if user.Username != "ada_l" || user.GetAvatarURL() != avatar {
		t.Fatalf("expected refreshed identity, got %+v", user)
	}
}
