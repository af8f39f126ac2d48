package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"discussd/internal/constants"
	"discussd/internal/models"
)

type MessageRepository struct {
	db *DB
}

func NewMessageRepository(db *DB) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) Create(ctx context.Context, problemID string, author *models.User, content string) (*models.Message, error) {
	id, err := GenerateID("msg")
	if err != nil {
		return nil, fmt.Errorf("generating message ID: %w", err)
	}
	now := time.Now().UTC()

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO messages (id, problem_id, author_id, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, problemID, author.ID, content, now,
	)
	if err != nil {
		return nil, fmt.Errorf("creating message: %w", err)
	}

	return &models.Message{
		ID:              id,
		ProblemID:       problemID,
		AuthorID:        author.ID,
		AuthorName:      author.Username,
		AuthorAvatarURL: author.AvatarURL,
		Content:         content,
		CreatedAt:       now,
		Replies:         []models.Reply{},
		Upvotes:         []string{},
	}, nil
}

// FindProblemID resolves the room a message belongs to. Returns ErrNotFound
// when the message id does not exist.
func (r *MessageRepository) FindProblemID(ctx context.Context, messageID string) (string, error) {
	var problemID string
	err := r.db.QueryRowContext(ctx,
		`SELECT problem_id FROM messages WHERE id = ?`, messageID,
	).Scan(&problemID)

	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying message: %w", err)
	}
	return problemID, nil
}

// CreateReply appends a reply to an existing message. The caller is expected
// to have resolved the message via FindProblemID; a dangling message id still
// fails here on the foreign key.
func (r *MessageRepository) CreateReply(ctx context.Context, messageID string, author *models.User, content, replyingTo string) (*models.Reply, error) {
	id, err := GenerateID("rpl")
	if err != nil {
		return nil, fmt.Errorf("generating reply ID: %w", err)
	}
	now := time.Now().UTC()

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO replies (id, message_id, author_id, content, replying_to, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, messageID, author.ID, content, replyingTo, now,
	)
	if err != nil {
		return nil, fmt.Errorf("creating reply: %w", err)
	}

	return &models.Reply{
		ID:              id,
		MessageID:       messageID,
		AuthorID:        author.ID,
		AuthorName:      author.Username,
		AuthorAvatarURL: author.AvatarURL,
		Content:         content,
		ReplyingTo:      replyingTo,
		CreatedAt:       now,
	}, nil
}

// ToggleUpvote flips userID's membership in the message's upvote set and
// returns the resulting state: true when the upvote is now present.
func (r *MessageRepository) ToggleUpvote(ctx context.Context, messageID, userID string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM messages WHERE id = ?`, messageID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("querying message: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM upvotes WHERE message_id = ? AND user_id = ?`, messageID, userID,
	)
	if err != nil {
		return false, fmt.Errorf("removing upvote: %w", err)
	}

	removed, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}

	upvoted := removed == 0
	if upvoted {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO upvotes (message_id, user_id, created_at) VALUES (?, ?, ?)`,
			messageID, userID, time.Now().UTC(),
		)
		if err != nil {
			return false, fmt.Errorf("adding upvote: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing toggle: %w", err)
	}
	return upvoted, nil
}

// ListHistory returns the most recent messages of a problem room in
// chronological order, each with its replies and upvote user ids attached.
func (r *MessageRepository) ListHistory(ctx context.Context, problemID string, limit int) ([]*models.Message, error) {
	return r.listHistory(ctx, problemID, "", limit)
}

// ListHistoryBefore pages backwards: only messages older than beforeID are
// returned. An unknown beforeID yields an empty page.
func (r *MessageRepository) ListHistoryBefore(ctx context.Context, problemID, beforeID string, limit int) ([]*models.Message, error) {
	return r.listHistory(ctx, problemID, beforeID, limit)
}

func (r *MessageRepository) listHistory(ctx context.Context, problemID, beforeID string, limit int) ([]*models.Message, error) {
	if limit <= 0 || limit > constants.MessageHistoryMaxLimit {
		limit = constants.MessageHistoryMaxLimit
	}

	query := `SELECT m.id, m.problem_id, m.author_id, u.username, u.avatar_url, m.content, m.created_at
		 FROM messages m
		 JOIN users u ON m.author_id = u.id
		 WHERE m.problem_id = ?`
	args := []any{problemID}

	if beforeID != "" {
		query += ` AND m.rowid < (SELECT rowid FROM messages WHERE id = ?)`
		args = append(args, beforeID)
	}

	query += ` ORDER BY m.rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*models.Message, 0)
	for rows.Next() {
		var m models.Message
		var avatar sql.NullString

		err := rows.Scan(&m.ID, &m.ProblemID, &m.AuthorID, &m.AuthorName, &avatar, &m.Content, &m.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}

		m.AuthorAvatarURL = nullStringToPtr(avatar)
		m.Replies = []models.Reply{}
		m.Upvotes = []string{}
		messages = append(messages, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}

	lo.Reverse(messages)

	if err := r.attachReplies(ctx, messages); err != nil {
		return nil, err
	}
	if err := r.attachUpvotes(ctx, messages); err != nil {
		return nil, err
	}

	return messages, nil
}

func (r *MessageRepository) attachReplies(ctx context.Context, messages []*models.Message) error {
	if len(messages) == 0 {
		return nil
	}

	byID := lo.SliceToMap(messages, func(m *models.Message) (string, *models.Message) {
		return m.ID, m
	})
	query, args := inClauseArgs(
		`SELECT r.id, r.message_id, r.author_id, u.username, u.avatar_url, r.content, r.replying_to, r.created_at
		 FROM replies r
		 JOIN users u ON r.author_id = u.id
		 WHERE r.message_id IN (%s)
		 ORDER BY r.rowid ASC`,
		lo.Keys(byID),
	)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("querying replies: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var reply models.Reply
		var avatar sql.NullString

		err := rows.Scan(&reply.ID, &reply.MessageID, &reply.AuthorID, &reply.AuthorName, &avatar, &reply.Content, &reply.ReplyingTo, &reply.CreatedAt)
		if err != nil {
			return fmt.Errorf("scanning reply: %w", err)
		}

		reply.AuthorAvatarURL = nullStringToPtr(avatar)
		if m, ok := byID[reply.MessageID]; ok {
			m.Replies = append(m.Replies, reply)
		}
	}
	return rows.Err()
}

func (r *MessageRepository) attachUpvotes(ctx context.Context, messages []*models.Message) error {
	if len(messages) == 0 {
		return nil
	}

	byID := lo.SliceToMap(messages, func(m *models.Message) (string, *models.Message) {
		return m.ID, m
	})
	query, args := inClauseArgs(
		`SELECT message_id, user_id FROM upvotes WHERE message_id IN (%s) ORDER BY rowid ASC`,
		lo.Keys(byID),
	)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("querying upvotes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var messageID, userID string
		if err := rows.Scan(&messageID, &userID); err != nil {
			return fmt.Errorf("scanning upvote: %w", err)
		}
		if m, ok := byID[messageID]; ok {
			m.Upvotes = append(m.Upvotes, userID)
		}
	}
	return rows.Err()
}

func inClauseArgs(queryFmt string, ids []string) (string, []any) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := lo.Map(ids, func(id string, _ int) any { return id })
	return fmt.Sprintf(queryFmt, placeholders), args
}
