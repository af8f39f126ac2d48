package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"discussd/internal/models"
)

type UserRepository struct {
	db *DB
}

func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

// Upsert caches the identity carried by the platform session token so that
// history queries can join author display data. The platform owns accounts;
// this table is a local mirror keyed by the platform user id.
func (r *UserRepository) Upsert(ctx context.Context, user *models.User) error {
	var avatar any
	if user.AvatarURL != nil {
		avatar = *user.AvatarURL
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, username, avatar_url, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET username = excluded.username, avatar_url = excluded.avatar_url`,
		user.ID, user.Username, avatar, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upserting user: %w", err)
	}
	return nil
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	var avatar sql.NullString

	err := r.db.QueryRowContext(ctx,
		`SELECT id, username, avatar_url, created_at FROM users WHERE id = ?`,
		id,
	).Scan(&u.ID, &u.Username, &avatar, &u.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	u.AvatarURL = nullStringToPtr(avatar)
	return &u, nil
}
