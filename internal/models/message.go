package models

import "time"

// Message is a confirmed discussion entry scoped to one problem.
// Upvotes holds the IDs of users who currently upvote the message;
// a user appears at most once.
type Message struct {
	ID              string    `json:"id"`
	ProblemID       string    `json:"problemId"`
	AuthorID        string    `json:"authorId"`
	AuthorName      string    `json:"authorName"`
	AuthorAvatarURL *string   `json:"authorAvatarUrl,omitempty"`
	Content         string    `json:"content"`
	CreatedAt       time.Time `json:"createdAt"`
	Replies         []Reply   `json:"replies"`
	Upvotes         []string  `json:"upvotes"`
}

// Reply is appended to its owning message in insertion order and is
// never reordered or deleted.
type Reply struct {
	ID              string    `json:"id"`
	MessageID       string    `json:"messageId"`
	AuthorID        string    `json:"authorId"`
	AuthorName      string    `json:"authorName"`
	AuthorAvatarURL *string   `json:"authorAvatarUrl,omitempty"`
	Content         string    `json:"content"`
	ReplyingTo      string    `json:"replyingTo,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}
