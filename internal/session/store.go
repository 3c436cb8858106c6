// Package session keeps per-conversation chat history.
//
// Sessions expire after a period of inactivity and retain a bounded number
// of messages, so memory use stays proportional to active conversations.
package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned for unknown or expired sessions.
	ErrNotFound = errors.New("session not found")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session store closed")
)

// Roles used in chat history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one chat turn.
type Message struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	Time    time.Time `json:"time,omitempty"`
}

// Store holds chat history keyed by session ID.
type Store interface {
	// Get returns a copy of the session's messages, oldest first.
	Get(ctx context.Context, id string) ([]Message, error)

	// Append adds messages, creating the session if needed.
	Append(ctx context.Context, id string, msgs ...Message) error

	// Evict removes the session. Evicting an unknown session is a no-op.
	Evict(ctx context.Context, id string) error

	Close() error
}
