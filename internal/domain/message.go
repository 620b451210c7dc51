// Package domain contains core domain types for the chat application.
package domain

import (
	"time"
)

// Role identifies who authored a message.
type Role string

const (
	// RoleUser marks a message typed by the person at the keyboard.
	RoleUser Role = "user"
	// RoleAssistant marks a message produced by the inference endpoint.
	RoleAssistant Role = "assistant"
)

// Message is a single immutable entry in a conversation.
type Message struct {
	ID      uint64    `json:"id"`
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	SentAt  time.Time `json:"sent_at"`
}

// IsUser returns true if the message was authored by the user.
func (m Message) IsUser() bool {
	return m.Role == RoleUser
}
