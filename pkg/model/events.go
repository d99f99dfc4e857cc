package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionEventType names a session lifecycle transition.
type SessionEventType string

const (
	SessionLoggedIn  SessionEventType = "session.logged_in"
	SessionLoggedOut SessionEventType = "session.logged_out"
	SessionExpired   SessionEventType = "session.expired"
)

// SessionEvent is published whenever the agent's session changes state.
type SessionEvent struct {
	ID        uuid.UUID        `json:"id"`
	Type      SessionEventType `json:"type"`
	StoreSlug string           `json:"store_slug,omitempty"`
	UserEmail string           `json:"user_email,omitempty"`
	Reason    string           `json:"reason,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// NewSessionEvent stamps a fresh event with an ID and UTC time.
func NewSessionEvent(t SessionEventType, slug, email string) SessionEvent {
	return SessionEvent{
		ID:        uuid.New(),
		Type:      t,
		StoreSlug: slug,
		UserEmail: email,
		Timestamp: time.Now().UTC(),
	}
}
