package domain

import (
	"github.com/google/uuid"
)

type UserID string

type SessionID string

type MessageID string

func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}

// SessionIDFromMessage derives a stable session id from a chat message id so
// both parties of a call logged in the chat agree on it without negotiation.
func SessionIDFromMessage(id MessageID) SessionID {
	if id == "" {
		return NewSessionID()
	}
	return SessionID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String())
}

func (id UserID) String() string {
	return string(id)
}

func (id SessionID) String() string {
	return string(id)
}

func (id MessageID) String() string {
	return string(id)
}
