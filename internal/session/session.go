// Package session maps anonymous chat clients to conversation sessions.
//
// A session starts PENDING and lives only in memory until its first message, when it is
// promoted to ACTIVE and written to the tenant's session repository. DELETED is terminal.
// Each (tenant, ip) pair has exactly one current session.
package session

import (
	"encoding/json"
	"time"

	"github.com/hyperjump/neurobot/internal/storage"
	"github.com/hyperjump/neurobot/pkg/utils"
)

// State is the lifecycle state of a session.
type State int

const (
	StatePending State = iota
	StateActive
	StateDeleted
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateActive:
		return "active"
	case StateDeleted:
		return "deleted"
	}
	return "unknown"
}

// MarshalJSON writes the state name.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Binding names the knowledge base a session is bound to.
type Binding struct {
	KBID   string
	KBName string
}

// Session is one conversation of one client.
type Session struct {
	ID              string            `json:"session_id"`
	IPAddress       string            `json:"ip_address"`
	KBID            string            `json:"kb_id"`
	KBName          string            `json:"kb_name"`
	CreatedAt       time.Time         `json:"created_at"`
	LastUpdated     time.Time         `json:"last_updated"`
	Messages        []storage.Message `json:"messages"`
	Unread          bool              `json:"unread"`
	PotentialClient *bool             `json:"potential_client"`
	State           State             `json:"state"`
}

func fromRecord(rec *storage.Record) *Session {
	return &Session{
		ID:              rec.SessionID,
		IPAddress:       rec.Metadata.IPAddress,
		KBID:            rec.Metadata.KBID,
		KBName:          rec.Metadata.KBName,
		CreatedAt:       rec.CreatedAt.Time,
		LastUpdated:     rec.Metadata.LastUpdated.Time,
		Messages:        rec.Messages,
		Unread:          rec.Metadata.Unread,
		PotentialClient: rec.Metadata.PotentialClient,
		State:           StateActive,
	}
}

func (s *Session) clone() *Session {
	c := *s
	c.Messages = append([]storage.Message(nil), s.Messages...)
	return &c
}

// History returns the last n messages.
func (s *Session) History(n int) []storage.Message {
	if n <= 0 || len(s.Messages) <= n {
		return s.Messages
	}
	return s.Messages[len(s.Messages)-n:]
}

// Summary is a session listing row.
type Summary struct {
	SessionID       string    `json:"session_id"`
	CreatedAt       time.Time `json:"created_at"`
	TotalMessages   int       `json:"total_messages"`
	LastUpdated     time.Time `json:"last_updated"`
	FirstMessage    string    `json:"first_message"`
	Unread          bool      `json:"unread"`
	PotentialClient *bool     `json:"potential_client"`
	IPAddress       string    `json:"ip_address,omitempty"`
	KBID            string    `json:"kb_id,omitempty"`
	KBName          string    `json:"kb_name,omitempty"`
}

// previewLen is the length of the first-message preview in listings.
const previewLen = 100

func summarize(rec *storage.Record) Summary {
	return Summary{
		SessionID:       rec.SessionID,
		CreatedAt:       rec.CreatedAt.Time,
		TotalMessages:   len(rec.Messages),
		LastUpdated:     rec.Metadata.LastUpdated.Time,
		FirstMessage:    utils.Truncate(rec.Messages[0].Content, previewLen),
		Unread:          rec.Metadata.Unread,
		PotentialClient: rec.Metadata.PotentialClient,
		IPAddress:       rec.Metadata.IPAddress,
		KBID:            rec.Metadata.KBID,
		KBName:          rec.Metadata.KBName,
	}
}
