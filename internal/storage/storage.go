// Package storage persists chat sessions per tenant data root.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Message is one chat turn.
type Message struct {
	ID        string `json:"id"`
	Role      string `json:"role"` // user or assistant
	Content   string `json:"content"`
	Timestamp Time   `json:"timestamp"`
}

// Metadata is the mutable bookkeeping of a session.
type Metadata struct {
	TotalMessages   int    `json:"total_messages"`
	LastUpdated     Time   `json:"last_updated"`
	Unread          bool   `json:"unread"`
	PotentialClient *bool  `json:"potential_client"`
	IPAddress       string `json:"ip_address,omitempty"`
	KBID            string `json:"kb_id,omitempty"`
	KBName          string `json:"kb_name,omitempty"`
}

// Record is a durable session.
type Record struct {
	SessionID string    `json:"session_id"`
	CreatedAt Time      `json:"created_at"`
	Messages  []Message `json:"messages"`
	Metadata  Metadata  `json:"metadata"`
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	c := *r
	c.Messages = append([]Message(nil), r.Messages...)
	if r.Metadata.PotentialClient != nil {
		v := *r.Metadata.PotentialClient
		c.Metadata.PotentialClient = &v
	}
	return &c
}

// Stats summarizes one tenant's session store.
type Stats struct {
	TotalSessions  int   `json:"total_sessions"`
	TotalMessages  int   `json:"total_messages"`
	StorageCreated Time  `json:"storage_created"`
	LastUpdated    Time  `json:"last_updated"`
	SizeBytes      int64 `json:"size_bytes"`
}

// SessionRepository is durable session storage. Every call is scoped to a tenant data root.
// Missing sessions are reported as kb.ErrNotFound.
type SessionRepository interface {
	// Create stores a new session; it fails with kb.ErrConflict if the id exists.
	Create(ctx context.Context, root string, rec *Record) error
	// Append adds messages, sets last_updated to the timestamp of the last message,
	// updates total_messages, sets unread and resets potential_client to unknown.
	Append(ctx context.Context, root, id string, msgs ...Message) (*Record, error)
	Get(ctx context.Context, root, id string) (*Record, error)
	List(ctx context.Context, root string) ([]*Record, error)
	// UpdateMetadata applies fn to the session metadata and sets last_updated to at,
	// or to Now when at is zero.
	UpdateMetadata(ctx context.Context, root, id string, at Time, fn func(*Metadata)) (*Record, error)
	Delete(ctx context.Context, root, id string) error
	Clear(ctx context.Context, root string) error
	Stats(ctx context.Context, root string) (Stats, error)
	Close() error
}

// Time is a timestamp that also accepts the zone-less ISO layout of older dialogue files.
type Time struct {
	time.Time
}

// Now returns the current time as a Time, truncated to microseconds like the stored layout.
func Now() Time {
	return Time{time.Now().UTC().Truncate(time.Microsecond)}
}

func orNow(t Time) Time {
	if t.IsZero() {
		return Now()
	}
	return t
}

// touched returns the last_updated stamp for msgs: the newest message timestamp, or Now.
func touched(msgs []Message) Time {
	if n := len(msgs); n > 0 {
		return orNow(msgs[n-1].Timestamp)
	}
	return Now()
}

var legacyLayouts = []string{
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

// MarshalJSON writes RFC 3339 with fractional seconds.
func (t Time) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}

// UnmarshalJSON accepts RFC 3339 and zone-less ISO timestamps (read as UTC).
func (t *Time) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	if v, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t.Time = v
		return nil
	}
	for _, layout := range legacyLayouts {
		if v, err := time.Parse(layout, s); err == nil {
			t.Time = v
			return nil
		}
	}
	return fmt.Errorf("invalid timestamp %q", s)
}
