package kb

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/hyperjump/neurobot/internal/tenant"
)

// Info is the kb_info.json metadata of a knowledge base.
type Info struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Password       string    `json:"password,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	DocumentCount  int       `json:"document_count"`
	AnalyzeClients bool      `json:"analyze_clients"`
}

// UnmarshalJSON defaults AnalyzeClients to true for files written before the toggle existed.
func (i *Info) UnmarshalJSON(b []byte) error {
	type alias Info
	a := alias{AnalyzeClients: true}
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*i = Info(a)
	return nil
}

// Public returns a copy without the password.
func (i Info) Public() Info {
	i.Password = ""
	return i
}

// Settings is the stored response style of a knowledge base.
type Settings struct {
	Tone             int    `json:"tone"`
	Humor            int    `json:"humor"`
	Brevity          int    `json:"brevity"`
	AdditionalPrompt string `json:"additional_prompt"`
}

// DefaultSettings returns the style used when none is stored.
func DefaultSettings() Settings {
	return Settings{Tone: tenant.DefaultLevel, Humor: tenant.DefaultLevel, Brevity: tenant.DefaultLevel}
}

// Clamp limits every level to the allowed range.
func (s Settings) Clamp() Settings {
	s.Tone = tenant.ClampLevel(s.Tone)
	s.Humor = tenant.ClampLevel(s.Humor)
	s.Brevity = tenant.ClampLevel(s.Brevity)
	return s
}

// UnmarshalJSON accepts the legacy string tones (formal, friendly, casual) and fills defaults.
func (s *Settings) UnmarshalJSON(b []byte) error {
	var raw struct {
		Tone             json.RawMessage `json:"tone"`
		Humor            *int            `json:"humor"`
		Brevity          *int            `json:"brevity"`
		AdditionalPrompt string          `json:"additional_prompt"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := DefaultSettings()
	if len(raw.Tone) > 0 {
		var n int
		var name string
		switch {
		case json.Unmarshal(raw.Tone, &n) == nil:
			out.Tone = n
		case json.Unmarshal(raw.Tone, &name) == nil:
			out.Tone = legacyTone(name)
		}
	}
	if raw.Humor != nil {
		out.Humor = *raw.Humor
	}
	if raw.Brevity != nil {
		out.Brevity = *raw.Brevity
	}
	out.AdditionalPrompt = raw.AdditionalPrompt
	*s = out.Clamp()
	return nil
}

func legacyTone(name string) int {
	switch strings.ToLower(name) {
	case "formal":
		return 0
	case "professional":
		return 1
	case "casual":
		return 4
	default:
		return tenant.DefaultLevel
	}
}

// SyncStats summarizes one synchronization of a knowledge base index.
type SyncStats struct {
	Added    int           `json:"added"`
	Removed  int           `json:"removed"`
	Changed  int           `json:"changed"`
	Orphans  int           `json:"orphans,omitempty"`
	Rebuilt  bool          `json:"rebuilt,omitempty"`
	NoOp     bool          `json:"no_op"`
	Vectors  int           `json:"vectors"`
	Duration time.Duration `json:"-"`
}

// Summary is one row of a knowledge base listing.
type Summary struct {
	Info
	IsCurrent bool `json:"is_current"`
}
