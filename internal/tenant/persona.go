package tenant

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

const (
	// MinLevel and MaxLevel bound tone, humor and brevity.
	MinLevel = 0
	MaxLevel = 4
	// DefaultLevel is used when neither the request nor the knowledge base sets a level.
	DefaultLevel = 2
)

// Persona holds optional style levels. A nil field means "not overridden".
type Persona struct {
	Tone    *int `json:"tone,omitempty"`
	Humor   *int `json:"humor,omitempty"`
	Brevity *int `json:"brevity,omitempty"`
}

// IsZero reports whether no level is set.
func (p Persona) IsZero() bool {
	return p.Tone == nil && p.Humor == nil && p.Brevity == nil
}

// ClampLevel limits v to [MinLevel, MaxLevel].
func ClampLevel(v int) int {
	if v < MinLevel {
		return MinLevel
	}
	if v > MaxLevel {
		return MaxLevel
	}
	return v
}

// ParseLevel converts a loosely typed request value (JSON number, numeric string) to a
// clamped level. Values that are not numbers yield nil and are ignored.
func ParseLevel(v any) *int {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case int:
		f = float64(x)
	case json.Number:
		p, err := x.Float64()
		if err != nil {
			return nil
		}
		f = p
	case string:
		p, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil
		}
		f = p
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	// Clamp before converting; out-of-range floats do not survive the int conversion.
	l := int(math.Round(math.Max(MinLevel, math.Min(MaxLevel, f))))
	return &l
}

// ParsePersona builds a Persona from raw request values.
func ParsePersona(tone, humor, brevity any) Persona {
	return Persona{Tone: ParseLevel(tone), Humor: ParseLevel(humor), Brevity: ParseLevel(brevity)}
}

// Resolve returns the effective levels: the override when set, else the stored value, clamped.
func (p Persona) Resolve(tone, humor, brevity int) (int, int, int) {
	pick := func(o *int, stored int) int {
		if o != nil {
			return ClampLevel(*o)
		}
		return ClampLevel(stored)
	}
	return pick(p.Tone, tone), pick(p.Humor, humor), pick(p.Brevity, brevity)
}
