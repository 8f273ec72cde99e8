// Package fingerprint detects added, changed and removed knowledge entries by content hash.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/hyperjump/neurobot/internal/models"
	"github.com/hyperjump/neurobot/pkg/utils"
)

// Map is question text -> hex sha256 of the entry's canonical block.
type Map map[string]string

// Canonical returns the block whose hash identifies an entry's content.
func Canonical(question, answer string) string {
	return "Question:\n" + question + "\n" + answer
}

// Hash returns the hex sha256 of the canonical block.
func Hash(question, answer string) string {
	sum := sha256.Sum256([]byte(Canonical(question, answer)))
	return hex.EncodeToString(sum[:])
}

// Build hashes every entry. A later duplicate question wins.
func Build(entries []models.Entry) Map {
	m := make(Map, len(entries))
	for _, e := range entries {
		m[e.Question] = Hash(e.Question, e.Answer)
	}
	return m
}

// Changes is the result of diffing two maps by question text. Each slice is sorted.
type Changes struct {
	Added   []string
	Removed []string
	Changed []string
}

// Empty reports whether nothing changed.
func (c Changes) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 && len(c.Changed) == 0
}

// Stale returns removed ∪ changed: questions whose vectors must be deleted.
func (c Changes) Stale() []string {
	out := make([]string, 0, len(c.Removed)+len(c.Changed))
	out = append(out, c.Removed...)
	return append(out, c.Changed...)
}

// Fresh returns added ∪ changed: questions that must be embedded.
func (c Changes) Fresh() []string {
	out := make([]string, 0, len(c.Added)+len(c.Changed))
	out = append(out, c.Added...)
	return append(out, c.Changed...)
}

// Diff compares old against cur.
func Diff(old, cur Map) Changes {
	var c Changes
	for q, h := range cur {
		oh, ok := old[q]
		switch {
		case !ok:
			c.Added = append(c.Added, q)
		case oh != h:
			c.Changed = append(c.Changed, q)
		}
	}
	for q := range old {
		if _, ok := cur[q]; !ok {
			c.Removed = append(c.Removed, q)
		}
	}
	sort.Strings(c.Added)
	sort.Strings(c.Removed)
	sort.Strings(c.Changed)
	return c
}

// ErrCorrupt is returned by Load when the file exists but cannot be parsed.
var ErrCorrupt = errors.New("fingerprint file is corrupt")

// Load reads a persisted map. A missing file yields an empty map and no error.
func Load(path string) (Map, error) {
	m := make(Map)
	if err := utils.ReadJSON(path, &m); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Map{}, nil
		}
		return Map{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return m, nil
}

// Save writes m atomically.
func Save(path string, m Map) error {
	if m == nil {
		m = Map{}
	}
	if err := utils.WriteJSONAtomic(path, m); err != nil {
		return fmt.Errorf("failed to save fingerprint: %w", err)
	}
	return nil
}
