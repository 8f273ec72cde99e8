// Package docstore maps vector ids back to the question text they were embedded from.
package docstore

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/hyperjump/neurobot/pkg/utils"
)

// ErrCorrupt is returned by Load when the file exists but is not a valid id -> question object.
var ErrCorrupt = errors.New("docstore file is corrupt")

// Docstore is an id -> question table. It is not safe for concurrent mutation;
// callers mutate a private Clone and publish it once committed.
type Docstore struct {
	entries map[int64]string
}

// New returns an empty docstore.
func New() *Docstore {
	return &Docstore{entries: make(map[int64]string)}
}

// Get returns the question stored for id.
func (d *Docstore) Get(id int64) (string, bool) {
	q, ok := d.entries[id]
	return q, ok
}

// Put stores question under id, replacing any previous value.
func (d *Docstore) Put(id int64, question string) {
	d.entries[id] = question
}

// Delete removes ids and returns how many were present.
func (d *Docstore) Delete(ids ...int64) int {
	n := 0
	for _, id := range ids {
		if _, ok := d.entries[id]; ok {
			delete(d.entries, id)
			n++
		}
	}
	return n
}

// Len returns the number of entries.
func (d *Docstore) Len() int {
	return len(d.entries)
}

// IDs returns all ids in ascending order.
func (d *Docstore) IDs() []int64 {
	ids := make([]int64, 0, len(d.entries))
	for id := range d.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Clone returns an independent copy.
func (d *Docstore) Clone() *Docstore {
	c := &Docstore{entries: make(map[int64]string, len(d.entries))}
	for id, q := range d.entries {
		c.entries[id] = q
	}
	return c
}

// Load reads a docstore file: a JSON object keyed by the decimal id.
// A missing file returns an error wrapping os.ErrNotExist.
func Load(path string) (*Docstore, error) {
	raw := make(map[string]string)
	if err := utils.ReadJSON(path, &raw); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	d := &Docstore{entries: make(map[int64]string, len(raw))}
	for k, q := range raw {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil || id < 0 {
			return nil, fmt.Errorf("%w: invalid id %q", ErrCorrupt, k)
		}
		d.entries[id] = q
	}
	return d, nil
}

// Save writes the docstore atomically.
func (d *Docstore) Save(path string) error {
	raw := make(map[string]string, len(d.entries))
	for id, q := range d.entries {
		raw[strconv.FormatInt(id, 10)] = q
	}
	if err := utils.WriteJSONAtomic(path, raw); err != nil {
		return fmt.Errorf("failed to save docstore: %w", err)
	}
	return nil
}
