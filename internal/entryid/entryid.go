// Package entryid derives the deterministic vector id of a knowledge entry from its question text.
package entryid

import (
	"encoding/binary"

	"github.com/google/uuid"
)

const mask63 = 1<<63 - 1

// Make returns the stable 63-bit id for question. It is the low 64 bits of
// UUIDv5(NAMESPACE_URL, question) with the sign bit cleared, so the same
// question maps to the same id across processes and rebuilds.
func Make(question string) int64 {
	u := uuid.NewSHA1(uuid.NameSpaceURL, []byte(question))
	return int64(binary.BigEndian.Uint64(u[8:]) & mask63)
}

// MakeAll maps each question to its id, preserving order.
func MakeAll(questions []string) []int64 {
	ids := make([]int64, len(questions))
	for i, q := range questions {
		ids[i] = Make(q)
	}
	return ids
}
