// Package models defines core data structures for knowledge entries, queries, and search results.
package models

import (
	"errors"
	"strings"
)

// Entry is one question/answer pair of a knowledge base. Entries carry no stored identity;
// the question text is the key.
type Entry struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

var (
	errEmptyQuestion = errors.New("question cannot be empty")
	errEmptyAnswer   = errors.New("answer cannot be empty")
)

// Normalize trims surrounding whitespace from both fields.
func (e Entry) Normalize() Entry {
	return Entry{Question: strings.TrimSpace(e.Question), Answer: strings.TrimSpace(e.Answer)}
}

// Validate rejects entries with an empty question or answer after trimming.
func (e Entry) Validate() error {
	n := e.Normalize()
	if n.Question == "" {
		return errEmptyQuestion
	}
	if n.Answer == "" {
		return errEmptyAnswer
	}
	return nil
}

// IndexedEntry is an entry together with its position in the entries file.
type IndexedEntry struct {
	Index int `json:"index"`
	Entry
}

// EntryPage is one page of a paginated entries listing.
type EntryPage struct {
	Entries    []IndexedEntry `json:"documents"`
	Total      int            `json:"total"`
	Page       int            `json:"page"`
	PerPage    int            `json:"per_page"`
	TotalPages int            `json:"total_pages"`
	Search     string         `json:"search,omitempty"`
}
