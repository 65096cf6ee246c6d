// Package hashing provides the content-addressed identity scheme used for
// books, chapters, chunks, prompts, and cache keys. Every persisted artifact
// is keyed by a SHA-256 over the inputs that should invalidate it.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SHA256Text returns the lowercase hex SHA-256 of the UTF-8 bytes of s.
func SHA256Text(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Composite joins parts with "::" and hashes the result. All composite
// identities in the system are formed this way so that key derivation stays
// stable across components.
func Composite(parts ...string) string {
	return SHA256Text(strings.Join(parts, "::"))
}

// Short returns the first 12 hex chars of a hash. Short forms are used for
// log correlation only, never as storage keys.
func Short(hash string) string {
	if len(hash) <= 12 {
		return hash
	}
	return hash[:12]
}

// BookHash identifies a book by its normalized text.
func BookHash(normalizedText string) string {
	return SHA256Text(normalizedText)
}

// ChapterHash identifies a chapter within a book.
func ChapterHash(bookHash, title, text string) string {
	return Composite(bookHash, title, text)
}

// ChunkHash identifies a chunk within a chapter. splitParams encodes the
// splitter configuration so re-chunking with different windows produces new
// identities.
func ChunkHash(chapterHash, splitParams, text string) string {
	return Composite(chapterHash, splitParams, text)
}
