package cache

import (
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/yuxki/dytrust/pkg/revocation"
)

// Entry is a revocation token held by the Store under its lookup key.
type Entry struct {
	key      string
	token    *revocation.Token
	digest   digest.Digest
	storedAt time.Time
}

// EntryNotCreatedError is used when an Entry cannot be created from a token.
type EntryNotCreatedError struct {
	reason string
}

func (e EntryNotCreatedError) Error() string {
	return "cache entry could not be created: " + e.reason
}

// CreateEntry verifies tok and creates a new Entry holding a copy of it.
func CreateEntry(key string, tok *revocation.Token, storedAt time.Time) (Entry, error) {
	var entry Entry

	if key == "" {
		return entry, EntryNotCreatedError{"key is empty."}
	}
	if tok == nil {
		return entry, EntryNotCreatedError{"token is nil."}
	}
	if err := tok.Validate(); err != nil {
		return entry, EntryNotCreatedError{err.Error()}
	}

	c := tok.Clone()
	// The issuer is resolved again by the caller of Find.
	c.Issuer = nil

	return Entry{
		key:      key,
		token:    c,
		digest:   c.Digest(),
		storedAt: storedAt,
	}, nil
}

// Key returns the lookup key of the entry.
func (e *Entry) Key() string {
	return e.key
}

// Token returns a copy of the stored token.
func (e *Entry) Token() *revocation.Token {
	return e.token.Clone()
}

// Digest returns the content digest of the stored token, which is also its
// row id.
func (e *Entry) Digest() digest.Digest {
	return e.digest
}

// StoredAt returns when the entry was inserted or last updated.
func (e *Entry) StoredAt() time.Time {
	return e.storedAt
}
