package revocation

import (
	"context"
	"slices"
	"sync"

	"github.com/opencontainers/go-digest"
	"github.com/rs/zerolog"
	"github.com/yuxki/dytrust/pkg/certs"
)

type offlineEntry struct {
	typ     Type
	raw     []byte
	origins Origins
}

// Offline is a Source over revocation data extracted from documents. Entries
// are keyed by content digest: adding the same data again only extends its
// origins. Entries are never removed.
type Offline struct {
	mu      sync.RWMutex
	entries map[digest.Digest]*offlineEntry
	order   []digest.Digest
	logger  zerolog.Logger
}

// OfflineOption is an implementation of the functional options pattern.
type OfflineOption = func(*Offline)

// NewOffline creates and returns a new empty Offline source.
func NewOffline(options ...OfflineOption) *Offline {
	o := &Offline{
		entries: make(map[digest.Digest]*offlineEntry),
		logger:  zerolog.Nop(),
	}

	for _, opt := range options {
		opt(o)
	}

	return o
}

func WithOfflineLogger(logger zerolog.Logger) func(*Offline) {
	return func(o *Offline) {
		o.logger = logger
	}
}

// Add stores encoded revocation data found at origin. It reports whether the
// data was not known yet.
func (o *Offline) Add(typ Type, raw []byte, origin Origin) bool {
	d := digest.FromBytes(raw)

	o.mu.Lock()
	defer o.mu.Unlock()

	if e, ok := o.entries[d]; ok {
		e.origins = e.origins.With(origin)
		return false
	}

	o.entries[d] = &offlineEntry{
		typ:     typ,
		raw:     slices.Clone(raw),
		origins: Origins(0).With(origin),
	}
	o.order = append(o.order, d)
	return true
}

// Len returns the number of distinct entries.
func (o *Offline) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.order)
}

// Origins returns the origins of the entry with digest d.
func (o *Offline) Origins(d digest.Digest) (Origins, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	e, ok := o.entries[d]
	if !ok {
		return 0, false
	}
	return e.origins, true
}

// Tokens decodes every entry that applies to cert. Entries that do not
// decode for cert are skipped.
func (o *Offline) Tokens(cert, issuer *certs.Certificate) []*Token {
	o.mu.RLock()
	entries := make([]offlineEntry, 0, len(o.order))
	for _, d := range o.order {
		entries = append(entries, *o.entries[d])
	}
	o.mu.RUnlock()

	var tokens []*Token
	for _, e := range entries {
		tok, err := Decode(e.typ, e.raw, cert, issuer)
		if err != nil {
			o.logger.Debug().Err(err).Str("certificate", cert.String()).Msg("Skipped offline revocation data.")
			continue
		}
		tok.Origins = e.origins
		tokens = append(tokens, tok)
	}
	return tokens
}

// Revocation returns the most recent token that applies to cert.
func (o *Offline) Revocation(_ context.Context, cert, issuer *certs.Certificate) (*Token, error) {
	return latest(o.Tokens(cert, issuer)), nil
}

func latest(tokens []*Token) *Token {
	var out *Token
	for _, tok := range tokens {
		if out == nil || tok.ThisUpdate.After(out.ThisUpdate) {
			out = tok
		}
	}
	return out
}
