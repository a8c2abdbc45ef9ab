package revocation

import (
	"context"
	"sync"

	"github.com/opencontainers/go-digest"
	"github.com/rs/zerolog"
	"github.com/yuxki/dytrust/pkg/certs"
)

// List queries all of its sources and keeps every token they return, so that
// references can be matched against everything discovered so far.
type List struct {
	sources []Source
	matcher RefMatcher
	logger  zerolog.Logger

	mu     sync.RWMutex
	tokens map[digest.Digest]*Token
	order  []digest.Digest
}

// ListOption is an implementation of the functional options pattern.
type ListOption = func(*List)

// NewList creates and returns a new List. References are matched with
// DigestMatcher unless WithRefMatcher is given.
func NewList(sources []Source, options ...ListOption) *List {
	l := &List{
		sources: sources,
		matcher: DigestMatcher{},
		logger:  zerolog.Nop(),
		tokens:  make(map[digest.Digest]*Token),
	}

	for _, opt := range options {
		opt(l)
	}

	return l
}

func WithListLogger(logger zerolog.Logger) func(*List) {
	return func(l *List) {
		l.logger = logger
	}
}

func WithRefMatcher(m RefMatcher) func(*List) {
	return func(l *List) {
		l.matcher = m
	}
}

// Add keeps tok. A token with known content only extends the origins of the
// kept one. It reports whether the content was not known yet.
func (l *List) Add(tok *Token) bool {
	d := tok.Digest()

	l.mu.Lock()
	defer l.mu.Unlock()

	if kept, ok := l.tokens[d]; ok {
		kept.Origins = kept.Origins.Union(tok.Origins)
		return false
	}
	l.tokens[d] = tok.Clone()
	l.order = append(l.order, d)
	return true
}

// Tokens returns the kept tokens in discovery order.
func (l *List) Tokens() []*Token {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*Token, 0, len(l.order))
	for _, d := range l.order {
		out = append(out, l.tokens[d].Clone())
	}
	return out
}

// IsOrphan reports whether no kept token matches ref.
func (l *List) IsOrphan(ref Ref) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, d := range l.order {
		if l.matcher.Match(ref, l.tokens[d]) {
			return false
		}
	}
	return true
}

// Revocation asks every source, keeps all tokens found and returns the most
// recent one. Errors from one source are logged and do not stop the others.
func (l *List) Revocation(ctx context.Context, cert, issuer *certs.Certificate) (*Token, error) {
	var found []*Token
	for i, src := range l.sources {
		tok, err := src.Revocation(ctx, cert, issuer)
		if err != nil {
			l.logger.Warn().Err(err).
				Int("source", i).
				Str("certificate", cert.String()).
				Msg("Revocation source failed.")
			continue
		}
		if tok == nil {
			continue
		}
		l.Add(tok)
		found = append(found, tok)
	}
	return latest(found), nil
}
