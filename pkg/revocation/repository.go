package revocation

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/yuxki/dytrust/pkg/certs"
	"github.com/yuxki/dytrust/pkg/date"
	"resenje.org/singleflight"
)

var (
	// ErrNotFound is returned by a Repository for unknown keys.
	ErrNotFound = errors.New("revocation token not found")
	// ErrKeyExists is returned by Repository.Insert for known keys.
	ErrKeyExists = errors.New("lookup key already exists")
)

// Repository is a persistent cache of tokens keyed by lookup key.
// Implementations return copies: callers may modify what Find returns.
type Repository interface {
	Find(ctx context.Context, key string) (*Token, error)
	Insert(ctx context.Context, key string, tok *Token) error
	Update(ctx context.Context, key string, tok *Token) error
	Remove(ctx context.Context, key string) error
}

// RepositorySource caches the tokens of a wrapped source in a Repository.
// Cached tokens are used while fresh; stale ones are removed unless
// WithRemoveExpired(false) is given.
type RepositorySource struct {
	online        Source
	repo          Repository
	freshness     Freshness
	removeExpired bool
	keys          KeyFunc
	now           date.Now
	logger        zerolog.Logger

	flight singleflight.Group[string, *Token]

	mu    sync.Mutex
	index map[string]string
}

// RepositorySourceOption is an implementation of the functional options
// pattern.
type RepositorySourceOption = func(*RepositorySource)

// NewRepositorySource creates and returns a new RepositorySource.
func NewRepositorySource(online Source, repo Repository, options ...RepositorySourceOption) *RepositorySource {
	r := &RepositorySource{
		online:        online,
		repo:          repo,
		removeExpired: true,
		keys:          LookupKeys,
		now:           date.NowGMT,
		logger:        zerolog.Nop(),
		index:         make(map[string]string),
	}

	for _, opt := range options {
		opt(r)
	}

	return r
}

func WithRepositoryLogger(logger zerolog.Logger) func(*RepositorySource) {
	return func(r *RepositorySource) {
		r.logger = logger
	}
}

func WithNow(now date.Now) func(*RepositorySource) {
	return func(r *RepositorySource) {
		r.now = now
	}
}

func WithDefaultNextUpdateDelay(d time.Duration) func(*RepositorySource) {
	return func(r *RepositorySource) {
		r.freshness.DefaultNextUpdateDelay = d
	}
}

func WithMaxNextUpdateDelay(d time.Duration) func(*RepositorySource) {
	return func(r *RepositorySource) {
		r.freshness.MaxNextUpdateDelay = d
	}
}

func WithRemoveExpired(remove bool) func(*RepositorySource) {
	return func(r *RepositorySource) {
		r.removeExpired = remove
	}
}

func WithKeyFunc(keys KeyFunc) func(*RepositorySource) {
	return func(r *RepositorySource) {
		r.keys = keys
	}
}

// Freshness returns the freshness rules the source applies to cached tokens.
func (r *RepositorySource) Freshness() Freshness {
	return r.freshness
}

// IsFresh reports whether tok is fresh at now.
func (r *RepositorySource) IsFresh(tok *Token, issuer *certs.Certificate, now time.Time) bool {
	return r.freshness.IsFresh(tok, issuer, now)
}

// Revocation resolves cert without forcing a refresh.
func (r *RepositorySource) Revocation(ctx context.Context, cert, issuer *certs.Certificate) (*Token, error) {
	return r.Resolve(ctx, cert, issuer, false)
}

// Resolve returns a fresh cached token of cert, or fetches one from the
// wrapped source and caches it. forceRefresh skips the cache lookup.
func (r *RepositorySource) Resolve(
	ctx context.Context, cert, issuer *certs.Certificate, forceRefresh bool,
) (*Token, error) {
	keys := r.keys(cert, issuer)

	if !forceRefresh {
		if tok := r.lookup(ctx, keys, issuer); tok != nil {
			return tok, nil
		}
	}

	flightKey := cert.Digest().String()
	if issuer != nil {
		flightKey += "/" + issuer.Digest().String()
	}

	tok, _, err := r.flight.Do(ctx, flightKey, func(ctx context.Context) (*Token, error) {
		return r.online.Revocation(ctx, cert, issuer)
	})
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return nil, nil
	}
	tok = tok.Clone()

	if err := tok.Validate(); err != nil {
		return nil, err
	}

	key, err := LookupKey(tok.Type, tok.SourceURL, cert, issuer)
	if err != nil {
		r.logger.Warn().Err(err).Str("certificate", cert.String()).Msg("Token could not be keyed.")
		return tok, nil
	}
	r.store(ctx, key, tok)

	return tok, nil
}

func (r *RepositorySource) lookup(ctx context.Context, keys []string, issuer *certs.Certificate) *Token {
	now := r.now()

	for _, key := range keys {
		tok, err := r.repo.Find(ctx, key)
		switch {
		case errors.Is(err, ErrNotFound):
			repositoryLookups.WithLabelValues("miss").Inc()
			r.forget(key)
			continue
		case err != nil:
			repositoryLookups.WithLabelValues("error").Inc()
			r.logger.Warn().Err(err).Str("key", key).Msg("Repository lookup failed.")
			continue
		}

		if tok.Issuer == nil {
			tok.Issuer = issuer
		}

		if r.freshness.IsFresh(tok, issuer, now) {
			repositoryLookups.WithLabelValues("hit").Inc()
			r.remember(key, tok)
			return tok
		}

		repositoryLookups.WithLabelValues("stale").Inc()
		if !r.removeExpired {
			r.logger.Warn().Str("key", key).Time("this_update", tok.ThisUpdate).Msg("Cached token is stale.")
			continue
		}
		if err := r.repo.Remove(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
			r.logger.Warn().Err(err).Str("key", key).Msg("Stale token could not be removed.")
			continue
		}
		repositoryWrites.WithLabelValues("remove").Inc()
		r.forget(key)
	}

	return nil
}

// store inserts tok under key, or updates the row when the key is known.
// The index only guides the first write: a row removed behind its back is
// inserted again, and a key that is not in the repository after the write
// is forgotten.
func (r *RepositorySource) store(ctx context.Context, key string, tok *Token) {
	r.mu.Lock()
	defer r.mu.Unlock()

	insert := func() error { return r.repo.Insert(ctx, key, tok) }
	update := func() error { return r.repo.Update(ctx, key, tok) }
	write, retry := insert, update
	writeLabel, retryLabel := "insert", "update"
	if _, known := r.index[key]; known {
		write, retry = update, insert
		writeLabel, retryLabel = "update", "insert"
	}

	err := write()
	if errors.Is(err, ErrKeyExists) || errors.Is(err, ErrNotFound) {
		err, writeLabel = retry(), retryLabel
	}
	if err != nil {
		r.logger.Warn().Err(err).Str("key", key).Str("write", writeLabel).Msg("Token could not be stored.")
		delete(r.index, key)
		return
	}

	repositoryWrites.WithLabelValues(writeLabel).Inc()
	r.index[key] = tok.Digest().String()
}

func (r *RepositorySource) remember(key string, tok *Token) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.index[key] = tok.Digest().String()
}

func (r *RepositorySource) forget(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.index, key)
}

// KeyIndex returns the lookup keys known to be cached, mapped to the row id
// (content digest) of the token stored under each.
func (r *RepositorySource) KeyIndex() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]string, len(r.index))
	for k, v := range r.index {
		out[k] = v
	}
	return out
}

// KeysOf returns the known lookup keys under which the token with row id
// rowID is cached.
func (r *RepositorySource) KeysOf(rowID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var keys []string
	for k, v := range r.index {
		if strings.EqualFold(v, rowID) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}
