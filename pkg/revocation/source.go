package revocation

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/yuxki/dytrust/pkg/certs"
	"github.com/yuxki/dytrust/pkg/date"
)

// Source provides revocation data for a certificate. A nil token with a nil
// error means the source has nothing to offer.
type Source interface {
	Revocation(ctx context.Context, cert, issuer *certs.Certificate) (*Token, error)
}

// Fetcher retrieves revocation data over the network.
type Fetcher interface {
	Fetch(ctx context.Context, cert, issuer *certs.Certificate) (*Token, error)
}

// Online is a Source backed by a network Fetcher. Tokens it returns are
// tagged OnlineFetch.
type Online struct {
	fetcher Fetcher
	logger  zerolog.Logger
}

// OnlineOption is an implementation of the functional options pattern.
type OnlineOption = func(*Online)

// NewOnline creates and returns a new Online source.
func NewOnline(fetcher Fetcher, options ...OnlineOption) *Online {
	o := &Online{fetcher: fetcher, logger: zerolog.Nop()}

	for _, opt := range options {
		opt(o)
	}

	return o
}

func WithOnlineLogger(logger zerolog.Logger) func(*Online) {
	return func(o *Online) {
		o.logger = logger
	}
}

func (o *Online) Revocation(ctx context.Context, cert, issuer *certs.Certificate) (*Token, error) {
	tok, err := o.fetcher.Fetch(ctx, cert, issuer)
	switch {
	case err != nil:
		onlineFetches.WithLabelValues("error").Inc()
		return nil, err
	case tok == nil:
		onlineFetches.WithLabelValues("empty").Inc()
		return nil, nil
	}

	onlineFetches.WithLabelValues("success").Inc()
	tok.Origins = tok.Origins.With(OnlineFetch)
	o.logger.Debug().
		Str("certificate", cert.String()).
		Str("type", tok.Type.String()).
		Str("url", tok.SourceURL).
		Msg("Fetched revocation data.")

	return tok, nil
}

// Composite tries its sources in order and returns the first token found.
// Errors from one source are logged and the next source is tried. With a
// freshness rule, a token that is not fresh is only returned when no later
// source has a token.
type Composite struct {
	sources   []Source
	freshness *Freshness
	now       date.Now
	logger    zerolog.Logger
}

// CompositeOption is an implementation of the functional options pattern.
type CompositeOption = func(*Composite)

// NewComposite creates and returns a new Composite.
func NewComposite(sources []Source, options ...CompositeOption) *Composite {
	c := &Composite{sources: sources, now: date.NowGMT, logger: zerolog.Nop()}

	for _, opt := range options {
		opt(c)
	}

	return c
}

func WithCompositeLogger(logger zerolog.Logger) func(*Composite) {
	return func(c *Composite) {
		c.logger = logger
	}
}

// WithCompositeFreshness makes the composite fall through tokens that are not
// fresh at now.
func WithCompositeFreshness(freshness Freshness, now date.Now) func(*Composite) {
	return func(c *Composite) {
		c.freshness = &freshness
		c.now = now
	}
}

func (c *Composite) Revocation(ctx context.Context, cert, issuer *certs.Certificate) (*Token, error) {
	var stale *Token

	for i, src := range c.sources {
		tok, err := src.Revocation(ctx, cert, issuer)
		if err != nil {
			c.logger.Warn().Err(err).
				Int("source", i).
				Str("certificate", cert.String()).
				Msg("Revocation source failed.")
			continue
		}
		if tok == nil {
			continue
		}
		if c.freshness == nil || c.freshness.IsFresh(tok, issuer, c.now()) {
			return tok, nil
		}

		c.logger.Debug().
			Int("source", i).
			Str("certificate", cert.String()).
			Time("this_update", tok.ThisUpdate).
			Msg("Revocation data is not fresh, trying the next source.")
		if stale == nil {
			stale = tok
		}
	}

	return stale, nil
}
