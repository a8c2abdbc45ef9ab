package revocation

import (
	"time"

	"github.com/yuxki/dytrust/pkg/certs"
)

// Freshness decides whether a token may still be used. Zero delays are
// unset.
type Freshness struct {
	// DefaultNextUpdateDelay synthesizes nextUpdate from thisUpdate when a
	// token has none.
	DefaultNextUpdateDelay time.Duration
	// MaxNextUpdateDelay caps nextUpdate to thisUpdate plus the delay.
	MaxNextUpdateDelay time.Duration
}

// NextUpdate returns the effective next update of tok, or the zero time when
// it has none.
func (f Freshness) NextUpdate(tok *Token) time.Time {
	next := tok.NextUpdate
	if tok.ThisUpdate.IsZero() {
		return next
	}

	if next.IsZero() && f.DefaultNextUpdateDelay > 0 {
		next = tok.ThisUpdate.Add(f.DefaultNextUpdateDelay)
	}
	if !next.IsZero() && f.MaxNextUpdateDelay > 0 {
		if limit := tok.ThisUpdate.Add(f.MaxNextUpdateDelay); limit.Before(next) {
			next = limit
		}
	}
	return next
}

// IsFresh reports whether tok is fresh at now. Without an effective next
// update, the validity of the issuer certificate at now decides.
func (f Freshness) IsFresh(tok *Token, issuer *certs.Certificate, now time.Time) bool {
	next := f.NextUpdate(tok)
	if next.IsZero() {
		if issuer == nil {
			return false
		}
		return issuer.Validity().Covers(now)
	}
	return next.After(now)
}
