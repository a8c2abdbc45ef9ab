package revocation

import (
	"time"

	"github.com/opencontainers/go-digest"
)

// Ref is a digest-only reference to revocation data, as found in signed
// documents that reference material stored elsewhere.
type Ref struct {
	Digest digest.Digest
	// ResponderID and ProducedAt optionally identify an OCSP response.
	ResponderID string
	ProducedAt  time.Time
}

// RefOf returns the reference of tok.
func RefOf(tok *Token) Ref {
	ref := Ref{Digest: tok.Digest()}
	if tok.Type == OCSP {
		ref.ResponderID = tok.ResponderID
		ref.ProducedAt = tok.ProductionDate
	}
	return ref
}

// RefMatcher decides whether a reference designates a token.
type RefMatcher interface {
	Match(ref Ref, tok *Token) bool
}

// DigestMatcher matches references by digest algorithm and value. With
// CompareResponder set, OCSP references also match on the responder identity
// and production time they carry.
type DigestMatcher struct {
	CompareResponder bool
}

func (m DigestMatcher) Match(ref Ref, tok *Token) bool {
	if err := ref.Digest.Validate(); err != nil {
		return false
	}

	alg := ref.Digest.Algorithm()
	if !alg.Available() {
		return false
	}
	if alg.FromBytes(tok.Raw) != ref.Digest {
		return false
	}

	if !m.CompareResponder || tok.Type != OCSP {
		return true
	}
	if ref.ResponderID != "" && ref.ResponderID != tok.ResponderID {
		return false
	}
	if !ref.ProducedAt.IsZero() && !ref.ProducedAt.Equal(tok.ProductionDate) {
		return false
	}
	return true
}
