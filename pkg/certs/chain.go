package certs

import (
	"iter"
	"slices"
)

// ChainBuildError explains why the issuers could not be ordered into a chain.
type ChainBuildError struct {
	reason string
}

func (e ChainBuildError) Error() string {
	return "failed to build certificate chain: " + e.reason
}

// Chain is an ordered certification path. Index 0 is the target certificate
// and each following certificate is the issuer of the previous one.
type Chain struct {
	certs []*Certificate
}

// NewChain wraps certificates already ordered from target to root.
func NewChain(certs ...*Certificate) (*Chain, error) {
	if len(certs) == 0 {
		return nil, ChainBuildError{"no target certificate"}
	}
	for i := 0; i+1 < len(certs); i++ {
		if !certs[i].IssuedBy(certs[i+1]) {
			return nil, ChainBuildError{
				"certificate " + certs[i].String() + " is not issued by " + certs[i+1].String(),
			}
		}
	}
	return &Chain{certs: slices.Clone(certs)}, nil
}

// Build orders issuers into a linear chain above leaf by matching each
// certificate's issuer name with a subject name. Every issuer must be used
// exactly once and no certificate may have two candidate issuers.
func Build(leaf *Certificate, issuers []*Certificate) (*Chain, error) {
	if leaf == nil {
		return nil, ChainBuildError{"no target certificate"}
	}

	seen := map[string]struct{}{leaf.Digest().String(): {}}
	remaining := make([]*Certificate, 0, len(issuers))
	for _, c := range issuers {
		if c == nil {
			continue
		}
		if _, ok := seen[c.Digest().String()]; ok {
			continue
		}
		seen[c.Digest().String()] = struct{}{}
		remaining = append(remaining, c)
	}

	certs := []*Certificate{leaf}
	current := leaf
	for len(remaining) > 0 && !current.IsSelfSigned() {
		idx := -1
		for i, c := range remaining {
			if !current.IssuedBy(c) {
				continue
			}
			if idx >= 0 {
				return nil, ChainBuildError{"ambiguous issuer for " + current.String()}
			}
			idx = i
		}
		if idx < 0 {
			break
		}

		current = remaining[idx]
		certs = append(certs, current)
		remaining = slices.Delete(remaining, idx, idx+1)
	}

	if len(remaining) > 0 {
		return nil, ChainBuildError{"issuer " + remaining[0].String() + " is not part of the path"}
	}

	return &Chain{certs: certs}, nil
}

// Len returns the number of certificates in the chain.
func (c *Chain) Len() int { return len(c.certs) }

// At returns the certificate at index i.
func (c *Chain) At(i int) *Certificate { return c.certs[i] }

// Leaf returns the target certificate.
func (c *Chain) Leaf() *Certificate { return c.certs[0] }

// Issuer returns the issuer of the certificate at index i, or nil at the top
// of the chain.
func (c *Chain) Issuer(i int) *Certificate {
	if i+1 >= len(c.certs) {
		return nil
	}
	return c.certs[i+1]
}

// Forward iterates from the target certificate up to the root.
func (c *Chain) Forward() iter.Seq2[int, *Certificate] {
	return func(yield func(int, *Certificate) bool) {
		for i, cert := range c.certs {
			if !yield(i, cert) {
				return
			}
		}
	}
}

// Reverse iterates from the root down to the target certificate.
func (c *Chain) Reverse() iter.Seq2[int, *Certificate] {
	return func(yield func(int, *Certificate) bool) {
		for i := len(c.certs) - 1; i >= 0; i-- {
			if !yield(i, c.certs[i]) {
				return
			}
		}
	}
}

// Truncate returns the chain made of the first n certificates.
func (c *Chain) Truncate(n int) *Chain {
	if n >= len(c.certs) {
		return c
	}
	if n < 1 {
		n = 1
	}
	return &Chain{certs: c.certs[:n:n]}
}
