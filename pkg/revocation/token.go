package revocation

import (
	"errors"
	"math/big"
	"slices"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/yuxki/dytrust/pkg/certs"
	"golang.org/x/crypto/ocsp"
)

// Type is the kind of revocation data a token was decoded from.
type Type int

const (
	CRL Type = iota
	OCSP
)

func (t Type) String() string {
	switch t {
	case CRL:
		return "crl"
	case OCSP:
		return "ocsp"
	}
	return "unknown"
}

// Status is the revocation status a token asserts for one certificate.
type Status int

const (
	Good Status = iota
	Revoked
	Unknown
)

func (s Status) String() string {
	switch s {
	case Good:
		return "good"
	case Revoked:
		return "revoked"
	}
	return "unknown"
}

// Origin tags where a token was discovered.
type Origin uint8

const (
	EmbeddedInSignature Origin = 1 << iota
	DSSDictionary
	CMSSignedData
	OnlineFetch
	Archive
)

var originNames = []struct {
	origin Origin
	name   string
}{
	{EmbeddedInSignature, "embedded-in-signature"},
	{DSSDictionary, "dss-dictionary"},
	{CMSSignedData, "cms-signed-data"},
	{OnlineFetch, "online-fetch"},
	{Archive, "archive"},
}

// Origins is a set of Origin values.
type Origins uint8

// Has reports whether o contains origin.
func (o Origins) Has(origin Origin) bool {
	return o&Origins(origin) != 0
}

// With returns o with origin added.
func (o Origins) With(origin Origin) Origins {
	return o | Origins(origin)
}

// Union returns the origins found in either set.
func (o Origins) Union(other Origins) Origins {
	return o | other
}

// Names returns the names of the origins in o.
func (o Origins) Names() []string {
	var names []string
	for _, n := range originNames {
		if o.Has(n.origin) {
			names = append(names, n.name)
		}
	}
	return names
}

func (o Origins) String() string {
	return strings.Join(o.Names(), ",")
}

// ReasonAbsent is the Reason of a token without revocation reason.
const ReasonAbsent = ocsp.Unspecified - 1

// ErrInvalidToken is returned for tokens missing the data required to use
// them.
var ErrInvalidToken = errors.New("invalid revocation token")

// Token is the revocation status of one certificate as asserted by a CRL or
// an OCSP response. Zero times are absent values.
type Token struct {
	Type           Type
	Status         Status
	Serial         *big.Int
	ThisUpdate     time.Time
	NextUpdate     time.Time
	ProductionDate time.Time
	RevocationDate time.Time
	Reason         int
	// Issuer is the certificate that issued the revocation data, if known.
	Issuer      *certs.Certificate
	ResponderID string
	SourceURL   string
	Origins     Origins
	// Raw is the encoded CRL or OCSP response.
	Raw []byte
}

// Digest returns the content digest of the encoded revocation data.
func (t *Token) Digest() digest.Digest {
	return digest.FromBytes(t.Raw)
}

// OnHold reports whether the certificate is suspended rather than revoked.
func (t *Token) OnHold() bool {
	return t.Status == Revoked && t.Reason == ocsp.CertificateHold
}

// RevokedAt reports whether the token proves the certificate revoked at at.
func (t *Token) RevokedAt(at time.Time) bool {
	if t.Status != Revoked || t.OnHold() {
		return false
	}
	return t.RevocationDate.IsZero() || !t.RevocationDate.After(at)
}

// Validate reports whether the token carries the data needed to cache and
// evaluate it.
func (t *Token) Validate() error {
	switch {
	case len(t.Raw) == 0:
		return invalidToken("raw data is empty")
	case t.ThisUpdate.IsZero():
		return invalidToken("thisUpdate is absent")
	case !t.NextUpdate.IsZero() && t.NextUpdate.Before(t.ThisUpdate):
		return invalidToken("nextUpdate precedes thisUpdate")
	case t.Status == Revoked && t.RevocationDate.IsZero():
		return invalidToken("revoked without revocation date")
	}
	return nil
}

// Clone returns a copy of t that shares no mutable state with it.
func (t *Token) Clone() *Token {
	c := *t
	if t.Serial != nil {
		c.Serial = new(big.Int).Set(t.Serial)
	}
	c.Raw = slices.Clone(t.Raw)
	return &c
}

type tokenError struct {
	reason string
}

func (e tokenError) Error() string {
	return ErrInvalidToken.Error() + ": " + e.reason
}

func (e tokenError) Is(target error) bool {
	return target == ErrInvalidToken
}

func invalidToken(reason string) error {
	return tokenError{reason: reason}
}
