package certs

import (
	"crypto/sha256"
	"crypto/x509"
	"math/big"
	"slices"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/yuxki/dytrust/pkg/date"
)

// Absent is the value of integer extension fields that are not present.
const Absent = -1

// Extension OIDs handled by this package.
const (
	OIDSubjectKeyID          = "2.5.29.14"
	OIDKeyUsage              = "2.5.29.15"
	OIDSubjectAltName        = "2.5.29.17"
	OIDBasicConstraints      = "2.5.29.19"
	OIDNameConstraints       = "2.5.29.30"
	OIDCRLDistributionPoints = "2.5.29.31"
	OIDCertificatePolicies   = "2.5.29.32"
	OIDPolicyMappings        = "2.5.29.33"
	OIDAuthorityKeyID        = "2.5.29.35"
	OIDPolicyConstraints     = "2.5.29.36"
	OIDExtKeyUsage           = "2.5.29.37"
	OIDFreshestCRL           = "2.5.29.46"
	OIDInhibitAnyPolicy      = "2.5.29.54"
	OIDNoRevAvail            = "2.5.29.56"
	OIDAuthorityInfoAccess   = "1.3.6.1.5.5.7.1.1"
)

// AnyPolicy is the special anyPolicy certificate policy identifier.
const AnyPolicy = "2.5.29.32.0"

// PolicyInformation is one entry of the certificatePolicies extension.
type PolicyInformation struct {
	OID    string
	CPSURI string
}

// PolicyMapping is one entry of the policyMappings extension.
type PolicyMapping struct {
	IssuerDomainPolicy  string
	SubjectDomainPolicy string
}

// PolicyConstraints holds the policyConstraints extension. Absent fields are
// set to Absent.
type PolicyConstraints struct {
	RequireExplicitPolicy int
	InhibitPolicyMapping  int
}

// NameConstraints holds the nameConstraints extension.
type NameConstraints struct {
	Permitted []GeneralName
	Excluded  []GeneralName
}

// Template carries the decoded fields used to build a Certificate. Integer
// extension fields use Absent when the extension is missing.
type Template struct {
	Raw                     []byte
	RawSubject              []byte
	RawSubjectPublicKeyInfo []byte
	SerialNumber            *big.Int
	Subject                 DistinguishedName
	Issuer                  DistinguishedName
	NotBefore               time.Time
	NotAfter                time.Time
	SubjectAltNames         []GeneralName

	IsCA              bool
	MaxPathLen        int
	HasKeyUsage       bool
	KeyUsage          x509.KeyUsage
	ExtKeyUsage       []string
	Policies          []PolicyInformation
	PolicyConstraints PolicyConstraints
	PolicyMappings    []PolicyMapping
	NameConstraints   *NameConstraints
	InhibitAnyPolicy  int
	NoRevAvail        bool

	CRLDistributionPoints []string
	OCSPServers           []string
	FreshestCRL           []string
	CriticalExtensions    []string

	SelfSigned bool
}

// Certificate is an immutable view of a decoded X.509 certificate with the
// RFC 5280 extension data used during path validation.
type Certificate struct {
	t      Template
	digest digest.Digest
	x509   *x509.Certificate
}

// NewTemplate returns a Template with every integer extension field absent.
func NewTemplate() Template {
	return Template{
		MaxPathLen:       Absent,
		InhibitAnyPolicy: Absent,
		PolicyConstraints: PolicyConstraints{
			RequireExplicitPolicy: Absent,
			InhibitPolicyMapping:  Absent,
		},
	}
}

// New builds a Certificate from a copy of t.
func New(t Template) *Certificate {
	c := &Certificate{t: cloneTemplate(t)}
	c.digest = c.computeDigest()
	return c
}

func cloneTemplate(t Template) Template {
	t.Raw = slices.Clone(t.Raw)
	t.RawSubject = slices.Clone(t.RawSubject)
	t.RawSubjectPublicKeyInfo = slices.Clone(t.RawSubjectPublicKeyInfo)
	if t.SerialNumber != nil {
		t.SerialNumber = new(big.Int).Set(t.SerialNumber)
	}
	t.Subject = slices.Clone(t.Subject)
	t.Issuer = slices.Clone(t.Issuer)
	t.SubjectAltNames = slices.Clone(t.SubjectAltNames)
	t.ExtKeyUsage = slices.Clone(t.ExtKeyUsage)
	t.Policies = slices.Clone(t.Policies)
	t.PolicyMappings = slices.Clone(t.PolicyMappings)
	if t.NameConstraints != nil {
		t.NameConstraints = &NameConstraints{
			Permitted: slices.Clone(t.NameConstraints.Permitted),
			Excluded:  slices.Clone(t.NameConstraints.Excluded),
		}
	}
	t.CRLDistributionPoints = slices.Clone(t.CRLDistributionPoints)
	t.OCSPServers = slices.Clone(t.OCSPServers)
	t.FreshestCRL = slices.Clone(t.FreshestCRL)
	t.CriticalExtensions = slices.Clone(t.CriticalExtensions)
	return t
}

func (c *Certificate) computeDigest() digest.Digest {
	if len(c.t.Raw) > 0 {
		return digest.SHA256.FromBytes(c.t.Raw)
	}

	h := sha256.New()
	h.Write([]byte(c.t.Subject.String()))
	h.Write([]byte{0})
	h.Write([]byte(c.t.Issuer.String()))
	h.Write([]byte{0})
	if c.t.SerialNumber != nil {
		h.Write(c.t.SerialNumber.Bytes())
	}
	return digest.NewDigest(digest.SHA256, h)
}

// Digest identifies the certificate by content.
func (c *Certificate) Digest() digest.Digest { return c.digest }

// X509 returns the certificate it was decoded from, or nil.
func (c *Certificate) X509() *x509.Certificate { return c.x509 }

func (c *Certificate) Raw() []byte                     { return slices.Clone(c.t.Raw) }
func (c *Certificate) RawSubject() []byte              { return slices.Clone(c.t.RawSubject) }
func (c *Certificate) RawSubjectPublicKeyInfo() []byte { return slices.Clone(c.t.RawSubjectPublicKeyInfo) }
func (c *Certificate) Subject() DistinguishedName      { return slices.Clone(c.t.Subject) }
func (c *Certificate) Issuer() DistinguishedName       { return slices.Clone(c.t.Issuer) }
func (c *Certificate) SubjectAltNames() []GeneralName  { return slices.Clone(c.t.SubjectAltNames) }
func (c *Certificate) IsCA() bool                      { return c.t.IsCA }
func (c *Certificate) MaxPathLen() int                 { return c.t.MaxPathLen }
func (c *Certificate) ExtKeyUsage() []string           { return slices.Clone(c.t.ExtKeyUsage) }
func (c *Certificate) PolicyMappings() []PolicyMapping { return slices.Clone(c.t.PolicyMappings) }
func (c *Certificate) InhibitAnyPolicy() int           { return c.t.InhibitAnyPolicy }
func (c *Certificate) NoRevAvail() bool                { return c.t.NoRevAvail }
func (c *Certificate) IsSelfSigned() bool              { return c.t.SelfSigned }
func (c *Certificate) CRLDistributionPoints() []string { return slices.Clone(c.t.CRLDistributionPoints) }
func (c *Certificate) OCSPServers() []string           { return slices.Clone(c.t.OCSPServers) }
func (c *Certificate) FreshestCRL() []string           { return slices.Clone(c.t.FreshestCRL) }
func (c *Certificate) CriticalExtensions() []string    { return slices.Clone(c.t.CriticalExtensions) }

// SerialNumber returns a copy of the serial number, or nil.
func (c *Certificate) SerialNumber() *big.Int {
	if c.t.SerialNumber == nil {
		return nil
	}
	return new(big.Int).Set(c.t.SerialNumber)
}

// KeyUsage returns the key usage bits and whether the extension is present.
func (c *Certificate) KeyUsage() (x509.KeyUsage, bool) {
	return c.t.KeyUsage, c.t.HasKeyUsage
}

// Policies returns the certificatePolicies entries. A nil slice means the
// extension is absent.
func (c *Certificate) Policies() []PolicyInformation {
	return slices.Clone(c.t.Policies)
}

// HasPolicies reports whether the certificatePolicies extension is present.
func (c *Certificate) HasPolicies() bool {
	return c.t.Policies != nil
}

func (c *Certificate) PolicyConstraints() PolicyConstraints {
	return c.t.PolicyConstraints
}

// NameConstraints returns nil when the extension is absent.
func (c *Certificate) NameConstraints() *NameConstraints {
	if c.t.NameConstraints == nil {
		return nil
	}
	return &NameConstraints{
		Permitted: slices.Clone(c.t.NameConstraints.Permitted),
		Excluded:  slices.Clone(c.t.NameConstraints.Excluded),
	}
}

// Validity returns the notBefore/notAfter window.
func (c *Certificate) Validity() date.Window {
	return date.Window{NotBefore: c.t.NotBefore, NotAfter: c.t.NotAfter}
}

// IsSelfIssued reports whether subject and issuer are the same name.
// (https://www.rfc-editor.org/rfc/rfc5280#section-6.1)
func (c *Certificate) IsSelfIssued() bool {
	return c.t.Subject.Equal(c.t.Issuer)
}

// IssuedBy reports whether issuer's subject matches c's issuer name.
func (c *Certificate) IssuedBy(issuer *Certificate) bool {
	return c.t.Issuer.Equal(issuer.t.Subject)
}

// HasCriticalExtension reports whether oid is marked critical.
func (c *Certificate) HasCriticalExtension(oid string) bool {
	return slices.Contains(c.t.CriticalExtensions, oid)
}

func (c *Certificate) String() string {
	return c.t.Subject.String()
}
