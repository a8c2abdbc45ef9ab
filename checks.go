package dytrust

import (
	"crypto/x509"
	"slices"

	"github.com/yuxki/dytrust/pkg/certs"
	"github.com/yuxki/dytrust/pkg/check"
)

// Names of the checks run by the Validator. They are the keys of
// Constraints.Levels.
const (
	CheckChainBuilt          = "chain-built"
	CheckTrustAnchor         = "trust-anchor"
	CheckValidityRange       = "validity-range"
	CheckIntermediateCA      = "intermediate-ca"
	CheckKeyCertSign         = "key-cert-sign"
	CheckPathLength          = "path-length"
	CheckCriticalExtensions  = "critical-extensions"
	CheckNoRevAvail          = "no-rev-avail"
	CheckNameConstraints     = "name-constraints"
	CheckPolicyTree          = "policy-tree"
	CheckAcceptablePolicies  = "acceptable-policies"
	CheckRevocationAvailable = "revocation-available"
	CheckRevocationFresh     = "revocation-fresh"
	CheckRevocationMaxAge    = "revocation-max-age"
	CheckRevocationOnHold    = "revocation-on-hold"
	CheckNotRevoked          = "not-revoked"
)

// Messages recorded in check.Result.
const (
	msgChainBuilt          = "Is the certificate chain built?"
	errChainBuilt          = "The certificate chain could not be built."
	msgTrustAnchor         = "Is there a trust anchor in the chain?"
	errTrustAnchor         = "No trust anchor is found at the control time."
	msgValidityRange       = "Is the control time in the validity range of the certificate?"
	errValidityRange       = "The control time is out of the validity range of the certificate."
	msgIntermediateCA      = "Is the intermediate certificate a CA certificate?"
	errIntermediateCA      = "The intermediate certificate does not assert basicConstraints cA."
	msgKeyCertSign         = "Does the CA certificate allow certificate signing?"
	errKeyCertSign         = "The key usage of the CA certificate does not assert keyCertSign."
	msgPathLength          = "Is the path length constraint respected?"
	errPathLength          = "The path length constraint is exceeded."
	msgCriticalExtensions  = "Are all critical extensions supported?"
	errCriticalExtensions  = "The certificate has an unsupported critical extension."
	msgNoRevAvail          = "Is the noRevAvail extension used consistently?"
	errNoRevAvail          = "The noRevAvail extension is used in a CA certificate or with revocation pointers."
	msgNameConstraints     = "Are the name constraints respected?"
	errNameConstraints     = "A name of the certificate is not allowed by the name constraints."
	msgPolicyTree          = "Is the certificate policy tree valid?"
	errPolicyTree          = "The certificate policy processing failed."
	msgAcceptablePolicies  = "Is a valid policy acceptable?"
	errAcceptablePolicies  = "No valid policy of the certificate is acceptable."
	msgRevocationAvailable = "Is revocation data available?"
	errRevocationAvailable = "No revocation data is found for the certificate."
	msgRevocationFresh     = "Is the revocation data fresh?"
	errRevocationFresh     = "The revocation data is not fresh at the control time."
	msgRevocationMaxAge    = "Is the revocation data recent enough?"
	errRevocationMaxAge    = "The thisUpdate of the revocation data is too old."
	msgRevocationOnHold    = "Is the certificate not on hold?"
	errRevocationOnHold    = "The certificate is on hold."
	msgNotRevoked          = "Is the certificate not revoked?"
	errNotRevoked          = "The certificate is revoked."
	errNotRevokedCA        = "The CA certificate is revoked."
)

// Constraints configures the severity of the checks and the optional value
// rules.
type Constraints struct {
	// Levels overrides the Fail level per check name.
	Levels map[string]check.Level
	// AcceptablePolicies restricts the valid policies of the target
	// certificate when set.
	AcceptablePolicies *check.MultiValuesRule
	// RevocationMaxAge limits the age of thisUpdate in seconds when set.
	RevocationMaxAge *check.NumericValueRule
}

func (c Constraints) level(name string) check.Level {
	if l, ok := c.Levels[name]; ok {
		return l
	}
	return check.Fail
}

// supportedCriticalExtensions are the extensions processed during path
// validation.
var supportedCriticalExtensions = []string{
	certs.OIDKeyUsage,
	certs.OIDSubjectAltName,
	certs.OIDBasicConstraints,
	certs.OIDNameConstraints,
	certs.OIDCRLDistributionPoints,
	certs.OIDCertificatePolicies,
	certs.OIDPolicyMappings,
	certs.OIDAuthorityKeyID,
	certs.OIDPolicyConstraints,
	certs.OIDExtKeyUsage,
	certs.OIDFreshestCRL,
	certs.OIDInhibitAnyPolicy,
	certs.OIDNoRevAvail,
	certs.OIDAuthorityInfoAccess,
	certs.OIDSubjectKeyID,
}

// unsupportedCriticalExtensions returns the critical extensions of cert that
// are not processed.
func unsupportedCriticalExtensions(cert *certs.Certificate) []string {
	var out []string
	for _, oid := range cert.CriticalExtensions() {
		if !slices.Contains(supportedCriticalExtensions, oid) {
			out = append(out, oid)
		}
	}
	return out
}

// canSignCertificates reports whether the key usage of a CA certificate, if
// present, asserts keyCertSign.
func canSignCertificates(cert *certs.Certificate) bool {
	ku, ok := cert.KeyUsage()
	return !ok || ku&x509.KeyUsageCertSign != 0
}

// pathLengthRespected reports whether the pathLenConstraint of the
// certificate at index i holds. Self-issued intermediates below it do not
// count.
func pathLengthRespected(chain *certs.Chain, i int) bool {
	limit := chain.At(i).MaxPathLen()
	if limit == certs.Absent {
		return true
	}

	n := 0
	for j := 1; j < i; j++ {
		if !chain.At(j).IsSelfIssued() {
			n++
		}
	}
	return n <= limit
}

// noRevAvailConsistent reports whether the noRevAvail extension is used as
// RFC 9608 requires: only in end-entity certificates without revocation
// pointers.
func noRevAvailConsistent(cert *certs.Certificate) bool {
	if !cert.NoRevAvail() {
		return true
	}
	return !cert.IsCA() &&
		len(cert.CRLDistributionPoints()) == 0 &&
		len(cert.FreshestCRL()) == 0 &&
		len(cert.OCSPServers()) == 0
}

func (v *Validator) newCheck(name string, subject string, msg, errTag string, sub check.SubIndication) check.Check {
	return check.Check{
		Subject:       subject,
		MessageTag:    msg,
		ErrorTag:      errTag,
		Indication:    check.Indeterminate,
		SubIndication: sub,
		Level:         v.constraints.level(name),
	}
}

func passIf(ok bool) func() bool {
	return func() bool { return ok }
}
