package certs

import (
	"crypto/x509"
	encasn1 "encoding/asn1"
	"fmt"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"
)

// ExtensionError explains why an extension could not be decoded.
type ExtensionError struct {
	oid    string
	reason string
}

func (e ExtensionError) Error() string {
	return "malformed extension " + e.oid + ": " + e.reason
}

const oidCPSQualifier = "1.3.6.1.5.5.7.2.1"

var (
	tagCtx0  = asn1.Tag(0).ContextSpecific()
	tagCtx1  = asn1.Tag(1).ContextSpecific()
	tagCtx0C = asn1.Tag(0).ContextSpecific().Constructed()
	tagCtx1C = asn1.Tag(1).ContextSpecific().Constructed()
)

// FromX509 builds a Certificate from a parsed X.509 certificate, decoding the
// path validation extensions the standard library leaves out.
func FromX509(xc *x509.Certificate) (*Certificate, error) {
	subject, err := ParseDistinguishedName(xc.RawSubject)
	if err != nil {
		return nil, err
	}
	issuer, err := ParseDistinguishedName(xc.RawIssuer)
	if err != nil {
		return nil, err
	}

	t := NewTemplate()
	t.Raw = xc.Raw
	t.RawSubject = xc.RawSubject
	t.RawSubjectPublicKeyInfo = xc.RawSubjectPublicKeyInfo
	t.SerialNumber = xc.SerialNumber
	t.Subject = subject
	t.Issuer = issuer
	t.NotBefore = xc.NotBefore
	t.NotAfter = xc.NotAfter
	t.CRLDistributionPoints = xc.CRLDistributionPoints
	t.OCSPServers = xc.OCSPServer

	if xc.BasicConstraintsValid {
		t.IsCA = xc.IsCA
		if xc.MaxPathLen > 0 || xc.MaxPathLenZero {
			t.MaxPathLen = xc.MaxPathLen
		}
	}

	for _, ext := range xc.Extensions {
		oid := ext.Id.String()
		if ext.Critical {
			t.CriticalExtensions = append(t.CriticalExtensions, oid)
		}

		switch oid {
		case OIDKeyUsage:
			t.HasKeyUsage = true
			t.KeyUsage = xc.KeyUsage
		case OIDExtKeyUsage:
			t.ExtKeyUsage, err = parseExtKeyUsage(ext.Value)
		case OIDSubjectAltName:
			t.SubjectAltNames, err = parseGeneralNames(ext.Value)
		case OIDNameConstraints:
			t.NameConstraints, err = parseNameConstraints(ext.Value)
		case OIDCertificatePolicies:
			t.Policies, err = parseCertificatePolicies(ext.Value)
		case OIDPolicyConstraints:
			t.PolicyConstraints, err = parsePolicyConstraints(ext.Value)
		case OIDPolicyMappings:
			t.PolicyMappings, err = parsePolicyMappings(ext.Value)
		case OIDInhibitAnyPolicy:
			t.InhibitAnyPolicy, err = parseSkipCerts(ext.Value)
		case OIDFreshestCRL:
			t.FreshestCRL, err = parseDistributionPointURIs(ext.Value)
		case OIDNoRevAvail:
			t.NoRevAvail = true
		}
		if err != nil {
			return nil, ExtensionError{oid, err.Error()}
		}
	}

	if subject.Equal(issuer) {
		t.SelfSigned = xc.CheckSignature(xc.SignatureAlgorithm, xc.RawTBSCertificate, xc.Signature) == nil
	}

	c := New(t)
	c.x509 = xc
	return c, nil
}

// ParseCertificate decodes a DER certificate.
func ParseCertificate(der []byte) (*Certificate, error) {
	xc, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	return FromX509(xc)
}

func readOID(s *cryptobyte.String) (string, bool) {
	var oid encasn1.ObjectIdentifier
	if !s.ReadASN1ObjectIdentifier(&oid) {
		return "", false
	}
	return oid.String(), true
}

func parseExtKeyUsage(der []byte) ([]string, error) {
	input := cryptobyte.String(der)
	var seq cryptobyte.String
	if !input.ReadASN1(&seq, asn1.SEQUENCE) {
		return nil, fmt.Errorf("invalid sequence")
	}

	var usages []string
	for !seq.Empty() {
		oid, ok := readOID(&seq)
		if !ok {
			return nil, fmt.Errorf("invalid key purpose")
		}
		usages = append(usages, oid)
	}
	return usages, nil
}

func parseGeneralName(tag asn1.Tag, val cryptobyte.String) (GeneralName, error) {
	num := GeneralNameType(uint8(tag) & 0x1f)

	switch num {
	case RFC822Name, DNSName, URI:
		return GeneralName{Type: num, Value: string(val)}, nil
	case IPAddress:
		return NewIPName(val), nil
	case DirectoryName:
		dn, err := ParseDistinguishedName(val)
		if err != nil {
			return GeneralName{}, err
		}
		return NewDirectoryName(dn), nil
	case OtherName, X400Address, EDIPartyName, RegisteredID:
		return GeneralName{Type: num, Value: fmt.Sprintf("%x", []byte(val)), Bytes: []byte(val)}, nil
	}

	return GeneralName{}, fmt.Errorf("unknown general name tag %d", num)
}

func readGeneralNames(seq cryptobyte.String) ([]GeneralName, error) {
	var names []GeneralName
	for !seq.Empty() {
		var val cryptobyte.String
		var tag asn1.Tag
		if !seq.ReadAnyASN1(&val, &tag) {
			return nil, fmt.Errorf("invalid general name")
		}
		gn, err := parseGeneralName(tag, val)
		if err != nil {
			return nil, err
		}
		names = append(names, gn)
	}
	return names, nil
}

func parseGeneralNames(der []byte) ([]GeneralName, error) {
	input := cryptobyte.String(der)
	var seq cryptobyte.String
	if !input.ReadASN1(&seq, asn1.SEQUENCE) {
		return nil, fmt.Errorf("invalid sequence")
	}
	return readGeneralNames(seq)
}

func parseSubtrees(s cryptobyte.String) ([]GeneralName, error) {
	names := make([]GeneralName, 0)
	for !s.Empty() {
		var subtree cryptobyte.String
		if !s.ReadASN1(&subtree, asn1.SEQUENCE) {
			return nil, fmt.Errorf("invalid general subtree")
		}
		var val cryptobyte.String
		var tag asn1.Tag
		if !subtree.ReadAnyASN1(&val, &tag) {
			return nil, fmt.Errorf("invalid general subtree base")
		}
		gn, err := parseGeneralName(tag, val)
		if err != nil {
			return nil, err
		}
		names = append(names, gn)
	}
	return names, nil
}

func parseNameConstraints(der []byte) (*NameConstraints, error) {
	input := cryptobyte.String(der)
	var seq, permitted, excluded cryptobyte.String
	var hasPermitted, hasExcluded bool
	if !input.ReadASN1(&seq, asn1.SEQUENCE) ||
		!seq.ReadOptionalASN1(&permitted, &hasPermitted, tagCtx0C) ||
		!seq.ReadOptionalASN1(&excluded, &hasExcluded, tagCtx1C) {
		return nil, fmt.Errorf("invalid name constraints")
	}

	nc := &NameConstraints{}
	var err error
	if hasPermitted {
		if nc.Permitted, err = parseSubtrees(permitted); err != nil {
			return nil, err
		}
	}
	if hasExcluded {
		if nc.Excluded, err = parseSubtrees(excluded); err != nil {
			return nil, err
		}
	}
	return nc, nil
}

func parseCertificatePolicies(der []byte) ([]PolicyInformation, error) {
	input := cryptobyte.String(der)
	var seq cryptobyte.String
	if !input.ReadASN1(&seq, asn1.SEQUENCE) {
		return nil, fmt.Errorf("invalid sequence")
	}

	policies := make([]PolicyInformation, 0)
	for !seq.Empty() {
		var info cryptobyte.String
		if !seq.ReadASN1(&info, asn1.SEQUENCE) {
			return nil, fmt.Errorf("invalid policy information")
		}
		oid, ok := readOID(&info)
		if !ok {
			return nil, fmt.Errorf("invalid policy identifier")
		}
		p := PolicyInformation{OID: oid}

		var qualifiers cryptobyte.String
		var hasQualifiers bool
		if !info.ReadOptionalASN1(&qualifiers, &hasQualifiers, asn1.SEQUENCE) {
			return nil, fmt.Errorf("invalid policy qualifiers")
		}
		for hasQualifiers && !qualifiers.Empty() {
			var q cryptobyte.String
			if !qualifiers.ReadASN1(&q, asn1.SEQUENCE) {
				return nil, fmt.Errorf("invalid policy qualifier")
			}
			qid, ok := readOID(&q)
			if !ok {
				return nil, fmt.Errorf("invalid policy qualifier id")
			}
			if qid != oidCPSQualifier || p.CPSURI != "" {
				continue
			}
			var uri cryptobyte.String
			if !q.ReadASN1(&uri, asn1.IA5String) {
				return nil, fmt.Errorf("invalid cps uri")
			}
			p.CPSURI = string(uri)
		}
		policies = append(policies, p)
	}
	return policies, nil
}

func parsePolicyConstraints(der []byte) (PolicyConstraints, error) {
	pc := PolicyConstraints{RequireExplicitPolicy: Absent, InhibitPolicyMapping: Absent}

	input := cryptobyte.String(der)
	var seq cryptobyte.String
	if !input.ReadASN1(&seq, asn1.SEQUENCE) {
		return pc, fmt.Errorf("invalid sequence")
	}

	var v int64
	if seq.PeekASN1Tag(tagCtx0) {
		if !seq.ReadASN1Int64WithTag(&v, tagCtx0) || v < 0 {
			return pc, fmt.Errorf("invalid requireExplicitPolicy")
		}
		pc.RequireExplicitPolicy = int(v)
	}
	if seq.PeekASN1Tag(tagCtx1) {
		if !seq.ReadASN1Int64WithTag(&v, tagCtx1) || v < 0 {
			return pc, fmt.Errorf("invalid inhibitPolicyMapping")
		}
		pc.InhibitPolicyMapping = int(v)
	}
	return pc, nil
}

func parsePolicyMappings(der []byte) ([]PolicyMapping, error) {
	input := cryptobyte.String(der)
	var seq cryptobyte.String
	if !input.ReadASN1(&seq, asn1.SEQUENCE) {
		return nil, fmt.Errorf("invalid sequence")
	}

	var mappings []PolicyMapping
	for !seq.Empty() {
		var m cryptobyte.String
		if !seq.ReadASN1(&m, asn1.SEQUENCE) {
			return nil, fmt.Errorf("invalid policy mapping")
		}
		issuerPolicy, ok := readOID(&m)
		if !ok {
			return nil, fmt.Errorf("invalid issuerDomainPolicy")
		}
		subjectPolicy, ok := readOID(&m)
		if !ok {
			return nil, fmt.Errorf("invalid subjectDomainPolicy")
		}
		mappings = append(mappings, PolicyMapping{issuerPolicy, subjectPolicy})
	}
	return mappings, nil
}

func parseSkipCerts(der []byte) (int, error) {
	input := cryptobyte.String(der)
	var v int64
	if !input.ReadASN1Integer(&v) || v < 0 {
		return Absent, fmt.Errorf("invalid skip certs")
	}
	return int(v), nil
}

// parseDistributionPointURIs returns the URI full names of a
// CRLDistributionPoints syntax extension.
func parseDistributionPointURIs(der []byte) ([]string, error) {
	input := cryptobyte.String(der)
	var seq cryptobyte.String
	if !input.ReadASN1(&seq, asn1.SEQUENCE) {
		return nil, fmt.Errorf("invalid sequence")
	}

	var uris []string
	for !seq.Empty() {
		var dp, dpName, fullName cryptobyte.String
		var hasName, hasFull bool
		if !seq.ReadASN1(&dp, asn1.SEQUENCE) ||
			!dp.ReadOptionalASN1(&dpName, &hasName, tagCtx0C) {
			return nil, fmt.Errorf("invalid distribution point")
		}
		if !hasName {
			continue
		}
		if !dpName.ReadOptionalASN1(&fullName, &hasFull, tagCtx0C) {
			return nil, fmt.Errorf("invalid distribution point name")
		}
		if !hasFull {
			continue
		}
		names, err := readGeneralNames(fullName)
		if err != nil {
			return nil, err
		}
		for _, n := range names {
			if n.Type == URI {
				uris = append(uris, n.Value)
			}
		}
	}
	return uris, nil
}
