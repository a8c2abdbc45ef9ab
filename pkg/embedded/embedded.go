package embedded

import (
	"encoding/asn1"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/yuxki/dytrust/pkg/certs"
	"github.com/yuxki/dytrust/pkg/revocation"
	"go.mozilla.org/pkcs7"
)

// OIDRevocationInfoArchival is the Adobe signed attribute carrying the
// revocation data of a signature.
var OIDRevocationInfoArchival = asn1.ObjectIdentifier{1, 2, 840, 113583, 1, 1, 8}

// RevocationInfoArchival is the value of the revocation info archival
// attribute.
type RevocationInfoArchival struct {
	CRLs         []asn1.RawValue `asn1:"optional,explicit,tag:0"`
	OCSPs        []asn1.RawValue `asn1:"optional,explicit,tag:1"`
	OtherRevInfo []asn1.RawValue `asn1:"optional,explicit,tag:2"`
}

// Material is what a CMS SignedData carries besides its content.
type Material struct {
	// Signer is the certificate of the first signer, or nil.
	Signer       *certs.Certificate
	Certificates []*certs.Certificate
	// CRLs found in the SignedData crls field.
	CRLs [][]byte
	// ArchivedCRLs and ArchivedOCSPs are found in the revocation info
	// archival attribute of the first signer.
	ArchivedCRLs  [][]byte
	ArchivedOCSPs [][]byte
}

type ExtractOption = func(*extractor)

type extractor struct {
	logger zerolog.Logger
}

func WithLogger(logger zerolog.Logger) func(*extractor) {
	return func(e *extractor) {
		e.logger = logger
	}
}

// Extract parses der as a CMS SignedData and returns the certificates and
// revocation data it carries. The signature is not verified.
func Extract(der []byte, options ...ExtractOption) (*Material, error) {
	e := &extractor{logger: zerolog.Nop()}
	for _, opt := range options {
		opt(e)
	}

	p7, err := pkcs7.Parse(der)
	if err != nil {
		return nil, fmt.Errorf("parse pkcs7: %w", err)
	}

	m := &Material{}
	for _, c := range p7.Certificates {
		cert, err := certs.FromX509(c)
		if err != nil {
			e.logger.Debug().Err(err).Msg("Skipped embedded certificate.")
			continue
		}
		m.Certificates = append(m.Certificates, cert)
	}

	if signer := p7.GetOnlySigner(); signer != nil {
		if cert, err := certs.FromX509(signer); err == nil {
			m.Signer = cert
		}
	}

	for idx := range p7.CRLs {
		raw, err := asn1.Marshal(p7.CRLs[idx])
		if err != nil {
			e.logger.Debug().Err(err).Msg("Skipped embedded CRL.")
			continue
		}
		m.CRLs = append(m.CRLs, raw)
	}

	var archival RevocationInfoArchival
	if err := p7.UnmarshalSignedAttribute(OIDRevocationInfoArchival, &archival); err != nil {
		e.logger.Debug().Err(err).Msg("No revocation info archival.")
		return m, nil
	}
	for _, crl := range archival.CRLs {
		m.ArchivedCRLs = append(m.ArchivedCRLs, crl.FullBytes)
	}
	for _, res := range archival.OCSPs {
		m.ArchivedOCSPs = append(m.ArchivedOCSPs, res.FullBytes)
	}

	return m, nil
}

// AddTo adds the revocation data of m to offline. CRLs of the SignedData are
// tagged CMSSignedData, archived ones EmbeddedInSignature. It returns the
// number of tokens that were not known yet.
func (m *Material) AddTo(offline *revocation.Offline) int {
	added := 0
	for _, raw := range m.CRLs {
		if offline.Add(revocation.CRL, raw, revocation.CMSSignedData) {
			added++
		}
	}
	for _, raw := range m.ArchivedCRLs {
		if offline.Add(revocation.CRL, raw, revocation.EmbeddedInSignature) {
			added++
		}
	}
	for _, raw := range m.ArchivedOCSPs {
		if offline.Add(revocation.OCSP, raw, revocation.EmbeddedInSignature) {
			added++
		}
	}
	return added
}

// Offline returns a new Offline source holding the revocation data of m.
func (m *Material) Offline(options ...revocation.OfflineOption) *revocation.Offline {
	offline := revocation.NewOffline(options...)
	m.AddTo(offline)
	return offline
}
