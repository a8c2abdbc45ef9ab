package revocation

import (
	"bytes"
	"crypto/x509"
	"encoding/hex"
	"fmt"

	"github.com/yuxki/dytrust/pkg/certs"
	"golang.org/x/crypto/ocsp"
)

// DecodeError is returned when revocation data cannot be decoded for a
// certificate.
type DecodeError struct {
	typ    Type
	reason string
}

func (e DecodeError) Error() string {
	return fmt.Sprintf("could not decode %s: %s", e.typ, e.reason)
}

// FromCRL decodes the status of cert from a DER encoded CRL. The signature
// is verified when issuer carries its X.509 form.
func FromCRL(der []byte, cert, issuer *certs.Certificate) (*Token, error) {
	rl, err := x509.ParseRevocationList(der)
	if err != nil {
		return nil, DecodeError{CRL, err.Error()}
	}

	if issuer != nil {
		if raw := issuer.RawSubject(); len(raw) > 0 && !bytes.Equal(rl.RawIssuer, raw) {
			return nil, DecodeError{CRL, "issuer name mismatch"}
		}
		if xi := issuer.X509(); xi != nil {
			if err := rl.CheckSignatureFrom(xi); err != nil {
				return nil, DecodeError{CRL, err.Error()}
			}
		}
	}

	serial := cert.SerialNumber()
	if serial == nil {
		return nil, DecodeError{CRL, "certificate has no serial number"}
	}

	tok := &Token{
		Type:           CRL,
		Status:         Good,
		Serial:         serial,
		ThisUpdate:     rl.ThisUpdate,
		NextUpdate:     rl.NextUpdate,
		ProductionDate: rl.ThisUpdate,
		Reason:         ReasonAbsent,
		Issuer:         issuer,
		Raw:            der,
	}

	for _, entry := range rl.RevokedCertificateEntries {
		if entry.SerialNumber == nil || entry.SerialNumber.Cmp(serial) != 0 {
			continue
		}
		tok.Status = Revoked
		tok.RevocationDate = entry.RevocationTime
		tok.Reason = entry.ReasonCode
		break
	}

	return tok, nil
}

// FromOCSP decodes the status of cert from a DER encoded OCSP response. The
// signature is verified when issuer carries its X.509 form.
func FromOCSP(der []byte, cert, issuer *certs.Certificate) (*Token, error) {
	var xi *x509.Certificate
	if issuer != nil {
		xi = issuer.X509()
	}

	res, err := ocsp.ParseResponse(der, xi)
	if err != nil {
		return nil, DecodeError{OCSP, err.Error()}
	}

	serial := cert.SerialNumber()
	if serial == nil || res.SerialNumber == nil || res.SerialNumber.Cmp(serial) != 0 {
		return nil, DecodeError{OCSP, "serial number mismatch"}
	}

	tok := &Token{
		Type:           OCSP,
		Serial:         serial,
		ThisUpdate:     res.ThisUpdate,
		NextUpdate:     res.NextUpdate,
		ProductionDate: res.ProducedAt,
		Reason:         ReasonAbsent,
		Issuer:         issuer,
		ResponderID:    responderID(res),
		Raw:            der,
	}

	switch res.Status {
	case ocsp.Good:
		tok.Status = Good
	case ocsp.Revoked:
		tok.Status = Revoked
		tok.RevocationDate = res.RevokedAt
		tok.Reason = res.RevocationReason
	default:
		tok.Status = Unknown
	}

	return tok, nil
}

func responderID(res *ocsp.Response) string {
	if len(res.ResponderKeyHash) > 0 {
		return "key:" + hex.EncodeToString(res.ResponderKeyHash)
	}
	if len(res.RawResponderName) > 0 {
		if dn, err := certs.ParseDistinguishedName(res.RawResponderName); err == nil {
			return "name:" + dn.String()
		}
	}
	return ""
}

// Decode decodes der as revocation data of type typ.
func Decode(typ Type, der []byte, cert, issuer *certs.Certificate) (*Token, error) {
	switch typ {
	case CRL:
		return FromCRL(der, cert, issuer)
	case OCSP:
		return FromOCSP(der, cert, issuer)
	}
	return nil, DecodeError{typ, "unsupported type"}
}
