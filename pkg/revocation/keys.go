package revocation

import (
	"crypto/sha1"
	encasn1 "encoding/asn1"
	"encoding/hex"
	"errors"
	"slices"
	"strings"

	"github.com/opencontainers/go-digest"
	"github.com/yuxki/dytrust/pkg/certs"
	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"
)

const keySep = ":"

var (
	// ErrNoIssuer is returned when a key needs the issuer certificate.
	ErrNoIssuer = errors.New("issuer certificate is required")
	// ErrNoSerial is returned for certificates without serial number.
	ErrNoSerial = errors.New("certificate has no serial number")
)

// KeyFunc derives the repository lookup keys of a certificate.
type KeyFunc = func(cert, issuer *certs.Certificate) []string

// LookupKey returns the repository key of the revocation data of type typ
// published at url for cert.
//
// CRL keys are "crl:<sha256(url)>:<serial>" and OCSP keys are
// "ocsp:<sha256(url)>:<issuerNameHash><issuerKeyHash><serial>", all hex.
func LookupKey(typ Type, url string, cert, issuer *certs.Certificate) (string, error) {
	serial := cert.SerialNumber()
	if serial == nil {
		return "", ErrNoSerial
	}

	var id string
	switch typ {
	case OCSP:
		if issuer == nil {
			return "", ErrNoIssuer
		}
		nameHash, keyHash, err := issuerHashes(issuer)
		if err != nil {
			return "", err
		}
		id = hex.EncodeToString(nameHash) + hex.EncodeToString(keyHash) + serial.Text(16)
	default:
		id = serial.Text(16)
	}

	return strings.Join([]string{typ.String(), digest.FromString(url).Encoded(), id}, keySep), nil
}

// LookupKeys returns the keys of every OCSP responder and CRL distribution
// point of cert, OCSP first. Keys that cannot be derived are skipped.
func LookupKeys(cert, issuer *certs.Certificate) []string {
	var keys []string
	add := func(typ Type, urls []string) {
		for _, url := range urls {
			key, err := LookupKey(typ, url, cert, issuer)
			if err != nil || slices.Contains(keys, key) {
				continue
			}
			keys = append(keys, key)
		}
	}
	add(OCSP, cert.OCSPServers())
	add(CRL, cert.CRLDistributionPoints())
	return keys
}

func createSHA1Hash(input []byte) []byte {
	sum := sha1.Sum(input)
	return sum[:]
}

// issuerHashes returns the SHA-1 hashes of the issuer name and public key, as
// in an OCSP CertID.
func issuerHashes(issuer *certs.Certificate) ([]byte, []byte, error) {
	key, err := subjectPublicKey(issuer.RawSubjectPublicKeyInfo())
	if err != nil {
		return nil, nil, err
	}
	return createSHA1Hash(issuer.RawSubject()), createSHA1Hash(key), nil
}

var errMalformedSPKI = errors.New("malformed subject public key info")

// subjectPublicKey extracts the subjectPublicKey bits of a
// SubjectPublicKeyInfo.
func subjectPublicKey(spki []byte) ([]byte, error) {
	input := cryptobyte.String(spki)

	var seq, alg cryptobyte.String
	var bits encasn1.BitString
	if !input.ReadASN1(&seq, asn1.SEQUENCE) ||
		!seq.ReadASN1(&alg, asn1.SEQUENCE) ||
		!seq.ReadASN1BitString(&bits) {
		return nil, errMalformedSPKI
	}
	return bits.RightAlign(), nil
}
