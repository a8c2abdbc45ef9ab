package db

import (
	"github.com/yuxki/dytrust/pkg/revocation"
	"golang.org/x/crypto/ocsp"
)

const (
	// The base of serial number.
	SerialBase = 16
	// The max octet length of serial number.
	SerialMaxOctetLength = 20
)

// Row is a revocation token as stored by the persistent repositories. Every
// attribute is a string, so rows read back must be verified with a
// RowExchange.
type Row struct {
	Key         string `json:"key"          dynamodbav:"key"`
	RowID       string `json:"row_id"       dynamodbav:"row_id"`
	Type        string `json:"type"         dynamodbav:"type"`
	Status      string `json:"status"       dynamodbav:"status"`
	Serial      string `json:"serial"       dynamodbav:"serial"`
	ThisUpdate  string `json:"this_update"  dynamodbav:"this_update"`
	NextUpdate  string `json:"next_update"  dynamodbav:"next_update"`
	ProducedAt  string `json:"produced_at"  dynamodbav:"produced_at"`
	RevDate     string `json:"rev_date"     dynamodbav:"rev_date"`
	CRLReason   string `json:"crl_reason"   dynamodbav:"crl_reason"`
	ResponderID string `json:"responder_id" dynamodbav:"responder_id"`
	SourceURL   string `json:"source_url"   dynamodbav:"source_url"`
	Origins     string `json:"origins"      dynamodbav:"origins"`
	Raw         string `json:"raw"          dynamodbav:"raw"`
}

// This revocation status letter is based on the index database of OpenSSL,
// which can be found at 'https://github.com/openssl/openssl'.
type RowStatus string

const (
	// Good status.
	Valid RowStatus = "V"
	// Revoked status.
	Revoked RowStatus = "R"
	// Unknown status.
	Unknown RowStatus = "U"
)

const (
	// YY Boundary value for RFC 5280: 4.1.2.5.1. UTCTime specification.
	// "Where YY is greater than or equal to 50, the year SHALL be
	// interpreted as 19YY; and Where YY is less than 50, the year SHALL be interpreted as 20YY."
	// (https://www.rfc-editor.org/rfc/rfc5280#section-4.1.2.5.1)
	UTCTimeYYBoundary = 50
)

const (
	// RFC 5280: 4.1.2.5.1. UTCTime.
	ASN1UTCTime = "060102150405Z"
	// RFC 5280: 4.1.2.5.2. GeneralizedTime.
	ASN1GeneralizedTime = "20060102150405Z"
)

const (
	// Values of CRLReason.
	UnspecifiedValue          = "unspecified"
	KeyCompromiseValue        = "keyCompromise"
	CACompromiseValue         = "CACompromise"
	AffiliationChangedValue   = "affiliationChanged"
	SupersededValue           = "superseded"
	CessationOfOperationValue = "cessationOfOperation"
	CertificateHoldValue      = "certificateHold"
	RemoveFromCRLValue        = "removeFromCRL"
	PrivilegeWithdrawnValue   = "privilegeWithdrawn"
	AACompromiseValue         = "AACompromise"
)

// RFC 5280: 5.3.1. Reason Codes.
var crlReasons = []struct {
	code  int
	value string
}{
	{ocsp.Unspecified, UnspecifiedValue},
	{ocsp.KeyCompromise, KeyCompromiseValue},
	{ocsp.CACompromise, CACompromiseValue},
	{ocsp.AffiliationChanged, AffiliationChangedValue},
	{ocsp.Superseded, SupersededValue},
	{ocsp.CessationOfOperation, CessationOfOperationValue},
	{ocsp.CertificateHold, CertificateHoldValue},
	{ocsp.RemoveFromCRL, RemoveFromCRLValue},
	{ocsp.PrivilegeWithdrawn, PrivilegeWithdrawnValue},
	{ocsp.AACompromise, AACompromiseValue},
}

func crlReasonValue(code int) string {
	if code == revocation.ReasonAbsent {
		return ""
	}
	for _, r := range crlReasons {
		if r.code == code {
			return r.value
		}
	}
	return UnspecifiedValue
}

// Indexes of RowEntry.Errors.
type InvalidWith int

const (
	NoError InvalidWith = iota
	MalformKey
	UndefinedType
	MalformSerial
	UndefinedStatus
	MalformThisUpdate
	MalformNextUpdate
	MalformProducedAt
	MalformRevDate
	UndefinedCRLReason
	UndefinedOrigins
	MalformRaw
)

// RowEntry is a token parsed back from a Row. In the process, it can contain
// errors in RowEntry.Errors that explain why the row is invalid.
type RowEntry struct {
	Key    string
	Token  *revocation.Token
	Errors map[InvalidWith]error
}

// Err returns the first error of the entry in InvalidWith order, or nil.
func (e RowEntry) Err() error {
	for i := MalformKey; i <= MalformRaw; i++ {
		if err, ok := e.Errors[i]; ok {
			return err
		}
	}
	return nil
}
