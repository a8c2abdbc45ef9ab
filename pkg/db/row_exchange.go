package db

import (
	"encoding/base64"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/yuxki/dytrust/pkg/revocation"
)

// InvalidRowError provides an explanation for why a stored row is invalid.
type InvalidRowError struct {
	attr string
	msg  string
}

// InvalidRowError returns error message.
func (e InvalidRowError) Error() string {
	return "failed exchange from Row to Token: invalid " + e.attr + ": " + e.msg
}

// RowExchange provides methods for parsing tokens from rows and formatting
// tokens into rows.
type RowExchange struct{}

// NewRowExchange creates and returns s new RowExchange instance.
func NewRowExchange() RowExchange {
	return RowExchange{}
}

// SerialStrToBigInt convert serial number string to *big.Int.
func SerialStrToBigInt(serial string) (*big.Int, bool) {
	bIS := new(big.Int)
	bIS, ok := bIS.SetString(serial, SerialBase)
	if !ok {
		return nil, false
	}
	return bIS, true
}

// VerifyKey verifies the lookup key has the "<type>:<url hash>:<id>" form.
func (e *RowExchange) VerifyKey(target string) error {
	parts := strings.Split(target, ":")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return InvalidRowError{
			attr: "key",
			msg:  target,
		}
	}
	return nil
}

// VerifyType verifies the token type.
func (e *RowExchange) VerifyType(target string) (revocation.Type, error) {
	switch target {
	case revocation.CRL.String():
		return revocation.CRL, nil
	case revocation.OCSP.String():
		return revocation.OCSP, nil
	}
	return 0, InvalidRowError{
		attr: "type",
		msg:  target,
	}
}

// VerifySerial verifies serial string, and convert to *big.Int.
func (e *RowExchange) VerifySerial(target string) (*big.Int, error) {
	// RFC rfc5280 4.1.2.2. Serial Number.
	if len(target) > SerialMaxOctetLength*2 {
		return nil, InvalidRowError{
			attr: "serial",
			msg:  target,
		}
	}

	serial, ok := SerialStrToBigInt(target)
	if !ok {
		return nil, InvalidRowError{
			attr: "serial",
			msg:  target,
		}
	}

	return serial, nil
}

// VerifyStatus verifies the value of the status, revDate and crlReason are
// collected for the status.
// This function only accepts three status values: 'V', 'R' and 'U'. Any other
// status value will be considered invalid.
func (e *RowExchange) VerifyStatus(
	target string, revDate string, crlReason string,
) (revocation.Status, error) {
	switch RowStatus(target) {
	case Valid, Unknown:
		if revDate != "" {
			return 0, InvalidRowError{
				attr: "status",
				msg:  fmt.Sprintf("status is %s but rev_date exists", target),
			}
		}
		if crlReason != "" {
			return 0, InvalidRowError{
				attr: "status",
				msg:  fmt.Sprintf("status is %s but crl_reason exists", target),
			}
		}
		if RowStatus(target) == Valid {
			return revocation.Good, nil
		}
		return revocation.Unknown, nil
	case Revoked:
		if revDate == "" {
			return 0, InvalidRowError{
				attr: "status",
				msg:  fmt.Sprintf("status is %s but rev_date does not exist", Revoked),
			}
		}
		if crlReason == "" {
			return 0, InvalidRowError{
				attr: "status",
				msg:  fmt.Sprintf("status is %s but crl_reason does not exist", Revoked),
			}
		}
		return revocation.Revoked, nil
	}

	return 0, InvalidRowError{
		attr: "status",
		msg:  target,
	}
}

func (e *RowExchange) convASN1DateStrToTime(target string) (time.Time, bool) {
	var date time.Time

	// RFC 5280 Section:4.1.2.5.1
	if len(target) == len(ASN1UTCTime) {
		yy, err := strconv.Atoi(target[:2])
		if err != nil {
			return date, false
		}

		if yy < UTCTimeYYBoundary {
			target = "20" + target
		} else {
			target = "19" + target
		}
	}

	date, err := time.Parse(ASN1GeneralizedTime, target)
	if err != nil {
		return date, false
	}

	return date, true
}

// VerifyDate verifies the date attr is valid and returns it as a time.Time
// value. Empty string "" is ok unless the date is required.
// It accepts following time format.
//   - UTCTime (https://www.rfc-editor.org/rfc/rfc5280#section-4.1.2.5.1)
//   - GeneralizedTime (https://www.rfc-editor.org/rfc/rfc5280#section-4.1.2.5.2)
func (e *RowExchange) VerifyDate(attr string, target string, required bool) (time.Time, error) {
	var date time.Time

	if target == "" && !required {
		return date, nil
	}

	date, ok := e.convASN1DateStrToTime(target)
	if !ok {
		return date, InvalidRowError{
			attr: attr,
			msg:  target,
		}
	}

	return date, nil
}

// VerifyCRLReason verifies if the CRLReason is correct. Empty string "" (Not
// Revoked) is ok.
func (e *RowExchange) VerifyCRLReason(target string) (int, error) {
	if target == "" {
		return revocation.ReasonAbsent, nil
	}

	for _, r := range crlReasons {
		if r.value == target {
			return r.code, nil
		}
	}

	return revocation.ReasonAbsent, InvalidRowError{
		attr: "crl_reason",
		msg:  target,
	}
}

// VerifyOrigins verifies the comma delimited origin names.
func (e *RowExchange) VerifyOrigins(target string) (revocation.Origins, error) {
	var origins revocation.Origins
	if target == "" {
		return origins, nil
	}

	for _, name := range strings.Split(target, ",") {
		found := false
		for _, o := range []revocation.Origin{
			revocation.EmbeddedInSignature,
			revocation.DSSDictionary,
			revocation.CMSSignedData,
			revocation.OnlineFetch,
			revocation.Archive,
		} {
			if revocation.Origins(o).String() == name {
				origins = origins.With(o)
				found = true
				break
			}
		}
		if !found {
			return 0, InvalidRowError{
				attr: "origins",
				msg:  name,
			}
		}
	}

	return origins, nil
}

// VerifyRaw decodes the base64 raw data and verifies it against the row id,
// which is its content digest.
func (e *RowExchange) VerifyRaw(target string, rowID string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(target)
	if err != nil || len(raw) == 0 {
		return nil, InvalidRowError{
			attr: "raw",
			msg:  "not base64 encoded data",
		}
	}

	d, err := digest.Parse(rowID)
	if err != nil {
		return nil, InvalidRowError{
			attr: "row_id",
			msg:  rowID,
		}
	}
	if d.Algorithm().FromBytes(raw) != d {
		return nil, InvalidRowError{
			attr: "raw",
			msg:  "digest mismatch with " + rowID,
		}
	}

	return raw, nil
}

// ParseRow parses a RowEntry from a Row using the RowExchange.Verify*
// methods. Set errors from the `Verify*` methods to `RowEntry.Errors` when
// the row is invalid.
func (e *RowExchange) ParseRow(row Row) RowEntry {
	verifyErrors := make(map[InvalidWith]error, MalformRaw+1)
	tok := &revocation.Token{}

	if err := e.VerifyKey(row.Key); err != nil {
		verifyErrors[MalformKey] = err
	}

	typ, err := e.VerifyType(row.Type)
	if err != nil {
		verifyErrors[UndefinedType] = err
	}
	tok.Type = typ

	if tok.Serial, err = e.VerifySerial(row.Serial); err != nil {
		verifyErrors[MalformSerial] = err
	}

	if tok.ThisUpdate, err = e.VerifyDate("this_update", row.ThisUpdate, true); err != nil {
		verifyErrors[MalformThisUpdate] = err
	}

	if tok.NextUpdate, err = e.VerifyDate("next_update", row.NextUpdate, false); err != nil {
		verifyErrors[MalformNextUpdate] = err
	}

	if tok.ProductionDate, err = e.VerifyDate("produced_at", row.ProducedAt, false); err != nil {
		verifyErrors[MalformProducedAt] = err
	}

	if tok.RevocationDate, err = e.VerifyDate("rev_date", row.RevDate, false); err != nil {
		verifyErrors[MalformRevDate] = err
	}

	if tok.Reason, err = e.VerifyCRLReason(row.CRLReason); err != nil {
		verifyErrors[UndefinedCRLReason] = err
	}

	if tok.Status, err = e.VerifyStatus(row.Status, row.RevDate, row.CRLReason); err != nil {
		verifyErrors[UndefinedStatus] = err
	}

	if tok.Origins, err = e.VerifyOrigins(row.Origins); err != nil {
		verifyErrors[UndefinedOrigins] = err
	}

	if tok.Raw, err = e.VerifyRaw(row.Raw, row.RowID); err != nil {
		verifyErrors[MalformRaw] = err
	}

	tok.ResponderID = row.ResponderID
	tok.SourceURL = row.SourceURL

	return RowEntry{
		Key:    row.Key,
		Token:  tok,
		Errors: verifyErrors,
	}
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(ASN1GeneralizedTime)
}

func formatStatus(s revocation.Status) RowStatus {
	switch s {
	case revocation.Good:
		return Valid
	case revocation.Revoked:
		return Revoked
	}
	return Unknown
}

// FormatRow formats tok stored under key into a Row.
func (e *RowExchange) FormatRow(key string, tok *revocation.Token) Row {
	row := Row{
		Key:         key,
		RowID:       tok.Digest().String(),
		Type:        tok.Type.String(),
		Status:      string(formatStatus(tok.Status)),
		ThisUpdate:  formatDate(tok.ThisUpdate),
		NextUpdate:  formatDate(tok.NextUpdate),
		ProducedAt:  formatDate(tok.ProductionDate),
		ResponderID: tok.ResponderID,
		SourceURL:   tok.SourceURL,
		Origins:     tok.Origins.String(),
		Raw:         base64.StdEncoding.EncodeToString(tok.Raw),
	}
	if tok.Serial != nil {
		row.Serial = strings.ToUpper(tok.Serial.Text(SerialBase))
	}
	if tok.Status == revocation.Revoked {
		row.RevDate = formatDate(tok.RevocationDate)
		row.CRLReason = crlReasonValue(tok.Reason)
		if row.CRLReason == "" {
			row.CRLReason = UnspecifiedValue
		}
	}
	return row
}
