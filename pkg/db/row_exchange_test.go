package db

import (
	"encoding/base64"
	"math/big"
	"reflect"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/yuxki/dytrust/pkg/revocation"
	"golang.org/x/crypto/ocsp"
)

var testRaw = []byte("crl-blob")

func testRow(modify func(*Row)) Row {
	row := Row{
		Key:        "crl:5e1f:72344BF34067BBA31EF44587CBFB16631332CD23",
		RowID:      digest.FromBytes(testRaw).String(),
		Type:       "crl",
		Status:     "V",
		Serial:     "72344BF34067BBA31EF44587CBFB16631332CD23",
		ThisUpdate: "230809123317Z",
		NextUpdate: "330809123317Z",
		SourceURL:  "http://crl.example.com/ca.crl",
		Origins:    "online-fetch",
		Raw:        base64.StdEncoding.EncodeToString(testRaw),
	}
	if modify != nil {
		modify(&row)
	}
	return row
}

func TestRowExchange_ParseRow(t *testing.T) {
	t.Parallel()
	data := []struct {
		testCase string
		// test data
		row Row
		// want
		nextUpdate    time.Time
		revDate       time.Time
		crlReason     int
		invalidReason InvalidWith
		errMsg        string
	}{
		{
			"OK: valid",
			testRow(nil),
			time.Date(2033, 8, 9, 12, 33, 17, 0, time.UTC),
			time.Time{},
			revocation.ReasonAbsent,
			0,
			"",
		},
		{
			"OK: revoked UTC TIME YY < 50",
			testRow(func(r *Row) {
				r.Status = "R"
				r.RevDate = "230813125631Z"
				r.CRLReason = "unspecified"
			}),
			time.Date(2033, 8, 9, 12, 33, 17, 0, time.UTC),
			time.Date(2023, 8, 13, 12, 56, 31, 0, time.UTC),
			ocsp.Unspecified,
			0,
			"",
		},
		{
			"OK: revoked UTC TIME YY >= 50",
			testRow(func(r *Row) {
				r.Status = "R"
				r.RevDate = "500813125631Z"
				r.CRLReason = "certificateHold"
			}),
			time.Date(2033, 8, 9, 12, 33, 17, 0, time.UTC),
			time.Date(1950, 8, 13, 12, 56, 31, 0, time.UTC),
			ocsp.CertificateHold,
			0,
			"",
		},
		{
			"OK: revoked GeneralizedTime",
			testRow(func(r *Row) {
				r.Status = "R"
				r.NextUpdate = "20330809123317Z"
				r.RevDate = "20230813125631Z"
				r.CRLReason = "keyCompromise"
			}),
			time.Date(2033, 8, 9, 12, 33, 17, 0, time.UTC),
			time.Date(2023, 8, 13, 12, 56, 31, 0, time.UTC),
			ocsp.KeyCompromise,
			0,
			"",
		},
		{
			"OK: no next update",
			testRow(func(r *Row) {
				r.NextUpdate = ""
			}),
			time.Time{},
			time.Time{},
			revocation.ReasonAbsent,
			0,
			"",
		},
		{
			"NG: malformed key",
			testRow(func(r *Row) {
				r.Key = "crl:5e1f"
			}),
			time.Time{},
			time.Time{},
			revocation.ReasonAbsent,
			MalformKey,
			"failed exchange from Row to Token: invalid key: crl:5e1f",
		},
		{
			"NG: undefined type",
			testRow(func(r *Row) {
				r.Type = "SCVP"
			}),
			time.Time{},
			time.Time{},
			revocation.ReasonAbsent,
			UndefinedType,
			"failed exchange from Row to Token: invalid type: SCVP",
		},
		{
			"NG: serial is not hex",
			testRow(func(r *Row) {
				r.Serial = "72344BF34067BBA31EF44587CBFB16631332CDZZ"
			}),
			time.Time{},
			time.Time{},
			revocation.ReasonAbsent,
			MalformSerial,
			"failed exchange from Row to Token: invalid serial: 72344BF34067BBA31EF44587CBFB16631332CDZZ",
		},
		{
			"NG: serial is too long",
			testRow(func(r *Row) {
				r.Serial = "72344BF34067BBA31EF44587CBFB16631332CD2300"
			}),
			time.Time{},
			time.Time{},
			revocation.ReasonAbsent,
			MalformSerial,
			"failed exchange from Row to Token: invalid serial: 72344BF34067BBA31EF44587CBFB16631332CD2300",
		},
		{
			"NG: undefined status",
			testRow(func(r *Row) {
				r.Status = "E"
			}),
			time.Time{},
			time.Time{},
			revocation.ReasonAbsent,
			UndefinedStatus,
			"failed exchange from Row to Token: invalid status: E",
		},
		{
			"NG: valid status with rev_date",
			testRow(func(r *Row) {
				r.RevDate = "230813125631Z"
			}),
			time.Time{},
			time.Time{},
			revocation.ReasonAbsent,
			UndefinedStatus,
			"failed exchange from Row to Token: invalid status: status is V but rev_date exists",
		},
		{
			"NG: revoked status without crl_reason",
			testRow(func(r *Row) {
				r.Status = "R"
				r.RevDate = "230813125631Z"
			}),
			time.Time{},
			time.Time{},
			revocation.ReasonAbsent,
			UndefinedStatus,
			"failed exchange from Row to Token: invalid status: status is R but crl_reason does not exist",
		},
		{
			"NG: this_update is required",
			testRow(func(r *Row) {
				r.ThisUpdate = ""
			}),
			time.Time{},
			time.Time{},
			revocation.ReasonAbsent,
			MalformThisUpdate,
			"failed exchange from Row to Token: invalid this_update: ",
		},
		{
			"NG: malformed next_update",
			testRow(func(r *Row) {
				r.NextUpdate = "3308091233Z"
			}),
			time.Time{},
			time.Time{},
			revocation.ReasonAbsent,
			MalformNextUpdate,
			"failed exchange from Row to Token: invalid next_update: 3308091233Z",
		},
		{
			"NG: undefined crl_reason",
			testRow(func(r *Row) {
				r.Status = "R"
				r.RevDate = "230813125631Z"
				r.CRLReason = "ng"
			}),
			time.Time{},
			time.Time{},
			revocation.ReasonAbsent,
			UndefinedCRLReason,
			"failed exchange from Row to Token: invalid crl_reason: ng",
		},
		{
			"NG: undefined origin",
			testRow(func(r *Row) {
				r.Origins = "online-fetch,mailbox"
			}),
			time.Time{},
			time.Time{},
			revocation.ReasonAbsent,
			UndefinedOrigins,
			"failed exchange from Row to Token: invalid origins: mailbox",
		},
		{
			"NG: raw does not match row id",
			testRow(func(r *Row) {
				r.Raw = base64.StdEncoding.EncodeToString([]byte("other-blob"))
			}),
			time.Time{},
			time.Time{},
			revocation.ReasonAbsent,
			MalformRaw,
			"failed exchange from Row to Token: invalid raw: digest mismatch with " +
				digest.FromBytes(testRaw).String(),
		},
		{
			"NG: raw is not base64",
			testRow(func(r *Row) {
				r.Raw = "%%%"
			}),
			time.Time{},
			time.Time{},
			revocation.ReasonAbsent,
			MalformRaw,
			"failed exchange from Row to Token: invalid raw: not base64 encoded data",
		},
	}

	exchange := NewRowExchange()
	for _, d := range data {
		d := d
		t.Run(d.testCase, func(t *testing.T) {
			t.Parallel()

			entry := exchange.ParseRow(d.row)

			if d.errMsg == "" {
				if entry.Err() != nil {
					t.Fatalf("Unexpected error found: %v", entry.Err())
				}
			} else {
				if entry.Errors[d.invalidReason] == nil {
					t.Fatalf("Expected '%#v' error msg but got no error", d.errMsg)
				}
				if entry.Errors[d.invalidReason].Error() != d.errMsg {
					t.Fatalf(
						"Expected '%#v' error msg but got: %#v", d.errMsg, entry.Errors[d.invalidReason].Error(),
					)
				}
				return
			}

			if entry.Key != d.row.Key {
				t.Errorf("Key is changed: %#v", entry.Key)
			}

			waitSerial, _ := new(big.Int).SetString(d.row.Serial, SerialBase)
			if entry.Token.Serial.Cmp(waitSerial) != 0 {
				t.Errorf("Serial %#v is changed: %#v", d.row.Serial, entry.Token.Serial)
			}

			if !reflect.DeepEqual(entry.Token.NextUpdate, d.nextUpdate) {
				t.Errorf("NextUpdate %#v is changed: %#v", d.nextUpdate, entry.Token.NextUpdate)
			}

			if !reflect.DeepEqual(entry.Token.RevocationDate, d.revDate) {
				t.Errorf("RevDate %#v is changed: %#v", d.revDate, entry.Token.RevocationDate)
			}

			if entry.Token.Reason != d.crlReason {
				t.Errorf("CRLReason %#v is changed: %#v", d.crlReason, entry.Token.Reason)
			}

			if entry.Token.Digest().String() != d.row.RowID {
				t.Errorf("Digest %#v is changed: %#v", d.row.RowID, entry.Token.Digest())
			}
		})
	}
}

func TestRowExchange_FormatRow(t *testing.T) {
	t.Parallel()

	tok := &revocation.Token{
		Type:           revocation.OCSP,
		Status:         revocation.Revoked,
		Serial:         big.NewInt(0x1234),
		ThisUpdate:     time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		NextUpdate:     time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC),
		ProductionDate: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		RevocationDate: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
		Reason:         ocsp.Superseded,
		ResponderID:    "key:0a0b",
		SourceURL:      "http://ocsp.example.com",
		Origins:        revocation.Origins(revocation.OnlineFetch).With(revocation.Archive),
		Raw:            []byte("ocsp-blob"),
	}

	exchange := NewRowExchange()
	row := exchange.FormatRow("ocsp:aa:bb", tok)

	want := Row{
		Key:         "ocsp:aa:bb",
		RowID:       digest.FromBytes([]byte("ocsp-blob")).String(),
		Type:        "ocsp",
		Status:      "R",
		Serial:      "1234",
		ThisUpdate:  "20240501000000Z",
		NextUpdate:  "20240502000000Z",
		ProducedAt:  "20240501000000Z",
		RevDate:     "20240401000000Z",
		CRLReason:   "superseded",
		ResponderID: "key:0a0b",
		SourceURL:   "http://ocsp.example.com",
		Origins:     "online-fetch,archive",
		Raw:         base64.StdEncoding.EncodeToString([]byte("ocsp-blob")),
	}
	if !reflect.DeepEqual(row, want) {
		t.Fatalf("Expected %#v but got %#v", want, row)
	}

	entry := exchange.ParseRow(row)
	if err := entry.Err(); err != nil {
		t.Fatal(err)
	}
	if entry.Token.Origins != tok.Origins {
		t.Errorf("Origins %s is changed: %s", tok.Origins, entry.Token.Origins)
	}
	if !entry.Token.RevocationDate.Equal(tok.RevocationDate) {
		t.Errorf("RevDate %v is changed: %v", tok.RevocationDate, entry.Token.RevocationDate)
	}
}
