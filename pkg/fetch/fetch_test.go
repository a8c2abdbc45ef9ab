package fetch

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/yuxki/dytrust/pkg/certs"
	"github.com/yuxki/dytrust/pkg/revocation"
	"golang.org/x/crypto/ocsp"
)

var testEpoch = time.Now().UTC().Truncate(time.Second)

type testPKI struct {
	caKey  crypto.Signer
	caX509 *x509.Certificate
	ca     *certs.Certificate
	leaf   *certs.Certificate
}

func newTestPKI(t *testing.T, ocspURL, crlURL string) testPKI {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	caTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Fetch Test CA"},
		NotBefore:             testEpoch.AddDate(-1, 0, 0),
		NotAfter:              testEpoch.AddDate(5, 0, 0),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTmpl, caTmpl, key.Public(), key)
	require.NoError(t, err)
	caX509, err := x509.ParseCertificate(caDER)
	require.NoError(t, err)

	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	leafTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(0x1234),
		Subject:               pkix.Name{CommonName: "leaf.example.com"},
		NotBefore:             testEpoch.AddDate(0, -1, 0),
		NotAfter:              testEpoch.AddDate(1, 0, 0),
		BasicConstraintsValid: true,
	}
	if ocspURL != "" {
		leafTmpl.OCSPServer = []string{ocspURL}
	}
	if crlURL != "" {
		leafTmpl.CRLDistributionPoints = []string{crlURL}
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTmpl, caX509, leafKey.Public(), key)
	require.NoError(t, err)

	ca, err := certs.ParseCertificate(caDER)
	require.NoError(t, err)
	leaf, err := certs.ParseCertificate(leafDER)
	require.NoError(t, err)

	return testPKI{caKey: key, caX509: caX509, ca: ca, leaf: leaf}
}

func (p testPKI) crl(t *testing.T, revoked ...x509.RevocationListEntry) []byte {
	t.Helper()

	der, err := x509.CreateRevocationList(rand.Reader, &x509.RevocationList{
		Number:                    big.NewInt(1),
		ThisUpdate:                testEpoch.Add(-time.Hour),
		NextUpdate:                testEpoch.Add(24 * time.Hour),
		RevokedCertificateEntries: revoked,
	}, p.caX509, p.caKey)
	require.NoError(t, err)
	return der
}

func (p testPKI) ocsp(t *testing.T, status int) []byte {
	t.Helper()

	tmpl := ocsp.Response{
		Status:       status,
		SerialNumber: p.leaf.SerialNumber(),
		ThisUpdate:   testEpoch.Add(-time.Hour),
		NextUpdate:   testEpoch.Add(time.Hour),
	}
	if status == ocsp.Revoked {
		tmpl.RevokedAt = testEpoch.Add(-2 * time.Hour)
		tmpl.RevocationReason = ocsp.KeyCompromise
	}
	der, err := ocsp.CreateResponse(p.caX509, p.caX509, tmpl, p.caKey)
	require.NoError(t, err)
	return der
}

// revocationServer serves an OCSP responder at /ocsp and a CRL at /ca.crl.
type revocationServer struct {
	*httptest.Server
	ocspBody   atomic.Value
	crlBody    atomic.Value
	ocspStatus atomic.Int32
	ocspCalls  atomic.Int32
	crlCalls   atomic.Int32
}

func newRevocationServer(t *testing.T) *revocationServer {
	t.Helper()

	s := &revocationServer{}
	s.ocspStatus.Store(http.StatusOK)
	mux := http.NewServeMux()
	mux.HandleFunc("/ocsp", func(w http.ResponseWriter, r *http.Request) {
		s.ocspCalls.Add(1)
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/ocsp-request" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if _, err := ocsp.ParseRequest(raw); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		status := int(s.ocspStatus.Load())
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/ocsp-response")
		w.Write(s.ocspBody.Load().([]byte))
	})
	mux.HandleFunc("/ca.crl", func(w http.ResponseWriter, r *http.Request) {
		s.crlCalls.Add(1)
		w.Header().Set("Content-Type", "application/pkix-crl")
		w.Write(s.crlBody.Load().([]byte))
	})
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func TestFetcher_Fetch(t *testing.T) {
	t.Parallel()

	data := []struct {
		testCase string
		// test data
		mode       Mode
		ocspStatus int
		ocspResult int
		revoked    bool
		// want
		typ       revocation.Type
		status    revocation.Status
		ocspCalls int32
		crlCalls  int32
	}{
		{"OCSP good", OCSPAndCRL, http.StatusOK, ocsp.Good, false, revocation.OCSP, revocation.Good, 1, 0},
		{"OCSP revoked", OCSPAndCRL, http.StatusOK, ocsp.Revoked, false, revocation.OCSP, revocation.Revoked, 1, 0},
		{"OCSP fails, CRL used", OCSPAndCRL, http.StatusNotFound, ocsp.Good, true, revocation.CRL, revocation.Revoked, 1, 1},
		{"CRL only", CRLOnly, http.StatusOK, ocsp.Good, false, revocation.CRL, revocation.Good, 0, 1},
	}

	for _, d := range data {
		d := d
		t.Run(d.testCase, func(t *testing.T) {
			t.Parallel()

			srv := newRevocationServer(t)
			p := newTestPKI(t, srv.URL+"/ocsp", srv.URL+"/ca.crl")
			srv.ocspStatus.Store(int32(d.ocspStatus))
			srv.ocspBody.Store(p.ocsp(t, d.ocspResult))
			if d.revoked {
				srv.crlBody.Store(p.crl(t, x509.RevocationListEntry{
					SerialNumber:   p.leaf.SerialNumber(),
					RevocationTime: testEpoch.Add(-2 * time.Hour),
				}))
			} else {
				srv.crlBody.Store(p.crl(t))
			}

			f := NewFetcher(WithMode(d.mode), WithRetryMax(0), WithTimeout(5))
			tok, err := f.Fetch(context.Background(), p.leaf, p.ca)
			require.NoError(t, err)
			require.NotNil(t, tok)
			require.Equal(t, d.typ, tok.Type)
			require.Equal(t, d.status, tok.Status)
			require.Equal(t, d.ocspCalls, srv.ocspCalls.Load())
			require.Equal(t, d.crlCalls, srv.crlCalls.Load())
			require.NoError(t, tok.Validate())

			if d.typ == revocation.OCSP {
				require.Equal(t, srv.URL+"/ocsp", tok.SourceURL)
			} else {
				require.Equal(t, srv.URL+"/ca.crl", tok.SourceURL)
			}
		})
	}
}

func TestFetcher_Fetch_NoURL(t *testing.T) {
	t.Parallel()

	p := newTestPKI(t, "", "")
	tok, err := NewFetcher().Fetch(context.Background(), p.leaf, p.ca)
	require.NoError(t, err)
	require.Nil(t, tok)

	_, err = NewFetcher().Fetch(context.Background(), p.leaf, nil)
	require.ErrorIs(t, err, revocation.ErrNoIssuer)
}

func TestFetcher_Fetch_Errors(t *testing.T) {
	t.Parallel()

	srv := newRevocationServer(t)
	p := newTestPKI(t, srv.URL+"/ocsp", "ldap://ldap.example.com/cn=CA")
	srv.ocspStatus.Store(http.StatusNotFound)

	_, err := NewFetcher(WithRetryMax(0)).Fetch(context.Background(), p.leaf, p.ca)
	require.Error(t, err)

	var statusErr StatusError
	require.True(t, errors.As(err, &statusErr))
	require.ErrorIs(t, err, ErrUnsupportedURL)
}

func TestFetcher_MaxResponseBytes(t *testing.T) {
	t.Parallel()

	srv := newRevocationServer(t)
	p := newTestPKI(t, "", srv.URL+"/ca.crl")
	srv.crlBody.Store(p.crl(t))

	_, err := NewFetcher(WithMaxResponseBytes(16)).FetchCRL(
		context.Background(), srv.URL+"/ca.crl", p.leaf, p.ca,
	)
	require.ErrorContains(t, err, "response exceeds 16 bytes")
}

func TestFetcher_Online(t *testing.T) {
	t.Parallel()

	srv := newRevocationServer(t)
	p := newTestPKI(t, srv.URL+"/ocsp", "")
	srv.ocspBody.Store(p.ocsp(t, ocsp.Good))

	online := revocation.NewOnline(NewFetcher())
	tok, err := online.Revocation(context.Background(), p.leaf, p.ca)
	require.NoError(t, err)
	require.True(t, tok.Origins.Has(revocation.OnlineFetch))
}
