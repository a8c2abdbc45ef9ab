package dytrust

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/justinas/alice"
	"github.com/rs/zerolog"
	"github.com/yuxki/dytrust/pkg/cache"
	"github.com/yuxki/dytrust/pkg/certs"
	"github.com/yuxki/dytrust/pkg/check"
	"github.com/yuxki/dytrust/pkg/date"
)

// testCreateBundle returns a PEM bundle of a leaf and its self-signed
// issuer, and the issuer.
func testCreateBundle(t *testing.T) ([]byte, *certs.Certificate) {
	t.Helper()

	rootKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	rootTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Handler Root"},
		NotBefore:             testAt.AddDate(-1, 0, 0),
		NotAfter:              testAt.AddDate(5, 0, 0),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
	}
	rootDER, err := x509.CreateCertificate(rand.Reader, rootTmpl, rootTmpl, rootKey.Public(), rootKey)
	if err != nil {
		t.Fatal(err)
	}
	rootX509, err := x509.ParseCertificate(rootDER)
	if err != nil {
		t.Fatal(err)
	}

	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	leafTmpl := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "Handler Leaf"},
		NotBefore:    testAt.AddDate(0, -1, 0),
		NotAfter:     testAt.AddDate(1, 0, 0),
		DNSNames:     []string{"www.example.com"},
		OCSPServer:   []string{"http://ocsp.example.com"},
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTmpl, rootX509, leafKey.Public(), rootKey)
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	for _, der := range [][]byte{leafDER, rootDER} {
		if err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: der}); err != nil {
			t.Fatal(err)
		}
	}

	root, err := certs.ParseCertificate(rootDER)
	if err != nil {
		t.Fatal(err)
	}
	return buf.Bytes(), root
}

func testCreateHandler(t *testing.T, maxRequestBytes int) (http.Handler, []byte) {
	t.Helper()

	bundle, root := testCreateBundle(t)
	pool := certs.NewPool()
	pool.Add(root)

	v := NewValidator(pool, WithNow(date.Fixed(testAt)))
	handler := NewValidationHandler(v, ValidationHandlerSpec{
		MaxRequestBytes: maxRequestBytes,
		Logger:          zerolog.Nop(),
	}, alice.New())

	return handler, bundle
}

func TestValidationHandler_ServeHTTP_Methods(t *testing.T) {
	t.Parallel()

	handler, _ := testCreateHandler(t, 0)

	data := []struct {
		method string
		status int
	}{
		{http.MethodGet, http.StatusMethodNotAllowed},
		{http.MethodPut, http.StatusMethodNotAllowed},
		{http.MethodDelete, http.StatusMethodNotAllowed},
		{http.MethodPost, http.StatusBadRequest},
	}

	for _, d := range data {
		d := d
		t.Run(d.method, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(d.method, "/validate", strings.NewReader("not a bundle"))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != d.status {
				t.Errorf("Expected status is %d but got: %d", d.status, rec.Code)
			}
		})
	}
}

func TestValidationHandler_ServeHTTP_OverMaxRequestSize(t *testing.T) {
	t.Parallel()

	handler, bundle := testCreateHandler(t, 64)

	req := httptest.NewRequest(http.MethodPost, "/validate", bytes.NewReader(bundle))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected status is %d but got: %d", http.StatusRequestEntityTooLarge, rec.Code)
	}
}

func TestValidationHandler_ServeHTTP_MalformedControlTime(t *testing.T) {
	t.Parallel()

	handler, bundle := testCreateHandler(t, 0)

	req := httptest.NewRequest(http.MethodPost, "/validate?at=yesterday", bytes.NewReader(bundle))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status is %d but got: %d", http.StatusBadRequest, rec.Code)
	}
}

func TestValidationHandler_ServeHTTP_Conclusion(t *testing.T) {
	t.Parallel()

	handler, bundle := testCreateHandler(t, 65536)

	data := []struct {
		testCase string
		// test data
		query string
		// want
		indication    check.Indication
		subIndication check.SubIndication
		controlTime   time.Time
	}{
		{
			// No revocation source is configured.
			"NG: revocation data is not available",
			"",
			check.Indeterminate,
			check.TryLater,
			testAt,
		},
		{
			"NG: leaf is not yet valid at the requested time",
			"?at=2020-01-01T00:00:00Z",
			check.Indeterminate,
			check.OutOfBoundsNoPOE,
			time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, d := range data {
		d := d
		t.Run(d.testCase, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodPost, "/validate"+d.query, bytes.NewReader(bundle))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("Expected status is %d but got: %d", http.StatusOK, rec.Code)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Expected Content-Type is application/json but got: %s", ct)
			}

			var res ConclusionResponse
			if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
				t.Fatal(err)
			}
			if res.Indication != string(d.indication) || res.SubIndication != string(d.subIndication) {
				t.Errorf("Expected %s/%s but got: %s/%s",
					d.indication, d.subIndication, res.Indication, res.SubIndication)
			}
			if !res.ControlTime.Equal(d.controlTime) {
				t.Errorf("Expected control time is %v but got: %v", d.controlTime, res.ControlTime)
			}
			if len(res.Results) == 0 {
				t.Error("Expected audit results in response")
			}
		})
	}
}

func TestParseBundle(t *testing.T) {
	t.Parallel()

	bundle, root := testCreateBundle(t)

	leaf, issuers, err := ParseBundle(bundle)
	if err != nil {
		t.Fatal(err)
	}
	if len(issuers) != 1 || issuers[0].Digest() != root.Digest() {
		t.Fatalf("Expected the root as only issuer but got: %v", issuers)
	}
	if !leaf.IssuedBy(root) {
		t.Error("Expected the leaf first in the bundle")
	}

	if _, _, err := ParseBundle(nil); err == nil {
		t.Error("Expected an error for an empty bundle")
	}
}

func TestStatusHandler(t *testing.T) {
	t.Parallel()

	store := cache.NewStore(cache.WithNow(date.Fixed(testAt)))
	if err := store.Insert(context.Background(), "ocsp:aa:01", testGoodToken("leaf")); err != nil {
		t.Fatal(err)
	}
	handler := NewStatusHandler(store.NewReadOnlyStore(), alice.New())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status is %d but got: %d", http.StatusOK, rec.Code)
	}

	var res StatusResponse
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if res.Entries != 1 || !res.UpdatedAt.Equal(testAt) {
		t.Errorf("Unexpected status: %#v", res)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/status", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status is %d but got: %d", http.StatusMethodNotAllowed, rec.Code)
	}
}
