package revocation

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/yuxki/dytrust/pkg/certs"
	"golang.org/x/crypto/ocsp"
)

type testPKI struct {
	caKey  crypto.Signer
	caX509 *x509.Certificate
	ca     *certs.Certificate
	leaf   *certs.Certificate
}

var (
	testEpoch = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	pkiOnce sync.Once
	pki     testPKI
)

func mustCert(t *testing.T, der []byte) *certs.Certificate {
	t.Helper()

	cert, err := certs.ParseCertificate(der)
	if err != nil {
		t.Fatal(err)
	}
	return cert
}

// newTestPKI returns a CA and a leaf certificate shared by the package
// tests.
func newTestPKI(t *testing.T) testPKI {
	t.Helper()

	pkiOnce.Do(func() {
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			t.Fatal(err)
		}
		caTmpl := &x509.Certificate{
			SerialNumber:          big.NewInt(1),
			Subject:               pkix.Name{CommonName: "Test CA"},
			NotBefore:             testEpoch.AddDate(-1, 0, 0),
			NotAfter:              testEpoch.AddDate(5, 0, 0),
			IsCA:                  true,
			BasicConstraintsValid: true,
			KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		}
		caDER, err := x509.CreateCertificate(rand.Reader, caTmpl, caTmpl, key.Public(), key)
		if err != nil {
			t.Fatal(err)
		}
		caX509, err := x509.ParseCertificate(caDER)
		if err != nil {
			t.Fatal(err)
		}

		leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			t.Fatal(err)
		}
		leafTmpl := &x509.Certificate{
			SerialNumber:          big.NewInt(0x1234),
			Subject:               pkix.Name{CommonName: "leaf.example.com"},
			NotBefore:             testEpoch.AddDate(0, -1, 0),
			NotAfter:              testEpoch.AddDate(1, 0, 0),
			BasicConstraintsValid: true,
			CRLDistributionPoints: []string{"http://crl.example.com/ca.crl"},
			OCSPServer:            []string{"http://ocsp.example.com"},
		}
		leafDER, err := x509.CreateCertificate(rand.Reader, leafTmpl, caX509, leafKey.Public(), key)
		if err != nil {
			t.Fatal(err)
		}

		pki = testPKI{
			caKey:  key,
			caX509: caX509,
			ca:     mustCert(t, caDER),
			leaf:   mustCert(t, leafDER),
		}
	})

	return pki
}

func (p testPKI) crl(t *testing.T, thisUpdate, nextUpdate time.Time, revoked ...x509.RevocationListEntry) []byte {
	t.Helper()

	der, err := x509.CreateRevocationList(rand.Reader, &x509.RevocationList{
		Number:                    big.NewInt(thisUpdate.Unix()),
		ThisUpdate:                thisUpdate,
		NextUpdate:                nextUpdate,
		RevokedCertificateEntries: revoked,
	}, p.caX509, p.caKey)
	if err != nil {
		t.Fatal(err)
	}
	return der
}

func (p testPKI) ocsp(t *testing.T, tmpl ocsp.Response) []byte {
	t.Helper()

	if tmpl.SerialNumber == nil {
		tmpl.SerialNumber = p.leaf.SerialNumber()
	}
	der, err := ocsp.CreateResponse(p.caX509, p.caX509, tmpl, p.caKey)
	if err != nil {
		t.Fatal(err)
	}
	return der
}

// stubSource returns its token or error and counts calls.
type stubSource struct {
	mu    sync.Mutex
	tok   *Token
	err   error
	calls int
}

func (s *stubSource) Revocation(_ context.Context, _, _ *certs.Certificate) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.tok == nil {
		return nil, s.err
	}
	return s.tok.Clone(), s.err
}

func (s *stubSource) Fetch(ctx context.Context, cert, issuer *certs.Certificate) (*Token, error) {
	return s.Revocation(ctx, cert, issuer)
}

func (s *stubSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// memRepository is a map Repository counting writes.
type memRepository struct {
	mu      sync.Mutex
	rows    map[string]*Token
	inserts int
	updates int
	removes int
}

func newMemRepository() *memRepository {
	return &memRepository{rows: make(map[string]*Token)}
}

func (m *memRepository) Find(_ context.Context, key string) (*Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.rows[key]
	if !ok {
		return nil, ErrNotFound
	}
	return tok.Clone(), nil
}

func (m *memRepository) Insert(_ context.Context, key string, tok *Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[key]; ok {
		return ErrKeyExists
	}
	m.inserts++
	m.rows[key] = tok.Clone()
	return nil
}

func (m *memRepository) Update(_ context.Context, key string, tok *Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[key]; !ok {
		return ErrNotFound
	}
	m.updates++
	m.rows[key] = tok.Clone()
	return nil
}

func (m *memRepository) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[key]; !ok {
		return ErrNotFound
	}
	m.removes++
	delete(m.rows, key)
	return nil
}

// failingRepository fails every write.
type failingRepository struct {
	*memRepository
	err error
}

func (f *failingRepository) Insert(context.Context, string, *Token) error { return f.err }
func (f *failingRepository) Update(context.Context, string, *Token) error { return f.err }
