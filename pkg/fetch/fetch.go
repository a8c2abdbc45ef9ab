package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"github.com/yuxki/dytrust/pkg/certs"
	"github.com/yuxki/dytrust/pkg/revocation"
	"golang.org/x/crypto/ocsp"
)

// Mode selects the protocols a Fetcher uses.
type Mode int

const (
	OCSPAndCRL Mode = iota
	OCSPOnly
	CRLOnly
)

const (
	// TimeoutDefault is the per request timeout in seconds.
	TimeoutDefault = 10
	// RetryMaxDefault is the number of retries after a failed request.
	RetryMaxDefault = 2
	// MaxResponseBytesDefault limits the size of fetched CRLs and OCSP
	// responses.
	MaxResponseBytesDefault = 10 << 20
)

var (
	// ErrNoCertificate is returned when the decoded certificates are not
	// available to build an OCSP request.
	ErrNoCertificate = errors.New("decoded certificate is required")
	// ErrUnsupportedURL is returned for distribution points that are not
	// served over HTTP.
	ErrUnsupportedURL = errors.New("unsupported url scheme")
)

// StatusError is returned when a server responds with a non 200 status.
type StatusError struct {
	url    string
	status int
}

func (e StatusError) Error() string {
	return fmt.Sprintf("%s responded with status %d", e.url, e.status)
}

// Fetcher fetches OCSP responses and CRLs of a certificate from the URLs it
// declares. It implements revocation.Fetcher.
type Fetcher struct {
	client   *retryablehttp.Client
	mode     Mode
	maxBytes int64
	logger   zerolog.Logger
}

// FetcherOption is an implementation of the functional options pattern.
type FetcherOption = func(*Fetcher)

// NewFetcher creates and returns a new Fetcher.
func NewFetcher(options ...FetcherOption) *Fetcher {
	client := retryablehttp.NewClient()
	client.RetryMax = RetryMaxDefault
	client.HTTPClient.Timeout = time.Second * time.Duration(TimeoutDefault)

	f := &Fetcher{
		client:   client,
		mode:     OCSPAndCRL,
		maxBytes: MaxResponseBytesDefault,
		logger:   zerolog.Nop(),
	}

	for _, opt := range options {
		opt(f)
	}

	f.client.Logger = leveledLogger{f.logger}

	return f
}

// WithTimeout sets the timeout of one request in seconds.
func WithTimeout(timeout int) func(*Fetcher) {
	return func(f *Fetcher) {
		f.client.HTTPClient.Timeout = time.Second * time.Duration(timeout)
	}
}

// WithRetryMax sets the number of retries after a failed request.
func WithRetryMax(retryMax int) func(*Fetcher) {
	return func(f *Fetcher) {
		f.client.RetryMax = retryMax
	}
}

// WithRetryWait sets the minimum and maximum wait between retries.
func WithRetryWait(minWait, maxWait time.Duration) func(*Fetcher) {
	return func(f *Fetcher) {
		f.client.RetryWaitMin = minWait
		f.client.RetryWaitMax = maxWait
	}
}

func WithMode(mode Mode) func(*Fetcher) {
	return func(f *Fetcher) {
		f.mode = mode
	}
}

func WithMaxResponseBytes(n int64) func(*Fetcher) {
	return func(f *Fetcher) {
		f.maxBytes = n
	}
}

func WithLogger(logger zerolog.Logger) func(*Fetcher) {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

// Fetch tries the OCSP servers of cert first and then its CRL distribution
// points, and returns the first token that decodes. A nil token with a nil
// error is returned when cert declares no usable URL.
func (f *Fetcher) Fetch(ctx context.Context, cert, issuer *certs.Certificate) (*revocation.Token, error) {
	if issuer == nil {
		return nil, revocation.ErrNoIssuer
	}

	var errs []error

	if f.mode != CRLOnly {
		for _, u := range cert.OCSPServers() {
			tok, err := f.FetchOCSP(ctx, u, cert, issuer)
			if err == nil {
				return tok, nil
			}
			f.logger.Debug().Err(err).Str("url", u).Msg("OCSP request failed.")
			errs = append(errs, err)
		}
	}

	if f.mode != OCSPOnly {
		for _, u := range cert.CRLDistributionPoints() {
			tok, err := f.FetchCRL(ctx, u, cert, issuer)
			if err == nil {
				return tok, nil
			}
			f.logger.Debug().Err(err).Str("url", u).Msg("CRL download failed.")
			errs = append(errs, err)
		}
	}

	return nil, errors.Join(errs...)
}

// FetchOCSP posts an OCSP request for cert to the responder at u.
func (f *Fetcher) FetchOCSP(ctx context.Context, u string, cert, issuer *certs.Certificate) (*revocation.Token, error) {
	if err := checkURL(u); err != nil {
		return nil, err
	}
	if cert.X509() == nil || issuer.X509() == nil {
		return nil, ErrNoCertificate
	}

	rawReq, err := ocsp.CreateRequest(cert.X509(), issuer.X509(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create OCSP request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(rawReq))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/ocsp-request")
	req.Header.Set("Accept", "application/ocsp-response")

	body, err := f.do(req, u)
	if err != nil {
		return nil, err
	}

	tok, err := revocation.FromOCSP(body, cert, issuer)
	if err != nil {
		return nil, err
	}
	tok.SourceURL = u
	return tok, nil
}

// FetchCRL downloads the CRL at u and looks up cert in it.
func (f *Fetcher) FetchCRL(ctx context.Context, u string, cert, issuer *certs.Certificate) (*revocation.Token, error) {
	if err := checkURL(u); err != nil {
		return nil, err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/pkix-crl")

	body, err := f.do(req, u)
	if err != nil {
		return nil, err
	}

	tok, err := revocation.FromCRL(body, cert, issuer)
	if err != nil {
		return nil, err
	}
	tok.SourceURL = u
	return tok, nil
}

func (f *Fetcher) do(req *retryablehttp.Request, u string) ([]byte, error) {
	res, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, StatusError{url: u, status: res.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, f.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > f.maxBytes {
		return nil, fmt.Errorf("%s: response exceeds %d bytes", u, f.maxBytes)
	}
	return body, nil
}

func checkURL(u string) error {
	parsed, err := url.Parse(u)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w: %s", ErrUnsupportedURL, u)
	}
	return nil
}
