package dytrust

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/cloudflare/cfssl/helpers"
	"github.com/justinas/alice"
	"github.com/rs/zerolog"
	"github.com/yuxki/dytrust/pkg/cache"
	"github.com/yuxki/dytrust/pkg/certs"
	"github.com/yuxki/dytrust/pkg/check"
)

// ValidationHandlerSpec is required validation handler specification.
type ValidationHandlerSpec struct {
	// MaxRequestBytes defines the maximum size of a request in bytes. If the content
	// of a request exceeds this parameter, the handler will respond with
	// http.StatusRequestEntityTooLarge.
	MaxRequestBytes int
	// ControlTime is used when the request has no 'at' query parameter. The
	// zero time means the time of the request.
	ControlTime time.Time
	// Logger is specified zerolog.Logger.
	Logger zerolog.Logger
}

func handleNotallowedMethod(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.ServeHTTP(w, r)
	})
}

func handleOverMaxRequestBytes(max int) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if max != 0 {
				if r.ContentLength > int64(max) {
					w.WriteHeader(http.StatusRequestEntityTooLarge)
					return
				}
				r.Body = http.MaxBytesReader(w, r.Body, int64(max))
			}
			h.ServeHTTP(w, r)
		})
	}
}

// ValidationHandler is an implementation of the http.Handler interface.
// It validates a PEM bundle whose first certificate is the target and
// responds with the conclusion as JSON.
type ValidationHandler struct {
	validator *Validator
	spec      ValidationHandlerSpec
}

// NewValidationHandler creates a new instance of dytrust.ValidationHandler.
// It chains the following handlers before the handler that validates.
// (It uses 'https://github.com/justinas/alice' to chain the handlers.)
//   - Send http.StatusMethodNotAllowed unless the request method is POST.
//   - Send http.StatusRequestEntityTooLarge if the size of the request
//     exceeds the value of the variable spec.MaxRequestBytes.
func NewValidationHandler(
	validator *Validator,
	spec ValidationHandlerSpec,
	chain alice.Chain,
) http.Handler {
	chain = chain.Append(handleNotallowedMethod)
	chain = chain.Append(handleOverMaxRequestBytes(spec.MaxRequestBytes))

	return chain.Then(ValidationHandler{
		validator: validator,
		spec:      spec,
	})
}

// ResultResponse is the JSON form of a check.Result.
type ResultResponse struct {
	Subject       string `json:"subject"`
	Message       string `json:"message"`
	Status        string `json:"status"`
	Level         string `json:"level"`
	Error         string `json:"error,omitempty"`
	Indication    string `json:"indication,omitempty"`
	SubIndication string `json:"sub_indication,omitempty"`
}

// ConclusionResponse is the JSON form of a check.Conclusion.
type ConclusionResponse struct {
	Indication    string           `json:"indication"`
	SubIndication string           `json:"sub_indication,omitempty"`
	Message       string           `json:"message,omitempty"`
	ControlTime   time.Time        `json:"control_time"`
	Results       []ResultResponse `json:"results"`
}

// NewConclusionResponse converts c validated at at.
func NewConclusionResponse(c check.Conclusion, at time.Time) ConclusionResponse {
	res := ConclusionResponse{
		Indication:    string(c.Indication),
		SubIndication: string(c.SubIndication),
		Message:       c.MessageTag,
		ControlTime:   at,
		Results:       make([]ResultResponse, 0, len(c.Results)),
	}
	for _, r := range c.Results {
		res.Results = append(res.Results, ResultResponse{
			Subject:       r.Subject,
			Message:       r.MessageTag,
			Status:        string(r.Status),
			Level:         r.Level.String(),
			Error:         r.ErrorTag,
			Indication:    string(r.Indication),
			SubIndication: string(r.SubIndication),
		})
	}
	return res
}

// ErrEmptyBundle is returned for a PEM bundle without any certificate.
var ErrEmptyBundle = errors.New("no certificate in bundle")

// ParseBundle parses a PEM bundle into the target certificate and its
// issuers.
func ParseBundle(pemBytes []byte) (*certs.Certificate, []*certs.Certificate, error) {
	xcs, err := helpers.ParseCertificatesPEM(pemBytes)
	if err != nil {
		return nil, nil, err
	}
	if len(xcs) == 0 {
		return nil, nil, ErrEmptyBundle
	}

	parsed := make([]*certs.Certificate, 0, len(xcs))
	for _, xc := range xcs {
		c, err := certs.FromX509(xc)
		if err != nil {
			return nil, nil, err
		}
		parsed = append(parsed, c)
	}

	return parsed[0], parsed[1:], nil
}

func (h ValidationHandler) controlTime(r *http.Request) (time.Time, error) {
	if s := r.URL.Query().Get("at"); s != "" {
		return time.Parse(time.RFC3339, s)
	}
	if !h.spec.ControlTime.IsZero() {
		return h.spec.ControlTime, nil
	}
	return h.validator.now(), nil
}

// ServeHTTP handles a validation request with following steps.
//   - Parse the control time from the 'at' query parameter (RFC 3339).
//     If it is malformed, it sends http.StatusBadRequest.
//   - Parse the PEM bundle of the body.
//     If it is malformed, it sends http.StatusBadRequest.
//   - Validate the chain and send the conclusion.
func (h ValidationHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Set logger attributes same as access log
	logger := h.spec.Logger.With().Str("ip", r.RemoteAddr).Str("user_agent", r.UserAgent()).Logger()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		logger.Error().Err(err).Msg("")
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		return
	}

	at, err := h.controlTime(r)
	if err != nil {
		logger.Debug().Err(err).Msg("Malformed control time.")
		http.Error(w, "malformed control time", http.StatusBadRequest)
		return
	}

	leaf, issuers, err := ParseBundle(body)
	if err != nil {
		logger.Debug().Err(err).Msg("Malformed certificate bundle.")
		http.Error(w, "malformed certificate bundle", http.StatusBadRequest)
		return
	}

	logger = logger.With().Str("certificate", leaf.String()).Logger()
	logger.Debug().Msg("Received validation request.")

	ctx := logger.WithContext(r.Context())
	conclusion := h.validator.Validate(ctx, leaf, issuers, at)

	w.Header().Add("Content-Type", "application/json")
	err = json.NewEncoder(w).Encode(NewConclusionResponse(conclusion, at))
	if err != nil {
		logger.Error().Err(err).Msg("")
	}
}

// StatusResponse describes the in-memory revocation cache.
type StatusResponse struct {
	Entries   int       `json:"entries"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewStatusHandler returns a handler that reports the size and the last
// update of the in-memory revocation cache.
func NewStatusHandler(store *cache.StoreRO, chain alice.Chain) http.Handler {
	return chain.ThenFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Add("Content-Type", "application/json")
		err := json.NewEncoder(w).Encode(StatusResponse{
			Entries:   store.Len(),
			UpdatedAt: store.UpdatedAt(),
		})
		if err != nil {
			zerolog.Ctx(r.Context()).Error().Err(err).Msg("")
		}
	})
}
