package dytrust

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/yuxki/dytrust/pkg/certs"
	"github.com/yuxki/dytrust/pkg/check"
	"github.com/yuxki/dytrust/pkg/date"
	"github.com/yuxki/dytrust/pkg/names"
	"github.com/yuxki/dytrust/pkg/policy"
	"github.com/yuxki/dytrust/pkg/revocation"
)

// Validator validates a certificate with its issuers at a control time.
//
// A validation builds the chain, cuts it at the first trust anchor and runs
// the extension checks, the name constraints, the policy tree and the
// revocation checks of every certificate that is neither trusted nor
// self-signed. Every input is computed before the checks run.
type Validator struct {
	trust       certs.TrustStore
	source      revocation.Source
	freshness   revocation.Freshness
	names       *names.Evaluator
	policy      *policy.Evaluator
	constraints Constraints
	now         date.Now
	logger      zerolog.Logger
}

// ValidatorOption is an implementation of the functional options pattern.
type ValidatorOption = func(*Validator)

// NewValidator creates and returns a new Validator. Without a revocation
// source no revocation data is ever available.
func NewValidator(trust certs.TrustStore, options ...ValidatorOption) *Validator {
	v := &Validator{
		trust:  trust,
		source: revocation.NewOffline(),
		names:  names.NewEvaluator(),
		policy: policy.NewEvaluator(),
		now:    date.NowGMT,
		logger: zerolog.Nop(),
	}

	for _, opt := range options {
		opt(v)
	}

	return v
}

func WithRevocationSource(source revocation.Source) func(*Validator) {
	return func(v *Validator) {
		v.source = source
	}
}

// WithFreshness sets the rules deciding whether revocation data is fresh at
// the control time.
func WithFreshness(f revocation.Freshness) func(*Validator) {
	return func(v *Validator) {
		v.freshness = f
	}
}

func WithNameEvaluator(e *names.Evaluator) func(*Validator) {
	return func(v *Validator) {
		v.names = e
	}
}

func WithPolicyEvaluator(e *policy.Evaluator) func(*Validator) {
	return func(v *Validator) {
		v.policy = e
	}
}

func WithConstraints(c Constraints) func(*Validator) {
	return func(v *Validator) {
		v.constraints = c
	}
}

func WithNow(now date.Now) func(*Validator) {
	return func(v *Validator) {
		v.now = now
	}
}

func WithLogger(logger zerolog.Logger) func(*Validator) {
	return func(v *Validator) {
		v.logger = logger
	}
}

// Validate validates leaf with issuers at the control time at. The zero
// time means now.
func (v *Validator) Validate(
	ctx context.Context, leaf *certs.Certificate, issuers []*certs.Certificate, at time.Time,
) check.Conclusion {
	if at.IsZero() {
		at = v.now()
	}

	subject := ""
	if leaf != nil {
		subject = leaf.String()
	}

	chain, err := certs.Build(leaf, issuers)
	built := v.newCheck(CheckChainBuilt, subject, msgChainBuilt, errChainBuilt, check.NoCertificateChainFound)
	built.Fatal = true
	built.Level = check.Fail
	built.Process = passIf(err == nil)
	if err != nil {
		v.logger.Debug().Err(err).Str("certificate", subject).Msg("Chain could not be built.")
		return check.Run([]check.Check{built})
	}

	return v.ValidateChain(ctx, chain, at, built)
}

// ValidateChain validates an already built chain at the control time at.
// The prepended checks run first.
func (v *Validator) ValidateChain(
	ctx context.Context, chain *certs.Chain, at time.Time, prepended ...check.Check,
) check.Conclusion {
	if at.IsZero() {
		at = v.now()
	}

	checks := make([]check.Check, 0, len(prepended)+chain.Len()*8)
	checks = append(checks, prepended...)

	anchor := v.findAnchor(chain, at)
	ta := v.newCheck(CheckTrustAnchor, chain.Leaf().String(), msgTrustAnchor, errTrustAnchor,
		check.NoCertificateChainFound)
	ta.Process = passIf(anchor >= 0)
	checks = append(checks, ta)
	if anchor >= 0 {
		chain = chain.Truncate(anchor + 1)
	}

	checks = append(checks, v.certificateChecks(chain, anchor, at)...)
	checks = append(checks, v.chainChecks(chain, anchor)...)
	checks = append(checks, v.revocationChecks(ctx, chain, anchor, at)...)

	conclusion := check.Run(checks)
	v.logger.Debug().
		Str("certificate", chain.Leaf().String()).
		Str("indication", string(conclusion.Indication)).
		Str("sub_indication", string(conclusion.SubIndication)).
		Msg("Chain validated.")

	return conclusion
}

// findAnchor returns the index of the first trusted certificate, or -1.
func (v *Validator) findAnchor(chain *certs.Chain, at time.Time) int {
	for i, cert := range chain.Forward() {
		if v.trust != nil && v.trust.IsTrusted(cert, at) {
			return i
		}
	}
	return -1
}

func (v *Validator) certificateChecks(chain *certs.Chain, anchor int, at time.Time) []check.Check {
	var checks []check.Check

	for i, cert := range chain.Forward() {
		if i == anchor {
			continue
		}
		subject := cert.String()

		c := v.newCheck(CheckValidityRange, subject, msgValidityRange, errValidityRange, check.OutOfBoundsNoPOE)
		c.Process = passIf(cert.Validity().Covers(at))
		checks = append(checks, c)

		if i > 0 {
			c = v.newCheck(CheckIntermediateCA, subject, msgIntermediateCA, errIntermediateCA,
				check.ChainConstraintsFailure)
			c.Process = passIf(cert.IsCA())
			checks = append(checks, c)

			c = v.newCheck(CheckKeyCertSign, subject, msgKeyCertSign, errKeyCertSign, check.ChainConstraintsFailure)
			c.Process = passIf(canSignCertificates(cert))
			checks = append(checks, c)

			c = v.newCheck(CheckPathLength, subject, msgPathLength, errPathLength, check.ChainConstraintsFailure)
			c.Process = passIf(pathLengthRespected(chain, i))
			checks = append(checks, c)
		}

		unsupported := unsupportedCriticalExtensions(cert)
		if len(unsupported) != 0 {
			v.logger.Debug().
				Str("certificate", subject).
				Str("extensions", strings.Join(unsupported, ",")).
				Msg("Unsupported critical extensions.")
		}
		c = v.newCheck(CheckCriticalExtensions, subject, msgCriticalExtensions, errCriticalExtensions,
			check.ChainConstraintsFailure)
		c.Process = passIf(len(unsupported) == 0)
		checks = append(checks, c)

		c = v.newCheck(CheckNoRevAvail, subject, msgNoRevAvail, errNoRevAvail, check.CertificateChainGeneralFailure)
		c.Process = passIf(noRevAvailConsistent(cert))
		checks = append(checks, c)
	}

	return checks
}

// certificationPath returns the chain without its trust anchor, or nil when
// the target itself is trusted. Without a trusted certificate, a self-signed
// top certificate is taken as the prospective anchor.
func certificationPath(chain *certs.Chain, anchor int) *certs.Chain {
	top := chain.Len() - 1
	if anchor < 0 {
		if top == 0 || !chain.At(top).IsSelfSigned() {
			return chain
		}
		anchor = top
	}
	if anchor == 0 {
		return nil
	}
	return chain.Truncate(anchor)
}

func (v *Validator) chainChecks(chain *certs.Chain, anchor int) []check.Check {
	subject := chain.Leaf().String()
	checks := make([]check.Check, 0, 3)

	path := certificationPath(chain, anchor)

	namesOK := true
	result := policy.Result{Valid: true}
	if path == nil {
		for _, p := range chain.Leaf().Policies() {
			result.ValidPolicies = append(result.ValidPolicies, p.OID)
		}
	} else {
		var violation names.Violation
		violation, namesOK = v.names.Check(path)
		if !namesOK {
			v.logger.Debug().
				Int("index", violation.Index).
				Str("name", violation.Name.String()).
				Bool("excluded", violation.Excluded).
				Msg("Name is not allowed by name constraints.")
		}
		result = v.policy.Process(path)
	}

	c := v.newCheck(CheckNameConstraints, subject, msgNameConstraints, errNameConstraints,
		check.ChainConstraintsFailure)
	c.Process = passIf(namesOK)
	checks = append(checks, c)

	sub := check.ChainConstraintsFailure
	if result.Err != nil {
		v.logger.Debug().Err(result.Err).Str("certificate", subject).Msg("Policy processing error.")
		sub = check.PolicyProcessingError
	}
	c = v.newCheck(CheckPolicyTree, subject, msgPolicyTree, errPolicyTree, sub)
	c.Process = passIf(result.Valid)
	checks = append(checks, c)

	if rule := v.constraints.AcceptablePolicies; rule != nil {
		c = v.newCheck(CheckAcceptablePolicies, subject, msgAcceptablePolicies, errAcceptablePolicies,
			check.ChainConstraintsFailure)
		c.Level = rule.Level
		c.Process = passIf(rule.Accepts(result.ValidPolicies...))
		checks = append(checks, c)
	}

	return checks
}

// needsRevocation reports whether the revocation status of the certificate
// at index i is checked.
func needsRevocation(cert *certs.Certificate, i, anchor int) bool {
	return i != anchor && !cert.IsSelfSigned() && !cert.NoRevAvail()
}

func (v *Validator) revocationChecks(
	ctx context.Context, chain *certs.Chain, anchor int, at time.Time,
) []check.Check {
	var checks []check.Check

	for i, cert := range chain.Forward() {
		if !needsRevocation(cert, i, anchor) {
			continue
		}
		subject := cert.String()
		issuer := chain.Issuer(i)

		tok, err := v.source.Revocation(ctx, cert, issuer)
		if err != nil {
			v.logger.Warn().Err(err).Str("certificate", subject).Msg("Revocation data could not be resolved.")
			tok = nil
		}

		c := v.newCheck(CheckRevocationAvailable, subject, msgRevocationAvailable, errRevocationAvailable,
			check.TryLater)
		c.Process = passIf(tok != nil)
		checks = append(checks, c)
		if tok == nil {
			continue
		}

		c = v.newCheck(CheckRevocationFresh, subject, msgRevocationFresh, errRevocationFresh, check.TryLater)
		c.Process = passIf(v.freshness.IsFresh(tok, issuer, at))
		checks = append(checks, c)

		if rule := v.constraints.RevocationMaxAge; rule != nil {
			age := int64(at.Sub(tok.ThisUpdate) / time.Second)
			c = v.newCheck(CheckRevocationMaxAge, subject, msgRevocationMaxAge, errRevocationMaxAge, check.TryLater)
			c.Level = rule.Level
			c.Process = passIf(rule.Within(age))
			checks = append(checks, c)
		}

		c = v.newCheck(CheckRevocationOnHold, subject, msgRevocationOnHold, errRevocationOnHold, check.TryLater)
		c.Process = passIf(!tok.OnHold())
		checks = append(checks, c)

		// Known deviation: a certificate revoked at or before the control
		// time concludes INDETERMINATE, not FAILED, since no proof of
		// existence before the revocation date is available here.
		sub, errTag := check.RevokedNoPOE, errNotRevoked
		if i > 0 {
			sub, errTag = check.RevokedCANoPOE, errNotRevokedCA
		}
		c = v.newCheck(CheckNotRevoked, subject, msgNotRevoked, errTag, sub)
		c.Process = passIf(!tok.RevokedAt(at))
		checks = append(checks, c)
	}

	return checks
}
