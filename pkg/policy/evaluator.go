package policy

import (
	"errors"
	"slices"

	"github.com/rs/zerolog"
	"github.com/yuxki/dytrust/pkg/certs"
)

// ErrAnyPolicyMapping is reported when a policyMappings extension maps to or
// from anyPolicy.
var ErrAnyPolicyMapping = errors.New("policy mapping contains anyPolicy")

// Result is the outcome of policy processing.
type Result struct {
	Valid bool
	// Tree is nil once the valid_policy_tree has collapsed.
	Tree           *Node
	ExplicitPolicy int
	// ValidPolicies are the policies of the tree nodes at the target depth.
	ValidPolicies []string
	Err           error
}

// Evaluator runs the certificate policy processing of RFC 5280 6.1.2 to
// 6.1.5 over a chain.
type Evaluator struct {
	logger                  zerolog.Logger
	initialExplicitPolicy   bool
	initialAnyPolicyInhibit bool
	initialMappingInhibit   bool
}

// EvaluatorOption is an implementation of the functional options pattern.
type EvaluatorOption = func(*Evaluator)

// NewEvaluator creates and returns a new Evaluator.
func NewEvaluator(options ...EvaluatorOption) *Evaluator {
	e := &Evaluator{logger: zerolog.Nop()}

	for _, opt := range options {
		opt(e)
	}

	return e
}

func WithLogger(logger zerolog.Logger) func(*Evaluator) {
	return func(e *Evaluator) {
		e.logger = logger
	}
}

// WithInitialExplicitPolicy sets the initial-explicit-policy input.
func WithInitialExplicitPolicy() func(*Evaluator) {
	return func(e *Evaluator) {
		e.initialExplicitPolicy = true
	}
}

// WithInitialAnyPolicyInhibit sets the initial-any-policy-inhibit input.
func WithInitialAnyPolicyInhibit() func(*Evaluator) {
	return func(e *Evaluator) {
		e.initialAnyPolicyInhibit = true
	}
}

// WithInitialPolicyMappingInhibit sets the initial-policy-mapping-inhibit
// input.
func WithInitialPolicyMappingInhibit() func(*Evaluator) {
	return func(e *Evaluator) {
		e.initialMappingInhibit = true
	}
}

// Evaluate reports whether the chain satisfies its policy requirements.
func (e *Evaluator) Evaluate(chain *certs.Chain) bool {
	return e.Process(chain).Valid
}

type state struct {
	tree             *Node
	explicitPolicy   int
	inhibitAnyPolicy int
	policyMapping    int
}

func (e *Evaluator) initialState(n int) state {
	s := state{
		tree:             NewTree(),
		explicitPolicy:   n + 1,
		inhibitAnyPolicy: n + 1,
		policyMapping:    n + 1,
	}
	if e.initialExplicitPolicy {
		s.explicitPolicy = 0
	}
	if e.initialAnyPolicyInhibit {
		s.inhibitAnyPolicy = 0
	}
	if e.initialMappingInhibit {
		s.policyMapping = 0
	}
	return s
}

// Process walks the certification path from the certificate issued by the
// trust anchor to the target certificate. The trust anchor is not part of
// chain. The path fails when explicit_policy reaches 0 while the tree is
// null.
func (e *Evaluator) Process(chain *certs.Chain) Result {
	n := chain.Len()
	s := e.initialState(n)

	for idx, cert := range chain.Reverse() {
		depth := n - idx
		final := idx == 0

		if cert.HasPolicies() {
			anyAllowed := s.inhibitAnyPolicy > 0 || (!final && cert.IsSelfIssued())
			s.tree = processPolicies(s.tree, cert.Policies(), depth, anyAllowed)
		} else {
			s.tree = nil
		}

		if final {
			if s.explicitPolicy > 0 {
				s.explicitPolicy--
			}
			if cert.PolicyConstraints().RequireExplicitPolicy == 0 {
				s.explicitPolicy = 0
			}
			break
		}

		var err error
		if s.tree, err = applyMappings(s.tree, cert.PolicyMappings(), depth, s.policyMapping > 0); err != nil {
			e.logger.Debug().Err(err).Str("certificate", cert.String()).Msg("")
			return Result{Valid: false, ExplicitPolicy: s.explicitPolicy, Err: err}
		}

		s.prepareNext(cert)
	}

	res := Result{
		Tree:           s.tree,
		ExplicitPolicy: s.explicitPolicy,
	}
	if s.tree != nil {
		res.ValidPolicies = s.tree.Policies(n)
	}
	res.Valid = !(s.explicitPolicy == 0 && s.tree == nil)

	e.logger.Debug().
		Int("explicit_policy", res.ExplicitPolicy).
		Bool("null_tree", res.Tree == nil).
		Strs("valid_policies", res.ValidPolicies).
		Bool("valid", res.Valid).
		Msg("Policy processing finished.")

	return res
}

// prepareNext updates the counters between certificates, RFC 5280 6.1.4
// (h), (i) and (j).
func (s *state) prepareNext(cert *certs.Certificate) {
	if !cert.IsSelfIssued() {
		if s.explicitPolicy > 0 {
			s.explicitPolicy--
		}
		if s.policyMapping > 0 {
			s.policyMapping--
		}
		if s.inhibitAnyPolicy > 0 {
			s.inhibitAnyPolicy--
		}
	}

	pc := cert.PolicyConstraints()
	if pc.RequireExplicitPolicy != certs.Absent && pc.RequireExplicitPolicy < s.explicitPolicy {
		s.explicitPolicy = pc.RequireExplicitPolicy
	}
	if pc.InhibitPolicyMapping != certs.Absent && pc.InhibitPolicyMapping < s.policyMapping {
		s.policyMapping = pc.InhibitPolicyMapping
	}
	if iap := cert.InhibitAnyPolicy(); iap != certs.Absent && iap < s.inhibitAnyPolicy {
		s.inhibitAnyPolicy = iap
	}
}

// processPolicies adds the certificate policies at depth and prunes the
// tree, RFC 5280 6.1.3 (d).
func processPolicies(tree *Node, policies []certs.PolicyInformation, depth int, anyAllowed bool) *Node {
	if tree == nil {
		return nil
	}

	parents := tree.AtDepth(depth - 1)
	var anyPolicy *certs.PolicyInformation

	for i := range policies {
		p := policies[i]
		if p.OID == certs.AnyPolicy {
			anyPolicy = &policies[i]
			continue
		}

		matched := false
		var anyParent *Node
		for _, node := range parents {
			if node.ValidPolicy == certs.AnyPolicy {
				anyParent = node
			}
			if node.Expects(p.OID) || node.Expects(certs.AnyPolicy) {
				node.AddChild(p.OID, qualifiers(p), []string{p.OID})
				matched = true
			}
		}
		if !matched && anyParent != nil {
			anyParent.AddChild(p.OID, qualifiers(p), []string{p.OID})
		}
	}

	if anyPolicy != nil && anyAllowed {
		for _, node := range parents {
			for _, expected := range node.ExpectedPolicySet {
				if node.hasChild(expected) {
					continue
				}
				node.AddChild(expected, qualifiers(*anyPolicy), []string{expected})
			}
		}
	}

	return prune(tree, depth)
}

func qualifiers(p certs.PolicyInformation) []string {
	if p.CPSURI == "" {
		return nil
	}
	return []string{p.CPSURI}
}

// applyMappings processes the policyMappings extension, RFC 5280 6.1.4 (a)
// and (b).
func applyMappings(tree *Node, mappings []certs.PolicyMapping, depth int, mappingAllowed bool) (*Node, error) {
	if len(mappings) == 0 {
		return tree, nil
	}

	var issuerPolicies []string
	subjectPolicies := make(map[string][]string)
	for _, m := range mappings {
		if m.IssuerDomainPolicy == certs.AnyPolicy || m.SubjectDomainPolicy == certs.AnyPolicy {
			return nil, ErrAnyPolicyMapping
		}
		if _, ok := subjectPolicies[m.IssuerDomainPolicy]; !ok {
			issuerPolicies = append(issuerPolicies, m.IssuerDomainPolicy)
		}
		if !slices.Contains(subjectPolicies[m.IssuerDomainPolicy], m.SubjectDomainPolicy) {
			subjectPolicies[m.IssuerDomainPolicy] = append(subjectPolicies[m.IssuerDomainPolicy], m.SubjectDomainPolicy)
		}
	}

	if tree == nil {
		return nil, nil
	}

	for _, idp := range issuerPolicies {
		sdps := subjectPolicies[idp]

		if !mappingAllowed {
			tree.removeAtDepth(depth, idp)
			if tree = prune(tree, depth); tree == nil {
				return nil, nil
			}
			continue
		}

		matched := false
		for _, node := range tree.AtDepth(depth) {
			if node.ValidPolicy == idp {
				node.ExpectedPolicySet = slices.Clone(sdps)
				matched = true
			}
		}
		if matched {
			continue
		}

		for _, parent := range tree.AtDepth(depth - 1) {
			for _, c := range parent.Children {
				if c.ValidPolicy == certs.AnyPolicy {
					parent.AddChild(idp, c.Qualifiers, sdps)
					break
				}
			}
		}
	}

	return tree, nil
}
