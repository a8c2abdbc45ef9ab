package names

import (
	"github.com/rs/zerolog"
	"github.com/yuxki/dytrust/pkg/certs"
)

// Subtrees groups constraint subtrees by name type. A type without an entry
// is unconstrained; a type mapped to an empty slice permits nothing.
type Subtrees map[certs.GeneralNameType][]certs.GeneralName

// Group builds Subtrees from a flat list of names.
func Group(names []certs.GeneralName) Subtrees {
	s := make(Subtrees)
	for _, n := range names {
		s[n.Type] = append(s[n.Type], n)
	}
	return s
}

// Violation describes a name rejected by the accumulated constraints.
type Violation struct {
	Index    int
	Name     certs.GeneralName
	Excluded bool
}

// Evaluator checks the names of a chain against the nameConstraints of its
// CA certificates, as in RFC 5280 6.1.
//
// By default only the target certificate is checked. WithStrictMode also
// checks every intermediate certificate that is not self-issued.
type Evaluator struct {
	logger zerolog.Logger
	strict bool
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

// WithStrictMode checks intermediate certificates too.
func WithStrictMode() func(*Evaluator) {
	return func(e *Evaluator) {
		e.strict = true
	}
}

// Evaluate walks chain from the root down to the target certificate and
// reports whether no name violates the constraints in force. A chain
// without nameConstraints always passes.
func (e *Evaluator) Evaluate(chain *certs.Chain) bool {
	v, ok := e.Check(chain)
	if !ok {
		e.logger.Debug().
			Int("index", v.Index).
			Str("name", v.Name.String()).
			Bool("excluded", v.Excluded).
			Msg("Name is not allowed by name constraints.")
	}
	return ok
}

// Check is Evaluate returning the first violation found.
func (e *Evaluator) Check(chain *certs.Chain) (Violation, bool) {
	permitted := make(Subtrees)
	excluded := make(Subtrees)
	top := chain.Len() - 1

	for i, cert := range chain.Reverse() {
		if i == 0 || (e.strict && i < top && !cert.IsSelfIssued()) {
			if v, ok := e.accept(cert, permitted, excluded); !ok {
				v.Index = i
				return v, false
			}
		}

		if nc := cert.NameConstraints(); nc != nil {
			permitted = e.intersect(permitted, Group(nc.Permitted))
			excluded = e.union(excluded, Group(nc.Excluded))
		}
	}

	return Violation{}, true
}

// candidateNames returns the subject and alternative names of cert. A legacy
// emailAddress attribute stands in for a missing rfc822Name.
func candidateNames(cert *certs.Certificate) []certs.GeneralName {
	subject := cert.Subject()
	alt := cert.SubjectAltNames()

	names := make([]certs.GeneralName, 0, len(alt)+2)
	if len(subject) > 0 {
		names = append(names, certs.NewDirectoryName(subject))
	}
	names = append(names, alt...)

	for _, n := range alt {
		if n.Type == certs.RFC822Name {
			return names
		}
	}
	for _, email := range subject.Values(certs.OIDEmailAddress) {
		names = append(names, certs.GeneralName{Type: certs.RFC822Name, Value: email})
	}
	return names
}

func (e *Evaluator) accept(cert *certs.Certificate, permitted, excluded Subtrees) (Violation, bool) {
	for _, name := range candidateNames(cert) {
		if subtrees, ok := permitted[name.Type]; ok && !e.anyWithin(name, subtrees) {
			return Violation{Name: name}, false
		}
		if e.anyWithin(name, excluded[name.Type]) {
			return Violation{Name: name, Excluded: true}, false
		}
	}
	return Violation{}, true
}

func (e *Evaluator) anyWithin(name certs.GeneralName, subtrees []certs.GeneralName) bool {
	for _, s := range subtrees {
		if e.Within(name, s) {
			return true
		}
	}
	return false
}

// intersect keeps, per type, the deeper of every pair of nested subtrees.
// Types missing on one side keep the subtrees of the other side.
func (e *Evaluator) intersect(current, incoming Subtrees) Subtrees {
	out := make(Subtrees, len(current)+len(incoming))
	for t, s := range current {
		out[t] = s
	}

	for t, in := range incoming {
		cur, ok := current[t]
		if !ok {
			out[t] = in
			continue
		}

		merged := make([]certs.GeneralName, 0)
		for _, a := range cur {
			for _, b := range in {
				switch {
				case e.subtreeWithin(b, a):
					merged = e.appendUnique(merged, b)
				case e.subtreeWithin(a, b):
					merged = e.appendUnique(merged, a)
				}
			}
		}
		out[t] = merged
	}
	return out
}

// union adds incoming subtrees per type, dropping subtrees contained in
// another one.
func (e *Evaluator) union(current, incoming Subtrees) Subtrees {
	out := make(Subtrees, len(current)+len(incoming))
	for t, s := range current {
		out[t] = append([]certs.GeneralName(nil), s...)
	}

	for t, in := range incoming {
	next:
		for _, b := range in {
			kept := make([]certs.GeneralName, 0, len(out[t])+1)
			for _, a := range out[t] {
				if e.subtreeWithin(b, a) {
					continue next
				}
				if !e.subtreeWithin(a, b) {
					kept = append(kept, a)
				}
			}
			out[t] = append(kept, b)
		}
	}
	return out
}

func (e *Evaluator) appendUnique(list []certs.GeneralName, n certs.GeneralName) []certs.GeneralName {
	for _, l := range list {
		if e.subtreeWithin(n, l) && e.subtreeWithin(l, n) {
			return list
		}
	}
	return append(list, n)
}
