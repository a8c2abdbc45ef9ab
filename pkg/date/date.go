package date

import (
	"time"
)

type Now func() time.Time

// NowGMT equals time.Now().UTC().
// CRL and OCSP use GeneralizedTime (https://www.rfc-editor.org/rfc/rfc6960#section-4.2.2.1)
// and GeneralizedTime use
// Greenwich Mean Time (Zulu) (https://www.rfc-editor.org/rfc/rfc5280#section-4.1.2.5.2)
func NowGMT() time.Time {
	return time.Now().UTC()
}

// Fixed returns a Now that always reports t. It is used to pin the control
// time of a validation.
func Fixed(t time.Time) Now {
	return func() time.Time {
		return t
	}
}

// Window is a closed validity period. A zero bound is open.
type Window struct {
	NotBefore time.Time
	NotAfter  time.Time
}

// Covers reports whether t is inside the window.
func (w Window) Covers(t time.Time) bool {
	if !w.NotBefore.IsZero() && t.Before(w.NotBefore) {
		return false
	}
	if !w.NotAfter.IsZero() && t.After(w.NotAfter) {
		return false
	}
	return true
}

// IsZero reports whether both bounds are open.
func (w Window) IsZero() bool {
	return w.NotBefore.IsZero() && w.NotAfter.IsZero()
}
