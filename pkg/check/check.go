package check

import (
	"fmt"
	"strings"
)

// Level is the severity applied to the outcome of a Check. The zero value
// is Fail.
type Level int

const (
	Fail Level = iota
	Warn
	Inform
	Ignore
)

var levelStrings = [...]string{"FAIL", "WARN", "INFORM", "IGNORE"}

func (l Level) String() string {
	if l < Fail || l > Ignore {
		return fmt.Sprintf("Level(%d)", int(l))
	}
	return levelStrings[l]
}

// ParseLevel converts a level name (case-insensitive) to a Level.
func ParseLevel(s string) (Level, error) {
	for i, v := range levelStrings {
		if strings.EqualFold(v, s) {
			return Level(i), nil
		}
	}
	return Fail, fmt.Errorf("unknown level: %s", s)
}

// Check is one atomic validation step. Process must be a pure function of
// inputs computed before the chain runs.
type Check struct {
	// Subject names what is being checked, e.g. a certificate.
	Subject       string
	MessageTag    string
	ErrorTag      string
	Indication    Indication
	SubIndication SubIndication
	// Fatal stops the evaluation of the remaining checks on failure.
	Fatal   bool
	Level   Level
	Process func() bool
}

// Status is the recorded outcome of a Check.
type Status string

const (
	StatusOK          Status = "OK"
	StatusNotOK       Status = "NOT OK"
	StatusWarning     Status = "WARNING"
	StatusInformation Status = "INFORMATION"
	StatusIgnored     Status = "IGNORED"
)

// Result is the audit record of one Check.
type Result struct {
	Subject       string
	MessageTag    string
	ErrorTag      string
	Status        Status
	Passed        bool
	Level         Level
	Indication    Indication
	SubIndication SubIndication
	Fatal         bool
}

// Conclusion aggregates the Results of a chain of checks.
type Conclusion struct {
	Indication    Indication
	SubIndication SubIndication
	// MessageTag is the error tag of the deciding check.
	MessageTag string
	Results    []Result
}

// IsPassed reports whether the conclusion is PASSED.
func (c Conclusion) IsPassed() bool {
	return c.Indication == Passed
}

// Failures returns the results that affected the conclusion.
func (c Conclusion) Failures() []Result {
	return c.filter(StatusNotOK)
}

// Warnings returns the failed results recorded with the Warn level.
func (c Conclusion) Warnings() []Result {
	return c.filter(StatusWarning)
}

// Infos returns the failed results recorded with the Inform level.
func (c Conclusion) Infos() []Result {
	return c.filter(StatusInformation)
}

func (c Conclusion) filter(s Status) []Result {
	var out []Result
	for _, r := range c.Results {
		if r.Status == s {
			out = append(out, r)
		}
	}
	return out
}

func process(chk Check) Result {
	res := Result{
		Subject:    chk.Subject,
		MessageTag: chk.MessageTag,
		Level:      chk.Level,
		Fatal:      chk.Fatal,
	}

	if chk.Level == Ignore {
		res.Status = StatusIgnored
		res.Passed = true
		return res
	}

	if chk.Process != nil && chk.Process() {
		res.Status = StatusOK
		res.Passed = true
		return res
	}

	res.ErrorTag = chk.ErrorTag
	res.Indication = chk.Indication
	res.SubIndication = chk.SubIndication

	switch chk.Level {
	case Warn:
		res.Status = StatusWarning
	case Inform:
		res.Status = StatusInformation
	default:
		res.Status = StatusNotOK
	}
	return res
}

// Run evaluates checks in order. The first failing check with the Fail
// level decides the conclusion, later failures are only recorded. A fatal
// failure decides the conclusion and stops the evaluation. Without failures
// the conclusion is PASSED.
func Run(checks []Check) Conclusion {
	conclusion := Conclusion{
		Indication: Passed,
		Results:    make([]Result, 0, len(checks)),
	}

	decided := false
	for _, chk := range checks {
		res := process(chk)
		conclusion.Results = append(conclusion.Results, res)

		if res.Status != StatusNotOK {
			continue
		}

		if !decided || res.Fatal {
			conclusion.Indication = res.Indication
			conclusion.SubIndication = res.SubIndication
			conclusion.MessageTag = res.ErrorTag
			decided = true
		}

		if res.Fatal {
			break
		}
	}

	return conclusion
}

// Merge appends the results of other to c. The indication of other is
// adopted only when c is still PASSED.
func (c Conclusion) Merge(other Conclusion) Conclusion {
	merged := Conclusion{
		Indication:    c.Indication,
		SubIndication: c.SubIndication,
		MessageTag:    c.MessageTag,
		Results:       make([]Result, 0, len(c.Results)+len(other.Results)),
	}
	merged.Results = append(merged.Results, c.Results...)
	merged.Results = append(merged.Results, other.Results...)

	if c.IsPassed() && !other.IsPassed() {
		merged.Indication = other.Indication
		merged.SubIndication = other.SubIndication
		merged.MessageTag = other.MessageTag
	}
	return merged
}
