package check

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func pass(tag string) Check {
	return Check{MessageTag: tag, Process: func() bool { return true }}
}

func fail(tag string, ind Indication, sub SubIndication) Check {
	return Check{
		MessageTag:    tag,
		ErrorTag:      tag + "_ANS",
		Indication:    ind,
		SubIndication: sub,
		Process:       func() bool { return false },
	}
}

func TestRun(t *testing.T) {
	t.Parallel()

	fatal := fail("BBB_ICS", Indeterminate, NoCertificateChainFound)
	fatal.Fatal = true

	warn := fail("BBB_XCV_W", Indeterminate, TryLater)
	warn.Level = Warn

	ignored := fail("BBB_XCV_I", Failed, HashFailure)
	ignored.Level = Ignore

	data := []struct {
		testCase string
		checks   []Check
		// want
		indication Indication
		sub        SubIndication
		tag        string
		statuses   []Status
	}{
		{
			"no checks",
			nil,
			Passed, NoSubIndication, "",
			[]Status{},
		},
		{
			"all passed",
			[]Check{pass("A"), pass("B")},
			Passed, NoSubIndication, "",
			[]Status{StatusOK, StatusOK},
		},
		{
			"first failure wins and evaluation continues",
			[]Check{pass("A"), fail("B", Indeterminate, ChainConstraintsFailure), fail("C", Failed, HashFailure)},
			Indeterminate, ChainConstraintsFailure, "B_ANS",
			[]Status{StatusOK, StatusNotOK, StatusNotOK},
		},
		{
			"fatal failure stops evaluation",
			[]Check{pass("A"), fatal, fail("C", Failed, HashFailure)},
			Indeterminate, NoCertificateChainFound, "BBB_ICS_ANS",
			[]Status{StatusOK, StatusNotOK},
		},
		{
			"fatal failure after a failure decides",
			[]Check{fail("A", Failed, HashFailure), fatal, pass("C")},
			Indeterminate, NoCertificateChainFound, "BBB_ICS_ANS",
			[]Status{StatusNotOK, StatusNotOK},
		},
		{
			"warnings and ignored checks do not fail",
			[]Check{warn, ignored, pass("C")},
			Passed, NoSubIndication, "",
			[]Status{StatusWarning, StatusIgnored, StatusOK},
		},
		{
			"nil process fails",
			[]Check{{MessageTag: "N", ErrorTag: "N_ANS", Indication: Failed, SubIndication: Generic}},
			Failed, Generic, "N_ANS",
			[]Status{StatusNotOK},
		},
	}

	for _, d := range data {
		d := d
		t.Run(d.testCase, func(t *testing.T) {
			t.Parallel()

			c := Run(d.checks)
			require.Equal(t, d.indication, c.Indication)
			require.Equal(t, d.sub, c.SubIndication)
			require.Equal(t, d.tag, c.MessageTag)

			statuses := make([]Status, 0, len(c.Results))
			for _, r := range c.Results {
				statuses = append(statuses, r.Status)
			}
			if diff := cmp.Diff(d.statuses, statuses); diff != "" {
				t.Errorf("statuses mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRun_AuditList(t *testing.T) {
	t.Parallel()

	c := Run([]Check{
		pass("A"),
		fail("B", Indeterminate, ChainConstraintsFailure),
		fail("C", Failed, HashFailure),
	})

	require.Equal(t, Indeterminate, c.Indication)
	require.Equal(t, ChainConstraintsFailure, c.SubIndication)
	require.Len(t, c.Results, 3)
	require.Len(t, c.Failures(), 2)
	require.Equal(t, HashFailure, c.Results[2].SubIndication)
	require.False(t, c.IsPassed())
}

func TestConclusion_Merge(t *testing.T) {
	t.Parallel()

	passed := Run([]Check{pass("A")})
	failed := Run([]Check{fail("B", Indeterminate, TryLater)})
	other := Run([]Check{fail("C", Failed, HashFailure)})

	m := passed.Merge(failed).Merge(other)
	require.Equal(t, Indeterminate, m.Indication)
	require.Equal(t, TryLater, m.SubIndication)
	require.Len(t, m.Results, 3)
}

func TestIndication_Valid(t *testing.T) {
	t.Parallel()

	require.True(t, Passed.Valid(NoSubIndication))
	require.False(t, Passed.Valid(TryLater))
	require.True(t, Indeterminate.Valid(RevokedNoPOE))
	require.True(t, Failed.Valid(HashFailure))
	require.False(t, Failed.Valid(TryLater))
}

func TestRules(t *testing.T) {
	t.Parallel()

	data := []struct {
		testCase string
		rule     MultiValuesRule
		values   []string
		want     bool
	}{
		{"accepted", MultiValuesRule{Values: []string{"1.2.3", "1.2.4"}}, []string{"1.2.4"}, true},
		{"not accepted", MultiValuesRule{Values: []string{"1.2.3"}}, []string{"1.2.4"}, false},
		{"wildcard", MultiValuesRule{Values: []string{Wildcard}}, []string{"9.9"}, true},
		{"empty allow-list", MultiValuesRule{}, []string{"1.2.3"}, false},
		{"no values", MultiValuesRule{Values: []string{"1.2.3"}}, nil, false},
	}

	for _, d := range data {
		d := d
		t.Run(d.testCase, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, d.want, d.rule.Accepts(d.values...))
		})
	}

	n := NumericValueRule{Value: 86400}
	require.True(t, n.Within(86400))
	require.False(t, n.Within(86401))

	lvl, err := ParseLevel("warn")
	require.NoError(t, err)
	require.Equal(t, Warn, lvl)
	_, err = ParseLevel("loud")
	require.Error(t, err)
}
