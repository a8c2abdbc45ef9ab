package date

import (
	"testing"
	"time"
)

func TestWindow_Covers(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	data := []struct {
		testCase string
		window   Window
		at       time.Time
		want     bool
	}{
		{"inside", Window{base, base.Add(time.Hour)}, base.Add(time.Minute), true},
		{"on lower bound", Window{base, base.Add(time.Hour)}, base, true},
		{"on upper bound", Window{base, base.Add(time.Hour)}, base.Add(time.Hour), true},
		{"before", Window{base, base.Add(time.Hour)}, base.Add(-time.Second), false},
		{"after", Window{base, base.Add(time.Hour)}, base.Add(time.Hour + time.Second), false},
		{"open upper bound", Window{NotBefore: base}, base.AddDate(100, 0, 0), true},
		{"open window", Window{}, base, true},
	}

	for _, d := range data {
		d := d
		t.Run(d.testCase, func(t *testing.T) {
			t.Parallel()

			if got := d.window.Covers(d.at); got != d.want {
				t.Errorf("want: %v, got: %v", d.want, got)
			}
		})
	}
}

func TestFixed(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	now := Fixed(at)
	if !now().Equal(at) {
		t.Errorf("want: %v, got: %v", at, now())
	}
}
