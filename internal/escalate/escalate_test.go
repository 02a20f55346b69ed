package escalate

import "testing"

func TestPriorityForSeverity(t *testing.T) {
	cases := []struct {
		severity string
		want     string
	}{
		{"disaster", "high"},
		{"high", "high"},
		{"average", "normal"},
		{"warning", "normal"},
		{"information", "low"},
		{"not_classified", "low"},
		{"HIGH", "high"},
		{"Warning", "normal"},
		{"bogus", "normal"},
		{"", "normal"},
	}
	for _, c := range cases {
		if got := PriorityForSeverity(c.severity); got != c.want {
			t.Errorf("PriorityForSeverity(%q) = %q, want %q", c.severity, got, c.want)
		}
	}
}
