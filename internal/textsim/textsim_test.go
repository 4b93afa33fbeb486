package textsim

import "testing"

func TestRatio(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{name: "identical", a: "battery", b: "battery", want: 1.0},
		{name: "both empty", a: "", b: "", want: 1.0},
		{name: "one empty", a: "battery", b: "", want: 0.0},
		{name: "disjoint", a: "abc", b: "xyz", want: 0.0},
		{name: "one edit", a: "batteries", b: "batteried", want: 1.0 - 1.0/9.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Ratio(tt.a, tt.b); got != tt.want {
				t.Errorf("Ratio(%q, %q) = %f, want %f", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestRatioSymmetric(t *testing.T) {
	pairs := [][2]string{
		{"battery degradation", "battery degradation rates"},
		{"short", "a much longer string entirely"},
		{"", "x"},
	}
	for _, p := range pairs {
		if Ratio(p[0], p[1]) != Ratio(p[1], p[0]) {
			t.Errorf("Ratio not symmetric for %q / %q", p[0], p[1])
		}
	}
}

func TestRatioBounds(t *testing.T) {
	inputs := [][2]string{
		{"the quick brown fox", "the quick brown fox jumps"},
		{"aaaa", "bbbb"},
		{"unicode räksmörgås", "unicode raksmorgas"},
	}
	for _, p := range inputs {
		r := Ratio(p[0], p[1])
		if r < 0 || r > 1 {
			t.Errorf("Ratio(%q, %q) = %f out of [0,1]", p[0], p[1], r)
		}
	}
}

func TestRatioMoreSimilarScoresHigher(t *testing.T) {
	base := "lithium battery recycling at industrial scale"
	near := "lithium battery recycling at commercial scale"
	far := "deep sea fishing regulations in norway"
	if Ratio(base, near) <= Ratio(base, far) {
		t.Errorf("near variant must outscore unrelated text")
	}
}
