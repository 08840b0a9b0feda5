// Author: tan91
// GitHub: https://github.com/NUDTTAN91
// Blog: https://blog.csdn.net/ZXW_NUDT

package scoring

import (
	"errors"
	"testing"
)

func TestStandardAwardIsConstant(t *testing.T) {
	p := Params{Policy: PolicyStandard, InitialValue: 300, DecayRate: 40, MinimumValue: 10}
	for n := 1; n <= 50; n++ {
		if got := Award(p, n); got != 300 {
			t.Fatalf("solve %d: expected 300, got %d", n, got)
		}
	}
}

func TestLinearScenario(t *testing.T) {
	p := Params{Policy: PolicyLinear, InitialValue: 500, DecayRate: 50, MinimumValue: 100}

	cases := []struct {
		n    int
		want int
	}{
		{1, 450},
		{2, 400},
		{3, 350},
		{8, 100},
		{9, 100},
		{10, 100},
		{1000, 100},
	}
	for _, tc := range cases {
		if got := Award(p, tc.n); got != tc.want {
			t.Errorf("Award(%d): expected %d, got %d", tc.n, tc.want, got)
		}
	}

	// currentValue 在 N 次解题后等于第 N+1 位的分值
	for n := 0; n < 20; n++ {
		if Next(p, n) != Award(p, n+1) {
			t.Fatalf("Next(%d) != Award(%d)", n, n+1)
		}
	}
}

func TestLinearMatchesFormula(t *testing.T) {
	grid := []Params{
		{Policy: PolicyLinear, InitialValue: 1000, DecayRate: 7, MinimumValue: 0},
		{Policy: PolicyLinear, InitialValue: 100, DecayRate: 0, MinimumValue: 50},
		{Policy: PolicyLinear, InitialValue: 250, DecayRate: 33, MinimumValue: 249},
	}
	for _, p := range grid {
		for n := 1; n <= 200; n++ {
			want := p.InitialValue - p.DecayRate*n
			if want < p.MinimumValue {
				want = p.MinimumValue
			}
			if got := Award(p, n); got != want {
				t.Fatalf("%+v solve %d: expected %d, got %d", p, n, want, got)
			}
		}
	}
}

func TestLogarithmicNonIncreasingAndClamped(t *testing.T) {
	grid := []Params{
		{Policy: PolicyLogarithmic, InitialValue: 500, DecayRate: 20, MinimumValue: 100},
		{Policy: PolicyLogarithmic, InitialValue: 1000, DecayRate: 3, MinimumValue: 1},
		{Policy: PolicyLogarithmic, InitialValue: 200, DecayRate: 100, MinimumValue: 200},
	}
	for _, p := range grid {
		if err := Validate(p); err != nil {
			t.Fatalf("Validate(%+v): %v", p, err)
		}
		prev := p.InitialValue
		for n := 1; n <= 300; n++ {
			got := Award(p, n)
			if got > prev {
				t.Fatalf("%+v solve %d: value rose from %d to %d", p, n, prev, got)
			}
			if got < p.MinimumValue {
				t.Fatalf("%+v solve %d: %d below minimum", p, n, got)
			}
			prev = got
		}
		if Award(p, p.DecayRate) != p.MinimumValue {
			t.Fatalf("%+v: expected minimum at N = decayRate", p)
		}
	}
}

func TestLogarithmicEarlySolvesLoseLittle(t *testing.T) {
	p := Params{Policy: PolicyLogarithmic, InitialValue: 500, DecayRate: 20, MinimumValue: 100}
	// (100-500)/400 * 1 + 500 = 499
	if got := Award(p, 1); got != 499 {
		t.Fatalf("expected 499, got %d", got)
	}
	// (100-500)/400 * 100 + 500 = 400
	if got := Award(p, 10); got != 400 {
		t.Fatalf("expected 400, got %d", got)
	}
	if Award(p, 2)-Award(p, 3) >= Award(p, 18)-Award(p, 19) {
		t.Fatal("expected later solves to lose value faster")
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	bad := []Params{
		{Policy: PolicyLogarithmic, InitialValue: 500, DecayRate: 0, MinimumValue: 100},
		{Policy: PolicyLogarithmic, InitialValue: 100, DecayRate: 5, MinimumValue: 500},
		{Policy: PolicyLinear, InitialValue: 100, DecayRate: -1, MinimumValue: 0},
		{Policy: PolicyLinear, InitialValue: 100, DecayRate: 1, MinimumValue: -1},
		{Policy: PolicyStandard, InitialValue: -5},
		{Policy: Policy("Exponential"), InitialValue: 100},
	}
	for _, p := range bad {
		if err := Validate(p); !errors.Is(err, ErrConfiguration) {
			t.Errorf("Validate(%+v): expected ErrConfiguration, got %v", p, err)
		}
	}

	if err := Validate(Params{Policy: PolicyStandard, InitialValue: 100, MinimumValue: 500}); err != nil {
		t.Errorf("Standard ignores minimumValue, got %v", err)
	}
}

func TestParsePolicy(t *testing.T) {
	for in, want := range map[string]Policy{
		"":            PolicyStandard,
		"standard":    PolicyStandard,
		"LINEAR":      PolicyLinear,
		"Logarithmic": PolicyLogarithmic,
	} {
		got, err := ParsePolicy(in)
		if err != nil || got != want {
			t.Errorf("ParsePolicy(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParsePolicy("dynamic"); !errors.Is(err, ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, got %v", err)
	}
}
