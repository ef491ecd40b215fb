package stats

import (
	"math"
	"testing"

	"pgregory.net/rapid"
)

func TestRunningAverage_PlainMeanBeforeHorizon(t *testing.T) {
	r := NewRunningAverage(0, 0, 1, 200)
	r.Report(1)
	r.Report(0)
	r.Report(1)
	r.Report(1)

	if got, want := r.Value(), 0.75; math.Abs(got-want) > 1e-9 {
		t.Errorf("Value = %f, want %f", got, want)
	}
	if r.Count() != 4 {
		t.Errorf("Count = %d, want 4", r.Count())
	}
}

func TestRunningAverage_Clamps(t *testing.T) {
	r := NewRunningAverage(0, 0, 1, 200)
	r.Report(50)
	if got := r.Value(); got != 1 {
		t.Errorf("Value after over-range report = %f, want 1", got)
	}
	r2 := NewRunningAverage(1, 0, 1, 200)
	r2.Report(-3)
	if got := r2.Value(); got != 0 {
		t.Errorf("Value after under-range report = %f, want 0", got)
	}
}

func TestRunningAverage_DecaysPastHorizon(t *testing.T) {
	r := NewRunningAverage(0, 0, 1, 10)
	for i := 0; i < 100; i++ {
		r.Report(0)
	}
	// A single 1.0 after saturation moves the value by exactly 1/horizon.
	r.Report(1)
	if got, want := r.Value(), 0.1; math.Abs(got-want) > 1e-9 {
		t.Errorf("Value = %f, want %f", got, want)
	}
}

func TestRunningAverage_Deterministic(t *testing.T) {
	// The sampler's adaptation tests depend on two identical report
	// sequences producing identical averages.
	a := NewRunningAverage(0, 0, 20, 200)
	b := NewRunningAverage(0, 0, 20, 200)
	seq := []float64{6, 7, 6, 5, 8, 6, 6, 7}
	for _, x := range seq {
		a.Report(x)
		b.Report(x)
	}
	if a.Value() != b.Value() {
		t.Errorf("diverged: %f vs %f", a.Value(), b.Value())
	}
}

func TestRunningAverage_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		min := rapid.Float64Range(-100, 0).Draw(t, "min")
		max := rapid.Float64Range(1, 100).Draw(t, "max")
		initial := rapid.Float64Range(min, max).Draw(t, "initial")
		horizon := rapid.Uint64Range(1, 500).Draw(t, "horizon")
		r := NewRunningAverage(initial, min, max, horizon)

		n := rapid.IntRange(0, 300).Draw(t, "n")
		for i := 0; i < n; i++ {
			r.Report(rapid.Float64Range(-200, 200).Draw(t, "x"))
			v := r.Value()
			if v < min-1e-9 || v > max+1e-9 {
				t.Fatalf("value %f escaped [%f, %f]", v, min, max)
			}
		}
		if r.Count() != uint64(n) {
			t.Fatalf("Count = %d, want %d", r.Count(), n)
		}
	})
}
