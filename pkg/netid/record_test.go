package netid

import (
	"testing"

	"pgregory.net/rapid"
)

func TestPingRecord_BootstrapsAtMaxHTL(t *testing.T) {
	r := newPingRecord(10)
	for i := 0; i < comfortLevel-1; i++ {
		r.Success(2, 7, 5)
	}
	if got := r.NextHTL(); got != 10 {
		t.Errorf("NextHTL during bootstrap = %d, want 10", got)
	}
}

func TestPingRecord_AdaptsDownWhenReliable(t *testing.T) {
	// After comfortLevel successes at a steady htl with a high
	// average, the next htl never exceeds the sampled mean.
	r := newPingRecord(10)
	const sampled = 7
	for i := 0; i < comfortLevel+5; i++ {
		r.Success(2, sampled, sampled-2)
	}
	if r.Average() < 0.8 {
		t.Fatalf("average = %f, expected > 0.8", r.Average())
	}
	got := r.NextHTL()
	if got > sampled {
		t.Errorf("NextHTL = %d, want <= %d", got, sampled)
	}
	if got < minHTL {
		t.Errorf("NextHTL = %d, below floor %d", got, minHTL)
	}
}

func TestPingRecord_AdaptsUpWhenUnreliable(t *testing.T) {
	r := newPingRecord(10)
	for i := 0; i < comfortLevel; i++ {
		r.Success(2, 5, 3)
	}
	// Drown the average in failures; successes stay at 5.
	for i := 0; i < 200; i++ {
		r.Failure(0, 5, 3)
	}
	if r.Average() > 0.8 {
		t.Fatalf("average = %f, expected <= 0.8", r.Average())
	}
	if got := r.NextHTL(); got < 5 {
		t.Errorf("NextHTL = %d, want >= 5 when unreliable", got)
	}
}

func TestPingRecord_DawnFixedOffsetDuringBootstrap(t *testing.T) {
	r := newPingRecord(10)
	if got := r.NextDawnHTL(10); got != 8 {
		t.Errorf("NextDawnHTL(10) = %d, want 8", got)
	}
	// Random prefix is capped at htl/2 - 1 even during bootstrap.
	if got := r.NextDawnHTL(4); got != 3 {
		t.Errorf("NextDawnHTL(4) = %d, want 3", got)
	}
}

func TestPingRecord_ShortestSuccessMonotone(t *testing.T) {
	r := newPingRecord(10)
	if r.ShortestSuccess() != -1 {
		t.Fatalf("ShortestSuccess before any success = %d", r.ShortestSuccess())
	}
	r.Success(5, 7, 5)
	r.Success(3, 7, 5)
	r.Success(9, 7, 5)
	if got := r.ShortestSuccess(); got != 3 {
		t.Errorf("ShortestSuccess = %d, want 3", got)
	}
}

func TestPingRecord_LastSuccessNeverAfterLastTry(t *testing.T) {
	r := newPingRecord(10)
	r.Success(1, 7, 5)
	r.Failure(0, 7, 5)
	if r.LastSuccess().After(r.LastTry()) {
		t.Error("lastSuccess > lastTry")
	}
}

func TestPingRecord_BoundsProperty(t *testing.T) {
	// Whatever the sample history, the chosen htl stays within
	// [minHTL, maxHTL] and the random prefix within htl/2 - 1.
	rapid.Check(t, func(t *rapid.T) {
		maxHTL := int16(rapid.IntRange(int(minHTL), 18).Draw(t, "maxHTL"))
		r := newPingRecord(maxHTL)

		n := rapid.IntRange(0, 120).Draw(t, "n")
		for i := 0; i < n; i++ {
			htl := int16(rapid.IntRange(1, int(maxHTL)).Draw(t, "htl"))
			dawn := int16(rapid.IntRange(0, int(htl)).Draw(t, "dawn"))
			counter := int32(rapid.IntRange(0, 20).Draw(t, "counter"))
			if rapid.Bool().Draw(t, "ok") {
				r.Success(counter, htl, dawn)
			} else {
				r.Failure(counter, htl, dawn)
			}
		}

		next := r.NextHTL()
		if next < minHTL || next > maxHTL {
			t.Fatalf("NextHTL = %d outside [%d, %d]", next, minHTL, maxHTL)
		}

		dawn := r.NextDawnHTL(next)
		if diff := next - dawn; diff > next/2-1 && diff > 0 {
			t.Fatalf("random prefix %d exceeds %d (htl %d)", diff, next/2-1, next)
		}
		if dawn > next {
			t.Fatalf("dawn %d exceeds htl %d", dawn, next)
		}
	})
}
