package prefetch

import "testing"

func TestPredictRequiresThreeSamples(t *testing.T) {
	o := New(5)
	o.Add(1)
	o.Add(2)
	if p := o.Predict(5, Reset); p != nil {
		t.Fatalf("expected nil prediction with < 3 samples, got %v", p)
	}
}

func TestPredictSequentialAccess(t *testing.T) {
	o := New(5)
	for _, n := range []int{1, 2, 3, 4, 5} {
		o.Add(n)
	}
	p := o.Predict(3, Reset)
	if len(p) == 0 {
		t.Fatalf("expected a prediction for a strictly sequential access pattern")
	}
	for _, v := range p {
		if v <= 5 {
			t.Fatalf("prediction %d should continue past the observed sequence", v)
		}
	}
}

func TestPredictContinueFiltersPastPredictions(t *testing.T) {
	o := New(5)
	for _, n := range []int{10, 20, 30, 40} {
		o.Add(n)
	}
	first := o.Predict(3, Reset)
	if len(first) == 0 {
		t.Fatal("expected a prediction")
	}
	second := o.Predict(3, Continue)
	for _, v := range second {
		for _, prev := range first {
			if v == prev {
				t.Fatalf("Continue prediction repeated already-predicted index %d", v)
			}
		}
	}
}

func TestPredictClampsToMaxPrediction(t *testing.T) {
	o := New(2)
	for _, n := range []int{1, 2, 3, 4, 5} {
		o.Add(n)
	}
	if p := o.Predict(10, Reset); len(p) > 2 {
		t.Fatalf("expected prediction clamped to maxPrediction=2, got %d entries", len(p))
	}
}

func TestAddIgnoresDuplicates(t *testing.T) {
	o := New(5)
	o.Add(1)
	o.Add(1)
	o.Add(1)
	if o.sequence.Len() != 1 {
		t.Fatalf("expected duplicate adds to be no-ops, got sequence length %d", o.sequence.Len())
	}
}
