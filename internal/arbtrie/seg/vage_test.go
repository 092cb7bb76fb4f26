package seg

import (
	"testing"
	"time"
)

func TestVAgeAccumulatorWeightedMean(t *testing.T) {
	var acc VAgeAccumulator
	acc.Add(100, 10*time.Second)
	acc.Add(300, 30*time.Second)

	mean := acc.Mean()
	// weighted mean = (100*10 + 300*30) / 400 = (1000+9000)/400 = 25s
	if mean != 25*time.Second {
		t.Fatalf("expected mean 25s, got %v", mean)
	}
}

func TestVAgeAccumulatorMergeCarriesAgeForward(t *testing.T) {
	var a, b VAgeAccumulator
	a.Add(100, 10*time.Second)
	b.Add(100, 50*time.Second)

	a.Merge(&b)
	if got := a.Mean(); got != 30*time.Second {
		t.Fatalf("expected merged mean 30s, got %v", got)
	}
}
