package morph

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"
)

func TestRecommendDistanceThreshold(t *testing.T) {
	source := makeGridMesh(t, 6, 6, 0.1)

	// Every target vertex sits exactly 0.004 above its source twin, so
	// the median nearest distance is 0.004 and the recommendation twice
	// that.
	target := translateMesh(t, source, r3.Vec{Z: 0.004})
	got := RecommendDistanceThreshold(source, target)
	if math.Abs(got-0.008) > 1e-12 {
		t.Errorf("RecommendDistanceThreshold = %v, want 0.008", got)
	}

	coincident := makeGridMesh(t, 6, 6, 0.1)
	if got := RecommendDistanceThreshold(source, coincident); got != 0 {
		t.Errorf("RecommendDistanceThreshold(coincident) = %v, want 0", got)
	}

	if got := RecommendDistanceThreshold(&Mesh{}, target); got != 0 {
		t.Errorf("RecommendDistanceThreshold(empty source) = %v, want 0", got)
	}
	if got := RecommendDistanceThreshold(source, &Mesh{}); got != 0 {
		t.Errorf("RecommendDistanceThreshold(empty target) = %v, want 0", got)
	}
}

func TestRecommendedThresholdActuallyMatches(t *testing.T) {
	source := makeGridMesh(t, 8, 8, 0.1)
	target := translateMesh(t, source, r3.Vec{Z: 0.004})

	recommended := RecommendDistanceThreshold(source, target)
	if recommended <= 0 {
		t.Fatalf("recommended threshold = %v, want > 0", recommended)
	}

	percent := MatchPercentAt(source, target, recommended, 0.5)
	if percent != 100 {
		t.Errorf("MatchPercentAt(recommended) = %v, want 100", percent)
	}
}

func TestMatchPercentAt(t *testing.T) {
	source := makeGridMesh(t, 6, 6, 0.1)
	target := translateMesh(t, source, r3.Vec{Z: 0.004})

	if got := MatchPercentAt(source, target, 0.01, 0.5); got != 100 {
		t.Errorf("MatchPercentAt(0.01) = %v, want 100", got)
	}
	if got := MatchPercentAt(source, target, 0.001, 0.5); got != 0 {
		t.Errorf("MatchPercentAt(0.001) = %v, want 0", got)
	}
	if got := MatchPercentAt(source, target, -1, 0.5); got != 0 {
		t.Errorf("MatchPercentAt(invalid) = %v, want 0", got)
	}
}
