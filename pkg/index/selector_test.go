package index

import "testing"

func TestSelectExplicitPolicyWins(t *testing.T) {
	p := SelectorParams{FlatThreshold: 10000, IVFMinSize: 200000}
	if got := Select(PolicyFlat, 1_000_000, 128, p); got != PolicyFlat {
		t.Fatalf("explicit flat policy should win, got %v", got)
	}
	if got := Select(PolicyHNSW, 1, 128, p); got != PolicyHNSW {
		t.Fatalf("explicit hnsw policy should win, got %v", got)
	}
}

func TestSelectAutoSmallCollectionIsFlat(t *testing.T) {
	p := SelectorParams{FlatThreshold: 10000, IVFMinSize: 200000}
	if got := Select(PolicyAuto, 500, 128, p); got != PolicyFlat {
		t.Fatalf("got %v, want flat for a small collection", got)
	}
}

func TestSelectAutoLargeModerateDimIsIVF(t *testing.T) {
	p := SelectorParams{FlatThreshold: 10000, IVFMinSize: 200000}
	if got := Select(PolicyAuto, 300_000, 256, p); got != PolicyIVF {
		t.Fatalf("got %v, want ivf for a large, moderate-dimension collection", got)
	}
}

func TestSelectAutoMidSizeIsHNSW(t *testing.T) {
	p := SelectorParams{FlatThreshold: 10000, IVFMinSize: 200000}
	if got := Select(PolicyAuto, 50_000, 128, p); got != PolicyHNSW {
		t.Fatalf("got %v, want hnsw for a mid-size collection", got)
	}
}

func TestSelectAutoLargeHighDimIsHNSW(t *testing.T) {
	p := SelectorParams{FlatThreshold: 10000, IVFMinSize: 200000}
	if got := Select(PolicyAuto, 500_000, 4096, p); got != PolicyHNSW {
		t.Fatalf("got %v, want hnsw for very high dimensionality even at large size", got)
	}
}
