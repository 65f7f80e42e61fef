package index

// SelectorParams mirrors the root package's IndexSelectorParams without
// importing it.
type SelectorParams struct {
	FlatThreshold int
	IVFMinSize    int
}

// Policy identifies which ANN variant a collection should use, matching
// the root package's IndexPolicy values.
type Policy int

const (
	PolicyAuto Policy = iota
	PolicyFlat
	PolicyHNSW
	PolicyIVF
)

// moderateDimCeiling bounds the dimensionality at which IVF remains a good
// fit under the "auto" policy: very high-dimensional spaces make
// euclidean-distance coarse quantization a poor discriminator, so auto
// prefers HNSW there even at large size (§4.11 "n is very large and
// dimensionality is moderate").
const moderateDimCeiling = 2048

// Select applies the index-policy heuristic (§4.11): flat below
// flat_threshold or when the policy says so; ivf when the policy says so,
// or automatically once n crosses ivf_min_size at a moderate dimension;
// hnsw otherwise. The result is meant to be recorded once in the
// collection descriptor and left fixed for the collection's lifetime
// unless an explicit rebuild is requested.
func Select(policy Policy, n, dim int, p SelectorParams) Policy {
	switch policy {
	case PolicyFlat, PolicyHNSW, PolicyIVF:
		return policy
	}

	if n < p.FlatThreshold {
		return PolicyFlat
	}
	if n >= p.IVFMinSize && dim <= moderateDimCeiling {
		return PolicyIVF
	}
	return PolicyHNSW
}
