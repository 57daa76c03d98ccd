package horstbeacon

// Context holds everything derived from a Params value exactly once, in the
// style of the teacher's Params/Context split (params.go holds the small
// serializable record, Context the derived, ready-to-use structure).
type Context struct {
	Params Params

	// T is the number of Merkle leaves, 2^Tau.
	T uint64

	// Probs is the per-layer discrete sampling distribution used by
	// LayeredKeyStore.NextKey, derived from Params.KeyDist per
	// original_source/src/utils.rs's lifetimes_to_probs (see
	// SPEC_FULL.md §13.1 for the open-question resolution: heavier
	// relative weight yields a *lower* sampling probability).
	Probs []float64

	// AvgSignRate is the per-layer expected sequence-number spacing
	// between consecutive uses of that layer, derived from Probs and
	// each layer's ActivityPercent (original_source's lifetimes_to_distr).
	// A value of 0 means "no throttle".
	AvgSignRate []float64

	// CertWindow is 2*CertInterval+1.
	CertWindow uint32
}

// NewContext validates p and derives a Context from it.
func NewContext(p Params) (*Context, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	weights := make([]float64, p.L())
	var sum float64
	for i, kd := range p.KeyDist {
		weights[i] = 1.0 / kd.RelativeLifetimeWeight
		sum += weights[i]
	}

	probs := make([]float64, p.L())
	avgRate := make([]float64, p.L())
	for i, kd := range p.KeyDist {
		probs[i] = weights[i] / sum
		if kd.ActivityPercent == 0 {
			avgRate[i] = 0
			continue
		}
		avgRate[i] = (1.0 / probs[i]) * (kd.ActivityPercent / 100.0)
	}

	return &Context{
		Params:      p,
		T:           uint64(1) << p.Tau,
		Probs:       probs,
		AvgSignRate: avgRate,
		CertWindow:  p.CertWindow(),
	}, nil
}
