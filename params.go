package horstbeacon

import "fmt"

// LayerWeight is one entry of the key_dist configuration table: a layer's
// relative lifetime weight and its activity percentage.
type LayerWeight struct {
	// RelativeLifetimeWeight is the layer's weight relative to the other
	// layers. Heavier weight means the layer is intended to live longer,
	// and is therefore sampled less often (see Context.Probs).
	RelativeLifetimeWeight float64

	// ActivityPercent scales the layer's derived average signing rate.
	// A value of 100 means "use the rate as derived"; 0 effectively
	// disables scheduling throttling for that layer's rate contribution.
	ActivityPercent float64
}

// Params holds the compile-time-in-spirit parameters of a HORST instance
// and the layered key store built on top of it. Params is the small,
// serializable record; Context (see context.go) is the derived structure
// built from it once via NewContext.
type Params struct {
	// N is the hash output size in bytes.
	N int

	// Tau is the Merkle tree depth; T = 2^Tau leaves.
	Tau uint

	// K is the number of leaves revealed per signature.
	K int

	// KeyCharges is the maximum number of signatures a single keypair
	// may produce before it is retired.
	KeyCharges uint32

	// CertInterval is the half-width of the certificate window; the
	// window itself is 2*CertInterval+1.
	CertInterval uint32

	// KeyDist is the per-layer (weight, activity) table. len(KeyDist)
	// is the number of layers L.
	KeyDist []LayerWeight

	// MaxPieceSize bounds how large a single signed piece of a payload
	// may be.
	MaxPieceSize int
}

// DefaultParams returns a reasonably-sized instance suitable for tests and
// small deployments: N=32, Tau=8 (T=256 leaves), K=16, matched to keep
// signatures and keygen cheap while remaining a faithful HORST instance.
func DefaultParams() Params {
	return Params{
		N:            32,
		Tau:          8,
		K:            16,
		KeyCharges:   10,
		CertInterval: 1,
		KeyDist: []LayerWeight{
			{RelativeLifetimeWeight: 4, ActivityPercent: 100},
			{RelativeLifetimeWeight: 2, ActivityPercent: 0},
			{RelativeLifetimeWeight: 1, ActivityPercent: 0},
		},
		MaxPieceSize: 1024,
	}
}

// Validate checks the parameters for internal consistency.
func (p Params) Validate() error {
	if p.N <= 0 {
		return errorf("N must be positive, got %d", p.N)
	}
	if p.Tau == 0 || p.Tau > 32 {
		return errorf("Tau must be in [1,32], got %d", p.Tau)
	}
	if p.K <= 0 {
		return errorf("K must be positive, got %d", p.K)
	}
	if uint64(p.K)*uint64(p.Tau) > uint64(p.N)*8*4 {
		// H_msg must supply at least K*Tau bits; guard against a K/Tau
		// combination that would require an implausibly long digest.
		return errorf("K*Tau=%d bits is implausibly large for N=%d", uint64(p.K)*uint64(p.Tau), p.N)
	}
	if p.KeyCharges == 0 {
		return errorf("KeyCharges must be positive")
	}
	if len(p.KeyDist) == 0 {
		return errorf("KeyDist must have at least one layer")
	}
	for i, kd := range p.KeyDist {
		if kd.RelativeLifetimeWeight <= 0 {
			return errorf("KeyDist[%d].RelativeLifetimeWeight must be positive", i)
		}
		if kd.ActivityPercent < 0 {
			return errorf("KeyDist[%d].ActivityPercent must be non-negative", i)
		}
	}
	if p.MaxPieceSize <= 0 {
		return errorf("MaxPieceSize must be positive")
	}
	return nil
}

// L is the number of layers implied by KeyDist.
func (p Params) L() int { return len(p.KeyDist) }

// CertWindow is the certificate window width, 2*CertInterval+1, grounded on
// original_source/src/utils.rs's calc_cert_window.
func (p Params) CertWindow() uint32 { return 2*p.CertInterval + 1 }

func (p Params) String() string {
	return fmt.Sprintf("Params(N=%d,Tau=%d,K=%d,KeyCharges=%d,L=%d,CertInterval=%d)",
		p.N, p.Tau, p.K, p.KeyCharges, p.L(), p.CertInterval)
}
