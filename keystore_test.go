package horstbeacon

import "testing"

func testKeystoreContext(t *testing.T) *Context {
	t.Helper()
	p := Params{
		N:            16,
		Tau:          6,
		K:            8,
		KeyCharges:   3,
		CertInterval: 1,
		KeyDist: []LayerWeight{
			{RelativeLifetimeWeight: 4, ActivityPercent: 100},
			{RelativeLifetimeWeight: 2, ActivityPercent: 0},
			{RelativeLifetimeWeight: 1, ActivityPercent: 0},
		},
		MaxPieceSize: 256,
	}
	ctx, err := NewContext(p)
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	return ctx
}

func TestKeyDistProbabilitiesResolveOpenQuestion(t *testing.T) {
	// Hand-verified against spec.md §8 Scenario 1's key_dist=[[4,100],[2,0],[1,0]]:
	// heavier relative weight yields a *lower* sampling probability.
	ctx := testKeystoreContext(t)
	if !(ctx.Probs[0] < ctx.Probs[1] && ctx.Probs[1] < ctx.Probs[2]) {
		t.Fatalf("expected probs increasing as weight decreases, got %v", ctx.Probs)
	}
	var sum float64
	for _, p := range ctx.Probs {
		sum += p
	}
	if sum < 0.999 || sum > 1.001 {
		t.Fatalf("probs should sum to 1, got %f", sum)
	}
}

func TestLayeredKeyStoreFirstSignatureUsesLayerZero(t *testing.T) {
	ctx := testKeystoreContext(t)
	rng := newStreamRNG([32]byte{1})
	store, err := NewLayeredKeyStore(ctx, rng)
	if err != nil {
		t.Fatalf("NewLayeredKeyStore: %v", err)
	}
	if l := store.NextKey(); l != 0 {
		t.Fatalf("first NextKey() = %d, want 0", l)
	}
}

func TestPollPiggybackIncludesSigningKeyFirst(t *testing.T) {
	ctx := testKeystoreContext(t)
	rng := newStreamRNG([32]byte{2})
	store, err := NewLayeredKeyStore(ctx, rng)
	if err != nil {
		t.Fatalf("NewLayeredKeyStore: %v", err)
	}

	_, signingPK, piggyback, err := store.Poll(0)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(piggyback) == 0 {
		t.Fatalf("expected non-empty piggyback list")
	}
	if string(piggyback[0].Key) != string(signingPK.Key) {
		t.Fatalf("first piggyback key must be the signing key")
	}

	expected := ctx.Params.L() * int(ctx.CertWindow)
	if len(piggyback) != expected {
		t.Fatalf("piggyback length = %d, want %d", len(piggyback), expected)
	}
}

func TestKeyExhaustionRotatesSigningSlot(t *testing.T) {
	ctx := testKeystoreContext(t)
	rng := newStreamRNG([32]byte{3})
	store, err := NewLayeredKeyStore(ctx, rng)
	if err != nil {
		t.Fatalf("NewLayeredKeyStore: %v", err)
	}

	layer := store.Layers[0]
	slot := layer.signingSlot()
	originalContainer := layer.Containers[slot]

	for i := uint32(0); i < ctx.Params.KeyCharges; i++ {
		store.NextSeq = uint64(i) // force deterministic eligibility bookkeeping
		if _, _, _, err := store.Poll(0); err != nil {
			t.Fatalf("Poll iteration %d: %v", i, err)
		}
	}

	if layer.Containers[slot] == originalContainer {
		t.Fatalf("expected signing slot container to rotate after KeyCharges uses")
	}
	if layer.retiring == nil {
		t.Fatalf("expected an evicted container awaiting destruction")
	}
}

func TestLayersRoundTripThroughEncoding(t *testing.T) {
	ctx := testKeystoreContext(t)
	rng := newStreamRNG([32]byte{4})
	store, err := NewLayeredKeyStore(ctx, rng)
	if err != nil {
		t.Fatalf("NewLayeredKeyStore: %v", err)
	}
	if _, _, _, err := store.Poll(0); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	store.AllocateSeqNo()

	encoded := store.EncodeLayers()
	restored, err := DecodeLayers(ctx, encoded)
	if err != nil {
		t.Fatalf("DecodeLayers: %v", err)
	}

	if restored.NextSeq != store.NextSeq {
		t.Fatalf("NextSeq mismatch: got %d, want %d", restored.NextSeq, store.NextSeq)
	}
	if len(restored.Layers) != len(store.Layers) {
		t.Fatalf("layer count mismatch")
	}
	for l := range store.Layers {
		if len(restored.Layers[l].Containers) != len(store.Layers[l].Containers) {
			t.Fatalf("layer %d container count mismatch", l)
		}
		for i := range store.Layers[l].Containers {
			want := store.Layers[l].Containers[i].PK.Key
			got := restored.Layers[l].Containers[i].PK.Key
			if string(want) != string(got) {
				t.Fatalf("layer %d container %d public key mismatch", l, i)
			}
		}
	}
}

func TestPKsRoundTripThroughEncoding(t *testing.T) {
	ctx := testKeystoreContext(t)
	rng := newStreamRNG([32]byte{6})
	store, err := NewLayeredKeyStore(ctx, rng)
	if err != nil {
		t.Fatalf("NewLayeredKeyStore: %v", err)
	}
	if _, _, _, err := store.Poll(0); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	encoded := store.EncodePKs()
	restored := &LayeredKeyStore{}
	if err := restored.DecodePKs(ctx.Params.N, encoded); err != nil {
		t.Fatalf("DecodePKs: %v", err)
	}
	if len(restored.cachedPKs) != len(store.cachedPKs) {
		t.Fatalf("cachedPKs length mismatch: got %d, want %d", len(restored.cachedPKs), len(store.cachedPKs))
	}
}
