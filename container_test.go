package horstbeacon

import (
	"path/filepath"
	"testing"
)

func TestContainerLoadAbsentReturnsNil(t *testing.T) {
	dir := t.TempDir()
	c, err := OpenContainer(filepath.Join(dir, "state.bin"))
	if err != nil {
		t.Fatalf("OpenContainer: %v", err)
	}
	defer c.Close()

	ctx := testKeystoreContext(t)
	store, err := c.Load(ctx)
	if err != nil {
		t.Fatalf("Load on absent file: %v", err)
	}
	if store != nil {
		t.Fatalf("expected nil store for an absent state file")
	}
}

func TestContainerSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.bin")

	ctx := testKeystoreContext(t)
	rng := newStreamRNG([32]byte{7})
	store, err := NewLayeredKeyStore(ctx, rng)
	if err != nil {
		t.Fatalf("NewLayeredKeyStore: %v", err)
	}
	if _, _, _, err := store.Poll(0); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	store.AllocateSeqNo()

	c, err := OpenContainer(path)
	if err != nil {
		t.Fatalf("OpenContainer: %v", err)
	}
	if err := c.Save(rng, store); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	c2, err := OpenContainer(path)
	if err != nil {
		t.Fatalf("re-OpenContainer: %v", err)
	}
	defer c2.Close()

	restored, err := c2.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if restored == nil {
		t.Fatalf("expected a restored store, got nil")
	}
	if restored.rng == nil {
		t.Fatalf("expected restored store to have a usable rng")
	}
	if restored.NextSeq != store.NextSeq {
		t.Fatalf("NextSeq mismatch: got %d, want %d", restored.NextSeq, store.NextSeq)
	}

	// The restored rng must actually be usable for key rotation without
	// panicking: drive enough Polls to force an eviction.
	for i := uint32(0); i < ctx.Params.KeyCharges+1; i++ {
		restored.NextSeq = uint64(i)
		if _, _, _, err := restored.Poll(0); err != nil {
			t.Fatalf("Poll on restored store: %v", err)
		}
	}
}

func TestContainerOpenTwiceFailsToLock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.bin")

	c1, err := OpenContainer(path)
	if err != nil {
		t.Fatalf("OpenContainer: %v", err)
	}
	defer c1.Close()

	if _, err := OpenContainer(path); err == nil {
		t.Fatalf("expected second OpenContainer on the same path to fail")
	}
}
