package horstbeacon

import "testing"

func TestInsertIdentityKeyIdempotent(t *testing.T) {
	g := NewTrustGraph()
	id := NewIdentity(g.NextIdentityID(), "alice", 3)
	key := []byte("key-a")

	idx1 := g.InsertIdentityKey(key, id)
	idx2 := g.InsertIdentityKey(key, id)
	if idx1 != idx2 {
		t.Fatalf("inserting the same (key, identity) twice should yield the same node")
	}
	if len(g.nodes) != 1 {
		t.Fatalf("expected exactly 1 node, got %d", len(g.nodes))
	}
}

func TestProcessNodesMergesTwoOwnerSCC(t *testing.T) {
	g := NewTrustGraph()
	alice := NewIdentity(g.NextIdentityID(), "alice", 3)
	bob := NewIdentity(g.NextIdentityID(), "bob", 3)

	a := g.InsertIdentityKey([]byte("key-alice"), alice)
	b := g.InsertIdentityKey([]byte("key-bob"), bob)

	// Form a cycle a -> b -> a so they land in the same SCC.
	g.addEdge(a, b)
	g.addEdge(b, a)

	if err := g.ProcessNodes(); err != nil {
		t.Fatalf("ProcessNodes: %v", err)
	}

	if g.nodes[a].Owner.ID != g.nodes[b].Owner.ID {
		t.Fatalf("expected both nodes to share an owning identity after merge")
	}
	merged := g.nodes[a].Owner
	if _, ok := merged.Petnames["alice"]; !ok {
		t.Fatalf("merged identity missing alice petname")
	}
	if _, ok := merged.Petnames["bob"]; !ok {
		t.Fatalf("merged identity missing bob petname")
	}
}

func TestProcessNodesRejectsThreeOwnerSCC(t *testing.T) {
	g := NewTrustGraph()
	idA := NewIdentity(g.NextIdentityID(), "a", 3)
	idB := NewIdentity(g.NextIdentityID(), "b", 3)
	idC := NewIdentity(g.NextIdentityID(), "c", 3)

	a := g.InsertIdentityKey([]byte("ka"), idA)
	b := g.InsertIdentityKey([]byte("kb"), idB)
	c := g.InsertIdentityKey([]byte("kc"), idC)

	g.addEdge(a, b)
	g.addEdge(b, c)
	g.addEdge(c, a)

	err := g.ProcessNodes()
	if err == nil {
		t.Fatalf("expected IdentityMergeViolation for a 3-owner SCC")
	}
	if e, ok := err.(Error); !ok || e.Kind() != IdentityMergeViolation {
		t.Fatalf("expected IdentityMergeViolation, got %v", err)
	}
}

func TestProcessNodesIsIdempotentOnStableGraph(t *testing.T) {
	g := NewTrustGraph()
	alice := NewIdentity(g.NextIdentityID(), "alice", 3)
	a := g.InsertIdentityKey([]byte("key-a"), alice)
	b := g.InsertIdentityKey([]byte("key-b"), alice)
	g.addEdge(a, b)

	if err := g.ProcessNodes(); err != nil {
		t.Fatalf("ProcessNodes: %v", err)
	}
	ownerBefore := g.nodes[b].Owner
	if err := g.ProcessNodes(); err != nil {
		t.Fatalf("ProcessNodes (second run): %v", err)
	}
	if g.nodes[b].Owner != ownerBefore {
		t.Fatalf("re-running ProcessNodes on a stable graph changed owner")
	}
}

func TestPruneGraphEnforcesWindowBound(t *testing.T) {
	g := NewTrustGraph()
	alice := NewIdentity(g.NextIdentityID(), "alice", 2) // window = 2*2-1 = 3
	root := g.InsertIdentityKey([]byte("root"), alice)

	for i := 0; i < 10; i++ {
		g.StorePksForIdentity(root, []PiggybackEntry{
			{Key: []byte{byte(i), byte(i >> 8)}, Layer: 1},
		}, alice, uint64(i))
	}

	g.PruneGraph(alice)

	count := 0
	for _, node := range g.nodes {
		if node.deleted {
			continue
		}
		if node.Layer != 1 {
			continue
		}
		if _, ok := node.CertifiedBy[alice.ID]; ok {
			count++
		}
	}
	if count > int(2*alice.CertWindow-1) {
		t.Fatalf("pruned graph has %d layer-1 nodes certified by alice, want <= %d", count, 2*alice.CertWindow-1)
	}
}

func TestStorePksForIdentityFirstObservationWinsOnLayer(t *testing.T) {
	g := NewTrustGraph()
	alice := NewIdentity(g.NextIdentityID(), "alice", 3)
	root := g.InsertIdentityKey([]byte("root"), alice)

	key := []byte("shared-key")
	g.StorePksForIdentity(root, []PiggybackEntry{{Key: key, Layer: 2}}, alice, 0)
	g.StorePksForIdentity(root, []PiggybackEntry{{Key: key, Layer: 5}}, alice, 1)

	idx, ok := g.FindNode(key)
	if !ok {
		t.Fatalf("expected node to exist")
	}
	if g.nodes[idx].Layer != 2 {
		t.Fatalf("expected first-observed layer 2 to win, got %d", g.nodes[idx].Layer)
	}
}
