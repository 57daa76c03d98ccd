package horstbeacon

import "sort"

// Node is a stored public key, a graph node, per spec.md §3.
type Node struct {
	Key           []byte
	Layer         uint32
	FirstReceived int64
	ReceivedSeq   uint64
	Owner         *Identity
	CertifiedBy   map[uint64]*Identity
	deleted       bool
}

// TrustGraph is the receiver-side directed graph of stored public keys
// from spec.md §4.E, represented as an arena of nodes keyed by integer
// index with auxiliary key->node and identity->{node} index caches, per
// spec.md §9's "Cyclic ownership" design note (no owning pointers between
// nodes, which would require an ownership cycle the graph's structure
// does not actually have).
type TrustGraph struct {
	nodes         []*Node
	keyIndex      map[string]int
	edges         map[int]map[int]struct{}
	identities    map[uint64]*Identity
	identityNodes map[uint64]map[int]struct{}
	nextID        uint64
}

// NewTrustGraph returns an empty graph.
func NewTrustGraph() *TrustGraph {
	return &TrustGraph{
		keyIndex:      make(map[string]int),
		edges:         make(map[int]map[int]struct{}),
		identities:    make(map[uint64]*Identity),
		identityNodes: make(map[uint64]map[int]struct{}),
	}
}

// NextIdentityID allocates a fresh, monotonically increasing identity id.
func (g *TrustGraph) NextIdentityID() uint64 {
	id := g.nextID
	g.nextID++
	return id
}

func keyStr(key []byte) string { return string(key) }

// FindNode looks up a node by key bytes.
func (g *TrustGraph) FindNode(key []byte) (int, bool) {
	idx, ok := g.keyIndex[keyStr(key)]
	if !ok || g.nodes[idx].deleted {
		return 0, false
	}
	return idx, true
}

// NodeAt returns the node at idx.
func (g *TrustGraph) NodeAt(idx int) *Node { return g.nodes[idx] }

func (g *TrustGraph) registerIdentity(identity *Identity) {
	if _, ok := g.identities[identity.ID]; !ok {
		g.identities[identity.ID] = identity
		g.identityNodes[identity.ID] = make(map[int]struct{})
	}
}

func (g *TrustGraph) indexIdentityNode(identityID uint64, idx int) {
	if _, ok := g.identityNodes[identityID]; !ok {
		g.identityNodes[identityID] = make(map[int]struct{})
	}
	g.identityNodes[identityID][idx] = struct{}{}
}

func (g *TrustGraph) addEdge(from, to int) {
	if g.edges[from] == nil {
		g.edges[from] = make(map[int]struct{})
	}
	g.edges[from][to] = struct{}{}
}

// InsertIdentityKey implements spec.md §4.E's insert_identity_key: the
// TOFU bootstrap operation used only when observing the very first
// message from a previously unknown petname.
func (g *TrustGraph) InsertIdentityKey(key []byte, identity *Identity) int {
	if idx, ok := g.FindNode(key); ok {
		node := g.nodes[idx]
		if node.Owner == nil {
			node.Owner = identity
		} else if node.Owner.ID != identity.ID {
			g.mergeIdentities(node.Owner, identity)
		}
		node.CertifiedBy[identity.ID] = identity
		g.registerIdentity(identity)
		g.indexIdentityNode(identity.ID, idx)
		return idx
	}

	node := &Node{
		Key:           key,
		FirstReceived: nowMillis(),
		Owner:         identity,
		CertifiedBy:   map[uint64]*Identity{identity.ID: identity},
	}
	idx := len(g.nodes)
	g.nodes = append(g.nodes, node)
	g.keyIndex[keyStr(key)] = idx
	g.registerIdentity(identity)
	g.indexIdentityNode(identity.ID, idx)
	return idx
}

// StorePksForIdentity implements spec.md §4.E's store_pks_for_identity.
func (g *TrustGraph) StorePksForIdentity(fromIdx int, piggyback []PiggybackEntry, identity *Identity, seq uint64) {
	g.registerIdentity(identity)
	layer0Count := 0
	for _, e := range piggyback {
		if e.Layer == 0 {
			layer0Count++
		}
		idx, ok := g.FindNode(e.Key)
		if ok {
			node := g.nodes[idx]
			node.CertifiedBy[identity.ID] = identity
			g.indexIdentityNode(identity.ID, idx)
			g.addEdge(fromIdx, idx)
			continue
		}
		node := &Node{
			Key:           e.Key,
			Layer:         e.Layer,
			FirstReceived: nowMillis(),
			ReceivedSeq:   seq,
			CertifiedBy:   map[uint64]*Identity{identity.ID: identity},
		}
		idx = len(g.nodes)
		g.nodes = append(g.nodes, node)
		g.keyIndex[keyStr(e.Key)] = idx
		g.indexIdentityNode(identity.ID, idx)
		g.addEdge(fromIdx, idx)
	}
	if layer0Count > 0 {
		identity.CertWindow = uint32(layer0Count)
	}
}

// mergeIdentities unions a and b, keeping the lower id as the survivor,
// and rewrites every reference to the loser graph-wide. Returns the
// survivor.
func (g *TrustGraph) mergeIdentities(a, b *Identity) *Identity {
	if a.ID == b.ID {
		return a
	}
	survivor, loser := a, b
	if loser.ID < survivor.ID {
		survivor, loser = loser, survivor
	}
	survivor.mergeInto(loser)

	for _, node := range g.nodes {
		if node.deleted {
			continue
		}
		if _, ok := node.CertifiedBy[loser.ID]; ok {
			delete(node.CertifiedBy, loser.ID)
			node.CertifiedBy[survivor.ID] = survivor
		}
		if node.Owner != nil && node.Owner.ID == loser.ID {
			node.Owner = survivor
		}
	}

	for idx := range g.identityNodes[loser.ID] {
		g.indexIdentityNode(survivor.ID, idx)
	}
	delete(g.identityNodes, loser.ID)
	delete(g.identities, loser.ID)

	return survivor
}

// ProcessNodes implements spec.md §4.E's process_nodes: Tarjan's SCC over
// the whole graph, merging owning identities within each component.
func (g *TrustGraph) ProcessNodes() error {
	sccs := g.tarjanSCCs()
	for _, scc := range sccs {
		owners := make(map[uint64]*Identity)
		for _, idx := range scc {
			if owner := g.nodes[idx].Owner; owner != nil {
				owners[owner.ID] = owner
			}
		}
		switch len(owners) {
		case 0:
			continue
		case 1:
			var only *Identity
			for _, v := range owners {
				only = v
			}
			for _, idx := range scc {
				g.nodes[idx].Owner = only
				g.indexIdentityNode(only.ID, idx)
			}
		case 2:
			var ids []*Identity
			for _, v := range owners {
				ids = append(ids, v)
			}
			merged := g.mergeIdentities(ids[0], ids[1])
			for _, idx := range scc {
				g.nodes[idx].Owner = merged
				g.indexIdentityNode(merged.ID, idx)
			}
		default:
			return errKindf(IdentityMergeViolation, "strongly connected component ties together %d disjoint identities", len(owners))
		}
	}
	return nil
}

// tarjanSCCs returns the strongly connected components of the active
// (non-deleted) subgraph, each as a slice of node indices.
func (g *TrustGraph) tarjanSCCs() [][]int {
	n := len(g.nodes)
	index := make([]int, n)
	lowlink := make([]int, n)
	onStack := make([]bool, n)
	visited := make([]bool, n)
	for i := range index {
		index[i] = -1
	}

	var stack []int
	var result [][]int
	counter := 0

	var strongconnect func(v int)
	strongconnect = func(v int) {
		index[v] = counter
		lowlink[v] = counter
		counter++
		stack = append(stack, v)
		onStack[v] = true
		visited[v] = true

		for w := range g.edges[v] {
			if g.nodes[w].deleted {
				continue
			}
			if index[w] == -1 {
				strongconnect(w)
				if lowlink[w] < lowlink[v] {
					lowlink[v] = lowlink[w]
				}
			} else if onStack[w] {
				if index[w] < lowlink[v] {
					lowlink[v] = index[w]
				}
			}
		}

		if lowlink[v] == index[v] {
			var scc []int
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			result = append(result, scc)
		}
	}

	for v := 0; v < n; v++ {
		if g.nodes[v].deleted {
			continue
		}
		if !visited[v] {
			strongconnect(v)
		}
	}

	return result
}

// PruneGraph implements spec.md §4.E's prune_graph: bound the per-layer
// node count certified-by identity to 2*identity.CertWindow-1, evicting
// the oldest nodes by received_seq, then rebuild the index caches from a
// full scan.
func (g *TrustGraph) PruneGraph(identity *Identity) {
	byLayer := make(map[uint32][]int)
	for idx, node := range g.nodes {
		if node.deleted {
			continue
		}
		_, certified := node.CertifiedBy[identity.ID]
		owned := node.Owner != nil && node.Owner.ID == identity.ID
		if certified || owned {
			byLayer[node.Layer] = append(byLayer[node.Layer], idx)
		}
	}

	limit := 0
	if identity.CertWindow > 0 {
		limit = int(2*identity.CertWindow - 1)
	}

	for _, indices := range byLayer {
		sort.Slice(indices, func(i, j int) bool {
			return g.nodes[indices[i]].ReceivedSeq < g.nodes[indices[j]].ReceivedSeq
		})
		drop := len(indices) - limit
		if drop <= 0 {
			continue
		}
		for _, idx := range indices[:drop] {
			node := g.nodes[idx]
			delete(node.CertifiedBy, identity.ID)
			if node.Owner != nil && node.Owner.ID == identity.ID {
				node.Owner = nil
			}
			if len(node.CertifiedBy) == 0 {
				node.deleted = true
				delete(g.keyIndex, keyStr(node.Key))
			}
		}
	}

	g.rebuildIndices()
}

// rebuildIndices rebuilds keyIndex and identityNodes from a full scan of
// the graph, per spec.md §4.E.
func (g *TrustGraph) rebuildIndices() {
	g.keyIndex = make(map[string]int)
	for id := range g.identityNodes {
		g.identityNodes[id] = make(map[int]struct{})
	}
	for idx, node := range g.nodes {
		if node.deleted {
			continue
		}
		g.keyIndex[keyStr(node.Key)] = idx
		for id := range node.CertifiedBy {
			g.indexIdentityNode(id, idx)
		}
	}
}
