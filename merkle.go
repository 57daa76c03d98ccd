package horstbeacon

import "bytes"

// HashPairFunc combines a left and right child hash into their parent hash.
type HashPairFunc func(left, right []byte) []byte

// MerkleTree is a balanced binary hash tree over T leaves, stored as the
// flat 2T-1 node array spec.md §4.A describes: root at index 0, then layer
// by layer, breadth-first.
type MerkleTree struct {
	nodes [][]byte
	t     uint64
}

// BuildMerkleTree builds a tree over leaves. len(leaves) must be a power
// of two; otherwise it fails with a SignatureShapeError.
func BuildMerkleTree(leaves [][]byte, hash HashPairFunc) (*MerkleTree, error) {
	t := uint64(len(leaves))
	if t == 0 || t&(t-1) != 0 {
		return nil, errKindf(SignatureShapeError, "merkle tree leaf count %d is not a power of two", t)
	}

	nodes := make([][]byte, 2*t-1)
	base := t - 1
	for i, leaf := range leaves {
		nodes[base+uint64(i)] = leaf
	}
	for i := int64(base) - 1; i >= 0; i-- {
		nodes[i] = hash(nodes[2*i+1], nodes[2*i+2])
	}

	return &MerkleTree{nodes: nodes, t: t}, nil
}

// Root returns the tree's root hash.
func (m *MerkleTree) Root() []byte {
	return m.nodes[0]
}

// Path returns the TAU sibling hashes from leaf index i up to (but not
// including) the root.
func (m *MerkleTree) Path(i uint64) ([][]byte, error) {
	if i >= m.t {
		return nil, errKindf(SignatureShapeError, "merkle leaf index %d out of range [0,%d)", i, m.t)
	}

	pos := m.t - 1 + i
	path := make([][]byte, 0, 64)
	for pos > 0 {
		var sibling uint64
		if pos%2 == 0 {
			sibling = pos - 1
		} else {
			sibling = pos + 1
		}
		path = append(path, m.nodes[sibling])
		pos = (pos - 1) / 2
	}
	return path, nil
}

// VerifyPath recomputes the root from leaf, index and path by folding hash
// on them respecting the parity bits of index, and compares the result to
// root.
func VerifyPath(leaf []byte, index uint64, path [][]byte, root []byte, hash HashPairFunc) bool {
	cur := leaf
	idx := index
	for _, sibling := range path {
		if idx%2 == 0 {
			cur = hash(cur, sibling)
		} else {
			cur = hash(sibling, cur)
		}
		idx /= 2
	}
	return bytes.Equal(cur, root)
}
