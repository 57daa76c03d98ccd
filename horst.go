package horstbeacon

import (
	"io"

	"golang.org/x/crypto/sha3"
)

// Domain-separation labels keeping H_msg, H_sk and H_tree conceptually
// distinct even though all three are instantiated with the same SHAKE256
// primitive at different output lengths, per spec.md §9's "Hash function
// roles" design note.
const (
	labelMsg byte = iota
	labelSk
	labelTree
)

func shakeSum(out []byte, label byte, parts ...[]byte) {
	h := sha3.NewShake256()
	h.Write([]byte{label})
	for _, p := range parts {
		h.Write(p)
	}
	h.Read(out)
}

// hMsg is H_msg: message -> digest of at least K*Tau bits.
func (c *Context) hMsg(msg []byte) []byte {
	nbits := c.Params.K * int(c.Params.Tau)
	nbytes := (nbits + 7) / 8
	out := make([]byte, nbytes)
	shakeSum(out, labelMsg, msg)
	return out
}

// hSk is H_sk: secret leaf -> its public counterpart, N bytes.
func (c *Context) hSk(leaf []byte) []byte {
	out := make([]byte, c.Params.N)
	shakeSum(out, labelSk, leaf)
	return out
}

// hTree is H_tree: node concat -> parent, N bytes.
func (c *Context) hTree(left, right []byte) []byte {
	out := make([]byte, c.Params.N)
	shakeSum(out, labelTree, left, right)
	return out
}

// readBits reads numBits starting at bitOffset (MSB-first overall bit
// stream) from buf, grounded on original_source/src/utils.rs's
// get_segment_indices<K, HASH_SIZE, TAU> BitReader.
func readBits(buf []byte, bitOffset, numBits int) uint64 {
	var v uint64
	for i := 0; i < numBits; i++ {
		bitPos := bitOffset + i
		byteIdx := bitPos / 8
		bitInByte := 7 - (bitPos % 8)
		bit := (buf[byteIdx] >> uint(bitInByte)) & 1
		v = (v << 1) | uint64(bit)
	}
	return v
}

// segmentIndices slices msgHash into K fields of Tau bits each, yielding
// the K leaf indices a signature over msg reveals.
func (c *Context) segmentIndices(msg []byte) []uint64 {
	digest := c.hMsg(msg)
	indices := make([]uint64, c.Params.K)
	tau := int(c.Params.Tau)
	for i := 0; i < c.Params.K; i++ {
		indices[i] = readBits(digest, i*tau, tau)
	}
	return indices
}

// SecretKey is a HORST one-time secret key: T hash blocks drawn from a
// CSPRNG, plus the Merkle tree over their H_sk images (retained so
// authentication paths can be extracted cheaply while the key is alive).
type SecretKey struct {
	Leaves [][]byte
	Tree   *MerkleTree
}

// Destroy zeroises the secret leaves. Call this once a key's lifetime is
// exhausted; per spec.md §5, secret keys must be zeroised, not merely freed.
func (sk *SecretKey) Destroy() {
	for _, leaf := range sk.Leaves {
		for i := range leaf {
			leaf[i] = 0
		}
	}
	sk.Leaves = nil
	sk.Tree = nil
}

// PublicKey is a HORST one-time public key: the Merkle root over the
// secret leaves' H_sk images.
type PublicKey struct {
	Key []byte
}

// LeafPath is one revealed (secret leaf, authentication path) pair.
type LeafPath struct {
	Leaf []byte
	Path [][]byte
}

// Signature is a HORST signature: exactly K leaf/path pairs.
type Signature struct {
	Pairs []LeafPath
}

// GenerateKeyPair draws a fresh HORST keypair from rng.
func (c *Context) GenerateKeyPair(rng io.Reader) (*SecretKey, *PublicKey, error) {
	leaves := make([][]byte, c.T)
	pubLeaves := make([][]byte, c.T)
	for i := range leaves {
		leaf := make([]byte, c.Params.N)
		if _, err := io.ReadFull(rng, leaf); err != nil {
			return nil, nil, wrapErrKindf(StateIoError, err, "drawing horst secret leaf %d", i)
		}
		leaves[i] = leaf
		pubLeaves[i] = c.hSk(leaf)
	}

	tree, err := BuildMerkleTree(pubLeaves, c.hTree)
	if err != nil {
		return nil, nil, err
	}

	return &SecretKey{Leaves: leaves, Tree: tree}, &PublicKey{Key: tree.Root()}, nil
}

// Sign computes a HORST signature over msg under sk. It performs no
// internal RNG use, per spec.md §4.B.
func (c *Context) Sign(msg []byte, sk *SecretKey) (*Signature, error) {
	indices := c.segmentIndices(msg)
	pairs := make([]LeafPath, len(indices))
	for i, idx := range indices {
		if idx >= uint64(len(sk.Leaves)) {
			return nil, errKindf(SignatureShapeError, "horst leaf index %d out of range", idx)
		}
		path, err := sk.Tree.Path(idx)
		if err != nil {
			return nil, err
		}
		pairs[i] = LeafPath{Leaf: sk.Leaves[idx], Path: path}
	}
	return &Signature{Pairs: pairs}, nil
}

// Verify checks sig over msg against pk. It returns (false, nil) when the
// signature is well-formed but cryptographically invalid, and a non-nil
// error only for malformed input (wrong K, wrong path length), matching
// spec.md §4.B/§7 exactly: verification failure is a verdict, not an error.
func (c *Context) Verify(msg []byte, sig *Signature, pk *PublicKey) (bool, error) {
	if len(sig.Pairs) != c.Params.K {
		return false, errKindf(SignatureShapeError, "signature has %d pairs, want %d", len(sig.Pairs), c.Params.K)
	}

	indices := c.segmentIndices(msg)
	for i, idx := range indices {
		pair := sig.Pairs[i]
		if len(pair.Path) != int(c.Params.Tau) {
			return false, errKindf(SignatureShapeError, "pair %d has path length %d, want %d", i, len(pair.Path), c.Params.Tau)
		}
		leafHash := c.hSk(pair.Leaf)
		if !VerifyPath(leafHash, idx, pair.Path, pk.Key, c.hTree) {
			return false, nil
		}
	}
	return true, nil
}
