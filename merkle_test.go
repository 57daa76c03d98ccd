package horstbeacon

import (
	"crypto/sha256"
	"testing"
)

func sha256Pair(left, right []byte) []byte {
	h := sha256.New()
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}

func TestMerkleTreeRejectsNonPowerOfTwo(t *testing.T) {
	leaves := make([][]byte, 3)
	for i := range leaves {
		leaves[i] = []byte{byte(i)}
	}
	if _, err := BuildMerkleTree(leaves, sha256Pair); err == nil {
		t.Fatalf("expected ShapeError for 3 leaves, got nil")
	} else if e, ok := err.(Error); !ok || e.Kind() != SignatureShapeError {
		t.Fatalf("expected SignatureShapeError, got %v", err)
	}
}

func TestMerkleTreeVerifyPath(t *testing.T) {
	const numLeaves = 16
	leaves := make([][]byte, numLeaves)
	for i := range leaves {
		leaves[i] = []byte{byte(i), byte(i * 7)}
	}

	tree, err := BuildMerkleTree(leaves, sha256Pair)
	if err != nil {
		t.Fatalf("BuildMerkleTree: %v", err)
	}
	root := tree.Root()

	for i := uint64(0); i < numLeaves; i++ {
		path, err := tree.Path(i)
		if err != nil {
			t.Fatalf("Path(%d): %v", i, err)
		}
		if len(path) != 4 {
			t.Fatalf("Path(%d) length = %d, want 4", i, len(path))
		}
		if !VerifyPath(leaves[i], i, path, root, sha256Pair) {
			t.Fatalf("VerifyPath(%d) failed", i)
		}
	}
}

func TestMerkleTreeVerifyPathRejectsWrongLeaf(t *testing.T) {
	leaves := make([][]byte, 8)
	for i := range leaves {
		leaves[i] = []byte{byte(i)}
	}
	tree, err := BuildMerkleTree(leaves, sha256Pair)
	if err != nil {
		t.Fatalf("BuildMerkleTree: %v", err)
	}
	root := tree.Root()

	path, err := tree.Path(3)
	if err != nil {
		t.Fatalf("Path: %v", err)
	}
	if VerifyPath([]byte{99}, 3, path, root, sha256Pair) {
		t.Fatalf("VerifyPath accepted a forged leaf")
	}
}

func TestMerkleTreePathOutOfRange(t *testing.T) {
	leaves := make([][]byte, 4)
	for i := range leaves {
		leaves[i] = []byte{byte(i)}
	}
	tree, err := BuildMerkleTree(leaves, sha256Pair)
	if err != nil {
		t.Fatalf("BuildMerkleTree: %v", err)
	}
	if _, err := tree.Path(4); err == nil {
		t.Fatalf("expected error for out-of-range leaf index")
	}
}
