package horstbeacon

import (
	"crypto/rand"
	"encoding/binary"
	"io"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/sha3"
)

// rngStateSize is the fixed size of the serialized RNG state, matching
// spec.md §9's "the 32-byte state must round-trip through the state file".
const rngStateSize = 32

// streamRNG is a deterministic, cryptographically-secure, seedable stream
// RNG, grounded on original_source/src/horst.rs's ImplCsPrng = ChaCha20Rng.
// Its 32-byte key is the persisted state. To avoid ever replaying the same
// keystream across a save/restore cycle while keeping the state exactly 32
// bytes, every draw ratchets the key forward: the bytes returned to the
// caller are the start of one ChaCha20 keystream, and the *next* key is
// drawn from the keystream bytes immediately following them.
type streamRNG struct {
	key [rngStateSize]byte
}

// newStreamRNG seeds a fresh streamRNG from a 32-byte seed. Seeding from a
// fixed seed must produce reproducible keys (spec.md §9), which this
// construction satisfies: the same seed always ratchets through the same
// sequence of keys and outputs.
func newStreamRNG(seed [rngStateSize]byte) *streamRNG {
	return &streamRNG{key: seed}
}

// newStreamRNGFromCrypto seeds a fresh streamRNG from the operating
// system's CSPRNG, for use when no reproducible seed is required.
func newStreamRNGFromCrypto() (*streamRNG, error) {
	var seed [rngStateSize]byte
	if _, err := io.ReadFull(rand.Reader, seed[:]); err != nil {
		return nil, wrapErrKindf(StateIoError, err, "reading seed from crypto/rand")
	}
	return newStreamRNG(seed), nil
}

// Read fills p with pseudo-random bytes and ratchets the internal key
// forward, implementing io.Reader.
func (r *streamRNG) Read(p []byte) (int, error) {
	var nonce [chacha20.NonceSize]byte
	cipher, err := chacha20.NewUnauthenticatedCipher(r.key[:], nonce[:])
	if err != nil {
		return 0, err
	}

	out := make([]byte, len(p)+rngStateSize)
	cipher.XORKeyStream(out, out)

	copy(p, out[:len(p)])
	copy(r.key[:], out[len(p):])
	return len(p), nil
}

// SeedFromU64 deterministically expands a small integer seed (the CLI's
// --seed flag) into a full 32-byte streamRNG seed, grounded on
// original_source/src/common.rs's Args.seed: u64, which the Rust
// ChaCha20Rng::seed_from_u64 expands internally the same way.
func SeedFromU64(seed uint64) [rngStateSize]byte {
	var in [8]byte
	binary.LittleEndian.PutUint64(in[:], seed)

	var out [rngStateSize]byte
	h := sha3.NewShake256()
	h.Write(in[:])
	h.Read(out[:])
	return out
}

// MarshalBinary returns the current 32-byte state.
func (r *streamRNG) MarshalBinary() ([]byte, error) {
	out := make([]byte, rngStateSize)
	copy(out, r.key[:])
	return out, nil
}

// UnmarshalBinary restores a previously-marshaled 32-byte state.
func (r *streamRNG) UnmarshalBinary(data []byte) error {
	if len(data) != rngStateSize {
		return errKindf(StateIoError, "rng state must be %d bytes, got %d", rngStateSize, len(data))
	}
	copy(r.key[:], data)
	return nil
}
