package horstbeacon

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/cespare/xxhash"
)

// SignedBlock is the serialized unit on the wire, per spec.md §6.
type SignedBlock struct {
	SeqNo     uint64
	Piece     []byte
	Signature *Signature
	Piggyback []PiggybackEntry
}

// EncodeSignedBlock serializes block in the field order spec.md §6
// mandates: payload len+bytes; signature (K reps of leaf+path); piggyback
// list len+entries (key+layer tag); 8-byte LE seq_no.
func EncodeSignedBlock(block *SignedBlock) []byte {
	var buf bytes.Buffer

	writeU32(&buf, uint32(len(block.Piece)))
	buf.Write(block.Piece)

	writeU32(&buf, uint32(len(block.Signature.Pairs)))
	for _, pair := range block.Signature.Pairs {
		buf.Write(pair.Leaf)
		for _, sib := range pair.Path {
			buf.Write(sib)
		}
	}

	writeU32(&buf, uint32(len(block.Piggyback)))
	for _, e := range block.Piggyback {
		buf.Write(e.Key)
		buf.WriteByte(byte(e.Layer))
	}

	writeU64(&buf, block.SeqNo)

	return buf.Bytes()
}

// DecodeSignedBlock parses a wire-format signed block. n is the hash
// output size, tau the Merkle tree depth, both taken from the Context the
// caller will verify against.
func DecodeSignedBlock(data []byte, n int, tau uint) (*SignedBlock, error) {
	r := bytes.NewReader(data)

	pieceLen, err := readU32(r)
	if err != nil {
		return nil, wrapErrKindf(SignatureShapeError, err, "reading piece length")
	}
	piece := make([]byte, pieceLen)
	if _, err := io.ReadFull(r, piece); err != nil {
		return nil, wrapErrKindf(SignatureShapeError, err, "reading piece")
	}

	numPairs, err := readU32(r)
	if err != nil {
		return nil, wrapErrKindf(SignatureShapeError, err, "reading signature pair count")
	}
	pairs := make([]LeafPath, numPairs)
	for i := range pairs {
		leaf := make([]byte, n)
		if _, err := io.ReadFull(r, leaf); err != nil {
			return nil, wrapErrKindf(SignatureShapeError, err, "reading leaf %d", i)
		}
		path := make([][]byte, tau)
		for j := range path {
			sib := make([]byte, n)
			if _, err := io.ReadFull(r, sib); err != nil {
				return nil, wrapErrKindf(SignatureShapeError, err, "reading path %d/%d", i, j)
			}
			path[j] = sib
		}
		pairs[i] = LeafPath{Leaf: leaf, Path: path}
	}

	numPiggyback, err := readU32(r)
	if err != nil {
		return nil, wrapErrKindf(SignatureShapeError, err, "reading piggyback count")
	}
	piggyback := make([]PiggybackEntry, numPiggyback)
	for i := range piggyback {
		key := make([]byte, n)
		if _, err := io.ReadFull(r, key); err != nil {
			return nil, wrapErrKindf(SignatureShapeError, err, "reading piggyback key %d", i)
		}
		layerByte, err := r.ReadByte()
		if err != nil {
			return nil, wrapErrKindf(SignatureShapeError, err, "reading piggyback layer tag %d", i)
		}
		piggyback[i] = PiggybackEntry{Key: key, Layer: uint32(layerByte)}
	}

	seqNo, err := readU64(r)
	if err != nil {
		return nil, wrapErrKindf(SignatureShapeError, err, "reading seq_no")
	}

	return &SignedBlock{
		SeqNo:     seqNo,
		Piece:     piece,
		Signature: &Signature{Pairs: pairs},
		Piggyback: piggyback,
	}, nil
}

// Verdict is the outcome of verifying a signed block, per spec.md §4.F.
type Verdict int

const (
	Unverified Verdict = iota
	Certified
	Authenticated
)

// wireName is the §6 verdict-surface kind string ("unverified", "certified",
// "verified" — note "verified" on the wire for the Authenticated verdict).
func (v Verdict) wireName() string {
	switch v {
	case Certified:
		return "certified"
	case Authenticated:
		return "verified"
	default:
		return "unverified"
	}
}

func (v Verdict) String() string {
	switch v {
	case Certified:
		return "Certified"
	case Authenticated:
		return "Authenticated"
	default:
		return "Unverified"
	}
}

// VerifyResult is returned by BlockVerifier.Verify.
type VerifyResult struct {
	Payload  []byte
	SeqNo    uint64
	Verdict  Verdict
	Petnames []string
}

// FormatVerdictLine renders r as the §6 stdout line:
// seq;kind;petnames;size;hex_payload_hash.
func FormatVerdictLine(r VerifyResult) string {
	return fmt.Sprintf("%d;%s;%s;%d;%s",
		r.SeqNo, r.Verdict.wireName(), strings.Join(r.Petnames, ","), len(r.Payload), hexPayloadHash(r.Payload))
}

// hexPayloadHash computes the verdict-line payload checksum, grounded on
// original_source/src/block_signer.rs's use of xxh3_64 for signature and
// pubkey checksums.
func hexPayloadHash(payload []byte) string {
	sum := xxhash.Sum64(payload)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], sum)
	return hex.EncodeToString(b[:])
}

// signatureChecksum and piggybackChecksum are internal xxhash-based
// integrity checksums over a signature's and a piggyback list's bytes,
// grounded the same way as hexPayloadHash.
func signatureChecksum(sig *Signature) uint64 {
	var h uint64
	for _, pair := range sig.Pairs {
		h ^= xxhash.Sum64(pair.Leaf)
		for _, sib := range pair.Path {
			h ^= xxhash.Sum64(sib)
		}
	}
	return h
}

func piggybackChecksum(entries []PiggybackEntry) uint64 {
	var h uint64
	for _, e := range entries {
		h ^= xxhash.Sum64(e.Key)
	}
	return h
}
